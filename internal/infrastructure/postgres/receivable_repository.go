package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/domain/repository"
)

var _ repository.ReceivableRepository = (*ReceivableRepo)(nil)

// ReceivableRepo contas a receber (receivables) e parcelas (installments).
type ReceivableRepo struct {
	q Querier
}

// NewReceivableRepository constrói o adaptador. Passar pool ou tx (Querier).
func NewReceivableRepository(q Querier) *ReceivableRepo {
	return &ReceivableRepo{q: q}
}

// Create persiste o título e suas parcelas. Deve rodar dentro de transação.
// Um segundo título para a mesma NF-e devolve ErrDuplicate.
func (r *ReceivableRepo) Create(ctx context.Context, rec *entity.Receivable) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	query := `
		INSERT INTO receivables (id, company_id, nfe_id, customer_id, total, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.q.Exec(ctx, query,
		rec.ID, rec.CompanyID, rec.NFeID, rec.CustomerID, rec.Total, rec.Status, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert receivable: %w", err)
	}
	for i := range rec.Installments {
		inst := &rec.Installments[i]
		if inst.ID == "" {
			inst.ID = uuid.New().String()
		}
		inst.ReceivableID = rec.ID
		_, err := r.q.Exec(ctx, `
			INSERT INTO installments (id, receivable_id, number, due_date, amount, status)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			inst.ID, inst.ReceivableID, inst.Number, inst.DueDate, inst.Amount, inst.Status,
		)
		if err != nil {
			return fmt.Errorf("insert installment %d: %w", inst.Number, err)
		}
	}
	return nil
}

// GetByNFe título da nota com parcelas; nil se não houver.
func (r *ReceivableRepo) GetByNFe(ctx context.Context, nfeID string) (*entity.Receivable, error) {
	var rec entity.Receivable
	err := r.q.QueryRow(ctx, `
		SELECT id, company_id, nfe_id, customer_id, total, status, created_at, updated_at
		FROM receivables WHERE nfe_id = $1`, nfeID).Scan(
		&rec.ID, &rec.CompanyID, &rec.NFeID, &rec.CustomerID, &rec.Total, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get receivable: %w", err)
	}

	rows, err := r.q.Query(ctx, `
		SELECT id, receivable_id, number, due_date, amount, status
		FROM installments WHERE receivable_id = $1 ORDER BY number`, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("list installments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var inst entity.Installment
		if err := rows.Scan(&inst.ID, &inst.ReceivableID, &inst.Number, &inst.DueDate, &inst.Amount, &inst.Status); err != nil {
			return nil, fmt.Errorf("scan installment: %w", err)
		}
		rec.Installments = append(rec.Installments, inst)
	}
	return &rec, rows.Err()
}

// UpdateStatus muda o status do título e das parcelas ainda em aberto.
func (r *ReceivableRepo) UpdateStatus(ctx context.Context, id, status string) error {
	cmd, err := r.q.Exec(ctx, `UPDATE receivables SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update receivable status: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	_, err = r.q.Exec(ctx, `UPDATE installments SET status = $2 WHERE receivable_id = $1 AND status = $3`,
		id, status, entity.ReceivableStatusOpen)
	if err != nil {
		return fmt.Errorf("update installments status: %w", err)
	}
	return nil
}
