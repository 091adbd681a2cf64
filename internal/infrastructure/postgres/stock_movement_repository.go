package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/domain/repository"
)

var _ repository.StockMovementRepository = (*StockMovementRepo)(nil)

// StockMovementRepo implementação sobre PostgreSQL (usável com pool ou tx).
type StockMovementRepo struct {
	q Querier
}

// NewStockMovementRepository constrói o adaptador. Passar pool ou tx (Querier).
func NewStockMovementRepository(q Querier) *StockMovementRepo {
	return &StockMovementRepo{q: q}
}

// Create persiste um movimento de estoque.
func (r *StockMovementRepo) Create(ctx context.Context, m *entity.StockMovement) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	query := `
		INSERT INTO stock_movements (id, company_id, product_id, order_id, nfe_id, type, quantity, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.q.Exec(ctx, query,
		m.ID, m.CompanyID, m.ProductID, nullIfEmpty(m.OrderID), nullIfEmpty(m.NFeID),
		m.Type, m.Quantity, nullIfEmpty(m.CreatedBy), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create stock movement: %w", err)
	}
	return nil
}

// ListByNFe movimentos vinculados à nota, em ordem cronológica.
func (r *StockMovementRepo) ListByNFe(ctx context.Context, nfeID string) ([]*entity.StockMovement, error) {
	return r.list(ctx, `WHERE nfe_id = $1`, nfeID)
}

// ListByOrder movimentos vinculados ao pedido, em ordem cronológica.
func (r *StockMovementRepo) ListByOrder(ctx context.Context, orderID string) ([]*entity.StockMovement, error) {
	return r.list(ctx, `WHERE order_id = $1`, orderID)
}

func (r *StockMovementRepo) list(ctx context.Context, where string, arg string) ([]*entity.StockMovement, error) {
	query := `
		SELECT id, company_id, product_id, order_id, nfe_id, type, quantity, created_by, created_at
		FROM stock_movements ` + where + ` ORDER BY created_at, id`
	rows, err := r.q.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()
	var list []*entity.StockMovement
	for rows.Next() {
		var m entity.StockMovement
		var orderID, nfeID, createdBy *string
		if err := rows.Scan(&m.ID, &m.CompanyID, &m.ProductID, &orderID, &nfeID, &m.Type,
			&m.Quantity, &createdBy, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		m.OrderID = derefString(orderID)
		m.NFeID = derefString(nfeID)
		m.CreatedBy = derefString(createdBy)
		list = append(list, &m)
	}
	return list, rows.Err()
}
