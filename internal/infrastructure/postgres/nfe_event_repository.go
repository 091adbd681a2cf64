package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/domain/repository"
)

var _ repository.NFeEventRepository = (*NFeEventRepo)(nil)

// NFeEventRepo log de eventos (nfe_events) e inutilizações (number_voids).
type NFeEventRepo struct {
	q Querier
}

// NewNFeEventRepository constrói o adaptador. Passar pool ou tx (Querier).
func NewNFeEventRepository(q Querier) *NFeEventRepo {
	return &NFeEventRepo{q: q}
}

func (r *NFeEventRepo) Create(ctx context.Context, ev *entity.NFeEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	query := `
		INSERT INTO nfe_events
			(id, nfe_id, company_id, access_key, type, sequence, text, status, status_code, status_reason,
			 protocol, xml, created_by, created_at, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := r.q.Exec(ctx, query,
		ev.ID, ev.NFeID, ev.CompanyID, ev.AccessKey, ev.Type, ev.Sequence, ev.Text, ev.Status,
		ev.StatusCode, nullIfEmpty(ev.StatusReason), nullIfEmpty(ev.Protocol), nullIfEmpty(ev.XML),
		nullIfEmpty(ev.CreatedBy), ev.CreatedAt, ev.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("insert nfe_event: %w", err)
	}
	return nil
}

// UpdateResult grava o retorno da SEFAZ para o evento já registrado como pendente.
func (r *NFeEventRepo) UpdateResult(ctx context.Context, ev *entity.NFeEvent) error {
	query := `
		UPDATE nfe_events
		SET status = $2, status_code = $3, status_reason = $4, protocol = $5, xml = $6, registered_at = $7
		WHERE id = $1`
	cmd, err := r.q.Exec(ctx, query,
		ev.ID, ev.Status, ev.StatusCode, nullIfEmpty(ev.StatusReason), nullIfEmpty(ev.Protocol),
		nullIfEmpty(ev.XML), ev.RegisteredAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("nSeqEvento %d já registrado: %w", ev.Sequence, domain.ErrConflict)
		}
		return fmt.Errorf("update nfe_event: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByNFe eventos da nota em ordem cronológica.
func (r *NFeEventRepo) ListByNFe(ctx context.Context, nfeID string) ([]*entity.NFeEvent, error) {
	query := `
		SELECT id, nfe_id, company_id, access_key, type, sequence, text, status, status_code, status_reason,
		       protocol, xml, created_by, created_at, registered_at
		FROM nfe_events WHERE nfe_id = $1
		ORDER BY created_at`
	rows, err := r.q.Query(ctx, query, nfeID)
	if err != nil {
		return nil, fmt.Errorf("list nfe_events: %w", err)
	}
	defer rows.Close()
	var list []*entity.NFeEvent
	for rows.Next() {
		var ev entity.NFeEvent
		var reason, protocol, xml, createdBy *string
		if err := rows.Scan(
			&ev.ID, &ev.NFeID, &ev.CompanyID, &ev.AccessKey, &ev.Type, &ev.Sequence, &ev.Text, &ev.Status,
			&ev.StatusCode, &reason, &protocol, &xml, &createdBy, &ev.CreatedAt, &ev.RegisteredAt,
		); err != nil {
			return nil, fmt.Errorf("scan nfe_event: %w", err)
		}
		ev.StatusReason = derefString(reason)
		ev.Protocol = derefString(protocol)
		ev.XML = derefString(xml)
		ev.CreatedBy = derefString(createdBy)
		list = append(list, &ev)
	}
	return list, rows.Err()
}

// MaxSequence maior nSeqEvento usado para o tipo, registrado ou pendente;
// rejeitados não contam.
func (r *NFeEventRepo) MaxSequence(ctx context.Context, nfeID, eventType string) (int, error) {
	const query = `
		SELECT COALESCE(MAX(sequence), 0)
		FROM nfe_events
		WHERE nfe_id = $1 AND type = $2 AND status <> $3`
	var seq int
	if err := r.q.QueryRow(ctx, query, nfeID, eventType, entity.EventStatusRejected).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max event sequence: %w", err)
	}
	return seq, nil
}

func (r *NFeEventRepo) CreateVoid(ctx context.Context, v *entity.NumberVoid) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	query := `
		INSERT INTO number_voids
			(id, company_id, year, model, series, range_start, range_end, justification, status,
			 status_code, status_reason, protocol, xml, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := r.q.Exec(ctx, query,
		v.ID, v.CompanyID, v.Year, v.Model, v.Series, v.Start, v.End, v.Justification, v.Status,
		v.StatusCode, nullIfEmpty(v.StatusReason), nullIfEmpty(v.Protocol), nullIfEmpty(v.XML),
		nullIfEmpty(v.CreatedBy), v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert number_void: %w", err)
	}
	return nil
}

func (r *NFeEventRepo) UpdateVoidResult(ctx context.Context, v *entity.NumberVoid) error {
	query := `
		UPDATE number_voids
		SET status = $2, status_code = $3, status_reason = $4, protocol = $5, xml = $6
		WHERE id = $1`
	cmd, err := r.q.Exec(ctx, query,
		v.ID, v.Status, v.StatusCode, nullIfEmpty(v.StatusReason), nullIfEmpty(v.Protocol), nullIfEmpty(v.XML),
	)
	if err != nil {
		return fmt.Errorf("update number_void: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
