package postgres

import (
	"context"
	"fmt"

	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/domain/repository"
)

var _ repository.NFeSeriesRepository = (*NFeSeriesRepo)(nil)

// NFeSeriesRepo implementa NFeSeriesRepository sobre PostgreSQL.
type NFeSeriesRepo struct {
	q Querier
}

// NewNFeSeriesRepository constrói o repositório.
func NewNFeSeriesRepository(q Querier) *NFeSeriesRepo {
	return &NFeSeriesRepo{q: q}
}

// GetActive é a consulta crítica da emissão: série ativa da empresa para o modelo.
// Devolve nil, nil se não houver série ativa.
func (r *NFeSeriesRepo) GetActive(ctx context.Context, companyID string, model int) (*entity.NFeSeries, error) {
	const q = `
		SELECT id, company_id, model, series, next_number, is_active, created_at, updated_at
		FROM nfe_series
		WHERE company_id = $1
		  AND model      = $2
		  AND is_active  = true
		ORDER BY series
		LIMIT 1`
	var s entity.NFeSeries
	err := r.q.QueryRow(ctx, q, companyID, model).Scan(
		&s.ID, &s.CompanyID, &s.Model, &s.Series, &s.NextNumber, &s.IsActive, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active nfe_series: %w", err)
	}
	return &s, nil
}

// ReserveNumber avança o contador e devolve o número reservado.
// O UPDATE bloqueia a linha até o fim da transação, serializando emissões concorrentes.
func (r *NFeSeriesRepo) ReserveNumber(ctx context.Context, seriesID string) (int, error) {
	const q = `
		UPDATE nfe_series
		SET next_number = next_number + 1, updated_at = now()
		WHERE id = $1 AND is_active = true AND next_number <= 999999999
		RETURNING next_number - 1`
	var number int
	if err := r.q.QueryRow(ctx, q, seriesID).Scan(&number); err != nil {
		if isNoRows(err) {
			return 0, domain.ErrConflict
		}
		return 0, fmt.Errorf("reserve nfe number: %w", err)
	}
	return number, nil
}

// SkipTo garante next_number >= next; nunca retrocede o contador.
func (r *NFeSeriesRepo) SkipTo(ctx context.Context, companyID string, model, series, next int) error {
	const q = `
		UPDATE nfe_series
		SET next_number = GREATEST(next_number, $4), updated_at = now()
		WHERE company_id = $1 AND model = $2 AND series = $3`
	if _, err := r.q.Exec(ctx, q, companyID, model, series, next); err != nil {
		return fmt.Errorf("skip nfe_series: %w", err)
	}
	return nil
}
