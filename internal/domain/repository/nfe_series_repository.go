package repository

import (
	"context"

	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
)

// NFeSeriesRepository controla a numeração por série.
type NFeSeriesRepository interface {
	GetActive(ctx context.Context, companyID string, model int) (*entity.NFeSeries, error)
	// ReserveNumber devolve o próximo número e avança o contador atomicamente.
	ReserveNumber(ctx context.Context, seriesID string) (int, error)
	// SkipTo avança o contador para depois de uma faixa inutilizada.
	SkipTo(ctx context.Context, companyID string, model, series, next int) error
}
