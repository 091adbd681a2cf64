package repository

import (
	"context"

	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
)

// StockMovementRepository registra movimentos de estoque (somente inclusão).
type StockMovementRepository interface {
	Create(ctx context.Context, m *entity.StockMovement) error
	ListByNFe(ctx context.Context, nfeID string) ([]*entity.StockMovement, error)
	ListByOrder(ctx context.Context, orderID string) ([]*entity.StockMovement, error)
}
