package repository

import (
	"context"

	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
)

// StockRepository consulta e atualiza o saldo por empresa+produto.
// Usado dentro de transações para garantir consistência.
type StockRepository interface {
	Get(ctx context.Context, companyID, productID string) (*entity.Stock, error)
	// GetForUpdate bloqueia a linha (SELECT FOR UPDATE).
	GetForUpdate(ctx context.Context, companyID, productID string) (*entity.Stock, error)
	Upsert(ctx context.Context, stock *entity.Stock) error
}
