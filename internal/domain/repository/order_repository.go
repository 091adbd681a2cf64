package repository

import (
	"context"

	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
)

// OrderRepository define a porta de persistência dos pedidos de venda.
type OrderRepository interface {
	// GetByID carrega o pedido com itens e pagamentos.
	GetByID(ctx context.Context, id string) (*entity.Order, error)
	// GetForUpdate bloqueia o pedido (SELECT ... FOR UPDATE) durante o faturamento.
	GetForUpdate(ctx context.Context, id string) (*entity.Order, error)
	UpdateStatus(ctx context.Context, id, status string) error
}
