package repository

import (
	"context"

	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
)

// NFeRepository define a porta de persistência das NF-e e seus itens.
type NFeRepository interface {
	Create(ctx context.Context, n *entity.NFe) error
	CreateItem(ctx context.Context, item *entity.NFeItem) error
	GetByID(ctx context.Context, id string) (*entity.NFe, error)
	GetByAccessKey(ctx context.Context, key string) (*entity.NFe, error)
	// GetActiveByOrder devolve a nota não rejeitada do pedido, se houver.
	GetActiveByOrder(ctx context.Context, orderID string) (*entity.NFe, error)
	GetItems(ctx context.Context, nfeID string) ([]entity.NFeItem, error)
	// UpdateSEFAZ grava status, protocolo, recibo, cStat/xMotivo, XMLs e datas.
	UpdateSEFAZ(ctx context.Context, n *entity.NFe) error
	// ListPendingWithReceipt lista notas pendentes que já têm recibo (para reconciliação).
	ListPendingWithReceipt(ctx context.Context, companyID string, limit int) ([]*entity.NFe, error)
}
