package repository

import (
	"context"

	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
)

// ReceivableRepository contas a receber e parcelas.
type ReceivableRepository interface {
	Create(ctx context.Context, r *entity.Receivable) error
	GetByNFe(ctx context.Context, nfeID string) (*entity.Receivable, error)
	UpdateStatus(ctx context.Context, id, status string) error
}
