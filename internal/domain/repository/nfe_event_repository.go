package repository

import (
	"context"

	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
)

// NFeEventRepository log de eventos e inutilizações (somente inclusão e atualização do retorno).
type NFeEventRepository interface {
	Create(ctx context.Context, ev *entity.NFeEvent) error
	UpdateResult(ctx context.Context, ev *entity.NFeEvent) error
	ListByNFe(ctx context.Context, nfeID string) ([]*entity.NFeEvent, error)
	// MaxSequence maior nSeqEvento registrado (cStat 135/136) para o tipo; 0 se nenhum.
	MaxSequence(ctx context.Context, nfeID, eventType string) (int, error)

	CreateVoid(ctx context.Context, v *entity.NumberVoid) error
	UpdateVoidResult(ctx context.Context, v *entity.NumberVoid) error
}
