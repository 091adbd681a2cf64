package repository

import (
	"context"

	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
)

// CompanyRepository define a porta de persistência do emitente.
// A implementação vive em infrastructure.
type CompanyRepository interface {
	Create(ctx context.Context, company *entity.Company) error
	GetByID(ctx context.Context, id string) (*entity.Company, error)
	GetByCNPJ(ctx context.Context, cnpj string) (*entity.Company, error)
	Update(ctx context.Context, company *entity.Company) error
}
