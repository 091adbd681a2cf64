package repository

import (
	"context"

	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
)

// CustomerRepository define a porta de persistência do destinatário.
type CustomerRepository interface {
	Create(ctx context.Context, customer *entity.Customer) error
	GetByID(ctx context.Context, id string) (*entity.Customer, error)
	GetByCompanyAndDocument(ctx context.Context, companyID, document string) (*entity.Customer, error)
	Update(ctx context.Context, customer *entity.Customer) error
}
