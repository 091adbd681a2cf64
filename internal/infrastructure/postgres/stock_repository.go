package postgres

import (
	"context"
	"fmt"

	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/domain/repository"
	"github.com/shopspring/decimal"
)

var _ repository.StockRepository = (*StockRepo)(nil)

// StockRepo implementação de StockRepository sobre PostgreSQL (usável com pool ou tx).
type StockRepo struct {
	q Querier
}

// NewStockRepository constrói o adaptador de estoque. Passar pool ou tx (Querier).
func NewStockRepository(q Querier) *StockRepo {
	return &StockRepo{q: q}
}

// Get obtém o saldo atual do produto na empresa. Sem linha, devolve saldo zero.
func (r *StockRepo) Get(ctx context.Context, companyID, productID string) (*entity.Stock, error) {
	query := `
		SELECT company_id, product_id, quantity, reserved, updated_at
		FROM stock WHERE company_id = $1 AND product_id = $2`
	return r.get(ctx, query, companyID, productID)
}

// GetForUpdate obtém o saldo e bloqueia a linha (SELECT FOR UPDATE).
func (r *StockRepo) GetForUpdate(ctx context.Context, companyID, productID string) (*entity.Stock, error) {
	query := `
		SELECT company_id, product_id, quantity, reserved, updated_at
		FROM stock WHERE company_id = $1 AND product_id = $2
		FOR UPDATE`
	return r.get(ctx, query, companyID, productID)
}

func (r *StockRepo) get(ctx context.Context, query, companyID, productID string) (*entity.Stock, error) {
	var s entity.Stock
	err := r.q.QueryRow(ctx, query, companyID, productID).Scan(
		&s.CompanyID, &s.ProductID, &s.Quantity, &s.Reserved, &s.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return &entity.Stock{CompanyID: companyID, ProductID: productID, Quantity: decimal.Zero, Reserved: decimal.Zero}, nil
		}
		return nil, fmt.Errorf("get stock: %w", err)
	}
	return &s, nil
}

// Upsert insere ou atualiza saldo e reserva (por empresa e produto).
func (r *StockRepo) Upsert(ctx context.Context, stock *entity.Stock) error {
	query := `
		INSERT INTO stock (company_id, product_id, quantity, reserved, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (company_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, reserved = EXCLUDED.reserved, updated_at = now()`
	_, err := r.q.Exec(ctx, query, stock.CompanyID, stock.ProductID, stock.Quantity, stock.Reserved)
	if err != nil {
		return fmt.Errorf("upsert stock: %w", err)
	}
	return nil
}
