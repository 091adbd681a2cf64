package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jhoicas/faturamento-nfe/internal/application/billing"
)

// Garante que TxRunner implementa billing.BillingTxRunner.
var _ billing.BillingTxRunner = (*TxRunner)(nil)

// TxRunner executa callbacks dentro de uma transação PostgreSQL.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner constrói o runner com o pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunBilling inicia a transação, executa fn com os repositórios atados a ela e faz Commit ou Rollback.
func (r *TxRunner) RunBilling(ctx context.Context, fn func(repos billing.TxRepositories) error) error {
	return r.run(ctx, func(tx pgx.Tx) error {
		return fn(txRepositories(tx))
	})
}

func (r *TxRunner) run(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func txRepositories(q Querier) billing.TxRepositories {
	return billing.TxRepositories{
		NFe:         NewNFeRepository(q),
		Series:      NewNFeSeriesRepository(q),
		Orders:      NewOrderRepository(q),
		Events:      NewNFeEventRepository(q),
		Stock:       NewStockRepository(q),
		Movements:   NewStockMovementRepository(q),
		Receivables: NewReceivableRepository(q),
	}
}
