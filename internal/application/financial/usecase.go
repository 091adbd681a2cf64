// Package financial gera e estorna contas a receber a partir das NF-e.
package financial

import (
	"context"
	"fmt"
	"time"

	"github.com/jhoicas/faturamento-nfe/internal/application/billing"
	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/domain/fiscal"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var _ billing.FinancialIntegration = (*ReceivablesService)(nil)

// ReceivablesService um título por NF-e, com parcelas de valor igual; a
// diferença de centavos fica na última.
type ReceivablesService struct {
	txRunner billing.BillingTxRunner
	now      func() time.Time
}

// NewReceivablesService constrói o serviço.
func NewReceivablesService(txRunner billing.BillingTxRunner) *ReceivablesService {
	return &ReceivablesService{txRunner: txRunner, now: time.Now}
}

// WithClock substitui o relógio (testes).
func (s *ReceivablesService) WithClock(now func() time.Time) *ReceivablesService {
	s.now = now
	return s
}

// GenerateReceivables cria o título da nota. Se já existir, devolve o existente.
func (s *ReceivablesService) GenerateReceivables(ctx context.Context, nfeID string, plan billing.InstallmentPlan) (*billing.ReceivablesResult, error) {
	plan = plan.Normalize()
	var out *billing.ReceivablesResult
	err := s.txRunner.RunBilling(ctx, func(repos billing.TxRepositories) error {
		n, err := repos.NFe.GetByID(ctx, nfeID)
		if err != nil {
			return err
		}
		if n == nil {
			return domain.ErrNotFound
		}
		if existing, err := repos.Receivables.GetByNFe(ctx, nfeID); err != nil {
			return err
		} else if existing != nil {
			out = &billing.ReceivablesResult{AccountID: existing.ID, InstallmentCount: len(existing.Installments)}
			return nil
		}
		if !n.Totals.Total.IsPositive() {
			return domain.NewValidationError("total", "nota sem valor a receber")
		}

		now := s.now()
		rec := &entity.Receivable{
			CompanyID:  n.CompanyID,
			NFeID:      n.ID,
			CustomerID: n.CustomerID,
			Total:      n.Totals.Total,
			Status:     entity.ReceivableStatusOpen,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		base := n.IssuedAt
		if base.IsZero() {
			base = now
		}
		for i, amount := range splitEqual(n.Totals.Total, plan.Installments) {
			rec.Installments = append(rec.Installments, entity.Installment{
				Number:  i + 1,
				DueDate: dueDate(base, plan.FirstDueDays+i*plan.IntervalDays),
				Amount:  amount,
				Status:  entity.ReceivableStatusOpen,
			})
		}
		if err := repos.Receivables.Create(ctx, rec); err != nil {
			return fmt.Errorf("criar título: %w", err)
		}
		out = &billing.ReceivablesResult{AccountID: rec.ID, InstallmentCount: len(rec.Installments)}
		log.Info().Str("nfe_id", nfeID).Str("receivable_id", rec.ID).
			Int("parcelas", len(rec.Installments)).Msg("título gerado")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReverseOnCancellation cancela o título da nota cancelada. Nota sem título não
// muda nada; título já pago devolve ErrConflict.
func (s *ReceivablesService) ReverseOnCancellation(ctx context.Context, nfeID string) error {
	return s.txRunner.RunBilling(ctx, func(repos billing.TxRepositories) error {
		rec, err := repos.Receivables.GetByNFe(ctx, nfeID)
		if err != nil {
			return err
		}
		if rec == nil || rec.Status == entity.ReceivableStatusCanceled {
			return nil
		}
		if rec.Status == entity.ReceivableStatusPaid {
			return fmt.Errorf("título %s já liquidado: %w", rec.ID, domain.ErrConflict)
		}
		for _, inst := range rec.Installments {
			if inst.Status == entity.ReceivableStatusPaid {
				return fmt.Errorf("parcela %d já liquidada: %w", inst.Number, domain.ErrConflict)
			}
		}
		if err := repos.Receivables.UpdateStatus(ctx, rec.ID, entity.ReceivableStatusCanceled); err != nil {
			return err
		}
		log.Info().Str("nfe_id", nfeID).Str("receivable_id", rec.ID).Msg("título cancelado")
		return nil
	})
}

// splitEqual divide total em n parcelas pelo mesmo rateio dos itens.
func splitEqual(total decimal.Decimal, n int) []decimal.Decimal {
	weights := make([]decimal.Decimal, n)
	for i := range weights {
		weights[i] = decimal.NewFromInt(1)
	}
	return fiscal.Apportion(total, weights)
}

func dueDate(base time.Time, days int) time.Time {
	y, m, d := base.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, base.Location()).AddDate(0, 0, days)
}
