package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jhoicas/faturamento-nfe/internal/application/dto"
	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/domain/fiscal"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/sefaz"
	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Padrões da operação quando o pedido não informa.
const (
	defaultOperationNature = "Venda de mercadoria"
	defaultCFOP            = "5102"
)

// StockShortageError saldo insuficiente para faturar o pedido.
type StockShortageError struct {
	Shortages []StockShortage
}

func (e *StockShortageError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		name := s.SKU
		if name == "" {
			name = s.ProductID
		}
		parts = append(parts, fmt.Sprintf("%s (necessário %s, disponível %s)", name, s.Required, s.Available))
	}
	return "estoque insuficiente: " + strings.Join(parts, "; ")
}

func (e *StockShortageError) Is(target error) bool { return target == domain.ErrInsufficientStock }

// GenerateNFeUseCase gera a NF-e de um pedido: confere estoque, calcula os
// tributos, monta o XML e grava a nota pendente numa transação que também
// reserva o número da série e marca o pedido como faturado. Reserva de
// estoque e títulos rodam depois do commit e só geram avisos.
type GenerateNFeUseCase struct {
	lifecycle
	engine      *fiscal.TaxEngine
	builder     *sefaz.XMLBuilderService
	environment nfe.Environment
}

// NewGenerateNFeUseCase constrói o caso de uso.
func NewGenerateNFeUseCase(d Dependencies, engine *fiscal.TaxEngine, builder *sefaz.XMLBuilderService, env nfe.Environment) *GenerateNFeUseCase {
	if env == 0 {
		env = nfe.EnvironmentHomologation
	}
	return &GenerateNFeUseCase{lifecycle: newLifecycle(d), engine: engine, builder: builder, environment: env}
}

func flag(b *bool) bool { return b == nil || *b }

// Generate executa o faturamento do pedido.
func (uc *GenerateNFeUseCase) Generate(ctx context.Context, companyID, userID string, in dto.GenerateNFeRequest) (*dto.NFeOperationResponse, error) {
	if strings.TrimSpace(in.OrderID) == "" {
		return nil, domain.NewValidationError("order_id", "obrigatório")
	}
	order, err := uc.d.Orders.GetByID(ctx, in.OrderID)
	if err != nil {
		return nil, fmt.Errorf("carregar pedido: %w", err)
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	if order.CompanyID != companyID {
		return nil, domain.ErrForbidden
	}
	if err := uc.checkInvoiceable(ctx, order, uc.d.NFes.GetActiveByOrder); err != nil {
		return nil, err
	}

	// ── 1. Estoque ────────────────────────────────────────────────────────────
	if flag(in.ValidateStock) && uc.d.Inventory != nil {
		v, err := uc.d.Inventory.ValidateStockForInvoicing(ctx, order.ID)
		if err != nil {
			return nil, fmt.Errorf("conferir estoque: %w", err)
		}
		if !v.Valid {
			return nil, &StockShortageError{Shortages: v.Shortages}
		}
	}

	// ── 2. Cadastros ──────────────────────────────────────────────────────────
	company, err := uc.company(ctx, companyID)
	if err != nil {
		return nil, err
	}
	customer, err := uc.d.Customers.GetByID(ctx, order.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("carregar destinatário: %w", err)
	}
	if customer == nil || customer.CompanyID != companyID {
		return nil, domain.NewValidationError("destinatario", "cliente %s não encontrado", order.CustomerID)
	}

	// ── 3. Tributos ───────────────────────────────────────────────────────────
	items, err := uc.computeItems(ctx, order, company, customer)
	if err != nil {
		return nil, err
	}
	taxes := make([]fiscal.ItemTaxes, len(items))
	for i := range items {
		taxes[i] = items[i].Taxes
	}

	issuedAt := uc.now()
	n := &entity.NFe{
		ID:              uuid.New().String(),
		CompanyID:       companyID,
		OrderID:         order.ID,
		CustomerID:      customer.ID,
		Model:           nfe.ModelNFe,
		IssuedAt:        issuedAt,
		OperationNature: defaultString(order.OperationNature, defaultOperationNature),
		Environment:     int(uc.environment),
		Status:          entity.NFeStatusPending,
		Totals:          fiscal.AggregateTotals(taxes),
		Items:           items,
		CreatedBy:       userID,
		CreatedAt:       issuedAt,
		UpdatedAt:       issuedAt,
	}

	// ── 4. Numeração, XML e gravação ──────────────────────────────────────────
	err = uc.d.TxRunner.RunBilling(ctx, func(repos TxRepositories) error {
		locked, err := repos.Orders.GetForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrNotFound
		}
		if err := uc.checkInvoiceable(ctx, locked, repos.NFe.GetActiveByOrder); err != nil {
			return err
		}

		series, err := repos.Series.GetActive(ctx, companyID, nfe.ModelNFe)
		if err != nil {
			return err
		}
		if series == nil {
			return domain.NewValidationError("serie", "nenhuma série ativa para o modelo %d", nfe.ModelNFe)
		}
		number, err := repos.Series.ReserveNumber(ctx, series.ID)
		if err != nil {
			return fmt.Errorf("reservar número: %w", err)
		}
		n.Series = series.Series
		n.Number = number

		built, err := uc.builder.Build(&sefaz.BuildContext{NFe: n, Company: company, Customer: customer, Order: locked})
		if err != nil {
			return err
		}
		n.AccessKey = built.AccessKey
		n.NumericCode = built.NumericCode
		n.RawXML = string(built.XML)

		if err := repos.NFe.Create(ctx, n); err != nil {
			return fmt.Errorf("gravar nf-e: %w", err)
		}
		for i := range n.Items {
			n.Items[i].NFeID = n.ID
			if err := repos.NFe.CreateItem(ctx, &n.Items[i]); err != nil {
				return fmt.Errorf("gravar item %d: %w", n.Items[i].ItemNumber, err)
			}
		}
		return repos.Orders.UpdateStatus(ctx, order.ID, entity.OrderStatusInvoiced)
	})
	if err != nil {
		return nil, err
	}

	logger := log.With().Str("nfe_id", n.ID).Str("chave", n.AccessKey).Logger()
	logger.Info().Int("numero", n.Number).Int("serie", n.Series).Str("pedido", order.ID).Msg("nfe: gerada")

	// ── 5. Integrações (pós-commit) ───────────────────────────────────────────
	var warnings []string
	if flag(in.ReserveStock) && uc.d.Inventory != nil {
		if err := uc.d.Inventory.ReserveStock(ctx, order.ID, userID); err != nil {
			logger.Warn().Err(err).Str("step", "reserva-estoque").Msg("nfe: integração com estoque falhou")
			warnings = append(warnings, "reserva de estoque: "+err.Error())
		}
	}
	if flag(in.GenerateReceivables) && uc.d.Financial != nil {
		plan := InstallmentPlan{Installments: in.Installments, FirstDueDays: in.FirstDueDays, IntervalDays: in.IntervalDays}
		if _, err := uc.d.Financial.GenerateReceivables(ctx, n.ID, plan); err != nil {
			logger.Warn().Err(err).Str("step", "contas-receber").Msg("nfe: integração com financeiro falhou")
			warnings = append(warnings, "contas a receber: "+err.Error())
		}
	}

	return &dto.NFeOperationResponse{NFe: toNFeResponse(n, n.Items), Warnings: warnings}, nil
}

// checkInvoiceable recusa pedido fora de aberto ou que já tem nota ativa.
func (uc *GenerateNFeUseCase) checkInvoiceable(ctx context.Context, o *entity.Order, active func(context.Context, string) (*entity.NFe, error)) error {
	existing, err := active(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("consultar nf-e do pedido: %w", err)
	}
	if existing != nil {
		return domain.NewValidationError("pedido", "já possui NF-e %s (%s)", existing.AccessKey, existing.Status)
	}
	if o.Status != entity.OrderStatusOpen {
		return domain.NewValidationError("pedido", "status %q não permite faturamento", o.Status)
	}
	if len(o.Items) == 0 {
		return domain.NewValidationError("pedido", "sem itens")
	}
	return nil
}

// computeItems converte as linhas do pedido em itens tributados. Frete,
// seguro, outras despesas e desconto do pedido são rateados pelo valor bruto.
func (uc *GenerateNFeUseCase) computeItems(ctx context.Context, o *entity.Order, company *entity.Company, customer *entity.Customer) ([]entity.NFeItem, error) {
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := uc.d.Products.GetByIDs(ctx, company.ID, ids)
	if err != nil {
		return nil, fmt.Errorf("carregar produtos: %w", err)
	}

	gross := make([]decimal.Decimal, len(o.Items))
	prices := make([]decimal.Decimal, len(o.Items))
	var errs []error
	for i, it := range o.Items {
		p := products[it.ProductID]
		if p == nil {
			errs = append(errs, domain.NewValidationError(fmt.Sprintf("itens[%d].produto", i), "produto %s não encontrado", it.ProductID))
			continue
		}
		prices[i] = it.UnitPrice
		if prices[i].IsZero() {
			prices[i] = p.Price
		}
		gross[i] = it.Quantity.Mul(prices[i]).Round(2)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	freight := fiscal.Apportion(o.Freight, gross)
	insurance := fiscal.Apportion(o.Insurance, gross)
	other := fiscal.Apportion(o.Other, gross)
	discount := fiscal.Apportion(o.Discount, gross)

	emitter := fiscal.PartyProfile{
		UF:       company.Address.UF,
		CityCode: company.Address.CityCode,
		Document: company.CNPJ,
		Regime:   nfe.TaxRegime(company.TaxRegime),
		IE:       company.IE,
	}
	recipient := fiscal.PartyProfile{
		UF:       customer.Address.UF,
		CityCode: customer.Address.CityCode,
		Document: customer.Document(),
		IE:       customer.IE,
	}
	op := fiscal.Operation{
		Nature:        defaultString(o.OperationNature, defaultOperationNature),
		CFOP:          defaultString(o.CFOP, defaultCFOP),
		FinalConsumer: o.FinalConsumer,
	}

	out := make([]entity.NFeItem, 0, len(o.Items))
	for i, it := range o.Items {
		p := products[it.ProductID]
		item := fiscal.Item{
			Code:          p.SKU,
			Description:   p.Name,
			NCM:           p.NCM,
			Quantity:      it.Quantity,
			UnitPrice:     prices[i],
			Discount:      it.Discount.Add(discount[i]),
			Freight:       freight[i],
			Insurance:     insurance[i],
			Other:         other[i],
			Origin:        p.Origin,
			CST:           p.CST,
			CSOSN:         p.CSOSN,
			ICMSRate:      p.ICMSRate,
			ICMSReduction: p.ICMSReduction,
			STSubject:     p.STSubject,
			STMargin:      p.STMargin,
			IPISubject:    p.IPISubject,
			IPICST:        p.IPICST,
			IPIRate:       p.IPIRate,
			PISCST:        p.PISCST,
			COFINSCST:     p.COFINSCST,
		}
		if err := fiscal.ValidateItem(i, item); err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, entity.NFeItem{
			ItemNumber:  i + 1,
			ProductID:   p.ID,
			Code:        p.SKU,
			EAN:         p.EAN,
			Description: p.Name,
			NCM:         p.NCM,
			CEST:        p.CEST,
			Unit:        defaultString(p.Unit, "UN"),
			Quantity:    it.Quantity,
			UnitPrice:   prices[i],
			Taxes:       uc.engine.ComputeItemTaxes(item, emitter, recipient, op),
		})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if len(out) > 990 {
		return nil, domain.NewValidationError("itens", "máximo de 990 itens por nota")
	}
	return out, nil
}

func defaultString(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
