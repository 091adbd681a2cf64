package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jhoicas/faturamento-nfe/internal/application/dto"
	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/domain/repository"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/sefaz"
	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
	"github.com/rs/zerolog/log"
)

// Dependencies repositórios e colaboradores compartilhados pelos casos de uso
// de NF-e. Validator, DANFE e Mailer são opcionais.
type Dependencies struct {
	TxRunner  BillingTxRunner
	NFes      repository.NFeRepository
	Orders    repository.OrderRepository
	Companies repository.CompanyRepository
	Customers repository.CustomerRepository
	Products  repository.ProductRepository
	Events    repository.NFeEventRepository

	Inventory InventoryIntegration
	Financial FinancialIntegration

	SEFAZ     SEFAZClient
	Signer    XMLSigner
	Lock      InFlightLock
	Validator SchemaValidator
	DANFE     DANFERenderer
	Mailer    Mailer

	Now func() time.Time
}

// lifecycle transições de status comuns a autorização, consulta e eventos.
type lifecycle struct {
	d Dependencies
}

func newLifecycle(d Dependencies) lifecycle {
	if d.Now == nil {
		d.Now = time.Now
	}
	return lifecycle{d: d}
}

func (l lifecycle) now() time.Time { return l.d.Now() }

// loadOwned carrega a nota e confere a empresa do chamador.
func (l lifecycle) loadOwned(ctx context.Context, companyID, nfeID string) (*entity.NFe, error) {
	n, err := l.d.NFes.GetByID(ctx, nfeID)
	if err != nil {
		return nil, fmt.Errorf("carregar nf-e: %w", err)
	}
	if n == nil {
		return nil, domain.ErrNotFound
	}
	if companyID != "" && n.CompanyID != companyID {
		return nil, domain.ErrForbidden
	}
	return n, nil
}

func (l lifecycle) company(ctx context.Context, id string) (*entity.Company, error) {
	c, err := l.d.Companies.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("carregar emitente: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("emitente %s: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

// transition aplica o novo status se a máquina de estados permitir.
func transition(n *entity.NFe, to string) error {
	if !entity.CanTransition(n.Status, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, n.Status, to)
	}
	n.Status = to
	return nil
}

// applyProtocol registra o protocolo: autorizada com nfeProc ou rejeitada
// (inclusive denegada). Devolve true se a nota ficou autorizada.
func (l lifecycle) applyProtocol(n *entity.NFe, p *sefaz.Protocol, procXML []byte) (bool, error) {
	n.StatusCode = p.CStat
	n.StatusReason = p.XMotivo
	if !p.Authorized() {
		return false, transition(n, entity.NFeStatusRejected)
	}
	if len(procXML) == 0 {
		var err error
		if procXML, err = sefaz.ComposeNFeProc([]byte(n.SignedXML), p); err != nil {
			return false, fmt.Errorf("montar nfeProc: %w", err)
		}
	}
	if err := transition(n, entity.NFeStatusApproved); err != nil {
		return false, err
	}
	at := p.ReceivedAt
	if at.IsZero() {
		at = l.now()
	}
	n.Protocol = p.Number
	n.AuthorizedAt = &at
	n.ProcXML = string(procXML)
	return true, nil
}

// save grava o retorno da SEFAZ mesmo que o chamador tenha desistido: a
// resposta já foi recebida e não pode se perder.
func (l lifecycle) save(ctx context.Context, n *entity.NFe) error {
	n.UpdatedAt = l.now()
	if err := l.d.NFes.UpdateSEFAZ(context.WithoutCancel(ctx), n); err != nil {
		return fmt.Errorf("gravar retorno da sefaz: %w", err)
	}
	return nil
}

// afterAuthorization baixa o estoque e envia XML e DANFE ao destinatário.
// Falhas viram avisos; a nota autorizada nunca é desfeita.
func (l lifecycle) afterAuthorization(ctx context.Context, n *entity.NFe, userID string) []string {
	var warnings []string
	logger := log.With().Str("nfe_id", n.ID).Str("chave", n.AccessKey).Logger()

	if l.d.Inventory != nil {
		if err := l.d.Inventory.WriteOffStock(ctx, n.ID, userID); err != nil {
			logger.Warn().Err(err).Str("step", "baixa-estoque").Msg("nfe: integração com estoque falhou")
			warnings = append(warnings, "baixa de estoque: "+err.Error())
		}
	}
	if w := l.sendToRecipient(ctx, n); w != "" {
		logger.Warn().Str("step", "email").Msg(w)
		warnings = append(warnings, w)
	}
	return warnings
}

func (l lifecycle) sendToRecipient(ctx context.Context, n *entity.NFe) string {
	if l.d.Mailer == nil || l.d.DANFE == nil {
		return ""
	}
	data, err := l.danfeData(ctx, n)
	if err != nil {
		return "e-mail: " + err.Error()
	}
	if data.Customer.Email == "" {
		return ""
	}
	pdf, err := l.d.DANFE.Render(*data)
	if err != nil {
		return "danfe: " + err.Error()
	}
	if err := l.d.Mailer.SendAuthorized(ctx, data.Customer.Email, n.AccessKey, []byte(n.ProcXML), pdf); err != nil {
		return "e-mail: " + err.Error()
	}
	return ""
}

// danfeData reúne nota, itens, emitente, destinatário e pedido.
func (l lifecycle) danfeData(ctx context.Context, n *entity.NFe) (*DANFEData, error) {
	items, err := l.d.NFes.GetItems(ctx, n.ID)
	if err != nil {
		return nil, fmt.Errorf("carregar itens: %w", err)
	}
	company, err := l.company(ctx, n.CompanyID)
	if err != nil {
		return nil, err
	}
	customer, err := l.d.Customers.GetByID(ctx, n.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("carregar destinatário: %w", err)
	}
	if customer == nil {
		return nil, fmt.Errorf("destinatário %s: %w", n.CustomerID, domain.ErrNotFound)
	}
	var order *entity.Order
	if n.OrderID != "" {
		if order, err = l.d.Orders.GetByID(ctx, n.OrderID); err != nil {
			return nil, fmt.Errorf("carregar pedido: %w", err)
		}
	}
	return &DANFEData{NFe: n, Items: items, Company: company, Customer: customer, Order: order}, nil
}

// markCanceled grava o cancelamento e reabre o pedido na mesma transação.
func (l lifecycle) markCanceled(ctx context.Context, n *entity.NFe, ev *entity.NFeEvent) error {
	if err := transition(n, entity.NFeStatusCanceled); err != nil {
		return err
	}
	at := l.now()
	if ev != nil && ev.RegisteredAt != nil {
		at = *ev.RegisteredAt
	}
	n.CanceledAt = &at
	n.UpdatedAt = l.now()
	if ev != nil {
		n.StatusCode = ev.StatusCode
		n.StatusReason = ev.StatusReason
	}
	bg := context.WithoutCancel(ctx)
	return l.d.TxRunner.RunBilling(bg, func(repos TxRepositories) error {
		if ev != nil {
			if err := repos.Events.UpdateResult(bg, ev); err != nil {
				return err
			}
		}
		if err := repos.NFe.UpdateSEFAZ(bg, n); err != nil {
			return err
		}
		if n.OrderID == "" {
			return nil
		}
		err := repos.Orders.UpdateStatus(bg, n.OrderID, entity.OrderStatusOpen)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	})
}

// afterCancellation estorna estoque e títulos; falhas viram avisos.
func (l lifecycle) afterCancellation(ctx context.Context, n *entity.NFe, userID string) []string {
	var warnings []string
	logger := log.With().Str("nfe_id", n.ID).Str("chave", n.AccessKey).Logger()
	if l.d.Inventory != nil {
		if err := l.d.Inventory.ReverseStock(ctx, n.ID, userID); err != nil {
			logger.Warn().Err(err).Str("step", "estorno-estoque").Msg("nfe: integração com estoque falhou")
			warnings = append(warnings, "estorno de estoque: "+err.Error())
		}
	}
	if l.d.Financial != nil {
		if err := l.d.Financial.ReverseOnCancellation(ctx, n.ID); err != nil {
			logger.Warn().Err(err).Str("step", "estorno-financeiro").Msg("nfe: integração com financeiro falhou")
			warnings = append(warnings, "estorno financeiro: "+err.Error())
		}
	}
	return warnings
}

// ── Mapeamento para DTO ───────────────────────────────────────────────────────

func toNFeResponse(n *entity.NFe, items []entity.NFeItem) dto.NFeResponse {
	out := dto.NFeResponse{
		ID:              n.ID,
		CompanyID:       n.CompanyID,
		OrderID:         n.OrderID,
		CustomerID:      n.CustomerID,
		AccessKey:       n.AccessKey,
		Model:           n.Model,
		Series:          n.Series,
		Number:          n.Number,
		IssuedAt:        n.IssuedAt,
		OperationNature: n.OperationNature,
		Environment:     n.Environment,
		Status:          n.Status,
		StatusCode:      n.StatusCode,
		StatusReason:    n.StatusReason,
		Protocol:        n.Protocol,
		ReceiptNumber:   n.ReceiptNumber,
		AuthorizedAt:    n.AuthorizedAt,
		CanceledAt:      n.CanceledAt,
		Totals:          n.Totals,
	}
	for _, it := range items {
		out.Items = append(out.Items, dto.NFeItemResponse{
			ItemNumber:  it.ItemNumber,
			ProductID:   it.ProductID,
			Code:        it.Code,
			Description: it.Description,
			NCM:         it.NCM,
			Unit:        it.Unit,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Taxes:       it.Taxes,
		})
	}
	return out
}

func toEventResponse(ev *entity.NFeEvent, warnings []string) *dto.EventResponse {
	return &dto.EventResponse{
		ID:           ev.ID,
		NFeID:        ev.NFeID,
		Type:         ev.Type,
		Sequence:     ev.Sequence,
		Status:       ev.Status,
		StatusCode:   ev.StatusCode,
		StatusReason: ev.StatusReason,
		Protocol:     ev.Protocol,
		RegisteredAt: ev.RegisteredAt,
		Warnings:     warnings,
	}
}

// eventStatus status local a partir do retorno do evento.
func eventStatus(res *sefaz.EventResult) string {
	if res.Accepted() {
		return entity.EventStatusRegistered
	}
	return entity.EventStatusRejected
}

func digitsCNPJ(c *entity.Company) string { return nfe.OnlyDigits(c.CNPJ) }
