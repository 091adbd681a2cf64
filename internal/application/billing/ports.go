package billing

import (
	"context"
	"time"

	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/domain/repository"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/sefaz"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/sefaz/signer"
	"github.com/shopspring/decimal"
)

// TxRepositories repositórios atados à mesma transação.
type TxRepositories struct {
	NFe         repository.NFeRepository
	Series      repository.NFeSeriesRepository
	Orders      repository.OrderRepository
	Events      repository.NFeEventRepository
	Stock       repository.StockRepository
	Movements   repository.StockMovementRepository
	Receivables repository.ReceivableRepository
}

// BillingTxRunner executa fn numa transação; erro em fn faz rollback.
type BillingTxRunner interface {
	RunBilling(ctx context.Context, fn func(repos TxRepositories) error) error
}

// ── Colaboradores ─────────────────────────────────────────────────────────────

// StockShortage falta de saldo para um produto do pedido.
type StockShortage struct {
	ProductID string          `json:"product_id"`
	SKU       string          `json:"sku,omitempty"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
}

// StockValidation resultado da conferência de saldo antes do faturamento.
type StockValidation struct {
	Valid     bool            `json:"valid"`
	Shortages []StockShortage `json:"shortages,omitempty"`
}

// InventoryIntegration integração com o estoque. Reserva acontece na emissão,
// baixa na autorização e estorno no cancelamento. Todas as operações são
// idempotentes por pedido/nota.
type InventoryIntegration interface {
	ValidateStockForInvoicing(ctx context.Context, orderID string) (*StockValidation, error)
	ReserveStock(ctx context.Context, orderID, userID string) error
	WriteOffStock(ctx context.Context, nfeID, userID string) error
	ReverseStock(ctx context.Context, nfeID, userID string) error
}

// InstallmentPlan condições de parcelamento do título.
type InstallmentPlan struct {
	Installments int `json:"installments"`  // padrão 1
	FirstDueDays int `json:"first_due_day"` // dias até a primeira parcela; padrão 30
	IntervalDays int `json:"interval"`      // dias entre parcelas; padrão 30
}

// Normalize aplica os padrões aos campos não informados.
func (p InstallmentPlan) Normalize() InstallmentPlan {
	if p.Installments <= 0 {
		p.Installments = 1
	}
	if p.FirstDueDays <= 0 {
		p.FirstDueDays = 30
	}
	if p.IntervalDays <= 0 {
		p.IntervalDays = 30
	}
	return p
}

// ReceivablesResult título criado.
type ReceivablesResult struct {
	AccountID        string `json:"account_id"`
	InstallmentCount int    `json:"installment_count"`
}

// FinancialIntegration integração com contas a receber.
type FinancialIntegration interface {
	GenerateReceivables(ctx context.Context, nfeID string, plan InstallmentPlan) (*ReceivablesResult, error)
	ReverseOnCancellation(ctx context.Context, nfeID string) error
}

// ── SEFAZ ─────────────────────────────────────────────────────────────────────

// SEFAZClient operações do web service usadas pelos casos de uso.
type SEFAZClient interface {
	Authorize(ctx context.Context, signedXML []byte, uf string) (*sefaz.Authorization, error)
	PollReceipt(ctx context.Context, receipt, uf string, hint time.Duration) (*sefaz.ReceiptResult, error)
	Query(ctx context.Context, accessKey, uf string) (*sefaz.QueryResult, error)
	Cancel(ctx context.Context, accessKey, protocol, justification, uf, cnpj string) (*sefaz.EventOutcome, error)
	CorrectionLetter(ctx context.Context, accessKey, text, uf, cnpj string, sequence int) (*sefaz.EventOutcome, error)
	VoidNumberRange(ctx context.Context, v sefaz.VoidRange) (*sefaz.VoidOutcome, error)
	ServiceStatus(ctx context.Context, uf string) (*sefaz.StatusResult, error)
}

var _ SEFAZClient = (*sefaz.Client)(nil)

// XMLSigner assina o elemento identificado por id.
type XMLSigner interface {
	SignWithPlacement(xml []byte, id string, p signer.Placement) ([]byte, error)
}

var _ XMLSigner = (*signer.DigitalSignatureService)(nil)

// SchemaValidator pré-validação por XSD (opcional).
type SchemaValidator interface {
	ValidateNFe(xml []byte) error
}

// DANFEData dados da nota autorizada para o DANFE.
type DANFEData struct {
	NFe      *entity.NFe
	Items    []entity.NFeItem
	Company  *entity.Company
	Customer *entity.Customer
	Order    *entity.Order // transporte e pagamentos; opcional
}

// DANFERenderer gera o PDF do DANFE.
type DANFERenderer interface {
	Render(d DANFEData) ([]byte, error)
}

// Mailer envia o XML autorizado e o DANFE ao destinatário.
type Mailer interface {
	SendAuthorized(ctx context.Context, to, accessKey string, procXML, danfe []byte) error
}

// InFlightLock garante no máximo uma operação com a SEFAZ em curso por NF-e
// (autorização, consulta ou evento).
type InFlightLock interface {
	// Acquire devolve false se outra operação da mesma nota está em curso.
	Acquire(ctx context.Context, nfeID string) (bool, error)
	Release(ctx context.Context, nfeID string) error
}

// JobQueue fila de autorizações assíncronas.
type JobQueue interface {
	Enqueue(ctx context.Context, job AuthorizationJob) error
}

// AuthorizationJob pedido de autorização enfileirado.
type AuthorizationJob struct {
	NFeID     string `json:"nfe_id"`
	CompanyID string `json:"company_id"`
	UserID    string `json:"user_id"`
}
