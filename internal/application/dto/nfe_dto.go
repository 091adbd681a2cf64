package dto

import (
	"time"

	"github.com/jhoicas/faturamento-nfe/internal/domain/fiscal"
	"github.com/shopspring/decimal"
)

// GenerateNFeRequest body para POST /api/nfe.
// Flags nulas valem true; o parcelamento vazio usa 1x em 30 dias.
type GenerateNFeRequest struct {
	OrderID             string `json:"order_id" validate:"required"`
	ValidateStock       *bool  `json:"validate_stock,omitempty"`
	ReserveStock        *bool  `json:"reserve_stock,omitempty"`
	GenerateReceivables *bool  `json:"generate_receivables,omitempty"`
	Installments        int    `json:"installments,omitempty" validate:"omitempty,min=1,max=48"`
	FirstDueDays        int    `json:"first_due_days,omitempty" validate:"omitempty,min=0,max=365"`
	IntervalDays        int    `json:"interval_days,omitempty" validate:"omitempty,min=1,max=365"`
}

// CancelNFeRequest body para POST /api/nfe/:id/cancel.
type CancelNFeRequest struct {
	Justification string `json:"justification" validate:"required,min=15,max=255"`
}

// CorrectionLetterRequest body para POST /api/nfe/:id/cce.
type CorrectionLetterRequest struct {
	Text string `json:"text" validate:"required,min=15,max=1000"`
}

// VoidNumberRangeRequest body para POST /api/nfe/inutilizacao.
type VoidNumberRangeRequest struct {
	Series        int    `json:"series" validate:"min=0,max=999"`
	Start         int    `json:"start" validate:"required,min=1,max=999999999"`
	End           int    `json:"end" validate:"required,min=1,max=999999999,gtefield=Start"`
	Year          int    `json:"year,omitempty" validate:"omitempty,min=2000,max=2099"`
	Justification string `json:"justification" validate:"required,min=15,max=255"`
}

// NFeItemResponse linha da nota.
type NFeItemResponse struct {
	ItemNumber  int              `json:"item_number"`
	ProductID   string           `json:"product_id,omitempty"`
	Code        string           `json:"code"`
	Description string           `json:"description"`
	NCM         string           `json:"ncm"`
	Unit        string           `json:"unit"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	Taxes       fiscal.ItemTaxes `json:"taxes"`
}

// NFeResponse nota em respostas de GET /api/nfe/:id e das operações.
type NFeResponse struct {
	ID              string                `json:"id"`
	CompanyID       string                `json:"company_id"`
	OrderID         string                `json:"order_id"`
	CustomerID      string                `json:"customer_id"`
	AccessKey       string                `json:"access_key"`
	Model           int                   `json:"model"`
	Series          int                   `json:"series"`
	Number          int                   `json:"number"`
	IssuedAt        time.Time             `json:"issued_at"`
	OperationNature string                `json:"operation_nature"`
	Environment     int                   `json:"environment"`
	Status          string                `json:"status"`
	StatusCode      int                   `json:"status_code,omitempty"`
	StatusReason    string                `json:"status_reason,omitempty"`
	Protocol        string                `json:"protocol,omitempty"`
	ReceiptNumber   string                `json:"receipt_number,omitempty"`
	AuthorizedAt    *time.Time            `json:"authorized_at,omitempty"`
	CanceledAt      *time.Time            `json:"canceled_at,omitempty"`
	Totals          fiscal.DocumentTotals `json:"totals"`
	Items           []NFeItemResponse     `json:"items,omitempty"`
}

// NFeOperationResponse nota mais os avisos das integrações (estoque,
// financeiro, DANFE, e-mail), que nunca desfazem a operação fiscal.
type NFeOperationResponse struct {
	NFe      NFeResponse `json:"nfe"`
	Queued   bool        `json:"queued,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
}

// EventResponse resultado de um evento (cancelamento ou CC-e).
type EventResponse struct {
	ID           string     `json:"id"`
	NFeID        string     `json:"nfe_id"`
	Type         string     `json:"type"`
	Sequence     int        `json:"sequence"`
	Status       string     `json:"status"`
	StatusCode   int        `json:"status_code"`
	StatusReason string     `json:"status_reason"`
	Protocol     string     `json:"protocol,omitempty"`
	RegisteredAt *time.Time `json:"registered_at,omitempty"`
	Warnings     []string   `json:"warnings,omitempty"`
}

// VoidResponse resultado de uma inutilização.
type VoidResponse struct {
	ID           string `json:"id"`
	Series       int    `json:"series"`
	Start        int    `json:"start"`
	End          int    `json:"end"`
	Status       string `json:"status"`
	StatusCode   int    `json:"status_code"`
	StatusReason string `json:"status_reason"`
	Protocol     string `json:"protocol,omitempty"`
}

// ServiceStatusResponse status do autorizador de uma UF.
type ServiceStatusResponse struct {
	UF             string     `json:"uf"`
	Environment    int        `json:"environment"`
	Online         bool       `json:"online"`
	StatusCode     int        `json:"status_code"`
	StatusReason   string     `json:"status_reason"`
	AvgTimeSeconds int        `json:"avg_time_seconds,omitempty"`
	ReceivedAt     time.Time  `json:"received_at"`
	ReturnAt       *time.Time `json:"return_at,omitempty"`
	Observation    string     `json:"observation,omitempty"`
}

// ShortageResponse falta de saldo devolvida quando a conferência de estoque falha.
type ShortageResponse struct {
	ProductID string          `json:"product_id"`
	SKU       string          `json:"sku,omitempty"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
}

// FileResponse arquivo para download.
type FileResponse struct {
	Filename    string
	ContentType string
	Content     []byte
}
