package entity

import (
	"time"

	"github.com/jhoicas/faturamento-nfe/internal/domain/fiscal"
	"github.com/shopspring/decimal"
)

// Estados da NF-e. Uso denegado (110, 301, 302) é registrado como rejeitada.
const (
	NFeStatusPending  = "pendente"
	NFeStatusApproved = "autorizada"
	NFeStatusCanceled = "cancelada"
	NFeStatusRejected = "rejeitada"
)

// NFe cabeçalho de uma nota fiscal eletrônica modelo 55.
// Chave, número, série e RawXML são fixados na criação e SignedXML na primeira
// assinatura; depois disso mudam apenas status, protocolo, recibo e ProcXML.
type NFe struct {
	ID              string
	CompanyID       string
	OrderID         string
	CustomerID      string
	AccessKey       string
	Model           int
	Series          int
	Number          int
	NumericCode     int
	IssuedAt        time.Time
	OperationNature string
	Environment     int // tpAmb
	Status          string
	Totals          fiscal.DocumentTotals
	Items           []NFeItem

	Protocol      string // nProt
	ReceiptNumber string // nRec do lote assíncrono
	StatusCode    int    // último cStat
	StatusReason  string // último xMotivo
	RawXML        string // XML sem assinatura
	SignedXML     string
	ProcXML       string // nfeProc (NFe + protNFe)
	AuthorizedAt  *time.Time
	CanceledAt    *time.Time
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NFeItem linha da nota com o resultado tributário calculado.
type NFeItem struct {
	ID          string
	NFeID       string
	ItemNumber  int // nItem, 1..990
	ProductID   string
	Code        string
	EAN         string
	Description string
	NCM         string
	CEST        string
	Unit        string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Taxes       fiscal.ItemTaxes
}

// ID da tag infNFe.
func (n *NFe) InfNFeID() string { return "NFe" + n.AccessKey }

// CanSubmit: só pendente sem recibo (primeiro envio) ou rejeitada (reenvio
// após correção). Pendente com recibo aguarda consulta, nunca reenvio.
func (n *NFe) CanSubmit() bool {
	switch n.Status {
	case NFeStatusPending:
		return n.ReceiptNumber == "" && n.Protocol == ""
	case NFeStatusRejected:
		return true
	}
	return false
}

// CanRegisterEvent: cancelamento e CC-e exigem nota autorizada.
func (n *NFe) CanRegisterEvent() bool { return n.Status == NFeStatusApproved }

var nfeTransitions = map[string]map[string]bool{
	NFeStatusPending:  {NFeStatusApproved: true, NFeStatusRejected: true, NFeStatusPending: true},
	NFeStatusRejected: {NFeStatusPending: true, NFeStatusApproved: true, NFeStatusRejected: true},
	NFeStatusApproved: {NFeStatusCanceled: true},
}

// CanTransition informa se a mudança de status é permitida.
func CanTransition(from, to string) bool {
	return nfeTransitions[from][to]
}
