package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Estados do pedido de venda.
const (
	OrderStatusOpen     = "aberto"
	OrderStatusInvoiced = "faturado"
	OrderStatusCanceled = "cancelado"
)

// Order é o pedido de venda que origina a NF-e.
type Order struct {
	ID              string
	CompanyID       string
	CustomerID      string
	Number          string
	Status          string
	OperationNature string // natOp
	CFOP            string // CFOP base (ex.: 5102); 6xxx é derivado em operação interestadual
	FinalConsumer   bool
	Presence        int // indPres
	FreightMode     int // modFrete
	Carrier         *Carrier
	Freight         decimal.Decimal // rateado nos itens proporcionalmente ao valor bruto
	Insurance       decimal.Decimal
	Other           decimal.Decimal
	Discount        decimal.Decimal
	Payments        []Payment
	Notes           string // infCpl
	Items           []OrderItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem linha do pedido.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	Discount  decimal.Decimal
}

// Payment forma de pagamento (grupo detPag).
type Payment struct {
	Method string          `json:"tPag"`
	Amount decimal.Decimal `json:"vPag"`
}

// Carrier transportadora (grupo transporta).
type Carrier struct {
	Name  string `json:"xNome"`
	CNPJ  string `json:"cnpj"`
	IE    string `json:"ie,omitempty"`
	UF    string `json:"uf,omitempty"`
	City  string `json:"xMun,omitempty"`
	Plate string `json:"placa,omitempty"`
}
