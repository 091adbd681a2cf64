package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status de títulos a receber.
const (
	ReceivableStatusOpen     = "aberto"
	ReceivableStatusPaid     = "pago"
	ReceivableStatusCanceled = "cancelado"
)

// Receivable conta a receber gerada a partir de uma NF-e.
type Receivable struct {
	ID           string
	CompanyID    string
	NFeID        string
	CustomerID   string
	Total        decimal.Decimal
	Status       string
	Installments []Installment
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Installment parcela (duplicata) de uma conta a receber.
type Installment struct {
	ID           string
	ReceivableID string
	Number       int
	DueDate      time.Time
	Amount       decimal.Decimal
	Status       string
}
