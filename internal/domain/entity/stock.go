package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stock saldo do produto por empresa. Reserved é a parcela comprometida com
// NF-e emitidas e ainda não baixadas.
type Stock struct {
	CompanyID string
	ProductID string
	Quantity  decimal.Decimal
	Reserved  decimal.Decimal
	UpdatedAt time.Time
}

// Available saldo livre para novas reservas.
func (s *Stock) Available() decimal.Decimal {
	return s.Quantity.Sub(s.Reserved)
}
