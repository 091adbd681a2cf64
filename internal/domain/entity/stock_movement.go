package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tipos de movimento de estoque gerados pelo faturamento.
const (
	MovementTypeReserve  = "reserva"   // soma em Reserved
	MovementTypeWriteOff = "baixa"     // subtrai de Quantity
	MovementTypeReverse  = "estorno"   // devolve a Quantity após cancelamento
	MovementTypeRelease  = "liberacao" // subtrai de Reserved
)

// StockMovement movimento de estoque vinculado a pedido ou NF-e.
type StockMovement struct {
	ID        string
	CompanyID string
	ProductID string
	OrderID   string
	NFeID     string
	Type      string
	Quantity  decimal.Decimal
	CreatedBy string // UserID
	CreatedAt time.Time
}
