package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product representa um item vendável com seus atributos fiscais padrão.
// Alíquotas nulas (Valid=false) usam as regras do motor tributário.
type Product struct {
	ID            string
	CompanyID     string
	SKU           string // cProd, único por empresa
	Name          string
	EAN           string // cEAN; vazio = SEM GTIN
	NCM           string
	CEST          string
	Unit          string // uCom / uTrib
	Price         decimal.Decimal
	Origin        int    // orig: 0 nacional, 1..8 importado
	CST           string // regime normal
	CSOSN         string // Simples Nacional
	ICMSRate      decimal.NullDecimal
	ICMSReduction decimal.NullDecimal // pRedBC
	STSubject     bool
	STMargin      decimal.NullDecimal // pMVAST
	IPISubject    bool
	IPICST        string
	IPIRate       decimal.NullDecimal
	PISCST        string
	COFINSCST     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
