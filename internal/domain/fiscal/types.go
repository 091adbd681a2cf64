// Package fiscal implementa o cálculo de ICMS (próprio, ST, DIFAL e FCP), IPI,
// PIS e COFINS por item e a totalização do documento. Não faz I/O.
package fiscal

import (
	"strings"

	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
	"github.com/shopspring/decimal"
)

// PartyProfile perfil tributário do emitente ou do destinatário.
type PartyProfile struct {
	UF       string
	CityCode string
	Document string // CNPJ ou CPF
	Regime   nfe.TaxRegime
	IE       string
}

// IsContributor indica contribuinte do ICMS: IE presente e diferente de ISENTO.
func (p PartyProfile) IsContributor() bool {
	ie := strings.ToUpper(strings.TrimSpace(p.IE))
	return ie != "" && ie != "ISENTO"
}

// Operation dados da operação relevantes para o cálculo.
type Operation struct {
	Nature        string // natOp
	CFOP          string // CFOP base de operação interna (5xxx)
	FinalConsumer bool
}

// Item entrada imutável do cálculo, derivada de uma linha do pedido.
// Campos NullDecimal com Valid=false usam as regras padrão.
type Item struct {
	Code        string
	Description string
	NCM         string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Discount    decimal.Decimal
	Freight     decimal.Decimal
	Insurance   decimal.Decimal
	Other       decimal.Decimal

	Origin int
	CST    string // regime normal (00, 10, 20, 40, 41, 51, 60, 70, 90)
	CSOSN  string // Simples Nacional (101, 102, 103, 201, 202, 300, 400, 500, 900)

	ICMSRate      decimal.NullDecimal
	ICMSReduction decimal.NullDecimal // pRedBC em %
	CreditRate    decimal.NullDecimal // pCredSN em %

	STSubject bool
	STMargin  decimal.NullDecimal // pMVAST em %

	IPISubject bool
	IPICST     string
	IPIRate    decimal.NullDecimal

	PISCST     string
	PISRate    decimal.NullDecimal
	COFINSCST  string
	COFINSRate decimal.NullDecimal
}

// ICMS resultado do grupo ICMS do item.
type ICMS struct {
	Origin    int             `json:"orig"`
	CST       string          `json:"cst,omitempty"`
	CSOSN     string          `json:"csosn,omitempty"`
	Base      decimal.Decimal `json:"vBC"`
	Rate      decimal.Decimal `json:"pICMS"`
	Reduction decimal.Decimal `json:"pRedBC"`
	Value     decimal.Decimal `json:"vICMS"`

	STMargin decimal.Decimal `json:"pMVAST"`
	STBase   decimal.Decimal `json:"vBCST"`
	STRate   decimal.Decimal `json:"pICMSST"`
	STValue  decimal.Decimal `json:"vICMSST"`

	FCPRate  decimal.Decimal `json:"pFCP"`
	FCPValue decimal.Decimal `json:"vFCP"`

	CreditRate  decimal.Decimal `json:"pCredSN"`
	CreditValue decimal.Decimal `json:"vCredICMSSN"`

	DIFAL DIFAL `json:"difal"`
}

// DIFAL grupo ICMSUFDest (venda interestadual a não contribuinte).
type DIFAL struct {
	Applies        bool            `json:"applies"`
	Base           decimal.Decimal `json:"vBCUFDest"`
	DestRate       decimal.Decimal `json:"pICMSUFDest"`
	InterstateRate decimal.Decimal `json:"pICMSInter"`
	DestSharePct   decimal.Decimal `json:"pICMSInterPart"`
	DestValue      decimal.Decimal `json:"vICMSUFDest"`
	OriginValue    decimal.Decimal `json:"vICMSUFRemet"`
	FCPRate        decimal.Decimal `json:"pFCPUFDest"`
	FCPValue       decimal.Decimal `json:"vFCPUFDest"`
}

// Tax grupos IPI, PIS e COFINS.
type Tax struct {
	CST   string          `json:"cst"`
	Base  decimal.Decimal `json:"vBC"`
	Rate  decimal.Decimal `json:"rate"`
	Value decimal.Decimal `json:"value"`
}

// ItemTotals valores do item.
type ItemTotals struct {
	Gross      decimal.Decimal `json:"vProd"`
	Discount   decimal.Decimal `json:"vDesc"`
	Freight    decimal.Decimal `json:"vFrete"`
	Insurance  decimal.Decimal `json:"vSeg"`
	Other      decimal.Decimal `json:"vOutro"`
	Net        decimal.Decimal `json:"net"`
	TotalTaxes decimal.Decimal `json:"vTotTrib"`
}

// ItemTaxes resultado imutável do cálculo de um item.
type ItemTaxes struct {
	CFOP   string     `json:"cfop"`
	ICMS   ICMS       `json:"icms"`
	IPI    Tax        `json:"ipi"`
	PIS    Tax        `json:"pis"`
	COFINS Tax        `json:"cofins"`
	Totals ItemTotals `json:"totals"`
}

// DocumentTotals grupo ICMSTot.
type DocumentTotals struct {
	ICMSBase    decimal.Decimal `json:"vBC"`
	ICMS        decimal.Decimal `json:"vICMS"`
	FCP         decimal.Decimal `json:"vFCP"`
	FCPUFDest   decimal.Decimal `json:"vFCPUFDest"`
	ICMSUFDest  decimal.Decimal `json:"vICMSUFDest"`
	ICMSUFRemet decimal.Decimal `json:"vICMSUFRemet"`
	STBase      decimal.Decimal `json:"vBCST"`
	ST          decimal.Decimal `json:"vST"`
	Products    decimal.Decimal `json:"vProd"`
	Freight     decimal.Decimal `json:"vFrete"`
	Insurance   decimal.Decimal `json:"vSeg"`
	Discount    decimal.Decimal `json:"vDesc"`
	IPI         decimal.Decimal `json:"vIPI"`
	PIS         decimal.Decimal `json:"vPIS"`
	COFINS      decimal.Decimal `json:"vCOFINS"`
	Other       decimal.Decimal `json:"vOutro"`
	Total       decimal.Decimal `json:"vNF"`
	TotalTaxes  decimal.Decimal `json:"vTotTrib"`
}
