package fiscal

import (
	"strings"

	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// CSTs do regime normal com destaque de ICMS próprio.
var taxedCST = map[string]bool{"00": true, "10": true, "20": true, "51": true, "70": true, "90": true}

// CSTs e CSOSNs com ICMS-ST.
var (
	stCST   = map[string]bool{"10": true, "30": true, "70": true}
	stCSOSN = map[string]bool{"201": true, "202": true, "203": true}
)

// TaxEngine calcula os tributos de um item. Sem estado mutável: uma instância
// pode ser compartilhada entre goroutines.
type TaxEngine struct {
	rates           *RateTable
	clampNegativeST bool
	intrastateFCP   bool
}

// Option configura o TaxEngine.
type Option func(*TaxEngine)

// WithClampNegativeST controla se um ICMS-ST negativo (ICMS próprio maior que
// o ICMS da substituição) é zerado. Padrão: false, o valor negativo segue
// para o documento como calculado.
func WithClampNegativeST(clamp bool) Option {
	return func(e *TaxEngine) { e.clampNegativeST = clamp }
}

// WithIntrastateFCP soma o FCP da UF do emitente ao ICMS próprio nas
// operações internas (pFCP/vFCP no grupo ICMS). Padrão: false, o FCP só
// acompanha o DIFAL.
func WithIntrastateFCP(enabled bool) Option {
	return func(e *TaxEngine) { e.intrastateFCP = enabled }
}

// NewTaxEngine cria o motor. rates nil usa DefaultRateTable.
func NewTaxEngine(rates *RateTable, opts ...Option) *TaxEngine {
	if rates == nil {
		rates = DefaultRateTable()
	}
	e := &TaxEngine{rates: rates}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rates expõe a tabela em uso.
func (e *TaxEngine) Rates() *RateTable { return e.rates }

// ComputeItemTaxes calcula ICMS, IPI, PIS e COFINS do item. Cada valor é
// arredondado em 2 casas no item; a totalização soma os valores arredondados.
func (e *TaxEngine) ComputeItemTaxes(item Item, emitter, recipient PartyProfile, op Operation) ItemTaxes {
	totals := itemTotals(item)
	net := totals.Net
	interstate := isInterstate(emitter, recipient)

	res := ItemTaxes{
		CFOP:   DeriveCFOP(op.CFOP, interstate),
		Totals: totals,
	}

	if emitter.Regime.IsSimples() {
		res.ICMS = e.simplesICMS(item, emitter, recipient, net, interstate)
	} else {
		res.ICMS = e.normalICMS(item, emitter, recipient, net, interstate)
	}

	if item.IPISubject {
		rate := nullOr(item.IPIRate, decimal.Zero)
		res.IPI = Tax{
			CST:   defaultStr(item.IPICST, "50"),
			Base:  round2(net),
			Rate:  rate,
			Value: round2(net.Mul(rate).Div(hundred)),
		}
	}

	pisRate, cofinsRate := e.rates.PISCumulative, e.rates.COFINSCumulative
	if emitter.Regime == nfe.RegimeNormal {
		pisRate, cofinsRate = e.rates.PISNonCumulative, e.rates.COFINSNonCumulative
	}
	defaultContribCST := "01"
	if emitter.Regime.IsSimples() {
		defaultContribCST = "49"
	}
	res.PIS = contribution(defaultStr(item.PISCST, defaultContribCST), net, nullOr(item.PISRate, pisRate))
	res.COFINS = contribution(defaultStr(item.COFINSCST, defaultContribCST), net, nullOr(item.COFINSRate, cofinsRate))

	res.Totals.TotalTaxes = res.ICMS.Value.
		Add(res.ICMS.STValue).
		Add(res.IPI.Value).
		Add(res.PIS.Value).
		Add(res.COFINS.Value)
	return res
}

func (e *TaxEngine) simplesICMS(item Item, emitter, recipient PartyProfile, net decimal.Decimal, interstate bool) ICMS {
	csosn := defaultStr(item.CSOSN, "102")
	if item.STSubject && !stCSOSN[csosn] && csosn != "900" {
		csosn = "202"
	}
	icms := ICMS{Origin: item.Origin, CSOSN: csosn}

	if csosn == "101" {
		rate := nullOr(item.CreditRate, e.rates.SimplesCreditRate)
		icms.CreditRate = rate
		icms.CreditValue = round2(net.Mul(rate).Div(hundred))
	}

	if stCSOSN[csosn] || (csosn == "900" && item.STSubject) {
		// O optante deduz o ICMS que incidiria na operação própria.
		ownRate := e.ownRate(item, emitter, recipient, interstate)
		own := round2(net.Mul(ownRate).Div(hundred))
		e.applyST(&icms, item, recipient, net, own)
	}
	return icms
}

func (e *TaxEngine) normalICMS(item Item, emitter, recipient PartyProfile, net decimal.Decimal, interstate bool) ICMS {
	cst := item.CST
	if cst == "" {
		cst = "00"
		if item.STSubject {
			cst = "10"
		}
	}
	icms := ICMS{Origin: item.Origin, CST: cst}

	if taxedCST[cst] {
		rate := e.ownRate(item, emitter, recipient, interstate)
		base := net
		if item.ICMSReduction.Valid && item.ICMSReduction.Decimal.IsPositive() {
			icms.Reduction = item.ICMSReduction.Decimal
			base = base.Mul(one.Sub(icms.Reduction.Div(hundred)))
		}
		icms.Base = round2(base)
		icms.Rate = rate
		icms.Value = round2(icms.Base.Mul(rate).Div(hundred))

		if !interstate && e.intrastateFCP {
			if fcp := e.rates.FCPRate(emitter.UF); fcp.IsPositive() {
				icms.FCPRate = fcp
				icms.FCPValue = round2(icms.Base.Mul(fcp).Div(hundred))
			}
		}
	}

	if item.STSubject || stCST[cst] {
		e.applyST(&icms, item, recipient, net, icms.Value)
	}

	if interstate && !recipient.IsContributor() {
		icms.DIFAL = e.difal(emitter, recipient, net)
	}
	return icms
}

// ownRate alíquota da operação própria.
func (e *TaxEngine) ownRate(item Item, emitter, recipient PartyProfile, interstate bool) decimal.Decimal {
	switch {
	case !interstate:
		return nullOr(item.ICMSRate, e.rates.IntrastateRate(emitter.UF))
	case recipient.IsContributor():
		return e.rates.InterstateRate(emitter.UF, recipient.UF)
	default:
		// Não contribuinte: equiparado a consumidor final no destino.
		return e.rates.IntrastateRate(recipient.UF)
	}
}

func (e *TaxEngine) applyST(icms *ICMS, item Item, recipient PartyProfile, net, ownValue decimal.Decimal) {
	margin := nullOr(item.STMargin, e.rates.DefaultMVA)
	icms.STMargin = margin
	icms.STBase = round2(net.Mul(one.Add(margin.Div(hundred))))
	icms.STRate = e.rates.IntrastateRate(recipient.UF)
	st := round2(icms.STBase.Mul(icms.STRate).Div(hundred)).Sub(ownValue)
	if st.IsNegative() && e.clampNegativeST {
		st = decimal.Zero
	}
	icms.STValue = st
}

func (e *TaxEngine) difal(emitter, recipient PartyProfile, net decimal.Decimal) DIFAL {
	inter := e.rates.InterstateRate(emitter.UF, recipient.UF)
	dest := e.rates.IntrastateRate(recipient.UF)
	d := DIFAL{
		Applies:        true,
		Base:           round2(net),
		DestRate:       dest,
		InterstateRate: inter,
		DestSharePct:   hundred,
		OriginValue:    decimal.Zero,
	}
	if diff := dest.Sub(inter); diff.IsPositive() {
		d.DestValue = round2(net.Mul(diff).Div(hundred))
	}
	if fcp := e.rates.FCPRate(recipient.UF); fcp.IsPositive() {
		d.FCPRate = fcp
		d.FCPValue = round2(net.Mul(fcp).Div(hundred))
	}
	return d
}

func contribution(cst string, net, rate decimal.Decimal) Tax {
	t := Tax{CST: cst}
	if cst != "01" && cst != "02" {
		return t
	}
	t.Base = round2(net)
	t.Rate = rate
	t.Value = round2(net.Mul(rate).Div(hundred))
	return t
}

// itemTotals limita o desconto ao valor bruto, de modo que vNF continue igual
// à soma dos líquidos mais IPI e ST.
func itemTotals(item Item) ItemTotals {
	t := ItemTotals{
		Gross:     grossValue(item),
		Freight:   round2(nonNeg(item.Freight)),
		Insurance: round2(nonNeg(item.Insurance)),
		Other:     round2(nonNeg(item.Other)),
	}
	t.Discount = decimal.Min(round2(nonNeg(item.Discount)), t.Gross)
	t.Net = t.Gross.Sub(t.Discount).Add(t.Freight).Add(t.Insurance).Add(t.Other)
	return t
}

// grossValue vProd do item: quantidade × valor unitário, em 2 casas.
func grossValue(item Item) decimal.Decimal {
	return round2(nonNeg(item.Quantity).Mul(nonNeg(item.UnitPrice)))
}

func isInterstate(emitter, recipient PartyProfile) bool {
	return recipient.UF != "" && !strings.EqualFold(emitter.UF, recipient.UF)
}

// DeriveCFOP ajusta o primeiro dígito do CFOP à localidade: 5 interna, 6
// interestadual. CFOPs de exterior (7xxx) e de entrada não são alterados.
func DeriveCFOP(base string, interstate bool) string {
	if len(base) != 4 {
		base = "5102"
	}
	switch base[0] {
	case '5', '6':
		if interstate {
			return "6" + base[1:]
		}
		return "5" + base[1:]
	}
	return base
}

func round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

func nonNeg(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func nullOr(n decimal.NullDecimal, def decimal.Decimal) decimal.Decimal {
	if n.Valid {
		return n.Decimal
	}
	return def
}

func defaultStr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
