package fiscal_test

import (
	"testing"

	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/domain/fiscal"
	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mixedItems combina regimes, ST, IPI e DIFAL com valores que forçam
// arredondamento em cada item.
func mixedItems(t *testing.T) []fiscal.ItemTaxes {
	t.Helper()
	eng := fiscal.NewTaxEngine(nil)
	destBA := fiscal.PartyProfile{UF: "BA"}

	a := item("3", "19.99")
	a.IPISubject, a.IPIRate = true, nd("7.5")
	a.Freight = d("3.33")

	b := item("7", "0.333")
	b.STSubject = true
	b.Discount = d("0.10")

	c := item("1.5", "1234.567")
	c.ICMSReduction = nd("41.67")
	c.Insurance, c.Other = d("2.22"), d("1.11")

	return []fiscal.ItemTaxes{
		eng.ComputeItemTaxes(a, emitterSP, destSP, op),
		eng.ComputeItemTaxes(b, emitterSP, destSP, op),
		eng.ComputeItemTaxes(c, emitterSP, destBA, op),
	}
}

func TestAggregateTotals_SomaDosItensIgualAoDocumento(t *testing.T) {
	items := mixedItems(t)
	tot := fiscal.AggregateTotals(items)

	sumTaxes := decimal.Zero
	for _, it := range items {
		sumTaxes = sumTaxes.Add(it.Totals.TotalTaxes)
	}
	assert.True(t, sumTaxes.Equal(tot.TotalTaxes), "Σ vTotTrib dos itens (%s) ≠ documento (%s)", sumTaxes, tot.TotalTaxes)

	byGroup := tot.ICMS.Add(tot.ST).Add(tot.IPI).Add(tot.PIS).Add(tot.COFINS)
	assert.True(t, byGroup.Equal(tot.TotalTaxes), "ICMS+ST+IPI+PIS+COFINS (%s) ≠ vTotTrib (%s)", byGroup, tot.TotalTaxes)

	assert.True(t, tot.TotalTaxes.Equal(tot.TotalTaxes.Round(2)), "sem deriva além de 2 casas")
}

func TestAggregateTotals_ValorDaNota(t *testing.T) {
	items := mixedItems(t)
	tot := fiscal.AggregateTotals(items)

	expected := tot.Products.Sub(tot.Discount).Add(tot.Freight).Add(tot.Insurance).Add(tot.Other).Add(tot.IPI).Add(tot.ST)
	assert.True(t, expected.Equal(tot.Total))

	nets := decimal.Zero
	for _, it := range items {
		nets = nets.Add(it.Totals.Net)
	}
	assert.True(t, nets.Add(tot.IPI).Add(tot.ST).Equal(tot.Total), "vNF = Σ líquidos + IPI + ST")

	assert.True(t, tot.ICMSUFDest.IsPositive(), "item para BA gera DIFAL")
	assert.True(t, tot.FCPUFDest.IsPositive())
}

func TestAggregateTotals_ExemploSimples(t *testing.T) {
	eng := fiscal.NewTaxEngine(nil)
	a := item("10", "100")
	a.IPISubject, a.IPIRate = true, nd("10")
	a.Freight = d("50")
	b := item("1", "200")
	b.Discount = d("20")

	tot := fiscal.AggregateTotals([]fiscal.ItemTaxes{
		eng.ComputeItemTaxes(a, emitterSP, destSP, op),
		eng.ComputeItemTaxes(b, emitterSP, destSP, op),
	})

	assertDec(t, "1200.00", tot.Products)
	assertDec(t, "20.00", tot.Discount)
	assertDec(t, "50.00", tot.Freight)
	assertDec(t, "105.00", tot.IPI, "10% de 1050")
	assertDec(t, "1230.00", tot.ICMSBase)
	assertDec(t, "221.40", tot.ICMS)
	assertDec(t, "1335.00", tot.Total, "1200 − 20 + 50 + 105")
}

func TestApportion_SomaExata(t *testing.T) {
	parts := fiscal.Apportion(d("10.00"), []decimal.Decimal{d("1"), d("1"), d("1")})
	require.Len(t, parts, 3)
	assertDec(t, "3.33", parts[0])
	assertDec(t, "3.33", parts[1])
	assertDec(t, "3.34", parts[2])

	parts = fiscal.Apportion(d("99.99"), []decimal.Decimal{d("10"), d("0"), d("30")})
	sum := decimal.Zero
	for _, p := range parts {
		sum = sum.Add(p)
	}
	assertDec(t, "99.99", sum)
	assertDec(t, "0", parts[1])

	for _, p := range fiscal.Apportion(decimal.Zero, []decimal.Decimal{d("1"), d("2")}) {
		assert.True(t, p.IsZero())
	}
}

// ── validação ────────────────────────────────────────────────────────────────

func TestValidateJustification(t *testing.T) {
	err := fiscal.ValidateJustification("curta demais")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.Equal(t, "justificativa", vErr.Field)

	assert.Error(t, fiscal.ValidateJustification("    abc              "), "espaços não contam")
	assert.Error(t, fiscal.ValidateJustification("Erro          x"), "espaços internos colapsam para 'Erro x'")
	assert.Error(t, fiscal.ValidateJustification("Erro\t\n\r\x00\x01\x02\x03\x04\x05 nota"), "controles viram um espaço")
	assert.NoError(t, fiscal.ValidateJustification("Emissão   indevida  da nota"))
	assert.NoError(t, fiscal.ValidateJustification("Erro na emissão da nota"))
}

func TestValidateCorrection(t *testing.T) {
	assert.NoError(t, fiscal.ValidateCorrection("Corrigir endereço de entrega", 1))
	assert.ErrorIs(t, fiscal.ValidateCorrection("curta", 1), domain.ErrInvalidInput)
	assert.ErrorIs(t, fiscal.ValidateCorrection("Corrigir endereço de entrega", nfe.MaxCorrectionSequence+1), domain.ErrInvalidInput)
	assert.Error(t, fiscal.ValidateCorrection("Corrigir endereço de entrega", 0))
	assert.ErrorIs(t, fiscal.ValidateCorrection("Rua           Y", 1), domain.ErrInvalidInput, "conta o texto saneado")
}

func TestValidateItem(t *testing.T) {
	assert.NoError(t, fiscal.ValidateItem(0, item("1", "10")))

	bad := fiscal.Item{NCM: "123", Quantity: decimal.Zero}
	err := fiscal.ValidateItem(2, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "itens[2].codigo")
	assert.Contains(t, err.Error(), "itens[2].ncm")
	assert.Contains(t, err.Error(), "itens[2].quantidade")
}

func TestValidateItem_DescontoAcimaDoBruto(t *testing.T) {
	it := item("2", "10")
	it.Discount = d("20")
	assert.NoError(t, fiscal.ValidateItem(0, it), "desconto igual ao bruto é aceito")

	it.Discount = d("20.01")
	err := fiscal.ValidateItem(0, it)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "itens[0].desconto", vErr.Field)
	assert.Contains(t, err.Error(), "20.00")

	it.Discount = d("-1")
	it.Freight = d("-0.01")
	err = fiscal.ValidateItem(1, it)
	assert.Contains(t, err.Error(), "itens[1].desconto")
	assert.Contains(t, err.Error(), "itens[1].frete")
}

func TestRateTable_Validate(t *testing.T) {
	assert.NoError(t, fiscal.DefaultRateTable().Validate())

	rt := fiscal.DefaultRateTable()
	rt.Intrastate["SP"] = d("180")
	assert.Error(t, rt.Validate())

	assert.Error(t, (&fiscal.RateTable{}).Validate())
}

func TestRateTable_UFDesconhecidaUsaPadrao(t *testing.T) {
	rt := fiscal.DefaultRateTable()
	assertDec(t, "18", rt.IntrastateRate("XX"))
	assertDec(t, "17.5", rt.IntrastateRate("ro"))
	assertDec(t, "20", rt.IntrastateRate("RJ"))
	assertDec(t, "2", rt.FCPRate("BA"))
	assert.True(t, rt.FCPRate("SP").IsZero())
}
