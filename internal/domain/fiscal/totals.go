package fiscal

import "github.com/shopspring/decimal"

// AggregateTotals soma os resultados já arredondados de cada item no grupo
// ICMSTot. Nenhum valor é recalculado sobre o total, portanto a soma dos
// itens coincide exatamente com o documento.
//
//	vNF = vProd - vDesc + vFrete + vSeg + vOutro + vIPI + vST
func AggregateTotals(items []ItemTaxes) DocumentTotals {
	var t DocumentTotals
	for _, it := range items {
		t.Products = t.Products.Add(it.Totals.Gross)
		t.Discount = t.Discount.Add(it.Totals.Discount)
		t.Freight = t.Freight.Add(it.Totals.Freight)
		t.Insurance = t.Insurance.Add(it.Totals.Insurance)
		t.Other = t.Other.Add(it.Totals.Other)

		t.ICMSBase = t.ICMSBase.Add(it.ICMS.Base)
		t.ICMS = t.ICMS.Add(it.ICMS.Value)
		t.FCP = t.FCP.Add(it.ICMS.FCPValue)
		t.STBase = t.STBase.Add(it.ICMS.STBase)
		t.ST = t.ST.Add(it.ICMS.STValue)
		if it.ICMS.DIFAL.Applies {
			t.ICMSUFDest = t.ICMSUFDest.Add(it.ICMS.DIFAL.DestValue)
			t.ICMSUFRemet = t.ICMSUFRemet.Add(it.ICMS.DIFAL.OriginValue)
			t.FCPUFDest = t.FCPUFDest.Add(it.ICMS.DIFAL.FCPValue)
		}

		t.IPI = t.IPI.Add(it.IPI.Value)
		t.PIS = t.PIS.Add(it.PIS.Value)
		t.COFINS = t.COFINS.Add(it.COFINS.Value)
		t.TotalTaxes = t.TotalTaxes.Add(it.Totals.TotalTaxes)
	}
	t.Total = t.Products.
		Sub(t.Discount).
		Add(t.Freight).
		Add(t.Insurance).
		Add(t.Other).
		Add(t.IPI).
		Add(t.ST)
	return t
}

// Apportion rateia total entre os pesos (valor bruto dos itens) em centavos.
// A diferença de arredondamento fica no último item, de modo que a soma das
// parcelas é sempre igual a total.
func Apportion(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(weights))
	if len(weights) == 0 || total.IsZero() {
		for i := range out {
			out[i] = decimal.Zero
		}
		return out
	}
	sum := decimal.Zero
	for _, w := range weights {
		sum = sum.Add(w)
	}
	total = total.Round(2)
	acc := decimal.Zero
	for i, w := range weights {
		if i == len(weights)-1 {
			out[i] = total.Sub(acc)
			break
		}
		var part decimal.Decimal
		if sum.IsZero() {
			part = total.Div(decimal.NewFromInt(int64(len(weights)))).Round(2)
		} else {
			part = total.Mul(w).Div(sum).Round(2)
		}
		out[i] = part
		acc = acc.Add(part)
	}
	return out
}
