package fiscal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RateTable tabela de alíquotas usada pelo motor. Os valores mudam por
// legislação; em produção é carregada de arquivo externo (ver taxtable).
type RateTable struct {
	// Intrastate alíquota interna (modal) por UF, em %.
	Intrastate map[string]decimal.Decimal
	// FallbackIntrastate usada para UF ausente da tabela.
	FallbackIntrastate decimal.Decimal
	// FCP percentual do Fundo de Combate à Pobreza por UF.
	FCP map[string]decimal.Decimal
	// SouthSoutheast UFs das regiões Sul e Sudeste, exceto ES.
	SouthSoutheast map[string]bool

	InterstateStandard decimal.Decimal // 12%
	InterstateReduced  decimal.Decimal // 7%: origem Sul/Sudeste, destino fora dela

	DefaultMVA        decimal.Decimal // margem de valor agregado do ICMS-ST
	SimplesCreditRate decimal.Decimal // pCredSN padrão do CSOSN 101

	PISNonCumulative    decimal.Decimal
	COFINSNonCumulative decimal.Decimal
	PISCumulative       decimal.Decimal
	COFINSCumulative    decimal.Decimal
}

func pct(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// DefaultRateTable devolve a tabela embutida, usada quando nenhum arquivo
// externo é configurado.
func DefaultRateTable() *RateTable {
	intra := map[string]decimal.Decimal{}
	for _, uf := range []string{"AC", "AL", "ES", "GO", "MS", "MT", "PA", "RR", "SC"} {
		intra[uf] = pct("17")
	}
	for _, uf := range []string{"AM", "AP", "BA", "CE", "DF", "MA", "MG", "PB", "PE", "PI", "PR", "RN", "RS", "SE", "SP", "TO"} {
		intra[uf] = pct("18")
	}
	intra["RO"] = pct("17.5")
	intra["RJ"] = pct("20")

	fcp := map[string]decimal.Decimal{}
	for _, uf := range []string{"AL", "BA", "CE", "MA", "MG", "PB", "PE", "PI", "RJ", "RN", "SE", "TO"} {
		fcp[uf] = pct("2")
	}

	return &RateTable{
		Intrastate:          intra,
		FallbackIntrastate:  pct("18"),
		FCP:                 fcp,
		SouthSoutheast:      map[string]bool{"SP": true, "RJ": true, "MG": true, "PR": true, "SC": true, "RS": true},
		InterstateStandard:  pct("12"),
		InterstateReduced:   pct("7"),
		DefaultMVA:          pct("30"),
		SimplesCreditRate:   pct("1.25"),
		PISNonCumulative:    pct("1.65"),
		COFINSNonCumulative: pct("7.6"),
		PISCumulative:       pct("0.65"),
		COFINSCumulative:    pct("3"),
	}
}

// IntrastateRate alíquota interna da UF.
func (t *RateTable) IntrastateRate(uf string) decimal.Decimal {
	if r, ok := t.Intrastate[strings.ToUpper(uf)]; ok {
		return r
	}
	return t.FallbackIntrastate
}

// InterstateRate alíquota interestadual entre origem e destino (Resolução do
// Senado 22/1989): 7% de Sul/Sudeste para fora da região, 12% nos demais casos.
func (t *RateTable) InterstateRate(origin, dest string) decimal.Decimal {
	o, d := t.SouthSoutheast[strings.ToUpper(origin)], t.SouthSoutheast[strings.ToUpper(dest)]
	if o && !d {
		return t.InterstateReduced
	}
	return t.InterstateStandard
}

// FCPRate percentual do FCP da UF; zero se a UF não cobra.
func (t *RateTable) FCPRate(uf string) decimal.Decimal {
	if r, ok := t.FCP[strings.ToUpper(uf)]; ok {
		return r
	}
	return decimal.Zero
}

// Validate rejeita tabelas incompletas ou com percentuais fora de 0..100.
func (t *RateTable) Validate() error {
	var errs []error
	if len(t.Intrastate) == 0 {
		errs = append(errs, errors.New("tabela de alíquotas internas vazia"))
	}
	check := func(name string, v decimal.Decimal) {
		if v.IsNegative() || v.GreaterThan(decimal.NewFromInt(100)) {
			errs = append(errs, fmt.Errorf("%s fora do intervalo 0..100: %s", name, v))
		}
	}
	for uf, r := range t.Intrastate {
		check("alíquota interna "+uf, r)
	}
	for uf, r := range t.FCP {
		check("FCP "+uf, r)
	}
	check("alíquota interna padrão", t.FallbackIntrastate)
	check("alíquota interestadual", t.InterstateStandard)
	check("alíquota interestadual reduzida", t.InterstateReduced)
	check("MVA padrão", t.DefaultMVA)
	check("crédito Simples Nacional", t.SimplesCreditRate)
	check("PIS não cumulativo", t.PISNonCumulative)
	check("COFINS não cumulativo", t.COFINSNonCumulative)
	check("PIS cumulativo", t.PISCumulative)
	check("COFINS cumulativo", t.COFINSCumulative)
	return errors.Join(errs...)
}
