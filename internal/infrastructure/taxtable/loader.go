// Package taxtable carrega a tabela de alíquotas de um arquivo externo
// (YAML, JSON ou TOML). Chaves ausentes mantêm o valor da tabela embutida.
//
// Exemplo (YAML):
//
//	intrastate:
//	  SP: "18"
//	  RJ: "20"
//	fcp:
//	  RJ: "2"
//	interstate_standard: "12"
//	interstate_reduced: "7"
//	south_southeast: [SP, RJ, MG, PR, SC, RS]
package taxtable

import (
	"fmt"
	"strings"

	"github.com/jhoicas/faturamento-nfe/internal/domain/fiscal"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Load lê o arquivo em path sobre a tabela padrão e valida o resultado.
// path vazio devolve a tabela padrão.
func Load(path string) (*fiscal.RateTable, error) {
	t := fiscal.DefaultRateTable()
	if path == "" {
		return t, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("tabela de alíquotas: ler %s: %w", path, err)
	}
	if err := apply(v, t); err != nil {
		return nil, fmt.Errorf("tabela de alíquotas %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("tabela de alíquotas %s: %w", path, err)
	}
	return t, nil
}

func apply(v *viper.Viper, t *fiscal.RateTable) error {
	if err := rateMap(v, "intrastate", t.Intrastate); err != nil {
		return err
	}
	if err := rateMap(v, "fcp", t.FCP); err != nil {
		return err
	}
	if v.IsSet("south_southeast") {
		t.SouthSoutheast = map[string]bool{}
		for _, uf := range v.GetStringSlice("south_southeast") {
			t.SouthSoutheast[strings.ToUpper(strings.TrimSpace(uf))] = true
		}
	}

	scalars := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"fallback_intrastate", &t.FallbackIntrastate},
		{"interstate_standard", &t.InterstateStandard},
		{"interstate_reduced", &t.InterstateReduced},
		{"default_mva", &t.DefaultMVA},
		{"simples_credit_rate", &t.SimplesCreditRate},
		{"pis_non_cumulative", &t.PISNonCumulative},
		{"cofins_non_cumulative", &t.COFINSNonCumulative},
		{"pis_cumulative", &t.PISCumulative},
		{"cofins_cumulative", &t.COFINSCumulative},
	}
	for _, s := range scalars {
		if !v.IsSet(s.key) {
			continue
		}
		d, err := parseRate(v.GetString(s.key))
		if err != nil {
			return fmt.Errorf("%s: %w", s.key, err)
		}
		*s.dst = d
	}
	return nil
}

// rateMap sobrepõe as UFs informadas; as demais continuam com o valor padrão.
func rateMap(v *viper.Viper, key string, dst map[string]decimal.Decimal) error {
	if !v.IsSet(key) {
		return nil
	}
	for uf, raw := range v.GetStringMapString(key) {
		d, err := parseRate(raw)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", key, uf, err)
		}
		dst[strings.ToUpper(uf)] = d
	}
	return nil
}

func parseRate(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("percentual inválido %q", s)
	}
	return d, nil
}
