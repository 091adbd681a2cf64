package nfe

import (
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Casas decimais do leiaute 4.00.
const (
	MoneyPlaces     = 2
	RatePlaces      = 4
	QuantityPlaces  = 4
	UnitPricePlaces = 10
	DateTimeLayout  = "2006-01-02T15:04:05-07:00"
)

// FormatDecimal serializa d com exatamente places casas, separador '.' e sem
// notação científica.
func FormatDecimal(d decimal.Decimal, places int32) string {
	return d.Round(places).StringFixed(places)
}

// FormatMoney formata valores monetários (2 casas).
func FormatMoney(d decimal.Decimal) string { return FormatDecimal(d, MoneyPlaces) }

// FormatRate formata alíquotas e percentuais (4 casas).
func FormatRate(d decimal.Decimal) string { return FormatDecimal(d, RatePlaces) }

// FormatQuantity formata quantidades comerciais e tributáveis (4 casas).
func FormatQuantity(d decimal.Decimal) string { return FormatDecimal(d, QuantityPlaces) }

// FormatUnitPrice formata o valor unitário (10 casas).
func FormatUnitPrice(d decimal.Decimal) string { return FormatDecimal(d, UnitPricePlaces) }

// FormatDateTime formata data/hora no padrão UTC com offset (dhEmi, dhEvento).
func FormatDateTime(t time.Time) string {
	return t.Format(DateTimeLayout)
}

// ParseDecimal converte texto em decimal; entradas malformadas viram zero.
func ParseDecimal(s string) decimal.Decimal {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// OnlyDigits remove tudo que não for dígito (máscaras de CNPJ, CPF, CEP).
func OnlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PadLeft completa s com zeros à esquerda até width.
func PadLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

// Sanitize remove acentos, caracteres de controle e espaços excedentes de
// textos livres, e trunca em max runas quando max > 0.
func Sanitize(s string, max int) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, out)
	out = strings.Join(strings.Fields(out), " ")
	if max > 0 {
		if rs := []rune(out); len(rs) > max {
			out = strings.TrimSpace(string(rs[:max]))
		}
	}
	return out
}
