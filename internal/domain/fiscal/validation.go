package fiscal

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
	"github.com/shopspring/decimal"
)

// ValidateJustification exige de 15 a 255 caracteres (xJust de cancelamento
// e inutilização), contados no texto já saneado como vai para a SEFAZ.
func ValidateJustification(text string) error {
	n := sanitizedLength(text)
	if n < nfe.MinJustificationLength {
		return domain.NewValidationError("justificativa", "deve ter no mínimo %d caracteres (recebido %d)", nfe.MinJustificationLength, n)
	}
	if n > nfe.MaxJustificationLength {
		return domain.NewValidationError("justificativa", "deve ter no máximo %d caracteres", nfe.MaxJustificationLength)
	}
	return nil
}

// ValidateCorrection valida o texto (15..1000) e a sequência (1..20) da CC-e.
func ValidateCorrection(text string, sequence int) error {
	n := sanitizedLength(text)
	var errs []error
	if n < nfe.MinJustificationLength {
		errs = append(errs, domain.NewValidationError("correcao", "deve ter no mínimo %d caracteres (recebido %d)", nfe.MinJustificationLength, n))
	}
	if n > nfe.MaxCorrectionLength {
		errs = append(errs, domain.NewValidationError("correcao", "deve ter no máximo %d caracteres", nfe.MaxCorrectionLength))
	}
	if sequence < 1 || sequence > nfe.MaxCorrectionSequence {
		errs = append(errs, domain.NewValidationError("sequencia", "deve estar entre 1 e %d (recebido %d)", nfe.MaxCorrectionSequence, sequence))
	}
	return errors.Join(errs...)
}

// sanitizedLength conta as runas de nfe.Sanitize(text), sem truncar.
func sanitizedLength(text string) int {
	return utf8.RuneCountInString(nfe.Sanitize(text, 0))
}

// ValidateItem confere os campos mínimos de um item antes do cálculo.
func ValidateItem(i int, item Item) error {
	var errs []error
	field := func(name string) string { return "itens[" + strconv.Itoa(i) + "]." + name }
	if strings.TrimSpace(item.Code) == "" {
		errs = append(errs, domain.NewValidationError(field("codigo"), "obrigatório"))
	}
	if strings.TrimSpace(item.Description) == "" {
		errs = append(errs, domain.NewValidationError(field("descricao"), "obrigatória"))
	}
	if len(nfe.OnlyDigits(item.NCM)) != 8 {
		errs = append(errs, domain.NewValidationError(field("ncm"), "deve ter 8 dígitos"))
	}
	if !item.Quantity.IsPositive() {
		errs = append(errs, domain.NewValidationError(field("quantidade"), "deve ser maior que zero"))
	}
	if item.UnitPrice.IsNegative() {
		errs = append(errs, domain.NewValidationError(field("valor_unitario"), "não pode ser negativo"))
	}
	switch {
	case item.Discount.IsNegative():
		errs = append(errs, domain.NewValidationError(field("desconto"), "não pode ser negativo"))
	case round2(item.Discount).GreaterThan(grossValue(item)):
		errs = append(errs, domain.NewValidationError(field("desconto"), "não pode exceder o valor bruto do item (%s)", nfe.FormatMoney(grossValue(item))))
	}
	charges := []struct {
		name  string
		value decimal.Decimal
	}{{"frete", item.Freight}, {"seguro", item.Insurance}, {"outras_despesas", item.Other}}
	for _, c := range charges {
		if c.value.IsNegative() {
			errs = append(errs, domain.NewValidationError(field(c.name), "não pode ser negativo"))
		}
	}
	return errors.Join(errs...)
}
