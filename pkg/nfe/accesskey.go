package nfe

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"time"
)

// AccessKeyLength é o comprimento da chave de acesso: 43 dígitos + DV.
const AccessKeyLength = 44

// pesos do módulo 11, aplicados da direita para a esquerda de forma cíclica.
var keyWeights = [8]int{2, 3, 4, 5, 6, 7, 8, 9}

// AccessKeyFields são os campos do grupo ide que compõem a chave de acesso.
type AccessKeyFields struct {
	UF           int // cUF
	IssuedAt     time.Time
	CNPJ         string
	Model        int
	Series       int
	Number       int
	EmissionType EmissionType
	NumericCode  int // cNF, 8 dígitos
}

// CheckDigit calcula o dígito verificador (cDV) sobre os 43 primeiros dígitos
// da chave. Resto 0 ou 1 resulta em DV 0; caso contrário 11 - resto.
func CheckDigit(prefix string) (int, error) {
	if len(prefix) != AccessKeyLength-1 {
		return 0, fmt.Errorf("nfe: prefixo da chave deve ter 43 dígitos, recebido %d", len(prefix))
	}
	var sum int
	for i := len(prefix) - 1; i >= 0; i-- {
		c := prefix[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("nfe: caractere não numérico na posição %d da chave", i)
		}
		sum += int(c-'0') * keyWeights[(len(prefix)-1-i)%len(keyWeights)]
	}
	r := sum % 11
	if r == 0 || r == 1 {
		return 0, nil
	}
	return 11 - r, nil
}

// BuildAccessKey monta a chave de 44 dígitos. Todos os campos são preenchidos
// com zeros à esquerda; campos que excedem a largura fixa são rejeitados.
func BuildAccessKey(f AccessKeyFields) (string, error) {
	cnpj := OnlyDigits(f.CNPJ)
	switch {
	case f.UF < 11 || f.UF > 53:
		return "", fmt.Errorf("nfe: cUF inválido: %d", f.UF)
	case f.IssuedAt.IsZero():
		return "", fmt.Errorf("nfe: data de emissão obrigatória para a chave")
	case len(cnpj) == 0 || len(cnpj) > 14:
		return "", fmt.Errorf("nfe: CNPJ do emitente inválido para a chave: %q", f.CNPJ)
	case f.Model < 0 || f.Model > 99:
		return "", fmt.Errorf("nfe: modelo inválido: %d", f.Model)
	case f.Series < 0 || f.Series > 999:
		return "", fmt.Errorf("nfe: série fora do intervalo 0..999: %d", f.Series)
	case f.Number < 1 || f.Number > 999999999:
		return "", fmt.Errorf("nfe: número fora do intervalo 1..999999999: %d", f.Number)
	case f.EmissionType < 1 || f.EmissionType > 9:
		return "", fmt.Errorf("nfe: tpEmis inválido: %d", f.EmissionType)
	case f.NumericCode < 0 || f.NumericCode > 99999999:
		return "", fmt.Errorf("nfe: cNF deve ter até 8 dígitos: %d", f.NumericCode)
	}

	prefix := fmt.Sprintf("%02d%s%s%02d%03d%09d%d%08d",
		f.UF,
		f.IssuedAt.Format("0601"),
		PadLeft(cnpj, 14),
		f.Model,
		f.Series,
		f.Number,
		int(f.EmissionType),
		f.NumericCode,
	)

	dv, err := CheckDigit(prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%d", prefix, dv), nil
}

// ValidateAccessKey confere tamanho, conteúdo numérico e DV de uma chave.
func ValidateAccessKey(key string) error {
	if len(key) != AccessKeyLength {
		return fmt.Errorf("nfe: chave de acesso deve ter 44 dígitos, recebido %d", len(key))
	}
	dv, err := CheckDigit(key[:AccessKeyLength-1])
	if err != nil {
		return err
	}
	if int(key[AccessKeyLength-1]-'0') != dv {
		return fmt.Errorf("nfe: dígito verificador inválido: esperado %d, recebido %c", dv, key[AccessKeyLength-1])
	}
	return nil
}

// ParseAccessKey decompõe uma chave válida em seus campos. O dia e a hora da
// emissão não fazem parte da chave; IssuedAt fica no primeiro dia do mês.
func ParseAccessKey(key string) (AccessKeyFields, error) {
	if err := ValidateAccessKey(key); err != nil {
		return AccessKeyFields{}, err
	}
	num := func(from, to int) int {
		n, _ := strconv.Atoi(key[from:to])
		return n
	}
	aamm := num(2, 6)
	return AccessKeyFields{
		UF:           num(0, 2),
		IssuedAt:     time.Date(2000+aamm/100, time.Month(aamm%100), 1, 0, 0, 0, 0, time.UTC),
		CNPJ:         key[6:20],
		Model:        num(20, 22),
		Series:       num(22, 25),
		Number:       num(25, 34),
		EmissionType: EmissionType(num(34, 35)),
		NumericCode:  num(35, 43),
	}, nil
}

// RandomNumericCode sorteia o cNF de 8 dígitos. O código nunca coincide com o
// número da nota, exigência da rejeição 539 (MOC 4.00).
func RandomNumericCode(number int) (int, error) {
	max := big.NewInt(100000000)
	for {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return 0, fmt.Errorf("nfe: falha ao gerar cNF: %w", err)
		}
		code := int(n.Int64())
		if code != number%100000000 {
			return code, nil
		}
	}
}
