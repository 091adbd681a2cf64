package nfe_test

import (
	"testing"
	"time"

	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ──────────────────────────────────────────────────────────────────────────────
// Vetor de referência (calculado manualmente, módulo 11 com pesos 2..9):
//
//	cUF=35 AAMM=2410 CNPJ=12345678000195 mod=55 serie=001 nNF=000000123
//	tpEmis=1 cNF=87654321  →  DV = 4
// ──────────────────────────────────────────────────────────────────────────────

const testPrefixo = "3524101234567800019555001000000123187654321"

func TestCheckDigit_VetorConhecido(t *testing.T) {
	dv, err := nfe.CheckDigit(testPrefixo)
	require.NoError(t, err)
	assert.Equal(t, 4, dv)
}

func TestCheckDigit_RestoZeroOuUmResultaZero(t *testing.T) {
	// soma % 11 == 1
	dv, err := nfe.CheckDigit("3524101234567800019555001000000120000000007")
	require.NoError(t, err)
	assert.Equal(t, 0, dv, "resto 1 deve produzir DV 0")

	// soma % 11 == 0
	dv, err = nfe.CheckDigit("3524101234567800019555001000000120000000001")
	require.NoError(t, err)
	assert.Equal(t, 0, dv, "resto 0 deve produzir DV 0")
}

func TestCheckDigit_EntradaInvalida(t *testing.T) {
	_, err := nfe.CheckDigit("123")
	assert.Error(t, err)

	_, err = nfe.CheckDigit("352410123456780001955500100000012318765432X")
	assert.Error(t, err)
}

func TestBuildAccessKey_MontaCamposComZerosAEsquerda(t *testing.T) {
	key, err := nfe.BuildAccessKey(nfe.AccessKeyFields{
		UF:           35,
		IssuedAt:     time.Date(2024, 10, 15, 10, 0, 0, 0, time.UTC),
		CNPJ:         "12.345.678/0001-95",
		Model:        nfe.ModelNFe,
		Series:       1,
		Number:       123,
		EmissionType: nfe.EmissionNormal,
		NumericCode:  87654321,
	})
	require.NoError(t, err)
	assert.Len(t, key, nfe.AccessKeyLength)
	assert.Equal(t, testPrefixo+"4", key)
	assert.NoError(t, nfe.ValidateAccessKey(key))
}

func TestBuildAccessKey_RoundTripDoDV(t *testing.T) {
	emissao := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for numero := 1; numero <= 500; numero += 7 {
		cnf, err := nfe.RandomNumericCode(numero)
		require.NoError(t, err)

		key, err := nfe.BuildAccessKey(nfe.AccessKeyFields{
			UF: 43, IssuedAt: emissao, CNPJ: "98765432000110", Model: 55,
			Series: numero % 999, Number: numero, EmissionType: 1, NumericCode: cnf,
		})
		require.NoError(t, err)

		dv, err := nfe.CheckDigit(key[:43])
		require.NoError(t, err)
		assert.Equal(t, int(key[43]-'0'), dv, "DV recalculado deve coincidir com o 44º dígito (nNF=%d)", numero)
	}
}

func TestBuildAccessKey_RejeitaCamposForaDaLargura(t *testing.T) {
	base := nfe.AccessKeyFields{
		UF: 35, IssuedAt: time.Now(), CNPJ: "12345678000195", Model: 55,
		Series: 1, Number: 1, EmissionType: 1, NumericCode: 1,
	}

	c := base
	c.Series = 1000
	_, err := nfe.BuildAccessKey(c)
	assert.Error(t, err)

	c = base
	c.Number = 0
	_, err = nfe.BuildAccessKey(c)
	assert.Error(t, err)

	c = base
	c.UF = 99
	_, err = nfe.BuildAccessKey(c)
	assert.Error(t, err)

	c = base
	c.NumericCode = 123456789
	_, err = nfe.BuildAccessKey(c)
	assert.Error(t, err)
}

func TestValidateAccessKey_DVErrado(t *testing.T) {
	assert.Error(t, nfe.ValidateAccessKey(testPrefixo+"5"))
	assert.Error(t, nfe.ValidateAccessKey(testPrefixo))
}

func TestParseAccessKey(t *testing.T) {
	f, err := nfe.ParseAccessKey(testPrefixo + "4")
	require.NoError(t, err)
	assert.Equal(t, 35, f.UF)
	assert.Equal(t, "12345678000195", f.CNPJ)
	assert.Equal(t, 55, f.Model)
	assert.Equal(t, 1, f.Series)
	assert.Equal(t, 123, f.Number)
	assert.Equal(t, nfe.EmissionNormal, f.EmissionType)
	assert.Equal(t, 87654321, f.NumericCode)
	assert.Equal(t, 2024, f.IssuedAt.Year())
	assert.Equal(t, time.October, f.IssuedAt.Month())
}

func TestRandomNumericCode_DiferenteDoNumero(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := nfe.RandomNumericCode(42)
		require.NoError(t, err)
		assert.NotEqual(t, 42, code)
		assert.GreaterOrEqual(t, code, 0)
		assert.Less(t, code, 100000000)
	}
}
