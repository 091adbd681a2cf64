package taxtable_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/taxtable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_SemArquivoUsaPadrao(t *testing.T) {
	tbl, err := taxtable.Load("")
	require.NoError(t, err)
	assert.Equal(t, "18", tbl.IntrastateRate("SP").String())
	assert.Equal(t, "7", tbl.InterstateRate("SP", "BA").String())
}

func TestLoad_YAMLSobrepoeSomenteChavesInformadas(t *testing.T) {
	path := writeFile(t, "aliquotas.yaml", `
intrastate:
  sp: "19,5"
  RJ: 22
fcp:
  SP: "1%"
interstate_standard: "12"
default_mva: 40
`)
	tbl, err := taxtable.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "19.5", tbl.IntrastateRate("SP").String())
	assert.Equal(t, "22", tbl.IntrastateRate("RJ").String())
	assert.Equal(t, "18", tbl.IntrastateRate("BA").String(), "UF ausente do arquivo mantém o padrão")
	assert.Equal(t, "1", tbl.FCPRate("SP").String())
	assert.Equal(t, "40", tbl.DefaultMVA.String())
	assert.Equal(t, "7", tbl.InterstateReduced.String())
}

func TestLoad_JSONComRegiao(t *testing.T) {
	path := writeFile(t, "aliquotas.json", `{"south_southeast": ["SP", "RJ"], "interstate_reduced": "7"}`)
	tbl, err := taxtable.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7", tbl.InterstateRate("RJ", "PR").String())
	assert.Equal(t, "12", tbl.InterstateRate("PR", "BA").String(), "PR fora da região informada")
}

func TestLoad_PercentualInvalido(t *testing.T) {
	path := writeFile(t, "aliquotas.yaml", "intrastate:\n  SP: abc\n")
	_, err := taxtable.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intrastate.sp")
}

func TestLoad_ForaDoIntervalo(t *testing.T) {
	path := writeFile(t, "aliquotas.yaml", "interstate_standard: 120\n")
	_, err := taxtable.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0..100")
}

func TestLoad_ArquivoInexistente(t *testing.T) {
	_, err := taxtable.Load(filepath.Join(t.TempDir(), "nao-existe.yaml"))
	assert.Error(t, err)
}
