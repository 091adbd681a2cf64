package signer_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/sefaz/signer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyValidity(t *testing.T) {
	nb := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	na := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newCert(t, "EMPRESA:12345678000195", nb, na)

	assert.NoError(t, h.VerifyValidity(nb.AddDate(0, 6, 0)))
	assert.ErrorIs(t, h.VerifyValidity(nb.Add(-time.Second)), domain.ErrCertificateExpired)
	assert.ErrorIs(t, h.VerifyValidity(na.Add(time.Second)), domain.ErrCertificateExpired)
	assert.True(t, na.Equal(h.NotAfter()))

	var nilHandle *signer.CertificateHandle
	assert.ErrorIs(t, nilHandle.VerifyValidity(time.Now()), domain.ErrCertificateNotLoaded)
}

func TestCNPJ_DoCommonName(t *testing.T) {
	h := newCert(t, "EMPRESA TESTE LTDA:12345678000195", time.Now(), time.Now().Add(time.Hour))
	assert.Equal(t, "12345678000195", h.CNPJ())

	h = newCert(t, "PESSOA FISICA", time.Now(), time.Now().Add(time.Hour))
	assert.Empty(t, h.CNPJ())
}

func TestTLSCertificate(t *testing.T) {
	h := validCert(t)
	tc := h.TLSCertificate()
	require.Len(t, tc.Certificate, 1)
	assert.Equal(t, h.Certificate().Raw, tc.Certificate[0])
	assert.NotNil(t, tc.PrivateKey)
	assert.Same(t, h.Certificate(), tc.Leaf)
}

func TestNewCertificateHandle_ChaveDivergente(t *testing.T) {
	h := validCert(t)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, err = signer.NewCertificateHandle(h.Certificate(), other)
	assert.ErrorIs(t, err, domain.ErrCertificate)

	_, err = signer.NewCertificateHandle(nil, nil)
	assert.ErrorIs(t, err, domain.ErrCertificateNotLoaded)
}

func TestLoadCertificate_P12Invalido(t *testing.T) {
	_, err := signer.LoadCertificate(nil, "")
	assert.ErrorIs(t, err, domain.ErrCertificate)

	_, err = signer.LoadCertificate([]byte("não é pkcs12"), "senha")
	var certErr *domain.CertificateError
	require.ErrorAs(t, err, &certErr)
	assert.Equal(t, "decodificar p12", certErr.Op)
}

func TestLoadCertificateFile_Inexistente(t *testing.T) {
	_, err := signer.LoadCertificateFile(filepath.Join(t.TempDir(), "nao-existe.pfx"), "")
	assert.ErrorIs(t, err, domain.ErrCertificate)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewCertificateHandle_Cadeia(t *testing.T) {
	key := rsaKey(t)
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "AC TESTE"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &key.PublicKey, key)
	require.NoError(t, err)
	ca, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	leaf := validCert(t).Certificate()
	h, err := signer.NewCertificateHandle(leaf, key, ca)
	require.NoError(t, err)
	assert.Len(t, h.TLSCertificate().Certificate, 2, "folha + AC")
}
