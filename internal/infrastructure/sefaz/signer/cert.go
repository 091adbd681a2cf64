// Carga do certificado A1 (PKCS#12) usado na assinatura e no mTLS.

package signer

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
	"golang.org/x/crypto/pkcs12"
)

// OID ICP-Brasil do CNPJ no otherName do SubjectAltName do e-CNPJ.
var oidICPBrasilCNPJ = asn1.ObjectIdentifier{2, 16, 76, 1, 3, 3}

var oidSubjectAltName = asn1.ObjectIdentifier{2, 5, 29, 17}

// CertificateHandle certificado e chave privada carregados. Imutável depois de
// criado; pode ser compartilhado entre goroutines.
type CertificateHandle struct {
	leaf  *x509.Certificate
	key   *rsa.PrivateKey
	chain []*x509.Certificate
}

// LoadCertificate decodifica um arquivo PKCS#12 (A1). Aceita arquivos com a
// cadeia da AC embutida.
func LoadCertificate(data []byte, password string) (*CertificateHandle, error) {
	if len(data) == 0 {
		return nil, &domain.CertificateError{Op: "carregar", Err: errors.New("arquivo PKCS#12 vazio")}
	}
	priv, cert, err := pkcs12.Decode(data, password)
	if err == nil {
		key, ok := priv.(*rsa.PrivateKey)
		if !ok {
			return nil, &domain.CertificateError{Op: "carregar", Err: errors.New("a chave privada deve ser RSA")}
		}
		return NewCertificateHandle(cert, key)
	}
	// pkcs12.Decode só aceita exatamente um certificado; com cadeia, usa ToPEM.
	blocks, pemErr := pkcs12.ToPEM(data, password)
	if pemErr != nil {
		return nil, &domain.CertificateError{Op: "decodificar p12", Err: err}
	}
	return fromPEMBlocks(blocks)
}

// LoadCertificateFile lê e decodifica o .pfx/.p12 em path.
func LoadCertificateFile(path, password string) (*CertificateHandle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.CertificateError{Op: "ler p12", Err: err}
	}
	return LoadCertificate(data, password)
}

// NewCertificateHandle monta o handle a partir de um par já decodificado.
func NewCertificateHandle(cert *x509.Certificate, key *rsa.PrivateKey, chain ...*x509.Certificate) (*CertificateHandle, error) {
	if cert == nil || key == nil {
		return nil, &domain.CertificateError{Op: "carregar", Err: domain.ErrCertificateNotLoaded}
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok || !pub.Equal(&key.PublicKey) {
		return nil, &domain.CertificateError{Op: "carregar", Err: errors.New("chave privada não corresponde ao certificado")}
	}
	return &CertificateHandle{leaf: cert, key: key, chain: chain}, nil
}

func fromPEMBlocks(blocks []*pem.Block) (*CertificateHandle, error) {
	var key *rsa.PrivateKey
	var certs []*x509.Certificate
	for _, b := range blocks {
		switch b.Type {
		case "PRIVATE KEY":
			k, err := parseRSAKey(b.Bytes)
			if err != nil {
				return nil, &domain.CertificateError{Op: "decodificar chave", Err: err}
			}
			key = k
		case "CERTIFICATE":
			c, err := x509.ParseCertificate(b.Bytes)
			if err != nil {
				return nil, &domain.CertificateError{Op: "decodificar certificado", Err: err}
			}
			certs = append(certs, c)
		}
	}
	if key == nil || len(certs) == 0 {
		return nil, &domain.CertificateError{Op: "carregar", Err: errors.New("p12 sem chave privada ou certificado")}
	}
	var leaf *x509.Certificate
	var chain []*x509.Certificate
	for _, c := range certs {
		if pub, ok := c.PublicKey.(*rsa.PublicKey); ok && leaf == nil && pub.Equal(&key.PublicKey) {
			leaf = c
			continue
		}
		chain = append(chain, c)
	}
	if leaf == nil {
		return nil, &domain.CertificateError{Op: "carregar", Err: errors.New("nenhum certificado corresponde à chave privada")}
	}
	return NewCertificateHandle(leaf, key, chain...)
}

func parseRSAKey(der []byte) (*rsa.PrivateKey, error) {
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	rk, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("a chave privada deve ser RSA")
	}
	return rk, nil
}

// Certificate certificado do titular.
func (h *CertificateHandle) Certificate() *x509.Certificate { return h.leaf }

// NotBefore início da validade.
func (h *CertificateHandle) NotBefore() time.Time { return h.leaf.NotBefore }

// NotAfter fim da validade.
func (h *CertificateHandle) NotAfter() time.Time { return h.leaf.NotAfter }

// VerifyValidity falha com ErrCertificateExpired se now está fora da janela
// de validade.
func (h *CertificateHandle) VerifyValidity(now time.Time) error {
	if h == nil || h.leaf == nil {
		return &domain.CertificateError{Op: "validar", Err: domain.ErrCertificateNotLoaded}
	}
	if now.Before(h.leaf.NotBefore) || now.After(h.leaf.NotAfter) {
		return &domain.CertificateError{
			Op: "validar",
			Err: fmt.Errorf("%w: válido de %s a %s", domain.ErrCertificateExpired,
				h.leaf.NotBefore.Format(time.DateOnly), h.leaf.NotAfter.Format(time.DateOnly)),
		}
	}
	return nil
}

// TLSCertificate par para autenticação mútua com a SEFAZ.
func (h *CertificateHandle) TLSCertificate() tls.Certificate {
	raw := [][]byte{h.leaf.Raw}
	for _, c := range h.chain {
		raw = append(raw, c.Raw)
	}
	return tls.Certificate{
		Certificate: raw,
		PrivateKey:  h.key,
		Leaf:        h.leaf,
	}
}

// DERBase64 corpo DER do certificado em base64, sem cabeçalhos PEM (KeyInfo).
func (h *CertificateHandle) DERBase64() string {
	return base64.StdEncoding.EncodeToString(h.leaf.Raw)
}

// CNPJ do titular: sufixo do CN ("RAZAO SOCIAL:CNPJ") ou otherName ICP-Brasil.
// Vazio se não encontrado.
func (h *CertificateHandle) CNPJ() string {
	cn := h.leaf.Subject.CommonName
	if i := strings.LastIndex(cn, ":"); i >= 0 {
		if d := nfe.OnlyDigits(cn[i+1:]); len(d) == 14 {
			return d
		}
	}
	return cnpjFromSAN(h.leaf)
}

type otherName struct {
	TypeID asn1.ObjectIdentifier
	Value  asn1.RawValue `asn1:"explicit,tag:0"`
}

func cnpjFromSAN(cert *x509.Certificate) string {
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(oidSubjectAltName) {
			continue
		}
		var names []asn1.RawValue
		if _, err := asn1.Unmarshal(ext.Value, &names); err != nil {
			return ""
		}
		for _, n := range names {
			if n.Class != asn1.ClassContextSpecific || n.Tag != 0 {
				continue
			}
			var on otherName
			if _, err := asn1.UnmarshalWithParams(n.FullBytes, &on, "tag:0"); err != nil {
				continue
			}
			if on.TypeID.Equal(oidICPBrasilCNPJ) {
				if d := nfe.OnlyDigits(string(on.Value.Bytes)); len(d) == 14 {
					return d
				}
			}
		}
	}
	return ""
}
