package signer

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/jhoicas/faturamento-nfe/internal/domain"
)

var (
	ErrDigestMismatch    = errors.New("DigestValue não confere com o elemento")
	ErrSignatureMismatch = errors.New("SignatureValue inválido")
	ErrSignatureMissing  = errors.New("assinatura não encontrada")
)

// Verify confere a assinatura do elemento id: recalcula o digest do elemento
// sem a própria Signature e valida o RSA sobre o SignedInfo canonicalizado.
// Devolve o certificado embutido em KeyInfo.
func Verify(xmlBytes []byte, id string) (*x509.Certificate, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, &domain.SignatureError{Op: "ler xml", Err: err}
	}
	if doc.Root() == nil {
		return nil, &domain.SignatureError{Op: "ler xml", Err: errors.New("documento sem raiz")}
	}
	target := FindByID(doc.Root(), id)
	if target == nil {
		return nil, &domain.SignatureError{Op: "localizar", Err: fmt.Errorf("%w: Id=%q", domain.ErrTagNotFound, id)}
	}
	sig := findSignatureFor(target, "#"+id)
	if sig == nil {
		return nil, &domain.SignatureError{Op: "localizar", Err: ErrSignatureMissing}
	}

	signedInfo := sig.SelectElement("SignedInfo")
	if signedInfo == nil {
		return nil, &domain.SignatureError{Op: "verificar", Err: errors.New("Signature sem SignedInfo")}
	}
	digestEl := signedInfo.FindElement("./Reference/DigestValue")
	if digestEl == nil {
		return nil, &domain.SignatureError{Op: "verificar", Err: errors.New("Reference sem DigestValue")}
	}

	// Transformação enveloped: a Signature não faz parte do digest.
	unsigned := target
	if sig.Parent() == target {
		unsigned = target.Copy()
		for _, c := range unsigned.ChildElements() {
			if c.Tag == "Signature" {
				unsigned.RemoveChild(c)
			}
		}
		// Copy desanexa o elemento; o ápice precisa dos namespaces do original.
		for key, value := range inheritedNamespaces(target) {
			if unsigned.SelectAttr(key) == nil {
				unsigned.CreateAttr(key, value)
			}
		}
	}
	canonTarget, err := Canonicalize(unsigned)
	if err != nil {
		return nil, &domain.SignatureError{Op: "canonicalizar elemento", Err: err}
	}
	digest := sha1.Sum(canonTarget)
	if base64.StdEncoding.EncodeToString(digest[:]) != strings.TrimSpace(digestEl.Text()) {
		return nil, &domain.SignatureError{Op: "verificar", Err: ErrDigestMismatch}
	}

	certEl := sig.FindElement("./KeyInfo/X509Data/X509Certificate")
	if certEl == nil {
		return nil, &domain.SignatureError{Op: "verificar", Err: errors.New("KeyInfo sem X509Certificate")}
	}
	der, err := base64.StdEncoding.DecodeString(compact(certEl.Text()))
	if err != nil {
		return nil, &domain.SignatureError{Op: "verificar", Err: err}
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, &domain.SignatureError{Op: "verificar", Err: err}
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, &domain.SignatureError{Op: "verificar", Err: errors.New("certificado sem chave RSA")}
	}

	valueEl := sig.SelectElement("SignatureValue")
	if valueEl == nil {
		return nil, &domain.SignatureError{Op: "verificar", Err: errors.New("Signature sem SignatureValue")}
	}
	value, err := base64.StdEncoding.DecodeString(compact(valueEl.Text()))
	if err != nil {
		return nil, &domain.SignatureError{Op: "verificar", Err: err}
	}
	canonSI, err := Canonicalize(signedInfo)
	if err != nil {
		return nil, &domain.SignatureError{Op: "canonicalizar SignedInfo", Err: err}
	}
	h := sha1.Sum(canonSI)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, h[:], value); err != nil {
		return nil, &domain.SignatureError{Op: "verificar", Err: ErrSignatureMismatch}
	}
	return cert, nil
}

// findSignatureFor procura a Signature cuja Reference aponta para uri, dentro
// do elemento ou entre seus irmãos.
func findSignatureFor(target *etree.Element, uri string) *etree.Element {
	candidates := target.SelectElements("Signature")
	if p := target.Parent(); p != nil {
		candidates = append(candidates, p.SelectElements("Signature")...)
	}
	for _, sig := range candidates {
		if ref := sig.FindElement("./SignedInfo/Reference"); ref != nil && ref.SelectAttrValue("URI", "") == uri {
			return sig
		}
	}
	return nil
}

func compact(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		if r != '\n' && r != '\r' && r != ' ' && r != '\t' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
