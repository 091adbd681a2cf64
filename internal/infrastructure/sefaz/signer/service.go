// Assinatura XML-DSig (C14N 1.0, SHA-1, RSA) dos elementos com atributo Id
// da NF-e, eventos e inutilização.

package signer

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/jhoicas/faturamento-nfe/internal/domain"
	dsig "github.com/russellhaering/goxmldsig"
)

// DigitalSignatureService assina XML com o certificado injetado na construção.
type DigitalSignatureService struct {
	cert *CertificateHandle
	now  func() time.Time
}

// ServiceOption configura o DigitalSignatureService.
type ServiceOption func(*DigitalSignatureService)

// WithClock substitui o relógio usado na verificação de validade.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *DigitalSignatureService) { s.now = now }
}

// NewDigitalSignatureService cria o serviço. cert nil deixa o serviço no estado
// "não carregado": toda assinatura falha com ErrCertificateNotLoaded.
func NewDigitalSignatureService(cert *CertificateHandle, opts ...ServiceOption) *DigitalSignatureService {
	s := &DigitalSignatureService{cert: cert, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Certificate devolve o certificado em uso (nil se não carregado).
func (s *DigitalSignatureService) Certificate() *CertificateHandle { return s.cert }

// Sign assina o elemento com Id igual a id e insere <Signature> como último
// filho dele.
func (s *DigitalSignatureService) Sign(xmlBytes []byte, id string) ([]byte, error) {
	return s.SignWithPlacement(xmlBytes, id, PlacementEnveloped)
}

// SignWithPlacement como Sign, com escolha da posição da assinatura.
func (s *DigitalSignatureService) SignWithPlacement(xmlBytes []byte, id string, p Placement) ([]byte, error) {
	if len(xmlBytes) == 0 {
		return nil, &domain.SignatureError{Op: "ler xml", Err: errors.New("XML vazio")}
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, &domain.SignatureError{Op: "ler xml", Err: err}
	}
	if err := s.SignDocument(doc, id, p); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if _, err := doc.WriteTo(&out); err != nil {
		return nil, &domain.SignatureError{Op: "serializar", Err: err}
	}
	return out.Bytes(), nil
}

// SignDocument assina in-place um documento etree já montado.
func (s *DigitalSignatureService) SignDocument(doc *etree.Document, id string, p Placement) error {
	if s.cert == nil {
		return &domain.CertificateError{Op: "assinar", Err: domain.ErrCertificateNotLoaded}
	}
	if err := s.cert.VerifyValidity(s.now()); err != nil {
		return err
	}
	root := doc.Root()
	if root == nil {
		return &domain.SignatureError{Op: "ler xml", Err: errors.New("documento sem raiz")}
	}
	target := FindByID(root, id)
	if target == nil {
		return &domain.SignatureError{Op: "localizar", Err: fmt.Errorf("%w: Id=%q", domain.ErrTagNotFound, id)}
	}
	parent := target.Parent()
	if p == PlacementSibling && target == root {
		return &domain.SignatureError{Op: "localizar", Err: errors.New("elemento raiz não admite assinatura irmã")}
	}

	// 1) Digest do elemento canonicalizado, ainda sem a Signature.
	canonTarget, err := Canonicalize(target)
	if err != nil {
		return &domain.SignatureError{Op: "canonicalizar elemento", Err: err}
	}
	digest := sha1.Sum(canonTarget)

	// 2) Signature posicionada antes de canonicalizar o SignedInfo, para que
	// os namespaces herdados sejam os definitivos.
	sig := etree.NewElement("Signature")
	sig.CreateAttr("xmlns", NamespaceDS)
	signedInfo := buildSignedInfo(sig, "#"+id, base64.StdEncoding.EncodeToString(digest[:]))
	if p == PlacementSibling {
		parent.InsertChildAt(target.Index()+1, sig)
	} else {
		target.AddChild(sig)
	}

	// 3) SignatureValue sobre o SignedInfo canonicalizado.
	canonSI, err := Canonicalize(signedInfo)
	if err != nil {
		return &domain.SignatureError{Op: "canonicalizar SignedInfo", Err: err}
	}
	h := sha1.Sum(canonSI)
	value, err := rsa.SignPKCS1v15(rand.Reader, s.cert.key, crypto.SHA1, h[:])
	if err != nil {
		return &domain.SignatureError{Op: "assinar SignedInfo", Err: err}
	}
	sig.CreateElement("SignatureValue").SetText(base64.StdEncoding.EncodeToString(value))

	// 4) KeyInfo com o certificado do titular.
	sig.CreateElement("KeyInfo").
		CreateElement("X509Data").
		CreateElement("X509Certificate").
		SetText(s.cert.DERBase64())
	return nil
}

func buildSignedInfo(sig *etree.Element, uri, digestB64 string) *etree.Element {
	si := sig.CreateElement("SignedInfo")
	si.CreateElement("CanonicalizationMethod").CreateAttr("Algorithm", AlgC14N)
	si.CreateElement("SignatureMethod").CreateAttr("Algorithm", AlgRSASHA1)

	ref := si.CreateElement("Reference")
	ref.CreateAttr("URI", uri)
	transforms := ref.CreateElement("Transforms")
	transforms.CreateElement("Transform").CreateAttr("Algorithm", TransformEnveloped)
	transforms.CreateElement("Transform").CreateAttr("Algorithm", AlgC14N)
	ref.CreateElement("DigestMethod").CreateAttr("Algorithm", AlgSHA1)
	ref.CreateElement("DigestValue").SetText(digestB64)
	return si
}

// FindByID busca em profundidade o elemento cujo atributo Id vale id.
func FindByID(root *etree.Element, id string) *etree.Element {
	if root.SelectAttrValue("Id", "") == id {
		return root
	}
	for _, c := range root.ChildElements() {
		if found := FindByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

// Canonicalize aplica C14N 1.0 inclusivo ao elemento como subconjunto do
// documento: as declarações de namespace dos ancestrais entram no elemento
// ápice.
func Canonicalize(el *etree.Element) ([]byte, error) {
	c := el.Copy()
	for key, value := range inheritedNamespaces(el) {
		if c.SelectAttr(key) == nil {
			c.CreateAttr(key, value)
		}
	}
	return dsig.MakeC14N10RecCanonicalizer().Canonicalize(c)
}

// inheritedNamespaces declarações xmlns em escopo vindas dos ancestrais; a
// mais próxima prevalece.
func inheritedNamespaces(el *etree.Element) map[string]string {
	ns := map[string]string{}
	for p := el.Parent(); p != nil; p = p.Parent() {
		for _, a := range p.Attr {
			if a.Space != "xmlns" && !(a.Space == "" && a.Key == "xmlns") {
				continue
			}
			key := a.FullKey()
			if _, seen := ns[key]; !seen {
				ns[key] = a.Value
			}
		}
	}
	return ns
}
