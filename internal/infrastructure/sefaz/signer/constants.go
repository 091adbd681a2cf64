// Algoritmos XML-DSig exigidos pelo leiaute 4.00 da NF-e.

package signer

const (
	NamespaceDS        = "http://www.w3.org/2000/09/xmldsig#"
	AlgC14N            = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgRSASHA1         = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	AlgSHA1            = "http://www.w3.org/2000/09/xmldsig#sha1"
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
)

// Placement posição do <Signature> em relação ao elemento assinado.
type Placement int

const (
	// PlacementEnveloped insere a assinatura como último filho do elemento.
	PlacementEnveloped Placement = iota
	// PlacementSibling insere a assinatura logo após o elemento, no mesmo pai
	// (posição do schema SEFAZ para infNFe, infEvento e infInut).
	PlacementSibling
)

func (p Placement) String() string {
	if p == PlacementSibling {
		return "sibling"
	}
	return "enveloped"
}

// ParsePlacement aceita "enveloped" ou "sibling"; vazio vale enveloped.
func ParsePlacement(s string) (Placement, bool) {
	switch s {
	case "", "enveloped":
		return PlacementEnveloped, true
	case "sibling":
		return PlacementSibling, true
	}
	return PlacementEnveloped, false
}
