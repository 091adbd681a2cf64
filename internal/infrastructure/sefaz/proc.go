package sefaz

import (
	"fmt"

	"github.com/beevik/etree"
	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
)

// ── Arquivos de distribuição (documento assinado + retorno) ───────────────────

// ComposeNFeProc monta o nfeProc (NFe assinada + protNFe) entregue ao
// destinatário e guardado pelo emitente.
func ComposeNFeProc(signedNFe []byte, prot *Protocol) ([]byte, error) {
	if prot == nil || len(prot.Raw) == 0 {
		return nil, fmt.Errorf("nfeProc: protocolo ausente")
	}
	nf, err := rootOf(signedNFe)
	if err != nil {
		return nil, fmt.Errorf("nfeProc: NFe: %w", err)
	}
	pr, err := rootOf(prot.Raw)
	if err != nil {
		return nil, fmt.Errorf("nfeProc: protNFe: %w", err)
	}
	return compose("nfeProc", nfe.LayoutVersion, nf, pr)
}

// composeEventProc monta o procEventoNFe (evento assinado + retEvento).
func composeEventProc(evento *etree.Element, retEvento []byte) ([]byte, error) {
	ret, err := rootOf(retEvento)
	if err != nil {
		return nil, fmt.Errorf("procEventoNFe: retEvento: %w", err)
	}
	return compose("procEventoNFe", nfe.EventVersion, evento.Copy(), ret)
}

// composeVoidProc monta o procInutNFe (inutNFe assinado + retInutNFe).
func composeVoidProc(inut *etree.Element, retInut []byte) ([]byte, error) {
	ret, err := rootOf(retInut)
	if err != nil {
		return nil, fmt.Errorf("procInutNFe: retInutNFe: %w", err)
	}
	return compose("procInutNFe", nfe.LayoutVersion, inut.Copy(), ret)
}

func compose(tag, version string, parts ...*etree.Element) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement(tag)
	root.CreateAttr("xmlns", nfe.NamespaceNFe)
	root.CreateAttr("versao", version)
	for _, p := range parts {
		root.AddChild(p)
	}
	return doc.WriteToBytes()
}

func rootOf(raw []byte) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, err
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("documento vazio")
	}
	return doc.Root(), nil
}
