package sefaz

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/domain/fiscal"
	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
)

// ── Pedidos (conteúdo de nfeDadosMsg) ─────────────────────────────────────────

const (
	maxBatchSize = 50

	xServQuery  = "CONSULTAR"
	xServStatus = "STATUS"
	xServVoid   = "INUTILIZAR"
)

// Event dados de um evento vinculado a uma NF-e autorizada.
type Event struct {
	Type        string // tpEvento (110111 cancelamento, 110110 CC-e)
	AccessKey   string
	CNPJ        string
	Environment nfe.Environment
	At          time.Time
	Sequence    int // nSeqEvento

	Protocol      string // nProt da autorização (cancelamento)
	Justification string // xJust (cancelamento)
	Correction    string // xCorrecao (CC-e)
}

// ID atributo Id de infEvento: "ID" + tpEvento + chave + nSeqEvento(2).
func (e Event) ID() string {
	return fmt.Sprintf("ID%s%s%02d", e.Type, e.AccessKey, e.Sequence)
}

// VoidRange pedido de inutilização de uma faixa de numeração.
type VoidRange struct {
	Environment   nfe.Environment
	UF            string
	Year          int // ano da inutilização; aceita 2 ou 4 dígitos
	CNPJ          string
	Model         int
	Series        int
	Start         int
	End           int
	Justification string
}

// ID atributo Id de infInut: "ID" + cUF + AA + CNPJ + mod + série(3) + nNFIni(9) + nNFFin(9).
func (v VoidRange) ID() string {
	uf, _ := nfe.UFCode(strings.ToUpper(v.UF))
	return fmt.Sprintf("ID%02d%02d%s%02d%03d%09d%09d",
		uf, v.Year%100, nfe.PadLeft(nfe.OnlyDigits(v.CNPJ), 14), v.Model, v.Series, v.Start, v.End)
}

func newMessage(root, version string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	el := doc.CreateElement(root)
	el.CreateAttr("xmlns", nfe.NamespaceNFe)
	el.CreateAttr("versao", version)
	return doc, el
}

func text(parent *etree.Element, tag, value string) *etree.Element {
	el := parent.CreateElement(tag)
	el.SetText(value)
	return el
}

// BuildBatchRequest monta o enviNFe com as NF-e já assinadas. Em modo
// síncrono (indSinc=1) a SEFAZ aceita uma única nota por lote.
func BuildBatchRequest(batchID string, sync bool, signed ...[]byte) (*etree.Document, error) {
	switch {
	case len(signed) == 0:
		return nil, domain.NewValidationError("lote", "nenhuma NF-e informada")
	case len(signed) > maxBatchSize:
		return nil, domain.NewValidationError("lote", "máximo de %d NF-e por lote (recebido %d)", maxBatchSize, len(signed))
	case sync && len(signed) > 1:
		return nil, domain.NewValidationError("lote", "envio síncrono aceita apenas uma NF-e")
	}
	id := nfe.OnlyDigits(batchID)
	if id == "" || len(id) > 15 {
		return nil, domain.NewValidationError("idLote", "deve ter de 1 a 15 dígitos")
	}

	doc, root := newMessage("enviNFe", nfe.LayoutVersion)
	text(root, "idLote", id)
	text(root, "indSinc", boolFlag(sync))
	for i, raw := range signed {
		d := etree.NewDocument()
		if err := d.ReadFromBytes(raw); err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("lote[%d]", i), "xml malformado: %v", err)
		}
		nf := d.Root()
		if nf == nil || nf.Tag != "NFe" {
			return nil, domain.NewValidationError(fmt.Sprintf("lote[%d]", i), "elemento raiz deve ser NFe")
		}
		root.AddChild(nf)
	}
	return doc, nil
}

// BuildReceiptRequest monta o consReciNFe.
func BuildReceiptRequest(env nfe.Environment, receipt string) (*etree.Document, error) {
	rec := nfe.OnlyDigits(receipt)
	if len(rec) != 15 {
		return nil, domain.NewValidationError("recibo", "deve ter 15 dígitos")
	}
	doc, root := newMessage("consReciNFe", nfe.LayoutVersion)
	text(root, "tpAmb", strconv.Itoa(int(env)))
	text(root, "nRec", rec)
	return doc, nil
}

// BuildQueryRequest monta o consSitNFe.
func BuildQueryRequest(env nfe.Environment, accessKey string) (*etree.Document, error) {
	if err := nfe.ValidateAccessKey(accessKey); err != nil {
		return nil, domain.NewValidationError("chave", "%v", err)
	}
	doc, root := newMessage("consSitNFe", nfe.LayoutVersion)
	text(root, "tpAmb", strconv.Itoa(int(env)))
	text(root, "xServ", xServQuery)
	text(root, "chNFe", accessKey)
	return doc, nil
}

// BuildStatusRequest monta o consStatServ.
func BuildStatusRequest(env nfe.Environment, uf string) (*etree.Document, error) {
	code, ok := nfe.UFCode(strings.ToUpper(uf))
	if !ok {
		return nil, domain.NewValidationError("uf", "UF desconhecida: %q", uf)
	}
	doc, root := newMessage("consStatServ", nfe.LayoutVersion)
	text(root, "tpAmb", strconv.Itoa(int(env)))
	text(root, "cUF", strconv.Itoa(code))
	text(root, "xServ", xServStatus)
	return doc, nil
}

// BuildEventRequest monta o envEvento com um evento. A assinatura de
// infEvento fica a cargo do chamador (irmã de infEvento, dentro de evento).
func BuildEventRequest(batchID string, ev Event) (*etree.Document, error) {
	if err := validateEvent(ev); err != nil {
		return nil, err
	}
	id := nfe.OnlyDigits(batchID)
	if id == "" || len(id) > 15 {
		return nil, domain.NewValidationError("idLote", "deve ter de 1 a 15 dígitos")
	}

	doc, root := newMessage("envEvento", nfe.EventVersion)
	text(root, "idLote", id)

	evento := root.CreateElement("evento")
	evento.CreateAttr("xmlns", nfe.NamespaceNFe)
	evento.CreateAttr("versao", nfe.EventVersion)

	inf := evento.CreateElement("infEvento")
	inf.CreateAttr("Id", ev.ID())
	text(inf, "cOrgao", ev.AccessKey[:2])
	text(inf, "tpAmb", strconv.Itoa(int(ev.Environment)))
	text(inf, "CNPJ", nfe.OnlyDigits(ev.CNPJ))
	text(inf, "chNFe", ev.AccessKey)
	text(inf, "dhEvento", nfe.FormatDateTime(ev.At))
	text(inf, "tpEvento", ev.Type)
	text(inf, "nSeqEvento", strconv.Itoa(ev.Sequence))
	text(inf, "verEvento", nfe.EventVersion)

	det := inf.CreateElement("detEvento")
	det.CreateAttr("versao", nfe.EventVersion)
	switch ev.Type {
	case nfe.EventCancellation:
		text(det, "descEvento", nfe.DescCancellation)
		text(det, "nProt", ev.Protocol)
		text(det, "xJust", nfe.Sanitize(ev.Justification, nfe.MaxJustificationLength))
	case nfe.EventCorrectionLetter:
		text(det, "descEvento", nfe.DescCorrectionLetter)
		text(det, "xCorrecao", nfe.Sanitize(ev.Correction, nfe.MaxCorrectionLength))
		text(det, "xCondUso", nfe.CorrectionLetterTerms)
	}
	return doc, nil
}

func validateEvent(ev Event) error {
	if err := nfe.ValidateAccessKey(ev.AccessKey); err != nil {
		return domain.NewValidationError("chave", "%v", err)
	}
	if len(nfe.OnlyDigits(ev.CNPJ)) != 14 {
		return domain.NewValidationError("cnpj", "deve ter 14 dígitos")
	}
	switch ev.Type {
	case nfe.EventCancellation:
		if err := fiscal.ValidateJustification(ev.Justification); err != nil {
			return err
		}
		if ev.Sequence != 1 {
			return domain.NewValidationError("sequencia", "cancelamento usa sequência 1")
		}
		if len(nfe.OnlyDigits(ev.Protocol)) != 15 {
			return domain.NewValidationError("protocolo", "deve ter 15 dígitos")
		}
		return nil
	case nfe.EventCorrectionLetter:
		return fiscal.ValidateCorrection(ev.Correction, ev.Sequence)
	default:
		return domain.NewValidationError("tpEvento", "tipo de evento não suportado: %q", ev.Type)
	}
}

// BuildVoidRequest monta o inutNFe. A assinatura de infInut fica a cargo do
// chamador.
func BuildVoidRequest(v VoidRange) (*etree.Document, error) {
	if err := validateVoid(v); err != nil {
		return nil, err
	}
	uf, _ := nfe.UFCode(strings.ToUpper(v.UF))

	doc, root := newMessage("inutNFe", nfe.LayoutVersion)
	inf := root.CreateElement("infInut")
	inf.CreateAttr("Id", v.ID())
	text(inf, "tpAmb", strconv.Itoa(int(v.Environment)))
	text(inf, "xServ", xServVoid)
	text(inf, "cUF", strconv.Itoa(uf))
	text(inf, "ano", fmt.Sprintf("%02d", v.Year%100))
	text(inf, "CNPJ", nfe.OnlyDigits(v.CNPJ))
	text(inf, "mod", strconv.Itoa(v.Model))
	text(inf, "serie", strconv.Itoa(v.Series))
	text(inf, "nNFIni", strconv.Itoa(v.Start))
	text(inf, "nNFFin", strconv.Itoa(v.End))
	text(inf, "xJust", nfe.Sanitize(v.Justification, nfe.MaxJustificationLength))
	return doc, nil
}

func validateVoid(v VoidRange) error {
	var errs []error
	if _, ok := nfe.UFCode(strings.ToUpper(v.UF)); !ok {
		errs = append(errs, domain.NewValidationError("uf", "UF desconhecida: %q", v.UF))
	}
	if len(nfe.OnlyDigits(v.CNPJ)) != 14 {
		errs = append(errs, domain.NewValidationError("cnpj", "deve ter 14 dígitos"))
	}
	if v.Model != nfe.ModelNFe && v.Model != nfe.ModelNFCe {
		errs = append(errs, domain.NewValidationError("modelo", "deve ser 55 ou 65"))
	}
	if v.Series < 0 || v.Series > 999 {
		errs = append(errs, domain.NewValidationError("serie", "deve estar entre 0 e 999"))
	}
	if v.Start < 1 || v.End < v.Start || v.End > 999999999 {
		errs = append(errs, domain.NewValidationError("faixa", "faixa inválida: %d a %d", v.Start, v.End))
	}
	if v.Year < 0 {
		errs = append(errs, domain.NewValidationError("ano", "inválido"))
	}
	if err := fiscal.ValidateJustification(v.Justification); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
