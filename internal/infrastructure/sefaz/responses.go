package sefaz

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
)

// ── Retornos ──────────────────────────────────────────────────────────────────

// Response status comum a todos os retornos. Um cStat de rejeição é dado, não
// erro: o chamador decide se corrige e reenvia.
type Response struct {
	Environment nfe.Environment
	AppVersion  string // verAplic
	UF          int    // cUF
	CStat       int
	XMotivo     string
	ReceivedAt  time.Time // dhRecbto
	Raw         []byte    // elemento de retorno, sem o envelope SOAP
}

// Rejection resumo "cStat - xMotivo" para logs e mensagens.
func (r Response) Rejection() string {
	return fmt.Sprintf("%d - %s", r.CStat, r.XMotivo)
}

// Protocol protocolo de autorização (protNFe) de uma NF-e.
type Protocol struct {
	Environment nfe.Environment
	AppVersion  string
	AccessKey   string
	ReceivedAt  time.Time
	Number      string // nProt
	DigestValue string // digVal
	CStat       int
	XMotivo     string
	Raw         []byte // protNFe completo, usado no nfeProc
}

// Authorized indica uso autorizado (100, ou 150 fora do prazo).
func (p *Protocol) Authorized() bool {
	return p != nil && (p.CStat == nfe.StatusAuthorized || p.CStat == nfe.StatusAuthorizedLate)
}

// Denied indica uso denegado (110, 301, 302).
func (p *Protocol) Denied() bool { return p != nil && nfe.IsDenied(p.CStat) }

// AuthorizationResult retorno do NFeAutorizacao4. No modo assíncrono traz o
// recibo; no síncrono, o protocolo.
type AuthorizationResult struct {
	Response
	Receipt  string        // nRec
	AvgTime  time.Duration // tMed
	Protocol *Protocol
}

// Queued indica lote recebido, aguardando consulta do recibo (103).
func (r *AuthorizationResult) Queued() bool { return r.CStat == nfe.StatusBatchReceived }

// ReceiptResult retorno do NFeRetAutorizacao4.
type ReceiptResult struct {
	Response
	Receipt   string
	Protocols []Protocol
}

// Processing indica lote ainda em processamento (105).
func (r *ReceiptResult) Processing() bool { return r.CStat == nfe.StatusBatchProcessing }

// Protocol devolve o protocolo da chave, ou nil.
func (r *ReceiptResult) Protocol(accessKey string) *Protocol {
	for i := range r.Protocols {
		if r.Protocols[i].AccessKey == accessKey {
			return &r.Protocols[i]
		}
	}
	return nil
}

// QueryResult retorno do NFeConsultaProtocolo4.
type QueryResult struct {
	Response
	AccessKey string
	Protocol  *Protocol
	Events    []EventResult
}

// Canceled indica nota cancelada na SEFAZ (101, 151 ou evento 110111 registrado).
func (r *QueryResult) Canceled() bool {
	if r.CStat == nfe.StatusCanceled || r.CStat == nfe.StatusCanceledOutOfTime {
		return true
	}
	for _, ev := range r.Events {
		if ev.Type == nfe.EventCancellation && ev.Accepted() {
			return true
		}
	}
	return false
}

// EventResult retorno do NFeRecepcaoEvento4 para um evento. Response traz o
// status do evento; BatchCStat o do lote (128).
type EventResult struct {
	Response
	BatchCStat   int
	BatchXMotivo string
	AccessKey    string
	Type         string
	Sequence     int
	Protocol     string
	RegisteredAt time.Time
	RetEvento    []byte // retEvento completo, usado no procEventoNFe
}

// Accepted: evento registrado (135), registrado sem vínculo (136) ou
// cancelamento fora do prazo (155).
func (r *EventResult) Accepted() bool {
	switch r.CStat {
	case nfe.StatusEventRegistered, nfe.StatusEventUnlinked, nfe.StatusCanceledLate:
		return true
	}
	return false
}

// VoidResult retorno do NFeInutilizacao4.
type VoidResult struct {
	Response
	ID       string
	Protocol string
}

// Accepted: inutilização homologada (102).
func (r *VoidResult) Accepted() bool { return r.CStat == nfe.StatusVoided }

// StatusResult retorno do NFeStatusServico4.
type StatusResult struct {
	Response
	AvgTime     time.Duration
	ReturnAt    time.Time // dhRetorno, previsão de retorno quando paralisado
	Observation string
}

// Accepted: serviço em operação (107).
func (r *StatusResult) Accepted() bool { return r.CStat == nfe.StatusServiceRunning }

// ── Estruturas XML de retorno ─────────────────────────────────────────────────

type xmlStatus struct {
	TpAmb    int    `xml:"tpAmb"`
	VerAplic string `xml:"verAplic"`
	CUF      int    `xml:"cUF"`
	CStat    int    `xml:"cStat"`
	XMotivo  string `xml:"xMotivo"`
	DhRecbto string `xml:"dhRecbto"`
}

func (s xmlStatus) response(raw []byte) Response {
	return Response{
		Environment: nfe.Environment(s.TpAmb),
		AppVersion:  s.VerAplic,
		UF:          s.CUF,
		CStat:       s.CStat,
		XMotivo:     strings.TrimSpace(s.XMotivo),
		ReceivedAt:  parseTime(s.DhRecbto),
		Raw:         raw,
	}
}

type xmlProtNFe struct {
	Versao string `xml:"versao,attr"`
	Inner  []byte `xml:",innerxml"`
	Inf    struct {
		TpAmb    int    `xml:"tpAmb"`
		VerAplic string `xml:"verAplic"`
		ChNFe    string `xml:"chNFe"`
		DhRecbto string `xml:"dhRecbto"`
		NProt    string `xml:"nProt"`
		DigVal   string `xml:"digVal"`
		CStat    int    `xml:"cStat"`
		XMotivo  string `xml:"xMotivo"`
	} `xml:"infProt"`
}

func (p *xmlProtNFe) protocol() *Protocol {
	if p == nil {
		return nil
	}
	return &Protocol{
		Environment: nfe.Environment(p.Inf.TpAmb),
		AppVersion:  p.Inf.VerAplic,
		AccessKey:   p.Inf.ChNFe,
		ReceivedAt:  parseTime(p.Inf.DhRecbto),
		Number:      p.Inf.NProt,
		DigestValue: p.Inf.DigVal,
		CStat:       p.Inf.CStat,
		XMotivo:     strings.TrimSpace(p.Inf.XMotivo),
		Raw:         rebuild("protNFe", p.Versao, p.Inner),
	}
}

type xmlRetEvento struct {
	Versao string `xml:"versao,attr"`
	Inner  []byte `xml:",innerxml"`
	Inf    struct {
		TpAmb       int    `xml:"tpAmb"`
		VerAplic    string `xml:"verAplic"`
		COrgao      int    `xml:"cOrgao"`
		CStat       int    `xml:"cStat"`
		XMotivo     string `xml:"xMotivo"`
		ChNFe       string `xml:"chNFe"`
		TpEvento    string `xml:"tpEvento"`
		NSeqEvento  int    `xml:"nSeqEvento"`
		DhRegEvento string `xml:"dhRegEvento"`
		NProt       string `xml:"nProt"`
	} `xml:"infEvento"`
}

func (e xmlRetEvento) result() EventResult {
	raw := rebuild("retEvento", e.Versao, e.Inner)
	return EventResult{
		Response: Response{
			Environment: nfe.Environment(e.Inf.TpAmb),
			AppVersion:  e.Inf.VerAplic,
			UF:          e.Inf.COrgao,
			CStat:       e.Inf.CStat,
			XMotivo:     strings.TrimSpace(e.Inf.XMotivo),
			ReceivedAt:  parseTime(e.Inf.DhRegEvento),
			Raw:         raw,
		},
		AccessKey:    e.Inf.ChNFe,
		Type:         e.Inf.TpEvento,
		Sequence:     e.Inf.NSeqEvento,
		Protocol:     e.Inf.NProt,
		RegisteredAt: parseTime(e.Inf.DhRegEvento),
		RetEvento:    raw,
	}
}

type xmlRetEnviNFe struct {
	xmlStatus
	InfRec *struct {
		NRec string `xml:"nRec"`
		TMed int    `xml:"tMed"`
	} `xml:"infRec"`
	ProtNFe *xmlProtNFe `xml:"protNFe"`
}

type xmlRetConsReciNFe struct {
	xmlStatus
	NRec    string       `xml:"nRec"`
	ProtNFe []xmlProtNFe `xml:"protNFe"`
}

type xmlRetConsSitNFe struct {
	xmlStatus
	ChNFe   string      `xml:"chNFe"`
	ProtNFe *xmlProtNFe `xml:"protNFe"`
	ProcEventoNFe []struct {
		RetEvento xmlRetEvento `xml:"retEvento"`
	} `xml:"procEventoNFe"`
}

type xmlRetEnvEvento struct {
	xmlStatus
	COrgao    int            `xml:"cOrgao"`
	RetEvento []xmlRetEvento `xml:"retEvento"`
}

type xmlRetInutNFe struct {
	Inf struct {
		ID string `xml:"Id,attr"`
		xmlStatus
		NProt string `xml:"nProt"`
	} `xml:"infInut"`
}

type xmlRetConsStatServ struct {
	xmlStatus
	TMed      int    `xml:"tMed"`
	DhRetorno string `xml:"dhRetorno"`
	XObs      string `xml:"xObs"`
}

// soapFault cobre SOAP 1.2 (Code/Reason) e SOAP 1.1 (faultcode/faultstring).
type soapFault struct {
	Code        string `xml:"Code>Value"`
	Reason      string `xml:"Reason>Text"`
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
}

func (f soapFault) err() error {
	code, reason := f.Code, f.Reason
	if code == "" {
		code, reason = f.FaultCode, f.FaultString
	}
	return fmt.Errorf("[%s] %s", strings.TrimSpace(code), strings.TrimSpace(reason))
}

// ErrUnexpectedResponse resposta sem o elemento de retorno esperado.
var ErrUnexpectedResponse = errors.New("resposta sem o elemento de retorno esperado")

// ── Parsers ───────────────────────────────────────────────────────────────────

// decodeResult percorre os tokens da resposta até achar root e o decodifica em
// v. Devolve o trecho bruto do elemento. Um SOAP Fault vira CommunicationError.
func decodeResult(body []byte, root string, v any) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		offset := dec.InputOffset()
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, &domain.CommunicationError{Op: "ler " + root, Err: ErrUnexpectedResponse}
		}
		if err != nil {
			return nil, &domain.CommunicationError{Op: "ler " + root, Err: err}
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "Fault":
			var f soapFault
			if err := dec.DecodeElement(&f, &start); err != nil {
				return nil, &domain.CommunicationError{Op: "soap fault", Err: err}
			}
			return nil, &domain.CommunicationError{Op: "soap fault", Err: f.err()}
		case root:
			if err := dec.DecodeElement(v, &start); err != nil {
				return nil, &domain.CommunicationError{Op: "ler " + root, Err: err}
			}
			return body[offset:dec.InputOffset()], nil
		}
	}
}

// ParseAuthorization lê o retEnviNFe.
func ParseAuthorization(body []byte) (*AuthorizationResult, error) {
	var x xmlRetEnviNFe
	raw, err := decodeResult(body, "retEnviNFe", &x)
	if err != nil {
		return nil, err
	}
	res := &AuthorizationResult{Response: x.response(raw), Protocol: x.ProtNFe.protocol()}
	if x.InfRec != nil {
		res.Receipt = strings.TrimSpace(x.InfRec.NRec)
		res.AvgTime = time.Duration(x.InfRec.TMed) * time.Second
	}
	return res, nil
}

// ParseReceipt lê o retConsReciNFe.
func ParseReceipt(body []byte) (*ReceiptResult, error) {
	var x xmlRetConsReciNFe
	raw, err := decodeResult(body, "retConsReciNFe", &x)
	if err != nil {
		return nil, err
	}
	res := &ReceiptResult{Response: x.response(raw), Receipt: strings.TrimSpace(x.NRec)}
	for i := range x.ProtNFe {
		res.Protocols = append(res.Protocols, *x.ProtNFe[i].protocol())
	}
	return res, nil
}

// ParseQuery lê o retConsSitNFe.
func ParseQuery(body []byte) (*QueryResult, error) {
	var x xmlRetConsSitNFe
	raw, err := decodeResult(body, "retConsSitNFe", &x)
	if err != nil {
		return nil, err
	}
	res := &QueryResult{
		Response:  x.response(raw),
		AccessKey: strings.TrimSpace(x.ChNFe),
		Protocol:  x.ProtNFe.protocol(),
	}
	for _, p := range x.ProcEventoNFe {
		res.Events = append(res.Events, p.RetEvento.result())
	}
	return res, nil
}

// ParseEvent lê o retEnvEvento de um lote com um evento.
func ParseEvent(body []byte) (*EventResult, error) {
	var x xmlRetEnvEvento
	raw, err := decodeResult(body, "retEnvEvento", &x)
	if err != nil {
		return nil, err
	}
	batch := x.response(raw)
	if len(x.RetEvento) == 0 {
		// Lote rejeitado por inteiro: o status do lote é o do evento.
		return &EventResult{Response: batch, BatchCStat: batch.CStat, BatchXMotivo: batch.XMotivo}, nil
	}
	res := x.RetEvento[0].result()
	res.BatchCStat, res.BatchXMotivo = batch.CStat, batch.XMotivo
	return &res, nil
}

// ParseVoid lê o retInutNFe.
func ParseVoid(body []byte) (*VoidResult, error) {
	var x xmlRetInutNFe
	raw, err := decodeResult(body, "retInutNFe", &x)
	if err != nil {
		return nil, err
	}
	return &VoidResult{
		Response: x.Inf.response(raw),
		ID:       x.Inf.ID,
		Protocol: strings.TrimSpace(x.Inf.NProt),
	}, nil
}

// ParseStatus lê o retConsStatServ.
func ParseStatus(body []byte) (*StatusResult, error) {
	var x xmlRetConsStatServ
	raw, err := decodeResult(body, "retConsStatServ", &x)
	if err != nil {
		return nil, err
	}
	return &StatusResult{
		Response:    x.response(raw),
		AvgTime:     time.Duration(x.TMed) * time.Second,
		ReturnAt:    parseTime(x.DhRetorno),
		Observation: strings.TrimSpace(x.XObs),
	}, nil
}

// rebuild recompõe o elemento a partir do conteúdo interno, declarando o
// namespace da NF-e que o original herdava do elemento pai.
func rebuild(tag, version string, inner []byte) []byte {
	var b bytes.Buffer
	b.WriteString("<" + tag + ` xmlns="` + nfe.NamespaceNFe + `"`)
	if version != "" {
		b.WriteString(` versao="` + version + `"`)
	}
	b.WriteByte('>')
	b.Write(inner)
	b.WriteString("</" + tag + ">")
	return b.Bytes()
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
