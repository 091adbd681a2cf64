package sefaz

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/beevik/etree"
	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/sefaz/signer"
	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
	"github.com/rs/zerolog/log"
)

// ErrPollTimeout lote ainda em processamento ao fim da espera. A NF-e continua
// pendente e pode ser conciliada depois pela chave ou pelo recibo.
var ErrPollTimeout = errors.New("tempo esgotado aguardando o processamento do lote")

// ClientConfig parâmetros do protocolo.
type ClientConfig struct {
	Environment     nfe.Environment
	Sync            bool          // indSinc=1: protocolo na própria resposta do envio
	PollInterval    time.Duration // primeira espera antes de consultar o recibo; padrão 2s
	MaxPollInterval time.Duration // teto do backoff; padrão 15s
	PollTimeout     time.Duration // espera total pelo processamento; padrão 2min
	MaxPollAttempts int           // padrão 10
}

func (c *ClientConfig) defaults() {
	if c.Environment == 0 {
		c.Environment = nfe.EnvironmentHomologation
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.MaxPollInterval <= 0 {
		c.MaxPollInterval = 15 * time.Second
	}
	if c.MaxPollInterval < c.PollInterval {
		c.MaxPollInterval = c.PollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 2 * time.Minute
	}
	if c.MaxPollAttempts <= 0 {
		c.MaxPollAttempts = 10
	}
}

// Client cliente dos web services NF-e 4.00. Não guarda estado por documento:
// uma instância atende envios concorrentes.
type Client struct {
	transport Transport
	endpoints *EndpointTable
	signer    *signer.DigitalSignatureService
	cfg       ClientConfig
	now       func() time.Time
	batchSeq  atomic.Int64
}

// ClientOption configura o Client.
type ClientOption func(*Client)

// WithClientClock injeta o relógio usado em dhEvento e no idLote.
func WithClientClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// NewClient cria o cliente. sig assina eventos e inutilizações; nil equivale a
// certificado não carregado. endpoints nil usa DefaultEndpoints.
func NewClient(t Transport, endpoints *EndpointTable, sig *signer.DigitalSignatureService, cfg ClientConfig, opts ...ClientOption) *Client {
	cfg.defaults()
	if endpoints == nil {
		endpoints = DefaultEndpoints()
	}
	if sig == nil {
		sig = signer.NewDigitalSignatureService(nil)
	}
	c := &Client{transport: t, endpoints: endpoints, signer: sig, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	c.batchSeq.Store(c.now().UnixMilli())
	return c
}

// Environment ambiente configurado.
func (c *Client) Environment() nfe.Environment { return c.cfg.Environment }

func (c *Client) nextBatchID() string {
	return strconv.FormatInt(c.batchSeq.Add(1)%1_000_000_000_000_000, 10)
}

func (c *Client) call(ctx context.Context, uf string, svc nfe.Service, payload *etree.Element) ([]byte, error) {
	url, err := c.endpoints.URL(uf, c.cfg.Environment, svc)
	if err != nil {
		return nil, domain.NewValidationError("uf", "%v", err)
	}
	return c.transport.Call(ctx, url, svc, payload)
}

// ── Autorização ───────────────────────────────────────────────────────────────

// Authorization desfecho do envio de uma NF-e.
//
//   - autorizada: Protocol.Authorized(), ProcXML preenchido;
//   - rejeitada ou denegada: Protocol com cStat de rejeição, ou Protocol nil e
//     Last com a rejeição do lote;
//   - pendente: Receipt preenchido e Protocol nil (espera esgotada ou cancelada).
type Authorization struct {
	AccessKey string
	Receipt   string
	Last      Response // último retorno recebido (lote, recibo ou protocolo)
	Protocol  *Protocol
	ProcXML   []byte
}

// Authorized indica protocolo de autorização.
func (a *Authorization) Authorized() bool { return a.Protocol.Authorized() }

// Pending indica lote aceito e ainda sem protocolo.
func (a *Authorization) Pending() bool { return a.Protocol == nil && a.Receipt != "" }

// Authorize envia uma NF-e assinada e acompanha o lote até um status final.
// No modo assíncrono, o retorno 103 leva à consulta do recibo com backoff.
// Se a espera esgota ou ctx é cancelado, devolve a Authorization pendente
// (com o recibo) junto com um *domain.CommunicationError.
func (c *Client) Authorize(ctx context.Context, signedXML []byte, uf string) (*Authorization, error) {
	key, err := accessKeyOf(signedXML)
	if err != nil {
		return nil, err
	}
	batch, err := c.SubmitBatch(ctx, uf, signedXML)
	if err != nil {
		return nil, err
	}

	auth := &Authorization{AccessKey: key, Receipt: batch.Receipt, Last: batch.Response}
	logger := log.With().Str("chave", key).Str("uf", uf).Logger()

	if batch.Protocol != nil {
		auth.Protocol = batch.Protocol
		auth.Last = protocolResponse(batch.Protocol)
		return c.finish(auth, signedXML)
	}
	if !batch.Queued() {
		logger.Warn().Int("cstat", batch.CStat).Str("motivo", batch.XMotivo).Msg("sefaz: lote rejeitado")
		return auth, nil
	}

	logger.Info().Str("recibo", batch.Receipt).Msg("sefaz: lote recebido, consultando recibo")
	rec, err := c.PollReceipt(ctx, batch.Receipt, uf, batch.AvgTime)
	if rec != nil {
		auth.Last = rec.Response
		if p := rec.Protocol(key); p != nil {
			auth.Protocol = p
			auth.Last = protocolResponse(p)
		}
	}
	if err != nil {
		return auth, err
	}
	return c.finish(auth, signedXML)
}

func (c *Client) finish(auth *Authorization, signedXML []byte) (*Authorization, error) {
	if !auth.Authorized() {
		return auth, nil
	}
	proc, err := ComposeNFeProc(signedXML, auth.Protocol)
	if err != nil {
		return auth, err
	}
	auth.ProcXML = proc
	return auth, nil
}

func protocolResponse(p *Protocol) Response {
	return Response{
		Environment: p.Environment,
		AppVersion:  p.AppVersion,
		CStat:       p.CStat,
		XMotivo:     p.XMotivo,
		ReceivedAt:  p.ReceivedAt,
		Raw:         p.Raw,
	}
}

// SubmitBatch envia um lote de NF-e assinadas (NFeAutorizacao4).
func (c *Client) SubmitBatch(ctx context.Context, uf string, signed ...[]byte) (*AuthorizationResult, error) {
	doc, err := BuildBatchRequest(c.nextBatchID(), c.cfg.Sync, signed...)
	if err != nil {
		return nil, err
	}
	body, err := c.call(ctx, uf, nfe.ServiceAuthorization, doc.Root())
	if err != nil {
		return nil, err
	}
	return ParseAuthorization(body)
}

// QueryReceipt consulta o processamento de um lote (NFeRetAutorizacao4).
func (c *Client) QueryReceipt(ctx context.Context, receipt, uf string) (*ReceiptResult, error) {
	doc, err := BuildReceiptRequest(c.cfg.Environment, receipt)
	if err != nil {
		return nil, err
	}
	body, err := c.call(ctx, uf, nfe.ServiceReceipt, doc.Root())
	if err != nil {
		return nil, err
	}
	return ParseReceipt(body)
}

// PollReceipt consulta o recibo enquanto o lote estiver em processamento
// (105), com espera exponencial limitada por MaxPollInterval, MaxPollAttempts e
// PollTimeout. hint (tMed) substitui a primeira espera quando maior.
// Devolve sempre o último retorno obtido, mesmo com erro.
func (c *Client) PollReceipt(ctx context.Context, receipt, uf string, hint time.Duration) (*ReceiptResult, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()

	wait := c.cfg.PollInterval
	if hint > wait {
		wait = min(hint, c.cfg.MaxPollInterval)
	}

	var last *ReceiptResult
	for attempt := 1; attempt <= c.cfg.MaxPollAttempts; attempt++ {
		if err := sleep(pollCtx, wait); err != nil {
			return last, c.pollError(ctx, err)
		}
		rec, err := c.QueryReceipt(pollCtx, receipt, uf)
		if err != nil {
			var comm *domain.CommunicationError
			if !errors.As(err, &comm) || ctx.Err() != nil || pollCtx.Err() != nil {
				return last, c.pollError(ctx, err)
			}
			// Falha transitória: tenta de novo na próxima rodada.
			log.Warn().Err(err).Str("recibo", receipt).Int("tentativa", attempt).Msg("sefaz: consulta de recibo falhou")
		} else {
			last = rec
			if !rec.Processing() {
				return rec, nil
			}
		}
		wait = min(wait*2, c.cfg.MaxPollInterval)
	}
	return last, &domain.CommunicationError{Op: "consultar recibo " + receipt, Err: ErrPollTimeout}
}

func (c *Client) pollError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return &domain.CommunicationError{Op: "consultar recibo", Err: parent.Err()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.CommunicationError{Op: "consultar recibo", Err: ErrPollTimeout}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ── Consulta e status ─────────────────────────────────────────────────────────

// Query consulta a situação da NF-e pela chave (NFeConsultaProtocolo4).
func (c *Client) Query(ctx context.Context, accessKey, uf string) (*QueryResult, error) {
	doc, err := BuildQueryRequest(c.cfg.Environment, accessKey)
	if err != nil {
		return nil, err
	}
	body, err := c.call(ctx, uf, nfe.ServiceQuery, doc.Root())
	if err != nil {
		return nil, err
	}
	return ParseQuery(body)
}

// ServiceStatus consulta o status do serviço do autorizador da UF.
func (c *Client) ServiceStatus(ctx context.Context, uf string) (*StatusResult, error) {
	doc, err := BuildStatusRequest(c.cfg.Environment, uf)
	if err != nil {
		return nil, err
	}
	body, err := c.call(ctx, uf, nfe.ServiceStatus, doc.Root())
	if err != nil {
		return nil, err
	}
	return ParseStatus(body)
}

// ── Eventos ───────────────────────────────────────────────────────────────────

// EventOutcome retorno do evento e, se registrado, o procEventoNFe.
type EventOutcome struct {
	*EventResult
	SignedXML []byte // envEvento assinado
	ProcXML   []byte
}

// Cancel registra o cancelamento (110111). A justificativa (15 a 255
// caracteres) é validada antes de qualquer chamada de rede.
func (c *Client) Cancel(ctx context.Context, accessKey, protocol, justification, uf, cnpj string) (*EventOutcome, error) {
	return c.sendEvent(ctx, uf, Event{
		Type:          nfe.EventCancellation,
		AccessKey:     accessKey,
		CNPJ:          cnpj,
		Sequence:      1,
		Protocol:      protocol,
		Justification: justification,
	})
}

// CorrectionLetter registra a CC-e (110110). Cada nova carta da mesma nota usa a
// sequência seguinte e substitui as anteriores.
func (c *Client) CorrectionLetter(ctx context.Context, accessKey, text, uf, cnpj string, sequence int) (*EventOutcome, error) {
	return c.sendEvent(ctx, uf, Event{
		Type:       nfe.EventCorrectionLetter,
		AccessKey:  accessKey,
		CNPJ:       cnpj,
		Sequence:   sequence,
		Correction: text,
	})
}

func (c *Client) sendEvent(ctx context.Context, uf string, ev Event) (*EventOutcome, error) {
	ev.Environment = c.cfg.Environment
	ev.At = c.now()

	doc, err := BuildEventRequest(c.nextBatchID(), ev)
	if err != nil {
		return nil, err
	}
	if err := c.signer.SignDocument(doc, ev.ID(), signer.PlacementSibling); err != nil {
		return nil, err
	}
	signed, err := doc.WriteToBytes()
	if err != nil {
		return nil, err
	}

	body, err := c.call(ctx, uf, nfe.ServiceEvent, doc.Root())
	if err != nil {
		return nil, err
	}
	res, err := ParseEvent(body)
	if err != nil {
		return nil, err
	}

	out := &EventOutcome{EventResult: res, SignedXML: signed}
	log.Info().
		Str("chave", ev.AccessKey).
		Str("evento", ev.Type).
		Int("sequencia", ev.Sequence).
		Int("cstat", res.CStat).
		Msg("sefaz: evento processado")
	if res.Accepted() && len(res.RetEvento) > 0 {
		evento := doc.Root().SelectElement("evento")
		if out.ProcXML, err = composeEventProc(evento, res.RetEvento); err != nil {
			return out, err
		}
	}
	return out, nil
}

// ── Inutilização ──────────────────────────────────────────────────────────────

// VoidOutcome retorno da inutilização e, se homologada, o procInutNFe.
type VoidOutcome struct {
	*VoidResult
	SignedXML []byte
	ProcXML   []byte
}

// VoidNumberRange inutiliza uma faixa de numeração (NFeInutilizacao4).
func (c *Client) VoidNumberRange(ctx context.Context, v VoidRange) (*VoidOutcome, error) {
	v.Environment = c.cfg.Environment
	if v.Year == 0 {
		v.Year = c.now().Year()
	}
	doc, err := BuildVoidRequest(v)
	if err != nil {
		return nil, err
	}
	if err := c.signer.SignDocument(doc, v.ID(), signer.PlacementSibling); err != nil {
		return nil, err
	}
	signed, err := doc.WriteToBytes()
	if err != nil {
		return nil, err
	}

	body, err := c.call(ctx, v.UF, nfe.ServiceVoid, doc.Root())
	if err != nil {
		return nil, err
	}
	res, err := ParseVoid(body)
	if err != nil {
		return nil, err
	}
	out := &VoidOutcome{VoidResult: res, SignedXML: signed}
	if res.Accepted() {
		if out.ProcXML, err = composeVoidProc(doc.Root(), res.Raw); err != nil {
			return out, err
		}
	}
	return out, nil
}

// accessKeyOf extrai a chave do atributo Id de infNFe.
func accessKeyOf(signedXML []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signedXML); err != nil {
		return "", domain.NewValidationError("xml", "malformado: %v", err)
	}
	inf := doc.FindElement("//infNFe")
	if inf == nil {
		return "", domain.NewValidationError("xml", "infNFe ausente")
	}
	key := strings.TrimPrefix(inf.SelectAttrValue("Id", ""), "NFe")
	if err := nfe.ValidateAccessKey(key); err != nil {
		return "", domain.NewValidationError("chave", "%v", err)
	}
	return key, nil
}
