package sefaz

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/sefaz/signer"
	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
	"github.com/rs/zerolog/log"
)

// ── Constantes SOAP 1.2 ───────────────────────────────────────────────────────

const (
	nsSOAP12 = "http://www.w3.org/2003/05/soap-envelope"
	nsXSI    = "http://www.w3.org/2001/XMLSchema-instance"
	nsXSD    = "http://www.w3.org/2001/XMLSchema"

	defaultTimeout     = 30 * time.Second
	defaultMaxResponse = 4 << 20
)

// ── Porta ─────────────────────────────────────────────────────────────────────

// Transport entrega o pedido ao web service e devolve o corpo da resposta.
// Falhas de rede, TLS, timeout e SOAP Fault voltam como
// *domain.CommunicationError. Nos testes a implementação é substituída.
type Transport interface {
	Call(ctx context.Context, url string, svc nfe.Service, payload *etree.Element) ([]byte, error)
}

// ── Implementação HTTP com mTLS ───────────────────────────────────────────────

// TransportConfig parâmetros do HTTPTransport.
type TransportConfig struct {
	Timeout          time.Duration // por chamada; padrão 30s
	CADir            string        // diretório com as CAs da ICP-Brasil (.crt/.pem)
	MaxResponseBytes int64         // padrão 4 MB
	Breaker          BreakerConfig
}

// HTTPTransport envia o envelope SOAP 1.2 sobre TLS 1.2 com o certificado A1
// do emitente como certificado de cliente.
type HTTPTransport struct {
	client   *http.Client
	maxBody  int64
	breakers *breakerSet
}

// NewHTTPTransport monta o cliente HTTP com autenticação mútua.
func NewHTTPTransport(cert *signer.CertificateHandle, cfg TransportConfig) (*HTTPTransport, error) {
	if cert == nil {
		return nil, &domain.CertificateError{Op: "configurar mTLS", Err: domain.ErrCertificateNotLoaded}
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		log.Warn().Err(err).Msg("sefaz: SystemCertPool indisponível, usando pool vazio")
		pool = x509.NewCertPool()
	}
	if cfg.CADir != "" {
		if err := loadCertsFromDir(pool, cfg.CADir); err != nil {
			return nil, fmt.Errorf("sefaz: carregar CAs de %s: %w", cfg.CADir, err)
		}
	}

	// A SEFAZ de SP e o Ambiente Nacional pedem renegociação TLS.
	tlsConfig := &tls.Config{
		Certificates:  []tls.Certificate{cert.TLSCertificate()},
		RootCAs:       pool,
		Renegotiation: tls.RenegotiateFreelyAsClient,
		MinVersion:    tls.VersionTLS12,
		MaxVersion:    tls.VersionTLS12,
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
			Proxy:           http.ProxyFromEnvironment,
			MaxIdleConns:    10,
			IdleConnTimeout: 30 * time.Second,
		},
	}
	return NewHTTPTransportWithClient(client, cfg), nil
}

// NewHTTPTransportWithClient usa um *http.Client já configurado.
func NewHTTPTransportWithClient(client *http.Client, cfg TransportConfig) *HTTPTransport {
	maxBody := cfg.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = defaultMaxResponse
	}
	return &HTTPTransport{client: client, maxBody: maxBody, breakers: newBreakerSet(cfg.Breaker)}
}

// loadCertsFromDir adiciona ao pool os .crt e .pem do diretório, exceto chaves.
func loadCertsFromDir(pool *x509.CertPool, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.Contains(name, "key.pem") {
			continue
		}
		if !strings.HasSuffix(name, ".crt") && !strings.HasSuffix(name, ".pem") {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("arquivo", path).Msg("sefaz: CA ignorada")
			continue
		}
		if !pool.AppendCertsFromPEM(data) {
			log.Warn().Str("arquivo", path).Msg("sefaz: CA em formato inválido")
		}
	}
	return nil
}

// BreakerStates estado do circuito por host, para o health check.
func (t *HTTPTransport) BreakerStates() map[string]BreakerState { return t.breakers.states() }

// Call implementa Transport.
func (t *HTTPTransport) Call(ctx context.Context, endpoint string, svc nfe.Service, payload *etree.Element) ([]byte, error) {
	op := string(svc)
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, &domain.CommunicationError{Op: op, Err: fmt.Errorf("url inválida %q", endpoint)}
	}
	envelope, err := buildEnvelope(svc, payload)
	if err != nil {
		return nil, fmt.Errorf("soap: serializar envelope: %w", err)
	}

	var (
		body    []byte
		callErr error
	)
	err = t.breakers.get(u.Host).Execute(func() error {
		body, callErr = t.post(ctx, endpoint, svc, envelope)
		if callErr != nil && ctx.Err() != nil {
			return nil // cancelamento do chamador não conta contra o host
		}
		return callErr
	})
	if errors.Is(err, domain.ErrCircuitOpen) {
		return nil, &domain.CommunicationError{Op: op, Err: err}
	}
	return body, callErr
}

func (t *HTTPTransport) post(ctx context.Context, endpoint string, svc nfe.Service, envelope []byte) ([]byte, error) {
	op := string(svc)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(envelope))
	if err != nil {
		return nil, &domain.CommunicationError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", `application/soap+xml; charset=utf-8; action="`+svc.Action()+`"`)

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &domain.CommunicationError{Op: op, Err: ctx.Err()}
		}
		return nil, &domain.CommunicationError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody))
	if err != nil {
		return nil, &domain.CommunicationError{Op: op, Err: fmt.Errorf("ler resposta: %w", err)}
	}
	log.Debug().
		Str("servico", op).
		Str("url", endpoint).
		Int("http_status", resp.StatusCode).
		Dur("duracao", time.Since(start)).
		Msg("sefaz: chamada concluída")

	if resp.StatusCode != http.StatusOK {
		if ferr := parseFault(body); ferr != nil {
			return nil, ferr
		}
		return nil, &domain.CommunicationError{Op: op, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}
	return body, nil
}

// buildEnvelope monta soap12:Envelope/Body/nfeDadosMsg sem quebras de linha.
func buildEnvelope(svc nfe.Service, payload *etree.Element) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := doc.CreateElement("soap12:Envelope")
	env.CreateAttr("xmlns:xsi", nsXSI)
	env.CreateAttr("xmlns:xsd", nsXSD)
	env.CreateAttr("xmlns:soap12", nsSOAP12)

	msg := env.CreateElement("soap12:Body").CreateElement("nfeDadosMsg")
	msg.CreateAttr("xmlns", svc.Namespace())
	msg.AddChild(payload.Copy())
	return doc.WriteToBytes()
}

// parseFault devolve o SOAP Fault do corpo como CommunicationError, ou nil.
func parseFault(body []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}
		if start, ok := tok.(xml.StartElement); ok && start.Name.Local == "Fault" {
			var f soapFault
			if err := dec.DecodeElement(&f, &start); err != nil {
				return &domain.CommunicationError{Op: "soap fault", Err: err}
			}
			return &domain.CommunicationError{Op: "soap fault", Err: f.err()}
		}
	}
}
