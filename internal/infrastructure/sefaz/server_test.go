package sefaz_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/sefaz"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/sefaz/signer"
	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
	"github.com/stretchr/testify/require"
)

// reply resposta HTTP canônica de um serviço; call começa em 1.
type reply func(call int, body string) (status int, payload string)

// fakeSEFAZ servidor httptest que responde por serviço, identificado pelo
// action do Content-Type.
type fakeSEFAZ struct {
	t   *testing.T
	srv *httptest.Server

	mu      sync.Mutex
	replies map[nfe.Service]reply
	calls   map[nfe.Service]int
	bodies  map[nfe.Service]string
	ctypes  map[nfe.Service]string
}

func newFakeSEFAZ(t *testing.T) *fakeSEFAZ {
	t.Helper()
	f := &fakeSEFAZ{
		t:       t,
		replies: map[nfe.Service]reply{},
		calls:   map[nfe.Service]int{},
		bodies:  map[nfe.Service]string{},
		ctypes:  map[nfe.Service]string{},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeSEFAZ) on(svc nfe.Service, r reply) { f.replies[svc] = r }

func (f *fakeSEFAZ) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	ct := r.Header.Get("Content-Type")

	var svc nfe.Service
	for _, s := range []nfe.Service{nfe.ServiceAuthorization, nfe.ServiceReceipt, nfe.ServiceQuery, nfe.ServiceVoid, nfe.ServiceStatus, nfe.ServiceEvent} {
		if strings.Contains(ct, `action="`+s.Action()+`"`) {
			svc = s
		}
	}

	f.mu.Lock()
	f.calls[svc]++
	call := f.calls[svc]
	f.bodies[svc] = string(body)
	f.ctypes[svc] = ct
	rep := f.replies[svc]
	f.mu.Unlock()

	if rep == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	status, payload := rep(call, string(body))
	w.Header().Set("Content-Type", "application/soap+xml; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, payload)
}

func (f *fakeSEFAZ) count(svc nfe.Service) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[svc]
}

func (f *fakeSEFAZ) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeSEFAZ) body(svc nfe.Service) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[svc]
}

func (f *fakeSEFAZ) ctype(svc nfe.Service) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctypes[svc]
}

// endpoints aponta todos os serviços do autorizador de SP em homologação
// para o servidor fake.
func (f *fakeSEFAZ) endpoints() *sefaz.EndpointTable {
	table := sefaz.DefaultEndpoints()
	for _, svc := range []nfe.Service{nfe.ServiceAuthorization, nfe.ServiceReceipt, nfe.ServiceQuery, nfe.ServiceVoid, nfe.ServiceStatus, nfe.ServiceEvent} {
		table.SetURL(sefaz.AuthorizerSP, nfe.EnvironmentHomologation, svc, f.srv.URL+"/"+string(svc))
	}
	return table
}

var testClock = time.Date(2024, 10, 16, 9, 0, 0, 0, brt)

func (f *fakeSEFAZ) client(cfg sefaz.ClientConfig, tcfg sefaz.TransportConfig) *sefaz.Client {
	cfg.Environment = nfe.EnvironmentHomologation
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	if cfg.MaxPollInterval == 0 {
		cfg.MaxPollInterval = 20 * time.Millisecond
	}
	transport := sefaz.NewHTTPTransportWithClient(f.srv.Client(), tcfg)
	sig := signer.NewDigitalSignatureService(testCert(f.t))
	return sefaz.NewClient(transport, f.endpoints(), sig, cfg, sefaz.WithClientClock(func() time.Time { return testClock }))
}

// ── respostas canônicas ──────────────────────────────────────────────────────

func soapOK(svc nfe.Service, inner string) string {
	return `<?xml version="1.0" encoding="utf-8"?>` +
		`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body>` +
		`<nfeResultMsg xmlns="` + svc.Namespace() + `">` + inner + `</nfeResultMsg>` +
		`</soap:Body></soap:Envelope>`
}

func soapFault(reason string) string {
	return `<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body><soap:Fault>` +
		`<soap:Code><soap:Value>soap:Receiver</soap:Value></soap:Code>` +
		`<soap:Reason><soap:Text xml:lang="pt-BR">` + reason + `</soap:Text></soap:Reason>` +
		`</soap:Fault></soap:Body></soap:Envelope>`
}

const testReceipt = "351000000000001"

func retEnviNFe(cStat int, motivo, inner string) string {
	return soapOK(nfe.ServiceAuthorization, `<retEnviNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">`+
		`<tpAmb>2</tpAmb><verAplic>SP_NFE_PL009_V4</verAplic><cStat>`+itoa(cStat)+`</cStat><xMotivo>`+motivo+`</xMotivo>`+
		`<cUF>35</cUF><dhRecbto>2024-10-15T10:31:00-03:00</dhRecbto>`+inner+`</retEnviNFe>`)
}

func infRec(tMed int) string {
	return `<infRec><nRec>` + testReceipt + `</nRec><tMed>` + itoa(tMed) + `</tMed></infRec>`
}

func protNFe(key string, cStat int, motivo string) string {
	return `<protNFe versao="4.00"><infProt><tpAmb>2</tpAmb><verAplic>SP_NFE_PL009_V4</verAplic>` +
		`<chNFe>` + key + `</chNFe><dhRecbto>2024-10-15T10:31:05-03:00</dhRecbto>` +
		`<nProt>135240000000001</nProt><digVal>q1w2e3r4t5y6u7i8o9p0a1s2d3f=</digVal>` +
		`<cStat>` + itoa(cStat) + `</cStat><xMotivo>` + motivo + `</xMotivo></infProt></protNFe>`
}

func retConsReciNFe(cStat int, motivo, inner string) string {
	return soapOK(nfe.ServiceReceipt, `<retConsReciNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">`+
		`<tpAmb>2</tpAmb><verAplic>SP_NFE_PL009_V4</verAplic><nRec>`+testReceipt+`</nRec>`+
		`<cStat>`+itoa(cStat)+`</cStat><xMotivo>`+motivo+`</xMotivo><cUF>35</cUF>`+
		`<dhRecbto>2024-10-15T10:31:05-03:00</dhRecbto>`+inner+`</retConsReciNFe>`)
}

func retEvento(key, tpEvento string, seq, cStat int, motivo string) string {
	return `<retEvento versao="1.00"><infEvento Id="ID135240000000099"><tpAmb>2</tpAmb>` +
		`<verAplic>SP_EVENTOS_PL_100</verAplic><cOrgao>35</cOrgao><cStat>` + itoa(cStat) + `</cStat>` +
		`<xMotivo>` + motivo + `</xMotivo><chNFe>` + key + `</chNFe><tpEvento>` + tpEvento + `</tpEvento>` +
		`<xEvento>Cancelamento registrado</xEvento><nSeqEvento>` + itoa(seq) + `</nSeqEvento>` +
		`<dhRegEvento>2024-10-16T09:00:02-03:00</dhRegEvento><nProt>135240000000099</nProt></infEvento></retEvento>`
}

func retEnvEvento(inner string) string {
	return soapOK(nfe.ServiceEvent, `<retEnvEvento xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.00">`+
		`<idLote>1</idLote><tpAmb>2</tpAmb><verAplic>SP_EVENTOS_PL_100</verAplic><cOrgao>35</cOrgao>`+
		`<cStat>128</cStat><xMotivo>Lote de Evento Processado</xMotivo>`+inner+`</retEnvEvento>`)
}

func itoa(n int) string {
	const digits = "0123456789"
	if n == 0 {
		return "0"
	}
	var b []byte
	for ; n > 0; n /= 10 {
		b = append([]byte{digits[n%10]}, b...)
	}
	return string(b)
}

// signedNFe monta e assina (assinatura irmã de infNFe) a NF-e padrão dos testes.
func signedNFe(t *testing.T) (key string, xml []byte) {
	t.Helper()
	_, res := buildSimple(t)
	signed, err := signer.NewDigitalSignatureService(testCert(t)).SignWithPlacement(res.XML, res.ID, signer.PlacementSibling)
	require.NoError(t, err)
	return res.AccessKey, signed
}

func background(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
