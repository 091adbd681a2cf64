package billing_test

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jhoicas/faturamento-nfe/internal/application/billing"
	"github.com/jhoicas/faturamento-nfe/internal/application/dto"
	"github.com/jhoicas/faturamento-nfe/internal/application/financial"
	"github.com/jhoicas/faturamento-nfe/internal/application/inventory"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/domain/fiscal"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/memory"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/queue"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/sefaz"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/sefaz/signer"
	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	companyID = "emp-1"
	orderID   = "ped-1"
	userID    = "usr-1"
	productID = "prod-1"
	seriesID  = "serie-1"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ── SEFAZ falsa ──────────────────────────────────────────────────────────────

type fakeSEFAZ struct {
	mu     sync.Mutex
	calls  map[string]int
	signed [][]byte
	seqs   []int

	onAuthorize func(signed []byte) (*sefaz.Authorization, error)
	onPoll      func(receipt string) (*sefaz.ReceiptResult, error)
	onQuery     func(key string) (*sefaz.QueryResult, error)
	onCancel    func(key, protocol, justification string) (*sefaz.EventOutcome, error)
	onCCe       func(key, text string, seq int) (*sefaz.EventOutcome, error)
	onVoid      func(v sefaz.VoidRange) (*sefaz.VoidOutcome, error)
	onStatus    func(uf string) (*sefaz.StatusResult, error)
}

var _ billing.SEFAZClient = (*fakeSEFAZ)(nil)

func newFakeSEFAZ() *fakeSEFAZ {
	f := &fakeSEFAZ{calls: map[string]int{}}
	f.onAuthorize = func(signed []byte) (*sefaz.Authorization, error) {
		key := accessKeyOf(signed)
		return authorized(signed, protocol(key, nfe.StatusAuthorized)), nil
	}
	return f
}

func (f *fakeSEFAZ) hit(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
}

func (f *fakeSEFAZ) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeSEFAZ) Authorize(_ context.Context, signed []byte, _ string) (*sefaz.Authorization, error) {
	f.hit("authorize")
	f.mu.Lock()
	f.signed = append(f.signed, append([]byte(nil), signed...))
	f.mu.Unlock()
	return f.onAuthorize(signed)
}

func (f *fakeSEFAZ) PollReceipt(_ context.Context, receipt, _ string, _ time.Duration) (*sefaz.ReceiptResult, error) {
	f.hit("poll")
	if f.onPoll == nil {
		return nil, fmt.Errorf("poll não esperado")
	}
	return f.onPoll(receipt)
}

func (f *fakeSEFAZ) Query(_ context.Context, key, _ string) (*sefaz.QueryResult, error) {
	f.hit("query")
	if f.onQuery == nil {
		return nil, fmt.Errorf("consulta não esperada")
	}
	return f.onQuery(key)
}

func (f *fakeSEFAZ) Cancel(_ context.Context, key, protocol, justification, _, _ string) (*sefaz.EventOutcome, error) {
	f.hit("cancel")
	if f.onCancel == nil {
		return eventOutcome(nfe.StatusEventRegistered, nfe.EventCancellation, 1), nil
	}
	return f.onCancel(key, protocol, justification)
}

func (f *fakeSEFAZ) CorrectionLetter(_ context.Context, key, text, _, _ string, seq int) (*sefaz.EventOutcome, error) {
	f.hit("cce")
	f.mu.Lock()
	f.seqs = append(f.seqs, seq)
	f.mu.Unlock()
	if f.onCCe == nil {
		return eventOutcome(nfe.StatusEventRegistered, nfe.EventCorrectionLetter, seq), nil
	}
	return f.onCCe(key, text, seq)
}

func (f *fakeSEFAZ) VoidNumberRange(_ context.Context, v sefaz.VoidRange) (*sefaz.VoidOutcome, error) {
	f.hit("void")
	if f.onVoid == nil {
		return &sefaz.VoidOutcome{VoidResult: &sefaz.VoidResult{
			Response: sefaz.Response{CStat: nfe.StatusVoided, XMotivo: "Inutilização de número homologado"},
			ID:       v.ID(), Protocol: "135260000000099",
		}}, nil
	}
	return f.onVoid(v)
}

func (f *fakeSEFAZ) ServiceStatus(_ context.Context, uf string) (*sefaz.StatusResult, error) {
	f.hit("status")
	if f.onStatus == nil {
		return &sefaz.StatusResult{Response: sefaz.Response{
			Environment: nfe.EnvironmentHomologation, CStat: nfe.StatusServiceRunning,
			XMotivo: "Serviço em Operação", ReceivedAt: fixedNow,
		}, AvgTime: time.Second}, nil
	}
	return f.onStatus(uf)
}

// ── Retornos ─────────────────────────────────────────────────────────────────

func protocol(key string, cstat int) *sefaz.Protocol {
	raw := fmt.Sprintf(`<protNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00"><infProt><tpAmb>2</tpAmb><chNFe>%s</chNFe><nProt>135260000000001</nProt><cStat>%d</cStat><xMotivo>retorno</xMotivo></infProt></protNFe>`, key, cstat)
	return &sefaz.Protocol{
		Environment: nfe.EnvironmentHomologation,
		AccessKey:   key,
		ReceivedAt:  fixedNow,
		Number:      "135260000000001",
		CStat:       cstat,
		XMotivo:     "retorno",
		Raw:         []byte(raw),
	}
}

func authorized(signed []byte, p *sefaz.Protocol) *sefaz.Authorization {
	auth := &sefaz.Authorization{AccessKey: p.AccessKey, Receipt: "351000000000001", Protocol: p,
		Last: sefaz.Response{CStat: p.CStat, XMotivo: p.XMotivo}}
	if p.Authorized() {
		proc, err := sefaz.ComposeNFeProc(signed, p)
		if err != nil {
			panic(err)
		}
		auth.ProcXML = proc
	}
	return auth
}

func eventOutcome(cstat int, eventType string, seq int) *sefaz.EventOutcome {
	return &sefaz.EventOutcome{EventResult: &sefaz.EventResult{
		Response:     sefaz.Response{CStat: cstat, XMotivo: "Evento processado"},
		BatchCStat:   nfe.StatusEventBatchProcessed,
		Type:         eventType,
		Sequence:     seq,
		Protocol:     "135260000000050",
		RegisteredAt: fixedNow,
	}}
}

// accessKeyOf extrai a chave do atributo Id="NFe...".
func accessKeyOf(xml []byte) string {
	i := bytes.Index(xml, []byte(`Id="NFe`))
	if i < 0 {
		return ""
	}
	start := i + len(`Id="NFe`)
	return string(xml[start : start+44])
}

// ── Assinatura, DANFE e e-mail falsos ────────────────────────────────────────

type fakeSigner struct{ err error }

func (f fakeSigner) SignWithPlacement(xml []byte, _ string, _ signer.Placement) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	sig := []byte(`<Signature xmlns="http://www.w3.org/2000/09/xmldsig#"></Signature></NFe>`)
	return bytes.Replace(xml, []byte("</NFe>"), sig, 1), nil
}

type fakeValidator struct{ err error }

func (f fakeValidator) ValidateNFe([]byte) error { return f.err }

type fakeRenderer struct{}

func (fakeRenderer) Render(d billing.DANFEData) ([]byte, error) {
	return []byte("%PDF-" + d.NFe.AccessKey), nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *fakeMailer) SendAuthorized(_ context.Context, to, key string, _, _ []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to+"|"+key)
	return nil
}

type fakeQueue struct{ jobs []billing.AuthorizationJob }

func (q *fakeQueue) Enqueue(_ context.Context, job billing.AuthorizationJob) error {
	q.jobs = append(q.jobs, job)
	return nil
}

// ── Ambiente ─────────────────────────────────────────────────────────────────

type env struct {
	store  *memory.Store
	sefaz  *fakeSEFAZ
	mailer *fakeMailer
	lock   *queue.LocalLock
	deps   billing.Dependencies

	generate  *billing.GenerateNFeUseCase
	authorize *billing.AuthorizeNFeUseCase
	events    *billing.EventUseCase
	query     *billing.QueryUseCase
}

// newEnv emitente SP regime normal, destinatário SP contribuinte, pedido de
// 10 x 100,00 com 50 unidades em estoque e série 1 começando em 1.
func newEnv(t *testing.T, opts ...func(*billing.Dependencies)) *env {
	t.Helper()
	store := memory.NewStore()
	store.PutCompany(entity.Company{
		ID: companyID, Name: "Indústria Exemplo Ltda", CNPJ: "12345678000195", IE: "123456789110",
		TaxRegime: int(nfe.RegimeNormal),
		Address: entity.Address{
			Street: "Rua das Flores", Number: "100", District: "Centro",
			CityCode: "3550308", CityName: "São Paulo", UF: "SP", ZipCode: "01001000",
		},
	})
	store.PutCustomer(entity.Customer{
		ID: "cli-1", CompanyID: companyID, Name: "Comércio Destino SA", CNPJ: "98765432000110", IE: "111222333444",
		Email: "fiscal@destino.com.br",
		Address: entity.Address{
			Street: "Av. Paulista", Number: "2000", District: "Bela Vista",
			CityCode: "3550308", CityName: "São Paulo", UF: "SP", ZipCode: "01310000",
		},
	})
	store.PutProduct(entity.Product{
		ID: productID, CompanyID: companyID, SKU: "P001", Name: "Parafuso sextavado", NCM: "73181500",
		Unit: "UN", Price: d("100"), CST: "00", PISCST: "01", COFINSCST: "01",
	})
	store.PutStock(entity.Stock{CompanyID: companyID, ProductID: productID, Quantity: d("50"), Reserved: decimal.Zero})
	store.PutSeries(entity.NFeSeries{ID: seriesID, CompanyID: companyID, Model: nfe.ModelNFe, Series: 1, NextNumber: 1, IsActive: true})
	store.PutOrder(entity.Order{
		ID: orderID, CompanyID: companyID, CustomerID: "cli-1", Number: "1001", Status: entity.OrderStatusOpen,
		OperationNature: "Venda de mercadoria", CFOP: "5102",
		Payments: []entity.Payment{{Method: "15", Amount: d("1000")}},
		Items:    []entity.OrderItem{{ID: "it-1", ProductID: productID, Quantity: d("10"), UnitPrice: d("100")}},
	})

	clock := func() time.Time { return fixedNow }
	repos := store.Repositories()
	fake := newFakeSEFAZ()
	mailer := &fakeMailer{}
	lock := queue.NewLocalLock()
	deps := billing.Dependencies{
		TxRunner:  store,
		NFes:      repos.NFe,
		Orders:    repos.Orders,
		Companies: store.Companies(),
		Customers: store.Customers(),
		Products:  store.Products(),
		Events:    repos.Events,
		Inventory: inventory.NewStockService(store, repos.Orders, repos.Stock, store.Products()).WithClock(clock),
		Financial: financial.NewReceivablesService(store).WithClock(clock),
		SEFAZ:     fake,
		Signer:    fakeSigner{},
		Lock:      lock,
		DANFE:     fakeRenderer{},
		Mailer:    mailer,
		Now:       clock,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	builder := sefaz.NewXMLBuilderService()
	return &env{
		store:     store,
		sefaz:     fake,
		mailer:    mailer,
		lock:      lock,
		deps:      deps,
		generate:  billing.NewGenerateNFeUseCase(deps, fiscal.NewTaxEngine(nil), builder, nfe.EnvironmentHomologation),
		authorize: billing.NewAuthorizeNFeUseCase(deps),
		events:    billing.NewEventUseCase(deps),
		query:     billing.NewQueryUseCase(deps),
	}
}

func (e *env) generated(t *testing.T) *dto.NFeOperationResponse {
	t.Helper()
	res, err := e.generate.Generate(context.Background(), companyID, userID, dto.GenerateNFeRequest{OrderID: orderID})
	require.NoError(t, err)
	return res
}

// approved gera e autoriza a nota do pedido.
func (e *env) approved(t *testing.T) *entity.NFe {
	t.Helper()
	gen := e.generated(t)
	res, err := e.authorize.Authorize(context.Background(), companyID, gen.NFe.ID, userID)
	require.NoError(t, err)
	require.Equal(t, entity.NFeStatusApproved, res.NFe.Status)
	return e.nfe(t, gen.NFe.ID)
}

func (e *env) nfe(t *testing.T, id string) *entity.NFe {
	t.Helper()
	n, err := e.deps.NFes.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, n)
	return n
}

func (e *env) order(t *testing.T) *entity.Order {
	t.Helper()
	o, err := e.deps.Orders.GetByID(context.Background(), orderID)
	require.NoError(t, err)
	return o
}

func (e *env) stock(t *testing.T) *entity.Stock {
	t.Helper()
	st, err := e.store.Repositories().Stock.Get(context.Background(), companyID, productID)
	require.NoError(t, err)
	return st
}

func (e *env) receivable(t *testing.T, nfeID string) *entity.Receivable {
	t.Helper()
	r, err := e.store.Repositories().Receivables.GetByNFe(context.Background(), nfeID)
	require.NoError(t, err)
	return r
}
