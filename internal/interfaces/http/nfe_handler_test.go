package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/faturamento-nfe/internal/application/billing"
	"github.com/jhoicas/faturamento-nfe/internal/application/dto"
	"github.com/jhoicas/faturamento-nfe/internal/domain"
	apphttp "github.com/jhoicas/faturamento-nfe/internal/interfaces/http"
)

// ── Casos de uso falsos ──────────────────────────────────────────────────────

type fakeBilling struct {
	err       error
	calls     []string
	gotGen    dto.GenerateNFeRequest
	gotCancel dto.CancelNFeRequest
	gotVoid   dto.VoidNumberRangeRequest
	company   string
	user      string
}

func (f *fakeBilling) record(op, companyID, userID string) {
	f.calls = append(f.calls, op)
	f.company, f.user = companyID, userID
}

func (f *fakeBilling) op(id string) (*dto.NFeOperationResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &dto.NFeOperationResponse{NFe: dto.NFeResponse{ID: id, Status: "pendente"}}, nil
}

func (f *fakeBilling) Generate(_ context.Context, companyID, userID string, in dto.GenerateNFeRequest) (*dto.NFeOperationResponse, error) {
	f.record("generate", companyID, userID)
	f.gotGen = in
	return f.op("nfe-1")
}

func (f *fakeBilling) Authorize(_ context.Context, companyID, nfeID, userID string) (*dto.NFeOperationResponse, error) {
	f.record("authorize", companyID, userID)
	return f.op(nfeID)
}

func (f *fakeBilling) Submit(_ context.Context, companyID, nfeID, userID string) (*dto.NFeOperationResponse, error) {
	f.record("submit", companyID, userID)
	out, err := f.op(nfeID)
	if out != nil {
		out.Queued = true
	}
	return out, err
}

func (f *fakeBilling) Cancel(_ context.Context, companyID, nfeID, userID string, in dto.CancelNFeRequest) (*dto.EventResponse, error) {
	f.record("cancel", companyID, userID)
	f.gotCancel = in
	if f.err != nil {
		return nil, f.err
	}
	return &dto.EventResponse{NFeID: nfeID, Type: "110111", Sequence: 1, Status: "registrado", StatusCode: 135}, nil
}

func (f *fakeBilling) CorrectionLetter(_ context.Context, companyID, nfeID, userID string, _ dto.CorrectionLetterRequest) (*dto.EventResponse, error) {
	f.record("cce", companyID, userID)
	if f.err != nil {
		return nil, f.err
	}
	return &dto.EventResponse{NFeID: nfeID, Type: "110110", Sequence: 1, Status: "registrado", StatusCode: 135}, nil
}

func (f *fakeBilling) VoidNumberRange(_ context.Context, companyID, userID string, in dto.VoidNumberRangeRequest) (*dto.VoidResponse, error) {
	f.record("void", companyID, userID)
	f.gotVoid = in
	if f.err != nil {
		return nil, f.err
	}
	return &dto.VoidResponse{Series: in.Series, Start: in.Start, End: in.End, Status: "registrado", StatusCode: 102}, nil
}

func (f *fakeBilling) Get(_ context.Context, companyID, nfeID string) (*dto.NFeResponse, error) {
	f.record("get", companyID, "")
	if f.err != nil {
		return nil, f.err
	}
	return &dto.NFeResponse{ID: nfeID, Status: "autorizada"}, nil
}

func (f *fakeBilling) Sync(_ context.Context, companyID, nfeID, userID string) (*dto.NFeOperationResponse, error) {
	f.record("sync", companyID, userID)
	return f.op(nfeID)
}

func (f *fakeBilling) ServiceStatus(_ context.Context, uf string) (*dto.ServiceStatusResponse, error) {
	f.record("status", "", "")
	if f.err != nil {
		return nil, f.err
	}
	return &dto.ServiceStatusResponse{UF: strings.ToUpper(uf), Online: true, StatusCode: 107}, nil
}

func (f *fakeBilling) DownloadXML(_ context.Context, companyID, nfeID string) (*dto.FileResponse, error) {
	f.record("xml", companyID, "")
	if f.err != nil {
		return nil, f.err
	}
	return &dto.FileResponse{Filename: nfeID + "-procNFe.xml", ContentType: "application/xml", Content: []byte("<nfeProc/>")}, nil
}

func (f *fakeBilling) DownloadDANFE(_ context.Context, companyID, nfeID string) (*dto.FileResponse, error) {
	f.record("danfe", companyID, "")
	if f.err != nil {
		return nil, f.err
	}
	return &dto.FileResponse{Filename: nfeID + ".pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.4")}, nil
}

type fakeAuth struct{ err error }

func (f fakeAuth) RegisterUser(_ context.Context, companyID string, in dto.RegisterRequest) (*dto.UserResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &dto.UserResponse{ID: "usr-9", CompanyID: companyID, Email: in.Email, Role: in.Role}, nil
}

func (f fakeAuth) Login(_ context.Context, in dto.LoginRequest) (*dto.LoginResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &dto.LoginResponse{Token: "tok", User: dto.UserResponse{Email: in.Email}}, nil
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func newRouter(f *fakeBilling, async bool) *fiber.App {
	app := fiber.New()
	deps := apphttp.RouterDeps{
		Auth:      fakeAuth{},
		Generate:  f,
		Authorize: f,
		Events:    f,
		Query:     f,
		JWTSecret: testJWTSecret,
	}
	if async {
		deps.AsyncAuthorize = f
	}
	apphttp.Router(app, deps)
	return app
}

func call(t *testing.T, app *fiber.App, method, path, role, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("Authorization", tokenForRole(t, role))
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func errorCode(t *testing.T, raw []byte) string {
	t.Helper()
	var e dto.ErrorResponse
	require.NoError(t, json.Unmarshal(raw, &e), "corpo: %s", raw)
	return e.Code
}

// ── Rotas ────────────────────────────────────────────────────────────────────

func TestGenerate_Retorna201ComUsuarioDoToken(t *testing.T) {
	f := &fakeBilling{}
	app := newRouter(f, false)

	resp, raw := call(t, app, http.MethodPost, "/api/nfe", "faturista", `{"order_id":"ped-1","reserve_stock":false,"installments":3}`)

	require.Equal(t, http.StatusCreated, resp.StatusCode, "corpo: %s", raw)
	assert.Equal(t, []string{"generate"}, f.calls)
	assert.Equal(t, testCompanyID, f.company)
	assert.Equal(t, testUserID, f.user)
	assert.Equal(t, "ped-1", f.gotGen.OrderID)
	require.NotNil(t, f.gotGen.ReserveStock)
	assert.False(t, *f.gotGen.ReserveStock)
	assert.Nil(t, f.gotGen.ValidateStock)
	assert.Equal(t, 3, f.gotGen.Installments)
}

func TestGenerate_SemPedidoRetorna422(t *testing.T) {
	f := &fakeBilling{}
	app := newRouter(f, false)

	resp, raw := call(t, app, http.MethodPost, "/api/nfe", "faturista", `{}`)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "VALIDATION", errorCode(t, raw))
	assert.Contains(t, string(raw), "order_id")
	assert.Empty(t, f.calls)
}

func TestGenerate_CorpoInvalidoRetorna400(t *testing.T) {
	app := newRouter(&fakeBilling{}, false)

	resp, raw := call(t, app, http.MethodPost, "/api/nfe", "admin", `{"order_id":`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_BODY", errorCode(t, raw))
}

func TestGenerate_ConsultaNaoEmite(t *testing.T) {
	f := &fakeBilling{}
	app := newRouter(f, false)

	resp, _ := call(t, app, http.MethodPost, "/api/nfe", "consulta", `{"order_id":"ped-1"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, f.calls)
}

func TestGenerate_EstoqueInsuficienteRetorna422ComFaltas(t *testing.T) {
	f := &fakeBilling{err: &billing.StockShortageError{Shortages: []billing.StockShortage{{
		ProductID: "prod-1", SKU: "P001", Required: decimal.NewFromInt(10), Available: decimal.NewFromInt(4),
	}}}}
	app := newRouter(f, false)

	resp, raw := call(t, app, http.MethodPost, "/api/nfe", "faturista", `{"order_id":"ped-1"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "INSUFFICIENT_STOCK", errorCode(t, raw))
	assert.Contains(t, string(raw), "P001")
}

func TestAuthorize_SincronoOuEnfileirado(t *testing.T) {
	f := &fakeBilling{}
	app := newRouter(f, true)

	resp, _ := call(t, app, http.MethodPost, "/api/nfe/nfe-1/authorize", "faturista", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := call(t, app, http.MethodPost, "/api/nfe/nfe-1/authorize?async=true", "faturista", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	var out dto.NFeOperationResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.True(t, out.Queued)

	assert.Equal(t, []string{"authorize", "submit"}, f.calls)
}

func TestAuthorize_AsyncSemFilaUsaSincrono(t *testing.T) {
	f := &fakeBilling{}
	app := newRouter(f, false)

	resp, _ := call(t, app, http.MethodPost, "/api/nfe/nfe-1/authorize?async=true", "admin", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"authorize"}, f.calls)
}

func TestCancel_JustificativaCurtaNaoChegaAoCasoDeUso(t *testing.T) {
	f := &fakeBilling{}
	app := newRouter(f, false)

	resp, _ := call(t, app, http.MethodPost, "/api/nfe/nfe-1/cancel", "faturista", `{"justification":"curta"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Empty(t, f.calls)

	resp, raw := call(t, app, http.MethodPost, "/api/nfe/nfe-1/cancel", "faturista", `{"justification":"Erro na digitação do pedido do cliente"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, "corpo: %s", raw)
	assert.Equal(t, "Erro na digitação do pedido do cliente", f.gotCancel.Justification)
}

func TestVoidNumberRange_FaixaInvertidaRetorna422(t *testing.T) {
	f := &fakeBilling{}
	app := newRouter(f, false)

	resp, _ := call(t, app, http.MethodPost, "/api/nfe/inutilizacao", "admin", `{"series":1,"start":10,"end":5,"justification":"Falha no sistema de numeração"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Empty(t, f.calls)

	resp, _ = call(t, app, http.MethodPost, "/api/nfe/inutilizacao", "admin", `{"series":1,"start":5,"end":10,"justification":"Falha no sistema de numeração"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 10, f.gotVoid.End)
}

func TestDownload_CabecalhosDeArquivo(t *testing.T) {
	app := newRouter(&fakeBilling{}, false)

	resp, raw := call(t, app, http.MethodGet, "/api/nfe/nfe-1/xml", "consulta", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/xml", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="nfe-1-procNFe.xml"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "<nfeProc/>", string(raw))

	resp, raw = call(t, app, http.MethodGet, "/api/nfe/nfe-1/danfe", "consulta", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Equal(t, "%PDF-1.4", string(raw))
}

func TestServiceStatus_QualquerPapel(t *testing.T) {
	f := &fakeBilling{}
	app := newRouter(f, false)

	resp, raw := call(t, app, http.MethodGet, "/api/sefaz/status/sp", "consulta", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out dto.ServiceStatusResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "SP", out.UF)
	assert.True(t, out.Online)
}

func TestRotas_SemTokenRetorna401(t *testing.T) {
	f := &fakeBilling{}
	app := newRouter(f, false)

	resp, _ := call(t, app, http.MethodGet, "/api/nfe/nfe-1", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, f.calls)
}

// ── Mapeamento de erros ──────────────────────────────────────────────────────

func TestErros_MapeadosParaStatusHTTP(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.NewValidationError("status", "nf-e já cancelada"), http.StatusBadRequest, "VALIDATION"},
		{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{domain.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{fmt.Errorf("%w: status autorizada", domain.ErrAlreadySubmitted), http.StatusConflict, "ALREADY_SUBMITTED"},
		{domain.ErrInFlight, http.StatusConflict, "IN_FLIGHT"},
		{fmt.Errorf("transição: %w", domain.ErrInvalidTransition), http.StatusConflict, "CONFLICT"},
		{&domain.CommunicationError{Op: "enviar lote", Err: context.DeadlineExceeded}, http.StatusBadGateway, "SEFAZ_COMMUNICATION"},
		{domain.ErrCircuitOpen, http.StatusServiceUnavailable, "SEFAZ_UNAVAILABLE"},
		{&domain.CertificateError{Op: "carregar", Err: domain.ErrCertificateExpired}, http.StatusInternalServerError, "CERTIFICATE"},
		{&domain.SignatureError{Op: "assinar", Err: domain.ErrTagNotFound}, http.StatusInternalServerError, "SIGNATURE"},
		{fmt.Errorf("pgx: conexão recusada"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		app := newRouter(&fakeBilling{err: tc.err}, false)
		resp, raw := call(t, app, http.MethodGet, "/api/nfe/nfe-1", "admin", "")
		assert.Equal(t, tc.status, resp.StatusCode, "erro %v", tc.err)
		assert.Equal(t, tc.code, errorCode(t, raw), "erro %v", tc.err)
	}
}

func TestErroInterno_NaoVazaMensagem(t *testing.T) {
	app := newRouter(&fakeBilling{err: fmt.Errorf("pgx: senha do banco: hunter2")}, false)

	_, raw := call(t, app, http.MethodGet, "/api/nfe/nfe-1", "admin", "")
	assert.NotContains(t, string(raw), "hunter2")
}

// ── Auth ─────────────────────────────────────────────────────────────────────

func TestLogin_Publico(t *testing.T) {
	app := newRouter(&fakeBilling{}, false)

	resp, raw := call(t, app, http.MethodPost, "/api/auth/login", "", `{"email":"fiscal@exemplo.com.br","password":"senha-forte"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, "corpo: %s", raw)
	var out dto.LoginResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "tok", out.Token)
}

func TestLogin_EmailInvalidoRetorna422(t *testing.T) {
	app := newRouter(&fakeBilling{}, false)

	resp, _ := call(t, app, http.MethodPost, "/api/auth/login", "", `{"email":"nao-e-email","password":"x"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestRegister_SomenteAdmin(t *testing.T) {
	app := newRouter(&fakeBilling{}, false)
	body := `{"email":"novo@exemplo.com.br","password":"senha-forte","role":"faturista"}`

	resp, _ := call(t, app, http.MethodPost, "/api/auth/users", "faturista", body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, raw := call(t, app, http.MethodPost, "/api/auth/users", "admin", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "corpo: %s", raw)
	var out dto.UserResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, testCompanyID, out.CompanyID)
}

func TestRegister_PapelDesconhecidoRetorna422(t *testing.T) {
	app := newRouter(&fakeBilling{}, false)

	resp, _ := call(t, app, http.MethodPost, "/api/auth/users", "admin", `{"email":"novo@exemplo.com.br","password":"senha-forte","role":"vendedor"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}
