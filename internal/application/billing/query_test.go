package billing_test

import (
	"context"
	"testing"

	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/sefaz"
	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pendingWithReceipt gera e envia a nota, deixando-a pendente com recibo.
func (e *env) pendingWithReceipt(t *testing.T) *entity.NFe {
	t.Helper()
	e.sefaz.onAuthorize = func(signed []byte) (*sefaz.Authorization, error) {
		return &sefaz.Authorization{
				AccessKey: accessKeyOf(signed),
				Receipt:   "351000000000077",
				Last:      sefaz.Response{CStat: nfe.StatusBatchReceived, XMotivo: "Lote recebido com sucesso"},
			}, &domain.CommunicationError{Op: "consultar recibo", Err: context.DeadlineExceeded}
	}
	gen := e.generated(t)
	_, err := e.authorize.Authorize(context.Background(), companyID, gen.NFe.ID, userID)
	require.NoError(t, err)
	n := e.nfe(t, gen.NFe.ID)
	require.Equal(t, entity.NFeStatusPending, n.Status)
	require.NotEmpty(t, n.ReceiptNumber)
	return n
}

// ── Sync ─────────────────────────────────────────────────────────────────────

func TestSync_ReciboProcessadoAutoriza(t *testing.T) {
	e := newEnv(t)
	n := e.pendingWithReceipt(t)
	e.sefaz.onPoll = func(receipt string) (*sefaz.ReceiptResult, error) {
		assert.Equal(t, "351000000000077", receipt)
		return &sefaz.ReceiptResult{
			Response:  sefaz.Response{CStat: nfe.StatusBatchProcessed, XMotivo: "Lote processado"},
			Receipt:   receipt,
			Protocols: []sefaz.Protocol{*protocol(n.AccessKey, nfe.StatusAuthorized)},
		}, nil
	}

	res, err := e.query.Sync(context.Background(), companyID, n.ID, userID)
	require.NoError(t, err)

	assert.Equal(t, entity.NFeStatusApproved, res.NFe.Status)
	assert.Zero(t, e.sefaz.count("query"))
	after := e.nfe(t, n.ID)
	assert.Contains(t, after.ProcXML, "<nfeProc")
	assert.True(t, e.stock(t).Quantity.Equal(d("40")))
	assert.Len(t, e.mailer.sent, 1)
}

func TestSync_LoteEmProcessamentoContinuaPendente(t *testing.T) {
	e := newEnv(t)
	n := e.pendingWithReceipt(t)
	e.sefaz.onPoll = func(receipt string) (*sefaz.ReceiptResult, error) {
		return &sefaz.ReceiptResult{Response: sefaz.Response{CStat: nfe.StatusBatchProcessing, XMotivo: "Lote em processamento"}, Receipt: receipt}, nil
	}

	res, err := e.query.Sync(context.Background(), companyID, n.ID, userID)
	require.NoError(t, err)

	assert.Equal(t, entity.NFeStatusPending, res.NFe.Status)
	assert.Equal(t, nfe.StatusBatchProcessing, e.nfe(t, n.ID).StatusCode)
	assert.Zero(t, e.sefaz.count("query"))
}

func TestSync_ChaveDesconhecidaLiberaReenvio(t *testing.T) {
	e := newEnv(t)
	n := e.pendingWithReceipt(t)
	e.sefaz.onPoll = func(receipt string) (*sefaz.ReceiptResult, error) {
		return &sefaz.ReceiptResult{Response: sefaz.Response{CStat: 106, XMotivo: "Lote não localizado"}, Receipt: receipt}, nil
	}
	e.sefaz.onQuery = func(key string) (*sefaz.QueryResult, error) {
		return &sefaz.QueryResult{Response: sefaz.Response{CStat: nfe.StatusNotFound, XMotivo: "NF-e não consta na base de dados da SEFAZ"}, AccessKey: key}, nil
	}

	_, err := e.query.Sync(context.Background(), companyID, n.ID, userID)
	require.NoError(t, err)

	after := e.nfe(t, n.ID)
	assert.Equal(t, entity.NFeStatusPending, after.Status)
	assert.Empty(t, after.ReceiptNumber)

	e.sefaz.onAuthorize = func(signed []byte) (*sefaz.Authorization, error) {
		return authorized(signed, protocol(accessKeyOf(signed), nfe.StatusAuthorized)), nil
	}
	res, err := e.authorize.Authorize(context.Background(), companyID, n.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, entity.NFeStatusApproved, res.NFe.Status)
	require.Len(t, e.sefaz.signed, 2)
	assert.Equal(t, e.sefaz.signed[0], e.sefaz.signed[1])
}

func TestSync_CancelamentoExternoDetectado(t *testing.T) {
	e := newEnv(t)
	n := e.approved(t)
	e.sefaz.onQuery = func(key string) (*sefaz.QueryResult, error) {
		return &sefaz.QueryResult{
			Response:  sefaz.Response{CStat: nfe.StatusCanceled, XMotivo: "Cancelamento de NF-e homologado"},
			AccessKey: key,
			Protocol:  protocol(key, nfe.StatusAuthorized),
			Events: []sefaz.EventResult{{
				Response:     sefaz.Response{CStat: nfe.StatusEventRegistered, XMotivo: "Evento registrado e vinculado a NF-e"},
				AccessKey:    key,
				Type:         nfe.EventCancellation,
				Sequence:     1,
				Protocol:     "135260000000077",
				RegisteredAt: fixedNow,
			}},
		}, nil
	}

	res, err := e.query.Sync(context.Background(), companyID, n.ID, userID)
	require.NoError(t, err)

	assert.Equal(t, entity.NFeStatusCanceled, res.NFe.Status)
	assert.Equal(t, entity.OrderStatusOpen, e.order(t).Status)
	assert.Equal(t, entity.ReceivableStatusCanceled, e.receivable(t, n.ID).Status)

	events := e.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, nfe.EventCancellation, events[0].Type)
	assert.Equal(t, "135260000000077", events[0].Protocol)

	// Nota cancelada não consulta de novo.
	_, err = e.query.Sync(context.Background(), companyID, n.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, e.sefaz.count("query"))
}

func TestSync_AutorizadaSemMudanca(t *testing.T) {
	e := newEnv(t)
	n := e.approved(t)
	e.sefaz.onQuery = func(key string) (*sefaz.QueryResult, error) {
		return &sefaz.QueryResult{
			Response:  sefaz.Response{CStat: nfe.StatusAuthorized, XMotivo: "Autorizado o uso da NF-e"},
			AccessKey: key,
			Protocol:  protocol(key, nfe.StatusAuthorized),
		}, nil
	}

	res, err := e.query.Sync(context.Background(), companyID, n.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, entity.NFeStatusApproved, res.NFe.Status)
	assert.Len(t, e.mailer.sent, 1, "e-mail enviado só na autorização")
}

func TestSync_LockOcupado(t *testing.T) {
	e := newEnv(t)
	n := e.pendingWithReceipt(t)
	ok, err := e.lock.Acquire(context.Background(), n.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = e.query.Sync(context.Background(), companyID, n.ID, userID)
	assert.ErrorIs(t, err, domain.ErrInFlight)
	assert.Zero(t, e.sefaz.count("poll"))
}

// ── Reconcile ────────────────────────────────────────────────────────────────

func TestReconcile_ContaMudancasEPulaEmAndamento(t *testing.T) {
	e := newEnv(t)
	n := e.pendingWithReceipt(t)

	busy := *n
	busy.ID = "nfe-ocupada"
	busy.AccessKey = "35260312345678000195550010000009991000009990"
	busy.Number = 999
	e.store.PutNFe(busy)
	ok, err := e.lock.Acquire(context.Background(), busy.ID)
	require.NoError(t, err)
	require.True(t, ok)

	e.sefaz.onPoll = func(receipt string) (*sefaz.ReceiptResult, error) {
		return &sefaz.ReceiptResult{
			Response:  sefaz.Response{CStat: nfe.StatusBatchProcessed, XMotivo: "Lote processado"},
			Receipt:   receipt,
			Protocols: []sefaz.Protocol{*protocol(n.AccessKey, nfe.StatusAuthorized)},
		}, nil
	}

	changed, err := e.query.Reconcile(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, changed)
	assert.Equal(t, 1, e.sefaz.count("poll"))
	assert.Equal(t, entity.NFeStatusApproved, e.nfe(t, n.ID).Status)
	assert.Equal(t, entity.NFeStatusPending, e.nfe(t, busy.ID).Status)
}

// ── Status do serviço ────────────────────────────────────────────────────────

func TestServiceStatus_UFValida(t *testing.T) {
	e := newEnv(t)

	res, err := e.query.ServiceStatus(context.Background(), " sp ")
	require.NoError(t, err)

	assert.Equal(t, "SP", res.UF)
	assert.True(t, res.Online)
	assert.Equal(t, nfe.StatusServiceRunning, res.StatusCode)
	assert.Equal(t, 1, res.AvgTimeSeconds)
	assert.Nil(t, res.ReturnAt)
}

func TestServiceStatus_UFInvalidaNaoConsulta(t *testing.T) {
	e := newEnv(t)

	_, err := e.query.ServiceStatus(context.Background(), "XX")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Zero(t, e.sefaz.count("status"))
}

// ── Download ─────────────────────────────────────────────────────────────────

func TestDownloadXML_ProcDepoisDaAutorizacao(t *testing.T) {
	e := newEnv(t)
	gen := e.generated(t)

	raw, err := e.query.DownloadXML(context.Background(), companyID, gen.NFe.ID)
	require.NoError(t, err)
	assert.Equal(t, gen.NFe.AccessKey+"-nfe.xml", raw.Filename)
	assert.Equal(t, "application/xml", raw.ContentType)
	assert.NotContains(t, string(raw.Content), "<Signature")

	_, err = e.authorize.Authorize(context.Background(), companyID, gen.NFe.ID, userID)
	require.NoError(t, err)

	proc, err := e.query.DownloadXML(context.Background(), companyID, gen.NFe.ID)
	require.NoError(t, err)
	assert.Equal(t, gen.NFe.AccessKey+"-procNFe.xml", proc.Filename)
	assert.Contains(t, string(proc.Content), "<nfeProc")
}

func TestDownloadDANFE_SomenteAutorizadaOuCancelada(t *testing.T) {
	e := newEnv(t)
	gen := e.generated(t)

	_, err := e.query.DownloadDANFE(context.Background(), companyID, gen.NFe.ID)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = e.authorize.Authorize(context.Background(), companyID, gen.NFe.ID, userID)
	require.NoError(t, err)

	pdf, err := e.query.DownloadDANFE(context.Background(), companyID, gen.NFe.ID)
	require.NoError(t, err)
	assert.Equal(t, gen.NFe.AccessKey+".pdf", pdf.Filename)
	assert.Equal(t, "application/pdf", pdf.ContentType)
	assert.Equal(t, "%PDF-"+gen.NFe.AccessKey, string(pdf.Content))
}

func TestGet_NotaComItens(t *testing.T) {
	e := newEnv(t)
	gen := e.generated(t)

	res, err := e.query.Get(context.Background(), companyID, gen.NFe.ID)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "P001", res.Items[0].Code)

	_, err = e.query.Get(context.Background(), "emp-2", gen.NFe.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
