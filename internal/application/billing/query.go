package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jhoicas/faturamento-nfe/internal/application/dto"
	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/sefaz"
	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
	"github.com/rs/zerolog/log"
)

// QueryUseCase consulta e concilia notas com a SEFAZ e entrega XML e DANFE.
type QueryUseCase struct {
	lifecycle
}

// NewQueryUseCase constrói o caso de uso.
func NewQueryUseCase(d Dependencies) *QueryUseCase {
	return &QueryUseCase{lifecycle: newLifecycle(d)}
}

// Get devolve a nota com itens.
func (uc *QueryUseCase) Get(ctx context.Context, companyID, nfeID string) (*dto.NFeResponse, error) {
	n, err := uc.loadOwned(ctx, companyID, nfeID)
	if err != nil {
		return nil, err
	}
	items, err := uc.d.NFes.GetItems(ctx, n.ID)
	if err != nil {
		return nil, fmt.Errorf("carregar itens: %w", err)
	}
	out := toNFeResponse(n, items)
	return &out, nil
}

// Sync concilia o status local com a SEFAZ: pelo recibo quando a nota está
// pendente com recibo, senão pela chave (consSitNFe). Detecta autorização
// perdida e cancelamento feito fora do sistema.
func (uc *QueryUseCase) Sync(ctx context.Context, companyID, nfeID, userID string) (*dto.NFeOperationResponse, error) {
	n, err := uc.loadOwned(ctx, companyID, nfeID)
	if err != nil {
		return nil, err
	}
	if n.Status == entity.NFeStatusCanceled {
		return &dto.NFeOperationResponse{NFe: toNFeResponse(n, nil)}, nil
	}

	acquired, err := uc.d.Lock.Acquire(ctx, n.ID)
	if err != nil {
		return nil, fmt.Errorf("lock de autorização: %w", err)
	}
	if !acquired {
		return nil, domain.ErrInFlight
	}
	defer func() {
		if err := uc.d.Lock.Release(context.WithoutCancel(ctx), n.ID); err != nil {
			log.Warn().Err(err).Str("nfe_id", n.ID).Msg("nfe: liberar lock de autorização")
		}
	}()

	// Relê sob o lock.
	if n, err = uc.loadOwned(ctx, companyID, nfeID); err != nil {
		return nil, err
	}
	company, err := uc.company(ctx, n.CompanyID)
	if err != nil {
		return nil, err
	}
	warnings, err := uc.reconcile(ctx, n, company.Address.UF, userID)
	if err != nil {
		return nil, err
	}
	return &dto.NFeOperationResponse{NFe: toNFeResponse(n, nil), Warnings: warnings}, nil
}

func (uc *QueryUseCase) reconcile(ctx context.Context, n *entity.NFe, uf, userID string) ([]string, error) {
	logger := log.With().Str("nfe_id", n.ID).Str("chave", n.AccessKey).Logger()
	before := n.Status

	if n.Status == entity.NFeStatusPending && n.ReceiptNumber != "" && n.SignedXML != "" {
		rec, err := uc.d.SEFAZ.PollReceipt(ctx, n.ReceiptNumber, uf, 0)
		if err != nil && rec == nil {
			return nil, err
		}
		if rec != nil {
			if rec.Processing() {
				n.StatusCode, n.StatusReason = rec.CStat, rec.XMotivo
				return nil, uc.save(ctx, n)
			}
			if p := rec.Protocol(n.AccessKey); p != nil {
				return uc.finishProtocol(ctx, n, p, userID)
			}
		}
		// Recibo expirado ou sem protocolo da chave: segue pela consulta.
	}

	q, err := uc.d.SEFAZ.Query(ctx, n.AccessKey, uf)
	if err != nil {
		return nil, err
	}

	switch {
	case q.Canceled() && n.Status == entity.NFeStatusApproved:
		var ev *entity.NFeEvent
		for i := range q.Events {
			r := &q.Events[i]
			if r.Type == nfe.EventCancellation && r.Accepted() {
				at := r.RegisteredAt
				ev = &entity.NFeEvent{StatusCode: r.CStat, StatusReason: r.XMotivo, Protocol: r.Protocol, RegisteredAt: &at}
				break
			}
		}
		if ev == nil {
			ev = &entity.NFeEvent{StatusCode: q.CStat, StatusReason: q.XMotivo}
		}
		if err := uc.markCanceledExternally(ctx, n, ev); err != nil {
			return nil, err
		}
		logger.Info().Msg("nfe: cancelamento detectado na consulta")
		return uc.afterCancellation(ctx, n, userID), nil

	case q.Protocol != nil && n.Status != entity.NFeStatusApproved && n.SignedXML != "":
		return uc.finishProtocol(ctx, n, q.Protocol, userID)

	case q.CStat == nfe.StatusNotFound && n.Status == entity.NFeStatusPending:
		// Lote nunca processado: libera o reenvio do mesmo XML assinado.
		n.ReceiptNumber = ""
		n.StatusCode, n.StatusReason = q.CStat, q.XMotivo
		logger.Info().Msg("nfe: chave desconhecida na sefaz; reenvio liberado")
		return nil, uc.save(ctx, n)
	}

	logger.Debug().Str("status", before).Int("cstat", q.CStat).Msg("nfe: consulta sem mudança")
	return nil, nil
}

func (uc *QueryUseCase) finishProtocol(ctx context.Context, n *entity.NFe, p *sefaz.Protocol, userID string) ([]string, error) {
	authorized, err := uc.applyProtocol(n, p, nil)
	if err != nil {
		return nil, err
	}
	if err := uc.save(ctx, n); err != nil {
		return nil, err
	}
	log.Info().Str("nfe_id", n.ID).Str("status", n.Status).Int("cstat", p.CStat).Msg("nfe: status conciliado")
	if !authorized {
		return nil, nil
	}
	return uc.afterAuthorization(ctx, n, userID), nil
}

// markCanceledExternally grava o cancelamento detectado na consulta, sem
// evento local correspondente.
func (uc *QueryUseCase) markCanceledExternally(ctx context.Context, n *entity.NFe, ev *entity.NFeEvent) error {
	ev.NFeID = n.ID
	ev.CompanyID = n.CompanyID
	ev.AccessKey = n.AccessKey
	ev.Type = nfe.EventCancellation
	ev.Sequence = 1
	ev.Status = entity.EventStatusRegistered
	ev.Text = "cancelamento identificado na consulta à SEFAZ"
	ev.CreatedAt = uc.now()
	if err := uc.d.Events.Create(context.WithoutCancel(ctx), ev); err != nil {
		return fmt.Errorf("registrar evento: %w", err)
	}
	return uc.markCanceled(ctx, n, ev)
}

// Reconcile concilia as notas pendentes com recibo, mais antigas primeiro.
// Notas com autorização em curso são puladas. Devolve quantas mudaram de status.
func (uc *QueryUseCase) Reconcile(ctx context.Context, limit int) (int, error) {
	pending, err := uc.d.NFes.ListPendingWithReceipt(ctx, "", limit)
	if err != nil {
		return 0, fmt.Errorf("listar pendentes: %w", err)
	}
	changed := 0
	for _, n := range pending {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		res, err := uc.Sync(ctx, n.CompanyID, n.ID, n.CreatedBy)
		switch {
		case errors.Is(err, domain.ErrInFlight):
			continue
		case err != nil:
			log.Warn().Err(err).Str("nfe_id", n.ID).Msg("nfe: conciliação falhou")
			continue
		}
		if res.NFe.Status != n.Status {
			changed++
		}
	}
	return changed, nil
}

// ServiceStatus consulta o status do autorizador da UF.
func (uc *QueryUseCase) ServiceStatus(ctx context.Context, uf string) (*dto.ServiceStatusResponse, error) {
	uf = strings.ToUpper(strings.TrimSpace(uf))
	if _, ok := nfe.UFCode(uf); !ok {
		return nil, domain.NewValidationError("uf", "UF inválida: %q", uf)
	}
	res, err := uc.d.SEFAZ.ServiceStatus(ctx, uf)
	if err != nil {
		return nil, err
	}
	out := &dto.ServiceStatusResponse{
		UF:             uf,
		Environment:    int(res.Environment),
		Online:         res.Accepted(),
		StatusCode:     res.CStat,
		StatusReason:   res.XMotivo,
		AvgTimeSeconds: int(res.AvgTime.Seconds()),
		ReceivedAt:     res.ReceivedAt,
		Observation:    res.Observation,
	}
	if !res.ReturnAt.IsZero() {
		at := res.ReturnAt
		out.ReturnAt = &at
	}
	return out, nil
}

// DownloadXML devolve o nfeProc da nota autorizada ou, antes disso, o XML
// assinado (ou o gerado, se ainda não assinado).
func (uc *QueryUseCase) DownloadXML(ctx context.Context, companyID, nfeID string) (*dto.FileResponse, error) {
	n, err := uc.loadOwned(ctx, companyID, nfeID)
	if err != nil {
		return nil, err
	}
	switch {
	case n.ProcXML != "":
		return xmlFile(n.AccessKey+"-procNFe.xml", n.ProcXML), nil
	case n.SignedXML != "":
		return xmlFile(n.AccessKey+"-nfe.xml", n.SignedXML), nil
	case n.RawXML != "":
		return xmlFile(n.AccessKey+"-nfe.xml", n.RawXML), nil
	}
	return nil, domain.NewValidationError("xml", "nota sem XML")
}

func xmlFile(name, content string) *dto.FileResponse {
	return &dto.FileResponse{Filename: name, ContentType: "application/xml", Content: []byte(content)}
}

// DownloadDANFE gera o DANFE da nota autorizada ou cancelada.
func (uc *QueryUseCase) DownloadDANFE(ctx context.Context, companyID, nfeID string) (*dto.FileResponse, error) {
	if uc.d.DANFE == nil {
		return nil, errors.New("danfe: gerador não configurado")
	}
	n, err := uc.loadOwned(ctx, companyID, nfeID)
	if err != nil {
		return nil, err
	}
	if n.Status != entity.NFeStatusApproved && n.Status != entity.NFeStatusCanceled {
		return nil, domain.NewValidationError("status", "DANFE disponível somente após a autorização (status %s)", n.Status)
	}
	data, err := uc.danfeData(ctx, n)
	if err != nil {
		return nil, err
	}
	pdf, err := uc.d.DANFE.Render(*data)
	if err != nil {
		return nil, fmt.Errorf("danfe: %w", err)
	}
	return &dto.FileResponse{Filename: n.AccessKey + ".pdf", ContentType: "application/pdf", Content: pdf}, nil
}
