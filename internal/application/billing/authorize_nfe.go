package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jhoicas/faturamento-nfe/internal/application/dto"
	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/sefaz"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/sefaz/signer"
	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AuthorizeNFeUseCase assina e transmite uma NF-e pendente ou rejeitada:
//
//	lock → assinatura (uma vez) → XSD → NFeAutorizacao4 → recibo → status
//
// No máximo uma autorização por nota fica em curso (InFlightLock). A rejeição
// da SEFAZ é gravada como dado; a nota autorizada dispara a baixa de estoque
// e o envio ao destinatário, cujas falhas voltam como avisos.
type AuthorizeNFeUseCase struct {
	lifecycle
}

// NewAuthorizeNFeUseCase constrói o caso de uso.
func NewAuthorizeNFeUseCase(d Dependencies) *AuthorizeNFeUseCase {
	return &AuthorizeNFeUseCase{lifecycle: newLifecycle(d)}
}

// CheckSubmittable confere, sem efeitos, se a nota pode ser enviada.
func (uc *AuthorizeNFeUseCase) CheckSubmittable(ctx context.Context, companyID, nfeID string) (*entity.NFe, error) {
	n, err := uc.loadOwned(ctx, companyID, nfeID)
	if err != nil {
		return nil, err
	}
	if !n.CanSubmit() {
		return nil, fmt.Errorf("%w: status %s, recibo %q", domain.ErrAlreadySubmitted, n.Status, n.ReceiptNumber)
	}
	return n, nil
}

// Authorize envia a nota e grava o resultado. Pendente com recibo (espera
// esgotada) não é erro: a consulta posterior conclui o processamento.
func (uc *AuthorizeNFeUseCase) Authorize(ctx context.Context, companyID, nfeID, userID string) (*dto.NFeOperationResponse, error) {
	if _, err := uc.CheckSubmittable(ctx, companyID, nfeID); err != nil {
		return nil, err
	}

	acquired, err := uc.d.Lock.Acquire(ctx, nfeID)
	if err != nil {
		return nil, fmt.Errorf("lock de autorização: %w", err)
	}
	if !acquired {
		return nil, domain.ErrInFlight
	}
	defer func() {
		if err := uc.d.Lock.Release(context.WithoutCancel(ctx), nfeID); err != nil {
			log.Warn().Err(err).Str("nfe_id", nfeID).Msg("nfe: liberar lock de autorização")
		}
	}()

	// Relê sob o lock: outra autorização pode ter terminado entre a checagem e o Acquire.
	n, err := uc.CheckSubmittable(ctx, companyID, nfeID)
	if err != nil {
		return nil, err
	}
	company, err := uc.company(ctx, n.CompanyID)
	if err != nil {
		return nil, err
	}
	logger := log.With().Str("nfe_id", n.ID).Str("chave", n.AccessKey).Str("uf", company.Address.UF).Logger()

	signed, err := uc.sign(ctx, n)
	if err != nil {
		logger.Error().Err(err).Str("step", "assinatura").Msg("nfe: assinatura falhou")
		return nil, err
	}

	auth, err := uc.d.SEFAZ.Authorize(ctx, signed, company.Address.UF)
	if auth == nil {
		logger.Warn().Err(err).Str("step", "envio").Msg("nfe: envio à sefaz falhou; nota continua pendente")
		return nil, err
	}

	var warnings []string
	if err != nil {
		logger.Warn().Err(err).Str("recibo", auth.Receipt).Msg("nfe: consulta do recibo interrompida")
		warnings = append(warnings, "consulta do recibo pendente: "+err.Error())
	}
	authorized, err := uc.apply(ctx, n, signed, auth, company.Address.UF, logger)
	if err != nil {
		return nil, err
	}
	if err := uc.save(ctx, n); err != nil {
		return nil, err
	}
	logger.Info().Str("status", n.Status).Int("cstat", n.StatusCode).Str("motivo", n.StatusReason).Msg("nfe: retorno da autorização")

	if authorized {
		warnings = append(warnings, uc.afterAuthorization(ctx, n, userID)...)
	}
	return &dto.NFeOperationResponse{NFe: toNFeResponse(n, nil), Warnings: warnings}, nil
}

// sign assina o XML gravado na geração e fixa o resultado na nota. Um reenvio
// reaproveita o mesmo XML assinado.
func (uc *AuthorizeNFeUseCase) sign(ctx context.Context, n *entity.NFe) ([]byte, error) {
	if n.SignedXML != "" {
		return []byte(n.SignedXML), nil
	}
	if n.RawXML == "" {
		return nil, domain.NewValidationError("xml", "nota sem XML gerado")
	}
	signed, err := uc.d.Signer.SignWithPlacement([]byte(n.RawXML), n.InfNFeID(), signer.PlacementSibling)
	if err != nil {
		return nil, err
	}
	if uc.d.Validator != nil {
		if err := uc.d.Validator.ValidateNFe(signed); err != nil {
			return nil, err
		}
	}
	n.SignedXML = string(signed)
	if err := uc.save(ctx, n); err != nil {
		return nil, err
	}
	return signed, nil
}

// apply traduz o retorno em status. 204 (duplicidade) é resolvido pela
// consulta da chave, que devolve o protocolo do envio anterior.
func (uc *AuthorizeNFeUseCase) apply(ctx context.Context, n *entity.NFe, signed []byte, auth *sefaz.Authorization, uf string, logger zerolog.Logger) (bool, error) {
	if auth.Receipt != "" {
		n.ReceiptNumber = auth.Receipt
	}
	n.StatusCode = auth.Last.CStat
	n.StatusReason = auth.Last.XMotivo

	switch {
	case auth.Protocol != nil:
		return uc.applyProtocol(n, auth.Protocol, auth.ProcXML)
	case auth.Last.CStat == nfe.StatusDuplicate:
		q, err := uc.d.SEFAZ.Query(ctx, n.AccessKey, uf)
		if err != nil {
			logger.Warn().Err(err).Msg("nfe: duplicidade sem consulta; nota continua pendente")
			return false, transition(n, entity.NFeStatusPending)
		}
		if q.Protocol != nil {
			return uc.applyProtocol(n, q.Protocol, nil)
		}
		return false, transition(n, entity.NFeStatusPending)
	case auth.Pending():
		return false, transition(n, entity.NFeStatusPending)
	default:
		return false, transition(n, entity.NFeStatusRejected)
	}
}

// ── Autorização assíncrona ────────────────────────────────────────────────────

// AuthorizationOrchestrator enfileira autorizações e as executa nos workers
// da fila. HandleJob tem a assinatura de queue.Handler.
type AuthorizationOrchestrator struct {
	queue JobQueue
	uc    *AuthorizeNFeUseCase
}

// NewAuthorizationOrchestrator constrói o orquestrador.
func NewAuthorizationOrchestrator(queue JobQueue, uc *AuthorizeNFeUseCase) *AuthorizationOrchestrator {
	return &AuthorizationOrchestrator{queue: queue, uc: uc}
}

// Submit valida a nota e enfileira o envio.
func (o *AuthorizationOrchestrator) Submit(ctx context.Context, companyID, nfeID, userID string) (*dto.NFeOperationResponse, error) {
	n, err := o.uc.CheckSubmittable(ctx, companyID, nfeID)
	if err != nil {
		return nil, err
	}
	job := AuthorizationJob{NFeID: nfeID, CompanyID: companyID, UserID: userID}
	if err := o.queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enfileirar autorização: %w", err)
	}
	log.Info().Str("nfe_id", nfeID).Str("chave", n.AccessKey).Msg("nfe: autorização enfileirada")
	return &dto.NFeOperationResponse{NFe: toNFeResponse(n, nil), Queued: true}, nil
}

// HandleJob processa um job da fila. Nota já enviada ou em curso é descartada.
func (o *AuthorizationOrchestrator) HandleJob(ctx context.Context, job AuthorizationJob) error {
	res, err := o.uc.Authorize(ctx, job.CompanyID, job.NFeID, job.UserID)
	switch {
	case errors.Is(err, domain.ErrAlreadySubmitted), errors.Is(err, domain.ErrInFlight):
		log.Info().Err(err).Str("nfe_id", job.NFeID).Msg("nfe: job de autorização descartado")
		return nil
	case err != nil:
		return err
	}
	for _, w := range res.Warnings {
		log.Warn().Str("nfe_id", job.NFeID).Msg(w)
	}
	return nil
}
