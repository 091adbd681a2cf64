package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/jhoicas/faturamento-nfe/internal/application/dto"
	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
	"github.com/jhoicas/faturamento-nfe/internal/domain/fiscal"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/sefaz"
	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
	"github.com/rs/zerolog/log"
)

// EventUseCase cancelamento, carta de correção e inutilização. Textos são
// validados antes de qualquer chamada de rede; cada tentativa fica no log de
// eventos, aceita ou não.
type EventUseCase struct {
	lifecycle
}

// NewEventUseCase constrói o caso de uso.
func NewEventUseCase(d Dependencies) *EventUseCase {
	return &EventUseCase{lifecycle: newLifecycle(d)}
}

// Cancel registra o cancelamento (110111). Aceito, a nota passa a cancelada,
// o pedido volta a aberto e estoque e títulos são estornados (avisos).
func (uc *EventUseCase) Cancel(ctx context.Context, companyID, nfeID, userID string, in dto.CancelNFeRequest) (*dto.EventResponse, error) {
	if err := fiscal.ValidateJustification(in.Justification); err != nil {
		return nil, err
	}
	release, err := uc.lockDocument(ctx, nfeID)
	if err != nil {
		return nil, err
	}
	defer release()

	n, err := uc.loadOwned(ctx, companyID, nfeID)
	if err != nil {
		return nil, err
	}
	if n.Status == entity.NFeStatusCanceled {
		return nil, domain.NewValidationError("status", "nf-e já cancelada")
	}
	if !n.CanRegisterEvent() || n.Protocol == "" {
		return nil, domain.NewValidationError("status", "somente nf-e autorizada pode ser cancelada (status %s)", n.Status)
	}
	company, err := uc.company(ctx, n.CompanyID)
	if err != nil {
		return nil, err
	}

	ev := uc.newEvent(n, nfe.EventCancellation, 1, in.Justification, userID)
	if err := uc.d.Events.Create(ctx, ev); err != nil {
		return nil, fmt.Errorf("registrar evento: %w", err)
	}
	out, err := uc.d.SEFAZ.Cancel(ctx, n.AccessKey, n.Protocol, strings.TrimSpace(in.Justification), company.Address.UF, digitsCNPJ(company))
	if err != nil {
		uc.keepPending(ctx, ev, err)
		return nil, err
	}
	fillEvent(ev, out)

	logger := log.With().Str("nfe_id", n.ID).Str("chave", n.AccessKey).Logger()
	if !out.Accepted() {
		logger.Warn().Int("cstat", out.CStat).Str("motivo", out.XMotivo).Msg("nfe: cancelamento rejeitado")
		if err := uc.d.Events.UpdateResult(context.WithoutCancel(ctx), ev); err != nil {
			return nil, fmt.Errorf("gravar retorno do evento: %w", err)
		}
		return toEventResponse(ev, nil), nil
	}

	if err := uc.markCanceled(ctx, n, ev); err != nil {
		return nil, fmt.Errorf("gravar cancelamento: %w", err)
	}
	logger.Info().Str("protocolo", ev.Protocol).Msg("nfe: cancelada")
	return toEventResponse(ev, uc.afterCancellation(ctx, n, userID)), nil
}

// CorrectionLetter registra a CC-e (110110) com a sequência seguinte à maior
// já usada, registrada ou pendente; no máximo 20 por nota. Uma pendente pode
// ter sido registrada na SEFAZ, por isso a sequência dela não é reaproveitada.
func (uc *EventUseCase) CorrectionLetter(ctx context.Context, companyID, nfeID, userID string, in dto.CorrectionLetterRequest) (*dto.EventResponse, error) {
	if err := fiscal.ValidateCorrection(in.Text, 1); err != nil {
		return nil, err
	}
	release, err := uc.lockDocument(ctx, nfeID)
	if err != nil {
		return nil, err
	}
	defer release()

	n, err := uc.loadOwned(ctx, companyID, nfeID)
	if err != nil {
		return nil, err
	}
	if !n.CanRegisterEvent() {
		return nil, domain.NewValidationError("status", "carta de correção exige nf-e autorizada (status %s)", n.Status)
	}
	last, err := uc.d.Events.MaxSequence(ctx, n.ID, nfe.EventCorrectionLetter)
	if err != nil {
		return nil, fmt.Errorf("consultar sequência: %w", err)
	}
	seq := last + 1
	if err := fiscal.ValidateCorrection(in.Text, seq); err != nil {
		return nil, err
	}
	company, err := uc.company(ctx, n.CompanyID)
	if err != nil {
		return nil, err
	}

	ev := uc.newEvent(n, nfe.EventCorrectionLetter, seq, in.Text, userID)
	if err := uc.d.Events.Create(ctx, ev); err != nil {
		return nil, fmt.Errorf("registrar evento: %w", err)
	}
	out, err := uc.d.SEFAZ.CorrectionLetter(ctx, n.AccessKey, strings.TrimSpace(in.Text), company.Address.UF, digitsCNPJ(company), seq)
	if err != nil {
		uc.keepPending(ctx, ev, err)
		return nil, err
	}
	fillEvent(ev, out)
	if err := uc.d.Events.UpdateResult(context.WithoutCancel(ctx), ev); err != nil {
		return nil, fmt.Errorf("gravar retorno do evento: %w", err)
	}
	log.Info().Str("nfe_id", n.ID).Int("sequencia", seq).Int("cstat", ev.StatusCode).Msg("nfe: carta de correção processada")
	return toEventResponse(ev, nil), nil
}

// VoidNumberRange inutiliza uma faixa de números da série. Homologada, a
// numeração da série salta para depois da faixa.
func (uc *EventUseCase) VoidNumberRange(ctx context.Context, companyID, userID string, in dto.VoidNumberRangeRequest) (*dto.VoidResponse, error) {
	if err := fiscal.ValidateJustification(in.Justification); err != nil {
		return nil, err
	}
	if in.Start < 1 || in.End < in.Start || in.End > 999999999 {
		return nil, domain.NewValidationError("faixa", "faixa inválida %d..%d", in.Start, in.End)
	}
	if in.Series < 0 || in.Series > 999 {
		return nil, domain.NewValidationError("serie", "deve estar entre 0 e 999")
	}
	company, err := uc.company(ctx, companyID)
	if err != nil {
		return nil, err
	}
	year := in.Year
	if year == 0 {
		year = uc.now().Year()
	}

	v := &entity.NumberVoid{
		CompanyID:     companyID,
		Year:          year % 100,
		Model:         nfe.ModelNFe,
		Series:        in.Series,
		Start:         in.Start,
		End:           in.End,
		Justification: strings.TrimSpace(in.Justification),
		Status:        entity.EventStatusPending,
		CreatedBy:     userID,
		CreatedAt:     uc.now(),
	}
	if err := uc.d.Events.CreateVoid(ctx, v); err != nil {
		return nil, fmt.Errorf("registrar inutilização: %w", err)
	}

	out, err := uc.d.SEFAZ.VoidNumberRange(ctx, sefaz.VoidRange{
		UF:            company.Address.UF,
		Year:          year,
		CNPJ:          digitsCNPJ(company),
		Model:         nfe.ModelNFe,
		Series:        in.Series,
		Start:         in.Start,
		End:           in.End,
		Justification: v.Justification,
	})
	if err != nil {
		v.StatusReason = err.Error()
		if uerr := uc.d.Events.UpdateVoidResult(context.WithoutCancel(ctx), v); uerr != nil {
			log.Warn().Err(uerr).Str("inutilizacao", v.ID).Msg("nfe: gravar falha da inutilização")
		}
		return nil, err
	}

	v.StatusCode = out.CStat
	v.StatusReason = out.XMotivo
	v.Protocol = out.Protocol
	v.XML = string(out.ProcXML)
	if v.XML == "" {
		v.XML = string(out.Raw)
	}
	bg := context.WithoutCancel(ctx)
	if !out.Accepted() {
		v.Status = entity.EventStatusRejected
		if err := uc.d.Events.UpdateVoidResult(bg, v); err != nil {
			return nil, fmt.Errorf("gravar retorno da inutilização: %w", err)
		}
		return toVoidResponse(v), nil
	}

	v.Status = entity.EventStatusRegistered
	err = uc.d.TxRunner.RunBilling(bg, func(repos TxRepositories) error {
		if err := repos.Events.UpdateVoidResult(bg, v); err != nil {
			return err
		}
		return repos.Series.SkipTo(bg, companyID, nfe.ModelNFe, in.Series, in.End+1)
	})
	if err != nil {
		return nil, fmt.Errorf("gravar inutilização: %w", err)
	}
	log.Info().Str("empresa", companyID).Int("serie", in.Series).Int("inicio", in.Start).Int("fim", in.End).Msg("nfe: faixa inutilizada")
	return toVoidResponse(v), nil
}

// lockDocument serializa os eventos da nota com autorização e consulta.
func (uc *EventUseCase) lockDocument(ctx context.Context, nfeID string) (func(), error) {
	acquired, err := uc.d.Lock.Acquire(ctx, nfeID)
	if err != nil {
		return nil, fmt.Errorf("lock do evento: %w", err)
	}
	if !acquired {
		return nil, domain.ErrInFlight
	}
	return func() {
		if err := uc.d.Lock.Release(context.WithoutCancel(ctx), nfeID); err != nil {
			log.Warn().Err(err).Str("nfe_id", nfeID).Msg("nfe: liberar lock do evento")
		}
	}, nil
}

func (uc *EventUseCase) newEvent(n *entity.NFe, eventType string, seq int, text, userID string) *entity.NFeEvent {
	return &entity.NFeEvent{
		NFeID:     n.ID,
		CompanyID: n.CompanyID,
		AccessKey: n.AccessKey,
		Type:      eventType,
		Sequence:  seq,
		Text:      strings.TrimSpace(text),
		Status:    entity.EventStatusPending,
		CreatedBy: userID,
		CreatedAt: uc.now(),
	}
}

// keepPending grava a falha de comunicação no evento, que continua pendente.
func (uc *EventUseCase) keepPending(ctx context.Context, ev *entity.NFeEvent, cause error) {
	ev.StatusReason = cause.Error()
	if err := uc.d.Events.UpdateResult(context.WithoutCancel(ctx), ev); err != nil {
		log.Warn().Err(err).Str("evento", ev.ID).Msg("nfe: gravar falha do evento")
	}
}

func fillEvent(ev *entity.NFeEvent, out *sefaz.EventOutcome) {
	ev.Status = eventStatus(out.EventResult)
	ev.StatusCode = out.CStat
	ev.StatusReason = out.XMotivo
	ev.Protocol = out.Protocol
	if !out.RegisteredAt.IsZero() {
		at := out.RegisteredAt
		ev.RegisteredAt = &at
	}
	ev.XML = string(out.ProcXML)
	if ev.XML == "" {
		ev.XML = string(out.RetEvento)
	}
}

func toVoidResponse(v *entity.NumberVoid) *dto.VoidResponse {
	return &dto.VoidResponse{
		ID:           v.ID,
		Series:       v.Series,
		Start:        v.Start,
		End:          v.End,
		Status:       v.Status,
		StatusCode:   v.StatusCode,
		StatusReason: v.StatusReason,
		Protocol:     v.Protocol,
	}
}
