package http

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/jhoicas/faturamento-nfe/internal/application/billing"
	"github.com/jhoicas/faturamento-nfe/internal/application/dto"
	"github.com/jhoicas/faturamento-nfe/internal/domain"
	"github.com/rs/zerolog/log"
)

var validate = validator.New()

func init() {
	// Campos reportados pelo nome JSON.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
}

// bindAndValidate lê o corpo JSON e aplica as tags do validator. Em caso de
// falha já escreve a resposta; o handler deve apenas retornar.
func bindAndValidate(c *fiber.Ctx, in any) (bool, error) {
	if err := c.BodyParser(in); err != nil {
		return false, c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "corpo inválido: " + err.Error()})
	}
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return false, c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		return false, c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{
			Code: "VALIDATION", Message: "dados inválidos", Details: fields,
		})
	}
	return true, nil
}

// writeError traduz o erro de domínio em status HTTP e dto.ErrorResponse.
func writeError(c *fiber.Ctx, err error) error {
	var shortage *billing.StockShortageError
	var verr *domain.ValidationError

	switch {
	case errors.As(err, &shortage):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{
			Code: "INSUFFICIENT_STOCK", Message: err.Error(), Details: shortage.Shortages,
		})
	case errors.Is(err, domain.ErrInsufficientStock):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{Code: "INSUFFICIENT_STOCK", Message: err.Error()})
	case errors.As(err, &verr), errors.Is(err, domain.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUserNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: err.Error()})
	case errors.Is(err, domain.ErrUnauthorized):
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "credenciais inválidas"})
	case errors.Is(err, domain.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: err.Error()})
	case errors.Is(err, domain.ErrAlreadySubmitted):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "ALREADY_SUBMITTED", Message: err.Error()})
	case errors.Is(err, domain.ErrInFlight):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "IN_FLIGHT", Message: err.Error()})
	case errors.Is(err, domain.ErrEmailAlreadyExists), errors.Is(err, domain.ErrDuplicate):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "DUPLICATE", Message: err.Error()})
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "CONFLICT", Message: err.Error()})
	case errors.Is(err, domain.ErrCircuitOpen):
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Code: "SEFAZ_UNAVAILABLE", Message: err.Error()})
	case errors.Is(err, domain.ErrCommunication):
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Code: "SEFAZ_COMMUNICATION", Message: err.Error()})
	case errors.Is(err, domain.ErrCertificate):
		log.Error().Err(err).Msg("http: certificado")
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "CERTIFICATE", Message: err.Error()})
	case errors.Is(err, domain.ErrSignature):
		log.Error().Err(err).Msg("http: assinatura")
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "SIGNATURE", Message: err.Error()})
	}
	log.Error().Err(err).Str("path", c.Path()).Msg("http: erro interno")
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: "erro interno"})
}
