package http

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/jhoicas/faturamento-nfe/internal/application/dto"
)

// Contratos mínimos dos casos de uso de billing usados pelos handlers.
type (
	nfeGenerator interface {
		Generate(ctx context.Context, companyID, userID string, in dto.GenerateNFeRequest) (*dto.NFeOperationResponse, error)
	}
	nfeAuthorizer interface {
		Authorize(ctx context.Context, companyID, nfeID, userID string) (*dto.NFeOperationResponse, error)
	}
	nfeSubmitter interface {
		Submit(ctx context.Context, companyID, nfeID, userID string) (*dto.NFeOperationResponse, error)
	}
	nfeEvents interface {
		Cancel(ctx context.Context, companyID, nfeID, userID string, in dto.CancelNFeRequest) (*dto.EventResponse, error)
		CorrectionLetter(ctx context.Context, companyID, nfeID, userID string, in dto.CorrectionLetterRequest) (*dto.EventResponse, error)
		VoidNumberRange(ctx context.Context, companyID, userID string, in dto.VoidNumberRangeRequest) (*dto.VoidResponse, error)
	}
	nfeQueries interface {
		Get(ctx context.Context, companyID, nfeID string) (*dto.NFeResponse, error)
		Sync(ctx context.Context, companyID, nfeID, userID string) (*dto.NFeOperationResponse, error)
		ServiceStatus(ctx context.Context, uf string) (*dto.ServiceStatusResponse, error)
		DownloadXML(ctx context.Context, companyID, nfeID string) (*dto.FileResponse, error)
		DownloadDANFE(ctx context.Context, companyID, nfeID string) (*dto.FileResponse, error)
	}
)

// NFeHandler rotas do ciclo de vida da NF-e (protegido).
type NFeHandler struct {
	generate  nfeGenerator
	authorize nfeAuthorizer
	async     nfeSubmitter // nil: autorização sempre síncrona
	events    nfeEvents
	query     nfeQueries
}

// NewNFeHandler constrói o handler. async pode ser nil.
func NewNFeHandler(generate nfeGenerator, authorize nfeAuthorizer, async nfeSubmitter, events nfeEvents, query nfeQueries) *NFeHandler {
	return &NFeHandler{generate: generate, authorize: authorize, async: async, events: events, query: query}
}

// Generate godoc
// @Summary      Gerar NF-e de um pedido
// @Tags         nfe
// @Accept       json
// @Produce      json
// @Param        body  body  dto.GenerateNFeRequest  true  "pedido e opções de integração"
// @Success      201   {object}  dto.NFeOperationResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      422   {object}  dto.ErrorResponse
// @Router       /api/nfe [post]
func (h *NFeHandler) Generate(c *fiber.Ctx) error {
	var in dto.GenerateNFeRequest
	if ok, err := bindAndValidate(c, &in); !ok {
		return err
	}
	out, err := h.generate.Generate(c.UserContext(), GetCompanyID(c), GetUserID(c), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

// GetByID godoc
// @Summary      Consultar NF-e
// @Tags         nfe
// @Produce      json
// @Param        id   path  string  true  "ID da nota"
// @Success      200  {object}  dto.NFeResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/nfe/{id} [get]
func (h *NFeHandler) GetByID(c *fiber.Ctx) error {
	out, err := h.query.Get(c.UserContext(), GetCompanyID(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// Authorize godoc
// @Summary      Transmitir NF-e à SEFAZ
// @Description  Com ?async=true e fila configurada, o envio é enfileirado e a resposta é 202.
// @Tags         nfe
// @Produce      json
// @Param        id     path   string  true   "ID da nota"
// @Param        async  query  bool    false  "enfileirar o envio"
// @Success      200  {object}  dto.NFeOperationResponse
// @Success      202  {object}  dto.NFeOperationResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Failure      502  {object}  dto.ErrorResponse
// @Router       /api/nfe/{id}/authorize [post]
func (h *NFeHandler) Authorize(c *fiber.Ctx) error {
	companyID, userID, id := GetCompanyID(c), GetUserID(c), c.Params("id")
	if h.async != nil && c.QueryBool("async") {
		out, err := h.async.Submit(c.UserContext(), companyID, id, userID)
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(out)
	}
	out, err := h.authorize.Authorize(c.UserContext(), companyID, id, userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// Sync godoc
// @Summary      Conciliar status com a SEFAZ
// @Tags         nfe
// @Produce      json
// @Param        id   path  string  true  "ID da nota"
// @Success      200  {object}  dto.NFeOperationResponse
// @Router       /api/nfe/{id}/sync [post]
func (h *NFeHandler) Sync(c *fiber.Ctx) error {
	out, err := h.query.Sync(c.UserContext(), GetCompanyID(c), c.Params("id"), GetUserID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// Cancel godoc
// @Summary      Cancelar NF-e autorizada
// @Tags         eventos
// @Accept       json
// @Produce      json
// @Param        id    path  string                 true  "ID da nota"
// @Param        body  body  dto.CancelNFeRequest   true  "justificativa (15 a 255)"
// @Success      200   {object}  dto.EventResponse
// @Router       /api/nfe/{id}/cancel [post]
func (h *NFeHandler) Cancel(c *fiber.Ctx) error {
	var in dto.CancelNFeRequest
	if ok, err := bindAndValidate(c, &in); !ok {
		return err
	}
	out, err := h.events.Cancel(c.UserContext(), GetCompanyID(c), c.Params("id"), GetUserID(c), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// CorrectionLetter godoc
// @Summary      Registrar carta de correção
// @Tags         eventos
// @Accept       json
// @Produce      json
// @Param        id    path  string                       true  "ID da nota"
// @Param        body  body  dto.CorrectionLetterRequest  true  "texto (15 a 1000)"
// @Success      200   {object}  dto.EventResponse
// @Router       /api/nfe/{id}/cce [post]
func (h *NFeHandler) CorrectionLetter(c *fiber.Ctx) error {
	var in dto.CorrectionLetterRequest
	if ok, err := bindAndValidate(c, &in); !ok {
		return err
	}
	out, err := h.events.CorrectionLetter(c.UserContext(), GetCompanyID(c), c.Params("id"), GetUserID(c), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// VoidNumberRange godoc
// @Summary      Inutilizar faixa de numeração
// @Tags         eventos
// @Accept       json
// @Produce      json
// @Param        body  body  dto.VoidNumberRangeRequest  true  "série, faixa e justificativa"
// @Success      200   {object}  dto.VoidResponse
// @Router       /api/nfe/inutilizacao [post]
func (h *NFeHandler) VoidNumberRange(c *fiber.Ctx) error {
	var in dto.VoidNumberRangeRequest
	if ok, err := bindAndValidate(c, &in); !ok {
		return err
	}
	out, err := h.events.VoidNumberRange(c.UserContext(), GetCompanyID(c), GetUserID(c), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// DownloadXML godoc
// @Summary      Baixar XML (nfeProc quando autorizada)
// @Tags         nfe
// @Produce      application/xml
// @Param        id   path  string  true  "ID da nota"
// @Success      200  {file}  file
// @Router       /api/nfe/{id}/xml [get]
func (h *NFeHandler) DownloadXML(c *fiber.Ctx) error {
	f, err := h.query.DownloadXML(c.UserContext(), GetCompanyID(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return sendFile(c, f)
}

// DownloadDANFE godoc
// @Summary      Baixar DANFE em PDF
// @Tags         nfe
// @Produce      application/pdf
// @Param        id   path  string  true  "ID da nota"
// @Success      200  {file}  file
// @Router       /api/nfe/{id}/danfe [get]
func (h *NFeHandler) DownloadDANFE(c *fiber.Ctx) error {
	f, err := h.query.DownloadDANFE(c.UserContext(), GetCompanyID(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return sendFile(c, f)
}

// ServiceStatus godoc
// @Summary      Status do autorizador da UF
// @Tags         sefaz
// @Produce      json
// @Param        uf   path  string  true  "sigla da UF"
// @Success      200  {object}  dto.ServiceStatusResponse
// @Router       /api/sefaz/status/{uf} [get]
func (h *NFeHandler) ServiceStatus(c *fiber.Ctx) error {
	out, err := h.query.ServiceStatus(c.UserContext(), c.Params("uf"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

func sendFile(c *fiber.Ctx, f *dto.FileResponse) error {
	c.Set(fiber.HeaderContentType, f.ContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, f.Filename))
	return c.Send(f.Content)
}
