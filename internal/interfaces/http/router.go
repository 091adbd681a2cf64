package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/jhoicas/faturamento-nfe/internal/domain/entity"
)

// RouterDeps dependências do router. AsyncAuthorize pode ser nil.
type RouterDeps struct {
	Auth           authService
	Generate       nfeGenerator
	Authorize      nfeAuthorizer
	AsyncAuthorize nfeSubmitter
	Events         nfeEvents
	Query          nfeQueries
	JWTSecret      string
}

// Router registra as rotas da API.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api")

	authHandler := NewAuthHandler(deps.Auth)
	api.Post("/auth/login", authHandler.Login)

	// Rotas protegidas (Bearer Token)
	protected := api.Group("", AuthMiddleware(deps.JWTSecret))
	anyRole := RequireRole(entity.RoleAdmin, entity.RoleBiller, entity.RoleReadOnly)
	billers := RequireRole(entity.RoleAdmin, entity.RoleBiller)

	protected.Post("/auth/users", RequireRole(entity.RoleAdmin), authHandler.Register)

	h := NewNFeHandler(deps.Generate, deps.Authorize, deps.AsyncAuthorize, deps.Events, deps.Query)

	nfe := protected.Group("/nfe")
	nfe.Post("/", billers, h.Generate)
	nfe.Post("/inutilizacao", billers, h.VoidNumberRange)
	nfe.Get("/:id", anyRole, h.GetByID)
	nfe.Post("/:id/authorize", billers, h.Authorize)
	nfe.Post("/:id/sync", billers, h.Sync)
	nfe.Post("/:id/cancel", billers, h.Cancel)
	nfe.Post("/:id/cce", billers, h.CorrectionLetter)
	nfe.Get("/:id/xml", anyRole, h.DownloadXML)
	nfe.Get("/:id/danfe", anyRole, h.DownloadDANFE)

	protected.Get("/sefaz/status/:uf", anyRole, h.ServiceStatus)
}
