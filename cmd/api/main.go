package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jhoicas/faturamento-nfe/internal/application/auth"
	"github.com/jhoicas/faturamento-nfe/internal/application/billing"
	"github.com/jhoicas/faturamento-nfe/internal/application/financial"
	"github.com/jhoicas/faturamento-nfe/internal/application/inventory"
	"github.com/jhoicas/faturamento-nfe/internal/domain/fiscal"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/mail"
	infrapdf "github.com/jhoicas/faturamento-nfe/internal/infrastructure/pdf"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/postgres"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/queue"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/sefaz"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/sefaz/signer"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/taxtable"
	"github.com/jhoicas/faturamento-nfe/internal/infrastructure/xsd"
	httpRouter "github.com/jhoicas/faturamento-nfe/internal/interfaces/http"
	"github.com/jhoicas/faturamento-nfe/pkg/config"
	"github.com/jhoicas/faturamento-nfe/pkg/logger"
	"github.com/jhoicas/faturamento-nfe/pkg/nfe"
	zlog "github.com/rs/zerolog/log"
)

const reconcileBatch = 50

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("carregar configuração: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: cfg.App.LogLevel,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Int("ambiente_sefaz", cfg.SEFAZ.Environment).
		Msg("iniciando aplicação")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexão com PostgreSQL")
	}
	defer pool.Close()

	companyRepo := postgres.NewCompanyRepository(pool)
	userRepo := postgres.NewUserRepository(pool)
	customerRepo := postgres.NewCustomerRepository(pool)
	productRepo := postgres.NewProductRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	stockRepo := postgres.NewStockRepository(pool)
	nfeRepo := postgres.NewNFeRepository(pool)
	eventRepo := postgres.NewNFeEventRepository(pool)
	txRunner := postgres.NewTxRunner(pool)

	// Tabela de alíquotas: padrão embutido, sobrescrito por arquivo quando configurado.
	rates, err := taxtable.Load(cfg.SEFAZ.RateTablePath)
	if err != nil {
		log.Fatal().Err(err).Msg("tabela de alíquotas")
	}
	engine := fiscal.NewTaxEngine(rates,
		fiscal.WithClampNegativeST(cfg.SEFAZ.ClampNegativeST),
		fiscal.WithIntrastateFCP(cfg.SEFAZ.IntrastateFCP),
	)

	cert, err := signer.LoadCertificateFile(cfg.SEFAZ.CertPath, cfg.SEFAZ.CertPassword)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.SEFAZ.CertPath).Msg("certificado A1")
	}
	if err := cert.VerifyValidity(time.Now()); err != nil {
		log.Fatal().Err(err).Time("not_after", cert.NotAfter()).Msg("certificado A1")
	}
	if days := time.Until(cert.NotAfter()) / (24 * time.Hour); days < 30 {
		log.Warn().Int("dias", int(days)).Msg("certificado A1 perto do vencimento")
	}
	signerSvc := signer.NewDigitalSignatureService(cert)

	endpoints := sefaz.DefaultEndpoints()
	if cfg.SEFAZ.EndpointsFile != "" {
		if err := sefaz.LoadEndpointOverrides(endpoints, cfg.SEFAZ.EndpointsFile); err != nil {
			log.Fatal().Err(err).Msg("endpoints SEFAZ")
		}
	}
	transport, err := sefaz.NewHTTPTransport(cert, sefaz.TransportConfig{
		Timeout: cfg.SEFAZ.Timeout,
		CADir:   cfg.SEFAZ.CADir,
		Breaker: sefaz.DefaultBreakerConfig(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("transporte SEFAZ")
	}
	env := nfe.Environment(cfg.SEFAZ.Environment)
	sefazClient := sefaz.NewClient(transport, endpoints, signerSvc, sefaz.ClientConfig{
		Environment:     env,
		Sync:            cfg.SEFAZ.Sync,
		PollInterval:    cfg.SEFAZ.PollInterval,
		MaxPollInterval: cfg.SEFAZ.MaxPollInterval,
		PollTimeout:     cfg.SEFAZ.PollTimeout,
		MaxPollAttempts: cfg.SEFAZ.MaxPollAttempts,
	})

	deps := billing.Dependencies{
		TxRunner:  txRunner,
		NFes:      nfeRepo,
		Orders:    orderRepo,
		Companies: companyRepo,
		Customers: customerRepo,
		Products:  productRepo,
		Events:    eventRepo,
		Inventory: inventory.NewStockService(txRunner, orderRepo, stockRepo, productRepo),
		Financial: financial.NewReceivablesService(txRunner),
		SEFAZ:     sefazClient,
		Signer:    signerSvc,
		DANFE:     infrapdf.NewDANFERenderer(),
	}

	if cfg.SEFAZ.XSDDir != "" {
		v, err := xsd.NewValidator(cfg.SEFAZ.XSDDir)
		if err != nil {
			log.Fatal().Err(err).Str("dir", cfg.SEFAZ.XSDDir).Msg("schemas XSD")
		}
		defer v.Close()
		deps.Validator = v
	}
	if cfg.SMTP.Host != "" {
		deps.Mailer = mail.NewSMTPMailer(cfg.SMTP)
	}

	// Fila de autorização: Redis quando configurado, senão em memória.
	var (
		jobs    billing.JobQueue
		startFn func(ctx context.Context, n int, h queue.Handler)
	)
	if cfg.Redis.URL != "" {
		rdb, err := queue.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("conexão com Redis")
		}
		defer rdb.Close()
		q := queue.NewRedisQueue(rdb, cfg.Redis.Queue)
		jobs, startFn = q, q.Start
		deps.Lock = queue.NewRedisLock(rdb, cfg.Redis.LockTTL)
	} else {
		q := queue.NewLocalQueue(256)
		jobs, startFn = q, q.Start
		deps.Lock = queue.NewLocalLock()
		log.Warn().Msg("REDIS_URL vazio: fila de autorização em memória")
	}

	generateUC := billing.NewGenerateNFeUseCase(deps, engine, sefaz.NewXMLBuilderService(), env)
	authorizeUC := billing.NewAuthorizeNFeUseCase(deps)
	orchestrator := billing.NewAuthorizationOrchestrator(jobs, authorizeUC)
	eventUC := billing.NewEventUseCase(deps)
	queryUC := billing.NewQueryUseCase(deps)
	authUC := auth.NewAuthUseCase(userRepo, companyRepo, auth.JWTConfig{
		Secret:     cfg.JWT.Secret,
		ExpMinutes: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})

	startFn(ctx, max(cfg.Redis.Workers, 1), orchestrator.HandleJob)
	go reconcileLoop(ctx, queryUC, cfg.SEFAZ.ReconcileEvery)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: cfg.SEFAZ.PollTimeout + 30*time.Second,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "Faturamento NF-e API",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name})
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		Auth:           authUC,
		Generate:       generateUC,
		Authorize:      authorizeUC,
		AsyncAuthorize: orchestrator,
		Events:         eventUC,
		Query:          queryUC,
		JWTSecret:      cfg.JWT.Secret,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("sinal de desligamento recebido, encerrando servidor...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("desligamento do servidor")
	}

	log.Info().Msg("aplicação encerrada")
}

// reconcileLoop consulta periodicamente as notas pendentes com recibo.
func reconcileLoop(ctx context.Context, q *billing.QueryUseCase, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := q.Reconcile(ctx, reconcileBatch)
			if err != nil {
				zlog.Error().Err(err).Msg("reconciliação de pendentes")
				continue
			}
			if n > 0 {
				zlog.Info().Int("notas", n).Msg("reconciliação de pendentes")
			}
		}
	}
}
