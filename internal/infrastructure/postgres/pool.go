package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/rs/zerolog/log"

	"github.com/jhoicas/faturamento-nfe/pkg/config"
)

// Fuso das datas de emissão e de registro de eventos.
const fiscalTimezone = "America/Sao_Paulo"

// NewPool abre o pool e espera o banco responder, com até cfg.ConnectRetries
// novas tentativas de ping.
func NewPool(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolConfig, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("criar pool: %w", err)
	}

	wait := time.Second
	for attempt := 0; ; attempt++ {
		err = pool.Ping(ctx)
		if err == nil {
			return pool, nil
		}
		if attempt >= cfg.ConnectRetries {
			break
		}
		log.Warn().Err(err).Int("tentativa", attempt+1).Dur("espera", wait).Msg("postgres: banco indisponível")
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		wait = min(wait*2, 10*time.Second)
	}
	pool.Close()
	return nil, fmt.Errorf("ping DB: %w", err)
}

// PoolConfig monta a configuração do pgxpool sem conectar: limites do pool,
// codec NUMERIC -> decimal, fuso fiscal e statement_timeout.
func PoolConfig(cfg config.DBConfig) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolConfig.MaxConns = int32(max(cfg.MaxConns, 1))
	poolConfig.MinConns = int32(max(min(cfg.MinConns, cfg.MaxConns), 0))
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	params := poolConfig.ConnConfig.RuntimeParams
	params["timezone"] = fiscalTimezone
	if cfg.AppName != "" {
		params["application_name"] = cfg.AppName
	}
	if cfg.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}
	return poolConfig, nil
}
