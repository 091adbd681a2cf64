package sefaz

import (
	"sync"
	"time"

	"github.com/jhoicas/faturamento-nfe/internal/domain"
)

// ── Circuit breaker por host SEFAZ ────────────────────────────────────────────
// Fechado → Aberto → Meio-aberto. Com o autorizador fora do ar as chamadas
// falham na hora em vez de esperar o timeout de cada envio.

// BreakerState estado do circuito.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // chamadas passam
	BreakerOpen                         // falha imediata
	BreakerHalfOpen                     // uma sonda por vez
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "fechado"
	case BreakerOpen:
		return "aberto"
	case BreakerHalfOpen:
		return "meio-aberto"
	default:
		return "desconhecido"
	}
}

// BreakerConfig parâmetros do circuito.
type BreakerConfig struct {
	FailureThreshold int           // falhas consecutivas para abrir (padrão 5)
	SuccessThreshold int           // sucessos em meio-aberto para fechar (padrão 2)
	OpenTimeout      time.Duration // tempo aberto antes da sonda (padrão 60s)
}

// DefaultBreakerConfig valores padrão.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, OpenTimeout: 60 * time.Second}
}

// CircuitBreaker seguro para uso concorrente.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	probing     bool
	lastFailure time.Time
	cfg         BreakerConfig
	now         func() time.Time
}

// NewCircuitBreaker cria o circuito fechado; valores não positivos usam o padrão.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// State estado atual; aberto passa a meio-aberto quando o timeout expira.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

func (cb *CircuitBreaker) stateLocked() BreakerState {
	if cb.state == BreakerOpen && cb.now().Sub(cb.lastFailure) >= cb.cfg.OpenTimeout {
		cb.state = BreakerHalfOpen
		cb.successes = 0
		cb.probing = false
	}
	return cb.state
}

// Execute roda fn pelo circuito. Com o circuito aberto, ou com uma sonda já
// em curso no meio-aberto, devolve domain.ErrCircuitOpen sem chamar fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	switch cb.stateLocked() {
	case BreakerOpen:
		cb.mu.Unlock()
		return domain.ErrCircuitOpen
	case BreakerHalfOpen:
		if cb.probing {
			cb.mu.Unlock()
			return domain.ErrCircuitOpen
		}
		cb.probing = true
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
	if err != nil {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return nil
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.lastFailure = cb.now()
	switch cb.state {
	case BreakerClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.state = BreakerOpen
			cb.successes = 0
		}
	case BreakerHalfOpen:
		cb.state = BreakerOpen
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.state = BreakerClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

// breakerSet um circuito por host, criado sob demanda.
type breakerSet struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*CircuitBreaker
}

func newBreakerSet(cfg BreakerConfig) *breakerSet {
	return &breakerSet{cfg: cfg, breakers: map[string]*CircuitBreaker{}}
}

func (s *breakerSet) get(host string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[host]
	if !ok {
		cb = NewCircuitBreaker(s.cfg)
		s.breakers[host] = cb
	}
	return cb
}

// states snapshot por host, exposto no health check.
func (s *breakerSet) states() map[string]BreakerState {
	s.mu.Lock()
	hosts := make(map[string]*CircuitBreaker, len(s.breakers))
	for h, cb := range s.breakers {
		hosts[h] = cb
	}
	s.mu.Unlock()

	out := make(map[string]BreakerState, len(hosts))
	for h, cb := range hosts {
		out[h] = cb.State()
	}
	return out
}
