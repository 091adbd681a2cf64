package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/jhoicas/faturamento-nfe/internal/application/billing"
	"github.com/rs/zerolog/log"
)

var (
	_ billing.JobQueue     = (*LocalQueue)(nil)
	_ billing.InFlightLock = (*LocalLock)(nil)
)

// ErrQueueFull a fila em memória está cheia.
var ErrQueueFull = errors.New("fila de autorização cheia")

// LocalQueue fila em memória do processo (sem Redis). Jobs pendentes se
// perdem no restart; a reconciliação periódica recupera as notas pendentes.
type LocalQueue struct {
	jobs chan billing.AuthorizationJob
	wg   sync.WaitGroup
}

// NewLocalQueue fila com capacidade size.
func NewLocalQueue(size int) *LocalQueue {
	return &LocalQueue{jobs: make(chan billing.AuthorizationJob, max(size, 1))}
}

// Enqueue não bloqueia: fila cheia devolve ErrQueueFull.
func (q *LocalQueue) Enqueue(ctx context.Context, job billing.AuthorizationJob) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start dispara n workers até ctx ser cancelado.
func (q *LocalQueue) Start(ctx context.Context, n int, h Handler) {
	for i := 0; i < max(n, 1); i++ {
		q.wg.Add(1)
		go func(id int) {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-q.jobs:
					process(ctx, id, job, h)
				}
			}
		}(i)
	}
	log.Info().Int("workers", max(n, 1)).Msg("workers de autorização (memória) iniciados")
}

// Wait aguarda os workers terminarem após o cancelamento do contexto.
func (q *LocalQueue) Wait() { q.wg.Wait() }

// LocalLock trava em memória do processo.
type LocalLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLock constrói a trava.
func NewLocalLock() *LocalLock {
	return &LocalLock{held: map[string]struct{}{}}
}

// Acquire devolve false se a nota já está travada.
func (l *LocalLock) Acquire(_ context.Context, nfeID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[nfeID]; ok {
		return false, nil
	}
	l.held[nfeID] = struct{}{}
	return true, nil
}

// Release libera a nota.
func (l *LocalLock) Release(_ context.Context, nfeID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, nfeID)
	return nil
}
