package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/suPer8Hu/couples-chat/internal/logger"
	"github.com/suPer8Hu/couples-chat/internal/metrics"
	"go.uber.org/zap"
)

// WriteJob is one user turn to be stored in every listed namespace.
type WriteJob struct {
	ID       string         `json:"id"`
	AgentIDs []string       `json:"agent_ids"`
	Role     string         `json:"role"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Dispatcher hands a WriteJob off without waiting for it to be stored.
type Dispatcher interface {
	Dispatch(ctx context.Context, job WriteJob) error
}

// Execute stores job in each namespace. Every namespace is attempted; the
// returned error joins the individual failures.
func Execute(ctx context.Context, store Store, job WriteJob) error {
	if len(job.AgentIDs) == 0 {
		return errors.New("memory: write job has no namespaces")
	}
	role := job.Role
	if role == "" {
		role = "user"
	}
	msgs := []Message{{Role: role, Content: job.Content}}

	var errs []error
	for _, agentID := range job.AgentIDs {
		err := store.Add(ctx, agentID, msgs, job.Metadata)
		metrics.MemoryOps.WithLabelValues("add", metrics.Outcome(err)).Inc()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", agentID, err))
		}
	}
	return errors.Join(errs...)
}

// AsyncWriter runs each job on its own goroutine, detached from the caller's
// context. Failures are logged and dropped.
type AsyncWriter struct {
	store   Store
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAsyncWriter(store Store, timeout time.Duration) *AsyncWriter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AsyncWriter{store: store, timeout: timeout}
}

func (w *AsyncWriter) Dispatch(ctx context.Context, job WriteJob) error {
	l := logger.FromContext(ctx)
	bg := context.WithoutCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		cctx, cancel := context.WithTimeout(bg, w.timeout)
		defer cancel()

		start := time.Now()
		if err := Execute(cctx, w.store, job); err != nil {
			l.Warn("background memory write failed",
				zap.String("job_id", job.ID),
				zap.Strings("agent_ids", job.AgentIDs),
				zap.Duration("cost", time.Since(start)),
				zap.Error(err),
			)
			return
		}
		l.Debug("background memory write stored",
			zap.String("job_id", job.ID),
			zap.Duration("cost", time.Since(start)),
		)
	}()
	return nil
}

// Wait blocks until in-flight writes finish. Used on shutdown.
func (w *AsyncWriter) Wait() {
	w.wg.Wait()
}
