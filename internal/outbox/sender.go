// Package outbox hands update batches to the graph store, retrying failed
// submissions with exponential backoff.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/rosterd/internal/graph"
)

const (
	DefaultAttempts  = 3
	DefaultBaseDelay = 200 * time.Millisecond
)

// Sender submits batches to a graph.Store.
type Sender struct {
	store     graph.Store
	attempts  int
	baseDelay time.Duration
	logger    *zap.Logger
}

// NewSender creates a sender. Non-positive attempts or delay select the
// defaults.
func NewSender(store graph.Store, attempts int, baseDelay time.Duration, logger *zap.Logger) *Sender {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		store:     store,
		attempts:  attempts,
		baseDelay: baseDelay,
		logger:    logger.Named("outbox"),
	}
}

// Send applies u, retrying transient failures. Binding-limit errors and
// context cancellation are returned immediately.
func (s *Sender) Send(ctx context.Context, label string, u *graph.Update) error {
	if u == nil || u.Empty() {
		return nil
	}
	delay := s.baseDelay
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		err = s.store.Apply(ctx, u)
		if err == nil {
			if attempt > 1 {
				s.logger.Info("batch applied after retry", zap.String("batch", label), zap.Int("attempt", attempt))
			}
			return nil
		}
		if !retryable(err) || attempt == s.attempts {
			break
		}
		s.logger.Warn("batch failed, retrying",
			zap.String("batch", label),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return fmt.Errorf("apply %s: %w", label, err)
}

func retryable(err error) bool {
	return !errors.Is(err, graph.ErrBindingLimit) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}
