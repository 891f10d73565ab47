package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/dgallion1/docweave/internal/vlm"
)

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *vlm.RetryableError
	return errors.As(err, &retryErr)
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

const MaxRetries = 3

// retryModel retries transient model failures (429, 5xx) with backoff.
type retryModel struct {
	vlm.Model
	log     *slog.Logger
	backoff func(attempt int) time.Duration
}

func withRetry(m vlm.Model, log *slog.Logger) *retryModel {
	return &retryModel{Model: m, log: log, backoff: Backoff}
}

func (m *retryModel) Generate(ctx context.Context, req vlm.Request) (string, error) {
	var (
		answer  string
		lastErr error
	)
	for attempt := range MaxRetries {
		answer, lastErr = m.Model.Generate(ctx, req)
		if lastErr == nil || !IsRetryable(lastErr) || attempt == MaxRetries-1 {
			break
		}
		m.log.Warn("retryable model error", "page", req.Page, "attempt", attempt, "error", lastErr)
		select {
		case <-time.After(m.backoff(attempt)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return answer, lastErr
}
