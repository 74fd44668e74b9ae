package game

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"
)

// RetryPolicy bounds how often a failing backend or chain call is retried.
// Backoff doubles per attempt up to BackoffMax.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	BackoffMax time.Duration
}

// permanent errors carry a definitive answer; retrying cannot change it.
var permanent = []error{
	domain.ErrUnauthorized,
	domain.ErrAlreadyJoined,
	domain.ErrPositionClosed,
	domain.ErrGrantExpired,
	domain.ErrNotFound,
	domain.ErrGameBusy,
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	for _, p := range permanent {
		if errors.Is(err, p) {
			return false
		}
	}
	return true
}

// retry runs fn up to p.Attempts times, sleeping with doubling backoff
// between failures. It returns the last error, or immediately on a
// permanent error or cancelled context.
func (p RetryPolicy) retry(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.Backoff

	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !Retryable(err) || ctx.Err() != nil {
			return err
		}
		if i == attempts {
			break
		}

		logger.Warn("operation failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", i),
			slog.Duration("backoff", backoff),
			slog.Any("error", err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if p.BackoffMax > 0 && backoff > p.BackoffMax {
			backoff = p.BackoffMax
		}
	}
	return err
}
