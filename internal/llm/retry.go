package llm

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

type RetryPolicy struct {
	// MaxAttempts counts the first call. Values below 2 disable retries.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 1,
		BaseDelay:   2 * time.Second,
		MaxDelay:    15 * time.Second,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(1.5, float64(attempt)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Retrying wraps a Completer with exponential backoff.
type Retrying struct {
	next   Completer
	policy RetryPolicy
	logger logrus.FieldLogger
}

func NewRetrying(next Completer, policy RetryPolicy, logger logrus.FieldLogger) *Retrying {
	return &Retrying{next: next, policy: policy, logger: logger}
}

func (r *Retrying) Complete(ctx context.Context, req Request) (string, error) {
	attempts := r.policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		out, err := r.next.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}

		delay := r.policy.delay(attempt)
		r.logger.WithFields(logrus.Fields{
			"model":   req.Model,
			"attempt": attempt + 1,
			"delay":   delay,
			"error":   err.Error(),
		}).Warn("Retrying completion")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}

	if attempts > 1 {
		return "", fmt.Errorf("completion failed after %d attempts: %w", attempts, lastErr)
	}
	return "", lastErr
}
