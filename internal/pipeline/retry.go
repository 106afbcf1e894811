package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rohits-web03/memoscribe/internal/apperr"
	"github.com/sirupsen/logrus"
)

// RetryPolicy bounds how often a failing provider call is repeated. With the
// defaults a call runs at most three times, waiting 1s and then 4s.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      2,
		InitialInterval: time.Second,
		Multiplier:      4,
		MaxInterval:     30 * time.Second,
	}
}

func (p RetryPolicy) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.Reset()
	return b
}

// ceiling is the longest single wait, provider hints included.
func (p RetryPolicy) ceiling() time.Duration {
	if p.MaxInterval > 0 {
		return p.MaxInterval
	}
	return backoff.DefaultMaxInterval
}

// hintedBackOff waits at least as long as the provider asked for, but never
// longer than max.
type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
	max  time.Duration
}

func (h *hintedBackOff) NextBackOff() time.Duration {
	next := h.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if h.hint > next {
		next = h.hint
	}
	h.hint = 0
	if h.max > 0 && next > h.max {
		next = h.max
	}
	return next
}

// retry runs fn until it succeeds, fails with a non-retryable error, or the
// policy is exhausted. The last error is returned unchanged.
func retry[T any](ctx context.Context, p RetryPolicy, log logrus.FieldLogger, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	hinted := &hintedBackOff{
		BackOff: backoff.WithMaxRetries(p.exponential(), p.MaxRetries),
		max:     p.ceiling(),
	}
	b := backoff.WithContext(hinted, ctx)

	attempt := 0
	operation := func() (T, error) {
		attempt++
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		appErr, ok := apperr.As(err)
		if !ok || !appErr.Retryable() {
			return res, backoff.Permanent(err)
		}
		if appErr.RetryAfter > 0 {
			hinted.hint = appErr.RetryAfter
		}
		return res, err
	}
	notify := func(err error, next time.Duration) {
		log.WithFields(logrus.Fields{
			"op":           op,
			"attempt":      attempt,
			"next_backoff": next.String(),
			"kind":         apperr.KindOf(err),
		}).WithError(err).Warn("retrying after transient failure")
	}

	return backoff.RetryNotifyWithData(operation, b, notify)
}
