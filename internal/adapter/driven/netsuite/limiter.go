package netsuite

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
	"github.com/PDI-Technologies/ns-sub003/internal/metrics"
)

// RetryPolicy bounds the retries of throttled and transient remote calls.
// MaxAttempts counts the first call.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	Jitter      float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns exponential backoff starting at 500ms, doubling up
// to 30s, with 20% jitter and at most five attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2,
		Jitter:      0.2,
		MaxDelay:    30 * time.Second,
	}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(b, uint64(retries))
}

// retryAfterBackOff stretches the next delay to a server-provided Retry-After.
type retryAfterBackOff struct {
	backoff.BackOff
	maxDelay time.Duration
	hint     *time.Duration
}

func (b retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if hint := *b.hint; hint > next {
		next = hint
		if b.maxDelay > 0 && next > b.maxDelay {
			next = b.maxDelay
		}
	}
	*b.hint = 0
	return next
}

// Limiter gates every remote call behind a concurrency ceiling and retries
// throttled and transient failures according to its policy.
type Limiter struct {
	policy  RetryPolicy
	sem     *semaphore.Weighted
	metrics *metrics.Metrics
}

// NewLimiter creates a Limiter allowing at most concurrency calls in flight.
func NewLimiter(policy RetryPolicy, concurrency int) *Limiter {
	if concurrency < 1 {
		concurrency = 1
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Limiter{
		policy: policy,
		sem:    semaphore.NewWeighted(int64(concurrency)),
	}
}

// WithMetrics records retries on m.
func (l *Limiter) WithMetrics(m *metrics.Metrics) *Limiter {
	l.metrics = m
	return l
}

// Execute runs op, retrying it while it fails with a throttle or transient
// error and attempts remain. op must rebuild and re-sign its request on every
// call. The concurrency slot is released while waiting between attempts.
func (l *Limiter) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	var hint time.Duration
	attempt := 0

	operation := func() error {
		attempt++
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return backoff.Permanent(err)
		}
		err := op(ctx)
		l.sem.Release(1)

		if err == nil {
			return nil
		}
		if !model.IsRetryable(err) {
			return backoff.Permanent(err)
		}

		var rerr *model.RemoteError
		if errors.As(err, &rerr) {
			hint = rerr.RetryAfter
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		reason := "transient"
		if errors.Is(err, model.ErrThrottled) {
			reason = "throttled"
		}
		l.metrics.RecordRetry(reason)
		slog.Warn("retrying remote call",
			"attempt", attempt,
			"max_attempts", l.policy.MaxAttempts,
			"reason", reason,
			"wait", wait.Round(time.Millisecond),
			"error", err,
		)
	}

	b := retryAfterBackOff{BackOff: l.policy.backOff(), maxDelay: l.policy.MaxDelay, hint: &hint}
	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
}
