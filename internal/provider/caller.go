package provider

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"

	"github.com/docurag/docurag/pkg/config"
	"github.com/docurag/docurag/pkg/types"
)

const shortRetryDelay = time.Second

// Caller wraps a primary adapter and an ordered fallback chain with the
// configured retry policy and per-provider request pacing. It exposes
// the same generation and embedding surface as an Adapter, so the rest
// of the engine never talks to a backend directly.
//
// Retries happen per adapter; only after the primary exhausts its
// attempts does the call move to the next fallback. Fallback applies to
// generation and batch embedding. Single-text embeddings retry on the
// primary only: they back query-time lookups where switching embedding
// models would make the vector incomparable with the stored corpus.
type Caller struct {
	primary   Adapter
	fallbacks []Adapter
	retry     config.RetryConfig
	gates     map[Kind]*Gate
	logger    hclog.Logger
}

// NewCaller builds a resilient caller. fallbacks may be empty.
func NewCaller(primary Adapter, fallbacks []Adapter, retry config.RetryConfig, logger hclog.Logger) *Caller {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	gates := make(map[Kind]*Gate)
	for _, a := range append([]Adapter{primary}, fallbacks...) {
		if iv := a.EmbedMinInterval(); iv > 0 {
			gates[a.Kind()] = NewGate(iv)
		}
	}
	return &Caller{
		primary:   primary,
		fallbacks: fallbacks,
		retry:     retry,
		gates:     gates,
		logger:    logger.Named("caller"),
	}
}

// Primary returns the wrapped primary adapter.
func (c *Caller) Primary() Adapter { return c.primary }

func (c *Caller) GenerateText(ctx context.Context, prompt string) (string, error) {
	var out string
	err := c.withFallback(ctx, "generate_text", func(ctx context.Context, a Adapter) error {
		var err error
		out, err = a.GenerateText(ctx, prompt)
		return err
	})
	return out, err
}

func (c *Caller) GenerateChat(ctx context.Context, messages []types.Message) (string, error) {
	var out string
	err := c.withFallback(ctx, "generate_chat", func(ctx context.Context, a Adapter) error {
		var err error
		out, err = a.GenerateChat(ctx, messages)
		return err
	})
	return out, err
}

func (c *Caller) EmbedOne(ctx context.Context, text string) (types.Vector, error) {
	var out types.Vector
	err := c.withRetry(ctx, c.primary, "embed_one", func(ctx context.Context, a Adapter) error {
		var err error
		out, err = a.EmbedOne(ctx, text)
		return err
	})
	return out, err
}

func (c *Caller) EmbedBatch(ctx context.Context, texts []string) ([]types.Vector, error) {
	var out []types.Vector
	err := c.withFallback(ctx, "embed_batch", func(ctx context.Context, a Adapter) error {
		var err error
		out, err = a.EmbedBatch(ctx, texts)
		return err
	})
	return out, err
}

// withFallback runs op against the primary with retries, then walks the
// fallback chain. The first adapter's error is returned when every
// adapter fails: it names the backend the operator actually configured.
func (c *Caller) withFallback(ctx context.Context, op string, fn func(context.Context, Adapter) error) error {
	firstErr := c.withRetry(ctx, c.primary, op, fn)
	if firstErr == nil {
		return nil
	}
	var pe *Error
	if errors.As(firstErr, &pe) && pe.Kind == KindCancelled {
		return firstErr
	}

	for _, fb := range c.fallbacks {
		c.logger.Warn("primary provider exhausted, trying fallback",
			"op", op, "primary", c.primary.Kind(), "fallback", fb.Kind(), "error", firstErr)
		if err := c.withRetry(ctx, fb, op, fn); err == nil {
			return nil
		} else if errors.As(err, &pe) && pe.Kind == KindCancelled {
			return err
		}
	}
	return firstErr
}

// withRetry runs op against one adapter under the configured retry
// policy. Embedding ops are paced through the adapter's gate.
func (c *Caller) withRetry(ctx context.Context, a Adapter, op string, fn func(context.Context, Adapter) error) error {
	gated := op == "embed_one" || op == "embed_batch"
	attempts := c.retry.MaxRetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	bo := c.newBackOff()
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if gated {
			if err := c.gates[a.Kind()].Acquire(ctx); err != nil {
				return classify(a.Kind(), op, err)
			}
		}
		err := fn(ctx, a)
		if gated {
			c.gates[a.Kind()].Release()
		}
		if err == nil {
			return nil
		}
		lastErr = err

		var pe *Error
		if !errors.As(err, &pe) {
			pe = classify(a.Kind(), op, err)
		}
		if pe.Kind == KindCancelled {
			return err
		}
		if !pe.Retryable() && !pe.ShortDelay() {
			return err
		}
		if attempt == attempts {
			break
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		if pe.ShortDelay() {
			// Backend restart in progress; a short fixed pause beats
			// the configured curve.
			delay = shortRetryDelay
		}
		c.logger.Warn("provider call failed, retrying",
			"op", op, "provider", a.Kind(), "attempt", attempt,
			"max_attempts", attempts, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return classify(a.Kind(), op, ctx.Err())
		}
	}
	return lastErr
}

// newBackOff maps the configured retry policy to a backoff source. The
// exponential curve doubles from the base delay and caps at one minute;
// randomization is disabled so delays are predictable in tests and
// logs.
func (c *Caller) newBackOff() backoff.BackOff {
	base := c.retry.BaseDelay()
	switch c.retry.RetryPolicy {
	case config.RetryFixedDelay:
		return backoff.NewConstantBackOff(base)
	case config.RetryLinearBackoff:
		return &linearBackOff{base: base}
	case config.RetryExponentialBackoff:
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = base
		b.RandomizationFactor = 0
		b.Multiplier = 2
		b.MaxInterval = time.Minute
		b.MaxElapsedTime = 0
		return b
	default: // RetryNone
		return &backoff.StopBackOff{}
	}
}

// linearBackOff grows the delay by one base step per attempt, capped at
// one minute.
type linearBackOff struct {
	base time.Duration
	n    int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.n++
	d := time.Duration(l.n) * l.base
	if d > time.Minute {
		return time.Minute
	}
	return d
}

func (l *linearBackOff) Reset() { l.n = 0 }
