package ai

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"

	"github.com/suPer8Hu/pharmacy-platform/internal/metrics"
)

var ErrAllProvidersExhausted = errors.New("all ai providers exhausted")

// ProviderFactory binds a provider to one credential from the pool.
type ProviderFactory func(apiKey string) Provider

// KeyRotatingClient tries each credential of a fixed, ordered pool once,
// sequentially, and returns the first successful reply.
type KeyRotatingClient struct {
	keys           []string
	factory        ProviderFactory
	attemptTimeout time.Duration
	log            zerolog.Logger
	metrics        *metrics.Metrics
}

type KeyRotatingOption func(*KeyRotatingClient)

// WithAttemptTimeout bounds each credential attempt. Zero leaves only the
// caller's context and the transport timeout in effect.
func WithAttemptTimeout(d time.Duration) KeyRotatingOption {
	return func(c *KeyRotatingClient) { c.attemptTimeout = d }
}

func WithLogger(l zerolog.Logger) KeyRotatingOption {
	return func(c *KeyRotatingClient) { c.log = l }
}

func WithMetrics(m *metrics.Metrics) KeyRotatingOption {
	return func(c *KeyRotatingClient) { c.metrics = m }
}

func NewKeyRotatingClient(keys []string, factory ProviderFactory, opts ...KeyRotatingOption) *KeyRotatingClient {
	c := &KeyRotatingClient{
		keys:    append([]string(nil), keys...),
		factory: factory,
		log:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewOpenRouterKeyRing wires the pool to OpenRouter with a shared model and
// transport.
func NewOpenRouterKeyRing(baseURL string, keys []string, model, siteURL, appName string, opts ...KeyRotatingOption) *KeyRotatingClient {
	shared := NewOpenRouterProvider(baseURL, "", model, siteURL, appName)
	factory := func(apiKey string) Provider {
		p := *shared
		p.APIKey = apiKey
		return &p
	}
	return NewKeyRotatingClient(keys, factory, opts...)
}

// Complete returns ErrAllProvidersExhausted when no credential produced a
// successful reply. Empty pool slots are skipped and do not count as attempts.
func (c *KeyRotatingClient) Complete(ctx context.Context, prompt string) (string, error) {
	msgs := []Message{{Role: "user", Content: prompt}}

	attempts := 0
	var lastErr error
	for slot, key := range c.keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		attempts++

		actx, cancel := ctx, context.CancelFunc(func() {})
		if c.attemptTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		}
		start := time.Now()
		reply, err := c.factory(key).Chat(actx, msgs)
		cancel()

		ev := c.log.With().
			Int("slot", slot).
			Str("key_fp", Fingerprint(key)).
			Dur("took", time.Since(start)).
			Logger()

		if err == nil {
			c.metrics.ProviderAttempt("ok")
			ev.Debug().Msg("ai completion succeeded")
			return reply, nil
		}

		c.metrics.ProviderAttempt(attemptOutcome(err))
		var se *StatusError
		if errors.As(err, &se) {
			ev.Warn().Int("status", se.StatusCode).Msg("ai completion rejected, rotating credential")
		} else {
			ev.Warn().Err(err).Msg("ai completion failed, rotating credential")
		}
		lastErr = err
	}

	// a caller that gave up mid-attempt is not an exhausted pool
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if attempts == 0 {
		return "", fmt.Errorf("%w: no credentials configured", ErrAllProvidersExhausted)
	}
	return "", fmt.Errorf("%w after %d attempt(s): %v", ErrAllProvidersExhausted, attempts, lastErr)
}

func attemptOutcome(err error) string {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return "status"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// Fingerprint identifies a credential in logs without revealing it.
func Fingerprint(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}
