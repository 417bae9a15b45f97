// Package retry runs operations with exponential backoff.
package retry

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/kvgate/kvgate/pkg/apperrors"
)

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0, +/- share of each delay
}

// DefaultConfig waits for a Redis server to come up: 5 retries starting at
// 200ms, capped at 3s, doubling each time, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     3 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// backoff yields successive delays for one retry loop.
type backoff struct {
	cfg   *Config
	delay time.Duration
}

func newBackoff(cfg *Config) *backoff {
	return &backoff{cfg: cfg, delay: cfg.InitialDelay}
}

// wait sleeps for the current delay, then grows it. Returns ctx.Err() if the
// context ends first.
func (b *backoff) wait(ctx context.Context) error {
	t := time.NewTimer(jitter(b.delay, b.cfg.JitterFactor))
	defer t.Stop()

	select {
	case <-t.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	b.delay = time.Duration(float64(b.delay) * b.cfg.Multiplier)
	if b.cfg.MaxDelay > 0 && b.delay > b.cfg.MaxDelay {
		b.delay = b.cfg.MaxDelay
	}
	return nil
}

// jitter returns delay +/- (delay * factor * random(-1 to +1)).
func jitter(delay time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return delay
	}
	j := float64(delay) * factor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + j)
}

// DoIfRetryable executes fn with exponential backoff while it fails with a
// retryable error. Anything else, such as a rejected password, is returned
// immediately. Returns the last error, or ctx.Err() if cancelled while
// waiting.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	b := newBackoff(cfg)
	var err error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt == cfg.MaxRetries {
			break
		}
		if werr := b.wait(ctx); werr != nil {
			return werr
		}
	}
	return err
}

// permanentPatterns mark server replies that stay the same however often the
// request is repeated, even when wrapped as a lost connection.
var permanentPatterns = []string{
	"wrongpass",
	"noauth",
	"invalid password",
	"invalid username-password",
}

// IsRetryable reports whether err is transient and worth retrying.
// A rejected credential never is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range permanentPatterns {
		if strings.Contains(msg, pattern) {
			return false
		}
	}
	return apperrors.IsConnectivity(err)
}
