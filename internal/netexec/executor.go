package netexec

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "myrcat/pkg/logx"
)

// Config controls retry behavior for outbound platform calls.
type Config struct {
	MaxRetries    int
	RetryDelay    time.Duration
	BackoffFactor float64
	JitterFactor  float64 // 0.25 = ±25%
	CallTimeout   time.Duration

	// RatePerMinute bounds outbound calls per platform. 0 disables limiting.
	RatePerMinute int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = 2
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	return c
}

// Executor wraps outbound calls with bounded retry, backoff with jitter and
// per-platform rate limiting. It is the only code path that talks to
// platform APIs and has no platform-specific knowledge.
type Executor struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	rng *rand.Rand

	limiters map[string]*rate.Limiter

	// sleep is swapped in tests to observe retry delays.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{
		cfg:      cfg.withDefaults(),
		log:      log,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		limiters: map[string]*rate.Limiter{},
		sleep:    sleepCtx,
	}
}

// Apply swaps the retry policy at runtime. Existing limiters keep their
// accumulated burst state unless the rate itself changed.
func (x *Executor) Apply(cfg Config) {
	x.mu.Lock()
	cfg = cfg.withDefaults()
	if cfg.RatePerMinute != x.cfg.RatePerMinute {
		x.limiters = map[string]*rate.Limiter{}
	}
	x.cfg = cfg
	x.mu.Unlock()
}

func (x *Executor) limiter(platform string) *rate.Limiter {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.cfg.RatePerMinute <= 0 {
		return nil
	}
	key := strings.ToLower(platform)
	lim := x.limiters[key]
	if lim == nil {
		perSec := float64(x.cfg.RatePerMinute) / 60.0
		lim = rate.NewLimiter(rate.Limit(perSec), x.cfg.RatePerMinute)
		x.limiters[key] = lim
	}
	return lim
}

func (x *Executor) snapshot() Config {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.cfg
}

// Do invokes call, retrying transient failures with exponential backoff and
// jitter. Permanent, credential and token-expiry errors fail immediately.
// Exhausting retries surfaces the last transient error wrapped in
// ExhaustedError.
func (x *Executor) Do(ctx context.Context, platform, op string, call func(ctx context.Context) error) error {
	cfg := x.snapshot()
	maxAttempts := 1 + cfg.MaxRetries

	if lim := x.limiter(platform); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		err = call(callCtx)
		cancel()

		if err == nil {
			if attempt > 1 {
				x.log.Info("call recovered",
					logx.String("platform", platform), logx.String("op", op), logx.Int("attempt", attempt))
			}
			return nil
		}
		if IsPermanent(err) || errors.Is(err, context.Canceled) {
			return err
		}
		if attempt >= maxAttempts {
			break
		}

		delay := x.backoffDelay(cfg, attempt, err)
		x.log.Debug("call retry scheduled",
			logx.String("platform", platform), logx.String("op", op),
			logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		if serr := x.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return &ExhaustedError{Attempts: maxAttempts, Err: err}
}

// backoffDelay computes retryDelay * backoffFactor^(attempt-1), perturbed by
// uniform jitter. Retry-after hints from rate-limit errors take precedence
// over the computed base, jitter still applies.
func (x *Executor) backoffDelay(cfg Config, attempt int, err error) time.Duration {
	d := cfg.RetryDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * cfg.BackoffFactor)
	}

	var ra RetryAfterError
	if errors.As(err, &ra) && ra.RetryAfter() > 0 {
		d = ra.RetryAfter()
	}

	if cfg.JitterFactor > 0 {
		x.mu.Lock()
		r := (x.rng.Float64()*2 - 1) * cfg.JitterFactor
		x.mu.Unlock()
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
