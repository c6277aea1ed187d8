package social

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"myrcat/internal/models"
	"myrcat/internal/netexec"
	"myrcat/internal/storage"
	logx "myrcat/pkg/logx"
)

// State is the credential lifecycle state for one platform.
type State int

const (
	StateUnknown State = iota
	StateValid
	StateExpiringSoon
	StateInvalid
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateExpiringSoon:
		return "expiring_soon"
	case StateInvalid:
		return "invalid"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// CredentialsConfig tunes the lifecycle manager.
type CredentialsConfig struct {
	// WarnThreshold moves Valid tokens to ExpiringSoon once remaining
	// lifetime drops below it. Default 7 days.
	WarnThreshold time.Duration

	// ValidationInterval bounds how often validation recomputes state
	// (and hits remote validation endpoints). Default 5 minutes.
	ValidationInterval time.Duration
}

func (c CredentialsConfig) withDefaults() CredentialsConfig {
	if c.WarnThreshold <= 0 {
		c.WarnThreshold = 7 * 24 * time.Hour
	}
	if c.ValidationInterval <= 0 {
		c.ValidationInterval = 5 * time.Minute
	}
	return c
}

// Credentials keeps platform tokens alive: it computes lifecycle state from
// stored expiry data, refreshes expiring tokens through the platform's
// refresher, and persists every new token as a fresh history row.
//
// Refresh is serialized per platform: concurrent callers wait on the same
// lock and adopt the completed refresh instead of issuing a duplicate
// exchange (which can invalidate the token in flight on some providers).
type Credentials struct {
	store storage.Store
	reg   *Registry
	rt    *Runtime
	exec  *netexec.Executor
	log   logx.Logger
	now   func() time.Time
	cfg   CredentialsConfig

	mu        sync.Mutex
	refreshMu map[string]*sync.Mutex
}

func NewCredentials(store storage.Store, reg *Registry, rt *Runtime, exec *netexec.Executor, cfg CredentialsConfig, log logx.Logger) *Credentials {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Credentials{
		store:     store,
		reg:       reg,
		rt:        rt,
		exec:      exec,
		log:       log,
		now:       time.Now,
		cfg:       cfg.withDefaults(),
		refreshMu: map[string]*sync.Mutex{},
	}
}

func (c *Credentials) lock(platform string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	mu := c.refreshMu[platform]
	if mu == nil {
		mu = &sync.Mutex{}
		c.refreshMu[platform] = mu
	}
	return mu
}

// tokenBacked reports whether the platform posts with a stored token (as
// opposed to static credentials in its own config block).
func tokenBacked(p Platform) bool {
	if _, ok := p.(TokenRefresher); ok {
		return true
	}
	if _, ok := p.(TokenValidator); ok {
		return true
	}
	return false
}

// Validate returns the current lifecycle state for a platform. Results are
// cached for the configured validation interval to bound remote calls.
func (c *Credentials) Validate(ctx context.Context, platform string) State {
	now := c.now()
	if st, checked := c.rt.tokenState(platform); st != StateUnknown && now.Sub(checked) < c.cfg.ValidationInterval {
		return st
	}

	st := c.computeState(ctx, platform)
	c.rt.setTokenState(platform, st, now)
	return st
}

func (c *Credentials) computeState(ctx context.Context, platform string) State {
	p, ok := c.reg.Get(platform)
	if !ok {
		return StateUnknown
	}
	if !tokenBacked(p) {
		// Static credentials: assume valid until a publish proves otherwise.
		return StateValid
	}

	tok, err := c.store.CurrentToken(ctx, platform)
	if errors.Is(err, storage.ErrNotFound) {
		return StateInvalid
	}
	if err != nil {
		c.log.Warn("token lookup failed", logx.String("platform", platform), logx.Err(err))
		return StateUnknown
	}

	now := c.now()
	if tok.Expires() {
		ttl := tok.TTL(now)
		switch {
		case ttl <= 0:
			return StateInvalid
		case ttl <= c.cfg.WarnThreshold:
			c.log.Warn("token expiring soon",
				logx.String("platform", platform), logx.Duration("ttl", ttl))
			return StateExpiringSoon
		default:
			return StateValid
		}
	}

	// Unknown expiry: consult the remote validation endpoint if the
	// platform has one, otherwise assume valid.
	if v, ok := p.(TokenValidator); ok {
		err := c.exec.Do(ctx, platform, "validate_token", func(ctx context.Context) error {
			return v.ValidateToken(ctx, tok)
		})
		if err != nil {
			c.log.Warn("token validation failed", logx.String("platform", platform), logx.Err(err))
			return StateInvalid
		}
	}
	return StateValid
}

// MarkInvalid flags a platform's credential after a failed publish so the
// next dispatch goes through refresh.
func (c *Credentials) MarkInvalid(platform string) {
	c.rt.setTokenState(platform, StateInvalid, c.now())
}

// Current returns the authoritative token for posting: the most recently
// created row.
func (c *Credentials) Current(ctx context.Context, platform string) (models.Token, error) {
	return c.store.CurrentToken(ctx, platform)
}

// Refresh exchanges the platform's current token for a new one and persists
// it without touching history. Serialized per platform; a caller that
// waited out another refresh adopts its result.
func (c *Credentials) Refresh(ctx context.Context, platform string) (models.Token, error) {
	p, ok := c.reg.Get(platform)
	if !ok {
		return models.Token{}, &netexec.CredentialError{Platform: platform, Reason: "unknown platform"}
	}
	refresher, ok := p.(TokenRefresher)
	if !ok {
		return models.Token{}, &netexec.CredentialError{Platform: platform, Reason: "refresh not supported"}
	}

	mu := c.lock(platform)
	mu.Lock()
	defer mu.Unlock()

	now := c.now()

	// Another caller may have refreshed while we waited on the lock.
	if refreshedAt := c.rt.refreshedAt(platform); now.Sub(refreshedAt) < c.cfg.ValidationInterval {
		if tok, err := c.store.CurrentToken(ctx, platform); err == nil {
			return tok, nil
		}
	}

	current, err := c.store.CurrentToken(ctx, platform)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Token{}, &netexec.CredentialError{Platform: platform, Reason: "no token to refresh; generate one first"}
	}
	if err != nil {
		return models.Token{}, &netexec.StoreError{Err: err}
	}

	c.rt.setTokenState(platform, StateRefreshing, now)

	var fresh models.Token
	err = c.exec.Do(ctx, platform, "refresh_token", func(ctx context.Context) error {
		var rerr error
		fresh, rerr = refresher.RefreshToken(ctx, current)
		return rerr
	})
	if err != nil {
		c.rt.setTokenState(platform, StateInvalid, c.now())
		var ce *netexec.CredentialError
		if errors.As(err, &ce) {
			return models.Token{}, err
		}
		return models.Token{}, &netexec.CredentialError{Platform: platform, Reason: fmt.Sprintf("token exchange failed: %v", err)}
	}

	fresh.Platform = platform
	if fresh.CreatedAt.IsZero() {
		fresh.CreatedAt = c.now()
	}
	if _, err := c.store.InsertToken(ctx, fresh); err != nil {
		c.rt.setTokenState(platform, StateInvalid, c.now())
		return models.Token{}, &netexec.StoreError{Err: err}
	}

	c.rt.noteRefreshed(platform, c.now())
	c.log.Info("token refreshed",
		logx.String("platform", platform), logx.Time("expires_at", fresh.ExpiresAt))
	return fresh, nil
}

// Generate runs interactive token acquisition for platforms that support
// it and persists the result.
func (c *Credentials) Generate(ctx context.Context, platform string, prompt func(msg string) (string, error)) (models.Token, error) {
	p, ok := c.reg.Get(platform)
	if !ok {
		return models.Token{}, &netexec.CredentialError{Platform: platform, Reason: "unknown platform"}
	}
	gen, ok := p.(TokenGenerator)
	if !ok {
		return models.Token{}, &netexec.CredentialError{Platform: platform, Reason: "interactive token generation not supported"}
	}

	tok, err := gen.GenerateToken(ctx, prompt)
	if err != nil {
		return models.Token{}, err
	}
	tok.Platform = platform
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = c.now()
	}
	if _, err := c.store.InsertToken(ctx, tok); err != nil {
		return models.Token{}, &netexec.StoreError{Err: err}
	}
	c.rt.noteRefreshed(platform, c.now())
	return tok, nil
}

// Status summarizes one platform's credential for the management CLI.
type Status struct {
	Platform  string
	State     State
	HasToken  bool
	CreatedAt time.Time
	ExpiresAt time.Time
	TTL       time.Duration
}

func (c *Credentials) Status(ctx context.Context, platform string) Status {
	st := Status{Platform: platform, State: c.Validate(ctx, platform)}
	tok, err := c.store.CurrentToken(ctx, platform)
	if err == nil {
		st.HasToken = true
		st.CreatedAt = tok.CreatedAt
		st.ExpiresAt = tok.ExpiresAt
		if tok.Expires() {
			st.TTL = tok.TTL(c.now())
		}
	}
	return st
}
