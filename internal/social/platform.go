package social

import (
	"context"
	"sync"
	"time"

	"myrcat/internal/models"
)

// PublishRequest carries everything a platform client needs for one post.
type PublishRequest struct {
	Track models.Track
	Text  string

	// ImagePath is a local path to published artwork, empty when no image
	// should be attached.
	ImagePath string

	// Token is the current stored credential for platforms that use the
	// token store. Self-credentialed platforms (API key in config) get a
	// zero Token.
	Token models.Token
}

// PublishResult reports the remote id of the created post. Synthetic is set
// when the platform returned no usable id and the client synthesized a
// local placeholder; such posts are never polled for engagement.
type PublishResult struct {
	RemoteID  string
	Synthetic bool
}

// Metrics is one engagement measurement for a remote post.
type Metrics struct {
	Likes    int
	Shares   int
	Comments int
	Clicks   int
}

// Platform is the minimal capability every registered platform implements.
// Adding a platform means registering a new implementation; nothing in the
// dispatcher or poller branches on platform names.
type Platform interface {
	Name() string

	// DedupSensitive reports whether artist-repost gating applies by
	// default. Scrobble platforms return false: repeated scrobbles of the
	// same artist are expected behavior, not spam.
	DedupSensitive() bool

	Publish(ctx context.Context, req PublishRequest) (PublishResult, error)
}

// EngagementChecker is implemented by platforms whose posts can be polled
// for likes/shares/comments/clicks.
type EngagementChecker interface {
	CheckEngagement(ctx context.Context, remoteID string, token models.Token) (Metrics, error)
}

// TokenValidator is implemented by platforms with a remote validation
// endpoint for stored credentials.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token models.Token) error
}

// TokenRefresher is implemented by platforms whose stored credential can be
// exchanged for a fresh one using app-level credentials.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, current models.Token) (models.Token, error)
}

// TokenGenerator is implemented by platforms supporting interactive token
// acquisition through the management CLI. prompt asks the operator for
// input (e.g. a pasted short-lived token) and returns the entered text.
type TokenGenerator interface {
	GenerateToken(ctx context.Context, prompt func(msg string) (string, error)) (models.Token, error)
}

// Registry maps platform names to implementations, preserving registration
// order so reports and dispatch logs stay deterministic.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]Platform
	order []string
}

func NewRegistry() *Registry {
	return &Registry{byKey: map[string]Platform{}}
}

func (r *Registry) Register(ps ...Platform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range ps {
		if p == nil {
			continue
		}
		name := p.Name()
		if _, exists := r.byKey[name]; !exists {
			r.order = append(r.order, name)
		}
		r.byKey[name] = p
	}
}

func (r *Registry) Get(name string) (Platform, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byKey[name]
	return p, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) All() []Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Platform, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byKey[name])
	}
	return out
}

// PlatformState is the in-memory runtime state for one platform. It is
// rebuilt from the store at process start; losing it on restart only means
// re-validating on first use.
type PlatformState struct {
	LastPost    time.Time
	TokenState  State
	LastChecked time.Time
	RefreshedAt time.Time
}

// Runtime holds per-platform runtime state, owned by the credential
// manager and shared with the gate and dispatcher.
type Runtime struct {
	mu sync.Mutex
	m  map[string]*PlatformState
}

func NewRuntime() *Runtime {
	return &Runtime{m: map[string]*PlatformState{}}
}

func (r *Runtime) get(platform string) *PlatformState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.m[platform]
	if st == nil {
		st = &PlatformState{TokenState: StateUnknown}
		r.m[platform] = st
	}
	return st
}

// LastPost returns the cached last successful post time.
func (r *Runtime) LastPost(platform string) (time.Time, bool) {
	st := r.get(platform)
	r.mu.Lock()
	defer r.mu.Unlock()
	return st.LastPost, !st.LastPost.IsZero()
}

// NotePosted records a confirmed successful publish.
func (r *Runtime) NotePosted(platform string, at time.Time) {
	st := r.get(platform)
	r.mu.Lock()
	defer r.mu.Unlock()
	if at.After(st.LastPost) {
		st.LastPost = at
	}
}

// SeedLastPost primes the cache from the store at startup.
func (r *Runtime) SeedLastPost(platform string, at time.Time) {
	st := r.get(platform)
	r.mu.Lock()
	defer r.mu.Unlock()
	if st.LastPost.IsZero() {
		st.LastPost = at
	}
}

func (r *Runtime) tokenState(platform string) (State, time.Time) {
	st := r.get(platform)
	r.mu.Lock()
	defer r.mu.Unlock()
	return st.TokenState, st.LastChecked
}

func (r *Runtime) setTokenState(platform string, s State, checked time.Time) {
	st := r.get(platform)
	r.mu.Lock()
	defer r.mu.Unlock()
	st.TokenState = s
	st.LastChecked = checked
}

func (r *Runtime) refreshedAt(platform string) time.Time {
	st := r.get(platform)
	r.mu.Lock()
	defer r.mu.Unlock()
	return st.RefreshedAt
}

func (r *Runtime) noteRefreshed(platform string, at time.Time) {
	st := r.get(platform)
	r.mu.Lock()
	defer r.mu.Unlock()
	st.TokenState = StateValid
	st.LastChecked = at
	st.RefreshedAt = at
}
