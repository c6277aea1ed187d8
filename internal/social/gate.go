package social

import (
	"context"
	"strings"
	"sync"
	"time"

	"myrcat/internal/storage"
	logx "myrcat/pkg/logx"
)

// GateSettings is the per-platform gating policy.
type GateSettings struct {
	// TestingMode bypasses both frequency and dedup gating.
	TestingMode bool

	// PostFrequency is the minimum gap between successful posts.
	// Zero disables frequency gating.
	PostFrequency time.Duration

	// ArtistRepostWindow rejects reposting the same artist within the
	// window. Only consulted when DedupSensitive is set.
	ArtistRepostWindow time.Duration

	DedupSensitive bool

	// Normalize enables case-folded, whitespace-collapsed artist matching.
	Normalize bool
}

// Gate decides whether a platform may post right now. It is read-only: the
// dispatcher updates the runtime's last-post time only after a confirmed
// successful publish. The gate never fails a dispatch: store errors are
// logged and default to allow.
type Gate struct {
	store storage.Store
	rt    *Runtime
	log   logx.Logger
	now   func() time.Time

	mu       sync.Mutex
	settings map[string]GateSettings
}

func NewGate(store storage.Store, rt *Runtime, log logx.Logger) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gate{
		store:    store,
		rt:       rt,
		log:      log,
		now:      time.Now,
		settings: map[string]GateSettings{},
	}
}

// Apply replaces the per-platform gating policy (config reload).
func (g *Gate) Apply(settings map[string]GateSettings) {
	cp := make(map[string]GateSettings, len(settings))
	for k, v := range settings {
		cp[k] = v
	}
	g.mu.Lock()
	g.settings = cp
	g.mu.Unlock()
}

func (g *Gate) policy(platform string) GateSettings {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.settings[platform]
}

// ShouldPostNow reports whether the frequency gate allows a post: true in
// testing mode, when no prior successful post exists, or once the
// configured gap has elapsed since the last one.
func (g *Gate) ShouldPostNow(ctx context.Context, platform string) bool {
	pol := g.policy(platform)
	if pol.TestingMode || pol.PostFrequency <= 0 {
		return true
	}

	last, ok := g.rt.LastPost(platform)
	if !ok {
		// Cold cache: fall back to the store once.
		t, found, err := g.store.LastPostTime(ctx, platform)
		if err != nil {
			g.log.Warn("gate: last post lookup failed; allowing",
				logx.String("platform", platform), logx.Err(err))
			return true
		}
		if !found {
			return true
		}
		g.rt.SeedLastPost(platform, t)
		last = t
	}

	return g.now().Sub(last) >= pol.PostFrequency
}

// ArtistRecentlyPosted reports whether a non-deleted post for the same
// artist exists within the repost window. Platforms that are not
// dedup-sensitive are never blocked here.
func (g *Gate) ArtistRecentlyPosted(ctx context.Context, platform, artist string) bool {
	pol := g.policy(platform)
	if pol.TestingMode || !pol.DedupSensitive || pol.ArtistRepostWindow <= 0 {
		return false
	}

	since := g.now().Add(-pol.ArtistRepostWindow)
	artists, err := g.store.ArtistsPostedSince(ctx, platform, since)
	if err != nil {
		g.log.Warn("gate: artist dedup lookup failed; allowing",
			logx.String("platform", platform), logx.Err(err))
		return false
	}

	want := artist
	if pol.Normalize {
		want = normalizeArtist(artist)
	}
	for _, a := range artists {
		if pol.Normalize {
			a = normalizeArtist(a)
		}
		if a == want {
			return true
		}
	}
	return false
}

// normalizeArtist case-folds and collapses internal whitespace so
// "The Beatles" and "the  beatles" gate each other.
func normalizeArtist(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
