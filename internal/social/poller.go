package social

import (
	"context"
	"errors"
	"sync"
	"time"

	"myrcat/internal/models"
	"myrcat/internal/netexec"
	"myrcat/internal/storage"
	logx "myrcat/pkg/logx"
)

// PollerConfig tunes the engagement polling cycle.
type PollerConfig struct {
	// Lookback bounds how far back posts are polled. Default 7 days.
	Lookback time.Duration
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Lookback <= 0 {
		c.Lookback = 7 * 24 * time.Hour
	}
	return c
}

// Poller snapshots engagement metrics for recent posts on every platform
// that can report them. Each cycle appends measurement rows; nothing is
// overwritten, so analytics can compute deltas between snapshots.
type Poller struct {
	reg   *Registry
	creds *Credentials
	exec  *netexec.Executor
	store storage.Store
	log   logx.Logger
	now   func() time.Time

	mu  sync.Mutex
	cfg PollerConfig
}

func NewPoller(reg *Registry, creds *Credentials, exec *netexec.Executor, store storage.Store, cfg PollerConfig, log logx.Logger) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{
		reg:   reg,
		creds: creds,
		exec:  exec,
		store: store,
		log:   log,
		now:   time.Now,
		cfg:   cfg.withDefaults(),
	}
}

func (p *Poller) Apply(cfg PollerConfig) {
	p.mu.Lock()
	p.cfg = cfg.withDefaults()
	p.mu.Unlock()
}

func (p *Poller) lookback() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Lookback
}

// Run executes one polling cycle across all platforms. Per-post errors are
// logged and counted, never fatal; a platform with invalid credentials is
// skipped whole.
func (p *Poller) Run(ctx context.Context) error {
	since := p.now().Add(-p.lookback())

	for _, plat := range p.reg.All() {
		checker, ok := plat.(EngagementChecker)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p.pollPlatform(ctx, plat.Name(), checker, since)
	}
	return nil
}

func (p *Poller) pollPlatform(ctx context.Context, name string, checker EngagementChecker, since time.Time) {
	if st := p.creds.Validate(ctx, name); st == StateInvalid {
		p.log.Debug("engagement poll skipped; credentials invalid", logx.String("platform", name))
		return
	}

	tok, err := p.creds.Current(ctx, name)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		p.log.Warn("engagement poll token lookup failed", logx.String("platform", name), logx.Err(err))
		return
	}

	posts, err := p.store.PostsSince(ctx, name, since)
	if err != nil {
		p.log.Warn("engagement poll post lookup failed", logx.String("platform", name), logx.Err(err))
		return
	}

	polled, failed := 0, 0
	for _, post := range posts {
		if post.Synthetic || post.Deleted || post.RemoteID == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return
		}

		var m Metrics
		err := p.exec.Do(ctx, name, "check_engagement", func(ctx context.Context) error {
			var cerr error
			m, cerr = checker.CheckEngagement(ctx, post.RemoteID, tok)
			return cerr
		})
		if err != nil {
			failed++
			p.log.Debug("engagement check failed",
				logx.String("platform", name), logx.String("remote_id", post.RemoteID), logx.Err(err))
			if p.remotePostGone(ctx, name, post, err) {
				continue
			}
			if netexec.Classify(err) == netexec.ClassCredential {
				// No point hammering the rest with a dead token.
				p.creds.MarkInvalid(name)
				break
			}
			continue
		}

		e := models.Engagement{
			PostID:    post.ID,
			Likes:     m.Likes,
			Shares:    m.Shares,
			Comments:  m.Comments,
			Clicks:    m.Clicks,
			CheckedAt: p.now(),
		}
		p.logDelta(ctx, name, post, e)
		if err := p.store.InsertEngagement(ctx, e); err != nil {
			failed++
			p.log.Warn("engagement write failed",
				logx.String("platform", name), logx.Int64("post_id", post.ID), logx.Err(err))
			continue
		}
		polled++
	}

	if polled > 0 || failed > 0 {
		p.log.Info("engagement poll cycle",
			logx.String("platform", name), logx.Int("polled", polled), logx.Int("failed", failed))
	}
}

// logDelta reports movement since the previous snapshot of the same post.
// Best effort; a lookup failure only costs the log line.
func (p *Poller) logDelta(ctx context.Context, name string, post models.Post, e models.Engagement) {
	prev, err := p.store.LatestEngagements(ctx, post.ID, 1)
	if err != nil || len(prev) == 0 {
		return
	}
	last := prev[0]
	if e.Likes == last.Likes && e.Shares == last.Shares && e.Comments == last.Comments {
		return
	}
	p.log.Info("engagement moved",
		logx.String("platform", name),
		logx.Int64("post_id", post.ID),
		logx.Int("likes", e.Likes-last.Likes),
		logx.Int("shares", e.Shares-last.Shares),
		logx.Int("comments", e.Comments-last.Comments))
}

// remotePostGone marks a post deleted when the platform says the remote
// object no longer exists, so later cycles stop asking for it.
func (p *Poller) remotePostGone(ctx context.Context, name string, post models.Post, err error) bool {
	if !netexec.IsNotFound(err) {
		return false
	}
	if merr := p.store.MarkPostDeleted(ctx, post.ID); merr != nil {
		p.log.Warn("post delete mark failed", logx.Int64("post_id", post.ID), logx.Err(merr))
		return true
	}
	p.log.Info("remote post removed; excluded from polling",
		logx.String("platform", name), logx.String("remote_id", post.RemoteID))
	return true
}
