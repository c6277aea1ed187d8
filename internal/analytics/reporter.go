// Package analytics turns stored engagement snapshots into periodic
// per-platform reports and enforces data retention.
package analytics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"myrcat/internal/storage"
	logx "myrcat/pkg/logx"
)

// Config tunes report generation and retention.
type Config struct {
	// Lookback is the reporting window. Default 7 days.
	Lookback time.Duration

	// RetentionDays bounds how long posts and their engagement history are
	// kept. 0 disables pruning.
	RetentionDays int

	// ReportDir receives the generated report files. Empty logs only.
	ReportDir string

	// TopTracks is how many tracks the ranking section lists. Default 10.
	TopTracks int
}

func (c Config) withDefaults() Config {
	if c.Lookback <= 0 {
		c.Lookback = 7 * 24 * time.Hour
	}
	if c.TopTracks <= 0 {
		c.TopTracks = 10
	}
	return c
}

// Report is one generated analytics snapshot.
type Report struct {
	GeneratedAt time.Time
	Window      time.Duration
	Platforms   []PlatformReport
	TopTracks   []storage.TrackStats
	Pruned      int
}

// PlatformReport is one platform's section, including movement since the
// previous report in this process.
type PlatformReport struct {
	Stats storage.PlatformStats

	// Deltas vs the previous report; nil on the first report.
	Delta *PlatformDelta
}

type PlatformDelta struct {
	Posts    int
	Likes    int
	Shares   int
	Comments int
}

// Reporter builds reports from the store. Previous totals are held in
// memory only; after a restart the first report simply has no deltas.
type Reporter struct {
	store storage.Store
	log   logx.Logger
	now   func() time.Time

	mu   sync.Mutex
	cfg  Config
	prev map[string]storage.PlatformStats
}

func New(store storage.Store, cfg Config, log logx.Logger) *Reporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reporter{
		store: store,
		log:   log,
		now:   time.Now,
		cfg:   cfg.withDefaults(),
		prev:  map[string]storage.PlatformStats{},
	}
}

func (r *Reporter) Apply(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg.withDefaults()
	r.mu.Unlock()
}

func (r *Reporter) config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Run generates one report, writes it to the report directory when
// configured, and prunes expired rows. platforms lists every registered
// platform name so sections appear even when a platform had no activity.
func (r *Reporter) Run(ctx context.Context, platforms []string) (*Report, error) {
	cfg := r.config()
	now := r.now()
	since := now.Add(-cfg.Lookback)

	rep := &Report{GeneratedAt: now, Window: cfg.Lookback}

	for _, name := range platforms {
		stats, err := r.store.PlatformStats(ctx, name, since)
		if err != nil {
			return nil, fmt.Errorf("platform stats for %s: %w", name, err)
		}
		stats.Platform = name
		rep.Platforms = append(rep.Platforms, PlatformReport{
			Stats: stats,
			Delta: r.deltaFor(name, stats),
		})
	}
	sort.SliceStable(rep.Platforms, func(i, j int) bool {
		return rep.Platforms[i].Stats.Posts > rep.Platforms[j].Stats.Posts
	})

	top, err := r.store.TopTracks(ctx, since, cfg.TopTracks)
	if err != nil {
		return nil, fmt.Errorf("top tracks: %w", err)
	}
	rep.TopTracks = top

	if cfg.RetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -cfg.RetentionDays)
		pruned, err := r.store.PruneBefore(ctx, cutoff)
		if err != nil {
			r.log.Warn("retention prune failed", logx.Err(err))
		} else {
			rep.Pruned = pruned
			if pruned > 0 {
				r.log.Info("retention prune", logx.Int("posts_removed", pruned))
			}
		}
	}

	if cfg.ReportDir != "" {
		if path, err := r.write(rep, cfg.ReportDir); err != nil {
			r.log.Warn("report write failed", logx.Err(err))
		} else {
			r.log.Info("analytics report written", logx.String("path", path))
		}
	}

	r.remember(rep)
	return rep, nil
}

// deltaFor computes movement against the previous report's totals.
func (r *Reporter) deltaFor(name string, cur storage.PlatformStats) *PlatformDelta {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.prev[name]
	if !ok {
		return nil
	}
	return &PlatformDelta{
		Posts:    cur.Posts - prev.Posts,
		Likes:    cur.Likes - prev.Likes,
		Shares:   cur.Shares - prev.Shares,
		Comments: cur.Comments - prev.Comments,
	}
}

func (r *Reporter) remember(rep *Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range rep.Platforms {
		r.prev[p.Stats.Platform] = p.Stats
	}
}

func (r *Reporter) write(rep *Report, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := "engagement-" + rep.GeneratedAt.Format("20060102-150405") + ".txt"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(Render(rep)), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Render formats a report as the plain-text artifact written to disk.
func Render(rep *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Engagement report %s (window %s)\n",
		rep.GeneratedAt.Format(time.RFC3339), rep.Window)
	b.WriteString(strings.Repeat("=", 60) + "\n\n")

	for _, p := range rep.Platforms {
		s := p.Stats
		fmt.Fprintf(&b, "%s\n", s.Platform)
		fmt.Fprintf(&b, "  posts: %d%s  failures: %d\n", s.Posts, trend(p.Delta, deltaPosts), s.Failures)
		fmt.Fprintf(&b, "  likes: %d%s  shares: %d%s  comments: %d%s  clicks: %d\n",
			s.Likes, trend(p.Delta, deltaLikes),
			s.Shares, trend(p.Delta, deltaShares),
			s.Comments, trend(p.Delta, deltaComments),
			s.Clicks)
		fmt.Fprintf(&b, "  per post: %.1f likes / %.1f shares / %.1f comments\n\n",
			s.AvgLikes, s.AvgShares, s.AvgComments)
	}

	if len(rep.TopTracks) > 0 {
		b.WriteString("Top tracks by engagement\n")
		for i, t := range rep.TopTracks {
			fmt.Fprintf(&b, "  %2d. %s - %s (score %d, %d posts)\n",
				i+1, t.Artist, t.Title, t.Score, t.Posts)
		}
		b.WriteString("\n")
	}

	if rep.Pruned > 0 {
		fmt.Fprintf(&b, "Retention: removed %d expired posts\n", rep.Pruned)
	}
	return b.String()
}

type deltaField int

const (
	deltaPosts deltaField = iota
	deltaLikes
	deltaShares
	deltaComments
)

// trend renders a delta marker: " (+3)", " (-1)", " (=)" or nothing when
// there is no previous report to compare against.
func trend(d *PlatformDelta, f deltaField) string {
	if d == nil {
		return ""
	}
	var v int
	switch f {
	case deltaPosts:
		v = d.Posts
	case deltaLikes:
		v = d.Likes
	case deltaShares:
		v = d.Shares
	case deltaComments:
		v = d.Comments
	}
	switch {
	case v > 0:
		return fmt.Sprintf(" (+%d)", v)
	case v < 0:
		return fmt.Sprintf(" (%d)", v)
	default:
		return " (=)"
	}
}
