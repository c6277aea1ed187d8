package social

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"myrcat/internal/artwork"
	"myrcat/internal/content"
	"myrcat/internal/models"
	"myrcat/internal/netexec"
	"myrcat/internal/storage"
	logx "myrcat/pkg/logx"
)

// PlatformSettings is the per-platform dispatch policy.
type PlatformSettings struct {
	Enabled        bool
	CharacterLimit int
	Gate           GateSettings
}

// DispatcherConfig is the engine-wide publishing policy.
type DispatcherConfig struct {
	PublishEnabled bool
	SkipArtists    []string
	SkipTitles     []string
}

const (
	OutcomePosted  = "posted"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Outcome is one platform's result for one dispatched track.
type Outcome struct {
	Platform string
	Status   string
	Reason   string
	PostID   int64
	Err      error
}

// Dispatcher fans one track event out to every enabled platform
// concurrently. Each platform runs its own pipeline (gate, credentials,
// content, publish, persist); a failure or panic in one pipeline never
// blocks or aborts the others, and all pipelines are joined before
// Dispatch returns.
type Dispatcher struct {
	reg      *Registry
	gate     *Gate
	creds    *Credentials
	exec     *netexec.Executor
	store    storage.Store
	captions content.Provider
	art      *artwork.Manager
	rt       *Runtime
	log      logx.Logger
	now      func() time.Time

	mu       sync.Mutex
	cfg      DispatcherConfig
	settings map[string]PlatformSettings
}

func NewDispatcher(
	reg *Registry,
	gate *Gate,
	creds *Credentials,
	exec *netexec.Executor,
	store storage.Store,
	captions content.Provider,
	art *artwork.Manager,
	rt *Runtime,
	log logx.Logger,
) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		reg:      reg,
		gate:     gate,
		creds:    creds,
		exec:     exec,
		store:    store,
		captions: captions,
		art:      art,
		rt:       rt,
		log:      log,
		now:      time.Now,
		settings: map[string]PlatformSettings{},
	}
}

// Apply replaces dispatch policy (config reload). Gate policy is applied
// separately by the caller.
func (d *Dispatcher) Apply(cfg DispatcherConfig, settings map[string]PlatformSettings) {
	cp := make(map[string]PlatformSettings, len(settings))
	for k, v := range settings {
		cp[k] = v
	}
	d.mu.Lock()
	d.cfg = cfg
	d.settings = cp
	d.mu.Unlock()
}

func (d *Dispatcher) policy() (DispatcherConfig, map[string]PlatformSettings) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg, d.settings
}

// Dispatch logs the playout and publishes the track to every enabled
// platform. The returned error is non-nil only when the playout row itself
// could not be written; per-platform failures live in the outcomes.
func (d *Dispatcher) Dispatch(ctx context.Context, track models.Track) ([]Outcome, error) {
	if !track.Valid() {
		return nil, fmt.Errorf("dispatch: track missing artist or title")
	}

	trackID, err := d.store.InsertPlayout(ctx, track, d.now())
	if err != nil {
		return nil, &netexec.StoreError{Err: err}
	}

	cfg, settings := d.policy()
	log := d.log.With(
		logx.String("dispatch", uuid.NewString()[:8]),
		logx.String("artist", track.Artist),
		logx.String("title", track.Title),
	)

	if !cfg.PublishEnabled {
		log.Debug("publishing disabled; playout logged only")
		return nil, nil
	}
	if skipListed(cfg, track) {
		log.Info("track is skip-listed; not publishing")
		return nil, nil
	}

	type job struct {
		p  Platform
		ps PlatformSettings
	}
	var jobs []job
	for _, name := range d.reg.Names() {
		ps := settings[name]
		if !ps.Enabled {
			continue
		}
		if p, ok := d.reg.Get(name); ok {
			jobs = append(jobs, job{p: p, ps: ps})
		}
	}

	outcomes := make([]Outcome, len(jobs))
	var wg sync.WaitGroup
	for i, j := range jobs {
		wg.Add(1)
		go func(i int, j job) {
			defer wg.Done()
			outcomes[i] = d.pipeline(ctx, j.p, j.ps, track, trackID, log)
		}(i, j)
	}
	wg.Wait()

	for _, o := range outcomes {
		switch o.Status {
		case OutcomePosted:
			log.Info("posted", logx.String("platform", o.Platform), logx.Int64("post_id", o.PostID))
		case OutcomeSkipped:
			log.Debug("skipped", logx.String("platform", o.Platform), logx.String("reason", o.Reason))
		case OutcomeFailed:
			log.Warn("publish failed", logx.String("platform", o.Platform), logx.String("reason", o.Reason), logx.Err(o.Err))
		}
	}
	return outcomes, nil
}

// pipeline runs the full publish path for one platform. It converts every
// failure, including panics, into an Outcome so sibling pipelines are
// never affected.
func (d *Dispatcher) pipeline(ctx context.Context, p Platform, ps PlatformSettings, track models.Track, trackID int64, log logx.Logger) (out Outcome) {
	name := p.Name()
	out = Outcome{Platform: name}

	defer func() {
		if r := recover(); r != nil {
			log.Error("platform pipeline panic",
				logx.String("platform", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			out = d.failure(ctx, name, track, fmt.Errorf("panic: %v", r))
		}
	}()

	// Gate.
	if !d.gate.ShouldPostNow(ctx, name) {
		return Outcome{Platform: name, Status: OutcomeSkipped, Reason: "post frequency"}
	}
	if d.gate.ArtistRecentlyPosted(ctx, name, track.Artist) {
		return Outcome{Platform: name, Status: OutcomeSkipped, Reason: "artist recently posted"}
	}

	// Credentials.
	switch d.creds.Validate(ctx, name) {
	case StateInvalid:
		if _, err := d.creds.Refresh(ctx, name); err != nil {
			return d.failure(ctx, name, track, err)
		}
		if d.creds.Validate(ctx, name) == StateInvalid {
			return Outcome{Platform: name, Status: OutcomeSkipped, Reason: "credentials invalid"}
		}
	case StateExpiringSoon:
		// Not expired yet, so a failed early exchange defers to the next
		// dispatch instead of blocking this one with the working token.
		if _, err := d.creds.Refresh(ctx, name); err != nil {
			log.Debug("token refresh deferred", logx.String("platform", name), logx.Err(err))
		}
	}

	tok, err := d.creds.Current(ctx, name)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return d.failure(ctx, name, track, &netexec.StoreError{Err: err})
	}

	// Content and artwork.
	text, source, err := d.captions.Generate(ctx, content.Request{
		Track:          track,
		Platform:       name,
		CharacterLimit: ps.CharacterLimit,
	})
	if err != nil {
		return d.failure(ctx, name, track, fmt.Errorf("content generation: %w", err))
	}

	imagePath := ""
	if d.art != nil {
		imagePath, err = d.art.Publish(track.Image, track.Artist, track.Title)
		if err != nil {
			log.Warn("artwork publish failed; posting without image",
				logx.String("platform", name), logx.Err(err))
			imagePath = ""
		}
	}

	req := PublishRequest{Track: track, Text: text, ImagePath: imagePath, Token: tok}

	// Publish, with one refresh-and-retry on token expiry.
	res, err := d.publish(ctx, p, req)
	if errors.Is(err, netexec.ErrTokenExpired) {
		d.creds.MarkInvalid(name)
		fresh, rerr := d.creds.Refresh(ctx, name)
		if rerr != nil {
			return d.failure(ctx, name, track, rerr)
		}
		req.Token = fresh
		res, err = d.publish(ctx, p, req)
	}
	if err != nil {
		return d.failure(ctx, name, track, err)
	}

	postedAt := d.now()
	post := models.Post{
		Platform:  name,
		RemoteID:  res.RemoteID,
		Synthetic: res.Synthetic,
		TrackID:   trackID,
		Artist:    track.Artist,
		Title:     track.Title,
		PostedAt:  postedAt,
		Content:   text,
		HasImage:  imagePath != "",
	}
	d.rt.NotePosted(name, postedAt)

	id, err := d.store.InsertPost(ctx, post)
	if err != nil {
		// The remote post exists but we lost the record; surface loudly.
		return Outcome{Platform: name, Status: OutcomeFailed, Reason: "post record write failed", Err: &netexec.StoreError{Err: err}}
	}

	log.Debug("caption source", logx.String("platform", name), logx.String("source", source))
	return Outcome{Platform: name, Status: OutcomePosted, PostID: id}
}

func (d *Dispatcher) publish(ctx context.Context, p Platform, req PublishRequest) (PublishResult, error) {
	var res PublishResult
	err := d.exec.Do(ctx, p.Name(), "publish", func(ctx context.Context) error {
		var perr error
		res, perr = p.Publish(ctx, req)
		return perr
	})
	return res, err
}

// failure records a failure marker for analytics and builds the outcome.
// Failure markers are not Post rows.
func (d *Dispatcher) failure(ctx context.Context, platform string, track models.Track, err error) Outcome {
	class := netexec.Classify(err)
	if serr := d.store.InsertFailure(ctx, models.PostFailure{
		Platform: platform,
		Artist:   track.Artist,
		Title:    track.Title,
		Class:    class,
		Error:    err.Error(),
		FailedAt: d.now(),
	}); serr != nil {
		d.log.Error("failure marker write failed", logx.String("platform", platform), logx.Err(serr))
	}
	return Outcome{Platform: platform, Status: OutcomeFailed, Reason: class, Err: err}
}

func skipListed(cfg DispatcherConfig, track models.Track) bool {
	for _, a := range cfg.SkipArtists {
		if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(track.Artist)) {
			return true
		}
	}
	for _, t := range cfg.SkipTitles {
		if strings.EqualFold(strings.TrimSpace(t), strings.TrimSpace(track.Title)) {
			return true
		}
	}
	return false
}
