// Package app assembles the engine: config, logging, storage, platform
// registry, publishing pipeline, polling and reporting cycles, and the
// playout listener.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"myrcat/internal/analytics"
	"myrcat/internal/artwork"
	"myrcat/internal/config"
	"myrcat/internal/content"
	"myrcat/internal/ingest"
	"myrcat/internal/models"
	"myrcat/internal/netexec"
	"myrcat/internal/platforms/bluesky"
	"myrcat/internal/platforms/facebook"
	"myrcat/internal/platforms/lastfm"
	"myrcat/internal/platforms/listenbrainz"
	"myrcat/internal/platforms/telegram"
	"myrcat/internal/scheduler"
	"myrcat/internal/social"
	"myrcat/internal/storage"
	logx "myrcat/pkg/logx"
)

// platformOrder fixes registry order so logs and reports stay stable
// across restarts regardless of config map iteration.
var platformOrder = []string{"bluesky", "facebook", "lastfm", "listenbrainz", "telegram"}

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store      storage.Store
	exec       *netexec.Executor
	reg        *social.Registry
	rt         *social.Runtime
	gate       *social.Gate
	creds      *social.Credentials
	dispatcher *social.Dispatcher
	poller     *social.Poller
	reporter   *analytics.Reporter
	art        *artwork.Manager
	sched      *scheduler.Service
	server     *ingest.Server

	// dispatches tracks in-flight track dispatches so Run can drain them
	// before Close releases the store and log sinks.
	dispatches sync.WaitGroup
}

// New builds the full engine from the config file. Nothing is started;
// call Run for the daemon or use the accessors for CLI operations.
func New(configPath string) (*App, error) {
	cfgMgr := config.NewManager(configPath)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgMgr.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgMgr: cfgMgr, logSvc: logSvc, log: log}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busy},
		a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = store

	execCfg, err := executorConfig(cfg.Network)
	if err != nil {
		return err
	}
	a.exec = netexec.New(execCfg, a.log.With(logx.String("comp", "netexec")))

	a.reg = social.NewRegistry()
	if err := a.registerPlatforms(cfg); err != nil {
		return err
	}

	a.rt = social.NewRuntime()
	a.gate = social.NewGate(store, a.rt, a.log.With(logx.String("comp", "gate")))
	a.creds = social.NewCredentials(store, a.reg, a.rt, a.exec,
		social.CredentialsConfig{}, a.log.With(logx.String("comp", "credentials")))

	a.art = artwork.New(artwork.Config{
		Enabled:    cfg.Artwork.Enabled,
		PublishDir: cfg.Artwork.PublishDir,
		Keep:       cfg.Artwork.Keep,
	}, a.log.With(logx.String("comp", "artwork")))

	captions, err := contentProvider(cfg.Content, a.log.With(logx.String("comp", "content")))
	if err != nil {
		return err
	}

	a.dispatcher = social.NewDispatcher(a.reg, a.gate, a.creds, a.exec, store,
		captions, a.art, a.rt, a.log.With(logx.String("comp", "dispatcher")))
	a.poller = social.NewPoller(a.reg, a.creds, a.exec, store,
		social.PollerConfig{}, a.log.With(logx.String("comp", "poller")))
	a.reporter = analytics.New(store, analytics.Config{},
		a.log.With(logx.String("comp", "analytics")))

	a.sched = scheduler.New(a.log.With(logx.String("comp", "scheduler")))

	readTimeout, err := config.ParseDurationField("server.read_timeout", cfg.Server.ReadTimeout)
	if err != nil {
		return err
	}
	a.server = ingest.New(ingest.Config{
		ListenAddr:  cfg.Server.ListenAddr,
		ReadTimeout: readTimeout,
	}, a.handleTrack, a.log.With(logx.String("comp", "ingest")))

	if err := a.apply(cfg); err != nil {
		return err
	}
	a.cfgMgr.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})
	return nil
}

// registerPlatforms builds a client for every configured-and-enabled
// platform. A disabled block costs nothing; a misconfigured enabled block
// fails startup.
func (a *App) registerPlatforms(cfg *config.Config) error {
	for _, name := range platformOrder {
		raw, ok := cfg.Platforms[name]
		if !ok || !raw.Enabled {
			continue
		}
		p, err := buildPlatform(name, raw.Config)
		if err != nil {
			return fmt.Errorf("platform %s: %w", name, err)
		}
		a.reg.Register(p)
	}
	if len(a.reg.Names()) == 0 {
		a.log.Warn("no platforms enabled; playout logging only")
	}
	return nil
}

func buildPlatform(name string, raw json.RawMessage) (social.Platform, error) {
	switch name {
	case "bluesky":
		var c bluesky.Config
		if err := decodePlatform(raw, &c); err != nil {
			return nil, err
		}
		return bluesky.New(c)
	case "facebook":
		var c facebook.Config
		if err := decodePlatform(raw, &c); err != nil {
			return nil, err
		}
		return facebook.New(c)
	case "lastfm":
		var c lastfm.Config
		if err := decodePlatform(raw, &c); err != nil {
			return nil, err
		}
		return lastfm.New(c)
	case "listenbrainz":
		var c listenbrainz.Config
		if err := decodePlatform(raw, &c); err != nil {
			return nil, err
		}
		return listenbrainz.New(c)
	case "telegram":
		var c telegram.Config
		if err := decodePlatform(raw, &c); err != nil {
			return nil, err
		}
		return telegram.New(c)
	default:
		return nil, fmt.Errorf("unknown platform %q", name)
	}
}

func decodePlatform(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing config block")
	}
	return json.Unmarshal(raw, out)
}

func contentProvider(cfg config.ContentConfig, log logx.Logger) (content.Provider, error) {
	templates := content.NewTemplates(content.TemplateConfig{
		StationName: cfg.StationName,
		Hashtags:    cfg.Hashtags,
	})
	if !cfg.AIEnabled {
		return content.WithFallback(nil, templates, log), nil
	}
	ai, err := content.NewAICaptioner(content.AIConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Prompt:  cfg.Prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("content: %w", err)
	}
	return content.WithFallback(ai, templates, log), nil
}

func executorConfig(n config.NetworkConfig) (netexec.Config, error) {
	delay, err := config.ParseDurationField("network.retry_delay", n.RetryDelay)
	if err != nil {
		return netexec.Config{}, err
	}
	timeout, err := config.ParseDurationField("network.call_timeout", n.CallTimeout)
	if err != nil {
		return netexec.Config{}, err
	}
	return netexec.Config{
		MaxRetries:    n.MaxRetries,
		RetryDelay:    delay,
		BackoffFactor: n.BackoffFactor,
		JitterFactor:  n.JitterFactor,
		CallTimeout:   timeout,
		RatePerMinute: n.RatePerMinute,
	}, nil
}

// apply pushes a committed config into every running component. Called at
// startup and on every accepted reload. Platform construction is not
// hot-swappable; enabling a new platform requires a restart.
func (a *App) apply(cfg *config.Config) error {
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	execCfg, err := executorConfig(cfg.Network)
	if err != nil {
		return err
	}
	a.exec.Apply(execCfg)

	gateSettings, dispSettings, err := platformSettings(cfg, a.reg)
	if err != nil {
		return err
	}
	a.gate.Apply(gateSettings)
	a.dispatcher.Apply(social.DispatcherConfig{
		PublishEnabled: cfg.Publish.Enabled,
		SkipArtists:    cfg.Publish.SkipArtists,
		SkipTitles:     cfg.Publish.SkipTitles,
	}, dispSettings)

	lookback, err := config.ParseDurationOrDefault("analytics.lookback", cfg.Analytics.Lookback, 30*24*time.Hour)
	if err != nil {
		return err
	}
	a.poller.Apply(social.PollerConfig{Lookback: lookback})
	a.reporter.Apply(analytics.Config{
		Lookback:      lookback,
		RetentionDays: retentionDays(cfg.Analytics),
		ReportDir:     cfg.Analytics.ReportDir,
		TopTracks:     cfg.Analytics.TopTracks,
	})
	return nil
}

func retentionDays(a config.AnalyticsConfig) int {
	if a.RetentionDays > 0 {
		return a.RetentionDays
	}
	return 90
}

// platformSettings derives per-platform gate and dispatch policy from the
// config, resolving the dedup default from each client.
func platformSettings(cfg *config.Config, reg *social.Registry) (map[string]social.GateSettings, map[string]social.PlatformSettings, error) {
	gates := map[string]social.GateSettings{}
	disp := map[string]social.PlatformSettings{}

	for name, raw := range cfg.Platforms {
		p, registered := reg.Get(name)
		if !registered {
			continue
		}
		freq, err := config.ParseDurationField("platforms."+name+".post_frequency", raw.PostFrequency)
		if err != nil {
			return nil, nil, err
		}
		window, err := config.ParseDurationField("platforms."+name+".artist_repost_window", raw.ArtistRepostWindow)
		if err != nil {
			return nil, nil, err
		}

		dedup := p.DedupSensitive()
		if raw.DedupSensitive != nil {
			dedup = *raw.DedupSensitive
		}

		gs := social.GateSettings{
			TestingMode:        raw.TestingMode,
			PostFrequency:      freq,
			ArtistRepostWindow: window,
			DedupSensitive:     dedup,
			Normalize:          cfg.Publish.Normalize(),
		}
		gates[name] = gs
		disp[name] = social.PlatformSettings{
			Enabled:        raw.Enabled,
			CharacterLimit: raw.CharacterLimit,
			Gate:           gs,
		}
	}
	return gates, disp, nil
}

// validate is the reload gate: a config that fails here never replaces the
// running one.
func validate(cfg *config.Config) error {
	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := executorConfig(cfg.Network); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("server.read_timeout", cfg.Server.ReadTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationOrDefault("analytics.check_frequency", cfg.Analytics.CheckFrequency, 6*time.Hour); err != nil {
		return err
	}
	if _, err := config.ParseDurationOrDefault("analytics.lookback", cfg.Analytics.Lookback, 30*24*time.Hour); err != nil {
		return err
	}
	for name, raw := range cfg.Platforms {
		if _, err := config.ParseDurationField("platforms."+name+".post_frequency", raw.PostFrequency); err != nil {
			return err
		}
		if _, err := config.ParseDurationField("platforms."+name+".artist_repost_window", raw.ArtistRepostWindow); err != nil {
			return err
		}
		if raw.Enabled {
			if _, err := buildPlatform(name, raw.Config); err != nil {
				return fmt.Errorf("platform %s: %w", name, err)
			}
		}
	}
	return nil
}

// handleTrack is the ingest callback: each playout event dispatches in its
// own goroutine so a slow platform never backs up the TCP listener. The
// goroutine detaches from the listener's context so a shutdown mid-publish
// still finishes the pipeline and writes its post record; the executor's
// per-call timeout bounds the drain. Run waits for all of them.
func (a *App) handleTrack(ctx context.Context, track models.Track) {
	a.dispatches.Add(1)
	go func() {
		defer a.dispatches.Done()
		if _, err := a.dispatcher.Dispatch(context.WithoutCancel(ctx), track); err != nil {
			a.log.Error("dispatch failed",
				logx.String("artist", track.Artist), logx.String("title", track.Title), logx.Err(err))
		}
	}()
}

// Run starts the daemon and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfgMgr.Get()

	checkFreq, err := config.ParseDurationOrDefault("analytics.check_frequency", cfg.Analytics.CheckFrequency, 6*time.Hour)
	if err != nil {
		return err
	}
	if cfg.Analytics.IsEnabled() {
		if err := a.sched.AddInterval("engagement_poll", checkFreq, 30*time.Minute, a.poller.Run); err != nil {
			return err
		}
		if err := a.sched.AddCron("analytics_report", "@daily", 10*time.Minute, func(ctx context.Context) error {
			_, err := a.reporter.Run(ctx, a.reg.Names())
			return err
		}); err != nil {
			return err
		}
	}
	if err := a.sched.AddCron("artwork_cleanup", "@hourly", time.Minute, func(context.Context) error {
		return a.art.Cleanup()
	}); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	// Config hot reload.
	reloads := a.cfgMgr.Subscribe(1)
	defer a.cfgMgr.Unsubscribe(reloads)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := a.cfgMgr.Watch(runCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-reloads:
				if !ok {
					return
				}
				if err := a.apply(cfg); err != nil {
					a.log.Error("config apply failed", logx.Err(err))
				}
			}
		}
	}()

	a.sched.Start(runCtx)

	serveErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		serveErr <- a.server.Start(runCtx)
	}()

	notifySystemd(runCtx, a.log, &wg)
	a.log.Info("myrcat started")

	select {
	case <-runCtx.Done():
		err = nil
	case err = <-serveErr:
	}

	cancel()
	a.server.Stop()
	a.sched.Stop()
	wg.Wait()

	// Listener is closed, so no new dispatches can start; drain the ones
	// already running before the caller closes the store.
	a.dispatches.Wait()
	return err
}

// Close releases resources. Safe after a failed or finished Run.
func (a *App) Close() error {
	var first error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			first = err
		}
	}
	if a.logSvc != nil {
		if err := a.logSvc.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// notifySystemd sends sd_notify readiness and feeds the watchdog when the
// unit enables one. A non-systemd environment is a silent no-op.
func notifySystemd(ctx context.Context, log logx.Logger, wg *sync.WaitGroup) {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debug("sd_notify unavailable", logx.Err(err))
	} else if ok {
		log.Debug("sd_notify ready sent")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}

// Accessors for the management CLI.

func (a *App) Credentials() *social.Credentials { return a.creds }
func (a *App) Registry() *social.Registry       { return a.reg }
func (a *App) Store() storage.Store             { return a.store }
func (a *App) Reporter() *analytics.Reporter    { return a.reporter }
func (a *App) Logger() logx.Logger              { return a.log }
