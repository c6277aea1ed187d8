// Package scheduler runs the periodic engine cycles (engagement polling,
// analytics reports, artwork cleanup) on cron-style schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "myrcat/pkg/logx"
)

// Job is one periodic unit of work.
type Job func(ctx context.Context) error

type entry struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	running bool
	mu      sync.Mutex
}

// Service wraps robfig/cron with per-job timeouts and overlap control: a
// tick that fires while the previous run is still going is skipped, not
// queued.
type Service struct {
	log    logx.Logger
	parser cron.Parser

	mu      sync.Mutex
	c       *cron.Cron
	entries []*entry
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

func New(log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// AddInterval registers a job that fires every d.
func (s *Service) AddInterval(name string, d time.Duration, timeout time.Duration, job Job) error {
	if d <= 0 {
		return fmt.Errorf("scheduler: %s: interval must be positive", name)
	}
	return s.AddCron(name, "@every "+d.String(), timeout, job)
}

// AddCron registers a job on a cron spec ("@hourly", "0 3 * * *",
// "@every 6h"). Jobs added after Start are scheduled immediately.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("scheduler: %s: %w", name, err)
	}
	e := &entry{name: name, spec: spec, timeout: timeout, job: job}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	if s.started {
		return s.scheduleLocked(e)
	}
	return nil
}

// Start begins firing schedules. Jobs run until Stop or ctx cancellation.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser))
	for _, e := range s.entries {
		if err := s.scheduleLocked(e); err != nil {
			s.log.Error("schedule registration failed", logx.String("job", e.name), logx.Err(err))
		}
	}
	s.c.Start()
	s.started = true
	s.log.Info("scheduler started", logx.Int("jobs", len(s.entries)))
}

func (s *Service) scheduleLocked(e *entry) error {
	id, err := s.c.AddFunc(e.spec, func() { s.fire(e) })
	if err != nil {
		return err
	}
	e.entryID = id
	return nil
}

// Stop halts scheduling and waits for running jobs to return.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	c := s.c
	cancel := s.cancel
	s.started = false
	s.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
}

func (s *Service) fire(e *entry) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		s.log.Debug("previous run still active; tick skipped", logx.String("job", e.name))
		return
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if e.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	err := e.job(runCtx)
	dur := time.Since(start)
	if err != nil {
		s.log.Warn("scheduled job failed", logx.String("job", e.name), logx.Duration("dur", dur), logx.Err(err))
		return
	}
	if dur >= 750*time.Millisecond {
		s.log.Info("scheduled job completed", logx.String("job", e.name), logx.Duration("dur", dur))
	} else {
		s.log.Debug("scheduled job completed", logx.String("job", e.name), logx.Duration("dur", dur))
	}
}

// RunNow fires a registered job immediately, outside its schedule. Overlap
// control still applies: a job already running is not fired again.
func (s *Service) RunNow(name string) bool {
	s.mu.Lock()
	var target *entry
	for _, e := range s.entries {
		if e.name == name {
			target = e
			break
		}
	}
	s.mu.Unlock()
	if target == nil {
		return false
	}
	go s.fire(target)
	return true
}
