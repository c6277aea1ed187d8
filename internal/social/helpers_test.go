package social

import (
	"context"

	"myrcat/internal/content"
	"myrcat/internal/models"
	"myrcat/internal/netexec"
	logx "myrcat/pkg/logx"
)

func nopLogger() logx.Logger { return logx.Nop() }

// noRetryExecutor never retries, so pipeline tests exercise one call per
// operation without real backoff sleeps.
func noRetryExecutor() *netexec.Executor {
	return netexec.New(netexec.Config{MaxRetries: 0}, logx.Nop())
}

// fakePlatform is a configurable Platform for pipeline tests. The wrapper
// types below add capabilities only when a test needs them.
type fakePlatform struct {
	name      string
	dedup     bool
	publishFn func(ctx context.Context, req PublishRequest) (PublishResult, error)
}

func (f *fakePlatform) Name() string         { return f.name }
func (f *fakePlatform) DedupSensitive() bool { return f.dedup }

func (f *fakePlatform) Publish(ctx context.Context, req PublishRequest) (PublishResult, error) {
	if f.publishFn == nil {
		return PublishResult{RemoteID: f.name + "_1"}, nil
	}
	return f.publishFn(ctx, req)
}

type fakeChecker struct {
	*fakePlatform
	checkFn func(ctx context.Context, remoteID string, token models.Token) (Metrics, error)
}

func (f *fakeChecker) CheckEngagement(ctx context.Context, remoteID string, token models.Token) (Metrics, error) {
	return f.checkFn(ctx, remoteID, token)
}

type fakeRefresher struct {
	*fakePlatform
	refreshFn  func(ctx context.Context, current models.Token) (models.Token, error)
	validateFn func(ctx context.Context, token models.Token) error
}

func (f *fakeRefresher) RefreshToken(ctx context.Context, current models.Token) (models.Token, error) {
	return f.refreshFn(ctx, current)
}

func (f *fakeRefresher) ValidateToken(ctx context.Context, token models.Token) error {
	if f.validateFn == nil {
		return nil
	}
	return f.validateFn(ctx, token)
}

// staticContent returns fixed caption text.
type staticContent struct{ text string }

func (s staticContent) Generate(context.Context, content.Request) (string, string, error) {
	return s.text, "static", nil
}
