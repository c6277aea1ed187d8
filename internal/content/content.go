package content

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"myrcat/internal/models"
	logx "myrcat/pkg/logx"
)

// Request asks for caption text for one track on one platform.
type Request struct {
	Track    models.Track
	Platform string

	// CharacterLimit truncates the result on a rune boundary. 0 means no
	// limit.
	CharacterLimit int
}

// Provider generates caption text. source names the generator that
// produced it ("template", "ai") for logging and post records.
type Provider interface {
	Generate(ctx context.Context, req Request) (text string, source string, err error)
}

// TemplateConfig controls the built-in caption generator.
type TemplateConfig struct {
	StationName string
	Hashtags    []string
}

// Templates is the dependency-free caption generator and the fallback for
// every other provider.
type Templates struct {
	cfg TemplateConfig
}

func NewTemplates(cfg TemplateConfig) *Templates {
	if strings.TrimSpace(cfg.StationName) == "" {
		cfg.StationName = "Now Wave Radio"
	}
	return &Templates{cfg: cfg}
}

func (t *Templates) Generate(_ context.Context, req Request) (string, string, error) {
	track := req.Track

	var b strings.Builder
	fmt.Fprintf(&b, "🎵 Now Playing on %s:\n%s - %s", t.cfg.StationName, track.Artist, track.Title)
	if track.Album != "" {
		fmt.Fprintf(&b, "\nFrom the album: %s", track.Album)
	}
	if track.Program != "" {
		fmt.Fprintf(&b, "\nProgram: %s", track.Program)
	}
	if track.Presenter != "" {
		fmt.Fprintf(&b, "\nPresenter: %s", track.Presenter)
	}
	if len(t.cfg.Hashtags) > 0 {
		b.WriteString("\n" + strings.Join(t.cfg.Hashtags, " "))
	}

	return Truncate(b.String(), req.CharacterLimit), "template", nil
}

// Truncate cuts text to limit runes, appending an ellipsis when anything
// was removed. Limits below 2 return the bare prefix.
func Truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	if limit < 2 {
		return string(runes[:limit])
	}
	return strings.TrimRight(string(runes[:limit-1]), " \n") + "…"
}

// WithFallback wraps a provider so generation failures recover locally to
// the template generator instead of failing the post.
func WithFallback(primary Provider, fallback *Templates, log logx.Logger) Provider {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &fallbackProvider{primary: primary, fallback: fallback, log: log}
}

type fallbackProvider struct {
	primary  Provider
	fallback *Templates
	log      logx.Logger
}

func (f *fallbackProvider) Generate(ctx context.Context, req Request) (string, string, error) {
	if f.primary != nil {
		text, source, err := f.primary.Generate(ctx, req)
		if err == nil {
			return text, source, nil
		}
		f.log.Warn("content generation failed; falling back to template",
			logx.String("platform", req.Platform), logx.Err(err))
	}
	return f.fallback.Generate(ctx, req)
}
