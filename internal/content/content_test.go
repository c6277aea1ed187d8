package content

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"myrcat/internal/models"
	logx "myrcat/pkg/logx"
)

var track = models.Track{
	Artist:  "The Kinks",
	Title:   "Waterloo Sunset",
	Album:   "Something Else",
	Program: "Afternoon Drive",
}

func TestTemplatesGenerate(t *testing.T) {
	t.Parallel()
	p := NewTemplates(TemplateConfig{StationName: "Now Wave Radio", Hashtags: []string{"#NowPlaying"}})

	text, source, err := p.Generate(context.Background(), Request{Track: track})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if source != "template" {
		t.Fatalf("source = %s, want template", source)
	}
	for _, want := range []string{
		"Now Playing on Now Wave Radio",
		"The Kinks - Waterloo Sunset",
		"From the album: Something Else",
		"Program: Afternoon Drive",
		"#NowPlaying",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("caption missing %q:\n%s", want, text)
		}
	}
}

func TestTemplatesStationName(t *testing.T) {
	t.Parallel()
	p := NewTemplates(TemplateConfig{StationName: "KEXP"})
	text, _, err := p.Generate(context.Background(), Request{Track: track})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if !strings.Contains(text, "Now Playing on KEXP") {
		t.Fatalf("caption missing configured station:\n%s", text)
	}

	p = NewTemplates(TemplateConfig{})
	text, _, err = p.Generate(context.Background(), Request{Track: track})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if !strings.Contains(text, "Now Playing on Now Wave Radio") {
		t.Fatalf("caption missing default station:\n%s", text)
	}
}

func TestTemplatesOmitEmptyFields(t *testing.T) {
	t.Parallel()
	p := NewTemplates(TemplateConfig{})

	text, _, err := p.Generate(context.Background(), Request{Track: models.Track{Artist: "a", Title: "t"}})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if strings.Contains(text, "album") || strings.Contains(text, "Program") {
		t.Fatalf("caption includes empty sections:\n%s", text)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		text  string
		limit int
		want  string
	}{
		{name: "no limit", text: "hello", limit: 0, want: "hello"},
		{name: "under limit", text: "hello", limit: 10, want: "hello"},
		{name: "at limit", text: "hello", limit: 5, want: "hello"},
		{name: "over limit", text: "hello world", limit: 8, want: "hello w…"},
		{name: "multibyte", text: "🎵🎵🎵🎵", limit: 3, want: "🎵🎵…"},
		{name: "tiny limit", text: "hello", limit: 1, want: "h"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.text, tt.limit)
			if got != tt.want {
				t.Fatalf("Truncate(%q, %d) = %q, want %q", tt.text, tt.limit, got, tt.want)
			}
			if tt.limit > 0 && utf8.RuneCountInString(got) > tt.limit {
				t.Fatalf("result %q exceeds limit %d", got, tt.limit)
			}
		})
	}
}

func TestTemplatesRespectCharacterLimit(t *testing.T) {
	t.Parallel()
	p := NewTemplates(TemplateConfig{})

	text, _, err := p.Generate(context.Background(), Request{Track: track, CharacterLimit: 50})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if n := utf8.RuneCountInString(text); n > 50 {
		t.Fatalf("caption length = %d runes, want <= 50", n)
	}
}

type failingProvider struct{}

func (failingProvider) Generate(context.Context, Request) (string, string, error) {
	return "", "", errors.New("model unavailable")
}

func TestWithFallbackRecovers(t *testing.T) {
	t.Parallel()
	p := WithFallback(failingProvider{}, NewTemplates(TemplateConfig{}), logx.Nop())

	text, source, err := p.Generate(context.Background(), Request{Track: track})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if source != "template" {
		t.Fatalf("source = %s, want template fallback", source)
	}
	if !strings.Contains(text, "Waterloo Sunset") {
		t.Fatalf("fallback caption missing track:\n%s", text)
	}
}

type okProvider struct{}

func (okProvider) Generate(context.Context, Request) (string, string, error) {
	return "custom caption", "ai", nil
}

func TestWithFallbackPrefersPrimary(t *testing.T) {
	t.Parallel()
	p := WithFallback(okProvider{}, NewTemplates(TemplateConfig{}), logx.Nop())

	text, source, err := p.Generate(context.Background(), Request{Track: track})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if source != "ai" || text != "custom caption" {
		t.Fatalf("got %q from %s, want primary result", text, source)
	}
}
