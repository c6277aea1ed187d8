package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  path: ./data/myrcat.db
  busy_timeout: 5s
server:
  listen_addr: 127.0.0.1:8080
publish:
  enabled: true
  skip_artists:
    - Station ID
network:
  max_retries: 3
  retry_delay: 2s
  jitter_factor: 0.25
analytics:
  check_frequency: 6h
  retention_days: 90
  report_dir: ./reports
content:
  station_name: Now Wave Radio
  hashtags:
    - "#nowplaying"
platforms:
  bluesky:
    enabled: true
    post_frequency: 1h
    artist_repost_window: 4h
    character_limit: 300
    config:
      handle: station.bsky.social
      password: app-password
  lastfm:
    enabled: true
    config:
      api_key: k
      api_secret: s
      session_key: sk
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yml", sampleYAML))

	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Path != "./data/myrcat.db" {
		t.Fatalf("storage.path = %q", cfg.Storage.Path)
	}
	if !cfg.Publish.Enabled || len(cfg.Publish.SkipArtists) != 1 {
		t.Fatalf("publish = %+v", cfg.Publish)
	}
	if cfg.Network.MaxRetries != 3 || cfg.Network.JitterFactor != 0.25 {
		t.Fatalf("network = %+v", cfg.Network)
	}
	if cfg.Content.StationName != "Now Wave Radio" || len(cfg.Content.Hashtags) != 1 {
		t.Fatalf("content = %+v", cfg.Content)
	}

	bs, ok := cfg.Platforms["bluesky"]
	if !ok || !bs.Enabled || bs.PostFrequency != "1h" || bs.CharacterLimit != 300 {
		t.Fatalf("bluesky = %+v", bs)
	}
	var creds struct {
		Handle   string `json:"handle"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(bs.Config, &creds); err != nil {
		t.Fatalf("platform config block: %v", err)
	}
	if creds.Handle != "station.bsky.social" {
		t.Fatalf("handle = %q", creds.Handle)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
	}{
		{name: "top level typo", content: "loging:\n  level: debug\n"},
		{name: "platform typo", content: "platforms:\n  bluesky:\n    enabld: true\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeConfig(t, "config.yml", tt.content))
			if _, err := m.Parse(); err == nil {
				t.Fatal("expected unknown-field error")
			}
		})
	}
}

func TestParseMissingFile(t *testing.T) {
	t.Parallel()
	m := NewManager(filepath.Join(t.TempDir(), "nope.yml"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDedupNormalizeDefaultsOn(t *testing.T) {
	t.Parallel()
	var p PublishConfig
	if !p.Normalize() {
		t.Fatal("dedup_normalize must default to true")
	}
	off := false
	p.DedupNormalize = &off
	if p.Normalize() {
		t.Fatal("explicit false must disable normalization")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{name: "empty", raw: "", want: 0},
		{name: "simple", raw: "5s", want: 5 * time.Second},
		{name: "compound", raw: "1h30m", want: 90 * time.Minute},
		{name: "negative", raw: "-1s", wantErr: true},
		{name: "bare number", raw: "30", wantErr: true},
		{name: "garbage", raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationField("test.field", tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDurationField(%q): expected error", tt.raw)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("ParseDurationField(%q) = %v, %v; want %v", tt.raw, got, err, tt.want)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("f", "", time.Hour); err != nil || d != time.Hour {
		t.Fatalf("empty = %v, %v; want default 1h", d, err)
	}
	if d, err := ParseDurationOrDefault("f", "10m", time.Hour); err != nil || d != 10*time.Minute {
		t.Fatalf("set = %v, %v; want 10m", d, err)
	}
}

func TestSubscribePublishAndUnsubscribe(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yml", sampleYAML))
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}

	ch := m.Subscribe(1)
	next := &Config{}
	m.publish(next)

	select {
	case got := <-ch:
		if got != next {
			t.Fatal("subscriber received wrong config")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the update")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
}
