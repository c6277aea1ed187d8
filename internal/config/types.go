package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Server    ServerConfig    `json:"server"`
	Publish   PublishConfig   `json:"publish"`
	Network   NetworkConfig   `json:"network"`
	Analytics AnalyticsConfig `json:"analytics"`
	Content   ContentConfig   `json:"content,omitempty"`
	Artwork   ArtworkConfig   `json:"artwork,omitempty"`

	// Platforms maps platform name (bluesky, facebook, lastfm,
	// listenbrainz, telegram) to its gating settings plus an opaque
	// platform-specific credentials block each client parses itself.
	Platforms map[string]PlatformConfigRaw `json:"platforms"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// ServerConfig controls the playout ingestion listener.
type ServerConfig struct {
	ListenAddr  string `json:"listen_addr"`
	ReadTimeout string `json:"read_timeout,omitempty"`
}

// PublishConfig carries engine-wide publishing policy.
type PublishConfig struct {
	// Enabled gates all social publishing (playout logging continues).
	Enabled bool `json:"enabled"`

	// SkipArtists/SkipTitles are never published (station IDs, sweepers).
	SkipArtists []string `json:"skip_artists,omitempty"`
	SkipTitles  []string `json:"skip_titles,omitempty"`

	// DedupNormalize enables case-folded, whitespace-collapsed artist
	// comparison for repost gating. Off means exact-match.
	DedupNormalize *bool `json:"dedup_normalize,omitempty"`
}

func (p PublishConfig) Normalize() bool {
	return p.DedupNormalize == nil || *p.DedupNormalize
}

// NetworkConfig controls the outbound retry executor.
// All durations are Go duration strings (e.g. "2s", "1m").
type NetworkConfig struct {
	MaxRetries    int     `json:"max_retries,omitempty"`
	RetryDelay    string  `json:"retry_delay,omitempty"`
	BackoffFactor float64 `json:"backoff_factor,omitempty"`
	JitterFactor  float64 `json:"jitter_factor,omitempty"`
	CallTimeout   string  `json:"call_timeout,omitempty"`
	RatePerMinute int     `json:"rate_per_minute,omitempty"`
}

type AnalyticsConfig struct {
	Enabled *bool `json:"enabled,omitempty"`

	// CheckFrequency is the engagement polling interval (default "6h").
	CheckFrequency string `json:"check_frequency,omitempty"`

	// RetentionDays prunes posts/snapshots older than this (default 90).
	RetentionDays int `json:"retention_days,omitempty"`

	// Lookback is the report aggregation window (default "720h" = 30d).
	Lookback  string `json:"lookback,omitempty"`
	ReportDir string `json:"report_dir,omitempty"`
	TopTracks int    `json:"top_tracks,omitempty"`
}

func (a AnalyticsConfig) IsEnabled() bool { return a.Enabled == nil || *a.Enabled }

type ContentConfig struct {
	// StationName appears in every template caption.
	StationName string `json:"station_name,omitempty"`

	// AIEnabled turns on model-generated captions; template captions are
	// always available as the fallback.
	AIEnabled bool     `json:"ai_enabled,omitempty"`
	BaseURL   string   `json:"base_url,omitempty"`
	Model     string   `json:"model,omitempty"`
	APIKey    string   `json:"api_key,omitempty"`
	Prompt    string   `json:"prompt,omitempty"`
	Hashtags  []string `json:"hashtags,omitempty"`
}

type ArtworkConfig struct {
	Enabled    bool   `json:"enabled,omitempty"`
	PublishDir string `json:"publish_dir,omitempty"`
	// Keep bounds how many hashed artwork files survive cleanup.
	Keep int `json:"keep,omitempty"`
}

// PlatformConfigRaw holds the gating keys common to every platform plus the
// platform-specific block.
type PlatformConfigRaw struct {
	Enabled bool `json:"enabled"`

	// PostFrequency is the minimum gap between posts ("4h"). Empty means
	// no frequency gating (scrobble platforms post every track).
	PostFrequency string `json:"post_frequency,omitempty"`

	// ArtistRepostWindow applies to dedup-sensitive platforms only.
	ArtistRepostWindow string `json:"artist_repost_window,omitempty"`

	CharacterLimit int `json:"character_limit,omitempty"`

	// TestingMode bypasses frequency and dedup gating for verification.
	TestingMode bool `json:"testing_mode,omitempty"`

	// DedupSensitive overrides the platform's built-in default.
	DedupSensitive *bool `json:"dedup_sensitive,omitempty"`

	Config json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields so typos in platform blocks are
// caught at load time instead of silently ignored.
func (p *PlatformConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp PlatformConfigRaw
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PlatformConfigRaw(t)
	return nil
}
