// Package lastfm scrobbles playouts to the Last.fm submission API.
//
// Scrobbling is a play log, not a social feed: every track is submitted, so
// the platform opts out of artist repost gating, and the API returns no post
// object so every result carries a synthesized id.
package lastfm

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"myrcat/internal/netexec"
	"myrcat/internal/social"
)

const apiRoot = "https://ws.audioscrobbler.com/2.0/"

type Config struct {
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	SessionKey string `json:"session_key"`
}

type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" || cfg.SessionKey == "" {
		return nil, errors.New("lastfm: api_key, api_secret and session_key are required")
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
		now:  time.Now,
	}, nil
}

func (c *Client) Name() string         { return "lastfm" }
func (c *Client) DedupSensitive() bool { return false }

func (c *Client) Publish(ctx context.Context, req social.PublishRequest) (social.PublishResult, error) {
	ts := c.now()
	params := map[string]string{
		"method":    "track.scrobble",
		"api_key":   c.cfg.APIKey,
		"sk":        c.cfg.SessionKey,
		"artist":    req.Track.Artist,
		"track":     req.Track.Title,
		"timestamp": strconv.FormatInt(ts.Unix(), 10),
	}
	if req.Track.Album != "" {
		params["album"] = req.Track.Album
	}
	if req.Track.Duration > 0 {
		params["duration"] = strconv.Itoa(req.Track.Duration)
	}
	params["api_sig"] = c.sign(params)
	params["format"] = "json"

	if err := c.call(ctx, params); err != nil {
		return social.PublishResult{}, err
	}
	return social.PublishResult{
		RemoteID:  "lastfm_" + ts.UTC().Format("20060102150405"),
		Synthetic: true,
	}, nil
}

// sign computes the method signature: params sorted by key, concatenated as
// key+value, secret appended, md5-hexed. format is excluded per the API.
func (c *Client) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}
	b.WriteString(c.cfg.APISecret)
	return fmt.Sprintf("%x", md5.Sum([]byte(b.String())))
}

func (c *Client) call(ctx context.Context, params map[string]string) error {
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiRoot, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode != http.StatusOK {
		return netexec.FromHTTPStatus(resp.StatusCode, retryAfter(resp),
			fmt.Errorf("lastfm: scrobble returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	// HTTP 200 can still carry an API-level error object.
	var apiErr struct {
		Error   int    `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != 0 {
		err := fmt.Errorf("lastfm: api error %d: %s", apiErr.Error, apiErr.Message)
		switch apiErr.Error {
		case 9: // invalid session key
			return &netexec.CredentialError{Platform: "lastfm", Reason: apiErr.Message}
		case 29: // rate limit exceeded
			return netexec.RateLimited(err, 0)
		case 11, 16: // service offline / temporarily unavailable
			return err
		default:
			return netexec.Permanent(err)
		}
	}
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
