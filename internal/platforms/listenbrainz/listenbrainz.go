// Package listenbrainz submits playouts to the ListenBrainz listen API.
// Like scrobbling, every track is submitted and no remote post object
// exists, so results carry synthesized ids and repost gating is off.
package listenbrainz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"myrcat/internal/netexec"
	"myrcat/internal/social"
)

const defaultRoot = "https://api.listenbrainz.org"

type Config struct {
	// Token is the user token from the ListenBrainz profile page.
	Token string `json:"token"`

	// Root overrides the API root, for self-hosted instances.
	Root string `json:"root,omitempty"`
}

type Client struct {
	cfg  Config
	root string
	http *http.Client
	now  func() time.Time
}

func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("listenbrainz: token is required")
	}
	root := strings.TrimRight(cfg.Root, "/")
	if root == "" {
		root = defaultRoot
	}
	return &Client{
		cfg:  cfg,
		root: root,
		http: &http.Client{Timeout: 15 * time.Second},
		now:  time.Now,
	}, nil
}

func (c *Client) Name() string         { return "listenbrainz" }
func (c *Client) DedupSensitive() bool { return false }

type listenPayload struct {
	ListenType string   `json:"listen_type"`
	Payload    []listen `json:"payload"`
}

type listen struct {
	ListenedAt int64         `json:"listened_at"`
	Metadata   trackMetadata `json:"track_metadata"`
}

type trackMetadata struct {
	ArtistName  string          `json:"artist_name"`
	TrackName   string          `json:"track_name"`
	ReleaseName string          `json:"release_name,omitempty"`
	Additional  *additionalInfo `json:"additional_info,omitempty"`
}

type additionalInfo struct {
	ISRC       string `json:"isrc,omitempty"`
	DurationMS int    `json:"duration_ms,omitempty"`
	Submitter  string `json:"submission_client,omitempty"`
}

func (c *Client) Publish(ctx context.Context, req social.PublishRequest) (social.PublishResult, error) {
	ts := c.now()
	body := listenPayload{
		ListenType: "single",
		Payload: []listen{{
			ListenedAt: ts.Unix(),
			Metadata: trackMetadata{
				ArtistName:  req.Track.Artist,
				TrackName:   req.Track.Title,
				ReleaseName: req.Track.Album,
				Additional: &additionalInfo{
					ISRC:       req.Track.ISRC,
					DurationMS: req.Track.Duration * 1000,
					Submitter:  "myrcat",
				},
			},
		}},
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return social.PublishResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.root+"/1/submit-listens", bytes.NewReader(raw))
	if err != nil {
		return social.PublishResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Token "+c.cfg.Token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return social.PublishResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		err := fmt.Errorf("listenbrainz: submit returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode == http.StatusUnauthorized {
			return social.PublishResult{}, &netexec.CredentialError{Platform: "listenbrainz", Reason: "token rejected"}
		}
		return social.PublishResult{}, netexec.FromHTTPStatus(resp.StatusCode, retryAfter(resp), err)
	}

	return social.PublishResult{
		RemoteID:  "listenbrainz_" + ts.UTC().Format("20060102150405"),
		Synthetic: true,
	}, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
