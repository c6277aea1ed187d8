// Package bluesky posts to Bluesky over the AT Protocol XRPC API.
//
// Sessions are cheap app-password logins, so the client authenticates per
// operation instead of persisting tokens; failed logins surface as
// credential errors like an expired stored token would.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"myrcat/internal/models"
	"myrcat/internal/netexec"
	"myrcat/internal/social"
)

const defaultHost = "https://bsky.social"

type Config struct {
	Handle   string `json:"handle"`
	Password string `json:"password"` // app password, not the account password
	Host     string `json:"host,omitempty"`
}

type Client struct {
	cfg  Config
	host string
	http *http.Client
	now  func() time.Time
}

func New(cfg Config) (*Client, error) {
	if cfg.Handle == "" || cfg.Password == "" {
		return nil, errors.New("bluesky: handle and password are required")
	}
	host := strings.TrimRight(cfg.Host, "/")
	if host == "" {
		host = defaultHost
	}
	return &Client{
		cfg:  cfg,
		host: host,
		http: &http.Client{Timeout: 20 * time.Second},
		now:  time.Now,
	}, nil
}

func (c *Client) Name() string         { return "bluesky" }
func (c *Client) DedupSensitive() bool { return true }

type session struct {
	AccessJwt string `json:"accessJwt"`
	DID       string `json:"did"`
}

func (c *Client) login(ctx context.Context) (session, error) {
	var s session
	err := c.xrpc(ctx, http.MethodPost, "com.atproto.server.createSession", "", nil,
		map[string]string{"identifier": c.cfg.Handle, "password": c.cfg.Password}, &s)
	if err != nil {
		var ce *netexec.CredentialError
		if errors.As(err, &ce) || errors.Is(err, netexec.ErrTokenExpired) {
			return session{}, &netexec.CredentialError{Platform: "bluesky", Reason: "login rejected; check handle and app password"}
		}
		return session{}, err
	}
	return s, nil
}

func (c *Client) Publish(ctx context.Context, req social.PublishRequest) (social.PublishResult, error) {
	s, err := c.login(ctx)
	if err != nil {
		return social.PublishResult{}, err
	}

	record := map[string]any{
		"$type":     "app.bsky.feed.post",
		"text":      req.Text,
		"createdAt": c.now().UTC().Format(time.RFC3339),
	}

	if req.ImagePath != "" {
		blob, err := c.uploadBlob(ctx, s, req.ImagePath)
		if err == nil && blob != nil {
			record["embed"] = map[string]any{
				"$type": "app.bsky.embed.images",
				"images": []map[string]any{{
					"alt":   fmt.Sprintf("Album artwork for %s by %s", req.Track.Title, req.Track.Artist),
					"image": blob,
				}},
			}
		}
		// A failed upload drops the image but never the post.
	}

	var out struct {
		URI string `json:"uri"`
		CID string `json:"cid"`
	}
	err = c.xrpc(ctx, http.MethodPost, "com.atproto.repo.createRecord", s.AccessJwt, nil,
		map[string]any{
			"repo":       s.DID,
			"collection": "app.bsky.feed.post",
			"record":     record,
		}, &out)
	if err != nil {
		return social.PublishResult{}, err
	}
	if out.URI == "" {
		return social.PublishResult{
			RemoteID:  "bluesky_" + c.now().UTC().Format("20060102150405"),
			Synthetic: true,
		}, nil
	}
	return social.PublishResult{RemoteID: out.URI}, nil
}

// CheckEngagement reads like/repost/reply counts from the post thread view.
// remoteID is the at:// uri returned at publish time.
func (c *Client) CheckEngagement(ctx context.Context, remoteID string, _ models.Token) (social.Metrics, error) {
	s, err := c.login(ctx)
	if err != nil {
		return social.Metrics{}, err
	}

	var out struct {
		Thread struct {
			Post struct {
				LikeCount   int `json:"likeCount"`
				RepostCount int `json:"repostCount"`
				ReplyCount  int `json:"replyCount"`
			} `json:"post"`
		} `json:"thread"`
	}
	q := map[string]string{"uri": remoteID, "depth": "0"}
	if err := c.xrpc(ctx, http.MethodGet, "app.bsky.feed.getPostThread", s.AccessJwt, q, nil, &out); err != nil {
		return social.Metrics{}, err
	}
	return social.Metrics{
		Likes:    out.Thread.Post.LikeCount,
		Shares:   out.Thread.Post.RepostCount,
		Comments: out.Thread.Post.ReplyCount,
	}, nil
}

func (c *Client) uploadBlob(ctx context.Context, s session, path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	url := c.host + "/xrpc/com.atproto.repo.uploadBlob"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", contentTypeFor(path))
	httpReq.Header.Set("Authorization", "Bearer "+s.AccessJwt)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bluesky: uploadBlob returned %d", resp.StatusCode)
	}

	var out struct {
		Blob json.RawMessage `json:"blob"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out.Blob, nil
}

// xrpc issues one XRPC call. query applies to GETs, in to POST bodies; out
// is decoded from a successful response when non-nil.
func (c *Client) xrpc(ctx context.Context, method, nsid, jwt string, query map[string]string, in, out any) error {
	url := c.host + "/xrpc/" + nsid
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if jwt != "" {
		httpReq.Header.Set("Authorization", "Bearer "+jwt)
	}
	if len(query) > 0 {
		q := httpReq.URL.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		httpReq.URL.RawQuery = q.Encode()
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		err := fmt.Errorf("bluesky: %s returned %d (%s): %s", nsid, resp.StatusCode, apiErr.Error, apiErr.Message)
		if apiErr.Error == "NotFound" {
			return fmt.Errorf("%w: %w", netexec.ErrRemoteGone, err)
		}
		return netexec.FromHTTPStatus(resp.StatusCode, retryAfter(resp), err)
	}

	if out != nil {
		return json.Unmarshal(raw, out)
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

func contentTypeFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".png"):
		return "image/png"
	case strings.HasSuffix(path, ".webp"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
