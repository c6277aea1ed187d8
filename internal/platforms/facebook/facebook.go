// Package facebook posts to a Facebook page through the Graph API and
// carries the full stored-token lifecycle: debug_token validation,
// long-lived token exchange, and interactive generation from a pasted
// short-lived token.
package facebook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"myrcat/internal/models"
	"myrcat/internal/netexec"
	"myrcat/internal/social"
)

const graphRoot = "https://graph.facebook.com/v19.0"

type Config struct {
	PageID    string `json:"page_id"`
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
}

type Client struct {
	cfg  Config
	root string
	http *http.Client
	now  func() time.Time
}

func New(cfg Config) (*Client, error) {
	if cfg.PageID == "" || cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, errors.New("facebook: page_id, app_id and app_secret are required")
	}
	return &Client{
		cfg:  cfg,
		root: graphRoot,
		http: &http.Client{Timeout: 20 * time.Second},
		now:  time.Now,
	}, nil
}

func (c *Client) Name() string         { return "facebook" }
func (c *Client) DedupSensitive() bool { return true }

func (c *Client) Publish(ctx context.Context, req social.PublishRequest) (social.PublishResult, error) {
	if req.Token.AccessToken == "" {
		return social.PublishResult{}, &netexec.CredentialError{Platform: "facebook", Reason: "no page token; run token generate"}
	}

	form := url.Values{}
	form.Set("message", req.Text)
	form.Set("access_token", req.Token.AccessToken)

	var out struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	if err := c.call(ctx, http.MethodPost, "/"+c.cfg.PageID+"/feed", form, &out); err != nil {
		return social.PublishResult{}, err
	}

	id := out.PostID
	if id == "" {
		id = out.ID
	}
	if id == "" {
		// The API accepted the post but returned no id; synthesize one so
		// the record exists without ever being polled.
		return social.PublishResult{
			RemoteID:  "fb_" + c.now().UTC().Format("20060102150405"),
			Synthetic: true,
		}, nil
	}
	return social.PublishResult{RemoteID: id}, nil
}

// CheckEngagement reads reaction, share and comment summaries for a post.
func (c *Client) CheckEngagement(ctx context.Context, remoteID string, token models.Token) (social.Metrics, error) {
	if token.AccessToken == "" {
		return social.Metrics{}, &netexec.CredentialError{Platform: "facebook", Reason: "no page token"}
	}

	form := url.Values{}
	form.Set("fields", "reactions.summary(total_count),shares,comments.summary(total_count)")
	form.Set("access_token", token.AccessToken)

	var out struct {
		Reactions struct {
			Summary struct {
				TotalCount int `json:"total_count"`
			} `json:"summary"`
		} `json:"reactions"`
		Shares struct {
			Count int `json:"count"`
		} `json:"shares"`
		Comments struct {
			Summary struct {
				TotalCount int `json:"total_count"`
			} `json:"summary"`
		} `json:"comments"`
	}
	if err := c.call(ctx, http.MethodGet, "/"+remoteID, form, &out); err != nil {
		return social.Metrics{}, err
	}
	return social.Metrics{
		Likes:    out.Reactions.Summary.TotalCount,
		Shares:   out.Shares.Count,
		Comments: out.Comments.Summary.TotalCount,
	}, nil
}

// ValidateToken asks the debug_token endpoint whether the stored token is
// still live. Used when the stored row has no expiry metadata.
func (c *Client) ValidateToken(ctx context.Context, token models.Token) error {
	form := url.Values{}
	form.Set("input_token", token.AccessToken)
	form.Set("access_token", c.cfg.AppID+"|"+c.cfg.AppSecret)

	var out struct {
		Data struct {
			IsValid   bool  `json:"is_valid"`
			ExpiresAt int64 `json:"expires_at"`
		} `json:"data"`
	}
	if err := c.call(ctx, http.MethodGet, "/debug_token", form, &out); err != nil {
		return err
	}
	if !out.Data.IsValid {
		return fmt.Errorf("%w: debug_token reports invalid", netexec.ErrTokenExpired)
	}
	if out.Data.ExpiresAt > 0 && time.Unix(out.Data.ExpiresAt, 0).Before(c.now()) {
		return fmt.Errorf("%w: expired at %s", netexec.ErrTokenExpired, time.Unix(out.Data.ExpiresAt, 0).UTC())
	}
	return nil
}

// RefreshToken exchanges the current token for a fresh long-lived one.
func (c *Client) RefreshToken(ctx context.Context, current models.Token) (models.Token, error) {
	tok, err := c.exchange(ctx, current.AccessToken)
	if err != nil {
		return models.Token{}, err
	}
	tok.Metadata = map[string]string{"source": "exchange"}
	return tok, nil
}

// GenerateToken walks the operator through pasting a short-lived user token
// (from the Graph API Explorer) and exchanges it for a long-lived one.
func (c *Client) GenerateToken(ctx context.Context, prompt func(msg string) (string, error)) (models.Token, error) {
	short, err := prompt("Paste a short-lived user token with pages_manage_posts permission")
	if err != nil {
		return models.Token{}, err
	}
	short = strings.TrimSpace(short)
	if short == "" {
		return models.Token{}, errors.New("facebook: empty token")
	}

	tok, err := c.exchange(ctx, short)
	if err != nil {
		return models.Token{}, err
	}
	tok.Metadata = map[string]string{"source": "interactive"}
	return tok, nil
}

func (c *Client) exchange(ctx context.Context, input string) (models.Token, error) {
	form := url.Values{}
	form.Set("grant_type", "fb_exchange_token")
	form.Set("client_id", c.cfg.AppID)
	form.Set("client_secret", c.cfg.AppSecret)
	form.Set("fb_exchange_token", input)

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := c.call(ctx, http.MethodGet, "/oauth/access_token", form, &out); err != nil {
		return models.Token{}, err
	}
	if out.AccessToken == "" {
		return models.Token{}, errors.New("facebook: exchange returned no token")
	}

	tok := models.Token{
		Platform:    "facebook",
		AccessToken: out.AccessToken,
		CreatedAt:   c.now(),
	}
	if out.ExpiresIn > 0 {
		tok.ExpiresAt = c.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	}
	return tok, nil
}

func (c *Client) call(ctx context.Context, method, path string, form url.Values, out any) error {
	var (
		httpReq *http.Request
		err     error
	)
	if method == http.MethodGet {
		httpReq, err = http.NewRequestWithContext(ctx, method, c.root+path+"?"+form.Encode(), nil)
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, method, c.root+path, strings.NewReader(form.Encode()))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK {
		return c.classify(resp, raw)
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

// classify maps Graph API error responses by status and OAuth error code
// rather than matching message text.
func (c *Client) classify(resp *http.Response, raw []byte) error {
	var body struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
			Subcode int    `json:"error_subcode"`
		} `json:"error"`
	}
	_ = json.Unmarshal(raw, &body)

	err := fmt.Errorf("facebook: graph api %d (code %d): %s",
		resp.StatusCode, body.Error.Code, body.Error.Message)

	switch body.Error.Code {
	case 190: // OAuthException: token invalid or expired
		return fmt.Errorf("%w: %w", netexec.ErrTokenExpired, err)
	case 4, 17, 32: // app/user/page throttling
		return netexec.RateLimited(err, retryAfter(resp))
	case 100:
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w", netexec.ErrRemoteGone, err)
		}
		return netexec.Permanent(err)
	}
	return netexec.FromHTTPStatus(resp.StatusCode, retryAfter(resp), err)
}

func retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
