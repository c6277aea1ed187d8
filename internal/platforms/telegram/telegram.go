// Package telegram posts now-playing updates to a Telegram channel through
// the Bot API. The bot token is static config; Telegram bot tokens do not
// expire, so the platform opts out of the stored-token lifecycle.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	tele "gopkg.in/telebot.v4"

	"myrcat/internal/netexec"
	"myrcat/internal/social"
)

type Config struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

type Client struct {
	cfg Config
	bot *tele.Bot
}

func New(cfg Config) (*Client, error) {
	if cfg.Token == "" || cfg.ChatID == 0 {
		return nil, errors.New("telegram: token and chat_id are required")
	}
	b, err := tele.NewBot(tele.Settings{
		Token: cfg.Token,
		// Send-only; no poller.
		Client: nil,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Client{cfg: cfg, bot: b}, nil
}

func (c *Client) Name() string         { return "telegram" }
func (c *Client) DedupSensitive() bool { return true }

func (c *Client) Publish(ctx context.Context, req social.PublishRequest) (social.PublishResult, error) {
	if err := ctx.Err(); err != nil {
		return social.PublishResult{}, err
	}

	to := tele.ChatID(c.cfg.ChatID)
	var (
		msg *tele.Message
		err error
	)
	if req.ImagePath != "" {
		photo := &tele.Photo{File: tele.FromDisk(req.ImagePath), Caption: req.Text}
		msg, err = c.bot.Send(to, photo)
	} else {
		msg, err = c.bot.Send(to, req.Text, &tele.SendOptions{DisableWebPagePreview: true})
	}
	if err != nil {
		return social.PublishResult{}, classify(err)
	}

	return social.PublishResult{RemoteID: fmt.Sprintf("%d:%d", c.cfg.ChatID, msg.ID)}, nil
}

// classify maps Bot API failures onto the retry taxonomy. Telebot exposes
// flood waits with an explicit retry-after and auth failures as typed errors.
func classify(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return netexec.RateLimited(err, time.Duration(flood.RetryAfter)*time.Second)
	}
	if errors.Is(err, tele.ErrUnauthorized) {
		return &netexec.CredentialError{Platform: "telegram", Reason: err.Error()}
	}
	if errors.Is(err, tele.ErrChatNotFound) || errors.Is(err, tele.ErrNoRightsToSend) {
		return netexec.Permanent(err)
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 {
		return netexec.Permanent(err)
	}
	return err
}
