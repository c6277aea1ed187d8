package content

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"text/template"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const defaultPrompt = `Write a short, warm social media caption announcing that ` +
	`"{{.Title}}" by {{.Artist}} is now playing on the radio.` +
	`{{if .Album}} The track is from the album "{{.Album}}".{{end}}` +
	`{{if .Program}} It airs on the program "{{.Program}}".{{end}}` +
	` No hashtags, no emoji spam, one or two sentences.`

// AIConfig configures the model-backed caption generator.
type AIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Prompt  string // text/template over the track fields
}

// AICaptioner generates captions with a chat-completion model. It should
// always be wrapped by WithFallback: any failure here is recoverable by
// the template generator.
type AICaptioner struct {
	client openai.Client
	model  string
	tmpl   *template.Template
}

func NewAICaptioner(cfg AIConfig) (*AICaptioner, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("content: ai model is not configured")
	}
	prompt := cfg.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultPrompt
	}
	tmpl, err := template.New("caption").Parse(prompt)
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	return &AICaptioner{client: openai.NewClient(opts...), model: cfg.Model, tmpl: tmpl}, nil
}

func (a *AICaptioner) Generate(ctx context.Context, req Request) (string, string, error) {
	var buf bytes.Buffer
	if err := a.tmpl.Execute(&buf, req.Track); err != nil {
		return "", "", err
	}

	completion, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(buf.String()),
		},
		Model: a.model,
	})
	if err != nil {
		return "", "", err
	}
	if len(completion.Choices) == 0 {
		return "", "", errors.New("content: empty completion")
	}

	text := strings.TrimSpace(completion.Choices[0].Message.Content)
	if text == "" {
		return "", "", errors.New("content: blank caption")
	}
	return Truncate(text, req.CharacterLimit), "ai", nil
}
