package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"rivalbot/internal/rivalry"
	logx "rivalbot/pkg/logx"
)

const (
	DefaultModel       = "gpt-3.5-turbo"
	DefaultMaxTokens   = 150
	DefaultTemperature = 0.8
	// socialLimit is the length the prompt asks for; longer answers are cut.
	socialLimit = 280
)

var errEmptyCompletion = errors.New("empty completion")

// RemoteOptions configures a Remote composer.
type RemoteOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// Remote asks a chat-completion model for the text and falls back to another
// composer on any failure.
type Remote struct {
	client   openai.Client
	opts     RemoteOptions
	fallback Composer
	log      logx.Logger
}

func NewRemote(opts RemoteOptions, fallback Composer, log logx.Logger) *Remote {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Temperature <= 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if fallback == nil {
		fallback = NewTemplate(nil)
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		// One attempt; the fallback covers failures.
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}
	return &Remote{
		client:   openai.NewClient(reqOpts...),
		opts:     opts,
		fallback: fallback,
		log:      log,
	}
}

func (r *Remote) Compose(ctx context.Context, req Request) string {
	text, err := r.complete(ctx, req)
	if err != nil {
		r.log.Warn("remote compose failed; using template",
			logx.String("entity", req.EntityName),
			logx.String("model", r.opts.Model),
			logx.Err(err),
		)
		return r.fallback.Compose(ctx, req)
	}
	return text
}

// Verify runs one completion without the fallback and reports its error.
func (r *Remote) Verify(ctx context.Context) error {
	_, err := r.complete(ctx, Request{
		EntityName: "Cristiano Ronaldo",
		Supports:   "Lionel Messi",
		Count:      1,
		Kind:       rivalry.Player,
	})
	return err
}

func (r *Remote) complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	resp, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(r.opts.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt(req)),
		},
		MaxTokens:   openai.Int(int64(r.opts.MaxTokens)),
		Temperature: openai.Float(r.opts.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}
	text := strings.Trim(strings.TrimSpace(resp.Choices[0].Message.Content), `"`)
	if text == "" {
		return "", errEmptyCompletion
	}
	return Truncate(text, socialLimit), nil
}

func prompt(req Request) string {
	var b strings.Builder
	b.WriteString("Generate a fun, playful, and banterous social media message for football/soccer fans.\n\n")
	b.WriteString("Context:\n")
	fmt.Fprintf(&b, "- %s just scored a %s (now has %d %s this season)\n",
		req.EntityName, req.Kind.Singular(), req.Count, req.Kind.Activity())
	fmt.Fprintf(&b, "- This message is being sent to fans of %s (the rival team/player)\n", req.Supports)
	b.WriteString("- Keep it light-hearted, funny, and engaging - good-natured trolling\n")
	b.WriteString("- Use emojis and make it social media friendly\n")
	b.WriteString("- Include relevant hashtags\n")
	fmt.Fprintf(&b, "- Maximum %d characters to fit social media limits\n", socialLimit)
	b.WriteString("- Don't be mean-spirited, keep it playful and fun\n")
	b.WriteString("- The tone should be like friendly banter between football fans at a pub - cheeky but not nasty\n\n")
	b.WriteString("Generate ONLY the message text, no explanations or quotes around it.")
	return b.String()
}
