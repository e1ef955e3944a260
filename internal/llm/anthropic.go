package llm

import (
	"context"
	"errors"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Rewriter wraps the Anthropic Messages API as an engine.Generator. It is
// optional infrastructure: when no API key is configured the engine simply
// runs without a generator and keeps its deterministic templates.
type Rewriter struct {
	client anthropic.Client
	model  string
}

var ErrNoAPIKey = errors.New("llm api key not configured")

// NewRewriter builds a rewriter from the environment. The key is opaque to
// the rest of the system.
func NewRewriter(model string) (*Rewriter, error) {
	key := os.Getenv("ANTHROPIC_API_KEY")
	if key == "" {
		return nil, ErrNoAPIKey
	}
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_5)
	}
	return &Rewriter{
		client: anthropic.NewClient(option.WithAPIKey(key)),
		model:  model,
	}, nil
}

// Rewrite sends the draft with the safety prompt and returns the rewritten
// prose. The caller owns the timeout and the post-call validation gate.
func (r *Rewriter) Rewrite(ctx context.Context, prompt, draft string) (string, error) {
	msg, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: 512,
		System: []anthropic.TextBlockParam{
			{Text: prompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(draft)),
		},
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", errors.New("empty completion")
	}
	return out, nil
}
