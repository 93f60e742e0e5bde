package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

const defaultTimeout = 60 * time.Second

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	client  *anthropic.Client
	model   string
	timeout time.Duration
}

func NewAnthropicClient(apiKey, model string, timeout time.Duration) *AnthropicClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &AnthropicClient{
		client:  anthropic.NewClient(apiKey),
		model:   model,
		timeout: timeout,
	}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := req.Prompt
	if len(req.Schema) > 0 {
		prompt = withSchemaInstructions(prompt, req.Schema)
	}

	mr := anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		MaxTokens: 4096,
		Messages: []anthropic.Message{
			{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(prompt)},
			},
		},
	}
	if req.System != "" {
		mr.MultiSystem = []anthropic.MessageSystemPart{{Type: "text", Text: req.System}}
	}

	resp, err := c.client.CreateMessages(ctx, mr)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrService, err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			text += *block.Text
		}
	}
	return finishResult(text, req.Schema)
}
