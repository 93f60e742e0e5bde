package analysis

import (
	"context"
	"fmt"
	"time"
)

// Providers accepted by NewClient.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderNone      = "none"
)

// NewClient builds a provider client. Provider "none" returns a client whose
// calls always fail, letting pipelines fall back to unanalyzed output.
func NewClient(provider, apiKey, model, baseURL string, timeout time.Duration) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		if apiKey == "" {
			return nil, fmt.Errorf("analysis: anthropic provider requires an API key")
		}
		return NewAnthropicClient(apiKey, model, timeout), nil
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("analysis: openai provider requires an API key")
		}
		return NewOpenAIClient(apiKey, model, baseURL, timeout), nil
	case ProviderNone, "":
		return disabledClient{}, nil
	default:
		return nil, fmt.Errorf("analysis: unknown provider %q", provider)
	}
}

type disabledClient struct{}

func (disabledClient) Name() string { return "none" }

func (disabledClient) Complete(context.Context, Request) (*Result, error) {
	return nil, fmt.Errorf("%w: no provider configured", ErrService)
}
