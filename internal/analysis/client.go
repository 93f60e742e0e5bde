// Package analysis provides language-model clients used to interpret
// evidence and media, plus JSON schema validation of their structured output.
package analysis

import (
	"context"
	"encoding/json"
	"time"
)

// Request is a single completion request. When Schema is set, the response
// text must contain a JSON document that validates against it.
type Request struct {
	System string
	Prompt string
	Schema json.RawMessage
	// Timeout bounds the call; zero means the client's default.
	Timeout time.Duration
}

// Result holds the model's reply. JSON is populated only when the request
// carried a schema.
type Result struct {
	Text string
	JSON json.RawMessage
}

// Client is implemented by each model provider.
type Client interface {
	Complete(ctx context.Context, req Request) (*Result, error)
	Name() string
}
