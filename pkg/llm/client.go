// Package llm defines the boundary to the language model used for
// hypothesis generation and relevance re-ranking. The pipeline only
// depends on this interface; production wiring supplies a concrete
// client, tests supply scripted fakes.
package llm

import (
	"context"
	"errors"
)

// ErrLLM indicates a failure talking to the language model. Callers
// that can degrade (re-ranking, hypothesis generation) treat it as a
// signal to fall back, not to abort the pipeline.
var ErrLLM = errors.New("llm request failed")

// Request is a single completion request.
type Request struct {
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Response is the model output for one request.
type Response struct {
	Content string
}

// Client issues completion requests against a language model.
type Client interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}
