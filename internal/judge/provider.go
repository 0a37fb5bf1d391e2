package judge

import "context"

// Provider is a text completion backend.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Name() string
	Model() string
}

// CompletionRequest is a single prompt.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
}

// CompletionResponse is the model output.
type CompletionResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	Model            string
	StopReason       string
}
