package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one chat completion call. Empty Model means the adapter default;
// nil Temperature means the provider default.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
	JSON        bool
}

// Temperature returns a pointer for Request and ServiceConfig fields.
func Temperature(v float64) *float64 { return &v }

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Response struct {
	Text         string
	Usage        Usage
	FinishReason string
}

// Adapter is a provider-specific chat completion endpoint.
type Adapter interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}
