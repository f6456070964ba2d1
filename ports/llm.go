package ports

import "context"

// Message roles understood by chat-completion providers
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent to the model
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UsageData represents raw usage data from LLM provider APIs
type UsageData struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Model            string `json:"model"`
	Provider         string `json:"provider"`
}

// Completion is the model output together with what it cost
type Completion struct {
	Text  string
	Usage UsageData
	Cost  float64
}

// ModelClientPort is the completion capability consumed by planner and writer.
// Implementations enforce their own per-call timeout.
type ModelClientPort interface {
	Complete(ctx context.Context, messages []Message, maxTokens int, temperature float64) (*Completion, error)
}
