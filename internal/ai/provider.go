package ai

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is one configured LLM endpoint bound to a single credential.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Completer turns a single prompt into the provider's raw reply text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
