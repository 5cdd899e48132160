// Package llm wraps the OpenAI chat completions API behind a small gateway
// used by the conversational pipeline. Call sites express structured output
// needs through explicit Schema descriptors; malformed output goes through
// a single self-healing repair pass before degrading to raw text.
package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

// Message is one turn of conversational input to the model.
type Message struct {
	Role    string // "system", "user" or "assistant"
	Content string
}

// Config controls one invocation.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int64
	Stream      bool
	Schema      *Schema // non-nil requests JSON mode with the schema instruction
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Result carries the model output. For schema calls Object holds the parsed
// fields; Text always holds the raw completion. Degraded is set when the
// output failed schema parsing after the repair attempt and Object is nil.
type Result struct {
	Text     string
	Object   map[string]any
	Usage    Usage
	Degraded bool
}

// Gateway is the model interface the pipeline depends on. Tests substitute
// a scripted fake.
type Gateway interface {
	Invoke(ctx context.Context, messages []Message, cfg Config) (*Result, error)
	InvokeStream(ctx context.Context, messages []Message, cfg Config, sink func(chunk string)) (*Result, error)
}

// Client is the production Gateway backed by the OpenAI API.
type Client struct {
	api    *openai.Client
	logger *zap.Logger
}

// NewClient creates a client using the OPENAI_API_KEY environment variable.
func NewClient(logger *zap.Logger) (*Client, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required")
	}
	api := openai.NewClient(option.WithAPIKey(key))
	return &Client{api: &api, logger: logger}, nil
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
