package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"go.uber.org/zap"
)

const maxCompletionRetries = 3

// Invoke runs one chat completion. When cfg.Schema is set the request uses
// JSON mode, the schema instruction is merged into the system message, and
// the output is parsed with a single repair attempt on failure. A parse
// failure after repair is not an error: the Result comes back Degraded with
// the raw text so callers can still surface something to the user.
func (c *Client) Invoke(ctx context.Context, messages []Message, cfg Config) (*Result, error) {
	if cfg.Stream {
		return nil, fmt.Errorf("%w: use InvokeStream", ErrStreamWithSchema)
	}

	msgs := messages
	if cfg.Schema != nil {
		msgs = mergeInstruction(messages, cfg.Schema.Instruction())
	}

	resp, err := c.complete(ctx, msgs, cfg)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Text: resp.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if cfg.Schema == nil {
		return res, nil
	}

	obj, repairUsage, err := c.parseOrRepair(ctx, res.Text, cfg)
	res.Usage.InputTokens += repairUsage.InputTokens
	res.Usage.OutputTokens += repairUsage.OutputTokens
	if err != nil {
		c.logger.Warn("structured output degraded to raw text",
			zap.String("schema", cfg.Schema.Name),
			zap.Error(err))
		res.Degraded = true
		return res, nil
	}
	res.Object = obj
	return res, nil
}

// InvokeStream runs a streaming chat completion, feeding each content delta
// to sink. Streaming is incompatible with structured output.
func (c *Client) InvokeStream(ctx context.Context, messages []Message, cfg Config, sink func(chunk string)) (*Result, error) {
	if cfg.Schema != nil {
		return nil, ErrStreamWithSchema
	}

	params := c.buildParams(messages, cfg)
	stream := c.api.Chat.Completions.NewStreaming(ctx, params)
	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			sink(chunk.Choices[0].Delta.Content)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("%w: stream: %v", ErrGateway, err)
	}
	if len(acc.Choices) == 0 {
		return nil, fmt.Errorf("%w: stream returned no choices", ErrGateway)
	}
	return &Result{
		Text: acc.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  acc.Usage.PromptTokens,
			OutputTokens: acc.Usage.CompletionTokens,
		},
	}, nil
}

func (c *Client) buildParams(messages []Message, cfg Config) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages: toParams(messages),
		Model:    cfg.Model,
	}
	if cfg.Temperature > 0 {
		params.Temperature = openai.Float(cfg.Temperature)
	}
	if cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(cfg.MaxTokens)
	}
	if cfg.Schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{Type: "json_object"},
		}
	}
	return params
}

// complete issues the API call with retry on rate limits and transient
// failures. Non-retryable API errors fail immediately.
func (c *Client) complete(ctx context.Context, messages []Message, cfg Config) (*openai.ChatCompletion, error) {
	params := c.buildParams(messages, cfg)

	var resp *openai.ChatCompletion
	operation := func() error {
		var err error
		resp, err = c.api.Chat.Completions.New(ctx, params)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			c.logger.Warn("completion retrying", zap.Error(err))
			return err
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("no choices in response"))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxCompletionRetries), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	return resp, nil
}

func isRetryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return true
}

// mergeInstruction appends the schema directive to the system message, or
// prepends a new system message when the conversation has none.
func mergeInstruction(messages []Message, instruction string) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)
	for i := range out {
		if out[i].Role == "system" {
			out[i].Content = out[i].Content + "\n\n" + instruction
			return out
		}
	}
	return append([]Message{{Role: "system", Content: instruction}}, out...)
}
