package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// parseOrRepair attempts to decode raw into the call's schema. On the first
// parse failure it issues exactly one repair call asking the model to fix
// its own output; a second failure returns ErrSchemaParse and the caller
// degrades to the raw text. The returned Usage covers the repair call only.
func (c *Client) parseOrRepair(ctx context.Context, raw string, cfg Config) (map[string]any, Usage, error) {
	obj, err := parseObject(raw)
	if err == nil {
		err = cfg.Schema.Validate(obj)
		if err == nil {
			return obj, Usage{}, nil
		}
	}

	c.logger.Debug("repairing malformed structured output",
		zap.String("schema", cfg.Schema.Name),
		zap.Error(err))

	repairMsgs := []Message{
		{Role: "system", Content: "You fix malformed JSON. " + cfg.Schema.Instruction()},
		{Role: "user", Content: fmt.Sprintf(
			"The following output failed to parse (%v). Fix it so it matches the required format. Output only the corrected JSON.\n\n%s",
			err, raw)},
	}

	resp, rerr := c.complete(ctx, repairMsgs, Config{Model: cfg.Model})
	if rerr != nil {
		return nil, Usage{}, fmt.Errorf("%w: repair call failed: %v", ErrSchemaParse, rerr)
	}
	usage := Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}

	obj, err = parseObject(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, usage, fmt.Errorf("%w: %v", ErrSchemaParse, err)
	}
	if err := cfg.Schema.Validate(obj); err != nil {
		return nil, usage, fmt.Errorf("%w: %v", ErrSchemaParse, err)
	}
	return obj, usage, nil
}
