package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bull/ultirules/internal/llm"
)

// maxDocumentChars truncates very large rulebooks in the contextualizing
// prompt, roughly 16k tokens at 4 characters per token.
const maxDocumentChars = 64000

const contextualizePrompt = `You situate excerpts of the official rules of ultimate for a search index.

You are given the whole rulebook and one chunk of it. Write one or two sentences stating which part of the rules the chunk belongs to and what it governs. The sentences are prepended to the chunk before embedding, so make them specific enough to disambiguate similar chunks. Respond with the sentences only.`

// Contextualizer generates a short situating blurb for each chunk. The
// blurb is embedded together with the chunk text to sharpen semantic
// search, a technique usually called contextual retrieval.
type Contextualizer struct {
	gateway llm.Gateway
	model   string
	logger  *zap.Logger
}

// NewContextualizer creates a Contextualizer using the given model.
func NewContextualizer(gateway llm.Gateway, model string, logger *zap.Logger) *Contextualizer {
	return &Contextualizer{gateway: gateway, model: model, logger: logger}
}

// Contextualize produces the situating blurb for one chunk. A gateway
// failure returns an empty blurb rather than failing ingestion; the chunk
// is still searchable by its own text.
func (c *Contextualizer) Contextualize(ctx context.Context, document, chunk string) string {
	if len(document) > maxDocumentChars {
		document = document[:maxDocumentChars]
	}

	res, err := c.gateway.Invoke(ctx, []llm.Message{
		{Role: "system", Content: contextualizePrompt},
		{Role: "user", Content: fmt.Sprintf("Rulebook:\n\n%s\n\nChunk:\n\n%s", document, chunk)},
	}, llm.Config{Model: c.model})
	if err != nil {
		c.logger.Warn("contextualization failed, embedding chunk without context", zap.Error(err))
		return ""
	}
	return res.Text
}
