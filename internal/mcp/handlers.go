package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/ultirules/internal/chat"
	"github.com/bull/ultirules/internal/retrieve"
)

// makeSearchHandler creates the search_rules tool handler: search, expand
// adjacent rulebook chunks, return passages.
func makeSearchHandler(retriever *retrieve.Retriever, docs retrieve.DocumentStore, opts retrieve.Options, radius int) func(
	context.Context, *mcp.CallToolRequest, SearchRulesInput,
) (*mcp.CallToolResult, SearchRulesOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchRulesInput) (
		*mcp.CallToolResult, SearchRulesOutput, error,
	) {
		searchOpts := opts
		if input.Limit > 0 {
			searchOpts.Limit = input.Limit
		}
		if input.Mode != "" {
			searchOpts.Mode = input.Mode
		}

		results, err := retriever.Search(ctx, input.Query, searchOpts)
		if err != nil {
			return nil, SearchRulesOutput{}, fmt.Errorf("search failed: %w", err)
		}
		passages, err := retrieve.Expand(ctx, results, radius, docs)
		if err != nil {
			return nil, SearchRulesOutput{}, fmt.Errorf("expand failed: %w", err)
		}

		out := SearchRulesOutput{Passages: make([]RulePassage, 0, len(passages))}
		for _, p := range passages {
			out.Passages = append(out.Passages, RulePassage{
				ID:      p.ID,
				Source:  p.Source,
				Content: p.Content,
			})
		}
		if len(out.Passages) == 0 {
			out.Message = "No matching rule text found. Try broader search terms."
		}
		return nil, out, nil
	}
}

// makeAskHandler creates the ask_rules tool handler, which runs the full
// conversational pipeline.
func makeAskHandler(pipeline *chat.Pipeline) func(
	context.Context, *mcp.CallToolRequest, AskRulesInput,
) (*mcp.CallToolResult, AskRulesOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskRulesInput) (
		*mcp.CallToolResult, AskRulesOutput, error,
	) {
		reply, err := pipeline.Respond(ctx, input.ConversationID, input.Question)
		if err != nil {
			return nil, AskRulesOutput{}, fmt.Errorf("answer failed: %w", err)
		}
		cited := reply.RetrievedRules
		if cited == nil {
			cited = []string{}
		}
		return nil, AskRulesOutput{
			Answer:         reply.Answer,
			ConversationID: reply.ConversationID,
			CitedRules:     cited,
		}, nil
	}
}
