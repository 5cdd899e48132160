// Package mcp exposes the rules assistant over the Model Context Protocol,
// so agent clients can search the rulebook and ask grounded questions.
package mcp

// SearchRulesInput defines the input for the search_rules tool.
type SearchRulesInput struct {
	// Query is the search query over the rulebook.
	Query string `json:"query" jsonschema:"required,description=The search query for finding relevant rule text"`
	// Limit is the maximum number of passages to return.
	Limit int `json:"limit,omitempty" jsonschema:"minimum=1,maximum=20,default=5,description=Maximum number of passages to return"`
	// Mode selects the search strategy: hybrid (default), semantic or fulltext.
	Mode string `json:"mode,omitempty" jsonschema:"description=Search mode: hybrid semantic or fulltext"`
}

// SearchRulesOutput contains retrieved rule passages.
type SearchRulesOutput struct {
	Passages []RulePassage `json:"passages"`
	// Message provides informational context when there are no passages.
	Message string `json:"message,omitempty"`
}

// RulePassage is one retrieved block of rule or glossary text.
type RulePassage struct {
	// ID is the passage's document ID.
	ID int64 `json:"id"`
	// Source is "rules" or "glossary".
	Source string `json:"source"`
	// Content is the passage text, with adjacent rulebook chunks merged.
	Content string `json:"content"`
}

// AskRulesInput defines the input for the ask_rules tool.
type AskRulesInput struct {
	// Question is the rules question to answer.
	Question string `json:"question" jsonschema:"required,description=The rules question to answer"`
	// ConversationID continues an earlier conversation when set.
	ConversationID string `json:"conversation_id,omitempty" jsonschema:"description=Conversation to continue; omit to start a new one"`
}

// AskRulesOutput contains the grounded answer.
type AskRulesOutput struct {
	// Answer is the assistant's reply including cited rule text.
	Answer string `json:"answer"`
	// ConversationID identifies the conversation for follow-ups.
	ConversationID string `json:"conversation_id"`
	// CitedRules lists the rule numbers backing the answer.
	CitedRules []string `json:"cited_rules"`
}
