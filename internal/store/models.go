// Package store persists the rule corpus and conversation state. Documents
// live in two places: SQLite holds the authoritative rows plus an FTS5
// mirror for keyword search, and Qdrant holds one vector point per document
// for semantic search. Both are keyed by the same integer document ID, which
// is assigned sequentially in corpus order so that adjacent IDs are adjacent
// passages in the rulebook.
package store

import "time"

// Document is one retrievable passage of the corpus.
type Document struct {
	ID      int64
	Content string // chunk text as it appears in the rulebook
	Context string // optional situating blurb prepended at embed time
	Source  string // "rules" or "glossary"
}

// SourceRules marks documents cut from the rulebook body. Only these
// participate in adjacency-based context expansion.
const SourceRules = "rules"

// SourceGlossary marks definition documents.
const SourceGlossary = "glossary"

// Conversation groups messages under one UUID.
type Conversation struct {
	ID        string
	CreatedAt time.Time
}

// Message is one turn of a conversation.
type Message struct {
	ID             int64
	ConversationID string
	Role           string // "user" or "assistant"
	Content        string
	CreatedAt      time.Time
}

// LLMCall records one model invocation for auditing and cost tracking.
type LLMCall struct {
	ID             int64
	ConversationID string
	CallType       string // next_step, reword, filter, answer, verify
	Model          string
	Prompt         string // rendered messages sent to the model
	Response       string // raw model output
	InputTokens    int64
	OutputTokens   int64
	CreatedAt      time.Time
}

// CollectionName is the single Qdrant collection for rule documents.
const CollectionName = "rule_documents"

// VectorDimension is the embedding size for text-embedding-3-small.
const VectorDimension = 1536
