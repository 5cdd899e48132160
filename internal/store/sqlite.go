package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLite holds the documents table with its FTS5 mirror, plus conversation
// history and the llm_calls audit log.
type SQLite struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id      INTEGER PRIMARY KEY,
	content TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '',
	source  TEXT NOT NULL DEFAULT 'rules'
);

CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
	content,
	content=documents,
	content_rowid=id
);

CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
	INSERT INTO documents_fts(rowid, content) VALUES (new.id, new.content);
END;
CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
	INSERT INTO documents_fts(documents_fts, rowid, content) VALUES ('delete', old.id, old.content);
END;
CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents BEGIN
	INSERT INTO documents_fts(documents_fts, rowid, content) VALUES ('delete', old.id, old.content);
	INSERT INTO documents_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);

CREATE TABLE IF NOT EXISTS llm_calls (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	call_type       TEXT NOT NULL,
	model           TEXT NOT NULL,
	prompt          TEXT NOT NULL DEFAULT '',
	response        TEXT NOT NULL DEFAULT '',
	input_tokens    INTEGER NOT NULL DEFAULT 0,
	output_tokens   INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema. Use ":memory:" for tests.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// ReplaceDocuments clears the documents table and inserts docs in a single
// transaction. IDs are taken from the documents themselves so the caller
// controls adjacency.
func (s *SQLite) ReplaceDocuments(ctx context.Context, docs []Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("clear documents: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents (id, content, context, source) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		if _, err := stmt.ExecContext(ctx, d.ID, d.Content, d.Context, d.Source); err != nil {
			return fmt.Errorf("insert document %d: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

// FTSSearch runs a full-text query and returns document IDs ordered by
// relevance (best first). The query must already be in FTS5 syntax.
func (s *SQLite) FTSSearch(ctx context.Context, query string, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rowid FROM documents_fts
		WHERE documents_fts MATCH ?
		ORDER BY bm25(documents_fts)
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan fts row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DocumentsByIDs fetches the given documents ordered by ascending ID.
// Missing IDs are silently skipped.
func (s *SQLite) DocumentsByIDs(ctx context.Context, ids []int64) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, content, context, source FROM documents
		WHERE id IN (%s) ORDER BY id`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("fetch documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Content, &d.Context, &d.Source); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// CreateConversation inserts a new conversation and returns its UUID.
func (s *SQLite) CreateConversation(ctx context.Context) (string, error) {
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id) VALUES (?)`, id); err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return id, nil
}

// ConversationExists reports whether the given conversation ID is known.
func (s *SQLite) ConversationExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check conversation: %w", err)
	}
	return true, nil
}

// AddMessage appends a message to a conversation.
func (s *SQLite) AddMessage(ctx context.Context, conversationID, role, content string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content) VALUES (?, ?, ?)`,
		conversationID, role, content); err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	return nil
}

// History returns the most recent limit messages of a conversation in
// chronological order. A limit of 0 or less returns everything.
func (s *SQLite) History(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	q := `SELECT id, conversation_id, role, content, created_at FROM messages
		WHERE conversation_id = ? ORDER BY id DESC`
	args := []any{conversationID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var ts time.Time
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = ts
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// query returns newest first; flip to chronological
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// RecordLLMCall logs one model invocation.
func (s *SQLite) RecordLLMCall(ctx context.Context, call LLMCall) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_calls (conversation_id, call_type, model, prompt, response, input_tokens, output_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		call.ConversationID, call.CallType, call.Model, call.Prompt, call.Response,
		call.InputTokens, call.OutputTokens); err != nil {
		return fmt.Errorf("record llm call: %w", err)
	}
	return nil
}

// LLMCalls returns all recorded calls for a conversation in insertion order.
func (s *SQLite) LLMCalls(ctx context.Context, conversationID string) ([]LLMCall, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, call_type, model, prompt, response, input_tokens, output_tokens, created_at
		FROM llm_calls WHERE conversation_id = ? ORDER BY id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load llm calls: %w", err)
	}
	defer rows.Close()

	var calls []LLMCall
	for rows.Next() {
		var c LLMCall
		if err := rows.Scan(&c.ID, &c.ConversationID, &c.CallType, &c.Model,
			&c.Prompt, &c.Response, &c.InputTokens, &c.OutputTokens, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan llm call: %w", err)
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}
