package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedDocuments(t *testing.T, db *SQLite, docs []Document) {
	t.Helper()
	require.NoError(t, db.ReplaceDocuments(context.Background(), docs))
}

func TestReplaceDocumentsAndFetch(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seedDocuments(t, db, []Document{
		{ID: 1, Content: "1. Introduction. Ultimate is a non-contact disc sport.", Source: SourceRules},
		{ID: 2, Content: "2.A. Spirit of the Game. Players are responsible for officiating.", Source: SourceRules},
		{ID: 3, Content: "Callahan\nA goal scored by intercepting the disc in the opposing end zone.", Source: SourceGlossary},
	})

	docs, err := db.DocumentsByIDs(ctx, []int64{3, 1})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	// ordered by ascending ID regardless of input order
	assert.Equal(t, int64(1), docs[0].ID)
	assert.Equal(t, int64(3), docs[1].ID)
	assert.Equal(t, SourceGlossary, docs[1].Source)

	// missing IDs are skipped
	docs, err = db.DocumentsByIDs(ctx, []int64{2, 99})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(2), docs[0].ID)

	// replace wipes earlier rows
	seedDocuments(t, db, []Document{{ID: 10, Content: "fresh corpus", Source: SourceRules}})
	docs, err = db.DocumentsByIDs(ctx, []int64{1, 10})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(10), docs[0].ID)
}

func TestFTSSearch(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seedDocuments(t, db, []Document{
		{ID: 1, Content: "A pick occurs when a defender is obstructed by another player.", Source: SourceRules},
		{ID: 2, Content: "The marker counts the stall by announcing stalling and counting.", Source: SourceRules},
		{ID: 3, Content: "Picks must be called immediately by the obstructed defender.", Source: SourceRules},
	})

	ids, err := db.FTSSearch(ctx, "pick OR picks", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 3}, ids)

	ids, err = db.FTSSearch(ctx, "stall AND marker", 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)

	ids, err = db.FTSSearch(ctx, "huck", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFTSSearchTracksUpdates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seedDocuments(t, db, []Document{{ID: 1, Content: "travel violation", Source: SourceRules}})
	seedDocuments(t, db, []Document{{ID: 1, Content: "double team violation", Source: SourceRules}})

	ids, err := db.FTSSearch(ctx, "travel", 10)
	require.NoError(t, err)
	assert.Empty(t, ids, "stale FTS rows must not survive a replace")

	ids, err = db.FTSSearch(ctx, "team", 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
}

func TestConversationHistory(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	convID, err := db.CreateConversation(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, convID)

	exists, err := db.ConversationExists(ctx, convID)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = db.ConversationExists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, exists)

	for i := 0; i < 4; i++ {
		require.NoError(t, db.AddMessage(ctx, convID, "user", fmt.Sprintf("question %d", i)))
		require.NoError(t, db.AddMessage(ctx, convID, "assistant", fmt.Sprintf("answer %d", i)))
	}

	// bounded history keeps the most recent turns, chronological order
	msgs, err := db.History(ctx, convID, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "answer 2", msgs[0].Content)
	assert.Equal(t, "question 3", msgs[1].Content)
	assert.Equal(t, "answer 3", msgs[2].Content)

	msgs, err = db.History(ctx, convID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 8)
	assert.Equal(t, "question 0", msgs[0].Content)
}

func TestRecordLLMCall(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	convID, err := db.CreateConversation(ctx)
	require.NoError(t, err)

	for _, callType := range []string{"next_step", "reword", "answer"} {
		require.NoError(t, db.RecordLLMCall(ctx, LLMCall{
			ConversationID: convID,
			CallType:       callType,
			Model:          "gpt-4o-mini",
			Prompt:         "user: what is a pick?",
			Response:       `{"nextStep": "RETRIEVE"}`,
			InputTokens:    100,
			OutputTokens:   20,
		}))
	}

	calls, err := db.LLMCalls(ctx, convID)
	require.NoError(t, err)
	require.Len(t, calls, 3)
	assert.Equal(t, "next_step", calls[0].CallType)
	assert.Equal(t, "answer", calls[2].CallType)
	assert.Equal(t, int64(100), calls[1].InputTokens)
	assert.Equal(t, "user: what is a pick?", calls[0].Prompt)
	assert.Equal(t, `{"nextStep": "RETRIEVE"}`, calls[0].Response)
}
