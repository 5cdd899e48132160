package retrieve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/ultirules/internal/store"
)

func TestExpandKeepsSeparatedRunsApart(t *testing.T) {
	corpus := ruleCorpus(15)
	fetch := &fakeDocs{docs: corpus}
	retrieved := []store.Document{corpus[5], corpus[10]}

	got, err := Expand(context.Background(), retrieved, 1, fetch)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// 5 widens to 4..6 and 10 to 9..11; the gap at 7..8 keeps them apart
	assert.Equal(t, int64(5), got[0].ID)
	assert.Equal(t, "rule text 4\n\nrule text 5\n\nrule text 6", got[0].Content)
	assert.Equal(t, int64(10), got[1].ID)
	assert.Equal(t, "rule text 9\n\nrule text 10\n\nrule text 11", got[1].Content)
}

func TestExpandMergesOverlappingIntervals(t *testing.T) {
	corpus := ruleCorpus(15)
	fetch := &fakeDocs{docs: corpus}
	// {5,6,7} widen to 4..8 and 10 to 9..11; the union 4..11 is one run
	retrieved := []store.Document{corpus[5], corpus[6], corpus[7], corpus[10]}

	got, err := Expand(context.Background(), retrieved, 1, fetch)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(8), got[0].ID)
	assert.Equal(t,
		"rule text 4\n\nrule text 5\n\nrule text 6\n\nrule text 7\n\nrule text 8\n\nrule text 9\n\nrule text 10\n\nrule text 11",
		got[0].Content)
}

func TestExpandBridgesGapsWithinRadius(t *testing.T) {
	corpus := ruleCorpus(15)
	fetch := &fakeDocs{docs: corpus}
	// 5 and 8 are two apart; radius 2 intervals overlap into one run
	retrieved := []store.Document{corpus[5], corpus[8]}

	got, err := Expand(context.Background(), retrieved, 2, fetch)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].ID) // upper median of 3..10
}

func TestExpandOrdersByFirstAppearance(t *testing.T) {
	corpus := ruleCorpus(20)
	fetch := &fakeDocs{docs: corpus}
	// doc 15 ranked above doc 3; its passage must come first
	retrieved := []store.Document{corpus[15], corpus[3]}

	got, err := Expand(context.Background(), retrieved, 1, fetch)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(15), got[0].ID)
	assert.Equal(t, int64(3), got[1].ID)
}

func TestExpandRadiusZeroIsIdentity(t *testing.T) {
	corpus := ruleCorpus(10)
	fetch := &fakeDocs{docs: corpus}
	retrieved := []store.Document{corpus[5], corpus[6]}

	got, err := Expand(context.Background(), retrieved, 0, fetch)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(5), got[0].ID)
	assert.Equal(t, "rule text 5", got[0].Content)
	assert.Equal(t, int64(6), got[1].ID)
}

func TestExpandGlossaryPassesThrough(t *testing.T) {
	corpus := ruleCorpus(10)
	corpus[20] = store.Document{ID: 20, Content: "Callahan\nA defensive goal.", Source: store.SourceGlossary}
	fetch := &fakeDocs{docs: corpus}
	retrieved := []store.Document{corpus[20], corpus[5]}

	got, err := Expand(context.Background(), retrieved, 1, fetch)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// rules passage first, glossary appended after in original order
	assert.Equal(t, store.SourceRules, got[0].Source)
	assert.Equal(t, int64(5), got[0].ID)
	assert.Equal(t, store.SourceGlossary, got[1].Source)
	assert.Equal(t, "Callahan\nA defensive goal.", got[1].Content)
}

func TestExpandDropsNeighborOnlyRuns(t *testing.T) {
	corpus := ruleCorpus(10)
	// a glossary row wedged into the ID range breaks rulebook adjacency
	corpus[4] = store.Document{ID: 4, Content: "Pick\nAn obstructed defender.", Source: store.SourceGlossary}
	fetch := &fakeDocs{docs: corpus}
	retrieved := []store.Document{corpus[5]}

	got, err := Expand(context.Background(), retrieved, 2, fetch)
	require.NoError(t, err)
	require.Len(t, got, 1)
	// run {3} sits across the glossary break with no retrieved member
	assert.Equal(t, "rule text 5\n\nrule text 6\n\nrule text 7", got[0].Content)
}

func TestExpandClampsBelowOne(t *testing.T) {
	corpus := ruleCorpus(5)
	fetch := &fakeDocs{docs: corpus}
	retrieved := []store.Document{corpus[1]}

	got, err := Expand(context.Background(), retrieved, 3, fetch)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "rule text 1\n\nrule text 2\n\nrule text 3\n\nrule text 4", got[0].Content)
}
