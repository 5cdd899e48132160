package retrieve

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bull/ultirules/internal/store"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, store.VectorDimension), nil
}

type fakeIndex struct {
	ids []int64
	err error
}

func (f *fakeIndex) SimilaritySearch(ctx context.Context, vector []float32, limit int) ([]int64, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.ids) > limit {
		return f.ids[:limit], nil
	}
	return f.ids, nil
}

type fakeDocs struct {
	docs    map[int64]store.Document
	ftsIDs  []int64
	ftsErr  error
	lastFTS string
}

func (f *fakeDocs) FTSSearch(ctx context.Context, query string, limit int) ([]int64, error) {
	f.lastFTS = query
	if f.ftsErr != nil {
		return nil, f.ftsErr
	}
	if len(f.ftsIDs) > limit {
		return f.ftsIDs[:limit], nil
	}
	return f.ftsIDs, nil
}

func (f *fakeDocs) DocumentsByIDs(ctx context.Context, ids []int64) ([]store.Document, error) {
	var out []store.Document
	// fake store returns ascending ID order like the real one
	var sorted []int64
	sorted = append(sorted, ids...)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j] < sorted[i] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	for _, id := range sorted {
		if d, ok := f.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func ruleCorpus(n int) map[int64]store.Document {
	docs := make(map[int64]store.Document, n)
	for i := 1; i <= n; i++ {
		docs[int64(i)] = store.Document{
			ID:      int64(i),
			Content: fmt.Sprintf("rule text %d", i),
			Source:  store.SourceRules,
		}
	}
	return docs
}

func TestSearchHybridFusesLegs(t *testing.T) {
	docs := &fakeDocs{docs: ruleCorpus(20), ftsIDs: []int64{3, 2}}
	r := New(&fakeEmbedder{}, &fakeIndex{ids: []int64{1, 2}}, docs, zap.NewNop())

	got, err := r.Search(context.Background(), "what is a pick", Options{Mode: ModeHybrid, Limit: 3})
	require.NoError(t, err)
	require.Len(t, got, 3)
	// doc 2 is in both legs and must lead
	assert.Equal(t, int64(2), got[0].ID)
}

func TestSearchHybridFailsWhenLegFails(t *testing.T) {
	docs := &fakeDocs{docs: ruleCorpus(5), ftsIDs: []int64{1}}

	r := New(&fakeEmbedder{}, &fakeIndex{err: errors.New("connection refused")}, docs, zap.NewNop())
	_, err := r.Search(context.Background(), "pick", Options{Mode: ModeHybrid})
	assert.ErrorIs(t, err, ErrRetrievalUnavailable)

	r = New(&fakeEmbedder{}, &fakeIndex{ids: []int64{1}}, &fakeDocs{docs: ruleCorpus(5), ftsErr: errors.New("disk error")}, zap.NewNop())
	_, err = r.Search(context.Background(), "pick", Options{Mode: ModeHybrid})
	assert.ErrorIs(t, err, ErrRetrievalUnavailable)

	r = New(&fakeEmbedder{err: errors.New("api down")}, &fakeIndex{}, docs, zap.NewNop())
	_, err = r.Search(context.Background(), "pick", Options{Mode: ModeHybrid})
	assert.ErrorIs(t, err, ErrRetrievalUnavailable)
}

func TestSearchSingleLegModes(t *testing.T) {
	docs := &fakeDocs{docs: ruleCorpus(10), ftsIDs: []int64{4, 9}}
	r := New(&fakeEmbedder{}, &fakeIndex{ids: []int64{7, 1}}, docs, zap.NewNop())

	got, err := r.Search(context.Background(), "stall count", Options{Mode: ModeSemantic, Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, int64(1), got[1].ID)

	got, err = r.Search(context.Background(), "stall count", Options{Mode: ModeFulltext, Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(4), got[0].ID)
}

func TestSearchInvalidOptions(t *testing.T) {
	r := New(&fakeEmbedder{}, &fakeIndex{}, &fakeDocs{}, zap.NewNop())

	_, err := r.Search(context.Background(), "pick", Options{Mode: "fuzzy"})
	assert.ErrorIs(t, err, ErrInvalidMode)

	_, err = r.Search(context.Background(), "pick", Options{FTSOperator: "NOT"})
	assert.ErrorIs(t, err, ErrInvalidOperator)
}

func TestBuildFTSQuery(t *testing.T) {
	assert.Equal(t, `"what" OR "is" OR "a" OR "callahan"`, buildFTSQuery("what is a callahan?", "OR"))
	assert.Equal(t, `"stall" AND "count"`, buildFTSQuery("stall count", "AND"))
	// quoting neutralizes FTS syntax regardless of case
	assert.Equal(t, `"NEAR" OR "pick"`, buildFTSQuery(`NEAR("pick")`, "OR"))
	assert.Equal(t, "", buildFTSQuery("!?!", "OR"))
}

func TestSearchLowercasesOperator(t *testing.T) {
	docs := &fakeDocs{docs: ruleCorpus(5), ftsIDs: []int64{1}}
	r := New(&fakeEmbedder{}, &fakeIndex{}, docs, zap.NewNop())

	_, err := r.Search(context.Background(), "pick call", Options{Mode: ModeFulltext, FTSOperator: "and"})
	require.NoError(t, err)
	assert.Contains(t, docs.lastFTS, " AND ")
}
