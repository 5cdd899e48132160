// Package retrieve implements hybrid search over the rule corpus: a
// semantic leg against the vector index and a full-text leg against the
// FTS5 mirror, merged with reciprocal rank fusion, followed by optional
// adjacency-based context expansion.
package retrieve

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/bull/ultirules/internal/store"
)

// Search modes.
const (
	ModeSemantic = "semantic"
	ModeFulltext = "fulltext"
	ModeHybrid   = "hybrid"
)

// Options tunes one search. Zero values fall back to sane defaults via
// Normalize.
type Options struct {
	Mode           string
	Limit          int
	FTSOperator    string // AND or OR, case-insensitive
	K              int    // RRF constant
	SemanticWeight float64
	FTSWeight      float64
}

// Normalize fills defaults and validates. It returns ErrInvalidOperator or
// ErrInvalidMode for unusable values.
func (o Options) Normalize() (Options, error) {
	if o.Mode == "" {
		o.Mode = ModeHybrid
	}
	switch o.Mode {
	case ModeSemantic, ModeFulltext, ModeHybrid:
	default:
		return o, fmt.Errorf("%w: %q", ErrInvalidMode, o.Mode)
	}
	if o.Limit <= 0 {
		o.Limit = 5
	}
	if o.FTSOperator == "" {
		o.FTSOperator = "OR"
	}
	o.FTSOperator = strings.ToUpper(o.FTSOperator)
	if o.FTSOperator != "AND" && o.FTSOperator != "OR" {
		return o, fmt.Errorf("%w: %q", ErrInvalidOperator, o.FTSOperator)
	}
	if o.K <= 0 {
		o.K = 60
	}
	if o.SemanticWeight == 0 && o.FTSWeight == 0 {
		o.SemanticWeight, o.FTSWeight = 0.5, 0.5
	}
	return o, nil
}

// QueryEmbedder turns a query string into a vector.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// VectorIndex is the semantic search leg.
type VectorIndex interface {
	SimilaritySearch(ctx context.Context, vector []float32, limit int) ([]int64, error)
}

// DocumentStore is the full-text leg plus document materialization.
type DocumentStore interface {
	FTSSearch(ctx context.Context, query string, limit int) ([]int64, error)
	DocumentsByIDs(ctx context.Context, ids []int64) ([]store.Document, error)
}

// Retriever runs searches against both backends.
type Retriever struct {
	embedder QueryEmbedder
	vectors  VectorIndex
	docs     DocumentStore
	logger   *zap.Logger
}

// New creates a Retriever.
func New(embedder QueryEmbedder, vectors VectorIndex, docs DocumentStore, logger *zap.Logger) *Retriever {
	return &Retriever{embedder: embedder, vectors: vectors, docs: docs, logger: logger}
}

// Search runs the query in the requested mode and returns documents in
// relevance order.
func (r *Retriever) Search(ctx context.Context, query string, opts Options) ([]store.Document, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	var ids []int64
	switch opts.Mode {
	case ModeSemantic:
		ids, err = r.semanticLeg(ctx, query, opts.Limit)
		if err != nil {
			return nil, fmt.Errorf("%w: semantic: %v", ErrRetrievalUnavailable, err)
		}
	case ModeFulltext:
		ids, err = r.fulltextLeg(ctx, query, opts.FTSOperator, opts.Limit)
		if err != nil {
			return nil, fmt.Errorf("%w: fulltext: %v", ErrRetrievalUnavailable, err)
		}
	case ModeHybrid:
		ids, err = r.hybrid(ctx, query, opts)
		if err != nil {
			return nil, err
		}
	}

	r.logger.Debug("search complete",
		zap.String("mode", opts.Mode),
		zap.String("query", query),
		zap.Int("hits", len(ids)))

	return r.materialize(ctx, ids)
}

// hybrid runs both legs concurrently and fuses the ranked lists. A failure
// in either leg fails the whole search; serving half the evidence silently
// would skew fused ranks.
func (r *Retriever) hybrid(ctx context.Context, query string, opts Options) ([]int64, error) {
	var (
		wg     sync.WaitGroup
		semIDs []int64
		ftsIDs []int64
		semErr error
		ftsErr error
	)
	// overfetch per leg so fusion has candidates beyond the final cut
	perLeg := opts.Limit * 2

	wg.Add(2)
	go func() {
		defer wg.Done()
		semIDs, semErr = r.semanticLeg(ctx, query, perLeg)
	}()
	go func() {
		defer wg.Done()
		ftsIDs, ftsErr = r.fulltextLeg(ctx, query, opts.FTSOperator, perLeg)
	}()
	wg.Wait()

	if semErr != nil {
		return nil, fmt.Errorf("%w: semantic: %v", ErrRetrievalUnavailable, semErr)
	}
	if ftsErr != nil {
		return nil, fmt.Errorf("%w: fulltext: %v", ErrRetrievalUnavailable, ftsErr)
	}

	return fuseRRF(semIDs, ftsIDs, opts.K, opts.SemanticWeight, opts.FTSWeight, opts.Limit), nil
}

func (r *Retriever) semanticLeg(ctx context.Context, query string, limit int) ([]int64, error) {
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.vectors.SimilaritySearch(ctx, vector, limit)
}

func (r *Retriever) fulltextLeg(ctx context.Context, query, operator string, limit int) ([]int64, error) {
	fts := buildFTSQuery(query, operator)
	if fts == "" {
		return nil, nil
	}
	return r.docs.FTSSearch(ctx, fts, limit)
}

// materialize fetches documents and restores the fused rank order, which
// DocumentsByIDs does not preserve.
func (r *Retriever) materialize(ctx context.Context, ids []int64) ([]store.Document, error) {
	docs, err := r.docs.DocumentsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch documents: %v", ErrRetrievalUnavailable, err)
	}
	byID := make(map[int64]store.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	ordered := make([]store.Document, 0, len(ids))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			ordered = append(ordered, d)
		}
	}
	return ordered, nil
}

// buildFTSQuery tokenizes free text into a quoted FTS5 expression. Quoting
// each token keeps user punctuation from being parsed as FTS syntax.
func buildFTSQuery(query, operator string) string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, `"`+cur.String()+`"`)
			cur.Reset()
		}
	}
	for _, r := range query {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return strings.Join(tokens, " "+operator+" ")
}
