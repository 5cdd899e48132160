package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bull/ultirules/internal/embedding"
	"github.com/bull/ultirules/internal/ghfetch"
	"github.com/bull/ultirules/internal/store"
)

// Result contains statistics about one ingestion run.
type Result struct {
	RuleChunks     int
	GlossaryChunks int
	CommitSHA      string
	Duration       time.Duration
}

// Options controls one ingestion run.
type Options struct {
	RulebookPath string
	GlossaryPath string
	Contextual   bool // generate situating blurbs before embedding
}

// Pipeline orchestrates fetch, chunk, contextualize, embed and store.
type Pipeline struct {
	fetcher        *ghfetch.Fetcher
	chunker        *Chunker
	contextualizer *Contextualizer
	embedder       *embedding.Embedder
	sqlite         *store.SQLite
	qdrant         *store.Qdrant
	logger         *zap.Logger
}

// NewPipeline creates an ingestion pipeline. contextualizer may be nil when
// contextual embedding is disabled.
func NewPipeline(
	fetcher *ghfetch.Fetcher,
	chunker *Chunker,
	contextualizer *Contextualizer,
	embedder *embedding.Embedder,
	sqlite *store.SQLite,
	qdrant *store.Qdrant,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		fetcher:        fetcher,
		chunker:        chunker,
		contextualizer: contextualizer,
		embedder:       embedder,
		sqlite:         sqlite,
		qdrant:         qdrant,
		logger:         logger,
	}
}

// Run performs a full ingestion: the previous corpus is replaced in both
// stores. Rulebook chunks get consecutive IDs starting at 1, in corpus
// order; glossary entries follow after a gap so definitions never appear
// adjacent to a rules run.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()

	corpus, err := p.fetcher.FetchCorpus(ctx, opts.RulebookPath, opts.GlossaryPath)
	if err != nil {
		return nil, err
	}
	p.logger.Info("fetched corpus",
		zap.String("commit", corpus.CommitSHA),
		zap.Int("rulebook_bytes", len(corpus.Rulebook.Content)),
		zap.Int("glossary_bytes", len(corpus.Glossary.Content)))

	ruleChunks, err := p.chunker.ChunkRulebook(corpus.Rulebook.Content)
	if err != nil {
		return nil, fmt.Errorf("chunk rulebook: %w", err)
	}
	glossaryChunks := p.chunker.ChunkGlossary(corpus.Glossary.Content)
	p.logger.Info("chunked corpus",
		zap.Int("rule_chunks", len(ruleChunks)),
		zap.Int("glossary_chunks", len(glossaryChunks)))

	docs := p.buildDocuments(ctx, corpus, ruleChunks, glossaryChunks, opts.Contextual)

	// embed context + content together; that is what gets searched
	texts := make([]string, len(docs))
	for i, d := range docs {
		if d.Context != "" {
			texts[i] = d.Context + "\n\n" + d.Content
		} else {
			texts[i] = d.Content
		}
	}
	vectors, err := p.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed corpus: %w", err)
	}

	if err := p.sqlite.ReplaceDocuments(ctx, docs); err != nil {
		return nil, fmt.Errorf("store documents: %w", err)
	}
	if err := p.qdrant.ClearCollection(ctx); err != nil {
		return nil, fmt.Errorf("clear vector index: %w", err)
	}
	if err := p.qdrant.UpsertDocuments(ctx, docs, vectors); err != nil {
		return nil, fmt.Errorf("store vectors: %w", err)
	}

	result := &Result{
		RuleChunks:     len(ruleChunks),
		GlossaryChunks: len(glossaryChunks),
		CommitSHA:      corpus.CommitSHA,
		Duration:       time.Since(start),
	}
	p.logger.Info("ingestion complete",
		zap.Int("rule_chunks", result.RuleChunks),
		zap.Int("glossary_chunks", result.GlossaryChunks),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// glossaryIDGap separates the last rules ID from the first glossary ID so
// the two sources can never form one adjacent run.
const glossaryIDGap = 1000

func (p *Pipeline) buildDocuments(ctx context.Context, corpus *ghfetch.Corpus, ruleChunks, glossaryChunks []string, contextual bool) []store.Document {
	docs := make([]store.Document, 0, len(ruleChunks)+len(glossaryChunks))

	id := int64(1)
	for _, chunk := range ruleChunks {
		doc := store.Document{ID: id, Content: chunk, Source: store.SourceRules}
		if contextual && p.contextualizer != nil {
			doc.Context = p.contextualizer.Contextualize(ctx, corpus.Rulebook.Content, chunk)
		}
		docs = append(docs, doc)
		id++
	}

	id += glossaryIDGap
	for _, chunk := range glossaryChunks {
		docs = append(docs, store.Document{ID: id, Content: chunk, Source: store.SourceGlossary})
		id++
	}
	return docs
}
