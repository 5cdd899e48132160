// Package main provides the ingestion CLI for the rules corpus.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bull/ultirules/internal/config"
	"github.com/bull/ultirules/internal/embedding"
	"github.com/bull/ultirules/internal/ghfetch"
	"github.com/bull/ultirules/internal/ingest"
	"github.com/bull/ultirules/internal/llm"
	"github.com/bull/ultirules/internal/logging"
	"github.com/bull/ultirules/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "ultirules-sync",
	Short: "Rules corpus ingestion tool",
	Long:  "CLI tool for fetching, chunking, embedding and storing the official rules of ultimate",
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Re-ingest the rules corpus from GitHub",
	Long: `Replaces the stored corpus with a fresh ingestion from GitHub.

This command:
1. Fetches the rulebook and glossary from the configured repository
2. Chunks the rulebook at section and rule boundaries
3. Optionally generates a situating context blurb per chunk
4. Embeds every chunk and stores it in SQLite and Qdrant

Environment variables:
  QDRANT_HOST    Qdrant hostname (default: localhost)
  QDRANT_PORT    Qdrant gRPC port (default: 6334)
  SQLITE_PATH    SQLite database path (default: ultirules.db)
  OPENAI_API_KEY OpenAI API key for embeddings (required)
  GITHUB_TOKEN   GitHub token for higher rate limits (optional)`,
	RunE: runSync,
}

var noContext bool

func init() {
	syncCmd.Flags().BoolVar(&noContext, "no-context", false, "skip contextual blurb generation")
	rootCmd.AddCommand(syncCmd)
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, "console")
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	fmt.Printf("Connecting to Qdrant at %s:%d...\n", cfg.Qdrant.Host, cfg.Qdrant.Port)
	qdrant, err := store.NewQdrant(cfg.Qdrant.Host, cfg.Qdrant.Port)
	if err != nil {
		return fmt.Errorf("connect to Qdrant: %w", err)
	}
	defer qdrant.Close()
	if err := qdrant.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	sqlite, err := store.OpenSQLite(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer sqlite.Close()

	embedClient, err := embedding.NewClient()
	if err != nil {
		return fmt.Errorf("create embedding client: %w", err)
	}
	embedder := embedding.NewEmbedder(embedClient, cfg.OpenAI.EmbeddingModel, 0)

	ghClient, err := ghfetch.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("create GitHub client: %w", err)
	}
	fetcher := ghfetch.NewFetcher(ghClient, cfg.Corpus.Owner, cfg.Corpus.Repo)

	var contextualizer *ingest.Contextualizer
	contextual := cfg.Corpus.Contextual && !noContext
	if contextual {
		gateway, err := llm.NewClient(logger)
		if err != nil {
			return fmt.Errorf("create llm client: %w", err)
		}
		contextualizer = ingest.NewContextualizer(gateway, cfg.OpenAI.LightModel, logger)
	}

	fmt.Println("Ingesting corpus from GitHub...")
	pipeline := ingest.NewPipeline(
		fetcher,
		ingest.NewChunker(cfg.Corpus.ChunkSize),
		contextualizer,
		embedder,
		sqlite,
		qdrant,
		logger,
	)

	result, err := pipeline.Run(ctx, ingest.Options{
		RulebookPath: cfg.Corpus.RulebookPath,
		GlossaryPath: cfg.Corpus.GlossaryPath,
		Contextual:   contextual,
	})
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Println()
	fmt.Println("Sync complete!")
	fmt.Printf("  Rule chunks: %d\n", result.RuleChunks)
	fmt.Printf("  Glossary chunks: %d\n", result.GlossaryChunks)
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Second))
	fmt.Printf("  Commit: %s\n", result.CommitSHA)
	if points, err := qdrant.PointCount(ctx); err == nil {
		fmt.Printf("  Points indexed: %d\n", points)
	} else {
		logger.Warn("could not read point count", zap.Error(err))
	}
	return nil
}
