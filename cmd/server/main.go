// Package main runs the rules assistant server: REST chat API plus the MCP
// tool surface, backed by Qdrant, SQLite and the OpenAI API.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/bull/ultirules/internal/chat"
	"github.com/bull/ultirules/internal/config"
	"github.com/bull/ultirules/internal/embedding"
	"github.com/bull/ultirules/internal/llm"
	"github.com/bull/ultirules/internal/logging"
	mcpserver "github.com/bull/ultirules/internal/mcp"
	"github.com/bull/ultirules/internal/retrieve"
	"github.com/bull/ultirules/internal/server"
	"github.com/bull/ultirules/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	sqlite, err := store.OpenSQLite(cfg.SQLite.Path)
	if err != nil {
		logger.Fatal("open sqlite", zap.Error(err))
	}
	defer sqlite.Close()

	qdrant, err := store.NewQdrant(cfg.Qdrant.Host, cfg.Qdrant.Port)
	if err != nil {
		logger.Fatal("connect qdrant", zap.Error(err))
	}
	defer qdrant.Close()
	if err := qdrant.EnsureCollection(ctx); err != nil {
		logger.Fatal("ensure collection", zap.Error(err))
	}

	embedClient, err := embedding.NewClient()
	if err != nil {
		logger.Fatal("create embedding client", zap.Error(err))
	}
	embedder := embedding.NewEmbedder(embedClient, cfg.OpenAI.EmbeddingModel, 0)

	gateway, err := llm.NewClient(logger)
	if err != nil {
		logger.Fatal("create llm client", zap.Error(err))
	}

	searchOpts := retrieve.Options{
		Mode:           cfg.Retriever.Mode,
		Limit:          cfg.Retriever.Limit,
		FTSOperator:    cfg.Retriever.FTSOperator,
		K:              cfg.Retriever.K,
		SemanticWeight: cfg.Retriever.SemanticWeight,
		FTSWeight:      cfg.Retriever.FTSWeight,
	}
	retriever := retrieve.New(embedder, qdrant, sqlite, logger)

	pipeline := chat.New(gateway, retriever, sqlite, sqlite, chat.Settings{
		DefaultModel: cfg.OpenAI.DefaultModel,
		LightModel:   cfg.OpenAI.LightModel,
		MemorySize:   cfg.Chat.MemorySize,
		Verify:       cfg.Chat.Verify,
		Filter:       cfg.Chat.Filter,
		ExpandRadius: cfg.Retriever.ExpandRadius,
		Search:       searchOpts,
	}, logger)

	mcpSrv := mcpserver.NewServer(&mcpserver.Config{
		Retriever:    retriever,
		Docs:         sqlite,
		Pipeline:     pipeline,
		SearchOpts:   searchOpts,
		ExpandRadius: cfg.Retriever.ExpandRadius,
	})

	// stdio mode serves MCP over stdin/stdout for local agent clients
	if os.Getenv("MCP_STDIO") == "true" {
		logger.Info("starting MCP server on stdio")
		if err := mcpSrv.Run(ctx); err != nil {
			logger.Fatal("mcp server", zap.Error(err))
		}
		return
	}

	httpSrv := server.New(pipeline, sqlite, qdrant, mcpserver.NewHTTPHandler(mcpSrv, nil), logger)

	go func() {
		if err := httpSrv.Start(cfg.Server.Addr); err != nil {
			logger.Warn("http server stopped", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}
