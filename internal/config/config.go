// Package config provides configuration loading for ultirules.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_ADDR, QDRANT_HOST, RETRIEVER_LIMIT, ...)
//  2. YAML config file
//  3. Hardcoded defaults
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	OpenAI    OpenAIConfig    `koanf:"openai"`
	Qdrant    QdrantConfig    `koanf:"qdrant"`
	SQLite    SQLiteConfig    `koanf:"sqlite"`
	Retriever RetrieverConfig `koanf:"retriever"`
	Chat      ChatConfig      `koanf:"chat"`
	Corpus    CorpusConfig    `koanf:"corpus"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// OpenAIConfig names the models used by the pipeline. The light model
// handles classification and rewording; the default model answers and
// verifies.
type OpenAIConfig struct {
	DefaultModel   string `koanf:"default_model"`
	LightModel     string `koanf:"light_model"`
	EmbeddingModel string `koanf:"embedding_model"`
}

// QdrantConfig locates the vector index.
type QdrantConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// SQLiteConfig locates the relational store.
type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// RetrieverConfig holds the default search options for the chat API.
type RetrieverConfig struct {
	Mode           string  `koanf:"mode"`
	Limit          int     `koanf:"limit"`
	FTSOperator    string  `koanf:"fts_operator"`
	K              int     `koanf:"k"`
	SemanticWeight float64 `koanf:"semantic_weight"`
	FTSWeight      float64 `koanf:"fts_weight"`
	ExpandRadius   int     `koanf:"expand_radius"`
}

// ChatConfig controls the conversational pipeline.
type ChatConfig struct {
	MemorySize int  `koanf:"memory_size"`
	Verify     bool `koanf:"verify"`
	Filter     bool `koanf:"filter"`
}

// CorpusConfig locates the rulebook sources on GitHub for ingestion.
type CorpusConfig struct {
	Owner        string `koanf:"owner"`
	Repo         string `koanf:"repo"`
	RulebookPath string `koanf:"rulebook_path"`
	GlossaryPath string `koanf:"glossary_path"`
	ChunkSize    int    `koanf:"chunk_size"`
	Contextual   bool   `koanf:"contextual"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info", Format: "json"},
		OpenAI: OpenAIConfig{
			DefaultModel:   "gpt-4o",
			LightModel:     "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
		},
		Qdrant: QdrantConfig{Host: "localhost", Port: 6334},
		SQLite: SQLiteConfig{Path: "ultirules.db"},
		Retriever: RetrieverConfig{
			Mode:           "hybrid",
			Limit:          5,
			FTSOperator:    "OR",
			K:              60,
			SemanticWeight: 0.5,
			FTSWeight:      0.5,
			ExpandRadius:   1,
		},
		Chat:   ChatConfig{MemorySize: 5, Verify: true, Filter: true},
		Corpus: CorpusConfig{ChunkSize: 1500, Contextual: true},
	}
}

// Load reads configuration from the optional YAML file at path, then
// overrides with environment variables. An empty path skips the file layer.
// Environment variables map underscore-separated names onto the config
// tree: SERVER_ADDR -> server.addr, RETRIEVER_FTS_WEIGHT -> retriever.fts_weight.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := defaults()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// envTransform maps SERVER_ADDR to server.addr and compound keys like
// RETRIEVER_SEMANTIC_WEIGHT to retriever.semantic_weight. Only variables
// whose first segment names a known section are mapped; everything else is
// dropped so unrelated environment noise never lands in the config tree.
func envTransform(s string) string {
	sections := []string{"SERVER", "LOG", "OPENAI", "QDRANT", "SQLITE", "RETRIEVER", "CHAT", "CORPUS"}
	for _, sec := range sections {
		if strings.HasPrefix(s, sec+"_") {
			rest := strings.ToLower(strings.TrimPrefix(s, sec+"_"))
			return strings.ToLower(sec) + "." + rest
		}
	}
	return ""
}
