package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/olist-insight/server/internal/agent/analytics"
	"github.com/olist-insight/server/internal/agent/model"
	"github.com/olist-insight/server/internal/agent/oracle"
	"github.com/olist-insight/server/internal/agent/ragtool"
	"github.com/olist-insight/server/internal/agent/repo"
	"github.com/olist-insight/server/internal/agent/router"
	"github.com/olist-insight/server/internal/agent/sqltool"
	"github.com/olist-insight/server/internal/core"
	"github.com/olist-insight/server/internal/server"
	logx "github.com/olist-insight/server/pkg/logger"
	pkgredis "github.com/olist-insight/server/pkg/redis"
)

// AppConfig defines all configurable parameters for the service, sourced from
// environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Components
	Oracle     model.OracleConfig
	SQL        model.SQLToolConfig
	RAG        model.RAGConfig
	Analytics  model.AnalyticsConfig
	HTTP       model.ServerConfig
	Transcript model.TranscriptConfig
}

func main() {
	ctx := context.Background()

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(cfg.Environment)})

	orc, err := oracle.New(ctx, cfg.Oracle)
	if err != nil {
		log.Fatalf("Failed to initialise oracle: %v", err)
	}

	sqlTool, err := sqltool.New(cfg.SQL, orc)
	if err != nil {
		log.Fatalf("Failed to initialise SQL tool: %v", err)
	}
	defer sqlTool.Close()

	embedder, err := ragtool.NewOpenAIEmbedder(ctx, cfg.Oracle.APIKey, cfg.Oracle.BaseURL, cfg.RAG)
	if err != nil {
		log.Fatalf("Failed to initialise embedder: %v", err)
	}
	searcher, err := ragtool.NewQdrantSearcher(cfg.RAG)
	if err != nil {
		log.Fatalf("Failed to initialise vector search: %v", err)
	}
	ragTool, err := ragtool.New(cfg.RAG, orc, embedder, searcher)
	if err != nil {
		log.Fatalf("Failed to initialise retrieval tool: %v", err)
	}

	pipeline, err := analytics.NewPipeline(cfg.Analytics, orc)
	if err != nil {
		log.Fatalf("Failed to initialise analytics pipeline: %v", err)
	}
	defer pipeline.Close()

	var transcripts repo.TranscriptRepository
	if cfg.Transcript.Enabled {
		var redisCfg pkgredis.Config
		if err := envconfig.Process("redis", &redisCfg); err != nil {
			log.Fatalf("Failed to process Redis config: %v", err)
		}
		rdb := redisCfg.MustNew()
		defer rdb.Close()

		ttl, err := time.ParseDuration(cfg.Transcript.TTL)
		if err != nil {
			log.Fatalf("Invalid TRANSCRIPT_TTL '%s': %v", cfg.Transcript.TTL, err)
		}
		transcripts = repo.NewRedisTranscriptRepository(rdb, ttl, cfg.Transcript.MaxTurns)
	}

	rt := router.New(orc, sqlTool, ragTool, pipeline)

	srv := server.New(rt, transcripts)
	if err := srv.Run(cfg.HTTP.Addr); err != nil {
		log.Fatalf("HTTP server stopped: %v", err)
	}
}
