package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/deskhq/ragline/internal/types"
	cfgPkg "github.com/deskhq/ragline/pkg/config"
	"github.com/deskhq/ragline/pkg/llm"
	"github.com/deskhq/ragline/pkg/pipeline"
	"github.com/deskhq/ragline/pkg/retriever"
	"github.com/deskhq/ragline/pkg/store"
	"github.com/deskhq/ragline/server"
)

func main() {
	_ = godotenv.Load()

	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.Parse()

	if err := run(configPath); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string) error {
	cfg, err := cfgPkg.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			log.Printf("config: %v", e)
		}
		return fmt.Errorf("invalid configuration")
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:          cfg.Embedding.Model,
		BaseURL:        cfg.LLM.BaseURL,
		BatchSize:      cfg.Embedding.BatchSize,
		MaxInFlight:    cfg.Embedding.MaxInFlight,
		MaxAttempts:    cfg.Embedding.MaxAttempts,
		RateLimit:      cfg.Embedding.RateLimit,
		RequestTimeout: time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}

	var index types.VectorIndex
	if cfg.Database.URL == "" {
		log.Println("No DATABASE_URL set, using in-memory index (not persisted)")
		index = store.NewMemoryIndex()
	} else {
		index, err = store.NewPgIndex(context.Background(), store.PgIndexConfig{
			ConnString: cfg.Database.URL,
			BaseTable:  cfg.Database.TableName,
			VectorDim:  cfg.Database.VectorDim,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize vector store: %w", err)
		}
	}
	defer index.Close()

	synthesizer, err := llm.NewSynthesizerWithConfig(llm.SynthesizerConfig{
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize synthesizer: %w", err)
	}

	query := pipeline.NewQuery(
		retriever.New(retriever.RetrieverConfig{ScoreFloor: cfg.Pipeline.ScoreFloor}, embedder, index),
		synthesizer,
	)

	srv := server.New(server.Config{
		Port:        cfg.Server.Port,
		DefaultTopK: cfg.Pipeline.TopK,
	}, query, index)

	return srv.ListenAndServe()
}
