package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/deskhq/ragline/pkg/chunker"
	cfgPkg "github.com/deskhq/ragline/pkg/config"
	"github.com/deskhq/ragline/pkg/llm"
	"github.com/deskhq/ragline/pkg/loader"
	"github.com/deskhq/ragline/pkg/pipeline"
	"github.com/deskhq/ragline/pkg/store"
)

// indexctl administers the vector index: full rebuilds, deletion and status.
// The chat CLI and the query server never write; this tool owns the write
// path.

type flags struct {
	configPath string
	sources    string
	delete     bool
	status     bool
	force      bool
	failFast   bool
}

func main() {
	_ = godotenv.Load()

	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to config file")
	flag.StringVar(&f.sources, "sources", "", "Comma-separated documents to index (files, globs, URLs)")
	flag.BoolVar(&f.delete, "delete", false, "Delete the active index")
	flag.BoolVar(&f.status, "status", false, "Show index status")
	flag.BoolVar(&f.force, "force", false, "Skip the delete confirmation prompt")
	flag.BoolVar(&f.failFast, "fail-fast", false, "Abort the build on the first bad document or chunk")
	flag.Parse()

	if err := run(f); err != nil {
		log.Fatal(err)
	}
}

func run(f flags) error {
	cfg, err := cfgPkg.LoadConfig(f.configPath)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required for index administration")
	}

	ctx := context.Background()
	index, err := store.NewPgIndex(ctx, store.PgIndexConfig{
		ConnString: cfg.Database.URL,
		BaseTable:  cfg.Database.TableName,
		VectorDim:  cfg.Database.VectorDim,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %w", err)
	}
	defer index.Close()

	switch {
	case f.status:
		return showStatus(ctx, index)
	case f.delete:
		return deleteIndex(ctx, index, cfg.Database.TableName, f.force)
	case f.sources != "":
		return build(ctx, cfg, index, strings.Split(f.sources, ","), f.failFast)
	default:
		flag.Usage()
		return fmt.Errorf("one of -sources, -delete or -status is required")
	}
}

func showStatus(ctx context.Context, index *store.PgIndex) error {
	count, err := index.Count(ctx)
	if err != nil {
		return err
	}
	model, err := index.ActiveModel(ctx)
	if err != nil {
		return err
	}

	if model == "" {
		color.Yellow("No active index")
		return nil
	}
	fmt.Printf("entries: %d\nembedding model: %s\n", count, model)
	return nil
}

func deleteIndex(ctx context.Context, index *store.PgIndex, name string, force bool) error {
	if !force {
		fmt.Printf("Delete index %q? (y/N): ", name)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			color.Yellow("Cancelled")
			return nil
		}
	}

	if err := index.DeleteAll(ctx); err != nil {
		return err
	}
	color.Green("✓ Index deleted")
	return nil
}

func build(ctx context.Context, cfg *cfgPkg.Config, index *store.PgIndex, sources []string, failFast bool) error {
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

	docs, err := loader.NewWithConfig(loader.LoaderConfig{}).Load(ctx, sources)
	if err != nil {
		return fmt.Errorf("failed to load sources: %w", err)
	}
	color.Blue("Loaded %d documents", len(docs))

	ck := chunker.NewWithConfig(chunker.ChunkerConfig{
		ChunkSize:       cfg.Chunker.ChunkSize,
		ChunkOverlap:    cfg.Chunker.ChunkOverlap,
		MaxDocumentSize: cfg.Chunker.MaxDocumentSize,
	})
	indexer := pipeline.NewIndexer(
		pipeline.IndexerConfig{FailFast: failFast || cfg.Pipeline.FailFast},
		&ck, embedder, index)

	report, err := indexer.Build(ctx, docs)
	if err != nil {
		return err
	}

	color.Green("✓ Index built: version %s", report.IndexVersion)
	fmt.Printf("documents: %d\nchunks written: %d\nskipped documents: %d\nfailed chunks: %d\nelapsed: %s\n",
		report.Documents, report.ChunksWritten, report.SkippedDocs, len(report.FailedChunks), report.Elapsed.Round(time.Millisecond))
	if len(report.FailedChunks) > 0 {
		color.Yellow("failed chunk ids: %s", strings.Join(report.FailedChunks, ", "))
	}
	return nil
}
