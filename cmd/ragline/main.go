package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"

	"github.com/deskhq/ragline/internal/models"
	"github.com/deskhq/ragline/internal/types"
	"github.com/deskhq/ragline/pkg/chunker"
	cfgPkg "github.com/deskhq/ragline/pkg/config"
	"github.com/deskhq/ragline/pkg/llm"
	"github.com/deskhq/ragline/pkg/loader"
	"github.com/deskhq/ragline/pkg/pipeline"
	"github.com/deskhq/ragline/pkg/retriever"
	"github.com/deskhq/ragline/pkg/store"
)

type flags struct {
	configPath string
	sources    string
	query      string
	topK       int
	failFast   bool
	stream     bool
}

func main() {
	_ = godotenv.Load()

	f := parseFlags()
	if err := run(f); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to config file")
	flag.StringVar(&f.sources, "sources", "", "Comma-separated documents to index (files, globs, URLs)")
	flag.StringVar(&f.query, "query", "", "One-shot question; omit for interactive chat")
	flag.IntVar(&f.topK, "k", 0, "Number of chunks to retrieve (default from config)")
	flag.BoolVar(&f.failFast, "fail-fast", false, "Abort the index build on the first bad document or chunk")
	flag.BoolVar(&f.stream, "stream", true, "Stream responses")
	flag.Parse()
	return f
}

func run(f flags) error {
	cfg, err := cfgPkg.LoadConfig(f.configPath)
	if err != nil {
		return err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %v", e)
		}
		return fmt.Errorf("invalid configuration")
	}
	if f.failFast {
		cfg.Pipeline.FailFast = true
	}
	if f.topK <= 0 {
		f.topK = cfg.Pipeline.TopK
	}
	if cfg.UI.DisableStreaming {
		f.stream = false
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

	index, err := openIndex(cfg)
	if err != nil {
		return err
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

	ck := chunker.NewWithConfig(chunker.ChunkerConfig{
		ChunkSize:       cfg.Chunker.ChunkSize,
		ChunkOverlap:    cfg.Chunker.ChunkOverlap,
		MaxDocumentSize: cfg.Chunker.MaxDocumentSize,
	})
	indexer := pipeline.NewIndexer(pipeline.IndexerConfig{FailFast: cfg.Pipeline.FailFast}, &ck, embedder, index)
	query := pipeline.NewQuery(
		retriever.New(retriever.RetrieverConfig{ScoreFloor: cfg.Pipeline.ScoreFloor}, embedder, index),
		synthesizer,
	)

	ctx := context.Background()

	if f.sources != "" {
		if err := buildIndex(ctx, indexer, strings.Split(f.sources, ",")); err != nil {
			return err
		}
		if f.query == "" {
			return nil
		}
	}

	if f.query != "" {
		return askOnce(ctx, query, f.query, f.topK, f.stream)
	}

	return chatLoop(ctx, query, f.topK, f.stream)
}

func openIndex(cfg *cfgPkg.Config) (types.VectorIndex, error) {
	if cfg.Database.URL == "" {
		color.Yellow("No DATABASE_URL set, using in-memory index (not persisted)")
		return store.NewMemoryIndex(), nil
	}

	index, err := store.NewPgIndex(context.Background(), store.PgIndexConfig{
		ConnString: cfg.Database.URL,
		BaseTable:  cfg.Database.TableName,
		VectorDim:  cfg.Database.VectorDim,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	return index, nil
}

func buildIndex(ctx context.Context, indexer *pipeline.Indexer, sources []string) error {
	l := loader.NewWithConfig(loader.LoaderConfig{})

	loadBar := getSpinner(" Loading documents...")
	docs, err := l.Load(ctx, sources)
	loadBar.Finish()
	if err != nil {
		return fmt.Errorf("failed to load sources: %w", err)
	}
	color.Green("✓ Loaded %d documents\n", len(docs))

	buildBar := getProgressBar(len(docs), " Indexing documents...")
	indexer.OnProgress = func(string) { buildBar.Add(1) }

	report, err := indexer.Build(ctx, docs)
	buildBar.Finish()
	if err != nil {
		return err
	}

	color.Green("✓ Indexed %d documents into %d chunks (version %s)\n",
		report.Documents, report.ChunksWritten, report.IndexVersion)
	if report.SkippedDocs > 0 {
		color.Yellow("  skipped %d unusable documents", report.SkippedDocs)
	}
	if len(report.FailedChunks) > 0 {
		color.Yellow("  %d chunks failed to embed: %s",
			len(report.FailedChunks), strings.Join(report.FailedChunks, ", "))
	}
	return nil
}

func askOnce(ctx context.Context, query *pipeline.Query, question string, k int, stream bool) error {
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	answer, results, err := ask(ctx, query, question, k, stream, assistantPrompt)
	if err != nil {
		return describeQueryError(err)
	}
	if !stream {
		assistantPrompt("%s\n", answer.Text)
	}
	printSources(results)
	return nil
}

func chatLoop(ctx context.Context, query *pipeline.Query, k int, stream bool) error {
	color.Cyan("\nChat with your knowledge base (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if strings.ToLower(question) == "exit" {
			break
		}

		assistantPrompt("\nAssistant: ")
		answer, results, err := ask(ctx, query, question, k, stream, assistantPrompt)
		if err != nil {
			color.Red("\n%v", describeQueryError(err))
			continue
		}
		if !stream {
			assistantPrompt("%s", answer.Text)
		}
		fmt.Println()
		printSources(results)
	}
	return nil
}

func ask(ctx context.Context, query *pipeline.Query, question string, k int, stream bool,
	assistantPrompt func(format string, a ...interface{})) (models.Answer, []models.RetrievalResult, error) {

	if !stream {
		spinner := getSpinner(" Thinking...")
		answer, results, err := query.Ask(ctx, question, k)
		spinner.Finish()
		return answer, results, err
	}
	return query.AskStream(ctx, question, k, func(chunk string) {
		assistantPrompt("%s", chunk)
	})
}

func printSources(results []models.RetrievalResult) {
	if len(results) == 0 {
		return
	}
	fmt.Println()
	for i, r := range results {
		source := r.ChunkID
		if uri, ok := r.Metadata["source_uri"].(string); ok && uri != "" {
			source = uri
		}
		color.Blue("  [%d] %.2f %s", i+1, r.Score, source)
	}
}

// describeQueryError keeps the failure categories apart so the user sees
// "nothing indexed" rather than a generic error.
func describeQueryError(err error) error {
	var emptyErr *models.EmptyIndexError
	var mismatchErr *models.ModelMismatchError
	var genErr *models.GenerationServiceError

	switch {
	case errors.As(err, &emptyErr):
		return fmt.Errorf("the index is empty; run with -sources to build it first")
	case errors.As(err, &mismatchErr):
		return fmt.Errorf("%v; rebuild the index with the current embedding model", err)
	case errors.As(err, &genErr):
		return fmt.Errorf("the language model could not produce an answer: %v", err)
	default:
		return err
	}
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}
