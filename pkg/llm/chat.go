package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"

	"github.com/deskhq/ragline/internal/models"
)

// SynthesizerConfig configures the answer generation stage.
type SynthesizerConfig struct {
	Model           string
	BaseURL         string // Ollama server URL
	MaxTokens       int
	Temperature     float64
	SystemTemplate  string
	ContextTemplate string
	NoContextAnswer string
	MaxAttempts     int
	RequestTimeout  time.Duration
}

// Synthesizer builds a grounded prompt from retrieved chunks and calls the
// generation model.
type Synthesizer struct {
	config SynthesizerConfig
	model  llms.Model
}

func applySynthesizerDefaults(config SynthesizerConfig) SynthesizerConfig {
	if config.Model == "" {
		config.Model = "mistral"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 2000
	}
	if config.Temperature <= 0 {
		config.Temperature = 0.7
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = "You are a support assistant for internal staff. " +
			"Answer using only the numbered context passages. " +
			"If the context does not contain the answer, say so plainly instead of guessing. " +
			"Cite passages as [1], [2] and keep answers short and practical."
	}
	if config.ContextTemplate == "" {
		config.ContextTemplate = "Context passages:\n%s\nQuestion: %s"
	}
	if config.NoContextAnswer == "" {
		config.NoContextAnswer = "I could not find anything relevant in the knowledge base for that question. " +
			"Try rephrasing it, or contact the support desk directly."
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 2
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 60 * time.Second
	}
	return config
}

// NewSynthesizerWithConfig wires the default Ollama generation model.
func NewSynthesizerWithConfig(config SynthesizerConfig) (*Synthesizer, error) {
	config = applySynthesizerDefaults(config)

	model, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize generation model: %w", err)
	}
	return NewSynthesizerWithModel(config, model), nil
}

// NewSynthesizerWithModel accepts any llms.Model, which is what tests use.
func NewSynthesizerWithModel(config SynthesizerConfig, model llms.Model) *Synthesizer {
	return &Synthesizer{config: applySynthesizerDefaults(config), model: model}
}

// Synthesize answers the query from the retrieved chunks. With no retrieval
// results it returns a fixed "no grounding context" answer without calling
// the model at all, so the caller never gets an unverifiable free generation.
func (s *Synthesizer) Synthesize(ctx context.Context, queryText string, results []models.RetrievalResult) (models.Answer, error) {
	return s.synthesize(ctx, queryText, results, nil)
}

// SynthesizeStream behaves like Synthesize but forwards generation chunks to
// fn as they arrive. The returned Answer carries the full text.
func (s *Synthesizer) SynthesizeStream(ctx context.Context, queryText string, results []models.RetrievalResult, fn func(chunk string)) (models.Answer, error) {
	return s.synthesize(ctx, queryText, results, fn)
}

func (s *Synthesizer) synthesize(ctx context.Context, queryText string, results []models.RetrievalResult, fn func(chunk string)) (models.Answer, error) {
	if len(results) == 0 {
		return models.Answer{Text: s.config.NoContextAnswer}, nil
	}

	citations := make([]string, len(results))
	for i, r := range results {
		citations[i] = r.ChunkID
	}

	prompt := fmt.Sprintf(s.config.ContextTemplate, formatPassages(results), queryText)
	content := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, s.config.SystemTemplate),
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}

	opts := []llms.CallOption{
		llms.WithMaxTokens(s.config.MaxTokens),
		llms.WithTemperature(s.config.Temperature),
	}
	if fn != nil {
		opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			fn(string(chunk))
			return nil
		}))
	}

	var lastErr error
	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
		resp, err := s.model.GenerateContent(callCtx, content, opts...)
		cancel()

		if err == nil && resp != nil && len(resp.Choices) > 0 {
			return models.Answer{
				Text:      resp.Choices[0].Content,
				Citations: citations,
			}, nil
		}
		if err == nil {
			err = fmt.Errorf("model returned no choices")
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}
	return models.Answer{}, &models.GenerationServiceError{Err: lastErr}
}

// formatPassages renders retrieval results as numbered source passages, in
// the exact order the retriever produced them.
func formatPassages(results []models.RetrievalResult) string {
	var b strings.Builder
	for i, r := range results {
		source := r.ChunkID
		if uri, ok := r.Metadata["source_uri"].(string); ok && uri != "" {
			source = uri
		}
		fmt.Fprintf(&b, "[%d] (score %.2f, source %s)\n%s\n\n", i+1, r.Score, source, r.ChunkText)
	}
	return b.String()
}
