package loader

import (
	"context"
	"crypto/sha1"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/deskhq/ragline/internal/models"
)

type LoaderConfig struct {
	Timeout   time.Duration
	RateLimit float64 // requests per second for URL fetches
}

// Loader turns sources into documents. Supported sources: .txt and .md files,
// FAQ .csv files with question/answer columns, .html files, http(s) URLs and
// glob patterns over any of those.
type Loader struct {
	config  LoaderConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewWithConfig(config LoaderConfig) *Loader {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}

	return &Loader{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

func (l *Loader) Load(ctx context.Context, sources []string) ([]models.Document, error) {
	var docs []models.Document

	for _, source := range sources {
		if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
			doc, err := l.fetchURL(ctx, source)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
			continue
		}

		paths, err := filepath.Glob(source)
		if err != nil {
			return nil, fmt.Errorf("bad source pattern %q: %w", source, err)
		}
		if paths == nil {
			paths = []string{source}
		}

		for _, path := range paths {
			loaded, err := l.loadFile(path)
			if err != nil {
				return nil, err
			}
			docs = append(docs, loaded...)
		}
	}
	return docs, nil
}

func (l *Loader) loadFile(path string) ([]models.Document, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return l.loadFAQ(path)
	case ".html", ".htm":
		doc, err := l.loadHTMLFile(path)
		if err != nil {
			return nil, err
		}
		return []models.Document{doc}, nil
	default:
		doc, err := l.loadText(path)
		if err != nil {
			return nil, err
		}
		return []models.Document{doc}, nil
	}
}

func (l *Loader) loadText(path string) (models.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return models.Document{
		ID:        sourceID(path),
		SourceURI: path,
		Title:     filepath.Base(path),
		RawText:   string(data),
		Metadata:  map[string]interface{}{"source": "file", "path": path},
	}, nil
}

// loadFAQ turns each question/answer row into its own small document so a
// single FAQ entry retrieves as one unit.
func (l *Loader) loadFAQ(path string) ([]models.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%s has no FAQ rows", path)
	}

	qCol, aCol := -1, -1
	for i, name := range records[0] {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "question":
			qCol = i
		case "answer":
			aCol = i
		}
	}
	if qCol < 0 || aCol < 0 {
		return nil, fmt.Errorf("%s is missing question/answer columns", path)
	}

	var docs []models.Document
	for i, row := range records[1:] {
		if qCol >= len(row) || aCol >= len(row) {
			continue
		}
		question := strings.TrimSpace(row[qCol])
		answer := strings.TrimSpace(row[aCol])
		if question == "" && answer == "" {
			continue
		}

		docs = append(docs, models.Document{
			ID:        fmt.Sprintf("%s-faq%04d", sourceID(path), i),
			SourceURI: path,
			Title:     question,
			RawText:   fmt.Sprintf("Q: %s\nA: %s", question, answer),
			Metadata: map[string]interface{}{
				"source":   "faq",
				"path":     path,
				"question": question,
			},
		})
	}
	return docs, nil
}

func (l *Loader) loadHTMLFile(path string) (models.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return models.Document{
		ID:        sourceID(path),
		SourceURI: path,
		Title:     strings.TrimSpace(doc.Find("title").Text()),
		RawText:   extractMainContent(doc),
		Metadata:  map[string]interface{}{"source": "html", "path": path},
	}, nil
}

func (l *Loader) fetchURL(ctx context.Context, url string) (models.Document, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return models.Document{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Document{}, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Document{}, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, url)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to parse %s: %w", url, err)
	}

	return models.Document{
		ID:        sourceID(url),
		SourceURI: url,
		Title:     strings.TrimSpace(doc.Find("title").Text()),
		RawText:   extractMainContent(doc),
		Metadata:  map[string]interface{}{"source": "url", "url": url},
	}, nil
}

var contentSelectors = []string{
	"main",
	"article",
	".content",
	"#content",
	".documentation",
	"#documentation",
}

func extractMainContent(doc *goquery.Document) string {
	var content string
	for _, selector := range contentSelectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}
	if content == "" {
		content = doc.Find("body").Text()
	}
	return strings.TrimSpace(strings.Join(strings.Fields(content), " "))
}

func sourceID(source string) string {
	sum := sha1.Sum([]byte(source))
	return hex.EncodeToString(sum[:])[:12]
}
