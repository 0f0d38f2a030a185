package loader_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskhq/ragline/pkg/loader"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTextFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "handbook.md", "# Handbook\n\nAll about leave policy.")

	l := loader.NewWithConfig(loader.LoaderConfig{})
	docs, err := l.Load(context.Background(), []string{path})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Equal(t, "handbook.md", docs[0].Title)
	assert.Equal(t, path, docs[0].SourceURI)
	assert.Contains(t, docs[0].RawText, "leave policy")
	assert.NotEmpty(t, docs[0].ID)
}

func TestLoadFAQCSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "faq.csv",
		"Question,Answer\n"+
			"How do I reset my password?,Use the self-service portal.\n"+
			"Who approves expenses?,Your direct manager.\n"+
			",\n")

	l := loader.NewWithConfig(loader.LoaderConfig{})
	docs, err := l.Load(context.Background(), []string{path})
	require.NoError(t, err)
	require.Len(t, docs, 2, "blank rows are dropped")

	assert.Equal(t, "How do I reset my password?", docs[0].Title)
	assert.Equal(t, "Q: How do I reset my password?\nA: Use the self-service portal.", docs[0].RawText)
	assert.Equal(t, "faq", docs[0].Metadata["source"])
	assert.NotEqual(t, docs[0].ID, docs[1].ID)
}

func TestLoadFAQMissingColumns(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.csv", "Title,Body\nfoo,bar\n")

	l := loader.NewWithConfig(loader.LoaderConfig{})
	_, err := l.Load(context.Background(), []string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "question/answer")
}

func TestLoadHTMLFileExtractsMainContent(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "page.html", `<html>
<head><title>VPN Guide</title></head>
<body>
<nav>navigation junk</nav>
<main>Connect to the VPN   before accessing internal tools.</main>
</body></html>`)

	l := loader.NewWithConfig(loader.LoaderConfig{})
	docs, err := l.Load(context.Background(), []string{path})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Equal(t, "VPN Guide", docs[0].Title)
	assert.Equal(t, "Connect to the VPN before accessing internal tools.", docs[0].RawText)
	assert.NotContains(t, docs[0].RawText, "navigation junk")
}

func TestLoadGlobPattern(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "first")
	writeFile(t, dir, "b.txt", "second")
	writeFile(t, dir, "c.csv", "Question,Answer\nq,a\n")

	l := loader.NewWithConfig(loader.LoaderConfig{})
	docs, err := l.Load(context.Background(), []string{filepath.Join(dir, "*.txt")})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestLoadURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>Docs</title></head><body><article>Remote content here.</article></body></html>`))
	}))
	defer srv.Close()

	l := loader.NewWithConfig(loader.LoaderConfig{})
	docs, err := l.Load(context.Background(), []string{srv.URL})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Equal(t, "Docs", docs[0].Title)
	assert.Equal(t, "Remote content here.", docs[0].RawText)
	assert.Equal(t, srv.URL, docs[0].SourceURI)
}

func TestLoadURLNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	l := loader.NewWithConfig(loader.LoaderConfig{})
	_, err := l.Load(context.Background(), []string{srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestLoadMissingFile(t *testing.T) {
	l := loader.NewWithConfig(loader.LoaderConfig{})
	_, err := l.Load(context.Background(), []string{filepath.Join(t.TempDir(), "nope.txt")})
	require.Error(t, err)
}
