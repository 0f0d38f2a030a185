package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskhq/ragline/internal/models"
	"github.com/deskhq/ragline/pkg/pipeline"
	"github.com/deskhq/ragline/pkg/store"
)

type fakeRetriever struct {
	results []models.RetrievalResult
	err     error
	lastK   int
}

func (f *fakeRetriever) Retrieve(ctx context.Context, queryText string, k int) ([]models.RetrievalResult, error) {
	f.lastK = k
	return f.results, f.err
}

type fakeSynth struct{}

func (f *fakeSynth) Synthesize(ctx context.Context, queryText string, results []models.RetrievalResult) (models.Answer, error) {
	if len(results) == 0 {
		return models.Answer{Text: "I could not find anything relevant."}, nil
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	return models.Answer{Text: "grounded answer", Citations: ids}, nil
}

func testServer(r *fakeRetriever) *Server {
	return New(Config{DefaultTopK: 3}, pipeline.NewQuery(r, &fakeSynth{}), store.NewMemoryIndex())
}

func postAsk(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleAsk(rec, req)
	return rec
}

func TestHandleAsk(t *testing.T) {
	retr := &fakeRetriever{results: []models.RetrievalResult{
		{ChunkID: "doc1:0000", Score: 0.9, ChunkText: "Use the HR portal."},
		{ChunkID: "doc1:0001", Score: 0.8, ChunkText: "Manager approval is required."},
	}}
	rec := postAsk(t, testServer(retr), `{"question":"how do I request leave?"}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp askResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "grounded answer", resp.Answer)
	assert.Equal(t, []string{"doc1:0000", "doc1:0001"}, resp.Citations)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, "doc1:0000", resp.Sources[0].ChunkID)
	assert.Equal(t, "Use the HR portal.", resp.Sources[0].Content)
	assert.Empty(t, resp.Reason)
	assert.Equal(t, 3, retr.lastK, "defaults k when the request omits it")
}

func TestHandleAskNoContext(t *testing.T) {
	rec := postAsk(t, testServer(&fakeRetriever{}), `{"question":"anything"}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp askResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "no_context", resp.Reason)
	assert.Empty(t, resp.Sources)
	assert.Contains(t, resp.Answer, "could not find")
}

func TestHandleAskEmptyIndex(t *testing.T) {
	retr := &fakeRetriever{err: &models.EmptyIndexError{}}
	rec := postAsk(t, testServer(retr), `{"question":"anything"}`)

	require.Equal(t, http.StatusConflict, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "empty_index", resp.Reason)
}

func TestHandleAskBadRequest(t *testing.T) {
	rec := postAsk(t, testServer(&fakeRetriever{}), `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAskMethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ask", nil)
	rec := httptest.NewRecorder()
	testServer(&fakeRetriever{}).handleAsk(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleStatus(t *testing.T) {
	index := store.NewMemoryIndex()
	_, err := index.Rebuild(context.Background(), "test-embed", []models.IndexEntry{
		{ChunkID: "a:0000", Vector: []float32{1, 0}},
		{ChunkID: "a:0001", Vector: []float32{0, 1}},
	})
	require.NoError(t, err)

	s := New(Config{}, pipeline.NewQuery(&fakeRetriever{}, &fakeSynth{}), index)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "running", status["status"])
	assert.Equal(t, float64(2), status["entries"])
	assert.Equal(t, "test-embed", status["embedding_model"])
}

func TestMapQueryError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		reason string
	}{
		{"empty index", &models.EmptyIndexError{}, http.StatusConflict, "empty_index"},
		{"model mismatch", &models.ModelMismatchError{Want: "a", Got: "b"}, http.StatusConflict, "model_mismatch"},
		{"generation", &models.GenerationServiceError{Err: errors.New("boom")}, http.StatusBadGateway, "generation_failed"},
		{"embedding", &models.EmbeddingServiceError{Err: errors.New("boom")}, http.StatusBadGateway, "embedding_failed"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "service_unavailable"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, reason := mapQueryError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.reason, reason)
		})
	}
}
