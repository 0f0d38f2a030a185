package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deskhq/ragline/internal/models"
	"github.com/deskhq/ragline/internal/types"
	"github.com/deskhq/ragline/pkg/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

type Config struct {
	Port         string
	DefaultTopK  int
	QueryTimeout time.Duration
}

// Server exposes the query workflow over HTTP and WebSocket. Index builds
// stay with the CLI tools; the server only reads.
type Server struct {
	config  Config
	query   *pipeline.Query
	index   types.VectorIndex
	started time.Time
}

func New(config Config, query *pipeline.Query, index types.VectorIndex) *Server {
	if config.Port == "" {
		config.Port = "8080"
	}
	if config.DefaultTopK == 0 {
		config.DefaultTopK = 5
	}
	if config.QueryTimeout == 0 {
		config.QueryTimeout = 2 * time.Minute
	}
	return &Server{config: config, query: query, index: index, started: time.Now()}
}

type askRequest struct {
	Question string `json:"question"`
	K        int    `json:"k,omitempty"`
}

type sourcePayload struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
	Content string  `json:"content"`
}

type askResponse struct {
	Answer         string          `json:"answer"`
	Citations      []string        `json:"citations,omitempty"`
	Sources        []sourcePayload `json:"sources"`
	Reason         string          `json:"reason,omitempty"`
	ProcessingTime float64         `json:"processing_time"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "question is required", Reason: "bad_request"})
		return
	}
	if req.K <= 0 {
		req.K = s.config.DefaultTopK
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.QueryTimeout)
	defer cancel()

	started := time.Now()
	answer, results, err := s.query.Ask(ctx, req.Question, req.K)
	if err != nil {
		status, reason := mapQueryError(err)
		writeJSON(w, status, errorResponse{Error: err.Error(), Reason: reason})
		return
	}

	resp := askResponse{
		Answer:         answer.Text,
		Citations:      answer.Citations,
		Sources:        make([]sourcePayload, 0, len(results)),
		ProcessingTime: time.Since(started).Seconds(),
	}
	if len(results) == 0 {
		resp.Reason = "no_context"
	}
	for _, res := range results {
		resp.Sources = append(resp.Sources, sourcePayload{
			ChunkID: res.ChunkID,
			Score:   res.Score,
			Content: res.ChunkText,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	count, err := s.index.Count(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Reason: "service_unavailable"})
		return
	}
	model, err := s.index.ActiveModel(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Reason: "service_unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "running",
		"entries":         count,
		"embedding_model": model,
		"uptime_seconds":  time.Since(s.started).Seconds(),
	})
}

type wsMessage struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendMessage(conn, "error", "invalid message")
			continue
		}
		s.handleWSQuery(conn, msg.Content)
	}
}

func (s *Server) handleWSQuery(conn *websocket.Conn, question string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.QueryTimeout)
	defer cancel()

	answer, results, err := s.query.AskStream(ctx, question, s.config.DefaultTopK, func(chunk string) {
		s.sendMessage(conn, "stream", chunk)
	})
	if err != nil {
		_, reason := mapQueryError(err)
		s.sendMessage(conn, "error", reason+": "+err.Error())
		return
	}

	sources := make([]sourcePayload, 0, len(results))
	for _, res := range results {
		sources = append(sources, sourcePayload{ChunkID: res.ChunkID, Score: res.Score, Content: res.ChunkText})
	}
	if err := conn.WriteJSON(wsMessage{Type: "done", Content: answer.Text, Data: sources}); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

func (s *Server) sendMessage(conn *websocket.Conn, msgType, content string) {
	if err := conn.WriteJSON(wsMessage{Type: msgType, Content: content}); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

// mapQueryError keeps failure categories distinguishable for clients: an
// empty index is not a generation failure is not an outage.
func mapQueryError(err error) (int, string) {
	var emptyErr *models.EmptyIndexError
	var mismatchErr *models.ModelMismatchError
	var genErr *models.GenerationServiceError
	var embErr *models.EmbeddingServiceError

	switch {
	case errors.As(err, &emptyErr):
		return http.StatusConflict, "empty_index"
	case errors.As(err, &mismatchErr):
		return http.StatusConflict, "model_mismatch"
	case errors.As(err, &genErr):
		return http.StatusBadGateway, "generation_failed"
	case errors.As(err, &embErr):
		return http.StatusBadGateway, "embedding_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "service_unavailable"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

// ListenAndServe blocks serving the query API.
func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ask", s.handleAsk)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWebSocket)

	log.Printf("Starting query server on port %s", s.config.Port)
	return http.ListenAndServe(":"+s.config.Port, mux)
}
