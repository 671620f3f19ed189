// Package server exposes the pipeline over HTTP: a JSON REST API for
// ingestion and querying, plus a WebSocket chat endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/xhad/minirag/internal/models"
	"github.com/xhad/minirag/internal/types"
	"github.com/xhad/minirag/pkg/extract"
	"github.com/xhad/minirag/pkg/scraper"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

type Config struct {
	Port            string
	ScrapeMaxDepth  int
	ScrapeRateLimit float64
}

type Server struct {
	config   Config
	pipeline types.Pipeline
}

func New(config Config, pipeline types.Pipeline) *Server {
	if config.Port == "" {
		config.Port = "8080"
	}
	if config.ScrapeMaxDepth == 0 {
		config.ScrapeMaxDepth = 3
	}
	if config.ScrapeRateLimit == 0 {
		config.ScrapeRateLimit = 2
	}
	return &Server{config: config, pipeline: pipeline}
}

// Handler builds the route table. Split out from Run so tests can drive
// the server through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("GET /documents", s.handleListDocuments)
	mux.HandleFunc("DELETE /documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return mux
}

func (s *Server) Run() error {
	addr := ":" + s.config.Port
	log.Printf("Starting server on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

type ingestRequest struct {
	Text     string                 `json:"text"`
	Title    string                 `json:"title,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	if req.Title != "" {
		metadata["title"] = req.Title
	}

	result, err := s.pipeline.Ingest(r.Context(), req.Text, metadata)
	if err != nil {
		log.Printf("ingest failed: %v", err)
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Max 10MB for safety
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if !extract.Supported(header.Filename) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type for %q", header.Filename))
		return
	}

	text, err := extract.FromUpload(file, header.Filename)
	if err != nil {
		log.Printf("extraction failed for %s: %v", header.Filename, err)
		writeError(w, http.StatusBadRequest, "failed to extract text")
		return
	}

	metadata := map[string]interface{}{
		"title":    extract.Title(header.Filename),
		"filename": header.Filename,
	}

	result, err := s.pipeline.Ingest(r.Context(), text, metadata)
	if err != nil {
		log.Printf("ingest failed for %s: %v", header.Filename, err)
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

type queryRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	result, err := s.pipeline.Query(r.Context(), req.Question)
	if err != nil {
		var validationErr *models.ValidationError
		if errors.As(err, &validationErr) {
			writeError(w, http.StatusBadRequest, validationErr.Error())
			return
		}
		log.Printf("query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.pipeline.ListDocuments(r.Context())
	if err != nil {
		log.Printf("list documents failed: %v", err)
		writeError(w, http.StatusInternalServerError, "listing documents failed")
		return
	}
	if docs == nil {
		docs = []models.DocumentInfo{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("id")

	found, err := s.pipeline.DeleteDocument(r.Context(), documentID)
	if err != nil {
		log.Printf("delete of %s failed: %v", documentID, err)
		writeError(w, http.StatusInternalServerError, "deletion failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("document %s not found", documentID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("error reading message: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("error unmarshaling message: %v", err)
			continue
		}

		s.handleMessage(r.Context(), conn, msg)
	}
}

// handleMessage answers one chat message. A message that is just a URL
// ingests that site instead of querying.
func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, msg Message) {
	query := strings.TrimSpace(msg.Content)

	if url := urlPattern.FindString(query); url != "" && url == query {
		s.ingestURL(ctx, conn, url)
		return
	}

	result, err := s.pipeline.Query(ctx, query)
	if err != nil {
		s.sendMessage(conn, "error", fmt.Sprintf("Error: %v", err), nil)
		return
	}

	s.sendMessage(conn, "response", result.Answer, result)
}

func (s *Server) ingestURL(ctx context.Context, conn *websocket.Conn, url string) {
	s.sendMessage(conn, "status", fmt.Sprintf("Processing URL: %s", url), nil)

	var processedCount int32
	sc, err := scraper.NewWithConfig(scraper.ScraperConfig{
		BaseURL:   url,
		MaxDepth:  s.config.ScrapeMaxDepth,
		RateLimit: s.config.ScrapeRateLimit,
		OnProgress: func(url string) {
			count := atomic.AddInt32(&processedCount, 1)
			s.sendMessage(conn, "progress", fmt.Sprintf("Scraped %d pages", count), nil)
		},
	})
	if err != nil {
		s.sendMessage(conn, "error", fmt.Sprintf("Failed to initialize scraper: %v", err), nil)
		return
	}

	docs, err := sc.Scrape(ctx, url)
	if err != nil {
		s.sendMessage(conn, "error", fmt.Sprintf("Failed to scrape URL: %v", err), nil)
		return
	}

	stored := 0
	for _, doc := range docs {
		if _, err := s.pipeline.Ingest(ctx, doc.Text, doc.Metadata); err != nil {
			s.sendMessage(conn, "error", fmt.Sprintf("Failed to ingest %v: %v", doc.Metadata["url"], err), nil)
			continue
		}
		stored++
	}

	s.sendMessage(conn, "status", fmt.Sprintf("Ingested %d of %d pages", stored, len(docs)), nil)
}

func (s *Server) sendMessage(conn *websocket.Conn, msgType, content string, data interface{}) {
	msg := Message{
		Type:    msgType,
		Content: content,
		Data:    data,
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("error sending message: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
