package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/askdoc/askdoc/internal/models"
	"github.com/askdoc/askdoc/pkg/extract"
	"github.com/askdoc/askdoc/pkg/llm"
	"github.com/askdoc/askdoc/pkg/retriever"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

type Config struct {
	Port      string
	Streaming bool
	TopK      int
}

// Server exposes the retrieval subsystem over HTTP: document upload, scoped
// and global queries, listing, deletion and a websocket for streaming
// answers.
type Server struct {
	config    Config
	retriever *retriever.Retriever
	chat      *llm.ChatEngine

	mu        sync.RWMutex
	documents map[string]models.DocumentInfo
}

type Message struct {
	Type       string      `json:"type"`
	Content    string      `json:"content"`
	DocumentID string      `json:"document_id,omitempty"`
	Data       interface{} `json:"data,omitempty"`
}

type queryRequest struct {
	DocumentID string `json:"document_id"`
	Question   string `json:"question"`
	K          int    `json:"k,omitempty"`
}

type querySource struct {
	Text    string  `json:"text"`
	Score   float32 `json:"score"`
	ChunkID string  `json:"chunk_id"`
	Page    int     `json:"page,omitempty"`
}

type queryResponse struct {
	Answer  string        `json:"answer"`
	Sources []querySource `json:"sources"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func New(config Config, r *retriever.Retriever, chat *llm.ChatEngine) *Server {
	if config.Port == "" {
		config.Port = "8080"
	}
	if config.TopK == 0 {
		config.TopK = 5
	}
	return &Server{
		config:    config,
		retriever: r,
		chat:      chat,
		documents: make(map[string]models.DocumentInfo),
	}
}

// RestoreDocuments rebuilds the document listing from an index restored from
// a snapshot. Filenames are not part of the snapshot, so restored entries
// carry only id and chunk count.
func (s *Server) RestoreDocuments(ctx context.Context) error {
	ids, err := s.retriever.DocIDs(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.documents[id]; ok {
			continue
		}
		stats, err := s.retriever.Stats(ctx, id)
		if err != nil {
			return err
		}
		s.documents[id] = models.DocumentInfo{ID: id, Chunks: stats.TotalChunks}
	}
	return nil
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("POST /api/query", s.handleQuery)
	mux.HandleFunc("GET /api/documents", s.handleListDocuments)
	mux.HandleFunc("GET /api/documents/{id}/stats", s.handleDocumentStats)
	mux.HandleFunc("DELETE /api/documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

func (s *Server) Run() error {
	log.Printf("Starting server on port %s", s.config.Port)
	return http.ListenAndServe(":"+s.config.Port, s.Routes())
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "missing file field"})
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedType(ext) {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Detail: fmt.Sprintf("Unsupported file type. Allowed types: %s", strings.Join(extract.AllowedTypes, ", ")),
		})
		return
	}

	tmp, err := os.CreateTemp("", "upload-*"+ext)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "failed to store upload"})
		return
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "failed to store upload"})
		return
	}
	tmp.Close()

	info, err := s.retriever.IngestFile(r.Context(), tmp.Name())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: fmt.Sprintf("Error processing document: %v", err)})
		return
	}
	info.Filename = header.Filename

	s.mu.Lock()
	s.documents[info.ID] = info
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid request body"})
		return
	}

	s.mu.RLock()
	_, ok := s.documents[req.DocumentID]
	s.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: "Document not found"})
		return
	}

	k := req.K
	if k <= 0 {
		k = s.config.TopK
	}

	chunks, err := s.retriever.Search(r.Context(), req.DocumentID, req.Question, k)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: fmt.Sprintf("Error processing query: %v", err)})
		return
	}

	answer, err := s.chat.Answer(r.Context(), req.Question, chunks)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: fmt.Sprintf("Error processing query: %v", err)})
		return
	}

	sources := make([]querySource, 0, len(chunks))
	for _, sc := range chunks {
		sources = append(sources, querySource{
			Text:    truncate(sc.Chunk.Text, 200),
			Score:   sc.Score,
			ChunkID: sc.Chunk.ChunkID,
			Page:    sc.Chunk.Page,
		})
	}

	writeJSON(w, http.StatusOK, queryResponse{Answer: answer, Sources: sources})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	ids, err := s.retriever.DocIDs(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]models.DocumentInfo, 0, len(ids))
	for _, id := range ids {
		if info, ok := s.documents[id]; ok {
			infos = append(infos, info)
		} else {
			infos = append(infos, models.DocumentInfo{ID: id})
		}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleDocumentStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.RLock()
	_, ok := s.documents[id]
	s.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: "Document not found"})
		return
	}

	stats, err := s.retriever.Stats(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_chunks":     stats.TotalChunks,
		"avg_chunk_length": stats.AvgChunkLength,
		"total_characters": stats.TotalCharacters,
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.RLock()
	_, ok := s.documents[id]
	s.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: "Document not found"})
		return
	}

	if err := s.retriever.RemoveDocument(r.Context(), id); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: fmt.Sprintf("Error deleting document: %v", err)})
		return
	}

	s.mu.Lock()
	delete(s.documents, id)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"message": "Document deleted successfully"})
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
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling message: %v", err)
			continue
		}

		s.handleWSQuery(r.Context(), conn, msg)
	}
}

func (s *Server) handleWSQuery(ctx context.Context, conn *websocket.Conn, msg Message) {
	var chunks []models.ScoredChunk
	var err error

	if msg.DocumentID != "" {
		chunks, err = s.retriever.Search(ctx, msg.DocumentID, msg.Content, s.config.TopK)
	} else {
		var hits []models.ScoredHit
		hits, err = s.retriever.SearchAll(ctx, msg.Content, s.config.TopK)
		for _, hit := range hits {
			chunks = append(chunks, models.ScoredChunk{Chunk: hit.Chunk, Score: hit.Score})
		}
	}
	if err != nil {
		s.sendMessage(conn, "error", fmt.Sprintf("Error querying documents: %v", err))
		return
	}

	if s.config.Streaming {
		stream, err := s.chat.AnswerStream(ctx, msg.Content, chunks)
		if err != nil {
			s.sendMessage(conn, "error", fmt.Sprintf("Error: %v", err))
			return
		}
		for chunk := range stream {
			if strings.HasPrefix(chunk, "Error:") {
				s.sendMessage(conn, "error", chunk)
				return
			}
			s.sendMessage(conn, "stream", chunk)
		}
		s.sendMessage(conn, "done", "")
	} else {
		answer, err := s.chat.Answer(ctx, msg.Content, chunks)
		if err != nil {
			s.sendMessage(conn, "error", fmt.Sprintf("Error: %v", err))
			return
		}
		s.sendMessage(conn, "response", answer)
	}
}

func (s *Server) sendMessage(conn *websocket.Conn, msgType string, content string) {
	msg := Message{
		Type:    msgType,
		Content: content,
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

func allowedType(ext string) bool {
	for _, allowed := range extract.AllowedTypes {
		if ext == allowed {
			return true
		}
	}
	return false
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
