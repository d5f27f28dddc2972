package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/TonyKrueger/support-agent-one/internal/ingest"
	"github.com/TonyKrueger/support-agent-one/internal/logging"
	"github.com/TonyKrueger/support-agent-one/internal/storage"
)

// defaultListLimit caps GET /api/documents pages when the client does not
// pass an explicit limit.
const defaultListLimit = 50

// handleCreateDocument handles POST /api/documents. The body is an ingest
// request; the document is chunked, embedded, and stored before the 201
// response is written.
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req ingest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, r, http.StatusBadRequest, "title is required")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, r, http.StatusBadRequest, "content is required")
		return
	}

	res, err := s.pipeline.Ingest(r.Context(), &req)
	if err != nil {
		s.metrics.ingestTotal.WithLabelValues("error").Inc()
		logging.FromContext(r.Context()).Error("ingest failed",
			slog.String("title", req.Title),
			slog.Any("error", err),
		)
		writeError(w, r, statusFor(err), err.Error())
		return
	}

	s.metrics.ingestTotal.WithLabelValues("ok").Inc()
	s.metrics.ingestChunks.Add(float64(res.ChunkCount))
	writeJSON(w, r, http.StatusCreated, res)
}

// handleListDocuments handles GET /api/documents. Supports ?limit= and
// ?offset= query parameters; documents are returned newest first.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit)
	offset := queryInt(r, "offset", 0)

	docs, err := s.docs.ListDocuments(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, statusFor(err), err.Error())
		return
	}
	if docs == nil {
		docs = []*storage.Document{}
	}
	writeJSON(w, r, http.StatusOK, listDocumentsResponse{Documents: docs})
}

// handleGetDocument handles GET /api/documents/{id}.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	doc, err := s.docs.GetDocument(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, r, statusFor(err), err.Error())
		return
	}

	chunks, err := s.docs.GetDocumentChunks(r.Context(), id)
	if err != nil {
		writeError(w, r, statusFor(err), err.Error())
		return
	}

	writeJSON(w, r, http.StatusOK, documentResponse{Document: doc, ChunkCount: len(chunks)})
}

// handleUpdateDocument handles PUT /api/documents/{id}. The body is a
// partial update; when it carries new content the document is re-chunked
// and re-embedded, otherwise only title and metadata change.
func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req ingest.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.pipeline.Update(r.Context(), id, &req)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "document not found")
			return
		}
		logging.FromContext(r.Context()).Error("update failed",
			slog.String("document_id", id),
			slog.Any("error", err),
		)
		writeError(w, r, statusFor(err), err.Error())
		return
	}

	writeJSON(w, r, http.StatusOK, res)
}

// handleDeleteDocument handles DELETE /api/documents/{id}.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	deleted, err := s.docs.DeleteDocument(r.Context(), id)
	if err != nil {
		writeError(w, r, statusFor(err), err.Error())
		return
	}
	if !deleted {
		writeError(w, r, http.StatusNotFound, "document not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// queryInt parses an integer query parameter, falling back to def when the
// parameter is absent or malformed.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
