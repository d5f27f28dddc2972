package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TonyKrueger/support-agent-one/internal/ingest"
	"github.com/TonyKrueger/support-agent-one/internal/search"
	"github.com/TonyKrueger/support-agent-one/internal/storage"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives all Prometheus metric registrations.
	// If nil a fresh registry is created.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Set alongside MetricsRegistry;
	// defaults to the same fresh registry when both are nil.
	MetricsGatherer prometheus.Gatherer
	// CacheHitRate reports the embedding cache hit rate for the
	// cache_hit_ratio gauge. Optional.
	CacheHitRate func() float64
}

// ingestor is the slice of the ingest pipeline the document handlers use.
// *ingest.Pipeline satisfies it; tests inject a fake.
type ingestor interface {
	// Ingest chunks, embeds, and stores a new document.
	Ingest(ctx context.Context, req *ingest.Request) (*ingest.Result, error)
	// Update applies a partial update, re-embedding when content changed.
	Update(ctx context.Context, id string, req *ingest.UpdateRequest) (*ingest.Result, error)
}

// searcher is the slice of the search service the search handler uses.
// *search.Service satisfies it; tests inject a fake.
type searcher interface {
	// SearchByStrategy runs a ranked similarity search.
	SearchByStrategy(ctx context.Context, query, strategy string, opts search.Options) (*search.Response, error)
}

// documentStore is the slice of the storage gateway the read and delete
// handlers use. *storage.Gateway satisfies it; tests inject a fake.
type documentStore interface {
	// GetDocument fetches one document by ID.
	GetDocument(ctx context.Context, id string) (*storage.Document, error)
	// ListDocuments returns documents newest-first.
	ListDocuments(ctx context.Context, limit, offset int) ([]*storage.Document, error)
	// DeleteDocument removes a document and its chunks.
	DeleteDocument(ctx context.Context, id string) (bool, error)
	// GetDocumentChunks returns a document's chunks in order.
	GetDocumentChunks(ctx context.Context, documentID string) ([]storage.Chunk, error)
}

// Server is the HTTP server that exposes the knowledge base API.
type Server struct {
	// pipeline handles document ingestion and updates.
	pipeline ingestor
	// searcher answers similarity queries.
	searcher searcher
	// docs serves document reads and deletes.
	docs documentStore
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	// Query is the natural language search text. Required.
	Query string `json:"query"`
	// Strategy selects the search strategy; empty means semantic.
	Strategy string `json:"strategy,omitempty"`
	// Limit caps the number of primary results; zero uses the default.
	Limit int `json:"limit,omitempty"`
	// Threshold overrides the minimum similarity; null uses the default.
	Threshold *float32 `json:"threshold,omitempty"`
	// IncludeContext adds the chunks surrounding each hit.
	IncludeContext bool `json:"include_context,omitempty"`
	// Filter keeps only chunks whose metadata matches every pair exactly.
	Filter map[string]string `json:"filter,omitempty"`
}

// documentResponse is the JSON body for GET /api/documents/{id}.
type documentResponse struct {
	// Document is the stored document row.
	Document *storage.Document `json:"document"`
	// ChunkCount is the number of chunks stored for the document.
	ChunkCount int `json:"chunk_count"`
}

// listDocumentsResponse is the JSON body for GET /api/documents.
type listDocumentsResponse struct {
	// Documents holds the page of documents, newest first.
	Documents []*storage.Document `json:"documents"`
}

// errorResponse is the JSON body sent with every non-2xx status.
type errorResponse struct {
	// Error is the human-readable failure reason.
	Error string `json:"error"`
}
