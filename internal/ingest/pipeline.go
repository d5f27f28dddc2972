// Package ingest turns raw documents into stored, embedded chunks. The
// pipeline normalizes the content, splits it with the chunker, embeds
// every chunk, and hands the result to the storage gateway as one logical
// write.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/TonyKrueger/support-agent-one/internal/chunker"
	"github.com/TonyKrueger/support-agent-one/internal/embedder"
	"github.com/TonyKrueger/support-agent-one/internal/storage"
)

// Store is the slice of the storage gateway the pipeline needs.
type Store interface {
	StoreDocumentWithChunks(ctx context.Context, doc *storage.Document, chunks []storage.Chunk) error
	UpdateDocument(ctx context.Context, id string, upd storage.DocumentUpdate) (*storage.Document, error)
	UpdateDocumentWithChunks(ctx context.Context, id string, upd storage.DocumentUpdate, chunks []storage.Chunk) (*storage.Document, error)
}

// Pipeline ingests documents end to end: normalize, chunk, embed, store.
type Pipeline struct {
	// embedder produces chunk vectors; usually an embedder.Client.
	embedder embedder.Embedder
	// store persists documents and chunks.
	store Store
	// chunkSize is the default chunk size in characters.
	chunkSize int
	// chunkOverlap is the default overlap between adjacent chunks.
	chunkOverlap int
	// log receives ingest diagnostics.
	log *slog.Logger
}

// Config holds the settings for constructing a Pipeline.
type Config struct {
	// Embedder produces chunk vectors. Required.
	Embedder embedder.Embedder
	// Store persists documents and chunks. Required.
	Store Store
	// ChunkSize is the default chunk size (default chunker.DefaultSize).
	ChunkSize int
	// ChunkOverlap is the default overlap (default chunker.DefaultOverlap).
	ChunkOverlap int
	// Logger receives ingest diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// New constructs a Pipeline, applying defaults for zero-valued fields.
func New(cfg *Config) *Pipeline {
	p := &Pipeline{
		embedder:     cfg.Embedder,
		store:        cfg.Store,
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
		log:          cfg.Logger,
	}
	if p.chunkSize <= 0 {
		p.chunkSize = chunker.DefaultSize
	}
	if p.chunkOverlap <= 0 {
		p.chunkOverlap = chunker.DefaultOverlap
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p
}

// Request describes one document to ingest.
type Request struct {
	// Title is the document title. Required.
	Title string `json:"title"`
	// Content is the raw document text. Required.
	Content string `json:"content"`
	// ContentType hints at the format ("text", "markdown", "html").
	ContentType string `json:"content_type,omitempty"`
	// Metadata is attached to the document and seeded into its chunks.
	Metadata map[string]string `json:"metadata,omitempty"`
	// ChunkSize overrides the pipeline default when positive.
	ChunkSize int `json:"chunk_size,omitempty"`
	// ChunkOverlap overrides the pipeline default when positive.
	ChunkOverlap int `json:"chunk_overlap,omitempty"`
	// Strategy names the chunking strategy; empty selects by content type.
	Strategy string `json:"strategy,omitempty"`
}

// UpdateRequest describes a partial update of an existing document.
// When Content is set, the document is re-chunked and re-embedded.
type UpdateRequest struct {
	// Title replaces the document title when non-nil.
	Title *string `json:"title,omitempty"`
	// Content replaces the document content when non-nil.
	Content *string `json:"content,omitempty"`
	// ContentType hints at the format of the new content.
	ContentType string `json:"content_type,omitempty"`
	// Metadata entries are merged over the existing document metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
	// ChunkSize overrides the pipeline default when positive.
	ChunkSize int `json:"chunk_size,omitempty"`
	// ChunkOverlap overrides the pipeline default when positive.
	ChunkOverlap int `json:"chunk_overlap,omitempty"`
	// Strategy names the chunking strategy; empty selects by content type.
	Strategy string `json:"strategy,omitempty"`
}

// Result summarizes a completed ingest.
type Result struct {
	// Document is the stored document row.
	Document *storage.Document `json:"document"`
	// ChunkCount is the number of chunks written.
	ChunkCount int `json:"chunk_count"`
}

// Ingest processes one document: normalize, chunk, embed, store. Failures
// after the embed step leave no orphaned document behind.
func (p *Pipeline) Ingest(ctx context.Context, req *Request) (*Result, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("ingest: title is required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("ingest: content is empty")
	}

	content := normalizeContent(req.Content, req.ContentType)
	chunks, err := p.buildChunks(ctx, content, req.ContentType, req.Strategy, req.ChunkSize, req.ChunkOverlap, req.Metadata)
	if err != nil {
		return nil, err
	}

	doc := &storage.Document{
		Title:    req.Title,
		Content:  content,
		Metadata: req.Metadata,
	}
	if err := p.store.StoreDocumentWithChunks(ctx, doc, chunks); err != nil {
		return nil, err
	}

	p.log.Info("document ingested",
		slog.String("document_id", doc.ID),
		slog.String("title", doc.Title),
		slog.Int("chunks", len(chunks)),
	)
	return &Result{Document: doc, ChunkCount: len(chunks)}, nil
}

// Update applies a partial update. Metadata-only and title-only updates
// touch just the document row; a content change re-chunks, re-embeds, and
// replaces the stored chunks.
func (p *Pipeline) Update(ctx context.Context, id string, req *UpdateRequest) (*Result, error) {
	upd := storage.DocumentUpdate{
		Title:    req.Title,
		Metadata: req.Metadata,
	}

	if req.Content == nil {
		doc, err := p.store.UpdateDocument(ctx, id, upd)
		if err != nil {
			return nil, err
		}
		return &Result{Document: doc}, nil
	}

	content := normalizeContent(*req.Content, req.ContentType)
	upd.Content = &content

	chunks, err := p.buildChunks(ctx, content, req.ContentType, req.Strategy, req.ChunkSize, req.ChunkOverlap, req.Metadata)
	if err != nil {
		return nil, err
	}

	doc, err := p.store.UpdateDocumentWithChunks(ctx, id, upd, chunks)
	if err != nil {
		return nil, err
	}

	p.log.Info("document re-ingested",
		slog.String("document_id", doc.ID),
		slog.Int("version", doc.Version),
		slog.Int("chunks", len(chunks)),
	)
	return &Result{Document: doc, ChunkCount: len(chunks)}, nil
}

// buildChunks splits the content and embeds every part.
func (p *Pipeline) buildChunks(ctx context.Context, content, contentType, strategy string, size, overlap int, meta map[string]string) ([]storage.Chunk, error) {
	cfg := chunker.Config{
		Size:        p.chunkSize,
		Overlap:     p.chunkOverlap,
		ContentType: contentType,
	}
	if size > 0 {
		cfg.Size = size
	}
	if overlap > 0 {
		cfg.Overlap = overlap
	}
	if strategy != "" {
		s, err := chunker.ParseStrategy(strategy)
		if err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
		cfg.Strategy = s
	}

	parts, err := chunker.Split(content, cfg)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("ingest: content produced no chunks")
	}

	vecs, err := p.embedder.Embed(ctx, parts)
	if err != nil {
		return nil, fmt.Errorf("ingest: embed chunks: %w", err)
	}

	chunks := make([]storage.Chunk, len(parts))
	for i, part := range parts {
		chunks[i] = storage.Chunk{
			Content:   part,
			Embedding: vecs[i],
			Metadata:  seedMetadata(meta, contentType),
		}
	}
	return chunks, nil
}

// normalizeContent strips markup for HTML content; other formats pass
// through untouched.
func normalizeContent(content, contentType string) string {
	switch strings.ToLower(contentType) {
	case "html", "text/html":
		return NormalizeHTML(content)
	default:
		return content
	}
}

// seedMetadata copies the document metadata into a fresh chunk metadata
// map, recording the source content type.
func seedMetadata(meta map[string]string, contentType string) map[string]string {
	out := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	if contentType != "" {
		out["content_type"] = contentType
	}
	return out
}
