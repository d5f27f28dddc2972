// Package search answers similarity queries over the stored corpus. It
// embeds the query text, ranks chunks by cosine similarity, applies
// exact-match metadata filters, and can expand each hit with its
// neighboring chunks so callers get enough surrounding text to be useful.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/TonyKrueger/support-agent-one/internal/embedder"
	"github.com/TonyKrueger/support-agent-one/internal/storage"
)

// Service defaults.
const (
	// DefaultLimit is the number of primary results returned.
	DefaultLimit = 5
	// DefaultThreshold is the minimum similarity for a primary result.
	DefaultThreshold = 0.7
	// DefaultContextWindow is how many neighbor chunks are added on each
	// side of a primary result when context is requested.
	DefaultContextWindow = 1
)

// ErrUnknownStrategy is returned by SearchByStrategy when the named
// strategy is not one of semantic, semantic_with_context, exact, or
// hybrid.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Context positions on expanded results.
const (
	PositionBefore = "before"
	PositionAfter  = "after"
)

// Store is the slice of the storage gateway the service needs.
type Store interface {
	Search(ctx context.Context, embedding []float32, limit int, threshold float32) ([]storage.Match, error)
	GetDocumentChunks(ctx context.Context, documentID string) ([]storage.Chunk, error)
	GetDocuments(ctx context.Context, ids []string) (map[string]*storage.Document, error)
}

// Service performs similarity search over the stored corpus.
type Service struct {
	// embedder converts query text into a vector.
	embedder embedder.Embedder
	// store supplies ranked chunks and document rows.
	store Store
	// limit is the default number of primary results.
	limit int
	// threshold is the default minimum similarity.
	threshold float32
	// window is how many neighbor chunks to add per side.
	window int
	// log receives degradation warnings.
	log *slog.Logger
}

// Config holds the settings for constructing a Service.
type Config struct {
	// Embedder converts query text into a vector. Required.
	Embedder embedder.Embedder
	// Store supplies ranked chunks and document rows. Required.
	Store Store
	// Limit is the default number of primary results (default 5).
	Limit int
	// Threshold is the default minimum similarity (default 0.7).
	Threshold float32
	// ContextWindow is neighbors per side when context is requested (default 1).
	ContextWindow int
	// Logger receives degradation warnings. Defaults to slog.Default.
	Logger *slog.Logger
}

// New constructs a Service, applying defaults for zero-valued tuning fields.
func New(cfg *Config) *Service {
	s := &Service{
		embedder:  cfg.Embedder,
		store:     cfg.Store,
		limit:     cfg.Limit,
		threshold: cfg.Threshold,
		window:    cfg.ContextWindow,
		log:       cfg.Logger,
	}
	if s.limit <= 0 {
		s.limit = DefaultLimit
	}
	if s.threshold <= 0 {
		s.threshold = DefaultThreshold
	}
	if s.window <= 0 {
		s.window = DefaultContextWindow
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Options refine a single search call. Zero values fall back to the
// service defaults.
type Options struct {
	// Limit caps the number of primary results.
	Limit int
	// Threshold overrides the minimum similarity; nil uses the default.
	Threshold *float32
	// IncludeContext adds neighboring chunks around each primary result.
	IncludeContext bool
	// Filter keeps only chunks whose metadata contains every given
	// key/value pair exactly.
	Filter map[string]string
}

// Result is one entry in a search response: either a primary match or a
// context chunk pulled in around one.
type Result struct {
	// ID is the chunk ID.
	ID string `json:"id"`
	// DocumentID is the owning document.
	DocumentID string `json:"document_id"`
	// ChunkIndex is the chunk's position within its document.
	ChunkIndex int `json:"chunk_index"`
	// Content is the chunk text.
	Content string `json:"content"`
	// Similarity is the cosine similarity to the query; 0 for context chunks.
	Similarity float32 `json:"similarity"`
	// Metadata holds the chunk's stored metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
	// DocumentTitle is the owning document's title.
	DocumentTitle string `json:"document_title,omitempty"`
	// DocumentMetadata is the owning document's metadata.
	DocumentMetadata map[string]string `json:"document_metadata,omitempty"`
	// IsContext marks a chunk included only as surrounding context.
	IsContext bool `json:"is_context,omitempty"`
	// ContextFor is the chunk index of the primary result this context
	// chunk belongs to; nil on primary results.
	ContextFor *int `json:"context_for,omitempty"`
	// ContextPosition is "before" or "after" the primary chunk.
	ContextPosition string `json:"context_position,omitempty"`
}

// Response is a complete answer to a search call.
type Response struct {
	// Results holds primary matches and any context chunks, ranked.
	Results []Result `json:"results"`
	// Degraded is set when the requested strategy was not available and
	// plain semantic search was used instead.
	Degraded bool `json:"degraded,omitempty"`
}

// Search embeds the query and returns the ranked results.
func (s *Service) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("search: query is empty")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = s.limit
	}
	threshold := s.threshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}

	// Over-fetch so metadata filtering and context expansion still leave
	// enough primary results.
	fetch := limit
	if opts.IncludeContext || len(opts.Filter) > 0 {
		fetch = limit * 2
	}

	matches, err := s.store.Search(ctx, vecs[0], fetch, threshold)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	matches = filterMatches(matches, opts.Filter)
	if len(matches) > limit {
		matches = matches[:limit]
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		results = append(results, Result{
			ID:         m.ID,
			DocumentID: m.DocumentID,
			ChunkIndex: m.Index,
			Content:    m.Content,
			Similarity: m.Similarity,
			Metadata:   m.Metadata,
		})
	}

	if opts.IncludeContext {
		expanded, err := s.expandContext(ctx, results)
		if err != nil {
			return nil, err
		}
		results = expanded
	}

	if err := s.enrichDocuments(ctx, results); err != nil {
		return nil, err
	}

	// Rank by similarity; context chunks carry 0 so they trail their
	// primaries, and the stable sort keeps insertion order on ties.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// SearchByStrategy runs a search with the named strategy. "semantic" is
// the plain search, "semantic_with_context" forces context expansion, and
// "exact" and "hybrid" degrade to semantic with a warning so callers keep
// getting answers.
func (s *Service) SearchByStrategy(ctx context.Context, query, strategy string, opts Options) (*Response, error) {
	degraded := false
	switch strategy {
	case "", "semantic":
	case "semantic_with_context":
		opts.IncludeContext = true
	case "exact", "hybrid":
		s.log.Warn("search strategy not available, using semantic",
			slog.String("requested", strategy),
		)
		degraded = true
	default:
		return nil, fmt.Errorf("search: %w %q (valid: semantic, semantic_with_context, exact, hybrid)", ErrUnknownStrategy, strategy)
	}

	results, err := s.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	return &Response{Results: results, Degraded: degraded}, nil
}

// filterMatches keeps matches whose metadata contains every filter pair.
func filterMatches(matches []storage.Match, filter map[string]string) []storage.Match {
	if len(filter) == 0 {
		return matches
	}
	out := matches[:0:0]
	for _, m := range matches {
		keep := true
		for k, v := range filter {
			if m.Metadata[k] != v {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, m)
		}
	}
	return out
}

// expandContext appends the neighboring chunks of each primary result.
// Neighbors already present (as primaries or earlier context) are not
// duplicated.
func (s *Service) expandContext(ctx context.Context, primaries []Result) ([]Result, error) {
	seen := make(map[string]bool, len(primaries))
	for _, r := range primaries {
		seen[r.ID] = true
	}

	chunksByDoc := make(map[string][]storage.Chunk)
	out := primaries
	for _, p := range primaries {
		primaryIndex := p.ChunkIndex
		chunks, ok := chunksByDoc[p.DocumentID]
		if !ok {
			var err error
			chunks, err = s.store.GetDocumentChunks(ctx, p.DocumentID)
			if err != nil {
				return nil, fmt.Errorf("search: load context chunks: %w", err)
			}
			chunksByDoc[p.DocumentID] = chunks
		}

		for _, c := range chunks {
			d := c.Index - p.ChunkIndex
			if d == 0 || d < -s.window || d > s.window || seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			position := PositionAfter
			if d < 0 {
				position = PositionBefore
			}
			out = append(out, Result{
				ID:              c.ID,
				DocumentID:      c.DocumentID,
				ChunkIndex:      c.Index,
				Content:         c.Content,
				Metadata:        c.Metadata,
				IsContext:       true,
				ContextFor:      &primaryIndex,
				ContextPosition: position,
			})
		}
	}
	return out, nil
}

// enrichDocuments fills in the owning document's title and metadata.
func (s *Service) enrichDocuments(ctx context.Context, results []Result) error {
	if len(results) == 0 {
		return nil
	}

	var ids []string
	want := make(map[string]bool)
	for _, r := range results {
		if !want[r.DocumentID] {
			want[r.DocumentID] = true
			ids = append(ids, r.DocumentID)
		}
	}

	docs, err := s.store.GetDocuments(ctx, ids)
	if err != nil {
		return fmt.Errorf("search: load documents: %w", err)
	}
	for i := range results {
		if doc, ok := docs[results[i].DocumentID]; ok {
			results[i].DocumentTitle = doc.Title
			results[i].DocumentMetadata = doc.Metadata
		}
	}
	return nil
}
