package search

import (
	"context"
	"strings"
	"testing"

	"github.com/TonyKrueger/support-agent-one/internal/storage"
)

// fixedEmbedder returns the same vector for every text.
type fixedEmbedder struct{}

func (fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

// fakeStore serves canned matches and records the search arguments.
type fakeStore struct {
	matches       []storage.Match
	chunks        map[string][]storage.Chunk
	docs          map[string]*storage.Document
	lastLimit     int
	lastThreshold float32
}

func (f *fakeStore) Search(_ context.Context, _ []float32, limit int, threshold float32) ([]storage.Match, error) {
	f.lastLimit = limit
	f.lastThreshold = threshold
	out := f.matches
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) GetDocumentChunks(_ context.Context, documentID string) ([]storage.Chunk, error) {
	return f.chunks[documentID], nil
}

func (f *fakeStore) GetDocuments(_ context.Context, ids []string) (map[string]*storage.Document, error) {
	out := make(map[string]*storage.Document)
	for _, id := range ids {
		if d, ok := f.docs[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

// fiveChunkStore builds a store with one document of five sequential
// chunks and canned similarity matches.
func fiveChunkStore(matches []storage.Match) *fakeStore {
	chunks := make([]storage.Chunk, 5)
	for i := range chunks {
		chunks[i] = storage.Chunk{
			ID:         "c" + string(rune('0'+i)),
			DocumentID: "doc1",
			Index:      i,
			Content:    "chunk " + string(rune('0'+i)),
		}
	}
	return &fakeStore{
		matches: matches,
		chunks:  map[string][]storage.Chunk{"doc1": chunks},
		docs: map[string]*storage.Document{
			"doc1": {
				ID:       "doc1",
				Title:    "Troubleshooting Guide",
				Metadata: map[string]string{"category": "support"},
			},
		},
	}
}

func match(st *fakeStore, chunkIdx int, sim float32) storage.Match {
	return storage.Match{Chunk: st.chunks["doc1"][chunkIdx], Similarity: sim}
}

func TestService_Search_RanksAndEnriches(t *testing.T) {
	t.Parallel()

	st := fiveChunkStore(nil)
	st.matches = []storage.Match{match(st, 2, 0.9), match(st, 0, 0.8)}
	svc := New(&Config{Embedder: fixedEmbedder{}, Store: st})

	results, err := svc.Search(context.Background(), "how do I reset", Options{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "c2" || results[1].ID != "c0" {
		t.Fatalf("order = %s, %s, want c2 then c0", results[0].ID, results[1].ID)
	}
	for _, r := range results {
		if r.DocumentTitle != "Troubleshooting Guide" {
			t.Fatalf("result %s missing document title: %+v", r.ID, r)
		}
		if r.DocumentMetadata["category"] != "support" {
			t.Fatalf("result %s missing document metadata: %+v", r.ID, r)
		}
	}
	if st.lastThreshold != DefaultThreshold {
		t.Fatalf("threshold = %f, want default %f", st.lastThreshold, DefaultThreshold)
	}
}

func TestService_Search_EmptyQuery(t *testing.T) {
	t.Parallel()

	svc := New(&Config{Embedder: fixedEmbedder{}, Store: fiveChunkStore(nil)})
	if _, err := svc.Search(context.Background(), "", Options{}); err == nil {
		t.Fatal("Search with empty query succeeded, want error")
	}
}

func TestService_Search_MetadataFilter(t *testing.T) {
	t.Parallel()

	st := fiveChunkStore(nil)
	st.chunks["doc1"][0].Metadata = map[string]string{"lang": "en"}
	st.chunks["doc1"][1].Metadata = map[string]string{"lang": "de"}
	st.chunks["doc1"][2].Metadata = map[string]string{"lang": "en"}
	st.matches = []storage.Match{match(st, 1, 0.95), match(st, 0, 0.9), match(st, 2, 0.85)}
	svc := New(&Config{Embedder: fixedEmbedder{}, Store: st})

	results, err := svc.Search(context.Background(), "query", Options{
		Filter: map[string]string{"lang": "en"},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.Metadata["lang"] != "en" {
			t.Fatalf("filtered result has lang %q", r.Metadata["lang"])
		}
	}
	// Filtering over-fetches to keep the result set full.
	if st.lastLimit != DefaultLimit*2 {
		t.Fatalf("store fetch limit = %d, want %d", st.lastLimit, DefaultLimit*2)
	}
}

func TestService_Search_ContextExpansion(t *testing.T) {
	t.Parallel()

	st := fiveChunkStore(nil)
	st.matches = []storage.Match{match(st, 2, 0.9)}
	svc := New(&Config{Embedder: fixedEmbedder{}, Store: st})

	results, err := svc.Search(context.Background(), "query", Options{IncludeContext: true})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want primary + 2 context", len(results))
	}
	if results[0].ID != "c2" || results[0].IsContext {
		t.Fatalf("first result = %+v, want primary c2", results[0])
	}

	byID := make(map[string]Result)
	for _, r := range results[1:] {
		if !r.IsContext || r.ContextFor == nil || *r.ContextFor != 2 || r.Similarity != 0 {
			t.Fatalf("context result wrong: %+v", r)
		}
		byID[r.ID] = r
	}
	if byID["c1"].ContextPosition != PositionBefore {
		t.Fatalf("c1 position = %q, want before", byID["c1"].ContextPosition)
	}
	if byID["c3"].ContextPosition != PositionAfter {
		t.Fatalf("c3 position = %q, want after", byID["c3"].ContextPosition)
	}
}

func TestService_Search_ContextRespectsLimit(t *testing.T) {
	t.Parallel()

	st := fiveChunkStore(nil)
	st.matches = []storage.Match{match(st, 2, 0.9)}
	svc := New(&Config{Embedder: fixedEmbedder{}, Store: st})

	results, err := svc.Search(context.Background(), "query", Options{
		Limit:          1,
		IncludeContext: true,
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].ID != "c2" || results[0].IsContext {
		t.Fatalf("kept result = %+v, want primary c2", results[0])
	}
}

func TestService_Search_ContextSkipsPrimariesAndDuplicates(t *testing.T) {
	t.Parallel()

	st := fiveChunkStore(nil)
	st.matches = []storage.Match{match(st, 1, 0.9), match(st, 2, 0.85)}
	svc := New(&Config{Embedder: fixedEmbedder{}, Store: st})

	results, err := svc.Search(context.Background(), "query", Options{IncludeContext: true})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	// Primaries c1 and c2; context is c0 (before c1) and c3 (after c2).
	// Neither primary may reappear as context, and c0/c3 appear once.
	counts := make(map[string]int)
	for _, r := range results {
		counts[r.ID]++
	}
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4: %v", len(results), counts)
	}
	for id, n := range counts {
		if n != 1 {
			t.Fatalf("chunk %s appears %d times", id, n)
		}
	}
	for _, r := range results {
		if (r.ID == "c1" || r.ID == "c2") && r.IsContext {
			t.Fatalf("primary %s marked as context", r.ID)
		}
	}
}

func TestService_Search_ThresholdOverride(t *testing.T) {
	t.Parallel()

	st := fiveChunkStore(nil)
	svc := New(&Config{Embedder: fixedEmbedder{}, Store: st})

	zero := float32(0)
	if _, err := svc.Search(context.Background(), "query", Options{Threshold: &zero}); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if st.lastThreshold != 0 {
		t.Fatalf("threshold = %f, want explicit 0", st.lastThreshold)
	}
}

func TestService_SearchByStrategy(t *testing.T) {
	t.Parallel()

	st := fiveChunkStore(nil)
	st.matches = []storage.Match{match(st, 0, 0.9)}
	svc := New(&Config{Embedder: fixedEmbedder{}, Store: st})
	ctx := context.Background()

	resp, err := svc.SearchByStrategy(ctx, "query", "semantic", Options{})
	if err != nil {
		t.Fatalf("semantic search failed: %v", err)
	}
	if resp.Degraded {
		t.Fatal("semantic search reported degraded")
	}

	resp, err = svc.SearchByStrategy(ctx, "query", "semantic_with_context", Options{})
	if err != nil {
		t.Fatalf("semantic_with_context search failed: %v", err)
	}
	if resp.Degraded {
		t.Fatal("semantic_with_context search reported degraded")
	}
	// Forcing context expansion pulls in the neighbor of primary c0.
	if len(resp.Results) != 2 {
		t.Fatalf("got %d results, want primary + 1 context", len(resp.Results))
	}
	if !resp.Results[1].IsContext || resp.Results[1].ID != "c1" {
		t.Fatalf("second result = %+v, want context c1", resp.Results[1])
	}

	resp, err = svc.SearchByStrategy(ctx, "query", "exact", Options{})
	if err != nil {
		t.Fatalf("exact search failed: %v", err)
	}
	if !resp.Degraded {
		t.Fatal("exact search did not report degraded")
	}
	if len(resp.Results) != 1 {
		t.Fatalf("degraded search returned %d results, want 1", len(resp.Results))
	}

	if _, err := svc.SearchByStrategy(ctx, "query", "regex", Options{}); err == nil ||
		!strings.Contains(err.Error(), "unknown strategy") {
		t.Fatalf("unknown strategy error = %v", err)
	}
}
