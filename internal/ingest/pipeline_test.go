package ingest

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/TonyKrueger/support-agent-one/internal/logging"
	"github.com/TonyKrueger/support-agent-one/internal/search"
	"github.com/TonyKrueger/support-agent-one/internal/storage"
)

// kwEmbedder assigns vectors by keyword so test queries rank
// deterministically: texts mentioning "power" land on one axis, "refund"
// on another, everything else on a third.
type kwEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (e *kwEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		lower := strings.ToLower(t)
		switch {
		case strings.Contains(lower, "power"):
			out[i] = []float32{1, 0, 0}
		case strings.Contains(lower, "refund"):
			out[i] = []float32{0, 1, 0}
		default:
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

func (e *kwEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func newPipeline(t *testing.T) (*Pipeline, *storage.Gateway, *kwEmbedder) {
	t.Helper()
	g, err := storage.Open(&storage.Options{Path: ":memory:", Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })

	emb := &kwEmbedder{}
	return New(&Config{Embedder: emb, Store: g, Logger: logging.Discard()}), g, emb
}

func TestPipeline_Ingest_StoresDocumentAndChunks(t *testing.T) {
	t.Parallel()

	p, g, _ := newPipeline(t)
	ctx := context.Background()

	res, err := p.Ingest(ctx, &Request{
		Title:        "Device Reset Guide",
		Content:      "Press and hold the power button for ten seconds.\n\nRelease the power button when the light blinks.",
		ContentType:  "text",
		Metadata:     map[string]string{"category": "hardware"},
		ChunkSize:    60,
		ChunkOverlap: 10,
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Document.ID == "" || res.Document.Version != 1 {
		t.Fatalf("document = %+v, want assigned ID and version 1", res.Document)
	}
	if res.ChunkCount < 2 {
		t.Fatalf("ChunkCount = %d, want at least 2", res.ChunkCount)
	}

	chunks, err := g.GetDocumentChunks(ctx, res.Document.ID)
	if err != nil {
		t.Fatalf("GetDocumentChunks failed: %v", err)
	}
	if len(chunks) != res.ChunkCount {
		t.Fatalf("stored %d chunks, result said %d", len(chunks), res.ChunkCount)
	}
	for i, c := range chunks {
		if c.Metadata["category"] != "hardware" {
			t.Fatalf("chunk %d missing seeded metadata: %v", i, c.Metadata)
		}
		if c.Metadata["content_type"] != "text" {
			t.Fatalf("chunk %d missing content_type: %v", i, c.Metadata)
		}
		if len(c.Embedding) != 3 {
			t.Fatalf("chunk %d embedding not stored", i)
		}
	}
}

func TestPipeline_Ingest_Validation(t *testing.T) {
	t.Parallel()

	p, _, emb := newPipeline(t)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, &Request{Content: "body"}); err == nil {
		t.Fatal("Ingest without title succeeded")
	}
	if _, err := p.Ingest(ctx, &Request{Title: "T", Content: "   "}); err == nil {
		t.Fatal("Ingest with blank content succeeded")
	}
	if _, err := p.Ingest(ctx, &Request{Title: "T", Content: "body", Strategy: "bogus"}); err == nil {
		t.Fatal("Ingest with unknown strategy succeeded")
	}
	if emb.callCount() != 0 {
		t.Fatalf("embedder called %d times on rejected input", emb.callCount())
	}
}

func TestPipeline_Ingest_NormalizesHTML(t *testing.T) {
	t.Parallel()

	p, g, _ := newPipeline(t)
	ctx := context.Background()

	res, err := p.Ingest(ctx, &Request{
		Title:       "Web Page",
		Content:     "<html><body><p>Refund policy text.</p><script>alert(1)</script></body></html>",
		ContentType: "html",
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	doc, err := g.GetDocument(ctx, res.Document.ID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if strings.Contains(doc.Content, "<") || strings.Contains(doc.Content, "alert") {
		t.Fatalf("stored content not normalized: %q", doc.Content)
	}
	if !strings.Contains(doc.Content, "Refund policy text.") {
		t.Fatalf("stored content lost text: %q", doc.Content)
	}
}

func TestPipeline_Update_MetadataOnlySkipsEmbedding(t *testing.T) {
	t.Parallel()

	p, _, emb := newPipeline(t)
	ctx := context.Background()

	res, err := p.Ingest(ctx, &Request{Title: "Doc", Content: "original body"})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	before := emb.callCount()

	title := "Renamed Doc"
	upd, err := p.Update(ctx, res.Document.ID, &UpdateRequest{
		Title:    &title,
		Metadata: map[string]string{"reviewed": "yes"},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if upd.Document.Version != 2 {
		t.Fatalf("Version = %d, want 2", upd.Document.Version)
	}
	if upd.Document.Title != "Renamed Doc" {
		t.Fatalf("Title = %q", upd.Document.Title)
	}
	if upd.Document.Metadata["reviewed"] != "yes" {
		t.Fatalf("Metadata = %v", upd.Document.Metadata)
	}
	if emb.callCount() != before {
		t.Fatal("metadata-only update called the embedder")
	}
}

func TestPipeline_Update_ContentReplacesChunks(t *testing.T) {
	t.Parallel()

	p, g, _ := newPipeline(t)
	ctx := context.Background()

	res, err := p.Ingest(ctx, &Request{
		Title:        "Doc",
		Content:      "first line\n\nsecond line\n\nthird line",
		ChunkSize:    15,
		ChunkOverlap: 2,
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	newContent := "entirely new body"
	upd, err := p.Update(ctx, res.Document.ID, &UpdateRequest{Content: &newContent})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if upd.Document.Version != 2 {
		t.Fatalf("Version = %d, want 2", upd.Document.Version)
	}
	if upd.ChunkCount == 0 {
		t.Fatal("ChunkCount = 0 after content update")
	}

	chunks, err := g.GetDocumentChunks(ctx, res.Document.ID)
	if err != nil {
		t.Fatalf("GetDocumentChunks failed: %v", err)
	}
	if len(chunks) != upd.ChunkCount {
		t.Fatalf("stored %d chunks, result said %d", len(chunks), upd.ChunkCount)
	}
	for _, c := range chunks {
		if !strings.Contains("entirely new body", c.Content) {
			t.Fatalf("old chunk survived replace: %q", c.Content)
		}
	}
}

func TestIngestAndSearch_EndToEnd(t *testing.T) {
	t.Parallel()

	p, g, emb := newPipeline(t)
	ctx := context.Background()

	docs := []Request{
		{
			Title:        "Device Reset Guide",
			Content:      "Press and hold the power button for ten seconds.\n\nRelease the power button when the light blinks.",
			Metadata:     map[string]string{"category": "hardware"},
			ChunkSize:    60,
			ChunkOverlap: 10,
		},
		{
			Title:        "Billing FAQ",
			Content:      "Invoices are emailed at the start of each month.\n\nRefund requests take five business days.",
			Metadata:     map[string]string{"category": "billing"},
			ChunkSize:    60,
			ChunkOverlap: 10,
		},
	}
	for i := range docs {
		if _, err := p.Ingest(ctx, &docs[i]); err != nil {
			t.Fatalf("Ingest %q failed: %v", docs[i].Title, err)
		}
	}

	svc := search.New(&search.Config{Embedder: emb, Store: g})

	results, err := svc.Search(ctx, "How do I use the power button?", search.Options{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("Search returned no results")
	}
	for _, r := range results {
		if r.DocumentTitle != "Device Reset Guide" {
			t.Fatalf("result from wrong document: %+v", r)
		}
		if !strings.Contains(strings.ToLower(r.Content), "power") {
			t.Fatalf("result content off topic: %q", r.Content)
		}
	}

	// Metadata filter routes the same query to the other corpus slice.
	filtered, err := svc.Search(ctx, "When do refunds arrive?", search.Options{
		Filter: map[string]string{"category": "billing"},
	})
	if err != nil {
		t.Fatalf("filtered Search failed: %v", err)
	}
	for _, r := range filtered {
		if r.Metadata["category"] != "billing" {
			t.Fatalf("filter leaked: %+v", r)
		}
	}
}
