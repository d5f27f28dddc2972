package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/TonyKrueger/support-agent-one/internal/logging"
)

// chunkInsertBatch is the number of chunk rows written per transaction.
const chunkInsertBatch = 50

// Gateway is the document and chunk store backed by a local SQLite
// database, optionally mirroring vectors into a VectorIndex. Safe for
// concurrent use.
type Gateway struct {
	// db is the underlying database connection pool.
	db *sql.DB
	// index is the optional vector index mirror; nil means SQLite-only.
	index VectorIndex
	// log receives write and degradation diagnostics.
	log *slog.Logger
}

// Options holds the settings for opening a Gateway.
type Options struct {
	// Path is the SQLite database file. Use ":memory:" in tests.
	Path string
	// Index is the optional vector index mirror.
	Index VectorIndex
	// Logger receives write and degradation diagnostics. Defaults to the
	// package logging default.
	Logger *slog.Logger
}

// Open opens (or creates) the database at opts.Path and runs the schema
// migration.
func Open(opts *Options) (*Gateway, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := opts.Path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", opts.Path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	log := opts.Logger
	if log == nil {
		log = logging.New()
	}

	g := &Gateway{db: db, index: opts.Index, log: log}
	if err := g.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return g, nil
}

// migrate creates the schema if it does not already exist.
func (g *Gateway) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id          TEXT    PRIMARY KEY,
    title       TEXT    NOT NULL,
    content     TEXT    NOT NULL,
    metadata    TEXT    NOT NULL DEFAULT '{}',
    version     INTEGER NOT NULL DEFAULT 1,
    created_at  INTEGER NOT NULL,  -- Unix timestamp (seconds)
    updated_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
    id           TEXT    PRIMARY KEY,
    document_id  TEXT    NOT NULL,
    chunk_index  INTEGER NOT NULL,
    content      TEXT    NOT NULL,
    embedding    BLOB    NOT NULL,
    metadata     TEXT    NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_chunks_document
    ON chunks (document_id, chunk_index);
`
	if _, err := g.db.Exec(ddl); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}

// Close releases the database connection and the vector index, if any.
func (g *Gateway) Close() error {
	var errs []error
	if g.index != nil {
		errs = append(errs, g.index.Close())
	}
	errs = append(errs, g.db.Close())
	return errors.Join(errs...)
}

// Ping verifies the database connection is alive.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.db.PingContext(ctx)
}

// CreateDocument stores a new document. A missing ID is assigned; Version
// is forced to 1 and timestamps are set to now.
func (g *Gateway) CreateDocument(ctx context.Context, doc *Document) error {
	if doc.Title == "" {
		return &ValidationError{Reason: "document title is required"}
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.Version = 1
	now := time.Now().UTC().Truncate(time.Second)
	doc.CreatedAt = now
	doc.UpdatedAt = now

	meta, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}

	const q = `INSERT INTO documents (id, title, content, metadata, version, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := g.db.ExecContext(ctx, q,
		doc.ID, doc.Title, doc.Content, meta, doc.Version, now.Unix(), now.Unix()); err != nil {
		return fmt.Errorf("storage: create document: %w", err)
	}
	return nil
}

// GetDocument returns the document with the given ID, or ErrNotFound.
func (g *Gateway) GetDocument(ctx context.Context, id string) (*Document, error) {
	const q = `SELECT id, title, content, metadata, version, created_at, updated_at
	           FROM documents WHERE id = ?`
	doc, err := scanDocument(g.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get document: %w", err)
	}
	return doc, nil
}

// GetDocuments returns the documents with the given IDs, keyed by ID.
// Missing IDs are simply absent from the result.
func (g *Gateway) GetDocuments(ctx context.Context, ids []string) (map[string]*Document, error) {
	if len(ids) == 0 {
		return map[string]*Document{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	q := `SELECT id, title, content, metadata, version, created_at, updated_at
	      FROM documents WHERE id IN (` + placeholders[:len(placeholders)-1] + `)`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := g.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: get documents: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*Document, len(ids))
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: get documents: %w", err)
		}
		out[doc.ID] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: get documents: %w", err)
	}
	return out, nil
}

// ListDocuments returns documents ordered newest-first. A non-positive
// limit returns everything.
func (g *Gateway) ListDocuments(ctx context.Context, limit, offset int) ([]*Document, error) {
	if limit <= 0 {
		limit = -1
	}
	const q = `SELECT id, title, content, metadata, version, created_at, updated_at
	           FROM documents ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	rows, err := g.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list documents: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: list documents: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list documents: %w", err)
	}
	return out, nil
}

// UpdateDocument applies a partial update: nil fields keep their current
// value, metadata is shallow-merged over the existing entries, and the
// version is incremented. Returns the updated document, or ErrNotFound.
func (g *Gateway) UpdateDocument(ctx context.Context, id string, upd DocumentUpdate) (*Document, error) {
	doc, err := g.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Title != nil {
		doc.Title = *upd.Title
	}
	if upd.Content != nil {
		doc.Content = *upd.Content
	}
	if len(upd.Metadata) > 0 {
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]string, len(upd.Metadata))
		}
		for k, v := range upd.Metadata {
			doc.Metadata[k] = v
		}
	}
	doc.Version++
	doc.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	meta, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return nil, err
	}

	const q = `UPDATE documents SET title = ?, content = ?, metadata = ?, version = ?, updated_at = ?
	           WHERE id = ?`
	if _, err := g.db.ExecContext(ctx, q,
		doc.Title, doc.Content, meta, doc.Version, doc.UpdatedAt.Unix(), id); err != nil {
		return nil, fmt.Errorf("storage: update document: %w", err)
	}
	return doc, nil
}

// DeleteDocument removes a document and all of its chunks. It reports
// whether a document was actually deleted.
func (g *Gateway) DeleteDocument(ctx context.Context, id string) (bool, error) {
	if _, err := g.DeleteDocumentChunks(ctx, id); err != nil {
		return false, err
	}

	res, err := g.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("storage: delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: delete document: %w", err)
	}
	return n > 0, nil
}

// StoreChunks persists the chunks for a document in insert batches, then
// mirrors them into the vector index when one is configured. Chunk IDs
// and indexes are assigned; document_id, chunk_index, and title are
// injected into each chunk's metadata.
func (g *Gateway) StoreChunks(ctx context.Context, doc *Document, chunks []Chunk) error {
	if err := validateChunks(chunks); err != nil {
		return err
	}

	for i := range chunks {
		if chunks[i].ID == "" {
			chunks[i].ID = uuid.NewString()
		}
		chunks[i].DocumentID = doc.ID
		chunks[i].Index = i
		if chunks[i].Metadata == nil {
			chunks[i].Metadata = make(map[string]string, 3)
		}
		chunks[i].Metadata["document_id"] = doc.ID
		chunks[i].Metadata["chunk_index"] = fmt.Sprintf("%d", i)
		chunks[i].Metadata["title"] = doc.Title
	}

	for start := 0; start < len(chunks); start += chunkInsertBatch {
		end := min(start+chunkInsertBatch, len(chunks))
		if err := g.insertChunkBatch(ctx, chunks[start:end]); err != nil {
			return err
		}
	}

	if g.index != nil {
		if err := g.index.Upsert(ctx, chunks); err != nil {
			return fmt.Errorf("storage: index chunks: %w", err)
		}
	}

	g.log.Debug("stored chunks",
		slog.String("document_id", doc.ID),
		slog.Int("count", len(chunks)),
	)
	return nil
}

// insertChunkBatch writes one batch of chunk rows inside a transaction.
func (g *Gateway) insertChunkBatch(ctx context.Context, chunks []Chunk) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: store chunks: begin: %w", err)
	}
	defer tx.Rollback()

	const q = `INSERT INTO chunks (id, document_id, chunk_index, content, embedding, metadata)
	           VALUES (?, ?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("storage: store chunks: prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		meta, err := marshalMetadata(c.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.DocumentID, c.Index, c.Content, encodeVector(c.Embedding), meta); err != nil {
			return fmt.Errorf("storage: store chunk %d: %w", c.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: store chunks: commit: %w", err)
	}
	return nil
}

// GetDocumentChunks returns a document's chunks ordered by index.
func (g *Gateway) GetDocumentChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	const q = `SELECT id, document_id, chunk_index, content, embedding, metadata
	           FROM chunks WHERE document_id = ? ORDER BY chunk_index`
	rows, err := g.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, fmt.Errorf("storage: get chunks: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: get chunks: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: get chunks: %w", err)
	}
	return out, nil
}

// DeleteDocumentChunks removes all chunks for a document from SQLite and
// the vector index. It returns the number of rows removed.
func (g *Gateway) DeleteDocumentChunks(ctx context.Context, documentID string) (int, error) {
	res, err := g.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return 0, fmt.Errorf("storage: delete chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: delete chunks: %w", err)
	}

	if g.index != nil {
		if err := g.index.DeleteDocument(ctx, documentID); err != nil {
			return int(n), fmt.Errorf("storage: delete indexed chunks: %w", err)
		}
	}
	return int(n), nil
}

// StoreDocumentWithChunks creates the document and stores its chunks as
// one logical operation. If chunk storage fails, the document (and any
// chunks already written) are removed so no orphaned document remains.
func (g *Gateway) StoreDocumentWithChunks(ctx context.Context, doc *Document, chunks []Chunk) error {
	if err := g.CreateDocument(ctx, doc); err != nil {
		return err
	}

	if err := g.StoreChunks(ctx, doc, chunks); err != nil {
		// Compensate even when the surrounding context was cancelled.
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if _, derr := g.DeleteDocument(cleanupCtx, doc.ID); derr != nil {
			g.log.Error("failed to roll back document after chunk store failure",
				slog.String("document_id", doc.ID),
				slog.String("error", derr.Error()),
			)
			return errors.Join(err, derr)
		}
		g.log.Warn("rolled back document after chunk store failure",
			slog.String("document_id", doc.ID),
		)
		return err
	}
	return nil
}

// ReplaceChunks deletes a document's chunks and stores the new set. If the
// new set fails to write, the document is left without chunks and a
// DegradedError is returned so the caller can re-ingest.
func (g *Gateway) ReplaceChunks(ctx context.Context, doc *Document, chunks []Chunk) error {
	if err := validateChunks(chunks); err != nil {
		return err
	}

	if _, err := g.DeleteDocumentChunks(ctx, doc.ID); err != nil {
		return err
	}
	if err := g.StoreChunks(ctx, doc, chunks); err != nil {
		g.log.Error("document left without chunks after failed replace",
			slog.String("document_id", doc.ID),
			slog.String("error", err.Error()),
		)
		return &DegradedError{DocumentID: doc.ID, Err: err}
	}
	return nil
}

// UpdateDocumentWithChunks applies a document update and replaces its
// chunks with the new set. Returns the updated document.
func (g *Gateway) UpdateDocumentWithChunks(ctx context.Context, id string, upd DocumentUpdate, chunks []Chunk) (*Document, error) {
	doc, err := g.UpdateDocument(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	if err := g.ReplaceChunks(ctx, doc, chunks); err != nil {
		return nil, err
	}
	return doc, nil
}

// Search returns the chunks most similar to the query embedding, ordered
// by descending similarity. Only matches at or above threshold are
// returned, at most limit of them. When a vector index is configured the
// candidate set comes from the index and rows are hydrated from SQLite;
// otherwise every stored vector is scanned.
func (g *Gateway) Search(ctx context.Context, embedding []float32, limit int, threshold float32) ([]Match, error) {
	if len(embedding) == 0 {
		return nil, &ValidationError{Reason: "query embedding is empty"}
	}
	if limit <= 0 {
		return nil, nil
	}

	if g.index != nil {
		return g.searchIndexed(ctx, embedding, limit, threshold)
	}
	return g.searchScan(ctx, embedding, limit, threshold)
}

// searchIndexed queries the vector index and hydrates the matching rows.
func (g *Gateway) searchIndexed(ctx context.Context, embedding []float32, limit int, threshold float32) ([]Match, error) {
	scored, err := g.index.Search(ctx, embedding, limit, threshold)
	if err != nil {
		return nil, fmt.Errorf("storage: index search: %w", err)
	}
	if len(scored) == 0 {
		return nil, nil
	}

	ids := make([]string, len(scored))
	for i, s := range scored {
		ids[i] = s.ID
	}
	placeholders := strings.Repeat("?,", len(ids))
	q := `SELECT id, document_id, chunk_index, content, embedding, metadata
	      FROM chunks WHERE id IN (` + placeholders[:len(placeholders)-1] + `)`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := g.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: hydrate matches: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: hydrate matches: %w", err)
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: hydrate matches: %w", err)
	}

	out := make([]Match, 0, len(scored))
	for _, s := range scored {
		c, ok := byID[s.ID]
		if !ok {
			// The index briefly lags SQLite deletes; skip stale points.
			continue
		}
		out = append(out, Match{Chunk: c, Similarity: s.Score})
	}
	return out, nil
}

// searchScan computes cosine similarity against every stored vector.
func (g *Gateway) searchScan(ctx context.Context, embedding []float32, limit int, threshold float32) ([]Match, error) {
	const q = `SELECT id, document_id, chunk_index, content, embedding, metadata
	           FROM chunks ORDER BY document_id, chunk_index`
	rows, err := g.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("storage: search: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: search: %w", err)
		}
		sim := cosineSimilarity(embedding, c.Embedding)
		if sim >= threshold {
			out = append(out, Match{Chunk: c, Similarity: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: search: %w", err)
	}

	// Stable sort keeps document/index order among equal scores.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// validateChunks rejects chunk sets with missing or inconsistent embeddings.
func validateChunks(chunks []Chunk) error {
	if len(chunks) == 0 {
		return &ValidationError{Reason: "no chunks to store"}
	}
	dims := len(chunks[0].Embedding)
	if dims == 0 {
		return &ValidationError{Reason: "chunk 0 has no embedding"}
	}
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			return &ValidationError{Reason: fmt.Sprintf("chunk %d has no embedding", i)}
		}
		if len(c.Embedding) != dims {
			return &ValidationError{Reason: fmt.Sprintf(
				"chunk %d embedding has %d dimensions, chunk 0 has %d", i, len(c.Embedding), dims)}
		}
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

// scanDocument reads one document row.
func scanDocument(s scanner) (*Document, error) {
	var doc Document
	var meta string
	var created, updated int64
	if err := s.Scan(&doc.ID, &doc.Title, &doc.Content, &meta, &doc.Version, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	doc.CreatedAt = time.Unix(created, 0).UTC()
	doc.UpdatedAt = time.Unix(updated, 0).UTC()
	return &doc, nil
}

// scanChunk reads one chunk row.
func scanChunk(s scanner) (Chunk, error) {
	var c Chunk
	var meta string
	var blob []byte
	if err := s.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Content, &blob, &meta); err != nil {
		return Chunk{}, err
	}
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return Chunk{}, fmt.Errorf("decode metadata: %w", err)
	}
	c.Embedding = decodeVector(blob)
	return c, nil
}

// marshalMetadata encodes metadata as JSON, mapping nil to "{}".
func marshalMetadata(m map[string]string) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("storage: encode metadata: %w", err)
	}
	return string(b), nil
}

// encodeVector packs a float32 slice as little-endian bytes.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks a little-endian byte blob into a float32 slice.
func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0
// when the lengths differ or either vector is zero.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
