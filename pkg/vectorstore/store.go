// Package vectorstore is the embedded vector database backing prototypes,
// templates and logged documents. Collections live in one SQLite file;
// embeddings are stored as little-endian float32 blobs and k-NN queries do a
// brute-force cosine scan, which comfortably covers the per-OS collection
// sizes this pipeline produces.
package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/loglens/loglens/pkg/embedding"
)

// Document is one row of a collection: text plus its vector and a free-form
// metadata object.
type Document struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]any
}

// Match is a query result with its cosine distance (0 identical, 2 opposite).
type Match struct {
	Document
	Distance float64
}

// Store wraps the SQLite file and the embedding provider that fills in
// vectors for documents upserted without one.
type Store struct {
	db       *sql.DB
	provider embedding.Provider
}

// Open opens (creating if needed) the store at path and applies pending
// schema migrations. The provider must not be nil.
func Open(ctx context.Context, path string, provider embedding.Provider) (*Store, error) {
	if provider == nil {
		panic("vectorstore.Open: provider is required")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	// SQLite allows one writer; a single connection serializes access instead
	// of surfacing SQLITE_BUSY to callers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping vector store: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate vector store: %w", err)
	}

	return &Store{db: db, provider: provider}, nil
}

// Provider returns the embedding provider the store was opened with.
func (s *Store) Provider() embedding.Provider {
	return s.provider
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts or replaces documents in a collection. Documents without an
// embedding are embedded in one batch before writing.
func (s *Store) Upsert(ctx context.Context, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	var missing []int
	var texts []string
	for i, d := range docs {
		if len(d.Embedding) == 0 {
			missing = append(missing, i)
			texts = append(texts, d.Text)
		}
	}
	if len(missing) > 0 {
		vecs, err := s.provider.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed %d documents: %w", len(texts), err)
		}
		for j, i := range missing {
			docs[i].Embedding = vecs[j]
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (collection, id, document, embedding, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			document = excluded.document,
			embedding = excluded.embedding,
			metadata = excluded.metadata`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, d := range docs {
		meta, err := encodeMetadata(d.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", d.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, collection, d.ID, d.Text, encodeVector(d.Embedding), meta); err != nil {
			return fmt.Errorf("upsert %s: %w", d.ID, err)
		}
	}

	return tx.Commit()
}

// Get fetches documents by id. Missing ids are silently absent from the
// result.
func (s *Store) Get(ctx context.Context, collection string, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document, embedding, metadata FROM documents
		 WHERE collection = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanDocuments(rows)
}

// GetWhere fetches up to limit documents whose metadata matches every
// key/value pair in where. A nil/empty where returns the most recent
// documents. Keys are matched with json_extract on the metadata object.
func (s *Store) GetWhere(ctx context.Context, collection string, where map[string]any, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, document, embedding, metadata FROM documents WHERE collection = ?`
	args := []any{collection}

	// Sorted keys keep the generated SQL deterministic.
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		query += fmt.Sprintf(" AND json_extract(metadata, '$.%s') = ?", k)
		args = append(args, where[k])
	}

	query += " ORDER BY rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get documents where: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanDocuments(rows)
}

// Query embeds nothing: it takes a ready vector and returns the k nearest
// documents by cosine distance, ascending. Rows whose stored vector has a
// different dimension are skipped.
func (s *Store) Query(ctx context.Context, collection string, vector []float32, k int) ([]Match, error) {
	if k <= 0 {
		k = 1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document, embedding, metadata FROM documents WHERE collection = ?`, collection)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(docs))
	for _, d := range docs {
		if len(d.Embedding) != len(vector) {
			continue
		}
		matches = append(matches, Match{Document: d, Distance: CosineDistance(vector, d.Embedding)})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// QueryText embeds the text with the store's provider and queries with the
// resulting vector.
func (s *Store) QueryText(ctx context.Context, collection, text string, k int) ([]Match, error) {
	vecs, err := s.provider.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query text: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query text: got %d vectors", len(vecs))
	}
	return s.Query(ctx, collection, vecs[0], k)
}

// PruneOlderThan deletes documents created before cutoff and returns the
// number of rows removed. Re-upserting a document keeps its original
// created_at, so age counts from first sight, not last touch.
func (s *Store) PruneOlderThan(ctx context.Context, collection string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND created_at < ?`, collection, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune documents: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of documents in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// UpdateMetadata merges patch into the stored metadata of one document.
// Unknown ids return sql.ErrNoRows.
func (s *Store) UpdateMetadata(ctx context.Context, collection, id string, patch map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin metadata update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT metadata FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&raw)
	if err != nil {
		return err
	}

	meta := decodeMetadata(raw)
	for k, v := range patch {
		meta[k] = v
	}
	encoded, err := encodeMetadata(meta)
	if err != nil {
		return fmt.Errorf("encode merged metadata: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET metadata = ? WHERE collection = ? AND id = ?`, encoded, collection, id); err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}

	return tx.Commit()
}

// CosineDistance is 1 - cosine similarity. For the unit vectors this system
// stores, the range is [0, 2].
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var (
			d    Document
			blob []byte
			meta string
		)
		if err := rows.Scan(&d.ID, &d.Text, &blob, &meta); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", d.ID, err)
		}
		d.Embedding = vec
		d.Metadata = decodeMetadata(meta)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

func encodeMetadata(meta map[string]any) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeMetadata never fails: malformed metadata degrades to an empty map.
func decodeMetadata(raw string) map[string]any {
	meta := make(map[string]any)
	if raw == "" {
		return meta
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return make(map[string]any)
	}
	return meta
}
