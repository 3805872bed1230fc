// Package vectorstore implements the persistent vector store (C4) and its
// HNSW ANN index (C5): durable, transactional storage of Chunks and their
// Vectors keyed by chunk id, plus the checksum-tracking tables (C3) that
// share the same relational store file per spec section 6's persisted state
// layout.
package vectorstore

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/korrel8/semcode/internal/checksum"
	"github.com/korrel8/semcode/internal/chunkmodel"
	"github.com/korrel8/semcode/internal/semerr"
)

// Result is a scored search hit.
type Result struct {
	Chunk chunkmodel.Chunk
	Score float32
}

// Stats summarizes the vector store's current contents.
type Stats struct {
	ChunkCount  int
	VectorCount int
	Languages   map[string]int
}

// Store is a single-writer, multi-reader persistent vector store: one
// SQLite relational file (chunks, vectors, file_index, deleted_files,
// index_metadata) plus the companion HNSW graph and mapping files, following
// the same atomic temp-file-and-rename discipline the teacher uses for its
// own HNSW persistence.
type Store struct {
	mu   sync.RWMutex
	db   *sql.DB
	hnsw *HNSWIndex
	lock *flock.Flock

	dir       string
	dimension int
	closed    bool
}

const dbFileName = "store.db"
const hnswFileName = "vectors.hnsw"
const hnswMapFileName = "vectors.map"
const lockFileName = "store.lock"

// Open opens (creating if necessary) the relational store and HNSW index
// rooted at dir. It acquires an exclusive process lock for the duration of
// the Store's lifetime, enforcing the single-writer-at-a-time discipline of
// spec section 5.
func Open(dir string, hnswCfg HNSWConfig) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, semerr.Wrap(semerr.ErrCodeFilePermission, err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	if !locked {
		return nil, semerr.New(semerr.ErrCodeStoreLocked, fmt.Sprintf("vector store at %s is already open for writing", dir), nil)
	}

	dbPath := filepath.Join(dir, dbFileName)
	if err := validateIntegrity(dbPath); err != nil {
		slog.Warn("vector store corrupted, clearing", slog.String("path", dbPath), slog.String("error", err.Error()))
		_ = os.Remove(dbPath)
		_ = os.Remove(dbPath + "-wal")
		_ = os.Remove(dbPath + "-shm")
	}

	dsn := dbPath + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		lock.Unlock()
		return nil, semerr.Wrap(semerr.ErrCodeFileNotFound, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			lock.Unlock()
			return nil, semerr.Wrap(semerr.ErrCodeInternal, err)
		}
	}

	if err := initSchema(db); err != nil {
		db.Close()
		lock.Unlock()
		return nil, semerr.Wrap(semerr.ErrCodeCorruptIndex, err)
	}

	indexPath := filepath.Join(dir, hnswFileName)
	mapPath := filepath.Join(dir, hnswMapFileName)

	var hnswIdx *HNSWIndex
	if storedDim, derr := ReadHNSWDimension(mapPath); derr == nil && storedDim != 0 {
		if storedDim != hnswCfg.Dimension {
			db.Close()
			lock.Unlock()
			return nil, semerr.New(semerr.ErrCodeDimensionMismatch,
				fmt.Sprintf("store dimension %d does not match configured dimension %d", storedDim, hnswCfg.Dimension), nil)
		}
		loaded, lerr := LoadHNSWIndex(indexPath, mapPath, hnswCfg)
		if lerr != nil {
			slog.Warn("hnsw index corrupted, rebuilding empty graph", slog.String("error", lerr.Error()))
			hnswIdx = NewHNSWIndex(hnswCfg)
		} else {
			hnswIdx = loaded
		}
	} else {
		hnswIdx = NewHNSWIndex(hnswCfg)
	}

	return &Store{
		db:        db,
		hnsw:      hnswIdx,
		lock:      lock,
		dir:       dir,
		dimension: hnswCfg.Dimension,
	}, nil
}

func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return err
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity_check returned %q", result)
	}
	return nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		file_path TEXT NOT NULL,
		language TEXT NOT NULL,
		start_line INTEGER NOT NULL,
		end_line INTEGER NOT NULL,
		content TEXT NOT NULL,
		signature TEXT,
		kind TEXT NOT NULL,
		symbols TEXT NOT NULL,
		dependencies TEXT NOT NULL,
		last_modified INTEGER NOT NULL,
		exports TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_file_path ON chunks(file_path);

	CREATE TABLE IF NOT EXISTS vectors (
		chunk_id TEXT PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
		embedding BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS file_index (
		path TEXT PRIMARY KEY,
		checksum TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		last_modified INTEGER NOT NULL,
		last_indexed INTEGER NOT NULL,
		chunk_count INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS deleted_files (
		path TEXT PRIMARY KEY,
		deleted_at INTEGER NOT NULL,
		cleaned_up INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS index_metadata (
		index_id TEXT PRIMARY KEY,
		last_updated INTEGER NOT NULL,
		files_indexed INTEGER NOT NULL,
		chunks_indexed INTEGER NOT NULL,
		schema_version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS usage_counts (
		chunk_id TEXT PRIMARY KEY,
		ema REAL NOT NULL DEFAULT 0
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Insert stores one chunk and its optional vector transactionally. Dimension
// of vector, if present, must equal the store's fixed dimension.
func (s *Store) Insert(c chunkmodel.Chunk, vector []float32) error {
	return s.InsertBatch([]chunkmodel.Chunk{c}, [][]float32{vector})
}

// InsertBatch inserts chunks (and optional per-chunk vectors) atomically:
// either all rows become visible or none do.
func (s *Store) InsertBatch(chunks []chunkmodel.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(vectors) != 0 && len(vectors) != len(chunks) {
		return semerr.New(semerr.ErrCodeInvalidInput, "vectors length must match chunks length or be empty", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return semerr.New(semerr.ErrCodeInternal, "store is closed", nil)
	}

	for i := range chunks {
		if vectors != nil && vectors[i] != nil && len(vectors[i]) != s.dimension {
			return semerr.New(semerr.ErrCodeDimensionMismatch,
				fmt.Sprintf("expected dimension %d, got %d", s.dimension, len(vectors[i])), nil)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	defer tx.Rollback()

	for i, c := range chunks {
		symbols, _ := json.Marshal(c.Symbols)
		deps, _ := json.Marshal(c.Dependencies)
		exports, _ := json.Marshal(c.Metadata.Exports)

		_, err := tx.Exec(`INSERT OR REPLACE INTO chunks
			(id, file_path, language, start_line, end_line, content, signature, kind, symbols, dependencies, last_modified, exports)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.FilePath, c.Language, c.StartLine, c.EndLine, c.Content, c.Signature, string(c.Kind),
			string(symbols), string(deps), c.Metadata.LastModified.UnixMilli(), string(exports))
		if err != nil {
			return semerr.Wrap(semerr.ErrCodeInternal, err)
		}

		if vectors != nil && vectors[i] != nil {
			blob := encodeVector(vectors[i])
			if _, err := tx.Exec(`INSERT OR REPLACE INTO vectors (chunk_id, embedding) VALUES (?, ?)`, c.ID, blob); err != nil {
				return semerr.Wrap(semerr.ErrCodeInternal, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return semerr.Wrap(semerr.ErrCodeInternal, err)
	}

	// HNSW mutation happens after the relational commit succeeds so a
	// crash between the two leaves the graph the smaller of the two views;
	// Repair reconciles any resulting gap (invariant I3).
	if vectors != nil {
		for i, c := range chunks {
			if vectors[i] == nil {
				continue
			}
			if err := s.hnsw.Add(c.ID, vectors[i]); err != nil {
				if semerr.Code(err) != semerr.ErrCodeInvalidInput {
					return err
				}
				// Duplicate id: content replaced in place (delete-then-add).
				s.hnsw.Remove(c.ID)
				if err := s.hnsw.Add(c.ID, vectors[i]); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// Delete removes a chunk, its vector, and its HNSW mapping. Idempotent.
func (s *Store) Delete(chunkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return semerr.New(semerr.ErrCodeInternal, "store is closed", nil)
	}
	if _, err := s.db.Exec(`DELETE FROM chunks WHERE id = ?`, chunkID); err != nil {
		return semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	s.hnsw.Remove(chunkID)
	return nil
}

// DeleteByFile removes all chunks of path in a single transaction,
// implementing the "remove-before-insert" half of invariant I6.
func (s *Store) DeleteByFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return semerr.New(semerr.ErrCodeInternal, "store is closed", nil)
	}

	rows, err := s.db.Query(`SELECT id FROM chunks WHERE file_path = ?`, path)
	if err != nil {
		return semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return semerr.Wrap(semerr.ErrCodeInternal, err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	tx, err := s.db.Begin()
	if err != nil {
		return semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	if _, err := tx.Exec(`DELETE FROM chunks WHERE file_path = ?`, path); err != nil {
		tx.Rollback()
		return semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	if err := tx.Commit(); err != nil {
		return semerr.Wrap(semerr.ErrCodeInternal, err)
	}

	for _, id := range ids {
		s.hnsw.Remove(id)
	}
	return nil
}

// Get fetches a single chunk by id, or nil if absent.
func (s *Store) Get(chunkID string) (*chunkmodel.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT id, file_path, language, start_line, end_line, content, signature, kind, symbols, dependencies, last_modified, exports FROM chunks WHERE id = ?`, chunkID)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	return c, nil
}

// GetAll returns every chunk currently stored.
func (s *Store) GetAll() ([]chunkmodel.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, file_path, language, start_line, end_line, content, signature, kind, symbols, dependencies, last_modified, exports FROM chunks`)
	if err != nil {
		return nil, semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	defer rows.Close()

	var out []chunkmodel.Chunk
	for rows.Next() {
		c, err := scanChunkRows(rows)
		if err != nil {
			return nil, semerr.Wrap(semerr.ErrCodeInternal, err)
		}
		out = append(out, *c)
	}
	return out, nil
}

// Search runs cosine-similarity ANN search via the HNSW index and resolves
// hits back to full chunks, filtering by min_score before returning.
// Searching an empty store returns an empty list and never fails.
func (s *Store) Search(queryVector []float32, k int, minScore float32) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, semerr.New(semerr.ErrCodeInternal, "store is closed", nil)
	}

	hits, err := s.hnsw.Search(queryVector, k)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < minScore {
			continue
		}
		row := s.db.QueryRow(`SELECT id, file_path, language, start_line, end_line, content, signature, kind, symbols, dependencies, last_modified, exports FROM chunks WHERE id = ?`, hit.ID)
		c, err := scanChunk(row)
		if err == sql.ErrNoRows {
			continue // invariant I3 gap; Repair() reconciles this asynchronously
		}
		if err != nil {
			return nil, semerr.Wrap(semerr.ErrCodeInternal, err)
		}
		results = append(results, Result{Chunk: *c, Score: hit.Score})
	}
	return results, nil
}

// Clear wipes all chunks, vectors, and the HNSW graph.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM chunks; DELETE FROM vectors; DELETE FROM file_index; DELETE FROM deleted_files; DELETE FROM index_metadata; DELETE FROM usage_counts;`); err != nil {
		return semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	s.hnsw = NewHNSWIndex(HNSWConfig{Dimension: s.dimension})
	return nil
}

// StoreStats reports aggregate counts used by the stats() callable surface.
func (s *Store) StoreStats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chunkCount int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM chunks`).Scan(&chunkCount); err != nil {
		return Stats{}, semerr.Wrap(semerr.ErrCodeInternal, err)
	}

	rows, err := s.db.Query(`SELECT language, COUNT(*) FROM chunks GROUP BY language`)
	if err != nil {
		return Stats{}, semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	defer rows.Close()

	languages := make(map[string]int)
	for rows.Next() {
		var lang string
		var count int
		if err := rows.Scan(&lang, &count); err != nil {
			return Stats{}, semerr.Wrap(semerr.ErrCodeInternal, err)
		}
		languages[lang] = count
	}

	return Stats{
		ChunkCount:  chunkCount,
		VectorCount: s.hnsw.Count(),
		Languages:   languages,
	}, nil
}

// Persist saves the HNSW graph to disk; the relational store is already
// durable via SQLite's own WAL checkpointing.
func (s *Store) Persist() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	indexPath := filepath.Join(s.dir, hnswFileName)
	mapPath := filepath.Join(s.dir, hnswMapFileName)
	return s.hnsw.Save(indexPath, mapPath)
}

// Close flushes the HNSW graph, closes the database, and releases the
// single-writer process lock.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	indexPath := filepath.Join(s.dir, hnswFileName)
	mapPath := filepath.Join(s.dir, hnswMapFileName)
	if err := s.hnsw.Save(indexPath, mapPath); err != nil {
		slog.Warn("failed to persist hnsw graph on close", slog.String("error", err.Error()))
	}
	if err := s.hnsw.Close(); err != nil {
		slog.Warn("failed to close hnsw graph", slog.String("error", err.Error()))
	}
	if err := s.db.Close(); err != nil {
		return semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	return s.lock.Unlock()
}

func encodeVector(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		b[i*4] = byte(bits)
		b[i*4+1] = byte(bits >> 8)
		b[i*4+2] = byte(bits >> 16)
		b[i*4+3] = byte(bits >> 24)
	}
	return b
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		v[i] = math.Float32frombits(bits)
	}
	return v
}

func scanChunk(row *sql.Row) (*chunkmodel.Chunk, error) {
	var c chunkmodel.Chunk
	var kind, symbolsJSON, depsJSON, exportsJSON string
	var lastModified int64
	if err := row.Scan(&c.ID, &c.FilePath, &c.Language, &c.StartLine, &c.EndLine, &c.Content, &c.Signature, &kind, &symbolsJSON, &depsJSON, &lastModified, &exportsJSON); err != nil {
		return nil, err
	}
	c.Kind = chunkmodel.Kind(kind)
	json.Unmarshal([]byte(symbolsJSON), &c.Symbols)
	json.Unmarshal([]byte(depsJSON), &c.Dependencies)
	json.Unmarshal([]byte(exportsJSON), &c.Metadata.Exports)
	c.Metadata.LastModified = time.UnixMilli(lastModified)
	return &c, nil
}

func scanChunkRows(rows *sql.Rows) (*chunkmodel.Chunk, error) {
	var c chunkmodel.Chunk
	var kind, symbolsJSON, depsJSON, exportsJSON string
	var lastModified int64
	if err := rows.Scan(&c.ID, &c.FilePath, &c.Language, &c.StartLine, &c.EndLine, &c.Content, &c.Signature, &kind, &symbolsJSON, &depsJSON, &lastModified, &exportsJSON); err != nil {
		return nil, err
	}
	c.Kind = chunkmodel.Kind(kind)
	json.Unmarshal([]byte(symbolsJSON), &c.Symbols)
	json.Unmarshal([]byte(depsJSON), &c.Dependencies)
	json.Unmarshal([]byte(exportsJSON), &c.Metadata.Exports)
	c.Metadata.LastModified = time.UnixMilli(lastModified)
	return &c, nil
}

// ---- checksum store (C3) operations, sharing this relational store file ----

// GetFileRecord returns the FileRecord for path, or nil if not indexed.
func (s *Store) GetFileRecord(path string) (*checksum.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT path, checksum, file_size, last_modified, last_indexed, chunk_count FROM file_index WHERE path = ?`, path)
	var r checksum.FileRecord
	if err := row.Scan(&r.Path, &r.Checksum, &r.FileSize, &r.LastModified, &r.LastIndexed, &r.ChunkCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	return &r, nil
}

// PutFileRecord upserts a FileRecord.
func (s *Store) PutFileRecord(r checksum.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO file_index (path, checksum, file_size, last_modified, last_indexed, chunk_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET checksum=excluded.checksum, file_size=excluded.file_size,
			last_modified=excluded.last_modified, last_indexed=excluded.last_indexed, chunk_count=excluded.chunk_count`,
		r.Path, r.Checksum, r.FileSize, r.LastModified, r.LastIndexed, r.ChunkCount)
	if err != nil {
		return semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	return nil
}

// AllPaths returns every path currently in file_index.
func (s *Store) AllPaths() (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT path FROM file_index`)
	if err != nil {
		return nil, semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, semerr.Wrap(semerr.ErrCodeInternal, err)
		}
		out[p] = true
	}
	return out, nil
}

// DetectDeleted returns paths present in file_index but absent from currentPaths.
func (s *Store) DetectDeleted(currentPaths map[string]bool) ([]string, error) {
	all, err := s.AllPaths()
	if err != nil {
		return nil, err
	}
	var deleted []string
	for p := range all {
		if !currentPaths[p] {
			deleted = append(deleted, p)
		}
	}
	sort.Strings(deleted)
	return deleted, nil
}

// MarkDeleted records (upserts, one row per path) a DeletedFileRecord for
// path and removes its FileRecord.
func (s *Store) MarkDeleted(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`INSERT INTO deleted_files (path, deleted_at, cleaned_up) VALUES (?, ?, 0)
		ON CONFLICT(path) DO UPDATE SET deleted_at=excluded.deleted_at, cleaned_up=0`, path, time.Now().UnixMilli()); err != nil {
		return semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	if _, err := s.db.Exec(`DELETE FROM file_index WHERE path = ?`, path); err != nil {
		return semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	return nil
}

// MarkCleaned marks path's DeletedFileRecord as cleaned_up once its chunks
// and vectors have been removed.
func (s *Store) MarkCleaned(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`UPDATE deleted_files SET cleaned_up = 1 WHERE path = ?`, path); err != nil {
		return semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	return nil
}

// ChecksumStats reports file/chunk/pending-cleanup counts.
func (s *Store) ChecksumStats() (checksum.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var totalFiles, totalChunks, pending int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM file_index`).Scan(&totalFiles); err != nil {
		return checksum.Stats{}, semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	if err := s.db.QueryRow(`SELECT COALESCE(SUM(chunk_count),0) FROM file_index`).Scan(&totalChunks); err != nil {
		return checksum.Stats{}, semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM deleted_files WHERE cleaned_up = 0`).Scan(&pending); err != nil {
		return checksum.Stats{}, semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	return checksum.Stats{TotalFiles: totalFiles, TotalChunks: totalChunks, PendingCleanup: pending}, nil
}

// IndexMetadata is the single persisted row describing this store's index
// run history.
type IndexMetadata struct {
	IndexID       string
	LastUpdated   time.Time
	FilesIndexed  int
	ChunksIndexed int
	SchemaVersion int
}

// GetIndexMetadata returns the current IndexMetadata row, or nil if the
// store has never completed an index run.
func (s *Store) GetIndexMetadata() (*IndexMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT index_id, last_updated, files_indexed, chunks_indexed, schema_version FROM index_metadata LIMIT 1`)
	var m IndexMetadata
	var lastUpdated int64
	if err := row.Scan(&m.IndexID, &lastUpdated, &m.FilesIndexed, &m.ChunksIndexed, &m.SchemaVersion); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	m.LastUpdated = time.UnixMilli(lastUpdated)
	return &m, nil
}

// PutIndexMetadata writes the single current IndexMetadata row.
func (s *Store) PutIndexMetadata(indexID string, filesIndexed, chunksIndexed, schemaVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO index_metadata (index_id, last_updated, files_indexed, chunks_indexed, schema_version)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(index_id) DO UPDATE SET last_updated=excluded.last_updated, files_indexed=excluded.files_indexed,
			chunks_indexed=excluded.chunks_indexed, schema_version=excluded.schema_version`,
		indexID, time.Now().UnixMilli(), filesIndexed, chunksIndexed, schemaVersion)
	if err != nil {
		return semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	return nil
}

// backupManifest records the checksum of each copied file so Restore can
// verify nothing was truncated in transit.
type backupManifest struct {
	Files map[string]string `json:"files"`
}

const manifestFileName = "manifest.json"

// Backup copies the relational store and HNSW pair into destDir, along with
// a SHA-256 manifest, using the same atomic temp-file-and-rename discipline
// as HNSWIndex.Save so a crash mid-backup never leaves a half-written file
// where Restore would look for a complete one.
func (s *Store) Backup(destDir string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.hnsw.Save(filepath.Join(s.dir, hnswFileName), filepath.Join(s.dir, hnswMapFileName)); err != nil {
		return err
	}
	// Fold the WAL into store.db so the copied file holds every committed row.
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return semerr.Wrap(semerr.ErrCodeBackupFailed, err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return semerr.Wrap(semerr.ErrCodeFilePermission, err)
	}

	manifest := backupManifest{Files: map[string]string{}}
	for _, name := range []string{dbFileName, hnswFileName, hnswMapFileName} {
		src := filepath.Join(s.dir, name)
		data, err := os.ReadFile(src)
		if err != nil {
			if os.IsNotExist(err) && name != dbFileName {
				continue
			}
			return semerr.Wrap(semerr.ErrCodeInternal, err)
		}
		sum := sha256.Sum256(data)
		manifest.Files[name] = hex.EncodeToString(sum[:])
		if err := atomicWriteFile(filepath.Join(destDir, name), data); err != nil {
			return err
		}
	}

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	return atomicWriteFile(filepath.Join(destDir, manifestFileName), manifestJSON)
}

// Restore copies a Backup snapshot from backupDir into destDir, verifying
// each file against the backup's manifest. destDir must not already contain
// an open store; callers re-open it with Open after Restore succeeds.
func Restore(backupDir, destDir string) error {
	manifestData, err := os.ReadFile(filepath.Join(backupDir, manifestFileName))
	if err != nil {
		return semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	var manifest backupManifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return semerr.Wrap(semerr.ErrCodeFilePermission, err)
	}
	for name, wantSum := range manifest.Files {
		data, err := os.ReadFile(filepath.Join(backupDir, name))
		if err != nil {
			return semerr.Wrap(semerr.ErrCodeInternal, err)
		}
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != wantSum {
			return semerr.New(semerr.ErrCodeInternal, fmt.Sprintf("backup file %s failed checksum verification", name), nil)
		}
		if err := atomicWriteFile(filepath.Join(destDir, name), data); err != nil {
			return err
		}
	}
	return nil
}

func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	return nil
}

// RepairReport summarizes the orphaned mappings Repair found and fixed.
type RepairReport struct {
	OrphanedInHNSW   []string // ids present in the HNSW graph with no chunk row
	MissingFromHNSW  []string // chunk ids with a vector but absent from the HNSW graph
}

// Repair re-syncs the HNSW index against the chunks/vectors tables,
// enforcing invariant I3: every id present in the HNSW index must resolve to
// a stored Vector. Orphaned HNSW entries (no backing chunk) are removed;
// chunks with a stored vector but no HNSW entry are re-added.
func (s *Store) Repair() (RepairReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunkIDs := map[string]bool{}
	rows, err := s.db.Query(`SELECT id FROM chunks`)
	if err != nil {
		return RepairReport{}, semerr.Wrap(semerr.ErrCodeInternal, err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return RepairReport{}, semerr.Wrap(semerr.ErrCodeInternal, err)
		}
		chunkIDs[id] = true
	}
	rows.Close()

	var report RepairReport
	for _, id := range s.hnsw.IDs() {
		if !chunkIDs[id] {
			s.hnsw.Remove(id)
			report.OrphanedInHNSW = append(report.OrphanedInHNSW, id)
		}
	}

	hnswIDs := map[string]bool{}
	for _, id := range s.hnsw.IDs() {
		hnswIDs[id] = true
	}
	for id := range chunkIDs {
		if hnswIDs[id] {
			continue
		}
		var vecBytes []byte
		err := s.db.QueryRow(`SELECT embedding FROM vectors WHERE chunk_id = ?`, id).Scan(&vecBytes)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return report, semerr.Wrap(semerr.ErrCodeInternal, err)
		}
		if err := s.hnsw.Add(id, decodeVector(vecBytes)); err != nil {
			return report, semerr.Wrap(semerr.ErrCodeInternal, err)
		}
		report.MissingFromHNSW = append(report.MissingFromHNSW, id)
	}

	sort.Strings(report.OrphanedInHNSW)
	sort.Strings(report.MissingFromHNSW)
	return report, nil
}
