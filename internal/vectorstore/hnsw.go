package vectorstore

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/korrel8/semcode/internal/semerr"
)

// HNSWConfig mirrors the hnsw.* configuration options of spec section 6, all
// immutable after the index is first initialized.
type HNSWConfig struct {
	Dimension      int
	M              int
	EfConstruction int
	EfSearch       int
}

// FastPreset favors query speed over recall.
func FastPreset(dimension int) HNSWConfig {
	return HNSWConfig{Dimension: dimension, M: 12, EfConstruction: 100, EfSearch: 40}
}

// AccuratePreset favors recall over query speed.
func AccuratePreset(dimension int) HNSWConfig {
	return HNSWConfig{Dimension: dimension, M: 32, EfConstruction: 400, EfSearch: 200}
}

// HNSWResult is one (external_id, score) hit, descending by score.
type HNSWResult struct {
	ID    string
	Score float32
}

// HNSWStats reports index size and orphan counts for compaction decisions.
type HNSWStats struct {
	Count      int
	Dimension  int
	M          int
	EfSearch   int
	GraphNodes int
	Orphans    int
	SizeBytes  int64
}

// HNSWIndex is a hierarchical navigable small-world graph providing
// approximate k-nearest-neighbor search under cosine similarity (C5).
// External chunk ids are mapped to contiguous internal uint64 keys so the
// graph can use compact integer references, grounded on the teacher's
// coder/hnsw wrapper.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config HNSWConfig

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

type hnswMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  HNSWConfig
}

// NewHNSWIndex builds a fresh graph with the given configuration.
func NewHNSWIndex(cfg HNSWConfig) *HNSWIndex {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}
	if cfg.EfConstruction == 0 {
		cfg.EfConstruction = 200
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWIndex{
		graph:   graph,
		config:  cfg,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		nextKey: 0,
	}
}

// Add inserts a single vector. Fails with ErrCodeDimensionMismatch on wrong
// dimension, or a duplicate-id error if external_id is already present —
// spec section 4.5 requires add to reject duplicates rather than the
// teacher's own silent-replace semantics; callers that want replace-on-edit
// must Remove then Add (the orchestrator does this for invariant I6).
func (h *HNSWIndex) Add(externalID string, vector []float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addLocked(externalID, vector)
}

func (h *HNSWIndex) addLocked(externalID string, vector []float32) error {
	if h.closed {
		return semerr.New(semerr.ErrCodeInternal, "hnsw index is closed", nil)
	}
	if len(vector) != h.config.Dimension {
		return semerr.New(semerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("expected dimension %d, got %d", h.config.Dimension, len(vector)), nil)
	}
	if _, exists := h.idMap[externalID]; exists {
		return semerr.New(semerr.ErrCodeInvalidInput, fmt.Sprintf("duplicate external id %q", externalID), nil)
	}

	key := h.nextKey
	h.nextKey++

	vec := make([]float32, len(vector))
	copy(vec, vector)
	normalizeInPlace(vec)

	h.graph.Add(hnsw.MakeNode(key, vec))
	h.idMap[externalID] = key
	h.keyMap[key] = externalID
	return nil
}

// AddBatch inserts vectors order-independently; on any failure nothing is
// committed (atomic partial-failure rejection per spec section 4.5).
func (h *HNSWIndex) AddBatch(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return semerr.New(semerr.ErrCodeInvalidInput, "ids and vectors length mismatch", nil)
	}
	if len(ids) == 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return semerr.New(semerr.ErrCodeInternal, "hnsw index is closed", nil)
	}

	// Validate the whole batch before mutating anything.
	seen := make(map[string]bool, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != h.config.Dimension {
			return semerr.New(semerr.ErrCodeDimensionMismatch,
				fmt.Sprintf("expected dimension %d, got %d", h.config.Dimension, len(vectors[i])), nil)
		}
		if _, exists := h.idMap[id]; exists {
			return semerr.New(semerr.ErrCodeInvalidInput, fmt.Sprintf("duplicate external id %q", id), nil)
		}
		if seen[id] {
			return semerr.New(semerr.ErrCodeInvalidInput, fmt.Sprintf("duplicate external id %q in batch", id), nil)
		}
		seen[id] = true
	}

	for i, id := range ids {
		if err := h.addLocked(id, vectors[i]); err != nil {
			// Should not happen after validation above, but never leave a
			// half-applied batch.
			return err
		}
	}
	return nil
}

// Remove deletes external_id's mapping. Returns whether a node was removed.
// Uses lazy deletion (orphaning the graph node rather than calling the
// underlying library's delete) because coder/hnsw has a known bug deleting a
// graph's last remaining node; invariant I3 is repaired on the next Search by
// skipping keys with no surviving mapping.
func (h *HNSWIndex) Remove(externalID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	key, exists := h.idMap[externalID]
	if !exists {
		return false
	}
	delete(h.keyMap, key)
	delete(h.idMap, externalID)
	return true
}

// Search returns up to k nearest neighbors by cosine similarity, descending
// by score. Never exceeds Count(). An exact-match vector ranks first with
// score >= 0.99.
func (h *HNSWIndex) Search(vector []float32, k int) ([]HNSWResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return nil, semerr.New(semerr.ErrCodeInternal, "hnsw index is closed", nil)
	}
	if len(vector) != h.config.Dimension {
		return nil, semerr.New(semerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("expected dimension %d, got %d", h.config.Dimension, len(vector)), nil)
	}
	if h.graph.Len() == 0 {
		return nil, nil
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	normalizeInPlace(query)

	nodes := h.graph.Search(query, k)
	results := make([]HNSWResult, 0, len(nodes))
	for _, node := range nodes {
		id, ok := h.keyMap[node.Key]
		if !ok {
			continue // orphaned (lazily deleted) node, invariant I3 repair
		}
		distance := h.graph.Distance(query, node.Value)
		results = append(results, HNSWResult{ID: id, Score: cosineDistanceToScore(distance)})
	}
	return results, nil
}

// Count returns the number of live (non-orphaned) external ids.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idMap)
}

// IDs returns every external chunk id currently mapped into the graph.
func (h *HNSWIndex) IDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.idMap))
	for id := range h.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Stats reports index size including orphan counts for compaction decisions.
func (h *HNSWIndex) Stats() HNSWStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	graphNodes := 0
	if h.graph != nil {
		graphNodes = h.graph.Len()
	}
	return HNSWStats{
		Count:      len(h.idMap),
		Dimension:  h.config.Dimension,
		M:          h.config.M,
		EfSearch:   h.config.EfSearch,
		GraphNodes: graphNodes,
		Orphans:    graphNodes - len(h.idMap),
	}
}

// Save persists the graph and the id-mapping file atomically via
// temp-file-and-rename, matching the teacher's own HNSW persistence idiom.
func (h *HNSWIndex) Save(indexPath, mappingPath string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return semerr.New(semerr.ErrCodeInternal, "hnsw index is closed", nil)
	}

	if err := os.MkdirAll(filepath.Dir(indexPath), 0o755); err != nil {
		return semerr.Wrap(semerr.ErrCodeFilePermission, err)
	}

	tmpIndex := indexPath + ".tmp"
	f, err := os.Create(tmpIndex)
	if err != nil {
		return semerr.Wrap(semerr.ErrCodeFileNotFound, err)
	}
	if err := h.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmpIndex)
		return semerr.Wrap(semerr.ErrCodeCorruptIndex, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpIndex)
		return semerr.Wrap(semerr.ErrCodeFilePermission, err)
	}
	if err := os.Rename(tmpIndex, indexPath); err != nil {
		os.Remove(tmpIndex)
		return semerr.Wrap(semerr.ErrCodeFilePermission, err)
	}

	return h.saveMapping(mappingPath)
}

func (h *HNSWIndex) saveMapping(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return semerr.Wrap(semerr.ErrCodeFileNotFound, err)
	}
	meta := hnswMetadata{IDMap: h.idMap, NextKey: h.nextKey, Config: h.config}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		f.Close()
		os.Remove(tmp)
		return semerr.Wrap(semerr.ErrCodeCorruptIndex, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return semerr.Wrap(semerr.ErrCodeFilePermission, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return semerr.Wrap(semerr.ErrCodeFilePermission, err)
	}
	return nil
}

// LoadHNSWIndex restores a previously saved graph, validating that its
// dimension matches cfg.Dimension (invariant I4).
func LoadHNSWIndex(indexPath, mappingPath string, cfg HNSWConfig) (*HNSWIndex, error) {
	h := NewHNSWIndex(cfg)

	f, err := os.Open(mappingPath)
	if err != nil {
		return nil, semerr.Wrap(semerr.ErrCodeFileNotFound, err)
	}
	var meta hnswMetadata
	decErr := gob.NewDecoder(f).Decode(&meta)
	f.Close()
	if decErr != nil {
		return nil, semerr.Wrap(semerr.ErrCodeCorruptIndex, decErr)
	}

	if meta.Config.Dimension != cfg.Dimension {
		return nil, semerr.New(semerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("store dimension %d does not match configured dimension %d", meta.Config.Dimension, cfg.Dimension), nil)
	}

	h.idMap = meta.IDMap
	h.nextKey = meta.NextKey
	h.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range h.idMap {
		h.keyMap[key] = id
	}

	idxFile, err := os.Open(indexPath)
	if err != nil {
		return nil, semerr.Wrap(semerr.ErrCodeFileNotFound, err)
	}
	defer idxFile.Close()

	reader := bufio.NewReader(idxFile)
	if err := h.graph.Import(reader); err != nil {
		return nil, semerr.Wrap(semerr.ErrCodeCorruptIndex, err)
	}
	return h, nil
}

// ReadHNSWDimension reads only the stored dimension from a mapping file
// without loading the whole graph, used at store-open time to detect a
// dimension mismatch before committing to a full load.
func ReadHNSWDimension(mappingPath string) (int, error) {
	f, err := os.Open(mappingPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, semerr.Wrap(semerr.ErrCodeFileNotFound, err)
	}
	defer f.Close()

	var meta hnswMetadata
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return 0, semerr.Wrap(semerr.ErrCodeCorruptIndex, err)
	}
	return meta.Config.Dimension, nil
}

// Close releases resources held by the index.
func (h *HNSWIndex) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.graph = nil
	slog.Debug("hnsw index closed", slog.Int("live_ids", len(h.idMap)))
	return nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// cosineDistanceToScore converts coder/hnsw's cosine distance (0 identical,
// 2 opposite) into a [0,1] similarity score where 1 is identical.
func cosineDistanceToScore(distance float32) float32 {
	score := 1.0 - distance/2.0
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}
