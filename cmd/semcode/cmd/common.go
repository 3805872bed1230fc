package cmd

import (
	"github.com/korrel8/semcode/internal/chunker"
	"github.com/korrel8/semcode/internal/compress"
	"github.com/korrel8/semcode/internal/config"
	"github.com/korrel8/semcode/internal/embedding"
	"github.com/korrel8/semcode/internal/optimizer"
	"github.com/korrel8/semcode/internal/router"
	"github.com/korrel8/semcode/internal/scoring"
	"github.com/korrel8/semcode/internal/semerr"
	"github.com/korrel8/semcode/internal/vectorstore"
	"github.com/korrel8/semcode/internal/walker"
)

func openStore(c config.Config) (*vectorstore.Store, error) {
	path, err := c.StorePath()
	if err != nil {
		return nil, err
	}
	hnswCfg := vectorstore.HNSWConfig{M: c.HNSW.M, EfConstruction: c.HNSW.EfConstruction, EfSearch: c.HNSW.EfSearch, Dimension: c.VectorStore.Dimension}
	return vectorstore.Open(path, hnswCfg)
}

func newEmbedder(c config.Config) embedding.Embedder {
	static := embedding.NewStaticEmbedder(c.VectorStore.Dimension, c.Embedding.ModelID)
	cached := embedding.NewCachedEmbedder(static, embedding.DefaultCacheSize)
	breaker := semerr.NewCircuitBreaker("embedder")
	return embedding.NewResilientEmbedder(cached, semerr.DefaultRetryConfig(), breaker)
}

func newWalker() (*walker.Walker, error) {
	return walker.New()
}

func newChunker(c config.Config) *chunker.Chunker {
	return chunker.New(chunker.Options{MaxChunkTokens: c.Indexer.ChunkSize, OverlapTokens: c.Indexer.ChunkOverlap})
}

func newScorer(c config.Config) (*scoring.Scorer, error) {
	features := scoring.DefaultFeatures()
	if len(c.Scoring.Weights) > 0 {
		for i := range features {
			if w, ok := c.Scoring.Weights[features[i].Scorer.Name()]; ok {
				features[i].Weight = float32(w)
			}
		}
	}
	return scoring.New(features, c.Scoring.Parallelism, c.Scoring.CacheCapacity, c.Scoring.CacheTTL)
}

func newCompressor(c config.Config) *compress.Compressor {
	return compress.New(compress.Options{
		PreserveImports: c.Compression.PreserveImports, PreserveTypes: c.Compression.PreserveTypes,
		MaxCompressionRatio: c.Compression.MaxRatio,
	})
}

func newRouter(c config.Config) *router.Router {
	return router.New(c.Router, nil)
}

func newPipeline(c config.Config, store *vectorstore.Store, embedder embedding.Embedder) (*optimizer.Pipeline, error) {
	scorer, err := newScorer(c)
	if err != nil {
		return nil, err
	}
	return optimizer.New(store, embedder, scorer, newCompressor(c), newRouter(c), optimizer.DefaultBudgetFractions())
}
