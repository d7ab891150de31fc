package rag

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/docurag/docurag/internal/provider"
	"github.com/docurag/docurag/pkg/config"
	"github.com/docurag/docurag/pkg/types"
)

const (
	defaultBatchSize = 200
	defaultWorkers   = 3
)

// Batcher vectorizes many texts efficiently: texts are grouped into
// provider batches and embedded by a bounded pool of workers. A failed
// batch degrades to per-item embedding with a delay between items;
// items that still fail receive empty vectors rather than failing the
// whole job.
//
// Positional integrity is the core invariant: the output always has
// the same length as the input and result[i] belongs to texts[i],
// whatever combination of cache hits, batch calls and per-item
// fallbacks produced it.
type Batcher struct {
	embedder provider.Embedder
	cache    *EmbeddingCache
	model    string
	cfg      config.EmbeddingConfig
	logger   hclog.Logger
}

// NewBatcher builds a batcher. cache may be nil; model tags cache keys
// so a model switch invalidates prior entries.
func NewBatcher(embedder provider.Embedder, cache *EmbeddingCache, model string, cfg config.EmbeddingConfig, logger hclog.Logger) *Batcher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Batcher{
		embedder: embedder,
		cache:    cache,
		model:    model,
		cfg:      cfg,
		logger:   logger.Named("batcher"),
	}
}

// EmbedAll embeds every text, returning one vector per input in input
// order. Empty inputs yield empty vectors without a provider call. The
// only error returned is cancellation; provider failures degrade to
// empty vectors and are logged.
func (b *Batcher) EmbedAll(ctx context.Context, texts []string) ([]types.Vector, error) {
	out := make([]types.Vector, len(texts))
	if len(texts) == 0 {
		return out, nil
	}
	start := time.Now()

	var pending []int
	for i, t := range texts {
		if t == "" {
			continue
		}
		if v, ok := b.cache.Get(CacheKey(t, b.model)); ok {
			out[i] = v
			continue
		}
		pending = append(pending, i)
	}

	batchSize := b.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	workers := b.cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for offset := 0; offset < len(pending); offset += batchSize {
		end := offset + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		indices := pending[offset:end]
		g.Go(func() error {
			return b.embedBatch(gctx, texts, indices, out)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	successful := 0
	for _, v := range out {
		if len(v) > 0 {
			successful++
		}
	}
	b.logger.Info("embedding job finished",
		"total", len(texts), "successful", successful, "elapsed", time.Since(start))
	return out, nil
}

// embedBatch embeds one batch, scattering results to their original
// positions. Workers write to disjoint indices of out, so no locking
// is needed.
func (b *Batcher) embedBatch(ctx context.Context, texts []string, indices []int, out []types.Vector) error {
	batch := make([]string, len(indices))
	for j, i := range indices {
		batch[j] = texts[i]
	}

	vecs, err := b.embedder.EmbedBatch(ctx, batch)
	if err == nil && len(vecs) == len(batch) {
		for j, i := range indices {
			out[i] = vecs[j]
			b.cache.Set(CacheKey(texts[i], b.model), vecs[j])
		}
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	b.logger.Warn("batch embedding failed, degrading to per-item",
		"batch_size", len(batch), "error", err)
	return b.embedItems(ctx, texts, indices, out)
}

func (b *Batcher) embedItems(ctx context.Context, texts []string, indices []int, out []types.Vector) error {
	delay := time.Duration(b.cfg.BatchDelayMs) * time.Millisecond
	for j, i := range indices {
		if j > 0 && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
		v, err := b.embedder.EmbedOne(ctx, texts[i])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Warn("per-item embedding failed, leaving empty vector",
				"index", i, "error", err)
			continue
		}
		out[i] = v
		b.cache.Set(CacheKey(texts[i], b.model), v)
	}
	return nil
}
