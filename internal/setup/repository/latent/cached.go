package latent

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"latentsetup/internal/setup/entity"
)

// Source is the read and write surface of the backend.
type Source interface {
	ListDatasets(ctx context.Context) ([]entity.Dataset, error)
	GetDataset(ctx context.Context, datasetID string) (entity.Dataset, error)
	UpdateTextColumn(ctx context.Context, datasetID, column string) (entity.Dataset, error)
	ListEmbeddings(ctx context.Context, datasetID string) ([]entity.EmbeddingRef, error)
	ListMaps(ctx context.Context, datasetID string) ([]entity.MapArtifact, error)
	ListClusters(ctx context.Context, datasetID string) ([]entity.ClusterArtifact, error)
	ListLabelModels(ctx context.Context, datasetID, cluster string) ([]entity.LabelModelRef, error)
	ListScopes(ctx context.Context, datasetID string) ([]entity.Scope, error)
	SaveScope(ctx context.Context, datasetID string, draft entity.Scope) (entity.Scope, error)
}

type CacheConfig struct {
	Size int
	TTL  time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{Size: 512, TTL: 10 * time.Second}
}

type CacheMetricsSnapshot struct {
	Hits   uint64
	Misses uint64
}

// CachedClient keeps list and metadata reads for a short TTL. Writes
// invalidate the entries they make stale.
type CachedClient struct {
	origin  Source
	entries *expirable.LRU[string, any]

	hits   atomic.Uint64
	misses atomic.Uint64
}

func NewCachedClient(origin Source, cfg CacheConfig) *CachedClient {
	if cfg.Size <= 0 {
		cfg.Size = DefaultCacheConfig().Size
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheConfig().TTL
	}
	return &CachedClient{
		origin:  origin,
		entries: expirable.NewLRU[string, any](cfg.Size, nil, cfg.TTL),
	}
}

func cachedRead[T any](ctx context.Context, c *CachedClient, key string, load func(context.Context) (T, error)) (T, error) {
	if v, ok := c.entries.Get(key); ok {
		if typed, ok := v.(T); ok {
			c.hits.Add(1)
			return typed, nil
		}
	}
	c.misses.Add(1)
	out, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.entries.Add(key, out)
	return out, nil
}

func cacheKey(parts ...string) string {
	return strings.Join(parts, "\x00")
}

func (c *CachedClient) ListDatasets(ctx context.Context) ([]entity.Dataset, error) {
	return cachedRead(ctx, c, cacheKey("datasets"), c.origin.ListDatasets)
}

func (c *CachedClient) GetDataset(ctx context.Context, datasetID string) (entity.Dataset, error) {
	return cachedRead(ctx, c, cacheKey(datasetID, "meta"), func(ctx context.Context) (entity.Dataset, error) {
		return c.origin.GetDataset(ctx, datasetID)
	})
}

func (c *CachedClient) UpdateTextColumn(ctx context.Context, datasetID, column string) (entity.Dataset, error) {
	out, err := c.origin.UpdateTextColumn(ctx, datasetID, column)
	if err != nil {
		return entity.Dataset{}, err
	}
	c.entries.Add(cacheKey(datasetID, "meta"), out)
	c.entries.Remove(cacheKey("datasets"))
	return out, nil
}

func (c *CachedClient) ListEmbeddings(ctx context.Context, datasetID string) ([]entity.EmbeddingRef, error) {
	return cachedRead(ctx, c, cacheKey(datasetID, string(entity.KindEmbedding)), func(ctx context.Context) ([]entity.EmbeddingRef, error) {
		return c.origin.ListEmbeddings(ctx, datasetID)
	})
}

func (c *CachedClient) ListMaps(ctx context.Context, datasetID string) ([]entity.MapArtifact, error) {
	return cachedRead(ctx, c, cacheKey(datasetID, string(entity.KindMap)), func(ctx context.Context) ([]entity.MapArtifact, error) {
		return c.origin.ListMaps(ctx, datasetID)
	})
}

func (c *CachedClient) ListClusters(ctx context.Context, datasetID string) ([]entity.ClusterArtifact, error) {
	return cachedRead(ctx, c, cacheKey(datasetID, string(entity.KindCluster)), func(ctx context.Context) ([]entity.ClusterArtifact, error) {
		return c.origin.ListClusters(ctx, datasetID)
	})
}

func (c *CachedClient) ListLabelModels(ctx context.Context, datasetID, cluster string) ([]entity.LabelModelRef, error) {
	return cachedRead(ctx, c, cacheKey(datasetID, "labels", cluster), func(ctx context.Context) ([]entity.LabelModelRef, error) {
		return c.origin.ListLabelModels(ctx, datasetID, cluster)
	})
}

func (c *CachedClient) ListScopes(ctx context.Context, datasetID string) ([]entity.Scope, error) {
	return cachedRead(ctx, c, cacheKey(datasetID, string(entity.KindScope)), func(ctx context.Context) ([]entity.Scope, error) {
		return c.origin.ListScopes(ctx, datasetID)
	})
}

func (c *CachedClient) SaveScope(ctx context.Context, datasetID string, draft entity.Scope) (entity.Scope, error) {
	out, err := c.origin.SaveScope(ctx, datasetID, draft)
	if err != nil {
		return entity.Scope{}, err
	}
	c.entries.Remove(cacheKey(datasetID, string(entity.KindScope)))
	return out, nil
}

// Invalidate drops the cached list of kind so the next read reaches the
// backend. Label model lists are dropped along with clusters.
func (c *CachedClient) Invalidate(datasetID string, kind entity.ArtifactKind) {
	c.entries.Remove(cacheKey(datasetID, string(kind)))
	if kind != entity.KindCluster {
		return
	}
	prefix := cacheKey(datasetID, "labels", "")
	for _, k := range c.entries.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.entries.Remove(k)
		}
	}
}

func (c *CachedClient) MetricsSnapshot() CacheMetricsSnapshot {
	return CacheMetricsSnapshot{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
