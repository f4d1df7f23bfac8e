package session

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"

	"latentsetup/internal/setup/entity"
)

// Select sets the desired name of one layer. Downstream layers re-resolve
// against the new parent; names that no longer fit fall back to the first
// candidate.
func (c *Controller) Select(layer Layer, name string) (Snapshot, error) {
	name = strings.TrimSpace(name)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	switch layer {
	case LayerEmbedding:
		c.desired.Embedding = name
	case LayerMap:
		c.desired.Map = name
	case LayerCluster:
		c.desired.Cluster = name
	case LayerLabelModel:
		cluster := c.tuple.ClusterName()
		if name != "" && cluster == "" {
			c.mu.Unlock()
			return Snapshot{}, ErrNoCluster
		}
		c.desired.LabelModel = name
		c.desired.LabelCluster = cluster
		if name == "" {
			c.desired.LabelCluster = ""
		}
	default:
		c.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownLayer, layer)
	}
	c.pendingScope = ""
	return c.commitLocked()
}

func (c *Controller) SelectEmbedding(name string) (Snapshot, error) {
	return c.Select(LayerEmbedding, name)
}

func (c *Controller) SelectMap(name string) (Snapshot, error) {
	return c.Select(LayerMap, name)
}

func (c *Controller) SelectCluster(name string) (Snapshot, error) {
	return c.Select(LayerCluster, name)
}

func (c *Controller) SelectLabelModel(name string) (Snapshot, error) {
	return c.Select(LayerLabelModel, name)
}

// SetTextColumn stores column as the dataset's text column on the backend
// and adopts the metadata it returns.
func (c *Controller) SetTextColumn(ctx context.Context, column string) (Snapshot, error) {
	column = strings.TrimSpace(column)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if c.dataset == nil {
		c.mu.Unlock()
		return Snapshot{}, ErrNoDataset
	}
	if !c.dataset.HasColumn(column) {
		c.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	gen, datasetID := c.gen, c.datasetID
	c.mu.Unlock()

	ds, err := c.backend.UpdateTextColumn(ctx, datasetID, column)
	if err != nil {
		return Snapshot{}, fmt.Errorf("update text column: %w", err)
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return Snapshot{}, ErrNavigatedAway
	}
	c.dataset = ds.Clone()
	c.textColumn = c.dataset.DefaultTextColumn()
	c.fetch[ResourceMeta] = FetchState{Status: FetchReady}
	return c.commitLocked()
}

// AddEmbedding appends a newly created embedding. Known names are ignored.
func (c *Controller) AddEmbedding(name entity.EmbeddingRef) (Snapshot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Snapshot{}, fmt.Errorf("%w: embedding name is required", ErrInvalidArtifact)
	}
	return c.appendArtifact(func() {
		if !slices.Contains(c.lists.Embeddings, name) {
			c.lists.Embeddings = append(c.lists.Embeddings, name)
		}
	})
}

// AddMap appends a newly created map. Known names are ignored.
func (c *Controller) AddMap(m entity.MapArtifact) (Snapshot, error) {
	if strings.TrimSpace(m.Name) == "" || strings.TrimSpace(m.Embeddings) == "" {
		return Snapshot{}, fmt.Errorf("%w: map name and embedding are required", ErrInvalidArtifact)
	}
	return c.appendArtifact(func() {
		if !slices.ContainsFunc(c.lists.Maps, func(o entity.MapArtifact) bool { return o.Name == m.Name }) {
			c.lists.Maps = append(c.lists.Maps, m)
		}
	})
}

// AddCluster appends a newly created cluster set. Known names are ignored.
func (c *Controller) AddCluster(cl entity.ClusterArtifact) (Snapshot, error) {
	if strings.TrimSpace(cl.ClusterName) == "" || strings.TrimSpace(cl.UmapName) == "" {
		return Snapshot{}, fmt.Errorf("%w: cluster name and umap name are required", ErrInvalidArtifact)
	}
	return c.appendArtifact(func() {
		if !slices.ContainsFunc(c.lists.Clusters, func(o entity.ClusterArtifact) bool { return o.ClusterName == cl.ClusterName }) {
			c.lists.Clusters = append(c.lists.Clusters, cl)
		}
	})
}

// AddScope appends a newly saved scope. Known names are ignored.
func (c *Controller) AddScope(s entity.Scope) (Snapshot, error) {
	if strings.TrimSpace(s.Name) == "" {
		return Snapshot{}, fmt.Errorf("%w: scope name is required", ErrInvalidArtifact)
	}
	return c.appendArtifact(func() { c.appendScopeLocked(s) })
}

func (c *Controller) appendScopeLocked(s entity.Scope) {
	if !slices.ContainsFunc(c.lists.Scopes, func(o entity.Scope) bool { return o.Name == s.Name }) {
		c.lists.Scopes = append(c.lists.Scopes, s)
	}
}

func (c *Controller) appendArtifact(add func()) (Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if c.datasetID == "" {
		c.mu.Unlock()
		return Snapshot{}, ErrNoDataset
	}
	add()
	return c.commitLocked()
}

// ScopeDraft carries the user-editable fields of a scope to save.
type ScopeDraft struct {
	Name        string `json:"name,omitempty"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// SaveScope saves the resolved tuple as a scope and makes it the active one.
func (c *Controller) SaveScope(ctx context.Context, draft ScopeDraft) (entity.Scope, Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return entity.Scope{}, Snapshot{}, ErrClosed
	}
	t := c.tuple
	if t.Embedding == "" || t.Map == nil || t.Cluster == nil {
		c.mu.Unlock()
		return entity.Scope{}, Snapshot{}, ErrIncompleteTuple
	}
	gen, datasetID := c.gen, c.datasetID
	c.mu.Unlock()

	saved, err := c.backend.SaveScope(ctx, datasetID, entity.Scope{
		Name:          strings.TrimSpace(draft.Name),
		Label:         strings.TrimSpace(draft.Label),
		Description:   strings.TrimSpace(draft.Description),
		Embeddings:    t.Embedding,
		Umap:          t.Map.Name,
		Cluster:       t.Cluster.ClusterName,
		ClusterLabels: t.LabelModel,
	})
	if err != nil {
		return entity.Scope{}, Snapshot{}, fmt.Errorf("save scope: %w", err)
	}
	log.Printf("session %s: saved scope %s of %s", c.id, saved.Name, datasetID)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return saved, Snapshot{}, ErrNavigatedAway
	}
	c.appendScopeLocked(saved)
	c.desired.Scope = saved.Name
	snap, err := c.commitLocked()
	return saved, snap, err
}
