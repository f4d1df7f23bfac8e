package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"latentsetup/internal/selection"
	"latentsetup/internal/setup/entity"
	"latentsetup/internal/setup/repository/sessionstore"
)

var (
	ErrSessionNotFound = sessionstore.ErrSessionNotFound
	ErrUnknownColumn   = errors.New("unknown text column")
	ErrNoDataset       = errors.New("dataset metadata not loaded")
	ErrIncompleteTuple = errors.New("embedding, map and cluster must be resolved")
	ErrNoCluster       = errors.New("no cluster resolved")
	ErrUnknownLayer    = errors.New("unknown selection layer")
	ErrNavigatedAway   = errors.New("session navigated to another dataset")
	ErrClosed          = errors.New("session closed")
	ErrInvalidArtifact = errors.New("invalid artifact")
)

// Backend is the part of the computation backend a session reads and writes.
type Backend interface {
	GetDataset(ctx context.Context, datasetID string) (entity.Dataset, error)
	UpdateTextColumn(ctx context.Context, datasetID, column string) (entity.Dataset, error)
	ListEmbeddings(ctx context.Context, datasetID string) ([]entity.EmbeddingRef, error)
	ListMaps(ctx context.Context, datasetID string) ([]entity.MapArtifact, error)
	ListClusters(ctx context.Context, datasetID string) ([]entity.ClusterArtifact, error)
	ListLabelModels(ctx context.Context, datasetID, cluster string) ([]entity.LabelModelRef, error)
	ListScopes(ctx context.Context, datasetID string) ([]entity.Scope, error)
	SaveScope(ctx context.Context, datasetID string, draft entity.Scope) (entity.Scope, error)
}

// invalidator is implemented by caching backends.
type invalidator interface {
	Invalidate(datasetID string, kind entity.ArtifactKind)
}

type Resource string

const (
	ResourceMeta       Resource = "meta"
	ResourceEmbeddings Resource = "embeddings"
	ResourceMaps       Resource = "umaps"
	ResourceClusters   Resource = "clusters"
	ResourceScopes     Resource = "scopes"
	ResourceLabels     Resource = "labels"
)

// datasetResources are fetched on every navigation to a new dataset.
var datasetResources = []Resource{ResourceMeta, ResourceEmbeddings, ResourceMaps, ResourceClusters, ResourceScopes}

func ParseResource(raw string) (Resource, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "meta", "metadata", "dataset":
		return ResourceMeta, true
	case "labels", "label", "label_models":
		return ResourceLabels, true
	}
	kind, ok := entity.ParseArtifactKind(raw)
	if !ok {
		return "", false
	}
	return resourceOf(kind), true
}

func resourceOf(kind entity.ArtifactKind) Resource {
	switch kind {
	case entity.KindEmbedding:
		return ResourceEmbeddings
	case entity.KindMap:
		return ResourceMaps
	case entity.KindCluster:
		return ResourceClusters
	case entity.KindScope:
		return ResourceScopes
	default:
		return ""
	}
}

type FetchStatus string

const (
	FetchIdle    FetchStatus = "idle"
	FetchLoading FetchStatus = "loading"
	FetchReady   FetchStatus = "ready"
	FetchFailed  FetchStatus = "failed"
)

// FetchState is the outcome of the latest fetch of one resource.
type FetchState struct {
	Status FetchStatus `json:"status"`
	Error  string      `json:"error,omitempty"`
	Err    error       `json:"-"`
}

func failed(err error) FetchState {
	return FetchState{Status: FetchFailed, Error: err.Error(), Err: err}
}

type Layer string

const (
	LayerEmbedding  Layer = "embedding"
	LayerMap        Layer = "map"
	LayerCluster    Layer = "cluster"
	LayerLabelModel Layer = "label_model"
)

func ParseLayer(raw string) (Layer, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "embedding", "embeddings":
		return LayerEmbedding, true
	case "map", "umap":
		return LayerMap, true
	case "cluster":
		return LayerCluster, true
	case "label", "labels", "label_model", "cluster_labels":
		return LayerLabelModel, true
	default:
		return "", false
	}
}

// ZoomOptions mirrors the scatter view's zoomToOrigin options.
type ZoomOptions struct {
	Transition         bool          `json:"transition"`
	TransitionDuration time.Duration `json:"-"`
}

// DefaultRecenter is used when a selection is cleared.
var DefaultRecenter = ZoomOptions{Transition: true, TransitionDuration: 1500 * time.Millisecond}

// MapView is an attached scatter view. Calls must not block on the session.
type MapView interface {
	Select(indices []int) error
	ZoomToOrigin(opts ZoomOptions) error
}

// Candidates are the choices each editor slot can offer for the current tuple.
type Candidates struct {
	Maps        []entity.MapArtifact     `json:"umaps"`
	Clusters    []entity.ClusterArtifact `json:"clusters"`
	LabelModels []entity.LabelModelRef   `json:"label_models"`
}

// ScopeOption is one entry of the quick-switch scope list.
type ScopeOption struct {
	entity.Scope
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Active       bool   `json:"active"`
}

// Snapshot is a consistent view of a session after one transition.
type Snapshot struct {
	SessionID    string                  `json:"session_id"`
	DatasetID    string                  `json:"dataset_id"`
	Generation   uint64                  `json:"generation"`
	Version      uint64                  `json:"version"`
	Dataset      *entity.Dataset         `json:"dataset,omitempty"`
	TextColumn   string                  `json:"text_column"`
	Lists        selection.Lists         `json:"lists"`
	Desired      selection.Desired       `json:"desired"`
	Tuple        selection.Tuple         `json:"selection"`
	PendingScope string                  `json:"pending_scope,omitempty"`
	Candidates   Candidates              `json:"candidates"`
	Scopes       []ScopeOption           `json:"scopes"`
	ExploreURL   string                  `json:"explore_url,omitempty"`
	Selected     []int                   `json:"selected"`
	Fetch        map[Resource]FetchState `json:"fetch"`
}
