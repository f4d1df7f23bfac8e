package entity

import "strings"

// EmbeddingRef names one embedding artifact. No substructure is modeled.
type EmbeddingRef = string

// LabelModelRef names one labeling run of a cluster artifact.
type LabelModelRef = string

// MapArtifact is a 2-D projection ("umap") of exactly one embedding.
type MapArtifact struct {
	Name       string       `json:"name"`
	Embeddings EmbeddingRef `json:"embeddings"`
}

// ClusterArtifact groups the points of exactly one map.
type ClusterArtifact struct {
	ClusterName string `json:"cluster_name"`
	UmapName    string `json:"umap_name"`

	// URL of the cluster thumbnail, when the backend provides one.
	URL string `json:"url,omitempty"`
}

// Scope is an immutable, named snapshot of one consistent selection.
type Scope struct {
	Name          string        `json:"name"`
	Label         string        `json:"label"`
	Description   string        `json:"description"`
	Embeddings    EmbeddingRef  `json:"embeddings"`
	Umap          string        `json:"umap"`
	Cluster       string        `json:"cluster"`
	ClusterLabels LabelModelRef `json:"cluster_labels"`
}

// ArtifactKind enumerates the artifact lists a session tracks.
type ArtifactKind string

const (
	KindEmbedding ArtifactKind = "embedding"
	KindMap       ArtifactKind = "map"
	KindCluster   ArtifactKind = "cluster"
	KindScope     ArtifactKind = "scope"
)

// ParseArtifactKind accepts the kind names plus the plural and "umap" aliases
// used by the backend routes.
func ParseArtifactKind(raw string) (ArtifactKind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "embedding", "embeddings":
		return KindEmbedding, true
	case "map", "maps", "umap", "umaps":
		return KindMap, true
	case "cluster", "clusters":
		return KindCluster, true
	case "scope", "scopes":
		return KindScope, true
	default:
		return "", false
	}
}
