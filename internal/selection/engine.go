// Package selection resolves the layered embedding → map → cluster → label
// → scope selection of a setup session.
//
// Resolution is a pure reduction over the artifact lists currently known and
// the names the user (or a hydrated scope) asked for. It never fails: empty
// lists are the normal state while a dataset is loading.
package selection

import "latentsetup/internal/setup/entity"

// Lists is the current known set of artifacts of one dataset.
type Lists struct {
	Embeddings []entity.EmbeddingRef    `json:"embeddings"`
	Maps       []entity.MapArtifact     `json:"umaps"`
	Clusters   []entity.ClusterArtifact `json:"clusters"`
	Scopes     []entity.Scope           `json:"scopes"`
}

// Clone copies every list so the result can be handed out without sharing
// backing arrays.
func (l Lists) Clone() Lists {
	return Lists{
		Embeddings: append([]entity.EmbeddingRef(nil), l.Embeddings...),
		Maps:       append([]entity.MapArtifact(nil), l.Maps...),
		Clusters:   append([]entity.ClusterArtifact(nil), l.Clusters...),
		Scopes:     append([]entity.Scope(nil), l.Scopes...),
	}
}

// Desired holds the sticky names per layer. A name that is not among the
// layer's filtered candidates is kept but ignored until it becomes valid.
type Desired struct {
	Embedding string `json:"embedding,omitempty"`
	Map       string `json:"map,omitempty"`
	Cluster   string `json:"cluster,omitempty"`

	LabelModel string `json:"label_model,omitempty"`

	// LabelCluster is the cluster LabelModel was chosen for.
	LabelCluster string `json:"label_cluster,omitempty"`

	// Scope is the scope last navigated to. It only breaks ties when several
	// saved scopes match the resolved tuple.
	Scope string `json:"scope,omitempty"`
}

// Tuple is the resolved, consistent selection.
type Tuple struct {
	Embedding  entity.EmbeddingRef     `json:"embedding,omitempty"`
	Map        *entity.MapArtifact     `json:"umap,omitempty"`
	Cluster    *entity.ClusterArtifact `json:"cluster,omitempty"`
	LabelModel entity.LabelModelRef    `json:"label_model,omitempty"`
	Scope      *entity.Scope           `json:"scope,omitempty"`
}

// MapName returns the resolved map name or "".
func (t Tuple) MapName() string {
	if t.Map == nil {
		return ""
	}
	return t.Map.Name
}

// ClusterName returns the resolved cluster name or "".
func (t Tuple) ClusterName() string {
	if t.Cluster == nil {
		return ""
	}
	return t.Cluster.ClusterName
}

// Equal compares two tuples by the identities they reference.
func (t Tuple) Equal(o Tuple) bool {
	return t.Embedding == o.Embedding &&
		t.MapName() == o.MapName() &&
		t.ClusterName() == o.ClusterName() &&
		t.LabelModel == o.LabelModel &&
		scopeName(t.Scope) == scopeName(o.Scope)
}

// Resolve computes the tuple for lists and want. Layers are evaluated in
// dependency order, so a single pass is already a fixed point.
func Resolve(lists Lists, want Desired) Tuple {
	var t Tuple

	if emb, ok := pick(lists.Embeddings, nil, embeddingName, want.Embedding); ok {
		t.Embedding = emb
	}

	if t.Embedding != "" {
		m, ok := pick(lists.Maps, func(m entity.MapArtifact) bool {
			return m.Embeddings == t.Embedding
		}, mapName, want.Map)
		if ok {
			t.Map = &m
		}
	}

	if t.Map != nil {
		c, ok := pick(lists.Clusters, func(c entity.ClusterArtifact) bool {
			return c.UmapName == t.Map.Name
		}, clusterName, want.Cluster)
		if ok {
			t.Cluster = &c
		}
	}

	if t.Cluster != nil && want.LabelModel != "" && want.LabelCluster == t.Cluster.ClusterName {
		t.LabelModel = want.LabelModel
	}

	t.Scope = MatchScope(lists.Scopes, t, want.Scope)
	return t
}

// Reduce resolves the tuple and settles want against it: a label model chosen
// for a cluster that is no longer the resolved cluster is dropped. While the
// cluster is unresolved the label is kept, so a hydrated label survives lists
// that arrive out of order.
func Reduce(lists Lists, want Desired) (Tuple, Desired) {
	t := Resolve(lists, want)
	if t.Cluster != nil && want.LabelModel != "" && want.LabelCluster != t.Cluster.ClusterName {
		want.LabelModel = ""
		want.LabelCluster = ""
	}
	return t, want
}

// MapsFor returns the maps of embedding in list order.
func MapsFor(maps []entity.MapArtifact, embedding entity.EmbeddingRef) []entity.MapArtifact {
	out := make([]entity.MapArtifact, 0, len(maps))
	if embedding == "" {
		return out
	}
	for _, m := range maps {
		if m.Embeddings == embedding {
			out = append(out, m)
		}
	}
	return out
}

// ClustersFor returns the clusters of the map named umap in list order.
func ClustersFor(clusters []entity.ClusterArtifact, umap string) []entity.ClusterArtifact {
	out := make([]entity.ClusterArtifact, 0, len(clusters))
	if umap == "" {
		return out
	}
	for _, c := range clusters {
		if c.UmapName == umap {
			out = append(out, c)
		}
	}
	return out
}

// pick applies the layer rule: the desired name when it is among the
// candidates accepted by keep, otherwise the first accepted candidate.
func pick[T any](candidates []T, keep func(T) bool, name func(T) string, desired string) (T, bool) {
	var (
		first T
		found bool
	)
	for _, c := range candidates {
		if keep != nil && !keep(c) {
			continue
		}
		if desired != "" && name(c) == desired {
			return c, true
		}
		if !found {
			first = c
			found = true
		}
	}
	return first, found
}

func embeddingName(e entity.EmbeddingRef) string { return e }

func mapName(m entity.MapArtifact) string { return m.Name }

func clusterName(c entity.ClusterArtifact) string { return c.ClusterName }

func scopeName(s *entity.Scope) string {
	if s == nil {
		return ""
	}
	return s.Name
}
