package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latentsetup/internal/setup/entity"
)

func fixtureLists() Lists {
	return Lists{
		Embeddings: []entity.EmbeddingRef{"e1", "e2"},
		Maps: []entity.MapArtifact{
			{Name: "m1", Embeddings: "e1"},
			{Name: "m2", Embeddings: "e1"},
			{Name: "m3", Embeddings: "e2"},
		},
		Clusters: []entity.ClusterArtifact{
			{ClusterName: "c1", UmapName: "m1"},
			{ClusterName: "c7", UmapName: "m2"},
			{ClusterName: "c8", UmapName: "m2"},
			{ClusterName: "c9", UmapName: "m3"},
		},
		Scopes: []entity.Scope{
			{Name: "s1", Embeddings: "e1", Umap: "m2", Cluster: "c7", ClusterLabels: "gpt-4o"},
		},
	}
}

func TestResolveFallsBackToFirstFilteredMap(t *testing.T) {
	got := Resolve(fixtureLists(), Desired{Embedding: "e1", Map: "m3"})

	assert.Equal(t, "e1", got.Embedding)
	require.NotNil(t, got.Map)
	assert.Equal(t, "m1", got.Map.Name)
	require.NotNil(t, got.Cluster)
	assert.Equal(t, "c1", got.Cluster.ClusterName)
}

func TestResolveHonorsDesiredNameInFilteredSet(t *testing.T) {
	got := Resolve(fixtureLists(), Desired{Embedding: "e1", Map: "m2", Cluster: "c8"})

	assert.Equal(t, "m2", got.MapName())
	assert.Equal(t, "c8", got.ClusterName())
}

func TestResolveNeverPicksMapOfOtherEmbedding(t *testing.T) {
	lists := fixtureLists()
	for _, emb := range lists.Embeddings {
		for _, m := range lists.Maps {
			got := Resolve(lists, Desired{Embedding: emb, Map: m.Name})
			require.NotNil(t, got.Map)
			assert.Equal(t, emb, got.Map.Embeddings, "embedding %s desired map %s", emb, m.Name)
			if got.Cluster != nil {
				assert.Equal(t, got.Map.Name, got.Cluster.UmapName)
			}
		}
	}
}

func TestResolveDefaultsEmbeddingToFirst(t *testing.T) {
	got := Resolve(fixtureLists(), Desired{Embedding: "missing"})
	assert.Equal(t, "e1", got.Embedding)
}

func TestResolveNullEmbeddingNullsDownstream(t *testing.T) {
	lists := fixtureLists()
	lists.Embeddings = nil

	got := Resolve(lists, Desired{Embedding: "e1", Map: "m2", Cluster: "c7", LabelModel: "gpt-4o", LabelCluster: "c7"})

	assert.Empty(t, got.Embedding)
	assert.Nil(t, got.Map)
	assert.Nil(t, got.Cluster)
	assert.Empty(t, got.LabelModel)
	assert.Nil(t, got.Scope)
}

func TestResolveEmptyMapCandidatesNullsCluster(t *testing.T) {
	lists := fixtureLists()
	lists.Embeddings = append(lists.Embeddings, "e3")

	got := Resolve(lists, Desired{Embedding: "e3", Cluster: "c1"})

	assert.Equal(t, "e3", got.Embedding)
	assert.Nil(t, got.Map)
	assert.Nil(t, got.Cluster)
}

func TestResolveEmptyListsIsTotal(t *testing.T) {
	assert.NotPanics(t, func() {
		got := Resolve(Lists{}, Desired{Embedding: "e1", Map: "m1", Cluster: "c1"})
		assert.True(t, got.Equal(Tuple{}))
	})
}

func TestReduceDropsLabelWhenClusterChanges(t *testing.T) {
	lists := fixtureLists()
	want := Desired{Embedding: "e1", Map: "m2", Cluster: "c7", LabelModel: "gpt-4o", LabelCluster: "c7"}

	got, settled := Reduce(lists, want)
	assert.Equal(t, "gpt-4o", got.LabelModel)
	assert.Equal(t, "gpt-4o", settled.LabelModel)

	settled.Cluster = "c8"
	got, settled = Reduce(lists, settled)
	assert.Equal(t, "c8", got.ClusterName())
	assert.Empty(t, got.LabelModel)
	assert.Empty(t, settled.LabelModel)

	// Going back does not resurrect the dropped label.
	settled.Cluster = "c7"
	got, _ = Reduce(lists, settled)
	assert.Empty(t, got.LabelModel)
}

func TestReduceKeepsLabelWhileClusterUnresolved(t *testing.T) {
	lists := fixtureLists()
	lists.Clusters = nil
	want := Desired{Embedding: "e1", Map: "m2", Cluster: "c7", LabelModel: "gpt-4o", LabelCluster: "c7"}

	got, settled := Reduce(lists, want)
	assert.Nil(t, got.Cluster)
	assert.Equal(t, want, settled)

	lists.Clusters = fixtureLists().Clusters
	got, _ = Reduce(lists, settled)
	assert.Equal(t, "gpt-4o", got.LabelModel)
	require.NotNil(t, got.Scope)
	assert.Equal(t, "s1", got.Scope.Name)
}

func TestResolveIsOrderIndependent(t *testing.T) {
	full := fixtureLists()
	want := Desired{Embedding: "e1", Map: "m2", Cluster: "c7", LabelModel: "gpt-4o", LabelCluster: "c7"}
	expected := Resolve(full, want)

	arrivals := []func(*Lists){
		func(l *Lists) { l.Embeddings = full.Embeddings },
		func(l *Lists) { l.Maps = full.Maps },
		func(l *Lists) { l.Clusters = full.Clusters },
		func(l *Lists) { l.Scopes = full.Scopes },
	}
	orders := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {2, 0, 3, 1}, {1, 3, 0, 2}}
	for _, order := range orders {
		var lists Lists
		cur := want
		for _, i := range order {
			arrivals[i](&lists)
			_, cur = Reduce(lists, cur)
		}
		got := Resolve(lists, cur)
		assert.True(t, expected.Equal(got), "order %v: got %+v", order, got)
	}
}

func TestMapsForAndClustersFor(t *testing.T) {
	lists := fixtureLists()

	maps := MapsFor(lists.Maps, "e1")
	require.Len(t, maps, 2)
	assert.Equal(t, "m1", maps[0].Name)
	assert.Equal(t, "m2", maps[1].Name)
	assert.Empty(t, MapsFor(lists.Maps, ""))

	clusters := ClustersFor(lists.Clusters, "m2")
	require.Len(t, clusters, 2)
	assert.Equal(t, "c7", clusters[0].ClusterName)
	assert.Empty(t, ClustersFor(lists.Clusters, ""))
}
