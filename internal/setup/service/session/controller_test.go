package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latentsetup/internal/setup/entity"
)

type fixture struct {
	meta       entity.Dataset
	embeddings []entity.EmbeddingRef
	maps       []entity.MapArtifact
	clusters   []entity.ClusterArtifact
	scopes     []entity.Scope
	labels     map[string][]entity.LabelModelRef
}

func dadJokes() *fixture {
	return &fixture{
		meta:       entity.Dataset{ID: "ds", Columns: []string{"text", "label"}, Length: 10},
		embeddings: []entity.EmbeddingRef{"e1", "e2"},
		maps: []entity.MapArtifact{
			{Name: "m1", Embeddings: "e1"},
			{Name: "m2", Embeddings: "e1"},
			{Name: "m3", Embeddings: "e2"},
		},
		clusters: []entity.ClusterArtifact{
			{ClusterName: "c1", UmapName: "m1", URL: "/thumbs/c1.png"},
			{ClusterName: "c7", UmapName: "m2", URL: "/thumbs/c7.png"},
			{ClusterName: "c8", UmapName: "m2"},
			{ClusterName: "c9", UmapName: "m3"},
		},
		scopes: []entity.Scope{
			{Name: "s1", Embeddings: "e1", Umap: "m2", Cluster: "c7", ClusterLabels: "gpt-4o"},
		},
		labels: map[string][]entity.LabelModelRef{
			"c7": {"default", "gpt-4o"},
		},
	}
}

type fakeBackend struct {
	mu          sync.Mutex
	data        map[string]*fixture
	gates       map[string]chan struct{}
	fail        map[Resource]int
	calls       map[Resource]int
	invalidated []entity.ArtifactKind
	saved       int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		data:  map[string]*fixture{"ds": dadJokes()},
		gates: map[string]chan struct{}{},
		fail:  map[Resource]int{},
		calls: map[Resource]int{},
	}
}

// gate makes fetches of r for datasetID block until the returned func runs.
func (f *fakeBackend) gate(datasetID string, r Resource) func() {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[datasetID+"/"+string(r)] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *fakeBackend) enter(datasetID string, r Resource) (*fixture, error) {
	f.mu.Lock()
	f.calls[r]++
	gate := f.gates[datasetID+"/"+string(r)]
	if f.fail[r] > 0 {
		f.fail[r]--
		f.mu.Unlock()
		return nil, fmt.Errorf("%s: backend unavailable", r)
	}
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fx, ok := f.data[datasetID]
	if !ok {
		return nil, fmt.Errorf("dataset %s not found", datasetID)
	}
	cp := *fx
	return &cp, nil
}

func (f *fakeBackend) callCount(r Resource) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[r]
}

func (f *fakeBackend) GetDataset(_ context.Context, id string) (entity.Dataset, error) {
	fx, err := f.enter(id, ResourceMeta)
	if err != nil {
		return entity.Dataset{}, err
	}
	return fx.meta, nil
}

func (f *fakeBackend) UpdateTextColumn(_ context.Context, id, column string) (entity.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[id].meta.TextColumn = column
	return f.data[id].meta, nil
}

func (f *fakeBackend) ListEmbeddings(_ context.Context, id string) ([]entity.EmbeddingRef, error) {
	fx, err := f.enter(id, ResourceEmbeddings)
	if err != nil {
		return nil, err
	}
	return fx.embeddings, nil
}

func (f *fakeBackend) ListMaps(_ context.Context, id string) ([]entity.MapArtifact, error) {
	fx, err := f.enter(id, ResourceMaps)
	if err != nil {
		return nil, err
	}
	return fx.maps, nil
}

func (f *fakeBackend) ListClusters(_ context.Context, id string) ([]entity.ClusterArtifact, error) {
	fx, err := f.enter(id, ResourceClusters)
	if err != nil {
		return nil, err
	}
	return fx.clusters, nil
}

func (f *fakeBackend) ListLabelModels(_ context.Context, id, cluster string) ([]entity.LabelModelRef, error) {
	fx, err := f.enter(id, ResourceLabels)
	if err != nil {
		return nil, err
	}
	if models, ok := fx.labels[cluster]; ok {
		return models, nil
	}
	return []entity.LabelModelRef{"default"}, nil
}

func (f *fakeBackend) ListScopes(_ context.Context, id string) ([]entity.Scope, error) {
	fx, err := f.enter(id, ResourceScopes)
	if err != nil {
		return nil, err
	}
	return fx.scopes, nil
}

func (f *fakeBackend) SaveScope(_ context.Context, id string, draft entity.Scope) (entity.Scope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved++
	if draft.Name == "" {
		draft.Name = fmt.Sprintf("scopes-%03d", len(f.data[id].scopes)+1)
	}
	f.data[id].scopes = append(f.data[id].scopes, draft)
	return draft, nil
}

func (f *fakeBackend) Invalidate(_ string, kind entity.ArtifactKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, kind)
}

func waitIdle(t *testing.T, c *Controller) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
	return c.Snapshot()
}

func loaded(t *testing.T, backend Backend) *Controller {
	t.Helper()
	c := NewController("test", backend)
	t.Cleanup(c.Close)
	_, err := c.Navigate("ds", "")
	require.NoError(t, err)
	waitIdle(t, c)
	return c
}

func assertConsistent(t *testing.T, snap Snapshot) {
	t.Helper()
	tup := snap.Tuple
	if tup.Map != nil {
		assert.Equal(t, tup.Embedding, tup.Map.Embeddings, "map belongs to embedding (version %d)", snap.Version)
	}
	if tup.Cluster != nil {
		require.NotNil(t, tup.Map)
		assert.Equal(t, tup.Map.Name, tup.Cluster.UmapName, "cluster belongs to map (version %d)", snap.Version)
	}
	if tup.Scope != nil {
		assert.Equal(t, tup.Scope.Embeddings, tup.Embedding)
		assert.Equal(t, tup.Scope.Umap, tup.MapName())
		assert.Equal(t, tup.Scope.Cluster, tup.ClusterName())
		assert.Equal(t, tup.Scope.ClusterLabels, tup.LabelModel)
	}
}

func TestNavigateLoadsDatasetAndFallsBackToFilteredMap(t *testing.T) {
	c := loaded(t, newFakeBackend())

	snap, err := c.SelectMap("m3")
	require.NoError(t, err)

	assert.Equal(t, "text", snap.TextColumn)
	assert.Equal(t, "e1", snap.Tuple.Embedding)
	assert.Equal(t, "m1", snap.Tuple.MapName())
	assert.Equal(t, "c1", snap.Tuple.ClusterName())
	require.Len(t, snap.Candidates.Maps, 2)
	for _, r := range datasetResources {
		assert.Equal(t, FetchReady, snap.Fetch[r].Status, "resource %s", r)
	}
	assertConsistent(t, snap)
}

func TestNavigateScopeHydratesInOneUpdate(t *testing.T) {
	c := loaded(t, newFakeBackend())
	_, err := c.SelectMap("m1")
	require.NoError(t, err)

	snap, err := c.NavigateScope("s1")
	require.NoError(t, err)

	assert.Equal(t, "e1", snap.Tuple.Embedding)
	assert.Equal(t, "m2", snap.Tuple.MapName())
	assert.Equal(t, "c7", snap.Tuple.ClusterName())
	assert.Equal(t, "gpt-4o", snap.Tuple.LabelModel)
	require.NotNil(t, snap.Tuple.Scope)
	assert.Equal(t, "s1", snap.Tuple.Scope.Name)
	assert.Empty(t, snap.PendingScope)
	assert.Equal(t, "/datasets/ds/explore/s1", snap.ExploreURL)
}

func TestScopeDemotedWhenMapChanges(t *testing.T) {
	c := loaded(t, newFakeBackend())
	_, err := c.NavigateScope("s1")
	require.NoError(t, err)

	snap, err := c.SelectMap("m1")
	require.NoError(t, err)
	assert.Nil(t, snap.Tuple.Scope)
	assert.Empty(t, snap.ExploreURL)

	snap, err = c.SelectMap("m2")
	require.NoError(t, err)
	assert.Nil(t, snap.Tuple.Scope, "label model was dropped with the cluster change")

	_, err = c.SelectCluster("c7")
	require.NoError(t, err)
	snap, err = c.SelectLabelModel("gpt-4o")
	require.NoError(t, err)
	require.NotNil(t, snap.Tuple.Scope, "re-selecting the same values restores the scope")
	assert.Equal(t, "s1", snap.Tuple.Scope.Name)
}

func TestOutOfOrderArrivalConverges(t *testing.T) {
	backend := newFakeBackend()
	releases := map[Resource]func(){}
	for _, r := range datasetResources {
		releases[r] = backend.gate("ds", r)
	}
	c := NewController("ooo", backend)
	t.Cleanup(c.Close)

	ctx, cancel := context.WithCancel(context.Background())
	var (
		seenMu sync.Mutex
		seen   []Snapshot
		done   = make(chan struct{})
	)
	updates := c.Subscribe(ctx)
	go func() {
		defer close(done)
		for snap := range updates {
			seenMu.Lock()
			seen = append(seen, snap)
			seenMu.Unlock()
		}
	}()

	_, err := c.Navigate("ds", "s1")
	require.NoError(t, err)

	order := []Resource{ResourceScopes, ResourceClusters, ResourceMeta, ResourceMaps, ResourceEmbeddings}
	for _, r := range order {
		releases[r]()
		require.Eventually(t, func() bool {
			return c.Snapshot().Fetch[r].Status == FetchReady
		}, time.Second, 5*time.Millisecond, "resource %s", r)
		assertConsistent(t, c.Snapshot())
	}
	final := waitIdle(t, c)
	cancel()
	<-done

	assert.Equal(t, "m2", final.Tuple.MapName())
	assert.Equal(t, "c7", final.Tuple.ClusterName())
	assert.Equal(t, "gpt-4o", final.Tuple.LabelModel)
	require.NotNil(t, final.Tuple.Scope)
	assert.Equal(t, []entity.LabelModelRef{"default", "gpt-4o"}, final.Candidates.LabelModels)

	seenMu.Lock()
	defer seenMu.Unlock()
	require.NotEmpty(t, seen)
	for _, snap := range seen {
		assertConsistent(t, snap)
	}
}

func TestStaleGenerationResultsAreDropped(t *testing.T) {
	backend := newFakeBackend()
	other := dadJokes()
	other.meta.ID = "other"
	other.embeddings = []entity.EmbeddingRef{"x1"}
	other.maps = nil
	other.clusters = nil
	other.scopes = nil
	backend.data["other"] = other
	release := backend.gate("ds", ResourceEmbeddings)

	c := NewController("stale", backend)
	t.Cleanup(c.Close)
	first, err := c.Navigate("ds", "")
	require.NoError(t, err)
	second, err := c.Navigate("other", "")
	require.NoError(t, err)
	assert.Greater(t, second.Generation, first.Generation)

	release()
	snap := waitIdle(t, c)

	assert.Equal(t, "other", snap.DatasetID)
	assert.Equal(t, []entity.EmbeddingRef{"x1"}, snap.Lists.Embeddings)
	assert.Equal(t, "x1", snap.Tuple.Embedding)
	assert.Nil(t, snap.Tuple.Map)
}

func TestNavigateToNewDatasetReplacesState(t *testing.T) {
	backend := newFakeBackend()
	backend.data["empty"] = &fixture{meta: entity.Dataset{ID: "empty", Columns: []string{"body"}}}
	c := loaded(t, backend)
	_, err := c.SetSelectedIndices([]int{1, 2})
	require.NoError(t, err)

	_, err = c.Navigate("empty", "")
	require.NoError(t, err)
	snap := waitIdle(t, c)

	assert.Equal(t, "body", snap.TextColumn)
	assert.Empty(t, snap.Lists.Maps)
	assert.Empty(t, snap.Selected)
	assert.Empty(t, snap.Tuple.Embedding)
}

func TestHydrationMissKeepsDefaults(t *testing.T) {
	c := NewController("miss", newFakeBackend())
	t.Cleanup(c.Close)
	_, err := c.Navigate("ds", "nope")
	require.NoError(t, err)
	snap := waitIdle(t, c)

	assert.Empty(t, snap.PendingScope)
	assert.Nil(t, snap.Tuple.Scope)
	assert.Equal(t, "m1", snap.Tuple.MapName())
}

func TestRenavigateCancelsPendingHydration(t *testing.T) {
	backend := newFakeBackend()
	release := backend.gate("ds", ResourceScopes)
	c := NewController("renav", backend)
	t.Cleanup(c.Close)

	snap, err := c.Navigate("ds", "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", snap.PendingScope)

	snap, err = c.Navigate("ds", "")
	require.NoError(t, err)
	assert.Empty(t, snap.PendingScope)

	release()
	snap = waitIdle(t, c)
	assert.Equal(t, FetchReady, snap.Fetch[ResourceScopes].Status)
	assert.Nil(t, snap.Tuple.Scope)
	assert.Empty(t, snap.PendingScope)
	assert.Equal(t, "m1", snap.Tuple.MapName())
	assert.Equal(t, "c1", snap.Tuple.ClusterName())
}

func TestInteractivePickBeforeScopesWinsOverHydration(t *testing.T) {
	backend := newFakeBackend()
	release := backend.gate("ds", ResourceScopes)
	c := NewController("early-pick", backend)
	t.Cleanup(c.Close)

	_, err := c.Navigate("ds", "s1")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap := c.Snapshot()
		return snap.Fetch[ResourceMaps].Status == FetchReady && snap.Fetch[ResourceClusters].Status == FetchReady
	}, time.Second, 5*time.Millisecond)

	snap, err := c.SelectMap("m1")
	require.NoError(t, err)
	assert.Empty(t, snap.PendingScope)

	release()
	snap = waitIdle(t, c)
	assert.Equal(t, FetchReady, snap.Fetch[ResourceScopes].Status)
	assert.Equal(t, "m1", snap.Tuple.MapName())
	assert.Equal(t, "c1", snap.Tuple.ClusterName())
	assert.Empty(t, snap.Tuple.LabelModel)
	assert.Nil(t, snap.Tuple.Scope)
	assertConsistent(t, snap)
}

func TestFetchFailureIsRecordedAndRetryable(t *testing.T) {
	backend := newFakeBackend()
	backend.fail[ResourceMaps] = 1
	c := NewController("retry", backend)
	t.Cleanup(c.Close)
	_, err := c.Navigate("ds", "")
	require.NoError(t, err)
	snap := waitIdle(t, c)

	assert.Equal(t, FetchFailed, snap.Fetch[ResourceMaps].Status)
	assert.Contains(t, snap.Fetch[ResourceMaps].Error, "backend unavailable")
	assert.Equal(t, "e1", snap.Tuple.Embedding)
	assert.Nil(t, snap.Tuple.Map)
	assert.Nil(t, snap.Tuple.Cluster)

	_, err = c.Retry()
	require.NoError(t, err)
	snap = waitIdle(t, c)
	assert.Equal(t, FetchReady, snap.Fetch[ResourceMaps].Status)
	assert.Equal(t, "m1", snap.Tuple.MapName())
	assert.Equal(t, 2, backend.callCount(ResourceMaps))
	assert.Equal(t, 1, backend.callCount(ResourceEmbeddings), "only failed resources are retried")
}

func TestSetTextColumn(t *testing.T) {
	c := loaded(t, newFakeBackend())

	_, err := c.SetTextColumn(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownColumn)

	snap, err := c.SetTextColumn(context.Background(), "label")
	require.NoError(t, err)
	assert.Equal(t, "label", snap.TextColumn)
	assert.Equal(t, "label", snap.Dataset.TextColumn)
}

func TestSetTextColumnBeforeLoad(t *testing.T) {
	c := NewController("early", newFakeBackend())
	t.Cleanup(c.Close)
	_, err := c.SetTextColumn(context.Background(), "text")
	assert.ErrorIs(t, err, ErrNoDataset)
}

func TestLabelModelFollowsCluster(t *testing.T) {
	c := loaded(t, newFakeBackend())

	_, err := c.SelectMap("m2")
	require.NoError(t, err)
	snap, err := c.SelectLabelModel("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "c7", snap.Tuple.ClusterName())
	assert.Equal(t, "gpt-4o", snap.Tuple.LabelModel)

	snap = waitIdle(t, c)
	assert.Equal(t, []entity.LabelModelRef{"default", "gpt-4o"}, snap.Candidates.LabelModels)

	snap, err = c.SelectCluster("c8")
	require.NoError(t, err)
	assert.Empty(t, snap.Tuple.LabelModel)
	assert.Empty(t, snap.Desired.LabelModel)

	snap = waitIdle(t, c)
	assert.Equal(t, []entity.LabelModelRef{"default"}, snap.Candidates.LabelModels)
}

func TestSelectUnknownLayer(t *testing.T) {
	c := loaded(t, newFakeBackend())
	_, err := c.Select(Layer("scope"), "s1")
	assert.ErrorIs(t, err, ErrUnknownLayer)
}

func TestSelectLabelWithoutCluster(t *testing.T) {
	c := NewController("nolabel", newFakeBackend())
	t.Cleanup(c.Close)
	_, err := c.SelectLabelModel("gpt-4o")
	assert.ErrorIs(t, err, ErrNoCluster)
}

func TestCreatedArtifactsAppend(t *testing.T) {
	c := loaded(t, newFakeBackend())

	snap, err := c.AddMap(entity.MapArtifact{Name: "m4", Embeddings: "e1"})
	require.NoError(t, err)
	require.Len(t, snap.Lists.Maps, 4)
	assert.Len(t, snap.Candidates.Maps, 3)

	snap, err = c.AddMap(entity.MapArtifact{Name: "m4", Embeddings: "e1"})
	require.NoError(t, err)
	assert.Len(t, snap.Lists.Maps, 4)

	snap, err = c.AddCluster(entity.ClusterArtifact{ClusterName: "c10", UmapName: "m4"})
	require.NoError(t, err)
	assert.Len(t, snap.Lists.Clusters, 5)

	snap, err = c.AddEmbedding("e3")
	require.NoError(t, err)
	assert.Equal(t, []entity.EmbeddingRef{"e1", "e2", "e3"}, snap.Lists.Embeddings)

	_, err = c.AddMap(entity.MapArtifact{Name: "orphan"})
	assert.Error(t, err)
}

func TestRefreshReplacesListAndInvalidates(t *testing.T) {
	backend := newFakeBackend()
	c := loaded(t, backend)

	backend.mu.Lock()
	backend.data["ds"].maps = append(backend.data["ds"].maps, entity.MapArtifact{Name: "m5", Embeddings: "e2"})
	backend.mu.Unlock()

	_, err := c.Refresh(entity.KindMap)
	require.NoError(t, err)
	snap := waitIdle(t, c)

	assert.Len(t, snap.Lists.Maps, 4)
	backend.mu.Lock()
	assert.Equal(t, []entity.ArtifactKind{entity.KindMap}, backend.invalidated)
	backend.mu.Unlock()
}

func TestSaveScopeBecomesActive(t *testing.T) {
	c := loaded(t, newFakeBackend())

	saved, snap, err := c.SaveScope(context.Background(), ScopeDraft{Label: "First pass"})
	require.NoError(t, err)

	assert.Equal(t, "scopes-002", saved.Name)
	assert.Equal(t, "m1", saved.Umap)
	require.NotNil(t, snap.Tuple.Scope)
	assert.Equal(t, "scopes-002", snap.Tuple.Scope.Name)
	assert.Equal(t, "/datasets/ds/explore/scopes-002", snap.ExploreURL)
	require.Len(t, snap.Scopes, 2)
	assert.True(t, snap.Scopes[1].Active)
	assert.Equal(t, "/thumbs/c1.png", snap.Scopes[1].ThumbnailURL)
	assert.Equal(t, "/thumbs/c7.png", snap.Scopes[0].ThumbnailURL)
}

func TestSaveScopeNeedsResolvedTuple(t *testing.T) {
	c := NewController("unsaved", newFakeBackend())
	t.Cleanup(c.Close)
	_, _, err := c.SaveScope(context.Background(), ScopeDraft{})
	assert.ErrorIs(t, err, ErrIncompleteTuple)
}

func TestClosedControllerRejectsTransitions(t *testing.T) {
	c := NewController("closed", newFakeBackend())
	c.Close()
	_, err := c.Navigate("ds", "")
	assert.ErrorIs(t, err, ErrClosed)
}
