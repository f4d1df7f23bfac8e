// Package session runs setup sessions: one dataset, the artifact lists known
// for it, the user's desired picks and the resolved selection derived from
// them.
package session

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"latentsetup/internal/selection"
	"latentsetup/internal/setup/entity"
	"latentsetup/internal/setup/repository/sessionstore"
)

// Controller serializes every transition of one session under mu. Each
// transition resolves the tuple before its snapshot is published, and fetch
// results carrying an older generation are dropped.
type Controller struct {
	id      string
	backend Backend
	persist func(sessionstore.Record)

	base       context.Context
	baseCancel context.CancelFunc

	mu     sync.Mutex
	closed bool

	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc

	datasetID    string
	dataset      *entity.Dataset
	textColumn   string
	lists        selection.Lists
	desired      selection.Desired
	tuple        selection.Tuple
	pendingScope string

	labelsFor   string
	labelModels []entity.LabelModelRef

	selected []int
	fetch    map[Resource]FetchState

	version   uint64
	changed   chan struct{}
	inflight  int
	idle      chan struct{}
	persisted sessionstore.Record
	persistMu sync.Mutex

	// viewMu orders dispatches to attached views; it is never taken while
	// holding mu.
	viewMu   sync.Mutex
	views    map[int]MapView
	nextView int
}

// NewController returns an idle session. Call Navigate to load a dataset.
func NewController(id string, backend Backend) *Controller {
	return newController(context.Background(), id, backend, nil)
}

func newController(parent context.Context, id string, backend Backend, persist func(sessionstore.Record)) *Controller {
	base, cancel := context.WithCancel(parent)
	return &Controller{
		id:         id,
		backend:    backend,
		persist:    persist,
		base:       base,
		baseCancel: cancel,
		ctx:        base,
		fetch:      idleFetch(),
		changed:    make(chan struct{}),
		idle:       make(chan struct{}),
		views:      make(map[int]MapView),
	}
}

func idleFetch() map[Resource]FetchState {
	out := make(map[Resource]FetchState, len(datasetResources)+1)
	for _, r := range datasetResources {
		out[r] = FetchState{Status: FetchIdle}
	}
	out[ResourceLabels] = FetchState{Status: FetchIdle}
	return out
}

func (c *Controller) ID() string {
	return c.id
}

// Navigate points the session at datasetID and, optionally, a saved scope.
// A new dataset replaces all prior state and cancels the previous
// generation's fetches. The same dataset only re-targets the scope.
func (c *Controller) Navigate(datasetID, scopeName string) (Snapshot, error) {
	datasetID = strings.TrimSpace(datasetID)
	scopeName = strings.TrimSpace(scopeName)
	if datasetID == "" {
		return Snapshot{}, fmt.Errorf("dataset id is required")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if datasetID == c.datasetID && c.gen > 0 {
		c.pendingScope = scopeName
		c.desired.Scope = scopeName
	} else {
		c.resetLocked(datasetID)
		c.pendingScope = scopeName
		c.desired.Scope = scopeName
		c.fetchLocked(datasetResources...)
	}
	return c.commitLocked()
}

// NavigateScope navigates to scopeName within the current dataset.
func (c *Controller) NavigateScope(scopeName string) (Snapshot, error) {
	c.mu.Lock()
	datasetID := c.datasetID
	c.mu.Unlock()
	if datasetID == "" {
		return Snapshot{}, ErrNoDataset
	}
	return c.Navigate(datasetID, scopeName)
}

// restore re-creates a persisted session and starts loading its dataset.
func (c *Controller) restore(rec sessionstore.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.DatasetID == "" {
		return
	}
	c.resetLocked(rec.DatasetID)
	c.desired = rec.Desired
	c.pendingScope = rec.PendingScope
	c.selected = append([]int(nil), rec.Selected...)
	c.persisted = c.recordLocked()
	c.fetchLocked(datasetResources...)
	c.recomputeLocked()
}

func (c *Controller) resetLocked(datasetID string) {
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	c.ctx, c.cancel = context.WithCancel(c.base)

	c.datasetID = datasetID
	c.dataset = nil
	c.textColumn = ""
	c.lists = selection.Lists{}
	c.desired = selection.Desired{}
	c.tuple = selection.Tuple{}
	c.pendingScope = ""
	c.labelsFor = ""
	c.labelModels = nil
	c.selected = nil
	c.fetch = idleFetch()
}

// Retry refetches the given resources, or every failed one when none are
// named.
func (c *Controller) Retry(resources ...Resource) (Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if c.datasetID == "" {
		c.mu.Unlock()
		return Snapshot{}, ErrNoDataset
	}
	if len(resources) == 0 {
		for _, r := range append(slices.Clone(datasetResources), ResourceLabels) {
			if c.fetch[r].Status == FetchFailed {
				resources = append(resources, r)
			}
		}
	}
	var lists []Resource
	for _, r := range resources {
		switch {
		case r == ResourceLabels:
			c.labelsFor = ""
		case slices.Contains(datasetResources, r):
			lists = append(lists, r)
		}
	}
	if len(lists) > 0 {
		c.fetchLocked(lists...)
	}
	return c.commitLocked()
}

// Refresh replaces the list of kind with the backend's current full list.
func (c *Controller) Refresh(kind entity.ArtifactKind) (Snapshot, error) {
	r := resourceOf(kind)
	if r == "" {
		return Snapshot{}, fmt.Errorf("unknown artifact kind %q", kind)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if c.datasetID == "" {
		c.mu.Unlock()
		return Snapshot{}, ErrNoDataset
	}
	if inv, ok := c.backend.(invalidator); ok {
		inv.Invalidate(c.datasetID, kind)
	}
	if kind == entity.KindCluster {
		c.labelsFor = ""
	}
	c.fetchLocked(r)
	return c.commitLocked()
}

// fetchLocked starts one background load of resources for the current
// generation.
func (c *Controller) fetchLocked(resources ...Resource) {
	gen, ctx, datasetID := c.gen, c.ctx, c.datasetID
	for _, r := range resources {
		c.fetch[r] = FetchState{Status: FetchLoading}
	}
	c.goLocked(func() {
		var g errgroup.Group
		g.SetLimit(4)
		for _, r := range resources {
			g.Go(func() error {
				c.fetchOne(ctx, gen, datasetID, r)
				return nil
			})
		}
		_ = g.Wait()
	})
}

func (c *Controller) fetchOne(ctx context.Context, gen uint64, datasetID string, r Resource) {
	switch r {
	case ResourceMeta:
		ds, err := c.backend.GetDataset(ctx, datasetID)
		c.apply(gen, r, err, func() {
			c.dataset = ds.Clone()
			c.textColumn = c.dataset.DefaultTextColumn()
		})
	case ResourceEmbeddings:
		list, err := c.backend.ListEmbeddings(ctx, datasetID)
		c.apply(gen, r, err, func() { c.lists.Embeddings = slices.Clone(list) })
	case ResourceMaps:
		list, err := c.backend.ListMaps(ctx, datasetID)
		c.apply(gen, r, err, func() { c.lists.Maps = slices.Clone(list) })
	case ResourceClusters:
		list, err := c.backend.ListClusters(ctx, datasetID)
		c.apply(gen, r, err, func() { c.lists.Clusters = slices.Clone(list) })
	case ResourceScopes:
		list, err := c.backend.ListScopes(ctx, datasetID)
		c.apply(gen, r, err, func() { c.lists.Scopes = slices.Clone(list) })
	}
}

// apply records one fetch result unless the session has moved on.
func (c *Controller) apply(gen uint64, r Resource, err error, set func()) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.fetch[r] = failed(err)
		log.Printf("session %s: fetch %s of %s failed: %v", c.id, r, c.datasetID, err)
	} else {
		set()
		c.fetch[r] = FetchState{Status: FetchReady}
	}
	c.commitAsync()
}

// goLocked runs fn in the background and tracks it for Wait.
func (c *Controller) goLocked(fn func()) {
	c.inflight++
	go func() {
		defer func() {
			c.mu.Lock()
			c.inflight--
			if c.inflight == 0 {
				close(c.idle)
				c.idle = make(chan struct{})
			}
			c.mu.Unlock()
		}()
		fn()
	}()
}

// Wait blocks until no fetch is in flight.
func (c *Controller) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.inflight == 0 {
			c.mu.Unlock()
			return nil
		}
		ch := c.idle
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// recomputeLocked runs hydration and resolution, then keeps the label model
// candidates in step with the resolved cluster.
func (c *Controller) recomputeLocked() {
	if c.pendingScope != "" {
		if want, ok := selection.Hydrate(c.lists.Scopes, c.pendingScope, c.desired); ok {
			c.desired = want
			c.pendingScope = ""
		} else if c.fetch[ResourceScopes].Status == FetchReady {
			log.Printf("session %s: scope %q not found in %s", c.id, c.pendingScope, c.datasetID)
			c.pendingScope = ""
		}
	}
	c.tuple, c.desired = selection.Reduce(c.lists, c.desired)
	c.syncLabelModelsLocked()
}

func (c *Controller) syncLabelModelsLocked() {
	cluster := c.tuple.ClusterName()
	if cluster == c.labelsFor {
		return
	}
	c.labelsFor = cluster
	c.labelModels = nil
	if cluster == "" {
		c.fetch[ResourceLabels] = FetchState{Status: FetchIdle}
		return
	}
	c.fetch[ResourceLabels] = FetchState{Status: FetchLoading}
	gen, ctx, datasetID := c.gen, c.ctx, c.datasetID
	c.goLocked(func() {
		models, err := c.backend.ListLabelModels(ctx, datasetID, cluster)
		c.mu.Lock()
		if gen != c.gen || c.closed || c.labelsFor != cluster {
			c.mu.Unlock()
			return
		}
		if err != nil {
			c.fetch[ResourceLabels] = failed(err)
			log.Printf("session %s: label models of %s failed: %v", c.id, cluster, err)
		} else {
			c.labelModels = slices.Clone(models)
			c.fetch[ResourceLabels] = FetchState{Status: FetchReady}
		}
		c.commitAsync()
	})
}

// commitLocked finishes a transition started by a caller: it resolves,
// publishes and persists, then returns the new snapshot. It releases mu.
func (c *Controller) commitLocked() (Snapshot, error) {
	c.recomputeLocked()
	c.version++
	c.notifyLocked()
	snap := c.snapshotLocked()
	dirty := c.markDirtyLocked()
	c.mu.Unlock()
	if dirty {
		c.flush()
	}
	return snap, nil
}

// flush writes the latest record. Writers queue on persistMu, so the last
// write always carries the newest state.
func (c *Controller) flush() {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	c.mu.Lock()
	rec := c.persisted
	c.mu.Unlock()
	c.persist(rec)
}

// commitAsync is commitLocked for background results.
func (c *Controller) commitAsync() {
	_, _ = c.commitLocked()
}

func (c *Controller) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Controller) recordLocked() sessionstore.Record {
	return sessionstore.Record{
		SessionID:    c.id,
		DatasetID:    c.datasetID,
		PendingScope: c.pendingScope,
		Desired:      c.desired,
		Selected:     slices.Clone(c.selected),
	}
}

func (c *Controller) markDirtyLocked() bool {
	if c.persist == nil || c.datasetID == "" {
		return false
	}
	rec := c.recordLocked()
	p := c.persisted
	if rec.DatasetID == p.DatasetID && rec.PendingScope == p.PendingScope &&
		rec.Desired == p.Desired && slices.Equal(rec.Selected, p.Selected) {
		return false
	}
	c.persisted = rec
	return true
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:    c.id,
		DatasetID:    c.datasetID,
		Generation:   c.gen,
		Version:      c.version,
		Dataset:      c.dataset.Clone(),
		TextColumn:   c.textColumn,
		Lists:        c.lists.Clone(),
		Desired:      c.desired,
		Tuple:        c.tuple,
		PendingScope: c.pendingScope,
		Candidates: Candidates{
			Maps:        selection.MapsFor(c.lists.Maps, c.tuple.Embedding),
			Clusters:    selection.ClustersFor(c.lists.Clusters, c.tuple.MapName()),
			LabelModels: append([]entity.LabelModelRef{}, c.labelModels...),
		},
		Scopes:   c.scopeOptionsLocked(),
		Selected: append([]int{}, c.selected...),
		Fetch:    make(map[Resource]FetchState, len(c.fetch)),
	}
	for r, st := range c.fetch {
		snap.Fetch[r] = st
	}
	if c.tuple.Scope != nil {
		snap.ExploreURL = ExploreURL(c.datasetID, c.tuple.Scope.Name)
	}
	return snap
}

func (c *Controller) scopeOptionsLocked() []ScopeOption {
	out := make([]ScopeOption, 0, len(c.lists.Scopes))
	for _, s := range c.lists.Scopes {
		opt := ScopeOption{Scope: s, Active: c.tuple.Scope != nil && c.tuple.Scope.Name == s.Name}
		for _, cl := range c.lists.Clusters {
			if cl.ClusterName == s.Cluster && cl.UmapName == s.Umap {
				opt.ThumbnailURL = cl.URL
				break
			}
		}
		out = append(out, opt)
	}
	return out
}

// ExploreURL is the explore page of a scope.
func ExploreURL(datasetID, scopeName string) string {
	return "/datasets/" + url.PathEscape(datasetID) + "/explore/" + url.PathEscape(scopeName)
}

// Subscribe emits a snapshot now and after every transition until ctx is
// done. A slow reader only misses intermediate snapshots.
func (c *Controller) Subscribe(ctx context.Context) <-chan Snapshot {
	out := make(chan Snapshot, 4)
	go func() {
		defer close(out)
		var last uint64
		sent := false
		for {
			c.mu.Lock()
			snap := c.snapshotLocked()
			ch := c.changed
			closed := c.closed
			c.mu.Unlock()

			if !sent || snap.Version != last {
				pushSnapshot(out, snap)
				last, sent = snap.Version, true
			}
			if closed {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ch:
			}
		}
	}()
	return out
}

func pushSnapshot(out chan Snapshot, snap Snapshot) {
	select {
	case out <- snap:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	select {
	case out <- snap:
	default:
	}
}

// Close cancels every fetch and ends subscriptions.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.notifyLocked()
	c.mu.Unlock()
	c.baseCancel()
}
