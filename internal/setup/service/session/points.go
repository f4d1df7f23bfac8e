package session

import (
	"log"
	"slices"
)

// AttachMapView registers v for selection commands. The returned func
// detaches it.
func (c *Controller) AttachMapView(v MapView) (detach func()) {
	c.viewMu.Lock()
	id := c.nextView
	c.nextView++
	c.views[id] = v
	c.viewMu.Unlock()
	return func() {
		c.viewMu.Lock()
		delete(c.views, id)
		c.viewMu.Unlock()
	}
}

// SetSelectedIndices records the rows brushed on a map view. Indices outside
// the dataset are dropped and duplicates collapse, keeping first-seen order.
func (c *Controller) SetSelectedIndices(indices []int) (Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	limit := -1
	if c.dataset != nil && c.dataset.Length > 0 {
		limit = c.dataset.Length
	}
	seen := make(map[int]struct{}, len(indices))
	out := make([]int, 0, len(indices))
	for _, i := range indices {
		if i < 0 || (limit >= 0 && i >= limit) {
			continue
		}
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	c.selected = out
	return c.commitLocked()
}

// ClearSelection empties the selection, then tells every attached view to
// select nothing and recenter. Views see the two commands in that order and
// concurrent clears do not interleave.
func (c *Controller) ClearSelection() (Snapshot, error) {
	c.viewMu.Lock()
	defer c.viewMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	c.selected = nil
	snap, err := c.commitLocked()
	if err != nil {
		return snap, err
	}

	ids := make([]int, 0, len(c.views))
	for id := range c.views {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		v := c.views[id]
		if err := v.Select([]int{}); err != nil {
			log.Printf("session %s: view select failed: %v", c.id, err)
		}
		if err := v.ZoomToOrigin(DefaultRecenter); err != nil {
			log.Printf("session %s: view zoom failed: %v", c.id, err)
		}
	}
	return snap, nil
}
