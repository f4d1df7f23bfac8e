package session

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latentsetup/internal/setup/repository/sessionstore"
)

func TestManagerRestoresPersistedSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	backend := newFakeBackend()

	m := NewManager(backend, sessionstore.New(path))
	c, snap, err := m.Create("ds", "")
	require.NoError(t, err)
	assert.Equal(t, c.ID(), snap.SessionID)
	waitIdle(t, c)
	_, err = c.SelectMap("m2")
	require.NoError(t, err)
	_, err = c.SetSelectedIndices([]int{4})
	require.NoError(t, err)
	id := c.ID()
	m.Close()

	restored := NewManager(backend, sessionstore.New(path))
	t.Cleanup(restored.Close)
	c2, err := restored.Get(id)
	require.NoError(t, err)
	got := waitIdle(t, c2)

	assert.Equal(t, "ds", got.DatasetID)
	assert.Equal(t, "m2", got.Tuple.MapName())
	assert.Equal(t, "c7", got.Tuple.ClusterName())
	assert.Equal(t, []int{4}, got.Selected)

	again, err := restored.Get(id)
	require.NoError(t, err)
	assert.Same(t, c2, again)
}

func TestManagerGetUnknown(t *testing.T) {
	m := NewManager(newFakeBackend(), sessionstore.New(filepath.Join(t.TempDir(), "s.json")))
	t.Cleanup(m.Close)

	_, err := m.Get("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Get(" ")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerDelete(t *testing.T) {
	m := NewManager(newFakeBackend(), sessionstore.New(filepath.Join(t.TempDir(), "s.json")))
	t.Cleanup(m.Close)
	c, _, err := m.Create("ds", "s1")
	require.NoError(t, err)
	waitIdle(t, c)

	require.NoError(t, m.Delete(c.ID()))
	_, err = m.Get(c.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = c.SelectMap("m1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManagerWithoutStore(t *testing.T) {
	m := NewManager(newFakeBackend(), nil)
	t.Cleanup(m.Close)
	c, _, err := m.Create("ds", "")
	require.NoError(t, err)
	waitIdle(t, c)

	got, err := m.Get(c.ID())
	require.NoError(t, err)
	assert.Same(t, c, got)
	assert.ErrorIs(t, m.Delete("missing"), ErrSessionNotFound)
}

func TestManagerCreateRequiresDataset(t *testing.T) {
	m := NewManager(newFakeBackend(), nil)
	t.Cleanup(m.Close)
	_, _, err := m.Create("", "")
	assert.Error(t, err)
}

// blockingStore holds Get of one id until release is closed.
type blockingStore struct {
	*sessionstore.Store
	slowID  string
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) Get(id string) (sessionstore.Record, error) {
	if id == s.slowID {
		close(s.entered)
		<-s.release
	}
	return s.Store.Get(id)
}

func TestManagerGetDoesNotBlockOnSlowRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	backend := newFakeBackend()

	seed := NewManager(backend, sessionstore.New(path))
	old, _, err := seed.Create("ds", "")
	require.NoError(t, err)
	waitIdle(t, old)
	seed.Close()

	store := &blockingStore{
		Store:   sessionstore.New(path),
		slowID:  old.ID(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	m := NewManager(backend, store)
	t.Cleanup(m.Close)
	live, _, err := m.Create("ds", "")
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		restored *Controller
		slowErr  error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		restored, slowErr = m.Get(old.ID())
	}()
	<-store.entered

	got := make(chan *Controller, 1)
	go func() {
		c, _ := m.Get(live.ID())
		got <- c
	}()
	select {
	case c := <-got:
		assert.Same(t, live, c)
	case <-time.After(time.Second):
		t.Fatal("Get of a live session waited on a restore")
	}

	close(store.release)
	wg.Wait()
	require.NoError(t, slowErr)
	assert.Equal(t, old.ID(), restored.ID())
	waitIdle(t, restored)

	again, err := m.Get(old.ID())
	require.NoError(t, err)
	assert.Same(t, restored, again)
}
