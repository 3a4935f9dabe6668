package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fichas-one/fichas/go/internal/store"
	"github.com/fichas-one/fichas/go/internal/store/memstore"
)

func startRelay(t *testing.T) (*Hub, *memstore.Room, string) {
	t.Helper()
	room := memstore.NewRoom()
	hub := NewHub(room, DefaultConnectionConfig())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, hub.Start(ctx))

	srv := httptest.NewServer(NewHandler(hub))
	t.Cleanup(srv.Close)
	return hub, room, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func next(t *testing.T, ch <-chan store.Snapshot) store.Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func TestRelay_SetNotifiesEveryClient(t *testing.T) {
	hub, _, url := startRelay(t)
	a := dial(t, url)
	b := dial(t, url)
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 2 }, 5*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	watchA, err := a.Watch(ctx)
	require.NoError(t, err)
	watchB, err := b.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Set(ctx, store.Patch{
		"sheet-a": map[string]any{"nome": "Aria", "vida": 4},
		"roster":  "Goblin,7",
	}))

	want := store.Snapshot{
		"sheet-a": map[string]any{"nome": "Aria", "vida": float64(4)},
		"roster":  "Goblin,7",
	}
	assert.Equal(t, want, next(t, watchA))
	assert.Equal(t, want, next(t, watchB))

	snap, err := b.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, snap)
}

func TestRelay_NilDeletes(t *testing.T) {
	_, room, url := startRelay(t)
	ctx := context.Background()
	require.NoError(t, room.Set(ctx, store.Patch{"log-1-a": map[string]any{"msg": "x"}, "roster": ""}))

	c := dial(t, url)
	require.NoError(t, c.Set(ctx, store.Patch{"log-1-a": nil}))

	snap, err := room.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Snapshot{"roster": ""}, snap)
}

func TestRelay_EmptyRoom(t *testing.T) {
	_, _, url := startRelay(t)
	c := dial(t, url)

	snap, err := c.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap)
	assert.NotNil(t, snap)
}

func TestRelay_RemoteErrors(t *testing.T) {
	_, _, url := startRelay(t)
	c := dial(t, url)

	err := c.Set(context.Background(), store.Patch{"": 1})
	assert.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), store.ErrInvalidKey.Error())
}

func TestClient_CloseEndsWatchAndRequests(t *testing.T) {
	_, _, url := startRelay(t)
	c, err := Dial(context.Background(), url)
	require.NoError(t, err)

	watch, err := c.Watch(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, ok := <-watch
	assert.False(t, ok)
	assert.ErrorIs(t, c.Set(context.Background(), store.Patch{"roster": ""}), store.ErrClosed)
	_, err = c.Watch(context.Background())
	assert.ErrorIs(t, err, store.ErrClosed)
}

func TestHealth(t *testing.T) {
	_, _, url := startRelay(t)
	httpURL := "http" + strings.TrimSuffix(strings.TrimPrefix(url, "ws"), "/ws") + "/health"

	resp, err := http.Get(httpURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
