package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUserEvent(t *testing.T) {
	ev := NewUserEvent("alice@example.com")
	assert.Equal(t, EventNewUser, ev.Type)
	assert.Equal(t, "New user registered: alice@example.com", ev.Message)

	data, err := json.Marshal(Event{Type: EventNewUser, Message: "alice joined"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"new_user","message":"alice joined"}`, string(data))
}

func TestBroadcasterPublishToAll(t *testing.T) {
	reg := NewRegistry(0, zerolog.Nop())
	b := NewBroadcaster(reg, time.Second, zerolog.Nop())

	var fakes []*fakeTransport
	for i := 0; i < 3; i++ {
		_, ft := openTestConn(t, reg, fmt.Sprintf("user-%d", i), Options{})
		fakes = append(fakes, ft)
	}

	b.Publish(Event{Type: EventNewUser, Message: "alice joined"})
	b.Publish(Event{Type: EventNewUser, Message: "bob joined"})

	for _, ft := range fakes {
		ft := ft
		require.Eventually(t, func() bool { return len(ft.messages()) == 2 }, time.Second, 5*time.Millisecond)
		msgs := ft.messages()
		assert.JSONEq(t, `{"type":"new_user","message":"alice joined"}`, msgs[0])
		assert.JSONEq(t, `{"type":"new_user","message":"bob joined"}`, msgs[1])
	}

	stats := b.Stats()
	assert.Equal(t, 3, stats.Connections)
	assert.Equal(t, uint64(2), stats.Published)
	assert.Equal(t, uint64(6), stats.Delivered)
	assert.Zero(t, stats.Failed)
}

func TestBroadcasterPublishWithNoConnections(t *testing.T) {
	reg := NewRegistry(0, zerolog.Nop())
	b := NewBroadcaster(reg, time.Second, zerolog.Nop())

	assert.NotPanics(t, func() { b.Publish(NewUserEvent("nobody@example.com")) })
	assert.Equal(t, uint64(1), b.Stats().Published)
}

func TestBroadcasterIsolatesWriteFailure(t *testing.T) {
	reg := NewRegistry(0, zerolog.Nop())
	b := NewBroadcaster(reg, time.Second, zerolog.Nop())

	var healthy []*fakeTransport
	var broken *Connection
	for i := 0; i < 5; i++ {
		c, ft := openTestConn(t, reg, fmt.Sprintf("user-%d", i), Options{})
		if i == 2 {
			ft.setWriteErr(errors.New("connection reset by peer"))
			broken = c
			continue
		}
		healthy = append(healthy, ft)
	}

	b.Publish(NewUserEvent("carol@example.com"))

	for _, ft := range healthy {
		ft := ft
		require.Eventually(t, func() bool { return len(ft.messages()) == 1 }, time.Second, 5*time.Millisecond)
		assert.Contains(t, ft.messages()[0], "carol@example.com")
	}
	require.Eventually(t, func() bool { return reg.Size() == 4 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return b.Stats().Failed == 1 }, time.Second, 5*time.Millisecond,
		"a queued message that fails to write is a failed delivery")
	assert.Equal(t, uint64(1), reg.WriteFailures())
	for _, c := range reg.Snapshot() {
		assert.NotEqual(t, broken.ID, c.ID)
	}

	// The next publish reaches the survivors only.
	b.Publish(NewUserEvent("dave@example.com"))
	for _, ft := range healthy {
		ft := ft
		require.Eventually(t, func() bool { return len(ft.messages()) == 2 }, time.Second, 5*time.Millisecond)
	}
}

func TestBroadcasterClosesStalledConnection(t *testing.T) {
	reg := NewRegistry(0, zerolog.Nop())
	b := NewBroadcaster(reg, 50*time.Millisecond, zerolog.Nop())

	_, fast := openTestConn(t, reg, "fast", Options{SendBuffer: 1})
	slow, slowFT := openTestConn(t, reg, "slow", Options{SendBuffer: 1})
	gate := make(chan struct{})
	slowFT.setGate(gate)

	start := time.Now()
	for i := 0; i < 3; i++ {
		b.Publish(Event{Type: EventNewUser, Message: fmt.Sprintf("event %d", i)})
		time.Sleep(5 * time.Millisecond)
	}
	assert.Less(t, time.Since(start), time.Second, "a stalled peer must only delay publish by the delivery timeout")

	require.Eventually(t, func() bool { return len(fast.messages()) == 3 }, time.Second, 5*time.Millisecond)
	assert.NotEqual(t, StateOpen, slow.State())
	assert.Equal(t, 1, reg.Size())
	assert.Equal(t, uint64(1), b.Stats().Failed)

	close(gate)
	require.Eventually(t, slowFT.isClosed, time.Second, 5*time.Millisecond)
	assert.Equal(t, websocket.ClosePolicyViolation, slowFT.lastCloseCode())
}

func TestBroadcasterSkipsConnectionClosedAfterSnapshot(t *testing.T) {
	reg := NewRegistry(0, zerolog.Nop())
	b := NewBroadcaster(reg, time.Second, zerolog.Nop())
	c, ft := openTestConn(t, reg, "user-1", Options{})

	c.Close(websocket.CloseNormalClosure, "")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	assert.False(t, b.deliver(ctx, c, []byte(`{}`)))
	assert.Empty(t, ft.messages())
	assert.Zero(t, b.Stats().Failed, "a connection already closing is not a delivery failure")
}

func TestBroadcasterConcurrentPublishAndChurn(t *testing.T) {
	reg := NewRegistry(0, zerolog.Nop())
	b := NewBroadcaster(reg, time.Second, zerolog.Nop())

	stable, stableFT := openTestConn(t, reg, "stable", Options{SendBuffer: 256})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				b.Publish(Event{Type: EventNewUser, Message: fmt.Sprintf("p%d-%d", i, j)})
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				c := newConnection(newFakeTransport(), stable.Identity, Options{}, func(c *Connection) { reg.Remove(c.ID) }, zerolog.Nop())
				c.start()
				if err := reg.Insert(c); err == nil {
					c.Close(websocket.CloseNormalClosure, "")
				}
				c.finish()
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(stableFT.messages()) == 40 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, reg.Size())
}

func TestStatsHandler(t *testing.T) {
	reg := NewRegistry(0, zerolog.Nop())
	b := NewBroadcaster(reg, time.Second, zerolog.Nop())
	openTestConn(t, reg, "user-1", Options{})
	b.Publish(NewUserEvent("x@example.com"))

	rr := httptest.NewRecorder()
	StatsHandler(b).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/ws/stats", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var stats Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, uint64(1), stats.Published)
	assert.Equal(t, uint64(1), stats.Delivered)
}
