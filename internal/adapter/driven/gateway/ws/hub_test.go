package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsechat/pulse/internal/core/domain"
)

type fakeConn struct {
	userID domain.UserID

	mu      sync.Mutex
	sendErr error
	sent    []string
	closed  int
}

func (c *fakeConn) UserID() domain.UserID { return c.userID }

func (c *fakeConn) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, event)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) sentEvents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func waitOpen(t *testing.T, h *Hub, userID domain.UserID, open bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.IsOpen(userID) == open
	}, time.Second, 5*time.Millisecond)
}

func TestHub_RegisterAndSend(t *testing.T) {
	h := startHub(t)
	c := &fakeConn{userID: "alice"}

	h.Register(c)
	waitOpen(t, h, "alice", true)

	h.Send(context.Background(), "alice", "new-message", map[string]string{"x": "y"})
	assert.Equal(t, []string{"new-message"}, c.sentEvents())

	// Unknown recipients are swallowed.
	h.Send(context.Background(), "nobody", "new-message", nil)
}

func TestHub_ReconnectSupersedesOldConnection(t *testing.T) {
	h := startHub(t)
	old := &fakeConn{userID: "alice"}
	fresh := &fakeConn{userID: "alice"}

	var mu sync.Mutex
	disconnects := 0
	h.SetDisconnectListener(func(userID domain.UserID) {
		mu.Lock()
		defer mu.Unlock()
		disconnects++
	})

	h.Register(old)
	waitOpen(t, h, "alice", true)
	h.Register(fresh)

	require.Eventually(t, func() bool {
		return old.closeCount() == 1
	}, time.Second, 5*time.Millisecond)

	// The stale connection's read loop exiting must not tear down the new
	// connection or fire the disconnect callback.
	h.Unregister(old)
	time.Sleep(20 * time.Millisecond)
	assert.True(t, h.IsOpen("alice"))
	mu.Lock()
	assert.Zero(t, disconnects)
	mu.Unlock()

	h.Send(context.Background(), "alice", "ping", nil)
	assert.Equal(t, []string{"ping"}, fresh.sentEvents())
	assert.Empty(t, old.sentEvents())
}

func TestHub_UnregisterFiresDisconnectOnce(t *testing.T) {
	h := startHub(t)
	c := &fakeConn{userID: "alice"}

	var mu sync.Mutex
	var gone []domain.UserID
	h.SetDisconnectListener(func(userID domain.UserID) {
		mu.Lock()
		defer mu.Unlock()
		gone = append(gone, userID)
	})

	h.Register(c)
	waitOpen(t, h, "alice", true)

	h.Unregister(c)
	waitOpen(t, h, "alice", false)
	h.Unregister(c)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, []domain.UserID{"alice"}, gone)
	mu.Unlock()
	assert.Equal(t, 1, c.closeCount())
}

func TestHub_DisconnectListenerMaySendThroughHub(t *testing.T) {
	h := startHub(t)
	alice := &fakeConn{userID: "alice"}
	bob := &fakeConn{userID: "bob", sendErr: errors.New("broken pipe")}

	// Both parties of a call drop at once: alice's disconnect relays the
	// call teardown to bob, whose write fails and evicts his connection.
	// That eviction re-enters the hub while the listener is still running.
	h.SetDisconnectListener(func(userID domain.UserID) {
		if userID == "alice" {
			h.Send(context.Background(), "bob", "call-ended", nil)
		}
	})

	h.Register(alice)
	h.Register(bob)
	waitOpen(t, h, "alice", true)
	waitOpen(t, h, "bob", true)

	h.Unregister(alice)

	// The event loop must stay responsive throughout.
	registered := make(chan struct{})
	go func() {
		h.Register(&fakeConn{userID: "carol"})
		close(registered)
	}()
	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("hub event loop stalled while the disconnect listener sent through it")
	}

	waitOpen(t, h, "alice", false)
	waitOpen(t, h, "bob", false)
	waitOpen(t, h, "carol", true)
}

func TestHub_SendErrorEvictsConnection(t *testing.T) {
	h := startHub(t)
	c := &fakeConn{userID: "alice", sendErr: errors.New("broken pipe")}

	h.Register(c)
	waitOpen(t, h, "alice", true)

	h.Send(context.Background(), "alice", "ping", nil)
	waitOpen(t, h, "alice", false)
}
