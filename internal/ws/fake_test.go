package ws

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/darkden-lab/herald/internal/auth"
)

var errFakeClosed = errors.New("use of closed network connection")

// fakeTransport stands in for *websocket.Conn. Writes are recorded; a write
// error or a blocking gate can be injected to simulate broken or stalled
// peers.
type fakeTransport struct {
	mu        sync.Mutex
	written   [][]byte
	closeCode int
	writeErr  error
	gate      chan struct{}

	reads     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		reads:  make(chan []byte, 8),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-f.reads:
		return websocket.TextMessage, msg, nil
	case <-f.closed:
		return 0, nil, errFakeClosed
	}
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	gate, writeErr := f.gate, f.writeErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-f.closed:
			return errFakeClosed
		}
	}
	if writeErr != nil {
		return writeErr
	}
	if messageType != websocket.TextMessage {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) WriteControl(messageType int, data []byte, _ time.Time) error {
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		f.mu.Lock()
		f.closeCode = int(data[0])<<8 | int(data[1])
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeTransport) SetReadLimit(int64)                {}
func (f *fakeTransport) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeTransport) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeTransport) SetPongHandler(func(string) error) {}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) setWriteErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

func (f *fakeTransport) setGate(gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = gate
}

func (f *fakeTransport) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.written))
	for i, m := range f.written {
		out[i] = string(m)
	}
	return out
}

func (f *fakeTransport) lastCloseCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// openTestConn builds a running connection on a fake transport and registers
// it, the way Handler.ServeWS does.
func openTestConn(t *testing.T, reg *Registry, userID string, opts Options) (*Connection, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	identity := auth.Identity{UserID: userID, Email: userID + "@example.com"}
	c := newConnection(ft, identity, opts, func(c *Connection) { reg.Remove(c.ID) }, zerolog.Nop())
	c.start()
	if err := reg.Insert(c); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	t.Cleanup(func() {
		ft.Close() //nolint:errcheck
		c.finish()
	})
	return c, ft
}
