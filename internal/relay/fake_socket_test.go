package relay

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

var errFakeClosed = errors.New("use of closed network connection")

type frame struct {
	messageType int
	data        []byte
}

type readResult struct {
	messageType int
	data        []byte
	err         error
}

// fakeSocket records writes and serves reads from a channel
type fakeSocket struct {
	mu         sync.Mutex
	written    []frame
	closeCount int

	incoming  chan readResult
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		incoming: make(chan readResult, 16),
		closed:   make(chan struct{}),
	}
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case r := <-f.incoming:
		return r.messageType, r.data, r.err
	case <-f.closed:
		return 0, nil, errFakeClosed
	}
}

func (f *fakeSocket) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.closed:
		return errFakeClosed
	default:
	}
	f.written = append(f.written, frame{messageType: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	f.closeCount++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSocket) sendText(s string) {
	f.incoming <- readResult{messageType: websocket.TextMessage, data: []byte(s)}
}

func (f *fakeSocket) sendBinary(b []byte) {
	f.incoming <- readResult{messageType: websocket.BinaryMessage, data: b}
}

func (f *fakeSocket) sendClose(code int, text string) {
	f.incoming <- readResult{err: &websocket.CloseError{Code: code, Text: text}}
}

func (f *fakeSocket) frames() []frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]frame(nil), f.written...)
}

func (f *fakeSocket) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCount
}

func (f *fakeSocket) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// texts returns the text frames whose "type" equals msgType
func (f *fakeSocket) texts(msgType string) []gjson.Result {
	var out []gjson.Result
	for _, fr := range f.frames() {
		if fr.messageType != websocket.TextMessage {
			continue
		}
		if msg := gjson.ParseBytes(fr.data); msg.Get("type").String() == msgType {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeSocket) binaries() [][]byte {
	var out [][]byte
	for _, fr := range f.frames() {
		if fr.messageType == websocket.BinaryMessage {
			out = append(out, fr.data)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
