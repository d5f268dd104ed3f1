package capture

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// ErrSenderClosed is returned when a message is queued after Close
var ErrSenderClosed = errors.New("sender closed")

// FrameWriter is the relay connection. *websocket.Conn satisfies it.
type FrameWriter interface {
	WriteMessage(messageType int, data []byte) error
}

type outbound struct {
	messageType int
	data        []byte
}

// Sender owns all writes to the relay connection. Audio is offered without
// blocking; while more than threshold bytes are queued but not yet written,
// new frames are dropped, never queued or retried. The byte count is the
// only bound on the queue.
type Sender struct {
	w         FrameWriter
	threshold int64

	mu     sync.Mutex
	queue  []outbound
	closed bool
	err    error // first write error

	wake chan struct{}
	done chan struct{}

	pending   atomic.Int64
	sent      atomic.Int64
	sentBytes atomic.Int64
	dropped   atomic.Int64
}

// NewSender creates a sender; call Run to start writing
func NewSender(w FrameWriter, threshold int) *Sender {
	return &Sender{
		w:         w,
		threshold: int64(threshold),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Offer queues one PCM16 frame. It never blocks and reports whether the frame was accepted.
func (s *Sender) Offer(frame []byte) bool {
	if len(frame) == 0 {
		return false
	}

	s.mu.Lock()
	if s.closed || s.err != nil || s.pending.Load() > s.threshold {
		s.mu.Unlock()
		s.dropped.Add(1)
		return false
	}
	s.pending.Add(int64(len(frame)))
	s.queue = append(s.queue, outbound{messageType: websocket.BinaryMessage, data: frame})
	s.mu.Unlock()

	s.signal()
	return true
}

// SendControl queues a JSON control message behind any queued audio.
// It fails once the sender is closed or the connection has failed.
func (s *Sender) SendControl(data []byte) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrSenderClosed
	case s.err != nil:
		err := s.err
		s.mu.Unlock()
		return err
	}
	s.queue = append(s.queue, outbound{messageType: websocket.TextMessage, data: data})
	s.mu.Unlock()

	s.signal()
	return nil
}

// Run writes queued messages in order until Close, then drains what is left
func (s *Sender) Run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		closed := s.closed
		s.mu.Unlock()

		if len(batch) == 0 {
			if closed {
				return
			}
			<-s.wake
			continue
		}
		for _, msg := range batch {
			s.write(msg)
		}
	}
}

func (s *Sender) write(msg outbound) {
	if msg.messageType == websocket.BinaryMessage {
		defer s.pending.Add(-int64(len(msg.data)))
	}

	s.mu.Lock()
	failed := s.err != nil
	s.mu.Unlock()
	// after a failed write the connection is unusable; discard the rest
	if failed {
		return
	}

	if err := s.w.WriteMessage(msg.messageType, msg.data); err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		return
	}
	if msg.messageType == websocket.BinaryMessage {
		s.sent.Add(1)
		s.sentBytes.Add(int64(len(msg.data)))
	}
}

func (s *Sender) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close stops accepting messages; Run returns once the queue is drained
func (s *Sender) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

// Wait blocks until Run has returned and reports the first write error
func (s *Sender) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Pending returns bytes queued but not yet written
func (s *Sender) Pending() int64 {
	return s.pending.Load()
}

// Sent returns the number of audio frames written
func (s *Sender) Sent() int64 {
	return s.sent.Load()
}

// SentBytes returns the number of audio bytes written
func (s *Sender) SentBytes() int64 {
	return s.sentBytes.Load()
}

// Dropped returns the number of audio frames rejected by Offer
func (s *Sender) Dropped() int64 {
	return s.dropped.Load()
}
