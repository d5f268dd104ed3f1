package relay

import "fmt"

// Side identifies one of the two sockets a session owns
type Side int

const (
	SideDownstream Side = iota
	SideUpstream
)

func (s Side) String() string {
	if s == SideUpstream {
		return "upstream"
	}
	return "downstream"
}

// State is the lifecycle position of a session
type State int

const (
	StateConnecting State = iota // downstream accepted, upstream dial in progress
	StateOpen                    // upstream handshake succeeded
	StateStreaming               // at least one audio byte relayed
	StateClosing                 // teardown requested, draining upstream results
	StateClosed                  // terminal
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateStreaming:
		return "STREAMING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event is anything the session reacts to. The set is closed: only the
// types in this file implement it.
type Event interface {
	isEvent()
}

// AudioFrame is a binary frame from the downstream client
type AudioFrame struct {
	Data []byte
}

// ControlSignal is a text frame from the downstream client
type ControlSignal struct {
	Raw []byte
}

// UpstreamOpened reports a completed upstream handshake
type UpstreamOpened struct {
	Conn      Socket
	RequestID string
}

// UpstreamRejected reports a failed dial or a rejected handshake
type UpstreamRejected struct {
	Err error
}

// UpstreamMessage is a frame received from upstream
type UpstreamMessage struct {
	Data   []byte
	Binary bool
}

// SocketClosed reports a close frame received on one side
type SocketClosed struct {
	Side   Side
	Code   int
	Reason string
}

// SocketErrored reports a read failure on one side
type SocketErrored struct {
	Side Side
	Err  error
}

// KeepAliveTick fires on the keep-alive interval
type KeepAliveTick struct{}

// StatsTick fires on the stats interval
type StatsTick struct{}

// CloseDeadline fires when a draining session has waited long enough for upstream
type CloseDeadline struct{}

func (AudioFrame) isEvent()       {}
func (ControlSignal) isEvent()    {}
func (UpstreamOpened) isEvent()   {}
func (UpstreamRejected) isEvent() {}
func (UpstreamMessage) isEvent()  {}
func (SocketClosed) isEvent()     {}
func (SocketErrored) isEvent()    {}
func (KeepAliveTick) isEvent()    {}
func (StatsTick) isEvent()        {}
func (CloseDeadline) isEvent()    {}
