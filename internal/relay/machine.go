// ABOUTME: State machine for one streaming chat turn
// ABOUTME: One transition method per event; illegal transitions return TransitionError

package relay

import "strings"

// State is a streaming turn's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateCredentialResolved
	StateStreamOpen
	StateEmitting
	StateFinishing
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCredentialResolved:
		return "credential_resolved"
	case StateStreamOpen:
		return "stream_open"
	case StateEmitting:
		return "emitting"
	case StateFinishing:
		return "finishing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// stream tracks one turn: its state, the resolved model, and the reply
// accumulated from deltas.
type stream struct {
	state State
	model string
	reply strings.Builder
	err   error
}

func newStream() *stream {
	return &stream{state: StateIdle}
}

// credentialResolved records the model chosen for the turn.
func (s *stream) credentialResolved(model string) error {
	if s.state != StateIdle {
		return &TransitionError{From: s.state, Event: "credential_resolved"}
	}
	s.model = model
	s.state = StateCredentialResolved
	return nil
}

func (s *stream) streamOpened() error {
	if s.state != StateCredentialResolved {
		return &TransitionError{From: s.state, Event: "stream_opened"}
	}
	s.state = StateStreamOpen
	return nil
}

// frameParsed appends a delta to the reply.
func (s *stream) frameParsed(delta string) error {
	if s.state != StateStreamOpen && s.state != StateEmitting {
		return &TransitionError{From: s.state, Event: "frame_parsed"}
	}
	s.reply.WriteString(delta)
	s.state = StateEmitting
	return nil
}

// doneReceived ends the stream and returns the full reply. The turn is not
// complete until the reply is persisted.
func (s *stream) doneReceived() (string, error) {
	if s.state != StateStreamOpen && s.state != StateEmitting {
		return "", &TransitionError{From: s.state, Event: "done_received"}
	}
	s.state = StateFinishing
	return s.reply.String(), nil
}

func (s *stream) persisted() error {
	if s.state != StateFinishing {
		return &TransitionError{From: s.state, Event: "persisted"}
	}
	s.state = StateCompleted
	return nil
}

// failed moves any non-terminal turn to Failed and returns err for chaining.
func (s *stream) failed(err error) error {
	if s.state == StateCompleted || s.state == StateFailed {
		return err
	}
	s.state = StateFailed
	s.err = err
	return err
}
