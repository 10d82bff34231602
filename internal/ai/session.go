package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// State is the lifecycle position of a commentary session
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateStreaming  State = "streaming"
	StateComplete   State = "complete"
	StateFailed     State = "failed"
)

// ErrInvalidTransition is returned when an event does not apply to the current state
var ErrInvalidTransition = errors.New("invalid session transition")

// Event is emitted after every transition
type Event struct {
	SessionID string      `json:"sessionId"`
	State     State       `json:"state"`
	Partial   *Commentary `json:"partial,omitempty"`
	Result    *Commentary `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Session tracks one commentary request: idle, requesting, streaming, and
// finally complete or failed. A Session is not safe for concurrent use.
type Session struct {
	ID string

	state   State
	text    strings.Builder
	partial Commentary
	result  *Commentary
	err     error
}

// NewSession returns an idle session with a fresh ID
func NewSession() *Session {
	return &Session{ID: uuid.NewString(), state: StateIdle}
}

// State returns the current state
func (s *Session) State() State {
	return s.state
}

// Result returns the final commentary once complete
func (s *Session) Result() *Commentary {
	return s.result
}

// Err returns the failure cause once failed
func (s *Session) Err() error {
	return s.err
}

// Text returns the raw response received so far
func (s *Session) Text() string {
	return s.text.String()
}

// Begin moves an idle session to requesting
func (s *Session) Begin() (Event, error) {
	if s.state != StateIdle {
		return Event{}, s.invalid("begin")
	}
	s.state = StateRequesting
	return s.event(), nil
}

// Chunk appends response text and re-parses the partial commentary. A
// chunk that leaves the text unparseable keeps the previous partial.
func (s *Session) Chunk(text string) (Event, error) {
	if s.state != StateRequesting && s.state != StateStreaming {
		return Event{}, s.invalid("chunk")
	}
	s.state = StateStreaming
	s.text.WriteString(text)
	if partial, err := ParsePartial(s.text.String()); err == nil {
		s.partial = partial
	}
	return s.event(), nil
}

// Finish completes the session when the full text parses strictly, and
// fails it otherwise.
func (s *Session) Finish() (Event, error) {
	if s.state != StateRequesting && s.state != StateStreaming {
		return Event{}, s.invalid("finish")
	}
	result, err := ParseComplete(s.text.String())
	if err != nil {
		s.state = StateFailed
		s.err = err
		return s.event(), nil
	}
	s.state = StateComplete
	s.result = &result
	return s.event(), nil
}

// Fail moves a pending session to failed
func (s *Session) Fail(cause error) (Event, error) {
	if s.state == StateComplete || s.state == StateFailed {
		return Event{}, s.invalid("fail")
	}
	s.state = StateFailed
	s.err = cause
	return s.event(), nil
}

func (s *Session) invalid(event string) error {
	return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, event, s.state)
}

func (s *Session) event() Event {
	ev := Event{SessionID: s.ID, State: s.state}
	switch s.state {
	case StateStreaming:
		partial := s.partial
		ev.Partial = &partial
	case StateComplete:
		ev.Result = s.result
	case StateFailed:
		if s.err != nil {
			ev.Error = s.err.Error()
		}
	}
	return ev
}

// Run drives a session through one Stream call, emitting an event after
// every transition. It returns the final commentary or the failure cause.
// A failing emit aborts the stream.
func Run(ctx context.Context, c Commentator, op OperationPayload, emit func(Event) error) (*Commentary, error) {
	s := NewSession()
	ev, err := s.Begin()
	if err != nil {
		return nil, err
	}
	if err := emit(ev); err != nil {
		return nil, err
	}

	streamErr := c.Stream(ctx, op, func(chunk string) error {
		ev, err := s.Chunk(chunk)
		if err != nil {
			return err
		}
		return emit(ev)
	})
	if streamErr != nil {
		ev, _ := s.Fail(streamErr)
		_ = emit(ev)
		return nil, streamErr
	}

	ev, err = s.Finish()
	if err != nil {
		return nil, err
	}
	if err := emit(ev); err != nil {
		return nil, err
	}
	if s.State() == StateFailed {
		return nil, s.Err()
	}
	return s.Result(), nil
}
