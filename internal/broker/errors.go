package broker

import (
	"errors"
	"fmt"
)

var (
	ErrRoomOccupied       = errors.New("room occupied")
	ErrSDPParse           = errors.New("malformed session description")
	ErrNegotiation        = errors.New("negotiation failed")
	ErrNegotiationTimeout = errors.New("negotiation timed out")
	ErrUnexpectedSignal   = errors.New("unexpected signal type")
	ErrBackpressure       = errors.New("offer queue full")
	ErrNoMatchingCodec    = errors.New("no matching codec")
	ErrQueueClosed        = errors.New("offer queue closed")
)

// Error describes a failed step for one room.
type Error struct {
	Op      string
	Room    string
	Err     error
	Details string
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Room != "" {
		msg = fmt.Sprintf("%s room %s", e.Op, e.Room)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", msg, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, room string, err error) *Error {
	return &Error{Op: op, Room: room, Err: err}
}

func wrapError(op, room string, err error, details string) *Error {
	return &Error{Op: op, Room: room, Err: err, Details: details}
}
