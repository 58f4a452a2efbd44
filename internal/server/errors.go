package server

import (
	"errors"
	"fmt"
)

// ErrorType classifies failures of the event loop.
type ErrorType int

const (
	// ErrTypeBind is fatal: the listener could not be created, bound or registered.
	ErrTypeBind ErrorType = iota
	// ErrTypeAccept covers accept and registration failures for one connection.
	ErrTypeAccept
	// ErrTypeRead covers read failures on one connection.
	ErrTypeRead
	// ErrTypeWrite covers write failures on one connection.
	ErrTypeWrite
	// ErrTypePoll is fatal: the readiness wait itself failed.
	ErrTypePoll
)

func (et ErrorType) String() string {
	switch et {
	case ErrTypeBind:
		return "Bind Error"
	case ErrTypeAccept:
		return "Accept Error"
	case ErrTypeRead:
		return "Read Error"
	case ErrTypeWrite:
		return "Write Error"
	case ErrTypePoll:
		return "Poll Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// Error is a failure of the event loop or of one connection.
type Error struct {
	Type ErrorType
	Op   string
	FD   int
	Err  error
}

func (e *Error) Error() string {
	if e.FD > 0 {
		return fmt.Sprintf("%s: %s (fd %d): %v", e.Type, e.Op, e.FD, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Type, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error stops the event loop.
func (e *Error) Fatal() bool {
	return e.Type == ErrTypeBind || e.Type == ErrTypePoll
}

// IsBindError reports whether err is a listener setup failure.
func IsBindError(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Type == ErrTypeBind
}

var (
	errNotInitialized = errors.New("server not initialized")
	errSlowReader     = errors.New("peer not reading")
	errConnClosed     = errors.New("connection closed")
)
