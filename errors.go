package main

import (
	"errors"
	"fmt"
)

var (
	// ErrBadPassword is returned when the game server rejects the RCON password.
	ErrBadPassword = errors.New("rcon: bad password")

	// ErrNoResponse is returned when the game server never answers the probe.
	ErrNoResponse = errors.New("rcon: no response from server")

	// ErrQueueClosed is returned by Put on a closed FactQueue.
	ErrQueueClosed = errors.New("fact queue is closed")

	// ErrBusClosed is returned by Post after the bus has been closed.
	ErrBusClosed = errors.New("bus is closed")

	ErrDuplicateCommand  = errors.New("command already registered")
	ErrDuplicateHandler  = errors.New("subscriber declares two handlers for one fact type")
	ErrInvalidSubscriber = errors.New("invalid subscriber")
)

// FailureKind separates failures meant for the issuing player from bugs.
type FailureKind uint8

const (
	RuntimeFailure FailureKind = iota
	SyntaxFailure
)

// UserError is a handler failure whose message is shown to the issuing client.
type UserError struct {
	Kind FailureKind
	Msg  string
}

func (e *UserError) Error() string { return e.Msg }

// RuntimeError reports a failure such as "no such player" back to the issuer.
func RuntimeError(format string, args ...any) error {
	return &UserError{Kind: RuntimeFailure, Msg: fmt.Sprintf(format, args...)}
}

// SyntaxError reports malformed arguments; the dispatcher appends the usage line.
func SyntaxError(format string, args ...any) error {
	return &UserError{Kind: SyntaxFailure, Msg: fmt.Sprintf(format, args...)}
}

// OutcomeKind is the result tag returned by every handler.
type OutcomeKind uint8

const (
	OutcomeContinue OutcomeKind = iota
	// OutcomeVeto stops processing of the fact by this handler. It is not an error.
	OutcomeVeto
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeContinue:
		return "continue"
	case OutcomeVeto:
		return "veto"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Outcome is what a handler tells the dispatcher about one invocation.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

func Continue() Outcome { return Outcome{Kind: OutcomeContinue} }

func Veto() Outcome { return Outcome{Kind: OutcomeVeto} }

// Fail wraps err as a failure. A nil err is treated as Continue.
func Fail(err error) Outcome {
	if err == nil {
		return Continue()
	}
	return Outcome{Kind: OutcomeFailure, Err: err}
}

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}
