package agent

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable, caller-facing classification of a failed turn.
type ErrorKind string

const (
	KindMalformedInput        ErrorKind = "malformed_input"
	KindCompletionUnavailable ErrorKind = "completion_unavailable"
	KindInternal              ErrorKind = "internal"
)

// TurnError is returned by ProcessTurn for every failed turn.
type TurnError struct {
	Kind    ErrorKind
	Message string
	// State is the stage the turn was in when it failed.
	State State
	Err   error
}

func (e *TurnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *TurnError) Unwrap() error { return e.Err }

// IsKind reports whether err is a *TurnError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var te *TurnError
	return errors.As(err, &te) && te.Kind == kind
}

func malformed(msg string) *TurnError {
	return &TurnError{Kind: KindMalformedInput, Message: msg, State: StateFailed}
}
