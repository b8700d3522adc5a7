package annotation

import (
	"errors"
	"fmt"
)

var (
	// ErrGrammarViolation means the response text does not follow the tagged answer-block structure.
	ErrGrammarViolation = errors.New("grammar violation")

	// ErrLengthMismatch means the number of decoded answers differs from the window width.
	ErrLengthMismatch = errors.New("length mismatch")

	// ErrInsufficientDemonstrations means the pool holds fewer examples than requested.
	ErrInsufficientDemonstrations = errors.New("insufficient demonstrations")

	// ErrSenderExhausted means the LLM sender gave up after its retry budget.
	ErrSenderExhausted = errors.New("sender exhausted")
)

// GrammarError describes where a model response broke the grammar.
// Block and Line are zero-based indexes into the answer blocks; -1 when not applicable.
type GrammarError struct {
	Block  int
	Line   int
	Reason string
}

func (e *GrammarError) Error() string {
	switch {
	case e.Block < 0:
		return fmt.Sprintf("grammar violation: %s", e.Reason)
	case e.Line < 0:
		return fmt.Sprintf("grammar violation: block %d: %s", e.Block, e.Reason)
	default:
		return fmt.Sprintf("grammar violation: block %d line %d: %s", e.Block, e.Line, e.Reason)
	}
}

func (e *GrammarError) Unwrap() error { return ErrGrammarViolation }

// LengthError reports a decoded answer count that does not match the window.
type LengthError struct {
	Want int
	Got  int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("length mismatch: want %d answers, got %d", e.Want, e.Got)
}

func (e *LengthError) Unwrap() error { return ErrLengthMismatch }
