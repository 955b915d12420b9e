package engine

import "fmt"

// ValidationError is a rejected play: the state is unchanged and the
// error is surfaced only to the offending player (spec.md §7).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}

// FatalError is a state-inconsistency error (spec.md §7): missing action
// card definition, pending modifier without a corresponding board card,
// unknown player identifier. The orchestrator ends the match on a
// FatalError, awarding the win to the non-offending player when one can be
// identified.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string { return e.Reason }

func fatalf(format string, args ...interface{}) error {
	return &FatalError{Reason: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err is a FatalError.
func IsFatal(err error) bool {
	_, ok := err.(*FatalError)
	return ok
}
