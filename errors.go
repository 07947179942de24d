package ruleimport

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrAborted is returned when an import run was stopped by Abort() or a
	// cancelled context. Everything staged by the run has been rolled back.
	ErrAborted = errors.New("import aborted")

	// ErrUnrecognizedFormat is returned by the line parser when every grammar
	// was eliminated for a source. Rules parsed up to that point are kept.
	ErrUnrecognizedFormat = errors.New("unrecognized list format")

	errNotFound = errors.New("not found")
)

// FetchError is returned when the content of a single source could not be
// retrieved. It's not fatal for the run, the source is skipped.
type FetchError struct {
	Location string
	Status   int // HTTP status, 0 for transport and file errors
	Cause    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetching '%s' failed with status %d", e.Location, e.Status)
	}
	return fmt.Sprintf("fetching '%s' failed: %v", e.Location, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// StoreError wraps a failure of the rule store during a run. It ends the run
// and triggers a rollback.
type StoreError struct {
	Op    string
	Cause error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store operation '%s' failed: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Cause: err}
}

// IsStoreError returns true if err, or any error it wraps, is a *StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
