package processor

import (
	"errors"
	"fmt"
)

var (
	ErrPlanInactive     = errors.New("plan inactive")
	ErrPlanExpired      = errors.New("plan reached end date")
	ErrPriceUnavailable = errors.New("invalid price")
	ErrPersistence      = errors.New("persistence failure")
	ErrConfigInvalid    = errors.New("invalid config")
)

// NoRetry marks an error as terminal for TerminalAware backoffs.
//
//	return processor.NoRetry(fmt.Errorf("bad symbol: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// IsTerminal reports whether another attempt cannot change the outcome.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrPlanInactive) || errors.Is(err, ErrPlanExpired) || IsNoRetry(err)
}
