package executor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCapacityExceeded is returned when no warm environment became
	// available within the acquisition wait budget.
	ErrCapacityExceeded = errors.New("no warm environment available")

	// ErrPoolClosed is returned when acquiring from a pool that has been
	// shut down.
	ErrPoolClosed = errors.New("pool is shut down")

	// ErrUnsupportedLanguage is returned for languages without a pool or
	// execution configuration.
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// ProviderError is an infrastructure-level failure: the provider could not
// run the request at all. It triggers fallback to the next provider.
type ProviderError struct {
	Provider Provider
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ProvisioningError reports a failed environment create or reset. The
// replenisher retries on its next pass; it is surfaced per-request only
// when it caused a capacity error.
type ProvisioningError struct {
	Language string
	Err      error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning %s environment: %v", e.Language, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// FallbackError aggregates the per-provider failures of an exhausted
// fallback chain.
type FallbackError struct {
	Attempts []AttemptError
}

// AttemptError records one failed provider attempt.
type AttemptError struct {
	Provider Provider
	Err      error
}

func (e *FallbackError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Provider, a.Err))
	}
	return "all providers failed [" + strings.Join(parts, "; ") + "]"
}

// IsProviderFailure reports whether err is an infrastructure-level failure
// that should advance the fallback chain. User code errors and execution
// timeouts never take this path; adapters report those as Results.
func IsProviderFailure(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
