package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoMessages    = errors.New("no messages provided")
	ErrInvalidRole   = errors.New("invalid message role")
	ErrNoCredentials = errors.New("no credentials available")

	// ErrNotTracked is returned by quota lookups for clients with no
	// usage record in the current window.
	ErrNotTracked = errors.New("client not tracked")
)

// UpstreamError is one failed completion attempt. Credential is the pool
// label of the key that was used, never the key material itself.
type UpstreamError struct {
	Credential string
	Cause      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream call via %s: %v", e.Credential, e.Cause)
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

// ExhaustedError means every credential in the pool was tried during a
// single dispatch and all of them failed. Causes holds the per-credential
// failures in attempt order.
type ExhaustedError struct {
	Causes []*UpstreamError
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Causes))
	for i, c := range e.Causes {
		parts[i] = c.Error()
	}
	return fmt.Sprintf("all %d credentials exhausted: %s", len(e.Causes), strings.Join(parts, "; "))
}

func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, len(e.Causes))
	for i, c := range e.Causes {
		errs[i] = c
	}
	return errs
}
