package visit

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors surfaced by the repository and engine.
var (
	// ErrNotFound means the visit id does not exist.
	ErrNotFound = errors.New("visit not found")
	// ErrConflict means a conditional write lost a concurrent race; the
	// record's status changed between read and commit.
	ErrConflict = errors.New("visit modified concurrently")
)

// InvalidTransitionError means the visit's current status does not permit
// the requested transition. No write is performed.
type InvalidTransitionError struct {
	Transition string
	Current    Status
	Allowed    []Status
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("%s not allowed from status %q (allowed from: %s)",
		e.Transition, e.Current, strings.Join(allowed, ", "))
}

// OwnershipError means the caller is not the assigned nurse or doctor for
// the stage the transition belongs to. When a claim race is lost, OwnerID
// names the staff member who holds the claim.
type OwnershipError struct {
	Transition string
	CallerID   string
	OwnerID    string
}

func (e *OwnershipError) Error() string {
	if e.OwnerID != "" {
		return fmt.Sprintf("%s: visit is already claimed by %s", e.Transition, e.OwnerID)
	}
	return fmt.Sprintf("%s: caller %s is not the assigned owner of this visit", e.Transition, e.CallerID)
}

// ValidationError means a business gate failed: required fields are missing
// for the requested transition.
type ValidationError struct {
	Transition string
	Missing    []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: missing required fields: %s", e.Transition, strings.Join(e.Missing, ", "))
}

// StoreError wraps an underlying storage failure. The CAS write is atomic,
// so no partial mutation is left behind.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("visit store: %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }
