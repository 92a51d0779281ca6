package resolver

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidDescriptor marks a location that is malformed after
	// normalization.
	ErrInvalidDescriptor = errors.New("resolver: invalid descriptor")
	// ErrDuplicatePath marks a second node claiming an existing path.
	ErrDuplicatePath = errors.New("resolver: duplicate path")
	// ErrUnresolvedAlias marks an alias whose target is missing or does not
	// declare the requested subpath.
	ErrUnresolvedAlias = errors.New("resolver: unresolved alias")
)

// DescriptorError reports why a node's location could not be accepted.
type DescriptorError struct {
	Name     string
	Location string
	Reason   string
}

func (e *DescriptorError) Error() string {
	return fmt.Sprintf("resolver: %s: invalid location %q: %s", e.Name, e.Location, e.Reason)
}

func (e *DescriptorError) Is(target error) bool { return target == ErrInvalidDescriptor }

// DuplicatePathError reports a name collision in the tree index.
type DuplicatePathError struct {
	Name     string
	Existing string
}

func (e *DuplicatePathError) Error() string {
	return fmt.Sprintf("resolver: %s already declared (%s)", e.Name, e.Existing)
}

func (e *DuplicatePathError) Is(target error) bool { return target == ErrDuplicatePath }

// AliasError reports an alias that cannot be resolved.
type AliasError struct {
	Name    string
	Target  string
	Subpath string
	Reason  string
}

func (e *AliasError) Error() string {
	return fmt.Sprintf("resolver: %s: from(%s, %s): %s", e.Name, e.Target, e.Subpath, e.Reason)
}

func (e *AliasError) Is(target error) bool { return target == ErrUnresolvedAlias }

// CheckoutError wraps a failure raised while checking out one node.
type CheckoutError struct {
	Name    string
	URL     string
	Command string
	Err     error
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Command, e.Name, e.URL, e.Err)
}

func (e *CheckoutError) Unwrap() error { return e.Err }

// AggregateError collects every checkout failure of a run.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return "scheduler: 1 dependency failed: " + e.Errors[0].Error()
	}
	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("scheduler: %d dependencies failed:\n  %s", len(e.Errors), strings.Join(parts, "\n  "))
}

func (e *AggregateError) Unwrap() []error { return e.Errors }
