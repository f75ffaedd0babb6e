// Package cerrs is the grounding-ledger error taxonomy: input, security,
// state, merge-conflict, not-found, and resource errors, wrapped with
// github.com/cubefs/cubefs/blobstore/util/errors at call sites the way
// the teacher wraps low-level persister errors before logging them.
package cerrs

import (
	"fmt"
)

// Kind is the coarse error category from the spec's taxonomy.
type Kind string

const (
	KindInput    Kind = "input"
	KindSecurity Kind = "security"
	KindState    Kind = "state"
	KindConflict Kind = "conflict"
	KindResource Kind = "resource"
)

// Error is the concrete error type raised by every non-soft failure
// path in this module. Not-found is intentionally not a Kind here: per
// spec §7 it is a soft error returned as a nil cube / NotFound cache
// sentinel, not propagated as an Error.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func Input(format string, args ...interface{}) error {
	return &Error{Kind: KindInput, Message: fmt.Sprintf(format, args...)}
}

func Security(format string, args ...interface{}) error {
	return &Error{Kind: KindSecurity, Message: fmt.Sprintf(format, args...)}
}

func State(format string, args ...interface{}) error {
	return &Error{Kind: KindState, Message: fmt.Sprintf(format, args...)}
}

func Resource(format string, args ...interface{}) error {
	return &Error{Kind: KindResource, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

// ConflictDetail describes one cube that could not be automatically
// three-way merged.
type ConflictDetail struct {
	Message  string
	Sha1     string
	HeadSha1 string
	Diff     string
}

// MergeConflictError carries the per-cube conflict map raised by
// commitBranch/updateBranch when one or more cubes could not be
// automatically merged. Non-conflicted cubes in the same call have
// already been committed durably by the time this is raised - see
// DESIGN.md's note on partial commit.
type MergeConflictError struct {
	Errors map[string]ConflictDetail
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict: %d cube(s) could not be merged", len(e.Errors))
}

// AsMergeConflict unwraps err into a *MergeConflictError, if it is one.
func AsMergeConflict(err error) (*MergeConflictError, bool) {
	e, ok := err.(*MergeConflictError)
	return e, ok
}
