// package fault defines the error taxonomy shared by the pipeline stages and
// the manual override gateway. Callers distinguish "you may not do this" from
// "this does not exist" from "this is not in the right state" by kind, never
// by string matching.
package fault

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// PermissionDenied: the caller lacks authority for the operation.
	PermissionDenied Kind = "permission_denied"
	// InvalidArgument: the request is structurally unusable.
	InvalidArgument Kind = "invalid_argument"
	// NotFound: the referenced entity is absent.
	NotFound Kind = "not_found"
	// FailedPrecondition: a state-machine precondition does not hold.
	FailedPrecondition Kind = "failed_precondition"
	// ValidatorFailure: a validator collaborator failed; recorded per item.
	ValidatorFailure Kind = "validator_failure"
	// PromotionFailure: a promoter collaborator failed; drives retry/dead-letter.
	PromotionFailure Kind = "promotion_failure"
	// TransientInfrastructure: the store is unavailable; the whole batch
	// invocation fails and is retried wholesale at the next schedule.
	TransientInfrastructure Kind = "transient_infrastructure"
)

// Error carries a Kind alongside a message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a kinded error with no underlying cause.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
