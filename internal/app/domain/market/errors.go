package market

import (
	"errors"
	"fmt"
)

// ValidationError reports a user-supplied field that failed validation.
// Recoverable: the user corrects the input and retries.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AuthorizationError reports an actor attempting an operation they do not
// own. Surfaced to the caller, never silently ignored.
type AuthorizationError struct {
	ActorID string
	Action  string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %s is not allowed to %s", e.ActorID, e.Action)
}

// NotEmptyError blocks deletion of a category that still contains items.
type NotEmptyError struct {
	CategoryID string
	ItemCount  int
}

func (e *NotEmptyError) Error() string {
	return fmt.Sprintf("category %s is not empty (%d items)", e.CategoryID, e.ItemCount)
}

// NotFoundError reports a referenced record that does not exist, for
// example because a concurrent actor already deleted it.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsAuthorization reports whether err is an AuthorizationError.
func IsAuthorization(err error) bool {
	var target *AuthorizationError
	return errors.As(err, &target)
}

// IsNotEmpty reports whether err is a NotEmptyError.
func IsNotEmpty(err error) bool {
	var target *NotEmptyError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}
