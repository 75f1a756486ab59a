package wizard

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrWrongStep            = errors.New("operation not allowed at this step")
	ErrSignatureRequired    = errors.New("signature is required")
	ErrChildNotFound        = errors.New("child record not found")
	ErrChildNotRemovable    = errors.New("first child record cannot be removed")
	ErrParentNameReadOnly   = errors.New("parent name is read-only for existing customers")
	ErrSubmissionInProgress = errors.New("submission already in progress")
	ErrLookupAbandoned      = errors.New("mobile lookup abandoned")
)

// DuplicateGuidance is shown instead of the backend message when a consent
// for the same mobile number was already stored today.
const DuplicateGuidance = "A consent form has already been submitted for this mobile number today. " +
	"Please ask at the front desk if the details need to change."

// ValidationError is a field-level failure that blocks a step transition.
// ChildID is set when the failure belongs to a child record.
type ValidationError struct {
	Field   string `json:"field"`
	ChildID string `json:"childId,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.ChildID != "" {
		return fmt.Sprintf("%s (child %s): %s", e.Field, e.ChildID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every failure found in one validation pass.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// For returns the failures attached to a child record.
func (e ValidationErrors) For(childID string) []*ValidationError {
	var out []*ValidationError
	for _, err := range e {
		if err.ChildID == childID {
			out = append(out, err)
		}
	}
	return out
}

// NetworkError wraps a transport failure talking to the consent backend.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("consent backend %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ApplicationError is a submission the backend rejected with success=false.
type ApplicationError struct {
	Message   string
	Duplicate bool
}

func (e *ApplicationError) Error() string {
	if e.Message == "" {
		return "consent submission rejected"
	}
	return e.Message
}

// UserMessage is the text to show the parent.
func (e *ApplicationError) UserMessage() string {
	if e.Duplicate {
		return DuplicateGuidance
	}
	if e.Message == "" {
		return "Your consent could not be saved. Please try again."
	}
	return e.Message
}

// isDuplicateMessage reports whether a backend message describes a second
// submission on the same day.
func isDuplicateMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "already submitted") ||
		strings.Contains(m, "duplicate") ||
		(strings.Contains(m, "already") && strings.Contains(m, "today"))
}
