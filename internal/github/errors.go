package github

import (
	"errors"
	"fmt"
	"strings"
)

// TransientError covers network failures, rate limits, and server errors.
// Callers retry against the same baseline.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// NotFoundError means the PR or thread no longer exists. Terminal.
type NotFoundError struct {
	Resource string
	Err      error
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found: %v", e.Resource, e.Err) }
func (e *NotFoundError) Unwrap() error { return e.Err }

// AuthError means credentials are missing or invalid. Fatal, no retry.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("auth: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// MalformedResponseError means the API returned an unexpected shape. Treated
// as transient once; callers escalate to fatal when it repeats.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string { return fmt.Sprintf("malformed response: %v", e.Err) }
func (e *MalformedResponseError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried with the same baseline.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsNotFound reports whether err means the resource is gone.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAuth reports whether err is a credential failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsMalformed reports whether err came from an unparseable response.
func IsMalformed(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}

// classifyExecError maps a failed gh invocation to the error taxonomy based
// on what gh printed to stderr. Unknown failures default to transient; the
// poll loop's wall-clock timeout bounds how long they are retried.
func classifyExecError(resource string, err error, stderr string) error {
	s := strings.ToLower(stderr)

	switch {
	case strings.Contains(s, "http 404"),
		strings.Contains(s, "could not resolve to"),
		strings.Contains(s, "not found"):
		return &NotFoundError{Resource: resource, Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr))}

	case strings.Contains(s, "http 401"),
		strings.Contains(s, "bad credentials"),
		strings.Contains(s, "gh auth login"),
		strings.Contains(s, "authentication required"):
		return &AuthError{Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr))}
	}

	return &TransientError{Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr))}
}
