package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingField  = errors.New("all fields are required")
	ErrInvalidTenant = errors.New("tenant name must contain only letters, digits and hyphens")
)

type ErrorKind string

const (
	KindInvalidInput   ErrorKind = "invalid_input"
	KindUnauthorized   ErrorKind = "invalid_credentials"
	KindUpstreamStatus ErrorKind = "upstream_error"
	KindUnavailable    ErrorKind = "upstream_unavailable"
	KindMalformed      ErrorKind = "malformed_response"
)

// FetchError describes the failure of a single collection request.
type FetchError struct {
	Resource   Resource
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Resource, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Resource, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// BatchError collects every failed collection of a run, in resource order.
type BatchError struct {
	Failures []*FetchError
}

func (e *BatchError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("%d of %d collections failed: %s", len(e.Failures), len(Resources), strings.Join(msgs, "; "))
}

// Kind reports the kind of the first failure.
func (e *BatchError) Kind() ErrorKind {
	if len(e.Failures) == 0 {
		return KindUpstreamStatus
	}
	return e.Failures[0].Kind
}

// Resources returns the names of the failed collections.
func (e *BatchError) Resources() []string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, string(f.Resource))
	}
	return names
}

// KindOf classifies any pipeline error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrMissingField) || errors.Is(err, ErrInvalidTenant) {
		return KindInvalidInput
	}
	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		return batchErr.Kind()
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind
	}
	return KindMalformed
}

var userMessages = map[ErrorKind]string{
	KindInvalidInput:   "Please fill in every field with a valid value.",
	KindUnauthorized:   "Invalid credentials: the tenant rejected the username or password.",
	KindUpstreamStatus: "The incentive management API returned an error.",
	KindUnavailable:    "The incentive management API is unavailable or did not answer in time.",
	KindMalformed:      "The incentive management API returned data in an unexpected format.",
}

// UserMessage returns a message suitable for showing to the person who submitted the form.
func UserMessage(err error) string {
	if errors.Is(err, ErrMissingField) || errors.Is(err, ErrInvalidTenant) {
		return err.Error()
	}
	if msg, ok := userMessages[KindOf(err)]; ok {
		return msg
	}
	return "Unexpected error."
}
