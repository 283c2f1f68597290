package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmptyTemplate is returned when the feature template has no row.
	ErrEmptyTemplate = errors.New("feature template is empty")

	// ErrInvalidTopN is returned when a negative attribution count is requested.
	ErrInvalidTopN = errors.New("top_n must be >= 0")
)

// UnknownFeatureError reports a column name that is not part of the template.
type UnknownFeatureError struct {
	Key string
}

func (e *UnknownFeatureError) Error() string {
	return fmt.Sprintf("column %q not found in template", e.Key)
}

// SchemaMismatchError reports that two positionally aligned schemas disagree.
// Stage names where the mismatch was detected: "template", "input",
// "preprocess", "predict" or "attribution".
type SchemaMismatchError struct {
	Stage    string
	Expected int
	Got      int
	Detail   string
}

func (e *SchemaMismatchError) Error() string {
	msg := fmt.Sprintf("%s schema mismatch: expected %d features, got %d", e.Stage, e.Expected, e.Got)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// ServiceErrorKind classifies failures of the narrative completion service.
type ServiceErrorKind string

const (
	KindTimeout     ServiceErrorKind = "timeout"
	KindAuth        ServiceErrorKind = "auth"
	KindRateLimit   ServiceErrorKind = "rate_limit"
	KindUnavailable ServiceErrorKind = "unavailable"
	KindMalformed   ServiceErrorKind = "malformed_response"
)

// ExternalServiceError is returned by narrators when no valid completion
// could be obtained.
type ExternalServiceError struct {
	Provider   string
	Kind       ServiceErrorKind
	StatusCode int
	Err        error
}

func (e *ExternalServiceError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying.
func (e *ExternalServiceError) Transient() bool {
	switch e.Kind {
	case KindTimeout, KindRateLimit, KindUnavailable:
		return true
	default:
		return false
	}
}

// StageError attaches the state a request was in when it failed.
type StageError struct {
	State State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("explain failed after %s: %v", e.State, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ErrorKind returns a short, stable label for err suitable for metrics and
// API responses.
func ErrorKind(err error) string {
	var unknown *UnknownFeatureError
	var schema *SchemaMismatchError
	var ext *ExternalServiceError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyTemplate):
		return "empty_template"
	case errors.Is(err, ErrInvalidTopN):
		return "invalid_top_n"
	case errors.As(err, &unknown):
		return "unknown_feature"
	case errors.As(err, &schema):
		return "schema_mismatch"
	case errors.As(err, &ext):
		return string(ext.Kind)
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return string(KindTimeout)
	default:
		return "internal"
	}
}
