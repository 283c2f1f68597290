package narrative

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/couchcryptid/heat-risk-explainer/internal/domain"
)

// maxErrorBody bounds how much of an upstream error body is kept.
const maxErrorBody = 512

// StatusKind maps a non-2xx upstream status to an error kind.
func StatusKind(status int) domain.ServiceErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.KindAuth
	case status == http.StatusTooManyRequests:
		return domain.KindRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return domain.KindTimeout
	case status >= 500:
		return domain.KindUnavailable
	default:
		return domain.KindMalformed
	}
}

// StatusError builds the error for a non-2xx response.
func StatusError(provider string, status int, body []byte) *domain.ExternalServiceError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	return &domain.ExternalServiceError{
		Provider:   provider,
		Kind:       StatusKind(status),
		StatusCode: status,
		Err:        fmt.Errorf("upstream returned %s: %s", http.StatusText(status), msg),
	}
}

// TransportError classifies a failure to get any response. Caller
// cancellation is returned unchanged so it is neither retried nor reported
// as an upstream fault.
func TransportError(ctx context.Context, provider string, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return ctx.Err()
	}

	kind := domain.KindUnavailable
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = domain.KindTimeout
	}
	return &domain.ExternalServiceError{Provider: provider, Kind: kind, Err: err}
}

// LimiterError classifies a failed client-side rate limiter wait. A wait
// that cannot finish before the caller's deadline is a timeout; a context
// that is already done is returned unchanged.
func LimiterError(ctx context.Context, provider string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &domain.ExternalServiceError{
		Provider: provider,
		Kind:     domain.KindTimeout,
		Err:      fmt.Errorf("rate limiter: %w", err),
	}
}

// MalformedError reports a 2xx response that carried no usable narrative.
func MalformedError(provider string, err error) *domain.ExternalServiceError {
	return &domain.ExternalServiceError{Provider: provider, Kind: domain.KindMalformed, Err: err}
}

// Outcome is the metrics label for a narrative call result.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	return domain.ErrorKind(err)
}
