package integration

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ---------------------------------------------------------------------------
// Failure categories
// ---------------------------------------------------------------------------

// FailureCategory classifies why an outbound call or job failed
type FailureCategory string

const (
	CategoryRateLimit   FailureCategory = "rate_limit"
	CategoryCircuitOpen FailureCategory = "circuit_open"
	CategoryServer      FailureCategory = "server"
	CategoryClient      FailureCategory = "client"
	CategoryNetwork     FailureCategory = "network"
	CategoryValidation  FailureCategory = "validation"
	CategoryAuth        FailureCategory = "auth"
	CategoryPermanent   FailureCategory = "permanent"
	CategoryUnknown     FailureCategory = "unknown"
)

// IsValid returns true if the category is known
func (c FailureCategory) IsValid() bool {
	switch c {
	case CategoryRateLimit, CategoryCircuitOpen, CategoryServer, CategoryClient,
		CategoryNetwork, CategoryValidation, CategoryAuth, CategoryPermanent, CategoryUnknown:
		return true
	default:
		return false
	}
}

// RequiresManualReview returns true for categories no automatic retry can fix
func (c FailureCategory) RequiresManualReview() bool {
	switch c {
	case CategoryAuth, CategoryValidation, CategoryPermanent:
		return true
	default:
		return false
	}
}

// String returns the string representation of FailureCategory
func (c FailureCategory) String() string {
	return string(c)
}

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// RateLimitError is returned when admission is denied or a provider answers 429
type RateLimitError struct {
	Marketplace MarketplaceID
	WaitTime    time.Duration
	// FromResponse is true when the provider itself answered 429
	FromResponse bool
	Reason       string
}

func (e *RateLimitError) Error() string {
	src := "admission denied"
	if e.FromResponse {
		src = "provider returned 429"
	}
	return fmt.Sprintf("integration: rate limited on %s (%s), retry in %s", e.Marketplace, src, e.WaitTime)
}

// CircuitBreakerError is returned when the marketplace breaker is open
type CircuitBreakerError struct {
	Marketplace MarketplaceID
	RetryAfter  time.Duration
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("integration: circuit open for %s, retry after %s", e.Marketplace, e.RetryAfter)
}

// ServerError is returned for 5xx responses
type ServerError struct {
	Marketplace MarketplaceID
	StatusCode  int
	Body        string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("integration: %s server error %d", e.Marketplace, e.StatusCode)
}

// ClientError is returned for 4xx responses other than 429
type ClientError struct {
	Marketplace MarketplaceID
	StatusCode  int
	Body        string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("integration: %s rejected request with %d", e.Marketplace, e.StatusCode)
}

// NetworkError wraps timeouts and connection failures
type NetworkError struct {
	Marketplace MarketplaceID
	Err         error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("integration: network failure calling %s: %v", e.Marketplace, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ValidationError is returned when a request or payload is invalid
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "integration: validation failed: " + e.Message
	}
	return fmt.Sprintf("integration: validation failed on %s: %s", e.Field, e.Message)
}

// AuthError is returned when credentials are missing, expired or rejected
type AuthError struct {
	Marketplace MarketplaceID
	StatusCode  int
	Message     string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("integration: authorization failed for %s: %s", e.Marketplace, e.Message)
}

// PermanentError marks a failure that must not be retried and fits no other category
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "integration: permanent failure: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// ---------------------------------------------------------------------------
// Classification
// ---------------------------------------------------------------------------

// CategorizeError maps an error onto the failure taxonomy
func CategorizeError(err error) FailureCategory {
	if err == nil {
		return ""
	}

	var (
		rateErr    *RateLimitError
		breakerErr *CircuitBreakerError
		serverErr  *ServerError
		clientErr  *ClientError
		netErr     *NetworkError
		validErr   *ValidationError
		authErr    *AuthError
		permErr    *PermanentError
	)

	switch {
	case errors.As(err, &rateErr):
		return CategoryRateLimit
	case errors.As(err, &breakerErr):
		return CategoryCircuitOpen
	case errors.As(err, &authErr):
		return CategoryAuth
	case errors.As(err, &validErr):
		return CategoryValidation
	case errors.As(err, &permErr):
		return CategoryPermanent
	case errors.As(err, &serverErr):
		return CategoryServer
	case errors.As(err, &clientErr):
		return CategoryClient
	case errors.As(err, &netErr):
		return CategoryNetwork
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryNetwork
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return CategoryNetwork
	}
	return CategoryUnknown
}

// IsRetryable reports whether a job that failed with err may be attempted again.
// Rate limits, server errors and network failures are transient; open breakers
// are transient at the job level since the breaker cools down.
func IsRetryable(err error) bool {
	switch CategorizeError(err) {
	case CategoryRateLimit, CategoryServer, CategoryNetwork, CategoryCircuitOpen:
		return true
	default:
		return false
	}
}

// ErrorFromStatus converts a non-2xx status into the matching taxonomy error.
// 429 is handled by the caller since it needs header parsing.
func ErrorFromStatus(m MarketplaceID, status int, body []byte) error {
	snippet := string(body)
	if len(snippet) > 512 {
		snippet = snippet[:512]
	}
	switch {
	case status == 401 || status == 403:
		return &AuthError{Marketplace: m, StatusCode: status, Message: snippet}
	case status == 422:
		return &ValidationError{Message: fmt.Sprintf("%s returned 422: %s", m, snippet)}
	case status >= 500:
		return &ServerError{Marketplace: m, StatusCode: status, Body: snippet}
	case status >= 400:
		return &ClientError{Marketplace: m, StatusCode: status, Body: snippet}
	default:
		return nil
	}
}
