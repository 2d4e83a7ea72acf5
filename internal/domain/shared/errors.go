package shared

// DomainError is an error carrying a stable code that the HTTP layer maps to a status.
// Errors compare equal by code.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *DomainError) Error() string {
	return e.Message
}

// Is reports whether target is a DomainError with the same code
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && e.Code == t.Code
}

// NewDomainError creates a DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

var (
	ErrNotFound            = NewDomainError("NOT_FOUND", "not found")
	ErrInvalidState        = NewDomainError("INVALID_STATE", "operation not allowed in the current state")
	ErrConcurrencyConflict = NewDomainError("CONCURRENCY_CONFLICT", "modified concurrently")
)
