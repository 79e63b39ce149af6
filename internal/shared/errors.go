package shared

import "errors"

// Error kinds shared by the procurement and delivery engines. Concrete errors
// unwrap to exactly one of these so callers can branch with errors.Is.
var (
	// ErrNotFound indicates a referenced record is absent.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates caller-correctable input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState indicates a workflow-ordering mistake.
	ErrInvalidState = errors.New("invalid state")
	// ErrConflict indicates a uniqueness violation or a stale write.
	ErrConflict = errors.New("conflict")
)

// FieldError is implemented by validation errors that can point at a single
// input field so presentation layers can render inline messages.
type FieldError interface {
	error
	Field() string
}

// UserSafeMessage returns a message that can be shown to end users without
// leaking driver or infrastructure details.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidState), errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound):
		return err.Error()
	default:
		return "Terjadi kesalahan, silakan coba lagi"
	}
}
