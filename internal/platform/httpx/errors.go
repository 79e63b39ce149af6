// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-procurement/internal/shared"
)

// ErrMalformedBody is returned by handlers when the request payload cannot be decoded.
var ErrMalformedBody = errors.New("malformed request body")

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var fieldErr shared.FieldError
	field := ""
	if errors.As(err, &fieldErr) {
		field = fieldErr.Field()
	}
	switch {
	case errors.Is(err, ErrMalformedBody):
		Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		ProblemWithType(w, "not_found", http.StatusNotFound, "Not Found", err.Error(), field)
	case errors.Is(err, shared.ErrValidation):
		ProblemWithType(w, "validation", http.StatusUnprocessableEntity, "Validation Failed", err.Error(), field)
	case errors.Is(err, shared.ErrInvalidState):
		ProblemWithType(w, "state", http.StatusConflict, "Invalid State", err.Error(), field)
	case errors.Is(err, shared.ErrConflict):
		ProblemWithType(w, "conflict", http.StatusConflict, "Conflict", err.Error(), field)
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
