package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-procurement/internal/shared"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// RequestError reports the first request field that failed struct validation.
type RequestError struct {
	Name string
	Tag  string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("field %s failed %q validation", e.Name, e.Tag)
}

// Field returns the offending field name.
func (e *RequestError) Field() string { return e.Name }

func (e *RequestError) Unwrap() error { return shared.ErrValidation }

// Validate runs struct tag validation on a request DTO.
func Validate(target any) error {
	err := validatorInstance().Struct(target)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return &RequestError{Name: fieldErrs[0].Field(), Tag: fieldErrs[0].Tag()}
	}
	return fmt.Errorf("%w: %v", shared.ErrValidation, err)
}

// DecodeAndValidate decodes a JSON body and validates it.
func DecodeAndValidate(r *http.Request, target any) error {
	if err := DecodeJSON(r, target); err != nil {
		return err
	}
	return Validate(target)
}
