package suppliers

import (
	"fmt"
	"strings"

	"github.com/odyssey-erp/odyssey-procurement/internal/shared"
)

// ValidationError points at the supplier field that failed validation.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("supplier %s %s", e.Name, e.Reason)
}

// Field returns the offending field.
func (e *ValidationError) Field() string { return e.Name }

func (e *ValidationError) Unwrap() error { return shared.ErrValidation }

func (s *Service) validate(sup Supplier) error {
	if strings.TrimSpace(sup.Code) == "" {
		return &ValidationError{Name: "code", Reason: "is required"}
	}
	if strings.TrimSpace(sup.Name) == "" {
		return &ValidationError{Name: "name", Reason: "is required"}
	}
	seen := make(map[string]struct{}, len(sup.Coverage))
	for _, ref := range sup.Coverage {
		if !ref.Kind.IsValid() || ref.ID <= 0 {
			return &ValidationError{Name: "coverage", Reason: fmt.Sprintf("contains invalid ref %s", ref)}
		}
		if _, dup := seen[ref.String()]; dup {
			return &ValidationError{Name: "coverage", Reason: fmt.Sprintf("contains duplicate ref %s", ref)}
		}
		seen[ref.String()] = struct{}{}
	}
	return nil
}
