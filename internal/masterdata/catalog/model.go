// Package catalog resolves item and service identifiers to their names, prices
// and categories.
package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procurement/internal/shared"
)

// Kind separates catalog items from catalog services.
type Kind string

const (
	KindItem    Kind = "item"
	KindService Kind = "service"
)

// IsValid checks if the kind is known.
func (k Kind) IsValid() bool {
	return k == KindItem || k == KindService
}

// Ref identifies a catalog entry.
type Ref struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

// ItemRef builds a reference to a catalog item.
func ItemRef(id int64) Ref { return Ref{Kind: KindItem, ID: id} }

// ServiceRef builds a reference to a catalog service.
func ServiceRef(id int64) Ref { return Ref{Kind: KindService, ID: id} }

func (r Ref) String() string {
	return string(r.Kind) + ":" + strconv.FormatInt(r.ID, 10)
}

// ParseRef parses the textual "kind:id" form.
func ParseRef(raw string) (Ref, error) {
	kind, id, ok := strings.Cut(raw, ":")
	if !ok {
		return Ref{}, fmt.Errorf("%w: catalog ref %q", shared.ErrValidation, raw)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 || !Kind(kind).IsValid() {
		return Ref{}, fmt.Errorf("%w: catalog ref %q", shared.ErrValidation, raw)
	}
	return Ref{Kind: Kind(kind), ID: n}, nil
}

// Entry is a resolved catalog record. Price is the unit price for items and
// the hourly rate for services.
type Entry struct {
	Ref        Ref             `json:"ref"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	CategoryID int64           `json:"category_id"`
}

// NotFoundError reports a catalog reference that does not resolve.
type NotFoundError struct {
	Ref Ref
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("catalog: %s not found", e.Ref)
}

func (e *NotFoundError) Unwrap() error { return shared.ErrNotFound }
