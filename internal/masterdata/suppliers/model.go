package suppliers

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/catalog"
	"github.com/odyssey-erp/odyssey-procurement/internal/shared"
)

// Supplier represents a supplier entity together with the payment methods it
// accepts and the catalog entries it can fulfil.
type Supplier struct {
	ID                 int64         `json:"id"`
	Code               string        `json:"code"`
	Name               string        `json:"name"`
	Address            string        `json:"address"`
	Email              string        `json:"email"`
	Phone              string        `json:"phone"`
	AllowsCash         bool          `json:"allows_cash"`
	AllowsDisbursement bool          `json:"allows_disbursement"`
	AllowsStoreCredit  bool          `json:"allows_store_credit"`
	Coverage           []catalog.Ref `json:"coverage"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Covers reports whether the supplier can fulfil ref.
func (s Supplier) Covers(ref catalog.Ref) bool {
	for _, c := range s.Coverage {
		if c == ref {
			return true
		}
	}
	return false
}

// PaymentMethodCount counts the payment capability flags that are set.
func (s Supplier) PaymentMethodCount() int {
	n := 0
	for _, ok := range []bool{s.AllowsCash, s.AllowsDisbursement, s.AllowsStoreCredit} {
		if ok {
			n++
		}
	}
	return n
}

// NotFoundError reports a missing supplier.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("supplier %d not found", e.ID)
}

func (e *NotFoundError) Unwrap() error { return shared.ErrNotFound }
