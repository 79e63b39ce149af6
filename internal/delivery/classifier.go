package delivery

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Totals is the reconciled value of a delivery.
type Totals struct {
	Items    decimal.Decimal `json:"total_items"`
	Services decimal.Decimal `json:"total_services"`
	Value    decimal.Decimal `json:"total_value"`
}

// Classify returns the explicit kind when one is set, otherwise infers it
// from the lines the delivery carries.
func Classify(d Delivery) Kind {
	if d.Kind.IsExplicit() {
		return d.Kind
	}
	hasItems, hasServices := len(d.Items) > 0, len(d.Services) > 0
	switch {
	case hasItems && hasServices:
		return KindMixed
	case hasServices:
		return KindServiceDelivery
	case hasItems:
		return KindItemPurchase
	default:
		return KindUnknown
	}
}

// ValidateKind checks a new delivery record: it must carry lines, and an
// explicit kind has to agree with them. Return and rework kinds are recorded
// through their own documents, never on a delivery.
func ValidateKind(d Delivery) error {
	hasItems, hasServices := len(d.Items) > 0, len(d.Services) > 0
	if !hasItems && !hasServices {
		return &UnknownKindError{DeliveryID: d.ID}
	}
	switch d.Kind {
	case "":
		return nil
	case KindItemPurchase:
		if hasServices {
			return &ValidationError{Name: "kind", Reason: fmt.Sprintf("%s cannot carry services", d.Kind)}
		}
	case KindServiceDelivery:
		if hasItems {
			return &ValidationError{Name: "kind", Reason: fmt.Sprintf("%s cannot carry items", d.Kind)}
		}
	default:
		return &ValidationError{Name: "kind", Reason: fmt.Sprintf("%s is not a delivery kind", d.Kind)}
	}
	return nil
}

// Reconcile sums the delivery lines. A delivery without lines has nothing to
// total and fails with UnknownKindError, whatever kind it was given.
func Reconcile(d Delivery) (Totals, error) {
	if len(d.Items) == 0 && len(d.Services) == 0 {
		return Totals{}, &UnknownKindError{DeliveryID: d.ID}
	}
	totals := Totals{Items: decimal.Zero, Services: decimal.Zero}
	for _, item := range d.Items {
		totals.Items = totals.Items.Add(item.Total())
	}
	for _, svc := range d.Services {
		totals.Services = totals.Services.Add(svc.Total())
	}
	totals.Value = totals.Items.Add(totals.Services)
	return totals, nil
}

// ReturnTotal sums a return on its own.
func ReturnTotal(r Return) decimal.Decimal {
	total := decimal.Zero
	for _, item := range r.Items {
		total = total.Add(item.Total())
	}
	return total
}

// ReworkTotal sums a rework on its own.
func ReworkTotal(r Rework) decimal.Decimal {
	total := decimal.Zero
	for _, svc := range r.Services {
		total = total.Add(svc.Total())
	}
	return total
}
