package procurement

import "github.com/shopspring/decimal"

var one = decimal.NewFromInt(1)

// ValidateQuantity checks a proposed quantity against the line baseline.
// Quantities may be raised but never lowered below what was requisitioned.
func ValidateQuantity(line OrderLine, qty decimal.Decimal) error {
	if qty.LessThan(line.Baseline) {
		return &BelowBaselineError{LineID: line.ID, Baseline: line.Baseline, Requested: qty}
	}
	if qty.LessThan(one) {
		return &ValidationError{Name: "quantity", Reason: "must be at least 1"}
	}
	return nil
}

// Recompute refreshes the cached total from the selected lines and returns it.
func Recompute(po *PurchaseOrder) decimal.Decimal {
	po.TotalCost = SelectedTotal(po.Lines)
	return po.TotalCost
}

// SelectedTotal sums quantity times unit price over selected lines.
func SelectedTotal(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		if l.Selected {
			total = total.Add(l.Total())
		}
	}
	return total
}
