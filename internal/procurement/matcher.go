package procurement

import (
	"sort"

	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/catalog"
	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/suppliers"
)

// paymentBonus is added per supported payment method; it only separates
// suppliers with equal coverage.
const paymentBonus = 5

// Ranking is a supplier scored against a set of catalog references.
// Covered and Requested are the exact counts; Score and Coverage are derived
// from them for display.
type Ranking struct {
	Supplier  suppliers.Supplier `json:"supplier"`
	Score     float64            `json:"score"`
	Coverage  float64            `json:"coverage"`
	Covered   int                `json:"covered"`
	Requested int                `json:"requested"`
}

// FullCoverage reports whether the supplier can fulfil every reference.
func (r Ranking) FullCoverage() bool { return r.Requested > 0 && r.Covered == r.Requested }

// points is Score scaled by Requested, so rankings from one call compare as
// integers.
func (r Ranking) points() int {
	return r.Covered*100 + paymentBonus*r.Supplier.PaymentMethodCount()*r.Requested
}

// Rank scores every supplier against the distinct refs of the given order
// type. Suppliers covering nothing are left out. The result is ordered by
// score, then full coverage, then supplier id.
func Rank(refs []catalog.Ref, orderType OrderType, candidates []suppliers.Supplier) []Ranking {
	wanted := DistinctRefs(refs, orderType)
	if len(wanted) == 0 {
		return []Ranking{}
	}
	out := make([]Ranking, 0, len(candidates))
	for _, sup := range candidates {
		covered := 0
		for _, ref := range wanted {
			if sup.Covers(ref) {
				covered++
			}
		}
		if covered == 0 {
			continue
		}
		r := Ranking{Supplier: sup, Covered: covered, Requested: len(wanted)}
		r.Coverage = float64(covered) / float64(len(wanted))
		r.Score = float64(r.points()) / float64(len(wanted))
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].points(), out[j].points()
		if pi != pj {
			return pi > pj
		}
		if out[i].FullCoverage() != out[j].FullCoverage() {
			return out[i].FullCoverage()
		}
		return out[i].Supplier.ID < out[j].Supplier.ID
	})
	return out
}

// DistinctRefs returns refs of the order type's catalog kind without
// duplicates, sorted for stable cache keys.
func DistinctRefs(refs []catalog.Ref, orderType OrderType) []catalog.Ref {
	kind := orderType.CatalogKind()
	seen := make(map[catalog.Ref]struct{}, len(refs))
	out := make([]catalog.Ref, 0, len(refs))
	for _, ref := range refs {
		if ref.Kind != kind {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SelectedRefs returns the catalog refs of the selected order lines.
func SelectedRefs(po PurchaseOrder) []catalog.Ref {
	refs := make([]catalog.Ref, 0, len(po.Lines))
	for _, l := range po.SelectedLines() {
		refs = append(refs, l.Ref)
	}
	return refs
}

// AllowedPaymentTypes lists the payment types a supplier accepts.
func AllowedPaymentTypes(sup suppliers.Supplier) []PaymentType {
	var allowed []PaymentType
	if sup.AllowsCash {
		allowed = append(allowed, PaymentCash)
	}
	if sup.AllowsDisbursement {
		allowed = append(allowed, PaymentDisbursement)
	}
	if sup.AllowsStoreCredit {
		allowed = append(allowed, PaymentStoreCredit)
	}
	return allowed
}

// CheckPayment rejects payment types the supplier does not accept.
func CheckPayment(sup suppliers.Supplier, pt PaymentType) error {
	allowed := AllowedPaymentTypes(sup)
	for _, a := range allowed {
		if a == pt {
			return nil
		}
	}
	return &PaymentIncompatibleError{SupplierID: sup.ID, PaymentType: pt, Allowed: allowed}
}
