package delivery

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/catalog"
	"github.com/odyssey-erp/odyssey-procurement/internal/procurement"
)

// NetReceived returns the received quantity per order line: items and hours
// from non-cancelled deliveries minus everything returned since.
func NetReceived(po procurement.PurchaseOrder, deliveries []Delivery, returns []Return) map[int64]decimal.Decimal {
	net := make(map[int64]decimal.Decimal, len(po.Lines))
	for _, line := range po.Lines {
		net[line.ID] = decimal.Zero
	}
	for _, d := range deliveries {
		if !d.Status.CountsTowardsOrder() {
			continue
		}
		for _, item := range d.Items {
			net[item.OrderLineID] = net[item.OrderLineID].Add(item.Quantity)
		}
		for _, svc := range d.Services {
			net[svc.OrderLineID] = net[svc.OrderLineID].Add(svc.Hours)
		}
	}
	for _, r := range returns {
		for _, item := range r.Items {
			net[item.OrderLineID] = net[item.OrderLineID].Sub(item.Quantity)
		}
	}
	return net
}

// Outstanding is ordered minus net received, never below zero.
func Outstanding(line procurement.OrderLine, net map[int64]decimal.Decimal) decimal.Decimal {
	left := line.Quantity.Sub(net[line.ID])
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}

// FullyReceived reports whether every selected line has nothing outstanding.
func FullyReceived(po procurement.PurchaseOrder, net map[int64]decimal.Decimal) bool {
	for _, line := range po.SelectedLines() {
		if Outstanding(line, net).IsPositive() {
			return false
		}
	}
	return true
}

// ValidateDeliveryLines checks each line against the order: it must point at
// a selected line of the matching catalog kind and stay within what is
// outstanding. Lines referencing the same order line are checked together.
func ValidateDeliveryLines(po procurement.PurchaseOrder, d Delivery, net map[int64]decimal.Decimal) error {
	requested := map[int64]decimal.Decimal{}
	check := func(field string, orderLineID int64, qty decimal.Decimal, kind catalog.Kind) error {
		line, ok := po.Line(orderLineID)
		if !ok || !line.Selected {
			return &ValidationError{Name: field, Reason: fmt.Sprintf("order line %d is not a selected line of order %d", orderLineID, po.ID)}
		}
		if line.Ref.Kind != kind {
			return &ValidationError{Name: field, Reason: fmt.Sprintf("order line %d is a %s, not a %s", orderLineID, line.Ref.Kind, kind)}
		}
		if !qty.IsPositive() {
			return &ValidationError{Name: "quantity", Reason: "must be positive"}
		}
		requested[orderLineID] = requested[orderLineID].Add(qty)
		if outstanding := Outstanding(*line, net); requested[orderLineID].GreaterThan(outstanding) {
			return &QuantityExceedsError{OrderLineID: orderLineID, Requested: requested[orderLineID], Outstanding: outstanding}
		}
		return nil
	}
	for _, item := range d.Items {
		if err := check("items", item.OrderLineID, item.Quantity, catalog.KindItem); err != nil {
			return err
		}
	}
	for _, svc := range d.Services {
		if err := check("services", svc.OrderLineID, svc.Hours, catalog.KindService); err != nil {
			return err
		}
	}
	return nil
}

// ValidateReturn checks a return against the delivery it sends goods back
// from. prior holds the returns already recorded for that delivery.
func ValidateReturn(d Delivery, r Return, prior []Return) error {
	if !d.Status.CanReturnOrRework() {
		return &StateError{Entity: "delivery", ID: d.ID, Status: string(d.Status), Action: "return goods from"}
	}
	if len(r.Items) == 0 {
		return &ValidationError{Name: "items", Reason: "at least one item is required"}
	}
	returned := map[int64]decimal.Decimal{}
	for _, p := range prior {
		for _, item := range p.Items {
			returned[item.DeliveryItemID] = returned[item.DeliveryItemID].Add(item.Quantity)
		}
	}
	delivered := make(map[int64]ItemLine, len(d.Items))
	for _, item := range d.Items {
		delivered[item.ID] = item
	}
	for _, item := range r.Items {
		src, ok := delivered[item.DeliveryItemID]
		if !ok {
			return &ValidationError{Name: "items", Reason: fmt.Sprintf("delivery item %d is not part of delivery %d", item.DeliveryItemID, d.ID)}
		}
		if !item.Quantity.IsPositive() {
			return &ValidationError{Name: "quantity", Reason: "must be positive"}
		}
		available := src.Quantity.Sub(returned[item.DeliveryItemID])
		if item.Quantity.GreaterThan(available) {
			return &ReturnExceedsDeliveredError{DeliveryItemID: item.DeliveryItemID, Requested: item.Quantity, Available: available}
		}
		returned[item.DeliveryItemID] = returned[item.DeliveryItemID].Add(item.Quantity)
	}
	return nil
}

// ValidateRework accepts only services the delivery actually carried.
func ValidateRework(d Delivery, r Rework) error {
	if !d.Status.CanReturnOrRework() {
		return &StateError{Entity: "delivery", ID: d.ID, Status: string(d.Status), Action: "schedule rework for"}
	}
	if len(r.Services) == 0 {
		return &ValidationError{Name: "services", Reason: "at least one service is required"}
	}
	delivered := make(map[int64]ServiceLine, len(d.Services))
	for _, svc := range d.Services {
		delivered[svc.ID] = svc
	}
	for _, svc := range r.Services {
		if _, ok := delivered[svc.DeliveryServiceID]; !ok {
			return &ReworkScopeError{DeliveryID: d.ID, DeliveryServiceID: svc.DeliveryServiceID}
		}
		if !svc.Hours.IsPositive() {
			return &ValidationError{Name: "hours", Reason: "must be positive"}
		}
	}
	return nil
}
