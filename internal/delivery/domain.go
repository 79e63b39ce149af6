package delivery

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/catalog"
)

// ============================================================================
// DELIVERY KIND
// ============================================================================

// Kind classifies what a delivery record carries.
type Kind string

const (
	KindItemPurchase    Kind = "ItemPurchase"
	KindServiceDelivery Kind = "ServiceDelivery"
	KindItemReturn      Kind = "ItemReturn"
	KindServiceRework   Kind = "ServiceRework"
	KindMixed           Kind = "Mixed"
	KindUnknown         Kind = "Unknown"
)

// IsExplicit reports whether the kind may be supplied as record metadata.
func (k Kind) IsExplicit() bool {
	switch k {
	case KindItemPurchase, KindServiceDelivery, KindItemReturn, KindServiceRework:
		return true
	default:
		return false
	}
}

// ============================================================================
// DELIVERY STATUS
// ============================================================================

// Status represents the lifecycle of a delivery.
type Status string

const (
	StatusPending     Status = "Pending"
	StatusInTransit   Status = "InTransit"
	StatusReceived    Status = "Received"
	StatusWithReturns Status = "WithReturns"
	StatusCancelled   Status = "Cancelled"
)

var statusTransitions = map[Status][]Status{
	StatusPending:   {StatusInTransit, StatusReceived, StatusCancelled},
	StatusInTransit: {StatusReceived, StatusCancelled},
	StatusReceived:  {StatusWithReturns},
}

// CanTransition checks the delivery status table.
func (s Status) CanTransition(to Status) bool {
	for _, next := range statusTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsOpen reports whether goods are still on their way.
func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusInTransit
}

// CountsTowardsOrder reports whether delivered quantities count as received.
func (s Status) CountsTowardsOrder() bool {
	return s != StatusCancelled
}

// CanReturnOrRework checks if goods were received and can be sent back.
func (s Status) CanReturnOrRework() bool {
	return s == StatusReceived || s == StatusWithReturns
}

// ============================================================================
// ENTITIES
// ============================================================================

// SourceType names the record a delivery originates from.
type SourceType string

const (
	SourcePurchaseOrder SourceType = "purchase_order"
	SourceReturn        SourceType = "return"
	SourceRework        SourceType = "rework"
)

// Source references the origin of a delivery.
type Source struct {
	Type SourceType `json:"type"`
	ID   int64      `json:"id"`
}

// Delivery records goods or services received against a purchase order.
// TotalCost is a cache of Reconcile and never trusted as input.
type Delivery struct {
	ID              int64           `json:"id"`
	Kind            Kind            `json:"kind,omitempty"`
	Source          Source          `json:"source"`
	PurchaseOrderID int64           `json:"purchase_order_id"`
	ReceiptNo       string          `json:"receipt_no"`
	DeliveryDate    time.Time       `json:"delivery_date"`
	Status          Status          `json:"status"`
	Items           []ItemLine      `json:"items"`
	Services        []ServiceLine   `json:"services"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	Notes           string          `json:"notes,omitempty"`
	ReceivedAt      *time.Time      `json:"received_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ItemLine is a delivered quantity of a purchase order item line.
type ItemLine struct {
	ID          int64           `json:"id"`
	DeliveryID  int64           `json:"delivery_id"`
	OrderLineID int64           `json:"order_line_id"`
	Ref         catalog.Ref     `json:"ref"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Total is quantity times unit price.
func (l ItemLine) Total() decimal.Decimal { return l.Quantity.Mul(l.UnitPrice) }

// ServiceLine is delivered hours of a purchase order service line.
type ServiceLine struct {
	ID          int64           `json:"id"`
	DeliveryID  int64           `json:"delivery_id"`
	OrderLineID int64           `json:"order_line_id"`
	Ref         catalog.Ref     `json:"ref"`
	Hours       decimal.Decimal `json:"hours"`
	HourlyRate  decimal.Decimal `json:"hourly_rate"`
}

// Total is hours times hourly rate.
func (l ServiceLine) Total() decimal.Decimal { return l.Hours.Mul(l.HourlyRate) }

// Return sends delivered items back. It never edits the delivery it
// references; returned quantities are subtracted when computing net received.
type Return struct {
	ID              int64           `json:"id"`
	DeliveryID      int64           `json:"delivery_id"`
	PurchaseOrderID int64           `json:"purchase_order_id"`
	ReturnNo        string          `json:"return_no"`
	Reason          string          `json:"reason"`
	ReturnedAt      time.Time       `json:"returned_at"`
	Items           []ReturnItem    `json:"items"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ReturnItem returns part of a delivered item line.
type ReturnItem struct {
	ID             int64           `json:"id"`
	ReturnID       int64           `json:"return_id"`
	DeliveryItemID int64           `json:"delivery_item_id"`
	OrderLineID    int64           `json:"order_line_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
}

// Total is quantity times unit price.
func (l ReturnItem) Total() decimal.Decimal { return l.Quantity.Mul(l.UnitPrice) }

// Rework schedules corrective work on services of a prior delivery. Its total
// stands alone and is never merged into the delivery total.
type Rework struct {
	ID              int64           `json:"id"`
	DeliveryID      int64           `json:"delivery_id"`
	PurchaseOrderID int64           `json:"purchase_order_id"`
	ReworkNo        string          `json:"rework_no"`
	Reason          string          `json:"reason"`
	ScheduledAt     time.Time       `json:"scheduled_at"`
	Services        []ReworkService `json:"services"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ReworkService redoes hours of a delivered service line.
type ReworkService struct {
	ID                int64           `json:"id"`
	ReworkID          int64           `json:"rework_id"`
	DeliveryServiceID int64           `json:"delivery_service_id"`
	Ref               catalog.Ref     `json:"ref"`
	Hours             decimal.Decimal `json:"hours"`
	HourlyRate        decimal.Decimal `json:"hourly_rate"`
}

// Total is hours times hourly rate.
func (l ReworkService) Total() decimal.Decimal { return l.Hours.Mul(l.HourlyRate) }
