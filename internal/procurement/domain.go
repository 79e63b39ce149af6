package procurement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/catalog"
)

// OrderType separates orders for physical items from orders for services.
type OrderType string

const (
	OrderTypeItems    OrderType = "items"
	OrderTypeServices OrderType = "services"
)

// IsValid checks if the order type is known.
func (t OrderType) IsValid() bool {
	return t == OrderTypeItems || t == OrderTypeServices
}

// CatalogKind returns the catalog kind an order of this type is made of.
func (t OrderType) CatalogKind() catalog.Kind {
	if t == OrderTypeServices {
		return catalog.KindService
	}
	return catalog.KindItem
}

// Requisition lifecycle statuses.
type RequisitionStatus string

const (
	RequisitionDraft     RequisitionStatus = "Draft"
	RequisitionSubmitted RequisitionStatus = "Submitted"
	RequisitionApproved  RequisitionStatus = "Approved"
	RequisitionRejected  RequisitionStatus = "Rejected"
)

// Priority of a requisition.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// IsValid checks if the priority is known.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Purchase order lifecycle statuses.
type Status string

const (
	StatusPendingApproval    Status = "pending_approval"
	StatusMerged             Status = "merged"
	StatusIssued             Status = "issued"
	StatusRejected           Status = "rejected"
	StatusDelivered          Status = "delivered"
	StatusPartiallyDelivered Status = "partially_delivered"
	StatusReceived           Status = "received"
)

// IsActive reports whether an order in this status still claims its
// requisition lines.
func (s Status) IsActive() bool {
	return s != StatusRejected && s != StatusReceived
}

// PaymentType is the settlement method agreed with the supplier.
type PaymentType string

const (
	PaymentCash         PaymentType = "cash"
	PaymentDisbursement PaymentType = "disbursement"
	PaymentStoreCredit  PaymentType = "store_credit"
)

// IsValid checks if the payment type is known.
func (p PaymentType) IsValid() bool {
	return p == PaymentCash || p == PaymentDisbursement || p == PaymentStoreCredit
}

// Requisition is an internal request for items or services.
type Requisition struct {
	ID          int64             `json:"id"`
	Number      string            `json:"number"`
	Status      RequisitionStatus `json:"status"`
	OrderType   OrderType         `json:"order_type"`
	RequestorID int64             `json:"requestor_id"`
	Priority    Priority          `json:"priority"`
	Note        string            `json:"note"`
	Lines       []RequisitionLine `json:"lines"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// RequisitionLine is a requested catalog entry. RequestedQty holds hours for
// services and becomes the baseline of every order line built from it.
type RequisitionLine struct {
	ID            int64           `json:"id"`
	RequisitionID int64           `json:"requisition_id"`
	Ref           catalog.Ref     `json:"ref"`
	RequestedQty  decimal.Decimal `json:"requested_qty"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	CategoryID    int64           `json:"category_id"`
}

// PurchaseOrder aggregates one or more approved requisitions of the same type.
type PurchaseOrder struct {
	ID             int64           `json:"id"`
	ReferenceNo    string          `json:"reference_no"`
	OrderType      OrderType       `json:"order_type"`
	Status         Status          `json:"status"`
	SupplierID     *int64          `json:"supplier_id"`
	PaymentType    *PaymentType    `json:"payment_type"`
	RequisitionIDs []int64         `json:"requisition_ids"`
	Lines          []OrderLine     `json:"lines"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	Remarks        string          `json:"remarks"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	SubmittedAt    *time.Time      `json:"submitted_at,omitempty"`
	IssuedAt       *time.Time      `json:"issued_at,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	ReceivedAt     *time.Time      `json:"received_at,omitempty"`
}

// Merged reports whether the order combines several requisitions.
func (po PurchaseOrder) Merged() bool {
	return po.Status == StatusMerged || len(po.RequisitionIDs) > 1
}

// HasRequisition reports whether requisitionID is attached to the order.
func (po PurchaseOrder) HasRequisition(requisitionID int64) bool {
	for _, id := range po.RequisitionIDs {
		if id == requisitionID {
			return true
		}
	}
	return false
}

// Line returns a pointer to the line with the given id.
func (po *PurchaseOrder) Line(id int64) (*OrderLine, bool) {
	for i := range po.Lines {
		if po.Lines[i].ID == id {
			return &po.Lines[i], true
		}
	}
	return nil, false
}

// SelectedLines returns the lines that count towards totals.
func (po PurchaseOrder) SelectedLines() []OrderLine {
	out := make([]OrderLine, 0, len(po.Lines))
	for _, l := range po.Lines {
		if l.Selected {
			out = append(out, l)
		}
	}
	return out
}

// OrderLine is a purchase order line copied from a requisition line.
type OrderLine struct {
	ID                int64           `json:"id"`
	OrderID           int64           `json:"order_id"`
	RequisitionID     int64           `json:"requisition_id"`
	RequisitionLineID int64           `json:"requisition_line_id"`
	Ref               catalog.Ref     `json:"ref"`
	Baseline          decimal.Decimal `json:"baseline"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Selected          bool            `json:"selected"`
}

// Total is quantity times unit price (hours times hourly rate for services).
func (l OrderLine) Total() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}
