package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/catalog"
	"github.com/odyssey-erp/odyssey-procurement/internal/procurement"
	"github.com/odyssey-erp/odyssey-procurement/internal/shared"
)

// OrderTx is the slice of the procurement transaction a delivery needs.
type OrderTx interface {
	LockOrder(ctx context.Context, id int64) (procurement.PurchaseOrder, error)
	SaveOrderHeader(ctx context.Context, po *procurement.PurchaseOrder) error
	ReleaseOrderClaims(ctx context.Context, orderID int64) error
}

// TxRepository exposes transactional delivery operations.
type TxRepository interface {
	OrderTx
	LockDelivery(ctx context.Context, id int64) (Delivery, error)
	ListOrderDeliveries(ctx context.Context, orderID int64) ([]Delivery, error)
	ListOrderReturns(ctx context.Context, orderID int64) ([]Return, error)
	ListDeliveryReturns(ctx context.Context, deliveryID int64) ([]Return, error)
	CreateDelivery(ctx context.Context, d *Delivery) error
	UpdateDeliveryStatus(ctx context.Context, id int64, status Status, receivedAt *time.Time) error
	UpdateDeliveryTotal(ctx context.Context, id int64, total decimal.Decimal) error
	CreateReturn(ctx context.Context, r *Return) error
	CreateRework(ctx context.Context, r *Rework) error
}

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (procurement.PurchaseOrder, error)
	GetDelivery(ctx context.Context, id int64) (Delivery, error)
	ListOrderDeliveries(ctx context.Context, orderID int64) ([]Delivery, error)
	ListOrderReturns(ctx context.Context, orderID int64) ([]Return, error)
	ListDeliveryReturns(ctx context.Context, deliveryID int64) ([]Return, error)
	ListDeliveryReworks(ctx context.Context, deliveryID int64) ([]Rework, error)
	ListDeliveryIDs(ctx context.Context, afterID int64, limit int) ([]int64, error)
}

// OrderNotifier publishes order transitions caused by deliveries.
type OrderNotifier interface {
	NotifyTransition(ctx context.Context, po procurement.PurchaseOrder, from procurement.Status, origin procurement.Origin)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service records deliveries, returns and reworks against issued orders.
type Service struct {
	repo     RepositoryPort
	notifier OrderNotifier
	audit    AuditPort
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a delivery service.
func NewService(repo RepositoryPort, notifier OrderNotifier, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, notifier: notifier, audit: audit, logger: logger, now: time.Now}
}

// ============================================================================
// INPUTS
// ============================================================================

// RecordDeliveryInput describes goods or services arriving for an order.
type RecordDeliveryInput struct {
	OrderID         int64
	ExpectedVersion int64
	Kind            Kind
	ReceiptNo       string
	DeliveryDate    time.Time
	Status          Status
	Items           []ItemInput
	Services        []ServiceInput
	Notes           string
	ActorID         int64
}

// ItemInput is a delivered quantity of an order item line.
type ItemInput struct {
	OrderLineID int64
	Quantity    decimal.Decimal
}

// ServiceInput is delivered hours of an order service line.
type ServiceInput struct {
	OrderLineID int64
	Hours       decimal.Decimal
}

// RecordReturnInput sends delivered items back.
type RecordReturnInput struct {
	DeliveryID int64
	ReturnNo   string
	Reason     string
	ReturnedAt time.Time
	Items      []ReturnItemInput
	ActorID    int64
}

// ReturnItemInput returns part of a delivery item line.
type ReturnItemInput struct {
	DeliveryItemID int64
	Quantity       decimal.Decimal
}

// RecordReworkInput schedules corrective work on delivered services.
type RecordReworkInput struct {
	DeliveryID  int64
	ReworkNo    string
	Reason      string
	ScheduledAt time.Time
	Services    []ReworkServiceInput
	ActorID     int64
}

// ReworkServiceInput redoes hours of a delivery service line.
type ReworkServiceInput struct {
	DeliveryServiceID int64
	Hours             decimal.Decimal
}

// DeliveryView is a delivery with its classification, totals and the
// returns and reworks raised against it.
type DeliveryView struct {
	Delivery
	Kind    Kind     `json:"kind"`
	Totals  Totals   `json:"totals"`
	Returns []Return `json:"returns"`
	Reworks []Rework `json:"reworks"`
}

// LineReceipt summarises receipt progress of one order line.
type LineReceipt struct {
	OrderLineID int64           `json:"order_line_id"`
	Ref         catalog.Ref     `json:"ref"`
	Ordered     decimal.Decimal `json:"ordered"`
	Received    decimal.Decimal `json:"received"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// RefreshReport counts deliveries scanned and repaired by RefreshTotals.
type RefreshReport struct {
	Scanned  int `json:"scanned"`
	Repaired int `json:"repaired"`
}

type transitionNote struct {
	po   procurement.PurchaseOrder
	from procurement.Status
}

// ============================================================================
// DELIVERIES
// ============================================================================

// RecordDelivery stores a delivery against an issued order. The first
// delivery moves the order to delivered or partially_delivered depending on
// whether every selected line is now fully received.
func (s *Service) RecordDelivery(ctx context.Context, input RecordDeliveryInput) (Delivery, error) {
	if input.Kind != "" && !input.Kind.IsExplicit() {
		return Delivery{}, &ValidationError{Name: "kind", Reason: fmt.Sprintf("unknown delivery kind %q", input.Kind)}
	}
	status := input.Status
	if status == "" {
		status = StatusPending
	}
	if !status.IsOpen() && status != StatusReceived {
		return Delivery{}, &ValidationError{Name: "status", Reason: fmt.Sprintf("a new delivery cannot start as %s", status)}
	}
	var result Delivery
	var notes []transitionNote
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockOrder(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if input.ExpectedVersion != 0 && po.Version != input.ExpectedVersion {
			return &procurement.ConflictError{Entity: "purchase order", ID: po.ID, Reason: fmt.Sprintf("version %d does not match current %d", input.ExpectedVersion, po.Version)}
		}
		if !acceptsDeliveries(po.Status) {
			return &StateError{Entity: "purchase order", ID: po.ID, Status: string(po.Status), Action: "record a delivery for"}
		}
		deliveries, err := tx.ListOrderDeliveries(ctx, po.ID)
		if err != nil {
			return err
		}
		returns, err := tx.ListOrderReturns(ctx, po.ID)
		if err != nil {
			return err
		}

		now := s.now()
		d := Delivery{
			Kind:            input.Kind,
			Source:          Source{Type: SourcePurchaseOrder, ID: po.ID},
			PurchaseOrderID: po.ID,
			ReceiptNo:       input.ReceiptNo,
			DeliveryDate:    input.DeliveryDate,
			Status:          status,
			Notes:           input.Notes,
		}
		if d.ReceiptNo == "" {
			d.ReceiptNo = fmt.Sprintf("DLV-%d", now.UnixNano())
		}
		if d.DeliveryDate.IsZero() {
			d.DeliveryDate = now
		}
		if status == StatusReceived {
			d.ReceivedAt = &now
		}
		for _, item := range input.Items {
			il := ItemLine{OrderLineID: item.OrderLineID, Quantity: item.Quantity}
			if line, ok := po.Line(item.OrderLineID); ok {
				il.Ref, il.UnitPrice = line.Ref, line.UnitPrice
			}
			d.Items = append(d.Items, il)
		}
		for _, svc := range input.Services {
			sl := ServiceLine{OrderLineID: svc.OrderLineID, Hours: svc.Hours}
			if line, ok := po.Line(svc.OrderLineID); ok {
				sl.Ref, sl.HourlyRate = line.Ref, line.UnitPrice
			}
			d.Services = append(d.Services, sl)
		}
		if err := ValidateKind(d); err != nil {
			return err
		}
		totals, err := Reconcile(d)
		if err != nil {
			return err
		}
		net := NetReceived(po, deliveries, returns)
		if err := ValidateDeliveryLines(po, d, net); err != nil {
			return err
		}
		d.TotalCost = totals.Value
		if err := tx.CreateDelivery(ctx, &d); err != nil {
			return err
		}

		deliveries = append(deliveries, d)
		if po.Status == procurement.StatusIssued {
			target := procurement.StatusPartiallyDelivered
			if FullyReceived(po, NetReceived(po, deliveries, returns)) {
				target = procurement.StatusDelivered
			}
			note, err := transitionOrder(ctx, tx, &po, target, now)
			if err != nil {
				return err
			}
			notes = append(notes, note)
		}
		note, settled, err := settleOrder(ctx, tx, &po, deliveries, returns, now)
		if err != nil {
			return err
		}
		if settled {
			notes = append(notes, note)
		}
		result = d
		return nil
	})
	if err != nil {
		return Delivery{}, err
	}
	s.recordAudit(ctx, input.ActorID, "DELIVERY_RECORD", "delivery", result.ID, map[string]any{"order_id": result.PurchaseOrderID, "kind": string(Classify(result)), "total": result.TotalCost.String()})
	s.publish(ctx, notes)
	return result, nil
}

// ConfirmReceipt marks a delivery received. Once no delivery of the order is
// still pending or in transit and every selected line is covered, the order
// itself becomes received.
func (s *Service) ConfirmReceipt(ctx context.Context, deliveryID, actorID int64) (Delivery, error) {
	return s.moveDelivery(ctx, deliveryID, actorID, StatusReceived, "DELIVERY_RECEIVE")
}

// MarkInTransit flags a pending delivery as shipped.
func (s *Service) MarkInTransit(ctx context.Context, deliveryID, actorID int64) (Delivery, error) {
	return s.moveDelivery(ctx, deliveryID, actorID, StatusInTransit, "DELIVERY_SHIP")
}

// CancelDelivery withdraws a delivery that never arrived. Its quantities stop
// counting towards the order.
func (s *Service) CancelDelivery(ctx context.Context, deliveryID, actorID int64) (Delivery, error) {
	return s.moveDelivery(ctx, deliveryID, actorID, StatusCancelled, "DELIVERY_CANCEL")
}

func (s *Service) moveDelivery(ctx context.Context, deliveryID, actorID int64, to Status, action string) (Delivery, error) {
	current, err := s.repo.GetDelivery(ctx, deliveryID)
	if err != nil {
		return Delivery{}, err
	}
	var result Delivery
	var notes []transitionNote
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// order first, then delivery, the same order RecordDelivery locks in
		po, err := tx.LockOrder(ctx, current.PurchaseOrderID)
		if err != nil {
			return err
		}
		d, err := tx.LockDelivery(ctx, deliveryID)
		if err != nil {
			return err
		}
		if !d.Status.CanTransition(to) {
			return &StateError{Entity: "delivery", ID: d.ID, Status: string(d.Status), Action: "move to " + string(to)}
		}
		now := s.now()
		var receivedAt *time.Time
		if to == StatusReceived {
			receivedAt = &now
		}
		if err := tx.UpdateDeliveryStatus(ctx, d.ID, to, receivedAt); err != nil {
			return err
		}
		d.Status, d.ReceivedAt, d.UpdatedAt = to, receivedAt, now
		if to == StatusInTransit {
			result = d
			return nil
		}
		deliveries, err := tx.ListOrderDeliveries(ctx, po.ID)
		if err != nil {
			return err
		}
		returns, err := tx.ListOrderReturns(ctx, po.ID)
		if err != nil {
			return err
		}
		note, settled, err := settleOrder(ctx, tx, &po, deliveries, returns, now)
		if err != nil {
			return err
		}
		if settled {
			notes = append(notes, note)
		}
		result = d
		return nil
	})
	if err != nil {
		return Delivery{}, err
	}
	s.recordAudit(ctx, actorID, action, "delivery", result.ID, map[string]any{"order_id": result.PurchaseOrderID, "status": string(result.Status)})
	s.publish(ctx, notes)
	return result, nil
}

// GetDelivery returns a delivery with its classification and reconciled
// totals. Stored totals are ignored.
func (s *Service) GetDelivery(ctx context.Context, id int64) (DeliveryView, error) {
	d, err := s.repo.GetDelivery(ctx, id)
	if err != nil {
		return DeliveryView{}, err
	}
	totals, err := Reconcile(d)
	if err != nil {
		return DeliveryView{}, err
	}
	returns, err := s.repo.ListDeliveryReturns(ctx, id)
	if err != nil {
		return DeliveryView{}, err
	}
	reworks, err := s.repo.ListDeliveryReworks(ctx, id)
	if err != nil {
		return DeliveryView{}, err
	}
	d.TotalCost = totals.Value
	return DeliveryView{Delivery: d, Kind: Classify(d), Totals: totals, Returns: returns, Reworks: reworks}, nil
}

// NetReceived reports ordered, received and outstanding amounts per selected
// order line.
func (s *Service) NetReceived(ctx context.Context, orderID int64) ([]LineReceipt, error) {
	po, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	deliveries, err := s.repo.ListOrderDeliveries(ctx, orderID)
	if err != nil {
		return nil, err
	}
	returns, err := s.repo.ListOrderReturns(ctx, orderID)
	if err != nil {
		return nil, err
	}
	net := NetReceived(po, deliveries, returns)
	lines := po.SelectedLines()
	out := make([]LineReceipt, 0, len(lines))
	for _, line := range lines {
		out = append(out, LineReceipt{
			OrderLineID: line.ID,
			Ref:         line.Ref,
			Ordered:     line.Quantity,
			Received:    net[line.ID],
			Outstanding: Outstanding(line, net),
		})
	}
	return out, nil
}

// ============================================================================
// RETURNS & REWORKS
// ============================================================================

// RecordReturn sends items of a received delivery back to the supplier. The
// delivery keeps its lines and totals and is flagged WithReturns.
func (s *Service) RecordReturn(ctx context.Context, input RecordReturnInput) (Return, error) {
	current, err := s.repo.GetDelivery(ctx, input.DeliveryID)
	if err != nil {
		return Return{}, err
	}
	var result Return
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockOrder(ctx, current.PurchaseOrderID); err != nil {
			return err
		}
		d, err := tx.LockDelivery(ctx, input.DeliveryID)
		if err != nil {
			return err
		}
		prior, err := tx.ListDeliveryReturns(ctx, d.ID)
		if err != nil {
			return err
		}
		now := s.now()
		r := Return{
			DeliveryID:      d.ID,
			PurchaseOrderID: d.PurchaseOrderID,
			ReturnNo:        input.ReturnNo,
			Reason:          input.Reason,
			ReturnedAt:      input.ReturnedAt,
		}
		if r.ReturnNo == "" {
			r.ReturnNo = fmt.Sprintf("RET-%d", now.UnixNano())
		}
		if r.ReturnedAt.IsZero() {
			r.ReturnedAt = now
		}
		for _, item := range input.Items {
			ri := ReturnItem{DeliveryItemID: item.DeliveryItemID, Quantity: item.Quantity}
			for _, src := range d.Items {
				if src.ID == item.DeliveryItemID {
					ri.OrderLineID, ri.UnitPrice = src.OrderLineID, src.UnitPrice
				}
			}
			r.Items = append(r.Items, ri)
		}
		if err := ValidateReturn(d, r, prior); err != nil {
			return err
		}
		r.TotalCost = ReturnTotal(r)
		if err := tx.CreateReturn(ctx, &r); err != nil {
			return err
		}
		if d.Status != StatusWithReturns {
			if err := tx.UpdateDeliveryStatus(ctx, d.ID, StatusWithReturns, d.ReceivedAt); err != nil {
				return err
			}
		}
		result = r
		return nil
	})
	if err != nil {
		return Return{}, err
	}
	s.recordAudit(ctx, input.ActorID, "DELIVERY_RETURN", "delivery", result.DeliveryID, map[string]any{"return_id": result.ID, "total": result.TotalCost.String()})
	return result, nil
}

// RecordRework schedules corrective work on services of a received delivery.
// Its total is computed on its own and never added to the delivery.
func (s *Service) RecordRework(ctx context.Context, input RecordReworkInput) (Rework, error) {
	current, err := s.repo.GetDelivery(ctx, input.DeliveryID)
	if err != nil {
		return Rework{}, err
	}
	var result Rework
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockOrder(ctx, current.PurchaseOrderID); err != nil {
			return err
		}
		d, err := tx.LockDelivery(ctx, input.DeliveryID)
		if err != nil {
			return err
		}
		now := s.now()
		r := Rework{
			DeliveryID:      d.ID,
			PurchaseOrderID: d.PurchaseOrderID,
			ReworkNo:        input.ReworkNo,
			Reason:          input.Reason,
			ScheduledAt:     input.ScheduledAt,
		}
		if r.ReworkNo == "" {
			r.ReworkNo = fmt.Sprintf("RWK-%d", now.UnixNano())
		}
		if r.ScheduledAt.IsZero() {
			r.ScheduledAt = now
		}
		for _, svc := range input.Services {
			rs := ReworkService{DeliveryServiceID: svc.DeliveryServiceID, Hours: svc.Hours}
			for _, src := range d.Services {
				if src.ID == svc.DeliveryServiceID {
					rs.Ref, rs.HourlyRate = src.Ref, src.HourlyRate
				}
			}
			r.Services = append(r.Services, rs)
		}
		if err := ValidateRework(d, r); err != nil {
			return err
		}
		r.TotalCost = ReworkTotal(r)
		if err := tx.CreateRework(ctx, &r); err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return Rework{}, err
	}
	s.recordAudit(ctx, input.ActorID, "DELIVERY_REWORK", "delivery", result.DeliveryID, map[string]any{"rework_id": result.ID, "total": result.TotalCost.String()})
	return result, nil
}

// ============================================================================
// MAINTENANCE
// ============================================================================

// RefreshTotals reconciles every delivery and repairs drifted cached totals.
func (s *Service) RefreshTotals(ctx context.Context, batchSize int) (RefreshReport, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	var report RefreshReport
	var after int64
	for {
		ids, err := s.repo.ListDeliveryIDs(ctx, after, batchSize)
		if err != nil {
			return report, err
		}
		if len(ids) == 0 {
			return report, nil
		}
		for _, id := range ids {
			repaired, err := s.refreshDeliveryTotal(ctx, id)
			if err != nil {
				return report, fmt.Errorf("delivery: refresh delivery %d: %w", id, err)
			}
			report.Scanned++
			if repaired {
				report.Repaired++
			}
			after = id
		}
	}
}

func (s *Service) refreshDeliveryTotal(ctx context.Context, id int64) (bool, error) {
	repaired := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		d, err := tx.LockDelivery(ctx, id)
		if err != nil {
			return err
		}
		totals, err := Reconcile(d)
		if err != nil {
			return err
		}
		if totals.Value.Equal(d.TotalCost) {
			return nil
		}
		repaired = true
		s.logger.Warn("delivery total drifted", slog.Int64("delivery_id", id), slog.String("stored", d.TotalCost.String()), slog.String("computed", totals.Value.String()))
		return tx.UpdateDeliveryTotal(ctx, id, totals.Value)
	})
	return repaired, err
}

// ============================================================================
// HELPERS
// ============================================================================

func acceptsDeliveries(status procurement.Status) bool {
	switch status {
	case procurement.StatusIssued, procurement.StatusPartiallyDelivered, procurement.StatusDelivered:
		return true
	default:
		return false
	}
}

func transitionOrder(ctx context.Context, tx OrderTx, po *procurement.PurchaseOrder, to procurement.Status, now time.Time) (transitionNote, error) {
	from := po.Status
	if err := procurement.ApplyTransition(po, to, procurement.OriginSystem, now); err != nil {
		return transitionNote{}, err
	}
	if err := tx.SaveOrderHeader(ctx, po); err != nil {
		return transitionNote{}, err
	}
	if procurement.ReleasesClaims(to) {
		if err := tx.ReleaseOrderClaims(ctx, po.ID); err != nil {
			return transitionNote{}, err
		}
	}
	return transitionNote{po: *po, from: from}, nil
}

// settleOrder moves a delivered order to received once every selected line
// is covered by received deliveries and nothing is still pending or in
// transit. A partially received order stays open for further deliveries.
func settleOrder(ctx context.Context, tx OrderTx, po *procurement.PurchaseOrder, deliveries []Delivery, returns []Return, now time.Time) (transitionNote, bool, error) {
	if po.Status != procurement.StatusDelivered && po.Status != procurement.StatusPartiallyDelivered {
		return transitionNote{}, false, nil
	}
	for _, d := range deliveries {
		if d.Status.IsOpen() {
			return transitionNote{}, false, nil
		}
	}
	if !FullyReceived(*po, NetReceived(*po, deliveries, returns)) {
		return transitionNote{}, false, nil
	}
	note, err := transitionOrder(ctx, tx, po, procurement.StatusReceived, now)
	return note, err == nil, err
}

func (s *Service) publish(ctx context.Context, notes []transitionNote) {
	if s.notifier == nil {
		return
	}
	for _, n := range notes {
		s.notifier.NotifyTransition(ctx, n.po, n.from, procurement.OriginSystem)
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: entity, EntityID: fmt.Sprintf("%d", entityID), Meta: meta}); err != nil {
		s.logger.Warn("record audit failed", slog.String("action", action), slog.Int64("entity_id", entityID), slog.Any("error", err))
	}
}
