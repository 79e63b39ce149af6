package delivery

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/catalog"
	"github.com/odyssey-erp/odyssey-procurement/internal/procurement"
	"github.com/odyssey-erp/odyssey-procurement/internal/shared"
)

type memoryDeliveryRepo struct {
	orders     map[int64]procurement.PurchaseOrder
	deliveries map[int64]Delivery
	returns    map[int64]Return
	reworks    map[int64]Rework
	released   []int64
	locks      []string
	nextID     int64
}

type memoryDeliveryTx struct {
	repo *memoryDeliveryRepo
}

func newMemoryDeliveryRepo() *memoryDeliveryRepo {
	return &memoryDeliveryRepo{
		orders:     make(map[int64]procurement.PurchaseOrder),
		deliveries: make(map[int64]Delivery),
		returns:    make(map[int64]Return),
		reworks:    make(map[int64]Rework),
		nextID:     1000,
	}
}

func cloneDelivery(d Delivery) Delivery {
	d.Items = append([]ItemLine(nil), d.Items...)
	d.Services = append([]ServiceLine(nil), d.Services...)
	return d
}

func cloneReturn(r Return) Return {
	r.Items = append([]ReturnItem(nil), r.Items...)
	return r
}

func cloneOrder(po procurement.PurchaseOrder) procurement.PurchaseOrder {
	po.Lines = append([]procurement.OrderLine(nil), po.Lines...)
	return po
}

// WithTx restores the previous state when fn fails, like a rolled back transaction.
func (r *memoryDeliveryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	orders := make(map[int64]procurement.PurchaseOrder, len(r.orders))
	for k, v := range r.orders {
		orders[k] = cloneOrder(v)
	}
	deliveries := make(map[int64]Delivery, len(r.deliveries))
	for k, v := range r.deliveries {
		deliveries[k] = cloneDelivery(v)
	}
	returns := make(map[int64]Return, len(r.returns))
	for k, v := range r.returns {
		returns[k] = cloneReturn(v)
	}
	reworks := make(map[int64]Rework, len(r.reworks))
	for k, v := range r.reworks {
		reworks[k] = v
	}
	released := append([]int64(nil), r.released...)
	nextID := r.nextID
	if err := fn(ctx, &memoryDeliveryTx{repo: r}); err != nil {
		r.orders, r.deliveries, r.returns, r.reworks, r.released, r.nextID = orders, deliveries, returns, reworks, released, nextID
		return err
	}
	return nil
}

func (r *memoryDeliveryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryDeliveryRepo) GetOrder(_ context.Context, id int64) (procurement.PurchaseOrder, error) {
	po, ok := r.orders[id]
	if !ok {
		return procurement.PurchaseOrder{}, &procurement.NotFoundError{Entity: "purchase order", ID: id}
	}
	return cloneOrder(po), nil
}

func (r *memoryDeliveryRepo) GetDelivery(_ context.Context, id int64) (Delivery, error) {
	d, ok := r.deliveries[id]
	if !ok {
		return Delivery{}, &NotFoundError{Entity: "delivery", ID: id}
	}
	return cloneDelivery(d), nil
}

func (r *memoryDeliveryRepo) ListOrderDeliveries(_ context.Context, orderID int64) ([]Delivery, error) {
	var out []Delivery
	for _, d := range r.deliveries {
		if d.PurchaseOrderID == orderID {
			out = append(out, cloneDelivery(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryDeliveryRepo) listReturns(match func(Return) bool) []Return {
	var out []Return
	for _, ret := range r.returns {
		if match(ret) {
			out = append(out, cloneReturn(ret))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memoryDeliveryRepo) ListOrderReturns(_ context.Context, orderID int64) ([]Return, error) {
	return r.listReturns(func(ret Return) bool { return ret.PurchaseOrderID == orderID }), nil
}

func (r *memoryDeliveryRepo) ListDeliveryReturns(_ context.Context, deliveryID int64) ([]Return, error) {
	return r.listReturns(func(ret Return) bool { return ret.DeliveryID == deliveryID }), nil
}

func (r *memoryDeliveryRepo) ListDeliveryReworks(_ context.Context, deliveryID int64) ([]Rework, error) {
	var out []Rework
	for _, rw := range r.reworks {
		if rw.DeliveryID == deliveryID {
			out = append(out, rw)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryDeliveryRepo) ListDeliveryIDs(_ context.Context, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	for id := range r.deliveries {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (t *memoryDeliveryTx) LockOrder(ctx context.Context, id int64) (procurement.PurchaseOrder, error) {
	t.repo.locks = append(t.repo.locks, fmt.Sprintf("order:%d", id))
	return t.repo.GetOrder(ctx, id)
}

func (t *memoryDeliveryTx) SaveOrderHeader(_ context.Context, po *procurement.PurchaseOrder) error {
	stored, ok := t.repo.orders[po.ID]
	if !ok || stored.Version != po.Version {
		return &procurement.ConflictError{Entity: "purchase order", ID: po.ID, Reason: "stale version"}
	}
	po.Version++
	t.repo.orders[po.ID] = cloneOrder(*po)
	return nil
}

func (t *memoryDeliveryTx) ReleaseOrderClaims(_ context.Context, orderID int64) error {
	t.repo.released = append(t.repo.released, orderID)
	return nil
}

func (t *memoryDeliveryTx) LockDelivery(ctx context.Context, id int64) (Delivery, error) {
	t.repo.locks = append(t.repo.locks, fmt.Sprintf("delivery:%d", id))
	return t.repo.GetDelivery(ctx, id)
}

func (t *memoryDeliveryTx) ListOrderDeliveries(ctx context.Context, orderID int64) ([]Delivery, error) {
	return t.repo.ListOrderDeliveries(ctx, orderID)
}

func (t *memoryDeliveryTx) ListOrderReturns(ctx context.Context, orderID int64) ([]Return, error) {
	return t.repo.ListOrderReturns(ctx, orderID)
}

func (t *memoryDeliveryTx) ListDeliveryReturns(ctx context.Context, deliveryID int64) ([]Return, error) {
	return t.repo.ListDeliveryReturns(ctx, deliveryID)
}

func (t *memoryDeliveryTx) CreateDelivery(_ context.Context, d *Delivery) error {
	d.ID = t.repo.id()
	for i := range d.Items {
		d.Items[i].ID = t.repo.id()
		d.Items[i].DeliveryID = d.ID
	}
	for i := range d.Services {
		d.Services[i].ID = t.repo.id()
		d.Services[i].DeliveryID = d.ID
	}
	t.repo.deliveries[d.ID] = cloneDelivery(*d)
	return nil
}

func (t *memoryDeliveryTx) UpdateDeliveryStatus(_ context.Context, id int64, status Status, receivedAt *time.Time) error {
	d, ok := t.repo.deliveries[id]
	if !ok {
		return &NotFoundError{Entity: "delivery", ID: id}
	}
	d.Status, d.ReceivedAt = status, receivedAt
	t.repo.deliveries[id] = d
	return nil
}

func (t *memoryDeliveryTx) UpdateDeliveryTotal(_ context.Context, id int64, total decimal.Decimal) error {
	d := t.repo.deliveries[id]
	d.TotalCost = total
	t.repo.deliveries[id] = d
	return nil
}

func (t *memoryDeliveryTx) CreateReturn(_ context.Context, r *Return) error {
	r.ID = t.repo.id()
	for i := range r.Items {
		r.Items[i].ID = t.repo.id()
		r.Items[i].ReturnID = r.ID
	}
	t.repo.returns[r.ID] = cloneReturn(*r)
	return nil
}

func (t *memoryDeliveryTx) CreateRework(_ context.Context, r *Rework) error {
	r.ID = t.repo.id()
	for i := range r.Services {
		r.Services[i].ID = t.repo.id()
		r.Services[i].ReworkID = r.ID
	}
	t.repo.reworks[r.ID] = *r
	return nil
}

type recordedTransition struct {
	from, to procurement.Status
	origin   procurement.Origin
}

type recordingNotifier struct {
	events []recordedTransition
}

func (n *recordingNotifier) NotifyTransition(_ context.Context, po procurement.PurchaseOrder, from procurement.Status, origin procurement.Origin) {
	n.events = append(n.events, recordedTransition{from: from, to: po.Status, origin: origin})
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

const (
	itemOrderID    = int64(1)
	serviceOrderID = int64(2)
	lineA          = int64(11)
	lineB          = int64(12)
	lineDropped    = int64(13)
	lineConsulting = int64(21)
)

type fixture struct {
	repo     *memoryDeliveryRepo
	notifier *recordingNotifier
	svc      *Service
}

// newFixture seeds one issued item order and one issued service order.
func newFixture() *fixture {
	repo := newMemoryDeliveryRepo()
	supplier := int64(7)
	cash := procurement.PaymentCash
	repo.orders[itemOrderID] = procurement.PurchaseOrder{
		ID: itemOrderID, ReferenceNo: "PO-ITEMS", OrderType: procurement.OrderTypeItems, Status: procurement.StatusIssued,
		SupplierID: &supplier, PaymentType: &cash, RequisitionIDs: []int64{100}, Version: 3,
		Lines: []procurement.OrderLine{
			{ID: lineA, OrderID: itemOrderID, Ref: catalog.ItemRef(1), Baseline: dec("10"), Quantity: dec("10"), UnitPrice: dec("5"), Selected: true},
			{ID: lineB, OrderID: itemOrderID, Ref: catalog.ItemRef(2), Baseline: dec("4"), Quantity: dec("4"), UnitPrice: dec("2.5"), Selected: true},
			{ID: lineDropped, OrderID: itemOrderID, Ref: catalog.ItemRef(3), Baseline: dec("1"), Quantity: dec("1"), UnitPrice: dec("9"), Selected: false},
		},
	}
	repo.orders[serviceOrderID] = procurement.PurchaseOrder{
		ID: serviceOrderID, ReferenceNo: "PO-SVC", OrderType: procurement.OrderTypeServices, Status: procurement.StatusIssued,
		SupplierID: &supplier, PaymentType: &cash, RequisitionIDs: []int64{200}, Version: 1,
		Lines: []procurement.OrderLine{
			{ID: lineConsulting, OrderID: serviceOrderID, Ref: catalog.ServiceRef(7), Baseline: dec("8"), Quantity: dec("8"), UnitPrice: dec("40"), Selected: true},
		},
	}
	notifier := &recordingNotifier{}
	return &fixture{repo: repo, notifier: notifier, svc: NewService(repo, notifier, nil, nil)}
}

func (f *fixture) deliver(t *testing.T, orderID int64, status Status, items ...ItemInput) Delivery {
	t.Helper()
	d, err := f.svc.RecordDelivery(context.Background(), RecordDeliveryInput{OrderID: orderID, Status: status, Items: items})
	require.NoError(t, err)
	return d
}

func (f *fixture) orderStatus(id int64) procurement.Status {
	return f.repo.orders[id].Status
}

func TestRecordDeliveryPartialMovesOrderToPartiallyDelivered(t *testing.T) {
	f := newFixture()

	d := f.deliver(t, itemOrderID, "", ItemInput{OrderLineID: lineA, Quantity: dec("4")})

	assert.Equal(t, StatusPending, d.Status)
	assert.Equal(t, KindItemPurchase, Classify(d))
	assert.Equal(t, Source{Type: SourcePurchaseOrder, ID: itemOrderID}, d.Source)
	assert.NotEmpty(t, d.ReceiptNo)
	requireDecimal(t, "20", d.TotalCost)
	requireDecimal(t, "5", d.Items[0].UnitPrice)
	assert.Equal(t, procurement.StatusPartiallyDelivered, f.orderStatus(itemOrderID))
	assert.Equal(t, int64(4), f.repo.orders[itemOrderID].Version)
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, recordedTransition{from: procurement.StatusIssued, to: procurement.StatusPartiallyDelivered, origin: procurement.OriginSystem}, f.notifier.events[0])
}

func TestRecordDeliveryFullThenConfirmReceivesOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	d := f.deliver(t, itemOrderID, "",
		ItemInput{OrderLineID: lineA, Quantity: dec("10")},
		ItemInput{OrderLineID: lineB, Quantity: dec("4")},
	)
	requireDecimal(t, "60", d.TotalCost)
	assert.Equal(t, procurement.StatusDelivered, f.orderStatus(itemOrderID))
	assert.NotNil(t, f.repo.orders[itemOrderID].DeliveredAt)

	shipped, err := f.svc.MarkInTransit(ctx, d.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusInTransit, shipped.Status)
	assert.Equal(t, procurement.StatusDelivered, f.orderStatus(itemOrderID))

	received, err := f.svc.ConfirmReceipt(ctx, d.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, received.Status)
	assert.NotNil(t, received.ReceivedAt)
	assert.Equal(t, procurement.StatusReceived, f.orderStatus(itemOrderID))
	assert.NotNil(t, f.repo.orders[itemOrderID].ReceivedAt)
	assert.Equal(t, []int64{itemOrderID}, f.repo.released)
	require.Len(t, f.notifier.events, 2)
	assert.Equal(t, procurement.StatusReceived, f.notifier.events[1].to)
}

func TestConfirmReceiptWaitsForOpenDeliveries(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first := f.deliver(t, itemOrderID, "", ItemInput{OrderLineID: lineA, Quantity: dec("10")})
	second := f.deliver(t, itemOrderID, StatusInTransit, ItemInput{OrderLineID: lineB, Quantity: dec("4")})
	assert.Equal(t, procurement.StatusPartiallyDelivered, f.orderStatus(itemOrderID))

	_, err := f.svc.ConfirmReceipt(ctx, first.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, procurement.StatusPartiallyDelivered, f.orderStatus(itemOrderID))
	assert.Empty(t, f.repo.released)

	_, err = f.svc.ConfirmReceipt(ctx, second.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, procurement.StatusReceived, f.orderStatus(itemOrderID))
}

func TestPartialReceiptKeepsOrderOpen(t *testing.T) {
	f := newFixture()

	f.deliver(t, itemOrderID, StatusReceived, ItemInput{OrderLineID: lineA, Quantity: dec("1")})
	assert.Equal(t, procurement.StatusPartiallyDelivered, f.orderStatus(itemOrderID))
	assert.Nil(t, f.repo.orders[itemOrderID].ReceivedAt)
	assert.Empty(t, f.repo.released)
	require.Len(t, f.notifier.events, 1)

	f.deliver(t, itemOrderID, StatusReceived,
		ItemInput{OrderLineID: lineA, Quantity: dec("9")},
		ItemInput{OrderLineID: lineB, Quantity: dec("4")},
	)
	assert.Equal(t, procurement.StatusReceived, f.orderStatus(itemOrderID))
	assert.Equal(t, []int64{itemOrderID}, f.repo.released)
	require.Len(t, f.notifier.events, 2)
	assert.Equal(t, recordedTransition{from: procurement.StatusPartiallyDelivered, to: procurement.StatusReceived, origin: procurement.OriginSystem}, f.notifier.events[1])
}

func TestConfirmReceiptOfPartialDeliveryKeepsOrderOpen(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	d := f.deliver(t, itemOrderID, "", ItemInput{OrderLineID: lineA, Quantity: dec("5")})
	_, err := f.svc.ConfirmReceipt(ctx, d.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, procurement.StatusPartiallyDelivered, f.orderStatus(itemOrderID))

	rest := f.deliver(t, itemOrderID, "",
		ItemInput{OrderLineID: lineA, Quantity: dec("5")},
		ItemInput{OrderLineID: lineB, Quantity: dec("4")},
	)
	assert.Equal(t, procurement.StatusPartiallyDelivered, f.orderStatus(itemOrderID))
	_, err = f.svc.ConfirmReceipt(ctx, rest.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, procurement.StatusReceived, f.orderStatus(itemOrderID))
}

func TestRecordDeliveryRejectsQuantityAboveOutstanding(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.RecordDelivery(ctx, RecordDeliveryInput{OrderID: itemOrderID, Items: []ItemInput{{OrderLineID: lineA, Quantity: dec("11")}}})
	var exceeds *QuantityExceedsError
	require.ErrorAs(t, err, &exceeds)
	assert.ErrorIs(t, err, shared.ErrValidation)
	requireDecimal(t, "10", exceeds.Outstanding)

	// two lines against the same order line are checked together
	_, err = f.svc.RecordDelivery(ctx, RecordDeliveryInput{OrderID: itemOrderID, Items: []ItemInput{
		{OrderLineID: lineA, Quantity: dec("6")},
		{OrderLineID: lineA, Quantity: dec("6")},
	}})
	require.ErrorAs(t, err, &exceeds)
	requireDecimal(t, "12", exceeds.Requested)

	assert.Empty(t, f.repo.deliveries)
	assert.Equal(t, procurement.StatusIssued, f.orderStatus(itemOrderID))
}

func TestRecordDeliveryValidatesLines(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tests := []struct {
		name  string
		input RecordDeliveryInput
		field string
	}{
		{"deselected line", RecordDeliveryInput{OrderID: itemOrderID, Items: []ItemInput{{OrderLineID: lineDropped, Quantity: dec("1")}}}, "items"},
		{"unknown line", RecordDeliveryInput{OrderID: itemOrderID, Items: []ItemInput{{OrderLineID: 999, Quantity: dec("1")}}}, "items"},
		{"service against item line", RecordDeliveryInput{OrderID: itemOrderID, Services: []ServiceInput{{OrderLineID: lineA, Hours: dec("1")}}}, "services"},
		{"zero quantity", RecordDeliveryInput{OrderID: itemOrderID, Items: []ItemInput{{OrderLineID: lineA, Quantity: decimal.Zero}}}, "quantity"},
		{"no lines", RecordDeliveryInput{OrderID: itemOrderID}, "items"},
		{"bad kind", RecordDeliveryInput{OrderID: itemOrderID, Kind: KindMixed, Items: []ItemInput{{OrderLineID: lineA, Quantity: dec("1")}}}, "kind"},
		{"explicit kind without lines", RecordDeliveryInput{OrderID: itemOrderID, Kind: KindItemPurchase}, "items"},
		{"service kind carrying items", RecordDeliveryInput{OrderID: itemOrderID, Kind: KindServiceDelivery, Items: []ItemInput{{OrderLineID: lineA, Quantity: dec("1")}}}, "kind"},
		{"item kind carrying services", RecordDeliveryInput{OrderID: serviceOrderID, Kind: KindItemPurchase, Services: []ServiceInput{{OrderLineID: lineConsulting, Hours: dec("1")}}}, "kind"},
		{"return kind on a delivery", RecordDeliveryInput{OrderID: itemOrderID, Kind: KindItemReturn, Items: []ItemInput{{OrderLineID: lineA, Quantity: dec("1")}}}, "kind"},
		{"bad status", RecordDeliveryInput{OrderID: itemOrderID, Status: StatusCancelled, Items: []ItemInput{{OrderLineID: lineA, Quantity: dec("1")}}}, "status"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.RecordDelivery(ctx, tc.input)
			require.ErrorIs(t, err, shared.ErrValidation)
			var fieldErr shared.FieldError
			require.ErrorAs(t, err, &fieldErr)
			assert.Equal(t, tc.field, fieldErr.Field())
		})
	}

	_, err := f.svc.RecordDelivery(ctx, RecordDeliveryInput{OrderID: itemOrderID})
	var unknown *UnknownKindError
	assert.ErrorAs(t, err, &unknown)
}

func TestRecordDeliveryWithKindButNoLinesLeavesOrderIssued(t *testing.T) {
	f := newFixture()

	_, err := f.svc.RecordDelivery(context.Background(), RecordDeliveryInput{OrderID: itemOrderID, Kind: KindItemPurchase})
	var unknown *UnknownKindError
	require.ErrorAs(t, err, &unknown)
	assert.Empty(t, f.repo.deliveries)
	assert.Equal(t, procurement.StatusIssued, f.orderStatus(itemOrderID))
	assert.Empty(t, f.notifier.events)

	d, err := f.svc.RecordDelivery(context.Background(), RecordDeliveryInput{
		OrderID: itemOrderID, Kind: KindItemPurchase,
		Items: []ItemInput{{OrderLineID: lineA, Quantity: dec("1")}},
	})
	require.NoError(t, err)
	assert.Equal(t, KindItemPurchase, Classify(d))
}

func TestRecordDeliveryRequiresIssuedOrder(t *testing.T) {
	f := newFixture()
	po := f.repo.orders[itemOrderID]
	po.Status = procurement.StatusPendingApproval
	f.repo.orders[itemOrderID] = po

	_, err := f.svc.RecordDelivery(context.Background(), RecordDeliveryInput{OrderID: itemOrderID, Items: []ItemInput{{OrderLineID: lineA, Quantity: dec("1")}}})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = f.svc.RecordDelivery(context.Background(), RecordDeliveryInput{OrderID: 404, Items: []ItemInput{{OrderLineID: lineA, Quantity: dec("1")}}})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRecordDeliveryChecksExpectedVersion(t *testing.T) {
	f := newFixture()

	_, err := f.svc.RecordDelivery(context.Background(), RecordDeliveryInput{
		OrderID: itemOrderID, ExpectedVersion: 2,
		Items: []ItemInput{{OrderLineID: lineA, Quantity: dec("1")}},
	})
	require.ErrorIs(t, err, shared.ErrConflict)
	assert.Empty(t, f.repo.deliveries)
}

func TestReturnsReduceNetReceivedWithoutTouchingDelivery(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first := f.deliver(t, itemOrderID, "", ItemInput{OrderLineID: lineA, Quantity: dec("10")})
	f.deliver(t, itemOrderID, "", ItemInput{OrderLineID: lineB, Quantity: dec("2")})
	_, err := f.svc.ConfirmReceipt(ctx, first.ID, 1)
	require.NoError(t, err)

	ret, err := f.svc.RecordReturn(ctx, RecordReturnInput{
		DeliveryID: first.ID, Reason: "damaged",
		Items: []ReturnItemInput{{DeliveryItemID: first.Items[0].ID, Quantity: dec("3")}},
	})
	require.NoError(t, err)
	requireDecimal(t, "15", ret.TotalCost)
	assert.Equal(t, lineA, ret.Items[0].OrderLineID)

	view, err := f.svc.GetDelivery(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWithReturns, view.Status)
	requireDecimal(t, "50", view.Totals.Value)
	require.Len(t, view.Returns, 1)

	receipts, err := f.svc.NetReceived(ctx, itemOrderID)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	requireDecimal(t, "7", receipts[0].Received)
	requireDecimal(t, "3", receipts[0].Outstanding)
	requireDecimal(t, "2", receipts[1].Outstanding)

	// the returned quantity can be delivered again
	_, err = f.svc.RecordDelivery(ctx, RecordDeliveryInput{OrderID: itemOrderID, Items: []ItemInput{{OrderLineID: lineA, Quantity: dec("4")}}})
	var exceeds *QuantityExceedsError
	require.ErrorAs(t, err, &exceeds)
	f.deliver(t, itemOrderID, "", ItemInput{OrderLineID: lineA, Quantity: dec("3")})
}

func TestRecordReturnLimits(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	pending := f.deliver(t, itemOrderID, "", ItemInput{OrderLineID: lineA, Quantity: dec("5")})
	_, err := f.svc.RecordReturn(ctx, RecordReturnInput{DeliveryID: pending.ID, Items: []ReturnItemInput{{DeliveryItemID: pending.Items[0].ID, Quantity: dec("1")}}})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = f.svc.ConfirmReceipt(ctx, pending.ID, 1)
	require.NoError(t, err)

	_, err = f.svc.RecordReturn(ctx, RecordReturnInput{DeliveryID: pending.ID, Items: []ReturnItemInput{{DeliveryItemID: pending.Items[0].ID, Quantity: dec("4")}}})
	require.NoError(t, err)

	_, err = f.svc.RecordReturn(ctx, RecordReturnInput{DeliveryID: pending.ID, Items: []ReturnItemInput{{DeliveryItemID: pending.Items[0].ID, Quantity: dec("2")}}})
	var exceeds *ReturnExceedsDeliveredError
	require.ErrorAs(t, err, &exceeds)
	requireDecimal(t, "1", exceeds.Available)

	_, err = f.svc.RecordReturn(ctx, RecordReturnInput{DeliveryID: pending.ID, Items: []ReturnItemInput{{DeliveryItemID: 999, Quantity: dec("1")}}})
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Len(t, f.repo.returns, 1)
}

func TestReworkIsScopedToDeliveredServices(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	d, err := f.svc.RecordDelivery(ctx, RecordDeliveryInput{
		OrderID: serviceOrderID, Status: StatusReceived,
		Services: []ServiceInput{{OrderLineID: lineConsulting, Hours: dec("8")}},
	})
	require.NoError(t, err)
	assert.Equal(t, KindServiceDelivery, Classify(d))
	requireDecimal(t, "320", d.TotalCost)
	// received on arrival with nothing else open settles the order
	assert.Equal(t, procurement.StatusReceived, f.orderStatus(serviceOrderID))
	require.Len(t, f.notifier.events, 2)

	rw, err := f.svc.RecordRework(ctx, RecordReworkInput{
		DeliveryID: d.ID, Reason: "incomplete report",
		Services: []ReworkServiceInput{{DeliveryServiceID: d.Services[0].ID, Hours: dec("2")}},
	})
	require.NoError(t, err)
	requireDecimal(t, "80", rw.TotalCost)
	assert.Equal(t, catalog.ServiceRef(7), rw.Services[0].Ref)

	view, err := f.svc.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	requireDecimal(t, "320", view.Totals.Value)
	assert.Equal(t, StatusReceived, view.Status)
	require.Len(t, view.Reworks, 1)

	f.repo.locks = nil
	_, err = f.svc.RecordRework(ctx, RecordReworkInput{DeliveryID: d.ID, Services: []ReworkServiceInput{{DeliveryServiceID: 999, Hours: dec("1")}}})
	assert.Equal(t, []string{fmt.Sprintf("order:%d", serviceOrderID), fmt.Sprintf("delivery:%d", d.ID)}, f.repo.locks)
	var scope *ReworkScopeError
	require.ErrorAs(t, err, &scope)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestCancelledDeliveryStopsCounting(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	d := f.deliver(t, itemOrderID, "", ItemInput{OrderLineID: lineA, Quantity: dec("10")})
	cancelled, err := f.svc.CancelDelivery(ctx, d.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, procurement.StatusPartiallyDelivered, f.orderStatus(itemOrderID))

	receipts, err := f.svc.NetReceived(ctx, itemOrderID)
	require.NoError(t, err)
	requireDecimal(t, "10", receipts[0].Outstanding)

	_, err = f.svc.CancelDelivery(ctx, d.ID, 1)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = f.svc.ConfirmReceipt(ctx, d.ID, 1)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestGetDeliveryIgnoresStoredTotal(t *testing.T) {
	f := newFixture()
	d := f.deliver(t, itemOrderID, "", ItemInput{OrderLineID: lineA, Quantity: dec("2")})
	stored := f.repo.deliveries[d.ID]
	stored.TotalCost = dec("999")
	stored.Kind = KindItemReturn
	f.repo.deliveries[d.ID] = stored

	view, err := f.svc.GetDelivery(context.Background(), d.ID)
	require.NoError(t, err)
	requireDecimal(t, "10", view.TotalCost)
	assert.Equal(t, KindItemReturn, view.Kind)

	_, err = f.svc.GetDelivery(context.Background(), 404)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRefreshTotalsRepairsDrift(t *testing.T) {
	f := newFixture()
	first := f.deliver(t, itemOrderID, "", ItemInput{OrderLineID: lineA, Quantity: dec("2")})
	f.deliver(t, itemOrderID, "", ItemInput{OrderLineID: lineB, Quantity: dec("2")})
	drifted := f.repo.deliveries[first.ID]
	drifted.TotalCost = dec("1")
	f.repo.deliveries[first.ID] = drifted

	report, err := f.svc.RefreshTotals(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, RefreshReport{Scanned: 2, Repaired: 1}, report)
	requireDecimal(t, "10", f.repo.deliveries[first.ID].TotalCost)
}
