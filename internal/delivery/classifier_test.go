package delivery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/catalog"
	"github.com/odyssey-erp/odyssey-procurement/internal/procurement"
	"github.com/odyssey-erp/odyssey-procurement/internal/shared"
)

func TestClassify(t *testing.T) {
	item := []ItemLine{{Quantity: dec("1"), UnitPrice: dec("2")}}
	svc := []ServiceLine{{Hours: dec("1"), HourlyRate: dec("3")}}

	tests := []struct {
		name string
		d    Delivery
		want Kind
	}{
		{"items only", Delivery{Items: item}, KindItemPurchase},
		{"services only", Delivery{Services: svc}, KindServiceDelivery},
		{"both", Delivery{Items: item, Services: svc}, KindMixed},
		{"neither", Delivery{}, KindUnknown},
		{"explicit wins", Delivery{Kind: KindServiceRework, Items: item}, KindServiceRework},
		{"non explicit kind ignored", Delivery{Kind: KindMixed, Services: svc}, KindServiceDelivery},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.d))
		})
	}
}

func TestReconcile(t *testing.T) {
	d := Delivery{
		Items: []ItemLine{
			{Quantity: dec("3"), UnitPrice: dec("2.50")},
			{Quantity: dec("1"), UnitPrice: dec("10")},
		},
		Services: []ServiceLine{{Hours: dec("1.5"), HourlyRate: dec("40")}},
	}
	totals, err := Reconcile(d)
	require.NoError(t, err)
	requireDecimal(t, "17.5", totals.Items)
	requireDecimal(t, "60", totals.Services)
	requireDecimal(t, "77.5", totals.Value)

	_, err = Reconcile(Delivery{ID: 9})
	var unknown *UnknownKindError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, int64(9), unknown.DeliveryID)

	_, err = Reconcile(Delivery{ID: 10, Kind: KindItemPurchase})
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, int64(10), unknown.DeliveryID)
}

func TestValidateKind(t *testing.T) {
	item := []ItemLine{{Quantity: dec("1"), UnitPrice: dec("2")}}
	svc := []ServiceLine{{Hours: dec("1"), HourlyRate: dec("3")}}

	tests := []struct {
		name    string
		d       Delivery
		wantErr bool
	}{
		{"inferred items", Delivery{Items: item}, false},
		{"inferred mix", Delivery{Items: item, Services: svc}, false},
		{"item purchase with items", Delivery{Kind: KindItemPurchase, Items: item}, false},
		{"service delivery with services", Delivery{Kind: KindServiceDelivery, Services: svc}, false},
		{"explicit kind without lines", Delivery{Kind: KindServiceDelivery}, true},
		{"no kind and no lines", Delivery{}, true},
		{"item purchase with services", Delivery{Kind: KindItemPurchase, Items: item, Services: svc}, true},
		{"service delivery with items", Delivery{Kind: KindServiceDelivery, Items: item}, true},
		{"rework kind", Delivery{Kind: KindServiceRework, Services: svc}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateKind(tc.d)
			if tc.wantErr {
				assert.ErrorIs(t, err, shared.ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSeparateTotalsForReturnsAndReworks(t *testing.T) {
	ret := Return{Items: []ReturnItem{{Quantity: dec("2"), UnitPrice: dec("4")}, {Quantity: dec("1"), UnitPrice: dec("1")}}}
	requireDecimal(t, "9", ReturnTotal(ret))

	rw := Rework{Services: []ReworkService{{Hours: dec("0.5"), HourlyRate: dec("80")}}}
	requireDecimal(t, "40", ReworkTotal(rw))
	requireDecimal(t, "0", ReworkTotal(Rework{}))
}

func TestDeliveryStatusTable(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusInTransit))
	assert.True(t, StatusPending.CanTransition(StatusReceived))
	assert.True(t, StatusInTransit.CanTransition(StatusCancelled))
	assert.True(t, StatusReceived.CanTransition(StatusWithReturns))
	assert.False(t, StatusReceived.CanTransition(StatusCancelled))
	assert.False(t, StatusCancelled.CanTransition(StatusPending))
	assert.False(t, StatusWithReturns.CanTransition(StatusReceived))
}

func TestNetReceivedSkipsCancelledAndSubtractsReturns(t *testing.T) {
	po := procurement.PurchaseOrder{Lines: []procurement.OrderLine{
		{ID: 1, Ref: catalog.ItemRef(1), Quantity: dec("10"), Selected: true},
		{ID: 2, Ref: catalog.ServiceRef(2), Quantity: dec("5"), Selected: true},
	}}
	deliveries := []Delivery{
		{Status: StatusReceived, Items: []ItemLine{{OrderLineID: 1, Quantity: dec("6")}}},
		{Status: StatusCancelled, Items: []ItemLine{{OrderLineID: 1, Quantity: dec("4")}}},
		{Status: StatusPending, Services: []ServiceLine{{OrderLineID: 2, Hours: dec("5")}}},
	}
	returns := []Return{{Items: []ReturnItem{{OrderLineID: 1, Quantity: dec("2")}}}}

	net := NetReceived(po, deliveries, returns)
	requireDecimal(t, "4", net[1])
	requireDecimal(t, "5", net[2])
	requireDecimal(t, "6", Outstanding(po.Lines[0], net))
	requireDecimal(t, "0", Outstanding(po.Lines[1], net))
	assert.False(t, FullyReceived(po, net))

	net[1] = dec("12")
	requireDecimal(t, "0", Outstanding(po.Lines[0], net))
	assert.True(t, FullyReceived(po, net))
}

func TestValidateReworkRequiresReceivedDelivery(t *testing.T) {
	d := Delivery{ID: 3, Status: StatusInTransit, Services: []ServiceLine{{ID: 30, Hours: dec("2")}}}
	err := ValidateRework(d, Rework{Services: []ReworkService{{DeliveryServiceID: 30, Hours: dec("1")}}})
	var state *StateError
	require.ErrorAs(t, err, &state)

	d.Status = StatusWithReturns
	require.NoError(t, ValidateRework(d, Rework{Services: []ReworkService{{DeliveryServiceID: 30, Hours: dec("1")}}}))
	err = ValidateRework(d, Rework{Services: []ReworkService{{DeliveryServiceID: 30, Hours: dec("0")}}})
	var invalid *ValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "hours", invalid.Field())
}
