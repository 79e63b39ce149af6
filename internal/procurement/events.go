package procurement

import (
	"context"
	"time"
)

// StatusChangedEvent describes a committed purchase order transition.
type StatusChangedEvent struct {
	OrderID     int64
	ReferenceNo string
	From        Status
	To          Status
	Origin      Origin
	At          time.Time
}

// StatusListener receives committed order transitions, for metrics or
// downstream integration.
type StatusListener interface {
	OrderStatusChanged(ctx context.Context, evt StatusChangedEvent)
}

// StatusListenerFunc adapts a function to StatusListener.
type StatusListenerFunc func(ctx context.Context, evt StatusChangedEvent)

func (f StatusListenerFunc) OrderStatusChanged(ctx context.Context, evt StatusChangedEvent) {
	f(ctx, evt)
}
