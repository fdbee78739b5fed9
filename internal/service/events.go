package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

type EventType string

const (
	EventItemAdded         EventType = "item_added"
	EventItemUpdated       EventType = "item_updated"
	EventItemRemoved       EventType = "item_removed"
	EventOutOfStock        EventType = "out_of_stock"
	EventLimitExceeded     EventType = "limit_exceeded"
	EventCartCleared       EventType = "cart_cleared"
	EventCheckoutSucceeded EventType = "checkout_succeeded"
	EventCheckoutFailed    EventType = "checkout_failed"
)

// Event is a user-facing notification about a cart change. Message is
// written to be shown as is.
type Event struct {
	Type       EventType `json:"type"`
	SessionID  string    `json:"session_id"`
	ProductID  string    `json:"product_id,omitempty"`
	Quantity   int       `json:"quantity,omitempty"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`

	// Ordered lists the products that got an order, on checkout events.
	Ordered []string `json:"ordered,omitempty"`
}

// Notifier must not block the caller for long; failures are its own to log.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

type LogNotifier struct {
	log logrus.FieldLogger
}

func NewLogNotifier(log logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, e Event) {
	entry := n.log.WithFields(logrus.Fields{
		"event":      e.Type,
		"session_id": e.SessionID,
	})
	if e.ProductID != "" {
		entry = entry.WithField("product_id", e.ProductID)
	}
	switch e.Type {
	case EventOutOfStock, EventLimitExceeded, EventCheckoutFailed:
		entry.Warn(e.Message)
	default:
		entry.Info(e.Message)
	}
}

type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, e Event) {
	for _, n := range m {
		n.Notify(ctx, e)
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}
