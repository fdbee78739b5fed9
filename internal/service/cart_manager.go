package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MetheMeticien/Mark-Ed-Place/internal/domain"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/metrics"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultConflictRetries = 3

// OrderCreator places one order per call. Implementations must honour the
// intent's idempotency key.
type OrderCreator interface {
	CreateOrder(ctx context.Context, intent domain.OrderIntent) (*domain.Order, error)
}

// Deps are the collaborators shared by every session's manager.
type Deps struct {
	Store    repository.CartStore
	Orders   OrderCreator
	Notifier Notifier
	Metrics  *metrics.Metrics
	Log      logrus.FieldLogger

	// ConflictRetries bounds how many times a mutation is re-applied after
	// a concurrent writer moved the stored version.
	ConflictRetries int
}

// Manager owns the cart of one session. All methods are safe for concurrent
// use.
type Manager struct {
	sessionID string
	store     repository.CartStore
	orders    OrderCreator
	notifier  Notifier
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	retries   int
	tracer    trace.Tracer

	mu          sync.Mutex
	cart        domain.Cart
	checkingOut bool
}

func NewManager(sessionID string, deps Deps) *Manager {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	retries := deps.ConflictRetries
	if retries <= 0 {
		retries = defaultConflictRetries
	}

	return &Manager{
		sessionID: sessionID,
		store:     deps.Store,
		orders:    deps.Orders,
		notifier:  notifier,
		metrics:   deps.Metrics,
		log:       log.WithField("session_id", sessionID),
		retries:   retries,
		tracer:    otel.Tracer("github.com/MetheMeticien/Mark-Ed-Place/internal/service"),
		cart:      domain.Cart{SessionID: sessionID},
	}
}

// Load replaces the in-memory cart with the stored snapshot. A missing
// snapshot yields an empty cart; a corrupt one is discarded.
func (m *Manager) Load(ctx context.Context) error {
	cart, err := m.loadStored(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.cart = cart
	m.mu.Unlock()
	return nil
}

// Refresh picks up a stored snapshot newer than the in-memory one. It does
// nothing while a checkout runs.
func (m *Manager) Refresh(ctx context.Context) error {
	if m.IsCheckingOut() {
		return nil
	}
	cart, err := m.loadStored(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkingOut || cart.Version <= m.cart.Version {
		return nil
	}
	m.cart = cart
	return nil
}

func (m *Manager) loadStored(ctx context.Context) (domain.Cart, error) {
	cart, err := m.store.Load(ctx, m.sessionID)
	switch {
	case err == nil:
		return *cart, nil
	case errors.Is(err, repository.ErrCartNotFound):
		return domain.Cart{SessionID: m.sessionID}, nil
	case errors.Is(err, repository.ErrCorruptSnapshot):
		m.log.WithError(err).Warn("discarding unreadable cart snapshot")
		if errDel := m.store.Delete(ctx, m.sessionID); errDel != nil {
			return domain.Cart{}, fmt.Errorf("delete corrupt cart: %w", errDel)
		}
		return domain.Cart{SessionID: m.sessionID}, nil
	default:
		return domain.Cart{}, fmt.Errorf("load cart: %w", err)
	}
}

// AddItem adds quantity units of product, merging into an existing line.
// The cart is left unchanged when the product has no stock or the combined
// quantity would exceed it. A merge is checked against the stock of the
// given product, but the line keeps its original snapshot.
func (m *Manager) AddItem(ctx context.Context, product domain.Product, quantity int) error {
	if product.ID == "" || product.Stock < 0 {
		return domain.ErrInvalidProduct
	}
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}

	var event Event
	err := m.mutate(ctx, "add", func(c *domain.Cart) (bool, error) {
		event = Event{}
		i := c.Index(product.ID)
		if i < 0 {
			if err := domain.CheckStock(product, 0, quantity); err != nil {
				return false, err
			}
			c.Lines = append(c.Lines, domain.CartLine{Product: product, Quantity: quantity})
			event = m.event(EventItemAdded, product.ID, quantity,
				fmt.Sprintf("%d × %s added to your cart", quantity, product.Title))
			return true, nil
		}

		line := &c.Lines[i]
		if line.Settled() {
			return false, domain.ErrLineSettled
		}
		candidate := line.Quantity + quantity
		if err := domain.CheckStock(product, line.Quantity, candidate); err != nil {
			return false, err
		}
		// the line keeps the snapshot it was added with
		line.Quantity = candidate
		line.IdempotencyKey = ""
		event = m.event(EventItemUpdated, product.ID, candidate,
			fmt.Sprintf("%s quantity updated to %d", product.Title, candidate))
		return true, nil
	})
	m.finish(ctx, "add", product, err, event)
	return err
}

// RemoveItem drops the line for productID. Removing an absent product is a
// no-op.
func (m *Manager) RemoveItem(ctx context.Context, productID string) error {
	var event Event
	err := m.mutate(ctx, "remove", func(c *domain.Cart) (bool, error) {
		event = Event{}
		i := c.Index(productID)
		if i < 0 {
			return false, nil
		}
		title := c.Lines[i].Product.Title
		c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
		event = m.event(EventItemRemoved, productID, 0,
			fmt.Sprintf("%s removed from your cart", title))
		return true, nil
	})
	m.finish(ctx, "remove", domain.Product{ID: productID}, err, event)
	return err
}

// UpdateQuantity sets a line's quantity, validated against the line's
// recorded stock like AddItem. A non-positive quantity removes the line.
func (m *Manager) UpdateQuantity(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return m.RemoveItem(ctx, productID)
	}

	var (
		event   Event
		product domain.Product
	)
	err := m.mutate(ctx, "update", func(c *domain.Cart) (bool, error) {
		event = Event{}
		i := c.Index(productID)
		if i < 0 {
			return false, domain.ErrItemNotFound
		}
		line := &c.Lines[i]
		product = line.Product
		if line.Settled() {
			return false, domain.ErrLineSettled
		}
		if line.Quantity == quantity {
			return false, nil
		}
		if err := domain.CheckStock(line.Product, line.Quantity, quantity); err != nil {
			return false, err
		}
		line.Quantity = quantity
		line.IdempotencyKey = ""
		event = m.event(EventItemUpdated, productID, quantity,
			fmt.Sprintf("%s quantity updated to %d", line.Product.Title, quantity))
		return true, nil
	})
	if product.ID == "" {
		product.ID = productID
	}
	m.finish(ctx, "update", product, err, event)
	return err
}

// ClearCart empties the cart and persists the empty snapshot.
func (m *Manager) ClearCart(ctx context.Context) error {
	event := m.event(EventCartCleared, "", 0, "All items have been removed from your cart")
	err := m.mutate(ctx, "clear", func(c *domain.Cart) (bool, error) {
		c.Lines = nil
		return true, nil
	})
	m.finish(ctx, "clear", domain.Product{}, err, event)
	return err
}

// Lines returns a copy of the cart lines in insertion order.
func (m *Manager) Lines() []domain.CartLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cart.Clone().Lines
}

// Snapshot returns a copy of the whole cart, version included.
func (m *Manager) Snapshot() domain.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cart.Clone()
}

func (m *Manager) TotalItems() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cart.TotalItems()
}

func (m *Manager) TotalPrice() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cart.TotalPrice()
}

func (m *Manager) IsCheckingOut() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkingOut
}

// mutate applies fn to a copy of the cart and saves the copy. When another
// writer moved the stored version, the stored cart is reloaded and fn is
// applied again, up to m.retries times. The in-memory cart only changes
// after a successful save.
func (m *Manager) mutate(ctx context.Context, op string, fn func(c *domain.Cart) (bool, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.checkingOut {
		return ErrCheckoutInProgress
	}
	return m.mutateLocked(ctx, op, fn)
}

func (m *Manager) mutateLocked(ctx context.Context, op string, fn func(c *domain.Cart) (bool, error)) error {
	for attempt := 0; ; attempt++ {
		next := m.cart.Clone()
		changed, err := fn(&next)
		if err != nil || !changed {
			return err
		}

		err = m.store.Save(ctx, &next)
		if err == nil {
			m.cart = next
			return nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) || attempt >= m.retries {
			return fmt.Errorf("save cart: %w", err)
		}

		m.log.WithFields(logrus.Fields{"op": op, "attempt": attempt + 1}).
			Debug("cart changed concurrently, merging")
		stored, errLoad := m.loadStored(ctx)
		if errLoad != nil {
			return errLoad
		}
		m.cart = stored
	}
}

func (m *Manager) event(t EventType, productID string, quantity int, msg string) Event {
	return Event{
		Type:      t,
		SessionID: m.sessionID,
		ProductID: productID,
		Quantity:  quantity,
		Message:   msg,
	}
}

// finish records the outcome of a mutation and emits its notification.
func (m *Manager) finish(ctx context.Context, op string, product domain.Product, err error, event Event) {
	var limitErr *domain.LimitExceededError
	outcome := "ok"
	switch {
	case err == nil:
		if event.Type != "" {
			m.emit(ctx, event)
		} else {
			outcome = "noop"
		}
	case errors.Is(err, domain.ErrOutOfStock):
		outcome = "out_of_stock"
		m.emit(ctx, m.event(EventOutOfStock, product.ID, 0,
			fmt.Sprintf("%s is currently out of stock", product.Title)))
	case errors.As(err, &limitErr):
		outcome = "limit_exceeded"
		m.emit(ctx, m.event(EventLimitExceeded, product.ID, limitErr.Requested,
			fmt.Sprintf("Only %d items available. You already have %d in your cart.", limitErr.Stock, limitErr.InCart)))
	case errors.Is(err, ErrCheckoutInProgress), errors.Is(err, domain.ErrItemNotFound),
		errors.Is(err, domain.ErrLineSettled):
		outcome = "rejected"
	default:
		outcome = "error"
		m.log.WithError(err).WithField("op", op).Error("cart mutation failed")
	}

	if m.metrics != nil {
		m.metrics.Mutations.WithLabelValues(op, outcome).Inc()
	}
}

func (m *Manager) emit(ctx context.Context, e Event) {
	e.OccurredAt = time.Now().UTC()
	m.notifier.Notify(ctx, e)
}
