package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MetheMeticien/Mark-Ed-Place/internal/backend"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/domain"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// CheckoutResult is the outcome of one checkout pass.
type CheckoutResult struct {
	Success bool           `json:"success"`
	Orders  []domain.Order `json:"orders"`
	// Skipped lists products whose order was placed by an earlier attempt.
	Skipped  []string      `json:"skipped,omitempty"`
	Failures []LineFailure `json:"failures,omitempty"`
}

type lineOutcome struct {
	line  domain.CartLine
	order *domain.Order
	err   error
}

// Checkout places one order per unsettled line, all concurrently, and waits
// for every outcome. Lines whose order succeeded are recorded so a retry
// skips them. The cart is cleared only when every line has an order.
//
// The returned error is nil exactly when result.Success is true.
func (m *Manager) Checkout(ctx context.Context) (CheckoutResult, error) {
	ctx, span := m.tracer.Start(ctx, "cart.checkout",
		trace.WithAttributes(attribute.String("cart.session_id", m.sessionID)))
	defer span.End()

	pending, skipped, err := m.beginCheckout(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return CheckoutResult{}, err
	}
	defer m.endCheckout()
	span.SetAttributes(
		attribute.Int("cart.pending_lines", len(pending)),
		attribute.Int("cart.settled_lines", len(skipped)),
	)

	outcomes := m.placeOrders(ctx, pending)

	result := CheckoutResult{Orders: []domain.Order{}, Skipped: skipped}
	for _, o := range outcomes {
		if o.err != nil {
			result.Failures = append(result.Failures, failureOf(o))
			continue
		}
		result.Orders = append(result.Orders, *o.order)
	}
	result.Success = len(result.Failures) == 0

	// the orders exist whatever happens to the caller now
	m.recordOutcomes(context.WithoutCancel(ctx), outcomes, result.Success)

	ordered := make([]string, 0, len(result.Orders))
	for _, o := range outcomes {
		if o.err == nil {
			ordered = append(ordered, o.line.Product.ID)
		}
	}

	log := logger.FromContext(ctx, m.log).WithField("orders", len(result.Orders))
	if result.Success {
		m.observeCheckout("success")
		log.Info("checkout completed")
		e := m.event(EventCheckoutSucceeded, "", 0, "Your order has been placed and will be processed soon.")
		e.Ordered = ordered
		m.emit(ctx, e)
		return result, nil
	}

	checkoutErr := &CheckoutError{
		Failures: result.Failures,
		Partial:  len(result.Orders) > 0 || len(skipped) > 0,
	}
	if checkoutErr.Partial {
		m.observeCheckout("partial_failure")
	} else {
		m.observeCheckout("failure")
	}
	log.WithError(checkoutErr).WithField("failed", len(result.Failures)).Warn("checkout failed")
	e := m.event(EventCheckoutFailed, "", 0,
		fmt.Sprintf("Failed to place some orders: %s", failureMessages(result.Failures)))
	e.Ordered = ordered
	m.emit(ctx, e)

	span.RecordError(checkoutErr)
	span.SetStatus(codes.Error, checkoutErr.Error())
	return result, checkoutErr
}

// beginCheckout marks the manager busy and returns the lines still needing
// an order. The pending lines come from the stored cart, not the in-memory
// copy, so lines another writer removed are never ordered. Idempotency keys
// are assigned and persisted before any request leaves, so a retry after a
// crash reuses them.
func (m *Manager) beginCheckout(ctx context.Context) ([]domain.CartLine, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.checkingOut {
		return nil, nil, ErrCheckoutInProgress
	}

	stored, err := m.loadStored(ctx)
	if err != nil {
		return nil, nil, err
	}
	m.cart = stored

	err = m.mutateLocked(ctx, "checkout", func(c *domain.Cart) (bool, error) {
		changed := false
		for i := range c.Lines {
			l := &c.Lines[i]
			if !l.Settled() && l.IdempotencyKey == "" {
				l.IdempotencyKey = domain.NewIdempotencyKey()
				changed = true
			}
		}
		return changed, nil
	})
	if err != nil {
		return nil, nil, err
	}

	var (
		pending []domain.CartLine
		skipped []string
	)
	for _, l := range m.cart.Lines {
		if l.Settled() {
			skipped = append(skipped, l.Product.ID)
			continue
		}
		pending = append(pending, l)
	}

	m.checkingOut = true
	return pending, skipped, nil
}

func (m *Manager) endCheckout() {
	m.mu.Lock()
	m.checkingOut = false
	m.mu.Unlock()
}

func (m *Manager) placeOrders(ctx context.Context, lines []domain.CartLine) []lineOutcome {
	outcomes := make([]lineOutcome, len(lines))

	// every request runs to completion; failures are collected, not propagated
	var g errgroup.Group
	for i, line := range lines {
		i, line := i, line
		g.Go(func() error {
			outcomes[i] = m.placeOrder(ctx, line)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (m *Manager) placeOrder(ctx context.Context, line domain.CartLine) lineOutcome {
	ctx, span := m.tracer.Start(ctx, "cart.checkout.create_order", trace.WithAttributes(
		attribute.String("product.id", line.Product.ID),
		attribute.Int("order.quantity", line.Quantity),
	))
	defer span.End()

	order, err := m.orders.CreateOrder(ctx, domain.IntentFor(line))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.observeOrder("failure")
		logger.FromContext(ctx, m.log).WithError(err).
			WithField("product_id", line.Product.ID).Warn("order creation failed")
		return lineOutcome{line: line, err: err}
	}
	m.observeOrder("success")
	return lineOutcome{line: line, order: order}
}

// recordOutcomes writes the ledger. When every line has an order, settled
// lines are dropped, which leaves an empty cart unless another writer added
// something meanwhile.
func (m *Manager) recordOutcomes(ctx context.Context, outcomes []lineOutcome, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	apply := func(c *domain.Cart) (bool, error) {
		changed := false
		for _, o := range outcomes {
			if o.err != nil {
				continue
			}
			i := c.Index(o.line.Product.ID)
			if i < 0 || c.Lines[i].IdempotencyKey != o.line.IdempotencyKey {
				continue
			}
			c.Lines[i].OrderID = o.order.ID
			changed = true
		}
		if success {
			kept := c.Lines[:0]
			for _, l := range c.Lines {
				if !l.Settled() {
					kept = append(kept, l)
				}
			}
			if len(kept) != len(c.Lines) {
				changed = true
			}
			c.Lines = kept
			if len(c.Lines) == 0 {
				c.Lines = nil
			}
		}
		return changed, nil
	}

	if err := m.mutateLocked(ctx, "checkout", apply); err != nil {
		// keys are already stored, so a resubmission is deduplicated upstream
		m.log.WithError(err).Error("failed to persist checkout ledger")
		if _, errApply := apply(&m.cart); errApply != nil {
			m.log.WithError(errApply).Error("failed to apply checkout ledger")
		}
	}
}

func failureOf(o lineOutcome) LineFailure {
	f := LineFailure{
		ProductID:  o.line.Product.ID,
		Quantity:   o.line.Quantity,
		Message:    o.err.Error(),
		StatusCode: backend.StatusOf(o.err),
		Err:        o.err,
	}
	var apiErr *backend.APIError
	if errors.As(o.err, &apiErr) {
		f.Message = apiErr.Message
	}
	return f
}

func failureMessages(failures []LineFailure) string {
	msgs := make([]string, 0, len(failures))
	for _, f := range failures {
		msgs = append(msgs, f.Message)
	}
	return strings.Join(msgs, ", ")
}

func (m *Manager) observeCheckout(outcome string) {
	if m.metrics != nil {
		m.metrics.Checkouts.WithLabelValues(outcome).Inc()
	}
}

func (m *Manager) observeOrder(outcome string) {
	if m.metrics != nil {
		m.metrics.Orders.WithLabelValues(outcome).Inc()
	}
}
