package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/MetheMeticien/Mark-Ed-Place/internal/domain"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
)

type mockOrders struct {
	m       sync.Mutex
	fail    map[string]error
	intents []domain.OrderIntent
	started chan struct{}
	release chan struct{}
	seq     int
}

func newMockOrders() *mockOrders {
	return &mockOrders{fail: make(map[string]error)}
}

func (o *mockOrders) CreateOrder(_ context.Context, intent domain.OrderIntent) (*domain.Order, error) {
	o.m.Lock()
	o.intents = append(o.intents, intent)
	err := o.fail[intent.ProductID]
	o.seq++
	id := fmt.Sprintf("order-%d", o.seq)
	started, release := o.started, o.release
	o.m.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return nil, err
	}
	return &domain.Order{
		ID:        id,
		ProductID: intent.ProductID,
		Quantity:  intent.Quantity,
		SellerID:  intent.SellerID,
	}, nil
}

func (o *mockOrders) setFailure(productID string, err error) {
	o.m.Lock()
	defer o.m.Unlock()
	if err == nil {
		delete(o.fail, productID)
		return
	}
	o.fail[productID] = err
}

func (o *mockOrders) calls() []domain.OrderIntent {
	o.m.Lock()
	defer o.m.Unlock()
	out := make([]domain.OrderIntent, len(o.intents))
	copy(out, o.intents)
	return out
}

func (o *mockOrders) reset() {
	o.m.Lock()
	defer o.m.Unlock()
	o.intents = nil
}

type recordingNotifier struct {
	m      sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(_ context.Context, e Event) {
	n.m.Lock()
	defer n.m.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) types() []EventType {
	n.m.Lock()
	defer n.m.Unlock()
	out := make([]EventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

func (n *recordingNotifier) last() Event {
	n.m.Lock()
	defer n.m.Unlock()
	if len(n.events) == 0 {
		return Event{}
	}
	return n.events[len(n.events)-1]
}

// flakyStore fails saves or loads on demand.
type flakyStore struct {
	*repository.MemoryStore
	m       sync.Mutex
	saveErr error
	loadErr error
	saves   int
}

func (s *flakyStore) Save(ctx context.Context, cart *domain.Cart) error {
	s.m.Lock()
	err := s.saveErr
	s.saves++
	s.m.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryStore.Save(ctx, cart)
}

func (s *flakyStore) Load(ctx context.Context, sessionID string) (*domain.Cart, error) {
	s.m.Lock()
	err := s.loadErr
	s.m.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStore.Load(ctx, sessionID)
}

func (s *flakyStore) saveCount() int {
	s.m.Lock()
	defer s.m.Unlock()
	return s.saves
}

// corruptStore reports the listed sessions as unreadable until deleted.
type corruptStore struct {
	*repository.MemoryStore
	m       sync.Mutex
	corrupt map[string]bool
}

func (s *corruptStore) Load(ctx context.Context, sessionID string) (*domain.Cart, error) {
	s.m.Lock()
	bad := s.corrupt[sessionID]
	s.m.Unlock()
	if bad {
		return nil, fmt.Errorf("%w: unexpected end of JSON input", repository.ErrCorruptSnapshot)
	}
	return s.MemoryStore.Load(ctx, sessionID)
}

func (s *corruptStore) Delete(ctx context.Context, sessionID string) error {
	s.m.Lock()
	delete(s.corrupt, sessionID)
	s.m.Unlock()
	return s.MemoryStore.Delete(ctx, sessionID)
}

type fixture struct {
	store    *repository.MemoryStore
	orders   *mockOrders
	notifier *recordingNotifier
	deps     Deps
}

func newFixture() *fixture {
	log, _ := test.NewNullLogger()
	f := &fixture{
		store:    repository.NewMemoryStore(),
		orders:   newMockOrders(),
		notifier: &recordingNotifier{},
	}
	f.deps = Deps{
		Store:    f.store,
		Orders:   f.orders,
		Notifier: f.notifier,
		Log:      log,
	}
	return f
}

func (f *fixture) manager(sessionID string) *Manager {
	return NewManager(sessionID, f.deps)
}

func product(id string, stock int, price int64) domain.Product {
	return domain.Product{
		ID:       id,
		Title:    "Product " + id,
		Price:    decimal.NewFromInt(price),
		Stock:    stock,
		SellerID: "seller-" + id,
	}
}
