// Package feed pushes live order listings to subscribers. A subscription
// holds one OrderQuery; on every order change in its store the hub re-runs
// that query against the store and pushes the fresh page.
package feed

import (
	"context"
	"errors"
	"sync"

	"pos-service/internal/models"
	"pos-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrClosed is returned when subscribing to a closed hub
var ErrClosed = errors.New("feed: hub closed")

// OrderLister runs an order query
type OrderLister interface {
	ListOrders(ctx context.Context, q models.OrderQuery) (models.OrderPage, error)
}

// Subscription is one live view. Pages arrive on Updates; the channel is
// closed when the subscription ends or the hub drops a slow reader.
type Subscription struct {
	id  string
	hub *Hub

	mu     sync.Mutex
	query  models.OrderQuery
	ch     chan models.OrderPage
	closed bool
}

// ID identifies the subscription
func (s *Subscription) ID() string { return s.id }

// Updates delivers the current page, then a fresh page after each change
func (s *Subscription) Updates() <-chan models.OrderPage { return s.ch }

// Query returns the subscription's current filter
func (s *Subscription) Query() models.OrderQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

// Close ends the subscription
func (s *Subscription) Close() {
	s.hub.remove(s.id)
	s.close()
}

func (s *Subscription) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.ch)
	return true
}

// offer delivers page without blocking. It reports false when the reader
// is not keeping up.
func (s *Subscription) offer(page models.OrderPage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- page:
		return true
	default:
		return false
	}
}

// Hub fans order changes out to subscriptions
type Hub struct {
	lister OrderLister
	buffer int
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
}

// NewHub creates a hub. buffer is the number of undelivered pages a
// subscriber may lag behind before it is dropped.
func NewHub(lister OrderLister, buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		lister: lister,
		buffer: buffer,
		logger: util.GetLogger(),
		subs:   make(map[string]*Subscription),
	}
}

// Subscribe registers q and delivers its first page before returning
func (h *Hub) Subscribe(ctx context.Context, q models.OrderQuery) (*Subscription, error) {
	q = q.Normalize()
	page, err := h.lister.ListOrders(ctx, q)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		id:    uuid.NewString(),
		hub:   h,
		query: q,
		ch:    make(chan models.OrderPage, h.buffer),
	}
	sub.ch <- page

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()

	util.FeedSubscribers.Inc()
	h.logger.Debug("Feed subscription opened",
		zap.String("subscription_id", sub.id),
		zap.String("store_id", q.StoreID))
	return sub, nil
}

// Refine replaces the filter of a subscription (new page, new search text)
// and pushes the matching page
func (h *Hub) Refine(ctx context.Context, sub *Subscription, q models.OrderQuery) error {
	q = q.Normalize()
	page, err := h.lister.ListOrders(ctx, q)
	if err != nil {
		return err
	}
	sub.mu.Lock()
	sub.query = q
	sub.mu.Unlock()
	h.deliver(sub, page)
	return nil
}

// Notify re-runs the query of every subscription that can see an order of
// storeID. Subscriptions without a store see every store.
func (h *Hub) Notify(ctx context.Context, storeID, orderID string) error {
	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		q := sub.Query()
		if q.StoreID == "" || storeID == "" || q.StoreID == storeID {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		page, err := h.lister.ListOrders(ctx, sub.Query())
		if err != nil {
			h.logger.Error("Failed to refresh feed page",
				zap.String("subscription_id", sub.id),
				zap.String("order_id", orderID),
				zap.Error(err))
			continue
		}
		h.deliver(sub, page)
	}
	return nil
}

func (h *Hub) deliver(sub *Subscription, page models.OrderPage) {
	if sub.offer(page) {
		return
	}
	h.logger.Warn("Dropping slow feed subscriber", zap.String("subscription_id", sub.id))
	util.FeedDroppedTotal.Inc()
	h.remove(sub.id)
	sub.close()
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; ok {
		delete(h.subs, id)
		util.FeedSubscribers.Dec()
	}
}

// Len reports the number of live subscriptions
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*Subscription)
	h.closed = true
	h.mu.Unlock()

	for _, sub := range subs {
		util.FeedSubscribers.Dec()
		sub.close()
	}
}
