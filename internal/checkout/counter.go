package checkout

import (
	"container/list"
	"errors"
	"math"
	"sync"

	"github.com/go-logr/logr"

	"github.com/kieracarman/shopsim/internal/logging"
	"github.com/kieracarman/shopsim/internal/metrics"
	"github.com/kieracarman/shopsim/internal/models"
)

var (
	// ErrNotCurrentCustomer is returned when a customer acts at the counter without being served.
	ErrNotCurrentCustomer = errors.New("customer is not the one being served")
	// ErrAlreadyQueued is returned when a customer arrives twice.
	ErrAlreadyQueued = errors.New("customer is already queued or being served")
)

// Settler receives finished purchases. Implementations must not block the caller for long,
// and the counter never inspects the outcome.
type Settler interface {
	Settle(amount, satisfaction float64)
}

// SettlerFunc adapts a plain function to the Settler interface.
type SettlerFunc func(amount, satisfaction float64)

// Settle calls f(amount, satisfaction).
func (f SettlerFunc) Settle(amount, satisfaction float64) { f(amount, satisfaction) }

// Receipt describes one completed payment.
type Receipt struct {
	CustomerID   string
	Amount       float64
	Satisfaction float64
	Items        []models.ProductView
}

// Snapshot is a point-in-time copy of the counter state.
type Snapshot struct {
	Current    string
	Queue      []string
	Items      []models.ProductView
	AllScanned bool
}

// Counter serializes checkout service to one customer at a time.
//
// The queue, the current customer and the active items are guarded by a single mutex,
// so arrival and queue advance can never interleave. Customers are served strictly in
// arrival order.
type Counter struct {
	settler Settler
	logger  logr.Logger

	mu         sync.Mutex
	queue      *list.List // customer IDs, front is next to be served
	waiting    map[string]*list.Element
	current    string
	serving    bool
	items      []*models.Product
	allScanned bool
}

// NewCounter creates an idle counter that forwards payments to settler.
func NewCounter(settler Settler, logger logr.Logger) *Counter {
	if settler == nil {
		settler = SettlerFunc(func(float64, float64) {})
	}
	return &Counter{
		settler: settler,
		logger:  logger.WithName("checkout"),
		queue:   list.New(),
		waiting: make(map[string]*list.Element),
	}
}

// Arrive adds the customer to the line. If nobody is being served and nobody waits,
// the customer is served at once and position 0 is returned; otherwise the returned
// position is the 1-based place in line.
func (c *Counter) Arrive(customerID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.knownLocked(customerID) {
		return 0, ErrAlreadyQueued
	}

	if !c.serving && c.queue.Len() == 0 {
		c.current = customerID
		c.serving = true
		c.logger.V(logging.DEBUG).Info("Customer served immediately", "customer", customerID)
		return 0, nil
	}

	c.waiting[customerID] = c.queue.PushBack(customerID)
	metrics.SetQueueLength(c.queue.Len())
	c.logger.V(logging.DEBUG).Info("Customer joined queue", "customer", customerID, "position", c.queue.Len())
	return c.queue.Len(), nil
}

// IsCurrentCustomer reports whether customerID is being served.
func (c *Counter) IsCurrentCustomer(customerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serving && c.current == customerID
}

// IsCleared reports whether the counter no longer holds customerID, neither serving nor queued.
func (c *Counter) IsCleared(customerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.knownLocked(customerID)
}

// QueuePosition returns 0 for the current customer and the 1-based place in line for
// waiting customers. ok is false for unknown customers.
func (c *Counter) QueuePosition(customerID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.serving && c.current == customerID {
		return 0, true
	}
	if _, ok := c.waiting[customerID]; !ok {
		return 0, false
	}
	pos := 1
	for e := c.queue.Front(); e != nil; e = e.Next() {
		if e.Value.(string) == customerID {
			return pos, true
		}
		pos++
	}
	return 0, false
}

// QueueLen returns the number of waiting customers, not counting the one being served.
func (c *Counter) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// Current returns the customer being served, if any.
func (c *Counter) Current() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.serving
}

// PlaceProduct puts a product from the current customer's cart on the counter.
func (c *Counter) PlaceProduct(p *models.Product, customerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.serving || c.current != customerID {
		return ErrNotCurrentCustomer
	}
	if err := p.Transfer(models.HolderCart, models.HolderCounter); err != nil {
		return err
	}
	p.SetScanned(false)
	c.items = append(c.items, p)
	c.allScanned = false
	return nil
}

// ScanNext scans the first unscanned active item. It returns false when nothing is left to scan.
func (c *Counter) ScanNext() (*models.Product, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var scanned *models.Product
	remaining := 0
	for _, p := range c.items {
		if p.Scanned() {
			continue
		}
		if scanned == nil {
			p.SetScanned(true)
			scanned = p
			continue
		}
		remaining++
	}
	if len(c.items) > 0 && remaining == 0 {
		c.allScanned = true
	}
	return scanned, scanned != nil
}

// MarkAllScanned scans every active item at once.
func (c *Counter) MarkAllScanned() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.items {
		p.SetScanned(true)
	}
	c.allScanned = true
}

// AllScanned reports whether the scanning action has finished for the placed items.
func (c *Counter) AllScanned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allScanned
}

// RequestPayment settles the current customer's items and serves the next customer.
//
// Totalling, marking items purchased, clearing them and advancing the queue happen under one
// lock. The settler is called afterwards, and only when something was sold. A customer that
// has already been released gets ErrNotCurrentCustomer and nothing is settled again.
func (c *Counter) RequestPayment(customerID string, satisfaction float64) (Receipt, error) {
	c.mu.Lock()
	if !c.serving || c.current != customerID {
		c.mu.Unlock()
		return Receipt{}, ErrNotCurrentCustomer
	}

	receipt := Receipt{
		CustomerID:   customerID,
		Satisfaction: clamp01(satisfaction),
		Items:        make([]models.ProductView, 0, len(c.items)),
	}
	for _, p := range c.items {
		if err := p.Transfer(models.HolderCounter, models.HolderSold); err != nil {
			c.logger.Error(err, "Active item changed hands during payment", "customer", customerID)
			continue
		}
		p.MarkPurchased()
		receipt.Amount += p.Price
		receipt.Items = append(receipt.Items, p.View())
	}
	c.items = nil
	c.allScanned = false
	next := c.advanceLocked()
	c.mu.Unlock()

	if len(receipt.Items) > 0 {
		c.settler.Settle(receipt.Amount, receipt.Satisfaction)
		metrics.RecordSettlement(receipt.Amount)
	}
	c.logger.V(logging.VERBOSE).Info("Payment settled",
		"customer", customerID, "amount", receipt.Amount, "items", len(receipt.Items), "next", next)
	return receipt, nil
}

// Leave removes a customer that gives up. A waiting customer is taken out of the line; a
// customer being served is released, its placed items are discarded, and the next customer
// is served. It returns false when the counter does not know the customer.
func (c *Counter) Leave(customerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.waiting[customerID]; ok {
		c.queue.Remove(e)
		delete(c.waiting, customerID)
		metrics.SetQueueLength(c.queue.Len())
		c.logger.V(logging.DEBUG).Info("Customer left the queue", "customer", customerID)
		return true
	}

	if !c.serving || c.current != customerID {
		return false
	}
	for _, p := range c.items {
		if err := p.Transfer(models.HolderCounter, models.HolderDiscarded); err != nil {
			c.logger.Error(err, "Active item changed hands during release", "customer", customerID)
		}
	}
	discarded := len(c.items)
	c.items = nil
	c.allScanned = false
	next := c.advanceLocked()
	metrics.RecordCheckoutAbandonment()
	c.logger.V(logging.DEBUG).Info("Customer released without paying",
		"customer", customerID, "discarded", discarded, "next", next)
	return true
}

// Snapshot returns a copy of the counter state.
func (c *Counter) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Queue:      make([]string, 0, c.queue.Len()),
		Items:      make([]models.ProductView, 0, len(c.items)),
		AllScanned: c.allScanned,
	}
	if c.serving {
		s.Current = c.current
	}
	for e := c.queue.Front(); e != nil; e = e.Next() {
		s.Queue = append(s.Queue, e.Value.(string))
	}
	for _, p := range c.items {
		s.Items = append(s.Items, p.View())
	}
	return s
}

// advanceLocked pops the head of the line into the current slot and returns its id, or ""
// when the line is empty. c.mu must be held.
func (c *Counter) advanceLocked() string {
	front := c.queue.Front()
	if front == nil {
		c.current = ""
		c.serving = false
		return ""
	}
	id := c.queue.Remove(front).(string)
	delete(c.waiting, id)
	c.current = id
	c.serving = true
	metrics.SetQueueLength(c.queue.Len())
	return id
}

func (c *Counter) knownLocked(customerID string) bool {
	if c.serving && c.current == customerID {
		return true
	}
	_, ok := c.waiting[customerID]
	return ok
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
