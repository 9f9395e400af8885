package shop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/kieracarman/shopsim/internal/catalog"
	"github.com/kieracarman/shopsim/internal/logging"
	"github.com/kieracarman/shopsim/internal/metrics"
)

const defaultRestockInterval = 3 * time.Second

// Restocker refills empty shelf slots from the catalog
type Restocker struct {
	shop     *Shop
	catalog  *catalog.Catalog
	interval time.Duration
	logger   logr.Logger

	mu        sync.Mutex
	restocked int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRestocker creates a restocker. interval <= 0 uses the default
func NewRestocker(shop *Shop, cat *catalog.Catalog, interval time.Duration, logger logr.Logger) *Restocker {
	if interval <= 0 {
		interval = defaultRestockInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Restocker{
		shop:     shop,
		catalog:  cat,
		interval: interval,
		logger:   logger.WithName("restocker"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RestockOnce fills every empty slot with a product matching its category.
// Slots whose category the catalog does not carry stay empty
func (r *Restocker) RestockOnce() (int, error) {
	placed := 0
	var missing error
	for _, slot := range r.shop.slots {
		if !slot.IsEmpty() {
			continue
		}
		p, err := r.catalog.NewProduct(slot.Accepts())
		if err != nil {
			if missing == nil {
				missing = fmt.Errorf("slot %s: %w", slot.ID(), err)
			}
			continue
		}
		// Fails only when a concurrent restock filled the slot first
		if slot.TryPlace(p) {
			placed++
		}
	}

	r.mu.Lock()
	r.restocked += placed
	r.mu.Unlock()
	if placed > 0 {
		metrics.RecordRestocked(placed)
		r.logger.V(logging.VERBOSE).Info("Restocked shelves", "count", placed)
	}
	return placed, missing
}

// Start launches the background restock loop
func (r *Restocker) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := r.RestockOnce(); err != nil && !errors.Is(err, catalog.ErrNoItems) {
					r.logger.Error(err, "Restock failed")
				}
			case <-r.ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the restock loop
func (r *Restocker) Stop() {
	r.cancel()
	r.wg.Wait()
}

// Restocked returns the number of products placed so far
func (r *Restocker) Restocked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restocked
}
