package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/kieracarman/shopsim/internal/logging"
)

const defaultScanInterval = 200 * time.Millisecond

// CashierConfig holds the tunables of the scanning worker.
type CashierConfig struct {
	// ScanInterval is the time the cashier spends scanning one item.
	ScanInterval time.Duration `yaml:"scanInterval"`
}

// ValidateAndApplyDefaults returns a copy with zero fields defaulted, or an error for invalid values.
func (c CashierConfig) ValidateAndApplyDefaults() (CashierConfig, error) {
	if c.ScanInterval < 0 {
		return c, fmt.Errorf("scanInterval cannot be negative, but got %v", c.ScanInterval)
	}
	if c.ScanInterval == 0 {
		c.ScanInterval = defaultScanInterval
	}
	return c, nil
}

// Cashier scans the items placed on a counter, one per tick, in the background.
type Cashier struct {
	counter  *Counter
	interval time.Duration
	logger   logr.Logger
	scanned  int

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCashier creates a cashier for counter. Call Start to begin scanning.
func NewCashier(counter *Counter, cfg CashierConfig, logger logr.Logger) (*Cashier, error) {
	cfg, err := cfg.ValidateAndApplyDefaults()
	if err != nil {
		return nil, fmt.Errorf("cashier config: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cashier{
		counter:  counter,
		interval: cfg.ScanInterval,
		logger:   logger.WithName("cashier"),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start launches the scanning loop.
func (c *Cashier) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if p, ok := c.counter.ScanNext(); ok {
					c.mu.Lock()
					c.scanned++
					c.mu.Unlock()
					c.logger.V(logging.TRACE).Info("Scanned item", "product", p.ID, "price", p.Price)
				}
			case <-c.ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the scanning loop and waits for it to exit.
func (c *Cashier) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Scanned returns the number of items scanned so far.
func (c *Cashier) Scanned() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanned
}
