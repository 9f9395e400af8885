package economy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/kieracarman/shopsim/internal/logging"
	"github.com/kieracarman/shopsim/internal/metrics"
	"github.com/kieracarman/shopsim/internal/models"
)

const (
	defaultBufferSize     = 1024
	defaultBatchSize      = 50
	defaultFlushInterval  = 2 * time.Second
	defaultPublishTimeout = 5 * time.Second

	// reputationWeight is how far one settlement moves reputation toward its satisfaction.
	reputationWeight  = 0.1
	initialReputation = 0.5
)

// LedgerConfig holds the tunables of the ledger.
type LedgerConfig struct {
	// BufferSize bounds the settlements waiting to be recorded. Settle drops when it is full.
	BufferSize int `yaml:"bufferSize"`
	// BatchSize is how many recorded settlements trigger a flush to the sink.
	BatchSize int `yaml:"batchSize"`
	// FlushInterval is the longest a recorded settlement waits before a flush.
	FlushInterval time.Duration `yaml:"flushInterval"`
}

// ValidateAndApplyDefaults returns a copy with zero fields defaulted, or an error for invalid values.
func (c LedgerConfig) ValidateAndApplyDefaults() (LedgerConfig, error) {
	if c.BufferSize < 0 {
		return c, fmt.Errorf("bufferSize cannot be negative, but got %d", c.BufferSize)
	}
	if c.BatchSize < 0 {
		return c, fmt.Errorf("batchSize cannot be negative, but got %d", c.BatchSize)
	}
	if c.FlushInterval < 0 {
		return c, fmt.Errorf("flushInterval cannot be negative, but got %v", c.FlushInterval)
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.BatchSize == 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = defaultFlushInterval
	}
	return c, nil
}

// Sink receives batches of recorded settlements.
type Sink interface {
	Publish(ctx context.Context, batch []models.Settlement) error
}

// Totals summarizes everything the ledger has recorded.
type Totals struct {
	Revenue          float64
	Sales            int
	MeanSatisfaction float64
	Reputation       float64
	Dropped          int
	Published        int
}

// Ledger is the shop's economic authority. Settle never blocks; a background loop records
// settlements and forwards them to the sink in batches.
type Ledger struct {
	cfg    LedgerConfig
	sink   Sink
	logger logr.Logger

	incoming chan models.Settlement

	mu              sync.Mutex
	sequence        int64
	totals          Totals
	satisfactionSum float64
	pending         []models.Settlement
	lastFlush       time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLedger creates a ledger. sink may be nil, in which case settlements are only totalled.
func NewLedger(cfg LedgerConfig, sink Sink, logger logr.Logger) (*Ledger, error) {
	cfg, err := cfg.ValidateAndApplyDefaults()
	if err != nil {
		return nil, fmt.Errorf("ledger config: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Ledger{
		cfg:       cfg,
		sink:      sink,
		logger:    logger.WithName("ledger"),
		incoming:  make(chan models.Settlement, cfg.BufferSize),
		totals:    Totals{Reputation: initialReputation},
		lastFlush: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Settle records a finished purchase. It returns immediately; when the buffer is full the
// settlement is dropped and counted.
func (l *Ledger) Settle(amount, satisfaction float64) {
	l.mu.Lock()
	l.sequence++
	s := models.Settlement{
		Sequence:     l.sequence,
		Amount:       amount,
		Satisfaction: satisfaction,
		SettledAt:    time.Now(),
	}
	l.mu.Unlock()

	select {
	case l.incoming <- s:
	default:
		l.mu.Lock()
		l.totals.Dropped++
		l.mu.Unlock()
		metrics.RecordSettlementDropped()
		l.logger.Info("Ledger buffer full, settlement dropped", "sequence", s.Sequence, "amount", amount)
	}
}

// Start launches the recording loop.
func (l *Ledger) Start() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.cfg.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case s := <-l.incoming:
				if l.record(s) >= l.cfg.BatchSize {
					if err := l.Flush(); err != nil {
						l.logger.Error(err, "Batch flush failed")
					}
				}
			case <-ticker.C:
				l.mu.Lock()
				due := len(l.pending) > 0 && time.Since(l.lastFlush) >= l.cfg.FlushInterval
				l.mu.Unlock()
				if due {
					if err := l.Flush(); err != nil {
						l.logger.Error(err, "Auto-flush failed")
					}
				}
			case <-l.ctx.Done():
				l.drain()
				if err := l.Flush(); err != nil {
					l.logger.Error(err, "Final flush failed")
				}
				return
			}
		}
	}()
}

// Stop records whatever is buffered, flushes it and stops the loop.
func (l *Ledger) Stop() {
	l.cancel()
	l.wg.Wait()
}

// Totals returns the running totals.
func (l *Ledger) Totals() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totals
}

// Pending returns the number of recorded settlements not yet accepted by the sink.
func (l *Ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Flush hands recorded settlements to the sink. On failure they are kept for the next flush.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		return nil
	}
	batch := l.pending
	l.pending = nil
	l.lastFlush = time.Now()
	l.mu.Unlock()

	if l.sink == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()
	if err := l.sink.Publish(ctx, batch); err != nil {
		l.mu.Lock()
		l.pending = append(batch, l.pending...)
		l.mu.Unlock()
		return fmt.Errorf("publishing %d settlements: %w", len(batch), err)
	}

	l.mu.Lock()
	l.totals.Published += len(batch)
	l.mu.Unlock()
	l.logger.V(logging.VERBOSE).Info("Flushed settlements", "count", len(batch))
	return nil
}

// record adds s to the totals and the pending batch and returns the batch size.
func (l *Ledger) record(s models.Settlement) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.totals.Sales++
	l.totals.Revenue += s.Amount
	l.satisfactionSum += s.Satisfaction
	l.totals.MeanSatisfaction = l.satisfactionSum / float64(l.totals.Sales)
	l.totals.Reputation += reputationWeight * (s.Satisfaction - l.totals.Reputation)
	l.pending = append(l.pending, s)

	l.logger.V(logging.TRACE).Info("Recorded settlement", "sequence", s.Sequence, "amount", s.Amount)
	return len(l.pending)
}

func (l *Ledger) drain() {
	for {
		select {
		case s := <-l.incoming:
			l.record(s)
		default:
			return
		}
	}
}
