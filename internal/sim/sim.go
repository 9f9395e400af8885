package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kieracarman/shopsim/internal/catalog"
	"github.com/kieracarman/shopsim/internal/checkout"
	"github.com/kieracarman/shopsim/internal/customer"
	"github.com/kieracarman/shopsim/internal/economy"
	"github.com/kieracarman/shopsim/internal/logging"
	"github.com/kieracarman/shopsim/internal/metrics"
	"github.com/kieracarman/shopsim/internal/movement"
	"github.com/kieracarman/shopsim/internal/shop"
)

const (
	defaultCustomers       = 20
	defaultSpawnRate       = 2.0
	defaultMinMoney        = 10.0
	defaultMaxMoney        = 40.0
	defaultRestockInterval = 3 * time.Second
)

// Config holds the tunables of one simulation run
type Config struct {
	// Customers is how many customers are spawned in total. Zero means the default of 20
	Customers int `yaml:"customers"`
	// SpawnRate is in customers per second. Zero or less spawns everyone at once
	SpawnRate float64 `yaml:"spawnRate"`
	// Seed drives money, shelf choice, restock picks and per-customer randomness.
	// Zero seeds from the clock
	Seed     int64   `yaml:"seed"`
	MinMoney float64 `yaml:"minMoney"`
	MaxMoney float64 `yaml:"maxMoney"`
	// WalkSpeed is in floor units per second. Zero makes every move instant, so it is not
	// defaulted; DefaultConfig sets it
	WalkSpeed       float64       `yaml:"walkSpeed"`
	RestockInterval time.Duration `yaml:"restockInterval"`
}

// DefaultConfig returns the configuration used when none is given
func DefaultConfig() Config {
	return Config{
		Customers:       defaultCustomers,
		SpawnRate:       defaultSpawnRate,
		MinMoney:        defaultMinMoney,
		MaxMoney:        defaultMaxMoney,
		WalkSpeed:       movement.DefaultSpeed,
		RestockInterval: defaultRestockInterval,
	}
}

// ValidateAndApplyDefaults returns a copy with zero fields defaulted, or an error for invalid values
func (c Config) ValidateAndApplyDefaults() (Config, error) {
	if c.Customers < 0 {
		return c, fmt.Errorf("customers cannot be negative, but got %d", c.Customers)
	}
	if math.IsNaN(c.SpawnRate) {
		return c, errors.New("spawnRate must be a number")
	}
	if !finite(c.MinMoney) || !finite(c.MaxMoney) {
		return c, fmt.Errorf("money must be a finite number, but got min=%v max=%v", c.MinMoney, c.MaxMoney)
	}
	if c.MinMoney < 0 || c.MaxMoney < 0 {
		return c, fmt.Errorf("money cannot be negative, but got min=%v max=%v", c.MinMoney, c.MaxMoney)
	}
	if c.WalkSpeed < 0 || math.IsNaN(c.WalkSpeed) {
		return c, fmt.Errorf("walkSpeed cannot be negative, but got %v", c.WalkSpeed)
	}
	if c.RestockInterval < 0 {
		return c, fmt.Errorf("restockInterval cannot be negative, but got %v", c.RestockInterval)
	}
	if c.Customers == 0 {
		c.Customers = defaultCustomers
	}
	if c.MinMoney == 0 && c.MaxMoney == 0 {
		c.MinMoney, c.MaxMoney = defaultMinMoney, defaultMaxMoney
	}
	if c.MaxMoney < c.MinMoney {
		return c, fmt.Errorf("maxMoney %v is below minMoney %v", c.MaxMoney, c.MinMoney)
	}
	if c.RestockInterval == 0 {
		c.RestockInterval = defaultRestockInterval
	}
	return c, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Components configures the parts of the shop a simulation assembles
type Components struct {
	Customer customer.Config
	Layout   shop.Layout
	// Catalog lists what the restocker can place. Empty uses catalog.Default
	Catalog []catalog.Item
	Cashier checkout.CashierConfig
	Ledger  economy.LedgerConfig
	// Sink receives settlement batches. Nil keeps them in the ledger only
	Sink economy.Sink
}

// Simulation runs a population of customers against one shop
type Simulation struct {
	cfg         Config
	customerCfg customer.Config
	logger      logr.Logger
	rng         *rand.Rand

	shop      *shop.Shop
	counter   *checkout.Counter
	cashier   *checkout.Cashier
	restocker *shop.Restocker
	ledger    *economy.Ledger

	mu   sync.Mutex
	live map[string]*customer.Customer
}

// New assembles the shop described by comps: a ledger settling the counter's payments, a
// cashier scanning at the counter and a restocker filling the shelves from the catalog
func New(cfg Config, comps Components, logger logr.Logger) (*Simulation, error) {
	cfg, err := cfg.ValidateAndApplyDefaults()
	if err != nil {
		return nil, fmt.Errorf("simulation config: %w", err)
	}
	customerCfg, err := comps.Customer.ValidateAndApplyDefaults()
	if err != nil {
		return nil, fmt.Errorf("customer config: %w", err)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	items := comps.Catalog
	if len(items) == 0 {
		items = catalog.Default()
	}
	cat, err := catalog.New(items, catalog.WithRand(rand.New(rand.NewSource(rng.Int63()))))
	if err != nil {
		return nil, err
	}
	ledger, err := economy.NewLedger(comps.Ledger, comps.Sink, logger)
	if err != nil {
		return nil, err
	}
	counter := checkout.NewCounter(ledger, logger)
	cashier, err := checkout.NewCashier(counter, comps.Cashier, logger)
	if err != nil {
		return nil, err
	}
	s, err := shop.New(comps.Layout, counter, shop.WithRand(rand.New(rand.NewSource(rng.Int63()))))
	if err != nil {
		return nil, err
	}

	return &Simulation{
		cfg:         cfg,
		customerCfg: customerCfg,
		logger:      logger.WithName("sim"),
		rng:         rng,
		shop:        s,
		counter:     counter,
		cashier:     cashier,
		restocker:   shop.NewRestocker(s, cat, cfg.RestockInterval, logger),
		ledger:      ledger,
		live:        make(map[string]*customer.Customer),
	}, nil
}

// Shop returns the simulated shop
func (s *Simulation) Shop() *shop.Shop { return s.shop }

// Run stocks the shop, spawns every customer at the configured rate and waits for all of
// them to leave. Cancelling ctx stops spawning and sends live customers to cleanup; the
// results then cover the customers spawned so far and Interrupted is set. Run may be called once
func (s *Simulation) Run(ctx context.Context) (*Results, error) {
	if _, err := s.restocker.RestockOnce(); err != nil {
		s.logger.Info("Some shelves could not be stocked", "reason", err.Error())
	}
	s.ledger.Start()
	s.cashier.Start()
	s.restocker.Start()

	start := time.Now()
	limit := rate.Inf
	if s.cfg.SpawnRate > 0 {
		limit = rate.Limit(s.cfg.SpawnRate)
	}
	limiter := rate.NewLimiter(limit, 1)

	outcomes := make(chan customer.Outcome, s.cfg.Customers)
	g, gctx := errgroup.WithContext(ctx)
	var spawnErr error
	for i := 0; i < s.cfg.Customers; i++ {
		if err := limiter.Wait(gctx); err != nil {
			if ctx.Err() == nil {
				spawnErr = fmt.Errorf("waiting to spawn customer %d: %w", i+1, err)
			}
			break
		}
		c, err := s.spawn()
		if err != nil {
			spawnErr = err
			break
		}
		g.Go(func() error {
			defer s.forget(c.ID())
			outcomes <- c.Run(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil && spawnErr == nil {
		spawnErr = err
	}
	close(outcomes)

	s.restocker.Stop()
	s.cashier.Stop()
	s.ledger.Stop()

	results := collect(outcomes)
	results.Duration = time.Since(start)
	results.Ledger = s.ledger.Totals()
	results.Stock = s.shop.Stock()
	results.Restocked = s.restocker.Restocked()
	results.Scanned = s.cashier.Scanned()
	results.Interrupted = ctx.Err() != nil

	s.logger.Info("Simulation finished",
		"customers", results.Customers, "revenue", results.Revenue, "duration", results.Duration)
	return results, spawnErr
}

// Snapshots returns the state of every customer still in the shop, ordered by id
func (s *Simulation) Snapshots() []customer.Snapshot {
	s.mu.Lock()
	live := make([]*customer.Customer, 0, len(s.live))
	for _, c := range s.live {
		live = append(live, c)
	}
	s.mu.Unlock()

	snaps := make([]customer.Snapshot, 0, len(live))
	for _, c := range live {
		snaps = append(snaps, c.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return snaps
}

// Counter returns a snapshot of the checkout counter
func (s *Simulation) Counter() checkout.Snapshot {
	return s.counter.Snapshot()
}

func (s *Simulation) spawn() (*customer.Customer, error) {
	money := s.cfg.MinMoney + s.rng.Float64()*(s.cfg.MaxMoney-s.cfg.MinMoney)
	entrance := s.shop.Entrance()
	walker := movement.NewWalker(nil, entrance, s.cfg.WalkSpeed)

	c, err := customer.New(s.customerCfg, s.shop, walker, entrance, money,
		customer.WithRand(rand.New(rand.NewSource(s.rng.Int63()))),
		customer.WithLogger(s.logger))
	if err != nil {
		return nil, fmt.Errorf("spawning customer: %w", err)
	}

	s.mu.Lock()
	s.live[c.ID()] = c
	s.mu.Unlock()
	metrics.RecordCustomerSpawned()
	s.logger.V(logging.DEBUG).Info("Spawned customer", "customer", c.ID(), "money", money)
	return c, nil
}

func (s *Simulation) forget(id string) {
	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
}
