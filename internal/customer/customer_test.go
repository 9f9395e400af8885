package customer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"

	"github.com/kieracarman/shopsim/internal/checkout"
	"github.com/kieracarman/shopsim/internal/models"
	"github.com/kieracarman/shopsim/internal/shelf"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeMover struct {
	mu     sync.Mutex
	reject bool
	stuck  bool
	moves  []models.Position
}

func (m *fakeMover) RequestMove(target models.Position) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reject {
		return false
	}
	m.moves = append(m.moves, target)
	return true
}

func (m *fakeMover) HasArrived() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.stuck
}

func (m *fakeMover) Moves() []models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Position(nil), m.moves...)
}

// fakeEnv hands out its shelves round-robin
type fakeEnv struct {
	mu       sync.Mutex
	shelves  []Shelf
	next     int
	counter  Checkout
	closed   bool
	interior *models.Position
}

func (e *fakeEnv) FindShelf() (Shelf, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.shelves) == 0 {
		return nil, false
	}
	s := e.shelves[e.next%len(e.shelves)]
	e.next++
	return s, true
}

// countingEnv counts shelf lookups and stops finding shelves after limit of them.
// A zero limit never stops
type countingEnv struct {
	*fakeEnv
	limit int

	mu    sync.Mutex
	finds int
}

func (e *countingEnv) FindShelf() (Shelf, bool) {
	e.mu.Lock()
	e.finds++
	over := e.limit > 0 && e.finds > e.limit
	e.mu.Unlock()
	if over {
		return nil, false
	}
	return e.fakeEnv.FindShelf()
}

func (e *countingEnv) Finds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finds
}

func (e *fakeEnv) FindCheckout() (Checkout, bool) {
	if e.counter == nil {
		return nil, false
	}
	return e.counter, true
}

func (e *fakeEnv) IsOpen() bool { return !e.closed }

func (e *fakeEnv) InteriorPoint() (models.Position, bool) {
	if e.interior == nil {
		return models.Position{}, false
	}
	return *e.interior, true
}

// stubCheckout serves every customer at once and can be told to fail payment
type stubCheckout struct {
	mu         sync.Mutex
	payErr     error
	neverClear bool
	arrivals   int
	left       []string
}

func (s *stubCheckout) Arrive(string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arrivals++
	return 0, nil
}

func (s *stubCheckout) IsCurrentCustomer(string) bool    { return true }
func (s *stubCheckout) QueuePosition(string) (int, bool) { return 0, true }
func (s *stubCheckout) AllScanned() bool                 { return true }
func (s *stubCheckout) IsCleared(string) bool            { return !s.neverClear }

func (s *stubCheckout) PlaceProduct(p *models.Product, _ string) error {
	return p.Transfer(models.HolderCart, models.HolderCounter)
}

func (s *stubCheckout) RequestPayment(id string, satisfaction float64) (checkout.Receipt, error) {
	if s.payErr != nil {
		return checkout.Receipt{}, s.payErr
	}
	return checkout.Receipt{CustomerID: id, Satisfaction: satisfaction}, nil
}

func (s *stubCheckout) Leave(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left = append(s.left, id)
	return true
}

func (s *stubCheckout) Arrivals() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arrivals
}

type recordingSettler struct {
	mu     sync.Mutex
	amount []float64
	sat    []float64
}

func (r *recordingSettler) Settle(amount, satisfaction float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.amount = append(r.amount, amount)
	r.sat = append(r.sat, satisfaction)
}

func (r *recordingSettler) Amounts() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.amount...)
}

func (r *recordingSettler) Satisfactions() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.sat...)
}

func testConfig() Config {
	return Config{
		MaxProducts:      3,
		BuyProbability:   1,
		ShoppingDuration: 30 * time.Millisecond,
		BrowseDelay:      time.Millisecond,
		QueueTimeout:     100 * time.Millisecond,
		ScanTimeout:      30 * time.Millisecond,
		PaymentTimeout:   100 * time.Millisecond,
		PollInterval:     time.Millisecond,
		MoveTimeout:      50 * time.Millisecond,
		ExitOffset:       models.Position{X: 0, Y: -3},
	}
}

func stockedSlot(t *testing.T, id string, price float64) (*shelf.Slot, *models.Product) {
	t.Helper()
	s := shelf.NewSlot(id, models.Position{X: 1, Y: 2}, models.CategoryAny)
	p := models.NewProduct("Oat Milk", "dairy", price)
	require.True(t, s.TryPlace(p))
	return s, p
}

func newCustomer(t *testing.T, cfg Config, env Environment, mover Mover, money float64) *Customer {
	t.Helper()
	c, err := New(cfg, env, mover, models.Position{X: 0, Y: -2}, money,
		WithRand(rand.New(rand.NewSource(1))), WithLogger(logr.Discard()))
	require.NoError(t, err)
	return c
}

func TestNew_Rejects(t *testing.T) {
	env, mover := &fakeEnv{}, &fakeMover{}
	_, err := New(testConfig(), env, mover, models.Position{}, -1)
	assert.Error(t, err, "negative money")
	_, err = New(testConfig(), nil, mover, models.Position{}, 1)
	assert.Error(t, err, "missing environment")
	_, err = New(Config{MaxProducts: -1}, env, mover, models.Position{}, 1)
	assert.Error(t, err, "invalid config")

	c, err := New(testConfig(), env, mover, models.Position{}, 0, WithID("c-1"))
	require.NoError(t, err)
	assert.Equal(t, "c-1", c.ID())
	assert.Equal(t, Entering, c.State())
}

func TestSelection_TakesAffordableProduct(t *testing.T) {
	slot, p := stockedSlot(t, "s1", 10)
	c := newCustomer(t, testConfig(), &fakeEnv{}, &fakeMover{}, 20)

	require.True(t, c.trySelect(slot))

	snap := c.Snapshot()
	require.Len(t, snap.Cart, 1)
	assert.Equal(t, p.ID, snap.Cart[0].ID)
	assert.InDelta(t, 10.0, snap.Money, 1e-9)
	assert.True(t, slot.IsEmpty())
	assert.Equal(t, models.HolderCart, p.Holder())
}

func TestSelection_RejectsUnaffordableProduct(t *testing.T) {
	slot, p := stockedSlot(t, "s1", 10)
	c := newCustomer(t, testConfig(), &fakeEnv{}, &fakeMover{}, 5)

	assert.False(t, c.trySelect(slot))

	assert.Empty(t, c.Snapshot().Cart)
	assert.InDelta(t, 5.0, c.Money(), 1e-9)
	assert.Same(t, p, slot.Peek())
	assert.Equal(t, models.HolderShelf, p.Holder())
}

func TestSelection_FailsFast(t *testing.T) {
	t.Run("empty shelf", func(t *testing.T) {
		c := newCustomer(t, testConfig(), &fakeEnv{}, &fakeMover{}, 20)
		assert.False(t, c.trySelect(shelf.NewSlot("s", models.Position{}, models.CategoryAny)))
	})

	t.Run("cart full", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxProducts = 1
		c := newCustomer(t, cfg, &fakeEnv{}, &fakeMover{}, 20)
		first, _ := stockedSlot(t, "s1", 1)
		second, _ := stockedSlot(t, "s2", 1)
		require.True(t, c.trySelect(first))
		assert.False(t, c.trySelect(second))
		assert.False(t, second.IsEmpty())
	})

	t.Run("buy draw above probability", func(t *testing.T) {
		cfg := testConfig()
		cfg.BuyProbability = 0
		c := newCustomer(t, cfg, &fakeEnv{}, &fakeMover{}, 20)
		slot, _ := stockedSlot(t, "s1", 1)
		assert.False(t, c.trySelect(slot))
		assert.False(t, slot.IsEmpty())
	})

	t.Run("price equal to money is allowed", func(t *testing.T) {
		c := newCustomer(t, testConfig(), &fakeEnv{}, &fakeMover{}, 7.5)
		slot, _ := stockedSlot(t, "s1", 7.5)
		assert.True(t, c.trySelect(slot))
		assert.Zero(t, c.Money())
	})
}

func TestSelection_CartBoundAndMoneyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := testConfig()
		cfg.MaxProducts = rapid.IntRange(1, 5).Draw(t, "maxProducts")
		cfg.BuyProbability = rapid.Float64Range(0, 1).Draw(t, "buyProbability")
		money := rapid.Float64Range(0, 50).Draw(t, "money")
		prices := rapid.SliceOfN(rapid.Float64Range(0, 20), 0, 12).Draw(t, "prices")

		c, err := New(cfg, &fakeEnv{}, &fakeMover{}, models.Position{}, money,
			WithRand(rand.New(rand.NewSource(rapid.Int64().Draw(t, "seed")))))
		if err != nil {
			t.Fatal(err)
		}

		for i, price := range prices {
			slot := shelf.NewSlot(fmt.Sprint(i), models.Position{}, models.CategoryAny)
			slot.TryPlace(models.NewProduct("item", "coffee", price))
			c.trySelect(slot)

			snap := c.Snapshot()
			if len(snap.Cart) > cfg.MaxProducts {
				t.Fatalf("cart holds %d, limit %d", len(snap.Cart), cfg.MaxProducts)
			}
			if snap.Money < 0 {
				t.Fatalf("money went negative: %v", snap.Money)
			}
			spent := 0.0
			for _, v := range snap.Cart {
				spent += v.Price
			}
			if diff := money - spent - snap.Money; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("money %v + spent %v != start %v", snap.Money, spent, money)
			}
		}
	})
}

func TestCustomer_EmptyCartSkipsQueueing(t *testing.T) {
	co := &stubCheckout{}
	c := newCustomer(t, testConfig(), &fakeEnv{counter: co}, &fakeMover{}, 20)
	ctx := context.Background()

	assert.Equal(t, Shopping, c.Step(ctx))
	assert.Equal(t, Leaving, c.Step(ctx))
	assert.Equal(t, Destroyed, c.Step(ctx))
	assert.Equal(t, Destroyed, c.Step(ctx), "destroyed is terminal")

	assert.Equal(t, ReasonEmptyCart, c.Outcome().Reason)
	assert.Zero(t, co.Arrivals())
}

func TestCustomer_ShoppingYieldsBetweenShelfVisits(t *testing.T) {
	cfg := testConfig()
	cfg.BrowseDelay = 0
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ShoppingDuration = 100 * time.Millisecond
	empty := shelf.NewSlot("s1", models.Position{}, models.CategoryAny)
	env := &countingEnv{fakeEnv: &fakeEnv{shelves: []Shelf{empty}, counter: &stubCheckout{}}}
	c := newCustomer(t, cfg, env, &fakeMover{}, 20)
	ctx := context.Background()

	assert.Equal(t, Shopping, c.Step(ctx))
	assert.Equal(t, Leaving, c.Step(ctx))

	assert.GreaterOrEqual(t, env.Finds(), 1)
	assert.LessOrEqual(t, env.Finds(), 20, "one visit per poll interval at most")
}

func TestCustomer_ShelvesRunOutWithItemsInCart(t *testing.T) {
	settler := &recordingSettler{}
	counter := checkout.NewCounter(settler, logr.Discard())
	cashier, err := checkout.NewCashier(counter, checkout.CashierConfig{ScanInterval: time.Millisecond}, logr.Discard())
	require.NoError(t, err)
	cashier.Start()
	defer cashier.Stop()

	cfg := testConfig()
	cfg.ShoppingDuration = time.Minute
	slot, p := stockedSlot(t, "s1", 4)
	env := &countingEnv{fakeEnv: &fakeEnv{shelves: []Shelf{slot}, counter: counter}, limit: 1}
	c := newCustomer(t, cfg, env, &fakeMover{}, 20)
	ctx := context.Background()

	start := time.Now()
	assert.Equal(t, Shopping, c.Step(ctx))
	assert.Equal(t, Queueing, c.Step(ctx))
	assert.Less(t, time.Since(start), cfg.ShoppingDuration, "shopping ends when no shelf is found")
	assert.Len(t, c.Snapshot().Cart, 1)

	out := c.Run(ctx)
	assert.Equal(t, ReasonPaid, out.Reason)
	assert.Equal(t, 1, out.Items)
	assert.Equal(t, []float64{4}, settler.Amounts())
	assert.Equal(t, models.HolderSold, p.Holder())
	assert.Equal(t, 2, env.Finds())
}

func TestCustomer_PaysForWhatItTook(t *testing.T) {
	settler := &recordingSettler{}
	counter := checkout.NewCounter(settler, logr.Discard())
	cashier, err := checkout.NewCashier(counter, checkout.CashierConfig{ScanInterval: time.Millisecond}, logr.Discard())
	require.NoError(t, err)
	cashier.Start()
	defer cashier.Stop()

	s1, p1 := stockedSlot(t, "s1", 4)
	s2, p2 := stockedSlot(t, "s2", 6)
	interior := models.Position{X: 0, Y: 1}
	env := &fakeEnv{shelves: []Shelf{s1, s2}, counter: counter, interior: &interior}
	mover := &fakeMover{}
	c := newCustomer(t, testConfig(), env, mover, 20)

	out := c.Run(context.Background())

	assert.Equal(t, ReasonPaid, out.Reason)
	assert.True(t, out.Paid)
	assert.Equal(t, 2, out.Items)
	assert.InDelta(t, 10.0, out.Spent, 1e-9)
	assert.Zero(t, out.Discarded)
	assert.InDelta(t, 10.0, c.Money(), 1e-9)
	assert.Equal(t, []float64{10}, settler.Amounts())
	for _, p := range []*models.Product{p1, p2} {
		assert.Equal(t, models.HolderSold, p.Holder())
		assert.True(t, p.Purchased())
	}
	assert.True(t, counter.IsCleared(c.ID()))

	moves := mover.Moves()
	require.NotEmpty(t, moves)
	assert.Equal(t, interior, moves[0])
	assert.Equal(t, models.Position{X: 0, Y: -5}, moves[len(moves)-1], "walks out at spawn plus exit offset")
}

func TestCustomer_ScanTimeoutStillPays(t *testing.T) {
	settler := &recordingSettler{}
	counter := checkout.NewCounter(settler, logr.Discard())
	slot, p := stockedSlot(t, "s1", 3)
	c := newCustomer(t, testConfig(), &fakeEnv{shelves: []Shelf{slot}, counter: counter}, &fakeMover{}, 20)

	out := c.Run(context.Background())

	assert.Equal(t, ReasonPaid, out.Reason)
	assert.Equal(t, []float64{3}, settler.Amounts())
	sats := settler.Satisfactions()
	require.Len(t, sats, 1)
	assert.InDelta(t, 0.8, sats[0], 0.05, "slow scan costs satisfaction")
	assert.Equal(t, models.HolderSold, p.Holder())
}

func TestCustomer_AbandonsQueueAfterTimeout(t *testing.T) {
	settler := &recordingSettler{}
	counter := checkout.NewCounter(settler, logr.Discard())
	_, err := counter.Arrive("blocker")
	require.NoError(t, err)

	slot, p := stockedSlot(t, "s1", 3)
	c := newCustomer(t, testConfig(), &fakeEnv{shelves: []Shelf{slot}, counter: counter}, &fakeMover{}, 20)

	done := make(chan Outcome)
	go func() { done <- c.Run(context.Background()) }()

	require.Eventually(t, func() bool { return counter.QueueLen() == 1 }, time.Second, time.Millisecond)
	out := <-done

	assert.Equal(t, ReasonQueueTimeout, out.Reason)
	assert.False(t, out.Paid)
	assert.Equal(t, 1, out.Discarded)
	assert.Zero(t, counter.QueueLen())
	assert.True(t, counter.IsCurrentCustomer("blocker"))
	assert.Equal(t, models.HolderDiscarded, p.Holder())
	assert.Empty(t, settler.Amounts())
}

func TestCustomer_SnapshotShowsQueuePosition(t *testing.T) {
	counter := checkout.NewCounter(nil, logr.Discard())
	_, err := counter.Arrive("blocker")
	require.NoError(t, err)

	cfg := testConfig()
	cfg.QueueTimeout = time.Minute
	slot, _ := stockedSlot(t, "s1", 3)
	c := newCustomer(t, cfg, &fakeEnv{shelves: []Shelf{slot}, counter: counter}, &fakeMover{}, 20)
	assert.Equal(t, -1, c.Snapshot().QueuePosition)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		s := c.Snapshot()
		return s.State == Queueing && s.QueuePosition == 1
	}, time.Second, time.Millisecond)
	assert.Len(t, c.Snapshot().Cart, 1)

	cancel()
	out := <-done
	assert.Equal(t, ReasonCancelled, out.Reason)
	assert.True(t, counter.IsCleared(c.ID()), "cancelled customer gives up its place")
	assert.Equal(t, -1, c.Snapshot().QueuePosition)
}

func TestCustomer_LeavesWithoutCollaborators(t *testing.T) {
	interior := models.Position{X: 0, Y: 1}

	tests := []struct {
		name   string
		env    func(t *testing.T) *fakeEnv
		mover  *fakeMover
		reason Reason
	}{
		{
			name:   "shop closed",
			env:    func(*testing.T) *fakeEnv { return &fakeEnv{closed: true, counter: &stubCheckout{}} },
			mover:  &fakeMover{},
			reason: ReasonShopClosed,
		},
		{
			name: "no checkout",
			env: func(t *testing.T) *fakeEnv {
				slot, _ := stockedSlot(t, "s1", 1)
				return &fakeEnv{shelves: []Shelf{slot}}
			},
			mover:  &fakeMover{},
			reason: ReasonNoCheckout,
		},
		{
			name:   "move rejected",
			env:    func(*testing.T) *fakeEnv { return &fakeEnv{interior: &interior} },
			mover:  &fakeMover{reject: true},
			reason: ReasonMoveFailed,
		},
		{
			name:   "never arrives",
			env:    func(*testing.T) *fakeEnv { return &fakeEnv{interior: &interior} },
			mover:  &fakeMover{stuck: true},
			reason: ReasonMoveFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCustomer(t, testConfig(), tt.env(t), tt.mover, 20)
			out := c.Run(context.Background())
			assert.Equal(t, tt.reason, out.Reason)
			assert.False(t, out.Paid)
			assert.Equal(t, Destroyed, c.State())
			assert.Empty(t, c.Snapshot().Cart)
		})
	}
}

func TestCustomer_NoCheckoutDiscardsCart(t *testing.T) {
	slot, p := stockedSlot(t, "s1", 1)
	c := newCustomer(t, testConfig(), &fakeEnv{shelves: []Shelf{slot}}, &fakeMover{}, 20)
	out := c.Run(context.Background())
	assert.Equal(t, 1, out.Discarded)
	assert.Equal(t, models.HolderDiscarded, p.Holder())
}

func TestCustomer_PaymentFailures(t *testing.T) {
	tests := []struct {
		name string
		co   *stubCheckout
	}{
		{name: "payment error", co: &stubCheckout{payErr: errors.New("card declined")}},
		{name: "never cleared", co: &stubCheckout{neverClear: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slot, p := stockedSlot(t, "s1", 2)
			c := newCustomer(t, testConfig(), &fakeEnv{shelves: []Shelf{slot}, counter: tt.co}, &fakeMover{}, 20)

			out := c.Run(context.Background())

			assert.Equal(t, ReasonPaymentFailed, out.Reason)
			assert.False(t, out.Paid)
			assert.Contains(t, tt.co.left, c.ID())
			assert.Equal(t, models.HolderCounter, p.Holder(), "placed items belong to the counter")
		})
	}
}

func TestCustomer_ConcurrentVisitsLeaveNoDanglingProducts(t *testing.T) {
	settler := &recordingSettler{}
	counter := checkout.NewCounter(settler, logr.Discard())
	cashier, err := checkout.NewCashier(counter, checkout.CashierConfig{ScanInterval: time.Millisecond}, logr.Discard())
	require.NoError(t, err)
	cashier.Start()
	defer cashier.Stop()

	var slots []Shelf
	var products []*models.Product
	for i := 0; i < 12; i++ {
		s, p := stockedSlot(t, fmt.Sprintf("s%d", i), float64(1+i%4))
		slots = append(slots, s)
		products = append(products, p)
	}
	env := &fakeEnv{shelves: slots, counter: counter}

	cfg := testConfig()
	cfg.QueueTimeout = 40 * time.Millisecond
	var wg sync.WaitGroup
	outcomes := make([]Outcome, 8)
	for i := range outcomes {
		c := newCustomer(t, cfg, env, &fakeMover{}, 10)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = c.Run(context.Background())
		}(i)
	}
	wg.Wait()

	spent := 0.0
	for _, o := range outcomes {
		spent += o.Spent
	}
	settled := 0.0
	for _, a := range settler.Amounts() {
		settled += a
	}
	assert.InDelta(t, spent, settled, 1e-9)

	for _, p := range products {
		switch p.Holder() {
		case models.HolderShelf, models.HolderDiscarded:
			assert.False(t, p.Purchased())
		case models.HolderSold:
			assert.True(t, p.Purchased())
		default:
			t.Errorf("product %s left with holder %s", p.ID, p.Holder())
		}
	}
	snap := counter.Snapshot()
	assert.Empty(t, snap.Queue)
	assert.Empty(t, snap.Items)
}
