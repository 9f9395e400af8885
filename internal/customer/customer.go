package customer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/kieracarman/shopsim/internal/logging"
	"github.com/kieracarman/shopsim/internal/metrics"
	"github.com/kieracarman/shopsim/internal/models"
)

var (
	errWaitTimeout  = errors.New("wait timed out")
	errMoveRejected = errors.New("move rejected")
)

// Outcome is what a customer did during its visit
type Outcome struct {
	CustomerID   string
	Reason       Reason
	Paid         bool
	Items        int
	Spent        float64
	Discarded    int
	Satisfaction float64
	Lifetime     time.Duration
}

// Snapshot is a read-only view of a customer for debugging
type Snapshot struct {
	ID    string
	State State
	Cart  []models.ProductView
	Money float64
	// Target is the shelf being walked to, if any
	Target *models.Position
	// QueuePosition is the 1-based place in line, 0 while being served and -1 when not queueing
	QueuePosition int
}

// Option configures a Customer
type Option func(*Customer)

// WithRand sets the source for shelf choices and buy draws
func WithRand(rng *rand.Rand) Option {
	return func(c *Customer) { c.rng = rng }
}

// WithLogger sets the parent logger
func WithLogger(logger logr.Logger) Option {
	return func(c *Customer) { c.logger = logger }
}

// WithID sets the customer id instead of a generated one
func WithID(id string) Option {
	return func(c *Customer) { c.id = id }
}

// Customer is an autonomous shopper. Run drives it from Entering to Destroyed
type Customer struct {
	id     string
	cfg    Config
	env    Environment
	mover  Mover
	spawn  models.Position
	rng    *rand.Rand
	logger logr.Logger

	mu           sync.Mutex
	state        State
	money        float64
	cart         []*models.Product
	target       Shelf
	checkout     Checkout
	bornAt       time.Time
	queueWait    time.Duration
	scanTimedOut bool
	reason       Reason
	outcome      Outcome
}

// New creates a customer standing at spawn with money to spend
func New(cfg Config, env Environment, mover Mover, spawn models.Position, money float64, opts ...Option) (*Customer, error) {
	cfg, err := cfg.ValidateAndApplyDefaults()
	if err != nil {
		return nil, fmt.Errorf("customer config: %w", err)
	}
	if env == nil || mover == nil {
		return nil, errors.New("customer needs an environment and a mover")
	}
	if math.IsNaN(money) || money < 0 {
		return nil, fmt.Errorf("money cannot be negative, but got %v", money)
	}

	c := &Customer{
		cfg:    cfg,
		env:    env,
		mover:  mover,
		spawn:  spawn,
		money:  money,
		state:  Entering,
		logger: logr.Discard(),
		bornAt: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	c.logger = c.logger.WithName("customer").WithValues("customer", c.id)
	return c, nil
}

// ID returns the customer id
func (c *Customer) ID() string { return c.id }

// State returns the current lifecycle state
func (c *Customer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Money returns what the customer can still spend
func (c *Customer) Money() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.money
}

// Run steps the customer until it is destroyed and returns its outcome.
// Cancelling ctx ends the current wait and sends the customer straight to cleanup
func (c *Customer) Run(ctx context.Context) Outcome {
	for !c.Step(ctx).Terminal() {
	}
	return c.Outcome()
}

// Step runs the current state's action and moves to the state it leads to
func (c *Customer) Step(ctx context.Context) State {
	current := c.State()

	var next State
	switch current {
	case Entering:
		next = c.enter(ctx)
	case Shopping:
		next = c.shop(ctx)
	case Queueing:
		next = c.queue(ctx)
	case AtCheckout:
		next = c.atCheckout(ctx)
	case Leaving:
		next = c.leave(ctx)
	case Destroyed:
		return current
	default:
		next = Leaving
	}

	if !current.CanTransition(next) {
		c.logger.Error(fmt.Errorf("illegal transition %s -> %s", current, next), "Forcing customer out")
		next = Leaving
		if current == Leaving {
			next = Destroyed
		}
	}

	c.mu.Lock()
	c.state = next
	c.mu.Unlock()
	c.logger.V(logging.DEBUG).Info("State changed", "from", current, "to", next)
	return next
}

// Outcome returns the result of the visit. It is final once the customer is destroyed
func (c *Customer) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// Snapshot returns a copy of the customer's state
func (c *Customer) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		ID:            c.id,
		State:         c.state,
		Money:         c.money,
		Cart:          make([]models.ProductView, 0, len(c.cart)),
		QueuePosition: -1,
	}
	for _, p := range c.cart {
		s.Cart = append(s.Cart, p.View())
	}
	if c.target != nil {
		pos := c.target.Position()
		s.Target = &pos
	}
	co := c.checkout
	c.mu.Unlock()

	if s.State == Queueing && co != nil {
		if pos, ok := co.QueuePosition(c.id); ok {
			s.QueuePosition = pos
		}
	}
	return s
}

func (c *Customer) enter(ctx context.Context) State {
	if !c.env.IsOpen() {
		c.logger.V(logging.VERBOSE).Info("Shop is closed")
		return c.exit(ReasonShopClosed)
	}
	point, ok := c.env.InteriorPoint()
	if !ok {
		return Shopping
	}
	if err := c.moveTo(ctx, point); err != nil {
		return c.exitOnError(err, ReasonMoveFailed, "Could not walk in")
	}
	return Shopping
}

func (c *Customer) shop(ctx context.Context) State {
	deadline := time.Now().Add(c.cfg.ShoppingDuration)

	for c.cartLen() < c.cfg.MaxProducts && time.Now().Before(deadline) && c.env.IsOpen() {
		shelf, ok := c.env.FindShelf()
		if !ok {
			c.logger.V(logging.VERBOSE).Info("No shelf found")
			break
		}

		c.setTarget(shelf)
		err := c.moveTo(ctx, shelf.Position())
		if err == nil {
			c.trySelect(shelf)
			// At least one poll per shelf visit, even with instant moves
			err = sleep(ctx, max(c.cfg.BrowseDelay, c.cfg.PollInterval))
		}
		c.setTarget(nil)
		if err != nil {
			return c.exitOnError(err, ReasonMoveFailed, "Could not reach shelf")
		}
	}

	if c.cartLen() == 0 {
		return c.exit(ReasonEmptyCart)
	}
	return Queueing
}

// trySelect takes the product on shelf when it is affordable, the cart has room and the buy
// draw succeeds. It reports whether a product was taken
func (c *Customer) trySelect(shelf Shelf) bool {
	if shelf.IsEmpty() {
		return false
	}
	c.mu.Lock()
	full := len(c.cart) >= c.cfg.MaxProducts
	money := c.money
	c.mu.Unlock()
	if full {
		return false
	}
	if p := shelf.Peek(); p == nil || p.Price > money {
		return false
	}
	if c.rng.Float64() > c.cfg.BuyProbability {
		return false
	}

	p, ok := shelf.TakeIf(func(p *models.Product) bool { return p.Price <= money })
	if !ok {
		return false
	}
	c.mu.Lock()
	c.cart = append(c.cart, p)
	c.money -= p.Price
	c.mu.Unlock()

	metrics.RecordProductTaken()
	c.logger.V(logging.DEBUG).Info("Took product", "product", p.Name, "price", p.Price)
	return true
}

func (c *Customer) queue(ctx context.Context) State {
	co, ok := c.env.FindCheckout()
	if !ok {
		c.logger.Info("No checkout counter found")
		return c.exit(ReasonNoCheckout)
	}

	pos, err := co.Arrive(c.id)
	if err != nil {
		c.logger.Error(err, "Checkout refused arrival")
		return c.exit(ReasonCheckoutFailed)
	}
	c.mu.Lock()
	c.checkout = co
	c.mu.Unlock()
	c.logger.V(logging.VERBOSE).Info("Joined checkout", "position", pos)

	start := time.Now()
	err = c.waitFor(ctx, c.cfg.QueueTimeout, func() bool { return co.IsCurrentCustomer(c.id) })
	c.mu.Lock()
	c.queueWait = time.Since(start)
	c.mu.Unlock()
	if err != nil {
		if errors.Is(err, errWaitTimeout) {
			co.Leave(c.id)
			c.logger.Info("Gave up waiting in line", "waited", c.cfg.QueueTimeout)
			return c.exit(ReasonQueueTimeout)
		}
		return c.exitOnError(err, ReasonCancelled, "")
	}
	return AtCheckout
}

func (c *Customer) atCheckout(ctx context.Context) State {
	c.mu.Lock()
	co := c.checkout
	c.mu.Unlock()

	for i := 0; c.cartLen() > 0; i++ {
		if i > 0 {
			if err := sleep(ctx, c.cfg.PlacementDelay); err != nil {
				return c.exitOnError(err, ReasonCancelled, "")
			}
		}
		c.mu.Lock()
		p := c.cart[0]
		c.mu.Unlock()
		if err := co.PlaceProduct(p, c.id); err != nil {
			c.logger.Error(err, "Could not place product", "product", p.Name)
			co.Leave(c.id)
			return c.exit(ReasonCheckoutFailed)
		}
		c.mu.Lock()
		c.cart = c.cart[1:]
		c.mu.Unlock()
	}

	if err := c.waitFor(ctx, c.cfg.ScanTimeout, co.AllScanned); err != nil {
		if !errors.Is(err, errWaitTimeout) {
			return c.exitOnError(err, ReasonCancelled, "")
		}
		c.mu.Lock()
		c.scanTimedOut = true
		c.mu.Unlock()
		c.logger.V(logging.VERBOSE).Info("Scan took too long, paying anyway")
	}

	satisfaction := c.satisfaction()
	receipt, err := co.RequestPayment(c.id, satisfaction)
	if err != nil {
		c.logger.Error(err, "Payment failed")
		co.Leave(c.id)
		return c.exit(ReasonPaymentFailed)
	}
	if err := c.waitFor(ctx, c.cfg.PaymentTimeout, func() bool { return co.IsCleared(c.id) }); err != nil {
		if errors.Is(err, errWaitTimeout) {
			c.logger.Info("Counter never released customer after payment")
			co.Leave(c.id)
			return c.exit(ReasonPaymentFailed)
		}
		return c.exitOnError(err, ReasonCancelled, "")
	}

	c.mu.Lock()
	c.outcome.Paid = true
	c.outcome.Items = len(receipt.Items)
	c.outcome.Spent = receipt.Amount
	c.outcome.Satisfaction = receipt.Satisfaction
	c.mu.Unlock()
	c.logger.V(logging.VERBOSE).Info("Paid", "amount", receipt.Amount, "items", len(receipt.Items))
	return c.exit(ReasonPaid)
}

func (c *Customer) leave(ctx context.Context) State {
	if ctx.Err() == nil {
		exit := c.spawn.Add(c.cfg.ExitOffset)
		if err := c.moveTo(ctx, exit); err != nil {
			c.logger.V(logging.VERBOSE).Info("Did not reach the exit", "reason", err.Error())
		}
	}
	c.cleanup()
	return Destroyed
}

// cleanup discards whatever is still in the cart and releases the counter
func (c *Customer) cleanup() {
	c.mu.Lock()
	cart := c.cart
	c.cart = nil
	co := c.checkout
	c.mu.Unlock()

	discarded := 0
	for _, p := range cart {
		if err := p.Transfer(models.HolderCart, models.HolderDiscarded); err != nil {
			c.logger.Error(err, "Cart product changed hands", "product", p.ID)
			continue
		}
		discarded++
	}
	if co != nil {
		co.Leave(c.id)
	}

	c.mu.Lock()
	if c.reason == ReasonNone {
		c.reason = ReasonCancelled
	}
	c.outcome.CustomerID = c.id
	c.outcome.Reason = c.reason
	c.outcome.Discarded = discarded
	c.outcome.Lifetime = time.Since(c.bornAt)
	reason := c.reason
	c.mu.Unlock()

	metrics.RecordCustomerFinished(string(reason))
	c.logger.V(logging.VERBOSE).Info("Left the shop", "reason", reason, "discarded", discarded)
}

// satisfaction starts at 1 and loses up to half for queueing and a fifth for a slow scan
func (c *Customer) satisfaction() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := 1.0
	if c.cfg.QueueTimeout > 0 {
		s -= 0.5 * float64(c.queueWait) / float64(c.cfg.QueueTimeout)
	}
	if c.scanTimedOut {
		s -= 0.2
	}
	return math.Min(1, math.Max(0, s))
}

// exit records why the customer leaves and returns Leaving. The first reason wins
func (c *Customer) exit(reason Reason) State {
	c.mu.Lock()
	if c.reason == ReasonNone {
		c.reason = reason
	}
	c.mu.Unlock()
	return Leaving
}

// exitOnError leaves with ReasonCancelled when ctx ended the wait and with reason otherwise
func (c *Customer) exitOnError(err error, reason Reason, msg string) State {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return c.exit(ReasonCancelled)
	}
	if msg != "" {
		c.logger.Info(msg, "reason", err.Error())
	}
	return c.exit(reason)
}

func (c *Customer) moveTo(ctx context.Context, target models.Position) error {
	if !c.mover.RequestMove(target) {
		return errMoveRejected
	}
	return c.waitFor(ctx, c.cfg.MoveTimeout, c.mover.HasArrived)
}

// waitFor polls cond every PollInterval until it holds, timeout passes or ctx is done
func (c *Customer) waitFor(ctx context.Context, timeout time.Duration, cond func() bool) error {
	if cond() {
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if cond() {
				return nil
			}
			return errWaitTimeout
		case <-ticker.C:
			if cond() {
				return nil
			}
		}
	}
}

func (c *Customer) cartLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cart)
}

func (c *Customer) setTarget(s Shelf) {
	c.mu.Lock()
	c.target = s
	c.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
