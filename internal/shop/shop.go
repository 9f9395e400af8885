package shop

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kieracarman/shopsim/internal/checkout"
	"github.com/kieracarman/shopsim/internal/customer"
	"github.com/kieracarman/shopsim/internal/models"
	"github.com/kieracarman/shopsim/internal/shelf"
)

const (
	defaultAisles        = 4
	defaultSlotsPerAisle = 6
	defaultAisleSpacing  = 3.0
	defaultSlotSpacing   = 1.5
)

// Layout describes the shop floor
type Layout struct {
	Aisles        int     `yaml:"aisles"`
	SlotsPerAisle int     `yaml:"slotsPerAisle"`
	AisleSpacing  float64 `yaml:"aisleSpacing"`
	SlotSpacing   float64 `yaml:"slotSpacing"`
	// Categories restricts aisle i to Categories[i % len]. Empty means unrestricted aisles
	Categories []models.Category `yaml:"categories"`
	Entrance   models.Position   `yaml:"entrance"`
	// Interior is where entering customers walk first. Nil means the shop has no boundary
	Interior *models.Position `yaml:"interior"`
}

// DefaultLayout returns a small four-aisle shop
func DefaultLayout() Layout {
	return Layout{
		Aisles:        defaultAisles,
		SlotsPerAisle: defaultSlotsPerAisle,
		AisleSpacing:  defaultAisleSpacing,
		SlotSpacing:   defaultSlotSpacing,
		Categories:    []models.Category{"coffee", "dairy", "syrup", "bakery"},
		Entrance:      models.Position{X: 0, Y: -2},
		Interior:      &models.Position{X: 0, Y: 1},
	}
}

// ValidateAndApplyDefaults returns a copy with zero fields defaulted, or an error for invalid values.
// Zero aisles is valid and builds a shop without shelves
func (l Layout) ValidateAndApplyDefaults() (Layout, error) {
	if l.Aisles < 0 {
		return l, fmt.Errorf("aisles cannot be negative, but got %d", l.Aisles)
	}
	if l.SlotsPerAisle < 0 {
		return l, fmt.Errorf("slotsPerAisle cannot be negative, but got %d", l.SlotsPerAisle)
	}
	if l.AisleSpacing < 0 || l.SlotSpacing < 0 {
		return l, fmt.Errorf("spacing cannot be negative, but got aisle=%v slot=%v", l.AisleSpacing, l.SlotSpacing)
	}
	if l.AisleSpacing == 0 {
		l.AisleSpacing = defaultAisleSpacing
	}
	if l.SlotSpacing == 0 {
		l.SlotSpacing = defaultSlotSpacing
	}
	if !l.Entrance.Finite() || (l.Interior != nil && !l.Interior.Finite()) {
		return l, fmt.Errorf("entrance and interior must be finite positions")
	}
	return l, nil
}

// Shop is the environment customers query: its shelves, its counter and whether it is open.
// It implements customer.Environment
type Shop struct {
	slots    []*shelf.Slot
	counter  *checkout.Counter
	entrance models.Position
	interior *models.Position
	open     atomic.Bool

	rngMu sync.Mutex
	rng   *rand.Rand
}

var _ customer.Environment = &Shop{}

// Option configures a Shop
type Option func(*Shop)

// WithRand sets the source FindShelf draws from
func WithRand(rng *rand.Rand) Option {
	return func(s *Shop) { s.rng = rng }
}

// New builds the shelves described by layout. counter may be nil for a shop without checkout.
// The shop starts open
func New(layout Layout, counter *checkout.Counter, opts ...Option) (*Shop, error) {
	layout, err := layout.ValidateAndApplyDefaults()
	if err != nil {
		return nil, fmt.Errorf("shop layout: %w", err)
	}

	s := &Shop{
		counter:  counter,
		entrance: layout.Entrance,
		interior: layout.Interior,
		slots:    make([]*shelf.Slot, 0, layout.Aisles*layout.SlotsPerAisle),
	}
	for a := 0; a < layout.Aisles; a++ {
		accepts := models.CategoryAny
		if len(layout.Categories) > 0 {
			accepts = layout.Categories[a%len(layout.Categories)]
		}
		for i := 0; i < layout.SlotsPerAisle; i++ {
			pos := models.Position{
				X: float64(a) * layout.AisleSpacing,
				Y: 2 + float64(i)*layout.SlotSpacing,
			}
			s.slots = append(s.slots, shelf.NewSlot(fmt.Sprintf("aisle%d-slot%d", a, i), pos, accepts))
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	s.open.Store(true)
	return s, nil
}

// Slots returns every shelf slot
func (s *Shop) Slots() []*shelf.Slot {
	return append([]*shelf.Slot(nil), s.slots...)
}

// Counter returns the checkout counter, or nil
func (s *Shop) Counter() *checkout.Counter { return s.counter }

// Entrance returns where customers spawn
func (s *Shop) Entrance() models.Position { return s.entrance }

// Open lets new customers shop
func (s *Shop) Open() { s.open.Store(true) }

// Close stops customers from entering and cuts shopping short
func (s *Shop) Close() { s.open.Store(false) }

// IsOpen reports whether the shop is open
func (s *Shop) IsOpen() bool { return s.open.Load() }

// FindShelf returns a shelf chosen uniformly at random
func (s *Shop) FindShelf() (customer.Shelf, bool) {
	if len(s.slots) == 0 {
		return nil, false
	}
	s.rngMu.Lock()
	i := s.rng.Intn(len(s.slots))
	s.rngMu.Unlock()
	return s.slots[i], true
}

// FindCheckout returns the counter when the shop has one
func (s *Shop) FindCheckout() (customer.Checkout, bool) {
	if s.counter == nil {
		return nil, false
	}
	return s.counter, true
}

// InteriorPoint returns where entering customers walk to
func (s *Shop) InteriorPoint() (models.Position, bool) {
	if s.interior == nil {
		return models.Position{}, false
	}
	return *s.interior, true
}

// Stock counts the products held by the shelves
type Stock struct {
	Stocked int
	Empty   int
}

// Stock returns how many slots currently hold a product
func (s *Shop) Stock() Stock {
	var st Stock
	for _, slot := range s.slots {
		if slot.IsEmpty() {
			st.Empty++
		} else {
			st.Stocked++
		}
	}
	return st
}
