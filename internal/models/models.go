package models

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrHolderMismatch is returned when a product is transferred from a holder that does not own it
var ErrHolderMismatch = errors.New("product is not owned by the expected holder")

// Category groups products so shelf slots can restrict what they accept
type Category string

// CategoryAny is accepted by every slot and matches every category
const CategoryAny Category = ""

// Accepts reports whether a slot restricted to c can hold a product of category other
func (c Category) Accepts(other Category) bool {
	return c == CategoryAny || c == other
}

// Holder identifies which container currently owns a product
type Holder int32

const (
	HolderNone Holder = iota
	HolderShelf
	HolderCart
	HolderCounter
	HolderSold
	HolderDiscarded
)

func (h Holder) String() string {
	switch h {
	case HolderNone:
		return "none"
	case HolderShelf:
		return "shelf"
	case HolderCart:
		return "cart"
	case HolderCounter:
		return "counter"
	case HolderSold:
		return "sold"
	case HolderDiscarded:
		return "discarded"
	default:
		return fmt.Sprintf("holder(%d)", int32(h))
	}
}

// Tracked reports whether a product in this holder still counts as live stock
func (h Holder) Tracked() bool {
	return h == HolderShelf || h == HolderCart || h == HolderCounter
}

// Product represents a sellable item in the shop
type Product struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category Category `json:"category,omitempty"`
	Price    float64  `json:"price"`

	holder    atomic.Int32
	purchased atomic.Bool
	scanned   atomic.Bool
}

// NewProduct creates a product that is not yet owned by anything
func NewProduct(name string, category Category, price float64) *Product {
	return &Product{
		ID:       uuid.NewString(),
		Name:     name,
		Category: category,
		Price:    price,
	}
}

// Holder returns the current owner of the product
func (p *Product) Holder() Holder {
	return Holder(p.holder.Load())
}

// Transfer moves ownership from one holder to another in a single atomic step
func (p *Product) Transfer(from, to Holder) error {
	if !p.holder.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("transfer %s from %s to %s, held by %s: %w", p.ID, from, to, p.Holder(), ErrHolderMismatch)
	}
	return nil
}

// Purchased reports whether the product has been paid for
func (p *Product) Purchased() bool {
	return p.purchased.Load()
}

// MarkPurchased flags the product as paid for
func (p *Product) MarkPurchased() {
	p.purchased.Store(true)
}

// Scanned reports whether the cashier has scanned the product
func (p *Product) Scanned() bool {
	return p.scanned.Load()
}

// SetScanned updates the scanned flag
func (p *Product) SetScanned(v bool) {
	p.scanned.Store(v)
}

// ProductView is a copy of a product's visible fields, safe to hand to observers
type ProductView struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Category  Category `json:"category,omitempty"`
	Price     float64  `json:"price"`
	Holder    string   `json:"holder"`
	Purchased bool     `json:"purchased"`
}

// View returns a snapshot of the product
func (p *Product) View() ProductView {
	return ProductView{
		ID:        p.ID,
		Name:      p.Name,
		Category:  p.Category,
		Price:     p.Price,
		Holder:    p.Holder().String(),
		Purchased: p.Purchased(),
	}
}

// Position is a point on the shop floor
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Add returns the sum of two positions
func (p Position) Add(o Position) Position {
	return Position{X: p.X + o.X, Y: p.Y + o.Y}
}

// Distance returns the straight-line distance between two positions
func (p Position) Distance(o Position) float64 {
	return math.Hypot(o.X-p.X, o.Y-p.Y)
}

// Finite reports whether both coordinates are real numbers
func (p Position) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// Settlement represents a completed purchase recorded by the economic authority
type Settlement struct {
	Sequence     int64     `json:"sequence"`
	Amount       float64   `json:"amount"`
	Satisfaction float64   `json:"satisfaction"`
	SettledAt    time.Time `json:"settledAt"`
}
