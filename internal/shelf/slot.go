package shelf

import (
	"sync"

	"github.com/kieracarman/shopsim/internal/models"
)

// Slot is a single-capacity shelf position. All methods are safe for concurrent use
type Slot struct {
	id       string
	position models.Position
	accepts  models.Category

	mu      sync.Mutex
	product *models.Product
}

// NewSlot creates an empty slot at pos that accepts products of the given category.
// Pass models.CategoryAny for an unrestricted slot
func NewSlot(id string, pos models.Position, accepts models.Category) *Slot {
	return &Slot{
		id:       id,
		position: pos,
		accepts:  accepts,
	}
}

// ID returns the slot identifier
func (s *Slot) ID() string { return s.id }

// Position returns where customers stand to reach the slot
func (s *Slot) Position() models.Position { return s.position }

// Accepts returns the category restriction of the slot
func (s *Slot) Accepts() models.Category { return s.accepts }

// IsEmpty reports whether the slot holds no product at this instant
func (s *Slot) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.product == nil
}

// Peek returns the held product without taking it, or nil
func (s *Slot) Peek() *models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.product
}

// TryTake removes the held product and hands it to a cart.
// Among concurrent callers at most one receives the product
func (s *Slot) TryTake() (*models.Product, bool) {
	return s.TakeIf(nil)
}

// TakeIf removes the held product only when pred accepts it. A nil pred accepts anything.
// pred runs under the slot lock and must not call back into the slot
func (s *Slot) TakeIf(pred func(*models.Product) bool) (*models.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.product
	if p == nil {
		return nil, false
	}
	if pred != nil && !pred(p) {
		return nil, false
	}
	if err := p.Transfer(models.HolderShelf, models.HolderCart); err != nil {
		return nil, false
	}
	s.product = nil
	return p, true
}

// TryPlace puts p into the slot. It fails, leaving p untouched, when the slot is occupied,
// the category does not match, or p is already owned by something else
func (s *Slot) TryPlace(p *models.Product) bool {
	if p == nil || !s.accepts.Accepts(p.Category) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.product != nil {
		return false
	}
	if err := p.Transfer(models.HolderNone, models.HolderShelf); err != nil {
		return false
	}
	s.product = p
	return true
}
