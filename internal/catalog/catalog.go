package catalog

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/kieracarman/shopsim/internal/models"
)

// ErrNoItems is returned when a catalog has nothing to offer for a category
var ErrNoItems = errors.New("catalog has no items for category")

// Item is a product template the shop can stock
type Item struct {
	Name     string          `yaml:"name" json:"name"`
	Category models.Category `yaml:"category" json:"category,omitempty"`
	Price    float64         `yaml:"price" json:"price"`
}

// Catalog holds the product templates, indexed by category
type Catalog struct {
	items      []Item
	byCategory map[models.Category][]Item

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Catalog
type Option func(*Catalog)

// WithRand sets the source Pick draws from
func WithRand(rng *rand.Rand) Option {
	return func(c *Catalog) { c.rng = rng }
}

// New validates items and builds a catalog
func New(items []Item, opts ...Option) (*Catalog, error) {
	if len(items) == 0 {
		return nil, errors.New("catalog needs at least one item")
	}
	c := &Catalog{
		items:      make([]Item, 0, len(items)),
		byCategory: make(map[models.Category][]Item),
	}
	for i, item := range items {
		if item.Name == "" {
			return nil, fmt.Errorf("catalog item %d has no name", i)
		}
		if item.Price < 0 {
			return nil, fmt.Errorf("catalog item %q has negative price %v", item.Name, item.Price)
		}
		c.items = append(c.items, item)
		c.byCategory[item.Category] = append(c.byCategory[item.Category], item)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return c, nil
}

// Items returns a copy of every template
func (c *Catalog) Items() []Item {
	return append([]Item(nil), c.items...)
}

// Categories returns the distinct categories in sorted order
func (c *Catalog) Categories() []models.Category {
	cats := make([]models.Category, 0, len(c.byCategory))
	for cat := range c.byCategory {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	return cats
}

// Pick returns a random template of the given category. models.CategoryAny picks from everything
func (c *Catalog) Pick(category models.Category) (Item, error) {
	pool := c.items
	if category != models.CategoryAny {
		pool = c.byCategory[category]
	}
	if len(pool) == 0 {
		return Item{}, fmt.Errorf("%w %q", ErrNoItems, category)
	}
	c.mu.Lock()
	i := c.rng.Intn(len(pool))
	c.mu.Unlock()
	return pool[i], nil
}

// NewProduct creates a fresh product from a random template of the given category
func (c *Catalog) NewProduct(category models.Category) (*models.Product, error) {
	item, err := c.Pick(category)
	if err != nil {
		return nil, err
	}
	return models.NewProduct(item.Name, item.Category, item.Price), nil
}

// Default returns the coffee shop catalog used when no config file is given
func Default() []Item {
	return []Item{
		{Name: "Arabica Coffee Beans", Category: "coffee", Price: 14.50},
		{Name: "Robusta Coffee Beans", Category: "coffee", Price: 11.25},
		{Name: "Cold Brew Bottle", Category: "coffee", Price: 4.50},
		{Name: "Whole Milk", Category: "dairy", Price: 2.75},
		{Name: "Oat Milk", Category: "dairy", Price: 3.95},
		{Name: "Almond Milk", Category: "dairy", Price: 3.75},
		{Name: "Vanilla Syrup", Category: "syrup", Price: 6.50},
		{Name: "Caramel Syrup", Category: "syrup", Price: 6.50},
		{Name: "Croissant", Category: "bakery", Price: 3.25},
		{Name: "Blueberry Muffin", Category: "bakery", Price: 3.50},
	}
}
