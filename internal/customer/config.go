package customer

import (
	"fmt"
	"math"
	"time"

	"github.com/kieracarman/shopsim/internal/models"
)

const (
	defaultMaxProducts      = 5
	defaultBuyProbability   = 0.6
	defaultShoppingDuration = 20 * time.Second
	defaultBrowseDelay      = 250 * time.Millisecond
	defaultQueueTimeout     = 30 * time.Second
	defaultScanTimeout      = 5 * time.Second
	defaultPaymentTimeout   = 5 * time.Second
	defaultPlacementDelay   = 150 * time.Millisecond
	defaultPollInterval     = 50 * time.Millisecond
	defaultMoveTimeout      = 15 * time.Second
)

// Config holds the behaviour of every customer
type Config struct {
	MaxProducts int `yaml:"maxProducts"`
	// BuyProbability is the chance of taking an affordable product. Zero is a valid value, so
	// it is not defaulted; DefaultConfig sets it
	BuyProbability   float64       `yaml:"buyProbability"`
	ShoppingDuration time.Duration `yaml:"shoppingDuration"`
	// BrowseDelay is the pause after each shelf visit
	BrowseDelay    time.Duration `yaml:"browseDelay"`
	QueueTimeout   time.Duration `yaml:"queueTimeout"`
	ScanTimeout    time.Duration `yaml:"scanTimeout"`
	PaymentTimeout time.Duration `yaml:"paymentTimeout"`
	PlacementDelay time.Duration `yaml:"placementDelay"`
	PollInterval   time.Duration `yaml:"pollInterval"`
	MoveTimeout    time.Duration `yaml:"moveTimeout"`
	// ExitOffset is added to the spawn position to find where the customer walks out
	ExitOffset models.Position `yaml:"exitOffset"`
}

// DefaultConfig returns the configuration used when none is given
func DefaultConfig() Config {
	return Config{
		MaxProducts:      defaultMaxProducts,
		BuyProbability:   defaultBuyProbability,
		ShoppingDuration: defaultShoppingDuration,
		BrowseDelay:      defaultBrowseDelay,
		QueueTimeout:     defaultQueueTimeout,
		ScanTimeout:      defaultScanTimeout,
		PaymentTimeout:   defaultPaymentTimeout,
		PlacementDelay:   defaultPlacementDelay,
		PollInterval:     defaultPollInterval,
		MoveTimeout:      defaultMoveTimeout,
		ExitOffset:       models.Position{X: 0, Y: -3},
	}
}

// ValidateAndApplyDefaults returns a copy with zero fields defaulted, or an error for invalid values.
// PlacementDelay and BrowseDelay may be zero
func (c Config) ValidateAndApplyDefaults() (Config, error) {
	if c.MaxProducts < 0 {
		return c, fmt.Errorf("maxProducts cannot be negative, but got %d", c.MaxProducts)
	}
	if math.IsNaN(c.BuyProbability) || c.BuyProbability < 0 || c.BuyProbability > 1 {
		return c, fmt.Errorf("buyProbability must be in [0, 1], but got %v", c.BuyProbability)
	}
	for name, d := range map[string]time.Duration{
		"shoppingDuration": c.ShoppingDuration,
		"browseDelay":      c.BrowseDelay,
		"queueTimeout":     c.QueueTimeout,
		"scanTimeout":      c.ScanTimeout,
		"paymentTimeout":   c.PaymentTimeout,
		"placementDelay":   c.PlacementDelay,
		"pollInterval":     c.PollInterval,
		"moveTimeout":      c.MoveTimeout,
	} {
		if d < 0 {
			return c, fmt.Errorf("%s cannot be negative, but got %v", name, d)
		}
	}
	if !c.ExitOffset.Finite() {
		return c, fmt.Errorf("exitOffset must be finite, but got %+v", c.ExitOffset)
	}

	if c.MaxProducts == 0 {
		c.MaxProducts = defaultMaxProducts
	}
	if c.ShoppingDuration == 0 {
		c.ShoppingDuration = defaultShoppingDuration
	}
	if c.QueueTimeout == 0 {
		c.QueueTimeout = defaultQueueTimeout
	}
	if c.ScanTimeout == 0 {
		c.ScanTimeout = defaultScanTimeout
	}
	if c.PaymentTimeout == 0 {
		c.PaymentTimeout = defaultPaymentTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.MoveTimeout == 0 {
		c.MoveTimeout = defaultMoveTimeout
	}
	return c, nil
}
