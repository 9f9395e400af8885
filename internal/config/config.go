package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/kieracarman/shopsim/internal/catalog"
	"github.com/kieracarman/shopsim/internal/checkout"
	"github.com/kieracarman/shopsim/internal/customer"
	"github.com/kieracarman/shopsim/internal/economy"
	"github.com/kieracarman/shopsim/internal/logging"
	"github.com/kieracarman/shopsim/internal/shop"
	"github.com/kieracarman/shopsim/internal/sim"
)

const defaultAMQPQueue = "shopsim.settlements"

// Config is the shape of a shopsim YAML file
type Config struct {
	Simulation sim.Config             `yaml:"simulation"`
	Customer   customer.Config        `yaml:"customer"`
	Shop       shop.Layout            `yaml:"shop"`
	Catalog    []catalog.Item         `yaml:"catalog"`
	Cashier    checkout.CashierConfig `yaml:"cashier"`
	Ledger     economy.LedgerConfig   `yaml:"ledger"`
	Logging    Logging                `yaml:"logging"`
	Metrics    Metrics                `yaml:"metrics"`
	AMQP       AMQP                   `yaml:"amqp"`
}

// Logging selects the log verbosity by name
type Logging struct {
	Level string `yaml:"level"`
}

// Metrics configures the Prometheus endpoint. An empty address disables it
type Metrics struct {
	Addr string `yaml:"addr"`
}

// AMQP configures settlement publishing. An empty URL disables it
type AMQP struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Simulation: sim.DefaultConfig(),
		Customer:   customer.DefaultConfig(),
		Shop:       shop.DefaultLayout(),
		Catalog:    catalog.Default(),
		Logging:    Logging{Level: "info"},
		AMQP:       AMQP{Queue: defaultAMQPQueue},
	}
}

// Load reads and parses the YAML file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults, so a file only needs the values it changes.
// Unknown keys are rejected
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section and applies component defaults. All problems are reported together
func (c *Config) Validate() error {
	var errs error
	var err error

	if c.Simulation, err = c.Simulation.ValidateAndApplyDefaults(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("simulation: %w", err))
	}
	if c.Customer, err = c.Customer.ValidateAndApplyDefaults(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("customer: %w", err))
	}
	if c.Shop, err = c.Shop.ValidateAndApplyDefaults(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("shop: %w", err))
	}
	if c.Cashier, err = c.Cashier.ValidateAndApplyDefaults(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("cashier: %w", err))
	}
	if c.Ledger, err = c.Ledger.ValidateAndApplyDefaults(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("ledger: %w", err))
	}
	if _, err = catalog.New(c.Catalog); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("catalog: %w", err))
	}
	if _, err = logging.ParseLevel(c.Logging.Level); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("logging: %w", err))
	}
	if c.AMQP.URL != "" && c.AMQP.Queue == "" {
		c.AMQP.Queue = defaultAMQPQueue
	}
	return errs
}

// Components returns the parts a simulation assembles. The settlement sink is left to the caller
func (c *Config) Components() sim.Components {
	return sim.Components{
		Customer: c.Customer,
		Layout:   c.Shop,
		Catalog:  c.Catalog,
		Cashier:  c.Cashier,
		Ledger:   c.Ledger,
	}
}

// Marshal serializes the configuration to YAML
func Marshal(c *Config) ([]byte, error) {
	return yaml.Marshal(c)
}
