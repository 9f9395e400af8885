package main

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kieracarman/shopsim/internal/config"
)

// Options holds the command-line flags. Flags that were set override the config file
type Options struct {
	ConfigFile       string
	Customers        int
	SpawnRate        float64
	Seed             int64
	LogLevel         string
	MetricsAddr      string
	AMQPURL          string
	AMQPQueue        string
	SnapshotInterval time.Duration
	PrintConfig      bool

	fs *pflag.FlagSet
}

// NewOptions returns options with the flag defaults
func NewOptions() *Options {
	def := config.Default()
	return &Options{
		Customers: def.Simulation.Customers,
		SpawnRate: def.Simulation.SpawnRate,
		LogLevel:  def.Logging.Level,
		AMQPQueue: def.AMQP.Queue,
	}
}

// AddFlags binds the options to fs
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	if fs == nil {
		fs = pflag.CommandLine
	}
	o.fs = fs

	fs.StringVar(&o.ConfigFile, "config", o.ConfigFile,
		"Path to a YAML config file. Defaults are used when empty.")
	fs.IntVar(&o.Customers, "customers", o.Customers,
		"Number of customers to spawn.")
	fs.Float64Var(&o.SpawnRate, "spawn-rate", o.SpawnRate,
		"Customers spawned per second. Zero or less spawns everyone at once.")
	fs.Int64Var(&o.Seed, "seed", o.Seed,
		"Random seed. Zero seeds from the clock.")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel,
		"Log verbosity: info, verbose, debug or trace.")
	fs.StringVar(&o.MetricsAddr, "metrics-addr", o.MetricsAddr,
		"Address to serve Prometheus metrics on, e.g. :9090. Disabled when empty.")
	fs.StringVar(&o.AMQPURL, "amqp-url", o.AMQPURL,
		"RabbitMQ URL to publish settlements to. Disabled when empty.")
	fs.StringVar(&o.AMQPQueue, "amqp-queue", o.AMQPQueue,
		"RabbitMQ queue for settlement batches.")
	fs.DurationVar(&o.SnapshotInterval, "snapshot-interval", o.SnapshotInterval,
		"Log live customer snapshots at this interval. Disabled when zero.")
	fs.BoolVar(&o.PrintConfig, "print-config", o.PrintConfig,
		"Print the effective configuration as YAML and exit.")
}

// Config loads the config file, applies the flags that were set and validates the result
func (o *Options) Config() (*config.Config, error) {
	cfg := config.Default()
	if o.ConfigFile != "" {
		var err error
		if cfg, err = config.Load(o.ConfigFile); err != nil {
			return nil, err
		}
	}

	if o.changed("customers") {
		cfg.Simulation.Customers = o.Customers
	}
	if o.changed("spawn-rate") {
		cfg.Simulation.SpawnRate = o.SpawnRate
	}
	if o.changed("seed") {
		cfg.Simulation.Seed = o.Seed
	}
	if o.changed("log-level") {
		cfg.Logging.Level = o.LogLevel
	}
	if o.changed("metrics-addr") {
		cfg.Metrics.Addr = o.MetricsAddr
	}
	if o.changed("amqp-url") {
		cfg.AMQP.URL = o.AMQPURL
	}
	if o.changed("amqp-queue") {
		cfg.AMQP.Queue = o.AMQPQueue
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if o.SnapshotInterval < 0 {
		return nil, fmt.Errorf("invalid value %v for flag %q: cannot be negative", o.SnapshotInterval, "snapshot-interval")
	}
	return cfg, nil
}

func (o *Options) changed(name string) bool {
	if o.fs == nil {
		return false
	}
	f := o.fs.Lookup(name)
	return f != nil && f.Changed
}
