package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	"github.com/kieracarman/shopsim/internal/config"
	"github.com/kieracarman/shopsim/internal/economy"
	"github.com/kieracarman/shopsim/internal/logging"
	"github.com/kieracarman/shopsim/internal/metrics"
	"github.com/kieracarman/shopsim/internal/sim"
)

const shutdownTimeout = 5 * time.Second

func main() {
	opts := NewOptions()
	fs := pflag.NewFlagSet("shopsim", pflag.ExitOnError)
	opts.AddFlags(fs)
	_ = fs.Parse(os.Args[1:])

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "shopsim:", err)
		os.Exit(1)
	}
}

func run(opts *Options) (err error) {
	cfg, err := opts.Config()
	if err != nil {
		return err
	}
	if opts.PrintConfig {
		out, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(level)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			err = multierr.Append(err, srv.Shutdown(shutdownCtx))
		}()
	}

	comps := cfg.Components()
	if cfg.AMQP.URL != "" {
		conn, dialErr := economy.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Queue)
		if dialErr != nil {
			return dialErr
		}
		// Registered after the metrics server so the connection closes first
		defer func() { err = multierr.Append(err, conn.Close()) }()
		comps.Sink = conn.Sink
		logger.Info("Publishing settlements", "queue", cfg.AMQP.Queue)
	}

	s, err := sim.New(cfg.Simulation, comps, logger)
	if err != nil {
		return err
	}
	if opts.SnapshotInterval > 0 {
		watchCtx, cancelWatch := context.WithCancel(ctx)
		defer cancelWatch()
		go watch(watchCtx, s, opts.SnapshotInterval, logger)
	}

	logger.Info("Starting simulation",
		"customers", cfg.Simulation.Customers, "spawnRate", cfg.Simulation.SpawnRate, "seed", cfg.Simulation.Seed)
	results, runErr := s.Run(ctx)
	if results != nil {
		results.Print(os.Stdout)
	}
	return runErr
}

func serveMetrics(addr string, reg *prometheus.Registry, logger logr.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "Metrics server failed", "addr", addr)
		}
	}()
	logger.Info("Serving metrics", "addr", addr)
	return srv
}

// watch logs what every live customer is doing until ctx is done
func watch(ctx context.Context, s *sim.Simulation, interval time.Duration, logger logr.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counter := s.Counter()
			logger.Info("Shop status",
				"live", len(s.Snapshots()), "serving", counter.Current, "queue", len(counter.Queue))
			for _, snap := range s.Snapshots() {
				logger.V(logging.DEBUG).Info("Customer",
					"customer", snap.ID, "state", snap.State.String(), "cart", len(snap.Cart),
					"money", snap.Money, "queuePosition", snap.QueuePosition)
			}
		}
	}
}
