package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const subsystem = "shopsim"

var (
	customersSpawned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "customers_spawned_total",
			Help:      "Count of customers that entered the shop.",
		},
	)
	customersFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "customers_finished_total",
			Help:      "Count of customers that left the shop, by exit reason.",
		},
		[]string{"reason"},
	)
	productsTaken = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "products_taken_total",
			Help:      "Count of products taken off shelves into carts.",
		},
	)
	queueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "checkout_queue_length",
			Help:      "Number of customers waiting in the checkout queue.",
		},
	)
	checkoutAbandonments = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "checkout_abandonments_total",
			Help:      "Count of customers released from the counter without paying.",
		},
	)
	settlements = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "settlements_total",
			Help:      "Count of purchases settled with the ledger.",
		},
	)
	settlementsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "settlements_dropped_total",
			Help:      "Count of settlements dropped because the ledger buffer was full.",
		},
	)
	revenue = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "revenue_total",
			Help:      "Sum of settled purchase amounts.",
		},
	)
	restocked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "products_restocked_total",
			Help:      "Count of products placed on shelves by the restocker.",
		},
	)
)

var registerMetrics sync.Once

// Register all metrics with reg. Only the first call has an effect.
func Register(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		reg.MustRegister(
			customersSpawned,
			customersFinished,
			productsTaken,
			queueLength,
			checkoutAbandonments,
			settlements,
			settlementsDropped,
			revenue,
			restocked,
		)
	})
}

// RecordCustomerSpawned counts a customer entering the shop.
func RecordCustomerSpawned() {
	customersSpawned.Inc()
}

// RecordCustomerFinished counts a customer leaving with the given reason.
func RecordCustomerFinished(reason string) {
	customersFinished.WithLabelValues(reason).Inc()
}

// RecordProductTaken counts a product moved from a shelf into a cart.
func RecordProductTaken() {
	productsTaken.Inc()
}

// SetQueueLength reports the current checkout queue length.
func SetQueueLength(n int) {
	queueLength.Set(float64(n))
}

// RecordCheckoutAbandonment counts a customer released from the counter without paying.
func RecordCheckoutAbandonment() {
	checkoutAbandonments.Inc()
}

// RecordSettlement counts a settled purchase and adds its amount to revenue.
func RecordSettlement(amount float64) {
	settlements.Inc()
	revenue.Add(amount)
}

// RecordSettlementDropped counts a settlement lost to a full ledger buffer.
func RecordSettlementDropped() {
	settlementsDropped.Inc()
}

// RecordRestocked counts products put back on shelves.
func RecordRestocked(n int) {
	restocked.Add(float64(n))
}
