package sim

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/kieracarman/shopsim/internal/customer"
	"github.com/kieracarman/shopsim/internal/economy"
	"github.com/kieracarman/shopsim/internal/shop"
)

// Results holds the results of a simulation run
type Results struct {
	Customers   int
	Outcomes    map[customer.Reason]int
	Paid        int
	Revenue     float64
	ItemsSold   int
	Discarded   int
	MinLifetime time.Duration
	MaxLifetime time.Duration
	AvgLifetime time.Duration
	Duration    time.Duration
	Restocked   int
	Scanned     int
	Ledger      economy.Totals
	Stock       shop.Stock
	Interrupted bool
}

func collect(outcomes <-chan customer.Outcome) *Results {
	r := &Results{Outcomes: make(map[customer.Reason]int)}
	var total time.Duration
	for o := range outcomes {
		r.Customers++
		r.Outcomes[o.Reason]++
		if o.Paid {
			r.Paid++
		}
		r.Revenue += o.Spent
		r.ItemsSold += o.Items
		r.Discarded += o.Discarded

		if r.Customers == 1 || o.Lifetime < r.MinLifetime {
			r.MinLifetime = o.Lifetime
		}
		if o.Lifetime > r.MaxLifetime {
			r.MaxLifetime = o.Lifetime
		}
		total += o.Lifetime
	}
	if r.Customers > 0 {
		r.AvgLifetime = total / time.Duration(r.Customers)
	}
	return r
}

// Print writes a human readable summary to w
func (r *Results) Print(w io.Writer) {
	fmt.Fprintf(w, "\nSimulation Results:\n")
	if r.Interrupted {
		fmt.Fprintf(w, "- Interrupted before every customer finished\n")
	}
	fmt.Fprintf(w, "- Customers: %d (%d paid)\n", r.Customers, r.Paid)
	if r.Customers > 0 {
		fmt.Fprintf(w, "- Conversion: %.2f%%\n", 100*float64(r.Paid)/float64(r.Customers))
	}
	fmt.Fprintf(w, "- Revenue: $%.2f from %d items\n", r.Revenue, r.ItemsSold)
	fmt.Fprintf(w, "- Discarded items: %d\n", r.Discarded)
	fmt.Fprintf(w, "- Lifetime min/avg/max: %v / %v / %v\n",
		r.MinLifetime.Round(time.Millisecond), r.AvgLifetime.Round(time.Millisecond), r.MaxLifetime.Round(time.Millisecond))
	fmt.Fprintf(w, "- Duration: %v\n", r.Duration.Round(time.Millisecond))

	reasons := make([]string, 0, len(r.Outcomes))
	for reason := range r.Outcomes {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)
	fmt.Fprintf(w, "\nOutcomes:\n")
	for _, reason := range reasons {
		fmt.Fprintf(w, "- %s: %d\n", reason, r.Outcomes[customer.Reason(reason)])
	}

	fmt.Fprintf(w, "\nLedger:\n")
	fmt.Fprintf(w, "- Sales: %d, revenue $%.2f\n", r.Ledger.Sales, r.Ledger.Revenue)
	fmt.Fprintf(w, "- Mean satisfaction: %.2f, reputation %.2f\n", r.Ledger.MeanSatisfaction, r.Ledger.Reputation)
	fmt.Fprintf(w, "- Published: %d, dropped: %d\n", r.Ledger.Published, r.Ledger.Dropped)

	fmt.Fprintf(w, "\nShop:\n")
	fmt.Fprintf(w, "- Shelves stocked/empty: %d/%d, restocked %d, scanned %d\n",
		r.Stock.Stocked, r.Stock.Empty, r.Restocked, r.Scanned)
}
