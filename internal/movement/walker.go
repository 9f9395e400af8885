package movement

import (
	"math"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/kieracarman/shopsim/internal/models"
)

// DefaultSpeed is the walking speed in floor units per second.
const DefaultSpeed = 4.0

// Walker moves an actor in a straight line at constant speed. Arrival is derived from the
// clock, so no goroutine runs per walker.
type Walker struct {
	clock clock.PassiveClock
	speed float64

	mu       sync.Mutex
	position models.Position
	from     models.Position
	target   models.Position
	started  time.Time
	duration time.Duration
	moving   bool
}

// NewWalker creates a walker standing at start. speed <= 0 means instant arrival.
func NewWalker(clk clock.PassiveClock, start models.Position, speed float64) *Walker {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Walker{
		clock:    clk,
		speed:    speed,
		position: start,
	}
}

// RequestMove starts moving toward target. It rejects targets that are not finite numbers.
// A new request replaces one still in progress.
func (w *Walker) RequestMove(target models.Position) bool {
	if !target.Finite() {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	w.settleLocked(now)
	w.from = w.position
	w.target = target
	w.started = now
	w.duration = travelTime(w.from.Distance(target), w.speed)
	w.moving = true
	return true
}

// travelTime saturates at the longest representable duration.
func travelTime(dist, speed float64) time.Duration {
	if speed <= 0 {
		return 0
	}
	ns := dist / speed * float64(time.Second)
	if ns >= math.MaxInt64 || math.IsInf(ns, 0) {
		return math.MaxInt64
	}
	return time.Duration(ns)
}

// HasArrived reports whether the last requested move has completed.
func (w *Walker) HasArrived() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.settleLocked(w.clock.Now())
	return !w.moving
}

// Position returns where the walker is now, interpolated along the current move.
func (w *Walker) Position() models.Position {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.settleLocked(w.clock.Now())
	return w.position
}

func (w *Walker) settleLocked(now time.Time) {
	if !w.moving {
		return
	}
	if now.Sub(w.started) >= w.duration {
		w.position = w.target
		w.moving = false
		return
	}
	frac := float64(now.Sub(w.started)) / float64(w.duration)
	w.position = models.Position{
		X: w.from.X + (w.target.X-w.from.X)*frac,
		Y: w.from.Y + (w.target.Y-w.from.Y)*frac,
	}
}
