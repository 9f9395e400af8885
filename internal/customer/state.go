package customer

//go:generate stringer -type=State

// State is a step of the customer lifecycle
type State int

const (
	Entering State = iota
	Shopping
	Queueing
	AtCheckout
	Leaving
	Destroyed
)

// transitions lists the states each state may move to
var transitions = map[State][]State{
	Entering:   {Shopping, Leaving},
	Shopping:   {Queueing, Leaving},
	Queueing:   {AtCheckout, Leaving},
	AtCheckout: {Leaving},
	Leaving:    {Destroyed},
}

// Valid reports whether s is one of the defined states
func (s State) Valid() bool {
	return s >= Entering && s <= Destroyed
}

// Terminal reports whether no further step can run
func (s State) Terminal() bool {
	return s == Destroyed
}

// CanTransition reports whether the lifecycle allows moving from s to next
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Reason says why a customer left the shop
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonPaid           Reason = "paid"
	ReasonEmptyCart      Reason = "empty_cart"
	ReasonShopClosed     Reason = "shop_closed"
	ReasonNoCheckout     Reason = "no_checkout"
	ReasonQueueTimeout   Reason = "queue_timeout"
	ReasonCheckoutFailed Reason = "checkout_failed"
	ReasonPaymentFailed  Reason = "payment_failed"
	ReasonMoveFailed     Reason = "move_failed"
	ReasonCancelled      Reason = "cancelled"
)
