package customer

import (
	"github.com/kieracarman/shopsim/internal/checkout"
	"github.com/kieracarman/shopsim/internal/models"
)

// Mover moves the customer's body through the shop
type Mover interface {
	// RequestMove starts a move toward target and reports whether it was accepted
	RequestMove(target models.Position) bool
	HasArrived() bool
}

// Environment answers the questions a customer asks about the shop
type Environment interface {
	FindShelf() (Shelf, bool)
	FindCheckout() (Checkout, bool)
	IsOpen() bool
	// InteriorPoint is where entering customers walk first. false means the shop has no boundary
	InteriorPoint() (models.Position, bool)
}

// Shelf is the part of a shelf slot a customer uses
type Shelf interface {
	Position() models.Position
	IsEmpty() bool
	Peek() *models.Product
	TakeIf(pred func(*models.Product) bool) (*models.Product, bool)
}

// Checkout is the part of the checkout counter a customer uses
type Checkout interface {
	Arrive(customerID string) (int, error)
	IsCurrentCustomer(customerID string) bool
	QueuePosition(customerID string) (int, bool)
	PlaceProduct(p *models.Product, customerID string) error
	AllScanned() bool
	RequestPayment(customerID string, satisfaction float64) (checkout.Receipt, error)
	IsCleared(customerID string) bool
	Leave(customerID string) bool
}
