package cinema

import "fmt"

// Booking and payment statuses, as stored in the enum columns.
const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"

	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
)

// Event drives a booking from one state to the next.
type Event string

const (
	EventPaymentSucceeded Event = "payment_succeeded"
	EventPaymentFailed    Event = "payment_failed"
	EventCancel           Event = "cancel"
)

// State is a (booking_status, payment_status) pair.
type State struct {
	Booking string
	Payment string
}

func (s State) String() string {
	return s.Booking + "/" + s.Payment
}

// Active reports whether the booking holds its seats. Seats are held from
// reservation until cancellation.
func (s State) Active() bool {
	return s.Booking != BookingCancelled
}

// Transition applies ev to from. release is true when the move gives the
// booking's seats back to the showtime.
//
//	pending/pending     payment_succeeded  confirmed/completed
//	pending/pending     payment_failed     cancelled/failed     release
//	pending/pending     cancel             cancelled/pending    release
//	confirmed/completed cancel             cancelled/completed  release
func Transition(from State, ev Event) (to State, release bool, err error) {
	switch {
	case from == State{BookingPending, PaymentPending}:
		switch ev {
		case EventPaymentSucceeded:
			return State{BookingConfirmed, PaymentCompleted}, false, nil
		case EventPaymentFailed:
			return State{BookingCancelled, PaymentFailed}, true, nil
		case EventCancel:
			return State{BookingCancelled, PaymentPending}, true, nil
		}
	case from == State{BookingConfirmed, PaymentCompleted}:
		if ev == EventCancel {
			return State{BookingCancelled, PaymentCompleted}, true, nil
		}
	}
	return from, false, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
}
