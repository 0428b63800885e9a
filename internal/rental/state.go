package rental

import (
	"fmt"
	"time"
)

const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
	BookingCompleted = "completed"

	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
	PaymentRefunded  = "refunded"
)

type Event string

const (
	EventPaymentSucceeded Event = "payment_succeeded"
	EventPaymentFailed    Event = "payment_failed"
	EventCancel           Event = "cancel"
	EventComplete         Event = "complete"
)

type State struct {
	Booking string
	Payment string
}

func (s State) String() string {
	return s.Booking + "/" + s.Payment
}

// Blocks reports whether a booking in this state reserves its dates.
func (s State) Blocks() bool {
	return s.Booking == BookingPending || s.Booking == BookingConfirmed
}

// Transition applies ev to from.
//
//	pending/pending     payment_succeeded  confirmed/completed
//	pending/pending     payment_failed     cancelled/failed
//	pending/any         cancel             cancelled/unchanged
//	confirmed/completed cancel             cancelled/refunded
//	confirmed/completed complete           completed/completed
//
// Whether a stay may complete yet depends on its dates; see CanComplete.
func Transition(from State, ev Event) (State, error) {
	switch from.Booking {
	case BookingPending:
		if ev == EventCancel {
			return State{BookingCancelled, from.Payment}, nil
		}
		if from.Payment != PaymentPending {
			break
		}
		switch ev {
		case EventPaymentSucceeded:
			return State{BookingConfirmed, PaymentCompleted}, nil
		case EventPaymentFailed:
			return State{BookingCancelled, PaymentFailed}, nil
		}
	case BookingConfirmed:
		if from.Payment != PaymentCompleted {
			break
		}
		switch ev {
		case EventCancel:
			return State{BookingCancelled, PaymentRefunded}, nil
		case EventComplete:
			return State{BookingCompleted, PaymentCompleted}, nil
		}
	}
	return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
}

// CanComplete reports whether a stay ending on checkOut is over on day today.
func CanComplete(checkOut, today time.Time) bool {
	return !dateOf(today).Before(dateOf(checkOut))
}

// dateOf truncates t to its calendar date in UTC.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func nights(in, out time.Time) int {
	return int(dateOf(out).Sub(dateOf(in)).Hours() / 24)
}
