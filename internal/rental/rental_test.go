package rental

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marshallshelly/crudschemas/internal/cache"
	"github.com/marshallshelly/crudschemas/pkg/migration"
	"github.com/marshallshelly/crudschemas/pkg/registry"
	"github.com/marshallshelly/crudschemas/pkg/schema"
)

func tables(t *testing.T) []*schema.TableMetadata {
	t.Helper()
	r := registry.NewRegistry()
	require.NoError(t, r.RegisterAll(Models()...))
	ordered, err := r.Ordered(Schema)
	require.NoError(t, err)
	return ordered
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestTransition(t *testing.T) {
	pending := State{BookingPending, PaymentPending}
	confirmed := State{BookingConfirmed, PaymentCompleted}

	tests := []struct {
		from State
		ev   Event
		to   State
	}{
		{pending, EventPaymentSucceeded, confirmed},
		{pending, EventPaymentFailed, State{BookingCancelled, PaymentFailed}},
		{pending, EventCancel, State{BookingCancelled, PaymentPending}},
		{State{BookingPending, PaymentFailed}, EventCancel, State{BookingCancelled, PaymentFailed}},
		{confirmed, EventCancel, State{BookingCancelled, PaymentRefunded}},
		{confirmed, EventComplete, State{BookingCompleted, PaymentCompleted}},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+" "+string(tt.ev), func(t *testing.T) {
			to, err := Transition(tt.from, tt.ev)
			require.NoError(t, err)
			assert.Equal(t, tt.to, to)
		})
	}
}

func TestTransitionRejects(t *testing.T) {
	invalid := []struct {
		from State
		ev   Event
	}{
		{State{BookingPending, PaymentPending}, EventComplete},
		{State{BookingPending, PaymentFailed}, EventPaymentSucceeded},
		{State{BookingConfirmed, PaymentCompleted}, EventPaymentSucceeded},
		{State{BookingConfirmed, PaymentCompleted}, EventPaymentFailed},
		{State{BookingConfirmed, PaymentPending}, EventCancel},
		{State{BookingCancelled, PaymentRefunded}, EventCancel},
		{State{BookingCompleted, PaymentCompleted}, EventCancel},
		{State{BookingCompleted, PaymentCompleted}, EventComplete},
		{State{BookingPending, PaymentPending}, Event("refund")},
	}
	for _, tt := range invalid {
		to, err := Transition(tt.from, tt.ev)
		assert.ErrorIs(t, err, ErrInvalidTransition, "%s on %s", tt.ev, tt.from)
		assert.Equal(t, tt.from, to)
	}
}

func TestStateBlocks(t *testing.T) {
	assert.True(t, State{BookingPending, PaymentPending}.Blocks())
	assert.True(t, State{BookingConfirmed, PaymentCompleted}.Blocks())
	assert.False(t, State{BookingCancelled, PaymentRefunded}.Blocks())
	assert.False(t, State{BookingCompleted, PaymentCompleted}.Blocks())
}

func TestCanComplete(t *testing.T) {
	out := day(2025, 7, 10)
	assert.False(t, CanComplete(out, day(2025, 7, 9)))
	assert.True(t, CanComplete(out, day(2025, 7, 10)))
	assert.True(t, CanComplete(out, time.Date(2025, 7, 10, 23, 59, 0, 0, time.UTC)))
	assert.True(t, CanComplete(out, day(2025, 8, 1)))
}

func TestNights(t *testing.T) {
	b := Booking{CheckInDate: day(2025, 2, 27), CheckOutDate: day(2025, 3, 2)}
	assert.Equal(t, 3, b.Nights())
	assert.Equal(t, 1, nights(time.Date(2025, 1, 1, 22, 0, 0, 0, time.UTC), day(2025, 1, 2)))
}

func TestBookingRequestValidate(t *testing.T) {
	in := day(2025, 5, 1)
	assert.NoError(t, BookingRequest{CheckIn: in, CheckOut: in.AddDate(0, 0, 1), Guests: 1}.validate())

	assert.ErrorIs(t, BookingRequest{CheckIn: in, CheckOut: in, Guests: 1}.validate(), ErrInvalidDates)
	assert.ErrorIs(t, BookingRequest{CheckIn: in, CheckOut: in.AddDate(0, 0, -2), Guests: 1}.validate(), ErrInvalidDates)
	assert.ErrorIs(t, BookingRequest{CheckIn: in, CheckOut: in.Add(12 * time.Hour), Guests: 1}.validate(), ErrInvalidDates,
		"same calendar day")
	assert.ErrorIs(t, BookingRequest{CheckIn: in, CheckOut: in.AddDate(0, 0, 1), Guests: 0}.validate(), ErrInvalidGuests)
}

func TestPropertyRatingsValidate(t *testing.T) {
	ok := PropertyRatings{5, 4, 3, 2, 1, 5, 5}
	assert.NoError(t, ok.validate())

	bad := ok
	bad.Location = 6
	assert.ErrorIs(t, bad.validate(), ErrInvalidRating)
	bad = ok
	bad.Value = 0
	assert.ErrorIs(t, bad.validate(), ErrInvalidRating)

	// several bad scores always report the first in review-form order
	bad.Overall = 9
	bad.CheckIn = -1
	for range 50 {
		err := bad.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "overall: ")
	}
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []int64{3, 1, 2}, dedupe([]int64{3, 1, 3, 2, 1}))
	assert.NotNil(t, dedupe(nil), "empty amenity filters must encode as an empty array")
}

func TestRatingServedFromCache(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory()
	s := NewStore(nil, nil, nil, mem)
	key := guestRatingKey(9)
	assert.Equal(t, "rental:guest_rating:9", key)

	loads := 0
	load := func(context.Context) (*GuestRatingSummary, error) {
		loads++
		return &GuestRatingSummary{Count: int64(loads), Average: 4}, nil
	}
	read := func() GuestRatingSummary {
		got, err := cache.ReadThrough(ctx, s.ratings, s.log, key, time.Minute, load)
		require.NoError(t, err)
		return got
	}

	assert.Equal(t, GuestRatingSummary{Count: 1, Average: 4}, read())
	assert.Equal(t, GuestRatingSummary{Count: 1, Average: 4}, read())
	// no database: served from the cache
	got, err := s.GuestRating(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, GuestRatingSummary{Count: 1, Average: 4}, got)

	s.invalidate(ctx, key)
	assert.Equal(t, GuestRatingSummary{Count: 2, Average: 4}, read())
	assert.Equal(t, 2, loads)
}

func TestConstraintErrorsNameRealConstraints(t *testing.T) {
	names := make(map[string]bool)
	for _, table := range tables(t) {
		for _, c := range table.Constraints {
			names[c.Name] = true
		}
		for _, fk := range table.ForeignKeys {
			names[fk.Name] = true
		}
	}
	for name := range constraintErrors {
		assert.True(t, names[name], "constraint %s is not declared by any model", name)
	}
}

func TestSchemaDDL(t *testing.T) {
	up, _, err := migration.NewPlanner().CreateAll(tables(t))
	require.NoError(t, err)

	for _, want := range []string{
		"CREATE TYPE rental.booking_status AS ENUM ('pending', 'confirmed', 'cancelled', 'completed');",
		"CREATE TYPE rental.payment_status AS ENUM ('pending', 'completed', 'failed', 'refunded');",
		"is_active boolean NOT NULL DEFAULT true",
		"check_in_date date NOT NULL",
		"CONSTRAINT bookings_dates_check CHECK (check_out_date > check_in_date)",
		"CONSTRAINT bookings_guests_check CHECK (guests > 0)",
		"CONSTRAINT property_amenities_property_id_amenity_id_key UNIQUE (property_id, amenity_id)",
		"CONSTRAINT property_reviews_booking_id_key UNIQUE (booking_id)",
		"CONSTRAINT property_reviews_value_rating_check CHECK (value_rating BETWEEN 1 AND 5)",
		"CREATE INDEX IF NOT EXISTS idx_bookings_property_dates ON rental.bookings (property_id, check_in_date, check_out_date);",
		"CREATE INDEX IF NOT EXISTS idx_properties_price_per_night ON rental.properties (price_per_night);",
	} {
		assert.Contains(t, up, want)
	}
}
