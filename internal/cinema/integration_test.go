//go:build integration

package cinema_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/marshallshelly/crudschemas/internal/cache"
	"github.com/marshallshelly/crudschemas/internal/cinema"
	"github.com/marshallshelly/crudschemas/internal/events"
	"github.com/marshallshelly/crudschemas/internal/money"
	"github.com/marshallshelly/crudschemas/internal/testdb"
	"github.com/marshallshelly/crudschemas/pkg/builder"
	"github.com/marshallshelly/crudschemas/pkg/registry"
	"github.com/marshallshelly/crudschemas/pkg/runtime"
)

type fixture struct {
	db     *runtime.DB
	store  *cinema.Store
	events *events.Recorder
	n      int
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testdb.Start(t)
	r := registry.NewRegistry()
	require.NoError(t, r.RegisterAll(cinema.Models()...))
	tables, err := r.Ordered(cinema.Schema)
	require.NoError(t, err)
	testdb.Apply(t, db, tables)

	rec := &events.Recorder{}
	return &fixture{db: db, store: cinema.NewStore(db, nil, rec, cache.NewMemory()), events: rec}
}

func (f *fixture) user(t *testing.T) *cinema.User {
	t.Helper()
	f.n++
	u, err := f.store.CreateUser(context.Background(), cinema.NewUser{
		Name:         fmt.Sprintf("user %d", f.n),
		Email:        fmt.Sprintf("user%d@example.com", f.n),
		PasswordHash: "x",
	})
	require.NoError(t, err)
	return u
}

// showtime creates a fresh city, theatre, movie and showtime.
func (f *fixture) showtime(t *testing.T, seats int32) *cinema.Showtime {
	t.Helper()
	ctx := context.Background()
	f.n++
	city, err := f.store.CreateCity(ctx, fmt.Sprintf("City %d", f.n), nil, "IN")
	require.NoError(t, err)
	theatre, err := f.store.CreateTheatre(ctx, cinema.Theatre{CityID: city.ID, Name: "Plaza", Address: "1 Main St"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), theatre.TotalScreens, "default applied")
	movie, err := f.store.CreateMovie(ctx, cinema.Movie{
		Title: fmt.Sprintf("Movie %d", f.n), DurationMinutes: 120, Language: "en",
		ReleaseDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	st, err := f.store.ScheduleShowtime(ctx, cinema.NewShowtime{
		MovieID: movie.ID, TheatreID: theatre.ID,
		ShowDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), ShowTime: 18 * time.Hour,
		ScreenNumber: 1, TotalSeats: seats, Price: 1250,
	})
	require.NoError(t, err)
	return st
}

func (f *fixture) available(t *testing.T, showtimeID int64) int32 {
	t.Helper()
	st, err := f.store.Showtime(context.Background(), showtimeID)
	require.NoError(t, err)
	return st.AvailableSeats
}

// consistent asserts that the seat counter equals total seats minus the
// seats of active bookings.
func (f *fixture) consistent(t *testing.T, showtimeID int64) {
	t.Helper()
	st, err := f.store.Showtime(context.Background(), showtimeID)
	require.NoError(t, err)
	held, err := f.store.ActiveSeats(context.Background(), showtimeID)
	require.NoError(t, err)
	assert.Equal(t, int64(st.TotalSeats)-held, int64(st.AvailableSeats), "showtime %d", showtimeID)
}

func (f *fixture) book(t *testing.T, userID, showtimeID int64, seats int32) *cinema.Booking {
	t.Helper()
	b, err := f.store.BookSeats(context.Background(), cinema.BookingRequest{UserID: userID, ShowtimeID: showtimeID, Seats: seats})
	require.NoError(t, err)
	return b
}

func TestCinema(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	t.Run("booking defaults to pending and decrements seats", func(t *testing.T) {
		u, st := f.user(t), f.showtime(t, 10)
		b, err := f.store.BookSeats(ctx, cinema.BookingRequest{UserID: u.ID, ShowtimeID: st.ID, Seats: 3, SeatNumbers: []string{"A1", "A2", "A3"}})
		require.NoError(t, err)

		assert.Equal(t, cinema.BookingPending, b.BookingStatus)
		assert.Equal(t, cinema.PaymentPending, b.PaymentStatus)
		assert.Equal(t, money.Cents(3750), b.TotalAmount)
		assert.Equal(t, []string{"A1", "A2", "A3"}, b.SeatNumbers)
		assert.Equal(t, int32(7), f.available(t, st.ID))
		assert.Contains(t, f.events.Subjects(), events.BookingCreated)

		err = f.exec(`INSERT INTO cinema.bookings (booking_reference, user_id, showtime_id, number_of_seats, total_amount) VALUES ('RAW1', $1, $2, 1, 0)`, u.ID, st.ID)
		require.NoError(t, err)
		var bs, ps string
		require.NoError(t, f.db.QueryRow(ctx, `SELECT booking_status::text, payment_status::text FROM cinema.bookings WHERE booking_reference = 'RAW1'`).Scan(&bs, &ps))
		assert.Equal(t, "pending", bs)
		assert.Equal(t, "pending", ps)
	})

	t.Run("oversell is rejected", func(t *testing.T) {
		u, st := f.user(t), f.showtime(t, 2)
		_, err := f.store.BookSeats(ctx, cinema.BookingRequest{UserID: u.ID, ShowtimeID: st.ID, Seats: 3})
		assert.ErrorIs(t, err, cinema.ErrNotEnoughSeats)
		assert.Equal(t, int32(2), f.available(t, st.ID))

		_, err = f.store.BookSeats(ctx, cinema.BookingRequest{UserID: u.ID, ShowtimeID: 999999, Seats: 1})
		assert.ErrorIs(t, err, cinema.ErrShowtimeNotFound)

		// an insert failure rolls the decrement back
		_, err = f.store.BookSeats(ctx, cinema.BookingRequest{UserID: 999999, ShowtimeID: st.ID, Seats: 1})
		assert.ErrorIs(t, err, cinema.ErrUserNotFound)
		assert.Equal(t, int32(2), f.available(t, st.ID))

		err = f.exec(`UPDATE cinema.showtimes SET available_seats = -1 WHERE id = $1`, st.ID)
		assert.Equal(t, "showtimes_available_seats_check", runtime.ConstraintName(err))
		err = f.exec(`UPDATE cinema.showtimes SET available_seats = total_seats + 1 WHERE id = $1`, st.ID)
		assert.Equal(t, "showtimes_available_seats_max_check", runtime.ConstraintName(err))
	})

	t.Run("over-release is an integrity error, not a seat shortage", func(t *testing.T) {
		u, st := f.user(t), f.showtime(t, 4)
		b := f.book(t, u.ID, st.ID, 2)
		// counter drifted: it already claims every seat is free
		require.NoError(t, f.exec(`UPDATE cinema.showtimes SET available_seats = total_seats WHERE id = $1`, st.ID))

		_, err := f.store.CancelBooking(ctx, b.ID)
		assert.ErrorIs(t, err, cinema.ErrSeatCounterOverflow)
		assert.NotErrorIs(t, err, cinema.ErrNotEnoughSeats)

		got, err := f.store.Booking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, cinema.BookingPending, got.BookingStatus, "cancel rolled back")

		n, err := f.store.ReconcileSeats(ctx, st.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		_, err = f.store.CancelBooking(ctx, b.ID)
		require.NoError(t, err)
		f.consistent(t, st.ID)
	})

	t.Run("concurrent bookings never oversell", func(t *testing.T) {
		const seats, buyers = 10, 25
		st := f.showtime(t, seats)
		users := make([]*cinema.User, buyers)
		for i := range users {
			users[i] = f.user(t)
		}

		var booked, rejected atomic.Int32
		var g errgroup.Group
		for _, u := range users {
			g.Go(func() error {
				_, err := f.store.BookSeats(ctx, cinema.BookingRequest{UserID: u.ID, ShowtimeID: st.ID, Seats: 1})
				switch {
				case err == nil:
					booked.Add(1)
				case errors.Is(err, cinema.ErrNotEnoughSeats):
					rejected.Add(1)
				default:
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		assert.Equal(t, int32(seats), booked.Load())
		assert.Equal(t, int32(buyers-seats), rejected.Load())
		assert.Zero(t, f.available(t, st.ID))

		held, err := f.store.ActiveSeats(ctx, st.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(seats), held)
	})

	t.Run("state machine", func(t *testing.T) {
		u, st := f.user(t), f.showtime(t, 10)

		paid, err := f.store.BookSeats(ctx, cinema.BookingRequest{UserID: u.ID, ShowtimeID: st.ID, Seats: 2})
		require.NoError(t, err)
		paid, err = f.store.ConfirmPayment(ctx, paid.ID)
		require.NoError(t, err)
		assert.Equal(t, cinema.State{Booking: cinema.BookingConfirmed, Payment: cinema.PaymentCompleted}, paid.State())
		_, err = f.store.FailPayment(ctx, paid.ID)
		assert.ErrorIs(t, err, cinema.ErrInvalidTransition)

		failed, err := f.store.BookSeats(ctx, cinema.BookingRequest{UserID: u.ID, ShowtimeID: st.ID, Seats: 3})
		require.NoError(t, err)
		assert.Equal(t, int32(5), f.available(t, st.ID))
		failed, err = f.store.FailPayment(ctx, failed.ID)
		require.NoError(t, err)
		assert.Equal(t, cinema.State{Booking: cinema.BookingCancelled, Payment: cinema.PaymentFailed}, failed.State())
		assert.Equal(t, int32(8), f.available(t, st.ID))

		paid, err = f.store.CancelBooking(ctx, paid.ID)
		require.NoError(t, err)
		assert.Equal(t, cinema.State{Booking: cinema.BookingCancelled, Payment: cinema.PaymentCompleted}, paid.State())
		assert.Equal(t, int32(10), f.available(t, st.ID))

		_, err = f.store.CancelBooking(ctx, paid.ID)
		assert.ErrorIs(t, err, cinema.ErrInvalidTransition)
		assert.Equal(t, int32(10), f.available(t, st.ID), "no double release")

		_, err = f.store.CancelBooking(ctx, 999999)
		assert.ErrorIs(t, err, cinema.ErrBookingNotFound)

		assert.Contains(t, f.events.Subjects(), events.BookingConfirmed)
		assert.Contains(t, f.events.Subjects(), events.BookingCancelled)
	})

	t.Run("reconcile seats", func(t *testing.T) {
		u, st := f.user(t), f.showtime(t, 10)
		_, err := f.store.BookSeats(ctx, cinema.BookingRequest{UserID: u.ID, ShowtimeID: st.ID, Seats: 4})
		require.NoError(t, err)

		n, err := f.store.ReconcileSeats(ctx, st.ID)
		require.NoError(t, err)
		assert.Zero(t, n)

		require.NoError(t, f.exec(`UPDATE cinema.showtimes SET available_seats = 1 WHERE id = $1`, st.ID))
		n, err = f.store.ReconcileSeats(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.Equal(t, int32(6), f.available(t, st.ID))
	})

	t.Run("reviews and ratings", func(t *testing.T) {
		a, b, st := f.user(t), f.user(t), f.showtime(t, 10)

		_, err := f.store.ReviewMovie(ctx, a.ID, st.MovieID, 11, nil)
		assert.ErrorIs(t, err, cinema.ErrInvalidRating)
		err = f.exec(`INSERT INTO cinema.movie_reviews (user_id, movie_id, rating) VALUES ($1, $2, 0)`, a.ID, st.MovieID)
		assert.Equal(t, "movie_reviews_rating_check", runtime.ConstraintName(err))

		_, err = f.store.ReviewMovie(ctx, a.ID, st.MovieID, 8, nil)
		require.NoError(t, err)
		_, err = f.store.ReviewMovie(ctx, a.ID, st.MovieID, 9, nil)
		assert.ErrorIs(t, err, cinema.ErrAlreadyReviewed)

		summary, err := f.store.MovieRating(ctx, st.MovieID)
		require.NoError(t, err)
		assert.Equal(t, cinema.RatingSummary{Count: 1, Average: 8}, summary)

		// the review invalidates the cached summary
		_, err = f.store.ReviewMovie(ctx, b.ID, st.MovieID, 10, nil)
		require.NoError(t, err)
		summary, err = f.store.MovieRating(ctx, st.MovieID)
		require.NoError(t, err)
		assert.Equal(t, cinema.RatingSummary{Count: 2, Average: 9}, summary)

		_, err = f.store.ReviewTheatre(ctx, a.ID, st.TheatreID, 6, nil)
		require.NoError(t, err)
		tr, err := f.store.TheatreRating(ctx, st.TheatreID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), tr.Count)
	})

	t.Run("listings and history", func(t *testing.T) {
		u, st := f.user(t), f.showtime(t, 10)
		b, err := f.store.BookSeats(ctx, cinema.BookingRequest{UserID: u.ID, ShowtimeID: st.ID, Seats: 1})
		require.NoError(t, err)

		var cityID int64
		require.NoError(t, f.db.QueryRow(ctx, `SELECT city_id FROM cinema.theatres WHERE id = $1`, st.TheatreID).Scan(&cityID))
		listings, err := f.store.ShowtimesFor(ctx, st.MovieID, cityID, st.ShowDate)
		require.NoError(t, err)
		require.Len(t, listings, 1)
		assert.Equal(t, "Plaza", listings[0].TheatreName)
		assert.Equal(t, int32(9), listings[0].AvailableSeats)

		history, err := f.store.BookingHistory(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, b.BookingReference, history[0].BookingReference)
		assert.Equal(t, listings[0].MovieTitle, history[0].MovieTitle)
	})

	t.Run("deleting a user cascades and frees seats", func(t *testing.T) {
		u, st := f.user(t), f.showtime(t, 10)
		_, err := f.store.BookSeats(ctx, cinema.BookingRequest{UserID: u.ID, ShowtimeID: st.ID, Seats: 4})
		require.NoError(t, err)
		_, err = f.store.ReviewMovie(ctx, u.ID, st.MovieID, 7, nil)
		require.NoError(t, err)
		_, err = f.store.ReviewTheatre(ctx, u.ID, st.TheatreID, 7, nil)
		require.NoError(t, err)

		require.NoError(t, f.store.DeleteUser(ctx, u.ID))
		assert.ErrorIs(t, f.store.DeleteUser(ctx, u.ID), cinema.ErrUserNotFound)

		for _, table := range []string{"bookings", "movie_reviews", "theatre_reviews"} {
			var n int64
			require.NoError(t, f.db.QueryRow(ctx, `SELECT COUNT(*) FROM cinema.`+table+` WHERE user_id = $1`, u.ID).Scan(&n))
			assert.Zero(t, n, table)
		}
		assert.Equal(t, int32(10), f.available(t, st.ID))
	})

	t.Run("cancel racing user deletion keeps the counter exact", func(t *testing.T) {
		for range 10 {
			u, other, st := f.user(t), f.user(t), f.showtime(t, 10)
			mine := f.book(t, u.ID, st.ID, 4)
			f.book(t, other.ID, st.ID, 4)

			var g errgroup.Group
			g.Go(func() error {
				_, err := f.store.CancelBooking(ctx, mine.ID)
				if errors.Is(err, cinema.ErrBookingNotFound) {
					return nil
				}
				return err
			})
			g.Go(func() error { return f.store.DeleteUser(ctx, u.ID) })
			require.NoError(t, g.Wait())

			assert.Equal(t, int32(6), f.available(t, st.ID))
			f.consistent(t, st.ID)
		}
	})

	t.Run("booking racing its user's deletion leaks no seats", func(t *testing.T) {
		for range 10 {
			u, st := f.user(t), f.showtime(t, 10)
			f.book(t, u.ID, st.ID, 2)

			var g errgroup.Group
			g.Go(func() error {
				_, err := f.store.BookSeats(ctx, cinema.BookingRequest{UserID: u.ID, ShowtimeID: st.ID, Seats: 3})
				if errors.Is(err, cinema.ErrUserNotFound) {
					return nil
				}
				return err
			})
			g.Go(func() error { return f.store.DeleteUser(ctx, u.ID) })
			require.NoError(t, g.Wait())

			assert.Equal(t, int32(10), f.available(t, st.ID))
			f.consistent(t, st.ID)
		}
	})

	t.Run("reconcile racing bookings and cancellations", func(t *testing.T) {
		const seats = 20
		st := f.showtime(t, seats)
		users := make([]*cinema.User, 15)
		for i := range users {
			users[i] = f.user(t)
		}
		early := f.book(t, users[0].ID, st.ID, 2)

		var g errgroup.Group
		for _, u := range users[1:] {
			g.Go(func() error {
				_, err := f.store.BookSeats(ctx, cinema.BookingRequest{UserID: u.ID, ShowtimeID: st.ID, Seats: 1})
				return err
			})
		}
		g.Go(func() error {
			_, err := f.store.CancelBooking(ctx, early.ID)
			return err
		})
		for range 5 {
			g.Go(func() error {
				n, err := f.store.ReconcileSeats(ctx, st.ID)
				if err == nil && n != 0 {
					return fmt.Errorf("reconcile corrected %d counters that were never wrong", n)
				}
				return err
			})
		}
		require.NoError(t, g.Wait())

		assert.Equal(t, int32(seats-14), f.available(t, st.ID))
		f.consistent(t, st.ID)
	})

	t.Run("duplicate showtime slot", func(t *testing.T) {
		st := f.showtime(t, 10)
		_, err := f.store.ScheduleShowtime(ctx, cinema.NewShowtime{
			MovieID: st.MovieID, TheatreID: st.TheatreID, ShowDate: st.ShowDate,
			ShowTime: 18 * time.Hour, ScreenNumber: 1, TotalSeats: 5, Price: money.FromUnits(1),
		})
		assert.ErrorIs(t, err, cinema.ErrSlotTaken)
	})
}

func (f *fixture) exec(sql string, args ...any) error {
	_, err := builder.Exec(context.Background(), builder.New(f.db), sql, args...)
	return err
}
