package cinema

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/sirupsen/logrus"

	"github.com/marshallshelly/crudschemas/internal/cache"
	"github.com/marshallshelly/crudschemas/internal/events"
	"github.com/marshallshelly/crudschemas/internal/logging"
	"github.com/marshallshelly/crudschemas/internal/money"
	"github.com/marshallshelly/crudschemas/pkg/builder"
	"github.com/marshallshelly/crudschemas/pkg/runtime"
)

// DefaultRatingTTL is how long a cached rating summary lives.
const DefaultRatingTTL = 5 * time.Minute

// Store runs cinema bookings against PostgreSQL.
type Store struct {
	db        runtime.Database
	log       logrus.FieldLogger
	events    events.Publisher
	ratings   cache.Cache
	ratingTTL time.Duration
}

// NewStore creates a Store. Nil dependencies fall back to no-op implementations.
func NewStore(db runtime.Database, log logrus.FieldLogger, pub events.Publisher, ratings cache.Cache) *Store {
	if log == nil {
		log = logging.Discard()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if ratings == nil {
		ratings = cache.Nop{}
	}
	return &Store{
		db:        db,
		log:       log.WithField("schema", Schema),
		events:    pub,
		ratings:   ratings,
		ratingTTL: DefaultRatingTTL,
	}
}

// WithRatingTTL sets how long rating summaries stay cached.
func (s *Store) WithRatingTTL(ttl time.Duration) *Store {
	s.ratingTTL = ttl
	return s
}

func (s *Store) b() *builder.DB {
	return builder.New(s.db)
}

var rejections = []error{
	runtime.ErrNotFound, runtime.ErrDuplicateKey, runtime.ErrForeignKeyViolation,
	runtime.ErrCheckViolation, runtime.ErrNotNullViolation,
	ErrBookingNotFound, ErrShowtimeNotFound, ErrUserNotFound,
	ErrNotEnoughSeats, ErrInvalidSeats, ErrInvalidRating, ErrInvalidTransition,
}

func (s *Store) fail(op string, err error, fields logrus.Fields) error {
	err = translate(err)
	entry := s.log.WithFields(fields).WithField("op", op).WithError(err)
	for _, r := range rejections {
		if errors.Is(err, r) {
			entry.Warn("rejected")
			return err
		}
	}
	entry.Error("failed")
	return err
}

func (s *Store) publish(ctx context.Context, subject string, payload any) {
	if err := s.events.Publish(ctx, subject, payload); err != nil {
		s.log.WithError(err).WithField("subject", subject).Warn("event not published")
	}
}

// NewBookingReference returns a fresh customer-facing booking reference,
// "BK" followed by 16 upper-case hex digits.
func NewBookingReference() string {
	id := uuid.New()
	return "BK" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))[:16]
}

// NewUser is the input of CreateUser.
type NewUser struct {
	Name         string
	Email        string
	Phone        *string
	PasswordHash string
}

// CreateUser registers a user. A taken email is ErrDuplicateEmail.
func (s *Store) CreateUser(ctx context.Context, in NewUser) (*User, error) {
	u, err := builder.Insert[User](s.b()).Values(User{
		Name:         in.Name,
		Email:        in.Email,
		Phone:        in.Phone,
		PasswordHash: in.PasswordHash,
	}).One(ctx)
	if err != nil {
		return nil, s.fail("create user", err, logrus.Fields{"email": in.Email})
	}
	return u, nil
}

// DeleteUser removes a user with their bookings and reviews, returning the
// seats of their active bookings to the showtimes. The user row, then their
// bookings, then the affected showtimes are locked before the seats are
// counted: a cancellation or booking racing the delete either finishes first
// and is seen, or waits and then fails on the missing row.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	err := runtime.RunInTx(ctx, s.db, pgx.TxOptions{}, func(tx *runtime.Tx) error {
		b := builder.New(tx)
		if _, err := builder.Select[User](b).Where(builder.Eq("id", id)).ForUpdate().First(ctx); err != nil {
			if builder.IsNotFound(err) {
				return ErrUserNotFound
			}
			return err
		}

		active, err := builder.Select[Booking](b).
			Where(builder.Eq("user_id", id)).
			And(builder.NotEq("booking_status", BookingCancelled)).
			OrderByAsc("id").
			ForUpdate().
			All(ctx)
		if err != nil {
			return err
		}
		held := make(map[int64]int32)
		for _, bk := range active {
			held[bk.ShowtimeID] += bk.NumberOfSeats
		}
		if err := releaseSeats(ctx, b, held); err != nil {
			return err
		}

		_, err = builder.Delete[User](b).Where(builder.Eq("id", id)).Exec(ctx)
		return err
	})
	if err != nil {
		return s.fail("delete user", err, logrus.Fields{"user_id": id})
	}
	return nil
}

// releaseSeats locks the showtimes in id order and adds back the held seats.
func releaseSeats(ctx context.Context, b *builder.DB, held map[int64]int32) error {
	if len(held) == 0 {
		return nil
	}
	ids := make([]any, 0, len(held))
	for _, id := range slices.Sorted(maps.Keys(held)) {
		ids = append(ids, id)
	}
	if _, err := builder.Select[Showtime](b).Where(builder.In("id", ids...)).OrderByAsc("id").ForUpdate().All(ctx); err != nil {
		return err
	}
	for _, id := range ids {
		_, err := builder.Update[Showtime](b).
			SetExpr("available_seats", fmt.Sprintf("available_seats + %d", held[id.(int64)])).
			Where(builder.Eq("id", id)).
			Exec(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

// CreateCity adds a city; (name, state, country) is unique.
func (s *Store) CreateCity(ctx context.Context, name string, state *string, country string) (*City, error) {
	c, err := builder.Insert[City](s.b()).Values(City{Name: name, State: state, Country: country}).One(ctx)
	if err != nil {
		return nil, s.fail("create city", err, logrus.Fields{"city": name})
	}
	return c, nil
}

// CreateTheatre adds a theatre to an existing city.
func (s *Store) CreateTheatre(ctx context.Context, t Theatre) (*Theatre, error) {
	row, err := builder.Insert[Theatre](s.b()).Values(t).One(ctx)
	if err != nil {
		return nil, s.fail("create theatre", err, logrus.Fields{"city_id": t.CityID})
	}
	return row, nil
}

// CreateMovie adds a movie to the catalogue.
func (s *Store) CreateMovie(ctx context.Context, m Movie) (*Movie, error) {
	row, err := builder.Insert[Movie](s.b()).Values(m).One(ctx)
	if err != nil {
		return nil, s.fail("create movie", err, logrus.Fields{"title": m.Title})
	}
	return row, nil
}

// NewShowtime is the input of ScheduleShowtime.
type NewShowtime struct {
	MovieID      int64
	TheatreID    int64
	ShowDate     time.Time
	ShowTime     time.Duration // since midnight
	ScreenNumber int32
	TotalSeats   int32
	Price        money.Cents
}

// ScheduleShowtime creates a showtime with every seat available.
func (s *Store) ScheduleShowtime(ctx context.Context, in NewShowtime) (*Showtime, error) {
	fields := logrus.Fields{"movie_id": in.MovieID, "theatre_id": in.TheatreID}
	if in.ShowTime < 0 || in.ShowTime >= 24*time.Hour {
		return nil, s.fail("schedule showtime", ErrInvalidShowtime, fields)
	}
	row, err := builder.Insert[Showtime](s.b()).Values(Showtime{
		MovieID:        in.MovieID,
		TheatreID:      in.TheatreID,
		ShowDate:       in.ShowDate,
		ShowTime:       pgtype.Time{Microseconds: in.ShowTime.Microseconds(), Valid: true},
		ScreenNumber:   in.ScreenNumber,
		TotalSeats:     in.TotalSeats,
		AvailableSeats: in.TotalSeats,
		Price:          in.Price,
	}).One(ctx)
	if err != nil {
		return nil, s.fail("schedule showtime", err, fields)
	}
	return row, nil
}

// BookingRequest asks for Seats seats. SeatNumbers is optional; when given
// it must name exactly Seats distinct seats.
type BookingRequest struct {
	UserID      int64
	ShowtimeID  int64
	Seats       int32
	SeatNumbers []string
}

func (r BookingRequest) validate() error {
	if r.Seats <= 0 {
		return fmt.Errorf("%w: %d seats", ErrInvalidSeats, r.Seats)
	}
	if len(r.SeatNumbers) == 0 {
		return nil
	}
	if len(r.SeatNumbers) != int(r.Seats) {
		return fmt.Errorf("%w: %d seat numbers for %d seats", ErrInvalidSeats, len(r.SeatNumbers), r.Seats)
	}
	seen := make(map[string]bool, len(r.SeatNumbers))
	for _, n := range r.SeatNumbers {
		if n == "" || seen[n] {
			return fmt.Errorf("%w: seat %q", ErrInvalidSeats, n)
		}
		seen[n] = true
	}
	return nil
}

// BookSeats reserves seats on a showtime. The seat counter is decremented
// only if enough seats remain, in the same transaction as the booking insert,
// so the counter and the bookings never disagree and never oversell.
func (s *Store) BookSeats(ctx context.Context, req BookingRequest) (*Booking, error) {
	fields := logrus.Fields{"user_id": req.UserID, "showtime_id": req.ShowtimeID, "seats": req.Seats}
	if err := req.validate(); err != nil {
		return nil, s.fail("book seats", err, fields)
	}

	var booking *Booking
	err := runtime.RunInTx(ctx, s.db, pgx.TxOptions{}, func(tx *runtime.Tx) error {
		b := builder.New(tx)
		updated, err := builder.Update[Showtime](b).
			SetExpr("available_seats", fmt.Sprintf("available_seats - %d", req.Seats)).
			Where(builder.Eq("id", req.ShowtimeID)).
			And(builder.Gte("available_seats", req.Seats)).
			ExecReturning(ctx)
		if err != nil {
			return err
		}
		if len(updated) == 0 {
			exists, err := builder.Select[Showtime](b).Where(builder.Eq("id", req.ShowtimeID)).Exists(ctx)
			if err != nil {
				return err
			}
			if !exists {
				return ErrShowtimeNotFound
			}
			return ErrNotEnoughSeats
		}

		booking, err = builder.Insert[Booking](b).Values(Booking{
			BookingReference: NewBookingReference(),
			UserID:           req.UserID,
			ShowtimeID:       req.ShowtimeID,
			NumberOfSeats:    req.Seats,
			SeatNumbers:      req.SeatNumbers,
			TotalAmount:      updated[0].Price.Times(int64(req.Seats)),
		}).One(ctx)
		return err
	})
	if err != nil {
		return nil, s.fail("book seats", err, fields)
	}

	s.log.WithFields(fields).WithField("booking_id", booking.ID).Info("seats booked")
	s.publish(ctx, events.BookingCreated, bookingPayload(booking))
	return booking, nil
}

func bookingPayload(b *Booking) map[string]any {
	return map[string]any{
		"booking_id":        b.ID,
		"booking_reference": b.BookingReference,
		"showtime_id":       b.ShowtimeID,
		"user_id":           b.UserID,
		"seats":             b.NumberOfSeats,
		"booking_status":    b.BookingStatus,
		"payment_status":    b.PaymentStatus,
	}
}

// ConfirmPayment records a successful payment for a pending booking.
func (s *Store) ConfirmPayment(ctx context.Context, bookingID int64) (*Booking, error) {
	return s.apply(ctx, bookingID, EventPaymentSucceeded)
}

// FailPayment cancels a pending booking whose payment failed, releasing its seats.
func (s *Store) FailPayment(ctx context.Context, bookingID int64) (*Booking, error) {
	return s.apply(ctx, bookingID, EventPaymentFailed)
}

// CancelBooking cancels a pending or confirmed booking, releasing its seats.
func (s *Store) CancelBooking(ctx context.Context, bookingID int64) (*Booking, error) {
	return s.apply(ctx, bookingID, EventCancel)
}

func (s *Store) apply(ctx context.Context, bookingID int64, ev Event) (*Booking, error) {
	fields := logrus.Fields{"booking_id": bookingID, "event": string(ev)}

	var booking *Booking
	err := runtime.RunInTx(ctx, s.db, pgx.TxOptions{}, func(tx *runtime.Tx) error {
		b := builder.New(tx)
		current, err := builder.Select[Booking](b).Where(builder.Eq("id", bookingID)).ForUpdate().First(ctx)
		if err != nil {
			if builder.IsNotFound(err) {
				return ErrBookingNotFound
			}
			return err
		}
		to, release, err := Transition(current.State(), ev)
		if err != nil {
			return err
		}

		rows, err := builder.Update[Booking](b).
			Set("booking_status", to.Booking).
			Set("payment_status", to.Payment).
			Where(builder.Eq("id", bookingID)).
			ExecReturning(ctx)
		if err != nil {
			return err
		}
		booking = &rows[0]

		if release {
			_, err = builder.Update[Showtime](b).
				SetExpr("available_seats", fmt.Sprintf("available_seats + %d", current.NumberOfSeats)).
				Where(builder.Eq("id", current.ShowtimeID)).
				Exec(ctx)
		}
		return err
	})
	if err != nil {
		return nil, s.fail("booking "+string(ev), err, fields)
	}

	subject := events.BookingConfirmed
	if booking.BookingStatus == BookingCancelled {
		subject = events.BookingCancelled
	}
	s.publish(ctx, subject, bookingPayload(booking))
	return booking, nil
}

const lockShowtimesSQL = `
SELECT id FROM cinema.showtimes
WHERE $1::bigint = 0 OR id = $1
ORDER BY id
FOR UPDATE`

const reconcileSQL = `
UPDATE cinema.showtimes s
SET available_seats = s.total_seats - held.seats
FROM (
    SELECT st.id, COALESCE(SUM(b.number_of_seats) FILTER (WHERE b.booking_status <> 'cancelled'), 0) AS seats
    FROM cinema.showtimes st
    LEFT JOIN cinema.bookings b ON b.showtime_id = st.id
    WHERE $1::bigint = 0 OR st.id = $1
    GROUP BY st.id
) held
WHERE s.id = held.id AND s.available_seats <> s.total_seats - held.seats`

// ReconcileSeats recomputes available_seats from the active bookings of one
// showtime, or of every showtime when showtimeID is 0, and returns how many
// counters were wrong. The showtimes are locked before the bookings are
// summed, so bookings and cancellations in flight either commit first and are
// counted or wait for the reconciled counter.
func (s *Store) ReconcileSeats(ctx context.Context, showtimeID int64) (int64, error) {
	var n int64
	err := runtime.RunInTx(ctx, s.db, pgx.TxOptions{}, func(tx *runtime.Tx) error {
		b := builder.New(tx)
		if _, err := builder.Exec(ctx, b, lockShowtimesSQL, showtimeID); err != nil {
			return err
		}
		var err error
		n, err = builder.Exec(ctx, b, reconcileSQL, showtimeID)
		return err
	})
	if err != nil {
		return 0, s.fail("reconcile seats", err, logrus.Fields{"showtime_id": showtimeID})
	}
	if n > 0 {
		s.log.WithFields(logrus.Fields{"showtime_id": showtimeID, "corrected": n}).Warn("seat counters drifted")
	}
	return n, nil
}

func validRating(r int16) error {
	if r < 1 || r > 10 {
		return fmt.Errorf("%w: got %d", ErrInvalidRating, r)
	}
	return nil
}

// ReviewMovie records a user's 1 to 10 rating of a movie, once per user.
func (s *Store) ReviewMovie(ctx context.Context, userID, movieID int64, rating int16, text *string) (*MovieReview, error) {
	fields := logrus.Fields{"user_id": userID, "movie_id": movieID}
	if err := validRating(rating); err != nil {
		return nil, s.fail("review movie", err, fields)
	}
	r, err := builder.Insert[MovieReview](s.b()).Values(MovieReview{
		UserID: userID, MovieID: movieID, Rating: rating, ReviewText: text,
	}).One(ctx)
	if err != nil {
		return nil, s.fail("review movie", err, fields)
	}
	s.invalidate(ctx, movieRatingKey(movieID))
	s.publish(ctx, events.ReviewPosted, map[string]any{"movie_id": movieID, "user_id": userID, "rating": rating})
	return r, nil
}

// ReviewTheatre records a user's 1 to 10 rating of a theatre, once per user.
func (s *Store) ReviewTheatre(ctx context.Context, userID, theatreID int64, rating int16, text *string) (*TheatreReview, error) {
	fields := logrus.Fields{"user_id": userID, "theatre_id": theatreID}
	if err := validRating(rating); err != nil {
		return nil, s.fail("review theatre", err, fields)
	}
	r, err := builder.Insert[TheatreReview](s.b()).Values(TheatreReview{
		UserID: userID, TheatreID: theatreID, Rating: rating, ReviewText: text,
	}).One(ctx)
	if err != nil {
		return nil, s.fail("review theatre", err, fields)
	}
	s.invalidate(ctx, theatreRatingKey(theatreID))
	s.publish(ctx, events.ReviewPosted, map[string]any{"theatre_id": theatreID, "user_id": userID, "rating": rating})
	return r, nil
}

func (s *Store) invalidate(ctx context.Context, key string) {
	if err := cache.Invalidate(ctx, s.ratings, key); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("rating cache not invalidated")
	}
}
