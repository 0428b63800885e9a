package cinema

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/marshallshelly/crudschemas/internal/cache"
	"github.com/marshallshelly/crudschemas/pkg/builder"
)

// RatingSummary aggregates the reviews of one movie or theatre.
type RatingSummary struct {
	Count   int64   `po:"count" json:"count"`
	Average float64 `po:"average" json:"average"`
}

func movieRatingKey(id int64) string   { return cache.Key(Schema, "movie_rating", id) }
func theatreRatingKey(id int64) string { return cache.Key(Schema, "theatre_rating", id) }

const movieRatingSQL = `
SELECT COUNT(*) AS count, COALESCE(AVG(rating), 0)::float8 AS average
FROM cinema.movie_reviews WHERE movie_id = $1`

const theatreRatingSQL = `
SELECT COUNT(*) AS count, COALESCE(AVG(rating), 0)::float8 AS average
FROM cinema.theatre_reviews WHERE theatre_id = $1`

// MovieRating returns the review count and mean rating of a movie.
func (s *Store) MovieRating(ctx context.Context, movieID int64) (RatingSummary, error) {
	return s.rating(ctx, movieRatingKey(movieID), movieRatingSQL, movieID)
}

// TheatreRating returns the review count and mean rating of a theatre.
func (s *Store) TheatreRating(ctx context.Context, theatreID int64) (RatingSummary, error) {
	return s.rating(ctx, theatreRatingKey(theatreID), theatreRatingSQL, theatreID)
}

func (s *Store) rating(ctx context.Context, key, sql string, id int64) (RatingSummary, error) {
	summary, err := cache.ReadThrough(ctx, s.ratings, s.log, key, s.ratingTTL, func(ctx context.Context) (*RatingSummary, error) {
		return builder.QueryOne[RatingSummary](ctx, s.b(), sql, id)
	})
	if err != nil {
		return RatingSummary{}, fmt.Errorf("rating %s: %w", key, err)
	}
	return summary, nil
}

// Listing is a showtime with its movie and theatre names.
type Listing struct {
	Showtime
	MovieTitle  string `po:"movie_title"`
	TheatreName string `po:"theatre_name"`
}

const listingsSQL = `
SELECT s.*, m.title AS movie_title, t.name AS theatre_name
FROM cinema.showtimes s
JOIN cinema.movies m ON m.id = s.movie_id
JOIN cinema.theatres t ON t.id = s.theatre_id
WHERE s.movie_id = $1 AND t.city_id = $2 AND s.show_date = $3
ORDER BY s.show_time, t.name, s.screen_number`

// ShowtimesFor lists a movie's screenings in a city on one day.
func (s *Store) ShowtimesFor(ctx context.Context, movieID, cityID int64, day time.Time) ([]Listing, error) {
	date := pgtype.Date{Time: day, Valid: true}
	ls, err := builder.Query[Listing](ctx, s.b(), listingsSQL, movieID, cityID, date)
	if err != nil {
		return nil, fmt.Errorf("showtimes for movie %d: %w", movieID, err)
	}
	return ls, nil
}

// BookingLine is one entry of a user's booking history.
type BookingLine struct {
	Booking
	MovieTitle string      `po:"movie_title"`
	ShowDate   time.Time   `po:"show_date"`
	ShowTime   pgtype.Time `po:"show_time"`
}

const historySQL = `
SELECT b.*, m.title AS movie_title, s.show_date, s.show_time
FROM cinema.bookings b
JOIN cinema.showtimes s ON s.id = b.showtime_id
JOIN cinema.movies m ON m.id = s.movie_id
WHERE b.user_id = $1
ORDER BY b.created_at DESC, b.id DESC`

// BookingHistory lists a user's bookings, newest first.
func (s *Store) BookingHistory(ctx context.Context, userID int64) ([]BookingLine, error) {
	lines, err := builder.Query[BookingLine](ctx, s.b(), historySQL, userID)
	if err != nil {
		return nil, fmt.Errorf("booking history for user %d: %w", userID, err)
	}
	return lines, nil
}

// Booking returns one booking by id.
func (s *Store) Booking(ctx context.Context, id int64) (*Booking, error) {
	b, err := builder.Select[Booking](s.b()).Where(builder.Eq("id", id)).First(ctx)
	if err != nil {
		if builder.IsNotFound(err) {
			err = ErrBookingNotFound
		}
		return nil, fmt.Errorf("booking %d: %w", id, err)
	}
	return b, nil
}

// Showtime returns one showtime with its current seat counter.
func (s *Store) Showtime(ctx context.Context, id int64) (*Showtime, error) {
	st, err := builder.Select[Showtime](s.b()).Where(builder.Eq("id", id)).First(ctx)
	if err != nil {
		if builder.IsNotFound(err) {
			err = ErrShowtimeNotFound
		}
		return nil, fmt.Errorf("showtime %d: %w", id, err)
	}
	return st, nil
}

// ActiveSeats sums the seats held by a showtime's non-cancelled bookings.
func (s *Store) ActiveSeats(ctx context.Context, showtimeID int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
SELECT COALESCE(SUM(number_of_seats), 0)
FROM cinema.bookings
WHERE showtime_id = $1 AND booking_status <> 'cancelled'`, showtimeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("active seats of showtime %d: %w", showtimeID, err)
	}
	return n, nil
}
