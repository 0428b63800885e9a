package cinema

import (
	"errors"
	"fmt"

	"github.com/marshallshelly/crudschemas/pkg/runtime"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrCityNotFound      = errors.New("city not found")
	ErrTheatreNotFound   = errors.New("theatre not found")
	ErrMovieNotFound     = errors.New("movie not found")
	ErrShowtimeNotFound  = errors.New("showtime not found")
	ErrBookingNotFound   = errors.New("booking not found")
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrDuplicateCity     = errors.New("city already exists")
	ErrSlotTaken         = errors.New("screen already has a showtime at that time")
	ErrNotEnoughSeats    = errors.New("not enough seats available")
	ErrInvalidSeats      = errors.New("invalid seat request")
	ErrInvalidRating     = errors.New("rating must be between 1 and 10")
	ErrAlreadyReviewed   = errors.New("already reviewed")
	ErrInvalidTransition = errors.New("invalid booking transition")
	ErrInvalidShowtime   = errors.New("invalid showtime")

	// ErrSeatCounterOverflow means more seats were released than a showtime
	// has. The counter has drifted from the bookings; ReconcileSeats repairs it.
	ErrSeatCounterOverflow = errors.New("seat counter exceeds total seats")
)

var constraintErrors = map[string]error{
	"users_email_key":               ErrDuplicateEmail,
	"cities_name_state_country_key": ErrDuplicateCity,
	"showtimes_theatre_id_show_date_show_time_screen_number_key": ErrSlotTaken,
	"showtimes_available_seats_check":                            ErrNotEnoughSeats,
	"showtimes_available_seats_max_check":                        ErrSeatCounterOverflow,
	"showtimes_total_seats_check":                                ErrInvalidShowtime,
	"showtimes_screen_number_check":                              ErrInvalidShowtime,
	"showtimes_price_check":                                      ErrInvalidShowtime,
	"bookings_number_of_seats_check":                             ErrInvalidSeats,
	"movie_reviews_rating_check":                                 ErrInvalidRating,
	"theatre_reviews_rating_check":                               ErrInvalidRating,
	"movie_reviews_user_id_movie_id_key":                         ErrAlreadyReviewed,
	"theatre_reviews_user_id_theatre_id_key":                     ErrAlreadyReviewed,
	"theatres_city_id_fkey":                                      ErrCityNotFound,
	"showtimes_movie_id_fkey":                                    ErrMovieNotFound,
	"showtimes_theatre_id_fkey":                                  ErrTheatreNotFound,
	"bookings_user_id_fkey":                                      ErrUserNotFound,
	"bookings_showtime_id_fkey":                                  ErrShowtimeNotFound,
	"movie_reviews_user_id_fkey":                                 ErrUserNotFound,
	"movie_reviews_movie_id_fkey":                                ErrMovieNotFound,
	"theatre_reviews_user_id_fkey":                               ErrUserNotFound,
	"theatre_reviews_theatre_id_fkey":                            ErrTheatreNotFound,
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if domain, ok := constraintErrors[runtime.ConstraintName(err)]; ok {
		return fmt.Errorf("%w: %w", domain, err)
	}
	return err
}
