package rental

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/marshallshelly/crudschemas/internal/cache"
	"github.com/marshallshelly/crudschemas/internal/money"
	"github.com/marshallshelly/crudschemas/pkg/builder"
)

// DefaultPageSize caps search results when SearchQuery.Limit is zero.
const DefaultPageSize = 50

// SearchQuery filters available properties. Zero CityID, MaxPrice and
// AmenityIDs mean no filter on that field.
type SearchQuery struct {
	CityID     int64
	CheckIn    time.Time
	CheckOut   time.Time
	Guests     int32
	MaxPrice   *money.Cents
	AmenityIDs []int64
	Limit      int
}

// Available is a search hit.
type Available struct {
	Property
	CityName     string      `po:"city_name"`
	PrimaryImage *string     `po:"primary_image"`
	TotalPrice   money.Cents `po:"total_price"`
}

// A property is available when it is active, large enough, and has no
// pending or confirmed booking overlapping [check_in, check_out).
// With amenities given, it must have every one of them.
const searchSQL = `
SELECT p.*, c.name AS city_name,
       (SELECT i.image_url FROM rental.property_images i
         WHERE i.property_id = p.id AND i.is_primary LIMIT 1) AS primary_image,
       p.price_per_night * ($3::date - $2::date) AS total_price
FROM rental.properties p
JOIN rental.cities c ON c.id = p.city_id
WHERE p.is_active
  AND ($1::bigint = 0 OR p.city_id = $1)
  AND p.max_guests >= $4
  AND ($5::numeric IS NULL OR p.price_per_night <= $5)
  AND NOT EXISTS (
        SELECT 1 FROM rental.bookings b
        WHERE b.property_id = p.id
          AND b.booking_status IN ('pending', 'confirmed')
          AND b.check_in_date < $3 AND b.check_out_date > $2)
  AND (cardinality($6::bigint[]) = 0 OR p.id IN (
        SELECT pa.property_id FROM rental.property_amenities pa
        WHERE pa.amenity_id = ANY($6)
        GROUP BY pa.property_id
        HAVING COUNT(DISTINCT pa.amenity_id) = cardinality($6::bigint[])))
ORDER BY p.price_per_night, p.id
LIMIT $7`

// SearchAvailable lists properties bookable for the whole stay, cheapest first.
func (s *Store) SearchAvailable(ctx context.Context, q SearchQuery) ([]Available, error) {
	req := BookingRequest{CheckIn: q.CheckIn, CheckOut: q.CheckOut, Guests: q.Guests}
	if err := req.validate(); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	amenities := dedupe(q.AmenityIDs)

	rows, err := builder.Query[Available](ctx, s.b(), searchSQL,
		q.CityID, date(q.CheckIn), date(q.CheckOut), q.Guests, q.MaxPrice, amenities, limit)
	if err != nil {
		return nil, fmt.Errorf("search available: %w", err)
	}
	return rows, nil
}

func date(t time.Time) pgtype.Date {
	return pgtype.Date{Time: dateOf(t), Valid: true}
}

// Stay is one entry of a guest's booking history.
type Stay struct {
	Booking
	PropertyTitle string `po:"property_title"`
	CityName      string `po:"city_name"`
	Reviewed      bool   `po:"reviewed"`
}

const historySQL = `
SELECT b.*, p.title AS property_title, c.name AS city_name,
       EXISTS (SELECT 1 FROM rental.property_reviews r WHERE r.booking_id = b.id) AS reviewed
FROM rental.bookings b
JOIN rental.properties p ON p.id = b.property_id
JOIN rental.cities c ON c.id = p.city_id
WHERE b.guest_id = $1
ORDER BY b.check_in_date DESC, b.id DESC`

// BookingHistory lists a guest's stays, latest check-in first.
func (s *Store) BookingHistory(ctx context.Context, guestID int64) ([]Stay, error) {
	stays, err := builder.Query[Stay](ctx, s.b(), historySQL, guestID)
	if err != nil {
		return nil, fmt.Errorf("booking history for guest %d: %w", guestID, err)
	}
	return stays, nil
}

// Reservations lists the bookings of a property that still hold dates.
func (s *Store) Reservations(ctx context.Context, propertyID int64) ([]Booking, error) {
	bs, err := builder.Select[Booking](s.b()).
		Where(builder.Eq("property_id", propertyID)).
		And(builder.In("booking_status", BookingPending, BookingConfirmed)).
		OrderByAsc("check_in_date").
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("reservations of property %d: %w", propertyID, err)
	}
	return bs, nil
}

// Images returns a property's images, primary first.
func (s *Store) Images(ctx context.Context, propertyID int64) ([]PropertyImage, error) {
	imgs, err := builder.Select[PropertyImage](s.b()).
		Where(builder.Eq("property_id", propertyID)).
		OrderByDesc("is_primary").
		OrderByAsc("display_order").
		OrderByAsc("id").
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("images of property %d: %w", propertyID, err)
	}
	return imgs, nil
}

// Wishlist returns the properties a user saved, most recent first.
func (s *Store) Wishlist(ctx context.Context, userID int64) ([]Property, error) {
	ps, err := builder.Select[Property](s.b()).
		Columns("rental.properties.*").
		InnerJoin("rental.wishlists w", "w.property_id = rental.properties.id").
		Where(builder.Eq("w.user_id", userID)).
		OrderByDesc("w.created_at").
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("wishlist of user %d: %w", userID, err)
	}
	return ps, nil
}

// AmenitiesOf lists a property's amenities by name.
func (s *Store) AmenitiesOf(ctx context.Context, propertyID int64) ([]Amenity, error) {
	as, err := builder.Select[Amenity](s.b()).
		Columns("rental.amenities.*").
		InnerJoin("rental.property_amenities pa", "pa.amenity_id = rental.amenities.id").
		Where(builder.Eq("pa.property_id", propertyID)).
		OrderByAsc("rental.amenities.name").
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("amenities of property %d: %w", propertyID, err)
	}
	return as, nil
}

// PropertyRatingSummary averages every score of a property's reviews.
type PropertyRatingSummary struct {
	Count         int64   `po:"count" json:"count"`
	Overall       float64 `po:"overall" json:"overall"`
	Cleanliness   float64 `po:"cleanliness" json:"cleanliness"`
	Accuracy      float64 `po:"accuracy" json:"accuracy"`
	Communication float64 `po:"communication" json:"communication"`
	Location      float64 `po:"location" json:"location"`
	CheckIn       float64 `po:"check_in" json:"check_in"`
	Value         float64 `po:"value" json:"value"`
}

// GuestRatingSummary aggregates the ratings hosts gave a guest.
type GuestRatingSummary struct {
	Count   int64   `po:"count" json:"count"`
	Average float64 `po:"average" json:"average"`
}

func propertyRatingKey(id int64) string { return cache.Key(Schema, "property_rating", id) }
func guestRatingKey(id int64) string    { return cache.Key(Schema, "guest_rating", id) }

const propertyRatingSQL = `
SELECT COUNT(*) AS count,
       COALESCE(AVG(overall_rating), 0)::float8       AS overall,
       COALESCE(AVG(cleanliness_rating), 0)::float8   AS cleanliness,
       COALESCE(AVG(accuracy_rating), 0)::float8      AS accuracy,
       COALESCE(AVG(communication_rating), 0)::float8 AS communication,
       COALESCE(AVG(location_rating), 0)::float8      AS location,
       COALESCE(AVG(check_in_rating), 0)::float8      AS check_in,
       COALESCE(AVG(value_rating), 0)::float8         AS value
FROM rental.property_reviews WHERE property_id = $1`

const guestRatingSQL = `
SELECT COUNT(*) AS count, COALESCE(AVG(rating), 0)::float8 AS average
FROM rental.host_reviews WHERE guest_id = $1`

// PropertyRating summarises a property's reviews, served from the rating
// cache when possible.
func (s *Store) PropertyRating(ctx context.Context, propertyID int64) (PropertyRatingSummary, error) {
	return rating[PropertyRatingSummary](ctx, s, propertyRatingKey(propertyID), propertyRatingSQL, propertyID)
}

// GuestRating summarises how hosts rated a guest.
func (s *Store) GuestRating(ctx context.Context, guestID int64) (GuestRatingSummary, error) {
	return rating[GuestRatingSummary](ctx, s, guestRatingKey(guestID), guestRatingSQL, guestID)
}

func rating[T any](ctx context.Context, s *Store, key, sql string, id int64) (T, error) {
	summary, err := cache.ReadThrough(ctx, s.ratings, s.log, key, s.ratingTTL, func(ctx context.Context) (*T, error) {
		return builder.QueryOne[T](ctx, s.b(), sql, id)
	})
	if err != nil {
		return summary, fmt.Errorf("rating %s: %w", key, err)
	}
	return summary, nil
}

// Booking loads one booking.
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

// Property loads one listing, active or not.
func (s *Store) Property(ctx context.Context, id int64) (*Property, error) {
	p, err := builder.Select[Property](s.b()).Where(builder.Eq("id", id)).First(ctx)
	if err != nil {
		if builder.IsNotFound(err) {
			err = ErrPropertyNotFound
		}
		return nil, fmt.Errorf("property %d: %w", id, err)
	}
	return p, nil
}
