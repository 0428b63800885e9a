package rental

import (
	"errors"
	"fmt"

	"github.com/marshallshelly/crudschemas/pkg/runtime"
)

var (
	ErrUserNotFound          = errors.New("user not found")
	ErrPropertyNotFound      = errors.New("property not found")
	ErrPropertyTypeNotFound  = errors.New("property type not found")
	ErrCityNotFound          = errors.New("city not found")
	ErrAmenityNotFound       = errors.New("amenity not found")
	ErrImageNotFound         = errors.New("image not found")
	ErrBookingNotFound       = errors.New("booking not found")
	ErrDuplicateEmail        = errors.New("email already registered")
	ErrDuplicateCity         = errors.New("city already exists")
	ErrDuplicatePropertyType = errors.New("property type already exists")
	ErrDuplicateAmenity      = errors.New("amenity already exists")
	ErrAmenityAlreadyAdded   = errors.New("property already has amenity")
	ErrAlreadyWishlisted     = errors.New("property already in wishlist")
	ErrNotWishlisted         = errors.New("property not in wishlist")
	ErrNotHost               = errors.New("user is not a host")
	ErrOwnProperty           = errors.New("hosts cannot book their own property")
	ErrPropertyInactive      = errors.New("property is not active")
	ErrInvalidProperty       = errors.New("invalid property details")
	ErrInvalidDates          = errors.New("check-out must be after check-in")
	ErrInvalidGuests         = errors.New("invalid number of guests")
	ErrDatesUnavailable      = errors.New("property already booked for those dates")
	ErrInvalidTransition     = errors.New("invalid booking transition")
	ErrStayNotFinished       = errors.New("stay has not ended yet")
	ErrNotReviewable         = errors.New("only completed stays can be reviewed")
	ErrNotGuest              = errors.New("booking belongs to another guest")
	ErrNotBookingHost        = errors.New("booking is for another host's property")
	ErrInvalidRating         = errors.New("rating must be between 1 and 5")
	ErrAlreadyReviewed       = errors.New("already reviewed")
)

var constraintErrors = map[string]error{
	"users_email_key":                               ErrDuplicateEmail,
	"cities_name_state_country_key":                 ErrDuplicateCity,
	"property_types_name_key":                       ErrDuplicatePropertyType,
	"amenities_name_key":                            ErrDuplicateAmenity,
	"property_amenities_property_id_amenity_id_key": ErrAmenityAlreadyAdded,
	"wishlists_user_id_property_id_key":             ErrAlreadyWishlisted,
	"property_reviews_booking_id_key":               ErrAlreadyReviewed,
	"host_reviews_booking_id_host_id_key":           ErrAlreadyReviewed,

	"properties_max_guests_check":      ErrInvalidProperty,
	"properties_bedrooms_check":        ErrInvalidProperty,
	"properties_bathrooms_check":       ErrInvalidProperty,
	"properties_price_per_night_check": ErrInvalidProperty,
	"bookings_dates_check":             ErrInvalidDates,
	"bookings_guests_check":            ErrInvalidGuests,

	"property_reviews_overall_rating_check":       ErrInvalidRating,
	"property_reviews_cleanliness_rating_check":   ErrInvalidRating,
	"property_reviews_accuracy_rating_check":      ErrInvalidRating,
	"property_reviews_communication_rating_check": ErrInvalidRating,
	"property_reviews_location_rating_check":      ErrInvalidRating,
	"property_reviews_check_in_rating_check":      ErrInvalidRating,
	"property_reviews_value_rating_check":         ErrInvalidRating,
	"host_reviews_rating_check":                   ErrInvalidRating,

	"properties_host_id_fkey":             ErrUserNotFound,
	"properties_property_type_id_fkey":    ErrPropertyTypeNotFound,
	"properties_city_id_fkey":             ErrCityNotFound,
	"property_images_property_id_fkey":    ErrPropertyNotFound,
	"property_amenities_property_id_fkey": ErrPropertyNotFound,
	"property_amenities_amenity_id_fkey":  ErrAmenityNotFound,
	"bookings_guest_id_fkey":              ErrUserNotFound,
	"wishlists_user_id_fkey":              ErrUserNotFound,
	"wishlists_property_id_fkey":          ErrPropertyNotFound,
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
