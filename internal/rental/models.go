// Package rental is the short-stay rental marketplace: hosts list
// properties, guests book date ranges and review the property, and hosts
// rate their guests.
package rental

import (
	"time"

	"github.com/marshallshelly/crudschemas/internal/money"
	"github.com/marshallshelly/crudschemas/pkg/schema"
)

const Schema = "rental"

type User struct {
	ID              int64     `po:"id,bigint,primaryKey,identity"`
	FirstName       string    `po:"first_name,varchar(100),notNull"`
	LastName        string    `po:"last_name,varchar(100),notNull"`
	Email           string    `po:"email,varchar(255),notNull,unique"`
	Phone           *string   `po:"phone,varchar(20)"`
	PasswordHash    string    `po:"password_hash,varchar(255),notNull"`
	IsHost          bool      `po:"is_host,boolean,notNull,default(false)"`
	ProfileImageURL *string   `po:"profile_image_url,text"`
	CreatedAt       time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
	UpdatedAt       time.Time `po:"updated_at,timestamptz,notNull,default(NOW()),autoUpdate"`
}

func (User) TableName() string { return "rental.users" }

type City struct {
	ID        int64     `po:"id,bigint,primaryKey,identity"`
	Name      string    `po:"name,varchar(100),notNull,unique(place)"`
	State     *string   `po:"state,varchar(100),unique(place)"`
	Country   string    `po:"country,varchar(100),notNull,unique(place)"`
	CreatedAt time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
}

func (City) TableName() string { return "rental.cities" }

type PropertyType struct {
	ID          int64     `po:"id,bigint,primaryKey,identity"`
	Name        string    `po:"name,varchar(50),notNull,unique"`
	Description *string   `po:"description,text"`
	CreatedAt   time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
}

func (PropertyType) TableName() string { return "rental.property_types" }

// Property is a listing. A zero IsActive on insert falls back to the column
// default (true); use Store.SetActive to deactivate.
type Property struct {
	ID             int64       `po:"id,bigint,primaryKey,identity"`
	HostID         int64       `po:"host_id,bigint,notNull,fk(users.id),onDelete(cascade),index"`
	PropertyTypeID int64       `po:"property_type_id,bigint,notNull,fk(property_types.id),onDelete(cascade),index"`
	CityID         int64       `po:"city_id,bigint,notNull,fk(cities.id),onDelete(cascade),index"`
	Title          string      `po:"title,varchar(255),notNull"`
	Description    *string     `po:"description,text"`
	Address        string      `po:"address,text,notNull"`
	MaxGuests      int32       `po:"max_guests,integer,notNull,check(max_guests > 0)"`
	Bedrooms       int32       `po:"bedrooms,integer,notNull,check(bedrooms >= 0)"`
	Bathrooms      float64     `po:"bathrooms,numeric(3,1),notNull,check(bathrooms >= 0)"`
	PricePerNight  money.Cents `po:"price_per_night,numeric(10,2),notNull,check(price_per_night > 0),index"`
	IsActive       bool        `po:"is_active,boolean,notNull,default(true)"`
	CreatedAt      time.Time   `po:"created_at,timestamptz,notNull,default(NOW())"`
	UpdatedAt      time.Time   `po:"updated_at,timestamptz,notNull,default(NOW()),autoUpdate"`
}

func (Property) TableName() string { return "rental.properties" }

// PropertyImage rows of one property have at most one IsPrimary set; the
// store keeps that true, the schema does not.
type PropertyImage struct {
	ID           int64     `po:"id,bigint,primaryKey,identity"`
	PropertyID   int64     `po:"property_id,bigint,notNull,fk(properties.id),onDelete(cascade),index"`
	ImageURL     string    `po:"image_url,text,notNull"`
	IsPrimary    bool      `po:"is_primary,boolean,notNull,default(false)"`
	DisplayOrder int32     `po:"display_order,integer,notNull,default(0)"`
	CreatedAt    time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
}

func (PropertyImage) TableName() string { return "rental.property_images" }

type Amenity struct {
	ID        int64     `po:"id,bigint,primaryKey,identity"`
	Name      string    `po:"name,varchar(100),notNull,unique"`
	Icon      *string   `po:"icon,varchar(100)"`
	CreatedAt time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
}

func (Amenity) TableName() string { return "rental.amenities" }

type PropertyAmenity struct {
	ID         int64     `po:"id,bigint,primaryKey,identity"`
	PropertyID int64     `po:"property_id,bigint,notNull,unique(pair),fk(properties.id),onDelete(cascade)"`
	AmenityID  int64     `po:"amenity_id,bigint,notNull,unique(pair),fk(amenities.id),onDelete(cascade),index"`
	CreatedAt  time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
}

func (PropertyAmenity) TableName() string { return "rental.property_amenities" }

// Booking covers the nights from CheckInDate up to, not including,
// CheckOutDate. Overlap with other active bookings is prevented by
// Store.CreateBooking, not by the schema.
type Booking struct {
	ID            int64       `po:"id,bigint,primaryKey,identity"`
	PropertyID    int64       `po:"property_id,bigint,notNull,fk(properties.id),onDelete(cascade)"`
	GuestID       int64       `po:"guest_id,bigint,notNull,fk(users.id),onDelete(cascade),index"`
	CheckInDate   time.Time   `po:"check_in_date,date,notNull"`
	CheckOutDate  time.Time   `po:"check_out_date,date,notNull"`
	Guests        int32       `po:"guests,integer,notNull,check(guests > 0)"`
	TotalPrice    money.Cents `po:"total_price,numeric(10,2),notNull,check(total_price >= 0)"`
	BookingStatus string      `po:"booking_status,enum(booking_status:pending|confirmed|cancelled|completed),notNull,default('pending'),index"`
	PaymentStatus string      `po:"payment_status,enum(payment_status:pending|completed|failed|refunded),notNull,default('pending')"`
	CreatedAt     time.Time   `po:"created_at,timestamptz,notNull,default(NOW())"`
	UpdatedAt     time.Time   `po:"updated_at,timestamptz,notNull,default(NOW()),autoUpdate"`
}

func (Booking) TableName() string { return "rental.bookings" }

func (Booking) TableOptions() schema.TableOptions {
	return schema.TableOptions{
		Checks: []schema.Check{
			{Name: "bookings_dates_check", Expr: "check_out_date > check_in_date"},
		},
		Indexes: []schema.IndexMetadata{
			{Name: "idx_bookings_property_dates", Columns: []string{"property_id", "check_in_date", "check_out_date"}},
		},
	}
}

func (b Booking) State() State {
	return State{Booking: b.BookingStatus, Payment: b.PaymentStatus}
}

// Nights is the length of the stay.
func (b Booking) Nights() int {
	return nights(b.CheckInDate, b.CheckOutDate)
}

type PropertyReview struct {
	ID                  int64     `po:"id,bigint,primaryKey,identity"`
	BookingID           int64     `po:"booking_id,bigint,notNull,unique,fk(bookings.id),onDelete(cascade)"`
	PropertyID          int64     `po:"property_id,bigint,notNull,fk(properties.id),onDelete(cascade),index"`
	GuestID             int64     `po:"guest_id,bigint,notNull,fk(users.id),onDelete(cascade)"`
	OverallRating       int16     `po:"overall_rating,smallint,notNull,check(overall_rating BETWEEN 1 AND 5)"`
	CleanlinessRating   int16     `po:"cleanliness_rating,smallint,notNull,check(cleanliness_rating BETWEEN 1 AND 5)"`
	AccuracyRating      int16     `po:"accuracy_rating,smallint,notNull,check(accuracy_rating BETWEEN 1 AND 5)"`
	CommunicationRating int16     `po:"communication_rating,smallint,notNull,check(communication_rating BETWEEN 1 AND 5)"`
	LocationRating      int16     `po:"location_rating,smallint,notNull,check(location_rating BETWEEN 1 AND 5)"`
	CheckInRating       int16     `po:"check_in_rating,smallint,notNull,check(check_in_rating BETWEEN 1 AND 5)"`
	ValueRating         int16     `po:"value_rating,smallint,notNull,check(value_rating BETWEEN 1 AND 5)"`
	ReviewText          *string   `po:"review_text,text"`
	CreatedAt           time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
	UpdatedAt           time.Time `po:"updated_at,timestamptz,notNull,default(NOW()),autoUpdate"`
}

func (PropertyReview) TableName() string { return "rental.property_reviews" }

// HostReview is a host's rating of the guest of one completed stay.
type HostReview struct {
	ID         int64     `po:"id,bigint,primaryKey,identity"`
	BookingID  int64     `po:"booking_id,bigint,notNull,unique(booking_host),fk(bookings.id),onDelete(cascade)"`
	HostID     int64     `po:"host_id,bigint,notNull,unique(booking_host),fk(users.id),onDelete(cascade)"`
	GuestID    int64     `po:"guest_id,bigint,notNull,fk(users.id),onDelete(cascade),index"`
	Rating     int16     `po:"rating,smallint,notNull,check(rating BETWEEN 1 AND 5)"`
	ReviewText *string   `po:"review_text,text"`
	CreatedAt  time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
}

func (HostReview) TableName() string { return "rental.host_reviews" }

type Wishlist struct {
	ID         int64     `po:"id,bigint,primaryKey,identity"`
	UserID     int64     `po:"user_id,bigint,notNull,unique(pair),fk(users.id),onDelete(cascade)"`
	PropertyID int64     `po:"property_id,bigint,notNull,unique(pair),fk(properties.id),onDelete(cascade)"`
	CreatedAt  time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
}

func (Wishlist) TableName() string { return "rental.wishlists" }

// Models lists the rental tables in dependency order.
func Models() []any {
	return []any{
		User{}, City{}, PropertyType{}, Property{}, PropertyImage{},
		Amenity{}, PropertyAmenity{}, Booking{}, PropertyReview{},
		HostReview{}, Wishlist{},
	}
}
