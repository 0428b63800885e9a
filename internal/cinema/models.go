// Package cinema is the movie ticket booking system: cities, theatres,
// movies and their showtimes, seat bookings and reviews.
package cinema

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/marshallshelly/crudschemas/internal/money"
	"github.com/marshallshelly/crudschemas/pkg/schema"
)

const Schema = "cinema"

type User struct {
	ID           int64     `po:"id,bigint,primaryKey,identity"`
	Name         string    `po:"name,varchar(100),notNull"`
	Email        string    `po:"email,varchar(255),notNull,unique"`
	Phone        *string   `po:"phone,varchar(20)"`
	PasswordHash string    `po:"password_hash,varchar(255),notNull"`
	CreatedAt    time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
	UpdatedAt    time.Time `po:"updated_at,timestamptz,notNull,default(NOW()),autoUpdate"`
}

func (User) TableName() string { return "cinema.users" }

// City is unique on (name, state, country). Rows with a NULL state never
// collide with each other.
type City struct {
	ID        int64     `po:"id,bigint,primaryKey,identity"`
	Name      string    `po:"name,varchar(100),notNull,unique(place)"`
	State     *string   `po:"state,varchar(100),unique(place)"`
	Country   string    `po:"country,varchar(100),notNull,unique(place)"`
	CreatedAt time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
}

func (City) TableName() string { return "cinema.cities" }

type Theatre struct {
	ID           int64     `po:"id,bigint,primaryKey,identity"`
	CityID       int64     `po:"city_id,bigint,notNull,fk(cities.id),onDelete(cascade),index"`
	Name         string    `po:"name,varchar(150),notNull"`
	Address      string    `po:"address,text,notNull"`
	TotalScreens int32     `po:"total_screens,integer,notNull,default(1),check(total_screens > 0)"`
	CreatedAt    time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
	UpdatedAt    time.Time `po:"updated_at,timestamptz,notNull,default(NOW()),autoUpdate"`
}

func (Theatre) TableName() string { return "cinema.theatres" }

type Movie struct {
	ID              int64     `po:"id,bigint,primaryKey,identity"`
	Title           string    `po:"title,varchar(255),notNull,index"`
	Description     *string   `po:"description,text"`
	DurationMinutes int32     `po:"duration_minutes,integer,notNull,check(duration_minutes > 0)"`
	Language        string    `po:"language,varchar(50),notNull"`
	Genre           *string   `po:"genre,varchar(100)"`
	ReleaseDate     time.Time `po:"release_date,date,notNull,index"`
	Certificate     *string   `po:"certificate,varchar(10)"`
	CreatedAt       time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
	UpdatedAt       time.Time `po:"updated_at,timestamptz,notNull,default(NOW()),autoUpdate"`
}

func (Movie) TableName() string { return "cinema.movies" }

// Showtime is one screening. AvailableSeats is a cached counter maintained by
// the booking transactions in Store, not by a constraint.
type Showtime struct {
	ID             int64       `po:"id,bigint,primaryKey,identity"`
	MovieID        int64       `po:"movie_id,bigint,notNull,fk(movies.id),onDelete(cascade)"`
	TheatreID      int64       `po:"theatre_id,bigint,notNull,unique(slot),fk(theatres.id),onDelete(cascade),index"`
	ShowDate       time.Time   `po:"show_date,date,notNull,unique(slot)"`
	ShowTime       pgtype.Time `po:"show_time,time,notNull,unique(slot)"`
	ScreenNumber   int32       `po:"screen_number,integer,notNull,unique(slot),check(screen_number > 0)"`
	TotalSeats     int32       `po:"total_seats,integer,notNull,check(total_seats > 0)"`
	AvailableSeats int32       `po:"available_seats,integer,notNull"`
	Price          money.Cents `po:"price,numeric(10,2),notNull,check(price >= 0)"`
	CreatedAt      time.Time   `po:"created_at,timestamptz,notNull,default(NOW())"`
	UpdatedAt      time.Time   `po:"updated_at,timestamptz,notNull,default(NOW()),autoUpdate"`
}

func (Showtime) TableName() string { return "cinema.showtimes" }

func (Showtime) TableOptions() schema.TableOptions {
	return schema.TableOptions{
		Checks: []schema.Check{
			{Name: "showtimes_available_seats_check", Expr: "available_seats >= 0"},
			{Name: "showtimes_available_seats_max_check", Expr: "available_seats <= total_seats"},
		},
		Indexes: []schema.IndexMetadata{
			{Name: "idx_showtimes_movie_id_show_date", Columns: []string{"movie_id", "show_date"}},
		},
	}
}

// Booking holds seats on one showtime for one user.
type Booking struct {
	ID               int64       `po:"id,bigint,primaryKey,identity"`
	BookingReference string      `po:"booking_reference,varchar(20),notNull,unique"`
	UserID           int64       `po:"user_id,bigint,notNull,fk(users.id),onDelete(cascade),index"`
	ShowtimeID       int64       `po:"showtime_id,bigint,notNull,fk(showtimes.id),onDelete(cascade),index"`
	NumberOfSeats    int32       `po:"number_of_seats,integer,notNull,check(number_of_seats > 0)"`
	SeatNumbers      []string    `po:"seat_numbers,text[]"`
	TotalAmount      money.Cents `po:"total_amount,numeric(10,2),notNull"`
	BookingStatus    string      `po:"booking_status,enum(booking_status:pending|confirmed|cancelled),notNull,default('pending'),index"`
	PaymentStatus    string      `po:"payment_status,enum(payment_status:pending|completed|failed),notNull,default('pending')"`
	CreatedAt        time.Time   `po:"created_at,timestamptz,notNull,default(NOW())"`
	UpdatedAt        time.Time   `po:"updated_at,timestamptz,notNull,default(NOW()),autoUpdate"`
}

func (Booking) TableName() string { return "cinema.bookings" }

// State returns the booking's position in the booking state machine.
func (b Booking) State() State {
	return State{Booking: b.BookingStatus, Payment: b.PaymentStatus}
}

type MovieReview struct {
	ID         int64     `po:"id,bigint,primaryKey,identity"`
	UserID     int64     `po:"user_id,bigint,notNull,unique(author),fk(users.id),onDelete(cascade)"`
	MovieID    int64     `po:"movie_id,bigint,notNull,unique(author),fk(movies.id),onDelete(cascade),index"`
	Rating     int16     `po:"rating,smallint,notNull,check(rating BETWEEN 1 AND 10)"`
	ReviewText *string   `po:"review_text,text"`
	CreatedAt  time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
	UpdatedAt  time.Time `po:"updated_at,timestamptz,notNull,default(NOW()),autoUpdate"`
}

func (MovieReview) TableName() string { return "cinema.movie_reviews" }

type TheatreReview struct {
	ID         int64     `po:"id,bigint,primaryKey,identity"`
	UserID     int64     `po:"user_id,bigint,notNull,unique(author),fk(users.id),onDelete(cascade)"`
	TheatreID  int64     `po:"theatre_id,bigint,notNull,unique(author),fk(theatres.id),onDelete(cascade),index"`
	Rating     int16     `po:"rating,smallint,notNull,check(rating BETWEEN 1 AND 10)"`
	ReviewText *string   `po:"review_text,text"`
	CreatedAt  time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
	UpdatedAt  time.Time `po:"updated_at,timestamptz,notNull,default(NOW()),autoUpdate"`
}

func (TheatreReview) TableName() string { return "cinema.theatre_reviews" }

// Models lists the cinema tables in dependency order.
func Models() []any {
	return []any{
		User{}, City{}, Theatre{}, Movie{}, Showtime{},
		Booking{}, MovieReview{}, TheatreReview{},
	}
}
