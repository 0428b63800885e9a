package rental

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/marshallshelly/crudschemas/internal/cache"
	"github.com/marshallshelly/crudschemas/internal/events"
	"github.com/marshallshelly/crudschemas/internal/logging"
	"github.com/marshallshelly/crudschemas/internal/money"
	"github.com/marshallshelly/crudschemas/pkg/builder"
	"github.com/marshallshelly/crudschemas/pkg/runtime"
)

// DefaultRatingTTL bounds how long a rating summary stays cached.
const DefaultRatingTTL = 5 * time.Minute

// Store runs marketplace operations against PostgreSQL.
type Store struct {
	db        runtime.Database
	log       logrus.FieldLogger
	events    events.Publisher
	ratings   cache.Cache
	ratingTTL time.Duration
	now       func() time.Time
}

// NewStore returns a Store on db. Nil log, pub and ratings fall back to a
// discarding logger, no events and no caching.
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
		now:       time.Now,
	}
}

// WithRatingTTL sets the lifetime of cached rating summaries.
func (s *Store) WithRatingTTL(ttl time.Duration) *Store {
	s.ratingTTL = ttl
	return s
}

// WithClock replaces the clock used to decide whether a stay has ended.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) b() *builder.DB {
	return builder.New(s.db)
}

var rejections = []error{
	runtime.ErrNotFound, runtime.ErrDuplicateKey, runtime.ErrForeignKeyViolation,
	runtime.ErrCheckViolation, runtime.ErrNotNullViolation,
	ErrUserNotFound, ErrPropertyNotFound, ErrBookingNotFound, ErrImageNotFound,
	ErrNotWishlisted, ErrNotHost, ErrOwnProperty, ErrPropertyInactive,
	ErrInvalidDates, ErrInvalidGuests, ErrDatesUnavailable, ErrInvalidTransition,
	ErrStayNotFinished, ErrNotReviewable, ErrNotGuest, ErrNotBookingHost, ErrInvalidRating,
	ErrAmenityNotFound, ErrInvalidProperty,
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

// NewUser is the input to CreateUser.
type NewUser struct {
	FirstName    string
	LastName     string
	Email        string
	Phone        *string
	PasswordHash string
	IsHost       bool
}

// CreateUser registers an account. Emails are unique.
func (s *Store) CreateUser(ctx context.Context, in NewUser) (*User, error) {
	u, err := builder.Insert[User](s.b()).Values(User{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        in.Email,
		Phone:        in.Phone,
		PasswordHash: in.PasswordHash,
		IsHost:       in.IsHost,
	}).One(ctx)
	if err != nil {
		return nil, s.fail("create user", err, logrus.Fields{"email": in.Email})
	}
	return u, nil
}

// DeleteUser removes a user with everything they own: listings (and their
// bookings, images and reviews), their own bookings, reviews and wishlist.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	n, err := builder.Delete[User](s.b()).Where(builder.Eq("id", id)).Exec(ctx)
	if err != nil {
		return s.fail("delete user", err, logrus.Fields{"user_id": id})
	}
	if n == 0 {
		return s.fail("delete user", ErrUserNotFound, logrus.Fields{"user_id": id})
	}
	return nil
}

// BecomeHost lets a user list properties.
func (s *Store) BecomeHost(ctx context.Context, userID int64) error {
	n, err := builder.Update[User](s.b()).Set("is_host", true).Where(builder.Eq("id", userID)).Exec(ctx)
	if err != nil {
		return s.fail("become host", err, logrus.Fields{"user_id": userID})
	}
	if n == 0 {
		return s.fail("become host", ErrUserNotFound, logrus.Fields{"user_id": userID})
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

// CreatePropertyType adds a property category such as apartment or cabin.
func (s *Store) CreatePropertyType(ctx context.Context, name string, description *string) (*PropertyType, error) {
	t, err := builder.Insert[PropertyType](s.b()).Values(PropertyType{Name: name, Description: description}).One(ctx)
	if err != nil {
		return nil, s.fail("create property type", err, logrus.Fields{"property_type": name})
	}
	return t, nil
}

// CreateAmenity adds an amenity that properties can offer.
func (s *Store) CreateAmenity(ctx context.Context, name string, icon *string) (*Amenity, error) {
	a, err := builder.Insert[Amenity](s.b()).Values(Amenity{Name: name, Icon: icon}).One(ctx)
	if err != nil {
		return nil, s.fail("create amenity", err, logrus.Fields{"amenity": name})
	}
	return a, nil
}

// NewProperty is the input to ListProperty.
type NewProperty struct {
	HostID         int64
	PropertyTypeID int64
	CityID         int64
	Title          string
	Description    *string
	Address        string
	MaxGuests      int32
	Bedrooms       int32
	Bathrooms      float64
	PricePerNight  money.Cents
	AmenityIDs     []int64
}

// ListProperty creates an active listing with its amenities. The owner must be a host.
func (s *Store) ListProperty(ctx context.Context, in NewProperty) (*Property, error) {
	fields := logrus.Fields{"host_id": in.HostID}
	var p *Property
	err := runtime.RunInTx(ctx, s.db, pgx.TxOptions{}, func(tx *runtime.Tx) error {
		b := builder.New(tx)
		host, err := builder.Select[User](b).Where(builder.Eq("id", in.HostID)).First(ctx)
		if err != nil {
			if builder.IsNotFound(err) {
				return ErrUserNotFound
			}
			return err
		}
		if !host.IsHost {
			return ErrNotHost
		}

		p, err = builder.Insert[Property](b).Values(Property{
			HostID:         in.HostID,
			PropertyTypeID: in.PropertyTypeID,
			CityID:         in.CityID,
			Title:          in.Title,
			Description:    in.Description,
			Address:        in.Address,
			MaxGuests:      in.MaxGuests,
			Bedrooms:       in.Bedrooms,
			Bathrooms:      in.Bathrooms,
			PricePerNight:  in.PricePerNight,
		}).One(ctx)
		if err != nil {
			return err
		}

		amenities := dedupe(in.AmenityIDs)
		if len(amenities) == 0 {
			return nil
		}
		rows := make([]PropertyAmenity, len(amenities))
		for i, id := range amenities {
			rows[i] = PropertyAmenity{PropertyID: p.ID, AmenityID: id}
		}
		_, err = builder.Insert[PropertyAmenity](b).Values(rows...).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, s.fail("list property", err, fields)
	}
	return p, nil
}

// SetActive lists or unlists a property. Inactive properties take no new bookings.
func (s *Store) SetActive(ctx context.Context, propertyID int64, active bool) error {
	n, err := builder.Update[Property](s.b()).Set("is_active", active).Where(builder.Eq("id", propertyID)).Exec(ctx)
	if err != nil {
		return s.fail("set active", err, logrus.Fields{"property_id": propertyID})
	}
	if n == 0 {
		return s.fail("set active", ErrPropertyNotFound, logrus.Fields{"property_id": propertyID})
	}
	return nil
}

// AddAmenity attaches an amenity to a property.
func (s *Store) AddAmenity(ctx context.Context, propertyID, amenityID int64) error {
	_, err := builder.Insert[PropertyAmenity](s.b()).
		Values(PropertyAmenity{PropertyID: propertyID, AmenityID: amenityID}).
		Exec(ctx)
	if err != nil {
		return s.fail("add amenity", err, logrus.Fields{"property_id": propertyID, "amenity_id": amenityID})
	}
	return nil
}

// RemoveAmenity detaches an amenity, failing with ErrAmenityNotFound if the
// property does not offer it.
func (s *Store) RemoveAmenity(ctx context.Context, propertyID, amenityID int64) error {
	fields := logrus.Fields{"property_id": propertyID, "amenity_id": amenityID}
	n, err := builder.Delete[PropertyAmenity](s.b()).
		Where(builder.Eq("property_id", propertyID)).
		And(builder.Eq("amenity_id", amenityID)).
		Exec(ctx)
	if err != nil {
		return s.fail("remove amenity", err, fields)
	}
	if n == 0 {
		return s.fail("remove amenity", ErrAmenityNotFound, fields)
	}
	return nil
}

// AddImage appends an image to a property. The first image of a property
// becomes its primary image.
func (s *Store) AddImage(ctx context.Context, propertyID int64, url string) (*PropertyImage, error) {
	fields := logrus.Fields{"property_id": propertyID}
	var img *PropertyImage
	err := runtime.RunInTx(ctx, s.db, pgx.TxOptions{}, func(tx *runtime.Tx) error {
		b := builder.New(tx)
		// serialise image changes per property
		if _, err := builder.Select[Property](b).Where(builder.Eq("id", propertyID)).ForUpdate().First(ctx); err != nil {
			if builder.IsNotFound(err) {
				return ErrPropertyNotFound
			}
			return err
		}
		count, err := builder.Select[PropertyImage](b).Where(builder.Eq("property_id", propertyID)).Count(ctx)
		if err != nil {
			return err
		}
		img, err = builder.Insert[PropertyImage](b).Values(PropertyImage{
			PropertyID:   propertyID,
			ImageURL:     url,
			IsPrimary:    count == 0,
			DisplayOrder: int32(count),
		}).One(ctx)
		return err
	})
	if err != nil {
		return nil, s.fail("add image", err, fields)
	}
	return img, nil
}

// SetPrimaryImage makes imageID the only primary image of its property.
func (s *Store) SetPrimaryImage(ctx context.Context, propertyID, imageID int64) error {
	fields := logrus.Fields{"property_id": propertyID, "image_id": imageID}
	err := runtime.RunInTx(ctx, s.db, pgx.TxOptions{}, func(tx *runtime.Tx) error {
		b := builder.New(tx)
		exists, err := builder.Select[PropertyImage](b).
			Where(builder.Eq("id", imageID)).
			And(builder.Eq("property_id", propertyID)).
			Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return ErrImageNotFound
		}
		_, err = builder.Update[PropertyImage](b).
			SetExpr("is_primary", fmt.Sprintf("(id = %d)", imageID)).
			Where(builder.Eq("property_id", propertyID)).
			Exec(ctx)
		return err
	})
	if err != nil {
		return s.fail("set primary image", err, fields)
	}
	return nil
}

// BookingRequest asks for a stay from CheckIn to CheckOut (dates only).
type BookingRequest struct {
	PropertyID int64
	GuestID    int64
	CheckIn    time.Time
	CheckOut   time.Time
	Guests     int32
}

func (r BookingRequest) validate() error {
	if !dateOf(r.CheckOut).After(dateOf(r.CheckIn)) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidDates, r.CheckIn.Format(time.DateOnly), r.CheckOut.Format(time.DateOnly))
	}
	if r.Guests <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidGuests, r.Guests)
	}
	return nil
}

// CreateBooking books a stay. The property row is locked first, so every
// booking attempt on one property is serialised and the overlap check
// cannot race another insert.
func (s *Store) CreateBooking(ctx context.Context, req BookingRequest) (*Booking, error) {
	fields := logrus.Fields{
		"property_id": req.PropertyID,
		"guest_id":    req.GuestID,
		"check_in":    req.CheckIn.Format(time.DateOnly),
		"check_out":   req.CheckOut.Format(time.DateOnly),
	}
	if err := req.validate(); err != nil {
		return nil, s.fail("create booking", err, fields)
	}
	in, out := dateOf(req.CheckIn), dateOf(req.CheckOut)

	var booking *Booking
	err := runtime.RunInTx(ctx, s.db, pgx.TxOptions{}, func(tx *runtime.Tx) error {
		b := builder.New(tx)
		p, err := builder.Select[Property](b).Where(builder.Eq("id", req.PropertyID)).ForUpdate().First(ctx)
		if err != nil {
			if builder.IsNotFound(err) {
				return ErrPropertyNotFound
			}
			return err
		}
		switch {
		case !p.IsActive:
			return ErrPropertyInactive
		case p.HostID == req.GuestID:
			return ErrOwnProperty
		case req.Guests > p.MaxGuests:
			return fmt.Errorf("%w: %d guests, property sleeps %d", ErrInvalidGuests, req.Guests, p.MaxGuests)
		}

		taken, err := builder.Select[Booking](b).
			Where(builder.Eq("property_id", p.ID)).
			And(builder.In("booking_status", BookingPending, BookingConfirmed)).
			And(builder.Raw("check_in_date < ? AND check_out_date > ?", out, in)).
			Exists(ctx)
		if err != nil {
			return err
		}
		if taken {
			return ErrDatesUnavailable
		}

		booking, err = builder.Insert[Booking](b).Values(Booking{
			PropertyID:   p.ID,
			GuestID:      req.GuestID,
			CheckInDate:  in,
			CheckOutDate: out,
			Guests:       req.Guests,
			TotalPrice:   p.PricePerNight.Times(int64(nights(in, out))),
		}).One(ctx)
		return err
	})
	if err != nil {
		return nil, s.fail("create booking", err, fields)
	}

	s.log.WithFields(fields).WithField("booking_id", booking.ID).Info("stay booked")
	s.publish(ctx, events.BookingCreated, bookingPayload(booking))
	return booking, nil
}

func bookingPayload(b *Booking) map[string]any {
	return map[string]any{
		"booking_id":     b.ID,
		"property_id":    b.PropertyID,
		"guest_id":       b.GuestID,
		"check_in":       b.CheckInDate.Format(time.DateOnly),
		"check_out":      b.CheckOutDate.Format(time.DateOnly),
		"booking_status": b.BookingStatus,
		"payment_status": b.PaymentStatus,
	}
}

// ConfirmPayment records a successful payment for a pending stay.
func (s *Store) ConfirmPayment(ctx context.Context, bookingID int64) (*Booking, error) {
	return s.apply(ctx, bookingID, EventPaymentSucceeded)
}

// FailPayment records a failed payment for a pending stay.
func (s *Store) FailPayment(ctx context.Context, bookingID int64) (*Booking, error) {
	return s.apply(ctx, bookingID, EventPaymentFailed)
}

// CancelBooking cancels a pending or confirmed stay; a paid stay is refunded.
func (s *Store) CancelBooking(ctx context.Context, bookingID int64) (*Booking, error) {
	return s.apply(ctx, bookingID, EventCancel)
}

// CompleteStay closes a confirmed stay once its check-out date has arrived.
func (s *Store) CompleteStay(ctx context.Context, bookingID int64) (*Booking, error) {
	return s.apply(ctx, bookingID, EventComplete)
}

var eventSubjects = map[string]string{
	BookingConfirmed: events.BookingConfirmed,
	BookingCancelled: events.BookingCancelled,
	BookingCompleted: events.BookingCompleted,
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
		to, err := Transition(current.State(), ev)
		if err != nil {
			return err
		}
		if ev == EventComplete && !CanComplete(current.CheckOutDate, s.now()) {
			return fmt.Errorf("%w: check-out %s", ErrStayNotFinished, current.CheckOutDate.Format(time.DateOnly))
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
		return nil
	})
	if err != nil {
		return nil, s.fail("booking "+string(ev), err, fields)
	}
	if subject, ok := eventSubjects[booking.BookingStatus]; ok {
		s.publish(ctx, subject, bookingPayload(booking))
	}
	return booking, nil
}

// PropertyRatings are the seven scores of a property review, each 1 to 5.
type PropertyRatings struct {
	Overall       int16
	Cleanliness   int16
	Accuracy      int16
	Communication int16
	Location      int16
	CheckIn       int16
	Value         int16
}

func (r PropertyRatings) validate() error {
	scores := []struct {
		name  string
		value int16
	}{
		{"overall", r.Overall},
		{"cleanliness", r.Cleanliness},
		{"accuracy", r.Accuracy},
		{"communication", r.Communication},
		{"location", r.Location},
		{"check_in", r.CheckIn},
		{"value", r.Value},
	}
	for _, sc := range scores {
		if err := validRating(sc.value); err != nil {
			return fmt.Errorf("%s: %w", sc.name, err)
		}
	}
	return nil
}

func validRating(r int16) error {
	if r < 1 || r > 5 {
		return fmt.Errorf("%w: got %d", ErrInvalidRating, r)
	}
	return nil
}

// completedBooking loads a booking that has reached the completed state.
func completedBooking(ctx context.Context, b *builder.DB, bookingID int64) (*Booking, error) {
	booking, err := builder.Select[Booking](b).Where(builder.Eq("id", bookingID)).First(ctx)
	if err != nil {
		if builder.IsNotFound(err) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	if booking.BookingStatus != BookingCompleted {
		return nil, fmt.Errorf("%w: booking is %s", ErrNotReviewable, booking.BookingStatus)
	}
	return booking, nil
}

// ReviewProperty reviews the property of a completed stay; one review per booking.
func (s *Store) ReviewProperty(ctx context.Context, bookingID, guestID int64, r PropertyRatings, text *string) (*PropertyReview, error) {
	fields := logrus.Fields{"booking_id": bookingID, "guest_id": guestID}
	if err := r.validate(); err != nil {
		return nil, s.fail("review property", err, fields)
	}
	booking, err := completedBooking(ctx, s.b(), bookingID)
	if err == nil && booking.GuestID != guestID {
		err = ErrNotGuest
	}
	if err != nil {
		return nil, s.fail("review property", err, fields)
	}
	review, err := builder.Insert[PropertyReview](s.b()).Values(PropertyReview{
		BookingID:           bookingID,
		PropertyID:          booking.PropertyID,
		GuestID:             guestID,
		OverallRating:       r.Overall,
		CleanlinessRating:   r.Cleanliness,
		AccuracyRating:      r.Accuracy,
		CommunicationRating: r.Communication,
		LocationRating:      r.Location,
		CheckInRating:       r.CheckIn,
		ValueRating:         r.Value,
		ReviewText:          text,
	}).One(ctx)
	if err != nil {
		return nil, s.fail("review property", err, fields)
	}
	s.invalidate(ctx, propertyRatingKey(booking.PropertyID))
	s.publish(ctx, events.ReviewPosted, map[string]any{"property_id": booking.PropertyID, "booking_id": bookingID, "rating": r.Overall})
	return review, nil
}

// ReviewGuest lets the host of a completed stay rate its guest, once per
// booking.
func (s *Store) ReviewGuest(ctx context.Context, bookingID, hostID int64, rating int16, text *string) (*HostReview, error) {
	fields := logrus.Fields{"booking_id": bookingID, "host_id": hostID}
	if err := validRating(rating); err != nil {
		return nil, s.fail("review guest", err, fields)
	}
	booking, err := completedBooking(ctx, s.b(), bookingID)
	if err != nil {
		return nil, s.fail("review guest", err, fields)
	}
	p, err := builder.Select[Property](s.b()).Where(builder.Eq("id", booking.PropertyID)).First(ctx)
	if err != nil {
		return nil, s.fail("review guest", err, fields)
	}
	if p.HostID != hostID {
		return nil, s.fail("review guest", ErrNotBookingHost, fields)
	}
	review, err := builder.Insert[HostReview](s.b()).Values(HostReview{
		BookingID:  bookingID,
		HostID:     hostID,
		GuestID:    booking.GuestID,
		Rating:     rating,
		ReviewText: text,
	}).One(ctx)
	if err != nil {
		return nil, s.fail("review guest", err, fields)
	}
	s.invalidate(ctx, guestRatingKey(booking.GuestID))
	s.publish(ctx, events.ReviewPosted, map[string]any{"guest_id": booking.GuestID, "host_id": hostID, "booking_id": bookingID, "rating": rating})
	return review, nil
}

func (s *Store) invalidate(ctx context.Context, key string) {
	if err := cache.Invalidate(ctx, s.ratings, key); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("rating cache not invalidated")
	}
}

// AddToWishlist saves a property for a user.
func (s *Store) AddToWishlist(ctx context.Context, userID, propertyID int64) error {
	_, err := builder.Insert[Wishlist](s.b()).Values(Wishlist{UserID: userID, PropertyID: propertyID}).Exec(ctx)
	if err != nil {
		return s.fail("add to wishlist", err, logrus.Fields{"user_id": userID, "property_id": propertyID})
	}
	return nil
}

// RemoveFromWishlist drops a saved property, failing with ErrNotWishlisted if
// it was not saved.
func (s *Store) RemoveFromWishlist(ctx context.Context, userID, propertyID int64) error {
	fields := logrus.Fields{"user_id": userID, "property_id": propertyID}
	n, err := builder.Delete[Wishlist](s.b()).
		Where(builder.Eq("user_id", userID)).
		And(builder.Eq("property_id", propertyID)).
		Exec(ctx)
	if err != nil {
		return s.fail("remove from wishlist", err, fields)
	}
	if n == 0 {
		return s.fail("remove from wishlist", ErrNotWishlisted, fields)
	}
	return nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
