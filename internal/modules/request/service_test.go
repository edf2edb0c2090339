// README: DB-backed lifecycle tests for the request service.
package request

import (
	"context"
	"crypto/rand"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"handoff/internal/infra/dbtest"
	"handoff/internal/modules/trip"
	"handoff/internal/otp"
	"handoff/internal/types"
)

var codePattern = regexp.MustCompile(`^\d{6}$`)

var testPhotos = []string{"https://cdn.example.com/p/1.jpg", "https://cdn.example.com/p/2.jpg"}

type recordingNotifier struct {
	mu  sync.Mutex
	got []StatusNotification
	err error
}

func (n *recordingNotifier) NotifyStatusChange(_ context.Context, sn StatusNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, sn)
	return n.err
}

func (n *recordingNotifier) statuses() []Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Status, len(n.got))
	for i, sn := range n.got {
		out[i] = sn.Status
	}
	return out
}

func testConfig() Config {
	return Config{
		PickupOTPTTL:   48 * time.Hour,
		DeliveryOTPTTL: 72 * time.Hour,
		CancelWindow:   DefaultCancelWindow,
		RequiredPhotos: 2,
	}
}

// newTestService builds a service whose clock and code generator follow *clock.
func newTestService(db *pgxpool.Pool, notifier Notifier, clock *time.Time) *Service {
	svc := NewService(db, testConfig(), notifier, zap.NewNop())
	now := func() time.Time { return *clock }
	svc.now = now
	svc.codes = otp.NewGeneratorWith(rand.Reader, now)
	return svc
}

func createTrip(ctx context.Context, trips *trip.Service, slots int) (*trip.Trip, error) {
	t, err := trips.Create(ctx, trip.CreateCommand{
		TravellerID:       types.NewID(),
		Source:            "Pune",
		Destination:       "Hyderabad",
		TransportMode:     trip.ModeTrain,
		DepartureAt:       time.Now().Add(5 * 24 * time.Hour),
		ArrivalAt:         time.Now().Add(5*24*time.Hour + 12*time.Hour),
		TotalSlots:        slots,
		AllowedCategories: []string{"documents", "electronics"},
	})
	if err != nil {
		return nil, err
	}
	// Re-read so DepartureAt carries the database's precision.
	return trips.Get(ctx, t.ID)
}

func createCommand(tripID, senderID types.ID) CreateCommand {
	return CreateCommand{
		TripID:               tripID,
		SenderID:             senderID,
		ItemDescription:      "Signed contract documents",
		Category:             "Documents",
		ParcelPhotos:         testPhotos,
		DeliveryContactName:  "Asha",
		DeliveryContactPhone: "+91 98765 43210",
	}
}

type LifecycleSuite struct {
	suite.Suite
	db     *pgxpool.Pool
	trips  *trip.Service
	svc    *Service
	notes  *recordingNotifier
	clock  time.Time
	trip   *trip.Trip
	sender types.ID
}

func TestLifecycleSuite(t *testing.T) {
	suite.Run(t, new(LifecycleSuite))
}

func (s *LifecycleSuite) SetupSuite() {
	s.db = dbtest.Open(s.T())
	s.trips = trip.NewService(s.db, zap.NewNop())
}

func (s *LifecycleSuite) SetupTest() {
	s.clock = time.Now()
	s.notes = &recordingNotifier{}
	s.svc = newTestService(s.db, s.notes, &s.clock)

	tr, err := createTrip(context.Background(), s.trips, 2)
	s.Require().NoError(err)
	s.trip = tr
	s.sender = types.NewID()
}

func (s *LifecycleSuite) newRequest() *Request {
	r, err := s.svc.Create(context.Background(), createCommand(s.trip.ID, s.sender))
	s.Require().NoError(err)
	return r
}

func (s *LifecycleSuite) accepted() (*Request, *AcceptResult) {
	r := s.newRequest()
	res, err := s.svc.Accept(context.Background(), AcceptCommand{RequestID: r.ID, TravellerID: s.trip.TravellerID})
	s.Require().NoError(err)
	return r, res
}

func (s *LifecycleSuite) tripNow() *trip.Trip {
	t, err := s.trips.Get(context.Background(), s.trip.ID)
	s.Require().NoError(err)
	return t
}

func (s *LifecycleSuite) TestHappyPath() {
	ctx := context.Background()
	r := s.newRequest()
	s.Equal(StatusPending, r.Status)
	s.Equal("documents", r.Category)
	s.Equal("+919876543210", r.DeliveryContactPhone)

	acc, err := s.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, TravellerID: s.trip.TravellerID, Notes: "Meet at gate 2"})
	s.Require().NoError(err)
	s.Equal(StatusAccepted, acc.Status)
	s.Regexp(codePattern, acc.PickupOTP)
	s.WithinDuration(s.clock.Add(48*time.Hour), acc.PickupOTPExpiry, time.Second)

	tr := s.tripNow()
	s.Equal(1, tr.AvailableSlots)
	s.Equal(trip.StatusInProgress, tr.Status)

	wrong := "000000"
	if acc.PickupOTP == wrong {
		wrong = "111111"
	}
	_, err = s.svc.VerifyPickup(ctx, VerifyCommand{RequestID: r.ID, ActorID: s.sender, Code: wrong})
	s.ErrorIs(err, ErrInvalidOTP)

	got, err := s.svc.Get(ctx, r.ID, s.sender)
	s.Require().NoError(err)
	s.Equal(StatusAccepted, got.Status)

	pick, err := s.svc.VerifyPickup(ctx, VerifyCommand{RequestID: r.ID, ActorID: s.sender, Code: acc.PickupOTP})
	s.Require().NoError(err)
	s.Equal(StatusPickedUp, pick.Status)
	s.Require().NotNil(pick.DeliveryOTP)
	s.Regexp(codePattern, *pick.DeliveryOTP)

	got, err = s.svc.Get(ctx, r.ID, s.sender)
	s.Require().NoError(err)
	s.Nil(got.PickupOTP)
	s.NotNil(got.PickedAt)

	del, err := s.svc.VerifyDelivery(ctx, VerifyCommand{RequestID: r.ID, ActorID: s.trip.TravellerID, Code: *pick.DeliveryOTP})
	s.Require().NoError(err)
	s.Equal(StatusDelivered, del.Status)

	got, err = s.svc.Get(ctx, r.ID, s.sender)
	s.Require().NoError(err)
	s.Nil(got.DeliveryOTP)
	s.NotNil(got.DeliveredAt)
	s.Require().NotNil(got.TravellerNotes)
	s.Equal("Meet at gate 2", *got.TravellerNotes)

	events, err := s.svc.History(ctx, r.ID, s.trip.TravellerID)
	s.Require().NoError(err)
	s.Require().Len(events, 4)
	s.Equal(StatusNone, events[0].FromStatus)
	s.Equal(StatusDelivered, events[3].ToStatus)

	s.Equal([]Status{StatusPending, StatusAccepted, StatusPickedUp, StatusDelivered}, s.notes.statuses())

	_, err = s.svc.VerifyDelivery(ctx, VerifyCommand{RequestID: r.ID, ActorID: s.trip.TravellerID, Code: *pick.DeliveryOTP})
	s.ErrorIs(err, ErrInvalidState)
}

func (s *LifecycleSuite) TestDeliveryBeforePickupIsStateConflict() {
	ctx := context.Background()
	r, acc := s.accepted()

	for _, code := range []string{acc.PickupOTP, "123456"} {
		_, err := s.svc.VerifyDelivery(ctx, VerifyCommand{RequestID: r.ID, ActorID: s.trip.TravellerID, Code: code})
		s.ErrorIs(err, ErrInvalidState)
	}

	got, err := s.svc.Get(ctx, r.ID, s.sender)
	s.Require().NoError(err)
	s.Equal(StatusAccepted, got.Status)
	s.Nil(got.DeliveredAt)

	_, err = s.svc.VerifyPickup(ctx, VerifyCommand{RequestID: r.ID, ActorID: s.sender, Code: acc.PickupOTP})
	s.NoError(err)
}

func (s *LifecycleSuite) TestPickupCodeOneDigitOff() {
	ctx := context.Background()
	r, acc := s.accepted()

	for i := range acc.PickupOTP {
		mutated := []byte(acc.PickupOTP)
		mutated[i] = '0' + (mutated[i]-'0'+1)%10
		_, err := s.svc.VerifyPickup(ctx, VerifyCommand{RequestID: r.ID, ActorID: s.sender, Code: string(mutated)})
		s.ErrorIs(err, ErrInvalidOTP, "digit %d changed: %s", i, mutated)
	}

	got, err := s.svc.Get(ctx, r.ID, s.sender)
	s.Require().NoError(err)
	s.Equal(StatusAccepted, got.Status)

	_, err = s.svc.VerifyPickup(ctx, VerifyCommand{RequestID: r.ID, ActorID: s.sender, Code: acc.PickupOTP})
	s.NoError(err)
}

func (s *LifecycleSuite) TestAcceptTwiceIsStateConflict() {
	ctx := context.Background()
	r, _ := s.accepted()

	_, err := s.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, TravellerID: s.trip.TravellerID})
	s.ErrorIs(err, ErrInvalidState)
	s.Equal(1, s.tripNow().AvailableSlots)
}

func (s *LifecycleSuite) TestAcceptByStrangerForbidden() {
	r := s.newRequest()
	_, err := s.svc.Accept(context.Background(), AcceptCommand{RequestID: r.ID, TravellerID: s.sender})
	s.ErrorIs(err, ErrForbidden)
	s.Equal(2, s.tripNow().AvailableSlots)
}

func (s *LifecycleSuite) TestCreateRejections() {
	ctx := context.Background()

	_, err := s.svc.Create(ctx, createCommand(s.trip.ID, s.trip.TravellerID))
	s.ErrorIs(err, ErrBadRequest)

	cmd := createCommand(s.trip.ID, s.sender)
	cmd.Category = "liquids"
	_, err = s.svc.Create(ctx, cmd)
	s.ErrorIs(err, ErrBadRequest)

	cmd = createCommand(s.trip.ID, s.sender)
	cmd.ParcelPhotos = testPhotos[:1]
	_, err = s.svc.Create(ctx, cmd)
	s.ErrorIs(err, ErrBadRequest)

	_, err = s.svc.Create(ctx, createCommand(types.NewID(), s.sender))
	s.ErrorIs(err, trip.ErrNotFound)

	// The first acceptance locks the trip against new requests.
	s.accepted()
	_, err = s.svc.Create(ctx, createCommand(s.trip.ID, types.NewID()))
	s.ErrorIs(err, trip.ErrTripNotOpen)
}

func (s *LifecycleSuite) TestCreateOnCancelledTrip() {
	ctx := context.Background()
	s.Require().NoError(s.trips.Delete(ctx, s.trip.ID, s.trip.TravellerID))

	_, err := s.svc.Create(ctx, createCommand(s.trip.ID, s.sender))
	s.ErrorIs(err, trip.ErrTripNotOpen)
}

func (s *LifecycleSuite) TestRejectIsTerminal() {
	ctx := context.Background()
	r := s.newRequest()

	s.Require().NoError(s.svc.Reject(ctx, RejectCommand{RequestID: r.ID, TravellerID: s.trip.TravellerID, Reason: "Bag is full"}))

	got, err := s.svc.Get(ctx, r.ID, s.sender)
	s.Require().NoError(err)
	s.Equal(StatusRejected, got.Status)
	s.Require().NotNil(got.RejectionReason)
	s.Equal("Bag is full", *got.RejectionReason)

	_, err = s.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, TravellerID: s.trip.TravellerID})
	s.ErrorIs(err, ErrInvalidState)
	s.ErrorIs(s.svc.Cancel(ctx, CancelCommand{RequestID: r.ID, ActorID: s.sender}), ErrInvalidState)
	s.ErrorIs(s.svc.Reject(ctx, RejectCommand{RequestID: r.ID, TravellerID: s.trip.TravellerID}), ErrInvalidState)
	s.Equal(2, s.tripNow().AvailableSlots)
}

func (s *LifecycleSuite) TestCancelPending() {
	ctx := context.Background()
	r := s.newRequest()

	s.ErrorIs(s.svc.Cancel(ctx, CancelCommand{RequestID: r.ID, ActorID: s.trip.TravellerID}), ErrForbidden)
	s.ErrorIs(s.svc.Cancel(ctx, CancelCommand{RequestID: r.ID, ActorID: types.NewID()}), ErrForbidden)
	s.Require().NoError(s.svc.Cancel(ctx, CancelCommand{RequestID: r.ID, ActorID: s.sender, Reason: "Changed plans"}))

	got, err := s.svc.Get(ctx, r.ID, s.sender)
	s.Require().NoError(err)
	s.Equal(StatusCancelled, got.Status)
	s.Require().NotNil(got.CancelledBy)
	s.Equal(RoleSender, *got.CancelledBy)
	s.Equal(2, s.tripNow().AvailableSlots)
}

func (s *LifecycleSuite) TestCancelAcceptedReleasesSlot() {
	ctx := context.Background()
	r, _ := s.accepted()
	s.Equal(1, s.tripNow().AvailableSlots)

	s.Require().NoError(s.svc.Cancel(ctx, CancelCommand{RequestID: r.ID, ActorID: s.trip.TravellerID}))

	got, err := s.svc.Get(ctx, r.ID, s.sender)
	s.Require().NoError(err)
	s.Equal(StatusCancelled, got.Status)
	s.Nil(got.PickupOTP)
	s.Equal(RoleTraveller, *got.CancelledBy)

	tr := s.tripNow()
	s.Equal(2, tr.AvailableSlots)
	s.Equal(trip.StatusOpen, tr.Status)
}

func (s *LifecycleSuite) TestCancelWindowBoundary() {
	ctx := context.Background()
	r, _ := s.accepted()

	s.clock = s.trip.DepartureAt.Add(-DefaultCancelWindow)
	err := s.svc.Cancel(ctx, CancelCommand{RequestID: r.ID, ActorID: s.sender})
	s.ErrorIs(err, ErrCancellationWindowClosed)
	var windowErr *CancellationWindowError
	s.Require().True(errors.As(err, &windowErr))
	s.InDelta(24.0, windowErr.HoursUntilDeparture, 0.001)
	s.Equal(1, s.tripNow().AvailableSlots)

	s.clock = s.trip.DepartureAt.Add(-DefaultCancelWindow - time.Second)
	s.Require().NoError(s.svc.Cancel(ctx, CancelCommand{RequestID: r.ID, ActorID: s.sender}))
	s.Equal(2, s.tripNow().AvailableSlots)
}

func (s *LifecycleSuite) TestExpiredPickupCodeThenRegenerate() {
	ctx := context.Background()
	r, acc := s.accepted()

	s.clock = s.clock.Add(49 * time.Hour)
	_, err := s.svc.VerifyPickup(ctx, VerifyCommand{RequestID: r.ID, ActorID: s.trip.TravellerID, Code: acc.PickupOTP})
	s.ErrorIs(err, ErrExpiredOTP)

	_, err = s.svc.RegeneratePickupOTP(ctx, RegenerateCommand{RequestID: r.ID, ActorID: types.NewID()})
	s.ErrorIs(err, ErrForbidden)

	fresh, err := s.svc.RegeneratePickupOTP(ctx, RegenerateCommand{RequestID: r.ID, ActorID: s.sender})
	s.Require().NoError(err)
	s.Regexp(codePattern, fresh.Code)
	s.WithinDuration(s.clock.Add(48*time.Hour), fresh.ExpiresAt, time.Second)

	pick, err := s.svc.VerifyPickup(ctx, VerifyCommand{RequestID: r.ID, ActorID: s.trip.TravellerID, Code: fresh.Code})
	s.Require().NoError(err)
	s.Equal(StatusPickedUp, pick.Status)
	s.Nil(pick.DeliveryOTP, "traveller must not receive the delivery code")

	asTraveller, err := s.svc.Get(ctx, r.ID, s.trip.TravellerID)
	s.Require().NoError(err)
	s.Nil(asTraveller.DeliveryOTP)

	asSender, err := s.svc.Get(ctx, r.ID, s.sender)
	s.Require().NoError(err)
	s.NotNil(asSender.DeliveryOTP)

	_, err = s.svc.RegeneratePickupOTP(ctx, RegenerateCommand{RequestID: r.ID, ActorID: s.sender})
	s.ErrorIs(err, ErrInvalidState)
}

func (s *LifecycleSuite) TestRegenerateDeliveryCode() {
	ctx := context.Background()
	r, acc := s.accepted()
	pick, err := s.svc.VerifyPickup(ctx, VerifyCommand{RequestID: r.ID, ActorID: s.sender, Code: acc.PickupOTP})
	s.Require().NoError(err)

	_, err = s.svc.RegenerateDeliveryOTP(ctx, RegenerateCommand{RequestID: r.ID, ActorID: s.trip.TravellerID})
	s.ErrorIs(err, ErrForbidden)

	fresh, err := s.svc.RegenerateDeliveryOTP(ctx, RegenerateCommand{RequestID: r.ID, ActorID: s.sender})
	s.Require().NoError(err)

	if fresh.Code != *pick.DeliveryOTP {
		_, err = s.svc.VerifyDelivery(ctx, VerifyCommand{RequestID: r.ID, ActorID: s.trip.TravellerID, Code: *pick.DeliveryOTP})
		s.ErrorIs(err, ErrInvalidOTP)
	}
	_, err = s.svc.VerifyDelivery(ctx, VerifyCommand{RequestID: r.ID, ActorID: s.trip.TravellerID, Code: fresh.Code})
	s.NoError(err)
}

func (s *LifecycleSuite) TestEditPolicies() {
	ctx := context.Background()
	r, acc := s.accepted()

	updated, err := s.svc.UpdateDetails(ctx, UpdateDetailsCommand{
		RequestID:       r.ID,
		SenderID:        s.sender,
		ItemDescription: "Phone charger",
		Category:        "electronics",
		ParcelPhotos:    testPhotos,
	})
	s.Require().NoError(err)
	s.Equal("electronics", updated.Category)

	_, err = s.svc.UpdateDetails(ctx, UpdateDetailsCommand{
		RequestID: r.ID, SenderID: s.trip.TravellerID,
		ItemDescription: "x", Category: "documents", ParcelPhotos: testPhotos,
	})
	s.ErrorIs(err, ErrForbidden)

	_, err = s.svc.VerifyPickup(ctx, VerifyCommand{RequestID: r.ID, ActorID: s.sender, Code: acc.PickupOTP})
	s.Require().NoError(err)

	_, err = s.svc.UpdateDetails(ctx, UpdateDetailsCommand{
		RequestID: r.ID, SenderID: s.sender,
		ItemDescription: "Something else", Category: "documents", ParcelPhotos: testPhotos,
	})
	s.ErrorIs(err, ErrTooLateToEdit)

	recv, err := s.svc.UpdateReceiver(ctx, UpdateReceiverCommand{RequestID: r.ID, SenderID: s.sender, Name: "Ravi", Phone: "+14155550123"})
	s.Require().NoError(err)
	s.Equal("Ravi", recv.DeliveryContactName)
	s.NotNil(recv.DeliveryOTP)

	_, err = s.svc.VerifyDelivery(ctx, VerifyCommand{RequestID: r.ID, ActorID: s.trip.TravellerID, Code: *recv.DeliveryOTP})
	s.Require().NoError(err)

	_, err = s.svc.UpdateReceiver(ctx, UpdateReceiverCommand{RequestID: r.ID, SenderID: s.sender, Name: "Ravi", Phone: "+14155550123"})
	s.ErrorIs(err, ErrTooLateToEdit)
}

func (s *LifecycleSuite) TestReadsAreScopedToParticipants() {
	ctx := context.Background()
	r := s.newRequest()

	_, err := s.svc.Get(ctx, r.ID, types.NewID())
	s.ErrorIs(err, ErrForbidden)
	_, err = s.svc.Get(ctx, types.NewID(), s.sender)
	s.ErrorIs(err, ErrNotFound)

	_, err = s.svc.ListByTrip(ctx, s.trip.ID, s.sender)
	s.ErrorIs(err, ErrForbidden)

	byTrip, err := s.svc.ListByTrip(ctx, s.trip.ID, s.trip.TravellerID)
	s.Require().NoError(err)
	s.Len(byTrip, 1)

	bySender, err := s.svc.ListBySender(ctx, s.sender)
	s.Require().NoError(err)
	s.Len(bySender, 1)
	s.Equal(r.ID, bySender[0].ID)
}

func (s *LifecycleSuite) TestNotifierFailureDoesNotFailTransition() {
	s.notes.err = errors.New("queue down")
	r := s.newRequest()
	_, err := s.svc.Accept(context.Background(), AcceptCommand{RequestID: r.ID, TravellerID: s.trip.TravellerID})
	s.NoError(err)
}
