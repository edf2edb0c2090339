// README: Time and status policies guarding cancellation and edits.
package request

import "time"

// DefaultCancelWindow is how long before departure an accepted request stops being cancellable.
const DefaultCancelWindow = 24 * time.Hour

// CheckCancellationWindow allows cancelling only while departure is strictly more than window away.
func CheckCancellationWindow(departure, now time.Time, window time.Duration) error {
	until := departure.Sub(now)
	if until > window {
		return nil
	}
	return &CancellationWindowError{HoursUntilDeparture: until.Hours()}
}

// CanEditDetails: item, category and photos are frozen once the parcel is picked up.
func CanEditDetails(s Status) bool {
	return s == StatusPending || s == StatusAccepted
}

// CanEditReceiver: receiver contact stays editable until delivery.
func CanEditReceiver(s Status) bool {
	return s != StatusDelivered
}
