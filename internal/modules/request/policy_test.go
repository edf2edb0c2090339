package request

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCancellationWindow(t *testing.T) {
	now := time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		departure time.Time
		allowed   bool
	}{
		{"well ahead", now.Add(72 * time.Hour), true},
		{"one second past window", now.Add(24*time.Hour + time.Second), true},
		{"exactly at window", now.Add(24 * time.Hour), false},
		{"inside window", now.Add(23 * time.Hour), false},
		{"already departed", now.Add(-time.Hour), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckCancellationWindow(tc.departure, now, DefaultCancelWindow)
			if tc.allowed {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCancellationWindowClosed))
		})
	}
}

func TestCancellationWindowError_HoursRemaining(t *testing.T) {
	now := time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)
	err := CheckCancellationWindow(now.Add(6*time.Hour), now, DefaultCancelWindow)

	var windowErr *CancellationWindowError
	require.True(t, errors.As(err, &windowErr))
	assert.InDelta(t, 6.0, windowErr.HoursUntilDeparture, 0.001)
	assert.Contains(t, err.Error(), "6.0 hours")
}

func TestEditPolicies(t *testing.T) {
	details := map[Status]bool{
		StatusPending: true, StatusAccepted: true,
		StatusPickedUp: false, StatusDelivered: false,
		StatusRejected: false, StatusCancelled: false,
	}
	for s, want := range details {
		assert.Equal(t, want, CanEditDetails(s), "details in %s", s)
	}
	for _, s := range allStatuses {
		assert.Equal(t, s != StatusDelivered, CanEditReceiver(s), "receiver in %s", s)
	}
}
