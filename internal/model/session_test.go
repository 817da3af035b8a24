package model

import (
	"testing"
	"time"
)

func TestSessionStatusTransitions(t *testing.T) {
	cases := []struct {
		from string
		to   string
		ok   bool
	}{
		{SessionStatusPending, SessionStatusPaid, true},
		{SessionStatusPaid, SessionStatusProcessing, true},
		{SessionStatusPaid, SessionStatusFailed, true},
		{SessionStatusProcessing, SessionStatusComplete, true},
		{SessionStatusProcessing, SessionStatusFailed, true},

		{SessionStatusPending, SessionStatusProcessing, false},
		{SessionStatusPending, SessionStatusComplete, false},
		{SessionStatusPending, SessionStatusFailed, false},
		{SessionStatusPaid, SessionStatusComplete, false},
		{SessionStatusPaid, SessionStatusPending, false},
		{SessionStatusComplete, SessionStatusFailed, false},
		{SessionStatusComplete, SessionStatusProcessing, false},
		{SessionStatusFailed, SessionStatusProcessing, false},
		{SessionStatusFailed, SessionStatusComplete, false},
	}

	for _, tc := range cases {
		if got := CanTransitionTo(tc.from, tc.to); got != tc.ok {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestSessionGuestAndExpiry(t *testing.T) {
	owner := int64(7)
	now := time.Now()
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)

	owned := &AnalysisSession{OwnerUserID: &owner}
	if owned.IsGuest() {
		t.Fatalf("owned session reported as guest")
	}
	if owned.IsExpired(now) {
		t.Fatalf("owned session with no expiry reported expired")
	}

	guest := &AnalysisSession{ExpiresAt: &later}
	if !guest.IsGuest() {
		t.Fatalf("ownerless session not reported as guest")
	}
	if guest.IsExpired(now) {
		t.Fatalf("session expiring in an hour reported expired")
	}

	stale := &AnalysisSession{ExpiresAt: &earlier}
	if !stale.IsExpired(now) {
		t.Fatalf("session past expiry not reported expired")
	}
}
