package model

import (
	"time"
)

// Analysis session lifecycle states.
const (
	SessionStatusPending    = "PENDING"
	SessionStatusPaid       = "PAID"
	SessionStatusProcessing = "PROCESSING"
	SessionStatusComplete   = "COMPLETE"
	SessionStatusFailed     = "FAILED"
)

// ValidSessionTransitions is the authoritative forward-only state machine.
// Every status write in the codebase goes through a guarded CAS that consults
// this map; terminal states are never left. A FAILED session may still receive
// a compensating refund ledger entry, but that is ledger-only and does not
// move the status.
// PAID→FAILED covers a paid session whose worker dispatch never went out:
// the sweep fails it so the consumed credit can come back.
var ValidSessionTransitions = map[string][]string{
	SessionStatusPending:    {SessionStatusPaid},
	SessionStatusPaid:       {SessionStatusProcessing, SessionStatusFailed},
	SessionStatusProcessing: {SessionStatusComplete, SessionStatusFailed},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidSessionTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// AnalysisSession is one styling analysis request and its lifecycle state.
//
// Exactly one of OwnerUserID and GuestToken is set at creation. Guest sessions
// carry ExpiresAt and become inaccessible once it passes; claiming binds the
// session to a user, stamps ClaimedAt and clears ExpiresAt (the token is kept
// so old result links keep resolving).
type AnalysisSession struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionNo   string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"session_no"`
	OwnerUserID *int64     `gorm:"index" json:"owner_user_id,omitempty"`
	GuestToken  *string    `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	Status      string     `gorm:"type:varchar(20);index;not null" json:"status"`
	Occasion    string     `gorm:"type:varchar(64);not null" json:"occasion"`
	Preferences string     `gorm:"type:text" json:"preferences,omitempty"`
	BeforeImage string     `gorm:"type:varchar(512);not null" json:"before_image_url"`
	Results     string     `gorm:"type:text" json:"results,omitempty"`
	PaymentRef  string     `gorm:"type:varchar(128);index" json:"payment_ref,omitempty"`
	AmountTotal int64      `json:"amount_total"`
	Currency    string     `gorm:"type:varchar(8)" json:"currency,omitempty"`
	FailReason  string     `gorm:"type:varchar(256)" json:"fail_reason,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func (AnalysisSession) TableName() string {
	return "analysis_session"
}

// IsGuest reports whether the session is still guest-owned.
func (s *AnalysisSession) IsGuest() bool {
	return s.OwnerUserID == nil
}

// IsExpired reports whether an unclaimed guest session has passed its expiry.
// Claimed sessions never expire.
func (s *AnalysisSession) IsExpired(now time.Time) bool {
	return s.OwnerUserID == nil && s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// AnalysisResults is the payload the worker reports on completion.
type AnalysisResults struct {
	Observations []string `json:"observations"`
	Looks        []Look   `json:"looks"`
}

// Look is one generated styling suggestion.
type Look struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ImageURLs   []string `json:"image_urls,omitempty"`
}
