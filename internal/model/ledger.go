package model

import (
	"time"
)

// Ledger entry reasons. Every balance change carries exactly one.
const (
	ReasonPurchaseSingle    = "PURCHASE_SINGLE"
	ReasonPurchasePackSmall = "PURCHASE_PACK_SMALL"
	ReasonPurchasePackLarge = "PURCHASE_PACK_LARGE"
	ReasonConsumeAnalysis   = "CONSUME_ANALYSIS"
	ReasonRefund            = "REFUND"
	ReasonAdminAdjustment   = "ADMIN_ADJUSTMENT"
	ReasonClaimGuestResult  = "CLAIM_GUEST_RESULT"
)

// LedgerEntry is one immutable credit balance change.
//
// Rows are only ever appended, never updated or deleted; the running sum of
// Delta per user is the source of truth for the account balance.
// BalanceBefore/BalanceAfter are audit columns captured in the transaction
// that adjusts the account, kept for reconciliation.
//
// PaymentRef carries the gateway payment reference for purchase entries.
// It is nullable so non-purchase rows do not collide, and unique so a
// replayed gateway event cannot credit twice even when two deliveries race:
// the lookup-before-append catches the common case, the index is the
// backstop.
type LedgerEntry struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo       string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	UserID        int64     `gorm:"index;not null" json:"user_id"`
	Delta         int64     `gorm:"not null" json:"delta"`
	Reason        string    `gorm:"type:varchar(32);not null" json:"reason"`
	SessionNo     string    `gorm:"type:varchar(64);index" json:"session_no,omitempty"`
	PaymentRef    *string   `gorm:"type:varchar(128);uniqueIndex" json:"payment_ref,omitempty"`
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	Remark        string    `gorm:"type:varchar(256)" json:"remark,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "credit_ledger_entry"
}
