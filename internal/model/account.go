package model

import (
	"time"
)

// CreditAccount holds the cached credit balance for one user.
//
// The balance is a materialized aggregate of the user's ledger entries: it is
// created lazily on the first append and only ever mutated inside the same
// transaction that writes the corresponding LedgerEntry, so replaying the
// ledger must always reproduce it. Version backs the optimistic-lock CAS on
// debits.
type CreditAccount struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	Version   int       `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CreditAccount) TableName() string {
	return "credit_account"
}
