package repository

import (
	"context"

	"github.com/NovakDetti/magicfitai-sub001/internal/model"

	"gorm.io/gorm"
)

// LedgerRepository is append-only: entries are never updated or deleted.
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Create(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

// GetByPaymentRef returns the entry recorded for a gateway payment reference,
// or nil. The webhook path checks this before crediting so replayed events
// cannot double-credit.
func (r *LedgerRepository) GetByPaymentRef(ctx context.Context, tx *gorm.DB, paymentRef string) (*model.LedgerEntry, error) {
	if tx == nil {
		tx = r.db
	}
	var entry model.LedgerEntry
	err := tx.WithContext(ctx).Where("payment_ref = ?", paymentRef).First(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// GetBySessionAndReason returns the entry linked to a session with the given
// reason, or nil. Used to enforce at most one CONSUME and one REFUND per
// session.
func (r *LedgerRepository) GetBySessionAndReason(ctx context.Context, tx *gorm.DB, sessionNo, reason string) (*model.LedgerEntry, error) {
	if tx == nil {
		tx = r.db
	}
	var entry model.LedgerEntry
	err := tx.WithContext(ctx).
		Where("session_no = ? AND reason = ?", sessionNo, reason).
		First(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *LedgerRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	var entries []*model.LedgerEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}

// SumByUserID replays the ledger for one user. The cached account balance
// must always equal this sum.
func (r *LedgerRepository) SumByUserID(ctx context.Context, userID int64) (int64, error) {
	var sum *int64
	err := r.db.WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Select("SUM(delta)").
		Where("user_id = ?", userID).
		Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}
