package repository

import (
	"context"
	"errors"

	"github.com/NovakDetti/magicfitai-sub001/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound     = errors.New("credit account not found")
	ErrInsufficientBalance = errors.New("insufficient credit balance")
	ErrOptimisticLock      = errors.New("account version conflict, retry")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByUserID(ctx context.Context, userID int64) (*model.CreditAccount, error) {
	var account model.CreditAccount
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// Deduct decrements the balance with an atomic conditional update: the
// balance >= amount predicate makes going negative impossible regardless of
// what the caller read, and the version check catches stale reads so the
// caller can retry. Zero rows affected is disambiguated by re-reading inside
// the same transaction.
func (r *AccountRepository) Deduct(ctx context.Context, tx *gorm.DB, userID int64, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.CreditAccount{}).
		Where("user_id = ? AND balance >= ? AND version = ?", userID, amount, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance - ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		var account model.CreditAccount
		err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return err
		}
		if account.Balance < amount {
			return ErrInsufficientBalance
		}
		return ErrOptimisticLock
	}

	return nil
}

func (r *AccountRepository) Increase(ctx context.Context, tx *gorm.DB, userID int64, amount int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.CreditAccount{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// GetOrCreate lazily creates the account on first use. The ON CONFLICT DO
// NOTHING keeps concurrent first-touch requests from erroring on the unique
// index.
func (r *AccountRepository) GetOrCreate(ctx context.Context, tx *gorm.DB, userID int64) (*model.CreditAccount, error) {
	if tx == nil {
		tx = r.db
	}

	var account model.CreditAccount
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err == nil {
		return &account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	newAccount := &model.CreditAccount{
		UserID:  userID,
		Balance: 0,
	}

	err = tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newAccount).Error
	if err != nil {
		return nil, err
	}

	err = tx.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}
