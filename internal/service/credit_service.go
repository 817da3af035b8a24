package service

import (
	"context"
	"fmt"

	"github.com/NovakDetti/magicfitai-sub001/internal/model"
	"github.com/NovakDetti/magicfitai-sub001/internal/repository"
	"github.com/NovakDetti/magicfitai-sub001/pkg/idgen"

	"gorm.io/gorm"
)

// CreditService owns the per-user credit balance. Every balance change goes
// through AppendEntry, which writes the ledger row and adjusts the cached
// balance in one transaction.
type CreditService struct {
	db          *gorm.DB
	accountRepo *repository.AccountRepository
	ledgerRepo  *repository.LedgerRepository
}

func NewCreditService(db *gorm.DB) *CreditService {
	return &CreditService{
		db:          db,
		accountRepo: repository.NewAccountRepository(db),
		ledgerRepo:  repository.NewLedgerRepository(db),
	}
}

// AppendRequest describes one ledger append.
type AppendRequest struct {
	UserID     int64
	Delta      int64
	Reason     string
	SessionNo  string
	PaymentRef string
	Remark     string
}

// AppendEntry runs AppendEntryTx in its own transaction.
func (s *CreditService) AppendEntry(ctx context.Context, req *AppendRequest) (*model.LedgerEntry, error) {
	var entry *model.LedgerEntry
	err := s.db.Transaction(func(tx *gorm.DB) error {
		e, err := s.AppendEntryTx(ctx, tx, req)
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// AppendEntryTx appends a ledger entry and adjusts the cached balance inside
// the caller's transaction. Debits go through the atomic conditional
// decrement, so a negative delta that would drive the balance below zero
// fails with repository.ErrInsufficientBalance and nothing is written; a
// stale read surfaces as repository.ErrOptimisticLock for the caller to
// retry.
func (s *CreditService) AppendEntryTx(ctx context.Context, tx *gorm.DB, req *AppendRequest) (*model.LedgerEntry, error) {
	if req.Delta == 0 {
		return nil, fmt.Errorf("%w: ledger delta must be non-zero", ErrInvalidInput)
	}

	account, err := s.accountRepo.GetOrCreate(ctx, tx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("get or create account: %w", err)
	}

	balanceBefore := account.Balance

	if req.Delta < 0 {
		if balanceBefore+req.Delta < 0 {
			return nil, repository.ErrInsufficientBalance
		}
		if err := s.accountRepo.Deduct(ctx, tx, req.UserID, -req.Delta, account.Version); err != nil {
			return nil, err
		}
	} else {
		if err := s.accountRepo.Increase(ctx, tx, req.UserID, req.Delta); err != nil {
			return nil, err
		}
	}

	var paymentRef *string
	if req.PaymentRef != "" {
		paymentRef = &req.PaymentRef
	}

	entry := &model.LedgerEntry{
		EntryNo:       idgen.GenerateEntryNo(),
		UserID:        req.UserID,
		Delta:         req.Delta,
		Reason:        req.Reason,
		SessionNo:     req.SessionNo,
		PaymentRef:    paymentRef,
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceBefore + req.Delta,
		Remark:        req.Remark,
	}
	if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}

	return entry, nil
}

// GetBalance returns the cached balance, zero for users with no account yet.
func (s *CreditService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	account, err := s.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		if err == repository.ErrAccountNotFound {
			return 0, nil
		}
		return 0, err
	}
	return account.Balance, nil
}

// ReplaySum recomputes the balance from the ledger. Reconciliation and the
// replay property test compare it against GetBalance.
func (s *CreditService) ReplaySum(ctx context.Context, userID int64) (int64, error) {
	return s.ledgerRepo.SumByUserID(ctx, userID)
}

func (s *CreditService) ListEntries(ctx context.Context, userID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	return s.ledgerRepo.ListByUserID(ctx, userID, page, pageSize)
}

// Adjust applies a manual admin correction through the normal append path.
func (s *CreditService) Adjust(ctx context.Context, userID, delta int64, remark string) (*model.LedgerEntry, error) {
	return s.AppendEntry(ctx, &AppendRequest{
		UserID: userID,
		Delta:  delta,
		Reason: model.ReasonAdminAdjustment,
		Remark: remark,
	})
}
