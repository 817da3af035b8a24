package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/NovakDetti/magicfitai-sub001/internal/config"
	"github.com/NovakDetti/magicfitai-sub001/internal/infrastructure/lock"
	"github.com/NovakDetti/magicfitai-sub001/internal/model"
	"github.com/NovakDetti/magicfitai-sub001/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const spendMaxRetries = 3

// SpendService pays for a pending analysis session with one stored credit.
// The debit, the consume ledger entry, the PENDING→PAID transition and the
// dispatch outbox row commit as a single transaction: either the user loses a
// credit and the session is paid, or neither.
type SpendService struct {
	db            *gorm.DB
	redisClient   *redis.Client
	cfg           *config.Config
	sessionRepo   *repository.SessionRepository
	outboxRepo    *repository.OutboxRepository
	creditService *CreditService
}

func NewSpendService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *SpendService {
	return &SpendService{
		db:            db,
		redisClient:   redisClient,
		cfg:           cfg,
		sessionRepo:   repository.NewSessionRepository(db),
		outboxRepo:    repository.NewOutboxRepository(db),
		creditService: NewCreditService(db),
	}
}

// Spend consumes one credit of userID to pay for sessionNo.
func (s *SpendService) Spend(ctx context.Context, userID int64, sessionNo string) (*model.AnalysisSession, error) {
	session, err := s.sessionRepo.GetBySessionNo(ctx, nil, sessionNo)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if session.OwnerUserID == nil || *session.OwnerUserID != userID {
		return nil, ErrForbidden
	}
	if session.Status != model.SessionStatusPending {
		return nil, ErrInvalidState
	}

	// Per-user lock: two spend requests from the same user are serialized so
	// both cannot observe the same balance.
	spendLock := lock.NewSpendLock(s.redisClient, userID, uuid.NewString())
	if err := spendLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("acquire spend lock: %w", err)
	}
	defer spendLock.Unlock(ctx)

	// Transient version conflicts are retried; business failures are not.
	for attempt := 0; ; attempt++ {
		err = s.spendTx(ctx, userID, sessionNo)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrOptimisticLock) && attempt < spendMaxRetries {
			time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
			continue
		}
		return nil, err
	}

	log.Printf("[Spend] credit consumed: userID=%d sessionNo=%s", userID, sessionNo)
	return s.sessionRepo.GetBySessionNo(ctx, nil, sessionNo)
}

func (s *SpendService) spendTx(ctx context.Context, userID int64, sessionNo string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		_, err := s.creditService.AppendEntryTx(ctx, tx, &AppendRequest{
			UserID:    userID,
			Delta:     -1,
			Reason:    model.ReasonConsumeAnalysis,
			SessionNo: sessionNo,
			Remark:    "credit spent on analysis",
		})
		if err != nil {
			return err
		}

		err = s.sessionRepo.UpdateStatus(ctx, tx, sessionNo, model.SessionStatusPending, model.SessionStatusPaid, nil)
		if err != nil {
			if errors.Is(err, repository.ErrSessionStatusInvalid) {
				// session left PENDING since the pre-check; roll the debit back
				return ErrInvalidState
			}
			return err
		}

		return enqueueAnalysisDispatch(ctx, tx, s.outboxRepo, s.cfg, sessionNo)
	})
}
