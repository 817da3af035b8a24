package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/NovakDetti/magicfitai-sub001/internal/config"
	"github.com/NovakDetti/magicfitai-sub001/internal/model"
	"github.com/NovakDetti/magicfitai-sub001/internal/repository"
	"github.com/NovakDetti/magicfitai-sub001/pkg/idgen"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionService owns the analysis session lifecycle: creation, guest access
// and claiming, payment confirmation from the gateway, and the worker's
// terminal callbacks. All status writes route through the repository's
// guarded CAS, so replayed or racing events degrade to no-ops.
type SessionService struct {
	db            *gorm.DB
	cfg           *config.Config
	sessionRepo   *repository.SessionRepository
	ledgerRepo    *repository.LedgerRepository
	outboxRepo    *repository.OutboxRepository
	creditService *CreditService
}

func NewSessionService(db *gorm.DB, cfg *config.Config) *SessionService {
	return &SessionService{
		db:            db,
		cfg:           cfg,
		sessionRepo:   repository.NewSessionRepository(db),
		ledgerRepo:    repository.NewLedgerRepository(db),
		outboxRepo:    repository.NewOutboxRepository(db),
		creditService: NewCreditService(db),
	}
}

// CreateSessionRequest carries the upload-time payload. UserID zero means a
// guest session: a guest token and expiry are minted instead of an owner.
type CreateSessionRequest struct {
	UserID      int64
	Occasion    string
	BeforeImage string
	Preferences string
}

func (s *SessionService) CreateSession(ctx context.Context, req *CreateSessionRequest) (*model.AnalysisSession, error) {
	if req.Occasion == "" || req.BeforeImage == "" {
		return nil, fmt.Errorf("%w: occasion and before image are required", ErrInvalidInput)
	}

	session := &model.AnalysisSession{
		SessionNo:   idgen.GenerateSessionNo(),
		Status:      model.SessionStatusPending,
		Occasion:    req.Occasion,
		Preferences: req.Preferences,
		BeforeImage: req.BeforeImage,
	}

	if req.UserID > 0 {
		session.OwnerUserID = &req.UserID
	} else {
		token := uuid.NewString()
		expiresAt := time.Now().Add(time.Duration(s.cfg.Business.GuestExpiryHours) * time.Hour)
		session.GuestToken = &token
		session.ExpiresAt = &expiresAt
	}

	if err := s.sessionRepo.Create(ctx, nil, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// GetForCaller loads a session and enforces access: the owner, or a guest
// holding the matching unexpired token. Guest expiry is checked lazily here.
func (s *SessionService) GetForCaller(ctx context.Context, sessionNo string, callerID int64, guestToken string) (*model.AnalysisSession, error) {
	session, err := s.sessionRepo.GetBySessionNo(ctx, nil, sessionNo)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if session.OwnerUserID != nil {
		if callerID == *session.OwnerUserID {
			return session, nil
		}
		return nil, ErrForbidden
	}

	if session.GuestToken == nil || guestToken == "" || guestToken != *session.GuestToken {
		return nil, ErrForbidden
	}
	if session.IsExpired(time.Now()) {
		return nil, ErrExpired
	}
	return session, nil
}

func (s *SessionService) ListByOwner(ctx context.Context, userID int64, page, pageSize int) ([]*model.AnalysisSession, int64, error) {
	return s.sessionRepo.ListByOwner(ctx, userID, page, pageSize)
}

// Claim binds an unexpired, unclaimed guest session to the authenticated
// user. The token itself is retained so existing result links keep working;
// only the expiry is cleared.
func (s *SessionService) Claim(ctx context.Context, guestToken string, userID int64) (*model.AnalysisSession, error) {
	session, err := s.sessionRepo.GetByGuestToken(ctx, guestToken)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if session.OwnerUserID != nil {
		return nil, ErrAlreadyClaimed
	}
	if session.IsExpired(time.Now()) {
		return nil, ErrExpired
	}

	claimed, err := s.sessionRepo.Claim(ctx, session.SessionNo, userID)
	if err != nil {
		return nil, fmt.Errorf("claim session: %w", err)
	}
	if !claimed {
		// another claim won the race
		return nil, ErrAlreadyClaimed
	}

	return s.sessionRepo.GetBySessionNo(ctx, nil, session.SessionNo)
}

// MarkPaidByGateway confirms a direct single-analysis purchase. The
// PENDING→PAID CAS plus the outbox row commit atomically; a session already
// at or past PAID is reported as not-transitioned, never as an error, so
// duplicate webhook deliveries and the verify poll can race freely.
func (s *SessionService) MarkPaidByGateway(ctx context.Context, sessionNo, paymentRef string, amountTotal int64, currency string) (bool, error) {
	transitioned := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := s.sessionRepo.UpdateStatus(ctx, tx, sessionNo, model.SessionStatusPending, model.SessionStatusPaid, map[string]interface{}{
			"payment_ref":  paymentRef,
			"amount_total": amountTotal,
			"currency":     currency,
		})
		if err != nil {
			if errors.Is(err, repository.ErrSessionStatusInvalid) {
				return s.asTransitionNoop(ctx, tx, sessionNo, model.SessionStatusPaid)
			}
			return err
		}
		transitioned = true
		return enqueueAnalysisDispatch(ctx, tx, s.outboxRepo, s.cfg, sessionNo)
	})
	if err != nil {
		return false, err
	}
	if transitioned {
		log.Printf("[Session] paid via gateway: sessionNo=%s paymentRef=%s", sessionNo, paymentRef)
	}
	return transitioned, nil
}

// Complete records the worker's results. Guarded PROCESSING→COMPLETE; a
// session already complete is a no-op so redelivered callbacks are safe.
func (s *SessionService) Complete(ctx context.Context, sessionNo string, results *model.AnalysisResults) error {
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("%w: bad results payload", ErrInvalidInput)
	}

	err = s.sessionRepo.UpdateStatus(ctx, nil, sessionNo, model.SessionStatusProcessing, model.SessionStatusComplete, map[string]interface{}{
		"results": string(payload),
	})
	if err != nil {
		if errors.Is(err, repository.ErrSessionStatusInvalid) {
			return s.asTransitionNoop(ctx, nil, sessionNo, model.SessionStatusComplete)
		}
		return err
	}
	log.Printf("[Session] completed: sessionNo=%s", sessionNo)
	return nil
}

// Fail moves a processing session to FAILED and, when a credit was consumed
// on it, appends the compensating refund in the same transaction. The refund
// is guarded by a prior-refund lookup, so the worker callback and the stuck
// sweep can both call this and at most one refund is ever written.
func (s *SessionService) Fail(ctx context.Context, sessionNo, reason string) error {
	return s.failFrom(ctx, sessionNo, model.SessionStatusProcessing, reason)
}

// FailUndispatched fails a session stranded in PAID because its dispatch
// never reached the worker, with the same refund compensation.
func (s *SessionService) FailUndispatched(ctx context.Context, sessionNo, reason string) error {
	return s.failFrom(ctx, sessionNo, model.SessionStatusPaid, reason)
}

func (s *SessionService) failFrom(ctx context.Context, sessionNo, fromStatus, reason string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := s.sessionRepo.UpdateStatus(ctx, tx, sessionNo, fromStatus, model.SessionStatusFailed, map[string]interface{}{
			"fail_reason": reason,
		})
		if err != nil {
			if errors.Is(err, repository.ErrSessionStatusInvalid) {
				return s.asTransitionNoop(ctx, tx, sessionNo, model.SessionStatusFailed)
			}
			return err
		}
		return s.refundIfConsumed(ctx, tx, sessionNo)
	})
	if err != nil {
		return err
	}
	log.Printf("[Session] failed: sessionNo=%s reason=%s", sessionNo, reason)
	return nil
}

// refundIfConsumed appends the +1 REFUND entry iff the session has a consume
// entry and no refund yet.
func (s *SessionService) refundIfConsumed(ctx context.Context, tx *gorm.DB, sessionNo string) error {
	consume, err := s.ledgerRepo.GetBySessionAndReason(ctx, tx, sessionNo, model.ReasonConsumeAnalysis)
	if err != nil {
		return fmt.Errorf("lookup consume entry: %w", err)
	}
	if consume == nil {
		return nil
	}

	refund, err := s.ledgerRepo.GetBySessionAndReason(ctx, tx, sessionNo, model.ReasonRefund)
	if err != nil {
		return fmt.Errorf("lookup refund entry: %w", err)
	}
	if refund != nil {
		return nil
	}

	_, err = s.creditService.AppendEntryTx(ctx, tx, &AppendRequest{
		UserID:    consume.UserID,
		Delta:     1,
		Reason:    model.ReasonRefund,
		SessionNo: sessionNo,
		Remark:    "analysis failed, credit returned",
	})
	if err != nil {
		return fmt.Errorf("append refund entry: %w", err)
	}
	log.Printf("[Session] refunded consumed credit: sessionNo=%s userID=%d", sessionNo, consume.UserID)
	return nil
}

// asTransitionNoop distinguishes "already at or past the target state"
// (treated as success) from a genuinely invalid transition. A terminal
// callback losing to the sibling terminal state is also a no-op: whoever
// transitioned first won, and the loser has nothing useful to retry.
func (s *SessionService) asTransitionNoop(ctx context.Context, tx *gorm.DB, sessionNo, target string) error {
	session, err := s.sessionRepo.GetBySessionNo(ctx, tx, sessionNo)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrNotFound
		}
		return err
	}

	switch target {
	case model.SessionStatusPaid:
		switch session.Status {
		case model.SessionStatusPaid, model.SessionStatusProcessing, model.SessionStatusComplete, model.SessionStatusFailed:
			return nil
		}
	case model.SessionStatusComplete, model.SessionStatusFailed:
		switch session.Status {
		case model.SessionStatusComplete, model.SessionStatusFailed:
			return nil
		}
	}
	return ErrInvalidState
}
