package repository

import (
	"context"
	"errors"
	"time"

	"github.com/NovakDetti/magicfitai-sub001/internal/model"

	"gorm.io/gorm"
)

var (
	ErrSessionNotFound      = errors.New("analysis session not found")
	ErrSessionStatusInvalid = errors.New("analysis session status does not allow this transition")
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, tx *gorm.DB, session *model.AnalysisSession) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(session).Error
}

func (r *SessionRepository) GetBySessionNo(ctx context.Context, tx *gorm.DB, sessionNo string) (*model.AnalysisSession, error) {
	if tx == nil {
		tx = r.db
	}
	var session model.AnalysisSession
	err := tx.WithContext(ctx).Where("session_no = ?", sessionNo).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *SessionRepository) GetByGuestToken(ctx context.Context, guestToken string) (*model.AnalysisSession, error) {
	var session model.AnalysisSession
	err := r.db.WithContext(ctx).Where("guest_token = ?", guestToken).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// UpdateStatus performs the guarded compare-and-set transition. It validates
// the transition against the state machine, then updates WHERE status = from;
// zero rows affected means another writer already moved the session and the
// caller must treat the transition as not applied.
func (r *SessionRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, sessionNo, fromStatus, toStatus string, extra map[string]interface{}) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrSessionStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	for k, v := range extra {
		updates[k] = v
	}
	if toStatus == model.SessionStatusComplete {
		now := time.Now()
		updates["completed_at"] = &now
	}

	result := tx.WithContext(ctx).
		Model(&model.AnalysisSession{}).
		Where("session_no = ? AND status = ?", sessionNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrSessionStatusInvalid
	}

	return nil
}

// Claim binds a guest session to a user. The WHERE owner_user_id IS NULL
// guard makes concurrent claims race-safe: exactly one wins.
func (r *SessionRepository) Claim(ctx context.Context, sessionNo string, userID int64) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&model.AnalysisSession{}).
		Where("session_no = ? AND owner_user_id IS NULL", sessionNo).
		Updates(map[string]interface{}{
			"owner_user_id": userID,
			"claimed_at":    &now,
			"expires_at":    nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetStuckProcessing returns sessions that entered PROCESSING but were created
// before the cutoff, i.e. candidates for the sweep.
func (r *SessionRepository) GetStuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*model.AnalysisSession, error) {
	var sessions []*model.AnalysisSession
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.SessionStatusProcessing, cutoff).
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// GetStrandedPaid returns sessions that were paid but never moved to
// PROCESSING before the cutoff, i.e. their outbox dispatch was exhausted or
// lost. The updated_at filter measures time since the PAID transition, not
// since creation, so a freshly paid old session is not picked up.
func (r *SessionRepository) GetStrandedPaid(ctx context.Context, cutoff time.Time, limit int) ([]*model.AnalysisSession, error) {
	var sessions []*model.AnalysisSession
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.SessionStatusPaid, cutoff).
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

func (r *SessionRepository) ListByOwner(ctx context.Context, userID int64, page, pageSize int) ([]*model.AnalysisSession, int64, error) {
	var sessions []*model.AnalysisSession
	var total int64

	query := r.db.WithContext(ctx).Model(&model.AnalysisSession{}).Where("owner_user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&sessions).Error

	return sessions, total, err
}
