package job

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/NovakDetti/magicfitai-sub001/internal/config"
	"github.com/NovakDetti/magicfitai-sub001/internal/infrastructure/lock"
	"github.com/NovakDetti/magicfitai-sub001/internal/model"
	"github.com/NovakDetti/magicfitai-sub001/internal/repository"
	"github.com/NovakDetti/magicfitai-sub001/internal/service"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StuckSessionSweep is the safety net for analyses that never finish: a
// session still PROCESSING past the threshold is forced to FAILED, and a
// consumed credit is returned. Failing and refunding go through the same
// guarded transition the worker callback uses, so the sweep is safe to run
// concurrently with itself and with a late completion: whoever transitions
// first wins, the other becomes a no-op.
type StuckSessionSweep struct {
	db             *gorm.DB
	redisClient    *redis.Client
	sessionRepo    *repository.SessionRepository
	sessionService *service.SessionService
	cfg            *config.Config
	stopCh         chan struct{}
	interval       time.Duration
	batchSize      int
}

func NewStuckSessionSweep(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *StuckSessionSweep {
	return &StuckSessionSweep{
		db:             db,
		redisClient:    redisClient,
		sessionRepo:    repository.NewSessionRepository(db),
		sessionService: service.NewSessionService(db, cfg),
		cfg:            cfg,
		stopCh:         make(chan struct{}),
		interval:       time.Minute,
		batchSize:      50,
	}
}

func (j *StuckSessionSweep) Start(ctx context.Context) {
	log.Println("[StuckSweep] started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[StuckSweep] context cancelled, exiting")
			return
		case <-j.stopCh:
			log.Println("[StuckSweep] stopped")
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

func (j *StuckSessionSweep) Stop() {
	close(j.stopCh)
}

// Sweep runs one pass over both stuck shapes: PROCESSING sessions whose
// worker went silent, and PAID sessions whose dispatch never went out.
// Exported so operators can trigger it out of band.
func (j *StuckSessionSweep) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-time.Duration(j.cfg.Business.StuckAfterMinutes) * time.Minute)

	processing, err := j.sessionRepo.GetStuckProcessing(ctx, cutoff, j.batchSize)
	if err != nil {
		log.Printf("[StuckSweep] query stuck sessions failed: %v", err)
		return
	}
	stranded, err := j.sessionRepo.GetStrandedPaid(ctx, cutoff, j.batchSize)
	if err != nil {
		log.Printf("[StuckSweep] query stranded sessions failed: %v", err)
		return
	}

	if len(processing)+len(stranded) == 0 {
		return
	}

	log.Printf("[StuckSweep] found %d stuck, %d stranded sessions", len(processing), len(stranded))

	for _, session := range processing {
		j.sweepOne(ctx, session)
	}
	for _, session := range stranded {
		j.sweepOne(ctx, session)
	}
}

func (j *StuckSessionSweep) sweepOne(ctx context.Context, session *model.AnalysisSession) {
	// best-effort lock; a held lock means another sweeper or the worker
	// callback is on it right now
	sessionLock := lock.NewSessionLock(j.redisClient, session.SessionNo, uuid.NewString())
	acquired, err := sessionLock.TryLock(ctx)
	if err != nil {
		log.Printf("[StuckSweep] lock failed: sessionNo=%s err=%v", session.SessionNo, err)
		return
	}
	if !acquired {
		return
	}
	defer sessionLock.Unlock(ctx)

	if session.Status == model.SessionStatusPaid {
		err = j.sessionService.FailUndispatched(ctx, session.SessionNo, "worker dispatch failed")
	} else {
		err = j.sessionService.Fail(ctx, session.SessionNo, "analysis timed out")
	}
	if err != nil {
		if errors.Is(err, service.ErrInvalidState) {
			// the session moved on between the query and the lock
			return
		}
		log.Printf("[StuckSweep] fail session failed: sessionNo=%s err=%v", session.SessionNo, err)
		return
	}

	log.Printf("[StuckSweep] session failed and compensated: sessionNo=%s", session.SessionNo)
}
