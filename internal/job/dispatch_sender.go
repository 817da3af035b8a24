package job

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/NovakDetti/magicfitai-sub001/internal/config"
	"github.com/NovakDetti/magicfitai-sub001/internal/infrastructure/mq"
	"github.com/NovakDetti/magicfitai-sub001/internal/model"
	"github.com/NovakDetti/magicfitai-sub001/internal/repository"

	"gorm.io/gorm"
)

// DispatchSender drains the outbox and hands paid sessions to the analysis
// worker over Kafka. Publishing is at-least-once: a row is only marked SENT
// after the broker acks, so a crash in between re-publishes. On a successful
// publish the session moves PAID→PROCESSING via the guarded CAS; a publish
// failure leaves the session PAID and the row PENDING for the next tick.
type DispatchSender struct {
	db          *gorm.DB
	outboxRepo  *repository.OutboxRepository
	sessionRepo *repository.SessionRepository
	cfg         *config.Config
	stopCh      chan struct{}
	interval    time.Duration
	batchSize   int
}

func NewDispatchSender(db *gorm.DB, cfg *config.Config) *DispatchSender {
	return &DispatchSender{
		db:          db,
		outboxRepo:  repository.NewOutboxRepository(db),
		sessionRepo: repository.NewSessionRepository(db),
		cfg:         cfg,
		stopCh:      make(chan struct{}),
		interval:    200 * time.Millisecond,
		batchSize:   100,
	}
}

func (s *DispatchSender) Start(ctx context.Context) {
	log.Println("[DispatchSender] started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[DispatchSender] context cancelled, exiting")
			return
		case <-s.stopCh:
			log.Println("[DispatchSender] stopped")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *DispatchSender) Stop() {
	close(s.stopCh)
}

func (s *DispatchSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		log.Printf("[DispatchSender] fetch pending messages failed: %v", err)
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *DispatchSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := mq.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); updateErr != nil {
			log.Printf("[DispatchSender] mark sent failed: id=%d err=%v", msg.ID, updateErr)
		}
		s.markProcessing(ctx, msg.MessageKey)
		return
	}

	log.Printf("[DispatchSender] publish failed: id=%d key=%s err=%v", msg.ID, msg.MessageKey, err)

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		log.Printf("[DispatchSender] increment retry failed: id=%d err=%v", msg.ID, err)
	}

	if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			log.Printf("[DispatchSender] mark failed failed: id=%d err=%v", msg.ID, err)
		} else {
			log.Printf("[DispatchSender] message exceeded max retries: id=%d key=%s", msg.ID, msg.MessageKey)
		}
	}
}

// markProcessing flips the dispatched session PAID→PROCESSING. A session that
// already left PAID (redelivered outbox row) is a no-op.
func (s *DispatchSender) markProcessing(ctx context.Context, sessionNo string) {
	err := s.sessionRepo.UpdateStatus(ctx, nil, sessionNo, model.SessionStatusPaid, model.SessionStatusProcessing, nil)
	if err != nil && !errors.Is(err, repository.ErrSessionStatusInvalid) {
		log.Printf("[DispatchSender] mark processing failed: sessionNo=%s err=%v", sessionNo, err)
	}
}
