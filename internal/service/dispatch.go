package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/NovakDetti/magicfitai-sub001/internal/config"
	"github.com/NovakDetti/magicfitai-sub001/internal/model"
	"github.com/NovakDetti/magicfitai-sub001/internal/repository"

	"gorm.io/gorm"
)

// enqueueAnalysisDispatch writes the worker dispatch message into the outbox
// inside the transaction that moved the session to PAID. The outbox sender
// publishes it after commit, so a broker outage never rolls back a payment.
func enqueueAnalysisDispatch(ctx context.Context, tx *gorm.DB, outboxRepo *repository.OutboxRepository, cfg *config.Config, sessionNo string) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"session_no":  sessionNo,
		"enqueued_at": time.Now().Format(time.RFC3339),
	})

	msg := &model.OutboxMessage{
		MessageKey: sessionNo,
		Topic:      cfg.Kafka.Topic.AnalysisSubmit,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("enqueue analysis dispatch: %w", err)
	}
	return nil
}
