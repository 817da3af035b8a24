package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/NovakDetti/magicfitai-sub001/internal/config"
	"github.com/NovakDetti/magicfitai-sub001/internal/gateway"
	"github.com/NovakDetti/magicfitai-sub001/internal/infrastructure/database"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens an isolated in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func newTestConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{AnalysisSubmit: "analysis.submit"},
		},
		Business: config.BusinessConfig{
			StuckAfterMinutes: 10,
			GuestExpiryHours:  72,
			PackSmallCredits:  5,
			PackLargeCredits:  20,
			MaxRetryCount:     5,
		},
	}
}

// fakeGateway is an in-memory payment gateway. VerifyWebhook treats the
// payload as a checkout id and only accepts the signature "valid".
type fakeGateway struct {
	checkouts map[string]*gateway.CheckoutInfo
	nextID    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{checkouts: map[string]*gateway.CheckoutInfo{}}
}

func (g *fakeGateway) CreateCheckout(_ context.Context, req *gateway.CheckoutRequest) (*gateway.CheckoutHandle, error) {
	g.nextID++
	id := fmt.Sprintf("cs_test_%d", g.nextID)
	metadata := map[string]string{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	g.checkouts[id] = &gateway.CheckoutInfo{
		ID:            id,
		PaymentStatus: "unpaid",
		Quantity:      req.Credits,
		AmountTotal:   req.Credits * 500,
		Currency:      "usd",
		Metadata:      metadata,
	}
	return &gateway.CheckoutHandle{ID: id, URL: "https://gateway.test/pay/" + id}, nil
}

func (g *fakeGateway) GetCheckout(_ context.Context, id string) (*gateway.CheckoutInfo, error) {
	info, ok := g.checkouts[id]
	if !ok {
		return nil, gateway.ErrSessionNotFound
	}
	return info, nil
}

func (g *fakeGateway) VerifyWebhook(payload []byte, signatureHeader string) (*gateway.WebhookEvent, error) {
	if signatureHeader != "valid" {
		return nil, gateway.ErrVerificationFailed
	}
	return &gateway.WebhookEvent{
		Type:              gateway.EventCheckoutCompleted,
		CheckoutSessionID: string(payload),
	}, nil
}

// pay marks a fake checkout as paid.
func (g *fakeGateway) pay(id string) {
	g.checkouts[id].PaymentStatus = gateway.PaymentStatusPaid
}
