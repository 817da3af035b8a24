package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/NovakDetti/magicfitai-sub001/internal/config"
	"github.com/NovakDetti/magicfitai-sub001/internal/gateway"
	"github.com/NovakDetti/magicfitai-sub001/internal/model"
	"github.com/NovakDetti/magicfitai-sub001/internal/repository"

	"gorm.io/gorm"
)

// Named credit packages offered at checkout.
const (
	PackageSingle = "single"
	PackageSmall  = "pack_small"
	PackageLarge  = "pack_large"
)

const maxRawCredits = 100

// CheckoutService drives the direct-payment path: initiating gateway checkout
// sessions, consuming webhook events, and the client-side verify poll after
// redirect. All three converge on the same idempotent applyPaidCheckout, so
// delivery order and duplicates do not matter.
type CheckoutService struct {
	db             *gorm.DB
	cfg            *config.Config
	gw             gateway.Gateway
	sessionRepo    *repository.SessionRepository
	ledgerRepo     *repository.LedgerRepository
	creditService  *CreditService
	sessionService *SessionService
}

func NewCheckoutService(db *gorm.DB, cfg *config.Config, gw gateway.Gateway) *CheckoutService {
	return &CheckoutService{
		db:             db,
		cfg:            cfg,
		gw:             gw,
		sessionRepo:    repository.NewSessionRepository(db),
		ledgerRepo:     repository.NewLedgerRepository(db),
		creditService:  NewCreditService(db),
		sessionService: NewSessionService(db, cfg),
	}
}

// InitiateCheckoutRequest selects either a named package or a raw credit
// count in [1,100]. SessionNo ties a single-credit purchase to a pending
// analysis session; GuestToken travels in gateway metadata so the verify poll
// can be cross-checked.
type InitiateCheckoutRequest struct {
	Package    string
	Credits    int64
	SessionNo  string
	GuestToken string
}

func (s *CheckoutService) InitiateCheckout(ctx context.Context, userID int64, req *InitiateCheckoutRequest) (*gateway.CheckoutHandle, error) {
	credits, err := s.resolveCredits(req)
	if err != nil {
		return nil, err
	}

	if userID == 0 {
		// anonymous purchases are only allowed as a single credit tied to a
		// concrete session
		if credits != 1 || req.SessionNo == "" {
			return nil, fmt.Errorf("%w: anonymous checkout requires a single credit tied to an analysis session", ErrInvalidInput)
		}
	}

	metadata := map[string]string{
		gateway.MetaCredits: strconv.FormatInt(credits, 10),
	}
	if userID > 0 {
		metadata[gateway.MetaUserID] = strconv.FormatInt(userID, 10)
	}
	if req.GuestToken != "" {
		metadata[gateway.MetaGuestToken] = req.GuestToken
	}

	if req.SessionNo != "" {
		session, err := s.sessionRepo.GetBySessionNo(ctx, nil, req.SessionNo)
		if err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		if session.Status != model.SessionStatusPending {
			return nil, ErrInvalidState
		}
		metadata[gateway.MetaSessionNo] = session.SessionNo
	}

	handle, err := s.gw.CreateCheckout(ctx, &gateway.CheckoutRequest{
		Credits:  credits,
		Metadata: metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("create gateway checkout: %w", err)
	}

	log.Printf("[Checkout] initiated: checkoutID=%s userID=%d credits=%d sessionNo=%s",
		handle.ID, userID, credits, req.SessionNo)
	return handle, nil
}

func (s *CheckoutService) resolveCredits(req *InitiateCheckoutRequest) (int64, error) {
	switch req.Package {
	case PackageSingle:
		return 1, nil
	case PackageSmall:
		return int64(s.cfg.Business.PackSmallCredits), nil
	case PackageLarge:
		return int64(s.cfg.Business.PackLargeCredits), nil
	case "":
		if req.Credits < 1 || req.Credits > maxRawCredits {
			return 0, fmt.Errorf("%w: credits must be between 1 and %d", ErrInvalidInput, maxRawCredits)
		}
		return req.Credits, nil
	default:
		return 0, fmt.Errorf("%w: unknown package %q", ErrInvalidInput, req.Package)
	}
}

// HandleWebhook consumes an inbound gateway event. The signature is verified
// before anything in the payload is trusted, and the credited quantity is
// re-read from the gateway's own line items, never from metadata.
func (s *CheckoutService) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := s.gw.VerifyWebhook(payload, signatureHeader)
	if err != nil {
		return err
	}

	if event.Type != gateway.EventCheckoutCompleted {
		return nil
	}

	info, err := s.gw.GetCheckout(ctx, event.CheckoutSessionID)
	if err != nil {
		return fmt.Errorf("fetch gateway checkout: %w", err)
	}
	if !info.IsPaid() {
		return nil
	}

	return s.applyPaidCheckout(ctx, info)
}

// applyPaidCheckout applies a confirmed payment exactly once. Per-session
// purchases ride on the guarded PENDING→PAID transition; account credits are
// deduplicated by payment reference. Both are safe under replay.
func (s *CheckoutService) applyPaidCheckout(ctx context.Context, info *gateway.CheckoutInfo) error {
	sessionNo := info.Metadata[gateway.MetaSessionNo]

	if sessionNo != "" && info.Quantity == 1 {
		_, err := s.sessionService.MarkPaidByGateway(ctx, sessionNo, info.ID, info.AmountTotal, info.Currency)
		return err
	}

	userIDStr := info.Metadata[gateway.MetaUserID]
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil || userID <= 0 {
		return fmt.Errorf("paid checkout %s has no purchaser to credit", info.ID)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		existing, err := s.ledgerRepo.GetByPaymentRef(ctx, tx, info.ID)
		if err != nil {
			return fmt.Errorf("lookup payment ref: %w", err)
		}
		if existing != nil {
			return nil
		}

		_, err = s.creditService.AppendEntryTx(ctx, tx, &AppendRequest{
			UserID:     userID,
			Delta:      info.Quantity,
			Reason:     s.reasonForQuantity(info.Quantity),
			PaymentRef: info.ID,
			Remark:     fmt.Sprintf("purchased %d credits", info.Quantity),
		})
		return err
	})
	if err != nil {
		// a concurrent replay may have won the unique payment_ref index; if
		// the entry exists now, this delivery is a no-op
		if existing, lookupErr := s.ledgerRepo.GetByPaymentRef(ctx, nil, info.ID); lookupErr == nil && existing != nil {
			return nil
		}
		return fmt.Errorf("credit purchase: %w", err)
	}

	log.Printf("[Checkout] account credited: userID=%d credits=%d checkoutID=%s", userID, info.Quantity, info.ID)
	return nil
}

func (s *CheckoutService) reasonForQuantity(quantity int64) string {
	switch {
	case quantity == 1:
		return model.ReasonPurchaseSingle
	case quantity <= int64(s.cfg.Business.PackSmallCredits):
		return model.ReasonPurchasePackSmall
	default:
		return model.ReasonPurchasePackLarge
	}
}

// VerifyResult is returned to the client poll after the gateway redirect.
type VerifyResult struct {
	PaymentStatus string `json:"payment_status"`
	Credits       int64  `json:"credits"`
	SessionNo     string `json:"session_no,omitempty"`
	SessionStatus string `json:"session_status,omitempty"`
}

// VerifyCheckout re-reads the checkout from the gateway on behalf of the
// redirected client. Only the gateway's own payment status is trusted, and a
// caller-supplied guest token must match the one stored in the gateway
// metadata at creation. If the webhook has not landed yet this applies the
// same idempotent paid path, so polling and webhook delivery can arrive in
// either order.
func (s *CheckoutService) VerifyCheckout(ctx context.Context, checkoutID, guestToken string) (*VerifyResult, error) {
	info, err := s.gw.GetCheckout(ctx, checkoutID)
	if err != nil {
		if errors.Is(err, gateway.ErrSessionNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch gateway checkout: %w", err)
	}

	if metaToken := info.Metadata[gateway.MetaGuestToken]; metaToken != "" && metaToken != guestToken {
		return nil, ErrForbidden
	}

	if info.IsPaid() {
		if err := s.applyPaidCheckout(ctx, info); err != nil {
			return nil, err
		}
	}

	result := &VerifyResult{
		PaymentStatus: info.PaymentStatus,
		Credits:       info.Quantity,
	}

	if sessionNo := info.Metadata[gateway.MetaSessionNo]; sessionNo != "" {
		session, err := s.sessionRepo.GetBySessionNo(ctx, nil, sessionNo)
		if err == nil {
			result.SessionNo = session.SessionNo
			result.SessionStatus = session.Status
		}
	}

	return result, nil
}
