// Package gateway wraps the external payment provider behind a small
// interface: the orchestrator only ever sees checkout handles, verified
// webhook events, and the provider's own authoritative session record.
package gateway

import (
	"context"
	"errors"
)

var (
	// ErrVerificationFailed means the webhook signature or a gateway read
	// could not be trusted. Callers reject outright, no retry.
	ErrVerificationFailed = errors.New("gateway verification failed")
	ErrSessionNotFound    = errors.New("gateway checkout session not found")
)

// Metadata keys attached to a checkout session at creation and read back from
// the gateway's own record. The credit quantity is never taken from here; it
// is re-derived from the gateway line items.
const (
	MetaCredits    = "credits"
	MetaSessionNo  = "analysis_session_no"
	MetaUserID     = "user_id"
	MetaGuestToken = "guest_token"
)

const EventCheckoutCompleted = "checkout.session.completed"

// PaymentStatusPaid is the only gateway payment status treated as paid.
const PaymentStatusPaid = "paid"

// CheckoutRequest describes the checkout session to create.
type CheckoutRequest struct {
	Credits  int64
	Metadata map[string]string
}

// CheckoutHandle is the redirect handle returned to the client.
type CheckoutHandle struct {
	ID  string
	URL string
}

// CheckoutInfo is the gateway's authoritative view of a checkout session.
// Quantity is summed from the gateway line items, never from metadata.
type CheckoutInfo struct {
	ID            string
	PaymentStatus string
	Quantity      int64
	AmountTotal   int64
	Currency      string
	Metadata      map[string]string
}

func (ci *CheckoutInfo) IsPaid() bool {
	return ci.PaymentStatus == PaymentStatusPaid
}

// WebhookEvent is a signature-verified inbound gateway event.
type WebhookEvent struct {
	Type              string
	CheckoutSessionID string
}

// Gateway is the payment provider contract consumed by the orchestrator.
type Gateway interface {
	CreateCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutHandle, error)
	GetCheckout(ctx context.Context, id string) (*CheckoutInfo, error)
	VerifyWebhook(payload []byte, signatureHeader string) (*WebhookEvent, error)
}
