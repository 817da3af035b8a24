package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/NovakDetti/magicfitai-sub001/internal/config"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeGateway implements Gateway on Stripe Checkout.
type StripeGateway struct {
	cfg *config.StripeConfig
}

func NewStripeGateway(cfg *config.StripeConfig) *StripeGateway {
	stripe.Key = cfg.SecretKey
	return &StripeGateway{cfg: cfg}
}

func (g *StripeGateway) CreateCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutHandle, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(g.cfg.CreditPriceID),
				Quantity: stripe.Int64(req.Credits),
			},
		},
		SuccessURL: stripe.String(g.cfg.SuccessURL + "?checkout_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(g.cfg.CancelURL),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session create failed: %w", err)
	}

	return &CheckoutHandle{ID: sess.ID, URL: sess.URL}, nil
}

// GetCheckout re-reads the checkout session from Stripe with line items
// expanded. The credited quantity is summed from the line items, which is the
// only record the client cannot tamper with.
func (g *StripeGateway) GetCheckout(ctx context.Context, id string) (*CheckoutInfo, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items")

	sess, err := session.Get(id, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("stripe checkout session fetch failed: %w", err)
	}

	var quantity int64
	if sess.LineItems != nil {
		for _, item := range sess.LineItems.Data {
			quantity += item.Quantity
		}
	}

	return &CheckoutInfo{
		ID:            sess.ID,
		PaymentStatus: string(sess.PaymentStatus),
		Quantity:      quantity,
		AmountTotal:   sess.AmountTotal,
		Currency:      string(sess.Currency),
		Metadata:      sess.Metadata,
	}, nil
}

func (g *StripeGateway) VerifyWebhook(payload []byte, signatureHeader string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(
		payload,
		signatureHeader,
		g.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	out := &WebhookEvent{Type: string(event.Type)}
	if out.Type == EventCheckoutCompleted {
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("%w: bad session payload: %v", ErrVerificationFailed, err)
		}
		out.CheckoutSessionID = sess.ID
	}
	return out, nil
}
