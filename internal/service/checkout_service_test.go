package service

import (
	"context"
	"errors"
	"testing"

	"github.com/NovakDetti/magicfitai-sub001/internal/gateway"
	"github.com/NovakDetti/magicfitai-sub001/internal/model"
)

func TestResolveCreditsPackagesAndRawCounts(t *testing.T) {
	svc := NewCheckoutService(newTestDB(t), newTestConfig(), newFakeGateway())

	cases := []struct {
		name    string
		req     InitiateCheckoutRequest
		want    int64
		wantErr bool
	}{
		{name: "single package", req: InitiateCheckoutRequest{Package: PackageSingle}, want: 1},
		{name: "small package", req: InitiateCheckoutRequest{Package: PackageSmall}, want: 5},
		{name: "large package", req: InitiateCheckoutRequest{Package: PackageLarge}, want: 20},
		{name: "raw count", req: InitiateCheckoutRequest{Credits: 7}, want: 7},
		{name: "raw zero", req: InitiateCheckoutRequest{Credits: 0}, wantErr: true},
		{name: "raw negative", req: InitiateCheckoutRequest{Credits: -3}, wantErr: true},
		{name: "raw over cap", req: InitiateCheckoutRequest{Credits: 101}, wantErr: true},
		{name: "unknown package", req: InitiateCheckoutRequest{Package: "pack_mega"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.resolveCredits(&tc.req)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("error = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("credits = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestInitiateCheckoutAnonymousRules(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	gw := newFakeGateway()
	svc := NewCheckoutService(db, cfg, gw)
	sessions := NewSessionService(db, cfg)
	ctx := context.Background()

	guest := createGuestSession(t, sessions)

	t.Run("guest single credit with session", func(t *testing.T) {
		handle, err := svc.InitiateCheckout(ctx, 0, &InitiateCheckoutRequest{
			Package:    PackageSingle,
			SessionNo:  guest.SessionNo,
			GuestToken: *guest.GuestToken,
		})
		if err != nil {
			t.Fatalf("InitiateCheckout error = %v", err)
		}
		info := gw.checkouts[handle.ID]
		if info.Metadata[gateway.MetaSessionNo] != guest.SessionNo {
			t.Fatalf("session metadata = %q, want %s", info.Metadata[gateway.MetaSessionNo], guest.SessionNo)
		}
		if info.Metadata[gateway.MetaGuestToken] != *guest.GuestToken {
			t.Fatalf("guest token metadata missing")
		}
	})

	t.Run("guest pack rejected", func(t *testing.T) {
		_, err := svc.InitiateCheckout(ctx, 0, &InitiateCheckoutRequest{Package: PackageSmall})
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("error = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("guest single without session rejected", func(t *testing.T) {
		_, err := svc.InitiateCheckout(ctx, 0, &InitiateCheckoutRequest{Package: PackageSingle})
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("error = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("unknown session rejected", func(t *testing.T) {
		_, err := svc.InitiateCheckout(ctx, 601, &InitiateCheckoutRequest{Package: PackageSingle, SessionNo: "FIT-missing"})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("non-pending session rejected", func(t *testing.T) {
		session := createOwnedSession(t, sessions, 601)
		forceStatus(t, db, session.SessionNo, model.SessionStatusPaid)
		_, err := svc.InitiateCheckout(ctx, 601, &InitiateCheckoutRequest{Package: PackageSingle, SessionNo: session.SessionNo})
		if !errors.Is(err, ErrInvalidState) {
			t.Fatalf("error = %v, want ErrInvalidState", err)
		}
	})
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	svc := NewCheckoutService(newTestDB(t), newTestConfig(), newFakeGateway())

	err := svc.HandleWebhook(context.Background(), []byte("cs_test_1"), "forged")
	if !errors.Is(err, gateway.ErrVerificationFailed) {
		t.Fatalf("error = %v, want ErrVerificationFailed", err)
	}
}

func TestHandleWebhookIgnoresUnpaidCheckout(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	gw := newFakeGateway()
	svc := NewCheckoutService(db, cfg, gw)
	ctx := context.Background()

	handle, err := svc.InitiateCheckout(ctx, 602, &InitiateCheckoutRequest{Package: PackageSmall})
	if err != nil {
		t.Fatalf("InitiateCheckout error = %v", err)
	}

	// completed event arrives but the gateway still reports unpaid
	if err := svc.HandleWebhook(ctx, []byte(handle.ID), "valid"); err != nil {
		t.Fatalf("HandleWebhook error = %v", err)
	}

	balance, err := NewCreditService(db).GetBalance(ctx, 602)
	if err != nil {
		t.Fatalf("GetBalance error = %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance = %d, want 0", balance)
	}
}

func TestHandleWebhookCreditsAccountOnceUnderReplay(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	gw := newFakeGateway()
	svc := NewCheckoutService(db, cfg, gw)
	credits := NewCreditService(db)
	ctx := context.Background()
	const userID = int64(603)

	handle, err := svc.InitiateCheckout(ctx, userID, &InitiateCheckoutRequest{Package: PackageLarge})
	if err != nil {
		t.Fatalf("InitiateCheckout error = %v", err)
	}
	gw.pay(handle.ID)

	for i := 0; i < 3; i++ {
		if err := svc.HandleWebhook(ctx, []byte(handle.ID), "valid"); err != nil {
			t.Fatalf("HandleWebhook #%d error = %v", i+1, err)
		}
	}

	balance, err := credits.GetBalance(ctx, userID)
	if err != nil {
		t.Fatalf("GetBalance error = %v", err)
	}
	if balance != 20 {
		t.Fatalf("balance = %d, want 20", balance)
	}
	checkReplay(t, credits, userID)

	var purchases int64
	if err := db.Model(&model.LedgerEntry{}).Where("payment_ref = ?", handle.ID).Count(&purchases).Error; err != nil {
		t.Fatalf("count purchases error = %v", err)
	}
	if purchases != 1 {
		t.Fatalf("purchase entries = %d, want exactly 1", purchases)
	}
}

func TestPurchaseReasonFollowsQuantityTier(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	gw := newFakeGateway()
	svc := NewCheckoutService(db, cfg, gw)
	ctx := context.Background()

	cases := []struct {
		credits int64
		reason  string
	}{
		{1, model.ReasonPurchaseSingle},
		{5, model.ReasonPurchasePackSmall},
		{20, model.ReasonPurchasePackLarge},
	}
	for i, tc := range cases {
		userID := int64(700 + i)
		handle, err := svc.InitiateCheckout(ctx, userID, &InitiateCheckoutRequest{Credits: tc.credits})
		if err != nil {
			t.Fatalf("InitiateCheckout error = %v", err)
		}
		gw.pay(handle.ID)
		if err := svc.HandleWebhook(ctx, []byte(handle.ID), "valid"); err != nil {
			t.Fatalf("HandleWebhook error = %v", err)
		}

		var entry model.LedgerEntry
		if err := db.Where("payment_ref = ?", handle.ID).First(&entry).Error; err != nil {
			t.Fatalf("load entry error = %v", err)
		}
		if entry.Reason != tc.reason {
			t.Fatalf("credits=%d reason = %s, want %s", tc.credits, entry.Reason, tc.reason)
		}
	}
}

func TestVerifyCheckoutGuestTokenCrossCheck(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	gw := newFakeGateway()
	svc := NewCheckoutService(db, cfg, gw)
	sessions := NewSessionService(db, cfg)
	ctx := context.Background()

	guest := createGuestSession(t, sessions)
	handle, err := svc.InitiateCheckout(ctx, 0, &InitiateCheckoutRequest{
		Package:    PackageSingle,
		SessionNo:  guest.SessionNo,
		GuestToken: *guest.GuestToken,
	})
	if err != nil {
		t.Fatalf("InitiateCheckout error = %v", err)
	}
	gw.pay(handle.ID)

	if _, err := svc.VerifyCheckout(ctx, handle.ID, "stolen-token"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("mismatched token error = %v, want ErrForbidden", err)
	}
	if _, err := svc.VerifyCheckout(ctx, "cs_unknown", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown checkout error = %v, want ErrNotFound", err)
	}

	result, err := svc.VerifyCheckout(ctx, handle.ID, *guest.GuestToken)
	if err != nil {
		t.Fatalf("VerifyCheckout error = %v", err)
	}
	if result.PaymentStatus != gateway.PaymentStatusPaid {
		t.Fatalf("payment status = %s, want paid", result.PaymentStatus)
	}
	if result.SessionNo != guest.SessionNo || result.SessionStatus != model.SessionStatusPaid {
		t.Fatalf("session = %s/%s, want %s/PAID", result.SessionNo, result.SessionStatus, guest.SessionNo)
	}
}

// End-to-end guest purchase: upload, pay by card, webhook, worker callback,
// then claim from a fresh account.
func TestGuestCheckoutLifecycle(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	gw := newFakeGateway()
	checkout := NewCheckoutService(db, cfg, gw)
	sessions := NewSessionService(db, cfg)
	ctx := context.Background()

	guest := createGuestSession(t, sessions)

	handle, err := checkout.InitiateCheckout(ctx, 0, &InitiateCheckoutRequest{
		Package:    PackageSingle,
		SessionNo:  guest.SessionNo,
		GuestToken: *guest.GuestToken,
	})
	if err != nil {
		t.Fatalf("InitiateCheckout error = %v", err)
	}
	gw.pay(handle.ID)

	// webhook and verify poll both land; the second application is a no-op
	if err := checkout.HandleWebhook(ctx, []byte(handle.ID), "valid"); err != nil {
		t.Fatalf("HandleWebhook error = %v", err)
	}
	if _, err := checkout.VerifyCheckout(ctx, handle.ID, *guest.GuestToken); err != nil {
		t.Fatalf("VerifyCheckout error = %v", err)
	}

	got, err := sessions.GetForCaller(ctx, guest.SessionNo, 0, *guest.GuestToken)
	if err != nil {
		t.Fatalf("GetForCaller error = %v", err)
	}
	if got.Status != model.SessionStatusPaid || got.PaymentRef != handle.ID {
		t.Fatalf("session = %s/%s, want PAID/%s", got.Status, got.PaymentRef, handle.ID)
	}
	if n := countOutbox(t, db, guest.SessionNo); n != 1 {
		t.Fatalf("outbox rows = %d, want 1", n)
	}

	// worker picks it up and finishes
	forceStatus(t, db, guest.SessionNo, model.SessionStatusProcessing)
	results := &model.AnalysisResults{Observations: []string{"cool undertone"}}
	if err := sessions.Complete(ctx, guest.SessionNo, results); err != nil {
		t.Fatalf("Complete error = %v", err)
	}

	// guest signs up later and claims the result
	claimed, err := sessions.Claim(ctx, *guest.GuestToken, 801)
	if err != nil {
		t.Fatalf("Claim error = %v", err)
	}
	if claimed.Status != model.SessionStatusComplete {
		t.Fatalf("claimed status = %s, want COMPLETE", claimed.Status)
	}
	if claimed.OwnerUserID == nil || *claimed.OwnerUserID != 801 {
		t.Fatalf("claimed owner = %v, want 801", claimed.OwnerUserID)
	}
	if _, err := sessions.GetForCaller(ctx, guest.SessionNo, 801, ""); err != nil {
		t.Fatalf("owner access after claim error = %v", err)
	}
}
