package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"posledger/internal/domain"
	"posledger/internal/store"
	"posledger/internal/store/memory"
)

func newTestService() *Service {
	return New(memory.NewSeeded(), nil, nil, nil, "co_demo", 0)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func seedOrder(t *testing.T, svc *Service, qty int) domain.Order {
	t.Helper()
	order, err := svc.CreateOrder(adminCtx(), domain.OrderCreateRequest{
		CustomerID: "cust_rina",
		Lines:      []domain.OrderLineRequest{{ProductID: "prod_kopi", Qty: qty}},
		Payments:   []domain.PaymentSplit{{Mode: domain.PaymentModeCash, AmountCents: int64(qty) * 48000}},
	})
	if err != nil {
		t.Fatalf("seed order failed: %v", err)
	}
	return order
}

func stockOf(t *testing.T, svc *Service, productID string) int {
	t.Helper()
	p, err := svc.repo.GetProductByID(context.Background(), productID)
	if err != nil {
		t.Fatalf("stock lookup failed: %v", err)
	}
	return p.StockQty
}

func TestCreateOrderDecrementsStock(t *testing.T) {
	svc := newTestService()
	before := stockOf(t, svc, "prod_kopi")

	order := seedOrder(t, svc, 3)
	if order.Status != domain.OrderStatusCompleted {
		t.Fatalf("status = %q, want completed", order.Status)
	}
	if order.TotalCents != 3*48000 {
		t.Fatalf("total = %d, want %d", order.TotalCents, 3*48000)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("payment status = %q, want paid", order.PaymentStatus)
	}
	if got := stockOf(t, svc, "prod_kopi"); got != before-3 {
		t.Fatalf("stock = %d, want %d", got, before-3)
	}
}

func TestCreateOrderRejectsInsufficientStock(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateOrder(adminCtx(), domain.OrderCreateRequest{
		CustomerID: "cust_rina",
		Lines:      []domain.OrderLineRequest{{ProductID: "prod_roti", Qty: 999}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestReturnLifecycleDerivesOrderStatus(t *testing.T) {
	svc := newTestService()
	order := seedOrder(t, svc, 10)
	stockAfterSale := stockOf(t, svc, "prod_kopi")

	first, err := svc.CreateReturn(adminCtx(), domain.ReturnCreateRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLine{{ProductID: "prod_kopi", Qty: 4}},
	})
	if err != nil {
		t.Fatalf("first return failed: %v", err)
	}
	if first.Order.Status != domain.OrderStatusPartiallyReturned {
		t.Fatalf("status = %q, want partially_returned", first.Order.Status)
	}
	if first.Order.TotalReturnedQty != 4 {
		t.Fatalf("returned qty = %d, want 4", first.Order.TotalReturnedQty)
	}
	if got := stockOf(t, svc, "prod_kopi"); got != stockAfterSale+4 {
		t.Fatalf("stock = %d, want %d", got, stockAfterSale+4)
	}

	second, err := svc.CreateReturn(adminCtx(), domain.ReturnCreateRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLine{{ProductID: "prod_kopi", Qty: 6}},
	})
	if err != nil {
		t.Fatalf("second return failed: %v", err)
	}
	if second.Order.Status != domain.OrderStatusReturned {
		t.Fatalf("status = %q, want returned", second.Order.Status)
	}
	if second.Order.TotalReturnedQty != 10 {
		t.Fatalf("returned qty = %d, want 10", second.Order.TotalReturnedQty)
	}
	if got := stockOf(t, svc, "prod_kopi"); got != stockAfterSale+10 {
		t.Fatalf("stock = %d, want %d", got, stockAfterSale+10)
	}
}

func TestReturnRejectsQuantityAboveAvailable(t *testing.T) {
	svc := newTestService()
	order := seedOrder(t, svc, 5)

	if _, err := svc.CreateReturn(adminCtx(), domain.ReturnCreateRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLine{{ProductID: "prod_kopi", Qty: 3}},
	}); err != nil {
		t.Fatalf("setup return failed: %v", err)
	}

	_, err := svc.CreateReturn(adminCtx(), domain.ReturnCreateRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLine{{ProductID: "prod_kopi", Qty: 3}},
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "prod_kopi") {
		t.Fatalf("error should name the offending product, got %v", err)
	}
}

func TestSalesReturnIssuesCreditNote(t *testing.T) {
	svc := newTestService()
	order := seedOrder(t, svc, 4)

	resp, err := svc.CreateReturn(adminCtx(), domain.ReturnCreateRequest{
		OrderID:         order.ID,
		Lines:           []domain.ReturnLine{{ProductID: "prod_kopi", Qty: 2}},
		RefundCashCents: 48000,
	})
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}
	if resp.Return.CreditNoteID == "" {
		t.Fatalf("sales return should issue a credit note")
	}

	note, err := svc.GetCreditNote(adminCtx(), resp.Return.CreditNoteID)
	if err != nil {
		t.Fatalf("credit note lookup failed: %v", err)
	}
	if note.TotalCents != 2*48000 || note.RemainingCents != 2*48000 || note.UsedCents != 0 {
		t.Fatalf("credit note balances wrong: %+v", note)
	}
	if note.Status != domain.CreditNoteStatusAvailable {
		t.Fatalf("credit note status = %q, want available", note.Status)
	}
}

func TestEditReturnRevertsThenReapplies(t *testing.T) {
	svc := newTestService()
	order := seedOrder(t, svc, 10)
	stockAfterSale := stockOf(t, svc, "prod_kopi")

	created, err := svc.CreateReturn(adminCtx(), domain.ReturnCreateRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLine{{ProductID: "prod_kopi", Qty: 6}},
	})
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}

	edited, err := svc.EditReturn(adminCtx(), created.Return.ID, domain.ReturnEditRequest{
		Lines: []domain.ReturnLine{{ProductID: "prod_kopi", Qty: 2}},
	})
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	if edited.Order.TotalReturnedQty != 2 {
		t.Fatalf("returned qty after edit = %d, want 2", edited.Order.TotalReturnedQty)
	}
	if edited.Order.Status != domain.OrderStatusPartiallyReturned {
		t.Fatalf("status after edit = %q", edited.Order.Status)
	}
	if got := stockOf(t, svc, "prod_kopi"); got != stockAfterSale+2 {
		t.Fatalf("stock after edit = %d, want %d", got, stockAfterSale+2)
	}
	if edited.Return.TotalCents != 2*48000 {
		t.Fatalf("return total after edit = %d", edited.Return.TotalCents)
	}
}

func TestDeleteReturnRestoresOrderAndStock(t *testing.T) {
	svc := newTestService()
	order := seedOrder(t, svc, 5)
	stockAfterSale := stockOf(t, svc, "prod_kopi")

	created, err := svc.CreateReturn(adminCtx(), domain.ReturnCreateRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLine{{ProductID: "prod_kopi", Qty: 5}},
	})
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}

	updated, err := svc.DeleteReturn(adminCtx(), created.Return.ID)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if updated.TotalReturnedQty != 0 || updated.Status != domain.OrderStatusCompleted {
		t.Fatalf("order after delete = qty %d status %q", updated.TotalReturnedQty, updated.Status)
	}
	if got := stockOf(t, svc, "prod_kopi"); got != stockAfterSale {
		t.Fatalf("stock after delete = %d, want %d", got, stockAfterSale)
	}
	if _, err := svc.GetReturn(adminCtx(), created.Return.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("deleted return still readable: %v", err)
	}
}

func TestDeleteReturnRejectsWhenStockConsumed(t *testing.T) {
	svc := newTestService()
	order := seedOrder(t, svc, 5)

	created, err := svc.CreateReturn(adminCtx(), domain.ReturnCreateRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLine{{ProductID: "prod_kopi", Qty: 5}},
	})
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}

	// Sell the restocked units on so the revert would go negative.
	remaining := stockOf(t, svc, "prod_kopi")
	if _, err := svc.CreateOrder(adminCtx(), domain.OrderCreateRequest{
		CustomerID: "cust_bayu",
		Lines:      []domain.OrderLineRequest{{ProductID: "prod_kopi", Qty: remaining - 2}},
	}); err != nil {
		t.Fatalf("follow-up sale failed: %v", err)
	}

	_, err = svc.DeleteReturn(adminCtx(), created.Return.ID)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestDeleteReturnRejectsWhenCreditNoteSpent(t *testing.T) {
	svc := newTestService()
	order := seedOrder(t, svc, 4)

	created, err := svc.CreateReturn(adminCtx(), domain.ReturnCreateRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLine{{ProductID: "prod_kopi", Qty: 2}},
	})
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}

	if err := svc.ApplyRedeemCredit(adminCtx(), created.Return.CreditNoteID, domain.CreditRedeemRequest{
		Type:        domain.CreditTypeNote,
		AmountCents: 1000,
	}); err != nil {
		t.Fatalf("redeem failed: %v", err)
	}

	_, err = svc.DeleteReturn(adminCtx(), created.Return.ID)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCouponSingleUsePerCustomer(t *testing.T) {
	svc := newTestService()
	coupon, err := svc.CreateCoupon(adminCtx(), domain.CouponCreateRequest{
		Code:            "WELCOME10",
		Name:            "Welcome",
		DiscountType:    domain.DiscountTypePercentage,
		DiscountPercent: 10,
		UsageLimit:      1,
		SingleUse:       true,
	})
	if err != nil {
		t.Fatalf("create coupon failed: %v", err)
	}

	first, err := svc.ApplyCoupon(adminCtx(), coupon.ID, "cust_rina", 10000)
	if err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	if first.DiscountCents != 1000 || first.FinalCents != 9000 {
		t.Fatalf("benefit = %+v", first)
	}

	_, err = svc.ApplyCoupon(adminCtx(), coupon.ID, "cust_rina", 10000)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on second apply, got %v", err)
	}
}

func TestCouponGateMessagesAreDistinct(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	limited, _ := svc.CreateCoupon(ctx, domain.CouponCreateRequest{
		Code: "LIMITED", Name: "Limited", DiscountType: domain.DiscountTypeFlat, FlatCents: 500, UsageLimit: 1,
	})
	minPurchase, _ := svc.CreateCoupon(ctx, domain.CouponCreateRequest{
		Code: "BIGCART", Name: "Big cart", DiscountType: domain.DiscountTypeFlat, FlatCents: 500, MinPurchaseCents: 50000,
	})
	single, _ := svc.CreateCoupon(ctx, domain.CouponCreateRequest{
		Code: "ONCE", Name: "Once", DiscountType: domain.DiscountTypeFlat, FlatCents: 500, SingleUse: true,
	})

	if _, err := svc.ApplyCoupon(ctx, limited.ID, "cust_rina", 10000); err != nil {
		t.Fatalf("setup apply failed: %v", err)
	}
	if _, err := svc.ApplyCoupon(ctx, single.ID, "cust_rina", 10000); err != nil {
		t.Fatalf("setup apply failed: %v", err)
	}

	cases := []struct {
		name     string
		couponID string
		customer string
		total    int64
		wantMsg  string
	}{
		{"usage limit", limited.ID, "cust_bayu", 10000, "usage limit reached"},
		{"min purchase", minPurchase.ID, "cust_rina", 10000, "minimum purchase"},
		{"single use", single.ID, "cust_rina", 10000, "already used"},
	}
	seen := map[string]bool{}
	for _, tc := range cases {
		_, err := svc.ApplyCoupon(ctx, tc.couponID, tc.customer, tc.total)
		if err == nil {
			t.Fatalf("%s: expected rejection", tc.name)
		}
		if !strings.Contains(err.Error(), tc.wantMsg) {
			t.Fatalf("%s: message %q missing %q", tc.name, err.Error(), tc.wantMsg)
		}
		if seen[err.Error()] {
			t.Fatalf("%s: message %q reused by another gate", tc.name, err.Error())
		}
		seen[err.Error()] = true
	}
}

func TestCouponApplyRevertRoundTrip(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	coupon, err := svc.CreateCoupon(ctx, domain.CouponCreateRequest{
		Code: "ROUND", Name: "Round trip", DiscountType: domain.DiscountTypeFlat, FlatCents: 500,
	})
	if err != nil {
		t.Fatalf("create coupon failed: %v", err)
	}

	if _, err := svc.ApplyCoupon(ctx, coupon.ID, "cust_rina", 10000); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	svc.RevertCoupon(ctx, coupon.ID, "cust_rina")

	usage, err := svc.repo.GetPromotionUsage(ctx, coupon.ID, "cust_rina")
	if err != nil {
		t.Fatalf("usage lookup failed: %v", err)
	}
	if usage != 0 {
		t.Fatalf("usage after round trip = %d, want 0", usage)
	}
	refreshed, err := svc.repo.GetCouponByID(ctx, coupon.ID)
	if err != nil {
		t.Fatalf("coupon lookup failed: %v", err)
	}
	if refreshed.UsedCount != 0 {
		t.Fatalf("used count after round trip = %d, want 0", refreshed.UsedCount)
	}

	// Revert with nothing applied is a silent no-op.
	svc.RevertCoupon(ctx, coupon.ID, "cust_rina")
	if usage, _ := svc.repo.GetPromotionUsage(ctx, coupon.ID, "cust_rina"); usage != 0 {
		t.Fatalf("usage after redundant revert = %d", usage)
	}
}

func TestLoyaltyBenefitUncapped(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	campaign, err := svc.CreateLoyaltyCampaign(ctx, domain.LoyaltyCreateRequest{
		Name:          "VIP",
		BenefitType:   domain.LoyaltyBenefitDiscount,
		DiscountCents: 20000,
	})
	if err != nil {
		t.Fatalf("create campaign failed: %v", err)
	}

	resp, err := svc.ApplyLoyalty(ctx, campaign.ID, "cust_rina", 5000)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if resp.DiscountCents != 20000 {
		t.Fatalf("loyalty benefit = %d, want uncapped 20000", resp.DiscountCents)
	}
	if resp.FinalCents != 0 {
		t.Fatalf("final = %d, want floored at 0", resp.FinalCents)
	}
}

func TestCreditConservation(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()
	order := seedOrder(t, svc, 4)

	created, err := svc.CreateReturn(ctx, domain.ReturnCreateRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLine{{ProductID: "prod_kopi", Qty: 2}},
	})
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}
	noteID := created.Return.CreditNoteID
	total := created.Return.TotalCents

	steps := []struct {
		redeem int64
		revert int64
	}{
		{redeem: 30000},
		{redeem: 20000},
		{revert: 10000},
		{redeem: 5000},
	}
	for i, step := range steps {
		var err error
		if step.redeem > 0 {
			err = svc.ApplyRedeemCredit(ctx, noteID, domain.CreditRedeemRequest{Type: domain.CreditTypeNote, AmountCents: step.redeem})
		} else {
			err = svc.RevertRedeemCredit(ctx, noteID, domain.CreditRedeemRequest{Type: domain.CreditTypeNote, AmountCents: step.revert})
		}
		if err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
		note, err := svc.GetCreditNote(ctx, noteID)
		if err != nil {
			t.Fatalf("step %d lookup failed: %v", i, err)
		}
		if note.UsedCents+note.RemainingCents != total {
			t.Fatalf("step %d: used %d + remaining %d != total %d", i, note.UsedCents, note.RemainingCents, total)
		}
	}
}

func TestCreditNoteExhaustionScenario(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	note, err := svc.repo.CreateCreditNote(ctx, domain.CreditNote{
		CompanyID:      "co_demo",
		CustomerID:     "cust_rina",
		TotalCents:     100,
		RemainingCents: 100,
		Status:         domain.CreditNoteStatusAvailable,
	})
	if err != nil {
		t.Fatalf("seed note failed: %v", err)
	}

	if err := svc.ApplyRedeemCredit(ctx, note.ID, domain.CreditRedeemRequest{Type: domain.CreditTypeNote, AmountCents: 60}); err != nil {
		t.Fatalf("redeem 60 failed: %v", err)
	}
	mid, _ := svc.GetCreditNote(ctx, note.ID)
	if mid.UsedCents != 60 || mid.RemainingCents != 40 || mid.Status != domain.CreditNoteStatusAvailable {
		t.Fatalf("after 60: %+v", mid)
	}

	if err := svc.ApplyRedeemCredit(ctx, note.ID, domain.CreditRedeemRequest{Type: domain.CreditTypeNote, AmountCents: 40}); err != nil {
		t.Fatalf("redeem 40 failed: %v", err)
	}
	spent, _ := svc.GetCreditNote(ctx, note.ID)
	if spent.RemainingCents != 0 || spent.Status != domain.CreditNoteStatusUsed {
		t.Fatalf("after 40: %+v", spent)
	}

	err = svc.ApplyRedeemCredit(ctx, note.ID, domain.CreditRedeemRequest{Type: domain.CreditTypeNote, AmountCents: 1})
	if !errors.Is(err, store.ErrInsufficientCredit) {
		t.Fatalf("expected insufficient credit, got %v", err)
	}
}

func TestAdvancePaymentRedeemAndRevert(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	advance, err := svc.CreateAdvancePayment(ctx, "", "cust_bayu", domain.PaymentModeCash, 50000)
	if err != nil {
		t.Fatalf("create advance failed: %v", err)
	}

	check, err := svc.CheckRedeemCredit(ctx, "", advance.PaymentNo, domain.CreditTypeAdvance, "cust_bayu")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if check.RedeemableCents != 50000 {
		t.Fatalf("redeemable = %d", check.RedeemableCents)
	}

	if err := svc.ApplyRedeemCredit(ctx, advance.ID, domain.CreditRedeemRequest{Type: domain.CreditTypeAdvance, AmountCents: 30000, CustomerID: "cust_bayu"}); err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if err := svc.ApplyRedeemCredit(ctx, advance.ID, domain.CreditRedeemRequest{Type: domain.CreditTypeAdvance, AmountCents: 30000}); !errors.Is(err, store.ErrInsufficientCredit) {
		t.Fatalf("expected insufficient credit, got %v", err)
	}
	if err := svc.RevertRedeemCredit(ctx, advance.ID, domain.CreditRedeemRequest{Type: domain.CreditTypeAdvance, AmountCents: 30000}); err != nil {
		t.Fatalf("revert failed: %v", err)
	}

	check, err = svc.CheckRedeemCredit(ctx, "", advance.PaymentNo, domain.CreditTypeAdvance, "")
	if err != nil {
		t.Fatalf("second check failed: %v", err)
	}
	if check.RedeemableCents != 50000 {
		t.Fatalf("redeemable after revert = %d", check.RedeemableCents)
	}
}

func TestCheckRedeemCreditRejectsWrongOwner(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()
	order := seedOrder(t, svc, 2)

	created, err := svc.CreateReturn(ctx, domain.ReturnCreateRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLine{{ProductID: "prod_kopi", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}
	note, _ := svc.GetCreditNote(ctx, created.Return.CreditNoteID)

	_, err = svc.CheckRedeemCredit(ctx, "", note.CreditNoteNo, domain.CreditTypeNote, "cust_bayu")
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ownership conflict, got %v", err)
	}
}

func TestSingleOpenRegisterPerCompany(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	if _, err := svc.OpenRegister(ctx, domain.RegisterOpenRequest{CompanyID: "co_a", OpeningCashCents: 10000}); err != nil {
		t.Fatalf("open A failed: %v", err)
	}
	if _, err := svc.OpenRegister(ctx, domain.RegisterOpenRequest{CompanyID: "co_a", OpeningCashCents: 5000}); !errors.Is(err, store.ErrRegisterOpen) {
		t.Fatalf("expected already-open rejection, got %v", err)
	}
	if _, err := svc.OpenRegister(ctx, domain.RegisterOpenRequest{CompanyID: "co_b", OpeningCashCents: 5000}); err != nil {
		t.Fatalf("open B failed: %v", err)
	}

	if _, err := svc.CloseRegister(ctx, "co_a"); err != nil {
		t.Fatalf("close A failed: %v", err)
	}
	if _, err := svc.OpenRegister(ctx, domain.RegisterOpenRequest{CompanyID: "co_a", OpeningCashCents: 2000}); err != nil {
		t.Fatalf("reopen A after close failed: %v", err)
	}
}

func TestConcurrentRegisterOpens(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.OpenRegister(ctx, domain.RegisterOpenRequest{CompanyID: "co_race", OpeningCashCents: 100})
		}(i)
	}
	wg.Wait()

	var opened int
	for _, err := range errs {
		if err == nil {
			opened++
		} else if !errors.Is(err, store.ErrRegisterOpen) && !errors.Is(err, store.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if opened != 1 {
		t.Fatalf("%d opens succeeded, want exactly 1", opened)
	}
}

func TestReconciliationScenario(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	if _, err := svc.OpenRegister(ctx, domain.RegisterOpenRequest{OpeningCashCents: 500}); err != nil {
		t.Fatalf("open register failed: %v", err)
	}

	// Two cash sales totalling 300 cents worth of payments.
	for _, amount := range []int64{200, 100} {
		if _, err := svc.repo.CreatePayment(ctx, domain.Payment{
			CompanyID:   "co_demo",
			VoucherType: domain.VoucherTypeSales,
			Mode:        domain.PaymentModeCash,
			AmountCents: amount,
			CustomerID:  "cust_rina",
		}); err != nil {
			t.Fatalf("seed payment failed: %v", err)
		}
	}

	order := seedOrder(t, svc, 1)
	if _, err := svc.CreateReturn(ctx, domain.ReturnCreateRequest{
		OrderID:         order.ID,
		Lines:           []domain.ReturnLine{{ProductID: "prod_kopi", Qty: 1}},
		RefundCashCents: 50,
	}); err != nil {
		t.Fatalf("return failed: %v", err)
	}

	summary, err := svc.GetReconciliation(ctx, "")
	if err != nil {
		t.Fatalf("reconciliation failed: %v", err)
	}
	if summary.Status != domain.RegisterStatusOpen {
		t.Fatalf("status = %q", summary.Status)
	}
	if summary.OpeningCashCents != 500 {
		t.Fatalf("opening cash = %d", summary.OpeningCashCents)
	}
	// 300 seeded plus the seeded order's cash payment.
	if summary.Payments.CashCents != 300+48000 {
		t.Fatalf("cash payments = %d", summary.Payments.CashCents)
	}
	if summary.RefundCashCents != 50 {
		t.Fatalf("cash refunds = %d", summary.RefundCashCents)
	}
}

func TestReconciliationClosedRegister(t *testing.T) {
	svc := newTestService()

	summary, err := svc.GetReconciliation(adminCtx(), "co_never_opened")
	if err != nil {
		t.Fatalf("reconciliation failed: %v", err)
	}
	if summary.Status != domain.RegisterStatusClosed {
		t.Fatalf("status = %q, want closed", summary.Status)
	}
	if summary.RegisterID != "" || summary.TotalSalesCents != 0 {
		t.Fatalf("closed summary should carry no financials: %+v", summary)
	}
}

func TestCashMovementRequiresOpenRegister(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	_, err := svc.RecordCashMovement(ctx, "", domain.CashControlCashIn, 1000)
	if !errors.Is(err, store.ErrRegisterClosed) {
		t.Fatalf("expected no-open-register error, got %v", err)
	}

	if _, err := svc.OpenRegister(ctx, domain.RegisterOpenRequest{OpeningCashCents: 500}); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := svc.RecordCashMovement(ctx, "", domain.CashControlCashIn, 1000); err != nil {
		t.Fatalf("cash in failed: %v", err)
	}
	if _, err := svc.RecordCashMovement(ctx, "", domain.CashControlCashOut, 250); err != nil {
		t.Fatalf("cash out failed: %v", err)
	}

	summary, err := svc.GetReconciliation(ctx, "")
	if err != nil {
		t.Fatalf("reconciliation failed: %v", err)
	}
	if summary.ExpectedCashCents != 500+1000-250 {
		t.Fatalf("expected cash = %d", summary.ExpectedCashCents)
	}
}

func TestCancelOrderRestoresStockAndRevertsPromotions(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	coupon, err := svc.CreateCoupon(ctx, domain.CouponCreateRequest{
		Code: "CANCEL5", Name: "Cancel test", DiscountType: domain.DiscountTypeFlat, FlatCents: 500,
	})
	if err != nil {
		t.Fatalf("create coupon failed: %v", err)
	}
	before := stockOf(t, svc, "prod_gula")

	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		CustomerID: "cust_rina",
		Lines:      []domain.OrderLineRequest{{ProductID: "prod_gula", Qty: 2}},
		CouponCode: "CANCEL5",
	})
	if err != nil {
		t.Fatalf("order failed: %v", err)
	}
	if order.DiscountCents != 500 {
		t.Fatalf("discount = %d", order.DiscountCents)
	}

	if _, err := svc.CancelOrder(ctx, order.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if got := stockOf(t, svc, "prod_gula"); got != before {
		t.Fatalf("stock after cancel = %d, want %d", got, before)
	}
	if usage, _ := svc.repo.GetPromotionUsage(ctx, coupon.ID, "cust_rina"); usage != 0 {
		t.Fatalf("coupon usage after cancel = %d, want 0", usage)
	}
}

func TestStockNeverNegativeUnderReturnChurn(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()
	order := seedOrder(t, svc, 8)

	for i := 0; i < 4; i++ {
		created, err := svc.CreateReturn(ctx, domain.ReturnCreateRequest{
			OrderID: order.ID,
			Lines:   []domain.ReturnLine{{ProductID: "prod_kopi", Qty: 2}},
		})
		if err != nil {
			t.Fatalf("iteration %d create failed: %v", i, err)
		}
		if _, err := svc.DeleteReturn(ctx, created.Return.ID); err != nil {
			t.Fatalf("iteration %d delete failed: %v", i, err)
		}
		if got := stockOf(t, svc, "prod_kopi"); got < 0 {
			t.Fatalf("iteration %d drove stock negative: %d", i, got)
		}
	}
}

func TestConcurrentCouponAppliesRespectUsageLimit(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	coupon, err := svc.CreateCoupon(ctx, domain.CouponCreateRequest{
		Code: "ONCE", Name: "One redemption", DiscountType: domain.DiscountTypeFlat, FlatCents: 500, UsageLimit: 1,
	})
	if err != nil {
		t.Fatalf("create coupon failed: %v", err)
	}

	customers := []string{"cust_rina", "cust_bayu"}
	var wg sync.WaitGroup
	errs := make([]error, len(customers))
	for i, cust := range customers {
		wg.Add(1)
		go func(i int, cust string) {
			defer wg.Done()
			_, errs[i] = svc.ApplyCoupon(ctx, coupon.ID, cust, 10000)
		}(i, cust)
	}
	wg.Wait()

	var applied int
	for _, err := range errs {
		if err == nil {
			applied++
		} else if !errors.Is(err, store.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if applied != 1 {
		t.Fatalf("%d applies succeeded on a limit-1 coupon, want exactly 1", applied)
	}

	refreshed, err := svc.repo.GetCouponByID(ctx, coupon.ID)
	if err != nil {
		t.Fatalf("coupon lookup failed: %v", err)
	}
	if refreshed.UsedCount != 1 {
		t.Fatalf("used count = %d, want 1", refreshed.UsedCount)
	}
}

func TestConcurrentSingleUseCouponSameCustomer(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	coupon, err := svc.CreateCoupon(ctx, domain.CouponCreateRequest{
		Code: "PERSONAL", Name: "Single use", DiscountType: domain.DiscountTypeFlat, FlatCents: 500, SingleUse: true,
	})
	if err != nil {
		t.Fatalf("create coupon failed: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ApplyCoupon(ctx, coupon.ID, "cust_rina", 10000)
		}(i)
	}
	wg.Wait()

	var applied int
	for _, err := range errs {
		if err == nil {
			applied++
		} else if !errors.Is(err, store.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if applied != 1 {
		t.Fatalf("%d applies succeeded for one customer, want exactly 1", applied)
	}
	if usage, _ := svc.repo.GetPromotionUsage(ctx, coupon.ID, "cust_rina"); usage != 1 {
		t.Fatalf("usage = %d, want 1", usage)
	}
}

func TestConcurrentLoyaltyAppliesRespectUsageLimit(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	campaign, err := svc.CreateLoyaltyCampaign(ctx, domain.LoyaltyCreateRequest{
		Name: "Launch week", BenefitType: domain.LoyaltyBenefitDiscount, DiscountCents: 700, UsageLimit: 1,
	})
	if err != nil {
		t.Fatalf("create campaign failed: %v", err)
	}

	customers := []string{"cust_rina", "cust_bayu"}
	var wg sync.WaitGroup
	errs := make([]error, len(customers))
	for i, cust := range customers {
		wg.Add(1)
		go func(i int, cust string) {
			defer wg.Done()
			_, errs[i] = svc.ApplyLoyalty(ctx, campaign.ID, cust, 10000)
		}(i, cust)
	}
	wg.Wait()

	var applied int
	for _, err := range errs {
		if err == nil {
			applied++
		} else if !errors.Is(err, store.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if applied != 1 {
		t.Fatalf("%d applies succeeded on a limit-1 campaign, want exactly 1", applied)
	}
}

func TestConcurrentReturnsCannotExceedPurchased(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()
	order := seedOrder(t, svc, 10)
	before := stockOf(t, svc, "prod_kopi")

	// Both returns are individually valid (6 of 10) but only one of
	// them may land; together they would revert more than was bought.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CreateReturn(ctx, domain.ReturnCreateRequest{
				OrderID: order.ID,
				Lines:   []domain.ReturnLine{{ProductID: "prod_kopi", Qty: 6}},
			})
		}(i)
	}
	wg.Wait()

	var created int
	for _, err := range errs {
		if err == nil {
			created++
		} else if !errors.Is(err, store.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("%d returns created, want exactly 1", created)
	}

	refreshed, err := svc.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("order lookup failed: %v", err)
	}
	if refreshed.TotalReturnedQty != 6 {
		t.Fatalf("returned qty = %d, want 6", refreshed.TotalReturnedQty)
	}
	returns, err := svc.ListReturnsByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("list returns failed: %v", err)
	}
	if len(returns) != 1 {
		t.Fatalf("%d live returns, want 1", len(returns))
	}
	if got := stockOf(t, svc, "prod_kopi"); got != before+6 {
		t.Fatalf("stock = %d, want %d", got, before+6)
	}
}

func TestReconciliationUnaffectedByAdvanceBalance(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	if _, err := svc.OpenRegister(ctx, domain.RegisterOpenRequest{OpeningCashCents: 1000}); err != nil {
		t.Fatalf("open register failed: %v", err)
	}
	seedOrder(t, svc, 1)

	advance, err := svc.CreateAdvancePayment(ctx, "", "cust_bayu", domain.PaymentModeCash, 50000)
	if err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	// The cash bucket carries sales vouchers only; the advance receipt's
	// balance lives on the payment row and must not drift the drawer.
	summary, err := svc.GetReconciliation(ctx, "")
	if err != nil {
		t.Fatalf("reconciliation failed: %v", err)
	}
	if summary.Payments.CashCents != 48000 {
		t.Fatalf("cash bucket = %d, want 48000 (sales only)", summary.Payments.CashCents)
	}

	if err := svc.ApplyRedeemCredit(ctx, advance.ID, domain.CreditRedeemRequest{
		Type: domain.CreditTypeAdvance, AmountCents: 20000, CustomerID: "cust_bayu",
	}); err != nil {
		t.Fatalf("redeem failed: %v", err)
	}

	summary, err = svc.GetReconciliation(ctx, "")
	if err != nil {
		t.Fatalf("reconciliation failed: %v", err)
	}
	if summary.Payments.CashCents != 48000 {
		t.Fatalf("cash bucket = %d after advance redemption, want 48000", summary.Payments.CashCents)
	}
	if summary.ExpectedCashCents != 1000+48000 {
		t.Fatalf("expected cash = %d, want %d", summary.ExpectedCashCents, 1000+48000)
	}
	if summary.CreditRedeemedCents != 20000 {
		t.Fatalf("credit redeemed = %d, want 20000", summary.CreditRedeemedCents)
	}
}

func TestCancelledOrderRemainsReadable(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	if _, err := svc.OpenRegister(ctx, domain.RegisterOpenRequest{OpeningCashCents: 0}); err != nil {
		t.Fatalf("open register failed: %v", err)
	}

	// No payments: the whole total is pay-later due.
	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		CustomerID: "cust_rina",
		Lines:      []domain.OrderLineRequest{{ProductID: "prod_teh", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("order failed: %v", err)
	}

	summary, err := svc.GetReconciliation(ctx, "")
	if err != nil {
		t.Fatalf("reconciliation failed: %v", err)
	}
	if summary.PayLaterDueCents != order.DueCents {
		t.Fatalf("pay-later due = %d, want %d", summary.PayLaterDueCents, order.DueCents)
	}

	if _, err := svc.CancelOrder(ctx, order.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	got, err := svc.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("cancelled order should stay readable: %v", err)
	}
	if got.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %q, want cancelled", got.Status)
	}

	if _, err := svc.CreateReturn(ctx, domain.ReturnCreateRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLine{{ProductID: "prod_teh", Qty: 1}},
	}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("return against a cancelled order should conflict, got %v", err)
	}
	if _, err := svc.CancelOrder(ctx, order.ID); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("double cancel should conflict, got %v", err)
	}

	summary, err = svc.GetReconciliation(ctx, "")
	if err != nil {
		t.Fatalf("reconciliation failed: %v", err)
	}
	if summary.PayLaterDueCents != 0 {
		t.Fatalf("pay-later due after cancel = %d, want 0", summary.PayLaterDueCents)
	}
}

func TestReconciliationCacheTTLConfigurable(t *testing.T) {
	svc := New(memory.NewSeeded(), nil, nil, nil, "co_demo", 42*time.Second)
	if svc.reconTTL != 42*time.Second {
		t.Fatalf("ttl = %v, want 42s", svc.reconTTL)
	}
	if def := newTestService(); def.reconTTL != 15*time.Second {
		t.Fatalf("default ttl = %v, want 15s", def.reconTTL)
	}
}

func TestSequenceNumbersAreMonotonic(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	for i := 1; i <= 3; i++ {
		order := seedOrder(t, svc, 1)
		if want := fmt.Sprintf("ORD-%d", i); order.OrderNo != want {
			t.Fatalf("order no = %q, want %q", order.OrderNo, want)
		}
	}

	got, err := svc.repo.NextSequence(ctx, "co_demo", "REG")
	if err != nil {
		t.Fatalf("sequence failed: %v", err)
	}
	if got != "REG-1" {
		t.Fatalf("register sequence = %q", got)
	}
}
