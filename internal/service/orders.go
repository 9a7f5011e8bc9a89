package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"posledger/internal/domain"
	"posledger/internal/store"
)

func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.Order, error) {
	req.CompanyID = s.companyOrDefault(req.CompanyID)
	if req.CustomerID == "" {
		return domain.Order{}, fmt.Errorf("customer id is required: %w", store.ErrInvalidInput)
	}
	if len(req.Lines) == 0 {
		return domain.Order{}, fmt.Errorf("order needs at least one line: %w", store.ErrInvalidInput)
	}
	for _, ln := range req.Lines {
		if ln.ProductID == "" || ln.Qty < 1 {
			return domain.Order{}, fmt.Errorf("each line needs a product id and a positive qty: %w", store.ErrInvalidInput)
		}
	}
	for _, split := range req.Payments {
		if split.AmountCents < 0 {
			return domain.Order{}, fmt.Errorf("payment amount cannot be negative: %w", store.ErrInvalidInput)
		}
		switch split.Mode {
		case domain.PaymentModeCash, domain.PaymentModeCheque, domain.PaymentModeCard, domain.PaymentModeBank, domain.PaymentModeUPI, domain.PaymentModeCredit:
		default:
			return domain.Order{}, fmt.Errorf("unknown payment mode %q: %w", split.Mode, store.ErrInvalidInput)
		}
	}

	if _, err := s.repo.GetCustomerByID(ctx, req.CustomerID); err != nil {
		return domain.Order{}, fmt.Errorf("customer %s: %w", req.CustomerID, err)
	}

	ids := make([]string, 0, len(req.Lines))
	for _, ln := range req.Lines {
		ids = append(ids, ln.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.Order{}, err
	}

	lines := make([]domain.OrderLine, 0, len(req.Lines))
	var total int64
	for _, ln := range req.Lines {
		p, ok := products[ln.ProductID]
		if !ok {
			return domain.Order{}, fmt.Errorf("product %s: %w", ln.ProductID, store.ErrNotFound)
		}
		net := p.PriceCents * int64(ln.Qty)
		lines = append(lines, domain.OrderLine{
			ProductID:      ln.ProductID,
			Qty:            ln.Qty,
			UnitPriceCents: p.PriceCents,
			NetCents:       net,
		})
		total += net
	}

	// Promotions are redeemed before the order is persisted; a failed
	// persist reverts them best-effort below.
	var discount int64
	var couponID, loyaltyID string
	if req.CouponCode != "" {
		coupon, err := s.repo.GetCouponByCode(ctx, req.CompanyID, req.CouponCode)
		if err != nil {
			return domain.Order{}, fmt.Errorf("coupon %s: %w", req.CouponCode, err)
		}
		applied, err := s.ApplyCoupon(ctx, coupon.ID, req.CustomerID, total)
		if err != nil {
			return domain.Order{}, err
		}
		discount += applied.DiscountCents
		couponID = coupon.ID
	}
	if req.LoyaltyID != "" {
		applied, err := s.ApplyLoyalty(ctx, req.LoyaltyID, req.CustomerID, total)
		if err != nil {
			if couponID != "" {
				s.RevertCoupon(ctx, couponID, req.CustomerID)
			}
			return domain.Order{}, err
		}
		discount += applied.DiscountCents
		loyaltyID = req.LoyaltyID
	}
	if discount > total {
		discount = total
	}
	payable := total - discount

	var paid int64
	for _, split := range req.Payments {
		paid += split.AmountCents
	}
	if paid > payable {
		if couponID != "" {
			s.RevertCoupon(ctx, couponID, req.CustomerID)
		}
		if loyaltyID != "" {
			s.RevertLoyalty(ctx, loyaltyID, req.CustomerID)
		}
		return domain.Order{}, fmt.Errorf("payments %d exceed payable amount %d: %w", paid, payable, store.ErrInvalidInput)
	}

	now := time.Now().UTC()
	created, err := s.repo.CreateOrder(ctx, domain.Order{
		CompanyID:     req.CompanyID,
		BranchID:      req.BranchID,
		CustomerID:    req.CustomerID,
		Lines:         lines,
		TotalCents:    payable,
		PaidCents:     paid,
		DueCents:      payable - paid,
		DiscountCents: discount,
		Status:        domain.OrderStatusCompleted,
		PaymentStatus: domain.DerivePaymentStatus(paid, payable),
		CouponID:      couponID,
		LoyaltyID:     loyaltyID,
		CreatedAt:     now,
	})
	if err != nil {
		if couponID != "" {
			s.RevertCoupon(ctx, couponID, req.CustomerID)
		}
		if loyaltyID != "" {
			s.RevertLoyalty(ctx, loyaltyID, req.CustomerID)
		}
		return domain.Order{}, err
	}

	for _, split := range req.Payments {
		if split.AmountCents == 0 {
			continue
		}
		if _, err := s.repo.CreatePayment(ctx, domain.Payment{
			CompanyID:   req.CompanyID,
			VoucherType: domain.VoucherTypeSales,
			Mode:        split.Mode,
			AmountCents: split.AmountCents,
			OrderID:     created.ID,
			CustomerID:  req.CustomerID,
			CreatedAt:   now,
		}); err != nil {
			s.logger.WithFields(logrus.Fields{"order_id": created.ID, "mode": split.Mode}).
				WithError(err).Error("failed to record payment voucher for order")
			return domain.Order{}, err
		}
	}

	s.invalidateReconciliation(ctx, req.CompanyID)
	s.logAudit(ctx, req.CompanyID, "order_create", "order", created.ID, fmt.Sprintf("no=%s,total=%d,paid=%d,discount=%d", created.OrderNo, created.TotalCents, created.PaidCents, created.DiscountCents))
	return *created, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	if id == "" {
		return domain.Order{}, fmt.Errorf("order id is required: %w", store.ErrInvalidInput)
	}
	order, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) ListOrders(ctx context.Context, companyID string, limit int) ([]domain.Order, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListOrders(ctx, s.companyOrDefault(companyID), limit)
}

// CancelOrder restores stock and releases any promotion redemptions tied
// to the order. Promotion cleanup is best-effort: a failed revert is
// logged, never returned, so the cancellation itself cannot be blocked
// by secondary cleanup.
func (s *Service) CancelOrder(ctx context.Context, id string) (domain.Order, error) {
	if id == "" {
		return domain.Order{}, fmt.Errorf("order id is required: %w", store.ErrInvalidInput)
	}

	cancelled, err := s.repo.CancelOrder(ctx, id, time.Now().UTC())
	if err != nil {
		return domain.Order{}, err
	}

	if cancelled.CouponID != "" {
		s.RevertCoupon(ctx, cancelled.CouponID, cancelled.CustomerID)
	}
	if cancelled.LoyaltyID != "" {
		s.RevertLoyalty(ctx, cancelled.LoyaltyID, cancelled.CustomerID)
	}

	s.invalidateReconciliation(ctx, cancelled.CompanyID)
	s.logAudit(ctx, cancelled.CompanyID, "order_cancel", "order", cancelled.ID, fmt.Sprintf("no=%s,total=%d", cancelled.OrderNo, cancelled.TotalCents))
	return *cancelled, nil
}
