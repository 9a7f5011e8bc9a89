package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"posledger/internal/domain"
	"posledger/internal/store"
)

func (s *Service) CreateCoupon(ctx context.Context, req domain.CouponCreateRequest) (domain.Coupon, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Coupon{}, fmt.Errorf("admin role required")
	}

	req.CompanyID = s.companyOrDefault(req.CompanyID)
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Name = strings.TrimSpace(req.Name)
	if req.Code == "" || req.Name == "" {
		return domain.Coupon{}, fmt.Errorf("coupon code and name are required: %w", store.ErrInvalidInput)
	}
	switch req.DiscountType {
	case domain.DiscountTypePercentage:
		if req.DiscountPercent <= 0 || req.DiscountPercent > 100 {
			return domain.Coupon{}, fmt.Errorf("discount percent must be in (0, 100]: %w", store.ErrInvalidInput)
		}
	case domain.DiscountTypeFlat:
		if req.FlatCents < 1 {
			return domain.Coupon{}, fmt.Errorf("flat discount must be positive: %w", store.ErrInvalidInput)
		}
	default:
		return domain.Coupon{}, fmt.Errorf("unknown discount type %q: %w", req.DiscountType, store.ErrInvalidInput)
	}
	if req.UsageLimit < 0 || req.ExpiryDays < 0 || req.MinPurchaseCents < 0 {
		return domain.Coupon{}, fmt.Errorf("limits cannot be negative: %w", store.ErrInvalidInput)
	}
	if req.StartAt != nil && req.EndAt != nil && req.EndAt.Before(*req.StartAt) {
		return domain.Coupon{}, fmt.Errorf("end date before start date: %w", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateCoupon(ctx, domain.Coupon{
		CompanyID:        req.CompanyID,
		Code:             req.Code,
		Name:             req.Name,
		DiscountType:     req.DiscountType,
		DiscountPercent:  req.DiscountPercent,
		FlatCents:        req.FlatCents,
		Status:           domain.CouponStatusActive,
		StartAt:          req.StartAt,
		EndAt:            req.EndAt,
		ExpiryDays:       req.ExpiryDays,
		UsageLimit:       req.UsageLimit,
		SingleUse:        req.SingleUse,
		MinPurchaseCents: req.MinPurchaseCents,
	})
	if err != nil {
		return domain.Coupon{}, err
	}

	s.logAudit(ctx, req.CompanyID, "coupon_create", "coupon", created.ID, fmt.Sprintf("code=%s,type=%s", created.Code, created.DiscountType))
	return *created, nil
}

func (s *Service) ListCoupons(ctx context.Context, companyID string) ([]domain.Coupon, error) {
	return s.repo.ListCoupons(ctx, s.companyOrDefault(companyID))
}

func (s *Service) CreateLoyaltyCampaign(ctx context.Context, req domain.LoyaltyCreateRequest) (domain.LoyaltyCampaign, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.LoyaltyCampaign{}, fmt.Errorf("admin role required")
	}

	req.CompanyID = s.companyOrDefault(req.CompanyID)
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.LoyaltyCampaign{}, fmt.Errorf("campaign name is required: %w", store.ErrInvalidInput)
	}
	switch req.BenefitType {
	case domain.LoyaltyBenefitDiscount:
		if req.DiscountCents < 1 {
			return domain.LoyaltyCampaign{}, fmt.Errorf("discount benefit must be positive: %w", store.ErrInvalidInput)
		}
	case domain.LoyaltyBenefitFreeProduct:
		if req.RedemptionPoints < 1 {
			return domain.LoyaltyCampaign{}, fmt.Errorf("redemption points must be positive: %w", store.ErrInvalidInput)
		}
	default:
		return domain.LoyaltyCampaign{}, fmt.Errorf("unknown benefit type %q: %w", req.BenefitType, store.ErrInvalidInput)
	}
	if req.UsageLimit < 0 || req.MinPurchaseCents < 0 {
		return domain.LoyaltyCampaign{}, fmt.Errorf("limits cannot be negative: %w", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateLoyaltyCampaign(ctx, domain.LoyaltyCampaign{
		CompanyID:        req.CompanyID,
		Name:             req.Name,
		BenefitType:      req.BenefitType,
		DiscountCents:    req.DiscountCents,
		RedemptionPoints: req.RedemptionPoints,
		Active:           true,
		LaunchAt:         req.LaunchAt,
		ExpireAt:         req.ExpireAt,
		UsageLimit:       req.UsageLimit,
		SingleUse:        req.SingleUse,
		MinPurchaseCents: req.MinPurchaseCents,
	})
	if err != nil {
		return domain.LoyaltyCampaign{}, err
	}

	s.logAudit(ctx, req.CompanyID, "loyalty_create", "loyalty_campaign", created.ID, created.Name)
	return *created, nil
}

func (s *Service) ListLoyaltyCampaigns(ctx context.Context, companyID string) ([]domain.LoyaltyCampaign, error) {
	return s.repo.ListLoyaltyCampaigns(ctx, s.companyOrDefault(companyID))
}

// ApplyCoupon runs the coupon's eligibility gates in a fixed order and
// short-circuits on the first failure. Each gate rejects with its own
// message so the caller can surface it verbatim.
func (s *Service) ApplyCoupon(ctx context.Context, couponID string, customerID string, orderTotalCents int64) (domain.PromotionApplyResponse, error) {
	if couponID == "" || customerID == "" {
		return domain.PromotionApplyResponse{}, fmt.Errorf("coupon id and customer id are required: %w", store.ErrInvalidInput)
	}
	if orderTotalCents < 0 {
		return domain.PromotionApplyResponse{}, fmt.Errorf("order total cannot be negative: %w", store.ErrInvalidInput)
	}

	coupon, err := s.repo.GetCouponByID(ctx, couponID)
	if err != nil {
		return domain.PromotionApplyResponse{}, fmt.Errorf("coupon not found: %w", store.ErrNotFound)
	}

	now := time.Now().UTC()
	if coupon.Status != domain.CouponStatusActive {
		return domain.PromotionApplyResponse{}, fmt.Errorf("coupon is not active: %w", store.ErrConflict)
	}
	if coupon.StartAt != nil && now.Before(*coupon.StartAt) {
		return domain.PromotionApplyResponse{}, fmt.Errorf("coupon is not valid yet: %w", store.ErrConflict)
	}
	if coupon.EndAt != nil && now.After(*coupon.EndAt) {
		return domain.PromotionApplyResponse{}, fmt.Errorf("coupon has expired: %w", store.ErrConflict)
	}
	if coupon.ExpiryDays > 0 && now.After(coupon.CreatedAt.AddDate(0, 0, coupon.ExpiryDays)) {
		return domain.PromotionApplyResponse{}, fmt.Errorf("coupon expiry period has elapsed: %w", store.ErrConflict)
	}
	if coupon.UsageLimit > 0 && coupon.UsedCount >= coupon.UsageLimit {
		return domain.PromotionApplyResponse{}, fmt.Errorf("coupon usage limit reached: %w", store.ErrConflict)
	}
	if coupon.SingleUse {
		used, err := s.repo.GetPromotionUsage(ctx, coupon.ID, customerID)
		if err != nil {
			return domain.PromotionApplyResponse{}, err
		}
		if used > 0 {
			return domain.PromotionApplyResponse{}, fmt.Errorf("customer has already used this coupon: %w", store.ErrConflict)
		}
	}
	if coupon.MinPurchaseCents > 0 && orderTotalCents < coupon.MinPurchaseCents {
		return domain.PromotionApplyResponse{}, fmt.Errorf("order total below the coupon minimum purchase of %d: %w", coupon.MinPurchaseCents, store.ErrConflict)
	}

	var discount int64
	switch coupon.DiscountType {
	case domain.DiscountTypePercentage:
		discount = int64(math.Round(float64(orderTotalCents) * coupon.DiscountPercent / 100))
	case domain.DiscountTypeFlat:
		discount = coupon.FlatCents
	}
	if discount > orderTotalCents {
		discount = orderTotalCents
	}

	// The store re-checks the limit and single-use gates at write time,
	// so a concurrent apply between the reads above and here is refused
	// rather than over-counted.
	if err := s.repo.IncrementPromotionUsage(ctx, coupon.ID, customerID, coupon.UsageLimit, coupon.SingleUse); err != nil {
		return domain.PromotionApplyResponse{}, err
	}

	s.logAudit(ctx, coupon.CompanyID, "coupon_apply", "coupon", coupon.ID, fmt.Sprintf("customer=%s,discount=%d", customerID, discount))
	return domain.PromotionApplyResponse{
		DiscountCents: discount,
		FinalCents:    orderTotalCents - discount,
	}, nil
}

// RevertCoupon releases one usage of the coupon for the customer. It is
// a best-effort cleanup path: a missing usage entry is a no-op and any
// storage failure is logged rather than returned.
func (s *Service) RevertCoupon(ctx context.Context, couponID string, customerID string) {
	s.revertPromotion(ctx, "coupon", couponID, customerID)
}

func (s *Service) ApplyLoyalty(ctx context.Context, campaignID string, customerID string, orderTotalCents int64) (domain.PromotionApplyResponse, error) {
	if campaignID == "" || customerID == "" {
		return domain.PromotionApplyResponse{}, fmt.Errorf("campaign id and customer id are required: %w", store.ErrInvalidInput)
	}
	if orderTotalCents < 0 {
		return domain.PromotionApplyResponse{}, fmt.Errorf("order total cannot be negative: %w", store.ErrInvalidInput)
	}

	campaign, err := s.repo.GetLoyaltyCampaignByID(ctx, campaignID)
	if err != nil {
		return domain.PromotionApplyResponse{}, fmt.Errorf("loyalty campaign not found: %w", store.ErrNotFound)
	}

	now := time.Now().UTC()
	if !campaign.Active {
		return domain.PromotionApplyResponse{}, fmt.Errorf("loyalty campaign is not active: %w", store.ErrConflict)
	}
	if campaign.LaunchAt != nil && now.Before(*campaign.LaunchAt) {
		return domain.PromotionApplyResponse{}, fmt.Errorf("loyalty campaign has not launched yet: %w", store.ErrConflict)
	}
	if campaign.ExpireAt != nil && now.After(*campaign.ExpireAt) {
		return domain.PromotionApplyResponse{}, fmt.Errorf("loyalty campaign has expired: %w", store.ErrConflict)
	}
	if campaign.UsageLimit > 0 && campaign.UsedCount >= campaign.UsageLimit {
		return domain.PromotionApplyResponse{}, fmt.Errorf("loyalty campaign usage limit reached: %w", store.ErrConflict)
	}
	if campaign.SingleUse {
		used, err := s.repo.GetPromotionUsage(ctx, campaign.ID, customerID)
		if err != nil {
			return domain.PromotionApplyResponse{}, err
		}
		if used > 0 {
			return domain.PromotionApplyResponse{}, fmt.Errorf("customer has already used this loyalty campaign: %w", store.ErrConflict)
		}
	}
	if campaign.MinPurchaseCents > 0 && orderTotalCents < campaign.MinPurchaseCents {
		return domain.PromotionApplyResponse{}, fmt.Errorf("order total below the loyalty minimum purchase of %d: %w", campaign.MinPurchaseCents, store.ErrConflict)
	}

	// Loyalty benefits are not capped at the order total; a free-product
	// campaign yields points, not a cash discount.
	var discount int64
	switch campaign.BenefitType {
	case domain.LoyaltyBenefitDiscount:
		discount = campaign.DiscountCents
	case domain.LoyaltyBenefitFreeProduct:
		discount = campaign.RedemptionPoints
	}

	if err := s.repo.IncrementPromotionUsage(ctx, campaign.ID, customerID, campaign.UsageLimit, campaign.SingleUse); err != nil {
		return domain.PromotionApplyResponse{}, err
	}

	s.logAudit(ctx, campaign.CompanyID, "loyalty_apply", "loyalty_campaign", campaign.ID, fmt.Sprintf("customer=%s,benefit=%d", customerID, discount))
	final := orderTotalCents - discount
	if final < 0 {
		final = 0
	}
	return domain.PromotionApplyResponse{
		DiscountCents: discount,
		FinalCents:    final,
	}, nil
}

func (s *Service) RevertLoyalty(ctx context.Context, campaignID string, customerID string) {
	s.revertPromotion(ctx, "loyalty", campaignID, customerID)
}

func (s *Service) revertPromotion(ctx context.Context, kind string, promotionID string, customerID string) {
	if promotionID == "" || customerID == "" {
		return
	}

	used, err := s.repo.GetPromotionUsage(ctx, promotionID, customerID)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"kind": kind, "promotion_id": promotionID, "customer_id": customerID}).
			WithError(err).Warn("promotion revert: usage lookup failed")
		return
	}
	if used == 0 {
		// Nothing to release; revert is idempotent against a missing entry.
		return
	}
	if err := s.repo.DecrementPromotionUsage(ctx, promotionID, customerID); err != nil {
		s.logger.WithFields(logrus.Fields{"kind": kind, "promotion_id": promotionID, "customer_id": customerID}).
			WithError(err).Warn("promotion revert failed")
		return
	}
	s.logAudit(ctx, "", kind+"_revert", kind, promotionID, fmt.Sprintf("customer=%s", customerID))
}
