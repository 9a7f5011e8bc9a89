package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"posledger/internal/domain"
	"posledger/internal/lock"
	"posledger/internal/store"
)

const (
	registerLockTTL      = 5 * time.Second
	reconciliationPrefix = "recon:"
)

func reconciliationKey(companyID string) string {
	return reconciliationPrefix + companyID
}

// OpenRegister starts the company's cash session. The distributed lock
// serializes concurrent opens across processes; the store's uniqueness
// guard on open sessions backstops it.
func (s *Service) OpenRegister(ctx context.Context, req domain.RegisterOpenRequest) (domain.RegisterSession, error) {
	req.CompanyID = s.companyOrDefault(req.CompanyID)
	if req.OpeningCashCents < 0 {
		return domain.RegisterSession{}, fmt.Errorf("opening cash cannot be negative: %w", store.ErrInvalidInput)
	}

	release, err := s.locker.Acquire(ctx, "register:"+req.CompanyID, registerLockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotObtained) {
			return domain.RegisterSession{}, fmt.Errorf("another register operation is in progress: %w", store.ErrConflict)
		}
		return domain.RegisterSession{}, err
	}
	defer func() {
		if err := release(ctx); err != nil {
			s.logger.WithFields(logrus.Fields{"company_id": req.CompanyID}).WithError(err).Warn("failed to release register lock")
		}
	}()

	session, err := s.repo.OpenRegister(ctx, domain.RegisterSession{
		CompanyID:        req.CompanyID,
		BranchID:         req.BranchID,
		OpeningCashCents: req.OpeningCashCents,
		OpenedAt:         time.Now().UTC(),
	}, domain.CashControl{})
	if err != nil {
		return domain.RegisterSession{}, err
	}

	s.invalidateReconciliation(ctx, req.CompanyID)
	s.logAudit(ctx, req.CompanyID, "register_open", "register", session.ID, fmt.Sprintf("no=%s,opening_cash=%d", session.RegisterNo, session.OpeningCashCents))
	return *session, nil
}

func (s *Service) CloseRegister(ctx context.Context, companyID string) (domain.RegisterSession, error) {
	companyID = s.companyOrDefault(companyID)

	release, err := s.locker.Acquire(ctx, "register:"+companyID, registerLockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotObtained) {
			return domain.RegisterSession{}, fmt.Errorf("another register operation is in progress: %w", store.ErrConflict)
		}
		return domain.RegisterSession{}, err
	}
	defer func() {
		if err := release(ctx); err != nil {
			s.logger.WithFields(logrus.Fields{"company_id": companyID}).WithError(err).Warn("failed to release register lock")
		}
	}()

	session, err := s.repo.CloseRegister(ctx, companyID, time.Now().UTC())
	if err != nil {
		return domain.RegisterSession{}, err
	}

	s.invalidateReconciliation(ctx, companyID)
	s.logAudit(ctx, companyID, "register_close", "register", session.ID, fmt.Sprintf("no=%s", session.RegisterNo))
	return *session, nil
}

func (s *Service) GetOpenRegister(ctx context.Context, companyID string) (domain.RegisterSession, error) {
	session, err := s.repo.GetOpenRegister(ctx, s.companyOrDefault(companyID))
	if err != nil {
		return domain.RegisterSession{}, err
	}
	return *session, nil
}

// RecordCashMovement books a cash-in or cash-out against the open
// register.
func (s *Service) RecordCashMovement(ctx context.Context, companyID string, movementType string, amountCents int64) (domain.CashControl, error) {
	companyID = s.companyOrDefault(companyID)
	if movementType != domain.CashControlCashIn && movementType != domain.CashControlCashOut {
		return domain.CashControl{}, fmt.Errorf("movement type must be %s or %s: %w", domain.CashControlCashIn, domain.CashControlCashOut, store.ErrInvalidInput)
	}
	if amountCents < 1 {
		return domain.CashControl{}, fmt.Errorf("movement amount must be positive: %w", store.ErrInvalidInput)
	}

	register, err := s.repo.GetOpenRegister(ctx, companyID)
	if err != nil {
		return domain.CashControl{}, err
	}

	entry, err := s.repo.CreateCashControl(ctx, domain.CashControl{
		CompanyID:   companyID,
		RegisterID:  register.ID,
		Type:        movementType,
		AmountCents: amountCents,
	})
	if err != nil {
		return domain.CashControl{}, err
	}

	s.invalidateReconciliation(ctx, companyID)
	s.logAudit(ctx, companyID, "cash_"+movementType, "cash_control", entry.ID, fmt.Sprintf("register=%s,amount=%d", register.RegisterNo, amountCents))
	return *entry, nil
}

// GetReconciliation assembles the expected cash/bank position of the
// company's open register from everything recorded since it opened. It
// reads, never writes; a closed register yields a bare closed summary.
func (s *Service) GetReconciliation(ctx context.Context, companyID string) (domain.ReconciliationSummary, error) {
	companyID = s.companyOrDefault(companyID)

	register, err := s.repo.GetOpenRegister(ctx, companyID)
	if err != nil {
		if errors.Is(err, store.ErrRegisterClosed) {
			return domain.ReconciliationSummary{Status: domain.RegisterStatusClosed}, nil
		}
		return domain.ReconciliationSummary{}, err
	}

	key := reconciliationKey(companyID)
	if cached, ok, err := s.reconCache.Get(ctx, key); err == nil && ok && cached.RegisterID == register.ID {
		return *cached, nil
	} else if err != nil {
		s.logger.WithFields(logrus.Fields{"company_id": companyID}).WithError(err).Warn("reconciliation cache read failed")
	}

	now := time.Now().UTC()
	from := register.OpenedAt

	payments, err := s.repo.SumPaymentsByMode(ctx, companyID, from, now)
	if err != nil {
		return domain.ReconciliationSummary{}, err
	}
	refundCash, refundBank, err := s.repo.SumRefunds(ctx, companyID, from, now)
	if err != nil {
		return domain.ReconciliationSummary{}, err
	}
	payLaterDue, err := s.repo.SumPayLaterDue(ctx, companyID, from, now)
	if err != nil {
		return domain.ReconciliationSummary{}, err
	}
	expensePaid, err := s.repo.SumPaymentsByVoucher(ctx, companyID, domain.VoucherTypeExpense, from, now)
	if err != nil {
		return domain.ReconciliationSummary{}, err
	}
	purchasePaid, err := s.repo.SumPaymentsByVoucher(ctx, companyID, domain.VoucherTypePurchase, from, now)
	if err != nil {
		return domain.ReconciliationSummary{}, err
	}
	totalSales, err := s.repo.SumSales(ctx, companyID, from, now)
	if err != nil {
		return domain.ReconciliationSummary{}, err
	}

	var cashIn, cashOut int64
	controls, err := s.repo.ListCashControls(ctx, register.ID)
	if err != nil {
		return domain.ReconciliationSummary{}, err
	}
	for _, cc := range controls {
		switch cc.Type {
		case domain.CashControlCashIn:
			cashIn += cc.AmountCents
		case domain.CashControlCashOut:
			cashOut += cc.AmountCents
		}
	}

	openedAt := register.OpenedAt
	summary := domain.ReconciliationSummary{
		Status:              domain.RegisterStatusOpen,
		RegisterID:          register.ID,
		RegisterNo:          register.RegisterNo,
		OpenedAt:            &openedAt,
		OpeningCashCents:    register.OpeningCashCents,
		Payments:            payments,
		RefundCashCents:     refundCash,
		RefundBankCents:     refundBank,
		PayLaterDueCents:    payLaterDue,
		ExpensePaidCents:    expensePaid,
		PurchasePaidCents:   purchasePaid,
		TotalSalesCents:     totalSales,
		CreditRedeemedCents: register.CreditRedeemedCents,
		ExpectedCashCents:   register.OpeningCashCents + payments.CashCents - refundCash + cashIn - cashOut,
	}

	if err := s.reconCache.Set(ctx, key, &summary, s.reconTTL); err != nil {
		s.logger.WithFields(logrus.Fields{"company_id": companyID}).WithError(err).Warn("reconciliation cache write failed")
	}
	return summary, nil
}

func (s *Service) invalidateReconciliation(ctx context.Context, companyID string) {
	if err := s.reconCache.Invalidate(ctx, reconciliationKey(companyID)); err != nil {
		s.logger.WithFields(logrus.Fields{"company_id": companyID}).WithError(err).Warn("reconciliation cache invalidation failed")
	}
}
