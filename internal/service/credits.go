package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"posledger/internal/domain"
	"posledger/internal/store"
)

// CheckRedeemCredit resolves a credit note or advance payment by its
// document number and reports how much of it can still be redeemed. A
// zero balance is a normal answer here, not an error; the rejection
// happens only when redemption is actually attempted.
func (s *Service) CheckRedeemCredit(ctx context.Context, companyID string, code string, creditType string, customerID string) (domain.CreditCheckResponse, error) {
	companyID = s.companyOrDefault(companyID)
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.CreditCheckResponse{}, fmt.Errorf("credit code is required: %w", store.ErrInvalidInput)
	}

	switch creditType {
	case domain.CreditTypeNote:
		note, err := s.repo.GetCreditNoteByNo(ctx, companyID, code)
		if err != nil {
			return domain.CreditCheckResponse{}, fmt.Errorf("credit note %s: %w", code, err)
		}
		if customerID != "" && note.CustomerID != customerID {
			return domain.CreditCheckResponse{}, fmt.Errorf("credit note %s does not belong to this customer: %w", code, store.ErrConflict)
		}
		redeemable := note.RemainingCents
		if redeemable < 0 {
			redeemable = 0
		}
		return domain.CreditCheckResponse{ID: note.ID, Type: domain.CreditTypeNote, RedeemableCents: redeemable}, nil

	case domain.CreditTypeAdvance:
		payment, err := s.repo.GetPaymentByNo(ctx, companyID, code)
		if err != nil {
			return domain.CreditCheckResponse{}, fmt.Errorf("advance payment %s: %w", code, err)
		}
		if payment.PaymentType != domain.PaymentTypeAdvance {
			return domain.CreditCheckResponse{}, fmt.Errorf("payment %s is not an advance: %w", code, store.ErrInvalidInput)
		}
		if customerID != "" && payment.CustomerID != customerID {
			return domain.CreditCheckResponse{}, fmt.Errorf("advance payment %s does not belong to this customer: %w", code, store.ErrConflict)
		}
		redeemable := payment.AmountCents
		if redeemable < 0 {
			redeemable = 0
		}
		return domain.CreditCheckResponse{ID: payment.ID, Type: domain.CreditTypeAdvance, RedeemableCents: redeemable}, nil

	default:
		return domain.CreditCheckResponse{}, fmt.Errorf("unknown credit type %q: %w", creditType, store.ErrInvalidInput)
	}
}

// ApplyRedeemCredit draws down a credit balance. The underlying update is
// guarded at write time, so a concurrent redemption between check and
// apply surfaces as an insufficient-credit rejection rather than a
// negative balance.
func (s *Service) ApplyRedeemCredit(ctx context.Context, id string, req domain.CreditRedeemRequest) error {
	if id == "" {
		return fmt.Errorf("credit id is required: %w", store.ErrInvalidInput)
	}
	if req.AmountCents < 1 {
		return fmt.Errorf("redeem amount must be positive: %w", store.ErrInvalidInput)
	}
	req.CompanyID = s.companyOrDefault(req.CompanyID)

	switch req.Type {
	case domain.CreditTypeNote:
		note, err := s.repo.GetCreditNoteByID(ctx, id)
		if err != nil {
			return fmt.Errorf("credit note %s: %w", id, err)
		}
		if req.CustomerID != "" && note.CustomerID != req.CustomerID {
			return fmt.Errorf("credit note %s does not belong to this customer: %w", note.CreditNoteNo, store.ErrConflict)
		}
		updated, err := s.repo.RedeemCreditNote(ctx, id, req.AmountCents)
		if err != nil {
			return err
		}
		s.recordRegisterCredit(ctx, req.CompanyID, req.AmountCents)
		s.logAudit(ctx, req.CompanyID, "credit_redeem", "credit_note", updated.ID, fmt.Sprintf("no=%s,amount=%d,remaining=%d", updated.CreditNoteNo, req.AmountCents, updated.RemainingCents))
		return nil

	case domain.CreditTypeAdvance:
		payment, err := s.repo.GetPaymentByID(ctx, id)
		if err != nil {
			return fmt.Errorf("advance payment %s: %w", id, err)
		}
		if req.CustomerID != "" && payment.CustomerID != req.CustomerID {
			return fmt.Errorf("advance payment %s does not belong to this customer: %w", payment.PaymentNo, store.ErrConflict)
		}
		updated, err := s.repo.RedeemAdvance(ctx, id, req.AmountCents)
		if err != nil {
			return err
		}
		s.recordRegisterCredit(ctx, req.CompanyID, req.AmountCents)
		s.logAudit(ctx, req.CompanyID, "advance_redeem", "payment", updated.ID, fmt.Sprintf("no=%s,amount=%d,remaining=%d", updated.PaymentNo, req.AmountCents, updated.AmountCents))
		return nil

	default:
		return fmt.Errorf("unknown credit type %q: %w", req.Type, store.ErrInvalidInput)
	}
}

// RevertRedeemCredit is the exact mirror of ApplyRedeemCredit.
func (s *Service) RevertRedeemCredit(ctx context.Context, id string, req domain.CreditRedeemRequest) error {
	if id == "" {
		return fmt.Errorf("credit id is required: %w", store.ErrInvalidInput)
	}
	if req.AmountCents < 1 {
		return fmt.Errorf("revert amount must be positive: %w", store.ErrInvalidInput)
	}
	req.CompanyID = s.companyOrDefault(req.CompanyID)

	switch req.Type {
	case domain.CreditTypeNote:
		updated, err := s.repo.RestoreCreditNote(ctx, id, req.AmountCents)
		if err != nil {
			return err
		}
		s.recordRegisterCredit(ctx, req.CompanyID, -req.AmountCents)
		s.logAudit(ctx, req.CompanyID, "credit_revert", "credit_note", updated.ID, fmt.Sprintf("no=%s,amount=%d", updated.CreditNoteNo, req.AmountCents))
		return nil

	case domain.CreditTypeAdvance:
		updated, err := s.repo.RestoreAdvance(ctx, id, req.AmountCents)
		if err != nil {
			return err
		}
		s.recordRegisterCredit(ctx, req.CompanyID, -req.AmountCents)
		s.logAudit(ctx, req.CompanyID, "advance_revert", "payment", updated.ID, fmt.Sprintf("no=%s,amount=%d", updated.PaymentNo, req.AmountCents))
		return nil

	default:
		return fmt.Errorf("unknown credit type %q: %w", req.Type, store.ErrInvalidInput)
	}
}

func (s *Service) GetCreditNote(ctx context.Context, id string) (domain.CreditNote, error) {
	if id == "" {
		return domain.CreditNote{}, fmt.Errorf("credit note id is required: %w", store.ErrInvalidInput)
	}
	note, err := s.repo.GetCreditNoteByID(ctx, id)
	if err != nil {
		return domain.CreditNote{}, err
	}
	return *note, nil
}

// CreateAdvancePayment records customer money taken up front as a receipt
// voucher carrying the advance marker; its amount is the redeemable
// balance.
func (s *Service) CreateAdvancePayment(ctx context.Context, companyID string, customerID string, mode string, amountCents int64) (domain.Payment, error) {
	companyID = s.companyOrDefault(companyID)
	if customerID == "" {
		return domain.Payment{}, fmt.Errorf("customer id is required: %w", store.ErrInvalidInput)
	}
	if amountCents < 1 {
		return domain.Payment{}, fmt.Errorf("advance amount must be positive: %w", store.ErrInvalidInput)
	}
	if mode == "" {
		mode = domain.PaymentModeCash
	}
	if _, err := s.repo.GetCustomerByID(ctx, customerID); err != nil {
		return domain.Payment{}, fmt.Errorf("customer %s: %w", customerID, err)
	}

	created, err := s.repo.CreatePayment(ctx, domain.Payment{
		CompanyID:   companyID,
		VoucherType: domain.VoucherTypeReceipt,
		Mode:        mode,
		PaymentType: domain.PaymentTypeAdvance,
		AmountCents: amountCents,
		CustomerID:  customerID,
	})
	if err != nil {
		return domain.Payment{}, err
	}

	s.logAudit(ctx, companyID, "advance_create", "payment", created.ID, fmt.Sprintf("no=%s,customer=%s,amount=%d", created.PaymentNo, customerID, amountCents))
	return *created, nil
}

// recordRegisterCredit notes a credit redemption against the open
// register so reconciliation can explain the cash gap. Best-effort: with
// no register open there is nothing to tag.
func (s *Service) recordRegisterCredit(ctx context.Context, companyID string, amountCents int64) {
	register, err := s.repo.GetOpenRegister(ctx, companyID)
	if err != nil {
		if !errors.Is(err, store.ErrRegisterClosed) {
			s.logger.WithFields(logrus.Fields{"company_id": companyID}).WithError(err).Warn("register lookup failed while recording credit redemption")
		}
		return
	}
	if err := s.repo.AddRegisterCredit(ctx, register.ID, amountCents); err != nil {
		s.logger.WithFields(logrus.Fields{"register_id": register.ID}).WithError(err).Warn("failed to record credit redemption on register")
	}
	s.invalidateReconciliation(ctx, companyID)
}
