package store

import (
	"context"
	"errors"
	"time"

	"posledger/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrConflict           = errors.New("conflict")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInsufficientCredit = errors.New("insufficient credit balance")
	ErrRegisterOpen       = errors.New("register already open")
	ErrRegisterClosed     = errors.New("no open register")
)

// ReturnMutation carries everything a single return settlement changes.
// The service computes it; the store applies the whole of it atomically
// or not at all.
type ReturnMutation struct {
	Return       *domain.Return
	DeleteReturn bool

	// Order rewrite: per-line returned quantities plus the recomputed
	// rollups and derived status. PriorLineReturnedQty captures the
	// returned quantities the rewrite was computed from; the store
	// rejects the mutation with ErrConflict if any stored quantity no
	// longer matches, so a rewrite based on a stale read never lands.
	OrderID              string
	LineReturnedQty      map[string]int
	PriorLineReturnedQty map[string]int
	TotalReturnedQty     int
	TotalReturnedCents   int64
	OrderStatus          string

	// Stock deltas keyed by product id. Positive restocks, negative
	// takes back out.
	StockDeltas []domain.StockAdjustment

	// Credit note to issue, update, or soft-delete alongside.
	IssueCreditNote  *domain.CreditNote
	UpdateCreditNote *domain.CreditNote
	DeleteCreditNote string

	// Refund payment vouchers to record or void.
	IssuePayments  []domain.Payment
	VoidPaymentIDs []string

	AppliedAt time.Time
}

type Repository interface {
	// Master data.
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	ListProducts(ctx context.Context, companyID string) ([]domain.Product, error)
	AdjustStock(ctx context.Context, companyID string, adjustments []domain.StockAdjustment) error
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error)

	// Document numbering. NextSequence returns "<prefix>-<n>" with n
	// incremented atomically per (companyID, prefix).
	NextSequence(ctx context.Context, companyID string, prefix string) (string, error)

	// Orders.
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, companyID string, limit int) ([]domain.Order, error)
	CancelOrder(ctx context.Context, id string, at time.Time) (*domain.Order, error)

	// Returns. ApplyReturnMutation commits the full mutation in one
	// transaction and enforces the line and stock guards at write time.
	ApplyReturnMutation(ctx context.Context, mut ReturnMutation) (*domain.Return, *domain.Order, error)
	GetReturnByID(ctx context.Context, id string) (*domain.Return, error)
	ListReturnsByOrder(ctx context.Context, orderID string) ([]domain.Return, error)

	// Promotions.
	CreateCoupon(ctx context.Context, coupon domain.Coupon) (*domain.Coupon, error)
	GetCouponByID(ctx context.Context, id string) (*domain.Coupon, error)
	GetCouponByCode(ctx context.Context, companyID string, code string) (*domain.Coupon, error)
	ListCoupons(ctx context.Context, companyID string) ([]domain.Coupon, error)
	CreateLoyaltyCampaign(ctx context.Context, campaign domain.LoyaltyCampaign) (*domain.LoyaltyCampaign, error)
	GetLoyaltyCampaignByID(ctx context.Context, id string) (*domain.LoyaltyCampaign, error)
	ListLoyaltyCampaigns(ctx context.Context, companyID string) ([]domain.LoyaltyCampaign, error)
	GetPromotionUsage(ctx context.Context, promotionID string, customerID string) (int, error)
	// IncrementPromotionUsage enforces usageLimit and singleUse at write
	// time: a usage that would exceed either fails with ErrConflict
	// instead of recording.
	IncrementPromotionUsage(ctx context.Context, promotionID string, customerID string, usageLimit int, singleUse bool) error
	DecrementPromotionUsage(ctx context.Context, promotionID string, customerID string) error

	// Credit ledger. Redeem and Restore are guarded: they fail with
	// ErrInsufficientCredit instead of letting a balance cross its bound.
	CreateCreditNote(ctx context.Context, note domain.CreditNote) (*domain.CreditNote, error)
	GetCreditNoteByNo(ctx context.Context, companyID string, creditNoteNo string) (*domain.CreditNote, error)
	GetCreditNoteByID(ctx context.Context, id string) (*domain.CreditNote, error)
	RedeemCreditNote(ctx context.Context, id string, amountCents int64) (*domain.CreditNote, error)
	RestoreCreditNote(ctx context.Context, id string, amountCents int64) (*domain.CreditNote, error)
	GetPaymentByNo(ctx context.Context, companyID string, paymentNo string) (*domain.Payment, error)
	GetPaymentByID(ctx context.Context, id string) (*domain.Payment, error)
	RedeemAdvance(ctx context.Context, paymentID string, amountCents int64) (*domain.Payment, error)
	RestoreAdvance(ctx context.Context, paymentID string, amountCents int64) (*domain.Payment, error)
	CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error)
	ListPayments(ctx context.Context, companyID string, from time.Time, to time.Time) ([]domain.Payment, error)

	// Register sessions. OpenRegister fails with ErrRegisterOpen while
	// another session for the company is still open.
	OpenRegister(ctx context.Context, session domain.RegisterSession, opening domain.CashControl) (*domain.RegisterSession, error)
	GetOpenRegister(ctx context.Context, companyID string) (*domain.RegisterSession, error)
	CloseRegister(ctx context.Context, companyID string, closedAt time.Time) (*domain.RegisterSession, error)
	AddRegisterCredit(ctx context.Context, registerID string, amountCents int64) error
	CreateCashControl(ctx context.Context, entry domain.CashControl) (*domain.CashControl, error)
	ListCashControls(ctx context.Context, registerID string) ([]domain.CashControl, error)

	// Reconciliation reads. SumPaymentsByMode buckets sales vouchers
	// only; receipts such as advance payments carry a mutable balance
	// and would drift the drawer expectation.
	SumPaymentsByMode(ctx context.Context, companyID string, from time.Time, to time.Time) (domain.PaymentsByMode, error)
	SumRefunds(ctx context.Context, companyID string, from time.Time, to time.Time) (cash int64, bank int64, err error)
	SumPayLaterDue(ctx context.Context, companyID string, from time.Time, to time.Time) (int64, error)
	SumPaymentsByVoucher(ctx context.Context, companyID string, voucherType string, from time.Time, to time.Time) (int64, error)
	SumSales(ctx context.Context, companyID string, from time.Time, to time.Time) (int64, error)

	// Audit.
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, companyID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	// Users.
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
