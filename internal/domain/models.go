package domain

import "time"

type Product struct {
	ID         string     `json:"id"`
	CompanyID  string     `json:"company_id"`
	Name       string     `json:"name"`
	PriceCents int64      `json:"price_cents"`
	StockQty   int        `json:"stock_qty"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

type ProductCreateRequest struct {
	CompanyID    string `json:"company_id"`
	Name         string `json:"name"`
	PriceCents   int64  `json:"price_cents"`
	InitialStock int    `json:"initial_stock"`
}

type Customer struct {
	ID        string     `json:"id"`
	CompanyID string     `json:"company_id"`
	Name      string     `json:"name"`
	Phone     string     `json:"phone,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

type CustomerCreateRequest struct {
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
}

type OrderLine struct {
	ProductID      string `json:"product_id"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	NetCents       int64  `json:"net_cents"`
	ReturnedQty    int    `json:"returned_qty"`
}

type Order struct {
	ID                 string      `json:"id"`
	CompanyID          string      `json:"company_id"`
	BranchID           string      `json:"branch_id,omitempty"`
	OrderNo            string      `json:"order_no"`
	CustomerID         string      `json:"customer_id"`
	Lines              []OrderLine `json:"lines"`
	TotalCents         int64       `json:"total_cents"`
	PaidCents          int64       `json:"paid_cents"`
	DueCents           int64       `json:"due_cents"`
	DiscountCents      int64       `json:"discount_cents"`
	TotalReturnedQty   int         `json:"total_returned_qty"`
	TotalReturnedCents int64       `json:"total_returned_cents"`
	Status             string      `json:"status"`
	PaymentStatus      string      `json:"payment_status"`
	CouponID           string      `json:"coupon_id,omitempty"`
	LoyaltyID          string      `json:"loyalty_id,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	DeletedAt          *time.Time  `json:"deleted_at,omitempty"`
}

type OrderLineRequest struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type PaymentSplit struct {
	Mode        string `json:"mode"`
	AmountCents int64  `json:"amount_cents"`
}

type OrderCreateRequest struct {
	CompanyID  string             `json:"company_id"`
	BranchID   string             `json:"branch_id,omitempty"`
	CustomerID string             `json:"customer_id"`
	Lines      []OrderLineRequest `json:"lines"`
	Payments   []PaymentSplit     `json:"payments,omitempty"`
	CouponCode string             `json:"coupon_code,omitempty"`
	LoyaltyID  string             `json:"loyalty_id,omitempty"`
}

type ReturnLine struct {
	ProductID      string `json:"product_id"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents,omitempty"`
}

type Return struct {
	ID              string       `json:"id"`
	CompanyID       string       `json:"company_id"`
	ReturnNo        string       `json:"return_no"`
	OrderID         string       `json:"order_id"`
	CustomerID      string       `json:"customer_id"`
	Type            string       `json:"type"`
	Lines           []ReturnLine `json:"lines"`
	TotalCents      int64        `json:"total_cents"`
	RefundCashCents int64        `json:"refund_cash_cents"`
	RefundBankCents int64        `json:"refund_bank_cents"`
	CreditNoteID    string       `json:"credit_note_id,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	DeletedAt       *time.Time   `json:"deleted_at,omitempty"`
}

type ReturnCreateRequest struct {
	CompanyID       string       `json:"company_id"`
	OrderID         string       `json:"order_id"`
	Type            string       `json:"type"`
	Lines           []ReturnLine `json:"lines"`
	RefundCashCents int64        `json:"refund_cash_cents"`
	RefundBankCents int64        `json:"refund_bank_cents"`
}

type ReturnEditRequest struct {
	Lines           []ReturnLine `json:"lines"`
	RefundCashCents int64        `json:"refund_cash_cents"`
	RefundBankCents int64        `json:"refund_bank_cents"`
}

type ReturnResponse struct {
	Return Return `json:"return"`
	Order  Order  `json:"order"`
}

type CreditNote struct {
	ID             string     `json:"id"`
	CompanyID      string     `json:"company_id"`
	CreditNoteNo   string     `json:"credit_note_no"`
	CustomerID     string     `json:"customer_id"`
	SourceReturnID string     `json:"source_return_id,omitempty"`
	TotalCents     int64      `json:"total_cents"`
	UsedCents      int64      `json:"used_cents"`
	RemainingCents int64      `json:"remaining_cents"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

type CreditCheckResponse struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	RedeemableCents int64  `json:"redeemable_cents"`
}

type CreditRedeemRequest struct {
	CompanyID   string `json:"company_id"`
	Type        string `json:"type"`
	CustomerID  string `json:"customer_id,omitempty"`
	AmountCents int64  `json:"amount_cents"`
}

type Coupon struct {
	ID               string     `json:"id"`
	CompanyID        string     `json:"company_id"`
	Code             string     `json:"code"`
	Name             string     `json:"name"`
	DiscountType     string     `json:"discount_type"`
	DiscountPercent  float64    `json:"discount_percent,omitempty"`
	FlatCents        int64      `json:"flat_cents,omitempty"`
	Status           string     `json:"status"`
	StartAt          *time.Time `json:"start_at,omitempty"`
	EndAt            *time.Time `json:"end_at,omitempty"`
	ExpiryDays       int        `json:"expiry_days,omitempty"`
	UsageLimit       int        `json:"usage_limit,omitempty"`
	UsedCount        int        `json:"used_count"`
	SingleUse        bool       `json:"single_use"`
	MinPurchaseCents int64      `json:"min_purchase_cents,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

type CouponCreateRequest struct {
	CompanyID        string     `json:"company_id"`
	Code             string     `json:"code"`
	Name             string     `json:"name"`
	DiscountType     string     `json:"discount_type"`
	DiscountPercent  float64    `json:"discount_percent,omitempty"`
	FlatCents        int64      `json:"flat_cents,omitempty"`
	StartAt          *time.Time `json:"start_at,omitempty"`
	EndAt            *time.Time `json:"end_at,omitempty"`
	ExpiryDays       int        `json:"expiry_days,omitempty"`
	UsageLimit       int        `json:"usage_limit,omitempty"`
	SingleUse        bool       `json:"single_use"`
	MinPurchaseCents int64      `json:"min_purchase_cents,omitempty"`
}

type LoyaltyCampaign struct {
	ID               string     `json:"id"`
	CompanyID        string     `json:"company_id"`
	Name             string     `json:"name"`
	BenefitType      string     `json:"benefit_type"`
	DiscountCents    int64      `json:"discount_cents,omitempty"`
	RedemptionPoints int64      `json:"redemption_points,omitempty"`
	Active           bool       `json:"active"`
	LaunchAt         *time.Time `json:"launch_at,omitempty"`
	ExpireAt         *time.Time `json:"expire_at,omitempty"`
	UsageLimit       int        `json:"usage_limit,omitempty"`
	UsedCount        int        `json:"used_count"`
	SingleUse        bool       `json:"single_use"`
	MinPurchaseCents int64      `json:"min_purchase_cents,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

type LoyaltyCreateRequest struct {
	CompanyID        string     `json:"company_id"`
	Name             string     `json:"name"`
	BenefitType      string     `json:"benefit_type"`
	DiscountCents    int64      `json:"discount_cents,omitempty"`
	RedemptionPoints int64      `json:"redemption_points,omitempty"`
	LaunchAt         *time.Time `json:"launch_at,omitempty"`
	ExpireAt         *time.Time `json:"expire_at,omitempty"`
	UsageLimit       int        `json:"usage_limit,omitempty"`
	SingleUse        bool       `json:"single_use"`
	MinPurchaseCents int64      `json:"min_purchase_cents,omitempty"`
}

type PromotionApplyRequest struct {
	CompanyID       string `json:"company_id"`
	CustomerID      string `json:"customer_id"`
	OrderTotalCents int64  `json:"order_total_cents"`
}

type PromotionApplyResponse struct {
	DiscountCents int64 `json:"discount_cents"`
	FinalCents    int64 `json:"final_cents"`
}

type RegisterSession struct {
	ID                  string     `json:"id"`
	CompanyID           string     `json:"company_id"`
	BranchID            string     `json:"branch_id,omitempty"`
	RegisterNo          string     `json:"register_no"`
	Status              string     `json:"status"`
	OpeningCashCents    int64      `json:"opening_cash_cents"`
	CreditRedeemedCents int64      `json:"credit_redeemed_cents"`
	OpenedAt            time.Time  `json:"opened_at"`
	ClosedAt            *time.Time `json:"closed_at,omitempty"`
}

type RegisterOpenRequest struct {
	CompanyID        string `json:"company_id"`
	BranchID         string `json:"branch_id,omitempty"`
	OpeningCashCents int64  `json:"opening_cash_cents"`
}

type CashControl struct {
	ID          string    `json:"id"`
	CompanyID   string    `json:"company_id"`
	RegisterID  string    `json:"register_id"`
	Type        string    `json:"type"`
	AmountCents int64     `json:"amount_cents"`
	CreatedAt   time.Time `json:"created_at"`
}

type Payment struct {
	ID          string     `json:"id"`
	CompanyID   string     `json:"company_id"`
	PaymentNo   string     `json:"payment_no"`
	VoucherType string     `json:"voucher_type"`
	Mode        string     `json:"mode"`
	PaymentType string     `json:"payment_type,omitempty"`
	AmountCents int64      `json:"amount_cents"`
	OrderID     string     `json:"order_id,omitempty"`
	CustomerID  string     `json:"customer_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

type PaymentsByMode struct {
	CashCents   int64 `json:"cash_cents"`
	ChequeCents int64 `json:"cheque_cents"`
	CardCents   int64 `json:"card_cents"`
	BankCents   int64 `json:"bank_cents"`
	UPICents    int64 `json:"upi_cents"`
}

type ReconciliationSummary struct {
	Status              string         `json:"status"`
	RegisterID          string         `json:"register_id,omitempty"`
	RegisterNo          string         `json:"register_no,omitempty"`
	OpenedAt            *time.Time     `json:"opened_at,omitempty"`
	OpeningCashCents    int64          `json:"opening_cash_cents"`
	Payments            PaymentsByMode `json:"payments"`
	RefundCashCents     int64          `json:"refund_cash_cents"`
	RefundBankCents     int64          `json:"refund_bank_cents"`
	PayLaterDueCents    int64          `json:"pay_later_due_cents"`
	ExpensePaidCents    int64          `json:"expense_paid_cents"`
	PurchasePaidCents   int64          `json:"purchase_paid_cents"`
	TotalSalesCents     int64          `json:"total_sales_cents"`
	CreditRedeemedCents int64          `json:"credit_redeemed_cents"`
	ExpectedCashCents   int64          `json:"expected_cash_cents"`
}

type StockAdjustment struct {
	ProductID string `json:"product_id"`
	Delta     int    `json:"delta"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	CompanyID  string    `json:"company_id"`
	Actor      string    `json:"actor"`
	Role       string    `json:"role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type AdvancePaymentRequest struct {
	CompanyID   string `json:"company_id"`
	CustomerID  string `json:"customer_id"`
	Mode        string `json:"mode"`
	AmountCents int64  `json:"amount_cents"`
}

type CashMovementRequest struct {
	CompanyID   string `json:"company_id"`
	Type        string `json:"type"`
	AmountCents int64  `json:"amount_cents"`
}

const (
	OrderStatusCompleted         = "completed"
	OrderStatusPartiallyReturned = "partially_returned"
	OrderStatusReturned          = "returned"
	OrderStatusCancelled         = "cancelled"
)

const (
	PaymentStatusUnpaid  = "unpaid"
	PaymentStatusPartial = "partial"
	PaymentStatusPaid    = "paid"
)

const (
	ReturnTypeSales    = "sales_return"
	ReturnTypePurchase = "purchase_return"
)

const (
	CreditNoteStatusAvailable = "available"
	CreditNoteStatusUsed      = "used"
)

const (
	CreditTypeNote    = "credit_note"
	CreditTypeAdvance = "advance_payment"
)

const (
	CouponStatusActive   = "active"
	CouponStatusInactive = "inactive"
)

const (
	DiscountTypePercentage = "percentage"
	DiscountTypeFlat       = "flat"
)

const (
	LoyaltyBenefitDiscount    = "discount"
	LoyaltyBenefitFreeProduct = "free_product"
)

const (
	RegisterStatusOpen   = "open"
	RegisterStatusClosed = "closed"
)

const (
	CashControlOpening = "opening"
	CashControlCashIn  = "cash_in"
	CashControlCashOut = "cash_out"
)

const (
	VoucherTypeSales    = "sales"
	VoucherTypePurchase = "purchase"
	VoucherTypeExpense  = "expense"
	VoucherTypeReceipt  = "receipt"
)

const (
	PaymentModeCash   = "cash"
	PaymentModeCheque = "cheque"
	PaymentModeCard   = "card"
	PaymentModeBank   = "bank"
	PaymentModeUPI    = "upi"
	PaymentModeCredit = "credit"
)

const PaymentTypeAdvance = "advance"
