package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"posledger/internal/domain"
	"posledger/internal/store"
	"posledger/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	productsByID    map[string]domain.Product
	customersByID   map[string]domain.Customer
	sequences       map[string]int64
	ordersByID      map[string]*domain.Order
	returnsByID     map[string]*domain.Return
	creditNotesByID map[string]domain.CreditNote
	couponsByID     map[string]domain.Coupon
	loyaltyByID     map[string]domain.LoyaltyCampaign
	promotionUsage  map[string]int
	paymentsByID    map[string]domain.Payment
	registersByID   map[string]domain.RegisterSession
	cashControls    []domain.CashControl
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		productsByID:    map[string]domain.Product{},
		customersByID:   map[string]domain.Customer{},
		sequences:       map[string]int64{},
		ordersByID:      map[string]*domain.Order{},
		returnsByID:     map[string]*domain.Return{},
		creditNotesByID: map[string]domain.CreditNote{},
		couponsByID:     map[string]domain.Coupon{},
		loyaltyByID:     map[string]domain.LoyaltyCampaign{},
		promotionUsage:  map[string]int{},
		paymentsByID:    map[string]domain.Payment{},
		registersByID:   map[string]domain.RegisterSession{},
		usersByUsername: map[string]domain.UserAccount{},
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	s := New()
	s.usersByUsername = seedUsers()

	products := []domain.Product{
		{ID: "prod_kopi", CompanyID: "co_demo", Name: "Kopi Arabika 250g", PriceCents: 48000, StockQty: 40, Active: true, CreatedAt: now},
		{ID: "prod_gula", CompanyID: "co_demo", Name: "Gula Aren 500g", PriceCents: 26500, StockQty: 60, Active: true, CreatedAt: now},
		{ID: "prod_susu", CompanyID: "co_demo", Name: "Susu UHT 1L", PriceCents: 18900, StockQty: 35, Active: true, CreatedAt: now},
		{ID: "prod_teh", CompanyID: "co_demo", Name: "Teh Melati 100g", PriceCents: 14200, StockQty: 50, Active: true, CreatedAt: now},
		{ID: "prod_roti", CompanyID: "co_demo", Name: "Roti Tawar", PriceCents: 17800, StockQty: 20, Active: true, CreatedAt: now},
	}
	for _, p := range products {
		s.productsByID[p.ID] = p
	}

	customers := []domain.Customer{
		{ID: "cust_rina", CompanyID: "co_demo", Name: "Rina Wulandari", Phone: "+62-811-555-0101", CreatedAt: now},
		{ID: "cust_bayu", CompanyID: "co_demo", Name: "Bayu Pratama", Phone: "+62-811-555-0102", CreatedAt: now},
	}
	for _, c := range customers {
		s.customersByID[c.ID] = c
	}

	return s
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.productsByID[product.ID] = product
	cloned := product
	return &cloned, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.productsByID[id]
	if !ok || p.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	cloned := p
	return &cloned, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.productsByID[id]; ok && p.DeletedAt == nil {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) ListProducts(ctx context.Context, companyID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		if p.CompanyID != companyID || p.DeletedAt != nil {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Product) int {
		if a.Name != b.Name {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) AdjustStock(ctx context.Context, companyID string, adjustments []domain.StockAdjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustStockLocked(companyID, adjustments)
}

// adjustStockLocked applies every delta or none. Callers hold s.mu.
func (s *Store) adjustStockLocked(companyID string, adjustments []domain.StockAdjustment) error {
	for _, adj := range adjustments {
		p, ok := s.productsByID[adj.ProductID]
		if !ok || p.CompanyID != companyID || p.DeletedAt != nil {
			return fmt.Errorf("product %s: %w", adj.ProductID, store.ErrNotFound)
		}
		if p.StockQty+adj.Delta < 0 {
			return fmt.Errorf("product %s has %d on hand, delta %d: %w", adj.ProductID, p.StockQty, adj.Delta, store.ErrInsufficientStock)
		}
	}
	for _, adj := range adjustments {
		p := s.productsByID[adj.ProductID]
		p.StockQty += adj.Delta
		s.productsByID[adj.ProductID] = p
	}
	return nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customersByID[customer.ID] = customer
	cloned := customer
	return &cloned, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customersByID[id]
	if !ok || c.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	cloned := c
	return &cloned, nil
}

func (s *Store) NextSequence(ctx context.Context, companyID string, prefix string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSequenceLocked(companyID, prefix), nil
}

func (s *Store) nextSequenceLocked(companyID string, prefix string) string {
	key := companyID + "/" + prefix
	s.sequences[key]++
	return fmt.Sprintf("%s-%d", prefix, s.sequences[key])
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.OrderNo == "" {
		order.OrderNo = s.nextSequenceLocked(order.CompanyID, "ORD")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	deltas := make([]domain.StockAdjustment, 0, len(order.Lines))
	for _, ln := range order.Lines {
		deltas = append(deltas, domain.StockAdjustment{ProductID: ln.ProductID, Delta: -ln.Qty})
	}
	if err := s.adjustStockLocked(order.CompanyID, deltas); err != nil {
		return nil, err
	}

	stored := cloneOrder(&order)
	s.ordersByID[order.ID] = stored
	return cloneOrder(stored), nil
}

func (s *Store) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.ordersByID[id]
	if !ok || o.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *Store) ListOrders(ctx context.Context, companyID string, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Order, 0, len(s.ordersByID))
	for _, o := range s.ordersByID {
		if o.CompanyID != companyID || o.DeletedAt != nil {
			continue
		}
		out = append(out, *cloneOrder(o))
	}
	slices.SortFunc(out, func(a, b domain.Order) int {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if a.CreatedAt.After(b.CreatedAt) {
				return -1
			}
			return 1
		}
		return cmpString(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CancelOrder(ctx context.Context, id string, at time.Time) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.ordersByID[id]
	if !ok || o.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	if o.Status == domain.OrderStatusCancelled {
		return nil, fmt.Errorf("order %s already cancelled: %w", id, store.ErrConflict)
	}
	if o.TotalReturnedQty > 0 {
		return nil, fmt.Errorf("order %s has returns against it: %w", id, store.ErrConflict)
	}

	deltas := make([]domain.StockAdjustment, 0, len(o.Lines))
	for _, ln := range o.Lines {
		deltas = append(deltas, domain.StockAdjustment{ProductID: ln.ProductID, Delta: ln.Qty})
	}
	if err := s.adjustStockLocked(o.CompanyID, deltas); err != nil {
		return nil, err
	}

	// Cancelled orders stay readable for audit; only the status flips.
	o.Status = domain.OrderStatusCancelled
	return cloneOrder(o), nil
}

func (s *Store) ApplyReturnMutation(ctx context.Context, mut store.ReturnMutation) (*domain.Return, *domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.ordersByID[mut.OrderID]
	if !ok || order.DeletedAt != nil {
		return nil, nil, fmt.Errorf("order %s: %w", mut.OrderID, store.ErrNotFound)
	}

	// Validate the full line rewrite before touching anything.
	for productID, returned := range mut.LineReturnedQty {
		line := findLine(order, productID)
		if line == nil {
			return nil, nil, fmt.Errorf("product %s not on order %s: %w", productID, mut.OrderID, store.ErrInvalidInput)
		}
		if returned < 0 || returned > line.Qty {
			return nil, nil, fmt.Errorf("returned qty %d out of range for product %s (purchased %d): %w", returned, productID, line.Qty, store.ErrInvalidInput)
		}
	}
	// The rewrite carries absolute quantities computed from a snapshot;
	// refuse it if another mutation landed on the order since.
	for productID, prior := range mut.PriorLineReturnedQty {
		line := findLine(order, productID)
		if line == nil {
			return nil, nil, fmt.Errorf("product %s not on order %s: %w", productID, mut.OrderID, store.ErrInvalidInput)
		}
		if line.ReturnedQty != prior {
			return nil, nil, fmt.Errorf("order %s changed while the return was being prepared: %w", mut.OrderID, store.ErrConflict)
		}
	}
	if err := s.adjustStockLocked(order.CompanyID, mut.StockDeltas); err != nil {
		return nil, nil, err
	}

	for productID, returned := range mut.LineReturnedQty {
		findLine(order, productID).ReturnedQty = returned
	}
	order.TotalReturnedQty = mut.TotalReturnedQty
	order.TotalReturnedCents = mut.TotalReturnedCents
	order.Status = mut.OrderStatus

	var ret *domain.Return
	if mut.Return != nil {
		stored := cloneReturn(mut.Return)
		if mut.DeleteReturn {
			deletedAt := mut.AppliedAt.UTC()
			stored.DeletedAt = &deletedAt
		}
		s.returnsByID[stored.ID] = stored
		ret = cloneReturn(stored)
	}

	if mut.IssueCreditNote != nil {
		s.creditNotesByID[mut.IssueCreditNote.ID] = *mut.IssueCreditNote
	}
	if mut.UpdateCreditNote != nil {
		s.creditNotesByID[mut.UpdateCreditNote.ID] = *mut.UpdateCreditNote
	}
	if mut.DeleteCreditNote != "" {
		if note, ok := s.creditNotesByID[mut.DeleteCreditNote]; ok {
			deletedAt := mut.AppliedAt.UTC()
			note.DeletedAt = &deletedAt
			s.creditNotesByID[mut.DeleteCreditNote] = note
		}
	}
	for _, p := range mut.IssuePayments {
		s.createPaymentLocked(p)
	}
	for _, id := range mut.VoidPaymentIDs {
		if p, ok := s.paymentsByID[id]; ok {
			deletedAt := mut.AppliedAt.UTC()
			p.DeletedAt = &deletedAt
			s.paymentsByID[id] = p
		}
	}

	return ret, cloneOrder(order), nil
}

func findLine(order *domain.Order, productID string) *domain.OrderLine {
	for i := range order.Lines {
		if order.Lines[i].ProductID == productID {
			return &order.Lines[i]
		}
	}
	return nil
}

func (s *Store) GetReturnByID(ctx context.Context, id string) (*domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.returnsByID[id]
	if !ok || r.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	return cloneReturn(r), nil
}

func (s *Store) ListReturnsByOrder(ctx context.Context, orderID string) ([]domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Return
	for _, r := range s.returnsByID {
		if r.OrderID != orderID || r.DeletedAt != nil {
			continue
		}
		out = append(out, *cloneReturn(r))
	}
	slices.SortFunc(out, func(a, b domain.Return) int {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if a.CreatedAt.Before(b.CreatedAt) {
				return -1
			}
			return 1
		}
		return cmpString(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) CreateCoupon(ctx context.Context, coupon domain.Coupon) (*domain.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.couponsByID {
		if existing.CompanyID == coupon.CompanyID && existing.DeletedAt == nil &&
			strings.EqualFold(existing.Code, coupon.Code) {
			return nil, fmt.Errorf("coupon code %s: %w", coupon.Code, store.ErrConflict)
		}
	}
	if coupon.ID == "" {
		coupon.ID = xid.New("cpn")
	}
	if coupon.CreatedAt.IsZero() {
		coupon.CreatedAt = time.Now().UTC()
	}
	s.couponsByID[coupon.ID] = coupon
	cloned := coupon
	return &cloned, nil
}

func (s *Store) GetCouponByID(ctx context.Context, id string) (*domain.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.couponsByID[id]
	if !ok || c.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	cloned := c
	return &cloned, nil
}

func (s *Store) GetCouponByCode(ctx context.Context, companyID string, code string) (*domain.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.couponsByID {
		if c.CompanyID == companyID && c.DeletedAt == nil && strings.EqualFold(c.Code, code) {
			cloned := c
			return &cloned, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListCoupons(ctx context.Context, companyID string) ([]domain.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Coupon, 0, len(s.couponsByID))
	for _, c := range s.couponsByID {
		if c.CompanyID != companyID || c.DeletedAt != nil {
			continue
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.Coupon) int {
		return cmpString(a.Code, b.Code)
	})
	return out, nil
}

func (s *Store) CreateLoyaltyCampaign(ctx context.Context, campaign domain.LoyaltyCampaign) (*domain.LoyaltyCampaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if campaign.ID == "" {
		campaign.ID = xid.New("loy")
	}
	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = time.Now().UTC()
	}
	s.loyaltyByID[campaign.ID] = campaign
	cloned := campaign
	return &cloned, nil
}

func (s *Store) GetLoyaltyCampaignByID(ctx context.Context, id string) (*domain.LoyaltyCampaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.loyaltyByID[id]
	if !ok || c.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	cloned := c
	return &cloned, nil
}

func (s *Store) ListLoyaltyCampaigns(ctx context.Context, companyID string) ([]domain.LoyaltyCampaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.LoyaltyCampaign, 0, len(s.loyaltyByID))
	for _, c := range s.loyaltyByID {
		if c.CompanyID != companyID || c.DeletedAt != nil {
			continue
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.LoyaltyCampaign) int {
		return cmpString(a.Name, b.Name)
	})
	return out, nil
}

func usageKey(promotionID, customerID string) string {
	return promotionID + "/" + customerID
}

func (s *Store) GetPromotionUsage(ctx context.Context, promotionID string, customerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.promotionUsage[usageKey(promotionID, customerID)], nil
}

func (s *Store) IncrementPromotionUsage(ctx context.Context, promotionID string, customerID string, usageLimit int, singleUse bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey(promotionID, customerID)
	if singleUse && s.promotionUsage[key] > 0 {
		return fmt.Errorf("promotion %s already used by customer %s: %w", promotionID, customerID, store.ErrConflict)
	}
	if usageLimit > 0 && s.promotionUsedCountLocked(promotionID) >= usageLimit {
		return fmt.Errorf("promotion %s usage limit %d reached: %w", promotionID, usageLimit, store.ErrConflict)
	}

	s.promotionUsage[key]++
	s.bumpPromotionCountLocked(promotionID, 1)
	return nil
}

func (s *Store) DecrementPromotionUsage(ctx context.Context, promotionID string, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey(promotionID, customerID)
	if s.promotionUsage[key] <= 0 {
		return fmt.Errorf("no usage recorded for promotion %s customer %s: %w", promotionID, customerID, store.ErrConflict)
	}
	s.promotionUsage[key]--
	s.bumpPromotionCountLocked(promotionID, -1)
	return nil
}

func (s *Store) promotionUsedCountLocked(promotionID string) int {
	if c, ok := s.couponsByID[promotionID]; ok {
		return c.UsedCount
	}
	if l, ok := s.loyaltyByID[promotionID]; ok {
		return l.UsedCount
	}
	return 0
}

func (s *Store) bumpPromotionCountLocked(promotionID string, delta int) {
	if c, ok := s.couponsByID[promotionID]; ok {
		c.UsedCount += delta
		s.couponsByID[promotionID] = c
		return
	}
	if l, ok := s.loyaltyByID[promotionID]; ok {
		l.UsedCount += delta
		s.loyaltyByID[promotionID] = l
	}
}

func (s *Store) CreateCreditNote(ctx context.Context, note domain.CreditNote) (*domain.CreditNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if note.ID == "" {
		note.ID = xid.New("cn")
	}
	if note.CreditNoteNo == "" {
		note.CreditNoteNo = s.nextSequenceLocked(note.CompanyID, "CN")
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	s.creditNotesByID[note.ID] = note
	cloned := note
	return &cloned, nil
}

func (s *Store) GetCreditNoteByNo(ctx context.Context, companyID string, creditNoteNo string) (*domain.CreditNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.creditNotesByID {
		if n.CompanyID == companyID && n.DeletedAt == nil && n.CreditNoteNo == creditNoteNo {
			cloned := n
			return &cloned, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetCreditNoteByID(ctx context.Context, id string) (*domain.CreditNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.creditNotesByID[id]
	if !ok || n.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	cloned := n
	return &cloned, nil
}

func (s *Store) RedeemCreditNote(ctx context.Context, id string, amountCents int64) (*domain.CreditNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.creditNotesByID[id]
	if !ok || n.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	if amountCents <= 0 {
		return nil, fmt.Errorf("redeem amount must be positive: %w", store.ErrInvalidInput)
	}
	if n.RemainingCents < amountCents {
		return nil, fmt.Errorf("credit note %s has %d remaining, requested %d: %w", n.CreditNoteNo, n.RemainingCents, amountCents, store.ErrInsufficientCredit)
	}
	n.UsedCents += amountCents
	n.RemainingCents -= amountCents
	if n.RemainingCents == 0 {
		n.Status = domain.CreditNoteStatusUsed
	}
	s.creditNotesByID[id] = n
	cloned := n
	return &cloned, nil
}

func (s *Store) RestoreCreditNote(ctx context.Context, id string, amountCents int64) (*domain.CreditNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.creditNotesByID[id]
	if !ok || n.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	if amountCents <= 0 {
		return nil, fmt.Errorf("restore amount must be positive: %w", store.ErrInvalidInput)
	}
	if n.UsedCents < amountCents {
		return nil, fmt.Errorf("credit note %s has %d used, cannot restore %d: %w", n.CreditNoteNo, n.UsedCents, amountCents, store.ErrInsufficientCredit)
	}
	n.UsedCents -= amountCents
	n.RemainingCents += amountCents
	n.Status = domain.CreditNoteStatusAvailable
	s.creditNotesByID[id] = n
	cloned := n
	return &cloned, nil
}

func (s *Store) GetPaymentByNo(ctx context.Context, companyID string, paymentNo string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.paymentsByID {
		if p.CompanyID == companyID && p.DeletedAt == nil && p.PaymentNo == paymentNo {
			cloned := p
			return &cloned, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetPaymentByID(ctx context.Context, id string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.paymentsByID[id]
	if !ok || p.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	cloned := p
	return &cloned, nil
}

func (s *Store) RedeemAdvance(ctx context.Context, paymentID string, amountCents int64) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.paymentsByID[paymentID]
	if !ok || p.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	if amountCents <= 0 {
		return nil, fmt.Errorf("redeem amount must be positive: %w", store.ErrInvalidInput)
	}
	if p.PaymentType != domain.PaymentTypeAdvance {
		return nil, fmt.Errorf("payment %s is not an advance: %w", p.PaymentNo, store.ErrInvalidInput)
	}
	if p.AmountCents < amountCents {
		return nil, fmt.Errorf("advance %s has %d remaining, requested %d: %w", p.PaymentNo, p.AmountCents, amountCents, store.ErrInsufficientCredit)
	}
	p.AmountCents -= amountCents
	s.paymentsByID[paymentID] = p
	cloned := p
	return &cloned, nil
}

func (s *Store) RestoreAdvance(ctx context.Context, paymentID string, amountCents int64) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.paymentsByID[paymentID]
	if !ok || p.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	if amountCents <= 0 {
		return nil, fmt.Errorf("restore amount must be positive: %w", store.ErrInvalidInput)
	}
	if p.PaymentType != domain.PaymentTypeAdvance {
		return nil, fmt.Errorf("payment %s is not an advance: %w", p.PaymentNo, store.ErrInvalidInput)
	}
	p.AmountCents += amountCents
	s.paymentsByID[paymentID] = p
	cloned := p
	return &cloned, nil
}

func (s *Store) CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.createPaymentLocked(payment)
	cloned := stored
	return &cloned, nil
}

func (s *Store) createPaymentLocked(payment domain.Payment) domain.Payment {
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.PaymentNo == "" {
		payment.PaymentNo = s.nextSequenceLocked(payment.CompanyID, "PAY")
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	s.paymentsByID[payment.ID] = payment
	return payment
}

func (s *Store) ListPayments(ctx context.Context, companyID string, from time.Time, to time.Time) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Payment
	for _, p := range s.paymentsByID {
		if p.CompanyID != companyID || p.DeletedAt != nil {
			continue
		}
		if p.CreatedAt.Before(from) || !p.CreatedAt.Before(to) {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Payment) int {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if a.CreatedAt.Before(b.CreatedAt) {
				return -1
			}
			return 1
		}
		return cmpString(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) OpenRegister(ctx context.Context, session domain.RegisterSession, opening domain.CashControl) (*domain.RegisterSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.registersByID {
		if r.CompanyID == session.CompanyID && r.Status == domain.RegisterStatusOpen {
			return nil, fmt.Errorf("register %s still open: %w", r.RegisterNo, store.ErrRegisterOpen)
		}
	}
	if session.ID == "" {
		session.ID = xid.New("reg")
	}
	if session.RegisterNo == "" {
		session.RegisterNo = s.nextSequenceLocked(session.CompanyID, "REG")
	}
	session.Status = domain.RegisterStatusOpen
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	s.registersByID[session.ID] = session

	opening.ID = xid.New("cc")
	opening.CompanyID = session.CompanyID
	opening.RegisterID = session.ID
	opening.Type = domain.CashControlOpening
	opening.AmountCents = session.OpeningCashCents
	opening.CreatedAt = session.OpenedAt
	s.cashControls = append(s.cashControls, opening)

	cloned := session
	return &cloned, nil
}

func (s *Store) GetOpenRegister(ctx context.Context, companyID string) (*domain.RegisterSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.registersByID {
		if r.CompanyID == companyID && r.Status == domain.RegisterStatusOpen {
			cloned := r
			return &cloned, nil
		}
	}
	return nil, store.ErrRegisterClosed
}

func (s *Store) CloseRegister(ctx context.Context, companyID string, closedAt time.Time) (*domain.RegisterSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.registersByID {
		if r.CompanyID == companyID && r.Status == domain.RegisterStatusOpen {
			r.Status = domain.RegisterStatusClosed
			at := closedAt.UTC()
			r.ClosedAt = &at
			s.registersByID[id] = r
			cloned := r
			return &cloned, nil
		}
	}
	return nil, store.ErrRegisterClosed
}

func (s *Store) AddRegisterCredit(ctx context.Context, registerID string, amountCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.registersByID[registerID]
	if !ok {
		return store.ErrNotFound
	}
	r.CreditRedeemedCents += amountCents
	s.registersByID[registerID] = r
	return nil
}

func (s *Store) CreateCashControl(ctx context.Context, entry domain.CashControl) (*domain.CashControl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("cc")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.cashControls = append(s.cashControls, entry)
	cloned := entry
	return &cloned, nil
}

func (s *Store) ListCashControls(ctx context.Context, registerID string) ([]domain.CashControl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.CashControl
	for _, cc := range s.cashControls {
		if cc.RegisterID == registerID {
			out = append(out, cc)
		}
	}
	return out, nil
}

func (s *Store) SumPaymentsByMode(ctx context.Context, companyID string, from time.Time, to time.Time) (domain.PaymentsByMode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sums domain.PaymentsByMode
	for _, p := range s.paymentsByID {
		if p.CompanyID != companyID || p.DeletedAt != nil {
			continue
		}
		if p.VoucherType != domain.VoucherTypeSales {
			continue
		}
		if p.CreatedAt.Before(from) || !p.CreatedAt.Before(to) {
			continue
		}
		switch p.Mode {
		case domain.PaymentModeCash:
			sums.CashCents += p.AmountCents
		case domain.PaymentModeCheque:
			sums.ChequeCents += p.AmountCents
		case domain.PaymentModeCard:
			sums.CardCents += p.AmountCents
		case domain.PaymentModeBank:
			sums.BankCents += p.AmountCents
		case domain.PaymentModeUPI:
			sums.UPICents += p.AmountCents
		}
	}
	return sums, nil
}

func (s *Store) SumRefunds(ctx context.Context, companyID string, from time.Time, to time.Time) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cash, bank int64
	for _, r := range s.returnsByID {
		if r.CompanyID != companyID || r.DeletedAt != nil {
			continue
		}
		if r.CreatedAt.Before(from) || !r.CreatedAt.Before(to) {
			continue
		}
		cash += r.RefundCashCents
		bank += r.RefundBankCents
	}
	return cash, bank, nil
}

func (s *Store) SumPayLaterDue(ctx context.Context, companyID string, from time.Time, to time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due int64
	for _, o := range s.ordersByID {
		if o.CompanyID != companyID || o.DeletedAt != nil || o.Status == domain.OrderStatusCancelled {
			continue
		}
		if o.CreatedAt.Before(from) || !o.CreatedAt.Before(to) {
			continue
		}
		due += o.DueCents
	}
	return due, nil
}

func (s *Store) SumPaymentsByVoucher(ctx context.Context, companyID string, voucherType string, from time.Time, to time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, p := range s.paymentsByID {
		if p.CompanyID != companyID || p.DeletedAt != nil || p.VoucherType != voucherType {
			continue
		}
		if p.CreatedAt.Before(from) || !p.CreatedAt.Before(to) {
			continue
		}
		total += p.AmountCents
	}
	return total, nil
}

func (s *Store) SumSales(ctx context.Context, companyID string, from time.Time, to time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, o := range s.ordersByID {
		if o.CompanyID != companyID || o.DeletedAt != nil || o.Status == domain.OrderStatusCancelled {
			continue
		}
		if o.CreatedAt.Before(from) || !o.CreatedAt.Before(to) {
			continue
		}
		total += o.TotalCents
	}
	return total, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, companyID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AuditLog
	for _, e := range s.auditLogs {
		if e.CompanyID != companyID {
			continue
		}
		if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b domain.AuditLog) int {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if a.CreatedAt.After(b.CreatedAt) {
				return -1
			}
			return 1
		}
		return cmpString(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("user %s: %w", user.Username, store.ErrConflict)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return out, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	u.Password = password
	s.usersByUsername[username] = u
	return nil
}

func cmpString(a string, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cloneOrder(src *domain.Order) *domain.Order {
	cloned := *src
	cloned.Lines = slices.Clone(src.Lines)
	return &cloned
}

func cloneReturn(src *domain.Return) *domain.Return {
	cloned := *src
	cloned.Lines = slices.Clone(src.Lines)
	return &cloned
}
