package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"posledger/internal/domain"
	"posledger/internal/store"
	"posledger/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, company_id, name, price_cents, stock_qty, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, product.ID, product.CompanyID, product.Name, product.PriceCents, product.StockQty, product.Active, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("product %s: %w", product.ID, store.ErrConflict)
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	return scanProduct(s.db.QueryRowContext(ctx, `
		SELECT id, company_id, name, price_cents, stock_qty, active, created_at
		FROM products
		WHERE id = $1 AND deleted_at IS NULL
	`, id))
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, name, price_cents, stock_qty, active, created_at
		FROM products
		WHERE id = ANY($1) AND deleted_at IS NULL
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.Name, &p.PriceCents, &p.StockQty, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *Store) ListProducts(ctx context.Context, companyID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, name, price_cents, stock_qty, active, created_at
		FROM products
		WHERE company_id = $1 AND deleted_at IS NULL
		ORDER BY name
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.Name, &p.PriceCents, &p.StockQty, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) AdjustStock(ctx context.Context, companyID string, adjustments []domain.StockAdjustment) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := adjustStockTx(ctx, tx, companyID, adjustments); err != nil {
		return err
	}
	return tx.Commit()
}

// adjustStockTx applies the full delta set inside the caller's transaction.
// The guarded UPDATE refuses to let any stock quantity go negative, which
// rolls the whole set back.
func adjustStockTx(ctx context.Context, tx *sql.Tx, companyID string, adjustments []domain.StockAdjustment) error {
	for _, adj := range adjustments {
		if adj.Delta == 0 {
			continue
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock_qty = stock_qty + $1
			WHERE id = $2 AND company_id = $3 AND deleted_at IS NULL AND stock_qty + $1 >= 0
		`, adj.Delta, adj.ProductID, companyID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `
				SELECT EXISTS (SELECT 1 FROM products WHERE id = $1 AND company_id = $2 AND deleted_at IS NULL)
			`, adj.ProductID, companyID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("product %s: %w", adj.ProductID, store.ErrNotFound)
			}
			return fmt.Errorf("product %s would go negative by %d: %w", adj.ProductID, adj.Delta, store.ErrInsufficientStock)
		}
	}
	return nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, company_id, name, phone, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, customer.ID, customer.CompanyID, customer.Name, nullIfEmpty(customer.Phone), customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("customer %s: %w", customer.ID, store.ErrConflict)
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	var phone sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, name, phone, created_at
		FROM customers
		WHERE id = $1 AND deleted_at IS NULL
	`, id).Scan(&c.ID, &c.CompanyID, &c.Name, &phone, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.Phone = phone.String
	return &c, nil
}

func (s *Store) NextSequence(ctx context.Context, companyID string, prefix string) (string, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sequences (company_id, prefix, value)
		VALUES ($1, $2, 1)
		ON CONFLICT (company_id, prefix) DO UPDATE SET value = sequences.value + 1
		RETURNING value
	`, companyID, prefix).Scan(&value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d", prefix, value), nil
}

func nextSequenceTx(ctx context.Context, tx *sql.Tx, companyID string, prefix string) (string, error) {
	var value int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO sequences (company_id, prefix, value)
		VALUES ($1, $2, 1)
		ON CONFLICT (company_id, prefix) DO UPDATE SET value = sequences.value + 1
		RETURNING value
	`, companyID, prefix).Scan(&value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d", prefix, value), nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if order.OrderNo == "" {
		order.OrderNo, err = nextSequenceTx(ctx, tx, order.CompanyID, "ORD")
		if err != nil {
			return nil, err
		}
	}

	deltas := make([]domain.StockAdjustment, 0, len(order.Lines))
	for _, ln := range order.Lines {
		deltas = append(deltas, domain.StockAdjustment{ProductID: ln.ProductID, Delta: -ln.Qty})
	}
	if err := adjustStockTx(ctx, tx, order.CompanyID, deltas); err != nil {
		return nil, err
	}

	lines, err := json.Marshal(order.Lines)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, company_id, branch_id, order_no, customer_id, lines,
			total_cents, paid_cents, due_cents, discount_cents,
			total_returned_qty, total_returned_cents,
			status, payment_status, coupon_id, loyalty_id, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, order.ID, order.CompanyID, nullIfEmpty(order.BranchID), order.OrderNo, order.CustomerID, lines,
		order.TotalCents, order.PaidCents, order.DueCents, order.DiscountCents,
		order.TotalReturnedQty, order.TotalReturnedCents,
		order.Status, order.PaymentStatus, nullIfEmpty(order.CouponID), nullIfEmpty(order.LoyaltyID), order.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("order %s: %w", order.ID, store.ErrConflict)
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := order
	return &created, nil
}

const orderColumns = `
	id, company_id, branch_id, order_no, customer_id, lines,
	total_cents, paid_cents, due_cents, discount_cents,
	total_returned_qty, total_returned_cents,
	status, payment_status, coupon_id, loyalty_id, created_at, deleted_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var branchID, couponID, loyaltyID sql.NullString
	var deletedAt sql.NullTime
	var lines []byte
	err := row.Scan(
		&o.ID, &o.CompanyID, &branchID, &o.OrderNo, &o.CustomerID, &lines,
		&o.TotalCents, &o.PaidCents, &o.DueCents, &o.DiscountCents,
		&o.TotalReturnedQty, &o.TotalReturnedCents,
		&o.Status, &o.PaymentStatus, &couponID, &loyaltyID, &o.CreatedAt, &deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	o.BranchID = branchID.String
	o.CouponID = couponID.String
	o.LoyaltyID = loyaltyID.String
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		o.DeletedAt = &t
	}
	if err := json.Unmarshal(lines, &o.Lines); err != nil {
		return nil, fmt.Errorf("order %s lines corrupt: %w", o.ID, err)
	}
	return &o, nil
}

func (s *Store) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	return scanOrder(s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1 AND deleted_at IS NULL
	`, id))
}

func (s *Store) ListOrders(ctx context.Context, companyID string, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE company_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, companyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (s *Store) CancelOrder(ctx context.Context, id string, at time.Time) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order, err := scanOrder(tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, err
	}
	if order.Status == domain.OrderStatusCancelled {
		return nil, fmt.Errorf("order %s already cancelled: %w", id, store.ErrConflict)
	}
	if order.TotalReturnedQty > 0 {
		return nil, fmt.Errorf("order %s has returns against it: %w", id, store.ErrConflict)
	}

	deltas := make([]domain.StockAdjustment, 0, len(order.Lines))
	for _, ln := range order.Lines {
		deltas = append(deltas, domain.StockAdjustment{ProductID: ln.ProductID, Delta: ln.Qty})
	}
	if err := adjustStockTx(ctx, tx, order.CompanyID, deltas); err != nil {
		return nil, err
	}

	// Cancelled orders stay readable for audit; only the status flips.
	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1
		WHERE id = $2
	`, domain.OrderStatusCancelled, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	order.Status = domain.OrderStatusCancelled
	return order, nil
}

// ApplyReturnMutation commits a full return settlement in one serializable
// transaction: the order line rewrite, stock deltas, credit note issue or
// resize, and refund voucher inserts or voids all land together or not at all.
func (s *Store) ApplyReturnMutation(ctx context.Context, mut store.ReturnMutation) (*domain.Return, *domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order, err := scanOrder(tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, mut.OrderID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("order %s: %w", mut.OrderID, store.ErrNotFound)
		}
		return nil, nil, err
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
	// The rewrite carries absolute quantities computed from a snapshot
	// taken outside this transaction; refuse it if another mutation
	// landed on the order since.
	for productID, prior := range mut.PriorLineReturnedQty {
		line := findLine(order, productID)
		if line == nil {
			return nil, nil, fmt.Errorf("product %s not on order %s: %w", productID, mut.OrderID, store.ErrInvalidInput)
		}
		if line.ReturnedQty != prior {
			return nil, nil, fmt.Errorf("order %s changed while the return was being prepared: %w", mut.OrderID, store.ErrConflict)
		}
	}
	if err := adjustStockTx(ctx, tx, order.CompanyID, mut.StockDeltas); err != nil {
		return nil, nil, err
	}

	for productID, returned := range mut.LineReturnedQty {
		findLine(order, productID).ReturnedQty = returned
	}
	order.TotalReturnedQty = mut.TotalReturnedQty
	order.TotalReturnedCents = mut.TotalReturnedCents
	order.Status = mut.OrderStatus

	lines, err := json.Marshal(order.Lines)
	if err != nil {
		return nil, nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET lines = $1, total_returned_qty = $2, total_returned_cents = $3, status = $4
		WHERE id = $5
	`, lines, order.TotalReturnedQty, order.TotalReturnedCents, order.Status, order.ID)
	if err != nil {
		return nil, nil, err
	}

	var ret *domain.Return
	if mut.Return != nil {
		stored := *mut.Return
		if mut.DeleteReturn {
			deletedAt := mut.AppliedAt.UTC()
			stored.DeletedAt = &deletedAt
		}
		if err := upsertReturnTx(ctx, tx, stored); err != nil {
			return nil, nil, err
		}
		ret = &stored
	}

	if mut.IssueCreditNote != nil {
		if err := insertCreditNoteTx(ctx, tx, *mut.IssueCreditNote); err != nil {
			return nil, nil, err
		}
	}
	if mut.UpdateCreditNote != nil {
		n := mut.UpdateCreditNote
		_, err = tx.ExecContext(ctx, `
			UPDATE credit_notes
			SET total_cents = $1, used_cents = $2, remaining_cents = $3, status = $4
			WHERE id = $5
		`, n.TotalCents, n.UsedCents, n.RemainingCents, n.Status, n.ID)
		if err != nil {
			return nil, nil, err
		}
	}
	if mut.DeleteCreditNote != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE credit_notes SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL
		`, mut.AppliedAt.UTC(), mut.DeleteCreditNote)
		if err != nil {
			return nil, nil, err
		}
	}
	for _, p := range mut.IssuePayments {
		if _, err := insertPaymentTx(ctx, tx, p); err != nil {
			return nil, nil, err
		}
	}
	for _, id := range mut.VoidPaymentIDs {
		_, err = tx.ExecContext(ctx, `
			UPDATE payments SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL
		`, mut.AppliedAt.UTC(), id)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return ret, order, nil
}

func findLine(order *domain.Order, productID string) *domain.OrderLine {
	for i := range order.Lines {
		if order.Lines[i].ProductID == productID {
			return &order.Lines[i]
		}
	}
	return nil
}

func upsertReturnTx(ctx context.Context, tx *sql.Tx, ret domain.Return) error {
	lines, err := json.Marshal(ret.Lines)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO returns (
			id, company_id, return_no, order_id, customer_id, type, lines,
			total_cents, refund_cash_cents, refund_bank_cents, credit_note_id, created_at, deleted_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			lines = EXCLUDED.lines,
			total_cents = EXCLUDED.total_cents,
			refund_cash_cents = EXCLUDED.refund_cash_cents,
			refund_bank_cents = EXCLUDED.refund_bank_cents,
			credit_note_id = EXCLUDED.credit_note_id,
			deleted_at = EXCLUDED.deleted_at
	`, ret.ID, ret.CompanyID, ret.ReturnNo, ret.OrderID, ret.CustomerID, ret.Type, lines,
		ret.TotalCents, ret.RefundCashCents, ret.RefundBankCents, nullIfEmpty(ret.CreditNoteID), ret.CreatedAt, nullTime(ret.DeletedAt))
	return err
}

const returnColumns = `
	id, company_id, return_no, order_id, customer_id, type, lines,
	total_cents, refund_cash_cents, refund_bank_cents, credit_note_id, created_at
`

func scanReturn(row rowScanner) (*domain.Return, error) {
	var r domain.Return
	var creditNoteID sql.NullString
	var lines []byte
	err := row.Scan(
		&r.ID, &r.CompanyID, &r.ReturnNo, &r.OrderID, &r.CustomerID, &r.Type, &lines,
		&r.TotalCents, &r.RefundCashCents, &r.RefundBankCents, &creditNoteID, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	r.CreditNoteID = creditNoteID.String
	if err := json.Unmarshal(lines, &r.Lines); err != nil {
		return nil, fmt.Errorf("return %s lines corrupt: %w", r.ID, err)
	}
	return &r, nil
}

func (s *Store) GetReturnByID(ctx context.Context, id string) (*domain.Return, error) {
	return scanReturn(s.db.QueryRowContext(ctx, `
		SELECT `+returnColumns+`
		FROM returns
		WHERE id = $1 AND deleted_at IS NULL
	`, id))
}

func (s *Store) ListReturnsByOrder(ctx context.Context, orderID string) ([]domain.Return, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+returnColumns+`
		FROM returns
		WHERE order_id = $1 AND deleted_at IS NULL
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Return
	for rows.Next() {
		r, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) CreateCoupon(ctx context.Context, coupon domain.Coupon) (*domain.Coupon, error) {
	if coupon.ID == "" {
		coupon.ID = xid.New("cpn")
	}
	if coupon.CreatedAt.IsZero() {
		coupon.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coupons (
			id, company_id, code, name, discount_type, discount_percent, flat_cents,
			status, start_at, end_at, expiry_days, usage_limit, used_count,
			single_use, min_purchase_cents, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, coupon.ID, coupon.CompanyID, coupon.Code, coupon.Name, coupon.DiscountType, coupon.DiscountPercent, coupon.FlatCents,
		coupon.Status, nullTime(coupon.StartAt), nullTime(coupon.EndAt), coupon.ExpiryDays, coupon.UsageLimit, coupon.UsedCount,
		coupon.SingleUse, coupon.MinPurchaseCents, coupon.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("coupon code %s: %w", coupon.Code, store.ErrConflict)
		}
		return nil, err
	}

	created := coupon
	return &created, nil
}

const couponColumns = `
	id, company_id, code, name, discount_type, discount_percent, flat_cents,
	status, start_at, end_at, expiry_days, usage_limit, used_count,
	single_use, min_purchase_cents, created_at
`

func scanCoupon(row rowScanner) (*domain.Coupon, error) {
	var c domain.Coupon
	var startAt, endAt sql.NullTime
	err := row.Scan(
		&c.ID, &c.CompanyID, &c.Code, &c.Name, &c.DiscountType, &c.DiscountPercent, &c.FlatCents,
		&c.Status, &startAt, &endAt, &c.ExpiryDays, &c.UsageLimit, &c.UsedCount,
		&c.SingleUse, &c.MinPurchaseCents, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if startAt.Valid {
		t := startAt.Time.UTC()
		c.StartAt = &t
	}
	if endAt.Valid {
		t := endAt.Time.UTC()
		c.EndAt = &t
	}
	return &c, nil
}

func (s *Store) GetCouponByID(ctx context.Context, id string) (*domain.Coupon, error) {
	return scanCoupon(s.db.QueryRowContext(ctx, `
		SELECT `+couponColumns+`
		FROM coupons
		WHERE id = $1 AND deleted_at IS NULL
	`, id))
}

func (s *Store) GetCouponByCode(ctx context.Context, companyID string, code string) (*domain.Coupon, error) {
	return scanCoupon(s.db.QueryRowContext(ctx, `
		SELECT `+couponColumns+`
		FROM coupons
		WHERE company_id = $1 AND code = $2 AND deleted_at IS NULL
	`, companyID, code))
}

func (s *Store) ListCoupons(ctx context.Context, companyID string) ([]domain.Coupon, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+couponColumns+`
		FROM coupons
		WHERE company_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) CreateLoyaltyCampaign(ctx context.Context, campaign domain.LoyaltyCampaign) (*domain.LoyaltyCampaign, error) {
	if campaign.ID == "" {
		campaign.ID = xid.New("loy")
	}
	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO loyalty_campaigns (
			id, company_id, name, benefit_type, discount_cents, redemption_points,
			active, launch_at, expire_at, usage_limit, used_count,
			single_use, min_purchase_cents, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, campaign.ID, campaign.CompanyID, campaign.Name, campaign.BenefitType, campaign.DiscountCents, campaign.RedemptionPoints,
		campaign.Active, nullTime(campaign.LaunchAt), nullTime(campaign.ExpireAt), campaign.UsageLimit, campaign.UsedCount,
		campaign.SingleUse, campaign.MinPurchaseCents, campaign.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := campaign
	return &created, nil
}

const loyaltyColumns = `
	id, company_id, name, benefit_type, discount_cents, redemption_points,
	active, launch_at, expire_at, usage_limit, used_count,
	single_use, min_purchase_cents, created_at
`

func scanLoyalty(row rowScanner) (*domain.LoyaltyCampaign, error) {
	var l domain.LoyaltyCampaign
	var launchAt, expireAt sql.NullTime
	err := row.Scan(
		&l.ID, &l.CompanyID, &l.Name, &l.BenefitType, &l.DiscountCents, &l.RedemptionPoints,
		&l.Active, &launchAt, &expireAt, &l.UsageLimit, &l.UsedCount,
		&l.SingleUse, &l.MinPurchaseCents, &l.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if launchAt.Valid {
		t := launchAt.Time.UTC()
		l.LaunchAt = &t
	}
	if expireAt.Valid {
		t := expireAt.Time.UTC()
		l.ExpireAt = &t
	}
	return &l, nil
}

func (s *Store) GetLoyaltyCampaignByID(ctx context.Context, id string) (*domain.LoyaltyCampaign, error) {
	return scanLoyalty(s.db.QueryRowContext(ctx, `
		SELECT `+loyaltyColumns+`
		FROM loyalty_campaigns
		WHERE id = $1 AND deleted_at IS NULL
	`, id))
}

func (s *Store) ListLoyaltyCampaigns(ctx context.Context, companyID string) ([]domain.LoyaltyCampaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+loyaltyColumns+`
		FROM loyalty_campaigns
		WHERE company_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LoyaltyCampaign
	for rows.Next() {
		l, err := scanLoyalty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (s *Store) GetPromotionUsage(ctx context.Context, promotionID string, customerID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT used_count FROM promotion_usages
		WHERE promotion_id = $1 AND customer_id = $2
	`, promotionID, customerID).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

func (s *Store) IncrementPromotionUsage(ctx context.Context, promotionID string, customerID string, usageLimit int, singleUse bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// The DO UPDATE WHERE clause refuses a second use of a single-use
	// promotion; zero rows means the guard fired.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO promotion_usages (promotion_id, customer_id, used_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (promotion_id, customer_id) DO UPDATE
		SET used_count = promotion_usages.used_count + 1
		WHERE NOT $3::boolean OR promotion_usages.used_count = 0
	`, promotionID, customerID, singleUse)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("promotion %s already used by customer %s: %w", promotionID, customerID, store.ErrConflict)
	}

	if err := raisePromotionCountTx(ctx, tx, promotionID, usageLimit); err != nil {
		return err
	}
	return tx.Commit()
}

// raisePromotionCountTx increments the aggregate used_count behind a
// usage-limit guard; exceeding the limit rolls the whole usage back.
func raisePromotionCountTx(ctx context.Context, tx *sql.Tx, promotionID string, usageLimit int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE coupons
		SET used_count = used_count + 1
		WHERE id = $1 AND ($2 <= 0 OR used_count < $2)
	`, promotionID, usageLimit)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var isCoupon bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM coupons WHERE id = $1)
	`, promotionID).Scan(&isCoupon); err != nil {
		return err
	}
	if isCoupon {
		return fmt.Errorf("promotion %s usage limit %d reached: %w", promotionID, usageLimit, store.ErrConflict)
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE loyalty_campaigns
		SET used_count = used_count + 1
		WHERE id = $1 AND ($2 <= 0 OR used_count < $2)
	`, promotionID, usageLimit)
	if err != nil {
		return err
	}
	affected, err = res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("promotion %s usage limit %d reached: %w", promotionID, usageLimit, store.ErrConflict)
	}
	return nil
}

func (s *Store) DecrementPromotionUsage(ctx context.Context, promotionID string, customerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE promotion_usages
		SET used_count = used_count - 1
		WHERE promotion_id = $1 AND customer_id = $2 AND used_count > 0
	`, promotionID, customerID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("promotion %s has no usage for customer %s: %w", promotionID, customerID, store.ErrConflict)
	}
	if err := bumpPromotionCountTx(ctx, tx, promotionID, -1); err != nil {
		return err
	}
	return tx.Commit()
}

// bumpPromotionCountTx keeps the aggregate used_count on the coupon or
// loyalty row in step with the per-customer usage table. The promotion id
// lives in exactly one of the two tables.
func bumpPromotionCountTx(ctx context.Context, tx *sql.Tx, promotionID string, delta int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE coupons SET used_count = used_count + $1 WHERE id = $2
	`, delta, promotionID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE loyalty_campaigns SET used_count = used_count + $1 WHERE id = $2
	`, delta, promotionID)
	return err
}

func (s *Store) CreateCreditNote(ctx context.Context, note domain.CreditNote) (*domain.CreditNote, error) {
	if note.ID == "" {
		note.ID = xid.New("cn")
	}
	if note.CreditNoteNo == "" {
		no, err := s.NextSequence(ctx, note.CompanyID, "CN")
		if err != nil {
			return nil, err
		}
		note.CreditNoteNo = no
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertCreditNoteTx(ctx, tx, note); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := note
	return &created, nil
}

func insertCreditNoteTx(ctx context.Context, tx *sql.Tx, note domain.CreditNote) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_notes (
			id, company_id, credit_note_no, customer_id, source_return_id,
			total_cents, used_cents, remaining_cents, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, note.ID, note.CompanyID, note.CreditNoteNo, note.CustomerID, nullIfEmpty(note.SourceReturnID),
		note.TotalCents, note.UsedCents, note.RemainingCents, note.Status, note.CreatedAt)
	return err
}

const creditNoteColumns = `
	id, company_id, credit_note_no, customer_id, source_return_id,
	total_cents, used_cents, remaining_cents, status, created_at
`

func scanCreditNote(row rowScanner) (*domain.CreditNote, error) {
	var n domain.CreditNote
	var sourceReturnID sql.NullString
	err := row.Scan(
		&n.ID, &n.CompanyID, &n.CreditNoteNo, &n.CustomerID, &sourceReturnID,
		&n.TotalCents, &n.UsedCents, &n.RemainingCents, &n.Status, &n.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	n.SourceReturnID = sourceReturnID.String
	return &n, nil
}

func (s *Store) GetCreditNoteByNo(ctx context.Context, companyID string, creditNoteNo string) (*domain.CreditNote, error) {
	return scanCreditNote(s.db.QueryRowContext(ctx, `
		SELECT `+creditNoteColumns+`
		FROM credit_notes
		WHERE company_id = $1 AND credit_note_no = $2 AND deleted_at IS NULL
	`, companyID, creditNoteNo))
}

func (s *Store) GetCreditNoteByID(ctx context.Context, id string) (*domain.CreditNote, error) {
	return scanCreditNote(s.db.QueryRowContext(ctx, `
		SELECT `+creditNoteColumns+`
		FROM credit_notes
		WHERE id = $1 AND deleted_at IS NULL
	`, id))
}

// RedeemCreditNote decrements the remaining balance with a guarded
// conditional UPDATE so the balance can never cross zero, even under
// concurrent redemptions.
func (s *Store) RedeemCreditNote(ctx context.Context, id string, amountCents int64) (*domain.CreditNote, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("redeem amount must be positive: %w", store.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE credit_notes
		SET used_cents = used_cents + $1,
		    remaining_cents = remaining_cents - $1,
		    status = CASE WHEN remaining_cents - $1 = 0 THEN $2 ELSE status END
		WHERE id = $3 AND deleted_at IS NULL AND remaining_cents >= $1
		RETURNING `+creditNoteColumns+`
	`, amountCents, domain.CreditNoteStatusUsed, id)
	note, err := scanCreditNote(row)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, s.classifyCreditNoteFailure(ctx, id, amountCents, true)
		}
		return nil, err
	}
	return note, nil
}

// RestoreCreditNote is the inverse guard: used_cents can never go below zero.
func (s *Store) RestoreCreditNote(ctx context.Context, id string, amountCents int64) (*domain.CreditNote, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("restore amount must be positive: %w", store.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE credit_notes
		SET used_cents = used_cents - $1,
		    remaining_cents = remaining_cents + $1,
		    status = $2
		WHERE id = $3 AND deleted_at IS NULL AND used_cents >= $1
		RETURNING `+creditNoteColumns+`
	`, amountCents, domain.CreditNoteStatusAvailable, id)
	note, err := scanCreditNote(row)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, s.classifyCreditNoteFailure(ctx, id, amountCents, false)
		}
		return nil, err
	}
	return note, nil
}

// classifyCreditNoteFailure distinguishes a missing note from a guard refusal
// after a zero-row conditional update.
func (s *Store) classifyCreditNoteFailure(ctx context.Context, id string, amountCents int64, redeem bool) error {
	note, err := s.GetCreditNoteByID(ctx, id)
	if err != nil {
		return err
	}
	if redeem {
		return fmt.Errorf("credit note %s has %d remaining, requested %d: %w", note.CreditNoteNo, note.RemainingCents, amountCents, store.ErrInsufficientCredit)
	}
	return fmt.Errorf("credit note %s has %d used, cannot restore %d: %w", note.CreditNoteNo, note.UsedCents, amountCents, store.ErrInsufficientCredit)
}

const paymentColumns = `
	id, company_id, payment_no, voucher_type, mode, payment_type,
	amount_cents, order_id, customer_id, created_at
`

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	var paymentType, orderID, customerID sql.NullString
	err := row.Scan(
		&p.ID, &p.CompanyID, &p.PaymentNo, &p.VoucherType, &p.Mode, &paymentType,
		&p.AmountCents, &orderID, &customerID, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.PaymentType = paymentType.String
	p.OrderID = orderID.String
	p.CustomerID = customerID.String
	return &p, nil
}

func (s *Store) GetPaymentByNo(ctx context.Context, companyID string, paymentNo string) (*domain.Payment, error) {
	return scanPayment(s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE company_id = $1 AND payment_no = $2 AND deleted_at IS NULL
	`, companyID, paymentNo))
}

func (s *Store) GetPaymentByID(ctx context.Context, id string) (*domain.Payment, error) {
	return scanPayment(s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE id = $1 AND deleted_at IS NULL
	`, id))
}

// RedeemAdvance draws down an advance payment balance with the same guarded
// conditional UPDATE pattern as credit notes.
func (s *Store) RedeemAdvance(ctx context.Context, paymentID string, amountCents int64) (*domain.Payment, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("redeem amount must be positive: %w", store.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE payments
		SET amount_cents = amount_cents - $1
		WHERE id = $2 AND deleted_at IS NULL AND payment_type = $3 AND amount_cents >= $1
		RETURNING `+paymentColumns+`
	`, amountCents, paymentID, domain.PaymentTypeAdvance)
	payment, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, s.classifyAdvanceFailure(ctx, paymentID, amountCents)
		}
		return nil, err
	}
	return payment, nil
}

func (s *Store) RestoreAdvance(ctx context.Context, paymentID string, amountCents int64) (*domain.Payment, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("restore amount must be positive: %w", store.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE payments
		SET amount_cents = amount_cents + $1
		WHERE id = $2 AND deleted_at IS NULL AND payment_type = $3
		RETURNING `+paymentColumns+`
	`, amountCents, paymentID, domain.PaymentTypeAdvance)
	payment, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, s.classifyAdvanceFailure(ctx, paymentID, amountCents)
		}
		return nil, err
	}
	return payment, nil
}

func (s *Store) classifyAdvanceFailure(ctx context.Context, paymentID string, amountCents int64) error {
	payment, err := s.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment.PaymentType != domain.PaymentTypeAdvance {
		return fmt.Errorf("payment %s is not an advance: %w", payment.PaymentNo, store.ErrInvalidInput)
	}
	return fmt.Errorf("advance %s has %d remaining, requested %d: %w", payment.PaymentNo, payment.AmountCents, amountCents, store.ErrInsufficientCredit)
}

func (s *Store) CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	created, err := insertPaymentTx(ctx, tx, payment)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

func insertPaymentTx(ctx context.Context, tx *sql.Tx, payment domain.Payment) (*domain.Payment, error) {
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.PaymentNo == "" {
		no, err := nextSequenceTx(ctx, tx, payment.CompanyID, "PAY")
		if err != nil {
			return nil, err
		}
		payment.PaymentNo = no
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO payments (
			id, company_id, payment_no, voucher_type, mode, payment_type,
			amount_cents, order_id, customer_id, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, payment.ID, payment.CompanyID, payment.PaymentNo, payment.VoucherType, payment.Mode, nullIfEmpty(payment.PaymentType),
		payment.AmountCents, nullIfEmpty(payment.OrderID), nullIfEmpty(payment.CustomerID), payment.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := payment
	return &created, nil
}

func (s *Store) ListPayments(ctx context.Context, companyID string, from time.Time, to time.Time) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE company_id = $1 AND deleted_at IS NULL AND created_at >= $2 AND created_at < $3
		ORDER BY created_at, id
	`, companyID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// OpenRegister relies on the partial unique index on register_sessions
// (company_id) WHERE status = 'open' to enforce at most one open session
// per company regardless of concurrency.
func (s *Store) OpenRegister(ctx context.Context, session domain.RegisterSession, opening domain.CashControl) (*domain.RegisterSession, error) {
	if session.ID == "" {
		session.ID = xid.New("reg")
	}
	session.Status = domain.RegisterStatusOpen
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if session.RegisterNo == "" {
		session.RegisterNo, err = nextSequenceTx(ctx, tx, session.CompanyID, "REG")
		if err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO register_sessions (
			id, company_id, branch_id, register_no, status,
			opening_cash_cents, credit_redeemed_cents, opened_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, session.ID, session.CompanyID, nullIfEmpty(session.BranchID), session.RegisterNo, session.Status,
		session.OpeningCashCents, session.CreditRedeemedCents, session.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("company %s: %w", session.CompanyID, store.ErrRegisterOpen)
		}
		return nil, err
	}

	opening.ID = xid.New("cc")
	opening.CompanyID = session.CompanyID
	opening.RegisterID = session.ID
	opening.Type = domain.CashControlOpening
	opening.AmountCents = session.OpeningCashCents
	opening.CreatedAt = session.OpenedAt
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cash_controls (id, company_id, register_id, type, amount_cents, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, opening.ID, opening.CompanyID, opening.RegisterID, opening.Type, opening.AmountCents, opening.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := session
	return &created, nil
}

const registerColumns = `
	id, company_id, branch_id, register_no, status,
	opening_cash_cents, credit_redeemed_cents, opened_at, closed_at
`

func scanRegister(row rowScanner) (*domain.RegisterSession, error) {
	var r domain.RegisterSession
	var branchID sql.NullString
	var closedAt sql.NullTime
	err := row.Scan(
		&r.ID, &r.CompanyID, &branchID, &r.RegisterNo, &r.Status,
		&r.OpeningCashCents, &r.CreditRedeemedCents, &r.OpenedAt, &closedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrRegisterClosed
		}
		return nil, err
	}
	r.BranchID = branchID.String
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		r.ClosedAt = &t
	}
	return &r, nil
}

func (s *Store) GetOpenRegister(ctx context.Context, companyID string) (*domain.RegisterSession, error) {
	return scanRegister(s.db.QueryRowContext(ctx, `
		SELECT `+registerColumns+`
		FROM register_sessions
		WHERE company_id = $1 AND status = $2
	`, companyID, domain.RegisterStatusOpen))
}

func (s *Store) CloseRegister(ctx context.Context, companyID string, closedAt time.Time) (*domain.RegisterSession, error) {
	return scanRegister(s.db.QueryRowContext(ctx, `
		UPDATE register_sessions
		SET status = $1, closed_at = $2
		WHERE company_id = $3 AND status = $4
		RETURNING `+registerColumns+`
	`, domain.RegisterStatusClosed, closedAt.UTC(), companyID, domain.RegisterStatusOpen))
}

func (s *Store) AddRegisterCredit(ctx context.Context, registerID string, amountCents int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE register_sessions
		SET credit_redeemed_cents = credit_redeemed_cents + $1
		WHERE id = $2
	`, amountCents, registerID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateCashControl(ctx context.Context, entry domain.CashControl) (*domain.CashControl, error) {
	if entry.ID == "" {
		entry.ID = xid.New("cc")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_controls (id, company_id, register_id, type, amount_cents, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, entry.ID, entry.CompanyID, entry.RegisterID, entry.Type, entry.AmountCents, entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := entry
	return &created, nil
}

func (s *Store) ListCashControls(ctx context.Context, registerID string) ([]domain.CashControl, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, register_id, type, amount_cents, created_at
		FROM cash_controls
		WHERE register_id = $1
		ORDER BY created_at, id
	`, registerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CashControl
	for rows.Next() {
		var cc domain.CashControl
		if err := rows.Scan(&cc.ID, &cc.CompanyID, &cc.RegisterID, &cc.Type, &cc.AmountCents, &cc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, cc)
	}
	return out, rows.Err()
}

func (s *Store) SumPaymentsByMode(ctx context.Context, companyID string, from time.Time, to time.Time) (domain.PaymentsByMode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mode, COALESCE(SUM(amount_cents), 0)
		FROM payments
		WHERE company_id = $1 AND deleted_at IS NULL
		  AND voucher_type = $2
		  AND created_at >= $3 AND created_at < $4
		GROUP BY mode
	`, companyID, domain.VoucherTypeSales, from, to)
	if err != nil {
		return domain.PaymentsByMode{}, err
	}
	defer rows.Close()

	var sums domain.PaymentsByMode
	for rows.Next() {
		var mode string
		var total int64
		if err := rows.Scan(&mode, &total); err != nil {
			return domain.PaymentsByMode{}, err
		}
		switch mode {
		case domain.PaymentModeCash:
			sums.CashCents = total
		case domain.PaymentModeCheque:
			sums.ChequeCents = total
		case domain.PaymentModeCard:
			sums.CardCents = total
		case domain.PaymentModeBank:
			sums.BankCents = total
		case domain.PaymentModeUPI:
			sums.UPICents = total
		}
	}
	return sums, rows.Err()
}

func (s *Store) SumRefunds(ctx context.Context, companyID string, from time.Time, to time.Time) (int64, int64, error) {
	var cash, bank int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(refund_cash_cents), 0), COALESCE(SUM(refund_bank_cents), 0)
		FROM returns
		WHERE company_id = $1 AND deleted_at IS NULL
		  AND created_at >= $2 AND created_at < $3
	`, companyID, from, to).Scan(&cash, &bank)
	return cash, bank, err
}

func (s *Store) SumPayLaterDue(ctx context.Context, companyID string, from time.Time, to time.Time) (int64, error) {
	var due int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(due_cents), 0)
		FROM orders
		WHERE company_id = $1 AND deleted_at IS NULL AND status <> $2
		  AND created_at >= $3 AND created_at < $4
	`, companyID, domain.OrderStatusCancelled, from, to).Scan(&due)
	return due, err
}

func (s *Store) SumPaymentsByVoucher(ctx context.Context, companyID string, voucherType string, from time.Time, to time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM payments
		WHERE company_id = $1 AND deleted_at IS NULL AND voucher_type = $2
		  AND created_at >= $3 AND created_at < $4
	`, companyID, voucherType, from, to).Scan(&total)
	return total, err
}

func (s *Store) SumSales(ctx context.Context, companyID string, from time.Time, to time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_cents), 0)
		FROM orders
		WHERE company_id = $1 AND deleted_at IS NULL AND status <> $2
		  AND created_at >= $3 AND created_at < $4
	`, companyID, domain.OrderStatusCancelled, from, to).Scan(&total)
	return total, err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, company_id, actor, role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.CompanyID, entry.Actor, entry.Role, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, companyID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, actor, role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE company_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, companyID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditLog
	for rows.Next() {
		var e domain.AuditLog
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.Actor, &e.Role, &e.Action, &e.EntityType, &e.EntityID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", user.Username, store.ErrConflict)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UserAccount
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $1 WHERE username = $2
	`, password, username)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.CompanyID, &p.Name, &p.PriceCents, &p.StockQty, &p.Active, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}
