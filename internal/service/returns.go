package service

import (
	"context"
	"fmt"
	"time"

	"posledger/internal/domain"
	"posledger/internal/store"
	"posledger/internal/xid"
)

// validateReturnLines checks requested quantities against what each order
// line still has available, with prior holds how much of each line is
// already returned once any revert has been accounted for. Returns the
// priced lines and their total.
func validateReturnLines(order *domain.Order, prior map[string]int, requested []domain.ReturnLine) ([]domain.ReturnLine, int64, error) {
	if len(requested) == 0 {
		return nil, 0, fmt.Errorf("return needs at least one line: %w", store.ErrInvalidInput)
	}

	seen := map[string]bool{}
	priced := make([]domain.ReturnLine, 0, len(requested))
	var total int64
	for _, ln := range requested {
		if ln.ProductID == "" || ln.Qty < 1 {
			return nil, 0, fmt.Errorf("each return line needs a product id and a positive qty: %w", store.ErrInvalidInput)
		}
		if seen[ln.ProductID] {
			return nil, 0, fmt.Errorf("duplicate product %s in return lines: %w", ln.ProductID, store.ErrInvalidInput)
		}
		seen[ln.ProductID] = true

		orderLine := lineByProduct(order, ln.ProductID)
		if orderLine == nil {
			return nil, 0, fmt.Errorf("product %s is not on the order: %w", ln.ProductID, store.ErrInvalidInput)
		}
		available := orderLine.Qty - prior[ln.ProductID]
		if ln.Qty > available {
			return nil, 0, fmt.Errorf("quantity %d exceeds available to return (%d) for product %s: %w", ln.Qty, available, ln.ProductID, store.ErrConflict)
		}

		net := orderLine.UnitPriceCents * int64(ln.Qty)
		priced = append(priced, domain.ReturnLine{
			ProductID:      ln.ProductID,
			Qty:            ln.Qty,
			UnitPriceCents: orderLine.UnitPriceCents,
		})
		total += net
	}
	return priced, total, nil
}

func lineByProduct(order *domain.Order, productID string) *domain.OrderLine {
	for i := range order.Lines {
		if order.Lines[i].ProductID == productID {
			return &order.Lines[i]
		}
	}
	return nil
}

func validateRefundSplit(cash, bank, total int64) error {
	if cash < 0 || bank < 0 {
		return fmt.Errorf("refund amounts cannot be negative: %w", store.ErrInvalidInput)
	}
	if cash+bank > total {
		return fmt.Errorf("refund split %d exceeds return total %d: %w", cash+bank, total, store.ErrInvalidInput)
	}
	return nil
}

// sumOtherReturns tallies quantity and amount across the order's live
// returns, skipping the one identified by excludeID (empty to keep all).
func sumOtherReturns(returns []domain.Return, excludeID string) (int, int64) {
	var qty int
	var cents int64
	for _, r := range returns {
		if r.ID == excludeID {
			continue
		}
		for _, ln := range r.Lines {
			qty += ln.Qty
		}
		cents += r.TotalCents
	}
	return qty, cents
}

func (s *Service) CreateReturn(ctx context.Context, req domain.ReturnCreateRequest) (domain.ReturnResponse, error) {
	req.CompanyID = s.companyOrDefault(req.CompanyID)
	if req.OrderID == "" {
		return domain.ReturnResponse{}, fmt.Errorf("order id is required: %w", store.ErrInvalidInput)
	}
	if req.Type == "" {
		req.Type = domain.ReturnTypeSales
	}
	if req.Type != domain.ReturnTypeSales && req.Type != domain.ReturnTypePurchase {
		return domain.ReturnResponse{}, fmt.Errorf("unknown return type %q: %w", req.Type, store.ErrInvalidInput)
	}

	order, err := s.repo.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		return domain.ReturnResponse{}, fmt.Errorf("order %s: %w", req.OrderID, err)
	}
	if order.CompanyID != req.CompanyID {
		return domain.ReturnResponse{}, fmt.Errorf("order %s: %w", req.OrderID, store.ErrNotFound)
	}
	if order.Status == domain.OrderStatusCancelled {
		return domain.ReturnResponse{}, fmt.Errorf("order %s is cancelled: %w", req.OrderID, store.ErrConflict)
	}

	prior := map[string]int{}
	for _, ln := range order.Lines {
		prior[ln.ProductID] = ln.ReturnedQty
	}
	lines, total, err := validateReturnLines(order, prior, req.Lines)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	if err := validateRefundSplit(req.RefundCashCents, req.RefundBankCents, total); err != nil {
		return domain.ReturnResponse{}, err
	}

	now := time.Now().UTC()
	returnNo, err := s.repo.NextSequence(ctx, req.CompanyID, "RET")
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	ret := domain.Return{
		ID:              xid.New("ret"),
		CompanyID:       req.CompanyID,
		ReturnNo:        returnNo,
		OrderID:         order.ID,
		CustomerID:      order.CustomerID,
		Type:            req.Type,
		Lines:           lines,
		TotalCents:      total,
		RefundCashCents: req.RefundCashCents,
		RefundBankCents: req.RefundBankCents,
		CreatedAt:       now,
	}

	mut, err := s.buildReturnMutation(ctx, order, &ret, nil, now)
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	// Sales returns hand the customer a credit note covering the full
	// returned amount.
	if req.Type == domain.ReturnTypeSales {
		noteNo, err := s.repo.NextSequence(ctx, req.CompanyID, "CN")
		if err != nil {
			return domain.ReturnResponse{}, err
		}
		note := domain.CreditNote{
			ID:             xid.New("cn"),
			CompanyID:      req.CompanyID,
			CreditNoteNo:   noteNo,
			CustomerID:     order.CustomerID,
			SourceReturnID: ret.ID,
			TotalCents:     total,
			RemainingCents: total,
			Status:         domain.CreditNoteStatusAvailable,
			CreatedAt:      now,
		}
		ret.CreditNoteID = note.ID
		mut.Return = &ret
		mut.IssueCreditNote = &note
	}

	saved, updatedOrder, err := s.repo.ApplyReturnMutation(ctx, mut)
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	s.invalidateReconciliation(ctx, req.CompanyID)
	s.logAudit(ctx, req.CompanyID, "return_create", "return", saved.ID, fmt.Sprintf("no=%s,order=%s,total=%d", saved.ReturnNo, order.OrderNo, saved.TotalCents))
	return domain.ReturnResponse{Return: *saved, Order: *updatedOrder}, nil
}

// EditReturn replaces an existing return's lines wholesale: the old
// quantities are reverted and the new ones applied as one delta, so no
// intermediate state where the order has neither set is ever persisted.
func (s *Service) EditReturn(ctx context.Context, returnID string, req domain.ReturnEditRequest) (domain.ReturnResponse, error) {
	if returnID == "" {
		return domain.ReturnResponse{}, fmt.Errorf("return id is required: %w", store.ErrInvalidInput)
	}

	existing, err := s.repo.GetReturnByID(ctx, returnID)
	if err != nil {
		return domain.ReturnResponse{}, fmt.Errorf("return %s: %w", returnID, err)
	}
	order, err := s.repo.GetOrderByID(ctx, existing.OrderID)
	if err != nil {
		return domain.ReturnResponse{}, fmt.Errorf("order %s: %w", existing.OrderID, err)
	}

	// Availability is computed as if this return had never happened.
	prior := map[string]int{}
	for _, ln := range order.Lines {
		prior[ln.ProductID] = ln.ReturnedQty
	}
	for _, ln := range existing.Lines {
		prior[ln.ProductID] -= ln.Qty
	}

	lines, total, err := validateReturnLines(order, prior, req.Lines)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	if err := validateRefundSplit(req.RefundCashCents, req.RefundBankCents, total); err != nil {
		return domain.ReturnResponse{}, err
	}

	now := time.Now().UTC()
	updated := *existing
	updated.Lines = lines
	updated.TotalCents = total
	updated.RefundCashCents = req.RefundCashCents
	updated.RefundBankCents = req.RefundBankCents

	mut, err := s.buildReturnMutation(ctx, order, &updated, existing, now)
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	if existing.CreditNoteID != "" {
		note, err := s.repo.GetCreditNoteByID(ctx, existing.CreditNoteID)
		if err != nil {
			return domain.ReturnResponse{}, fmt.Errorf("credit note for return %s: %w", returnID, err)
		}
		if note.UsedCents > total {
			return domain.ReturnResponse{}, fmt.Errorf("credit note %s already has %d redeemed, above the new return total %d: %w", note.CreditNoteNo, note.UsedCents, total, store.ErrConflict)
		}
		resized := *note
		resized.TotalCents = total
		resized.RemainingCents = total - note.UsedCents
		if resized.RemainingCents == 0 {
			resized.Status = domain.CreditNoteStatusUsed
		} else {
			resized.Status = domain.CreditNoteStatusAvailable
		}
		mut.UpdateCreditNote = &resized
	}

	saved, updatedOrder, err := s.repo.ApplyReturnMutation(ctx, mut)
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	s.invalidateReconciliation(ctx, existing.CompanyID)
	s.logAudit(ctx, existing.CompanyID, "return_edit", "return", saved.ID, fmt.Sprintf("no=%s,total=%d", saved.ReturnNo, saved.TotalCents))
	return domain.ReturnResponse{Return: *saved, Order: *updatedOrder}, nil
}

// DeleteReturn reverts the return's stock and order deltas. It refuses
// when the returned goods have since been sold on (stock would go
// negative) or when the issued credit note has already been spent.
func (s *Service) DeleteReturn(ctx context.Context, returnID string) (domain.Order, error) {
	if returnID == "" {
		return domain.Order{}, fmt.Errorf("return id is required: %w", store.ErrInvalidInput)
	}

	existing, err := s.repo.GetReturnByID(ctx, returnID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("return %s: %w", returnID, err)
	}
	order, err := s.repo.GetOrderByID(ctx, existing.OrderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s: %w", existing.OrderID, err)
	}

	if existing.CreditNoteID != "" {
		note, err := s.repo.GetCreditNoteByID(ctx, existing.CreditNoteID)
		if err == nil && note.UsedCents > 0 {
			return domain.Order{}, fmt.Errorf("credit note %s has %d already redeemed: %w", note.CreditNoteNo, note.UsedCents, store.ErrConflict)
		}
	}

	now := time.Now().UTC()
	deleted := *existing
	deleted.Lines = nil
	deleted.TotalCents = 0

	mut, err := s.buildReturnMutation(ctx, order, &deleted, existing, now)
	if err != nil {
		return domain.Order{}, err
	}
	mut.Return = existing
	mut.DeleteReturn = true
	if existing.CreditNoteID != "" {
		mut.UpdateCreditNote = nil
		mut.DeleteCreditNote = existing.CreditNoteID
	}

	_, updatedOrder, err := s.repo.ApplyReturnMutation(ctx, mut)
	if err != nil {
		return domain.Order{}, err
	}

	s.invalidateReconciliation(ctx, existing.CompanyID)
	s.logAudit(ctx, existing.CompanyID, "return_delete", "return", existing.ID, fmt.Sprintf("no=%s,order=%s", existing.ReturnNo, order.OrderNo))
	return *updatedOrder, nil
}

func (s *Service) GetReturn(ctx context.Context, id string) (domain.Return, error) {
	if id == "" {
		return domain.Return{}, fmt.Errorf("return id is required: %w", store.ErrInvalidInput)
	}
	ret, err := s.repo.GetReturnByID(ctx, id)
	if err != nil {
		return domain.Return{}, err
	}
	return *ret, nil
}

func (s *Service) ListReturnsByOrder(ctx context.Context, orderID string) ([]domain.Return, error) {
	if orderID == "" {
		return nil, fmt.Errorf("order id is required: %w", store.ErrInvalidInput)
	}
	return s.repo.ListReturnsByOrder(ctx, orderID)
}

// buildReturnMutation computes the single atomic delta between the order
// as stored and the order with oldReturn replaced by newReturn. oldReturn
// is nil on create; newReturn carries no lines on delete.
func (s *Service) buildReturnMutation(ctx context.Context, order *domain.Order, newReturn *domain.Return, oldReturn *domain.Return, at time.Time) (store.ReturnMutation, error) {
	lineQty := map[string]int{}
	priorQty := map[string]int{}
	for _, ln := range order.Lines {
		lineQty[ln.ProductID] = ln.ReturnedQty
		priorQty[ln.ProductID] = ln.ReturnedQty
	}
	stockDelta := map[string]int{}
	if oldReturn != nil {
		for _, ln := range oldReturn.Lines {
			lineQty[ln.ProductID] -= ln.Qty
			stockDelta[ln.ProductID] -= ln.Qty
		}
	}
	for _, ln := range newReturn.Lines {
		lineQty[ln.ProductID] += ln.Qty
		stockDelta[ln.ProductID] += ln.Qty
	}

	var totalQty int
	for productID, qty := range lineQty {
		orderLine := lineByProduct(order, productID)
		if orderLine == nil {
			return store.ReturnMutation{}, fmt.Errorf("product %s is not on the order: %w", productID, store.ErrInvalidInput)
		}
		if qty < 0 || qty > orderLine.Qty {
			return store.ReturnMutation{}, fmt.Errorf("returned qty %d out of range for product %s: %w", qty, productID, store.ErrConflict)
		}
	}
	for _, ln := range order.Lines {
		totalQty += lineQty[ln.ProductID]
	}

	status, err := domain.DeriveOrderStatus(domain.OrderReturnState{
		PurchasedQty: purchasedQty(order),
		ReturnedQty:  totalQty,
	})
	if err != nil {
		return store.ReturnMutation{}, fmt.Errorf("order %s return state corrupt: %v", order.ID, err)
	}

	returns, err := s.repo.ListReturnsByOrder(ctx, order.ID)
	if err != nil {
		return store.ReturnMutation{}, err
	}
	excludeID := ""
	if oldReturn != nil {
		excludeID = oldReturn.ID
	}
	_, otherCents := sumOtherReturns(returns, excludeID)

	deltas := make([]domain.StockAdjustment, 0, len(stockDelta))
	for productID, delta := range stockDelta {
		if delta != 0 {
			deltas = append(deltas, domain.StockAdjustment{ProductID: productID, Delta: delta})
		}
	}

	return store.ReturnMutation{
		Return:               newReturn,
		OrderID:              order.ID,
		LineReturnedQty:      lineQty,
		PriorLineReturnedQty: priorQty,
		TotalReturnedQty:     totalQty,
		TotalReturnedCents:   otherCents + newReturn.TotalCents,
		OrderStatus:          status,
		StockDeltas:          deltas,
		AppliedAt:            at,
	}, nil
}

func purchasedQty(order *domain.Order) int {
	var qty int
	for _, ln := range order.Lines {
		qty += ln.Qty
	}
	return qty
}
