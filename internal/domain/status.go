package domain

import "fmt"

// OrderReturnState is the per-order tally the status derivation runs on.
type OrderReturnState struct {
	PurchasedQty int
	ReturnedQty  int
}

// DeriveOrderStatus maps the purchased/returned tally of an order to its
// lifecycle status. A returned quantity above the purchased quantity can
// only mean a ledger write skipped its guard, so it is reported as an
// error rather than clamped.
func DeriveOrderStatus(st OrderReturnState) (string, error) {
	switch {
	case st.ReturnedQty < 0 || st.PurchasedQty < 0:
		return "", fmt.Errorf("negative quantity in return state (purchased=%d returned=%d)", st.PurchasedQty, st.ReturnedQty)
	case st.ReturnedQty > st.PurchasedQty:
		return "", fmt.Errorf("returned quantity %d exceeds purchased quantity %d", st.ReturnedQty, st.PurchasedQty)
	case st.ReturnedQty == 0:
		return OrderStatusCompleted, nil
	case st.ReturnedQty == st.PurchasedQty:
		return OrderStatusReturned, nil
	default:
		return OrderStatusPartiallyReturned, nil
	}
}

// ReturnState tallies an order's lines into the state DeriveOrderStatus
// consumes.
func (o *Order) ReturnState() OrderReturnState {
	var st OrderReturnState
	for _, ln := range o.Lines {
		st.PurchasedQty += ln.Qty
		st.ReturnedQty += ln.ReturnedQty
	}
	return st
}

// DerivePaymentStatus maps paid-versus-total cents to a payment status.
func DerivePaymentStatus(paidCents, totalCents int64) string {
	switch {
	case paidCents <= 0:
		return PaymentStatusUnpaid
	case paidCents < totalCents:
		return PaymentStatusPartial
	default:
		return PaymentStatusPaid
	}
}
