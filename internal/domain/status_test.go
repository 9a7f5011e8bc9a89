package domain

import "testing"

func TestDeriveOrderStatus(t *testing.T) {
	cases := []struct {
		name      string
		purchased int
		returned  int
		want      string
		wantErr   bool
	}{
		{"no returns", 5, 0, OrderStatusCompleted, false},
		{"partial", 5, 2, OrderStatusPartiallyReturned, false},
		{"all returned", 5, 5, OrderStatusReturned, false},
		{"single unit returned", 1, 1, OrderStatusReturned, false},
		{"over-returned", 3, 4, "", true},
		{"negative returned", 3, -1, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DeriveOrderStatus(OrderReturnState{PurchasedQty: tc.purchased, ReturnedQty: tc.returned})
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got status %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("status = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestOrderReturnState(t *testing.T) {
	o := Order{Lines: []OrderLine{
		{ProductID: "p1", Qty: 3, ReturnedQty: 1},
		{ProductID: "p2", Qty: 2, ReturnedQty: 0},
	}}
	st := o.ReturnState()
	if st.PurchasedQty != 5 || st.ReturnedQty != 1 {
		t.Fatalf("state = %+v, want purchased=5 returned=1", st)
	}
}

func TestDerivePaymentStatus(t *testing.T) {
	if got := DerivePaymentStatus(0, 1000); got != PaymentStatusUnpaid {
		t.Fatalf("paid 0 of 1000 = %q", got)
	}
	if got := DerivePaymentStatus(400, 1000); got != PaymentStatusPartial {
		t.Fatalf("paid 400 of 1000 = %q", got)
	}
	if got := DerivePaymentStatus(1000, 1000); got != PaymentStatusPaid {
		t.Fatalf("paid 1000 of 1000 = %q", got)
	}
}
