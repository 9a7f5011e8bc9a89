package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"posledger/internal/domain"
	"posledger/internal/service"
	"posledger/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, nil, nil, "co_demo", 0)
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", repo)

	return New(svc, auth, "*")
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

// doJSON fires an authenticated JSON request at the handler and returns the recorder.
func doJSON(t *testing.T, api *API, method, path, token, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Fatalf("expected access_token in response, got %v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleOrders_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/products", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["products"] == nil {
		t.Fatalf("expected products key in response, got %v", body)
	}
}

func TestOrderReturnFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	// Open the register so payments land in a reconciliation window.
	rec := doJSON(t, api, http.MethodPost, "/api/v1/registers/open", token, csrf, domain.RegisterOpenRequest{
		CompanyID:        "co_demo",
		OpeningCashCents: 50_000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open register: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// Sell 3 units of the seeded coffee product, paid fully in cash.
	rec = doJSON(t, api, http.MethodPost, "/api/v1/orders", token, csrf, domain.OrderCreateRequest{
		CompanyID:  "co_demo",
		CustomerID: "cust_rina",
		Lines:      []domain.OrderLineRequest{{ProductID: "prod_kopi", Qty: 3}},
		Payments:   []domain.PaymentSplit{{Mode: domain.PaymentModeCash, AmountCents: 144_000}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var orderResp struct {
		Order domain.Order `json:"order"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&orderResp); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if orderResp.Order.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected completed order, got %s", orderResp.Order.Status)
	}

	// Return one unit.
	rec = doJSON(t, api, http.MethodPost, "/api/v1/returns", token, csrf, domain.ReturnCreateRequest{
		CompanyID: "co_demo",
		OrderID:   orderResp.Order.ID,
		Lines:     []domain.ReturnLine{{ProductID: "prod_kopi", Qty: 1}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create return: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var returnResp domain.ReturnResponse
	if err := json.NewDecoder(rec.Body).Decode(&returnResp); err != nil {
		t.Fatalf("decode return: %v", err)
	}
	if returnResp.Order.Status != domain.OrderStatusPartiallyReturned {
		t.Fatalf("expected partially_returned order, got %s", returnResp.Order.Status)
	}
	if returnResp.Return.CreditNoteID == "" {
		t.Fatalf("expected sales return to carry a credit note")
	}

	// Returning more than remains on the order must be rejected with 409.
	rec = doJSON(t, api, http.MethodPost, "/api/v1/returns", token, csrf, domain.ReturnCreateRequest{
		CompanyID: "co_demo",
		OrderID:   orderResp.Order.ID,
		Lines:     []domain.ReturnLine{{ProductID: "prod_kopi", Qty: 3}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("over-return: expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// Reconciliation reflects the cash payment on top of the opening float.
	reconReq := httptest.NewRequest(http.MethodGet, "/api/v1/registers/reconciliation?company_id=co_demo", nil)
	reconReq.Header.Set("Authorization", "Bearer "+token)
	reconRec := httptest.NewRecorder()
	api.Handler().ServeHTTP(reconRec, reconReq)
	if reconRec.Code != http.StatusOK {
		t.Fatalf("reconciliation: expected 200, got %d (body: %s)", reconRec.Code, reconRec.Body.String())
	}
	var summary domain.ReconciliationSummary
	if err := json.NewDecoder(reconRec.Body).Decode(&summary); err != nil {
		t.Fatalf("decode reconciliation: %v", err)
	}
	if summary.ExpectedCashCents != 50_000+144_000 {
		t.Fatalf("expected cash %d, got %d", 50_000+144_000, summary.ExpectedCashCents)
	}
}

func TestDeleteReturnRequiresManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/returns/ret-unknown", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without PIN, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/returns/ret-unknown", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	req.Header.Set("X-Manager-PIN", "123456")
	rec = httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	// The PIN is accepted; the unknown return id then 404s.
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown return, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestRegisterOpenTwiceConflicts(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	open := domain.RegisterOpenRequest{CompanyID: "co_demo", OpeningCashCents: 10_000}

	rec := doJSON(t, api, http.MethodPost, "/api/v1/registers/open", token, csrf, open)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first open: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/registers/open", token, csrf, open)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second open: expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCouponApplyOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/coupons", token, csrf, domain.CouponCreateRequest{
		CompanyID:    "co_demo",
		Code:         "HEMAT10",
		Name:         "Hemat 10%",
		DiscountType: domain.DiscountTypePercentage,
		DiscountPercent: 10,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create coupon: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Coupon domain.Coupon `json:"coupon"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode coupon: %v", err)
	}

	path := fmt.Sprintf("/api/v1/coupons/%s/apply", created.Coupon.ID)
	rec = doJSON(t, api, http.MethodPost, path, token, csrf, domain.PromotionApplyRequest{
		CompanyID:       "co_demo",
		CustomerID:      "cust_rina",
		OrderTotalCents: 100_000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("apply coupon: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var applied domain.PromotionApplyResponse
	if err := json.NewDecoder(rec.Body).Decode(&applied); err != nil {
		t.Fatalf("decode apply response: %v", err)
	}
	if applied.DiscountCents != 10_000 || applied.FinalCents != 90_000 {
		t.Fatalf("unexpected discount %d / final %d", applied.DiscountCents, applied.FinalCents)
	}
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes
// (used to confirm test infrastructure is sound).
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}
