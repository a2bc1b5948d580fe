package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"possettle/internal/service"
	"possettle/internal/store/memory"
)

const testAuthSecret = "handler-test-secret-0123456789abcdef"

// newTestAPI wires the real service and auth manager over a seeded in-memory
// store so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded(zap.NewNop())
	svc := service.New(repo, service.Dependencies{Logger: zap.NewNop()}, service.DefaultSettings())
	auth := NewAuthManager(testAuthSecret, 0, repo, zap.NewNop())
	return New(svc, auth, Options{AllowedOrigin: "*"})
}

func login(t *testing.T, api *API, username, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func do(t *testing.T, api *API, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body), rec.Body.String())
	return body
}

const bagSale = `{
	"items": [{"productId": "P-BAG", "productName": "Paper Bag", "quantity": 2, "unitPrice": "0.25", "totalPrice": "0.50"}],
	"subtotal": "0.50",
	"tax": "0",
	"discount": "0",
	"total": "0.50",
	"paymentMethod": "card"
}`

func createPending(t *testing.T, api *API, token string, sale string) string {
	t.Helper()
	rec := do(t, api, http.MethodPost, "/api/v1/pending-transactions", token, sale)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	txn := decodeBody(t, rec)["transaction"].(map[string]any)
	return txn["id"].(string)
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := do(t, api, http.MethodGet, "/healthz", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLoginRejectsWrongPassword(t *testing.T) {
	api := newTestAPI(t)

	rec := do(t, api, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "admin", "password": "nope"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRouteRequiresBearerToken(t *testing.T) {
	api := newTestAPI(t)

	rec := do(t, api, http.MethodGet, "/api/v1/invoices", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, api, http.MethodGet, "/api/v1/invoices", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCashierCanRecordButNotSettle(t *testing.T) {
	api := newTestAPI(t)
	cashier := login(t, api, "cashier", "cashier123")

	id := createPending(t, api, cashier, bagSale)

	rec := do(t, api, http.MethodGet, "/api/v1/pending-transactions", cashier, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, service.KindPermissionDenied, decodeBody(t, rec)["kind"])

	rec = do(t, api, http.MethodPost, "/api/v1/pending-transactions/"+id+"/finalize", cashier, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestFinalizeThenRepeatIsConflictWithInvoiceID(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")
	id := createPending(t, api, admin, bagSale)

	rec := do(t, api, http.MethodPost, "/api/v1/pending-transactions/"+id+"/finalize", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	invoiceID := decodeBody(t, rec)["invoiceId"].(string)
	require.NotEmpty(t, invoiceID)

	rec = do(t, api, http.MethodPost, "/api/v1/pending-transactions/"+id+"/finalize", admin, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, service.KindAlreadySettled, body["kind"])
	assert.Equal(t, invoiceID, body["invoiceId"])

	rec = do(t, api, http.MethodGet, "/api/v1/invoices/"+invoiceID, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	invoice := decodeBody(t, rec)["invoice"].(map[string]any)
	assert.Equal(t, id, invoice["originalTransactionId"])
}

func TestFinalizeUnknownTransactionIsNotFound(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")

	rec := do(t, api, http.MethodPost, "/api/v1/pending-transactions/txn-missing/finalize", admin, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, service.KindNotFound, decodeBody(t, rec)["kind"])
}

func TestFinalizeInsufficientStockIsUnprocessable(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")
	id := createPending(t, api, admin, `{
		"items": [{"productId": "P-BREAD", "quantity": 7, "unitPrice": "3.75", "totalPrice": "26.25"}],
		"subtotal": "26.25", "tax": "0", "discount": "0", "total": "26.25", "paymentMethod": "card"
	}`)

	rec := do(t, api, http.MethodPost, "/api/v1/pending-transactions/"+id+"/finalize", admin, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, service.KindInsufficientStock, decodeBody(t, rec)["kind"])
}

func TestCreatePendingValidationNamesField(t *testing.T) {
	api := newTestAPI(t)
	cashier := login(t, api, "cashier", "cashier123")

	rec := do(t, api, http.MethodPost, "/api/v1/pending-transactions", cashier, strings.Replace(bagSale, `"total": "0.50"`, `"total": "0.90"`, 1))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, service.KindValidation, body["kind"])
	assert.Equal(t, "total", body["field"])
}

func TestVoidRequiresReason(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")
	id := createPending(t, api, admin, bagSale)

	rec := do(t, api, http.MethodPost, "/api/v1/pending-transactions/"+id+"/void", admin, map[string]string{"reason": "  "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "reason", decodeBody(t, rec)["field"])

	rec = do(t, api, http.MethodPost, "/api/v1/pending-transactions/"+id+"/void", admin, map[string]string{"reason": "customer left"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, api, http.MethodGet, "/api/v1/voided-transactions", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	voided := decodeBody(t, rec)["voided"].([]any)
	require.Len(t, voided, 1)
	assert.Equal(t, "customer left", voided[0].(map[string]any)["reason"])
}

func TestFinalizeBatchReportsCounts(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")
	first := createPending(t, api, admin, bagSale)
	second := createPending(t, api, admin, bagSale)

	rec := do(t, api, http.MethodPost, "/api/v1/pending-transactions/finalize-batch", admin,
		map[string]any{"transactionIds": []string{first, second, first, "txn-missing"}})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["succeeded"])
	assert.EqualValues(t, 1, body["alreadySettled"])
	assert.EqualValues(t, 1, body["failed"])
	assert.Equal(t, []any{"txn-missing"}, body["failedIds"])
}

func TestDailyReportExports(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")
	id := createPending(t, api, admin, bagSale)
	require.Equal(t, http.StatusOK, do(t, api, http.MethodPost, "/api/v1/pending-transactions/"+id+"/finalize", admin, nil).Code)

	rec := do(t, api, http.MethodGet, "/api/v1/reports/daily", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rep := decodeBody(t, rec)["report"].(map[string]any)
	assert.EqualValues(t, 1, rep["totalCount"])

	rec = do(t, api, http.MethodGet, "/api/v1/reports/daily?format=csv", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "daily-report.csv")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "date,"))

	rec = do(t, api, http.MethodGet, "/api/v1/reports/inventory?format=xlsx", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotZero(t, rec.Body.Len())

	rec = do(t, api, http.MethodGet, "/api/v1/reports/daily?format=docx", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportRangeValidation(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")

	rec := do(t, api, http.MethodGet, "/api/v1/reports/daily?from=03/01/2026", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, api, http.MethodGet, "/api/v1/reports/daily?from=2026-03-05&to=2026-03-01", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, service.KindValidation, decodeBody(t, rec)["kind"])

	rec = do(t, api, http.MethodGet, "/api/v1/reports/cash-drawer?opening_float=abc", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, api, http.MethodGet, "/api/v1/reports/cash-drawer?opening_float=-5", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCashDrawerReportIncludesPending(t *testing.T) {
	api := newTestAPI(t)
	cashier := login(t, api, "cashier", "cashier123")
	admin := login(t, api, "admin", "admin123")
	createPending(t, api, cashier, `{
		"items": [{"productId": "P-BAG", "quantity": 1, "unitPrice": "0.25", "totalPrice": "0.25"}],
		"subtotal": "0.25", "tax": "0", "discount": "0", "total": "0.25",
		"paymentMethod": "cash", "tenderedAmount": "1.00"
	}`)

	rec := do(t, api, http.MethodGet, "/api/v1/reports/cash-drawer?include_pending=true&opening_float=50&counted_cash=50.25", admin, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rep := decodeBody(t, rec)["report"].(map[string]any)
	assert.EqualValues(t, 1, rep["transactions"])
	assert.Equal(t, "0.75", rep["changeGiven"])
	assert.Equal(t, "0", rep["variance"])
}

func TestReceiveBatchFeedsProducts(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")

	rec := do(t, api, http.MethodPost, "/api/v1/inventory/batches", admin, map[string]any{"productId": "P-BREAD", "quantity": 10})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, api, http.MethodGet, "/api/v1/products", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, raw := range decodeBody(t, rec)["products"].([]any) {
		product := raw.(map[string]any)
		if product["id"] == "P-BREAD" {
			assert.EqualValues(t, 16, product["onHand"])
			return
		}
	}
	t.Fatal("P-BREAD missing from product list")
}

func TestAuditLogsRecordSettlement(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")
	id := createPending(t, api, admin, bagSale)
	require.Equal(t, http.StatusOK, do(t, api, http.MethodPost, "/api/v1/pending-transactions/"+id+"/finalize", admin, nil).Code)

	rec := do(t, api, http.MethodGet, "/api/v1/audit-logs?limit=10", admin, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	actions := map[string]bool{}
	for _, raw := range decodeBody(t, rec)["logs"].([]any) {
		actions[raw.(map[string]any)["action"].(string)] = true
	}
	assert.True(t, actions["pending_create"])
	assert.True(t, actions["transaction_finalize"], "%v", actions)
}
