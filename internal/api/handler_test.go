package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/cogivn/daisy-flower-sub000/internal/models"
	"github.com/cogivn/daisy-flower-sub000/internal/pricing"
	"github.com/cogivn/daisy-flower-sub000/internal/service"
	"github.com/cogivn/daisy-flower-sub000/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	router *gin.Engine
	store  *store.MemoryStore
	userID int64
}

func newTestServer(t *testing.T, deps map[string]Pinger) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ms := store.NewMemoryStore()
	ms.SetLevelSettings([]models.LevelSetting{{Level: "bronze", MinSpending: 0}})

	levels := service.NewLevelSettingsProvider(ms, nil, time.Minute)
	carts := service.NewCartService(ms, levels, service.NopPublisher{}, 15*time.Minute)
	ledger := service.NewLedgerService(ms, levels, service.NopPublisher{})
	orders := service.NewOrderService(ms, carts, ledger, nil)

	price := int64(4000)
	productID := ms.PutProduct(models.Product{SKU: "PEONY", Name: "Peony", Price: &price})
	userID := ms.PutUser(models.User{Email: "a@example.com", Level: "bronze"})
	require.NoError(t, ms.SaveCart(context.Background(), &models.Cart{
		UserID: &userID,
		Items:  models.CartItems{{ProductID: productID, Quantity: 1}},
	}))
	ms.PutVoucher(models.Voucher{
		Code:       "WELCOME",
		Type:       models.VoucherTypeFixed,
		Value:      500,
		Status:     models.VoucherStatusPublished,
		Scope:      models.VoucherScopeAll,
		AssignMode: models.AssignModeAll,
	})
	ms.PutVoucher(models.Voucher{
		Code:       "DRAFT",
		Type:       models.VoucherTypeFixed,
		Value:      500,
		Status:     "draft",
		Scope:      models.VoucherScopeAll,
		AssignMode: models.AssignModeAll,
	})

	router := gin.New()
	NewHandler(carts, orders, AuthSettings{Secret: testSecret}, deps).SetupRoutes(router)
	return &testServer{router: router, store: ms, userID: userID}
}

func (s *testServer) do(t *testing.T, method, path string, userID int64, role string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		token, err := IssueToken(testSecret, userID, role, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRoutesRequireBearerToken(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/cart/voucher", 0, "", gin.H{"code": "WELCOME"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cart/voucher", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := IssueToken("other-secret", s.userID, "", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/cart/voucher", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestApplyVoucherEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/cart/voucher", s.userID, "", gin.H{"code": "welcome"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	breakdown := body["breakdown"].(map[string]interface{})
	assert.Equal(t, float64(4000), breakdown["original_subtotal"])
	assert.Equal(t, float64(500), breakdown["voucher_discount"])
	assert.Equal(t, float64(3500), breakdown["subtotal"])
	assert.Equal(t, "WELCOME", body["voucher_code"])
}

func TestApplyVoucherErrorMapping(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/cart/voucher", s.userID, "", gin.H{"code": "DRAFT"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, pricing.ReasonNotPublished, body["error"])
	assert.NotEmpty(t, body["message"])

	rec = s.do(t, http.MethodPost, "/api/v1/cart/voucher", s.userID, "", gin.H{"code": "NOPE"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/cart/voucher", s.userID, "", gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/cart/voucher", 999, "", gin.H{"code": "WELCOME"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreviewVoucherEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/vouchers/validate", s.userID, "", gin.H{"code": "WELCOME", "subtotal": 300})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, float64(300), body["discount_amount"])

	rec = s.do(t, http.MethodPost, "/api/v1/vouchers/validate", s.userID, "", gin.H{"code": "DRAFT"})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, false, body["valid"])
	assert.NotEmpty(t, body["error"])
}

func TestValidatePaymentEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/cart/voucher", s.userID, "", gin.H{"code": "WELCOME"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/cart/validate-payment", s.userID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["valid"])
}

func TestOrderEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
	token, err := IssueToken(testSecret, s.userID, "", time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", "order-abc")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	order := decode(t, rec)["order"].(map[string]interface{})
	orderID := int64(order["id"].(float64))
	assert.Equal(t, models.OrderStatusProcessing, order["status"])
	path := "/api/v1/orders/" + strconv.FormatInt(orderID, 10)

	rec = s.do(t, http.MethodGet, path, s.userID, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, path, s.userID+100, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPatch, path+"/status", s.userID+100, "", gin.H{"status": "completed"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPatch, path+"/status", 1000, RoleAdmin, gin.H{"status": "refunded"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPatch, path+"/status", 1000, RoleAdmin, gin.H{"status": "completed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.OrderStatusCompleted, decode(t, rec)["order"].(map[string]interface{})["status"])

	rec = s.do(t, http.MethodGet, "/api/v1/orders/abc", s.userID, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func (s *testServer) placeOrder(t *testing.T, key string) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
	token, err := IssueToken(testSecret, s.userID, "", time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", key)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	order := decode(t, rec)["order"].(map[string]interface{})
	return "/api/v1/orders/" + strconv.FormatInt(int64(order["id"].(float64)), 10)
}

func TestCustomerCannotCompleteOwnOrder(t *testing.T) {
	s := newTestServer(t, nil)
	path := s.placeOrder(t, "order-self-complete")

	rec := s.do(t, http.MethodPatch, path+"/status", s.userID, "", gin.H{"status": "completed"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPatch, path+"/status", s.userID, "", gin.H{"status": "refunded"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	user, err := s.store.GetUserByID(context.Background(), s.userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), user.TotalSpent)
	assert.Equal(t, "bronze", user.Level)

	rec = s.do(t, http.MethodGet, path, s.userID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.OrderStatusProcessing, decode(t, rec)["order"].(map[string]interface{})["status"])
}

func TestCustomerCanCancelOwnOrder(t *testing.T) {
	s := newTestServer(t, nil)
	path := s.placeOrder(t, "order-self-cancel")

	rec := s.do(t, http.MethodPatch, path+"/status", s.userID+100, "", gin.H{"status": "cancelled"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPatch, path+"/status", s.userID, "", gin.H{"status": "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.OrderStatusCancelled, decode(t, rec)["order"].(map[string]interface{})["status"])
}

func TestHealthAndReadiness(t *testing.T) {
	s := newTestServer(t, map[string]Pinger{
		"store": pingerFunc(func(context.Context) error { return nil }),
		"redis": pingerFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	rec := s.do(t, http.MethodGet, "/health", 0, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/ready", 0, "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	checks := decode(t, rec)["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["store"])
	assert.Equal(t, "connection refused", checks["redis"])
}
