package router_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stock_reservation/internal/config"
	"stock_reservation/internal/database"
	"stock_reservation/internal/engine"
	"stock_reservation/internal/ledger"
	"stock_reservation/internal/reservation"
	"stock_reservation/internal/router"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupServer(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db, err := database.Open("sqlite", "file::memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db, zap.NewNop()) })

	eng := engine.New(ledger.New(db), reservation.NewStore(rdb), engine.Options{HoldTTL: time.Minute}, zap.NewNop())

	r := gin.New()
	router.Setup(r, eng, rdb, config.AppConfig{RateLimitMax: 1000, RateLimitWindow: time.Minute}, zap.NewNop())
	return r
}

func call(t *testing.T, h http.Handler, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func createProduct(t *testing.T, h http.Handler, stock int) uint {
	t.Helper()
	code, body := call(t, h, http.MethodPost, "/api/products", map[string]any{
		"name": "Sneakers", "description": "Size 42", "price": 120.5, "totalStock": stock,
	})
	require.Equal(t, http.StatusCreated, code, body)
	return uint(body["id"].(float64))
}

func TestPing(t *testing.T) {
	h := setupServer(t)
	code, body := call(t, h, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pong", body["message"])
}

func TestCreateProduct_Validation(t *testing.T) {
	h := setupServer(t)

	cases := []map[string]any{
		{"name": "x", "description": "y", "price": -1, "totalStock": 1},
		{"name": "x", "description": "y", "price": 1, "totalStock": -1},
		{"name": "", "description": "y", "price": 1, "totalStock": 1},
		{"name": "x", "description": "y", "totalStock": 1},
		{"name": "x", "description": "y", "price": 1},
	}
	for i, body := range cases {
		code, _ := call(t, h, http.MethodPost, "/api/products", body)
		assert.Equal(t, http.StatusBadRequest, code, "case %d", i)
	}
}

func TestCreateProduct_ZeroStockAllowed(t *testing.T) {
	h := setupServer(t)
	id := createProduct(t, h, 0)

	code, body := call(t, h, http.MethodGet, fmt.Sprintf("/api/products/%d/status", id), nil)
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["availableStock"])
}

func TestStatus_NotFound(t *testing.T) {
	h := setupServer(t)
	code, _ := call(t, h, http.MethodGet, "/api/products/999/status", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = call(t, h, http.MethodGet, "/api/products/abc/status", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestReservationFlow(t *testing.T) {
	h := setupServer(t)
	id := createProduct(t, h, 5)
	base := fmt.Sprintf("/api/products/%d", id)

	code, _ := call(t, h, http.MethodPost, base+"/reserve", map[string]any{"userId": "A", "quantity": 3})
	assert.Equal(t, http.StatusOK, code)

	code, body := call(t, h, http.MethodGet, base+"/status", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 5, body["totalStock"])
	assert.EqualValues(t, 3, body["reservedStock"])
	assert.EqualValues(t, 2, body["availableStock"])

	code, body = call(t, h, http.MethodPost, base+"/reserve", map[string]any{"userId": "B", "quantity": 3})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Not enough stock available", body["message"])

	code, body = call(t, h, http.MethodPost, base+"/checkout", map[string]any{"userId": "A"})
	assert.Equal(t, http.StatusOK, code)
	order := body["order"].(map[string]any)
	assert.Equal(t, "completed", order["status"])
	assert.EqualValues(t, 3, order["quantity"])

	code, body = call(t, h, http.MethodPost, base+"/checkout", map[string]any{"userId": "A"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Checkout failed", body["message"])

	code, _ = call(t, h, http.MethodPost, base+"/reserve", map[string]any{"userId": "B", "quantity": 2})
	assert.Equal(t, http.StatusOK, code)

	code, _ = call(t, h, http.MethodDelete, base+"/reserve", map[string]any{"userId": "B"})
	assert.Equal(t, http.StatusOK, code)

	code, body = call(t, h, http.MethodDelete, base+"/reserve", map[string]any{"userId": "B"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Reservation not found", body["message"])

	code, body = call(t, h, http.MethodGet, base+"/status", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["totalStock"])
	assert.EqualValues(t, 0, body["reservedStock"])
}

func TestReserve_BadInput(t *testing.T) {
	h := setupServer(t)
	id := createProduct(t, h, 5)
	path := fmt.Sprintf("/api/products/%d/reserve", id)

	code, _ := call(t, h, http.MethodPost, path, map[string]any{"userId": "A", "quantity": 0})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, h, http.MethodPost, path, map[string]any{"quantity": 1})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, h, http.MethodPost, "/api/products/4242/reserve", map[string]any{"userId": "A", "quantity": 1})
	assert.Equal(t, http.StatusNotFound, code)
}
