package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"marketplace-service/internal/apierror"
	"marketplace-service/internal/service"
	"marketplace-service/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-secret"
	testIssuer = "marketplace-test"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, services Services, deps map[string]Pinger) (*gin.Engine, *Authenticator) {
	t.Helper()
	auth := NewAuthenticator(testSecret, testIssuer)
	router := gin.New()
	NewHandler(services, auth, deps).SetupRoutes(router)
	return router, auth
}

func token(t *testing.T, auth *Authenticator, user User) string {
	t.Helper()
	raw, err := auth.IssueToken(user, time.Hour)
	require.NoError(t, err)
	return raw
}

func do(router *gin.Engine, method, path, bearer, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) apierror.BodyError {
	t.Helper()
	var body apierror.Body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestHealthCheck(t *testing.T) {
	router, _ := newTestRouter(t, Services{}, nil)

	w := do(router, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)
}

func TestReadinessCheck(t *testing.T) {
	router, _ := newTestRouter(t, Services{}, map[string]Pinger{
		"postgres": stubPinger{},
		"redis":    stubPinger{err: errors.New("connection refused")},
	})

	w := do(router, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body.Status)
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Equal(t, "connection refused", body.Checks["redis"])
}

func TestRequireAuth(t *testing.T) {
	router, _ := newTestRouter(t, Services{}, nil)

	w := do(router, http.MethodPost, "/api/v1/shops", "", `{"name":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Authentication required", decodeError(t, w).Message)

	forged := token(t, NewAuthenticator("other-secret", testIssuer), User{ID: 1})
	w = do(router, http.MethodPost, "/api/v1/shops", forged, `{"name":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid token", decodeError(t, w).Message)
}

func TestRequireAdmin(t *testing.T) {
	router, auth := newTestRouter(t, Services{}, nil)

	w := do(router, http.MethodPost, "/api/v1/categories", token(t, auth, User{ID: 3, Role: "user"}), `{"name":"Books"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, http.StatusForbidden, decodeError(t, w).StatusCode)
}

func TestVerifyRoundTrip(t *testing.T) {
	auth := NewAuthenticator(testSecret, testIssuer)
	raw := token(t, auth, User{ID: 42, Email: "a@example.com", Role: roleAdmin})

	user, err := auth.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, User{ID: 42, Email: "a@example.com", Role: roleAdmin}, *user)

	_, err = NewAuthenticator(testSecret, "someone-else").Verify(raw)
	assert.Error(t, err)
}

func TestInvalidPathID(t *testing.T) {
	router, _ := newTestRouter(t, Services{}, nil)

	w := do(router, http.MethodGet, "/api/v1/shops/abc", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid id", decodeError(t, w).Message)
}

func TestGetShop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	shops := service.NewShopService(store.NewFromDB(sqlx.NewDb(db, "postgres")))
	router, _ := newTestRouter(t, Services{Shops: shops}, nil)

	now := time.Now()
	mock.ExpectQuery(`SELECT \* FROM shops WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "name", "description", "email", "status", "created_at", "updated_at"}).
			AddRow(5, 9, "Corner Shop", "", "shop@example.com", "ACTIVE", now, now))
	mock.ExpectQuery(`SELECT \* FROM shops WHERE id = \$1`).
		WithArgs(int64(6)).
		WillReturnError(sqlmock.ErrCancelled)
	mock.ExpectQuery(`SELECT \* FROM shops WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w := do(router, http.MethodGet, "/api/v1/shops/5", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"Corner Shop"`)

	w = do(router, http.MethodGet, "/api/v1/shops/6", "", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apierror.InternalMessage, decodeError(t, w).Message)

	w = do(router, http.MethodGet, "/api/v1/shops/7", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, service.MsgShopNotFound, decodeError(t, w).Message)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateExperienceOrderRejectsLongHeaderKey(t *testing.T) {
	router, auth := newTestRouter(t, Services{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/experience-orders",
		strings.NewReader(`{"session_id":4,"payment_method":"CARD","total_amount":3000}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token(t, auth, User{ID: 3, Email: "b@example.com"}))
	req.Header.Set("Idempotency-Key", strings.Repeat("k", service.MaxIdempotencyKeyLength+1))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, service.MsgIdempotencyKeyTooLong, decodeError(t, w).Message)
}
