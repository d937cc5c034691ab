package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/sales-arena/internal/config"
	"github.com/sales-arena/internal/domain"
	"github.com/sales-arena/internal/memstore"
	"github.com/sales-arena/internal/metrics"
	"github.com/sales-arena/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	handler *Handler
	router  http.Handler
	store   *memstore.Store
}

func newTestServer(t *testing.T, rl config.RateLimitConfig) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	m := metrics.NewNop()
	sales := service.NewSalesService(store, &config.PipelineConfig{
		PointAward:     100,
		MaxAttempts:    3,
		RetryBaseDelay: time.Millisecond,
		Timeout:        5 * time.Second,
	}, m, logger)
	admin := service.NewAdminService(store, &config.LeaderboardConfig{DefaultLimit: 50, MaxLimit: 500}, 15*time.Minute, logger)
	h := NewHandler(sales, admin, nil, m.Handler(), &rl, logger)
	return &testServer{handler: h, router: h.Router(), store: store}
}

func defaultServer(t *testing.T) *testServer {
	return newTestServer(t, config.RateLimitConfig{RequestsPerMinute: 6000, Burst: 1000})
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:5555"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func (s *testServer) createAttendant(t *testing.T, name string) string {
	t.Helper()
	code, resp := s.do(t, http.MethodPost, "/api/v1/attendants", map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, code, resp.Error)
	var a domain.Attendant
	require.NoError(t, json.Unmarshal(resp.Data, &a))
	return a.ID
}

func (s *testServer) createGoal(t *testing.T, attendantID, target string) string {
	t.Helper()
	code, resp := s.do(t, http.MethodPost, "/api/v1/goals", map[string]string{
		"attendant_id": attendantID,
		"title":        "Monthly target",
		"target_value": target,
		"type":         "monthly",
	})
	require.Equal(t, http.StatusCreated, code, resp.Error)
	var g domain.Goal
	require.NoError(t, json.Unmarshal(resp.Data, &g))
	return g.ID
}

func TestSubmitSale_RunsPipeline(t *testing.T) {
	s := defaultServer(t)
	id := s.createAttendant(t, "Ana")
	s.createGoal(t, id, "50.00")

	code, _ := s.do(t, http.MethodPost, "/api/v1/sales", map[string]interface{}{
		"attendant_id": id,
		"value":        "30.00",
	})
	require.Equal(t, http.StatusCreated, code)

	code, resp := s.do(t, http.MethodPost, "/api/v1/sales", map[string]interface{}{
		"attendant_id": id,
		"value":        "25.00",
		"client":       map[string]string{"name": "Bruno", "email": "bruno@example.com"},
	})
	require.Equal(t, http.StatusCreated, code, resp.Error)

	var out service.SaleOutcome
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	assert.Equal(t, "55", out.Earnings.String())
	require.Len(t, out.Achievements, 1)
	assert.Equal(t, "Bruno", out.Sale.Client.Name)

	code, resp = s.do(t, http.MethodGet, "/api/v1/leaderboard", nil)
	require.Equal(t, http.StatusOK, code)
	var board []domain.LeaderboardEntry
	require.NoError(t, json.Unmarshal(resp.Data, &board))
	require.Len(t, board, 1)
	assert.Equal(t, int64(100), board[0].TotalPoints)
	assert.Equal(t, int64(1), board[0].Rank)
}

func TestSubmitSale_Errors(t *testing.T) {
	s := defaultServer(t)
	id := s.createAttendant(t, "Ana")

	tests := []struct {
		name    string
		body    interface{}
		status  int
		message string
	}{
		{"malformed json", `{"attendant_id":`, http.StatusBadRequest, domain.ErrInvalidRequest.Error()},
		{"zero value", map[string]string{"attendant_id": id, "value": "0"}, http.StatusBadRequest, domain.ErrInvalidSaleValue.Error()},
		{"three decimals", map[string]string{"attendant_id": id, "value": "1.005"}, http.StatusBadRequest, domain.ErrInvalidSaleValue.Error()},
		{"beyond storable amount", map[string]string{"attendant_id": id, "value": "1000000000000000.00"}, http.StatusBadRequest, domain.ErrInvalidSaleValue.Error()},
		{"bad email", map[string]interface{}{
			"attendant_id": id,
			"value":        "10.00",
			"client":       map[string]string{"email": "not-an-email"},
		}, http.StatusBadRequest, domain.ErrInvalidClientInfo.Error()},
		{"unknown attendant", map[string]string{"attendant_id": "missing", "value": "10.00"}, http.StatusNotFound, domain.ErrAttendantNotFound.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := s.do(t, http.MethodPost, "/api/v1/sales", tt.body)
			assert.Equal(t, tt.status, code)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.message, resp.Error)
		})
	}

	sales, err := s.store.ListSales(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestSubmitSale_EarningsLimit(t *testing.T) {
	s := defaultServer(t)
	id := s.createAttendant(t, "Ana")

	code, _ := s.do(t, http.MethodPost, "/api/v1/sales", map[string]string{"attendant_id": id, "value": "999999999999.99"})
	require.Equal(t, http.StatusCreated, code)

	code, resp := s.do(t, http.MethodPost, "/api/v1/sales", map[string]string{"attendant_id": id, "value": "0.01"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, domain.ErrEarningsLimit.Error(), resp.Error)
}

func TestSubmitSale_RateLimited(t *testing.T) {
	s := newTestServer(t, config.RateLimitConfig{RequestsPerMinute: 1, Burst: 2})
	id := s.createAttendant(t, "Ana")
	body := map[string]string{"attendant_id": id, "value": "1.00"}

	for i := 0; i < 2; i++ {
		code, _ := s.do(t, http.MethodPost, "/api/v1/sales", body)
		require.Equal(t, http.StatusCreated, code)
	}
	code, resp := s.do(t, http.MethodPost, "/api/v1/sales", body)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, domain.ErrRateLimited.Error(), resp.Error)

	// reads are not limited
	code, _ = s.do(t, http.MethodGet, "/api/v1/sales", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestDeleteSale(t *testing.T) {
	s := defaultServer(t)
	id := s.createAttendant(t, "Ana")

	code, resp := s.do(t, http.MethodPost, "/api/v1/sales", map[string]string{"attendant_id": id, "value": "40.00"})
	require.Equal(t, http.StatusCreated, code)
	var out service.SaleOutcome
	require.NoError(t, json.Unmarshal(resp.Data, &out))

	code, _ = s.do(t, http.MethodDelete, "/api/v1/sales/"+out.Sale.ID, nil)
	require.Equal(t, http.StatusOK, code)

	code, resp = s.do(t, http.MethodGet, "/api/v1/attendants/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	var a domain.AttendantView
	require.NoError(t, json.Unmarshal(resp.Data, &a))
	assert.True(t, a.Earnings.IsZero())

	code, resp = s.do(t, http.MethodDelete, "/api/v1/sales/"+out.Sale.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, domain.ErrSaleNotFound.Error(), resp.Error)
}

func TestAttendants(t *testing.T) {
	s := defaultServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/v1/attendants", map[string]string{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, domain.ErrInvalidAttendant.Error(), resp.Error)

	busy := s.createAttendant(t, "Ana")
	idle := s.createAttendant(t, "Bia")
	code, _ = s.do(t, http.MethodPost, "/api/v1/sales", map[string]string{"attendant_id": busy, "value": "5.00"})
	require.Equal(t, http.StatusCreated, code)

	code, resp = s.do(t, http.MethodGet, "/api/v1/attendants", nil)
	require.Equal(t, http.StatusOK, code)
	var views []domain.AttendantView
	require.NoError(t, json.Unmarshal(resp.Data, &views))
	require.Len(t, views, 2)
	status := map[string]domain.AttendantStatus{}
	for _, v := range views {
		status[v.ID] = v.Status
	}
	assert.Equal(t, domain.AttendantOnline, status[busy])
	assert.Equal(t, domain.AttendantOffline, status[idle])

	code, resp = s.do(t, http.MethodDelete, "/api/v1/attendants/"+busy, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, domain.ErrAttendantHasSales.Error(), resp.Error)

	code, _ = s.do(t, http.MethodDelete, "/api/v1/attendants/"+idle, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodGet, "/api/v1/attendants/"+idle, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGoals(t *testing.T) {
	s := defaultServer(t)
	id := s.createAttendant(t, "Ana")

	code, resp := s.do(t, http.MethodPost, "/api/v1/goals", map[string]string{
		"attendant_id": id,
		"title":        "Bad",
		"target_value": "-1",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, domain.ErrInvalidGoal.Error(), resp.Error)

	goalID := s.createGoal(t, id, "100.00")
	code, _ = s.do(t, http.MethodPost, "/api/v1/sales", map[string]string{"attendant_id": id, "value": "25.00"})
	require.Equal(t, http.StatusCreated, code)

	code, resp = s.do(t, http.MethodGet, "/api/v1/goals?attendant_id="+id, nil)
	require.Equal(t, http.StatusOK, code)
	var goals []domain.GoalView
	require.NoError(t, json.Unmarshal(resp.Data, &goals))
	require.Len(t, goals, 1)
	assert.Equal(t, "25", goals[0].Progress.String())
	assert.Equal(t, domain.GoalStatusActive, goals[0].Status)

	code, _ = s.do(t, http.MethodPost, "/api/v1/goals/"+goalID+"/deactivate", nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/goals/missing/deactivate", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = s.do(t, http.MethodGet, "/api/v1/goals", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &goals))
	assert.Equal(t, domain.GoalStatusInactive, goals[0].Status)
}

func TestListEvents_Polling(t *testing.T) {
	s := defaultServer(t)
	id := s.createAttendant(t, "Ana")
	s.createGoal(t, id, "10.00")
	code, _ := s.do(t, http.MethodPost, "/api/v1/sales", map[string]string{"attendant_id": id, "value": "10.00"})
	require.Equal(t, http.StatusCreated, code)

	type page struct {
		Events    []domain.PipelineEvent `json:"events"`
		NextAfter int64                  `json:"next_after"`
	}

	code, resp := s.do(t, http.MethodGet, "/api/v1/events?limit=2", nil)
	require.Equal(t, http.StatusOK, code)
	var first page
	require.NoError(t, json.Unmarshal(resp.Data, &first))
	require.Len(t, first.Events, 2)
	assert.Equal(t, domain.EventSaleRecorded, first.Events[0].Type)

	code, resp = s.do(t, http.MethodGet, "/api/v1/events?after="+strconv.FormatInt(first.NextAfter, 10), nil)
	require.Equal(t, http.StatusOK, code)
	var rest page
	require.NoError(t, json.Unmarshal(resp.Data, &rest))
	require.NotEmpty(t, rest.Events)
	assert.Greater(t, rest.Events[0].ID, first.NextAfter)

	code, _ = s.do(t, http.MethodGet, "/api/v1/events?after=abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestReadyCheck(t *testing.T) {
	s := defaultServer(t)
	s.handler.AddReadinessCheck("postgres", pinger{})

	code, resp := s.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)

	s.handler.AddReadinessCheck("redis", pinger{err: errors.New("connection refused")})
	code, resp = s.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	var status map[string]string
	require.NoError(t, json.Unmarshal(resp.Data, &status))
	assert.Equal(t, "unavailable", status["redis"])
	assert.Equal(t, "ok", status["postgres"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := defaultServer(t)
	id := s.createAttendant(t, "Ana")
	code, _ := s.do(t, http.MethodPost, "/api/v1/sales", map[string]string{"attendant_id": id, "value": "1.00"})
	require.Equal(t, http.StatusCreated, code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "salesarena_sales_submitted_total 1")
}

func TestIPRateLimiter_ExpiresIdleClients(t *testing.T) {
	l := newIPRateLimiter(&config.RateLimitConfig{RequestsPerMinute: 1, Burst: 1})
	now := time.Now()
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"))

	now = now.Add(limiterTTL + time.Second)
	assert.True(t, l.allow("a"))
	assert.Len(t, l.limiters, 1)
}
