package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsechat/pulse/internal/adapter/driven/gateway/ws"
	"github.com/pulsechat/pulse/internal/adapter/driven/persistence/memory"
	"github.com/pulsechat/pulse/internal/auth"
	"github.com/pulsechat/pulse/internal/core/domain"
	"github.com/pulsechat/pulse/internal/core/service"
)

type apiFixture struct {
	router  http.Handler
	authMgr *auth.Manager
	calls   *memory.CallRepository
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	authMgr, err := auth.NewManager("test-secret", "pulse", time.Hour)
	require.NoError(t, err)

	calls := memory.NewCallRepository()
	messages := memory.NewMessageRepository()
	connHub := ws.NewHub()
	go connHub.Run()
	t.Cleanup(connHub.Stop)

	registry := service.NewRegistry()
	signaling := service.NewSignalingHub(registry, connHub, calls)
	chat := service.NewChatService(messages, connHub)

	h := NewHandler(chat, signaling, connHub, calls, messages, authMgr)
	return &apiFixture{router: h.NewRouter(), authMgr: authMgr, calls: calls}
}

func (f *apiFixture) request(t *testing.T, method, target string, as domain.UserID) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if as != "" {
		token, err := f.authMgr.Issue(time.Now(), as)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) seedCall(t *testing.T, caller, receiver domain.UserID, callType domain.CallType, status domain.CallStatus, start time.Time, duration int) domain.CallSession {
	t.Helper()
	s := domain.CallSession{
		CallID:     domain.NewCallID(),
		CallerID:   caller,
		ReceiverID: receiver,
		CallType:   callType,
		Status:     status,
		StartTime:  start,
		Duration:   duration,
	}
	if duration > 0 {
		s.ConnectedAt = start.Add(time.Second)
		s.EndTime = s.ConnectedAt.Add(time.Duration(duration) * time.Second)
	}
	require.NoError(t, f.calls.Create(context.Background(), s))
	return s
}

func TestAPI_RequiresToken(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodGet, "/api/calls/history", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_RejectsBadToken(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/calls/history", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_CallHistory(t *testing.T) {
	f := newAPIFixture(t)
	base := time.Now().Add(-time.Hour)

	f.seedCall(t, "alice", "bob", domain.CallTypeVideo, domain.StatusEnded, base, 60)
	f.seedCall(t, "bob", "alice", domain.CallTypeVoice, domain.StatusMissed, base.Add(time.Minute), 0)
	f.seedCall(t, "carol", "dave", domain.CallTypeVoice, domain.StatusEnded, base, 30)

	rec := f.request(t, http.MethodGet, "/api/calls/history", "alice")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Calls []struct {
			CallID    string `json:"callId"`
			Direction string `json:"direction"`
			Status    string `json:"status"`
		} `json:"calls"`
		Total       int `json:"total"`
		TotalPages  int `json:"totalPages"`
		CurrentPage int `json:"currentPage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, 1, body.TotalPages)
	require.Len(t, body.Calls, 2)
	// Newest first: bob's call to alice.
	assert.Equal(t, "incoming", body.Calls[0].Direction)
	assert.Equal(t, "outgoing", body.Calls[1].Direction)
}

func TestAPI_CallHistoryTypeFilter(t *testing.T) {
	f := newAPIFixture(t)
	base := time.Now().Add(-time.Hour)

	f.seedCall(t, "alice", "bob", domain.CallTypeVideo, domain.StatusEnded, base, 60)
	f.seedCall(t, "alice", "bob", domain.CallTypeVoice, domain.StatusEnded, base.Add(time.Minute), 30)

	rec := f.request(t, http.MethodGet, "/api/calls/history?type=voice", "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)

	rec = f.request(t, http.MethodGet, "/api/calls/history?type=hologram", "alice")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_CallStats(t *testing.T) {
	f := newAPIFixture(t)
	now := time.Now()

	f.seedCall(t, "alice", "bob", domain.CallTypeVideo, domain.StatusEnded, now.Add(-2*time.Minute), 120)
	f.seedCall(t, "bob", "alice", domain.CallTypeVoice, domain.StatusMissed, now.Add(-time.Minute), 0)

	rec := f.request(t, http.MethodGet, "/api/calls/stats?period=day", "alice")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Period string `json:"period"`
		Stats  struct {
			TotalCalls  int `json:"totalCalls"`
			MissedCalls int `json:"missedCalls"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "day", body.Period)
	assert.Equal(t, 2, body.Stats.TotalCalls)
	assert.Equal(t, 1, body.Stats.MissedCalls)

	rec = f.request(t, http.MethodGet, "/api/calls/stats?period=decade", "alice")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_DeleteCallAuthorization(t *testing.T) {
	f := newAPIFixture(t)
	s := f.seedCall(t, "alice", "bob", domain.CallTypeVoice, domain.StatusEnded, time.Now(), 30)

	rec := f.request(t, http.MethodDelete, "/api/calls/"+s.CallID.String(), "mallory")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.request(t, http.MethodDelete, "/api/calls/"+s.CallID.String(), "bob")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.request(t, http.MethodDelete, "/api/calls/"+s.CallID.String(), "bob")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.request(t, http.MethodDelete, "/api/calls/not-a-uuid", "bob")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPeriodStart(t *testing.T) {
	// A Wednesday.
	now := time.Date(2024, 5, 15, 13, 45, 0, 0, time.UTC)

	day, ok := periodStart(now, "day")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC), day)

	week, ok := periodStart(now, "week")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC), week)

	month, ok := periodStart(now, "month")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), month)

	_, ok = periodStart(now, "year")
	assert.False(t, ok)
}
