package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdcounter/internal/config"
	"crowdcounter/internal/logger"
	"crowdcounter/internal/model"
	"crowdcounter/internal/repository"
	"crowdcounter/internal/repository/sqlite"
	"crowdcounter/internal/services/query"
	wshub "crowdcounter/internal/services/websocket"
)

var testTime = time.Date(2030, 3, 1, 8, 0, 0, 0, time.UTC)

func setupTestRepo(t *testing.T) *sqlite.AggregateRepository {
	t.Helper()

	db, err := sqlite.New(filepath.Join(t.TempDir(), "crowd.db"), logger.NewDiscard())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return sqlite.NewAggregateRepository(db)
}

type brokenRepo struct {
	repository.AggregateRepository
}

func (brokenRepo) LatestPerSource(context.Context) (map[string]int64, error) {
	return nil, errors.New("database is locked")
}

func (brokenRepo) History(context.Context, string, int) ([]model.AggregateRecord, error) {
	return nil, errors.New("database is locked")
}

func TestGetCrowdHandler(t *testing.T) {
	ctx := context.Background()
	repo := setupTestRepo(t)
	_, err := repo.Append(ctx, "Halsema Hwy (Km. 5)", 0, testTime)
	require.NoError(t, err)
	_, err = repo.Append(ctx, "Halsema Hwy (Km. 5)", 1, testTime.Add(5*time.Second))
	require.NoError(t, err)
	_, err = repo.Append(ctx, "Session Rd", 0, testTime)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	GetCrowdHandler(query.NewService(repo), logger.NewDiscard())(rec, httptest.NewRequest(http.MethodGet, "/api/crowd", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]int64{"Halsema Hwy (Km. 5)": 1, "Session Rd": 0}, body)
	assert.NotContains(t, body, "Market")
}

func TestGetCrowdHandler_EmptyStore(t *testing.T) {
	rec := httptest.NewRecorder()
	GetCrowdHandler(query.NewService(setupTestRepo(t)), logger.NewDiscard())(rec, httptest.NewRequest(http.MethodGet, "/api/crowd", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestGetCrowdHandler_StorageFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	GetCrowdHandler(query.NewService(brokenRepo{}), logger.NewDiscard())(rec, httptest.NewRequest(http.MethodGet, "/api/crowd", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(ErrorHeader))
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestGetHistoryHandler(t *testing.T) {
	ctx := context.Background()
	repo := setupTestRepo(t)
	for i := int64(0); i < 3; i++ {
		_, err := repo.Append(ctx, "Session Rd", i, testTime.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	handler := GetHistoryHandler(query.NewService(repo), logger.NewDiscard())

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/crowd/history?source=Session+Rd&limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var records []model.AggregateRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, int64(2), records[0].TotalCount)
	assert.Equal(t, int64(1), records[1].TotalCount)

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/crowd/history?source=Nowhere", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetHistoryHandler_BadRequests(t *testing.T) {
	handler := GetHistoryHandler(query.NewService(setupTestRepo(t)), logger.NewDiscard())

	for _, target := range []string{
		"/api/crowd/history",
		"/api/crowd/history?source=A&limit=abc",
		"/api/crowd/history?source=A&limit=-1",
	} {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestGetHistoryHandler_StorageFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	GetHistoryHandler(query.NewService(brokenRepo{}), logger.NewDiscard())(rec,
		httptest.NewRequest(http.MethodGet, "/api/crowd/history?source=A", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

type staticStatuses []model.SourceStatus

func (s staticStatuses) Statuses() []model.SourceStatus { return s }

func TestGetSourcesHandler(t *testing.T) {
	provider := staticStatuses{
		{SourceID: "Halsema Hwy (Km. 5)", State: model.StateStreaming, Count: 4, LastFlush: testTime},
		{SourceID: "Session Rd", State: model.StateStalled, LastError: "end of stream"},
	}

	rec := httptest.NewRecorder()
	GetSourcesHandler(provider, logger.NewDiscard())(rec, httptest.NewRequest(http.MethodGet, "/api/sources", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 2)
	assert.Equal(t, "streaming", body[0]["state"])
	assert.Equal(t, float64(4), body[0]["count"])
	assert.Equal(t, "stalled", body[1]["state"])
	assert.Equal(t, "end of stream", body[1]["last_error"])
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler(pingFunc(func(context.Context) error { return nil }), logger.NewDiscard())(rec,
		httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	HealthHandler(pingFunc(func(context.Context) error { return errors.New("closed") }), logger.NewDiscard())(rec,
		httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLogsHandlers(t *testing.T) {
	dir := t.TempDir()
	l := logger.NewLogger(&config.Config{LogDir: dir})
	t.Cleanup(func() { l.Close() })
	l.Warning("source stalled")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /logs/{level}", ShowLogsHandler(l))
	mux.HandleFunc("POST /logs/{level}/clear", ClearLogsHandler(l))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logs/warning", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "source stalled")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logs/debug", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/logs/warning/clear", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	content, err := os.ReadFile(filepath.Join(dir, logger.WarningFile))
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestLiveWebsocketHandler(t *testing.T) {
	hub := wshub.NewHubService(logger.NewDiscard())
	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	srv := httptest.NewServer(LiveWebsocketHandler(hub, logger.NewDiscard()))
	t.Cleanup(func() {
		cancel()
		<-hubDone
		srv.Close()
	})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.Publish(model.CountUpdate{Source: "Session Rd", Count: 2, Timestamp: testTime})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"source":"Session Rd","count":2,"persisted":false,"timestamp":"2030-03-01T08:00:00Z"}`, string(msg))
}
