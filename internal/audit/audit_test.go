package audit

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/sonos-bridge-go/internal/db"
)

func setupTestService(t *testing.T) *Service {
	t.Helper()
	dbPair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })

	return NewService(dbPair, log.New(io.Discard, "", 0))
}

type reconnectRecorder struct {
	reasons []string
}

func (r *reconnectRecorder) MarkReconnect(reason string) {
	r.reasons = append(r.reasons, reason)
}

func TestRecordCommandSuccess(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	service.RecordCommand(ctx, CommandRecord{
		Target:           "sonos:player:RINCON_B",
		Action:           "Pause",
		Executor:         "RINCON_A",
		CorrelationToken: "token-1",
	})

	events, total, hasMore, err := service.QueryEvents(ctx, EventQueryFilters{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.False(t, hasMore)

	event := events[0]
	assert.Equal(t, string(EventCommandExecuted), event.Type)
	assert.Equal(t, EventLevelInfo, event.Level)
	require.NotNil(t, event.DeviceID)
	assert.Equal(t, "sonos:player:RINCON_B", *event.DeviceID)
	require.NotNil(t, event.CorrelationToken)
	assert.Equal(t, "token-1", *event.CorrelationToken)
	assert.Equal(t, "RINCON_A", event.Payload["executor"])
	assert.False(t, event.Timestamp.IsZero())
}

func TestRecordCommandFailure(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	service.RecordCommand(ctx, CommandRecord{
		Target:    "RINCON_C",
		Action:    "Skip",
		ErrorCode: "UNSUPPORTED_TRANSITION",
		Message:   "Next is not available",
	})

	level := EventLevelWarn
	events, _, _, err := service.QueryEvents(ctx, EventQueryFilters{Level: &level})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(EventCommandFailed), events[0].Type)
	assert.Equal(t, "UNSUPPORTED_TRANSITION", events[0].Payload["error_code"])
	assert.Nil(t, events[0].CorrelationToken)
}

func TestQueryPaginationAndOrder(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		stamp := base.Add(time.Duration(i) * time.Minute)
		service.repo.now = func() time.Time { return stamp }
		service.RecordSystem(ctx, EventSystemStartup, "start")
	}

	events, total, hasMore, err := service.QueryEvents(ctx, EventQueryFilters{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.True(t, hasMore)
	require.Len(t, events, 2)
	assert.True(t, events[0].Timestamp.After(events[1].Timestamp))

	events, _, hasMore, err = service.QueryEvents(ctx, EventQueryFilters{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, events, 1)
	assert.Equal(t, base, events[0].Timestamp)
}

func TestPrune(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	service.repo.now = func() time.Time { return old }
	service.RecordSystem(ctx, EventSystemStartup, "old")
	service.repo.now = func() time.Time { return old.Add(48 * time.Hour) }
	service.RecordSystem(ctx, EventSystemStartup, "new")

	removed, err := service.Prune(ctx, old.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	events, _, _, err := service.QueryEvents(ctx, EventQueryFilters{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "new", events[0].Message)
}

func TestGetEventNotFound(t *testing.T) {
	service := setupTestService(t)

	_, err := service.GetEvent(context.Background(), "missing")

	var notFound *EventNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.True(t, service.IsHealthy())
}

func TestReconnectorRecordsAndForwards(t *testing.T) {
	service := setupTestService(t)
	next := &reconnectRecorder{}

	Reconnector{Next: next, Service: service}.MarkReconnect("connection error")

	assert.Equal(t, []string{"connection error"}, next.reasons)
	eventType := string(EventReconnectMarked)
	events, _, _, err := service.QueryEvents(context.Background(), EventQueryFilters{Type: &eventType})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "connection error", events[0].Message)
}

func TestRoutes(t *testing.T) {
	service := setupTestService(t)
	service.RecordCommand(context.Background(), CommandRecord{Target: "RINCON_A", Action: "Play", Executor: "RINCON_A"})

	router := chi.NewRouter()
	RegisterRoutes(router, service)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/events?type=COMMAND_EXECUTED&device_id=RINCON_A", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Object string           `json:"object"`
		Data   []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 1)
	id := list.Data[0]["id"].(string)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/events/"+id, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/events/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/events?level=LOUD", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/events?from=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
