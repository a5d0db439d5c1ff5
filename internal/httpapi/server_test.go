package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trainflow/internal/catalog"
	"github.com/roach88/trainflow/internal/domain"
	"github.com/roach88/trainflow/internal/ident"
	"github.com/roach88/trainflow/internal/offline"
	"github.com/roach88/trainflow/internal/service"
	"github.com/roach88/trainflow/internal/store"
	"github.com/roach88/trainflow/internal/testutil"
)

type apiFixture struct {
	store   *store.Store
	monitor *offline.Monitor
	handler http.Handler
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	monitor := offline.NewMonitor(true)
	clk := testutil.NewSteppingClock(testutil.Epoch, time.Second)
	q, err := offline.Open(context.Background(), offline.Options{Network: monitor, Journal: st, Clock: clk})
	require.NoError(t, err)

	cat := catalog.MustLoad()
	svc, err := service.New(service.Config{
		Store:   store.NewGated(st, monitor),
		Queue:   q,
		Network: monitor,
		Catalog: cat,
		Clock:   clk,
		IDs:     ident.NewSequence("id"),
	})
	require.NoError(t, err)

	return &apiFixture{
		store:   st,
		monitor: monitor,
		handler: New(svc, cat, nil).Handler([]string{"https://app.example.org"}),
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, actor domain.Actor, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor.Role != "" {
		req.Header.Set(HeaderActorID, actor.UserID)
		req.Header.Set(HeaderActorRole, string(actor.Role))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeInto[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

var (
	requester = domain.Actor{UserID: "u1", Role: domain.RoleRequester}
	reviewer1 = domain.Actor{UserID: "u2", Role: domain.RoleReviewer1}
	reviewer2 = domain.Actor{UserID: "u3", Role: domain.RoleReviewer2}
)

func draft(id string) map[string]any {
	return map[string]any{
		"id":             id,
		"title":          "Public speaking basics",
		"specialization": "communication",
		"province":       "Jawa Barat",
		"requested_date": "2024-01-10T09:00:00Z",
		"duration_hours": 3,
	}
}

func TestHealth(t *testing.T) {
	f := newAPI(t)
	rec := f.do(t, http.MethodGet, "/health", domain.Actor{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeInto[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["online"])
}

func TestCreateAndList(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, http.MethodPost, "/requests", requester, draft("r1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeInto[service.Result[domain.TrainingRequest]](t, rec)
	assert.Equal(t, domain.StatusUnderReview, res.Value.Status)
	assert.False(t, res.Queued)

	rec = f.do(t, http.MethodGet, "/requests?role=reviewer_cc", domain.Actor{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeInto[[]domain.TrainingRequest](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/requests?role=reviewer_pm", domain.Actor{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/requests/r1", domain.Actor{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "r1", decodeInto[domain.TrainingRequest](t, rec).ID)
}

func TestRecommendation(t *testing.T) {
	f := newAPI(t)
	rec := f.do(t, http.MethodPost, "/requests", requester, draft("r1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/requests/r1/recommendation", domain.Actor{}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeInto[map[string]any](t, rec)
	assert.Equal(t, "r1", body["request_id"])
	assert.Equal(t, false, body["can_recommend"])

	rec = f.do(t, http.MethodGet, "/requests/missing/recommendation", domain.Actor{}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrors_AreLocalized(t *testing.T) {
	f := newAPI(t)
	rec := f.do(t, http.MethodPost, "/requests", requester, draft("r1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/requests/r1/transitions", reviewer2,
		map[string]any{"target": "CC_APPROVED"}, "Accept-Language", "id-ID,id;q=0.9")
	require.Equal(t, http.StatusForbidden, rec.Code)

	body := decodeInto[errorBody](t, rec)
	assert.Equal(t, domain.KindUnauthorized, body.Error.Kind)
	assert.Equal(t, "Anda tidak diizinkan melakukan langkah ini.", body.Error.Message)

	rec = f.do(t, http.MethodPost, "/requests/r1/transitions", reviewer1,
		map[string]any{"target": "SCHEDULED"})
	require.Equal(t, http.StatusConflict, rec.Code)
	body = decodeInto[errorBody](t, rec)
	assert.Equal(t, domain.KindInvalidTransition, body.Error.Kind)
	assert.Equal(t, "This request cannot move to the requested stage.", body.Error.Message)

	rec = f.do(t, http.MethodGet, "/requests/missing", domain.Actor{}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMissingActor(t *testing.T) {
	f := newAPI(t)
	rec := f.do(t, http.MethodPost, "/requests", domain.Actor{}, draft("r1"))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMalformedBody(t *testing.T) {
	f := newAPI(t)
	rec := f.do(t, http.MethodPost, "/requests", requester, map[string]any{"titel": "typo"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.KindValidation, decodeInto[errorBody](t, rec).Error.Kind)
}

func TestConflicts(t *testing.T) {
	f := newAPI(t)
	supervisor := domain.Actor{UserID: "u4", Role: domain.RoleSupervisor}

	rec := f.do(t, http.MethodPost, "/events", supervisor, map[string]any{
		"event": map[string]any{
			"id":         "e1",
			"title":      "Existing",
			"start_date": "2024-01-10T10:00:00Z",
			"end_date":   "2024-01-10T12:00:00Z",
			"location":   "Room1",
			"attendees":  []string{"t1"},
			"type":       "training",
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/conflicts", domain.Actor{}, map[string]any{
		"start_date": "2024-01-10T09:00:00Z",
		"end_date":   "2024-01-10T11:00:00Z",
		"location":   "Room1",
		"attendees":  []string{"t1"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{
		"conflicts": [
			{"conflicting_event_id": "e1", "kind": "time_overlap", "severity": "high"},
			{"conflicting_event_id": "e1", "kind": "trainer_conflict", "severity": "medium"},
			{"conflicting_event_id": "e1", "kind": "location_conflict", "severity": "low"}
		],
		"blocking": true,
		"resolutions": ["cancel", "reschedule"]
	}`, rec.Body.String())
}

func TestOfflineQueueEndpoints(t *testing.T) {
	f := newAPI(t)
	f.monitor.Set(false)

	rec := f.do(t, http.MethodPost, "/requests", requester, draft("r1"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.True(t, decodeInto[service.Result[domain.TrainingRequest]](t, rec).Queued)

	rec = f.do(t, http.MethodGet, "/queue", domain.Actor{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	actions := decodeInto[[]domain.OfflineAction](t, rec)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.ActionCreateRequest, actions[0].Type)

	rec = f.do(t, http.MethodPost, "/requests/r1/selection", domain.Actor{UserID: "u4", Role: domain.RoleSupervisor},
		map[string]any{"trainer_id": "t1"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f.monitor.Set(true)
	rec = f.do(t, http.MethodPost, "/queue/drain", domain.Actor{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	drained := decodeInto[offline.DrainResult](t, rec)
	assert.Equal(t, 1, drained.Succeeded)

	_, err := f.store.Get(context.Background(), store.TableRequests, "r1")
	require.NoError(t, err)
}

func TestCORSPreflight(t *testing.T) {
	f := newAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/requests", nil)
	req.Header.Set("Origin", "https://app.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", HeaderActorRole)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}
