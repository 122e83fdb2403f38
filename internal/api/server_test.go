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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classhub/internal/classroom"
	"classhub/internal/clock"
	"classhub/internal/metrics"
	"classhub/internal/testutil"
	"classhub/pkg/types"
)

var epoch = time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)

type stubPinger struct{ err error }

func (p stubPinger) PingContext(context.Context) error { return p.err }

type stubQueues int

func (q stubQueues) ActiveQueues() int { return int(q) }

type serverFixture struct {
	server   *Server
	store    *classroom.Store
	registry *classroom.Registry
	clock    *clock.Fake
}

func newServerFixture(t *testing.T, directory Pinger) *serverFixture {
	t.Helper()
	clk := clock.NewFake(epoch)
	store := classroom.NewStore(clk)
	identity := testutil.NewFakeIdentity()
	identity.AddClass("c1", "Algebra", "t1")
	identity.AddClass("c2", "Biology", "t2")
	identity.AddStudent("s1", "c1")
	identity.AddStudent("s2", "c1")
	registry := classroom.NewRegistry(store, identity, nil, nil)

	collector := metrics.NewCollector(prometheus.NewRegistry())
	collector.ConnectionOpened("teacher")

	server := NewServer(Deps{
		Roster:    registry,
		States:    store,
		Queues:    stubQueues(2),
		Directory: directory,
		Metrics:   collector.Handler(),
		Now:       clk.Now,
	}, nil)
	return &serverFixture{server: server, store: store, registry: registry, clock: clk}
}

func (f *serverFixture) admit(t *testing.T, userID string, role types.Role, classID string) {
	t.Helper()
	_, err := f.registry.Admit(context.Background(), testutil.NewFakeConn("conn-"+userID), types.AdmissionRequest{
		Token: testutil.TokenFor(userID), Role: role, ClassID: classID,
	})
	require.NoError(t, err)
}

func (f *serverFixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

// FUNCTIONAL VALIDATION TEST: GET /health reports connections and queue count
func TestServer_Health(t *testing.T) {
	f := newServerFixture(t, stubPinger{})
	f.admit(t, "t1", types.RoleTeacher, "c1")
	f.admit(t, "s1", types.RoleStudent, "")
	f.clock.Advance(90 * time.Second)

	w := f.get(t, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 1, resp.Connections["teachers"])
	assert.Equal(t, 1, resp.Connections["students"])
	assert.Equal(t, 2, resp.Connections["total"])
	assert.Equal(t, 2, resp.ActiveQueues)
	assert.Equal(t, "1m30s", resp.Uptime)
}

func TestServer_HealthUnhealthyDirectory(t *testing.T) {
	f := newServerFixture(t, stubPinger{err: errors.New("database is locked")})

	w := f.get(t, "/health")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Contains(t, resp.Directory, "database is locked")
}

// FUNCTIONAL VALIDATION TEST: GET /api/classes lists live classrooms
func TestServer_ListClasses(t *testing.T) {
	f := newServerFixture(t, nil)

	w := f.get(t, "/api/classes")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"classes":[]}`, w.Body.String())

	f.admit(t, "t2", types.RoleTeacher, "c2")
	f.admit(t, "t1", types.RoleTeacher, "c1")
	f.admit(t, "s1", types.RoleStudent, "")
	_, err := f.store.SetMode("c1", types.ModeTest)
	require.NoError(t, err)

	w = f.get(t, "/api/classes")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	var resp ListClassesResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Classes, 2)
	assert.Equal(t, "c1", resp.Classes[0].ClassID)
	assert.Equal(t, types.ModeTest, resp.Classes[0].Mode)
	assert.Equal(t, 1, resp.Classes[0].Teachers)
	assert.Equal(t, 1, resp.Classes[0].Students)
	assert.Equal(t, "c2", resp.Classes[1].ClassID)
	assert.Equal(t, 0, resp.Classes[1].Students)
}

// FUNCTIONAL VALIDATION TEST: GET /api/classes/{classId}
func TestServer_GetClass(t *testing.T) {
	f := newServerFixture(t, nil)
	f.admit(t, "t1", types.RoleTeacher, "c1")
	f.admit(t, "s2", types.RoleStudent, "")
	_, err := f.store.SetLock("c1", types.LockTarget{StudentIDs: []string{"s2"}}, true)
	require.NoError(t, err)

	w := f.get(t, "/api/classes/c1")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ClassResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "c1", resp.Snapshot.ClassID)
	assert.Equal(t, []string{"s2"}, resp.Snapshot.ConnectedStudents)
	assert.True(t, resp.Snapshot.IsLocked("s2"))
	assert.Len(t, resp.Participants, 2)

	w = f.get(t, "/api/classes/c9")
	assert.Equal(t, http.StatusNotFound, w.Code)
	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&errResp))
	assert.Equal(t, http.StatusNotFound, errResp.Code)
}

func TestServer_CORSPreflight(t *testing.T) {
	f := newServerFixture(t, nil)

	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/classes", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "GET, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
}

func TestServer_MethodNotAllowed(t *testing.T) {
	f := newServerFixture(t, nil)

	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/classes/c1", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_Metrics(t *testing.T) {
	f := newServerFixture(t, nil)

	w := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "classhub_"), "exposes collector metrics")
}
