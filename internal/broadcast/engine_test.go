package broadcast

import (
	"context"
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

type classFixture struct {
	engine   *Engine
	registry *classroom.Registry
	conns    map[string]*testutil.FakeConn
}

func newClassFixture(t *testing.T) *classFixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC))
	identity := testutil.NewFakeIdentity()
	identity.AddClass("c1", "Algebra", "t1")
	identity.AddClass("c2", "Biology", "t2")
	identity.AddStudent("s1", "c1")
	identity.AddStudent("s2", "c1")
	identity.AddStudent("s3", "c1")
	identity.AddStudent("x1", "c2")

	store := classroom.NewStore(clk)
	registry := classroom.NewRegistry(store, identity, nil, nil)
	engine := NewEngine(registry, clk, nil, metrics.NewCollector(prometheus.NewRegistry()))
	registry.SetNotifier(engine)

	f := &classFixture{engine: engine, registry: registry, conns: map[string]*testutil.FakeConn{}}
	join := func(userID string, role types.Role) {
		conn := testutil.NewFakeConn("conn-" + userID)
		_, err := registry.Admit(context.Background(), conn, types.AdmissionRequest{
			Token: testutil.TokenFor(userID), Role: role,
		})
		require.NoError(t, err)
		f.conns[userID] = conn
	}
	join("t1", types.RoleTeacher)
	join("s1", types.RoleStudent)
	join("s2", types.RoleStudent)
	join("s3", types.RoleStudent)
	join("x1", types.RoleStudent)
	return f
}

func TestEngine_ClassScopeReachesStudentsOnly(t *testing.T) {
	f := newClassFixture(t)

	n := f.engine.Notify(Class("c1"), types.KindEmergencyAttention, map[string]any{"message": "eyes up"})
	assert.Equal(t, 3, n)

	for _, id := range []string{"s1", "s2", "s3"} {
		assert.Len(t, f.conns[id].OfKind(types.KindEmergencyAttention), 1, id)
	}
	assert.Empty(t, f.conns["t1"].OfKind(types.KindEmergencyAttention))
	assert.Empty(t, f.conns["x1"].OfKind(types.KindEmergencyAttention), "other classes are never reached")
}

func TestEngine_StudentsScopeTargets(t *testing.T) {
	f := newClassFixture(t)

	n := f.engine.Notify(Students("c1", "s2", "ghost"), types.KindScreenControl, map[string]any{"action": "lock"})
	assert.Equal(t, 1, n)
	assert.Len(t, f.conns["s2"].OfKind(types.KindScreenControl), 1)
	assert.Empty(t, f.conns["s1"].OfKind(types.KindScreenControl))
}

func TestEngine_TeachersAndConnectionScopes(t *testing.T) {
	f := newClassFixture(t)

	assert.Equal(t, 1, f.engine.Notify(Teachers("c1"), types.KindAcknowledgment, map[string]any{"messageId": "m1"}))
	assert.Len(t, f.conns["t1"].OfKind(types.KindAcknowledgment), 1)

	assert.Equal(t, 1, f.engine.Notify(Connection("c1", "conn-s3"), types.KindPong, nil))
	assert.Len(t, f.conns["s3"].OfKind(types.KindPong), 1)
	assert.Empty(t, f.conns["s1"].OfKind(types.KindPong))
}

func TestEngine_FailingRecipientDoesNotAffectOthers(t *testing.T) {
	f := newClassFixture(t)
	f.conns["s2"].FailSend(true)

	var n int
	assert.NotPanics(t, func() {
		n = f.engine.Notify(Class("c1"), types.KindClassroomModeChange, map[string]any{"newMode": "test"})
	})
	assert.Equal(t, 2, n)
	assert.Len(t, f.conns["s1"].OfKind(types.KindClassroomModeChange), 1)
	assert.Len(t, f.conns["s3"].OfKind(types.KindClassroomModeChange), 1)
}

func TestEngine_StampsEnvelope(t *testing.T) {
	f := newClassFixture(t)

	env := &types.Envelope{Kind: types.KindClassroomMessage, MessageID: "keep-me"}
	f.engine.Send(Class("c1"), env)
	got, ok := f.conns["s1"].Last(types.KindClassroomMessage)
	require.True(t, ok)
	assert.Equal(t, "keep-me", got.MessageID)
	assert.NotZero(t, got.Timestamp)

	f.engine.Notify(Class("c1"), types.KindPing, nil)
	ping, ok := f.conns["s1"].Last(types.KindPing)
	require.True(t, ok)
	assert.NotEmpty(t, ping.MessageID)
}

func TestEngine_StudentDisconnectedNotice(t *testing.T) {
	f := newClassFixture(t)

	require.True(t, f.registry.Remove("conn-s1", "inactive"))

	notices := f.conns["t1"].OfKind(types.KindConnectionStatus)
	require.Len(t, notices, 1)
	payload := testutil.Payload(notices[0])
	assert.Equal(t, "student_disconnected", payload["event"])
	assert.Equal(t, "s1", payload["studentId"])
	assert.Equal(t, "inactive", payload["reason"])
	assert.Empty(t, f.conns["s2"].OfKind(types.KindConnectionStatus))
}

func TestEngine_WelcomeCarriesAdmissionSnapshot(t *testing.T) {
	f := newClassFixture(t)

	teacherAck, ok := f.conns["t1"].Last(types.KindTeacherJoin)
	require.True(t, ok)
	assert.NotEmpty(t, teacherAck.MessageID)
	assert.NotZero(t, teacherAck.Timestamp)
	payload := testutil.Payload(teacherAck)
	assert.Equal(t, "Algebra", payload["className"])
	assert.Equal(t, "instruction", payload["currentMode"])

	studentAck, ok := f.conns["s2"].Last(types.KindStudentJoin)
	require.True(t, ok)
	payload = testutil.Payload(studentAck)
	assert.Equal(t, "s2", payload["studentId"])
	assert.Equal(t, true, payload["teacherConnected"])
	assert.Equal(t, false, payload["isLocked"])

	_, ok = f.conns["x1"].Last(types.KindStudentJoin)
	assert.True(t, ok)
	assert.Equal(t, false, testutil.Payload(f.conns["x1"].Envelopes()[0])["teacherConnected"])
	assert.Empty(t, f.conns["s2"].OfKind(types.KindTeacherJoin))
}

func TestStamp(t *testing.T) {
	now := time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)

	env := &types.Envelope{Kind: types.KindConnectionStatus}
	Stamp(env, now)
	assert.NotEmpty(t, env.MessageID)
	assert.Equal(t, now.UnixMilli(), env.Timestamp)

	kept := &types.Envelope{Kind: types.KindConnectionStatus, MessageID: "m1", Timestamp: 42}
	Stamp(kept, now)
	assert.Equal(t, "m1", kept.MessageID)
	assert.Equal(t, int64(42), kept.Timestamp)
}
