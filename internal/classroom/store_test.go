package classroom

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classhub/internal/clock"
	"classhub/pkg/types"
)

var epoch = time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)

func newTestStore() (*Store, *clock.Fake) {
	clk := clock.NewFake(epoch)
	return NewStore(clk), clk
}

func TestStore_GetOrCreateIdempotent(t *testing.T) {
	store, _ := newTestStore()

	first := store.GetOrCreate("c1", "t1")
	second := store.GetOrCreate("c1", "t2")

	assert.Same(t, first, second)
	assert.Equal(t, "t1", first.TeacherID, "first teacher to attach wins")
	assert.Equal(t, types.ModeInstruction, first.Mode)
}

func TestStore_StudentCreatedStateAdoptsFirstTeacher(t *testing.T) {
	store, _ := newTestStore()

	st := store.GetOrCreate("c1", "")
	assert.Empty(t, st.TeacherID)

	store.GetOrCreate("c1", "t1")
	assert.Equal(t, "t1", st.TeacherID)
}

func TestStore_ConcurrentGetOrCreate(t *testing.T) {
	store, _ := newTestStore()

	const n = 64
	states := make([]*State, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			states[i] = store.GetOrCreate("c1", "")
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, states[0], states[i])
	}
	assert.Equal(t, []string{"c1"}, store.Classes())
}

func TestStore_SetMode(t *testing.T) {
	store, _ := newTestStore()
	store.GetOrCreate("c1", "t1")

	prev, err := store.SetMode("c1", types.ModeTest)
	require.NoError(t, err)
	assert.Equal(t, types.ModeInstruction, prev)

	prev, err = store.SetMode("c1", types.ModeBreak)
	require.NoError(t, err)
	assert.Equal(t, types.ModeTest, prev)

	_, err = store.SetMode("c1", types.Mode("recess"))
	assert.ErrorIs(t, err, types.ErrInvalidMode)

	_, err = store.SetMode("missing", types.ModeTest)
	assert.ErrorIs(t, err, types.ErrClassNotFound)
}

func createCountdown(t *testing.T, store *Store, id string, durationMs int64) {
	t.Helper()
	_, err := store.TimerOp("c1", types.TimerOpCreate, "", &types.TimerConfig{
		ID: id, Name: "Quiz", Kind: types.TimerCountdown, DurationMs: durationMs,
	})
	require.NoError(t, err)
}

func TestStore_TimerPauseResumePreservesElapsed(t *testing.T) {
	store, clk := newTestStore()
	store.GetOrCreate("c1", "t1")
	createCountdown(t, store, "q1", 60000)

	_, err := store.TimerOp("c1", types.TimerOpStart, "q1", nil)
	require.NoError(t, err)

	clk.Advance(10 * time.Second)
	paused, err := store.TimerOp("c1", types.TimerOpPause, "q1", nil)
	require.NoError(t, err)
	assert.Equal(t, types.TimerPaused, paused.Status)
	assert.Equal(t, int64(10000), paused.ElapsedMs)
	assert.Equal(t, epoch.Add(10*time.Second).UnixMilli(), paused.PausedAtMs)

	clk.Advance(5 * time.Second)
	snap, err := store.Snapshot("c1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), snap.Timers[0].ElapsedMs, "paused timers do not advance")

	resumed, err := store.TimerOp("c1", types.TimerOpStart, "q1", nil)
	require.NoError(t, err)
	assert.Equal(t, types.TimerRunning, resumed.Status)
	assert.Equal(t, int64(10000), resumed.ElapsedMs)
	assert.Zero(t, resumed.PausedAtMs)
	assert.Equal(t, clk.Now().UnixMilli()-10000, resumed.StartedAtMs)

	clk.Advance(2 * time.Second)
	snap, err = store.Snapshot("c1")
	require.NoError(t, err)
	assert.Equal(t, int64(12000), snap.Timers[0].ElapsedMs)
}

func TestStore_TimerStopResetsFromEveryStatus(t *testing.T) {
	store, clk := newTestStore()
	store.GetOrCreate("c1", "t1")
	createCountdown(t, store, "q1", 1000)

	reach := map[types.TimerStatus]func(){
		types.TimerStopped: func() {},
		types.TimerRunning: func() {
			_, err := store.TimerOp("c1", types.TimerOpStart, "q1", nil)
			require.NoError(t, err)
			clk.Advance(300 * time.Millisecond)
		},
		types.TimerPaused: func() {
			_, err := store.TimerOp("c1", types.TimerOpStart, "q1", nil)
			require.NoError(t, err)
			clk.Advance(300 * time.Millisecond)
			_, err = store.TimerOp("c1", types.TimerOpPause, "q1", nil)
			require.NoError(t, err)
		},
		types.TimerCompleted: func() {
			_, err := store.TimerOp("c1", types.TimerOpStart, "q1", nil)
			require.NoError(t, err)
			clk.Advance(2 * time.Second)
			done, err := store.CompleteExpired("c1")
			require.NoError(t, err)
			require.Len(t, done, 1)
		},
	}

	for status, setup := range reach {
		t.Run(string(status), func(t *testing.T) {
			setup()
			stopped, err := store.TimerOp("c1", types.TimerOpStop, "q1", nil)
			require.NoError(t, err)
			assert.Equal(t, types.TimerStopped, stopped.Status)
			assert.Zero(t, stopped.ElapsedMs)
			assert.Zero(t, stopped.StartedAtMs)
			assert.Zero(t, stopped.PausedAtMs)
		})
	}
}

func TestStore_TimerInvalidTransitions(t *testing.T) {
	store, clk := newTestStore()
	store.GetOrCreate("c1", "t1")
	createCountdown(t, store, "q1", 1000)

	_, err := store.TimerOp("c1", types.TimerOpPause, "q1", nil)
	assert.ErrorIs(t, err, types.ErrInvalidTransition, "pause from stopped")

	_, err = store.TimerOp("c1", types.TimerOpStart, "q1", nil)
	require.NoError(t, err)
	_, err = store.TimerOp("c1", types.TimerOpStart, "q1", nil)
	assert.ErrorIs(t, err, types.ErrInvalidTransition, "start while running")

	clk.Advance(time.Second)
	_, err = store.CompleteExpired("c1")
	require.NoError(t, err)
	_, err = store.TimerOp("c1", types.TimerOpStart, "q1", nil)
	assert.ErrorIs(t, err, types.ErrInvalidTransition, "start from completed")
	_, err = store.TimerOp("c1", types.TimerOpPause, "q1", nil)
	assert.ErrorIs(t, err, types.ErrInvalidTransition, "pause from completed")
}

func TestStore_TimerNotFoundAndCreateErrors(t *testing.T) {
	store, _ := newTestStore()
	store.GetOrCreate("c1", "t1")

	for _, op := range []types.TimerOp{types.TimerOpStart, types.TimerOpPause, types.TimerOpStop, types.TimerOpDelete} {
		_, err := store.TimerOp("c1", op, "nope", nil)
		assert.ErrorIs(t, err, types.ErrTimerNotFound, "op %s", op)
	}

	_, err := store.TimerOp("c1", types.TimerOp("rewind"), "nope", nil)
	assert.ErrorIs(t, err, types.ErrInvalidTimerOp)

	_, err = store.TimerOp("c1", types.TimerOpCreate, "", nil)
	assert.ErrorIs(t, err, types.ErrInvalidTimer)

	_, err = store.TimerOp("c1", types.TimerOpCreate, "", &types.TimerConfig{Name: "x", Kind: types.TimerStopwatch, DurationMs: 5})
	assert.ErrorIs(t, err, types.ErrInvalidTimer)

	createCountdown(t, store, "q1", 1000)
	_, err = store.TimerOp("c1", types.TimerOpCreate, "", &types.TimerConfig{ID: "q1", Name: "dup", Kind: types.TimerStopwatch})
	assert.ErrorIs(t, err, types.ErrTimerExists)

	deleted, err := store.TimerOp("c1", types.TimerOpDelete, "q1", nil)
	require.NoError(t, err)
	assert.Equal(t, "q1", deleted.ID)
	_, err = store.TimerOp("c1", types.TimerOpDelete, "q1", nil)
	assert.ErrorIs(t, err, types.ErrTimerNotFound)
}

func TestStore_TimerCreateGeneratesID(t *testing.T) {
	store, _ := newTestStore()
	store.GetOrCreate("c1", "t1")

	created, err := store.TimerOp("c1", types.TimerOpCreate, "", &types.TimerConfig{Name: "Lap", Kind: types.TimerStopwatch})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, types.TimerStopped, created.Status)
	assert.Zero(t, created.ElapsedMs)
}

func TestStore_CompleteExpiredIgnoresStopwatch(t *testing.T) {
	store, clk := newTestStore()
	store.GetOrCreate("c1", "t1")
	createCountdown(t, store, "q1", 5000)
	_, err := store.TimerOp("c1", types.TimerOpCreate, "", &types.TimerConfig{ID: "sw", Name: "Lap", Kind: types.TimerStopwatch})
	require.NoError(t, err)

	for _, id := range []string{"q1", "sw"} {
		_, err := store.TimerOp("c1", types.TimerOpStart, id, nil)
		require.NoError(t, err)
	}

	clk.Advance(4 * time.Second)
	done, err := store.CompleteExpired("c1")
	require.NoError(t, err)
	assert.Empty(t, done)

	clk.Advance(2 * time.Second)
	done, err = store.CompleteExpired("c1")
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "q1", done[0].ID)
	assert.Equal(t, types.TimerCompleted, done[0].Status)
	assert.Equal(t, int64(5000), done[0].ElapsedMs)
}

func TestStore_DeleteIfIdle(t *testing.T) {
	store, clk := newTestStore()
	st := store.GetOrCreate("c1", "t1")
	require.NotNil(t, st)

	assert.False(t, store.DeleteIfIdle("c1", 5*time.Minute))

	clk.Advance(5 * time.Minute)
	assert.True(t, store.DeleteIfIdle("c1", 5*time.Minute))
	assert.Empty(t, store.Classes())

	_, err := store.Snapshot("c1")
	assert.ErrorIs(t, err, types.ErrClassNotFound)

	fresh := store.GetOrCreate("c1", "t1")
	assert.NotSame(t, st, fresh, "a reclaimed class is recreated from scratch")
}

func TestStore_DeleteIfIdleZeroWindow(t *testing.T) {
	store, _ := newTestStore()
	store.GetOrCreate("c1", "t1")

	assert.True(t, store.DeleteIfIdle("c1", 0))
	assert.False(t, store.DeleteIfIdle("c1", 0))
}
