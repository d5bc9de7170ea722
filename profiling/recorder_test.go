package profiling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tilinna/clock"

	"github.com/fllarpy/reqprof/domain/profiles"
)

func newTestMode(t *testing.T, profiler Profiler) (*Mode, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	return NewMode(profiler, logger), hook
}

func messages(hook *test.Hook) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		out = append(out, e.Message)
	}
	return out
}

func TestRecorder_Disabled(t *testing.T) {
	profiler := &mockProfiler{}
	mode, hook := newTestMode(t, profiler)

	rec := NewRecorder(context.Background(), mode, "/foo")
	require.NoError(t, rec.Start())
	require.NoError(t, rec.Stop())

	assert.False(t, rec.Active())
	assert.Empty(t, profiler.Calls(), "disabled recorder must not call the profiler")
	assert.Empty(t, hook.AllEntries(), "disabled recorder must not log")
	assert.Nil(t, rec.Profile())
	assert.Zero(t, rec.Duration())
}

func TestRecorder_StartStop(t *testing.T) {
	profiler := &mockProfiler{}
	mode, hook := newTestMode(t, profiler)
	mode.Enable(false)
	hook.Reset()

	clck := clock.NewMock(time.Unix(1, 0))
	ctx := clock.Context(context.Background(), clck)

	rec := NewRecorder(ctx, mode, "/bar?x=1")
	require.NoError(t, rec.Start())
	assert.True(t, rec.Running())
	assert.Equal(t, []string{"PROF_START: /bar?x=1"}, messages(hook))

	clck.Add(150 * time.Millisecond)
	require.NoError(t, rec.Stop())

	assert.True(t, rec.Stopped())
	assert.Equal(t, []string{"start /bar?x=1", "stop /bar?x=1"}, profiler.Calls())
	assert.True(t, time.Unix(1, 0).Equal(rec.StartTime()))
	assert.True(t, time.Unix(1, int64(150*time.Millisecond)).Equal(rec.StopTime()))
	assert.Equal(t, 150*time.Millisecond, rec.Duration())
	assert.Equal(t, rec.StopTime().Sub(rec.StartTime()), rec.Duration())
	assert.Equal(t, []string{"PROF_START: /bar?x=1", "PROF_STOP: /bar?x=1 (time: 150ms)"}, messages(hook))
	for _, e := range hook.AllEntries() {
		assert.Equal(t, logrus.InfoLevel, e.Level)
	}

	require.NotNil(t, rec.Profile())
	record := rec.Record()
	assert.Equal(t, "/bar?x=1", record.Name)
	assert.Equal(t, 3, record.SampleCount)
	assert.Equal(t, []byte("pprof"), record.Raw)
	assert.Equal(t, 150*time.Millisecond, record.Duration)
}

func TestRecorder_Silent(t *testing.T) {
	profiler := &mockProfiler{}
	mode, hook := newTestMode(t, profiler)
	mode.Enable(true)

	rec := NewRecorder(context.Background(), mode, "/quiet")
	require.NoError(t, rec.Start())
	require.NoError(t, rec.Stop())

	assert.Equal(t, []string{"start /quiet", "stop /quiet"}, profiler.Calls(), "silent mode still profiles")
	assert.Empty(t, hook.AllEntries())
	assert.GreaterOrEqual(t, rec.Duration(), time.Duration(0))
}

func TestRecorder_EmptyName(t *testing.T) {
	profiler := &mockProfiler{}
	mode, _ := newTestMode(t, profiler)
	mode.Enable(false)

	rec := NewRecorder(context.Background(), mode, "")
	require.NoError(t, rec.Start())
	require.NoError(t, rec.Stop())

	assert.False(t, rec.Active())
	assert.Empty(t, profiler.Calls())
}

func TestRecorder_StatePolicy(t *testing.T) {
	t.Run("stop without start", func(t *testing.T) {
		profiler := &mockProfiler{}
		mode, _ := newTestMode(t, profiler)
		mode.Enable(true)

		rec := NewRecorder(context.Background(), mode, "/idle")
		err := rec.Stop()

		assert.ErrorIs(t, err, ErrNotRunning)
		assert.Empty(t, profiler.Calls())
		assert.Zero(t, rec.Duration())
	})

	t.Run("start twice", func(t *testing.T) {
		profiler := &mockProfiler{}
		mode, _ := newTestMode(t, profiler)
		mode.Enable(true)

		rec := NewRecorder(context.Background(), mode, "/twice")
		require.NoError(t, rec.Start())
		err := rec.Start()

		assert.ErrorIs(t, err, ErrAlreadyStarted)
		assert.Equal(t, []string{"start /twice"}, profiler.Calls())
	})

	t.Run("stop twice", func(t *testing.T) {
		profiler := &mockProfiler{}
		mode, _ := newTestMode(t, profiler)
		mode.Enable(true)

		rec := NewRecorder(context.Background(), mode, "/again")
		require.NoError(t, rec.Start())
		require.NoError(t, rec.Stop())

		assert.ErrorIs(t, rec.Stop(), ErrNotRunning)
		assert.Equal(t, []string{"start /again", "stop /again"}, profiler.Calls())
	})

	t.Run("restart after stop is refused", func(t *testing.T) {
		profiler := &mockProfiler{}
		mode, _ := newTestMode(t, profiler)
		mode.Enable(true)

		rec := NewRecorder(context.Background(), mode, "/once")
		require.NoError(t, rec.Start())
		require.NoError(t, rec.Stop())

		assert.ErrorIs(t, rec.Start(), ErrAlreadyStarted)
	})
}

func TestRecorder_ProfilerErrors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("failed start leaves the recorder idle", func(t *testing.T) {
		profiler := &mockProfiler{startErr: boom}
		mode, hook := newTestMode(t, profiler)
		mode.Enable(false)
		hook.Reset()

		rec := NewRecorder(context.Background(), mode, "/fail")
		err := rec.Start()

		assert.ErrorIs(t, err, boom)
		assert.False(t, rec.Running())
		assert.Empty(t, hook.AllEntries(), "no start line for a session that did not start")
		assert.ErrorIs(t, rec.Stop(), ErrNotRunning)
	})

	t.Run("failed stop still records timing", func(t *testing.T) {
		profiler := &mockProfiler{stopErr: boom}
		mode, _ := newTestMode(t, profiler)
		mode.Enable(true)

		clck := clock.NewMock(time.Unix(10, 0))
		rec := NewRecorder(clock.Context(context.Background(), clck), mode, "/fail")
		require.NoError(t, rec.Start())
		clck.Add(time.Second)

		err := rec.Stop()
		assert.ErrorIs(t, err, boom)
		assert.True(t, rec.Stopped())
		assert.Equal(t, time.Second, rec.Duration())
		assert.Nil(t, rec.Profile())
	})
}

func TestRecorder_KeepsBindingAcrossModeChanges(t *testing.T) {
	profiler := &mockProfiler{}
	mode, hook := newTestMode(t, profiler)
	mode.Enable(false)
	ctx := clock.Context(context.Background(), clock.NewMock(time.Unix(1, 0)))

	running := []*Recorder{
		NewRecorder(ctx, mode, "/a"),
		NewRecorder(ctx, mode, "/b"),
	}
	for _, rec := range running {
		require.NoError(t, rec.Start())
	}

	mode.Disable()
	late := NewRecorder(ctx, mode, "/late")
	require.NoError(t, late.Start())

	for _, rec := range running {
		require.NoError(t, rec.Stop())
	}
	require.NoError(t, late.Stop())

	assert.Equal(t, []string{"start /a", "start /b", "stop /a", "stop /b"}, profiler.Calls())
	assert.False(t, late.Active())
	assert.Contains(t, messages(hook), "PROF_STOP: /a (time: 0ms)", "in-flight recorders keep their silent flag")
}

func TestRecorder_StopAsync(t *testing.T) {
	t.Run("plain profiler delivers inline", func(t *testing.T) {
		profiler := &mockProfiler{}
		mode, hook := newTestMode(t, profiler)
		mode.Enable(false)
		hook.Reset()

		clck := clock.NewMock(time.Unix(1, 0))
		rec := NewRecorder(clock.Context(context.Background(), clck), mode, "/sync")
		require.NoError(t, rec.Start())
		clck.Add(20 * time.Millisecond)

		var got []profiles.Record
		require.NoError(t, rec.StopAsync(func(record profiles.Record, err error) {
			assert.NoError(t, err)
			got = append(got, record)
		}))

		require.Len(t, got, 1)
		assert.Equal(t, 3, got[0].SampleCount)
		assert.Equal(t, 20*time.Millisecond, got[0].Duration)
		assert.Equal(t, []string{"start /sync", "stop /sync"}, profiler.Calls())
		assert.Equal(t, []string{"PROF_START: /sync", "PROF_STOP: /sync (time: 20ms)"}, messages(hook))
	})

	t.Run("background profiler returns before the data", func(t *testing.T) {
		profiler := &asyncMockProfiler{release: make(chan struct{})}
		mode, hook := newTestMode(t, profiler)
		mode.Enable(false)
		hook.Reset()

		clck := clock.NewMock(time.Unix(1, 0))
		rec := NewRecorder(clock.Context(context.Background(), clck), mode, "/async")
		require.NoError(t, rec.Start())
		clck.Add(40 * time.Millisecond)

		delivered := make(chan profiles.Record, 1)
		require.NoError(t, rec.StopAsync(func(record profiles.Record, err error) {
			assert.NoError(t, err)
			delivered <- record
		}))

		assert.True(t, rec.Stopped())
		assert.Equal(t, 40*time.Millisecond, rec.Duration(), "timing is taken when the request stops")
		assert.Equal(t, []string{"PROF_START: /async", "PROF_STOP: /async (time: 40ms)"}, messages(hook))
		assert.Empty(t, delivered)

		close(profiler.release)
		select {
		case record := <-delivered:
			assert.Equal(t, "/async", record.Name)
			assert.Equal(t, 5, record.SampleCount)
			assert.Equal(t, 40*time.Millisecond, record.Duration)
		case <-time.After(time.Second):
			t.Fatal("profile never delivered")
		}
		assert.Nil(t, rec.Profile())
	})

	t.Run("refused stop does not call done", func(t *testing.T) {
		boom := errors.New("boom")
		profiler := &asyncMockProfiler{mockProfiler: mockProfiler{stopErr: boom}, release: make(chan struct{})}
		mode, hook := newTestMode(t, profiler)
		mode.Enable(false)

		rec := NewRecorder(context.Background(), mode, "/refused")
		require.NoError(t, rec.Start())
		hook.Reset()

		err := rec.StopAsync(func(profiles.Record, error) { t.Error("done must not run") })
		assert.ErrorIs(t, err, boom)
		assert.True(t, rec.Stopped())
		assert.Empty(t, hook.AllEntries())
	})

	t.Run("not running", func(t *testing.T) {
		profiler := &mockProfiler{}
		mode, _ := newTestMode(t, profiler)
		mode.Enable(true)

		rec := NewRecorder(context.Background(), mode, "/idle")
		err := rec.StopAsync(func(profiles.Record, error) { t.Error("done must not run") })
		assert.ErrorIs(t, err, ErrNotRunning)
		assert.Empty(t, profiler.Calls())
	})

	t.Run("inactive", func(t *testing.T) {
		profiler := &mockProfiler{}
		mode, _ := newTestMode(t, profiler)

		rec := NewRecorder(context.Background(), mode, "/off")
		require.NoError(t, rec.Start())
		assert.NoError(t, rec.StopAsync(func(profiles.Record, error) { t.Error("done must not run") }))
		assert.Empty(t, profiler.Calls())
	})
}
