package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/filestage/internal/preview"
	"github.com/JonMunkholm/filestage/internal/staging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorderFunc func(staging.Submission)

func (f recorderFunc) Record(sub staging.Submission) { f(sub) }

func newTestManager(t *testing.T, opts ...Option) (*Manager, *preview.Registry, *fakeClock) {
	t.Helper()
	reg := preview.New(afero.NewMemMapFs())
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	m := NewManager(reg, Config{IdleTimeout: 10 * time.Minute}, opts...)
	t.Cleanup(m.Close)
	return m, reg, clock
}

func png(name string) staging.RawFile {
	return staging.RawFile{Name: name, Size: 3, MimeType: "image/png", Content: []byte("png")}
}

func TestOpenCreatesAndReuses(t *testing.T) {
	m, _, _ := newTestManager(t)

	w, created := m.Open("")
	require.True(t, created)
	require.NotEmpty(t, w.ID)

	again, created := m.Open(w.ID)
	assert.False(t, created)
	assert.Same(t, w, again)

	other, created := m.Open("unknown-id")
	assert.True(t, created)
	assert.NotEqual(t, "unknown-id", other.ID, "unknown ids are never adopted")
	assert.Equal(t, 2, m.Count())
}

func TestWorkspacesAreIsolated(t *testing.T) {
	m, reg, _ := newTestManager(t)

	a, _ := m.Open("")
	b, _ := m.Open("")

	require.NoError(t, a.Add([]staging.RawFile{png("a.png")}))
	assert.Equal(t, 1, a.Store.Len())
	assert.Equal(t, 0, b.Store.Len())
	assert.Equal(t, 1, reg.Live())
}

func TestRemoveReleasesHandles(t *testing.T) {
	m, reg, _ := newTestManager(t)

	w, _ := m.Open("")
	require.NoError(t, w.Add([]staging.RawFile{png("a.png"), png("b.png")}))
	require.Equal(t, 2, reg.Live())

	assert.True(t, m.Remove(w.ID))
	assert.Equal(t, 0, reg.Live())
	assert.False(t, m.Remove(w.ID))

	_, ok := m.Get(w.ID)
	assert.False(t, ok)
}

func TestReapIdle(t *testing.T) {
	m, reg, clock := newTestManager(t)

	idle, _ := m.Open("")
	require.NoError(t, idle.Add([]staging.RawFile{png("a.png")}))

	clock.Advance(6 * time.Minute)
	active, _ := m.Open("")
	require.NoError(t, active.Add([]staging.RawFile{png("b.png")}))

	clock.Advance(6 * time.Minute)

	assert.Equal(t, 1, m.Reap())
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, 1, reg.Live())

	_, ok := m.Get(idle.ID)
	assert.False(t, ok)
	_, ok = m.Get(active.ID)
	assert.True(t, ok)
}

func TestReapSkipsWatched(t *testing.T) {
	m, _, clock := newTestManager(t)

	w, _ := m.Open("")
	_, stop := w.Watch()
	defer stop()

	clock.Advance(time.Hour)
	assert.Equal(t, 0, m.Reap())

	stop()
	assert.Equal(t, 1, m.Reap())
}

func TestReapCancelsNoticeExpiry(t *testing.T) {
	m, _, clock := newTestManager(t)

	w, _ := m.Open("")
	require.NoError(t, w.Add([]staging.RawFile{png("a.png")}))
	_, ok := w.Controller.Submit()
	require.True(t, ok)

	clock.Advance(time.Hour)
	require.Equal(t, 1, m.Reap())

	_, active := w.Controller.Notice()
	assert.False(t, active)
}

func TestStartReaper(t *testing.T) {
	m, _, clock := newTestManager(t)

	_, _ = m.Open("")
	clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.StartReaper(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return m.Count() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after cancel")
	}
}

func TestCloseTearsDownAll(t *testing.T) {
	reg := preview.New(afero.NewMemMapFs())
	m := NewManager(reg, Config{})

	for i := 0; i < 3; i++ {
		w, _ := m.Open("")
		require.NoError(t, w.Add([]staging.RawFile{png("a.png")}))
	}
	require.Equal(t, 3, reg.Live())

	m.Close()
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, 0, reg.Live())
}

func TestSubmissionsCarrySessionID(t *testing.T) {
	var mu sync.Mutex
	var got []staging.Submission
	rec := recorderFunc(func(sub staging.Submission) {
		mu.Lock()
		got = append(got, sub)
		mu.Unlock()
	})

	m, _, _ := newTestManager(t, WithRecorder(rec))
	w, _ := m.Open("")
	require.NoError(t, w.Add([]staging.RawFile{png("a.png")}))
	_, ok := w.Controller.Submit()
	require.True(t, ok)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, w.ID, got[0].SessionID)
}

func TestConfigDefaults(t *testing.T) {
	m := NewManager(preview.New(afero.NewMemMapFs()), Config{})
	defer m.Close()

	w, _ := m.Open("")
	assert.Equal(t, staging.DefaultMaxFiles, w.Store.MaxFiles())
	assert.Equal(t, staging.DefaultMaxFileSize, w.Store.Rules().MaxSize())
}
