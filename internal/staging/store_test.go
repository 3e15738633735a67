package staging

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingPreviewer records every acquire and release per handle.
type countingPreviewer struct {
	mu       sync.Mutex
	next     int
	acquired map[string]int
	released map[string]int
	failOn   string // Acquire fails for a file with this name
}

func newCountingPreviewer() *countingPreviewer {
	return &countingPreviewer{
		acquired: make(map[string]int),
		released: make(map[string]int),
	}
}

func (p *countingPreviewer) Acquire(f RawFile) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failOn != "" && f.Name == p.failOn {
		return Handle{}, errors.New("disk full")
	}
	p.next++
	id := fmt.Sprintf("h%d", p.next)
	p.acquired[id]++
	return Handle{ID: id, URL: "/preview/" + id}, nil
}

func (p *countingPreviewer) Release(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released[h.ID]++
	return nil
}

// live returns the number of acquired handles not yet released.
func (p *countingPreviewer) live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for id := range p.acquired {
		if p.released[id] == 0 {
			n++
		}
	}
	return n
}

func (p *countingPreviewer) acquires() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}

func (p *countingPreviewer) releaseCount(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released[id]
}

func pngFile(name string) RawFile {
	return RawFile{Name: name, Size: 1024, MimeType: "image/png"}
}

func pngFiles(prefix string, n int) []RawFile {
	files := make([]RawFile, n)
	for i := range files {
		files[i] = pngFile(fmt.Sprintf("%s%d.png", prefix, i))
	}
	return files
}

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestStoreAdd(t *testing.T) {
	p := newCountingPreviewer()
	s := NewStore(p)

	err := s.Add([]RawFile{
		pngFile("a.png"),
		{Name: "b.zip", Size: 10, MimeType: "application/zip"},
		{Name: "c.png", Size: 11 * 1024 * 1024, MimeType: "image/png"},
	})
	require.NoError(t, err)

	snap := s.Snapshot()
	require.Len(t, snap.Entries, 3)
	assert.Equal(t, []string{"a.png", "b.zip", "c.png"}, names(snap.Entries))
	assert.True(t, snap.Entries[0].Valid)
	assert.Equal(t, ReasonUnsupportedType, snap.Entries[1].Reason)
	assert.Equal(t, ReasonTooLarge, snap.Entries[2].Reason)
	assert.Equal(t, 1, snap.ValidCount)
	assert.Equal(t, DefaultMaxFiles, snap.MaxFiles)

	// Invalid entries still get a handle.
	assert.Equal(t, 3, p.live())
	for _, e := range snap.Entries {
		assert.False(t, e.Preview.IsZero(), "entry %s has no preview", e.Name)
		assert.NotEmpty(t, e.ID)
	}
}

func TestStoreAddEmptyBatch(t *testing.T) {
	p := newCountingPreviewer()
	s := NewStore(p)

	require.NoError(t, s.Add(nil))
	assert.Equal(t, uint64(0), s.Snapshot().Version)
	assert.Equal(t, 0, p.acquires())
}

func TestStoreAddLimitExceeded(t *testing.T) {
	p := newCountingPreviewer()
	s := NewStore(p)

	require.NoError(t, s.Add(pngFiles("first", 5)))
	before := s.Snapshot()

	err := s.Add(pngFiles("second", 6))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLimitExceeded)

	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 10, limitErr.Max)
	assert.Equal(t, 5, limitErr.Staged)
	assert.Equal(t, 6, limitErr.Adding)

	after := s.Snapshot()
	assert.Equal(t, before, after, "rejected batch must not change the store")
	assert.Equal(t, 5, p.live())
	assert.Equal(t, 5, p.acquires(), "no handle acquired for the rejected batch")
}

func TestStoreAddUpToCap(t *testing.T) {
	s := NewStore(newCountingPreviewer())

	require.NoError(t, s.Add(pngFiles("a", 4)))
	require.NoError(t, s.Add(pngFiles("b", 6)))
	assert.Equal(t, 10, s.Len())

	err := s.Add(pngFiles("c", 1))
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.Equal(t, 10, s.Len())
}

func TestStoreAddRollsBackOnAcquireFailure(t *testing.T) {
	p := newCountingPreviewer()
	p.failOn = "bad.png"
	s := NewStore(p)

	err := s.Add([]RawFile{pngFile("ok1.png"), pngFile("ok2.png"), pngFile("bad.png")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPreviewUnavailable)

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, p.live())
	assert.Equal(t, 1, p.releaseCount("h1"))
	assert.Equal(t, 1, p.releaseCount("h2"))
}

func TestStoreReplaceAt(t *testing.T) {
	p := newCountingPreviewer()
	s := NewStore(p)
	require.NoError(t, s.Add(pngFiles("f", 4)))

	old := s.Snapshot().Entries[2]

	require.NoError(t, s.ReplaceAt(2, RawFile{Name: "new.pdf", Size: 10, MimeType: "application/pdf"}))

	snap := s.Snapshot()
	assert.Equal(t, []string{"f0.png", "f1.png", "new.pdf", "f3.png"}, names(snap.Entries))
	assert.Equal(t, 1, p.releaseCount(old.Preview.ID), "old handle released exactly once")
	assert.NotEqual(t, old.Preview.ID, snap.Entries[2].Preview.ID)
	assert.NotEqual(t, old.ID, snap.Entries[2].ID)
	assert.Equal(t, 4, p.live())
}

func TestStoreReplaceAtOutOfRange(t *testing.T) {
	p := newCountingPreviewer()
	s := NewStore(p)
	require.NoError(t, s.Add(pngFiles("f", 2)))
	before := s.Snapshot()

	for _, idx := range []int{-1, 2, 99} {
		err := s.ReplaceAt(idx, pngFile("x.png"))
		assert.ErrorIs(t, err, ErrIndexOutOfRange, "index %d", idx)

		var indexErr *IndexError
		require.ErrorAs(t, err, &indexErr)
		assert.Equal(t, idx, indexErr.Index)
		assert.Equal(t, 2, indexErr.Len)
	}

	assert.Equal(t, before, s.Snapshot())
	assert.Equal(t, 2, p.acquires())
}

func TestStoreReplaceAtAcquireFailureKeepsOldEntry(t *testing.T) {
	p := newCountingPreviewer()
	s := NewStore(p)
	require.NoError(t, s.Add(pngFiles("f", 2)))
	before := s.Snapshot()

	p.failOn = "bad.png"
	err := s.ReplaceAt(0, pngFile("bad.png"))
	assert.ErrorIs(t, err, ErrPreviewUnavailable)

	assert.Equal(t, before, s.Snapshot())
	assert.Equal(t, 2, p.live())
}

func TestStoreRemoveAt(t *testing.T) {
	p := newCountingPreviewer()
	s := NewStore(p)
	require.NoError(t, s.Add([]RawFile{pngFile("a.png"), pngFile("b.png"), pngFile("c.png")}))

	removed := s.Snapshot().Entries[1]
	require.NoError(t, s.RemoveAt(1))

	assert.Equal(t, []string{"a.png", "c.png"}, names(s.Snapshot().Entries))
	assert.Equal(t, 1, p.releaseCount(removed.Preview.ID))
	assert.Equal(t, 2, p.live())

	assert.ErrorIs(t, s.RemoveAt(2), ErrIndexOutOfRange)
	assert.ErrorIs(t, s.RemoveAt(-1), ErrIndexOutOfRange)
	assert.Equal(t, 2, s.Len())
}

func TestStoreClear(t *testing.T) {
	p := newCountingPreviewer()
	s := NewStore(p)
	require.NoError(t, s.Add(pngFiles("f", 3)))

	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, p.live())

	// Clearing an empty store releases nothing and does not bump the version.
	v := s.Snapshot().Version
	s.Clear()
	assert.Equal(t, v, s.Snapshot().Version)
	for id := range p.acquired {
		assert.Equal(t, 1, p.releaseCount(id), "handle %s", id)
	}
}

func TestStoreValidCount(t *testing.T) {
	s := NewStore(newCountingPreviewer())
	require.NoError(t, s.Add([]RawFile{
		pngFile("a.png"),
		{Name: "b.exe", Size: 1, MimeType: "application/x-msdownload"},
		pngFile("c.png"),
	}))
	assert.Equal(t, 2, s.ValidCount())

	require.NoError(t, s.RemoveAt(0))
	assert.Equal(t, 1, s.ValidCount())
}

func TestStoreSnapshotIsCopy(t *testing.T) {
	s := NewStore(newCountingPreviewer())
	require.NoError(t, s.Add(pngFiles("f", 2)))

	snap := s.Snapshot()
	snap.Entries[0].Name = "mutated"

	assert.Equal(t, "f0.png", s.Snapshot().Entries[0].Name)
}

func TestStoreSubscribe(t *testing.T) {
	s := NewStore(newCountingPreviewer())

	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	initial := <-ch
	assert.Empty(t, initial.Entries)

	require.NoError(t, s.Add(pngFiles("f", 2)))
	got := <-ch
	assert.Len(t, got.Entries, 2)
	assert.Greater(t, got.Version, initial.Version)

	// A rejected batch publishes nothing.
	_ = s.Add(pngFiles("g", 20))
	select {
	case snap := <-ch:
		t.Fatalf("unexpected snapshot after rejected batch: %+v", snap)
	default:
	}
}

func TestStoreSubscribeLatestWins(t *testing.T) {
	s := NewStore(newCountingPreviewer())

	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()
	<-ch

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Add(pngFiles(fmt.Sprintf("b%d-", i), 1)))
	}

	got := <-ch
	assert.Len(t, got.Entries, 3, "slow reader sees only the latest state")
}

func TestStoreClose(t *testing.T) {
	p := newCountingPreviewer()
	s := NewStore(p)
	require.NoError(t, s.Add(pngFiles("f", 3)))

	ch, unsubscribe := s.Subscribe()
	<-ch

	s.Close()
	assert.Equal(t, 0, p.live())

	// Drain the final empty snapshot, then the channel must be closed.
	for range ch {
	}
	unsubscribe()

	late, _ := s.Subscribe()
	_, ok := <-late
	assert.False(t, ok, "subscribe after close returns a closed channel")
}

func TestStoreWithMaxFiles(t *testing.T) {
	s := NewStore(newCountingPreviewer(), WithMaxFiles(2))

	require.NoError(t, s.Add(pngFiles("f", 2)))
	assert.ErrorIs(t, s.Add(pngFiles("g", 1)), ErrLimitExceeded)
	assert.Equal(t, 2, s.MaxFiles())
}

func TestStoreConcurrentOperations(t *testing.T) {
	p := newCountingPreviewer()
	s := NewStore(p)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Add(pngFiles(fmt.Sprintf("w%d-", i), 1))
			_ = s.RemoveAt(0)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, s.Len(), DefaultMaxFiles)
	assert.Equal(t, s.Len(), p.live())
}
