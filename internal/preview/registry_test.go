package preview

import (
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/filestage/internal/staging"
)

func testFile(name, content string) staging.RawFile {
	return staging.RawFile{
		Name:     name,
		Size:     int64(len(content)),
		MimeType: "text/plain",
		Content:  []byte(content),
	}
}

func TestAcquireOpenRelease(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := New(fs)

	h, err := r.Acquire(testFile("notes.txt", "hello"))
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID)
	assert.Equal(t, "/preview/"+h.ID, h.URL)
	assert.Equal(t, 1, r.Live())

	obj, err := r.Open(h.ID)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", obj.Name)
	assert.Equal(t, "text/plain", obj.MimeType)
	assert.Equal(t, int64(5), obj.Size)
	require.NoError(t, obj.File.Close())

	data, err := r.ReadAll(h.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, r.Release(h))
	assert.Equal(t, 0, r.Live())

	_, err = r.Open(h.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := afero.Exists(fs, blobPath(h.ID))
	require.NoError(t, err)
	assert.False(t, exists, "released content must be deleted")
}

func TestReleaseTwice(t *testing.T) {
	r := New(afero.NewMemMapFs())

	h, err := r.Acquire(testFile("a.txt", "a"))
	require.NoError(t, err)

	require.NoError(t, r.Release(h))
	err = r.Release(h)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDistinctHandles(t *testing.T) {
	r := New(afero.NewMemMapFs(), WithURLPrefix("/p/"))

	h1, err := r.Acquire(testFile("same.txt", "one"))
	require.NoError(t, err)
	h2, err := r.Acquire(testFile("same.txt", "two"))
	require.NoError(t, err)

	assert.NotEqual(t, h1.ID, h2.ID)
	assert.True(t, strings.HasPrefix(h1.URL, "/p/"))

	d1, err := r.ReadAll(h1.ID)
	require.NoError(t, err)
	d2, err := r.ReadAll(h2.ID)
	require.NoError(t, err)
	assert.Equal(t, "one", string(d1))
	assert.Equal(t, "two", string(d2))
}

func TestAcquireFailsOnReadOnlyFs(t *testing.T) {
	r := New(afero.NewReadOnlyFs(afero.NewMemMapFs()))

	_, err := r.Acquire(testFile("a.txt", "a"))
	assert.Error(t, err)
	assert.Equal(t, 0, r.Live())
}

func TestClose(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := New(fs)

	for i := 0; i < 3; i++ {
		_, err := r.Acquire(testFile("f.txt", "x"))
		require.NoError(t, err)
	}

	require.NoError(t, r.Close())
	assert.Equal(t, 0, r.Live())

	entries, err := afero.ReadDir(fs, "/")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRegistryWithStore(t *testing.T) {
	r := New(afero.NewMemMapFs())
	s := staging.NewStore(r)

	require.NoError(t, s.Add([]staging.RawFile{
		testFile("a.txt", "a"),
		testFile("b.txt", "b"),
		{Name: "c.zip", Size: 1, MimeType: "application/zip", Content: []byte("c")},
	}))
	assert.Equal(t, 3, r.Live())

	require.NoError(t, s.ReplaceAt(0, testFile("a2.txt", "a2")))
	assert.Equal(t, 3, r.Live())

	require.NoError(t, s.RemoveAt(1))
	assert.Equal(t, 2, r.Live())

	c := staging.NewController(s)
	defer c.Close()
	_, ok := c.Submit()
	require.True(t, ok)
	assert.Equal(t, 0, r.Live())
}

func TestConcurrentAcquireRelease(t *testing.T) {
	r := New(afero.NewMemMapFs())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := r.Acquire(testFile("c.txt", "c"))
			if err != nil {
				t.Error(err)
				return
			}
			if err := r.Release(h); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Live())
}

func TestNewFsMemory(t *testing.T) {
	fs, err := NewFs("")
	require.NoError(t, err)
	_, ok := fs.(*afero.MemMapFs)
	assert.True(t, ok)
}

func TestNewFsDir(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFs(dir)
	require.NoError(t, err)

	r := New(fs)
	h, err := r.Acquire(testFile("a.txt", "on disk"))
	require.NoError(t, err)

	exists, err := afero.Exists(afero.NewOsFs(), dir+"/"+h.ID+".blob")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, r.Release(h))
}
