package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/upkeep/pkg/executor/executortest"
)

const selections = "bash\t\t\t\t\t\tinstall\ncoreutils\t\t\t\t\tinstall\n"

func sourceTree(t *testing.T) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), "etc")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "apt", "sources.list.d"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "hostname"), []byte("box\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "apt", "sources.list"), []byte("deb http://archive.ubuntu.com/ubuntu noble main\n"), 0o644))
	require.NoError(t, os.Symlink("hostname", filepath.Join(src, "hostname.link")))
	return src
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func archiveNames(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	return names
}

type fakeMirror struct {
	uploaded []string
	pruned   int
	err      error
}

func (f *fakeMirror) Name() string { return "fake" }

func (f *fakeMirror) Upload(_ context.Context, a *Artifact) error {
	if f.err != nil {
		return f.err
	}
	f.uploaded = append(f.uploaded, a.Name)
	return nil
}

func (f *fakeMirror) Prune(_ context.Context, keep int) error {
	f.pruned = keep
	return nil
}

func TestCreate(t *testing.T) {
	root := t.TempDir()
	src := sourceTree(t)
	runner := executortest.New().OnStdout("dpkg --get-selections", selections)
	at := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)

	m := NewManager(root, runner, nil, WithSources(src), WithClock(fixedClock(at)))
	res, err := m.Create(context.Background())
	require.NoError(t, err)

	a := res.Artifact
	assert.Equal(t, "20240501-030000", a.Name)
	assert.Equal(t, []string{EtcArchive, PackagesList}, a.Files)
	assert.True(t, a.Created.Equal(at))
	assert.Positive(t, a.Size)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 2, res.Archive.Files)
	assert.Equal(t, 1, res.Archive.Links)

	list, err := os.ReadFile(filepath.Join(a.Dir, PackagesList))
	require.NoError(t, err)
	assert.Equal(t, selections, string(list))

	names := archiveNames(t, filepath.Join(a.Dir, EtcArchive))
	prefix := filepath.ToSlash(src)[1:]
	assert.Contains(t, names, prefix+"/hostname")
	assert.Contains(t, names, prefix+"/apt/sources.list")
	assert.Contains(t, names, prefix+"/hostname.link")
	assert.Contains(t, names, prefix+"/apt/sources.list.d/")

	assert.False(t, runner.Ran("tar"), "archive is written in-process")
	assert.Empty(t, runner.MutatingCalls())
}

func TestCreateSameSecond(t *testing.T) {
	root := t.TempDir()
	runner := executortest.New()
	at := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
	m := NewManager(root, runner, nil, WithSources(sourceTree(t)), WithClock(fixedClock(at)))

	first, err := m.Create(context.Background())
	require.NoError(t, err)
	second, err := m.Create(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "20240501-030000", first.Artifact.Name)
	assert.Equal(t, "20240501-030000-1", second.Artifact.Name)
}

func TestCreatePackageListFailure(t *testing.T) {
	root := t.TempDir()
	runner := executortest.New().OnExit("dpkg --get-selections", 2, "dpkg: error")
	m := NewManager(root, runner, nil, WithSources(sourceTree(t)))

	_, err := m.Create(context.Background())
	require.Error(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial backup directory is removed")
}

func TestCreateMissingSource(t *testing.T) {
	m := NewManager(t.TempDir(), executortest.New(), nil, WithSources("/does/not/exist"))
	_, err := m.Create(context.Background())
	require.Error(t, err)
}

func TestRetention(t *testing.T) {
	root := t.TempDir()
	src := sourceTree(t)
	runner := executortest.New()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	// An unrelated directory under the root is never pruned.
	require.NoError(t, os.Mkdir(filepath.Join(root, "keep-me"), 0o755))

	var last *Result
	for i := 0; i < 7; i++ {
		m := NewManager(root, runner, nil, WithSources(src), WithClock(fixedClock(base.Add(time.Duration(i)*time.Hour))))
		res, err := m.Create(context.Background())
		require.NoError(t, err)
		last = res
	}
	assert.Equal(t, []string{"20240501-010000"}, last.Pruned)

	list, err := NewManager(root, runner, nil).List()
	require.NoError(t, err)
	require.Len(t, list, DefaultKeep)
	assert.Equal(t, "20240501-060000", list[0].Name)
	assert.Equal(t, "20240501-020000", list[DefaultKeep-1].Name)

	_, err = os.Stat(filepath.Join(root, "keep-me"))
	assert.NoError(t, err)
}

func TestMirror(t *testing.T) {
	runner := executortest.New()
	mirror := &fakeMirror{}
	m := NewManager(t.TempDir(), runner, nil, WithSources(sourceTree(t)), WithMirror(mirror), WithKeep(3))

	res, err := m.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{res.Artifact.Name}, mirror.uploaded)
	assert.Equal(t, 3, mirror.pruned)
	assert.Empty(t, res.Warnings)
}

func TestMirrorFailureIsWarning(t *testing.T) {
	mirror := &fakeMirror{err: errors.New("connection refused")}
	m := NewManager(t.TempDir(), executortest.New(), nil, WithSources(sourceTree(t)), WithMirror(mirror))

	res, err := m.Create(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "fake mirror upload failed")
}

func TestListEmptyRoot(t *testing.T) {
	list, err := NewManager(filepath.Join(t.TempDir(), "missing"), executortest.New(), nil).List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestExpiredNames(t *testing.T) {
	names := []string{"20240503-000000", "junk", "20240501-000000", "20240502-000000", "20240504-000000"}

	expired := ExpiredNames(names, 2)
	sort.Strings(expired)
	assert.Equal(t, []string{"20240501-000000", "20240502-000000"}, expired)
	assert.Nil(t, ExpiredNames(names, 10))
}

func TestWriteArchiveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WriteArchive(ctx, filepath.Join(t.TempDir(), "x.tar.gz"), sourceTree(t))
	assert.ErrorIs(t, err, context.Canceled)
}
