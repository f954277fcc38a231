package storage

import (
	"bytes"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/danmuck/devctl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fragment struct {
	kind string
	data string
}

type recordSink struct {
	frags []fragment
}

func (r *recordSink) YieldString(s string) { r.frags = append(r.frags, fragment{"str", s}) }
func (r *recordSink) YieldBuffer(b []byte) { r.frags = append(r.frags, fragment{"buf", string(b)}) }
func (r *recordSink) YieldError(t string)  { r.frags = append(r.frags, fragment{"err", t}) }

func (r *recordSink) errors() []string {
	var out []string
	for _, f := range r.frags {
		if f.kind == "err" {
			out = append(out, f.data)
		}
	}
	return out
}

func (r *recordSink) text() string {
	var b strings.Builder
	for _, f := range r.frags {
		if f.kind != "err" {
			b.WriteString(f.data)
		}
	}
	return b.String()
}

func (r *recordSink) buffers() []string {
	var out []string
	for _, f := range r.frags {
		if f.kind == "buf" {
			out = append(out, f.data)
		}
	}
	return out
}

func (r *recordSink) reset() { r.frags = nil }

type faultFS struct {
	OSFS
	renameErr   error
	capacity    Capacity
	capacityErr error
}

func (f faultFS) Rename(from, to string) error {
	if f.renameErr != nil {
		return f.renameErr
	}
	return f.OSFS.Rename(from, to)
}

func (f faultFS) Capacity() (Capacity, error) {
	return f.capacity, f.capacityErr
}

func newTestSession(t *testing.T, fsys FS) (*Session, *recordSink, string) {
	t.Helper()
	root := filepath.ToSlash(t.TempDir())
	if fsys == nil {
		fsys = NewOSFS(root)
	}
	sink := &recordSink{}
	return NewSession("test", root, fsys, sink), sink, root
}

func pushFile(t *testing.T, s *Session, name string, data []byte, chunk int) {
	t.Helper()
	s.StartFilePush()
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		require.NoError(t, s.AddFileChunk(data[off:end]))
	}
	s.CommitFilePush(name)
}

func TestPushPullRoundTrip(t *testing.T) {
	testlog.Start(t)
	for _, size := range []int{0, 1, 3, 1023, 1024, 2047} {
		s, sink, _ := newTestSession(t, nil)
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i*7 + 3)
		}

		pushFile(t, s, "code/blob.bin", data, 500)
		require.Empty(t, sink.errors(), "size=%d", size)
		require.Equal(t, "OK\n", sink.text(), "size=%d", size)

		sink.reset()
		s.Pull("code/blob.bin")
		require.Empty(t, sink.errors(), "size=%d", size)

		bufs := sink.buffers()
		for i, b := range bufs {
			if i < len(bufs)-1 {
				assert.NotContains(t, b, "=", "size=%d chunk=%d", size, i)
			}
		}
		out := sink.text()
		require.True(t, strings.HasSuffix(out, "\n"))
		decoded, err := base64.StdEncoding.DecodeString(strings.Join(bufs, ""))
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, decoded), "size=%d", size)
	}
}

func TestPullEncodesFixedChunks(t *testing.T) {
	testlog.Start(t)
	s, sink, root := newTestSession(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.bin"), make([]byte, 2*PullChunkSize+1), 0o644))

	s.Pull("f.bin")
	bufs := sink.buffers()
	require.Len(t, bufs, 3)
	assert.Len(t, bufs[0], 1364)
	assert.Len(t, bufs[1], 1364)
	assert.Equal(t, "AA==", bufs[2])
}

func TestPullMissingFileEmitsSingleError(t *testing.T) {
	testlog.Start(t)
	s, sink, _ := newTestSession(t, nil)
	s.Pull("missing.txt")
	require.Len(t, sink.frags, 1)
	assert.Equal(t, "err", sink.frags[0].kind)
	assert.Equal(t, "no such file or directory", sink.frags[0].data)
}

func TestPullAbsoluteNameStaysUnderRoot(t *testing.T) {
	testlog.Start(t)
	s, sink, root := newTestSession(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hi"), 0o644))
	s.Pull("/a.txt")
	assert.Empty(t, sink.errors())
	assert.Equal(t, "aGk=\n", sink.text())
}

func TestRemoveMissingStillOK(t *testing.T) {
	testlog.Start(t)
	s, sink, _ := newTestSession(t, nil)
	s.Remove("nope.txt")
	assert.Empty(t, sink.errors())
	assert.Equal(t, "OK\n", sink.text())
}

func TestRemoveFailureSuppressesOK(t *testing.T) {
	testlog.Start(t)
	s, sink, root := newTestSession(t, nil)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir", "child"), 0o755))
	s.Remove("dir")
	assert.Len(t, sink.errors(), 1)
	assert.Equal(t, "", sink.text())
	_, err := os.Stat(filepath.Join(root, "dir"))
	assert.NoError(t, err)
}

func TestRemoveDeletesFile(t *testing.T) {
	testlog.Start(t)
	s, sink, root := newTestSession(t, nil)
	p := filepath.Join(root, "x.txt")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	s.Remove("x.txt")
	assert.Equal(t, "OK\n", sink.text())
	_, err := os.Stat(p)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestListHidesReservedEntries(t *testing.T) {
	testlog.Start(t)
	s, sink, root := newTestSession(t, nil)
	for _, name := range []string{"a.txt", "__tmp.txt", "__hidden", "_single.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(root, "code"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "__cache"), 0o755))

	s.List("")
	assert.Empty(t, sink.errors())
	out := sink.text()
	require.True(t, strings.HasSuffix(out, "\n\n"))

	lines := strings.Split(strings.TrimSuffix(out, "\n\n"), "\n")
	sort.Strings(lines)
	assert.Equal(t, []string{"D /code", "F /_single.txt", "F /a.txt"}, lines)
}

func TestListSubdirectoryIsRootRelative(t *testing.T) {
	testlog.Start(t)
	s, sink, root := newTestSession(t, nil)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "code", "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "code", "index.js"), nil, 0o644))

	s.List("code")
	lines := strings.Split(strings.TrimSuffix(sink.text(), "\n\n"), "\n")
	sort.Strings(lines)
	assert.Equal(t, []string{"D code/lib", "F code/index.js"}, lines)
}

func TestListMissingDirectoryReportsErrorAndTerminates(t *testing.T) {
	testlog.Start(t)
	s, sink, _ := newTestSession(t, nil)
	s.List("absent")
	require.Len(t, sink.frags, 2)
	assert.Equal(t, "err", sink.frags[0].kind)
	assert.Equal(t, fragment{"str", "\n"}, sink.frags[1])
}

func TestPathEscapeRejected(t *testing.T) {
	testlog.Start(t)
	s, sink, _ := newTestSession(t, nil)
	s.Pull("../outside")
	errs := sink.errors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "escapes")
}

func TestSecondPushDiscardsFirst(t *testing.T) {
	testlog.Start(t)
	s, sink, root := newTestSession(t, nil)

	s.StartFilePush()
	require.NoError(t, s.AddFileChunk([]byte("first upload")))
	s.StartFilePush()
	require.NoError(t, s.AddFileChunk([]byte("second")))
	s.CommitFilePush("out.txt")
	assert.Empty(t, sink.errors())

	got, err := os.ReadFile(filepath.Join(root, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	s.StartFilePush()
	require.NoError(t, s.AddFileChunk([]byte("abandoned")))
	s.StartFilePush()
	s.Close()
	_, err = os.Stat(filepath.Join(root, "abandoned.txt"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = os.Stat(filepath.Join(root, WorkingName))
	assert.True(t, errors.Is(err, os.ErrNotExist), "discarded upload is removed")
}

func TestCommitAfterDiscardedPushCreatesNothing(t *testing.T) {
	testlog.Start(t)
	root := filepath.ToSlash(t.TempDir())
	fsys := NewOSFS(root)

	first := NewSession("first", root, fsys, &recordSink{})
	first.StartFilePush()
	require.NoError(t, first.AddFileChunk([]byte("abandoned upload")))
	first.Close()

	sink := &recordSink{}
	next := NewSession("next", root, fsys, sink)
	next.CommitFilePush("main.js")

	errs := sink.errors()
	require.Len(t, errs, 1)
	assert.True(t, strings.HasPrefix(errs[0], "Cannot finalize push"))
	assert.Equal(t, "", sink.text())
	_, err := os.Stat(filepath.Join(root, "main.js"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestCommitWithoutPushIgnoresStaleWorkingFile(t *testing.T) {
	testlog.Start(t)
	s, sink, root := newTestSession(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(root, WorkingName), []byte("stale"), 0o644))

	s.CommitFilePush("main.js")
	require.Len(t, sink.errors(), 1)
	_, err := os.Stat(filepath.Join(root, "main.js"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestChunkWithoutPushIsContractViolation(t *testing.T) {
	testlog.Start(t)
	s, sink, _ := newTestSession(t, nil)
	err := s.AddFileChunk([]byte("x"))
	assert.ErrorIs(t, err, ErrNoPendingPush)
	assert.Empty(t, sink.frags)
}

func TestCommitRenameFailureLeavesNoPartialDestination(t *testing.T) {
	testlog.Start(t)
	root := filepath.ToSlash(t.TempDir())
	fsys := faultFS{OSFS: NewOSFS(root), renameErr: &os.LinkError{Op: "rename", Err: errors.New("device busy")}}
	sink := &recordSink{}
	s := NewSession("test", root, fsys, sink)

	dest := filepath.Join(root, "main.js")
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0o644))

	s.StartFilePush()
	require.NoError(t, s.AddFileChunk([]byte("new contents")))
	s.CommitFilePush("main.js")

	assert.Equal(t, []string{"Cannot finalize push: device busy"}, sink.errors())
	assert.Equal(t, "", sink.text())
	got, err := os.ReadFile(dest)
	if err == nil {
		assert.Equal(t, "old", string(got))
	} else {
		assert.True(t, errors.Is(err, os.ErrNotExist))
	}
	assert.False(t, s.PushPending())
}

func TestCommitWithoutWorkingFileFails(t *testing.T) {
	testlog.Start(t)
	s, sink, root := newTestSession(t, nil)
	s.CommitFilePush("ghost.txt")
	errs := sink.errors()
	require.Len(t, errs, 1)
	assert.True(t, strings.HasPrefix(errs[0], "Cannot finalize push"))
	_, err := os.Stat(filepath.Join(root, "ghost.txt"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestCommitCreatesIntermediateDirectories(t *testing.T) {
	testlog.Start(t)
	s, sink, root := newTestSession(t, nil)
	pushFile(t, s, "/a/b/c.txt", []byte("deep"), 2)
	assert.Equal(t, "OK\n", sink.text())
	got, err := os.ReadFile(filepath.Join(root, "a", "b", "c.txt"))
	require.NoError(t, err)
	assert.Equal(t, "deep", string(got))
}

func TestExitMarksClosed(t *testing.T) {
	testlog.Start(t)
	s, sink, _ := newTestSession(t, nil)
	assert.False(t, s.Closed())
	s.Exit()
	assert.True(t, s.Closed())
	assert.Equal(t, "OK\n", sink.text())
}

func TestStatsComputesBytes(t *testing.T) {
	testlog.Start(t)
	fsys := faultFS{capacity: Capacity{FreeClusters: 10, TotalClusters: 100, SectorsPerCluster: 4, SectorSize: 512}}
	s, sink, _ := newTestSession(t, fsys)
	s.Stats()
	assert.Equal(t, "20480 204800\n", sink.text())
}

func TestStatsFailureEmitsSingleError(t *testing.T) {
	testlog.Start(t)
	fsys := faultFS{capacityErr: ErrCapacityUnsupported}
	s, sink, _ := newTestSession(t, fsys)
	s.Stats()
	require.Len(t, sink.frags, 1)
	assert.Equal(t, fragment{"err", "Cannot determine free space"}, sink.frags[0])
}
