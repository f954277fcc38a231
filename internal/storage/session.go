package storage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/danmuck/devctl/internal/observability"
	"github.com/rs/zerolog/log"
)

const (
	// PullChunkSize is the largest multiple of 3 within the 1 KiB working
	// buffer, so only the final chunk of a pull can carry base64 padding.
	PullChunkSize = 1023

	// WorkingName stages an in-progress upload under the storage root.
	WorkingName = "__tmp.txt"

	// HiddenPrefix marks entries excluded from listings.
	HiddenPrefix = "__"
)

var (
	ErrNoPendingPush = errors.New("storage: chunk without pending push")
	ErrPathEscapes   = errors.New("storage: path escapes storage root")
)

// Session executes storage commands for one connection.
type Session struct {
	id      string
	root    string
	fs      FS
	sink    Sink
	pending io.WriteCloser
	pushed  int
	closed  bool
}

// NewSession binds a session to root, which must be an absolute slash path.
func NewSession(id, root string, fsys FS, sink Sink) *Session {
	root = strings.TrimRight(root, "/")
	return &Session{id: id, root: root, fs: fsys, sink: sink}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Root() string {
	return s.root
}

// Closed reports whether exit was requested; the transport ends the session
// after the current response is sent.
func (s *Session) Closed() bool {
	return s.closed
}

// PushPending reports whether an upload handle is open.
func (s *Session) PushPending() bool {
	return s.pending != nil
}

// List emits one line per visible entry directly under prefix, then a blank line.
func (s *Session) List(prefix string) {
	dir, err := s.resolve(prefix)
	if err != nil {
		s.fail("list", err.Error())
		s.sink.YieldString("\n")
		return
	}

	ok := true
	s.fs.ListDirectory(dir,
		func(e Entry) {
			if strings.HasPrefix(e.Name, HiddenPrefix) {
				return
			}
			s.sink.YieldString(e.Kind.Marker())
			s.sink.YieldString(" " + s.relative(e.Path) + "/" + e.Name + "\n")
		},
		func(text string) {
			ok = false
			s.fail("list", text)
		},
	)
	s.sink.YieldString("\n")
	observability.RecordStorageCommand("list", ok)
}

// Pull streams filename as independently base64-encoded chunks followed by a newline.
func (s *Session) Pull(filename string) {
	p, err := s.resolve(filename)
	if err != nil {
		s.fail("pull", err.Error())
		return
	}
	f, err := s.fs.Open(p)
	if err != nil {
		s.fail("pull", errnoText(err))
		return
	}
	defer f.Close()

	enc := base64.StdEncoding
	buf := make([]byte, PullChunkSize)
	out := make([]byte, enc.EncodedLen(PullChunkSize))
	total := 0
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			m := enc.EncodedLen(n)
			enc.Encode(out[:m], buf[:n])
			s.sink.YieldBuffer(out[:m])
			total += n
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			s.fail("pull", errnoText(err))
			return
		}
	}
	s.sink.YieldString("\n")
	observability.RecordStorageBytes("out", total)
	observability.RecordStorageCommand("pull", true)
}

// Remove deletes filename. A file that is already absent counts as removed;
// any other failure reports the error without the OK line.
func (s *Session) Remove(filename string) {
	p, err := s.resolve(filename)
	if err != nil {
		s.fail("remove", err.Error())
		return
	}
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.fail("remove", errnoText(err))
		return
	}
	s.sink.YieldString("OK\n")
	observability.RecordStorageCommand("remove", true)
}

// StartFilePush opens the working file, discarding any upload in progress.
func (s *Session) StartFilePush() {
	s.discardPending()
	w, err := s.fs.Create(s.workingPath())
	if err != nil {
		s.fail("push", errnoText(err))
		return
	}
	s.pending = w
	s.pushed = 0
	observability.RecordStorageCommand("push", true)
}

// AddFileChunk appends b to the working file. Calling it without a pending
// push is a caller bug and returns ErrNoPendingPush without touching the sink.
func (s *Session) AddFileChunk(b []byte) error {
	if s.pending == nil {
		return ErrNoPendingPush
	}
	n, err := s.pending.Write(b)
	s.pushed += n
	if err == nil && n < len(b) {
		err = io.ErrShortWrite
	}
	if err != nil {
		s.fail("chunk", errnoText(err))
		return nil
	}
	observability.RecordStorageBytes("in", n)
	return nil
}

// CommitFilePush closes the working file and renames it onto filename. The
// destination only ever changes through the final rename, and only data
// from the push still pending in this session is ever committed.
func (s *Session) CommitFilePush(filename string) {
	if s.pending == nil {
		s.fail("commit", "Cannot finalize push: no pending push")
		return
	}
	if err := s.pending.Close(); err != nil {
		log.Warn().Str("session", s.id).Err(err).Msg("storage.Session.CommitFilePush close working file")
	}
	s.pending = nil

	dest, err := s.resolve(filename)
	if err != nil {
		s.fail("commit", err.Error())
		return
	}
	if err := s.fs.EnsurePath(dest); err != nil {
		s.fail("commit", "Cannot create path "+dest+": "+errnoText(err))
		return
	}

	working := s.workingPath()
	f, err := s.fs.Open(working)
	if err != nil {
		s.fail("commit", "Cannot finalize push: "+errnoText(err))
		return
	}
	_ = f.Close()

	if err := s.fs.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Debug().Str("session", s.id).Str("path", dest).Err(err).Msg("storage.Session.CommitFilePush remove destination")
	}
	if err := s.fs.Rename(working, dest); err != nil {
		s.fail("commit", "Cannot finalize push: "+errnoText(err))
		return
	}

	log.Info().Str("session", s.id).Str("path", dest).Int("bytes", s.pushed).Msg("storage push committed")
	s.sink.YieldString("OK\n")
	observability.RecordStorageCommand("commit", true)
}

// Exit acknowledges and marks the session closed.
func (s *Session) Exit() {
	s.sink.YieldString("OK\n")
	s.closed = true
	observability.RecordStorageCommand("exit", true)
}

// Stats emits "<free> <total>\n" in bytes.
func (s *Session) Stats() {
	c, err := s.fs.Capacity()
	if err != nil {
		log.Debug().Str("session", s.id).Err(err).Msg("storage.Session.Stats capacity query")
		s.fail("stats", "Cannot determine free space")
		return
	}
	s.sink.YieldString(fmt.Sprintf("%d %d\n", c.FreeBytes(), c.TotalBytes()))
	observability.RecordStorageCommand("stats", true)
}

// Close drops any pending upload and its staged data without committing it.
func (s *Session) Close() {
	s.discardPending()
}

func (s *Session) discardPending() {
	if s.pending == nil {
		return
	}
	if err := s.pending.Close(); err != nil {
		log.Debug().Str("session", s.id).Err(err).Msg("storage.Session discard working file")
	}
	s.pending = nil
	s.pushed = 0
	if err := s.fs.Remove(s.workingPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Debug().Str("session", s.id).Err(err).Msg("storage.Session remove discarded working file")
	}
}

func (s *Session) workingPath() string {
	return s.root + "/" + WorkingName
}

// resolve joins name onto the root; a leading slash does not escape it.
func (s *Session) resolve(name string) (string, error) {
	p := s.root
	if !strings.HasPrefix(name, "/") {
		p += "/"
	}
	p += name
	if !isWithin(path.Clean(p), s.root) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, name)
	}
	return p, nil
}

func (s *Session) relative(dir string) string {
	if len(dir) <= len(s.root)+1 {
		return ""
	}
	return strings.TrimRight(dir[len(s.root)+1:], "/")
}

func (s *Session) fail(op, text string) {
	log.Warn().Str("session", s.id).Str("op", op).Str("error", text).Msg("storage command failed")
	s.sink.YieldError(text)
	observability.RecordStorageCommand(op, false)
}

func isWithin(p, root string) bool {
	if root == "" {
		return true
	}
	return p == root || strings.HasPrefix(p, root+"/")
}
