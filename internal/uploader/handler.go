package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/devctl/internal/eventloop"
	"github.com/danmuck/devctl/internal/protocol"
	"github.com/danmuck/devctl/internal/storage"
	"github.com/rs/zerolog/log"
)

// ErrProtocolViolation ends a session after its error line is sent.
var ErrProtocolViolation = errors.New("uploader: protocol violation")

const ackLine = "OK\n"

// responseSink streams the fragments of one command to out. The first write
// error is kept and later fragments are dropped.
type responseSink struct {
	out  io.Writer
	errs int
	err  error
}

func (r *responseSink) begin(out io.Writer) {
	r.out = out
	r.errs = 0
	r.err = nil
}

func (r *responseSink) end() error {
	err := r.err
	r.out = nil
	return err
}

func (r *responseSink) YieldString(s string) {
	if r.err == nil && r.out != nil {
		_, r.err = io.WriteString(r.out, s)
	}
}

func (r *responseSink) YieldBuffer(b []byte) {
	if r.err == nil && r.out != nil {
		_, r.err = r.out.Write(b)
	}
}

func (r *responseSink) YieldError(text string) {
	r.errs++
	r.YieldString(protocol.EncodeError(text))
}

// handler binds one storage session to the loop.
type handler struct {
	loop    *eventloop.Loop
	sink    *responseSink
	session *storage.Session
}

func newHandler(id, root string, fsys storage.FS, loop *eventloop.Loop) *handler {
	sink := &responseSink{}
	return &handler{
		loop:    loop,
		sink:    sink,
		session: storage.NewSession(id, root, fsys, sink),
	}
}

// exec runs cmd on the loop, streaming its response to out. Push and chunk
// are acknowledged with OK when the session reported no error, so every
// command yields at least one line. out is only written from the loop; when
// exec fails with anything but ErrProtocolViolation the caller must not
// touch out again.
func (h *handler) exec(ctx context.Context, cmd protocol.Command, payload []byte, out io.Writer) error {
	var violation, writeErr error
	err := h.loop.Do(ctx, func() {
		h.sink.begin(out)
		defer func() { writeErr = h.sink.end() }()

		s := h.session
		switch cmd.Op {
		case protocol.OpList:
			s.List(cmd.Arg)
		case protocol.OpPull:
			s.Pull(cmd.Arg)
		case protocol.OpRemove:
			s.Remove(cmd.Arg)
		case protocol.OpPush:
			s.StartFilePush()
			h.ackIfClean()
		case protocol.OpChunk:
			if err := s.AddFileChunk(payload); err != nil {
				violation = err
				h.sink.YieldError(err.Error())
				return
			}
			h.ackIfClean()
		case protocol.OpCommit:
			s.CommitFilePush(cmd.Arg)
		case protocol.OpStats:
			s.Stats()
		case protocol.OpExit:
			s.Exit()
		}
	})
	switch {
	case err != nil:
		return err
	case writeErr != nil:
		return fmt.Errorf("uploader: write response: %w", writeErr)
	case violation != nil:
		return fmt.Errorf("%w: %v", ErrProtocolViolation, violation)
	}
	return nil
}

func (h *handler) ackIfClean() {
	if h.sink.errs == 0 {
		h.sink.YieldString(ackLine)
	}
}

func (h *handler) closed() bool {
	return h.session.Closed()
}

// close discards any pending upload. Once the loop has stopped no task can
// race with the session, so it is closed inline.
func (h *handler) close() {
	if err := h.loop.Do(context.Background(), h.session.Close); err != nil {
		log.Debug().Str("session", h.session.ID()).Err(err).Msg("uploader session close off loop")
		h.session.Close()
	}
}
