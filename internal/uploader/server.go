package uploader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/danmuck/devctl/internal/eventloop"
	"github.com/danmuck/devctl/internal/protocol"
	"github.com/danmuck/devctl/internal/protocol/frame"
	"github.com/danmuck/devctl/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const busyText = "session busy"

var ErrServerClosed = errors.New("uploader: server closed")

type Config struct {
	// Root is the absolute slash path sessions operate under.
	Root          string
	MaxChunkBytes uint32
}

func (c Config) limits() frame.Limits {
	if c.MaxChunkBytes == 0 {
		return frame.DefaultLimits()
	}
	return frame.Limits{MaxPayloadBytes: c.MaxChunkBytes}
}

// Server accepts storage sessions on a stream listener.
type Server struct {
	cfg  Config
	loop *eventloop.Loop
	fsys storage.FS
	gate *Gate

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

func NewServer(cfg Config, loop *eventloop.Loop, fsys storage.FS, gate *Gate) *Server {
	if gate == nil {
		gate = NewGate()
	}
	return &Server{cfg: cfg, loop: loop, fsys: fsys, gate: gate}
}

func (s *Server) Gate() *Gate {
	return s.gate
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("uploader: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. It returns nil on
// shutdown and waits for open sessions to end.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer s.wg.Wait()

	log.Info().Str("addr", ln.Addr().String()).Str("root", s.cfg.Root).Msg("storage listener ready")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info().Str("addr", ln.Addr().String()).Msg("storage listener stopped")
				return nil
			}
			return fmt.Errorf("uploader: accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// Addr is the bound listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	if !s.gate.TryAcquire() {
		log.Warn().Str("remote", remote).Msg("storage session refused: busy")
		_, _ = io.WriteString(conn, protocol.EncodeError(busyText))
		return
	}
	defer s.gate.Release()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	id := uuid.NewString()
	h := newHandler(id, s.cfg.Root, s.fsys, s.loop)
	defer h.close()

	log.Info().Str("session", id).Str("remote", remote).Msg("storage session opened")
	err := s.run(ctx, conn, h)
	switch {
	case err == nil, errors.Is(err, io.EOF), ctx.Err() != nil:
		log.Info().Str("session", id).Msg("storage session closed")
	default:
		log.Warn().Str("session", id).Err(err).Msg("storage session aborted")
	}
}

func (s *Server) run(ctx context.Context, conn net.Conn, h *handler) error {
	r := bufio.NewReaderSize(conn, protocol.MaxLineBytes+2)
	w := bufio.NewWriter(conn)
	limits := s.cfg.limits()

	for {
		line, err := r.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			_ = writeResponse(w, []byte(protocol.EncodeError(protocol.ErrLineTooLong.Error())))
			return fmt.Errorf("%w: %v", ErrProtocolViolation, protocol.ErrLineTooLong)
		}
		if err != nil {
			return err
		}

		cmd, err := protocol.ParseCommand(string(line))
		if errors.Is(err, protocol.ErrEmptyLine) {
			continue
		}
		if err != nil {
			if err := writeResponse(w, []byte(protocol.EncodeError(err.Error()))); err != nil {
				return err
			}
			continue
		}

		var payload []byte
		if cmd.Op == protocol.OpChunk {
			f, err := frame.ReadFrame(r, limits)
			if err != nil {
				_ = writeResponse(w, []byte(protocol.EncodeError(err.Error())))
				return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
			}
			payload = f.Payload
		}

		execErr := h.exec(ctx, cmd, payload, w)
		if execErr != nil && !errors.Is(execErr, ErrProtocolViolation) {
			return execErr
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if execErr != nil {
			return execErr
		}
		if h.closed() {
			return nil
		}
	}
}

func writeResponse(w *bufio.Writer, resp []byte) error {
	if len(resp) > 0 {
		if _, err := w.Write(resp); err != nil {
			return err
		}
	}
	return w.Flush()
}
