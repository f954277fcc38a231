package uploader

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/danmuck/devctl/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ServeHTTP upgrades r to a websocket storage session. Text messages are
// request lines and binary messages are chunk payloads; each response is
// streamed as one text message. A busy gate refuses the upgrade with 409.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.gate.TryAcquire() {
		log.Warn().Str("remote", r.RemoteAddr).Msg("storage websocket refused: busy")
		http.Error(w, busyText, http.StatusConflict)
		return
	}
	defer s.gate.Release()

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn().Str("remote", r.RemoteAddr).Err(err).Msg("storage websocket accept failed")
		return
	}
	defer c.CloseNow()
	c.SetReadLimit(int64(s.cfg.limits().MaxPayloadBytes) + protocol.MaxLineBytes)

	id := uuid.NewString()
	h := newHandler(id, s.cfg.Root, s.fsys, s.loop)
	defer h.close()

	log.Info().Str("session", id).Str("remote", r.RemoteAddr).Msg("storage websocket opened")
	err = s.runWS(r.Context(), c, h)
	switch {
	case err == nil:
		_ = c.Close(websocket.StatusNormalClosure, "exit")
		log.Info().Str("session", id).Msg("storage websocket closed")
	case errors.Is(err, ErrProtocolViolation):
		_ = c.Close(websocket.StatusPolicyViolation, "protocol violation")
		log.Warn().Str("session", id).Err(err).Msg("storage websocket aborted")
	case websocket.CloseStatus(err) != -1, errors.Is(err, context.Canceled):
		log.Info().Str("session", id).Msg("storage websocket closed by peer")
	default:
		log.Warn().Str("session", id).Err(err).Msg("storage websocket failed")
	}
}

func (s *Server) runWS(ctx context.Context, c *websocket.Conn, h *handler) error {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			return err
		}

		var cmd protocol.Command
		var payload []byte
		if typ == websocket.MessageBinary {
			cmd = protocol.Command{Op: protocol.OpChunk}
			payload = data
		} else {
			cmd, err = protocol.ParseCommand(string(data))
			if errors.Is(err, protocol.ErrEmptyLine) {
				continue
			}
			if err == nil && cmd.Op == protocol.OpChunk {
				err = errChunkAsText
			}
			if err != nil {
				if err := c.Write(ctx, websocket.MessageText, []byte(protocol.EncodeError(err.Error()))); err != nil {
					return err
				}
				continue
			}
		}

		wr, err := c.Writer(ctx, websocket.MessageText)
		if err != nil {
			return err
		}
		execErr := h.exec(ctx, cmd, payload, wr)
		if execErr != nil && !errors.Is(execErr, ErrProtocolViolation) {
			return execErr
		}
		if err := wr.Close(); err != nil {
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

var errChunkAsText = errors.New("uploader: chunk payload must be a binary message")
