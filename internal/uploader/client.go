package uploader

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/danmuck/devctl/internal/protocol"
	"github.com/danmuck/devctl/internal/protocol/frame"
)

var (
	ErrRemote             = errors.New("uploader: remote error")
	ErrUnexpectedResponse = errors.New("uploader: unexpected response")
)

// DefaultChunkBytes is the payload size Push sends per frame.
const DefaultChunkBytes = 4096

// ListEntry is one line of a listing.
type ListEntry struct {
	Marker string
	Path   string
}

func (e ListEntry) IsDir() bool {
	return e.Marker == "D"
}

// Client speaks the storage protocol over a stream connection. It is not
// safe for concurrent use.
type Client struct {
	conn       net.Conn
	r          *bufio.Reader
	w          *bufio.Writer
	limits     frame.Limits
	ChunkBytes int
}

func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("uploader: dial %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

func NewClient(conn net.Conn) *Client {
	return &Client{
		conn:       conn,
		r:          bufio.NewReader(conn),
		w:          bufio.NewWriter(conn),
		limits:     frame.DefaultLimits(),
		ChunkBytes: DefaultChunkBytes,
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// List returns the entries under prefix. Error lines reported during the
// listing are joined into the returned error alongside the entries read.
func (c *Client) List(prefix string) ([]ListEntry, error) {
	if err := c.send(protocol.Command{Op: protocol.OpList, Arg: prefix}); err != nil {
		return nil, err
	}
	var entries []ListEntry
	var errs []error
	for {
		line, err := c.readLine()
		if err != nil {
			return entries, errors.Join(append(errs, err)...)
		}
		if line == "" {
			return entries, errors.Join(errs...)
		}
		if text, ok := protocol.ErrorText(line); ok {
			errs = append(errs, remoteErr(text))
			continue
		}
		marker, p, ok := strings.Cut(line, " ")
		if !ok {
			return entries, fmt.Errorf("%w: %q", ErrUnexpectedResponse, line)
		}
		entries = append(entries, ListEntry{Marker: marker, Path: p})
	}
}

// Pull downloads filename.
func (c *Client) Pull(filename string) ([]byte, error) {
	if err := c.send(protocol.Command{Op: protocol.OpPull, Arg: filename}); err != nil {
		return nil, err
	}
	line, err := c.readLine()
	if err != nil {
		return nil, err
	}
	if text, ok := protocol.ErrorText(line); ok {
		return nil, remoteErr(text)
	}
	// Chunks are whole base64 groups with padding only on the last, so the
	// line decodes as one stream.
	data, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return data, nil
}

// Push uploads src to filename in frames of at most ChunkBytes.
func (c *Client) Push(filename string, src io.Reader) error {
	if err := c.roundTrip(protocol.Command{Op: protocol.OpPush}); err != nil {
		return err
	}
	size := c.ChunkBytes
	if size <= 0 || uint32(size) > c.limits.MaxPayloadBytes {
		size = int(c.limits.MaxPayloadBytes)
	}
	buf := make([]byte, size)
	for {
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			if err := c.chunk(buf[:n]); err != nil {
				return err
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return err
		}
	}
	return c.roundTrip(protocol.Command{Op: protocol.OpCommit, Arg: filename})
}

func (c *Client) Remove(filename string) error {
	return c.roundTrip(protocol.Command{Op: protocol.OpRemove, Arg: filename})
}

// Stats returns free and total bytes.
func (c *Client) Stats() (free, total uint64, err error) {
	if err := c.send(protocol.Command{Op: protocol.OpStats}); err != nil {
		return 0, 0, err
	}
	line, err := c.readLine()
	if err != nil {
		return 0, 0, err
	}
	if text, ok := protocol.ErrorText(line); ok {
		return 0, 0, remoteErr(text)
	}
	a, b, ok := strings.Cut(line, " ")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnexpectedResponse, line)
	}
	if free, err = strconv.ParseUint(a, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnexpectedResponse, line)
	}
	if total, err = strconv.ParseUint(b, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnexpectedResponse, line)
	}
	return free, total, nil
}

// Exit ends the session; the server closes the connection afterwards.
func (c *Client) Exit() error {
	return c.roundTrip(protocol.Command{Op: protocol.OpExit})
}

func (c *Client) chunk(payload []byte) error {
	if _, err := c.w.WriteString(protocol.Command{Op: protocol.OpChunk}.Line()); err != nil {
		return err
	}
	if err := frame.WriteChunk(c.w, payload, c.limits); err != nil {
		return err
	}
	if err := c.w.Flush(); err != nil {
		return err
	}
	return c.readAck()
}

func (c *Client) roundTrip(cmd protocol.Command) error {
	if err := c.send(cmd); err != nil {
		return err
	}
	return c.readAck()
}

func (c *Client) send(cmd protocol.Command) error {
	if _, err := c.w.WriteString(cmd.Line()); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *Client) readAck() error {
	line, err := c.readLine()
	if err != nil {
		return err
	}
	if text, ok := protocol.ErrorText(line); ok {
		return remoteErr(text)
	}
	if line != strings.TrimSuffix(ackLine, "\n") {
		return fmt.Errorf("%w: %q", ErrUnexpectedResponse, line)
	}
	return nil
}

func (c *Client) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line == "" {
			return "", io.EOF
		}
		return "", fmt.Errorf("uploader: read response: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func remoteErr(text string) error {
	return fmt.Errorf("%w: %s", ErrRemote, text)
}
