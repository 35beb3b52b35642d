package session

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"

	"asterchat/internal/avatar"
	"asterchat/internal/dispatch"
	"asterchat/internal/netsec"
)

const (
	DefaultPort = 2345

	maxFrameBytes  = 16 << 20
	readBufferSize = 64 * 1024
)

// ErrConnectionClosed is reported when the server closes the stream.
var ErrConnectionClosed = errors.New("connection closed by server")

type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Connector opens server connections and starts their read goroutines.
// Dial is safe for concurrent use; Attach and Connect mutate the Server
// and belong to the consumer.
type Connector struct {
	Dialer   DialFunc
	Queue    *dispatch.Queue
	Shutdown *dispatch.Shutdown
	Renderer *avatar.Renderer
	Logger   *slog.Logger
	Width    int
}

// WithDefaultPort appends DefaultPort to an address that has none.
func WithDefaultPort(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(DefaultPort))
}

// RouteKey identifies a connection for the lifetime of its session.
// Both endpoints are included so two connections to one server differ.
func RouteKey(conn net.Conn) string {
	return conn.LocalAddr().String() + "->" + conn.RemoteAddr().String()
}

func (c *Connector) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Dial resolves address, connects and completes the TLS handshake.
func (c *Connector) Dial(ctx context.Context, address string) (net.Conn, error) {
	address = WithDefaultPort(address)
	if c.Dialer != nil {
		return c.Dialer(ctx, "tcp", address)
	}
	d := &tls.Dialer{Config: netsec.ClientTLSConfigInsecure()}
	return d.DialContext(ctx, "tcp", address)
}

// Connect dials srv and attaches the result. A failed dial leaves srv
// Disconnected with its identity untouched.
func (c *Connector) Connect(ctx context.Context, srv *Server, ident Identification, password string) error {
	conn, err := c.Dial(ctx, srv.Address)
	if err != nil {
		c.Fail(srv, err)
		return fmt.Errorf("%s: connect: %w", srv.Label(), err)
	}
	return c.Attach(srv, conn, ident, password)
}

// Fail records a failed connection attempt.
func (c *Connector) Fail(srv *Server, err error) {
	c.logger().Warn("connect failed", "server", srv.Address, "error", err)
	srv.Disconnect(fmt.Sprintf("Failed to connect: %v", err))
}

// Attach makes conn the live session of srv, starts its read goroutine
// and sends the login request.
func (c *Connector) Attach(srv *Server, conn net.Conn, ident Identification, password string) error {
	if !ident.ByID && ident.Username != "" {
		srv.Username = ident.Username
	}
	route := RouteKey(conn)
	logger := c.logger()
	sess := New(&srv.Identity, conn, Options{
		Route:    route,
		Password: password,
		Width:    c.Width,
		Renderer: c.Renderer,
		Logger:   logger,
	})
	if prev := srv.Session(); prev != nil {
		prev.Close()
	}
	srv.State = Connected{Session: sess}
	attrs := []any{"server", srv.Address, "route", route}
	if tc, ok := conn.(*tls.Conn); ok {
		if fp, err := netsec.PeerFingerprint(tc.ConnectionState()); err == nil {
			attrs = append(attrs, "fingerprint", fp)
		}
	}
	logger.Info("connected", attrs...)

	c.Shutdown.Go(func(ctx context.Context) {
		readLoop(ctx, conn, route, c.Queue, logger)
	})
	if err := sess.Login(ident); err != nil {
		srv.Disconnect(err.Error())
		return err
	}
	return nil
}

// readLoop publishes every frame read from conn until the stream fails
// or ctx is cancelled. Cancellation closes conn so a pending read
// returns at once, and no error event is published for it.
func readLoop(ctx context.Context, conn net.Conn, route string, q *dispatch.Queue, logger *slog.Logger) {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	reader := bufio.NewReaderSize(conn, readBufferSize)
	for {
		line, oversized, err := readFrame(reader, maxFrameBytes)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				err = ErrConnectionClosed
			}
			logger.Debug("read loop finished", "route", route, "error", err)
			_ = q.Publish(ctx, dispatch.ErrorEvent{Route: route, Err: err})
			return
		}
		if oversized {
			logger.Warn("dropping oversized frame", "route", route)
			continue
		}
		if line == nil {
			continue
		}
		if err := q.Publish(ctx, dispatch.FrameEvent{Line: string(line), Route: route}); err != nil {
			return
		}
	}
}

// readFrame reads one newline-terminated frame. A frame longer than
// maxBytes is consumed and reported as oversized; a blank line yields a
// nil frame.
func readFrame(reader *bufio.Reader, maxBytes int) (frame []byte, oversized bool, err error) {
	line := make([]byte, 0, 256)
	for {
		frag, readErr := reader.ReadSlice('\n')
		line = append(line, frag...)

		if len(line) > maxBytes {
			for readErr == bufio.ErrBufferFull {
				_, readErr = reader.ReadSlice('\n')
			}
			if readErr != nil && readErr != io.EOF {
				return nil, true, readErr
			}
			return nil, true, nil
		}

		if readErr == bufio.ErrBufferFull {
			continue
		}
		trimmed := bytes.TrimSpace(line)
		if readErr != nil {
			if readErr != io.EOF || len(trimmed) == 0 {
				return nil, false, readErr
			}
			return trimmed, false, nil
		}
		if len(trimmed) == 0 {
			return nil, false, nil
		}
		return trimmed, false, nil
	}
}
