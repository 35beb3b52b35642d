// Package client is the single consumer of the event queue. It owns
// every configured Server, routes network events to the session they
// arrived on and exposes the operations the command layer and the
// renderers use.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"asterchat/internal/api"
	"asterchat/internal/dispatch"
	"asterchat/internal/session"
)

// IdleThreshold is how long after the last interaction the user is
// assumed to have stopped watching the screen.
const IdleThreshold = 10 * time.Second

const maxParallelDials = 8

var (
	ErrNotConnected = errors.New("not connected")
	ErrNoServer     = errors.New("no such server")
)

type Notifier interface {
	Notify(title, body string) error
}

type Options struct {
	Connector *session.Connector
	Shutdown  *dispatch.Shutdown
	Queue     *dispatch.Queue
	Notifier  Notifier
	Logger    *slog.Logger
	Password  string
	Username  string
	Avatar    string
	Now       func() time.Time
}

type Client struct {
	Servers []*session.Server

	connector *session.Connector
	shutdown  *dispatch.Shutdown
	queue     *dispatch.Queue
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
	password  string
	username  string
	avatar    string

	focus           int
	sel             *selection
	lastInteraction time.Time
	status          string
	quit            bool
}

func New(servers []*session.Server, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	c := &Client{
		Servers:   servers,
		connector: opts.Connector,
		shutdown:  opts.Shutdown,
		queue:     opts.Queue,
		notifier:  opts.Notifier,
		logger:    logger,
		now:       now,
		password:  opts.Password,
		username:  opts.Username,
		avatar:    opts.Avatar,
		focus:     -1,
	}
	if len(servers) > 0 {
		c.focus = 0
	}
	return c
}

// Status is the latest transient status line.
func (c *Client) Status() string { return c.status }

func (c *Client) setStatus(format string, args ...any) {
	c.status = fmt.Sprintf(format, args...)
}

func (c *Client) fail(err error) {
	c.logger.Warn("client error", "error", err)
	c.status = err.Error()
}

// Quitting reports whether /quit was issued.
func (c *Client) Quitting() bool { return c.quit }

// Quit stops every read goroutine and closes the queue.
func (c *Client) Quit() {
	c.quit = true
	if c.shutdown != nil {
		c.shutdown.Trigger()
	}
	if c.queue != nil {
		c.queue.Close()
	}
}

// Touch records a user interaction.
func (c *Client) Touch() {
	c.lastInteraction = c.now()
}

func (c *Client) Focus() (int, bool) {
	return c.focus, c.focus >= 0
}

func (c *Client) SetFocus(index int) error {
	if index < 0 || index >= len(c.Servers) {
		return fmt.Errorf("server %d: %w", index, ErrNoServer)
	}
	c.focus = index
	return nil
}

// Focused returns the focused server, or nil.
func (c *Client) Focused() *session.Server {
	if c.focus < 0 {
		return nil
	}
	return c.Servers[c.focus]
}

func (c *Client) focusedSession() (*session.Server, *session.Session, error) {
	srv := c.Focused()
	if srv == nil {
		return nil, nil, ErrNotConnected
	}
	sess := srv.Session()
	if sess == nil {
		return srv, nil, fmt.Errorf("%s: %w", srv.Label(), ErrNotConnected)
	}
	return srv, sess, nil
}

// AddServer appends a new, not yet connected server and focuses it.
func (c *Client) AddServer(address, username string) *session.Server {
	srv := session.NewServer(session.WithDefaultPort(address))
	srv.Username = username
	c.Servers = append(c.Servers, srv)
	c.focus = len(c.Servers) - 1
	return srv
}

// Connect makes a single connection attempt to srv.
func (c *Client) Connect(ctx context.Context, srv *session.Server) error {
	if srv.Username == "" {
		srv.Username = c.username
	}
	if err := c.connector.Connect(ctx, srv, srv.Identification(), c.password); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

// ConnectAll dials every disconnected server in parallel, then attaches
// the successful connections in order.
func (c *Client) ConnectAll(ctx context.Context) {
	conns := make([]net.Conn, len(c.Servers))
	errs := make([]error, len(c.Servers))
	var g errgroup.Group
	g.SetLimit(maxParallelDials)
	for i, srv := range c.Servers {
		if srv.Session() != nil {
			continue
		}
		i, address := i, srv.Address
		g.Go(func() error {
			conns[i], errs[i] = c.connector.Dial(ctx, address)
			return nil
		})
	}
	_ = g.Wait()

	for i, srv := range c.Servers {
		if srv.Username == "" {
			srv.Username = c.username
		}
		switch {
		case errs[i] != nil:
			c.connector.Fail(srv, errs[i])
			c.setStatus("%s: failed to connect: %v", srv.Label(), errs[i])
		case conns[i] != nil:
			if err := c.connector.Attach(srv, conns[i], srv.Identification(), c.password); err != nil {
				c.fail(err)
			}
		}
	}
}

// Run consumes q until it is closed, ctx is done, or the user quits.
func (c *Client) Run(ctx context.Context, q *dispatch.Queue) error {
	for {
		ev, ok := q.Next(ctx)
		if !ok {
			return ctx.Err()
		}
		c.Handle(ctx, ev)
		if c.quit {
			return nil
		}
	}
}

// Handle applies one event. It must only be called from the consumer.
func (c *Client) Handle(ctx context.Context, ev dispatch.Event) {
	switch e := ev.(type) {
	case dispatch.InputEvent:
		c.Touch()
		line, ok := e.Payload.(string)
		if !ok {
			c.logger.Debug("ignoring input", "payload", fmt.Sprintf("%T", e.Payload))
			return
		}
		if err := c.Execute(ctx, line); err != nil {
			c.fail(err)
		}
	case dispatch.FrameEvent:
		c.handleFrame(e)
	case dispatch.ErrorEvent:
		_, srv := c.serverForRoute(e.Route)
		if srv == nil {
			c.logger.Debug("error for unknown route", "route", e.Route, "error", e.Err)
			return
		}
		c.logger.Warn("connection lost", "server", srv.Address, "route", e.Route, "error", e.Err)
		srv.Disconnect(e.Err.Error())
		c.setStatus("%s: connection lost: %v", srv.Label(), e.Err)
	}
}

func (c *Client) serverForRoute(route string) (int, *session.Server) {
	for i, srv := range c.Servers {
		if sess := srv.Session(); sess != nil && sess.Route() == route {
			return i, srv
		}
	}
	return -1, nil
}

func (c *Client) handleFrame(e dispatch.FrameEvent) {
	idx, srv := c.serverForRoute(e.Route)
	if srv == nil {
		c.logger.Debug("frame for unknown route", "route", e.Route)
		return
	}
	resp, err := api.DecodeResponse([]byte(e.Line))
	if err != nil {
		c.logger.Debug("dropping malformed frame", "server", srv.Address, "error", err)
		return
	}
	sess := srv.Session()
	msg, err := sess.Handle(resp)
	if err != nil {
		c.fail(err)
	}
	if msg != nil && c.shouldNotify(idx, sess, msg) {
		c.notify(srv, sess, msg)
	}
}

// shouldNotify is false only while the user is looking at the channel
// the message arrived on.
func (c *Client) shouldNotify(idx int, sess *session.Session, msg *api.Message) bool {
	ch, ok := sess.SelectedChannel()
	if !ok || ch.ID != msg.ChannelID {
		return true
	}
	if c.focus != idx {
		return true
	}
	return c.now().Sub(c.lastInteraction) >= IdleThreshold
}

func (c *Client) notify(srv *session.Server, sess *session.Session, msg *api.Message) {
	if c.notifier == nil {
		return
	}
	author := session.UnknownUser
	if p, ok := sess.Peers[msg.AuthorID]; ok {
		author = p.Name
	}
	title := srv.Label()
	for _, ch := range sess.Channels {
		if ch.ID == msg.ChannelID {
			title = srv.Label() + " #" + ch.Name
			break
		}
	}
	if err := c.notifier.Notify(title, author+": "+msg.Content); err != nil {
		c.logger.Debug("notification failed", "error", err)
	}
}

// SwitchChannel selects channel index on the focused server.
func (c *Client) SwitchChannel(index int) error {
	_, sess, err := c.focusedSession()
	if err != nil {
		return err
	}
	return sess.SwitchChannel(index)
}

// Send writes an arbitrary request to the focused server.
func (c *Client) Send(req api.Request) error {
	_, sess, err := c.focusedSession()
	if err != nil {
		return err
	}
	return sess.Send(req)
}

// Relayout rebuilds every connected session's messages for width.
func (c *Client) Relayout(width int) {
	if c.connector != nil {
		c.connector.Width = width
	}
	for _, srv := range c.Servers {
		if sess := srv.Session(); sess != nil {
			sess.Relayout(width)
		}
	}
}
