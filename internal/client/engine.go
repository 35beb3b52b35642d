package client

import (
	"context"
	"log/slog"
	"time"

	"asterchat/internal/avatar"
	"asterchat/internal/config"
	"asterchat/internal/dispatch"
	"asterchat/internal/session"
)

// Config describes a frontend's engine.
type Config struct {
	Preferences *config.Preferences
	Logger      *slog.Logger
	Notifier    Notifier
	Width       int
	// Dialer replaces the TLS dialer, for tests.
	Dialer session.DialFunc
}

// Start builds the queue, the shutdown coordinator and a Client for the
// configured servers. Nothing is dialed until ConnectAll.
func Start(parent context.Context, cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefs := cfg.Preferences
	if prefs == nil {
		prefs = config.Default()
	}
	queue := dispatch.NewQueue()
	shutdown := dispatch.NewShutdown(parent)
	connector := &session.Connector{
		Dialer:   cfg.Dialer,
		Queue:    queue,
		Shutdown: shutdown,
		Renderer: avatar.NewRenderer(nil),
		Logger:   logger,
		Width:    cfg.Width,
	}
	return New(prefs.BuildServers(), Options{
		Connector: connector,
		Shutdown:  shutdown,
		Queue:     queue,
		Notifier:  cfg.Notifier,
		Logger:    logger,
		Password:  prefs.Passwd,
		Username:  prefs.Uname,
		Avatar:    prefs.Pfp,
	})
}

// Queue is the event queue the client consumes.
func (c *Client) Queue() *dispatch.Queue { return c.queue }

// Context is cancelled when the client quits.
func (c *Client) Context() context.Context {
	if c.shutdown == nil {
		return context.Background()
	}
	return c.shutdown.Context()
}

// Stop quits and waits up to timeout for the read goroutines to exit.
func (c *Client) Stop(timeout time.Duration) bool {
	c.Quit()
	if c.shutdown == nil {
		return true
	}
	return c.shutdown.Wait(timeout)
}
