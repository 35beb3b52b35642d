package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"asterchat/internal/api"
)

const (
	defaultMaxMessageBytes = 64 * 1024
	defaultMaxMsgsPerSec   = 50
	defaultBurstMessages   = 100
	maxHistoryPage         = 500
	readBufferSize         = 16 * 1024
)

var apiVersion = [3]uint8{0, 1, 0}

type Conn struct {
	conn net.Conn
	mu   sync.Mutex
	// user is the logged in account, 0 before login. Guarded by
	// Server.mu.
	user int64
}

func (c *Conn) Send(f api.Frame) error {
	line, err := api.Encode(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.conn.Write(append(line, '\n'))
	return err
}

type rateLimiter struct {
	rate   float64
	burst  float64
	tokens float64
	last   time.Time
}

func newRateLimiter(msgsPerSec int, burst int) *rateLimiter {
	r := float64(msgsPerSec)
	b := float64(burst)
	if r <= 0 {
		r = float64(defaultMaxMsgsPerSec)
	}
	if b <= 0 {
		b = float64(defaultBurstMessages)
	}
	return &rateLimiter{rate: r, burst: b, tokens: b, last: time.Now()}
}

func (rl *rateLimiter) Allow() bool {
	now := time.Now()
	elapsed := now.Sub(rl.last).Seconds()
	rl.last = now
	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}

type Options struct {
	Name            string
	Icon            string
	MaxMessageBytes int
	MaxMsgsPerSec   int
	BurstMessages   int
	Logger          *slog.Logger
}

// Server is a single-room development server speaking the client
// protocol. Every logged in connection receives every live event.
type Server struct {
	store           *sqliteStore
	logger          *slog.Logger
	name            string
	icon            string
	maxMessageBytes int
	maxMsgsPerSec   int
	burstMessages   int

	mu    sync.Mutex
	conns map[*Conn]struct{}
	wg    sync.WaitGroup
}

func NewServer(store *sqliteStore, opts Options) *Server {
	s := &Server{
		store:           store,
		logger:          opts.Logger,
		name:            opts.Name,
		icon:            opts.Icon,
		maxMessageBytes: opts.MaxMessageBytes,
		maxMsgsPerSec:   opts.MaxMsgsPerSec,
		burstMessages:   opts.BurstMessages,
		conns:           make(map[*Conn]struct{}),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxMessageBytes <= 0 {
		s.maxMessageBytes = defaultMaxMessageBytes
	}
	return s
}

// Serve accepts connections until ctx is done, then closes every
// connection and waits for their handlers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// readRequest reads one line and decodes it. Blank, oversized and
// undecodable lines yield a nil request and no error.
func readRequest(reader *bufio.Reader, maxBytes int) (req api.Request, oversized bool, err error) {
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
		trimmed := strings.TrimSpace(string(line))
		if readErr != nil {
			if readErr != io.EOF || trimmed == "" {
				return nil, false, readErr
			}
		}
		if trimmed == "" {
			return nil, false, nil
		}
		req, err := api.DecodeRequest([]byte(trimmed))
		if err != nil {
			return nil, false, nil
		}
		return req, false, nil
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	c := &Conn{conn: conn}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	logger := s.logger.With("remote", conn.RemoteAddr().String())
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		wasUser := c.user != 0
		s.mu.Unlock()
		_ = conn.Close()
		if wasUser {
			s.broadcastOnline()
		}
		logger.Info("client disconnected")
	}()
	logger.Info("client connected")

	_ = c.Send(api.APIVersionResponse{Header: api.OK(), Version: apiVersion})

	reader := bufio.NewReaderSize(conn, readBufferSize)
	rl := newRateLimiter(s.maxMsgsPerSec, s.burstMessages)
	for {
		req, oversized, err := readRequest(reader, s.maxMessageBytes)
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				logger.Debug("read failed", "error", err)
			}
			return
		}
		if oversized {
			logger.Debug("dropping oversized frame")
			continue
		}
		if req == nil || !rl.Allow() {
			continue
		}
		if _, ok := req.(*api.LeaveRequest); ok {
			return
		}
		if resp := s.handle(c, req); resp != nil {
			if err := c.Send(resp); err != nil {
				return
			}
		}
	}
}

func (s *Server) userOf(c *Conn) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.user
}

func (s *Server) login(c *Conn, id int64) {
	s.mu.Lock()
	c.user = id
	s.mu.Unlock()
}

// broadcast sends f to every logged in connection.
func (s *Server) broadcast(f api.Frame) {
	s.mu.Lock()
	targets := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		if c.user != 0 {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()
	for _, c := range targets {
		if err := c.Send(f); err != nil {
			s.logger.Debug("broadcast failed", "remote", c.conn.RemoteAddr().String(), "error", err)
		}
	}
}

func (s *Server) online() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for c := range s.conns {
		if c.user != 0 && !slices.Contains(ids, c.user) {
			ids = append(ids, c.user)
		}
	}
	slices.Sort(ids)
	return ids
}

func (s *Server) broadcastOnline() {
	s.broadcast(api.OnlineResponse{Header: api.OK(), Data: s.online()})
}

func (s *Server) broadcastUser(id int64) {
	u, err := s.store.user(id)
	if err != nil {
		s.logger.Warn("user lookup failed", "user", id, "error", err)
		return
	}
	s.broadcast(api.GetMetadataResponse{Header: api.OK(), Data: []api.User{u}})
}

// failure builds the response to req carrying status, or nil when req
// has no response.
func failure(req api.Request, status api.Status) api.Frame {
	h := api.WithStatus(status)
	switch req.(type) {
	case *api.RegisterRequest:
		return api.RegisterResponse{Header: h}
	case *api.LoginRequest:
		return api.LoginResponse{Header: h}
	case *api.GetMetadataRequest:
		return api.GetMetadataResponse{Header: h}
	case *api.OnlineRequest:
		return api.OnlineResponse{Header: h}
	case *api.HistoryRequest:
		return api.HistoryResponse{Header: h}
	case *api.GetUserRequest:
		return api.GetUserResponse{Header: h}
	case *api.GetIconRequest:
		return api.GetIconResponse{Header: h}
	case *api.GetNameRequest:
		return api.GetNameResponse{Header: h}
	case *api.ListChannelsRequest:
		return api.ListChannelsResponse{Header: h}
	case *api.GetEmojiRequest:
		return api.GetEmojiResponse{Header: h}
	case *api.ListEmojiRequest:
		return api.ListEmojiResponse{Header: h}
	case *api.SendRequest:
		return api.SendResponse{Header: h}
	case *api.EditRequest:
		return api.EditResponse{Header: h}
	case *api.DeleteRequest:
		return api.DeleteResponse{Header: h}
	case *api.SyncGetRequest:
		return api.SyncGetResponse{Header: h}
	case *api.SyncGetServersRequest:
		return api.SyncGetServersResponse{Header: h}
	default:
		return nil
	}
}

func storeStatus(err error) api.Status {
	switch {
	case errors.Is(err, errNotFound):
		return api.StatusNotFound
	case errors.Is(err, errNameTaken):
		return api.StatusConflict
	case errors.Is(err, errWrongPassword), errors.Is(err, errNotAuthor):
		return api.StatusForbidden
	default:
		return api.StatusInternalError
	}
}

// handle applies req for c and returns the direct response, if any.
func (s *Server) handle(c *Conn, req api.Request) api.Frame {
	user := s.userOf(c)
	switch r := req.(type) {
	case *api.PingRequest:
		return nil
	case *api.GetNameRequest:
		name := s.name
		return api.GetNameResponse{Header: api.OK(), Data: &name}
	case *api.GetIconRequest:
		if s.icon == "" {
			return failure(req, api.StatusNotFound)
		}
		icon := s.icon
		return api.GetIconResponse{Header: api.OK(), Data: &icon}
	case *api.RegisterRequest:
		return s.register(c, user, r)
	case *api.LoginRequest:
		return s.authenticate(c, user, r)
	}
	if user == 0 {
		return failure(req, api.StatusUnauthorised)
	}

	switch r := req.(type) {
	case *api.NickRequest:
		name := strings.TrimSpace(r.Nick)
		if name == "" {
			return nil
		}
		if err := s.store.setName(user, name); err != nil {
			s.logger.Info("nick rejected", "user", user, "nick", name, "error", err)
			return nil
		}
		s.broadcastUser(user)
		return nil
	case *api.PfpRequest:
		if err := s.store.setPfp(user, r.Data); err != nil {
			s.logger.Warn("pfp update failed", "user", user, "error", err)
			return nil
		}
		s.broadcastUser(user)
		return nil
	case *api.OnlineRequest:
		return api.OnlineResponse{Header: api.OK(), Data: s.online()}
	case *api.GetMetadataRequest:
		users, err := s.store.users()
		if err != nil {
			return failure(req, storeStatus(err))
		}
		return api.GetMetadataResponse{Header: api.OK(), Data: users}
	case *api.GetUserRequest:
		u, err := s.store.user(r.UUID)
		if err != nil {
			return failure(req, storeStatus(err))
		}
		return api.GetUserResponse{Header: api.OK(), Data: &u}
	case *api.ListChannelsRequest:
		chans, err := s.store.channels()
		if err != nil {
			return failure(req, storeStatus(err))
		}
		return api.ListChannelsResponse{Header: api.OK(), Data: chans}
	case *api.ListEmojiRequest:
		list, err := s.store.emojiList()
		if err != nil {
			return failure(req, storeStatus(err))
		}
		return api.ListEmojiResponse{Header: api.OK(), Data: list}
	case *api.GetEmojiRequest:
		e, err := s.store.emoji(r.UUID)
		if err != nil {
			return failure(req, storeStatus(err))
		}
		return api.GetEmojiResponse{Header: api.OK(), Data: &e}
	case *api.HistoryRequest:
		return s.history(r)
	case *api.SendRequest:
		return s.send(user, r)
	case *api.EditRequest:
		content := strings.TrimSpace(r.NewContent)
		if content == "" {
			return failure(req, api.StatusBadRequest)
		}
		if err := s.store.editMessage(r.Message, user, content); err != nil {
			return failure(req, storeStatus(err))
		}
		s.broadcast(api.MessageEdited{Header: api.OK(), Message: r.Message, NewContent: content})
		return api.EditResponse{Header: api.OK()}
	case *api.DeleteRequest:
		if err := s.store.deleteMessage(r.Message, user); err != nil {
			return failure(req, storeStatus(err))
		}
		s.broadcast(api.MessageDeleted{Header: api.OK(), Message: r.Message})
		return api.DeleteResponse{Header: api.OK()}
	case *api.SyncSetRequest:
		if err := s.store.setSyncProfile(user, r.Uname, r.Pfp); err != nil {
			s.logger.Warn("sync profile update failed", "user", user, "error", err)
		}
		return nil
	case *api.SyncGetRequest:
		data, err := s.store.syncProfile(user)
		if err != nil {
			return failure(req, storeStatus(err))
		}
		return api.SyncGetResponse{Header: api.OK(), SyncData: &data}
	case *api.SyncSetServersRequest:
		if err := s.store.setSyncServers(user, r.Servers); err != nil {
			s.logger.Warn("sync server list update failed", "user", user, "error", err)
		}
		return nil
	case *api.SyncGetServersRequest:
		servers, err := s.store.syncServers(user)
		if err != nil {
			return failure(req, storeStatus(err))
		}
		return api.SyncGetServersResponse{Header: api.OK(), Servers: servers}
	default:
		return failure(req, api.StatusBadRequest)
	}
}

func (s *Server) register(c *Conn, user int64, r *api.RegisterRequest) api.Frame {
	if user != 0 {
		return failure(r, api.StatusMethodNotAllowed)
	}
	name := strings.TrimSpace(r.Uname)
	if name == "" || r.Passwd == "" {
		return failure(r, api.StatusBadRequest)
	}
	id, err := s.store.createUser(name, r.Passwd)
	if err != nil {
		return failure(r, storeStatus(err))
	}
	s.logger.Info("registered", "user", id, "name", name)
	s.login(c, id)
	_ = c.Send(api.RegisterResponse{Header: api.OK(), UUID: &id})
	s.broadcastUser(id)
	s.broadcastOnline()
	return nil
}

func (s *Server) authenticate(c *Conn, user int64, r *api.LoginRequest) api.Frame {
	if user != 0 {
		return failure(r, api.StatusMethodNotAllowed)
	}
	var (
		id  int64
		err error
	)
	switch {
	case r.Uname != nil:
		id, err = s.store.authenticate(*r.Uname, 0, r.Passwd)
	case r.UUID != nil:
		id, err = s.store.authenticate("", *r.UUID, r.Passwd)
	default:
		return failure(r, api.StatusBadRequest)
	}
	if err != nil {
		return failure(r, storeStatus(err))
	}
	s.logger.Info("logged in", "user", id)
	s.login(c, id)
	_ = c.Send(api.LoginResponse{Header: api.OK(), UUID: &id})
	s.broadcastOnline()
	return nil
}

func (s *Server) history(r *api.HistoryRequest) api.Frame {
	if r.Num == 0 {
		return failure(r, api.StatusBadRequest)
	}
	num := int(min(r.Num, maxHistoryPage))
	ok, err := s.store.channelExists(r.Channel)
	if err != nil {
		return failure(r, storeStatus(err))
	}
	if !ok {
		return failure(r, api.StatusNotFound)
	}
	page, err := s.store.history(r.Channel, num, r.BeforeMessage)
	if err != nil {
		return failure(r, storeStatus(err))
	}
	return api.HistoryResponse{Header: api.OK(), Data: page}
}

func (s *Server) send(user int64, r *api.SendRequest) api.Frame {
	content := strings.TrimSpace(r.Content)
	if content == "" {
		return failure(r, api.StatusBadRequest)
	}
	ok, err := s.store.channelExists(r.Channel)
	if err != nil {
		return failure(r, storeStatus(err))
	}
	if !ok {
		return failure(r, api.StatusNotFound)
	}
	msg, err := s.store.addMessage(user, r.Channel, content)
	if err != nil {
		return failure(r, storeStatus(err))
	}
	s.broadcast(api.ContentPush{Header: api.OK(), Message: msg})
	return api.SendResponse{Header: api.OK(), Message: msg.ID}
}
