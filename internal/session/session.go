// Package session holds the per-server protocol state machine. A Session
// is owned by a single goroutine: every method except Close must be
// called from the consumer loop.
//
// Phases:
//
//	Authenticating -> (login ok) -> Bootstrapping -> Ready
//	Authenticating -> (login not found) -> register -> Bootstrapping -> Ready
//	Authenticating -> (login forbidden) -> AuthFailed
//
// Disconnected is a property of the owning Server, not a phase.
package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"asterchat/internal/api"
	"asterchat/internal/avatar"
)

// HistoryPageSize is how many messages one history request asks for.
const HistoryPageSize = 100

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNoChannel        = errors.New("no such channel")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrUsernameTaken    = errors.New("username already taken")
)

type Phase int

const (
	PhaseAuthenticating Phase = iota
	PhaseBootstrapping
	PhaseReady
	PhaseAuthFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseBootstrapping:
		return "bootstrapping"
	case PhaseReady:
		return "ready"
	case PhaseAuthFailed:
		return "auth failed"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// StatusError is a non-Ok response the state machine has no specific
// handling for.
type StatusError struct {
	Server string
	Kind   string
	Status api.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s failed: %s", e.Server, e.Kind, e.Status)
}

// historyRequest remembers an outstanding history request so its page
// lands in the right place. Responses arrive in request order.
type historyRequest struct {
	channel int64
	older   bool
}

// Options configures a new Session.
type Options struct {
	Route    string
	Password string
	Width    int
	Renderer *avatar.Renderer
	Logger   *slog.Logger
}

type Session struct {
	identity *Identity
	route    string
	password string
	conn     io.WriteCloser
	closeOnce sync.Once
	phase    Phase
	byID     bool
	width    int
	renderer *avatar.Renderer
	logger   *slog.Logger
	history  []historyRequest

	Channels []api.Channel
	selected int
	Peers    map[int64]*Peer
	Messages []*LoadedMessage
	Online   map[int64]bool
	Icon     string
	Version  [3]uint8
	Emoji    []api.EmojiRef
}

// New wraps the write half of an established connection. identity is
// shared with the owning Server so ids learned here persist after the
// session ends.
func New(identity *Identity, conn io.WriteCloser, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = avatar.NewRenderer(nil)
	}
	return &Session{
		identity: identity,
		route:    opts.Route,
		password: opts.Password,
		conn:     conn,
		width:    opts.Width,
		renderer: renderer,
		logger:   logger.With("server", identity.Address),
		selected: -1,
		Peers:    make(map[int64]*Peer),
		Online:   make(map[int64]bool),
	}
}

func (s *Session) Route() string { return s.route }

func (s *Session) Phase() Phase { return s.phase }

func (s *Session) Width() int { return s.width }

// Selected returns the selected channel index, if any.
func (s *Session) Selected() (int, bool) {
	return s.selected, s.selected >= 0
}

// SelectedChannel returns the selected channel, if any.
func (s *Session) SelectedChannel() (api.Channel, bool) {
	if s.selected < 0 {
		return api.Channel{}, false
	}
	return s.Channels[s.selected], true
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

// Send writes req as one frame. Until authentication succeeds only
// login and register are accepted. History requests are tracked like
// those from SwitchChannel and LoadOlder; one with a lower bound is an
// older page.
func (s *Session) Send(req api.Request) error {
	switch r := req.(type) {
	case api.HistoryRequest:
		return s.requestHistory(r, r.BeforeMessage != nil)
	case *api.HistoryRequest:
		return s.requestHistory(*r, r.BeforeMessage != nil)
	}
	return s.write(req)
}

func (s *Session) write(req api.Request) error {
	switch req.(type) {
	case api.LoginRequest, *api.LoginRequest, api.RegisterRequest, *api.RegisterRequest:
	default:
		if s.phase != PhaseBootstrapping && s.phase != PhaseReady {
			return fmt.Errorf("%s: %s: %w", s.identity.Label(), req.Command(), ErrNotAuthenticated)
		}
	}
	line, err := api.Encode(req)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := s.conn.Write(line); err != nil {
		return fmt.Errorf("%s: write %s: %w", s.identity.Label(), req.Command(), err)
	}
	return nil
}

// Login starts authentication.
func (s *Session) Login(ident Identification) error {
	s.phase = PhaseAuthenticating
	s.byID = ident.ByID
	if ident.ByID {
		return s.Send(api.LoginByID(ident.UUID, s.password))
	}
	return s.Send(api.LoginByName(ident.Username, s.password))
}

func (s *Session) bootstrap() error {
	s.phase = PhaseBootstrapping
	reqs := []api.Request{
		api.GetIconRequest{},
		api.GetNameRequest{},
		api.GetMetadataRequest{},
		api.ListChannelsRequest{},
		api.OnlineRequest{},
	}
	if id, ok := s.identity.ID(); ok && s.byID {
		reqs = append(reqs, api.GetUserRequest{UUID: id})
	}
	for _, req := range reqs {
		if err := s.Send(req); err != nil {
			return err
		}
	}
	s.phase = PhaseReady
	return nil
}

// Handle applies one decoded response. When resp is a live message the
// message is returned so the caller can decide whether to notify.
func (s *Session) Handle(resp api.Response) (*api.Message, error) {
	label := s.identity.Label()
	switch r := resp.(type) {
	case *api.LoginResponse:
		return nil, s.handleLogin(r)
	case *api.RegisterResponse:
		return nil, s.handleRegister(r)
	}

	var pending *historyRequest
	if _, ok := resp.(*api.HistoryResponse); ok && len(s.history) > 0 {
		next := s.history[0]
		s.history = s.history[1:]
		pending = &next
	}

	if !resp.Status().OK() {
		return nil, &StatusError{Server: label, Kind: resp.Command(), Status: resp.Status()}
	}

	switch r := resp.(type) {
	case *api.GetMetadataResponse:
		changed := false
		for _, u := range r.Data {
			if s.upsertPeer(u) {
				changed = true
			}
		}
		if changed {
			s.relayout()
		}
	case *api.GetUserResponse:
		if r.Data != nil && s.upsertPeer(*r.Data) {
			s.relayout()
		}
	case *api.ListChannelsResponse:
		s.setChannels(r.Data)
	case *api.GetNameResponse:
		if r.Data != nil {
			s.identity.Name = *r.Data
		}
	case *api.GetIconResponse:
		if r.Data != nil {
			art, err := s.renderer.Render(*r.Data)
			s.Icon = art
			if err != nil {
				s.logger.Debug("server icon undecodable", "error", err)
			}
		}
	case *api.OnlineResponse:
		s.Online = make(map[int64]bool, len(r.Data))
		for _, id := range r.Data {
			s.Online[id] = true
		}
	case *api.HistoryResponse:
		s.applyHistory(r.Data, pending)
	case *api.ContentPush:
		msg := r.Message
		s.Messages = append(s.Messages, NewLoadedMessage(msg, s.Peers, s.width))
		return &msg, nil
	case *api.MessageEdited:
		s.applyEdit(r.Message, r.NewContent)
	case *api.MessageDeleted:
		s.applyDelete(r.Message)
	case *api.APIVersionResponse:
		s.Version = r.Version
	case *api.ListEmojiResponse:
		s.Emoji = r.Data
	case *api.GetEmojiResponse, *api.SendResponse, *api.EditResponse, *api.DeleteResponse:
	default:
		s.logger.Debug("unhandled response", "kind", resp.Command())
	}
	return nil, nil
}

func (s *Session) handleLogin(r *api.LoginResponse) error {
	label := s.identity.Label()
	switch r.Status() {
	case api.StatusOK:
		if r.UUID == nil {
			return &StatusError{Server: label, Kind: r.Command(), Status: api.StatusBadRequest}
		}
		if err := s.identity.assignID(*r.UUID); err != nil {
			return err
		}
		return s.bootstrap()
	case api.StatusNotFound:
		if s.identity.Username == "" {
			return &StatusError{Server: label, Kind: r.Command(), Status: r.Status()}
		}
		s.logger.Info("account not found, registering", "user", s.identity.Username)
		return s.Send(api.RegisterRequest{Uname: s.identity.Username, Passwd: s.password})
	case api.StatusForbidden:
		s.phase = PhaseAuthFailed
		return fmt.Errorf("%w for %s@%s", ErrInvalidPassword, s.accountName(), label)
	default:
		return &StatusError{Server: label, Kind: r.Command(), Status: r.Status()}
	}
}

func (s *Session) handleRegister(r *api.RegisterResponse) error {
	label := s.identity.Label()
	switch r.Status() {
	case api.StatusOK:
		if r.UUID == nil {
			return &StatusError{Server: label, Kind: r.Command(), Status: api.StatusBadRequest}
		}
		if err := s.identity.assignID(*r.UUID); err != nil {
			return err
		}
		return s.bootstrap()
	case api.StatusConflict:
		return fmt.Errorf("%w: %s@%s", ErrUsernameTaken, s.identity.Username, label)
	default:
		return &StatusError{Server: label, Kind: r.Command(), Status: r.Status()}
	}
}

func (s *Session) accountName() string {
	if s.identity.Username != "" {
		return s.identity.Username
	}
	if id, ok := s.identity.ID(); ok {
		return fmt.Sprintf("#%d", id)
	}
	return "?"
}

// upsertPeer records u and reports whether the peer table changed. Art
// is only rendered for peers not seen before.
func (s *Session) upsertPeer(u api.User) bool {
	if own, ok := s.identity.ID(); ok && own == u.ID && s.identity.Username == "" {
		s.identity.Username = u.Name
	}
	if p, ok := s.Peers[u.ID]; ok {
		if p.Name == u.Name {
			return false
		}
		p.Name = u.Name
		return true
	}
	art := avatar.Blank()
	if u.Pfp != "" {
		var err error
		if art, err = s.renderer.Render(u.Pfp); err != nil {
			s.logger.Debug("avatar undecodable", "user", u.ID, "error", err)
		}
	}
	s.Peers[u.ID] = &Peer{ID: u.ID, Name: u.Name, Art: art}
	return true
}

func (s *Session) setChannels(chans []api.Channel) {
	s.Channels = chans
	if s.selected >= len(s.Channels) {
		s.selected = -1
	}
}

// applyHistory appends a page in server order. A page for a channel that
// is no longer selected is dropped; a LoadOlder page is prepended.
func (s *Session) applyHistory(page []api.Message, pending *historyRequest) {
	loaded := make([]*LoadedMessage, 0, len(page))
	for _, m := range page {
		loaded = append(loaded, NewLoadedMessage(m, s.Peers, s.width))
	}
	if pending == nil {
		s.Messages = append(s.Messages, loaded...)
		return
	}
	if ch, ok := s.SelectedChannel(); !ok || ch.ID != pending.channel {
		s.logger.Debug("dropping stale history page", "channel", pending.channel)
		return
	}
	if pending.older {
		s.Messages = append(loaded, s.Messages...)
		return
	}
	s.Messages = append(s.Messages, loaded...)
}

func (s *Session) applyEdit(id int64, content string) {
	for _, lm := range s.Messages {
		if lm.Message.ID != id {
			continue
		}
		lm.Message.Content = content
		lm.Message.Edited = true
		lm.Rebuild(s.Peers, s.width)
	}
}

func (s *Session) applyDelete(id int64) {
	s.Messages = slices.DeleteFunc(s.Messages, func(lm *LoadedMessage) bool {
		return lm.Message.ID == id
	})
}

// SwitchChannel clears loaded messages, selects channel index and asks
// for its latest page of history.
func (s *Session) SwitchChannel(index int) error {
	if index < 0 || index >= len(s.Channels) {
		return fmt.Errorf("%s: channel %d: %w", s.identity.Label(), index, ErrNoChannel)
	}
	s.Messages = nil
	s.selected = index
	return s.requestHistory(api.HistoryRequest{
		Num:     HistoryPageSize,
		Channel: s.Channels[index].ID,
	}, false)
}

// LoadOlder asks for the page of history before the oldest loaded
// message of the selected channel.
func (s *Session) LoadOlder() error {
	ch, ok := s.SelectedChannel()
	if !ok {
		return fmt.Errorf("%s: %w", s.identity.Label(), ErrNoChannel)
	}
	req := api.HistoryRequest{Num: HistoryPageSize, Channel: ch.ID}
	if len(s.Messages) > 0 {
		oldest := s.Messages[0].Message.ID
		for _, lm := range s.Messages[1:] {
			if lm.Message.ID < oldest {
				oldest = lm.Message.ID
			}
		}
		req.BeforeMessage = &oldest
	}
	return s.requestHistory(req, true)
}

func (s *Session) requestHistory(req api.HistoryRequest, older bool) error {
	if err := s.write(req); err != nil {
		return err
	}
	s.history = append(s.history, historyRequest{channel: req.Channel, older: older})
	return nil
}

// Visible returns the loaded messages of the selected channel in list
// order. Live messages for other channels stay in Messages until the
// next channel switch but are not visible.
func (s *Session) Visible() []*LoadedMessage {
	ch, ok := s.SelectedChannel()
	if !ok {
		return nil
	}
	out := make([]*LoadedMessage, 0, len(s.Messages))
	for _, lm := range s.Messages {
		if lm.Message.ChannelID == ch.ID {
			out = append(out, lm)
		}
	}
	return out
}

// SendMessage posts content to the selected channel.
func (s *Session) SendMessage(content string) error {
	ch, ok := s.SelectedChannel()
	if !ok {
		return fmt.Errorf("%s: %w", s.identity.Label(), ErrNoChannel)
	}
	return s.Send(api.SendRequest{Content: content, Channel: ch.ID})
}

// Relayout rebuilds every message for a new pane width.
func (s *Session) Relayout(width int) {
	s.width = width
	s.relayout()
}

func (s *Session) relayout() {
	for _, lm := range s.Messages {
		lm.Rebuild(s.Peers, s.width)
	}
}
