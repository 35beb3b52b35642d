package session

import (
	"errors"
	"fmt"
)

// ErrIDReassigned is returned when a server reports a second, different
// id for an account whose id is already known.
var ErrIDReassigned = errors.New("server reported a different id")

// Identity is what is known about one configured server independently of
// whether a connection to it is live. It outlives every connection
// attempt, so a failed reconnect still shows a named entry.
type Identity struct {
	Address  string
	Name     string
	Username string

	id    int64
	hasID bool
	// confirmed is set once a server has reported id; a seeded id may
	// still be replaced by the first confirmation.
	confirmed bool
}

func (i *Identity) ID() (int64, bool) {
	return i.id, i.hasID
}

// SetID seeds an id known from preferences before any connection.
func (i *Identity) SetID(id int64) {
	i.id, i.hasID = id, true
}

// Confirmed reports whether a server has confirmed the id.
func (i *Identity) Confirmed() bool { return i.confirmed }

func (i *Identity) assignID(id int64) error {
	if i.confirmed && i.id != id {
		return fmt.Errorf("%w for %s: have %d, got %d", ErrIDReassigned, i.Label(), i.id, id)
	}
	i.id, i.hasID, i.confirmed = id, true, true
	return nil
}

// Label names the server in status text: display name when known,
// address otherwise.
func (i *Identity) Label() string {
	if i.Name != "" {
		return i.Name
	}
	return i.Address
}

// Identification selects how the login request names the account.
type Identification struct {
	Username string
	UUID     int64
	ByID     bool
}

func ByUsername(uname string) Identification {
	return Identification{Username: uname}
}

func ByID(id int64) Identification {
	return Identification{UUID: id, ByID: true}
}

func (id Identification) String() string {
	if id.ByID {
		return fmt.Sprintf("#%d", id.UUID)
	}
	return id.Username
}

// State is either Connected or Disconnected.
type State interface {
	isState()
}

type Connected struct {
	Session *Session
}

type Disconnected struct {
	Reason string
}

func (Connected) isState()    {}
func (Disconnected) isState() {}

// Server pairs a persistent Identity with the outcome of the latest
// connection attempt.
type Server struct {
	Identity
	State State
}

func NewServer(address string) *Server {
	return &Server{
		Identity: Identity{Address: address},
		State:    Disconnected{Reason: "not connected"},
	}
}

// Identification prefers a known id over the username.
func (s *Server) Identification() Identification {
	if id, ok := s.ID(); ok {
		return ByID(id)
	}
	return ByUsername(s.Username)
}

// Session returns the live session, or nil when disconnected.
func (s *Server) Session() *Session {
	if c, ok := s.State.(Connected); ok {
		return c.Session
	}
	return nil
}

// Disconnect closes any live session and records reason.
func (s *Server) Disconnect(reason string) {
	if sess := s.Session(); sess != nil {
		sess.Close()
	}
	s.State = Disconnected{Reason: reason}
}
