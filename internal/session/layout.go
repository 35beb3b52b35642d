package session

import (
	"strings"

	"github.com/charmbracelet/x/ansi"

	"asterchat/internal/api"
	"asterchat/internal/avatar"
)

// WrapMargin is kept free at the right edge of every wrapped line.
const WrapMargin = 4

const UnknownUser = "Unknown User"

// Peer is a remote user known to a session. Art is rendered once when
// the peer is first seen and never recomputed for the session.
type Peer struct {
	ID   int64
	Name string
	Art  string
}

// LoadedMessage is a message plus its display lines. Lines is always
// rebuilt from scratch.
type LoadedMessage struct {
	Message api.Message
	Lines   []string
}

func NewLoadedMessage(m api.Message, peers map[int64]*Peer, width int) *LoadedMessage {
	lm := &LoadedMessage{Message: m}
	lm.Rebuild(peers, width)
	return lm
}

// Rebuild lays the message out for a pane width columns wide: the
// author's art, then " name: content" wrapped beside it, with
// continuation lines indented to the art's width.
func (lm *LoadedMessage) Rebuild(peers map[int64]*Peer, width int) {
	name, art := UnknownUser, avatar.Blank()
	if p, ok := peers[lm.Message.AuthorID]; ok {
		name, art = p.Name, p.Art
	}
	text := " " + name + ": " + lm.Message.Content
	wrapped := wrapContent(text, width-avatar.Columns)

	indent := strings.Repeat(" ", avatar.Columns)
	lines := make([]string, len(wrapped))
	for i, l := range wrapped {
		if i == 0 {
			lines[i] = art + l
			continue
		}
		lines[i] = indent + l
	}
	lm.Lines = lines
}

// wrapContent splits content into lines no wider than width-WrapMargin.
// Embedded newlines always break.
func wrapContent(content string, width int) []string {
	limit := width - WrapMargin
	if limit < 1 {
		limit = 1
	}
	return strings.Split(ansi.Hardwrap(content, limit, true), "\n")
}
