package client

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"asterchat/internal/api"
	"asterchat/internal/session"
)

var ErrNoSelection = errors.New("no message selected")

// selection is the message cursor. It names a message by id on one
// server, so it goes stale on its own when the message is deleted or
// the channel changes.
type selection struct {
	srv *session.Server
	id  int64
}

// SelectMessage moves the cursor over the visible messages of the
// focused server: negative steps move toward older messages. Moving
// past the newest message clears the cursor.
func (c *Client) SelectMessage(step int) (api.Message, bool) {
	srv, sess, err := c.focusedSession()
	if err != nil {
		c.ClearSelection()
		return api.Message{}, false
	}
	visible := sess.Visible()
	pos := len(visible)
	if c.sel != nil && c.sel.srv == srv {
		for i, lm := range visible {
			if lm.Message.ID == c.sel.id {
				pos = i
				break
			}
		}
	}
	pos += step
	if pos >= len(visible) || len(visible) == 0 {
		c.ClearSelection()
		return api.Message{}, false
	}
	if pos < 0 {
		pos = 0
	}
	c.sel = &selection{srv: srv, id: visible[pos].Message.ID}
	return visible[pos].Message, true
}

// SelectedMessage returns the message under the cursor while it is
// still visible on the focused server.
func (c *Client) SelectedMessage() (api.Message, bool) {
	if c.sel == nil || c.sel.srv != c.Focused() {
		return api.Message{}, false
	}
	sess := c.sel.srv.Session()
	if sess == nil {
		return api.Message{}, false
	}
	for _, lm := range sess.Visible() {
		if lm.Message.ID == c.sel.id {
			return lm.Message, true
		}
	}
	return api.Message{}, false
}

func (c *Client) ClearSelection() {
	c.sel = nil
}

// EditDraft returns the content of the selected message for editing.
func (c *Client) EditDraft() (string, error) {
	msg, ok := c.SelectedMessage()
	if !ok {
		return "", ErrNoSelection
	}
	return msg.Content, nil
}

// targetMessage resolves the message an /edit or /delete acts on: the
// selected one, or else the id given as the first argument. rest is
// what follows the id.
func (c *Client) targetMessage(args string) (id int64, rest string, err error) {
	if msg, ok := c.SelectedMessage(); ok {
		return msg.ID, args, nil
	}
	idText, rest, _ := strings.Cut(args, " ")
	if idText == "" {
		return 0, "", ErrNoSelection
	}
	id, err = strconv.ParseInt(idText, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid message id %q", idText)
	}
	return id, strings.TrimSpace(rest), nil
}
