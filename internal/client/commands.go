package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"asterchat/internal/api"
)

var ErrUnknownCommand = errors.New("unknown command")

// Execute runs one line of user input: a slash command, or plain text
// sent to the selected channel of the focused server.
func (c *Client) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		_, sess, err := c.focusedSession()
		if err != nil {
			return err
		}
		return sess.SendMessage(line)
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/quit", "/q":
		c.Quit()
		return nil
	case "/join", "/j":
		return c.join(rest)
	case "/nick":
		return c.nick(rest)
	case "/pfp":
		return c.pfp(rest)
	case "/edit", "/e":
		id, content, err := c.targetMessage(rest)
		if errors.Is(err, ErrNoSelection) {
			return fmt.Errorf("usage: /edit [message id] <new content>: %w", err)
		}
		if err != nil {
			return err
		}
		if content == "" {
			return fmt.Errorf("usage: /edit [message id] <new content>")
		}
		if err := c.Send(api.EditRequest{Message: id, NewContent: content}); err != nil {
			return err
		}
		c.ClearSelection()
		return nil
	case "/delete", "/d":
		var id int64
		if rest == "" {
			msg, ok := c.SelectedMessage()
			if !ok {
				return fmt.Errorf("usage: /delete [message id]: %w", ErrNoSelection)
			}
			id = msg.ID
		} else {
			n, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				return fmt.Errorf("usage: /delete [message id]")
			}
			id = n
		}
		if err := c.Send(api.DeleteRequest{Message: id}); err != nil {
			return err
		}
		c.ClearSelection()
		return nil
	case "/server", "/s":
		n, err := strconv.Atoi(rest)
		if err != nil {
			return fmt.Errorf("usage: /server <number>")
		}
		return c.SetFocus(n - 1)
	case "/older":
		_, sess, err := c.focusedSession()
		if err != nil {
			return err
		}
		return sess.LoadOlder()
	case "/connect":
		return c.connect(ctx, rest)
	default:
		return fmt.Errorf("%w %q", ErrUnknownCommand, cmd)
	}
}

// join selects the focused server's channel called name.
func (c *Client) join(name string) error {
	srv, sess, err := c.focusedSession()
	if err != nil {
		return err
	}
	name = strings.TrimPrefix(name, "#")
	for i, ch := range sess.Channels {
		if ch.Name == name {
			return sess.SwitchChannel(i)
		}
	}
	return fmt.Errorf("channel %q does not exist on %s", name, srv.Label())
}

// nick renames the account on every connected server.
func (c *Client) nick(name string) error {
	if name == "" {
		return fmt.Errorf("usage: /nick <name>")
	}
	c.username = name
	return c.broadcast(api.NickRequest{Nick: name})
}

// pfp uploads the image at path, or the configured avatar when path is
// empty, to every connected server.
func (c *Client) pfp(path string) error {
	data := c.avatar
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read avatar: %w", err)
		}
		data = base64.StdEncoding.EncodeToString(raw)
		c.avatar = data
	}
	if data == "" {
		return fmt.Errorf("usage: /pfp <image file>")
	}
	return c.broadcast(api.PfpRequest{Data: data})
}

// broadcast sends req to every connected server.
func (c *Client) broadcast(req api.Request) error {
	var errs []error
	for _, srv := range c.Servers {
		sess := srv.Session()
		if sess == nil {
			continue
		}
		if err := sess.Send(req); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", srv.Label(), err))
		}
	}
	return errors.Join(errs...)
}

// connect parses [user@]host[:port] and connects to it.
func (c *Client) connect(ctx context.Context, target string) error {
	if target == "" {
		return fmt.Errorf("usage: /connect [user@]host[:port]")
	}
	username := c.username
	if at := strings.LastIndex(target, "@"); at >= 0 {
		username, target = target[:at], target[at+1:]
	}
	srv := c.AddServer(target, username)
	return c.Connect(ctx, srv)
}
