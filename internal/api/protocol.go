package api

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingStatus  = errors.New("response has no status")
)

// Frame is anything that travels as one line of the protocol. The
// command name is written as the "command" discriminator field.
type Frame interface {
	Command() string
}

type Request interface {
	Frame
	isRequest()
}

type Response interface {
	Frame
	Status() Status
}

type Channel struct {
	ID   int64  `json:"uuid"`
	Name string `json:"name"`
}

type User struct {
	ID      int64  `json:"uuid"`
	Name    string `json:"name"`
	Pfp     string `json:"pfp"`
	GroupID int64  `json:"group_uuid"`
}

type Emoji struct {
	ID   int64  `json:"uuid"`
	Name string `json:"name"`
	Data string `json:"data"`
}

// EmojiRef is one entry of a list_emoji response, sent as a
// two-element [name, id] array.
type EmojiRef struct {
	Name string
	ID   int64
}

func (e EmojiRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Name, e.ID})
}

func (e *EmojiRef) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("emoji ref: expected 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &e.Name); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &e.ID)
}

// SyncServer is one entry of the server list a sync server keeps for an
// account. Idx orders the list.
type SyncServer struct {
	UUID  *int64  `json:"uuid"`
	Uname string  `json:"uname"`
	IP    string  `json:"ip"`
	Port  int     `json:"port"`
	Pfp   *string `json:"pfp"`
	Name  *string `json:"name"`
	Idx   int     `json:"idx"`
}

// SyncData is the profile a sync server keeps for an account.
type SyncData struct {
	UserUUID int64  `json:"user_uuid"`
	Uname    string `json:"uname"`
	Pfp      string `json:"pfp"`
}

type Message struct {
	ID        int64  `json:"uuid"`
	Content   string `json:"content"`
	AuthorID  int64  `json:"author_uuid"`
	ChannelID int64  `json:"channel_uuid"`
	Date      int64  `json:"date"`
	Edited    bool   `json:"edited"`
}

// Encode renders f as a single JSON object with the command
// discriminator first. The trailing newline is left to the writer.
func Encode(f Frame) ([]byte, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", f.Command(), err)
	}
	name, err := json.Marshal(f.Command())
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+len(name)+12)
	out = append(out, `{"command":`...)
	out = append(out, name...)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}

type envelope struct {
	Command string `json:"command"`
	Status  Status `json:"status"`
}

func DecodeRequest(line []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, err
	}
	newReq, ok := requestTypes[env.Command]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Command)
	}
	req := newReq()
	if err := json.Unmarshal(line, req); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Command, err)
	}
	return req, nil
}

func DecodeResponse(line []byte) (Response, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, err
	}
	newResp, ok := responseTypes[env.Command]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Command)
	}
	if env.Status == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingStatus, env.Command)
	}
	resp := newResp()
	if err := json.Unmarshal(line, resp); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Command, err)
	}
	return resp, nil
}
