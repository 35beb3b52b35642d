package api

// Header carries the status shared by every response. Payload fields of
// the embedding type are only populated when the status is Ok.
type Header struct {
	Code Status `json:"status"`
}

func (h Header) Status() Status { return h.Code }

func OK() Header { return Header{Code: StatusOK} }

func WithStatus(s Status) Header { return Header{Code: s} }

type RegisterResponse struct {
	Header
	UUID *int64 `json:"uuid,omitempty"`
}

type LoginResponse struct {
	Header
	UUID *int64 `json:"uuid,omitempty"`
}

type GetMetadataResponse struct {
	Header
	Data []User `json:"data,omitempty"`
}

type OnlineResponse struct {
	Header
	Data []int64 `json:"data,omitempty"`
}

type HistoryResponse struct {
	Header
	Data []Message `json:"data,omitempty"`
}

type GetUserResponse struct {
	Header
	Data *User `json:"data,omitempty"`
}

type GetIconResponse struct {
	Header
	Data *string `json:"data,omitempty"`
}

type GetNameResponse struct {
	Header
	Data *string `json:"data,omitempty"`
}

type ListChannelsResponse struct {
	Header
	Data []Channel `json:"data,omitempty"`
}

type GetEmojiResponse struct {
	Header
	Data *Emoji `json:"data,omitempty"`
}

type ListEmojiResponse struct {
	Header
	Data []EmojiRef `json:"data,omitempty"`
}

// ContentPush is a live message delivered to every client in the
// server, with the message fields flattened next to the status.
type ContentPush struct {
	Header
	Message
}

type APIVersionResponse struct {
	Header
	Version [3]uint8 `json:"version"`
}

// SendResponse acknowledges a send and names the stored message id.
type SendResponse struct {
	Header
	Message int64 `json:"message,omitempty"`
}

type EditResponse struct {
	Header
}

type DeleteResponse struct {
	Header
}

type MessageEdited struct {
	Header
	Message    int64  `json:"message"`
	NewContent string `json:"new_content"`
}

// SyncGetResponse carries the stored profile flattened next to the
// status.
type SyncGetResponse struct {
	Header
	*SyncData
}

type SyncGetServersResponse struct {
	Header
	Servers []SyncServer `json:"servers,omitempty"`
}

type MessageDeleted struct {
	Header
	Message int64 `json:"message"`
}

func (RegisterResponse) Command() string     { return "register" }
func (LoginResponse) Command() string        { return "login" }
func (GetMetadataResponse) Command() string  { return "get_metadata" }
func (OnlineResponse) Command() string       { return "online" }
func (HistoryResponse) Command() string      { return "history" }
func (GetUserResponse) Command() string      { return "get_user" }
func (GetIconResponse) Command() string      { return "get_icon" }
func (GetNameResponse) Command() string      { return "get_name" }
func (ListChannelsResponse) Command() string { return "list_channels" }
func (GetEmojiResponse) Command() string     { return "get_emoji" }
func (ListEmojiResponse) Command() string    { return "list_emoji" }
func (ContentPush) Command() string          { return "content" }
func (APIVersionResponse) Command() string   { return "API_version" }
func (SendResponse) Command() string         { return "send" }
func (EditResponse) Command() string         { return "edit" }
func (DeleteResponse) Command() string       { return "delete" }
func (MessageEdited) Command() string        { return "message_edited" }
func (MessageDeleted) Command() string       { return "message_deleted" }
func (SyncGetResponse) Command() string        { return "sync_get" }
func (SyncGetServersResponse) Command() string { return "sync_get_servers" }

var responseTypes = map[string]func() Response{
	"register":        func() Response { return &RegisterResponse{} },
	"login":           func() Response { return &LoginResponse{} },
	"get_metadata":    func() Response { return &GetMetadataResponse{} },
	"online":          func() Response { return &OnlineResponse{} },
	"history":         func() Response { return &HistoryResponse{} },
	"get_user":        func() Response { return &GetUserResponse{} },
	"get_icon":        func() Response { return &GetIconResponse{} },
	"get_name":        func() Response { return &GetNameResponse{} },
	"list_channels":   func() Response { return &ListChannelsResponse{} },
	"get_emoji":       func() Response { return &GetEmojiResponse{} },
	"list_emoji":      func() Response { return &ListEmojiResponse{} },
	"content":         func() Response { return &ContentPush{} },
	"API_version":     func() Response { return &APIVersionResponse{} },
	"send":            func() Response { return &SendResponse{} },
	"edit":            func() Response { return &EditResponse{} },
	"delete":          func() Response { return &DeleteResponse{} },
	"message_edited":  func() Response { return &MessageEdited{} },
	"message_deleted": func() Response { return &MessageDeleted{} },

	"sync_get":         func() Response { return &SyncGetResponse{} },
	"sync_get_servers": func() Response { return &SyncGetServersResponse{} },
}
