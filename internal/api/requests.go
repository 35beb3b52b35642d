package api

type RegisterRequest struct {
	Passwd string `json:"passwd"`
	Uname  string `json:"uname"`
}

// LoginRequest identifies by exactly one of Uname or UUID; the other is
// sent as null.
type LoginRequest struct {
	Passwd string  `json:"passwd"`
	Uname  *string `json:"uname"`
	UUID   *int64  `json:"uuid"`
}

type PingRequest struct{}

type NickRequest struct {
	Nick string `json:"nick"`
}

type OnlineRequest struct{}

type SendRequest struct {
	Content string `json:"content"`
	Channel int64  `json:"channel"`
}

type GetMetadataRequest struct{}

type GetNameRequest struct{}

type GetIconRequest struct{}

type ListEmojiRequest struct{}

type GetEmojiRequest struct {
	UUID int64 `json:"uuid"`
}

type ListChannelsRequest struct{}

// HistoryRequest asks for up to Num messages of Channel, newest first
// on the server side, strictly older than BeforeMessage when set.
type HistoryRequest struct {
	Num           uint32 `json:"num"`
	Channel       int64  `json:"channel"`
	BeforeMessage *int64 `json:"before_message"`
}

type PfpRequest struct {
	Data string `json:"data"`
}

type LeaveRequest struct{}

type GetUserRequest struct {
	UUID int64 `json:"uuid"`
}

type EditRequest struct {
	Message    int64  `json:"message"`
	NewContent string `json:"new_content"`
}

type DeleteRequest struct {
	Message int64 `json:"message"`
}

// SyncSetRequest stores the profile on a sync server.
type SyncSetRequest struct {
	Uname string `json:"uname"`
	Pfp   string `json:"pfp"`
}

type SyncGetRequest struct{}

// SyncSetServersRequest replaces the stored server list. The field name
// is spelled "severs" on the wire.
type SyncSetServersRequest struct {
	Servers []SyncServer `json:"severs"`
}

type SyncGetServersRequest struct{}

func (RegisterRequest) Command() string     { return "register" }
func (LoginRequest) Command() string        { return "login" }
func (PingRequest) Command() string         { return "ping" }
func (NickRequest) Command() string         { return "nick" }
func (OnlineRequest) Command() string       { return "online" }
func (SendRequest) Command() string         { return "send" }
func (GetMetadataRequest) Command() string  { return "get_metadata" }
func (GetNameRequest) Command() string      { return "get_name" }
func (GetIconRequest) Command() string      { return "get_icon" }
func (ListEmojiRequest) Command() string    { return "list_emoji" }
func (GetEmojiRequest) Command() string     { return "get_emoji" }
func (ListChannelsRequest) Command() string { return "list_channels" }
func (HistoryRequest) Command() string      { return "history" }
func (PfpRequest) Command() string          { return "pfp" }
func (LeaveRequest) Command() string        { return "leave" }
func (GetUserRequest) Command() string      { return "get_user" }
func (EditRequest) Command() string         { return "edit" }
func (DeleteRequest) Command() string       { return "delete" }

func (SyncSetRequest) Command() string        { return "sync_set" }
func (SyncGetRequest) Command() string        { return "sync_get" }
func (SyncSetServersRequest) Command() string { return "sync_set_servers" }
func (SyncGetServersRequest) Command() string { return "sync_get_servers" }

func (RegisterRequest) isRequest()     {}
func (LoginRequest) isRequest()        {}
func (PingRequest) isRequest()         {}
func (NickRequest) isRequest()         {}
func (OnlineRequest) isRequest()       {}
func (SendRequest) isRequest()         {}
func (GetMetadataRequest) isRequest()  {}
func (GetNameRequest) isRequest()      {}
func (GetIconRequest) isRequest()      {}
func (ListEmojiRequest) isRequest()    {}
func (GetEmojiRequest) isRequest()     {}
func (ListChannelsRequest) isRequest() {}
func (HistoryRequest) isRequest()      {}
func (PfpRequest) isRequest()          {}
func (LeaveRequest) isRequest()        {}
func (GetUserRequest) isRequest()      {}
func (EditRequest) isRequest()         {}
func (DeleteRequest) isRequest()       {}

func (SyncSetRequest) isRequest()        {}
func (SyncGetRequest) isRequest()        {}
func (SyncSetServersRequest) isRequest() {}
func (SyncGetServersRequest) isRequest() {}

var requestTypes = map[string]func() Request{
	"register":      func() Request { return &RegisterRequest{} },
	"login":         func() Request { return &LoginRequest{} },
	"ping":          func() Request { return &PingRequest{} },
	"nick":          func() Request { return &NickRequest{} },
	"online":        func() Request { return &OnlineRequest{} },
	"send":          func() Request { return &SendRequest{} },
	"get_metadata":  func() Request { return &GetMetadataRequest{} },
	"get_name":      func() Request { return &GetNameRequest{} },
	"get_icon":      func() Request { return &GetIconRequest{} },
	"list_emoji":    func() Request { return &ListEmojiRequest{} },
	"get_emoji":     func() Request { return &GetEmojiRequest{} },
	"list_channels": func() Request { return &ListChannelsRequest{} },
	"history":       func() Request { return &HistoryRequest{} },
	"pfp":           func() Request { return &PfpRequest{} },
	"leave":         func() Request { return &LeaveRequest{} },
	"get_user":      func() Request { return &GetUserRequest{} },
	"edit":          func() Request { return &EditRequest{} },
	"delete":        func() Request { return &DeleteRequest{} },

	"sync_set":         func() Request { return &SyncSetRequest{} },
	"sync_get":         func() Request { return &SyncGetRequest{} },
	"sync_set_servers": func() Request { return &SyncSetServersRequest{} },
	"sync_get_servers": func() Request { return &SyncGetServersRequest{} },
}

// LoginByName and LoginByID build the two login shapes.
func LoginByName(uname, passwd string) LoginRequest {
	return LoginRequest{Passwd: passwd, Uname: &uname}
}

func LoginByID(id int64, passwd string) LoginRequest {
	return LoginRequest{Passwd: passwd, UUID: &id}
}
