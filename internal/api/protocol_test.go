package api

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestEncodeLoginMatchesWireShape(t *testing.T) {
	got, err := Encode(LoginByName("alice", "secret"))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	want := `{"command":"login","passwd":"secret","uname":"alice","uuid":null}`
	if string(got) != want {
		t.Fatalf("unexpected login frame:\n got=%s\nwant=%s", got, want)
	}
}

func TestEncodeHistoryWithoutLowerBound(t *testing.T) {
	got, err := Encode(HistoryRequest{Num: 100, Channel: 7})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	want := `{"command":"history","num":100,"channel":7,"before_message":null}`
	if string(got) != want {
		t.Fatalf("unexpected history frame:\n got=%s\nwant=%s", got, want)
	}
}

func TestEncodeEmptyRequest(t *testing.T) {
	got, err := Encode(ListChannelsRequest{})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if string(got) != `{"command":"list_channels"}` {
		t.Fatalf("unexpected frame: %s", got)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	before := int64(55)
	pfp, name := "aGk=", "Home"
	requests := []Request{
		RegisterRequest{Passwd: "pw", Uname: "bob"},
		LoginByName("alice", "secret"),
		LoginByID(42, "secret"),
		PingRequest{},
		NickRequest{Nick: "al"},
		OnlineRequest{},
		SendRequest{Content: "hello\nworld", Channel: 3},
		GetMetadataRequest{},
		GetNameRequest{},
		GetIconRequest{},
		ListEmojiRequest{},
		GetEmojiRequest{UUID: 9},
		ListChannelsRequest{},
		HistoryRequest{Num: 100, Channel: 7},
		HistoryRequest{Num: 50, Channel: 7, BeforeMessage: &before},
		PfpRequest{Data: "aGk="},
		LeaveRequest{},
		GetUserRequest{UUID: 12},
		EditRequest{Message: 4, NewContent: "fixed"},
		DeleteRequest{Message: 4},
		SyncSetRequest{Uname: "alice", Pfp: "aGk="},
		SyncGetRequest{},
		SyncSetServersRequest{Servers: []SyncServer{
			{UUID: &before, Uname: "alice", IP: "chat.example", Port: 2345, Idx: 0},
			{Uname: "al", IP: "10.0.0.2", Port: 4000, Pfp: &pfp, Name: &name, Idx: 1},
		}},
		SyncGetServersRequest{},
	}
	for _, req := range requests {
		line, err := Encode(req)
		if err != nil {
			t.Fatalf("encode %s failed: %v", req.Command(), err)
		}
		decoded, err := DecodeRequest(line)
		if err != nil {
			t.Fatalf("decode %s failed: %v", req.Command(), err)
		}
		got := reflect.ValueOf(decoded).Elem().Interface()
		if !reflect.DeepEqual(got, req) {
			t.Fatalf("round trip mismatch for %s: got=%#v want=%#v", req.Command(), got, req)
		}
		again, err := Encode(decoded)
		if err != nil {
			t.Fatalf("re-encode %s failed: %v", req.Command(), err)
		}
		if !bytes.Equal(line, again) {
			t.Fatalf("re-encoded frame differs: %s vs %s", line, again)
		}
	}
}

func TestDecodeLoginResponse(t *testing.T) {
	resp, err := DecodeResponse([]byte(`{"command":"login","status":200,"uuid":42}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	login, ok := resp.(*LoginResponse)
	if !ok {
		t.Fatalf("expected *LoginResponse, got %T", resp)
	}
	if !login.Status().OK() || login.UUID == nil || *login.UUID != 42 {
		t.Fatalf("unexpected login response: %+v", login)
	}
}

func TestDecodeContentPushFlattensMessage(t *testing.T) {
	line := `{"command":"content","status":200,"uuid":9,"content":"hi","author_uuid":42,"channel_uuid":7,"date":1234,"edited":false}`
	resp, err := DecodeResponse([]byte(line))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	push, ok := resp.(*ContentPush)
	if !ok {
		t.Fatalf("expected *ContentPush, got %T", resp)
	}
	want := Message{ID: 9, Content: "hi", AuthorID: 42, ChannelID: 7, Date: 1234}
	if push.Message != want {
		t.Fatalf("unexpected message: got=%+v want=%+v", push.Message, want)
	}
	encoded, err := Encode(push)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if string(encoded) != line {
		t.Fatalf("content push did not re-encode identically:\n got=%s\nwant=%s", encoded, line)
	}
}

func TestDecodeErrorStatusWithoutPayload(t *testing.T) {
	resp, err := DecodeResponse([]byte(`{"command":"get_metadata","status":403}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	meta := resp.(*GetMetadataResponse)
	if meta.Status() != StatusForbidden || meta.Data != nil {
		t.Fatalf("unexpected response: %+v", meta)
	}
}

func TestDecodeListEmojiPairs(t *testing.T) {
	resp, err := DecodeResponse([]byte(`{"command":"list_emoji","status":200,"data":[["wave",1],["tada",2]]}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	got := resp.(*ListEmojiResponse).Data
	want := []EmojiRef{{Name: "wave", ID: 1}, {Name: "tada", ID: 2}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected emoji list: %+v", got)
	}
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	if _, err := DecodeResponse([]byte(`{"command":"login","status":`)); err == nil {
		t.Fatalf("expected truncated json to fail")
	}
	if _, err := DecodeResponse([]byte(`{"command":"teleport","status":200}`)); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
	if _, err := DecodeResponse([]byte(`{"command":"login","uuid":1}`)); !errors.Is(err, ErrMissingStatus) {
		t.Fatalf("expected ErrMissingStatus, got %v", err)
	}
}

func TestStatusNames(t *testing.T) {
	if StatusConflict.String() != "Conflict" {
		t.Fatalf("unexpected name: %s", StatusConflict)
	}
	if Status(418).String() != "Status(418)" {
		t.Fatalf("unexpected name for unknown status: %s", Status(418))
	}
}

func TestSyncFramesWireShape(t *testing.T) {
	line, err := Encode(SyncSetServersRequest{Servers: []SyncServer{{Uname: "al", IP: "h", Port: 1}}})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	want := `{"command":"sync_set_servers","severs":[{"uuid":null,"uname":"al","ip":"h","port":1,"pfp":null,"name":null,"idx":0}]}`
	if string(line) != want {
		t.Fatalf("unexpected frame:\n got %s\nwant %s", line, want)
	}

	resp, err := DecodeResponse([]byte(`{"command":"sync_get","status":200,"user_uuid":3,"uname":"alice","pfp":""}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	got := resp.(*SyncGetResponse)
	if got.SyncData == nil || got.UserUUID != 3 || got.Uname != "alice" {
		t.Fatalf("unexpected sync_get %+v", got)
	}

	resp, err = DecodeResponse([]byte(`{"command":"sync_get","status":404}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got := resp.(*SyncGetResponse); got.Status() != StatusNotFound || got.SyncData != nil {
		t.Fatalf("unexpected sync_get failure %+v", got)
	}

	resp, err = DecodeResponse([]byte(`{"command":"sync_get_servers","status":200,"servers":[{"uuid":4,"uname":"al","ip":"h","port":1,"pfp":null,"name":"Home","idx":0}]}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	list := resp.(*SyncGetServersResponse).Servers
	if len(list) != 1 || list[0].UUID == nil || *list[0].UUID != 4 || list[0].Name == nil || *list[0].Name != "Home" || list[0].Pfp != nil {
		t.Fatalf("unexpected servers %+v", list)
	}
}
