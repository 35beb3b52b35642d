package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"asterchat/internal/api"
	"asterchat/internal/client"
	"asterchat/internal/config"
	"asterchat/internal/netsec"
	"asterchat/internal/session"
)

type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func startTestServer(t *testing.T) (string, *Server) {
	t.Helper()
	tmp := t.TempDir()
	store, err := openSQLiteStore(filepath.Join(tmp, "dev.db"), []string{"general", "#random"})
	if err != nil {
		t.Fatalf("open store failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	certPath := filepath.Join(tmp, "server.crt")
	keyPath := filepath.Join(tmp, "server.key")
	if err := netsec.EnsureSelfSignedCert(certPath, keyPath, []string{"127.0.0.1"}); err != nil {
		t.Fatalf("ensure cert failed: %v", err)
	}
	cfg, err := netsec.ServerTLSConfig(certPath, keyPath)
	if err != nil {
		t.Fatalf("server tls config failed: %v", err)
	}
	ln, err := tls.Listen("tcp", "127.0.0.1:0", cfg)
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	s := NewServer(store, Options{Name: "Test Server", MaxMsgsPerSec: 1000, BurstMessages: 1000})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Errorf("server did not stop")
		}
	})
	return ln.Addr().String(), s
}

func newTestClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := tls.Dial("tcp", addr, netsec.ClientTLSConfigInsecure())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	c := &testClient{conn: conn, reader: bufio.NewReader(conn)}
	if v := c.expect(t, "API_version").(*api.APIVersionResponse); v.Version != apiVersion {
		t.Fatalf("unexpected version %v", v.Version)
	}
	return c
}

func (c *testClient) send(t *testing.T, req api.Request) {
	t.Helper()
	line, err := api.Encode(req)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

// expect reads frames until one with the given command arrives.
func (c *testClient) expect(t *testing.T, command string) api.Response {
	t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			t.Fatalf("waiting for %s: %v", command, err)
		}
		resp, err := api.DecodeResponse([]byte(strings.TrimSpace(line)))
		if err != nil {
			t.Fatalf("decode %q failed: %v", line, err)
		}
		if resp.Command() == command {
			return resp
		}
	}
}

func (c *testClient) register(t *testing.T, name string) int64 {
	t.Helper()
	c.send(t, api.RegisterRequest{Uname: name, Passwd: "pw-" + name})
	r := c.expect(t, "register").(*api.RegisterResponse)
	if !r.Status().OK() || r.UUID == nil {
		t.Fatalf("register failed: %+v", r)
	}
	return *r.UUID
}

func TestRegisterAndLoginStatuses(t *testing.T) {
	addr, _ := startTestServer(t)
	alice := newTestClient(t, addr)
	id := alice.register(t, "alice")

	dup := newTestClient(t, addr)
	dup.send(t, api.RegisterRequest{Uname: "alice", Passwd: "x"})
	if got := dup.expect(t, "register").Status(); got != api.StatusConflict {
		t.Fatalf("expected conflict, got %v", got)
	}

	cases := []struct {
		req  api.LoginRequest
		want api.Status
	}{
		{api.LoginByName("nobody", "x"), api.StatusNotFound},
		{api.LoginByName("alice", "wrong"), api.StatusForbidden},
		{api.LoginByID(id+100, "pw-alice"), api.StatusNotFound},
		{api.LoginByID(id, "pw-alice"), api.StatusOK},
	}
	for _, tc := range cases {
		c := newTestClient(t, addr)
		c.send(t, tc.req)
		r := c.expect(t, "login").(*api.LoginResponse)
		if r.Status() != tc.want {
			t.Fatalf("login %+v: status %v, want %v", tc.req, r.Status(), tc.want)
		}
		if tc.want == api.StatusOK && (r.UUID == nil || *r.UUID != id) {
			t.Fatalf("unexpected uuid in %+v", r)
		}
	}
}

func TestRequestsBeforeLoginAreUnauthorised(t *testing.T) {
	addr, _ := startTestServer(t)
	c := newTestClient(t, addr)
	c.send(t, api.ListChannelsRequest{})
	if got := c.expect(t, "list_channels").Status(); got != api.StatusUnauthorised {
		t.Fatalf("expected unauthorised, got %v", got)
	}
	c.send(t, api.GetNameRequest{})
	name := c.expect(t, "get_name").(*api.GetNameResponse)
	if name.Data == nil || *name.Data != "Test Server" {
		t.Fatalf("unexpected name %+v", name)
	}
}

func TestSendBroadcastsToEveryClient(t *testing.T) {
	addr, _ := startTestServer(t)
	alice := newTestClient(t, addr)
	aliceID := alice.register(t, "alice")
	bob := newTestClient(t, addr)
	bob.register(t, "bob")

	alice.send(t, api.ListChannelsRequest{})
	chans := alice.expect(t, "list_channels").(*api.ListChannelsResponse)
	if len(chans.Data) != 2 || chans.Data[0].Name != "general" || chans.Data[1].Name != "random" {
		t.Fatalf("unexpected channels %+v", chans.Data)
	}
	general := chans.Data[0].ID

	alice.send(t, api.SendRequest{Content: "hello bob", Channel: general})
	push := bob.expect(t, "content").(*api.ContentPush)
	if push.Content != "hello bob" || push.AuthorID != aliceID || push.ChannelID != general {
		t.Fatalf("unexpected push %+v", push)
	}
	ack := alice.expect(t, "send").(*api.SendResponse)
	if !ack.Status().OK() || ack.Message != push.ID {
		t.Fatalf("unexpected ack %+v", ack)
	}

	alice.send(t, api.SendRequest{Content: "lost", Channel: general + 99})
	if got := alice.expect(t, "send").Status(); got != api.StatusNotFound {
		t.Fatalf("expected not found, got %v", got)
	}
}

func TestHistoryPagesOldestFirst(t *testing.T) {
	addr, s := startTestServer(t)
	alice := newTestClient(t, addr)
	id := alice.register(t, "alice")
	var ids []int64
	for i := 0; i < 5; i++ {
		m, err := s.store.addMessage(id, 1, fmt.Sprintf("m%d", i))
		if err != nil {
			t.Fatalf("add message failed: %v", err)
		}
		ids = append(ids, m.ID)
	}

	alice.send(t, api.HistoryRequest{Num: 2, Channel: 1})
	page := alice.expect(t, "history").(*api.HistoryResponse)
	if len(page.Data) != 2 || page.Data[0].ID != ids[3] || page.Data[1].ID != ids[4] {
		t.Fatalf("unexpected latest page %+v", page.Data)
	}

	before := ids[3]
	alice.send(t, api.HistoryRequest{Num: 10, Channel: 1, BeforeMessage: &before})
	page = alice.expect(t, "history").(*api.HistoryResponse)
	if len(page.Data) != 3 || page.Data[0].ID != ids[0] || page.Data[2].ID != ids[2] {
		t.Fatalf("unexpected older page %+v", page.Data)
	}
}

func TestEditAndDeleteRequireAuthor(t *testing.T) {
	addr, _ := startTestServer(t)
	alice := newTestClient(t, addr)
	alice.register(t, "alice")
	bob := newTestClient(t, addr)
	bob.register(t, "bob")

	alice.send(t, api.SendRequest{Content: "typo", Channel: 1})
	msg := alice.expect(t, "send").(*api.SendResponse).Message

	bob.send(t, api.EditRequest{Message: msg, NewContent: "hijack"})
	if got := bob.expect(t, "edit").Status(); got != api.StatusForbidden {
		t.Fatalf("expected forbidden edit, got %v", got)
	}
	alice.send(t, api.EditRequest{Message: msg, NewContent: "fixed"})
	edited := bob.expect(t, "message_edited").(*api.MessageEdited)
	if edited.Message != msg || edited.NewContent != "fixed" {
		t.Fatalf("unexpected edit push %+v", edited)
	}

	bob.send(t, api.DeleteRequest{Message: msg})
	if got := bob.expect(t, "delete").Status(); got != api.StatusForbidden {
		t.Fatalf("expected forbidden delete, got %v", got)
	}
	alice.send(t, api.DeleteRequest{Message: msg})
	if deleted := bob.expect(t, "message_deleted").(*api.MessageDeleted); deleted.Message != msg {
		t.Fatalf("unexpected delete push %+v", deleted)
	}
	alice.send(t, api.DeleteRequest{Message: msg})
	if got := alice.expect(t, "delete").Status(); got != api.StatusNotFound {
		t.Fatalf("expected not found, got %v", got)
	}
}

func TestNickBroadcastsMetadata(t *testing.T) {
	addr, _ := startTestServer(t)
	alice := newTestClient(t, addr)
	id := alice.register(t, "alice")
	bob := newTestClient(t, addr)
	bob.register(t, "bob")

	alice.send(t, api.NickRequest{Nick: "Alice"})
	for {
		meta := bob.expect(t, "get_metadata").(*api.GetMetadataResponse)
		if len(meta.Data) == 1 && meta.Data[0].ID == id && meta.Data[0].Name == "Alice" {
			break
		}
	}
}

func TestSyncProfileAndServerList(t *testing.T) {
	addr, _ := startTestServer(t)
	alice := newTestClient(t, addr)
	id := alice.register(t, "alice")

	alice.send(t, api.SyncGetRequest{})
	if got := alice.expect(t, "sync_get").Status(); got != api.StatusNotFound {
		t.Fatalf("expected not found before sync_set, got %v", got)
	}
	alice.send(t, api.SyncSetRequest{Uname: "alice", Pfp: "aGk="})
	alice.send(t, api.SyncGetRequest{})
	data := alice.expect(t, "sync_get").(*api.SyncGetResponse)
	if data.SyncData == nil || data.UserUUID != id || data.Uname != "alice" || data.Pfp != "aGk=" {
		t.Fatalf("unexpected profile %+v", data)
	}

	name := "Home"
	alice.send(t, api.SyncSetServersRequest{Servers: []api.SyncServer{
		{Uname: "al", IP: "10.0.0.2", Port: 4000, Idx: 1},
		{UUID: &id, Uname: "alice", IP: "chat.example", Port: 2345, Name: &name, Idx: 0},
	}})
	alice.send(t, api.SyncGetServersRequest{})
	list := alice.expect(t, "sync_get_servers").(*api.SyncGetServersResponse).Servers
	if len(list) != 2 || list[0].IP != "chat.example" || list[0].UUID == nil || *list[0].UUID != id ||
		list[0].Name == nil || *list[0].Name != "Home" || list[1].UUID != nil || list[1].Port != 4000 {
		t.Fatalf("unexpected server list %+v", list)
	}

	bob := newTestClient(t, addr)
	bob.send(t, api.SyncGetServersRequest{})
	if got := bob.expect(t, "sync_get_servers").Status(); got != api.StatusUnauthorised {
		t.Fatalf("expected unauthorised, got %v", got)
	}
}

// TestClientEngineEndToEnd drives the real client engine against the
// server: register on first login, bootstrap, join, send and receive.
func TestClientEngineEndToEnd(t *testing.T) {
	addr, _ := startTestServer(t)
	host, port, _ := net.SplitHostPort(addr)
	portNum, err := strconv.Atoi(port)
	if err != nil {
		t.Fatalf("bad port %q", port)
	}

	prefs := &config.Preferences{
		Uname:   "carol",
		Passwd:  "secret",
		Servers: []config.ServerEntry{{IP: host, Port: portNum}},
	}
	c := client.Start(context.Background(), client.Config{Preferences: prefs, Width: 60})
	defer c.Stop(2 * time.Second)
	ctx := c.Context()
	c.ConnectAll(ctx)

	srv := c.Servers[0]
	step := func(done func() bool) {
		t.Helper()
		deadline, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		for !done() {
			ev, ok := c.Queue().Next(deadline)
			if !ok {
				t.Fatalf("timed out; status %q state %#v", c.Status(), srv.State)
			}
			c.Handle(ctx, ev)
		}
	}

	step(func() bool {
		sess := srv.Session()
		return sess != nil && sess.Phase() == session.PhaseReady && len(sess.Channels) == 2 && srv.Name == "Test Server"
	})
	if _, ok := srv.ID(); !ok {
		t.Fatalf("expected id assigned after register")
	}
	if err := c.Execute(ctx, "/join general"); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := c.Execute(ctx, "hi from the engine"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	step(func() bool {
		for _, lm := range srv.Session().Messages {
			if lm.Message.Content == "hi from the engine" {
				return true
			}
		}
		return false
	})
}
