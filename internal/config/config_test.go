package config

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const samplePrefs = `{
	// account used on every server unless overridden
	"uname": "alice",
	"passwd": "secret",
	"pfp": "",
	"servers": [
		{"ip": "chat.example", "port": 2345, "name": "Home"},
		{"ip": "10.0.0.2", "port": 9000, "uuid": 42, "uname": "al"},
		/* no port */
		{"ip": "edge.example"},
		{"ip": ""},
	],
}`

func TestParseAcceptsCommentsAndTrailingCommas(t *testing.T) {
	prefs, err := Parse([]byte(samplePrefs))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if prefs.Uname != "alice" || prefs.Passwd != "secret" {
		t.Fatalf("unexpected account: %+v", prefs)
	}
	if len(prefs.Servers) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(prefs.Servers))
	}
	if got := prefs.Servers[2].Address(); got != "edge.example:2345" {
		t.Fatalf("default port not applied: %s", got)
	}
}

func TestBuildServers(t *testing.T) {
	prefs, err := Parse([]byte(samplePrefs))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	servers := prefs.BuildServers()
	if len(servers) != 3 {
		t.Fatalf("expected 3 servers, got %d", len(servers))
	}
	if servers[0].Address != "chat.example:2345" || servers[0].Name != "Home" || servers[0].Username != "alice" {
		t.Fatalf("unexpected first server: %+v", servers[0].Identity)
	}
	if id, ok := servers[1].ID(); !ok || id != 42 || servers[1].Username != "al" {
		t.Fatalf("unexpected second server: %+v", servers[1].Identity)
	}
	if servers[1].Identification().ByID != true {
		t.Fatalf("known id should log in by id")
	}
}

func TestBuildServersSkipsAnonymousEntries(t *testing.T) {
	prefs, err := Parse([]byte(`{"servers":[{"ip":"a.example"}]}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got := prefs.BuildServers(); len(got) != 0 {
		t.Fatalf("expected entry without any identity to be skipped, got %d", len(got))
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	prefs, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if prefs.Servers == nil || len(prefs.Servers) != 0 {
		t.Fatalf("expected empty server list, got %#v", prefs.Servers)
	}
}

func TestLoadReportsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), PreferencesFile)
	if err := os.WriteFile(path, []byte(`{"servers": [`), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestPrompterFillsMissingCredentials(t *testing.T) {
	var out strings.Builder
	p := &Prompter{In: strings.NewReader("\nbob\nhunter2\n"), Out: &out, Interactive: true}
	prefs := Default()
	if err := p.Fill(prefs); err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	if prefs.Uname != "bob" || prefs.Passwd != "hunter2" {
		t.Fatalf("unexpected credentials: %q %q", prefs.Uname, prefs.Passwd)
	}
	if !strings.Contains(out.String(), "Username: ") {
		t.Fatalf("missing prompt: %q", out.String())
	}
}

func TestPrompterKeepsConfiguredCredentials(t *testing.T) {
	p := &Prompter{
		In:  strings.NewReader(""),
		Out: io.Discard,
		ReadPassword: func() ([]byte, error) {
			t.Fatalf("password should not be asked for")
			return nil, nil
		},
	}
	prefs := &Preferences{Uname: "alice", Passwd: "secret"}
	if err := p.Fill(prefs); err != nil {
		t.Fatalf("fill failed: %v", err)
	}
}

func TestPrompterUsesHiddenReader(t *testing.T) {
	p := &Prompter{
		In:           strings.NewReader(""),
		Out:          io.Discard,
		Interactive:  true,
		ReadPassword: func() ([]byte, error) { return []byte("s3cret"), nil },
	}
	prefs := &Preferences{Uname: "alice"}
	if err := p.Fill(prefs); err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	if prefs.Passwd != "s3cret" {
		t.Fatalf("unexpected password %q", prefs.Passwd)
	}
}

func TestPrompterReportsClosedInput(t *testing.T) {
	p := &Prompter{In: strings.NewReader(""), Out: io.Discard, Interactive: true}
	if err := p.Fill(Default()); !errors.Is(err, ErrInputEnded) {
		t.Fatalf("expected ErrInputEnded, got %v", err)
	}
}

func TestPrompterLeavesPipedInputAlone(t *testing.T) {
	in := strings.NewReader("hello\n/join general\n")
	var out strings.Builder
	p := &Prompter{In: in, Out: &out}
	if err := p.Fill(Default()); !errors.Is(err, ErrNoTerminal) {
		t.Fatalf("expected ErrNoTerminal, got %v", err)
	}
	if in.Len() != len("hello\n/join general\n") || out.Len() != 0 {
		t.Fatalf("prompter touched piped input: %d bytes left, output %q", in.Len(), out.String())
	}
}

func TestPrompterReadsNoFurtherThanItsLines(t *testing.T) {
	in := strings.NewReader("bob\nhello\n")
	p := &Prompter{In: in, Out: io.Discard, Interactive: true}
	prefs := &Preferences{Passwd: "secret"}
	if err := p.Fill(prefs); err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	rest, _ := io.ReadAll(in)
	if prefs.Uname != "bob" || string(rest) != "hello\n" {
		t.Fatalf("unexpected state: uname %q, rest %q", prefs.Uname, rest)
	}
}
