package notify

import (
	"errors"
	"testing"
)

type sent struct{ title, body string }

func fakeDesktop(calls *[]sent, err error) *Desktop {
	d := NewDesktop("aster")
	d.notify = func(title, body string) error {
		*calls = append(*calls, sent{title, body})
		return err
	}
	return d
}

func TestNotifyPassesTitleAndBody(t *testing.T) {
	var calls []sent
	d := fakeDesktop(&calls, nil)
	if err := d.Notify("#general", "carol: hi"); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if len(calls) != 1 || calls[0] != (sent{"#general", "carol: hi"}) {
		t.Fatalf("unexpected notifications %+v", calls)
	}
	if d.AppName != "aster" {
		t.Fatalf("unexpected app name %q", d.AppName)
	}
}

func TestNotifyFlattensMultilineBody(t *testing.T) {
	var calls []sent
	d := fakeDesktop(&calls, nil)
	if err := d.Notify("#general", "carol: first\n  second\tline"); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if calls[0].body != "carol: first second line" {
		t.Fatalf("unexpected body %q", calls[0].body)
	}
}

func TestNotifyWrapsBackendError(t *testing.T) {
	boom := errors.New("no notification daemon")
	var calls []sent
	d := fakeDesktop(&calls, boom)
	if err := d.Notify("a", "b"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
}

func TestDiscardDropsEverything(t *testing.T) {
	if err := (Discard{}).Notify("a", "b"); err != nil {
		t.Fatalf("discard returned %v", err)
	}
}
