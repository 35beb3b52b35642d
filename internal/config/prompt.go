package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var (
	ErrNoTerminal = errors.New("no terminal available for interactive prompt")
	ErrInputEnded = errors.New("input closed before a line was read")
)

// Prompter asks for credentials missing from the preferences file.
type Prompter struct {
	In  io.Reader
	Out io.Writer
	// Interactive is false when In is not a terminal. Missing
	// credentials are then an error and In is left untouched for the
	// chat input.
	Interactive bool
	// ReadPassword reads a line without echo. Nil reads a visible line
	// from In.
	ReadPassword func() ([]byte, error)
}

// TerminalPrompter prompts on stderr and reads from stdin when stdin
// is a terminal, hiding the password.
func TerminalPrompter() *Prompter {
	p := &Prompter{In: os.Stdin, Out: os.Stderr}
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		p.Interactive = true
		p.ReadPassword = func() ([]byte, error) { return term.ReadPassword(fd) }
	}
	return p
}

// line reads up to the next newline one byte at a time, so nothing
// past it is consumed from In.
func (p *Prompter) line(label string) (string, error) {
	fmt.Fprint(p.Out, label)
	var (
		b   strings.Builder
		buf [1]byte
	)
	for {
		n, err := p.In.Read(buf[:])
		if n == 1 {
			if buf[0] == '\n' {
				return strings.TrimSpace(b.String()), nil
			}
			b.WriteByte(buf[0])
		}
		if err == io.EOF {
			if b.Len() == 0 {
				return "", ErrInputEnded
			}
			return strings.TrimSpace(b.String()), nil
		}
		if err != nil {
			return "", err
		}
	}
}

// Fill asks for the username and password when prefs lacks them.
func (p *Prompter) Fill(prefs *Preferences) error {
	if prefs.Uname != "" && prefs.Passwd != "" {
		return nil
	}
	if !p.Interactive {
		return fmt.Errorf("uname and passwd must be set in the preferences file: %w", ErrNoTerminal)
	}
	for prefs.Uname == "" {
		name, err := p.line("Username: ")
		if err != nil {
			return fmt.Errorf("reading username: %w", err)
		}
		prefs.Uname = name
	}
	if prefs.Passwd != "" {
		return nil
	}
	if p.ReadPassword == nil {
		pw, err := p.line("Password: ")
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		prefs.Passwd = pw
		return nil
	}
	fmt.Fprint(p.Out, "Password: ")
	pw, err := p.ReadPassword()
	fmt.Fprintln(p.Out)
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	prefs.Passwd = strings.TrimRight(string(pw), "\r\n")
	return nil
}
