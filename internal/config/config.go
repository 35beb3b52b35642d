// Package config reads the client's preferences file. The file is JSON
// and may carry // and /* */ comments and trailing commas.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tidwall/jsonc"

	"asterchat/internal/session"
)

const (
	AppDir          = "aster"
	PreferencesFile = "preferences.json"
	LogFile         = "aster.log"
)

type ServerEntry struct {
	IP    string  `json:"ip"`
	Port  int     `json:"port"`
	Name  *string `json:"name,omitempty"`
	UUID  *int64  `json:"uuid,omitempty"`
	Uname *string `json:"uname,omitempty"`
}

// Address joins IP and Port, using the default port when Port is unset.
func (e ServerEntry) Address() string {
	if e.Port <= 0 {
		return session.WithDefaultPort(e.IP)
	}
	return net.JoinHostPort(e.IP, strconv.Itoa(e.Port))
}

type Preferences struct {
	Uname   string        `json:"uname"`
	Passwd  string        `json:"passwd"`
	Pfp     string        `json:"pfp"`
	Servers []ServerEntry `json:"servers"`
}

func Default() *Preferences {
	return &Preferences{Servers: []ServerEntry{}}
}

// Dir is the per-user directory holding preferences and logs.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, AppDir), nil
}

func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, PreferencesFile), nil
}

func Parse(data []byte) (*Preferences, error) {
	prefs := Default()
	if err := json.Unmarshal(jsonc.ToJSON(data), prefs); err != nil {
		return nil, fmt.Errorf("parsing preferences: %w", err)
	}
	return prefs, nil
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (*Preferences, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	prefs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return prefs, nil
}

// BuildServers creates a Server for every usable entry. Entries naming
// neither an id nor a username, with no global username to fall back
// on, cannot log in and are skipped.
func (p *Preferences) BuildServers() []*session.Server {
	var out []*session.Server
	for _, e := range p.Servers {
		if e.IP == "" {
			continue
		}
		srv := session.NewServer(e.Address())
		if e.Name != nil {
			srv.Name = *e.Name
		}
		srv.Username = p.Uname
		if e.Uname != nil {
			srv.Username = *e.Uname
		}
		if e.UUID != nil {
			srv.SetID(*e.UUID)
		}
		if _, ok := srv.ID(); !ok && srv.Username == "" {
			continue
		}
		out = append(out, srv)
	}
	return out
}
