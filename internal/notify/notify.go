// Package notify raises desktop notifications.
package notify

import (
	"fmt"
	"strings"

	"github.com/gen2brain/beeep"
)

// Desktop posts notifications through beeep, which talks to D-Bus on
// Linux and BSD, the notification center on macOS and toasts on
// Windows.
type Desktop struct {
	// AppName is shown as the notification source where supported.
	AppName string

	notify func(title, body string) error
}

func NewDesktop(appName string) *Desktop {
	if appName != "" {
		beeep.AppName = appName
	}
	return &Desktop{
		AppName: appName,
		notify: func(title, body string) error {
			return beeep.Notify(title, body, "")
		},
	}
}

// Notify sends body collapsed onto a single line.
func (d *Desktop) Notify(title, body string) error {
	body = strings.Join(strings.Fields(body), " ")
	if err := d.notify(title, body); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(string, string) error { return nil }
