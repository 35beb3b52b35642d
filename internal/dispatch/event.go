// Package dispatch merges everything that can happen to the client into
// one stream: keyboard input, frames read from every server connection,
// and connection failures. Many goroutines publish, exactly one loop
// consumes, so state owned by that loop never needs a lock.
package dispatch

// Event is one of InputEvent, FrameEvent or ErrorEvent.
type Event interface {
	isEvent()
}

// InputEvent carries user input. The payload is opaque to this package.
type InputEvent struct {
	Payload any
}

// FrameEvent is one raw protocol line read from the connection
// identified by Route.
type FrameEvent struct {
	Line  string
	Route string
}

// ErrorEvent reports that the read side of the connection identified by
// Route failed or was closed by the peer. Its reader has exited.
type ErrorEvent struct {
	Route string
	Err   error
}

func (InputEvent) isEvent() {}
func (FrameEvent) isEvent() {}
func (ErrorEvent) isEvent() {}
