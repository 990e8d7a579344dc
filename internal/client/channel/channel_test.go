package channel

import (
	"errors"
	"testing"

	"github.com/hireloop/signaling/internal/core"
)

func TestAbortIsNotUserClose(t *testing.T) {
	c := &Channel{
		incoming: make(chan *core.Envelope, 1),
		outgoing: make(chan *core.Envelope, 1),
		done:     make(chan struct{}),
	}
	c.Abort()

	select {
	case <-c.Done():
	default:
		t.Fatal("abort did not finish the channel")
	}
	if c.UserClosed() {
		t.Fatal("abort must look like a transport loss, not a user close")
	}
	if err := c.Send(&core.Envelope{Type: core.EventLeaveRoom}); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("want ErrChannelClosed after abort, got %v", err)
	}
}

func TestCloseIsUserClose(t *testing.T) {
	c := &Channel{
		incoming: make(chan *core.Envelope, 1),
		outgoing: make(chan *core.Envelope, 1),
		done:     make(chan struct{}),
	}
	c.Close()
	if !c.UserClosed() {
		t.Fatal("close must be attributed to the user")
	}
}
