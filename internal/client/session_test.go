package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hireloop/signaling/internal/client/channel"
	"github.com/hireloop/signaling/internal/core"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// silentServer accepts the upgrade and then never answers anything; joins
// sent to it are acknowledged by nobody.
func silentServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRejoinDeadlineAbortsSilentChannel(t *testing.T) {
	srv := silentServer(t)
	nop := zerolog.Nop()
	errc := make(chan string, 1)

	s := New(Config{
		ServerURL:   wsURL(srv),
		Token:       "tok",
		UserID:      "alice",
		RoomID:      "r1",
		JoinTimeout: 30 * time.Millisecond,
		Logger:      &nop,
		OnError:     func(code, _ string) { errc <- code },
	})

	ch, err := channel.Dial(context.Background(), wsURL(srv), "tok")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	s.armRejoinDeadline(ch)

	select {
	case code := <-errc:
		if want := core.ErrorCode(core.ErrSignalingTimeout); code != want {
			t.Fatalf("want %s, got %s", want, code)
		}
	case <-time.After(time.Second):
		t.Fatal("unacknowledged rejoin never timed out")
	}

	select {
	case <-ch.Done():
	case <-time.After(time.Second):
		t.Fatal("deadline expiry did not abort the channel")
	}
	// An aborted rejoin goes back through reconnection, not to a leave.
	if ch.UserClosed() {
		t.Fatal("rejoin timeout misattributed to the user")
	}
}

func TestRejoinDeadlineClearedBySnapshot(t *testing.T) {
	srv := silentServer(t)
	nop := zerolog.Nop()
	errc := make(chan string, 1)

	s := New(Config{
		ServerURL:   wsURL(srv),
		Token:       "tok",
		UserID:      "alice",
		RoomID:      "r1",
		JoinTimeout: 30 * time.Millisecond,
		Logger:      &nop,
		OnError:     func(code, _ string) { errc <- code },
	})

	ch, err := channel.Dial(context.Background(), wsURL(srv), "tok")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	s.armRejoinDeadline(ch)
	s.clearRejoinDeadline()

	select {
	case code := <-errc:
		t.Fatalf("cleared deadline still fired: %s", code)
	case <-time.After(100 * time.Millisecond):
	}
	select {
	case <-ch.Done():
		t.Fatal("cleared deadline aborted the channel")
	default:
	}
	ch.Close()
}
