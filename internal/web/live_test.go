package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/cliniscribe/cliniscribe/internal/visit"
)

func dialFeed(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/live"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return conn
}

func TestFeed_StreamsProgress(t *testing.T) {
	t.Parallel()

	feed := NewFeed()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/live", feed.ServeWS)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dialFeed(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	progress := make(chan visit.Progress)
	go feed.Forward(progress)

	// Give the subscription a moment to register before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for {
		feed.mu.Lock()
		n := len(feed.subs)
		feed.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	progress <- visit.Progress{Text: "partial text"}
	progress <- visit.Progress{Text: "final text", Final: true}
	close(progress)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var first, second liveEvent
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read first event: %v", err)
	}
	if err := wsjson.Read(ctx, conn, &second); err != nil {
		t.Fatalf("read second event: %v", err)
	}

	if first.Text != "partial text" || first.Final {
		t.Errorf("first event = %+v, want non-final partial", first)
	}
	if second.Text != "final text" || !second.Final {
		t.Errorf("second event = %+v, want final", second)
	}
}

func TestFeed_BroadcastWithoutClients(t *testing.T) {
	t.Parallel()

	feed := NewFeed()
	progress := make(chan visit.Progress, 2)
	progress <- visit.Progress{Text: "nobody listening"}
	close(progress)

	// Must not block or panic with zero subscribers.
	feed.Forward(progress)
}

func TestFeed_UnsubscribeOnDisconnect(t *testing.T) {
	t.Parallel()

	feed := NewFeed()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/live", feed.ServeWS)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dialFeed(t, srv)

	deadline := time.Now().Add(2 * time.Second)
	for {
		feed.mu.Lock()
		n := len(feed.subs)
		feed.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close(websocket.StatusNormalClosure, "leaving")

	deadline = time.Now().Add(2 * time.Second)
	for {
		feed.mu.Lock()
		n := len(feed.subs)
		feed.mu.Unlock()
		if n == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("subscription was not removed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
