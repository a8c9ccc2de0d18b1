package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/cliniscribe/cliniscribe/internal/visit"
)

// writeTimeout bounds a single websocket write; a client that stalls longer
// gets dropped instead of backing up the feed.
const writeTimeout = 5 * time.Second

// liveEvent is the wire shape of one transcription progress event.
type liveEvent struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Feed fans transcription progress out to any number of websocket clients.
// Events arriving while no client is connected are dropped.
type Feed struct {
	mu   sync.Mutex
	subs map[chan liveEvent]struct{}
}

// NewFeed returns an empty Feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[chan liveEvent]struct{})}
}

// Forward consumes a session's progress channel until it closes, broadcasting
// every event. Run it in its own goroutine, one per session.
func (f *Feed) Forward(ch <-chan visit.Progress) {
	for p := range ch {
		f.broadcast(liveEvent{Text: p.Text, Final: p.Final})
	}
}

func (f *Feed) subscribe() chan liveEvent {
	sub := make(chan liveEvent, 32)
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	return sub
}

func (f *Feed) unsubscribe(sub chan liveEvent) {
	f.mu.Lock()
	delete(f.subs, sub)
	f.mu.Unlock()
}

// broadcast delivers to every subscriber without blocking; slow subscribers
// miss events.
func (f *Feed) broadcast(ev liveEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}

// ServeWS upgrades the request and streams events until the client leaves.
func (f *Feed) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "feed closed")

	sub := f.subscribe()
	defer f.unsubscribe(sub)

	// Reads are discarded; the read loop only surfaces the client closing.
	readCtx := conn.CloseRead(r.Context())

	for {
		select {
		case <-readCtx.Done():
			return
		case ev := <-sub:
			ctx, cancel := context.WithTimeout(readCtx, writeTimeout)
			err := wsjson.Write(ctx, conn, ev)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
