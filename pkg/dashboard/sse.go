package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	sseClientBuffer = 16
	sseHeartbeat    = 15 * time.Second
)

// statsBroker fans host stats out to the dashboard's EventSource clients. The
// last frame is replayed to a client as soon as it connects.
type statsBroker struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	last    []byte
}

func newStatsBroker() *statsBroker {
	return &statsBroker{clients: make(map[chan []byte]struct{})}
}

func (b *statsBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	ch, last := b.subscribe()
	defer b.unsubscribe(ch)

	fmt.Fprint(w, "retry: 5000\n\n")
	if last != nil {
		w.Write(last)
	}
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-ch:
			w.Write(frame)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func (b *statsBroker) subscribe() (chan []byte, []byte) {
	ch := make(chan []byte, sseClientBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[ch] = struct{}{}
	return ch, b.last
}

func (b *statsBroker) unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
}

// publish encodes v as a "stats" event. Clients whose buffer is full miss it.
func (b *statsBroker) publish(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	frame := []byte("event: stats\ndata: " + string(data) + "\n\n")

	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = frame
	for ch := range b.clients {
		select {
		case ch <- frame:
		default:
		}
	}
	return nil
}

func (b *statsBroker) clientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
