package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	feedPingInterval = 30 * time.Second
	feedWriteWait    = 10 * time.Second
	feedPongWait     = feedPingInterval + 10*time.Second
	feedBuffer       = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *feedClient) close() {
	c.once.Do(func() { close(c.send) })
}

// feedHub fans attempt events out to the websocket subscribers of each
// tournament.
type feedHub struct {
	mu   sync.RWMutex
	subs map[string]map[*feedClient]struct{}
}

func newFeedHub() *feedHub {
	return &feedHub{subs: make(map[string]map[*feedClient]struct{})}
}

func (h *feedHub) subscribe(tournamentID string, c *feedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[tournamentID] == nil {
		h.subs[tournamentID] = make(map[*feedClient]struct{})
	}
	h.subs[tournamentID][c] = struct{}{}
}

func (h *feedHub) unsubscribe(tournamentID string, c *feedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[tournamentID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			c.close()
		}
		if len(set) == 0 {
			delete(h.subs, tournamentID)
		}
	}
}

func (h *feedHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// publish never blocks: a client whose buffer is full is dropped.
func (h *feedHub) publish(ev FeedEvent) {
	out, err := json.Marshal(ev)
	if err != nil {
		ErrorLog.Printf("[FEED] encode: %v", err)
		return
	}

	var slow []*feedClient
	h.mu.RLock()
	for c := range h.subs[ev.TournamentID] {
		select {
		case c.send <- out:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		InfoLog.Printf("[FEED] dropping slow client on %s", ev.TournamentID)
		h.unsubscribe(ev.TournamentID, c)
	}
}

func (c *feedClient) writer() {
	ticker := time.NewTicker(feedPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reader drains control frames until the peer goes away.
func (c *feedClient) reader() {
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func handleFeed(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("tournamentId")
	t, err := getTournamentByID(r.Context(), id)
	if err != nil {
		ErrorLog.Printf("[FEED] %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "Tournament not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ErrorLog.Printf("[FEED] upgrade: %v", err)
		return
	}
	c := &feedClient{conn: conn, send: make(chan []byte, feedBuffer)}
	feed.subscribe(id, c)
	go c.writer()
	c.reader()
	feed.unsubscribe(id, c)
}
