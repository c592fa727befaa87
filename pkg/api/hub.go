package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/vjranagit/plotbuffer/pkg/series"
	"github.com/vjranagit/plotbuffer/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wireEvent is the JSON form of a buffer event on the websocket. A client
// first receives a "snapshot" carrying the whole buffer, then live "add",
// "remove", "reset" and "load" events. Indices are valid only against the
// client's mirrored state at the moment the event is applied.
type wireEvent struct {
	Type   string         `json:"type"`
	Point  *types.Point   `json:"point,omitempty"`
	Index  *int           `json:"index,omitempty"`
	Points []*types.Point `json:"points,omitempty"`
}

// hub maintains active websocket clients and fans buffer events out to all.
type hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	stopOnce   sync.Once
}

func newHub() *hub {
	return &hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// stop shuts the run loop down and disconnects every client.
func (h *hub) stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// broadcastEvent translates a buffer event to its wire form and queues it.
// A full queue drops the event rather than stalling the emitting insert.
func (h *hub) broadcastEvent(ev series.Event) {
	var we wireEvent
	switch e := ev.(type) {
	case series.AddEvent:
		idx := e.Index
		we = wireEvent{Type: "add", Point: e.Point, Index: &idx}
	case series.RemoveEvent:
		idx := e.Index
		we = wireEvent{Type: "remove", Point: e.Point, Index: &idx}
	case series.ResetEvent:
		we = wireEvent{Type: "reset"}
	case series.LoadEvent:
		we = wireEvent{Type: "load"}
	default:
		return
	}

	msg, err := json.Marshal(we)
	if err != nil {
		log.Printf("Failed to marshal event: %v", err)
		return
	}

	select {
	case h.broadcast <- msg:
	default:
	}
}

func (h *hub) run() {
	for {
		select {
		case <-h.done:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
			log.Printf("Client connected (%d total)", len(h.clients))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				log.Printf("Client disconnected (%d total)", len(h.clients))
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client: drop the event rather than stall the
					// hub. Dead clients are cleaned up via readPump.
				}
			}
		}
	}
}

type client struct {
	hub  *hub
	conn *websocket.Conn
	send chan []byte
}

// serve upgrades the connection, registers the client, then sends the
// snapshot. Registration happens first so events emitted while the snapshot
// is in flight queue on the client instead of being lost; writePump delivers
// them only after the snapshot write completes.
func (h *hub) serve(w http.ResponseWriter, r *http.Request, snapshot []byte) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, 1024)}
	h.register <- c

	if err := conn.WriteMessage(websocket.TextMessage, snapshot); err != nil {
		log.Printf("Failed to send snapshot: %v", err)
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		// After stop the run loop is gone and nobody receives unregisters.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for {
		msg, ok := <-c.send
		if !ok {
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
