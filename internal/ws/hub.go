// Package ws is the WebSocket transport: it accepts connections, frames
// named-event messages over the wire, and hands parsed events to a Handler.
// It carries no game state of its own.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// Envelope is the wire shape for every message in both directions: a named
// event plus its opaque JSON payload (spec.md §6).
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler receives connection lifecycle and message events from the Hub.
// carclash's dispatcher is the only implementation.
type Handler interface {
	HandleConnect(client *Client)
	HandleMessage(client *Client, event string, data json.RawMessage)
	HandleDisconnect(client *Client)
}

// Client is one accepted WebSocket connection. Its Send method is the
// concrete implementation of both lobby.Channel and orchestrator.Channel.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// ID is the opaque per-connection identifier (distinct from the player's
// authenticated identity, which the dispatcher tracks separately so a
// reconnect can rebind a playerID to a new Client).
func (c *Client) ID() string { return c.id }

// Send marshals payload into an Envelope and queues it for the writer
// goroutine. Non-blocking: a client whose outbound buffer is full gets this
// message dropped rather than stalling the caller (teacher's sendTo idiom).
func (c *Client) Send(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ws: marshal %s for client %s: %v", event, c.id, err)
		return
	}
	b, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

// Hub accepts connections and dispatches their messages to a Handler.
type Hub struct {
	allowOrigins map[string]bool
	handler      Handler

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func NewHub(allow []string, handler Handler) *Hub {
	m := map[string]bool{}
	for _, a := range allow {
		if a != "" {
			m[a] = true
		}
	}
	return &Hub{allowOrigins: m, handler: handler, clients: map[*Client]struct{}{}}
}

// ServeWS upgrades the request, then runs the writer (ping-keepalive) and
// reader loops for the connection's lifetime.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && !h.allowOrigins[origin] {
		http.Error(w, "forbidden origin", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}

	client := &Client{id: randID(), conn: conn, send: make(chan []byte, 64)}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	log.Printf("client %s connected", client.id)

	h.handler.HandleConnect(client)

	done := make(chan struct{})

	go func() {
		ping := time.NewTicker(15 * time.Second)
		defer func() {
			ping.Stop()
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
		}()
		for {
			select {
			case msg, ok := <-client.send:
				if !ok {
					return
				}
				if err := conn.Write(r.Context(), websocket.MessageText, msg); err != nil {
					return
				}
			case <-ping.C:
				if err := conn.Ping(r.Context()); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			break
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		h.handler.HandleMessage(client, env.Event, env.Data)
	}

	close(done)
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	log.Printf("client %s disconnected", client.id)
	h.handler.HandleDisconnect(client)
}
