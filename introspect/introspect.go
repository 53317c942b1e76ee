/*
Copyright (C) 2026  jitcore contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package introspect streams a session's symbol transition events to
// websocket clients, for live debugging of what's resolving and when.
package introspect

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/launix-de/jitcore/engine"
)

// wireEvent is the JSON shape delivered to clients; it mirrors
// engine.SymbolEvent but with string state names, which read better in a
// browser console than the bare ints State marshals to by default.
type wireEvent struct {
	Session   string    `json:"session"`
	Namespace string    `json:"namespace"`
	Name      string    `json:"name"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	At        time.Time `json:"at"`
}

// Server fans out a session's SymbolEvents to any number of connected
// websocket clients. Zero value is not usable; use New.
type Server struct {
	sess *engine.Session

	mu      sync.Mutex
	clients map[*websocket.Conn]chan wireEvent
}

// New installs itself as sess's transition hook and returns a Server
// ready to be mounted at an HTTP path.
func New(sess *engine.Session) *Server {
	s := &Server{sess: sess, clients: make(map[*websocket.Conn]chan wireEvent)}
	sess.SetTransitionHook(s.onTransition)
	return s
}

func (s *Server) onTransition(ev engine.SymbolEvent) {
	wire := wireEvent{
		Session:   s.sess.ID().String(),
		Namespace: ev.Ref.Namespace,
		Name:      ev.Ref.Name,
		From:      ev.From.String(),
		To:        ev.To.String(),
		At:        ev.At,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.clients {
		select {
		case ch <- wire:
		default:
			// slow client: drop the event rather than block materialization
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the request to a websocket and streams SymbolEvents
// to it until the client disconnects.
func (s *Server) ServeHTTP(res http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(res, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := make(chan wireEvent, 64)
	s.mu.Lock()
	s.clients[conn] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
	}()

	// a read loop is required even though we never expect client messages:
	// it's how gorilla/websocket notices the peer closed the connection.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-ch:
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// ListenAndServe starts a dedicated HTTP server with the event stream
// mounted at path, blocking until it exits.
func (s *Server) ListenAndServe(addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, s)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	fmt.Printf("jitcore introspection listening on %s%s\n", addr, path)
	return server.ListenAndServe()
}
