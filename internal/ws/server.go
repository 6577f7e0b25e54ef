package ws

import (
	"log"
	"net/http"

	"palaver/internal/auth"
	"palaver/internal/hub"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Server authenticates and upgrades websocket connections and hands them
// to the hub. An invalid or missing token terminates the connection
// before the upgrade; there is no retry on the server side.
type Server struct {
	auth     *auth.AuthService
	hub      *hub.Hub
	upgrader *websocket.Upgrader
}

func NewServer(authService *auth.AuthService, h *hub.Hub) *Server {
	return &Server{
		auth: authService,
		hub:  h,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	identity, err := s.auth.GetIdentity(connectionToken(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	connID := uuid.NewString()
	conn, err := NewConnection(s.hub, wsConn, connID, identity)
	if err != nil {
		log.Printf("error registering connection %s: %v", connID, err)
		_ = wsConn.Close()
		return
	}

	if err := conn.Handle(r.Context()); err != nil {
		log.Printf("connection %s closed with error: %v", connID, err)
	}
}

// connectionToken pulls the bearer token from the header, cookie or query
// string, in that order. The query form exists for websocket clients that
// cannot set headers.
func connectionToken(r *http.Request) string {
	if token := r.Header.Get("token"); token != "" {
		return token
	}
	if c, err := r.Cookie("token"); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}
