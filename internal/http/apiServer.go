package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"palaver/internal/api"
	"palaver/internal/auth"
	"palaver/internal/hub"
	"palaver/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(authService *auth.AuthService, h *hub.Hub, apiHandlers *api.API, addr string) *APIServer {
	server := ws.NewServer(authService, h)

	mux := http.NewServeMux()

	// Auth endpoints
	mux.HandleFunc("POST /api/login", api.RequireSameOrigin(apiHandlers.LoginHandler))
	mux.HandleFunc("POST /api/register", api.RequireSameOrigin(apiHandlers.RegisterHandler))
	mux.HandleFunc("POST /api/logoff", api.RequireSameOrigin(apiHandlers.LogoffHandler))

	// History and roster endpoints
	mux.HandleFunc("GET /api/messages", apiHandlers.RequireAuth(apiHandlers.MessagesHandler))
	mux.HandleFunc("GET /api/pm", apiHandlers.RequireAuth(apiHandlers.PrivateMessagesHandler))
	mux.HandleFunc("GET /api/search", apiHandlers.RequireAuth(apiHandlers.SearchHandler))
	mux.HandleFunc("GET /api/users", apiHandlers.RequireAuth(apiHandlers.UsersHandler))
	mux.HandleFunc("GET /api/rooms", apiHandlers.RequireAuth(apiHandlers.RoomsHandler))

	// Uploads
	mux.HandleFunc("POST /api/upload", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.UploadHandler)))
	mux.HandleFunc("GET /api/uploads/{id}", apiHandlers.GetUploadHandler)

	// Push subscriptions
	mux.HandleFunc("POST /api/push/subscribe", api.RequireSameOrigin(apiHandlers.PushSubscribeHandler))

	// WebSocket endpoint
	mux.HandleFunc("/api/chat", server.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
