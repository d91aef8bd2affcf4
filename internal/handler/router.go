package handler

import (
	"net/http"

	"notepad-sync/internal/middleware"
	"notepad-sync/internal/service"
	"notepad-sync/internal/websocket"
	"notepad-sync/pkg/response"

	"github.com/gorilla/mux"
)

type RouterConfig struct {
	JWTSecret      string
	DefaultNoteID  string
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
	// zero buffer sizes use gorilla/websocket's defaults
	ReadBufferSize  int
	WriteBufferSize int
}

// NewRouter wires the REST routes and the websocket endpoint, and installs the message
// handler on the hub.
func NewRouter(
	cfg RouterConfig,
	hub *websocket.Manager,
	notes *service.NoteService,
	presence *service.PresenceService,
	windows *service.WindowService,
) *mux.Router {
	hub.SetMessageHandler(NewWebSocketMessageHandler(hub, notes, presence, windows))

	noteHandler := NewNoteHandler(notes, presence)
	windowHandler := NewWindowHandler(windows)
	userHandler := NewUserHandler(hub)
	wsHandler := NewWebSocketHandler(hub, cfg.JWTSecret, cfg.ReadBufferSize, cfg.WriteBufferSize)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware("/health"))
	r.Use(middleware.CORSMiddleware(
		cfg.AllowedOrigins,
		cfg.AllowedMethods,
		cfg.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	api.HandleFunc("/users/me", userHandler.GetMe).Methods("GET", "OPTIONS")

	api.HandleFunc("/notes/{id}", noteHandler.Get).Methods("GET", "OPTIONS")
	api.HandleFunc("/notes/{id}/presence", noteHandler.Presence).Methods("GET", "OPTIONS")
	api.HandleFunc("/notes/{id}/operations", noteHandler.Operations).Methods("GET", "OPTIONS")

	api.HandleFunc("/window-position", windowHandler.Get).Methods("GET", "OPTIONS")
	api.HandleFunc("/window-position", windowHandler.Save).Methods("PUT", "OPTIONS")

	r.HandleFunc("/ws", wsHandler.HandleConnection)

	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/", rootHandler(cfg.DefaultNoteID)).Methods("GET")

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	response.Health(w, "notepad-sync")
}

func rootHandler(defaultNoteID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.Success(w, map[string]interface{}{
			"message":      "Notepad Sync Server API",
			"version":      "1.0.0",
			"default_note": defaultNoteID,
			"endpoints": map[string]string{
				"/ws":                           "GET (websocket, bearer token)",
				"/api/v1/notes/{id}":            "GET (protected)",
				"/api/v1/notes/{id}/presence":   "GET (protected)",
				"/api/v1/notes/{id}/operations": "GET (protected)",
				"/api/v1/window-position":       "GET, PUT (protected)",
			},
		})
	}
}
