package handler

import (
	"net/http"

	"notepad-sync/internal/middleware"
	"notepad-sync/internal/websocket"
	"notepad-sync/pkg/response"
)

type meResponse struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Connections int    `json:"connections"`
}

// UserHandler reports who the bearer token belongs to and how many editor sessions that
// user has open.
type UserHandler struct {
	hub *websocket.Manager
}

func NewUserHandler(hub *websocket.Manager) *UserHandler {
	return &UserHandler{
		hub: hub,
	}
}

func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	if identity.UserID == "" {
		response.Unauthorized(w, "Unauthorized")
		return
	}

	response.Success(w, meResponse{
		UserID:      identity.UserID,
		Username:    identity.Username,
		Connections: h.hub.GetUserConnections(identity.UserID),
	})
}
