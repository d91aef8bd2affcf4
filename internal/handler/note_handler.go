package handler

import (
	"net/http"
	"strconv"

	"notepad-sync/internal/service"
	"notepad-sync/pkg/response"

	"github.com/gorilla/mux"
)

const maxHistoryLimit = 500

// NoteHandler serves the read side of a shared note: the snapshot used by the reconnect
// fallback, the current collaborators and the operation history.
type NoteHandler struct {
	notes    *service.NoteService
	presence *service.PresenceService
}

func NewNoteHandler(notes *service.NoteService, presence *service.PresenceService) *NoteHandler {
	return &NoteHandler{
		notes:    notes,
		presence: presence,
	}
}

func (h *NoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["id"]
	if noteID == "" {
		response.BadRequest(w, "Note ID is required")
		return
	}

	note, err := h.notes.Snapshot(r.Context(), noteID)
	if err != nil {
		response.InternalError(w, "Failed to load note")
		return
	}

	response.Success(w, note)
}

func (h *NoteHandler) Presence(w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["id"]
	if noteID == "" {
		response.BadRequest(w, "Note ID is required")
		return
	}

	members, err := h.presence.Members(r.Context(), noteID)
	if err != nil {
		response.InternalError(w, "Failed to load presence")
		return
	}

	response.Success(w, members)
}

// Operations lists the sequenced operations after ?since=N, at most ?limit=M of them.
func (h *NoteHandler) Operations(w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["id"]
	if noteID == "" {
		response.BadRequest(w, "Note ID is required")
		return
	}

	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			response.BadRequest(w, "since must be a non-negative integer")
			return
		}
		since = v
	}

	limit := maxHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			response.BadRequest(w, "limit must be a positive integer")
			return
		}
		if v < limit {
			limit = v
		}
	}

	ops, err := h.notes.History(r.Context(), noteID, since, limit)
	if err != nil {
		response.InternalError(w, "Failed to load operations")
		return
	}

	response.Success(w, ops)
}
