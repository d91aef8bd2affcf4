package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"notepad-sync/internal/domain"
	"notepad-sync/internal/middleware"
	"notepad-sync/internal/repository"
	"notepad-sync/internal/service"
	"notepad-sync/pkg/response"

	"github.com/go-playground/validator/v10"
)

type WindowHandler struct {
	service  *service.WindowService
	validate *validator.Validate
}

func NewWindowHandler(service *service.WindowService) *WindowHandler {
	return &WindowHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *WindowHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)

	pos, err := h.service.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrWindowPositionNotFound) {
			response.NotFound(w, "No window position stored")
			return
		}
		response.InternalError(w, "Failed to load window position")
		return
	}

	response.Success(w, pos)
}

func (h *WindowHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateWindowPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	userID := middleware.GetUserID(r)

	pos, err := h.service.Save(r.Context(), userID, &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidGeometry) {
			response.BadRequest(w, err.Error())
			return
		}
		response.InternalError(w, "Failed to save window position")
		return
	}

	response.Success(w, pos)
}
