package server

import (
	"errors"
	"net/http"
	"strings"

	"CollabFM/logger"
	"CollabFM/model"
	"CollabFM/repository"

	"github.com/gorilla/mux"
)

type projectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (req *projectRequest) valid() bool {
	req.Name = strings.TrimSpace(req.Name)
	return req.Name != "" && len(req.Name) <= 200
}

// CreateProjectHandler POST /api/projects
func (h *APIHandler) CreateProjectHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req projectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.valid() {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	now := h.clock.Now()
	p := &model.Project{
		ID:          h.newID(),
		OwnerID:     userID,
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.projectRepo.Create(r.Context(), p); err != nil {
		logger.Error("[Server] 创建项目失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to create project")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GetProjectHandler GET /api/projects/{id}
func (h *APIHandler) GetProjectHandler(w http.ResponseWriter, r *http.Request) {
	p, err := h.projectRepo.GetByID(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Project not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get project")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdateProjectHandler PUT /api/projects/{id}，只有项目所有者可以修改
func (h *APIHandler) UpdateProjectHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	id := mux.Vars(r)["id"]
	existing, err := h.projectRepo.GetByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Project not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get project")
		return
	}
	if existing.OwnerID != userID {
		writeError(w, http.StatusForbidden, "Forbidden")
		return
	}

	var req projectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.valid() {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	existing.Name = req.Name
	existing.Description = req.Description
	if err := h.projectRepo.Update(r.Context(), existing); err != nil {
		logger.Error("[Server] 更新项目失败", logger.String("id", id), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to update project")
		return
	}

	updated, err := h.projectRepo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get project")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
