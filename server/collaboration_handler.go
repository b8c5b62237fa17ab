package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"CollabFM/logger"
	"CollabFM/model"
	"CollabFM/repository"

	"github.com/gorilla/mux"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// CollaborationResponse 合作详情，附带可播放地址
type CollaborationResponse struct {
	model.Collaboration
	BackingTrackURL string  `json:"backingTrackUrl,omitempty"`
	WinnerURL       *string `json:"winnerUrl,omitempty"`
}

type createCollaborationRequest struct {
	ProjectID         string    `json:"projectId"`
	Name              string    `json:"name"`
	BackingTrackPath  string    `json:"backingTrackPath"`
	SubmissionCloseAt time.Time `json:"submissionCloseAt"`
	VotingCloseAt     time.Time `json:"votingCloseAt"`
}

type voteRequest struct {
	Choice string `json:"choice"`
}

// ListCollaborationsHandler GET /api/collaborations?status=&limit=
func (h *APIHandler) ListCollaborationsHandler(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", model.StatusSubmission, model.StatusVoting, model.StatusCompleted:
	default:
		writeError(w, http.StatusBadRequest, "Invalid status")
		return
	}

	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		limit = n
	}

	items, err := h.collabRepo.List(r.Context(), status, limit)
	if err != nil {
		logger.Error("[Server] 查询合作列表失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to list collaborations")
		return
	}
	if items == nil {
		items = []model.Collaboration{}
	}
	writeJSON(w, http.StatusOK, items)
}

// GetCollaborationHandler GET /api/collaborations/{id}
func (h *APIHandler) GetCollaborationHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c, err := h.collabRepo.GetByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Collaboration not found")
		return
	}
	if err != nil {
		logger.Error("[Server] 查询合作失败", logger.String("id", id), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to get collaboration")
		return
	}

	resp := CollaborationResponse{Collaboration: *c}
	if h.resolver != nil {
		// 地址解析失败不影响返回合作本身
		if u, err := h.resolver.Resolve(r.Context(), c.BackingTrackPath); err == nil {
			resp.BackingTrackURL = u
		} else {
			logger.Warn("[Server] 解析伴奏地址失败", logger.String("id", id), logger.ErrorField(err))
		}
		if c.WinnerPath != nil {
			if u, err := h.resolver.Resolve(r.Context(), *c.WinnerPath); err == nil {
				resp.WinnerURL = &u
			} else {
				logger.Warn("[Server] 解析获胜作品地址失败", logger.String("id", id), logger.ErrorField(err))
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateCollaborationHandler POST /api/collaborations
func (h *APIHandler) CreateCollaborationHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req createCollaborationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.BackingTrackPath == "" || req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "projectId, name and backingTrackPath are required")
		return
	}
	if req.SubmissionCloseAt.IsZero() || !req.VotingCloseAt.After(req.SubmissionCloseAt) {
		writeError(w, http.StatusBadRequest, "votingCloseAt must be after submissionCloseAt")
		return
	}

	project, err := h.projectRepo.GetByID(r.Context(), req.ProjectID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Project not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get project")
		return
	}
	if project.OwnerID != userID {
		writeError(w, http.StatusForbidden, "Only the project owner can create collaborations")
		return
	}

	now := h.clock.Now()
	submissionClose := req.SubmissionCloseAt.UTC()
	votingClose := req.VotingCloseAt.UTC()
	c := &model.Collaboration{
		ID:                h.newID(),
		ProjectID:         req.ProjectID,
		Name:              req.Name,
		BackingTrackPath:  req.BackingTrackPath,
		Status:            model.StatusSubmission,
		SubmissionCloseAt: &submissionClose,
		VotingCloseAt:     &votingClose,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := h.collabRepo.Create(r.Context(), c); err != nil {
		logger.Error("[Server] 创建合作失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to create collaboration")
		return
	}

	logger.Info("[Server] 创建合作",
		logger.String("id", c.ID),
		logger.String("project", c.ProjectID),
		logger.Int64("user", userID))
	writeJSON(w, http.StatusCreated, c)
}

// VoteHandler POST /api/collaborations/{id}/vote，重复投票覆盖上一次
func (h *APIHandler) VoteHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req voteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Choice) == "" {
		writeError(w, http.StatusBadRequest, "choice is required")
		return
	}

	id := mux.Vars(r)["id"]
	err = h.collabRepo.CastVote(r.Context(), id, userID, req.Choice, h.clock.Now())
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "Collaboration not found")
	case errors.Is(err, repository.ErrVotingClosed):
		writeError(w, http.StatusConflict, "Voting is closed")
	case err != nil:
		logger.Error("[Server] 投票失败", logger.String("id", id), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to cast vote")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
