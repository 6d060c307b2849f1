package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/rally/internal/domain/task"
	"github.com/okian/rally/internal/domain/types"
)

// ScoreDependencies defines the read and admin operations on scores.
type ScoreDependencies interface {
	GetTeamScore(ctx context.Context, teamID int64) (types.TeamScore, error)
	GetEventRanking(ctx context.Context, eventID int64) ([]types.RankingEntry, error)
	OverrideScore(ctx context.Context, teamID int64, score float64) (types.TeamScore, error)
	TaskStatus(ctx context.Context, id string) (task.Status, error)
}

// ScoreHandler serves scores, rankings and task status.
type ScoreHandler struct {
	deps ScoreDependencies
}

// NewScoreHandler creates a new score handler.
func NewScoreHandler(deps ScoreDependencies) *ScoreHandler {
	return &ScoreHandler{deps: deps}
}

type rankingResponse struct {
	EventID int64                `json:"event_id"`
	Teams   []types.RankingEntry `json:"teams"`
}

// overrideRequest carries a pointer so a missing score is rejected rather
// than read as zero.
type overrideRequest struct {
	Score *float64 `json:"score"`
}

// HandleGetTeamScore handles GET /teams/{id}/score.
func (h *ScoreHandler) HandleGetTeamScore(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	score, err := h.deps.GetTeamScore(r.Context(), id)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

// HandleGetRanking handles GET /events/{id}/ranking.
func (h *ScoreHandler) HandleGetRanking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	entries, err := h.deps.GetEventRanking(r.Context(), id)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rankingResponse{EventID: id, Teams: entries})
}

// HandleOverride handles PUT /admin/teams/{id}/score.
func (h *ScoreHandler) HandleOverride(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	var req overrideRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if req.Score == nil {
		badRequest(w, errors.New("missing score"))
		return
	}
	score, err := h.deps.OverrideScore(r.Context(), id, *req.Score)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

// HandleGetTask handles GET /tasks/{id}.
func (h *ScoreHandler) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		badRequest(w, ErrInvalidID)
		return
	}
	st, err := h.deps.TaskStatus(r.Context(), id)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
