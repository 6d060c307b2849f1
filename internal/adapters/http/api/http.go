// Package api exposes the scoring service over HTTP. Handlers only decode,
// delegate and map errors; all rules live in the service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/rally/internal/domain/fault"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/task"
	"github.com/okian/rally/internal/domain/types"
)

const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	SubmitCheckin(ctx context.Context, req types.CheckinRequest) (string, error)
	GetTeamScore(ctx context.Context, teamID int64) (types.TeamScore, error)
	GetEventRanking(ctx context.Context, eventID int64) ([]types.RankingEntry, error)
	OverrideScore(ctx context.Context, teamID int64, score float64) (types.TeamScore, error)
	TaskStatus(ctx context.Context, id string) (task.Status, error)

	CreateEvent(ctx context.Context, e model.Event) (model.Event, error)
	CreateTeam(ctx context.Context, eventID int64, name, description string) (string, error)
	JoinTeam(ctx context.Context, eventID, userID, teamID int64) (string, error)
	RegisterUser(ctx context.Context, username, email, password string) (string, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	scoreHandler  *ScoreHandler
	writeHandler  *WriteHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
		scoreHandler:  NewScoreHandler(deps),
		writeHandler:  NewWriteHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("GET /teams/{id}/score", MetricsMiddleware(s.scoreHandler.HandleGetTeamScore, "team_score"))
	mux.HandleFunc("GET /events/{id}/ranking", MetricsMiddleware(s.scoreHandler.HandleGetRanking, "ranking"))
	mux.HandleFunc("PUT /admin/teams/{id}/score", MetricsMiddleware(s.scoreHandler.HandleOverride, "override"))
	mux.HandleFunc("GET /tasks/{id}", MetricsMiddleware(s.scoreHandler.HandleGetTask, "task_status"))

	mux.HandleFunc("POST /checkins", MetricsMiddleware(s.writeHandler.HandlePostCheckin, "checkins"))
	mux.HandleFunc("POST /events", MetricsMiddleware(s.writeHandler.HandlePostEvent, "events"))
	mux.HandleFunc("POST /events/{id}/teams", MetricsMiddleware(s.writeHandler.HandlePostTeam, "teams"))
	mux.HandleFunc("POST /events/{id}/teams/join", MetricsMiddleware(s.writeHandler.HandleJoinTeam, "join"))
	mux.HandleFunc("POST /users", MetricsMiddleware(s.writeHandler.HandlePostUser, "users"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// acceptedResponse is returned by every endpoint that enqueues work.
type acceptedResponse struct {
	TaskID string     `json:"task_id"`
	State  task.State `json:"state"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

func writeAccepted(w http.ResponseWriter, taskID string) {
	w.Header().Set("Location", "/tasks/"+taskID)
	writeJSON(w, http.StatusAccepted, acceptedResponse{TaskID: taskID, State: task.StatePending})
}

// writeFault maps a classified service error to a response.
func writeFault(w http.ResponseWriter, err error) {
	switch fault.KindOf(err) {
	case fault.KindValidation:
		writeError(w, http.StatusBadRequest, "invalid_request", err)
	case fault.KindNotFound:
		writeError(w, http.StatusNotFound, "not_found", err)
	case fault.KindConflict:
		writeError(w, http.StatusConflict, "conflict", err)
	case fault.KindLogic:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	default:
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	}
}

// decodeBody reads a bounded JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

// pathID parses the {id} path segment as a positive integer.
func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}
	return id, nil
}

func badRequest(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrInvalidID) {
		writeError(w, http.StatusBadRequest, "invalid_id", err)
		return
	}
	writeError(w, http.StatusBadRequest, "bad_request", err)
}
