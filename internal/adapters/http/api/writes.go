package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/types"
)

// WriteDependencies defines the operations that create data.
type WriteDependencies interface {
	SubmitCheckin(ctx context.Context, req types.CheckinRequest) (string, error)
	CreateEvent(ctx context.Context, e model.Event) (model.Event, error)
	CreateTeam(ctx context.Context, eventID int64, name, description string) (string, error)
	JoinTeam(ctx context.Context, eventID, userID, teamID int64) (string, error)
	RegisterUser(ctx context.Context, username, email, password string) (string, error)
}

// WriteHandler accepts check-ins, registrations and team changes.
type WriteHandler struct {
	deps WriteDependencies
}

// NewWriteHandler creates a new write handler.
func NewWriteHandler(deps WriteDependencies) *WriteHandler {
	return &WriteHandler{deps: deps}
}

type eventRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
}

func (e eventRequest) toModel() (model.Event, error) {
	ev := model.Event{Name: e.Name, Description: e.Description}
	var err error
	if ev.StartTime, err = parseOptionalTime(e.StartTime); err != nil {
		return model.Event{}, err
	}
	if ev.EndTime, err = parseOptionalTime(e.EndTime); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

func parseOptionalTime(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not RFC3339", ErrBadRequest, raw)
	}
	return t.UTC(), nil
}

type eventResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	StartTime   time.Time `json:"start_time,omitempty"`
	EndTime     time.Time `json:"end_time,omitempty"`
}

type teamRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type joinRequest struct {
	UserID int64 `json:"user_id"`
	TeamID int64 `json:"team_id"`
}

type userRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandlePostCheckin handles POST /checkins.
func (h *WriteHandler) HandlePostCheckin(w http.ResponseWriter, r *http.Request) {
	var req types.CheckinRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = r.Header.Get("Idempotency-Key")
	}
	id, err := h.deps.SubmitCheckin(r.Context(), req)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeAccepted(w, id)
}

// HandlePostEvent handles POST /events. Events are created synchronously.
func (h *WriteHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	ev, err := req.toModel()
	if err != nil {
		badRequest(w, err)
		return
	}
	created, err := h.deps.CreateEvent(r.Context(), ev)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, eventResponse{
		ID:          created.ID,
		Name:        created.Name,
		Description: created.Description,
		StartTime:   created.StartTime,
		EndTime:     created.EndTime,
	})
}

// HandlePostTeam handles POST /events/{id}/teams.
func (h *WriteHandler) HandlePostTeam(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	var req teamRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	id, err := h.deps.CreateTeam(r.Context(), eventID, req.Name, req.Description)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeAccepted(w, id)
}

// HandleJoinTeam handles POST /events/{id}/teams/join.
func (h *WriteHandler) HandleJoinTeam(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	var req joinRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if req.UserID <= 0 || req.TeamID <= 0 {
		badRequest(w, ErrInvalidID)
		return
	}
	id, err := h.deps.JoinTeam(r.Context(), eventID, req.UserID, req.TeamID)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeAccepted(w, id)
}

// HandlePostUser handles POST /users.
func (h *WriteHandler) HandlePostUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	id, err := h.deps.RegisterUser(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeAccepted(w, id)
}
