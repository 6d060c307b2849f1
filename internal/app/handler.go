package service

import (
	"context"

	"github.com/okian/rally/internal/adapters/mq/worker"
	"github.com/okian/rally/internal/domain/task"
)

// handler exposes the service to the worker pool without widening the
// service's public API.
type handler struct {
	s *Service
}

var _ worker.Handler = handler{}

func (h handler) RecomputeScore(ctx context.Context, m worker.Meta, t task.RecomputeScore) (any, error) {
	return h.s.recompute(ctx, m, t)
}

func (h handler) PersistCheckins(ctx context.Context, m worker.Meta, t task.PersistCheckins) (any, error) {
	return h.s.persistCheckins(ctx, m.TaskID, t)
}

func (h handler) CreateTeam(ctx context.Context, _ worker.Meta, t task.CreateTeam) (any, error) {
	team, err := h.s.createTeam(ctx, t)
	if err != nil {
		return nil, err
	}
	return map[string]int64{"team_id": team.ID, "event_id": team.EventID}, nil
}

func (h handler) JoinTeam(ctx context.Context, _ worker.Meta, t task.JoinTeam) (any, error) {
	if err := h.s.joinTeam(ctx, t); err != nil {
		return nil, err
	}
	return map[string]int64{"team_id": t.TeamID, "user_id": t.UserID}, nil
}

func (h handler) RegisterUser(ctx context.Context, _ worker.Meta, t task.RegisterUser) (any, error) {
	u, err := h.s.registerUser(ctx, t)
	if err != nil {
		return nil, err
	}
	return map[string]any{"user_id": u.ID, "username": u.Username}, nil
}
