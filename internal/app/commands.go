package service

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/okian/rally/internal/domain/fault"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/task"
	"github.com/okian/rally/internal/domain/types"
	"github.com/okian/rally/pkg/logger"
)

const (
	minPasswordLength = 8
	maxNameLength     = 255
)

// SubmitCheckin validates a check-in and queues it for persistence. The
// returned id names the persistence task.
func (s *Service) SubmitCheckin(ctx context.Context, req types.CheckinRequest) (string, error) {
	if strings.TrimSpace(req.Content) == "" && strings.TrimSpace(req.PhotoURL) == "" {
		return "", fault.Validation("check-in needs content or a photo")
	}
	if _, err := s.campaign.Event(ctx, req.EventID); err != nil {
		return "", err
	}
	if _, err := s.campaign.User(ctx, req.UserID); err != nil {
		return "", err
	}

	teamIDs, err := s.checkinTeams(ctx, req)
	if err != nil {
		return "", err
	}

	dedupeKey := ""
	if req.RequestID != "" {
		dedupeKey = "checkin:" + req.RequestID
		if s.deduper.SeenAndRecord(ctx, dedupeKey) {
			return "", fault.Conflict("request %q was already submitted", req.RequestID)
		}
	}

	id, err := s.dispatcher.Enqueue(ctx, task.PersistCheckins{
		UserID:    req.UserID,
		TeamIDs:   teamIDs,
		Content:   req.Content,
		PhotoURL:  req.PhotoURL,
		CreatedAt: s.now().UTC(),
		RequestID: req.RequestID,
	})
	if err != nil {
		if dedupeKey != "" {
			s.deduper.Unrecord(ctx, dedupeKey)
		}
		return "", err
	}
	return id, nil
}

// checkinTeams resolves which of the user's teams in the event the check-in
// is for.
func (s *Service) checkinTeams(ctx context.Context, req types.CheckinRequest) ([]int64, error) {
	teams, err := s.campaign.TeamsForUserInEvent(ctx, req.UserID, req.EventID)
	if err != nil {
		return nil, err
	}
	if len(teams) == 0 {
		return nil, fault.Validation("user %d has no team in event %d", req.UserID, req.EventID)
	}

	member := make(map[int64]struct{}, len(teams))
	for _, t := range teams {
		member[t.ID] = struct{}{}
	}
	if len(req.TeamIDs) == 0 {
		ids := make([]int64, len(teams))
		for i, t := range teams {
			ids[i] = t.ID
		}
		return ids, nil
	}

	ids := make([]int64, 0, len(req.TeamIDs))
	picked := make(map[int64]struct{}, len(req.TeamIDs))
	for _, id := range req.TeamIDs {
		if _, ok := member[id]; !ok {
			return nil, fault.Validation("user %d is not a member of team %d in event %d", req.UserID, id, req.EventID)
		}
		if _, dup := picked[id]; dup {
			continue
		}
		picked[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// CreateEvent stores a new event. Events are administrative and written
// synchronously.
func (s *Service) CreateEvent(ctx context.Context, e model.Event) (model.Event, error) {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" || len(e.Name) > maxNameLength {
		return model.Event{}, fault.Validation("event name must be 1..%d characters", maxNameLength)
	}
	if !e.StartTime.IsZero() && !e.EndTime.IsZero() && e.EndTime.Before(e.StartTime) {
		return model.Event{}, fault.Validation("event ends before it starts")
	}
	created, err := s.campaign.CreateEvent(ctx, e)
	if err != nil {
		return model.Event{}, err
	}
	s.logger.Info(ctx, "event created", logger.Int64("event_id", created.ID), logger.String("name", created.Name))
	return created, nil
}

// CreateTeam validates and queues team creation.
func (s *Service) CreateTeam(ctx context.Context, eventID int64, name, description string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLength {
		return "", fault.Validation("team name must be 1..%d characters", maxNameLength)
	}
	if _, err := s.campaign.Event(ctx, eventID); err != nil {
		return "", err
	}
	return s.dispatcher.Enqueue(ctx, task.CreateTeam{EventID: eventID, Name: name, Description: description})
}

// JoinTeam validates and queues a membership.
func (s *Service) JoinTeam(ctx context.Context, eventID, userID, teamID int64) (string, error) {
	if err := s.checkJoin(ctx, eventID, userID, teamID); err != nil {
		return "", err
	}
	member, err := s.campaign.IsMember(ctx, userID, teamID)
	if err != nil {
		return "", err
	}
	if member {
		return "", fault.Conflict("user %d already belongs to team %d", userID, teamID)
	}
	return s.dispatcher.Enqueue(ctx, task.JoinTeam{EventID: eventID, UserID: userID, TeamID: teamID})
}

func (s *Service) checkJoin(ctx context.Context, eventID, userID, teamID int64) error {
	if _, err := s.campaign.Event(ctx, eventID); err != nil {
		return err
	}
	team, err := s.campaign.Team(ctx, teamID)
	if err != nil {
		return err
	}
	if team.EventID != eventID {
		return fault.Validation("team %d does not belong to event %d", teamID, eventID)
	}
	_, err = s.campaign.User(ctx, userID)
	return err
}

// RegisterUser validates a new participant, hashes the password and queues
// the insert. The plain password never reaches the queue.
func (s *Service) RegisterUser(ctx context.Context, username, email, password string) (string, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	switch {
	case username == "" || len(username) > maxNameLength:
		return "", fault.Validation("username must be 1..%d characters", maxNameLength)
	case !strings.Contains(email, "@") || strings.HasPrefix(email, "@") || strings.HasSuffix(email, "@"):
		return "", fault.Validation("invalid email %q", email)
	case len(password) < minPasswordLength:
		return "", fault.Validation("password must be at least %d characters", minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fault.Validation("password cannot be hashed: %v", err)
	}
	return s.dispatcher.Enqueue(ctx, task.RegisterUser{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
	})
}

// persistCheckins inserts one row per team and triggers a recompute for each.
// Request keys make the insert idempotent across attempts; a retried attempt
// re-triggers recomputes with the same op ids.
func (s *Service) persistCheckins(ctx context.Context, taskID string, t task.PersistCheckins) (PersistResult, error) {
	if len(t.TeamIDs) == 0 {
		return PersistResult{}, fault.Validation("check-in names no team")
	}
	base := t.RequestID
	if base == "" {
		base = taskID
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}

	rows := make([]model.Checkin, len(t.TeamIDs))
	for i, teamID := range t.TeamIDs {
		rows[i] = model.Checkin{
			UserID:     t.UserID,
			TeamID:     teamID,
			Content:    t.Content,
			PhotoURL:   t.PhotoURL,
			CreatedAt:  createdAt,
			RequestKey: requestKey(base, teamID),
		}
	}
	inserted, err := s.campaign.CreateCheckins(ctx, rows)
	if err != nil {
		return PersistResult{}, err
	}

	res := PersistResult{Inserted: len(inserted), Recomputes: make(map[int64]string, len(rows))}
	for _, row := range rows {
		id, err := s.scheduleRecompute(ctx, task.RecomputeScore{TeamID: row.TeamID, OpID: row.RequestKey}, row.UserID, createdAt)
		if err != nil {
			return res, err
		}
		res.Recomputes[row.TeamID] = id
	}
	return res, nil
}

// PersistResult is stored as the result of a check-in persistence task.
type PersistResult struct {
	Inserted int `json:"inserted"`
	// Recomputes maps team id to the recompute task scheduled for it.
	Recomputes map[int64]string `json:"recomputes"`
}

func requestKey(base string, teamID int64) string {
	return base + ":" + strconv.FormatInt(teamID, 10)
}

func (s *Service) createTeam(ctx context.Context, t task.CreateTeam) (model.Team, error) {
	if _, err := s.campaign.Event(ctx, t.EventID); err != nil {
		return model.Team{}, err
	}
	team, err := s.campaign.CreateTeam(ctx, model.Team{
		Name:        t.Name,
		Description: t.Description,
		EventID:     t.EventID,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		return model.Team{}, err
	}
	s.logger.Info(ctx, "team created", logger.Int64("team_id", team.ID), logger.Int64("event_id", t.EventID))
	return team, nil
}

func (s *Service) joinTeam(ctx context.Context, t task.JoinTeam) error {
	if err := s.checkJoin(ctx, t.EventID, t.UserID, t.TeamID); err != nil {
		return err
	}
	if err := s.campaign.AddMembership(ctx, t.UserID, t.TeamID); err != nil {
		return err
	}
	s.logger.Info(ctx, "team joined", logger.Int64("team_id", t.TeamID), logger.Int64("user_id", t.UserID))
	return nil
}

func (s *Service) registerUser(ctx context.Context, t task.RegisterUser) (model.User, error) {
	u, err := s.campaign.CreateUser(ctx, model.User{
		Username:     t.Username,
		Email:        t.Email,
		PasswordHash: t.PasswordHash,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return model.User{}, err
	}
	s.logger.Info(ctx, "user registered", logger.Int64("user_id", u.ID))
	return u, nil
}
