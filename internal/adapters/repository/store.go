// Package repository persists scores and the relational campaign model.
package repository

import (
	"context"

	"github.com/okian/rally/internal/domain/model"
)

// ApplyFunc derives the next score from the stored one. Returning an error
// aborts the write.
type ApplyFunc func(previous float64) (float64, error)

// ScoreStore is the authoritative record of team scores.
type ScoreStore interface {
	// Get returns ErrNotFound when the team has no score row yet.
	Get(ctx context.Context, teamID int64) (model.ScoreRecord, error)
	// GetMany returns rows for the teams that have one. Missing teams are
	// absent from the map.
	GetMany(ctx context.Context, teamIDs []int64) (map[int64]model.ScoreRecord, error)
	// Upsert overwrites the score unconditionally.
	Upsert(ctx context.Context, teamID int64, score float64, opID string) (model.ScoreRecord, error)
	// Apply runs fn on the current score while holding the team's row
	// exclusively and stores the result tagged with opID. Every applied
	// opID is remembered per team; when opID was applied before, at any
	// point, fn is not called and applied is false. A missing row starts
	// from zero.
	Apply(ctx context.Context, teamID int64, opID string, fn ApplyFunc) (rec model.ScoreRecord, applied bool, err error)
}

// CampaignRepository stores events, teams, users, memberships and check-ins.
type CampaignRepository interface {
	Event(ctx context.Context, id int64) (model.Event, error)
	CreateEvent(ctx context.Context, e model.Event) (model.Event, error)

	Team(ctx context.Context, id int64) (model.Team, error)
	TeamsByEvent(ctx context.Context, eventID int64) ([]model.Team, error)
	TeamsForUserInEvent(ctx context.Context, userID, eventID int64) ([]model.Team, error)
	// CreateTeam returns a conflict when the event already has a team of that name.
	CreateTeam(ctx context.Context, t model.Team) (model.Team, error)

	User(ctx context.Context, id int64) (model.User, error)
	// CreateUser returns a conflict on a duplicate username or email.
	CreateUser(ctx context.Context, u model.User) (model.User, error)

	IsMember(ctx context.Context, userID, teamID int64) (bool, error)
	// AddMembership returns a conflict when the user already belongs to the team.
	AddMembership(ctx context.Context, userID, teamID int64) error
	TeamMembers(ctx context.Context, teamID int64) ([]model.User, error)
	// MembershipCounts maps each user to the number of teams they belong to.
	MembershipCounts(ctx context.Context, userIDs []int64) (map[int64]int, error)

	CheckinsByTeam(ctx context.Context, teamID int64) ([]model.Checkin, error)
	// CreateCheckins inserts rows, skipping any whose RequestKey already
	// exists. It returns the rows that were actually inserted.
	CreateCheckins(ctx context.Context, checkins []model.Checkin) ([]model.Checkin, error)
}
