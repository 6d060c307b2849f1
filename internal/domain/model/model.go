// Package model contains domain models passed between layers.
package model

import "time"

// Event is a campaign that teams are created under.
type Event struct {
	ID          int64
	Name        string
	Description string
	StartTime   time.Time
	EndTime     time.Time
}

// User is a participant. CreatedAt feeds the new-member term of the score.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Team belongs to exactly one event.
type Team struct {
	ID          int64
	Name        string
	Description string
	EventID     int64
	CreatedAt   time.Time
}

// Membership links a user to a team. Created on join, never updated.
type Membership struct {
	UserID    int64
	TeamID    int64
	CreatedAt time.Time
}

// Checkin is an append-only participation record for one team.
type Checkin struct {
	ID        int64
	UserID    int64
	TeamID    int64
	Content   string
	PhotoURL  string
	CreatedAt time.Time
	// RequestKey is "<request_id>:<team_id>", falling back to the
	// persisting task's id when the client sent no request id. Unique when
	// present.
	RequestKey string
}

// ScoreRecord is the authoritative cumulative score of a team.
type ScoreRecord struct {
	TeamID    int64
	Score     float64
	UpdatedAt time.Time
	// LastOpID is the id of the last task applied to this row.
	LastOpID string
}
