package repository

import (
	"time"

	"github.com/okian/rally/internal/domain/model"
)

type eventRow struct {
	ID          int64  `gorm:"primaryKey"`
	Name        string `gorm:"not null"`
	Description string
	StartTime   time.Time
	EndTime     time.Time
}

func (eventRow) TableName() string { return "events" }

type userRow struct {
	ID           int64  `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"column:password;not null"`
	CreatedAt    time.Time
}

func (userRow) TableName() string { return "users" }

type teamRow struct {
	ID          int64  `gorm:"primaryKey"`
	Name        string `gorm:"uniqueIndex:idx_teams_event_name;not null"`
	Description string
	EventID     int64 `gorm:"uniqueIndex:idx_teams_event_name;index;not null"`
	CreatedAt   time.Time
}

func (teamRow) TableName() string { return "teams" }

type membershipRow struct {
	UserID    int64 `gorm:"primaryKey"`
	TeamID    int64 `gorm:"primaryKey;index"`
	CreatedAt time.Time
}

func (membershipRow) TableName() string { return "user_teams" }

type checkinRow struct {
	ID        int64 `gorm:"primaryKey"`
	UserID    int64 `gorm:"index;not null"`
	TeamID    int64 `gorm:"index;not null"`
	Content   string
	PhotoURL  string
	CreatedAt time.Time
	// NULL when the client sent no request id; unique otherwise.
	RequestKey *string `gorm:"uniqueIndex"`
}

func (checkinRow) TableName() string { return "checkins" }

type scoreRow struct {
	TeamID    int64   `gorm:"primaryKey"`
	Score     float64 `gorm:"not null;default:0"`
	UpdatedAt time.Time
	LastOpID  string `gorm:"column:last_op_id"`
}

func (scoreRow) TableName() string { return "scores" }

// scoreOpRow marks one operation as applied to a team's score.
type scoreOpRow struct {
	TeamID    int64  `gorm:"primaryKey;autoIncrement:false"`
	OpID      string `gorm:"primaryKey;column:op_id"`
	AppliedAt time.Time
}

func (scoreOpRow) TableName() string { return "score_ops" }

func (r eventRow) toModel() model.Event {
	return model.Event{ID: r.ID, Name: r.Name, Description: r.Description, StartTime: r.StartTime, EndTime: r.EndTime}
}

func (r userRow) toModel() model.User {
	return model.User{ID: r.ID, Username: r.Username, Email: r.Email, PasswordHash: r.PasswordHash, CreatedAt: r.CreatedAt}
}

func (r teamRow) toModel() model.Team {
	return model.Team{ID: r.ID, Name: r.Name, Description: r.Description, EventID: r.EventID, CreatedAt: r.CreatedAt}
}

func (r checkinRow) toModel() model.Checkin {
	c := model.Checkin{
		ID: r.ID, UserID: r.UserID, TeamID: r.TeamID,
		Content: r.Content, PhotoURL: r.PhotoURL, CreatedAt: r.CreatedAt,
	}
	if r.RequestKey != nil {
		c.RequestKey = *r.RequestKey
	}
	return c
}

func checkinFromModel(c model.Checkin) checkinRow {
	r := checkinRow{
		ID: c.ID, UserID: c.UserID, TeamID: c.TeamID,
		Content: c.Content, PhotoURL: c.PhotoURL, CreatedAt: c.CreatedAt,
	}
	if c.RequestKey != "" {
		key := c.RequestKey
		r.RequestKey = &key
	}
	return r
}

func (r scoreRow) toModel() model.ScoreRecord {
	return model.ScoreRecord{TeamID: r.TeamID, Score: r.Score, UpdatedAt: r.UpdatedAt, LastOpID: r.LastOpID}
}
