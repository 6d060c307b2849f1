// Package task defines the closed set of background jobs the worker pool runs.
//
// Every variant is a plain struct implementing Task. The worker pattern
// matches on the concrete type; there is no lookup by name.
package task

import "time"

// Kind names a task variant on the wire and in metrics.
type Kind string

const (
	KindRecomputeScore  Kind = "recompute_score"
	KindPersistCheckins Kind = "persist_checkins"
	KindCreateTeam      Kind = "create_team"
	KindJoinTeam        Kind = "join_team"
	KindRegisterUser    Kind = "register_user"
)

// IsWrite reports whether the kind inserts relational rows. Write tasks
// back off longer between attempts than score recomputes.
func (k Kind) IsWrite() bool {
	switch k {
	case KindPersistCheckins, KindCreateTeam, KindJoinTeam:
		return true
	default:
		return false
	}
}

// Task is implemented only by the variants in this package.
type Task interface {
	Kind() Kind
	sealed()
}

// RecomputeScore folds the team's history into a new cumulative score.
type RecomputeScore struct {
	TeamID int64 `json:"team_id"`
	// OpID tags the score write. Empty means the task id. Check-in
	// triggered recomputes use the check-in's request key so a re-sent
	// trigger is recognised by the store.
	OpID string `json:"op_id,omitempty"`
}

// PersistCheckins stores one check-in per team and triggers recomputes.
type PersistCheckins struct {
	UserID    int64     `json:"user_id"`
	TeamIDs   []int64   `json:"team_ids"`
	Content   string    `json:"content"`
	PhotoURL  string    `json:"photo_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	// RequestID is the client supplied idempotency key, if any.
	RequestID string `json:"request_id,omitempty"`
}

// CreateTeam registers a team under an event.
type CreateTeam struct {
	EventID     int64  `json:"event_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// JoinTeam adds a user to a team.
type JoinTeam struct {
	EventID int64 `json:"event_id"`
	UserID  int64 `json:"user_id"`
	TeamID  int64 `json:"team_id"`
}

// RegisterUser creates a participant. The password is already hashed.
type RegisterUser struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
}

func (RecomputeScore) Kind() Kind  { return KindRecomputeScore }
func (PersistCheckins) Kind() Kind { return KindPersistCheckins }
func (CreateTeam) Kind() Kind      { return KindCreateTeam }
func (JoinTeam) Kind() Kind        { return KindJoinTeam }
func (RegisterUser) Kind() Kind    { return KindRegisterUser }

func (RecomputeScore) sealed()  {}
func (PersistCheckins) sealed() {}
func (CreateTeam) sealed()      {}
func (JoinTeam) sealed()        {}
func (RegisterUser) sealed()    {}
