// Package types contains the read shapes returned to API callers.
package types

import "sort"

// TeamScore is the answer to a single team score lookup.
type TeamScore struct {
	TeamID int64   `json:"team_id"`
	Score  float64 `json:"score"`
}

// RankingEntry is one row of an event leaderboard.
type RankingEntry struct {
	Rank     int     `json:"rank"`
	TeamID   int64   `json:"team_id"`
	TeamName string  `json:"team_name"`
	Score    float64 `json:"score"`
}

// less reports whether a ranks before b: higher score first, then lower team id.
func less(a, b RankingEntry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.TeamID < b.TeamID
}

// SortRanking orders entries in place and assigns 1-based ranks.
func SortRanking(entries []RankingEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return less(entries[i], entries[j]) })
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

// CheckinRequest submits one participation record for some or all of a
// user's teams in an event.
type CheckinRequest struct {
	EventID int64 `json:"event_id"`
	UserID  int64 `json:"user_id"`
	// TeamIDs limits the check-in to these teams. Empty means every team
	// the user belongs to in the event.
	TeamIDs  []int64 `json:"team_ids,omitempty"`
	Content  string  `json:"content"`
	PhotoURL string  `json:"photo_url,omitempty"`
	// RequestID is an optional client idempotency key.
	RequestID string `json:"request_id,omitempty"`
}

// Stats is the service snapshot served on /stats.
type Stats struct {
	Started     bool  `json:"started"`
	Workers     int   `json:"workers"`
	Busy        int64 `json:"busy"`
	Queued      int   `json:"queued"`
	Succeeded   int64 `json:"succeeded"`
	Failed      int64 `json:"failed"`
	Retried     int64 `json:"retried"`
	DedupeSize  int64 `json:"dedupe_size"`
	CacheTTLSec int   `json:"cache_ttl_seconds"`
}
