// Package scoring derives team scores from check-in and membership history.
//
// The increment for one recompute is
//
//	round(totalWeight / (alpha * (spreadMinutes + 1)) + beta * newMembers)
//
// where totalWeight sums 1/teamCount over the distinct check-in authors,
// spreadMinutes is the gap between the first and last check-in and
// newMembers counts members whose account was created within the lookback
// window before the team's first check-in. The new cumulative score is
// round(previous + increment). Rounding is half-to-even.
package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/okian/rally/internal/domain/fault"
	"github.com/okian/rally/internal/domain/model"
)

// Default tuning constants.
const (
	DefaultAlpha           = 0.02
	DefaultBeta            = 20.0
	DefaultNewMemberWindow = 7 * 24 * time.Hour
)

// Input is everything a recompute reads. Previous is passed explicitly so the
// calculator never consults a cache.
type Input struct {
	TeamID int64
	// Checkins is the team's full check-in history, any order.
	Checkins []model.Checkin
	// MembershipCounts maps each check-in author to the number of teams
	// they belong to.
	MembershipCounts map[int64]int
	// Members are the team's current members.
	Members  []model.User
	Previous float64
	// Now anchors the lookback window when the team has no check-ins yet.
	Now time.Time
}

// Result holds the computed score and the terms that produced it.
type Result struct {
	TeamID            int64
	TotalWeight       float64
	TimeSpreadMinutes float64
	NewMembers        int
	Increment         float64
	Score             float64
}

// Calculator is a pure score function configured with tuning constants.
type Calculator struct {
	alpha           float64
	beta            float64
	newMemberWindow time.Duration
}

// NewCalculator creates a calculator with the given options applied over defaults.
func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{
		alpha:           DefaultAlpha,
		beta:            DefaultBeta,
		newMemberWindow: DefaultNewMemberWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Alpha returns the configured time-spread factor.
func (c *Calculator) Alpha() float64 { return c.alpha }

// Beta returns the configured new-member bonus.
func (c *Calculator) Beta() float64 { return c.beta }

// Compute returns the new cumulative score for in.TeamID.
func (c *Calculator) Compute(in Input) (Result, error) {
	weight, err := totalWeight(in.Checkins, in.MembershipCounts)
	if err != nil {
		return Result{}, err
	}
	spread := timeSpread(in.Checkins)

	anchor := in.Now
	if first, ok := firstCheckin(in.Checkins); ok {
		anchor = first
	}
	newMembers := countNewMembers(in.Members, anchor.Add(-c.newMemberWindow))

	raw := weight/(c.alpha*(spread+1)) + c.beta*float64(newMembers)
	increment := math.RoundToEven(raw)

	return Result{
		TeamID:            in.TeamID,
		TotalWeight:       weight,
		TimeSpreadMinutes: spread,
		NewMembers:        newMembers,
		Increment:         increment,
		Score:             math.RoundToEven(in.Previous + increment),
	}, nil
}

// totalWeight sums 1/teamCount over distinct authors.
func totalWeight(checkins []model.Checkin, counts map[int64]int) (float64, error) {
	seen := make(map[int64]struct{}, len(checkins))
	var total float64
	for _, ch := range checkins {
		if _, dup := seen[ch.UserID]; dup {
			continue
		}
		seen[ch.UserID] = struct{}{}
		n := counts[ch.UserID]
		if n <= 0 {
			return 0, fault.Logic(fmt.Errorf("%w: user %d on team %d", ErrZeroMembership, ch.UserID, ch.TeamID))
		}
		total += 1 / float64(n)
	}
	return total, nil
}

// timeSpread is the latest minus earliest check-in in minutes.
func timeSpread(checkins []model.Checkin) float64 {
	if len(checkins) < 2 {
		return 0
	}
	earliest, latest := checkins[0].CreatedAt, checkins[0].CreatedAt
	for _, ch := range checkins[1:] {
		if ch.CreatedAt.Before(earliest) {
			earliest = ch.CreatedAt
		}
		if ch.CreatedAt.After(latest) {
			latest = ch.CreatedAt
		}
	}
	return latest.Sub(earliest).Minutes()
}

func firstCheckin(checkins []model.Checkin) (time.Time, bool) {
	if len(checkins) == 0 {
		return time.Time{}, false
	}
	first := checkins[0].CreatedAt
	for _, ch := range checkins[1:] {
		if ch.CreatedAt.Before(first) {
			first = ch.CreatedAt
		}
	}
	return first, true
}

func countNewMembers(members []model.User, cutoff time.Time) int {
	n := 0
	for _, u := range members {
		if !u.CreatedAt.Before(cutoff) {
			n++
		}
	}
	return n
}
