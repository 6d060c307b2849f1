package service

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/okian/rally/internal/adapters/mq/worker"
	"github.com/okian/rally/internal/domain/fault"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/scoring"
	"github.com/okian/rally/internal/domain/task"
	"github.com/okian/rally/internal/domain/types"
	"github.com/okian/rally/pkg/logger"
	"github.com/okian/rally/pkg/metrics"
)

// RecomputeResult is stored as the result of a recompute task.
type RecomputeResult struct {
	TeamID    int64   `json:"team_id"`
	Score     float64 `json:"score"`
	Increment float64 `json:"increment"`
	Applied   bool    `json:"applied"`
}

// OnCheckin schedules a score recompute for teamID. It is the only way a
// check-in reaches the scoring pipeline.
func (s *Service) OnCheckin(ctx context.Context, teamID, userID int64, ts time.Time) (string, error) {
	return s.scheduleRecompute(ctx, task.RecomputeScore{TeamID: teamID}, userID, ts)
}

func (s *Service) scheduleRecompute(ctx context.Context, t task.RecomputeScore, userID int64, ts time.Time) (string, error) {
	id, err := s.dispatcher.Enqueue(ctx, t)
	if err != nil {
		metrics.RecordErrorByComponent("coordinator", string(fault.KindOf(err)))
		return "", err
	}
	s.logger.Debug(ctx, "recompute scheduled",
		logger.String("task_id", id),
		logger.Int64("team_id", t.TeamID),
		logger.Int64("user_id", userID),
		logger.Any("checkin_at", ts),
	)
	return id, nil
}

// recompute folds the team's history into its stored score. The team lock
// and the store's row lock keep concurrent recomputes from losing updates;
// opID makes a re-delivered task a no-op once it has committed.
func (s *Service) recompute(ctx context.Context, m worker.Meta, t task.RecomputeScore) (RecomputeResult, error) {
	if _, err := s.campaign.Team(ctx, t.TeamID); err != nil {
		return RecomputeResult{}, err
	}

	opID := t.OpID
	if opID == "" {
		opID = m.TaskID
	}

	unlock := s.locks.Lock(t.TeamID)
	defer unlock()

	var res scoring.Result
	start := time.Now()
	rec, applied, err := s.scores.Apply(ctx, t.TeamID, opID, func(previous float64) (float64, error) {
		computeStart := time.Now()
		in, err := s.loadInput(ctx, t.TeamID)
		if err != nil {
			return 0, err
		}
		in.Previous = previous
		in.Now = m.EnqueuedAt
		res, err = s.calc.Compute(in)
		metrics.RecordComputeLatency(float64(time.Since(computeStart).Milliseconds()))
		return res.Score, err
	})
	metrics.RecordStoreLatency("apply", float64(time.Since(start).Milliseconds()))
	if err != nil {
		return RecomputeResult{}, err
	}

	if !applied {
		metrics.RecordScoreSkipped()
		s.logger.Info(ctx, "recompute already applied",
			logger.Int64("team_id", t.TeamID),
			logger.String("op_id", opID),
		)
	} else {
		metrics.RecordScoreApplied(res.Increment)
	}

	// The store has committed; a cache failure must not turn into a retry
	// that would apply the increment twice.
	s.writeCache(ctx, t.TeamID, rec.Score)

	return RecomputeResult{
		TeamID:    t.TeamID,
		Score:     rec.Score,
		Increment: res.Increment,
		Applied:   applied,
	}, nil
}

func (s *Service) loadInput(ctx context.Context, teamID int64) (scoring.Input, error) {
	checkins, err := s.campaign.CheckinsByTeam(ctx, teamID)
	if err != nil {
		return scoring.Input{}, err
	}
	members, err := s.campaign.TeamMembers(ctx, teamID)
	if err != nil {
		return scoring.Input{}, err
	}

	authors := make([]int64, 0, len(checkins))
	seen := make(map[int64]struct{}, len(checkins))
	for _, c := range checkins {
		if _, ok := seen[c.UserID]; ok {
			continue
		}
		seen[c.UserID] = struct{}{}
		authors = append(authors, c.UserID)
	}
	counts, err := s.campaign.MembershipCounts(ctx, authors)
	if err != nil {
		return scoring.Input{}, err
	}

	return scoring.Input{
		TeamID:           teamID,
		Checkins:         checkins,
		MembershipCounts: counts,
		Members:          members,
	}, nil
}

// writeCache publishes a committed score. On failure the entry is evicted so
// readers fall back to the store instead of seeing a stale value.
func (s *Service) writeCache(ctx context.Context, teamID int64, score float64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheWriteTimeout)
	defer cancel()

	err := s.cache.Set(ctx, teamID, score, s.cacheTTL)
	if err == nil {
		return
	}
	metrics.RecordCacheError("set")
	s.logger.Warn(ctx, "cache write failed",
		logger.Int64("team_id", teamID),
		logger.Error(err),
	)
	if derr := s.cache.Delete(ctx, teamID); derr != nil {
		metrics.RecordCacheError("delete")
		s.logger.Error(ctx, "cache evict failed, entry may be stale until it expires",
			logger.Int64("team_id", teamID),
			logger.Error(derr),
		)
	}
}

// OverrideScore replaces a team's score. It takes the same lock as
// recomputes and writes the store before the cache.
func (s *Service) OverrideScore(ctx context.Context, teamID int64, score float64) (types.TeamScore, error) {
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 {
		return types.TeamScore{}, fault.Validation("score must be a finite non-negative number, got %v", score)
	}
	if _, err := s.campaign.Team(ctx, teamID); err != nil {
		return types.TeamScore{}, err
	}

	unlock := s.locks.Lock(teamID)
	defer unlock()

	start := time.Now()
	rec, err := s.scores.Upsert(ctx, teamID, score, "override:"+uuid.NewString())
	metrics.RecordStoreLatency("upsert", float64(time.Since(start).Milliseconds()))
	if err != nil {
		return types.TeamScore{}, err
	}
	s.writeCache(ctx, teamID, rec.Score)
	metrics.RecordScoreOverride()

	s.logger.Info(ctx, "score overridden",
		logger.Int64("team_id", teamID),
		logger.Float64("score", rec.Score),
	)
	return types.TeamScore{TeamID: teamID, Score: rec.Score}, nil
}

// GetTeamScore serves a score from the cache, falling back to the store on a
// miss or a cache error. Concurrent misses for one team share a store read.
func (s *Service) GetTeamScore(ctx context.Context, teamID int64) (types.TeamScore, error) {
	score, ok, err := s.cache.Get(ctx, teamID)
	switch {
	case err != nil:
		metrics.RecordCacheError("get")
		s.logger.Warn(ctx, "cache read failed, using store", logger.Int64("team_id", teamID), logger.Error(err))
	case ok:
		metrics.RecordCacheHit()
		return types.TeamScore{TeamID: teamID, Score: score}, nil
	}
	metrics.RecordCacheMiss()

	// The shared read must not fail for every waiter when the first caller
	// goes away.
	v, err, _ := s.flight.Do(strconv.FormatInt(teamID, 10), func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeReadTimeout)
		defer cancel()
		return s.loadScore(loadCtx, teamID)
	})
	if err != nil {
		return types.TeamScore{}, err
	}
	return types.TeamScore{TeamID: teamID, Score: v.(float64)}, nil
}

func (s *Service) loadScore(ctx context.Context, teamID int64) (float64, error) {
	start := time.Now()
	rec, err := s.scores.Get(ctx, teamID)
	metrics.RecordStoreLatency("get", float64(time.Since(start).Milliseconds()))
	if errors.Is(err, fault.ErrNotFound) {
		if _, terr := s.campaign.Team(ctx, teamID); terr != nil {
			return 0, terr
		}
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	// Add never overwrites a value a concurrent recompute just published.
	if _, aerr := s.cache.Add(ctx, teamID, rec.Score, s.cacheTTL); aerr != nil {
		metrics.RecordCacheError("add")
		s.logger.Warn(ctx, "cache fill failed", logger.Int64("team_id", teamID), logger.Error(aerr))
	}
	return rec.Score, nil
}

// GetEventRanking returns every team of the event ordered by score.
func (s *Service) GetEventRanking(ctx context.Context, eventID int64) ([]types.RankingEntry, error) {
	metrics.RecordRankingRequest()

	if _, err := s.campaign.Event(ctx, eventID); err != nil {
		return nil, err
	}
	teams, err := s.campaign.TeamsByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if len(teams) == 0 {
		return []types.RankingEntry{}, nil
	}

	ids := make([]int64, len(teams))
	for i, t := range teams {
		ids[i] = t.ID
	}

	scores, err := s.cache.GetMany(ctx, ids)
	if err != nil {
		metrics.RecordCacheError("get_many")
		s.logger.Warn(ctx, "cache read failed, using store", logger.Int64("event_id", eventID), logger.Error(err))
		scores = nil
	}
	if scores == nil {
		scores = make(map[int64]float64, len(ids))
	}

	var misses []int64
	for _, id := range ids {
		if _, ok := scores[id]; ok {
			metrics.RecordCacheHit()
			continue
		}
		metrics.RecordCacheMiss()
		misses = append(misses, id)
	}
	if len(misses) > 0 {
		if err := s.fillFromStore(ctx, misses, scores); err != nil {
			return nil, err
		}
	}

	entries := make([]types.RankingEntry, len(teams))
	for i, t := range teams {
		entries[i] = rankingEntry(t, scores[t.ID])
	}
	types.SortRanking(entries)
	return entries, nil
}

func (s *Service) fillFromStore(ctx context.Context, ids []int64, scores map[int64]float64) error {
	start := time.Now()
	recs, err := s.scores.GetMany(ctx, ids)
	metrics.RecordStoreLatency("get_many", float64(time.Since(start).Milliseconds()))
	if err != nil {
		return err
	}
	for id, rec := range recs {
		scores[id] = rec.Score
		if _, aerr := s.cache.Add(ctx, id, rec.Score, s.cacheTTL); aerr != nil {
			metrics.RecordCacheError("add")
		}
	}
	return nil
}

func rankingEntry(t model.Team, score float64) types.RankingEntry {
	return types.RankingEntry{TeamID: t.ID, TeamName: t.Name, Score: score}
}
