package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/okian/rally/internal/adapters/cache"
	"github.com/okian/rally/internal/adapters/mq/queue"
	"github.com/okian/rally/internal/adapters/mq/worker"
	"github.com/okian/rally/internal/adapters/repository"
	service "github.com/okian/rally/internal/app"
	"github.com/okian/rally/internal/domain/fault"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/scoring"
	"github.com/okian/rally/internal/domain/task"
	"github.com/okian/rally/internal/domain/types"
	"github.com/okian/rally/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var fastRetries = worker.RetryPolicy{
	MaxAttempts:    3,
	BaseDelay:      5 * time.Millisecond,
	WriteBaseDelay: 5 * time.Millisecond,
	MaxDelay:       20 * time.Millisecond,
}

// fixture is an event with one team and two members whose single-team
// check-ins ten minutes apart score 29 with the default constants.
type fixture struct {
	svc      *service.Service
	scores   *repository.MemoryScoreStore
	campaign *repository.MemoryCampaignRepository
	cache    *cache.MemoryCache

	event   model.Event
	team    model.Team
	veteran model.User
	rookie  model.User
	t0      time.Time
}

func newFixture(opts ...service.Option) *fixture {
	ctx := context.Background()
	f := &fixture{
		scores:   repository.NewMemoryScoreStore(),
		campaign: repository.NewMemoryCampaignRepository(),
		cache:    cache.NewMemoryCache(time.Minute),
		t0:       time.Now().UTC().Add(-time.Hour),
	}

	f.event, _ = f.campaign.CreateEvent(ctx, model.Event{Name: "spring"})
	f.team, _ = f.campaign.CreateTeam(ctx, model.Team{Name: "A", EventID: f.event.ID})
	f.veteran, _ = f.campaign.CreateUser(ctx, model.User{
		Username: "vet", Email: "vet@example.com", CreatedAt: f.t0.Add(-30 * 24 * time.Hour),
	})
	f.rookie, _ = f.campaign.CreateUser(ctx, model.User{
		Username: "rookie", Email: "rookie@example.com", CreatedAt: f.t0.Add(-2 * 24 * time.Hour),
	})
	_ = f.campaign.AddMembership(ctx, f.veteran.ID, f.team.ID)
	_ = f.campaign.AddMembership(ctx, f.rookie.ID, f.team.ID)

	base := []service.Option{
		service.WithScoreStore(f.scores),
		service.WithCampaignRepository(f.campaign),
		service.WithCache(f.cache),
		service.WithCalculator(scoring.NewCalculator(scoring.WithAlpha(0.02), scoring.WithBeta(20))),
		service.WithWorkerCount(4),
		service.WithRetryPolicy(fastRetries),
		service.WithCacheTTL(time.Minute),
		service.WithLogger(logger.Get()),
	}
	f.svc = service.New(append(base, opts...)...)
	return f
}

func (f *fixture) seedCheckins() {
	_, _ = f.campaign.CreateCheckins(context.Background(), []model.Checkin{
		{UserID: f.rookie.ID, TeamID: f.team.ID, Content: "run", CreatedAt: f.t0},
		{UserID: f.veteran.ID, TeamID: f.team.ID, Content: "swim", CreatedAt: f.t0.Add(10 * time.Minute)},
	})
}

func (f *fixture) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = f.svc.Stop(ctx)
}

// waitTerminal polls until the task succeeds or fails.
func waitTerminal(svc *service.Service, id string) task.Status {
	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err := svc.TaskStatus(context.Background(), id)
		if err == nil && st.State.Terminal() {
			return st
		}
		if time.Now().After(deadline) {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// failingScores fails every Apply with a transient error and counts calls.
type failingScores struct {
	repository.ScoreStore
	applies atomic.Int32
}

func (s *failingScores) Apply(context.Context, int64, string, repository.ApplyFunc) (model.ScoreRecord, bool, error) {
	s.applies.Add(1)
	return model.ScoreRecord{}, false, errors.New("connection reset")
}

// flakyQueue rejects the failOn-th Enqueue call once.
type flakyQueue struct {
	queue.Queue
	failOn int32
	calls  atomic.Int32
}

func (q *flakyQueue) Enqueue(ctx context.Context, env task.Envelope) error {
	if q.calls.Add(1) == q.failOn {
		return errors.New("queue unavailable")
	}
	return q.Queue.Enqueue(ctx, env)
}

// contextScores fails reads whose context is already done, like a real
// database driver.
type contextScores struct {
	repository.ScoreStore
}

func (s contextScores) Get(ctx context.Context, teamID int64) (model.ScoreRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.ScoreRecord{}, err
	}
	return s.ScoreStore.Get(ctx, teamID)
}

// brokenCache fails every operation.
type brokenCache struct {
	deletes atomic.Int32
}

var errCacheDown = errors.New("cache down")

func (c *brokenCache) Get(context.Context, int64) (float64, bool, error) { return 0, false, errCacheDown }
func (c *brokenCache) GetMany(context.Context, []int64) (map[int64]float64, error) {
	return nil, errCacheDown
}
func (c *brokenCache) Set(context.Context, int64, float64, time.Duration) error { return errCacheDown }
func (c *brokenCache) Add(context.Context, int64, float64, time.Duration) (bool, error) {
	return false, errCacheDown
}
func (c *brokenCache) Delete(context.Context, int64) error {
	c.deletes.Add(1)
	return errCacheDown
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()
		ctx := context.Background()

		Convey("When starting it twice", func() {
			So(svc.Start(ctx), ShouldBeNil)
			defer func() { _ = svc.Stop(ctx) }()

			Convey("Then the second start is rejected", func() {
				So(errors.Is(svc.Start(ctx), service.ErrAlreadyStarted), ShouldBeTrue)
				So(svc.IsStarted(), ShouldBeTrue)
				So(svc.GetStats(ctx).Workers, ShouldBeGreaterThan, 0)
			})
		})

		Convey("When no cache TTL is configured", func() {
			Convey("Then entries live for an hour", func() {
				So(svc.GetStats(ctx).CacheTTLSec, ShouldEqual, 3600)
			})
		})

		Convey("When stopping a service that never started", func() {
			Convey("Then it is a no-op", func() {
				So(svc.Stop(ctx), ShouldBeNil)
				So(svc.GetStats(ctx).Started, ShouldBeFalse)
			})
		})
	})
}

func TestService_WorkersOutliveStartContext(t *testing.T) {
	Convey("Given a service started with a context that is then cancelled", t, func() {
		f := newFixture()
		f.seedCheckins()
		startCtx, cancel := context.WithCancel(context.Background())
		So(f.svc.Start(startCtx), ShouldBeNil)
		defer f.stop()
		cancel()

		Convey("When a recompute is queued afterwards", func() {
			id, err := f.svc.OnCheckin(context.Background(), f.team.ID, f.rookie.ID, f.t0)
			So(err, ShouldBeNil)

			Convey("Then the workers still run it", func() {
				st := waitTerminal(f.svc, id)
				So(st.State, ShouldEqual, task.StateSuccess)
				So(st.Attempt, ShouldEqual, 1)
			})
		})
	})
}

func TestService_Recompute(t *testing.T) {
	Convey("Given a team with two check-ins ten minutes apart", t, func() {
		f := newFixture()
		f.seedCheckins()
		ctx := context.Background()
		So(f.svc.Start(ctx), ShouldBeNil)
		defer f.stop()

		Convey("When a check-in triggers a recompute", func() {
			id, err := f.svc.OnCheckin(ctx, f.team.ID, f.rookie.ID, f.t0)
			So(err, ShouldBeNil)
			st := waitTerminal(f.svc, id)

			Convey("Then the store, the cache and the read API agree on 29", func() {
				So(st.State, ShouldEqual, task.StateSuccess)
				var res service.RecomputeResult
				So(json.Unmarshal(st.Result, &res), ShouldBeNil)
				So(res.Increment, ShouldEqual, 29)
				So(res.Applied, ShouldBeTrue)

				rec, err := f.scores.Get(ctx, f.team.ID)
				So(err, ShouldBeNil)
				So(rec.Score, ShouldEqual, 29)
				So(rec.LastOpID, ShouldEqual, id)

				cached, ok, err := f.cache.Get(ctx, f.team.ID)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(cached, ShouldEqual, 29)

				got, err := f.svc.GetTeamScore(ctx, f.team.ID)
				So(err, ShouldBeNil)
				So(got.Score, ShouldEqual, 29)
			})

			Convey("Then a second check-in accumulates to 58", func() {
				id2, err := f.svc.OnCheckin(ctx, f.team.ID, f.veteran.ID, f.t0)
				So(err, ShouldBeNil)
				So(waitTerminal(f.svc, id2).State, ShouldEqual, task.StateSuccess)

				got, err := f.svc.GetTeamScore(ctx, f.team.ID)
				So(err, ShouldBeNil)
				So(got.Score, ShouldEqual, 58)
			})
		})

		Convey("When many recomputes for the team run concurrently", func() {
			const n = 20
			ids := make([]string, n)
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					ids[i], _ = f.svc.OnCheckin(ctx, f.team.ID, f.rookie.ID, f.t0)
				}(i)
			}
			wg.Wait()
			for _, id := range ids {
				waitTerminal(f.svc, id)
			}

			Convey("Then no increment is lost", func() {
				rec, err := f.scores.Get(ctx, f.team.ID)
				So(err, ShouldBeNil)
				So(rec.Score, ShouldEqual, 29*n)
			})
		})

		Convey("When the recompute targets an unknown team", func() {
			id, err := f.svc.OnCheckin(ctx, 9999, f.rookie.ID, f.t0)
			So(err, ShouldBeNil)
			st := waitTerminal(f.svc, id)

			Convey("Then it fails once without retrying", func() {
				So(st.State, ShouldEqual, task.StateFailure)
				So(st.Failure, ShouldNotBeNil)
				So(st.Failure.Kind, ShouldEqual, string(fault.KindNotFound))
				So(st.Failure.Attempts, ShouldEqual, 1)
			})
		})
	})
}

func TestService_RetryExhaustion(t *testing.T) {
	Convey("Given a score store that keeps failing", t, func() {
		f := newFixture()
		f.seedCheckins()
		ctx := context.Background()
		_, _ = f.scores.Upsert(ctx, f.team.ID, 42, "seed")
		failing := &failingScores{ScoreStore: f.scores}
		f.svc = service.New(
			service.WithScoreStore(failing),
			service.WithCampaignRepository(f.campaign),
			service.WithCache(f.cache),
			service.WithRetryPolicy(fastRetries),
			service.WithWorkerCount(2),
		)
		So(f.svc.Start(ctx), ShouldBeNil)
		defer f.stop()

		Convey("When a recompute runs", func() {
			id, err := f.svc.OnCheckin(ctx, f.team.ID, f.rookie.ID, f.t0)
			So(err, ShouldBeNil)
			st := waitTerminal(f.svc, id)

			Convey("Then it fails after three attempts and the score is unchanged", func() {
				So(st.State, ShouldEqual, task.StateFailure)
				So(st.Attempt, ShouldEqual, 3)
				So(st.Failure.Kind, ShouldEqual, string(fault.KindTransient))
				So(st.Failure.Message, ShouldContainSubstring, "connection reset")
				So(failing.applies.Load(), ShouldEqual, 3)

				rec, err := f.scores.Get(ctx, f.team.ID)
				So(err, ShouldBeNil)
				So(rec.Score, ShouldEqual, 42)
				_, ok, _ := f.cache.Get(ctx, f.team.ID)
				So(ok, ShouldBeFalse)
			})
		})
	})
}

func TestService_Reads(t *testing.T) {
	Convey("Given a team with a stored score of 29", t, func() {
		f := newFixture()
		ctx := context.Background()
		_, _ = f.scores.Upsert(ctx, f.team.ID, 29, "seed")

		Convey("When reading twice within the TTL", func() {
			first, err1 := f.svc.GetTeamScore(ctx, f.team.ID)
			_, _ = f.scores.Upsert(ctx, f.team.ID, 30, "behind-the-cache")
			second, err2 := f.svc.GetTeamScore(ctx, f.team.ID)

			Convey("Then both reads return the cached value", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(first.Score, ShouldEqual, 29)
				So(second.Score, ShouldEqual, 29)
			})
		})

		Convey("When the cache entry is evicted and the store moves to 42", func() {
			_, _ = f.svc.GetTeamScore(ctx, f.team.ID)
			_, _ = f.scores.Upsert(ctx, f.team.ID, 42, "admin")
			f.cache.Flush()
			got, err := f.svc.GetTeamScore(ctx, f.team.ID)

			Convey("Then the read falls back to the store and refills the cache", func() {
				So(err, ShouldBeNil)
				So(got.Score, ShouldEqual, 42)
				cached, ok, _ := f.cache.Get(ctx, f.team.ID)
				So(ok, ShouldBeTrue)
				So(cached, ShouldEqual, 42)
			})
		})

		Convey("When the reader's context is cancelled before a cache miss", func() {
			svc := service.New(
				service.WithScoreStore(contextScores{ScoreStore: f.scores}),
				service.WithCampaignRepository(f.campaign),
				service.WithCache(f.cache),
			)
			gone, cancel := context.WithCancel(ctx)
			cancel()
			got, err := svc.GetTeamScore(gone, f.team.ID)

			Convey("Then the shared store read still completes", func() {
				So(err, ShouldBeNil)
				So(got.Score, ShouldEqual, 29)
			})
		})

		Convey("When reading a team without a score row", func() {
			team, _ := f.campaign.CreateTeam(ctx, model.Team{Name: "fresh", EventID: f.event.ID})
			got, err := f.svc.GetTeamScore(ctx, team.ID)

			Convey("Then the score is zero", func() {
				So(err, ShouldBeNil)
				So(got.Score, ShouldEqual, 0)
			})
		})

		Convey("When reading an unknown team", func() {
			_, err := f.svc.GetTeamScore(ctx, 9999)

			Convey("Then it is not found", func() {
				So(errors.Is(err, fault.ErrNotFound), ShouldBeTrue)
			})
		})
	})

	Convey("Given an event with teams A, B and C", t, func() {
		f := newFixture()
		ctx := context.Background()
		b, _ := f.campaign.CreateTeam(ctx, model.Team{Name: "B", EventID: f.event.ID})
		c, _ := f.campaign.CreateTeam(ctx, model.Team{Name: "C", EventID: f.event.ID})
		_, _ = f.scores.Upsert(ctx, f.team.ID, 29, "seed")
		_, _ = f.scores.Upsert(ctx, c.ID, 15, "seed")
		_ = f.cache.Set(ctx, c.ID, 15, time.Minute)

		Convey("When ranking the event", func() {
			ranking, err := f.svc.GetEventRanking(ctx, f.event.ID)

			Convey("Then teams are ordered A(29), C(15), B(0)", func() {
				So(err, ShouldBeNil)
				So(ranking, ShouldResemble, []types.RankingEntry{
					{Rank: 1, TeamID: f.team.ID, TeamName: "A", Score: 29},
					{Rank: 2, TeamID: c.ID, TeamName: "C", Score: 15},
					{Rank: 3, TeamID: b.ID, TeamName: "B", Score: 0},
				})
			})
		})

		Convey("When ranking an unknown event", func() {
			_, err := f.svc.GetEventRanking(ctx, 9999)

			Convey("Then it is not found", func() {
				So(errors.Is(err, fault.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestService_CacheFailures(t *testing.T) {
	Convey("Given a cache that rejects every call", t, func() {
		broken := &brokenCache{}
		f := newFixture(service.WithCache(broken))
		f.seedCheckins()
		ctx := context.Background()
		So(f.svc.Start(ctx), ShouldBeNil)
		defer f.stop()

		Convey("When a recompute commits", func() {
			id, err := f.svc.OnCheckin(ctx, f.team.ID, f.rookie.ID, f.t0)
			So(err, ShouldBeNil)
			st := waitTerminal(f.svc, id)

			Convey("Then the task still succeeds once and reads come from the store", func() {
				So(st.State, ShouldEqual, task.StateSuccess)
				So(st.Attempt, ShouldEqual, 1)
				So(broken.deletes.Load(), ShouldBeGreaterThanOrEqualTo, 1)

				got, err := f.svc.GetTeamScore(ctx, f.team.ID)
				So(err, ShouldBeNil)
				So(got.Score, ShouldEqual, 29)

				ranking, err := f.svc.GetEventRanking(ctx, f.event.ID)
				So(err, ShouldBeNil)
				So(ranking[0].Score, ShouldEqual, 29)
			})
		})
	})
}

func TestService_OverrideScore(t *testing.T) {
	Convey("Given a team with a cached score", t, func() {
		f := newFixture()
		ctx := context.Background()
		_, _ = f.scores.Upsert(ctx, f.team.ID, 29, "seed")
		_, _ = f.svc.GetTeamScore(ctx, f.team.ID)

		Convey("When an admin overrides it", func() {
			got, err := f.svc.OverrideScore(ctx, f.team.ID, 100)

			Convey("Then the store and the cache both hold the new value", func() {
				So(err, ShouldBeNil)
				So(got.Score, ShouldEqual, 100)
				rec, _ := f.scores.Get(ctx, f.team.ID)
				So(rec.Score, ShouldEqual, 100)
				So(rec.LastOpID, ShouldStartWith, "override:")
				read, _ := f.svc.GetTeamScore(ctx, f.team.ID)
				So(read.Score, ShouldEqual, 100)
			})
		})

		Convey("When the override is negative", func() {
			_, err := f.svc.OverrideScore(ctx, f.team.ID, -1)

			Convey("Then it is a validation error", func() {
				So(errors.Is(err, fault.ErrValidation), ShouldBeTrue)
			})
		})
	})
}

func TestService_SubmitCheckin(t *testing.T) {
	Convey("Given a running service", t, func() {
		f := newFixture()
		ctx := context.Background()
		So(f.svc.Start(ctx), ShouldBeNil)
		defer f.stop()

		Convey("When a member submits a check-in", func() {
			id, err := f.svc.SubmitCheckin(ctx, types.CheckinRequest{
				EventID: f.event.ID, UserID: f.veteran.ID, Content: "ran 5k", RequestID: "req-1",
			})
			So(err, ShouldBeNil)
			st := waitTerminal(f.svc, id)

			Convey("Then the row is stored and the team is rescored", func() {
				So(st.State, ShouldEqual, task.StateSuccess)
				var res service.PersistResult
				So(json.Unmarshal(st.Result, &res), ShouldBeNil)
				So(res.Inserted, ShouldEqual, 1)
				recompute := res.Recomputes[f.team.ID]
				So(recompute, ShouldNotBeEmpty)
				So(waitTerminal(f.svc, recompute).State, ShouldEqual, task.StateSuccess)

				rows, _ := f.campaign.CheckinsByTeam(ctx, f.team.ID)
				So(rows, ShouldHaveLength, 1)
				So(rows[0].RequestKey, ShouldEqual, fmt.Sprintf("req-1:%d", f.team.ID))

				// One author with no spread gives 1/(0.02*1) = 50, plus 20 for
				// the rookie whose account is under a week old.
				got, err := f.svc.GetTeamScore(ctx, f.team.ID)
				So(err, ShouldBeNil)
				So(got.Score, ShouldEqual, 70)
			})

			Convey("Then resubmitting the same request id is a conflict", func() {
				_, err := f.svc.SubmitCheckin(ctx, types.CheckinRequest{
					EventID: f.event.ID, UserID: f.veteran.ID, Content: "ran 5k", RequestID: "req-1",
				})
				So(errors.Is(err, fault.ErrConflict), ShouldBeTrue)
			})
		})

		Convey("When the user has no team in the event", func() {
			loner, _ := f.campaign.CreateUser(ctx, model.User{Username: "loner", Email: "loner@example.com"})
			_, err := f.svc.SubmitCheckin(ctx, types.CheckinRequest{EventID: f.event.ID, UserID: loner.ID, Content: "hi"})

			Convey("Then it is rejected synchronously", func() {
				So(errors.Is(err, fault.ErrValidation), ShouldBeTrue)
			})
		})

		Convey("When the check-in names a team the user is not in", func() {
			other, _ := f.campaign.CreateTeam(ctx, model.Team{Name: "other", EventID: f.event.ID})
			_, err := f.svc.SubmitCheckin(ctx, types.CheckinRequest{
				EventID: f.event.ID, UserID: f.veteran.ID, TeamIDs: []int64{other.ID}, Content: "hi",
			})

			Convey("Then it is rejected synchronously", func() {
				So(errors.Is(err, fault.ErrValidation), ShouldBeTrue)
			})
		})

		Convey("When the check-in is empty", func() {
			_, err := f.svc.SubmitCheckin(ctx, types.CheckinRequest{EventID: f.event.ID, UserID: f.veteran.ID})

			Convey("Then it is rejected synchronously", func() {
				So(errors.Is(err, fault.ErrValidation), ShouldBeTrue)
			})
		})
	})
}

func TestService_PersistRetryDoesNotDoubleCount(t *testing.T) {
	Convey("Given a user in two teams and a queue that drops the second recompute once", t, func() {
		q := &flakyQueue{Queue: queue.NewInMemoryQueue(), failOn: 3}
		f := newFixture(
			service.WithQueue(q),
			service.WithRetryPolicy(worker.RetryPolicy{
				MaxAttempts:    3,
				BaseDelay:      5 * time.Millisecond,
				WriteBaseDelay: 400 * time.Millisecond,
				MaxDelay:       time.Second,
			}),
		)
		ctx := context.Background()
		teamB, _ := f.campaign.CreateTeam(ctx, model.Team{Name: "B", EventID: f.event.ID})
		_ = f.campaign.AddMembership(ctx, f.rookie.ID, teamB.ID)
		So(f.svc.Start(ctx), ShouldBeNil)
		defer f.stop()

		Convey("When another recompute lands on the first team before the persist task retries", func() {
			// Enqueue calls: persist, recompute A, recompute B (rejected).
			persistID, err := f.svc.SubmitCheckin(ctx, types.CheckinRequest{
				EventID: f.event.ID, UserID: f.rookie.ID, TeamIDs: []int64{f.team.ID, teamB.ID},
				Content: "run", RequestID: "r1",
			})
			So(err, ShouldBeNil)

			keyA := fmt.Sprintf("r1:%d", f.team.ID)
			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				if rec, err := f.scores.Get(ctx, f.team.ID); err == nil && rec.LastOpID == keyA {
					break
				}
				time.Sleep(5 * time.Millisecond)
			}
			first, err := f.scores.Get(ctx, f.team.ID)
			So(err, ShouldBeNil)
			So(first.LastOpID, ShouldEqual, keyA)

			otherID, err := f.svc.OnCheckin(ctx, f.team.ID, f.veteran.ID, time.Now())
			So(err, ShouldBeNil)
			So(waitTerminal(f.svc, otherID).State, ShouldEqual, task.StateSuccess)
			afterOther, _ := f.scores.Get(ctx, f.team.ID)
			So(afterOther.Score, ShouldBeGreaterThan, first.Score)

			st := waitTerminal(f.svc, persistID)

			Convey("Then the retried recompute for the first team is skipped", func() {
				So(st.State, ShouldEqual, task.StateSuccess)
				So(st.Attempt, ShouldEqual, 2)
				var res service.PersistResult
				So(json.Unmarshal(st.Result, &res), ShouldBeNil)
				So(res.Inserted, ShouldEqual, 0)

				replay := waitTerminal(f.svc, res.Recomputes[f.team.ID])
				So(replay.State, ShouldEqual, task.StateSuccess)
				var rr service.RecomputeResult
				So(json.Unmarshal(replay.Result, &rr), ShouldBeNil)
				So(rr.Applied, ShouldBeFalse)

				final, _ := f.scores.Get(ctx, f.team.ID)
				So(final.Score, ShouldEqual, afterOther.Score)

				So(waitTerminal(f.svc, res.Recomputes[teamB.ID]).State, ShouldEqual, task.StateSuccess)
				b, err := f.scores.Get(ctx, teamB.ID)
				So(err, ShouldBeNil)
				So(b.Score, ShouldBeGreaterThan, 0)
			})
		})
	})
}

func TestService_Registration(t *testing.T) {
	Convey("Given a running service", t, func() {
		f := newFixture()
		ctx := context.Background()
		So(f.svc.Start(ctx), ShouldBeNil)
		defer f.stop()

		Convey("When registering a user", func() {
			id, err := f.svc.RegisterUser(ctx, "newbie", "newbie@example.com", "correct horse")
			So(err, ShouldBeNil)
			st := waitTerminal(f.svc, id)

			Convey("Then the user is stored with a bcrypt hash", func() {
				So(st.State, ShouldEqual, task.StateSuccess)
				var res struct {
					UserID int64 `json:"user_id"`
				}
				So(json.Unmarshal(st.Result, &res), ShouldBeNil)
				u, err := f.campaign.User(ctx, res.UserID)
				So(err, ShouldBeNil)
				So(bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("correct horse")), ShouldBeNil)
			})

			Convey("Then registering the same username again fails as a conflict", func() {
				again, err := f.svc.RegisterUser(ctx, "newbie", "other@example.com", "correct horse")
				So(err, ShouldBeNil)
				st := waitTerminal(f.svc, again)
				So(st.State, ShouldEqual, task.StateFailure)
				So(st.Failure.Kind, ShouldEqual, string(fault.KindConflict))
				So(st.Failure.Attempts, ShouldEqual, 1)
			})
		})

		Convey("When the password is too short", func() {
			_, err := f.svc.RegisterUser(ctx, "newbie", "newbie@example.com", "short")

			Convey("Then it is rejected synchronously", func() {
				So(errors.Is(err, fault.ErrValidation), ShouldBeTrue)
			})
		})

		Convey("When creating a team and joining it", func() {
			id, err := f.svc.CreateTeam(ctx, f.event.ID, "B", "second team")
			So(err, ShouldBeNil)
			st := waitTerminal(f.svc, id)
			So(st.State, ShouldEqual, task.StateSuccess)
			var created struct {
				TeamID int64 `json:"team_id"`
			}
			So(json.Unmarshal(st.Result, &created), ShouldBeNil)

			joinID, err := f.svc.JoinTeam(ctx, f.event.ID, f.veteran.ID, created.TeamID)
			So(err, ShouldBeNil)

			Convey("Then the membership is recorded", func() {
				So(waitTerminal(f.svc, joinID).State, ShouldEqual, task.StateSuccess)
				member, err := f.campaign.IsMember(ctx, f.veteran.ID, created.TeamID)
				So(err, ShouldBeNil)
				So(member, ShouldBeTrue)

				_, err = f.svc.JoinTeam(ctx, f.event.ID, f.veteran.ID, created.TeamID)
				So(errors.Is(err, fault.ErrConflict), ShouldBeTrue)
			})
		})

		Convey("When creating a team for an unknown event", func() {
			_, err := f.svc.CreateTeam(ctx, 9999, "ghost", "")

			Convey("Then it is not found", func() {
				So(errors.Is(err, fault.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When creating an event that ends before it starts", func() {
			now := time.Now()
			_, err := f.svc.CreateEvent(ctx, model.Event{Name: "bad", StartTime: now, EndTime: now.Add(-time.Hour)})

			Convey("Then it is a validation error", func() {
				So(errors.Is(err, fault.ErrValidation), ShouldBeTrue)
			})
		})
	})
}
