package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	queue "github.com/okian/rally/internal/adapters/mq/queue"
	status "github.com/okian/rally/internal/adapters/mq/status"
	worker "github.com/okian/rally/internal/adapters/mq/worker"
	"github.com/okian/rally/internal/domain/fault"
	"github.com/okian/rally/internal/domain/task"
	"github.com/smartystreets/goconvey/convey"
)

// recordingStore keeps every state a task passes through.
type recordingStore struct {
	*status.MemoryStore
	mu     sync.Mutex
	states map[string][]task.State
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: status.NewMemoryStore(time.Hour), states: map[string][]task.State{}}
}

func (s *recordingStore) Put(ctx context.Context, st task.Status) error {
	s.mu.Lock()
	s.states[st.ID] = append(s.states[st.ID], st.State)
	s.mu.Unlock()
	return s.MemoryStore.Put(ctx, st)
}

func (s *recordingStore) history(id string) []task.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]task.State(nil), s.states[id]...)
}

// stubHandler answers recomputes with recompute and fails everything else.
type stubHandler struct {
	calls     atomic.Int32
	recompute func(m worker.Meta, t task.RecomputeScore) (any, error)
}

func (h *stubHandler) RecomputeScore(_ context.Context, m worker.Meta, t task.RecomputeScore) (any, error) {
	h.calls.Add(1)
	return h.recompute(m, t)
}

func (h *stubHandler) PersistCheckins(context.Context, worker.Meta, task.PersistCheckins) (any, error) {
	return nil, fault.Logic(errors.New("unexpected"))
}

func (h *stubHandler) CreateTeam(context.Context, worker.Meta, task.CreateTeam) (any, error) {
	return nil, fault.Logic(errors.New("unexpected"))
}

func (h *stubHandler) JoinTeam(context.Context, worker.Meta, task.JoinTeam) (any, error) {
	return nil, fault.Logic(errors.New("unexpected"))
}

func (h *stubHandler) RegisterUser(context.Context, worker.Meta, task.RegisterUser) (any, error) {
	return map[string]int64{"user_id": 1}, nil
}

func fastPolicy() worker.RetryPolicy {
	return worker.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, WriteBaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func waitTerminal(store status.Store, id string) task.Status {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st, err := store.Get(context.Background(), id)
		if err == nil && st.State.Terminal() {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	st, _ := store.Get(context.Background(), id)
	return st
}

func setup(h worker.Handler) (*worker.Dispatcher, *recordingStore, *worker.Pool, context.CancelFunc) {
	q := queue.NewInMemoryQueue()
	store := newRecordingStore()
	pool := worker.NewPool(2, q, h,
		worker.WithStatusStore(store),
		worker.WithRetryPolicy(fastPolicy()),
		worker.WithTaskTimeout(time.Second),
	)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	return worker.NewDispatcher(q, store), store, pool, cancel
}

func TestPool_Outcomes(t *testing.T) {
	convey.Convey("Given a running pool", t, func() {
		h := &stubHandler{}
		dispatcher, store, pool, cancel := setup(h)
		defer cancel()
		ctx := context.Background()

		convey.Convey("When a task succeeds", func() {
			h.recompute = func(m worker.Meta, t task.RecomputeScore) (any, error) {
				return map[string]float64{"score": 29}, nil
			}
			id, err := dispatcher.Enqueue(ctx, task.RecomputeScore{TeamID: 7})
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then its result is recorded", func() {
				st := waitTerminal(store, id)
				convey.So(st.State, convey.ShouldEqual, task.StateSuccess)
				convey.So(string(st.Result), convey.ShouldEqual, `{"score":29}`)
				convey.So(store.history(id), convey.ShouldResemble, []task.State{
					task.StatePending, task.StateInProgress, task.StateSuccess,
				})
				convey.So(pool.Stats(ctx).Succeeded, convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When a task keeps failing transiently", func() {
			h.recompute = func(worker.Meta, task.RecomputeScore) (any, error) {
				return nil, errors.New("store unavailable")
			}
			id, err := dispatcher.Enqueue(ctx, task.RecomputeScore{TeamID: 7})
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then it runs max attempts times and fails", func() {
				st := waitTerminal(store, id)
				convey.So(st.State, convey.ShouldEqual, task.StateFailure)
				convey.So(st.Failure, convey.ShouldNotBeNil)
				convey.So(st.Failure.Kind, convey.ShouldEqual, string(fault.KindTransient))
				convey.So(st.Failure.Attempts, convey.ShouldEqual, 3)
				convey.So(h.calls.Load(), convey.ShouldEqual, 3)
				convey.So(store.history(id), convey.ShouldResemble, []task.State{
					task.StatePending,
					task.StateInProgress, task.StatePending,
					task.StateInProgress, task.StatePending,
					task.StateInProgress, task.StateFailure,
				})
				convey.So(pool.Stats(ctx).Retried, convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When a task hits a logic error", func() {
			h.recompute = func(worker.Meta, task.RecomputeScore) (any, error) {
				return nil, fault.Logic(errors.New("author has no memberships"))
			}
			id, _ := dispatcher.Enqueue(ctx, task.RecomputeScore{TeamID: 7})

			convey.Convey("Then it is not retried", func() {
				st := waitTerminal(store, id)
				convey.So(st.State, convey.ShouldEqual, task.StateFailure)
				convey.So(st.Failure.Kind, convey.ShouldEqual, string(fault.KindLogic))
				convey.So(h.calls.Load(), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When a handler panics", func() {
			h.recompute = func(worker.Meta, task.RecomputeScore) (any, error) {
				panic("boom")
			}
			id, _ := dispatcher.Enqueue(ctx, task.RecomputeScore{TeamID: 7})

			convey.Convey("Then the task fails as a logic error", func() {
				st := waitTerminal(store, id)
				convey.So(st.State, convey.ShouldEqual, task.StateFailure)
				convey.So(st.Failure.Kind, convey.ShouldEqual, string(fault.KindLogic))
			})
		})

		convey.Convey("When retries observe the task metadata", func() {
			var mu sync.Mutex
			var metas []worker.Meta
			h.recompute = func(m worker.Meta, _ task.RecomputeScore) (any, error) {
				mu.Lock()
				metas = append(metas, m)
				mu.Unlock()
				if m.Attempt < 2 {
					return nil, errors.New("flaky")
				}
				return nil, nil
			}
			id, _ := dispatcher.Enqueue(ctx, task.RecomputeScore{TeamID: 7})

			convey.Convey("Then the id and enqueue time are stable", func() {
				st := waitTerminal(store, id)
				convey.So(st.State, convey.ShouldEqual, task.StateSuccess)
				mu.Lock()
				defer mu.Unlock()
				convey.So(len(metas), convey.ShouldEqual, 2)
				convey.So(metas[0].TaskID, convey.ShouldEqual, id)
				convey.So(metas[1].TaskID, convey.ShouldEqual, id)
				convey.So(metas[1].EnqueuedAt, convey.ShouldEqual, metas[0].EnqueuedAt)
				convey.So(metas[1].Attempt, convey.ShouldEqual, 2)
			})
		})
	})
}

func TestPool_Shutdown(t *testing.T) {
	convey.Convey("Given a running pool", t, func() {
		h := &stubHandler{}
		q := queue.NewInMemoryQueue()
		pool := worker.NewPool(3, q, h)
		pool.Start(context.Background())

		convey.Convey("When shut down", func() {
			err := pool.Shutdown(context.Background())

			convey.Convey("Then workers stop and the queue closes", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})
}

func TestDispatcher_EnqueueFailure(t *testing.T) {
	convey.Convey("Given a closed queue", t, func() {
		q := queue.NewInMemoryQueue()
		convey.So(q.Close(), convey.ShouldBeNil)
		store := newRecordingStore()
		d := worker.NewDispatcher(q, store)

		convey.Convey("Then enqueue reports the error", func() {
			id, err := d.Enqueue(context.Background(), task.RecomputeScore{TeamID: 1})
			convey.So(errors.Is(err, queue.ErrClosed), convey.ShouldBeTrue)
			convey.So(id, convey.ShouldBeEmpty)
		})
	})
}

func TestRetryPolicy_Delay(t *testing.T) {
	convey.Convey("Given the default policy", t, func() {
		p := worker.DefaultRetryPolicy()

		convey.Convey("Recomputes back off from ten seconds", func() {
			convey.So(p.Delay(task.KindRecomputeScore, 1), convey.ShouldEqual, 10*time.Second)
			convey.So(p.Delay(task.KindRecomputeScore, 2), convey.ShouldEqual, 20*time.Second)
			convey.So(p.Delay(task.KindRecomputeScore, 3), convey.ShouldEqual, 40*time.Second)
		})

		convey.Convey("Writes back off from a minute and are capped", func() {
			convey.So(p.Delay(task.KindPersistCheckins, 1), convey.ShouldEqual, time.Minute)
			convey.So(p.Delay(task.KindJoinTeam, 2), convey.ShouldEqual, 2*time.Minute)
			convey.So(p.Delay(task.KindCreateTeam, 10), convey.ShouldEqual, 10*time.Minute)
		})

		convey.Convey("Attempts are counted from the first execution", func() {
			convey.So(p.ShouldRetry(1), convey.ShouldBeTrue)
			convey.So(p.ShouldRetry(2), convey.ShouldBeTrue)
			convey.So(p.ShouldRetry(3), convey.ShouldBeFalse)
		})
	})
}
