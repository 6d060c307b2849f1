package status_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/rally/internal/adapters/mq/status"
	"github.com/okian/rally/internal/domain/task"
)

func exercise(s status.Store) {
	ctx := context.Background()

	Convey("An unknown id is not found", func() {
		_, err := s.Get(ctx, "missing")
		So(errors.Is(err, status.ErrNotFound), ShouldBeTrue)
	})

	Convey("The latest status wins", func() {
		now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		So(s.Put(ctx, task.Status{ID: "t1", Kind: task.KindRecomputeScore, State: task.StatePending, Attempt: 1, UpdatedAt: now}), ShouldBeNil)
		So(s.Put(ctx, task.Status{
			ID: "t1", Kind: task.KindRecomputeScore, State: task.StateSuccess, Attempt: 1,
			Result: json.RawMessage(`{"score":29}`), UpdatedAt: now,
		}), ShouldBeNil)

		st, err := s.Get(ctx, "t1")
		So(err, ShouldBeNil)
		So(st.State, ShouldEqual, task.StateSuccess)
		So(string(st.Result), ShouldEqual, `{"score":29}`)
	})

	Convey("Failures keep their classification", func() {
		So(s.Put(ctx, task.Status{
			ID: "t2", State: task.StateFailure, Attempt: 3,
			Failure: &task.Failure{Kind: "transient", Message: "store down", Attempts: 3},
		}), ShouldBeNil)
		st, err := s.Get(ctx, "t2")
		So(err, ShouldBeNil)
		So(st.Failure, ShouldNotBeNil)
		So(st.Failure.Attempts, ShouldEqual, 3)
	})
}

func TestMemoryStore(t *testing.T) {
	Convey("Given a memory status store", t, func() {
		exercise(status.NewMemoryStore(time.Hour))
	})
}

func TestRedisStore(t *testing.T) {
	Convey("Given a redis status store", t, func() {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer rdb.Close()
		exercise(status.NewRedisStore(rdb, time.Hour))

		Convey("Entries expire", func() {
			s := status.NewRedisStore(rdb, time.Minute)
			So(s.Put(context.Background(), task.Status{ID: "t3", State: task.StatePending}), ShouldBeNil)
			mr.FastForward(2 * time.Minute)
			_, err := s.Get(context.Background(), "t3")
			So(errors.Is(err, status.ErrNotFound), ShouldBeTrue)
		})
	})
}
