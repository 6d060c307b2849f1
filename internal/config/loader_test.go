package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/rally/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

var configEnvVars = []string{
	"RALLY_CONFIG", "RALLY_ENV_FILE", "RALLY_ADDR", "RALLY_QUEUE_SIZE",
	"RALLY_WORKER_COUNT", "RALLY_ALPHA", "RALLY_BETA", "RALLY_CACHE_BACKEND",
	"RALLY_REDIS_ADDR", "RALLY_CACHE_TTL_SECONDS",
}

func clearConfigEnvVars() {
	for _, k := range configEnvVars {
		_ = os.Unsetenv(k)
	}
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.CacheTTLSeconds, convey.ShouldEqual, 3600)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("RALLY_ADDR", ":8080")
			_ = os.Setenv("RALLY_QUEUE_SIZE", "500")
			_ = os.Setenv("RALLY_WORKER_COUNT", "16")
			_ = os.Setenv("RALLY_ALPHA", "0.05")
			_ = os.Setenv("RALLY_CACHE_BACKEND", "redis")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 500)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 16)
				convey.So(cfg.Alpha, convey.ShouldEqual, 0.05)
				convey.So(cfg.CacheBackend, convey.ShouldEqual, "redis")
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			path := writeTemp(t, "rally.yaml", `
addr: ":9090"
worker_count: 24
beta: 10
cache_ttl_seconds: 60
`)
			_ = os.Setenv("RALLY_CONFIG", path)
			_ = os.Setenv("RALLY_WORKER_COUNT", "4")

			cfg, err := config.Load(ctx)

			convey.Convey("Then the file applies and env still wins", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.Beta, convey.ShouldEqual, 10)
				convey.So(cfg.CacheTTLSeconds, convey.ShouldEqual, 60)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When a dotenv file is named", func() {
			path := writeTemp(t, "rally.env", "RALLY_REDIS_ADDR=cache:6379\n")
			_ = os.Setenv("RALLY_ENV_FILE", path)

			cfg, err := config.Load(ctx)

			convey.Convey("Then its variables are applied", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.RedisAddr, convey.ShouldEqual, "cache:6379")
			})
		})

		convey.Convey("When the named dotenv file is missing", func() {
			_ = os.Setenv("RALLY_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

			_, err := config.Load(ctx)

			convey.Convey("Then loading fails", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a setting is invalid", func() {
			_ = os.Setenv("RALLY_ALPHA", "0")

			_, err := config.Load(ctx)

			convey.Convey("Then validation rejects it", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}
