package config_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/engage/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with defaults", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it mirrors the pipeline's default policy", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverMemory)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 5)
			convey.So(cfg.QueueMaxAttempts, convey.ShouldEqual, 3)
			convey.So(cfg.RetryBackoff(), convey.ShouldEqual, 2*time.Second)
			convey.So(cfg.KeepCompleted, convey.ShouldEqual, 100)
			convey.So(cfg.KeepFailed, convey.ShouldEqual, 50)
			convey.So(cfg.ScoringRules["PURCHASE"], convey.ShouldEqual, 100)
			convey.So(cfg.ScoringRules["PAGE_VIEW"], convey.ShouldEqual, 5)
			convey.So(cfg.JobTimeout(), convey.ShouldEqual, 20*time.Second)
			convey.So(cfg.JobTimeout(), convey.ShouldBeLessThan, cfg.LeaseTimeout())
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("When the postgres driver has no DSN", func() {
			cfg.StoreDriver = config.DriverPostgres
			err := cfg.Validate()

			convey.Convey("Then validation fails with ErrInvalidConfig", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the driver is unknown", func() {
			cfg.StoreDriver = "mongo"
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When backoff max is below the base", func() {
			cfg.RetryBackoffMaxMS = cfg.RetryBackoffMS - 1
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When a rule has negative points", func() {
			cfg.ScoringRules = map[string]int{"PAGE_VIEW": -1}
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the lease does not outlast the job timeout", func() {
			cfg.LeaseTimeoutMS = 10_000
			cfg.JobTimeoutMS = 10_000

			convey.Convey("Then a running job could be redelivered and validation fails", func() {
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the job timeout is shortened below the lease", func() {
			cfg.LeaseTimeoutMS = 10_000
			cfg.JobTimeoutMS = 5_000
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("When the job timeout is zero", func() {
			cfg.JobTimeoutMS = 0
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When worker count is zero", func() {
			cfg.WorkerCount = 0
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})
	})
}
