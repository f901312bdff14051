package main

import (
	"errors"

	"github.com/dmitrymomot/marketjobs/pkg/config"
	"github.com/dmitrymomot/marketjobs/pkg/deadletter"
	"github.com/dmitrymomot/marketjobs/pkg/httpserver"
	"github.com/dmitrymomot/marketjobs/pkg/jobs"
	"github.com/dmitrymomot/marketjobs/pkg/queue"
	"github.com/dmitrymomot/marketjobs/pkg/redis"
)

type appConfig struct {
	Env     string `env:"APP_ENV" envDefault:"development"`
	Service string `env:"SERVICE_NAME" envDefault:"jobsd"`
}

// settings is the configuration every command needs. Backend specific
// configs (postgres, mongo, email, s3) are loaded when they are used.
type settings struct {
	App        appConfig
	Queue      queue.Config
	Jobs       jobs.Config
	Redis      redis.Config
	DeadLetter deadletter.Config
	HTTP       httpserver.Config
}

func loadSettings(opts ...config.Option) (settings, error) {
	var (
		s    settings
		err  error
		errs []error
	)
	if s.App, err = config.Load[appConfig](opts...); err != nil {
		errs = append(errs, err)
	}
	if s.Queue, err = config.Load[queue.Config](opts...); err != nil {
		errs = append(errs, err)
	}
	if s.Jobs, err = config.Load[jobs.Config](opts...); err != nil {
		errs = append(errs, err)
	}
	if s.Redis, err = config.Load[redis.Config](opts...); err != nil {
		errs = append(errs, err)
	}
	if s.DeadLetter, err = config.Load[deadletter.Config](opts...); err != nil {
		errs = append(errs, err)
	}
	if s.HTTP, err = config.Load[httpserver.Config](opts...); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return s, errors.Join(errs...)
	}
	return s, s.DeadLetter.Validate()
}
