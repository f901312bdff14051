// Package config loads environment-driven configuration structs.
//
// Structs declare their variables with caarlos0/env tags:
//
//	type Config struct {
//	    PollInterval time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
//	}
//
//	cfg, err := config.Load[Config]()
//
// Before the first parse, .env files are read with godotenv so local
// development works without exporting variables. Values already present in the
// process environment always win over .env contents.
package config
