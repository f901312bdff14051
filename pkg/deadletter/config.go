package deadletter

import (
	"fmt"
	"strings"
)

const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
)

// Config selects the dead-letter archive and its fallback log.
type Config struct {
	Backend         string `env:"DEADLETTER_BACKEND" envDefault:"postgres"`
	MongoCollection string `env:"DEADLETTER_MONGO_COLLECTION" envDefault:"dead_letters"`
	FallbackPath    string `env:"DEADLETTER_FALLBACK_PATH" envDefault:"./dead-letters.jsonl"`
}

// Validate normalizes Backend and rejects unknown values.
func (c *Config) Validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	switch c.Backend {
	case BackendPostgres, BackendMongo, BackendMemory:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
}
