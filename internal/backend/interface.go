package backend

import (
	"context"

	"odzai/internal/amqp"
	"odzai/internal/storage"
)

// CleanupFunc releases what a factory opened
type CleanupFunc func() error

// BackendResult is a ready durable tier plus the optional cross-instance change feed.
type BackendResult struct {
	Durable storage.Backend
	// Feed is nil when no AMQP URL is configured or the broker was unreachable.
	Feed    *amqp.Client
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Postgres specific
	PostgresDSN string

	// Change feed, optional for every type
	AMQPURL      string
	AMQPExchange string
}

// BackendType names a durable-tier implementation
type BackendType string

const (
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
	MemoryBackend   BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, PostgresBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
