package backend

import (
	"context"
	"errors"
	"fmt"

	"odzai/internal/amqp"
	applog "odzai/internal/log"
	"odzai/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *applog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *applog.Logger) Factory {
	if logger == nil {
		logger = applog.Default(applog.ComponentBackend)
	}
	return &DefaultFactory{logger: logger}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		durable storage.Backend
		err     error
	)
	switch config.Type {
	case SQLiteBackend:
		durable, err = storage.NewSQLiteBackend(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite backend: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	case PostgresBackend:
		durable, err = storage.NewPostgresBackend(config.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres backend: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized Postgres backend")
	case MemoryBackend:
		durable = storage.NewMemoryBackend()
		f.logger.InfoContext(ctx, "Initialized memory backend")
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}

	// The change feed is optional: without it the instance simply does not see other instances' writes.
	var feed *amqp.Client
	if config.AMQPURL != "" {
		feed, err = amqp.NewClient(config.AMQPURL, config.AMQPExchange, f.logger.WithComponent(applog.ComponentAMQP))
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without change feed", applog.FieldError, err)
			feed = nil
		} else {
			f.logger.InfoContext(ctx, "Initialized AMQP change feed", "exchange", config.AMQPExchange)
		}
	}

	return &BackendResult{
		Durable: durable,
		Feed:    feed,
		Cleanup: func() error {
			var errs []error
			if feed != nil {
				errs = append(errs, feed.Close())
			}
			errs = append(errs, durable.Close())
			return errors.Join(errs...)
		},
	}, nil
}
