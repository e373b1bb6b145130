package storage

import (
	"context"
	"errors"
)

// Backend is a physical key-value store behind one persistence tier.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrClosed       = errors.New("backend closed")
)
