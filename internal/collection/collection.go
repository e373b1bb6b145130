package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"odzai/internal/api"
	applog "odzai/internal/log"
	"odzai/internal/notify"
)

// ErrNoKey is returned by mutations on an Item without an id.
var ErrNoKey = errors.New("no resource id")

// Entity is a server resource identified by an id.
type Entity[T any] interface {
	EntityID() string
	WithEntityID(id string) T
}

// Patch is a partial update with explicit fields. Apply returns a copy of v with the set fields replaced.
type Patch[T any] interface {
	Apply(v T) T
}

// Collection is the list at an endpoint such as "/accounts".
//
// Create, Update and Remove change the local list before the request starts,
// then always revalidate so the server's answer replaces the guess. A failed
// mutation is announced and its error returned after the revalidation.
type Collection[T Entity[T]] struct {
	data     *Data[[]T]
	client   *api.Client
	endpoint string
	opts     options
	tempSeq  atomic.Int64
}

func NewCollection[T Entity[T]](c *api.Client, endpoint string, opts ...Option) *Collection[T] {
	o := buildOptions(opts)
	endpoint = "/" + strings.Trim(endpoint, "/")
	return &Collection[T]{
		data:     NewData[[]T](c, endpoint, WithLogger(o.logger)),
		client:   c,
		endpoint: endpoint,
		opts:     o,
	}
}

func (c *Collection[T]) Endpoint() string { return c.endpoint }

func (c *Collection[T]) State() State[[]T] { return c.data.State() }

// Items returns the current local list.
func (c *Collection[T]) Items() []T { return c.data.State().Data }

func (c *Collection[T]) Subscribe(fn func(State[[]T])) func() { return c.data.Subscribe(fn) }

func (c *Collection[T]) Load(ctx context.Context) ([]T, error) { return c.data.Load(ctx) }

func (c *Collection[T]) Revalidate(ctx context.Context) ([]T, error) { return c.data.Revalidate(ctx) }

// Mutate changes the local list without a request.
func (c *Collection[T]) Mutate(fn func([]T) []T) { c.data.Mutate(fn) }

func (c *Collection[T]) itemPath(id string) string {
	return c.endpoint + "/" + id
}

func byID[T Entity[T]](id string) func(T) bool {
	return func(v T) bool { return v.EntityID() == id }
}

// Create appends draft under a temporary id, posts it and revalidates.
func (c *Collection[T]) Create(ctx context.Context, draft T) (T, error) {
	pending := draft
	if pending.EntityID() == "" {
		pending = draft.WithEntityID(fmt.Sprintf("temp-%d", c.tempSeq.Add(1)))
	}
	c.data.Mutate(func(items []T) []T {
		return api.OptimisticData(items, pending, byID[T](pending.EntityID()))
	})

	created, err := api.Post[T](ctx, c.client, c.endpoint, draft)
	c.settle(ctx, applog.OpCreate, err)
	return created, err
}

// Update merges patch into the item with id, appending it when the list does not hold it yet.
func (c *Collection[T]) Update(ctx context.Context, id string, patch Patch[T]) (T, error) {
	c.data.Mutate(func(items []T) []T {
		var base T
		base = base.WithEntityID(id)
		for _, it := range items {
			if it.EntityID() == id {
				base = it
				break
			}
		}
		return api.OptimisticData(items, patch.Apply(base), byID[T](id))
	})

	updated, err := api.Patch[T](ctx, c.client, c.itemPath(id), patch)
	c.settle(ctx, applog.OpUpdate, err)
	return updated, err
}

// Remove drops the item with id locally, deletes it on the server and revalidates.
func (c *Collection[T]) Remove(ctx context.Context, id string) error {
	c.data.Mutate(func(items []T) []T {
		return api.OptimisticRemove(items, byID[T](id))
	})

	_, err := api.Del[json.RawMessage](ctx, c.client, c.itemPath(id))
	c.settle(ctx, applog.OpDelete, err)
	return err
}

// settle revalidates whatever the outcome and announces a failure.
// Revalidation outlives the caller's cancellation: a dispatched mutation always reconciles.
func (c *Collection[T]) settle(ctx context.Context, op string, err error) {
	if _, rerr := c.data.Revalidate(context.WithoutCancel(ctx)); rerr != nil {
		c.opts.logger.WarnContext(ctx, "Revalidation after mutation failed",
			applog.FieldEndpoint, c.endpoint,
			applog.FieldOperation, op,
			applog.FieldError, rerr)
	}
	if err != nil {
		announce(ctx, c.opts, op, err)
	}
}

func announce(ctx context.Context, o options, op string, err error) {
	o.logger.WarnContext(ctx, "Mutation failed",
		applog.FieldOperation, op,
		applog.FieldError, err)
	if api.IsCancellation(err) {
		return
	}
	o.notifier.Notify(ctx, notify.Notification{
		Level:   notify.LevelError,
		Title:   fmt.Sprintf("Failed to %s %s", op, o.label),
		Message: api.Message(err),
	})
}
