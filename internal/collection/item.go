package collection

import (
	"context"
	"strings"

	"odzai/internal/api"
	applog "odzai/internal/log"
)

// Item is a single resource at endpoint/id. With an empty id nothing is fetched.
type Item[T Entity[T]] struct {
	data   *Data[T]
	client *api.Client
	id     string
	opts   options
}

func NewItem[T Entity[T]](c *api.Client, endpoint, id string, opts ...Option) *Item[T] {
	o := buildOptions(opts)
	key := ""
	if id != "" {
		key = "/" + strings.Trim(endpoint, "/") + "/" + id
	}
	return &Item[T]{
		data:   NewData[T](c, key, WithLogger(o.logger)),
		client: c,
		id:     id,
		opts:   o,
	}
}

func (i *Item[T]) ID() string { return i.id }

func (i *Item[T]) State() State[T] { return i.data.State() }

func (i *Item[T]) Subscribe(fn func(State[T])) func() { return i.data.Subscribe(fn) }

func (i *Item[T]) Load(ctx context.Context) (T, error) { return i.data.Load(ctx) }

func (i *Item[T]) Revalidate(ctx context.Context) (T, error) { return i.data.Revalidate(ctx) }

// Update merges patch locally, patches the server copy and revalidates.
func (i *Item[T]) Update(ctx context.Context, patch Patch[T]) (T, error) {
	var zero T
	if i.id == "" {
		return zero, ErrNoKey
	}
	i.data.Mutate(func(cur T) T {
		if cur.EntityID() == "" {
			cur = cur.WithEntityID(i.id)
		}
		return patch.Apply(cur)
	})

	updated, err := api.Patch[T](ctx, i.client, i.data.Key(), patch)
	if _, rerr := i.data.Revalidate(context.WithoutCancel(ctx)); rerr != nil {
		i.opts.logger.WarnContext(ctx, "Revalidation after mutation failed",
			applog.FieldEndpoint, i.data.Key(),
			applog.FieldError, rerr)
	}
	if err != nil {
		announce(ctx, i.opts, applog.OpUpdate, err)
	}
	return updated, err
}
