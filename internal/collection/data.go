// Package collection holds client-side views of server resources: a keyed value
// that can be revalidated and locally mutated, plus collection and single-item
// wrappers that apply optimistic changes and reconcile them with the server.
package collection

import (
	"context"
	"sync"

	"odzai/internal/api"
	applog "odzai/internal/log"
	"odzai/internal/notify"
)

// State is a snapshot of a keyed resource.
type State[T any] struct {
	Data    T
	HasData bool
	// Err is the error of the latest revalidation, cleared by the next successful one.
	Err error
	// IsLoading is true while the first fetch is running and there is no data yet.
	IsLoading bool
	// IsValidating is true while any fetch is running.
	IsValidating bool
}

type options struct {
	logger   *applog.Logger
	notifier notify.Notifier
	label    string
}

type Option func(*options)

func WithLogger(l *applog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithNotifier announces failed mutations through n.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithLabel names the entity in notifications, e.g. "account".
func WithLabel(label string) Option {
	return func(o *options) {
		if label != "" {
			o.label = label
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:   applog.Default(applog.ComponentCollection),
		notifier: notify.Nop{},
		label:    "item",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Data is a resource identified by an API path. An empty key means there is
// nothing to fetch: Load and Revalidate return the zero value without a request.
type Data[T any] struct {
	client *api.Client
	key    string
	logger *applog.Logger

	mu       sync.Mutex
	state    State[T]
	gen      uint64
	fetching int
	subs     map[int]func(State[T])
	nextSub  int
}

func NewData[T any](c *api.Client, key string, opts ...Option) *Data[T] {
	o := buildOptions(opts)
	return &Data[T]{
		client: c,
		key:    key,
		logger: o.logger,
		subs:   make(map[int]func(State[T])),
	}
}

func (d *Data[T]) Key() string { return d.key }

func (d *Data[T]) State() State[T] {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Subscribe registers fn to be called with every new state. The returned func unsubscribes.
func (d *Data[T]) Subscribe(fn func(State[T])) func() {
	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

// Load returns the resource, served from the response cache while it is fresh.
func (d *Data[T]) Load(ctx context.Context) (T, error) {
	return d.fetch(ctx, false)
}

// Revalidate fetches the resource from the server, bypassing the response cache and
// any request already in flight. When revalidations overlap, the one started last wins.
func (d *Data[T]) Revalidate(ctx context.Context) (T, error) {
	return d.fetch(ctx, true)
}

func (d *Data[T]) fetch(ctx context.Context, fresh bool) (T, error) {
	var zero T
	if d.key == "" {
		return zero, nil
	}

	d.mu.Lock()
	d.gen++
	gen := d.gen
	d.fetching++
	d.state.IsValidating = true
	d.state.IsLoading = !d.state.HasData
	d.publishLocked()

	var (
		v   T
		err error
	)
	if fresh {
		v, err = api.Refresh[T](ctx, d.client, d.key)
	} else {
		v, err = api.Fetcher[T](ctx, d.client, d.key)
	}

	d.mu.Lock()
	d.fetching--
	latest := gen == d.gen
	if latest {
		if err != nil {
			d.state.Err = err
		} else {
			d.state.Data = v
			d.state.HasData = true
			d.state.Err = nil
		}
	}
	d.state.IsValidating = d.fetching > 0
	d.state.IsLoading = d.state.IsValidating && !d.state.HasData
	current := d.state
	d.publishLocked()

	if err != nil {
		d.logger.DebugContext(ctx, "Fetch failed",
			applog.FieldEndpoint, d.key,
			applog.FieldOperation, applog.OpRevalidate,
			applog.FieldError, err)
		return zero, err
	}
	if !latest {
		// A superseded response may have overwritten the newer one in the response cache.
		d.client.Invalidate(d.key)
		return current.Data, nil
	}
	return v, nil
}

// Mutate replaces the local data with fn(current) without contacting the server.
func (d *Data[T]) Mutate(fn func(T) T) State[T] {
	d.mu.Lock()
	d.state.Data = fn(d.state.Data)
	d.state.HasData = true
	current := d.state
	d.publishLocked()
	return current
}

// publishLocked releases d.mu and hands the current state to every subscriber.
func (d *Data[T]) publishLocked() {
	snapshot := d.state
	subs := make([]func(State[T]), 0, len(d.subs))
	for _, fn := range d.subs {
		subs = append(subs, fn)
	}
	d.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}
