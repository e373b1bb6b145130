// Package storage is the persistence facade: two key-value tiers behind one API,
// with an in-memory mirror, debounced batched writes and a memory fallback for
// tiers whose backend is unavailable.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	applog "odzai/internal/log"
)

type Tier int

const (
	Durable Tier = iota
	Session
)

func (t Tier) String() string {
	switch t {
	case Durable:
		return "durable"
	case Session:
		return "session"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

func (t Tier) valid() bool { return t == Durable || t == Session }

const (
	DefaultDebounce = 100 * time.Millisecond
	probeKey        = "__storage_probe__"
	backendTimeout  = 5 * time.Second
)

// PendingWrite is a queued mutation awaiting the next flush.
type PendingWrite struct {
	Key       string
	Value     string
	Tier      Tier
	Timestamp int64
	Tombstone bool
}

// Change describes a durable-tier mutation, published to and received from other instances.
type Change struct {
	Key       string  `json:"key,omitempty"`
	Value     *string `json:"value,omitempty"`
	Tier      Tier    `json:"tier"`
	Cleared   bool    `json:"cleared,omitempty"`
	Origin    string  `json:"origin"`
	Timestamp int64   `json:"timestamp"`
}

// ChangePublisher fans durable changes out to other instances.
type ChangePublisher interface {
	PublishChange(ctx context.Context, ch Change) error
}

type mirrorEntry struct {
	value   string
	deleted bool
}

type tierState struct {
	backend   Backend
	fallback  *MemoryBackend
	available bool
	mirror    map[string]mirrorEntry
}

func (t *tierState) active() Backend {
	if t.available {
		return t.backend
	}
	return t.fallback
}

// Store is the persistence facade. Create one per application instance.
type Store struct {
	mu        sync.Mutex
	tiers     [2]*tierState
	queue     []PendingWrite
	timer     *time.Timer
	debounce  time.Duration
	publisher ChangePublisher
	origin    string
	now       func() time.Time
	closed    bool

	flushMu   sync.Mutex
	closeOnce sync.Once
	logger    *applog.Logger
}

type Option func(*Store)

// WithDebounce sets the batching window. Zero or less means writes wait for an explicit Flush.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) { s.debounce = d }
}

func WithLogger(l *applog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithPublisher(p ChangePublisher) Option {
	return func(s *Store) { s.publisher = p }
}

// WithOrigin sets the instance id stamped on published changes.
func WithOrigin(origin string) Option {
	return func(s *Store) {
		if origin != "" {
			s.origin = origin
		}
	}
}

// NewStore wraps the durable and session backends. A nil backend means that tier lives in memory.
// Each real backend is probed with a trial write; a failing one is replaced by memory silently.
func NewStore(durable, session Backend, opts ...Option) *Store {
	s := &Store{
		debounce: DefaultDebounce,
		origin:   uuid.NewString(),
		now:      time.Now,
		logger:   applog.Default(applog.ComponentStorage),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.tiers[Durable] = s.newTier(Durable, durable)
	s.tiers[Session] = s.newTier(Session, session)
	return s
}

func (s *Store) newTier(tier Tier, backend Backend) *tierState {
	ts := &tierState{
		backend:  backend,
		fallback: NewMemoryBackend(),
		mirror:   make(map[string]mirrorEntry),
	}
	if backend == nil {
		ts.backend = ts.fallback
		ts.available = true
		return ts
	}

	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()
	if err := probe(ctx, backend); err != nil {
		s.logger.Warn("Storage tier unavailable, using memory",
			applog.FieldTier, tier.String(),
			applog.FieldError, err)
		return ts
	}
	ts.available = true
	return ts
}

func probe(ctx context.Context, b Backend) error {
	if err := b.Set(ctx, probeKey, probeKey); err != nil {
		return err
	}
	return b.Remove(ctx, probeKey)
}

// Origin is the id this instance stamps on published changes.
func (s *Store) Origin() string { return s.origin }

// SetPublisher installs the change publisher after construction.
func (s *Store) SetPublisher(p ChangePublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
}

// Available reports whether tier is served by its real backend rather than the memory fallback.
func (s *Store) Available(tier Tier) bool {
	if !tier.valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tiers[tier].available
}

// Get returns the value for key. The mirror answers first; on a miss the backend is read
// and the result cached in the mirror.
func (s *Store) Get(key string, tier Tier) (Value, bool) {
	if !tier.valid() {
		return Value{}, false
	}

	s.mu.Lock()
	ts := s.tiers[tier]
	if e, ok := ts.mirror[key]; ok {
		s.mu.Unlock()
		if e.deleted {
			return Value{}, false
		}
		return Value{raw: e.value}, true
	}
	backend := ts.active()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()
	raw, ok, err := backend.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Storage read failed",
			applog.FieldKey, key,
			applog.FieldTier, tier.String(),
			applog.FieldError, err)
		raw, ok, _ = ts.fallback.Get(ctx, key)
	}
	if !ok {
		return Value{}, false
	}

	s.mu.Lock()
	// A write may have landed while the backend was being read; it wins.
	if e, exists := ts.mirror[key]; exists {
		s.mu.Unlock()
		if e.deleted {
			return Value{}, false
		}
		return Value{raw: e.value}, true
	}
	ts.mirror[key] = mirrorEntry{value: raw}
	s.mu.Unlock()
	return Value{raw: raw}, true
}

// Set stores value under key. Strings are kept verbatim; other values are JSON-encoded.
// The mirror is updated before Set returns and the physical write is batched.
// Only a value that cannot be encoded is reported as an error.
func (s *Store) Set(key string, value any, tier Tier) error {
	if !tier.valid() {
		return fmt.Errorf("set %s: %w", key, ErrInvalidInput)
	}
	raw, err := encode(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiers[tier].mirror[key] = mirrorEntry{value: raw}
	s.enqueueLocked(PendingWrite{Key: key, Value: raw, Tier: tier, Timestamp: s.now().UnixNano()})
	return nil
}

// Remove deletes key from the mirror and the backend, and queues a tombstone so a
// pending write for the same key cannot resurrect it.
func (s *Store) Remove(key string, tier Tier) {
	if !tier.valid() {
		return
	}

	s.mu.Lock()
	ts := s.tiers[tier]
	ts.mirror[key] = mirrorEntry{deleted: true}
	s.enqueueLocked(PendingWrite{Key: key, Tier: tier, Timestamp: s.now().UnixNano(), Tombstone: true})
	backend := ts.active()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()
	if err := backend.Remove(ctx, key); err != nil {
		s.logger.Debug("Immediate remove failed, tombstone queued",
			applog.FieldKey, key,
			applog.FieldTier, tier.String(),
			applog.FieldError, err)
	}
}

// Clear empties tier: mirror, queued writes, backend and memory fallback.
func (s *Store) Clear(tier Tier) {
	if !tier.valid() {
		return
	}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	ts := s.tiers[tier]
	ts.mirror = make(map[string]mirrorEntry)
	kept := s.queue[:0]
	for _, w := range s.queue {
		if w.Tier != tier {
			kept = append(kept, w)
		}
	}
	s.queue = kept
	backend := ts.active()
	publisher := s.publisher
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()
	if err := backend.Clear(ctx); err != nil {
		s.logger.Warn("Storage clear failed",
			applog.FieldTier, tier.String(),
			applog.FieldError, err)
	}
	_ = ts.fallback.Clear(ctx)

	if tier == Durable {
		s.publish(ctx, publisher, []Change{{Tier: Durable, Cleared: true, Origin: s.origin, Timestamp: s.now().UnixNano()}})
	}
}

// Keys lists the keys visible in tier: backend keys plus unflushed mirror keys, minus removed ones.
func (s *Store) Keys(tier Tier) []string {
	if !tier.valid() {
		return nil
	}

	s.mu.Lock()
	ts := s.tiers[tier]
	backend := ts.active()
	mirror := make(map[string]bool, len(ts.mirror))
	for k, e := range ts.mirror {
		mirror[k] = !e.deleted
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()
	stored, err := backend.Keys(ctx)
	if err != nil {
		s.logger.Warn("Storage key listing failed",
			applog.FieldTier, tier.String(),
			applog.FieldError, err)
	}

	seen := make(map[string]struct{}, len(stored)+len(mirror))
	for _, k := range stored {
		if live, inMirror := mirror[k]; inMirror && !live {
			continue
		}
		seen[k] = struct{}{}
	}
	for k, live := range mirror {
		if live {
			seen[k] = struct{}{}
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Pending returns the number of queued writes not yet flushed.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Store) enqueueLocked(w PendingWrite) {
	s.queue = append(s.queue, w)
	if s.closed || s.debounce <= 0 {
		return
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.debounce, s.Flush)
		return
	}
	s.timer.Stop()
	s.timer.Reset(s.debounce)
}

// Flush drains the write queue synchronously. Writes to the same tier and key
// collapse to the newest one before reaching the backend.
func (s *Store) Flush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	queue := s.queue
	s.queue = nil
	if s.timer != nil {
		s.timer.Stop()
	}
	publisher := s.publisher
	s.mu.Unlock()

	if len(queue) == 0 {
		return
	}

	writes := coalesce(queue)
	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()

	var changes []Change
	for _, w := range writes {
		s.apply(ctx, w)
		if w.Tier == Durable {
			ch := Change{Key: w.Key, Tier: Durable, Origin: s.origin, Timestamp: w.Timestamp}
			if !w.Tombstone {
				v := w.Value
				ch.Value = &v
			}
			changes = append(changes, ch)
		}
	}

	s.logger.Debug("Storage flushed",
		applog.FieldOperation, applog.OpFlush,
		applog.FieldCount, len(writes))

	s.publish(ctx, publisher, changes)
}

func (s *Store) apply(ctx context.Context, w PendingWrite) {
	s.mu.Lock()
	ts := s.tiers[w.Tier]
	backend := ts.active()
	usingFallback := !ts.available
	s.mu.Unlock()

	err := write(ctx, backend, w)
	if err == nil || usingFallback {
		return
	}

	s.logger.Warn("Storage write failed, switching tier to memory",
		applog.FieldKey, w.Key,
		applog.FieldTier, w.Tier.String(),
		applog.FieldError, err)

	s.mu.Lock()
	ts.available = false
	s.mu.Unlock()
	_ = write(ctx, ts.fallback, w)
}

func write(ctx context.Context, b Backend, w PendingWrite) error {
	if w.Tombstone {
		return b.Remove(ctx, w.Key)
	}
	return b.Set(ctx, w.Key, w.Value)
}

// coalesce keeps the newest write per (tier, key), in first-seen order.
// Equal timestamps resolve to the later entry in the queue.
func coalesce(queue []PendingWrite) []PendingWrite {
	type slot struct {
		tier Tier
		key  string
	}
	index := make(map[slot]int, len(queue))
	out := make([]PendingWrite, 0, len(queue))
	for _, w := range queue {
		k := slot{w.Tier, w.Key}
		if i, ok := index[k]; ok {
			if w.Timestamp >= out[i].Timestamp {
				out[i] = w
			}
			continue
		}
		index[k] = len(out)
		out = append(out, w)
	}
	return out
}

func (s *Store) publish(ctx context.Context, p ChangePublisher, changes []Change) {
	if p == nil {
		return
	}
	for _, ch := range changes {
		if err := p.PublishChange(ctx, ch); err != nil {
			s.logger.Warn("Failed to publish storage change",
				applog.FieldKey, ch.Key,
				applog.FieldError, err)
		}
	}
}

// ApplyExternalChange merges a durable-tier change made by another instance into the mirror.
// Only the named key is touched; a clear drops every durable mirror entry not backed by a
// queued local write. Changes this
// instance published itself, and changes older than a pending local write, are ignored.
func (s *Store) ApplyExternalChange(ch Change) {
	if ch.Origin == s.origin || ch.Tier != Durable {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.tiers[Durable]

	if ch.Cleared {
		// Queued local writes still reach the backend on the next flush, so they stay visible.
		ts.mirror = make(map[string]mirrorEntry)
		for _, w := range coalesce(s.queue) {
			if w.Tier != Durable {
				continue
			}
			if w.Tombstone {
				ts.mirror[w.Key] = mirrorEntry{deleted: true}
				continue
			}
			ts.mirror[w.Key] = mirrorEntry{value: w.Value}
		}
		return
	}
	if ch.Key == "" {
		return
	}
	for _, w := range s.queue {
		if w.Tier == Durable && w.Key == ch.Key && w.Timestamp > ch.Timestamp {
			return
		}
	}
	if ch.Value == nil {
		ts.mirror[ch.Key] = mirrorEntry{deleted: true}
		return
	}
	ts.mirror[ch.Key] = mirrorEntry{value: *ch.Value}
}

// Close flushes pending writes and closes both backends. Later writes stay in memory only.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		if s.timer != nil {
			s.timer.Stop()
		}
		s.mu.Unlock()

		s.Flush()

		s.mu.Lock()
		for _, ts := range s.tiers {
			ts.available = false
		}
		s.mu.Unlock()

		var errs []error
		for _, ts := range s.tiers {
			if ts.backend != ts.fallback {
				if cerr := ts.backend.Close(); cerr != nil {
					errs = append(errs, cerr)
				}
			}
		}
		err = errors.Join(errs...)
	})
	return err
}
