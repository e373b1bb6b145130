// Package workspace owns the session's current workspace: startup resolution,
// loading and switching, the server-side default, and display-name overrides.
package workspace

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"odzai/internal/api"
	"odzai/internal/core"
	applog "odzai/internal/log"
	"odzai/internal/notify"
	"odzai/internal/storage"
)

const (
	DefaultNotifyDelay     = 300 * time.Millisecond
	DefaultWorkspacesPath  = "/budgets"
	DefaultPreferencesPath = "/user/preferences"
	DefaultPostLoadPath    = "/accounts"
)

type settings struct {
	clearPersisted  bool
	forceDefault    bool
	notifyDelay     time.Duration
	workspacesPath  string
	preferencesPath string
	postLoadPath    string
}

type Option func(*Provider)

// WithClearPersisted drops the persisted workspace selection before startup resolution.
func WithClearPersisted(v bool) Option {
	return func(p *Provider) { p.cfg.clearPersisted = v }
}

// WithForceDefault makes startup load the server-declared default even when a selection is persisted.
func WithForceDefault(v bool) Option {
	return func(p *Provider) { p.cfg.forceDefault = v }
}

// WithNotifyDelay delays default-workspace notifications. Zero or less notifies immediately.
func WithNotifyDelay(d time.Duration) Option {
	return func(p *Provider) { p.cfg.notifyDelay = d }
}

func WithWorkspacesPath(path string) Option {
	return func(p *Provider) {
		if path != "" {
			p.cfg.workspacesPath = "/" + strings.Trim(path, "/")
		}
	}
}

func WithPreferencesPath(path string) Option {
	return func(p *Provider) {
		if path != "" {
			p.cfg.preferencesPath = "/" + strings.Trim(path, "/")
		}
	}
}

// WithPostLoadPath is where the navigator goes after a successful load.
func WithPostLoadPath(path string) Option {
	return func(p *Provider) { p.cfg.postLoadPath = path }
}

func WithNotifier(n notify.Notifier) Option {
	return func(p *Provider) {
		if n != nil {
			p.notifier = n
		}
	}
}

func WithActivator(a Activator) Option {
	return func(p *Provider) { p.activator = a }
}

func WithNavigator(n Navigator) Option {
	return func(p *Provider) { p.navigator = n }
}

func WithLogger(l *applog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// Provider is the workspace session of one application instance.
type Provider struct {
	client    *api.Client
	store     *storage.Store
	notifier  notify.Notifier
	activator Activator
	navigator Navigator
	logger    *applog.Logger
	cfg       settings

	mu      sync.Mutex
	state   State
	loadGen uint64
	subs    map[int]func(State)
	nextSub int
	timers  map[*time.Timer]struct{}
	closed  bool
}

func NewProvider(c *api.Client, s *storage.Store, opts ...Option) *Provider {
	p := &Provider{
		client:   c,
		store:    s,
		notifier: notify.Nop{},
		logger:   applog.Default(applog.ComponentWorkspace),
		cfg: settings{
			notifyDelay:     DefaultNotifyDelay,
			workspacesPath:  DefaultWorkspacesPath,
			preferencesPath: DefaultPreferencesPath,
			postLoadPath:    DefaultPostLoadPath,
		},
		subs:   make(map[int]func(State)),
		timers: make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Subscribe registers fn for every state change. The returned func unsubscribes.
func (p *Provider) Subscribe(fn func(State)) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// update applies fn to the state under the lock and publishes the result.
func (p *Provider) update(fn func(*State)) {
	p.mu.Lock()
	fn(&p.state)
	snapshot := p.state
	subs := make([]func(State), 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.Unlock()

	for _, s := range subs {
		s(snapshot)
	}
}

// Init resolves the workspace to open at startup. The first step that yields an id wins:
// forced server default, persisted selection, server default. Without one the session
// ends up unloaded and the caller has to let the user pick a workspace.
func (p *Provider) Init(ctx context.Context) error {
	p.mu.Lock()
	if p.state.Status != StatusUninitialized {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.update(func(s *State) {
		s.Status = StatusResolving
		if id, ok := storage.Get[string](p.store, KeyDefaultWorkspace, storage.Durable); ok {
			s.DefaultID = id
		}
	})

	if p.cfg.clearPersisted {
		p.logger.InfoContext(ctx, "Clearing persisted workspace selection")
		p.store.Remove(KeyCurrentWorkspace, storage.Durable)
	}

	if p.cfg.forceDefault {
		if id := p.fetchDefault(ctx); id != "" {
			p.logger.InfoContext(ctx, "Loading forced default workspace", applog.FieldWorkspaceID, id)
			return p.LoadWorkspace(ctx, id)
		}
	}

	if id, ok := storage.Get[string](p.store, KeyCurrentWorkspace, storage.Durable); ok && strings.TrimSpace(id) != "" {
		p.logger.InfoContext(ctx, "Resuming persisted workspace", applog.FieldWorkspaceID, id)
		return p.LoadWorkspace(ctx, id)
	}

	if id := p.fetchDefault(ctx); id != "" {
		p.logger.InfoContext(ctx, "Loading default workspace", applog.FieldWorkspaceID, id)
		return p.LoadWorkspace(ctx, id)
	}

	p.update(func(s *State) {
		if s.Status == StatusResolving {
			s.Status = StatusUnloaded
		}
	})
	p.logger.InfoContext(ctx, "No workspace to load")
	return nil
}

// fetchDefault reads the server-declared default and caches it. Failures count as no default.
func (p *Provider) fetchDefault(ctx context.Context) string {
	prefs, err := api.EnhancedFetch[core.Preferences](ctx, p.client, p.cfg.preferencesPath, api.RequestOptions{}, 0)
	if err != nil {
		p.logger.WarnContext(ctx, "Failed to fetch preferences", applog.FieldError, err)
		return ""
	}
	id := ""
	if prefs.DefaultWorkspaceID != nil {
		id = strings.TrimSpace(*prefs.DefaultWorkspaceID)
	}
	p.cacheDefault(id)
	return id
}

func (p *Provider) cacheDefault(id string) {
	if id == "" {
		p.store.Remove(KeyDefaultWorkspace, storage.Durable)
	} else if err := p.store.Set(KeyDefaultWorkspace, id, storage.Durable); err != nil {
		p.logger.Warn("Failed to cache default workspace", applog.FieldError, err)
	}
	p.update(func(s *State) { s.DefaultID = id })
}

// LoadWorkspace makes id the current workspace. The selection is persisted before
// anything else so an interrupted load resumes at the same target. Activation of the
// sync server is best effort. On failure the selection is cleared and the session
// becomes unloaded. When loads overlap, the one started last wins and the earlier
// ones return ErrSuperseded.
func (p *Provider) LoadWorkspace(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return core.ErrEmptyWorkspaceID
	}

	var gen uint64
	p.update(func(s *State) {
		p.loadGen++
		gen = p.loadGen
		s.Loading = true
	})

	if err := p.store.Set(KeyCurrentWorkspace, id, storage.Durable); err != nil {
		p.logger.WarnContext(ctx, "Failed to persist workspace selection", applog.FieldError, err)
	}
	p.store.Flush()

	toast := p.notifier.Notify(ctx, notify.Notification{Level: notify.LevelLoading, Title: "Loading budget..."})
	log := p.logger.With(applog.FieldWorkspaceID, id, applog.FieldOperation, applog.OpLoad)

	superseded := func() error {
		p.notifier.Dismiss(toast)
		log.DebugContext(ctx, "Load superseded")
		return ErrSuperseded
	}

	ws, err := p.fetchWorkspace(ctx, id)
	if !p.isLatest(gen) {
		return superseded()
	}
	if err == nil && p.activator != nil {
		if aerr := p.activator.Activate(ctx, id); aerr != nil {
			log.WarnContext(ctx, "Sync server activation failed", applog.FieldError, aerr)
		}
		if !p.isLatest(gen) {
			return superseded()
		}
	}

	if err != nil {
		p.store.Remove(KeyCurrentWorkspace, storage.Durable)
		p.update(func(s *State) {
			s.Status = StatusUnloaded
			s.Workspace = core.Workspace{}
			s.Loading = false
			s.Err = err
		})
		if api.IsCancellation(err) {
			p.notifier.Dismiss(toast)
		} else {
			p.notifier.Notify(ctx, notify.Notification{
				ID:      toast,
				Level:   notify.LevelError,
				Title:   "Failed to load budget",
				Message: api.Message(err),
			})
		}
		log.ErrorContext(ctx, "Failed to load workspace", applog.FieldError, err)
		return fmt.Errorf("load workspace %s: %w", id, err)
	}

	p.update(func(s *State) {
		s.Status = StatusLoaded
		s.Workspace = ws
		s.Loading = false
		s.Err = nil
	})
	p.notifier.Notify(ctx, notify.Notification{
		ID:    toast,
		Level: notify.LevelSuccess,
		Title: fmt.Sprintf("Loaded %s", ws.Label()),
	})
	log.InfoContext(ctx, "Workspace loaded", "name", ws.Name)

	if p.navigator != nil && p.cfg.postLoadPath != "" {
		p.navigator.Navigate(ctx, p.cfg.postLoadPath)
	}
	return nil
}

func (p *Provider) isLatest(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen == p.loadGen
}

// SwitchWorkspace loads id unless it is already loaded. Cached responses of the
// previous workspace are dropped.
func (p *Provider) SwitchWorkspace(ctx context.Context, id string) error {
	if st := p.State(); st.Loaded() && st.Workspace.ID == id {
		return nil
	}
	p.client.InvalidateAll()
	return p.LoadWorkspace(ctx, id)
}

// RefreshCurrentWorkspace re-reads the loaded workspace's metadata. It neither changes
// the session status nor navigates.
func (p *Provider) RefreshCurrentWorkspace(ctx context.Context) error {
	st := p.State()
	if !st.Loaded() {
		return ErrNoWorkspace
	}
	ws, err := p.fetchWorkspace(ctx, st.Workspace.ID)
	if err != nil {
		p.logger.WarnContext(ctx, "Failed to refresh workspace",
			applog.FieldWorkspaceID, st.Workspace.ID,
			applog.FieldError, err)
		return fmt.Errorf("refresh workspace %s: %w", st.Workspace.ID, err)
	}
	p.update(func(s *State) {
		if s.Status == StatusLoaded && s.Workspace.ID == ws.ID {
			s.Workspace = ws
		}
	})
	return nil
}

func (p *Provider) fetchWorkspace(ctx context.Context, id string) (core.Workspace, error) {
	ws, err := api.EnhancedFetch[core.Workspace](ctx, p.client, p.cfg.workspacesPath+"/"+id, api.RequestOptions{}, 0)
	if err != nil {
		return core.Workspace{}, err
	}
	if ws.ID == "" {
		ws.ID = id
	}
	return p.resolveDisplayName(ws), nil
}

// resolveDisplayName picks, in order: the locally stored name for the workspace, the
// server's display name, a name derived from the canonical one. A name that was not
// stored yet is stored so later loads show the same name.
func (p *Provider) resolveDisplayName(ws core.Workspace) core.Workspace {
	ws.OriginalName = ws.Name
	key := DisplayNameKey(ws.ID)
	if stored, ok := storage.Get[string](p.store, key, storage.Durable); ok && stored != "" {
		ws.DisplayName = stored
		return ws
	}
	if ws.DisplayName == "" {
		ws.DisplayName = core.DeriveDisplayName(ws.Name)
	}
	if ws.DisplayName != "" {
		if err := p.store.Set(key, ws.DisplayName, storage.Durable); err != nil {
			p.logger.Warn("Failed to store display name", applog.FieldWorkspaceID, ws.ID, applog.FieldError, err)
		}
	}
	return ws
}

// SetDisplayName stores a user-chosen name for workspace id.
func (p *Provider) SetDisplayName(id, name string) error {
	name = strings.TrimSpace(name)
	if strings.TrimSpace(id) == "" {
		return core.ErrEmptyWorkspaceID
	}
	if name == "" {
		return core.ErrEmptyName
	}
	if err := p.store.Set(DisplayNameKey(id), name, storage.Durable); err != nil {
		return fmt.Errorf("store display name: %w", err)
	}
	p.update(func(s *State) {
		if s.Status == StatusLoaded && s.Workspace.ID == id {
			s.Workspace.DisplayName = name
		}
	})
	return nil
}

// ListWorkspaces returns the workspaces available to the user with display names resolved.
func (p *Provider) ListWorkspaces(ctx context.Context) ([]core.Workspace, error) {
	list, err := api.Fetcher[[]core.Workspace](ctx, p.client, p.cfg.workspacesPath)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	out := make([]core.Workspace, 0, len(list))
	for _, ws := range list {
		if ws.ID == "" {
			continue
		}
		out = append(out, p.resolveDisplayName(ws))
	}
	return out, nil
}

// SetAsDefaultWorkspace makes id the server-side default. The loaded workspace is not touched.
func (p *Provider) SetAsDefaultWorkspace(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return core.ErrEmptyWorkspaceID
	}
	if err := p.savePreferences(ctx, &id); err != nil {
		p.notifyLater(notify.Notification{Level: notify.LevelError, Title: "Failed to set default budget", Message: api.Message(err)})
		return fmt.Errorf("set default workspace: %w", err)
	}
	p.cacheDefault(id)
	p.notifyLater(notify.Notification{Level: notify.LevelSuccess, Title: "Default budget set"})
	return nil
}

// ClearDefaultWorkspace removes the server-side default.
func (p *Provider) ClearDefaultWorkspace(ctx context.Context) error {
	if err := p.savePreferences(ctx, nil); err != nil {
		p.notifyLater(notify.Notification{Level: notify.LevelError, Title: "Failed to clear default budget", Message: api.Message(err)})
		return fmt.Errorf("clear default workspace: %w", err)
	}
	p.cacheDefault("")
	p.notifyLater(notify.Notification{Level: notify.LevelSuccess, Title: "Default budget cleared"})
	return nil
}

// IsDefaultWorkspace compares id against the cached default.
func (p *Provider) IsDefaultWorkspace(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return id != "" && id == p.state.DefaultID
}

func (p *Provider) savePreferences(ctx context.Context, id *string) error {
	_, err := api.EnhancedFetch[core.Preferences](ctx, p.client, p.cfg.preferencesPath, api.RequestOptions{
		Method: http.MethodPost,
		Body:   core.Preferences{DefaultWorkspaceID: id},
	}, 0)
	return err
}

// notifyLater shows n after the notify delay so it does not land in the middle of a view transition.
func (p *Provider) notifyLater(n notify.Notification) {
	if p.cfg.notifyDelay <= 0 {
		p.notifier.Notify(context.Background(), n)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(p.cfg.notifyDelay, func() {
		p.mu.Lock()
		_, pending := p.timers[t]
		delete(p.timers, t)
		p.mu.Unlock()
		if pending {
			p.notifier.Notify(context.Background(), n)
		}
	})
	p.timers[t] = struct{}{}
}

// Close cancels notifications that have not been shown yet.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for t := range p.timers {
		t.Stop()
	}
	clear(p.timers)
}
