package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"odzai/internal/api"
	"odzai/internal/backend"
	"odzai/internal/collection"
	"odzai/internal/config"
	applog "odzai/internal/log"
	"odzai/internal/notify"
	"odzai/internal/storage"
	"odzai/internal/workspace"
)

// App is the data layer of one odzai process: persistence facade, request client and
// workspace session, wired from configuration.
type App struct {
	Config     *config.Config
	Logger     *applog.Logger
	Store      *storage.Store
	Client     *api.Client
	Workspaces *workspace.Provider
	Notifier   notify.Notifier

	cleanup  backend.CleanupFunc
	stopFeed context.CancelFunc
	feedDone chan struct{}
	closed   bool
}

// AppOptions are the per-invocation switches that are not part of the configuration.
type AppOptions struct {
	ClearPersisted bool
	ForceDefault   bool
	Notifier       notify.Notifier
	Navigator      workspace.Navigator
}

// NewApp opens the durable backend, the optional change feed and everything built on them.
// Close releases them in reverse order.
func NewApp(ctx context.Context, cfg *config.Config, logger *applog.Logger, opts AppOptions) (*App, error) {
	if logger == nil {
		logger = applog.Default(applog.ComponentApp)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	result, err := backend.NewFactory(logger.WithComponent(applog.ComponentBackend)).CreateBackend(ctx, backendCfg)
	if err != nil {
		return nil, fmt.Errorf("create storage backend: %w", err)
	}

	storeOpts := []storage.Option{
		storage.WithDebounce(cfg.FlushDebounce),
		storage.WithLogger(logger.WithComponent(applog.ComponentStorage)),
	}
	if result.Feed != nil {
		storeOpts = append(storeOpts, storage.WithPublisher(result.Feed))
	}
	store := storage.NewStore(result.Durable, nil, storeOpts...)

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		cleanup: result.Cleanup,
	}

	if result.Feed != nil {
		feedCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		app.stopFeed = cancel
		app.feedDone = make(chan struct{})
		go func() {
			defer close(app.feedDone)
			if err := result.Feed.ConsumeChanges(feedCtx, store.ApplyExternalChange); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("Change feed stopped", applog.FieldError, err)
			}
		}()
	}

	clientOpts := []api.Option{
		api.WithStore(store),
		api.WithCacheConfig(cfg.CacheSize, cfg.CacheTTL),
		api.WithCleanupInterval(cfg.CacheCleanupInterval),
		api.WithTimeout(cfg.RequestTimeout),
		api.WithLogger(logger.WithComponent(applog.ComponentAPI)),
	}
	if cfg.APIToken != "" {
		clientOpts = append(clientOpts, api.WithStaticToken(cfg.APIToken))
	}
	client, err := api.NewClient(cfg.APIBaseURL, clientOpts...)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("create api client: %w", err)
	}
	app.Client = client

	app.Notifier = opts.Notifier
	if app.Notifier == nil {
		app.Notifier = notify.NewLogNotifier(logger.WithComponent(applog.ComponentNotify))
	}

	wsOpts := []workspace.Option{
		workspace.WithClearPersisted(opts.ClearPersisted),
		workspace.WithForceDefault(opts.ForceDefault),
		workspace.WithNotifyDelay(cfg.NotifyDelay),
		workspace.WithNotifier(app.Notifier),
		workspace.WithLogger(logger.WithComponent(applog.ComponentWorkspace)),
	}
	if cfg.SyncServerURL != "" {
		direct := strings.TrimRight(cfg.SyncServerURL, "/") + "/activate"
		activator := workspace.NewHTTPActivator(client, direct, cfg.ProxyURL, logger.WithComponent(applog.ComponentWorkspace))
		wsOpts = append(wsOpts, workspace.WithActivator(activator))
	}
	if opts.Navigator != nil {
		wsOpts = append(wsOpts, workspace.WithNavigator(opts.Navigator))
	}
	app.Workspaces = workspace.NewProvider(client, store, wsOpts...)

	return app, nil
}

// CurrentWorkspace resolves the workspace session and returns the loaded workspace id.
func (a *App) CurrentWorkspace(ctx context.Context) (string, error) {
	if err := a.Workspaces.Init(ctx); err != nil {
		return "", err
	}
	st := a.Workspaces.State()
	if !st.Loaded() {
		return "", workspace.ErrNoWorkspace
	}
	return st.CurrentID(), nil
}

// CollectionOptions returns the options entity collections share: the app's logger and
// notifier, labelled for announcements.
func (a *App) CollectionOptions(label string) []collection.Option {
	return []collection.Option{
		collection.WithLogger(a.Logger.WithComponent(applog.ComponentCollection)),
		collection.WithNotifier(a.Notifier),
		collection.WithLabel(label),
	}
}

// Close stops the change feed, flushes pending writes and releases the backends.
func (a *App) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	if a.Workspaces != nil {
		a.Workspaces.Close()
	}
	if a.Client != nil {
		a.Client.Close()
	}
	if a.stopFeed != nil {
		a.stopFeed()
		<-a.feedDone
	}

	var errs []error
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if a.cleanup != nil {
		if err := a.cleanup(); err != nil {
			errs = append(errs, fmt.Errorf("close backend: %w", err))
		}
	}
	return errors.Join(errs...)
}
