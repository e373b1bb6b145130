package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"odzai/internal/api"
	applog "odzai/internal/log"
)

const activationTimeout = 10 * time.Second

// Activator tells the secondary backend which workspace is active.
type Activator interface {
	Activate(ctx context.Context, workspaceID string) error
}

// Navigator moves the user to path once a workspace has loaded.
type Navigator interface {
	Navigate(ctx context.Context, path string)
}

type NavigatorFunc func(ctx context.Context, path string)

func (f NavigatorFunc) Navigate(ctx context.Context, path string) { f(ctx, path) }

// ActivationRequest is the body of the activation call.
type ActivationRequest struct {
	BudgetID string `json:"budgetId"`
}

// HTTPActivator posts the activation directly to the sync server and retries
// through the same-origin proxy when the direct call fails.
type HTTPActivator struct {
	client    *api.Client
	directURL string
	proxyURL  string
	logger    *applog.Logger
}

func NewHTTPActivator(c *api.Client, directURL, proxyURL string, logger *applog.Logger) *HTTPActivator {
	if logger == nil {
		logger = applog.Default(applog.ComponentWorkspace)
	}
	return &HTTPActivator{client: c, directURL: directURL, proxyURL: proxyURL, logger: logger}
}

func (a *HTTPActivator) Activate(ctx context.Context, workspaceID string) error {
	body := ActivationRequest{BudgetID: workspaceID}

	var directErr error
	if a.directURL != "" {
		if directErr = a.post(ctx, a.directURL, body); directErr == nil {
			return nil
		}
		a.logger.DebugContext(ctx, "Direct activation failed, trying proxy",
			applog.FieldWorkspaceID, workspaceID,
			applog.FieldError, directErr)
	}
	if a.proxyURL == "" {
		if directErr == nil {
			return errors.New("no activation endpoint configured")
		}
		return directErr
	}
	if err := a.post(ctx, a.proxyURL, body); err != nil {
		return errors.Join(directErr, fmt.Errorf("activate via proxy: %w", err))
	}
	return nil
}

func (a *HTTPActivator) post(ctx context.Context, url string, body ActivationRequest) error {
	_, err := api.EnhancedFetch[json.RawMessage](ctx, a.client, url,
		api.RequestOptions{Method: http.MethodPost, Body: body}, activationTimeout)
	return err
}
