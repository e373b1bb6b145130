package workspace

import (
	"errors"
	"net/url"

	"odzai/internal/core"
)

// Status is the phase of the workspace session.
type Status int

const (
	StatusUninitialized Status = iota
	StatusResolving
	StatusLoaded
	StatusUnloaded
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusResolving:
		return "resolving"
	case StatusLoaded:
		return "loaded"
	case StatusUnloaded:
		return "unloaded"
	default:
		return "unknown"
	}
}

// Storage keys.
const (
	KeyCurrentWorkspace  = "odzai.currentWorkspaceId"
	KeyDefaultWorkspace  = "odzai.defaultWorkspaceId"
	displayNameKeyPrefix = "odzai.workspace.displayName."
)

// DisplayNameKey is the durable key holding the display name chosen for workspace id.
func DisplayNameKey(id string) string {
	return displayNameKeyPrefix + id
}

// EntityPath is the endpoint of an entity collection inside workspace id, e.g.
// EntityPath("b1", "accounts") is "/budgets/b1/accounts".
func EntityPath(id, entity string) string {
	return DefaultWorkspacesPath + "/" + url.PathEscape(id) + "/" + entity
}

var (
	// ErrNoWorkspace is returned by operations that need a loaded workspace.
	ErrNoWorkspace = errors.New("no workspace loaded")
	// ErrSuperseded is returned by a load that a later load replaced before it finished.
	ErrSuperseded = errors.New("workspace load superseded")
)

// State is a snapshot of the session. Workspace is set only when Status is StatusLoaded.
type State struct {
	Status    Status
	Workspace core.Workspace
	// DefaultID is the cached server-side default workspace, independent of what is loaded.
	DefaultID string
	Loading   bool
	Err       error
}

func (s State) Loaded() bool { return s.Status == StatusLoaded }

// CurrentID is the id of the loaded workspace, or "".
func (s State) CurrentID() string {
	if s.Status != StatusLoaded {
		return ""
	}
	return s.Workspace.ID
}
