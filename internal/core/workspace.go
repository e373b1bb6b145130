package core

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Workspace is a budget: the tenant boundary the user loads to see financial data.
type Workspace struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DisplayName  string `json:"displayName,omitempty"`
	Color        string `json:"color,omitempty"`
	OriginalName string `json:"originalName,omitempty"`
}

// Preferences is the user preference document stored server-side.
type Preferences struct {
	DefaultWorkspaceID *string `json:"defaultWorkspaceId"`
}

var (
	ErrEmptyWorkspaceID = errors.New("empty workspace id")
	ErrEmptyName        = errors.New("empty name")
)

func (w Workspace) Validate() error {
	if strings.TrimSpace(w.ID) == "" {
		return ErrEmptyWorkspaceID
	}
	return nil
}

func (w Workspace) EntityID() string { return w.ID }

func (w Workspace) WithEntityID(id string) Workspace {
	w.ID = id
	return w
}

// Label is the name shown to the user: the display name when set, the canonical name otherwise.
func (w Workspace) Label() string {
	if w.DisplayName != "" {
		return w.DisplayName
	}
	return w.Name
}

// DeriveDisplayName turns a canonical workspace name into a user-facing one:
// the part before the first '-', with its first letter upper-cased.
//
//	DeriveDisplayName("acme-budget") -> "Acme"
//	DeriveDisplayName("family")      -> "Family"
func DeriveDisplayName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, '-'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}
