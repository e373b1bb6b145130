package core

import (
	"errors"
	"strings"
	"time"
)

// Date is a calendar day serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

type (
	Account struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		OffBudget bool   `json:"offbudget"`
		Closed    bool   `json:"closed"`
		Balance   Money  `json:"balance"`
	}

	Category struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		GroupID string `json:"group_id,omitempty"`
		Hidden  bool   `json:"hidden"`
	}

	Transaction struct {
		ID         string `json:"id"`
		AccountID  string `json:"account"`
		CategoryID string `json:"category,omitempty"`
		Date       Date   `json:"date"`
		Amount     Money  `json:"amount"`
		Payee      string `json:"payee_name,omitempty"`
		Notes      string `json:"notes,omitempty"`
		Cleared    bool   `json:"cleared"`
	}
)

// Patches carry only the fields a partial update touches. A nil field is left alone.
type (
	AccountPatch struct {
		Name      *string `json:"name,omitempty"`
		OffBudget *bool   `json:"offbudget,omitempty"`
		Closed    *bool   `json:"closed,omitempty"`
	}

	CategoryPatch struct {
		Name    *string `json:"name,omitempty"`
		GroupID *string `json:"group_id,omitempty"`
		Hidden  *bool   `json:"hidden,omitempty"`
	}

	TransactionPatch struct {
		CategoryID *string `json:"category,omitempty"`
		Date       *Date   `json:"date,omitempty"`
		Amount     *Money  `json:"amount,omitempty"`
		Payee      *string `json:"payee_name,omitempty"`
		Notes      *string `json:"notes,omitempty"`
		Cleared    *bool   `json:"cleared,omitempty"`
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidDate     = errors.New("invalid date")
	ErrEmptyAccount    = errors.New("empty account")
	ErrNameTooLong     = errors.New("name too long (max 200 characters)")
	ErrNotesTooLong    = errors.New("notes too long (max 1000 characters)")
	ErrMissingEntityID = errors.New("missing entity id")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

// Validate reports whether d is a calendar day: non-zero, UTC midnight.
func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	if d.Location() != time.UTC || d.Truncate(24*time.Hour) != d.Time {
		return ErrInvalidDate
	}
	return nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`null`), nil
	}
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	if len(name) > 200 {
		return ErrNameTooLong
	}
	return nil
}

func (a Account) Validate() error { return validateName(a.Name) }

func (a Account) EntityID() string { return a.ID }

func (a Account) WithEntityID(id string) Account {
	a.ID = id
	return a
}

func (c Category) Validate() error { return validateName(c.Name) }

func (c Category) EntityID() string { return c.ID }

func (c Category) WithEntityID(id string) Category {
	c.ID = id
	return c
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.AccountID) == "" {
		return ErrEmptyAccount
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if len(t.Notes) > 1000 {
		return ErrNotesTooLong
	}
	return nil
}

func (t Transaction) EntityID() string { return t.ID }

func (t Transaction) WithEntityID(id string) Transaction {
	t.ID = id
	return t
}

func (p AccountPatch) Apply(a Account) Account {
	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.OffBudget != nil {
		a.OffBudget = *p.OffBudget
	}
	if p.Closed != nil {
		a.Closed = *p.Closed
	}
	return a
}

func (p CategoryPatch) Apply(c Category) Category {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.GroupID != nil {
		c.GroupID = *p.GroupID
	}
	if p.Hidden != nil {
		c.Hidden = *p.Hidden
	}
	return c
}

func (p TransactionPatch) Apply(t Transaction) Transaction {
	if p.CategoryID != nil {
		t.CategoryID = *p.CategoryID
	}
	if p.Date != nil {
		t.Date = *p.Date
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Payee != nil {
		t.Payee = *p.Payee
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.Cleared != nil {
		t.Cleared = *p.Cleared
	}
	return t
}

// Ptr returns a pointer to v. Used to build patches inline.
func Ptr[T any](v T) *T { return &v }
