package core

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
		{Date{Time: time.Date(2025, 1, 1, 13, 30, 0, 0, time.UTC)}, false},
		{Date{Time: time.Date(2025, 1, 1, 0, 0, 0, 0, time.FixedZone("CET", 3600))}, false},
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestDateJSON(t *testing.T) {
	b, err := json.Marshal(NewDate(2025, 3, 9))
	if err != nil || string(b) != `"2025-03-09"` {
		t.Fatalf("marshal = %s, %v", b, err)
	}
	var d Date
	if err := json.Unmarshal([]byte(`"2024-02-29"`), &d); err != nil {
		t.Fatal(err)
	}
	if d.Year() != 2024 || d.Month() != time.February || d.Day() != 29 {
		t.Fatalf("unmarshal = %v", d)
	}
	if err := json.Unmarshal([]byte(`"29/02/2024"`), &d); err == nil {
		t.Fatal("expected error for bad layout")
	}
}

func TestDeriveDisplayName(t *testing.T) {
	cases := map[string]string{
		"acme-budget":      "Acme",
		"family":           "Family",
		"élan-2024-shared": "Élan",
		"-leading":         "",
		"":                 "",
		"  spaced-out  ":   "Spaced",
	}
	for in, want := range cases {
		if got := DeriveDisplayName(in); got != want {
			t.Errorf("DeriveDisplayName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWorkspaceLabel(t *testing.T) {
	w := Workspace{ID: "w1", Name: "acme-budget"}
	if w.Label() != "acme-budget" {
		t.Errorf("Label() = %q", w.Label())
	}
	w.DisplayName = "Acme"
	if w.Label() != "Acme" {
		t.Errorf("Label() = %q", w.Label())
	}
}

func TestPreferencesJSON(t *testing.T) {
	b, err := json.Marshal(Preferences{})
	if err != nil || string(b) != `{"defaultWorkspaceId":null}` {
		t.Fatalf("marshal cleared = %s, %v", b, err)
	}
	b, _ = json.Marshal(Preferences{DefaultWorkspaceID: Ptr("w2")})
	if string(b) != `{"defaultWorkspaceId":"w2"}` {
		t.Fatalf("marshal set = %s", b)
	}
}

func TestPatchesOnlyTouchSetFields(t *testing.T) {
	acc := Account{ID: "a", Name: "Checking", OffBudget: true}
	got := AccountPatch{Name: Ptr("Main")}.Apply(acc)
	if got.Name != "Main" || !got.OffBudget || got.ID != "a" {
		t.Errorf("AccountPatch.Apply() = %+v", got)
	}
	if acc.Name != "Checking" {
		t.Error("Apply mutated its input")
	}

	tx := Transaction{ID: "t", AccountID: "a", Amount: Money{Cents: -500}, Notes: "lunch"}
	got2 := TransactionPatch{Cleared: Ptr(true), Amount: &Money{Cents: -650}}.Apply(tx)
	if !got2.Cleared || got2.Amount.Cents != -650 || got2.Notes != "lunch" {
		t.Errorf("TransactionPatch.Apply() = %+v", got2)
	}

	b, _ := json.Marshal(CategoryPatch{Hidden: Ptr(false)})
	if string(b) != `{"hidden":false}` {
		t.Errorf("CategoryPatch JSON = %s", b)
	}
}

func TestEntityValidate(t *testing.T) {
	if err := (Account{Name: " "}).Validate(); err != ErrEmptyName {
		t.Errorf("Account.Validate() = %v, want ErrEmptyName", err)
	}
	if err := (Category{Name: "Food"}).Validate(); err != nil {
		t.Errorf("Category.Validate() = %v", err)
	}
	bads := []Transaction{
		{Date: NewDate(2025, 1, 1)},
		{AccountID: "a"},
	}
	for i, tx := range bads {
		if err := tx.Validate(); err == nil {
			t.Errorf("case %d expected error", i)
		}
	}
	if err := (Transaction{AccountID: "a", Date: NewDate(2025, 1, 1)}).Validate(); err != nil {
		t.Errorf("valid transaction: %v", err)
	}
}
