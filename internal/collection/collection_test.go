package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"odzai/internal/api"
	"odzai/internal/core"
	applog "odzai/internal/log"
	"odzai/internal/notify"
)

// fakeAccounts serves /api/accounts from memory.
type fakeAccounts struct {
	mu       sync.Mutex
	accounts []core.Account
	seq      int

	failPost, failPatch, failDelete bool
	// during runs inside mutation handlers before the response is written.
	during func()

	gets atomic.Int32
}

func (f *fakeAccounts) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/accounts", func(w http.ResponseWriter, r *http.Request) {
		f.gets.Add(1)
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, f.accounts)
	})
	mux.HandleFunc("GET /api/accounts/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.gets.Add(1)
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, a := range f.accounts {
			if a.ID == r.PathValue("id") {
				writeJSON(w, http.StatusOK, a)
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "account not found"})
	})
	mux.HandleFunc("POST /api/accounts", func(w http.ResponseWriter, r *http.Request) {
		f.runDuring()
		if f.failPost {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "name already taken"})
			return
		}
		var a core.Account
		json.NewDecoder(r.Body).Decode(&a)
		f.mu.Lock()
		f.seq++
		a.ID = fmt.Sprintf("acc-%d", f.seq)
		f.accounts = append(f.accounts, a)
		f.mu.Unlock()
		writeJSON(w, http.StatusCreated, a)
	})
	mux.HandleFunc("PATCH /api/accounts/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.runDuring()
		if f.failPatch {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database locked"})
			return
		}
		var p core.AccountPatch
		json.NewDecoder(r.Body).Decode(&p)
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, a := range f.accounts {
			if a.ID == r.PathValue("id") {
				f.accounts[i] = p.Apply(a)
				writeJSON(w, http.StatusOK, f.accounts[i])
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "account not found"})
	})
	mux.HandleFunc("DELETE /api/accounts/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.runDuring()
		if f.failDelete {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, a := range f.accounts {
			if a.ID == r.PathValue("id") {
				f.accounts = append(f.accounts[:i], f.accounts[i+1:]...)
				break
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (f *fakeAccounts) runDuring() {
	if f.during != nil {
		f.during()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func setup(t *testing.T, f *fakeAccounts) *api.Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	c, err := api.NewClient(srv.URL+"/api", api.WithLogger(applog.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func newAccounts(c *api.Client, rec *notify.Recorder) *Collection[core.Account] {
	return NewCollection[core.Account](c, "accounts",
		WithLogger(applog.Discard()),
		WithNotifier(rec),
		WithLabel("account"))
}

func names(items []core.Account) []string {
	out := make([]string, len(items))
	for i, a := range items {
		out[i] = a.Name
	}
	return out
}

func TestCollection_UpdateRollsBackOnFailure(t *testing.T) {
	f := &fakeAccounts{accounts: []core.Account{{ID: "a", Name: "X"}}, failPatch: true}
	client := setup(t, f)
	rec := &notify.Recorder{}
	accounts := newAccounts(client, rec)
	ctx := context.Background()

	if _, err := accounts.Load(ctx); err != nil {
		t.Fatal(err)
	}

	var optimistic []string
	f.during = func() { optimistic = names(accounts.Items()) }

	_, err := accounts.Update(ctx, "a", core.AccountPatch{Name: core.Ptr("Y")})
	if api.StatusCode(err) != http.StatusInternalServerError {
		t.Fatalf("Update() error = %v, want 500", err)
	}
	if !reflect.DeepEqual(optimistic, []string{"Y"}) {
		t.Errorf("state during request = %v, want [Y]", optimistic)
	}
	if got := accounts.Items(); !reflect.DeepEqual(got, []core.Account{{ID: "a", Name: "X"}}) {
		t.Errorf("state after revalidation = %+v, want original", got)
	}

	shown := rec.Shown()
	if len(shown) != 1 || shown[0].Level != notify.LevelError {
		t.Fatalf("notifications = %+v", shown)
	}
	if shown[0].Title != "Failed to update account" || shown[0].Message != "database locked" {
		t.Errorf("notification = %+v", shown[0])
	}
}

func TestCollection_UpdateSuccess(t *testing.T) {
	f := &fakeAccounts{accounts: []core.Account{{ID: "a", Name: "X"}, {ID: "b", Name: "Z"}}}
	client := setup(t, f)
	accounts := newAccounts(client, &notify.Recorder{})
	ctx := context.Background()
	accounts.Load(ctx)

	updated, err := accounts.Update(ctx, "a", core.AccountPatch{Name: core.Ptr("Y")})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Name != "Y" {
		t.Errorf("Update() = %+v", updated)
	}
	if got := names(accounts.Items()); !reflect.DeepEqual(got, []string{"Y", "Z"}) {
		t.Errorf("items = %v", got)
	}
}

func TestCollection_UpdateUnknownIDAppends(t *testing.T) {
	f := &fakeAccounts{}
	client := setup(t, f)
	accounts := newAccounts(client, &notify.Recorder{})

	var optimistic []core.Account
	f.during = func() { optimistic = accounts.Items() }

	accounts.Update(context.Background(), "ghost", core.AccountPatch{Name: core.Ptr("Phantom")})

	if len(optimistic) != 1 || optimistic[0].ID != "ghost" || optimistic[0].Name != "Phantom" {
		t.Errorf("state during request = %+v", optimistic)
	}
	if got := accounts.Items(); len(got) != 0 {
		t.Errorf("state after revalidation = %+v, want empty", got)
	}
}

func TestCollection_CreateReplacesTemporaryItem(t *testing.T) {
	f := &fakeAccounts{accounts: []core.Account{{ID: "a", Name: "Checking"}}}
	client := setup(t, f)
	accounts := newAccounts(client, &notify.Recorder{})
	ctx := context.Background()
	accounts.Load(ctx)

	var optimistic []core.Account
	f.during = func() { optimistic = accounts.Items() }

	created, err := accounts.Create(ctx, core.Account{Name: "Savings"})
	if err != nil {
		t.Fatal(err)
	}
	if created.ID != "acc-1" {
		t.Errorf("Create() id = %q", created.ID)
	}
	if len(optimistic) != 2 || optimistic[1].ID != "temp-1" || optimistic[1].Name != "Savings" {
		t.Errorf("state during request = %+v", optimistic)
	}
	got := accounts.Items()
	if len(got) != 2 || got[1].ID != "acc-1" {
		t.Errorf("state after revalidation = %+v", got)
	}
}

func TestCollection_CreateFailureRollsBack(t *testing.T) {
	f := &fakeAccounts{accounts: []core.Account{{ID: "a", Name: "Checking"}}, failPost: true}
	client := setup(t, f)
	rec := &notify.Recorder{}
	accounts := newAccounts(client, rec)
	ctx := context.Background()
	accounts.Load(ctx)

	_, err := accounts.Create(ctx, core.Account{Name: "Checking"})
	var httpErr *api.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Message != "name already taken" {
		t.Fatalf("Create() error = %v", err)
	}
	if got := names(accounts.Items()); !reflect.DeepEqual(got, []string{"Checking"}) {
		t.Errorf("items = %v, want the temporary item gone", got)
	}
	if got := rec.Levels(); !reflect.DeepEqual(got, []notify.Level{notify.LevelError}) {
		t.Errorf("notification levels = %v", got)
	}
}

func TestCollection_Remove(t *testing.T) {
	tests := []struct {
		name      string
		fail      bool
		wantErr   bool
		wantFinal []string
	}{
		{name: "success", wantFinal: []string{"Z"}},
		{name: "server refuses", fail: true, wantErr: true, wantFinal: []string{"X", "Z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeAccounts{
				accounts:   []core.Account{{ID: "a", Name: "X"}, {ID: "b", Name: "Z"}},
				failDelete: tt.fail,
			}
			client := setup(t, f)
			accounts := newAccounts(client, &notify.Recorder{})
			ctx := context.Background()
			accounts.Load(ctx)

			var optimistic []string
			f.during = func() { optimistic = names(accounts.Items()) }

			err := accounts.Remove(ctx, "a")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Remove() error = %v", err)
			}
			if !reflect.DeepEqual(optimistic, []string{"Z"}) {
				t.Errorf("state during request = %v", optimistic)
			}
			if got := names(accounts.Items()); !reflect.DeepEqual(got, tt.wantFinal) {
				t.Errorf("final state = %v, want %v", got, tt.wantFinal)
			}
		})
	}
}

func TestCollection_CanceledMutationIsNotAnnounced(t *testing.T) {
	f := &fakeAccounts{accounts: []core.Account{{ID: "a", Name: "X"}}}
	client := setup(t, f)
	rec := &notify.Recorder{}
	accounts := newAccounts(client, rec)
	accounts.Load(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := accounts.Create(ctx, core.Account{Name: "Late"})
	if !api.IsCancellation(err) {
		t.Fatalf("Create() error = %v, want cancellation", err)
	}
	if len(rec.Shown()) != 0 {
		t.Errorf("notifications = %+v", rec.Shown())
	}
	if got := names(accounts.Items()); !reflect.DeepEqual(got, []string{"X"}) {
		t.Errorf("items = %v, want revalidated list", got)
	}
}

func TestData_LoadUsesCacheRevalidateDoesNot(t *testing.T) {
	f := &fakeAccounts{accounts: []core.Account{{ID: "a", Name: "X"}}}
	client := setup(t, f)
	d := NewData[[]core.Account](client, "/accounts", WithLogger(applog.Discard()))
	ctx := context.Background()

	d.Load(ctx)
	d.Load(ctx)
	if n := f.gets.Load(); n != 1 {
		t.Fatalf("GETs after two loads = %d, want 1", n)
	}
	d.Revalidate(ctx)
	if n := f.gets.Load(); n != 2 {
		t.Fatalf("GETs after revalidate = %d, want 2", n)
	}
	d.Load(ctx)
	if n := f.gets.Load(); n != 2 {
		t.Errorf("GETs after revalidate then load = %d, want 2", n)
	}
}

func TestData_LastStartedRevalidationWins(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			<-release
			writeJSON(w, http.StatusOK, "old")
			return
		}
		writeJSON(w, http.StatusOK, "new")
	}))
	defer srv.Close()
	client, err := api.NewClient(srv.URL, api.WithLogger(applog.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	d := NewData[string](client, "/label", WithLogger(applog.Discard()))
	ctx := context.Background()

	done := make(chan string)
	go func() {
		v, _ := d.Revalidate(ctx)
		done <- v
	}()
	for calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	if v, err := d.Revalidate(ctx); err != nil || v != "new" {
		t.Fatalf("second Revalidate() = %q, %v", v, err)
	}
	close(release)
	if v := <-done; v != "new" {
		t.Errorf("superseded Revalidate() returned %q, want current state", v)
	}

	st := d.State()
	if st.Data != "new" || st.IsValidating || st.IsLoading {
		t.Errorf("state = %+v", st)
	}
}

func TestData_StateTransitions(t *testing.T) {
	f := &fakeAccounts{accounts: []core.Account{{ID: "a", Name: "X"}}}
	client := setup(t, f)
	d := NewData[[]core.Account](client, "/accounts", WithLogger(applog.Discard()))

	var mu sync.Mutex
	var seen []State[[]core.Account]
	unsubscribe := d.Subscribe(func(s State[[]core.Account]) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	d.Load(context.Background())

	mu.Lock()
	if len(seen) != 2 {
		t.Fatalf("states = %+v", seen)
	}
	if !seen[0].IsLoading || !seen[0].IsValidating || seen[0].HasData {
		t.Errorf("first state = %+v", seen[0])
	}
	if seen[1].IsLoading || seen[1].IsValidating || !seen[1].HasData || len(seen[1].Data) != 1 {
		t.Errorf("second state = %+v", seen[1])
	}
	mu.Unlock()

	unsubscribe()
	d.Mutate(func(items []core.Account) []core.Account { return nil })
	mu.Lock()
	if len(seen) != 2 {
		t.Errorf("unsubscribed callback still called: %d states", len(seen))
	}
	mu.Unlock()
}

func TestData_ErrorKeepsData(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, []string{"a"})
	}))
	defer srv.Close()
	client, _ := api.NewClient(srv.URL, api.WithLogger(applog.Discard()))
	defer client.Close()

	d := NewData[[]string](client, "/x", WithLogger(applog.Discard()))
	ctx := context.Background()
	d.Load(ctx)
	fail.Store(true)
	if _, err := d.Revalidate(ctx); err == nil {
		t.Fatal("Revalidate() should fail")
	}
	st := d.State()
	if st.Err == nil || !st.HasData || !reflect.DeepEqual(st.Data, []string{"a"}) {
		t.Errorf("state = %+v", st)
	}

	fail.Store(false)
	d.Revalidate(ctx)
	if st := d.State(); st.Err != nil {
		t.Errorf("error not cleared: %v", st.Err)
	}
}

func TestItem(t *testing.T) {
	f := &fakeAccounts{accounts: []core.Account{{ID: "a", Name: "X"}}}
	client := setup(t, f)
	ctx := context.Background()

	t.Run("empty id makes no request", func(t *testing.T) {
		before := f.gets.Load()
		item := NewItem[core.Account](client, "/accounts", "", WithLogger(applog.Discard()))
		v, err := item.Load(ctx)
		if err != nil || v != (core.Account{}) {
			t.Errorf("Load() = %+v, %v", v, err)
		}
		if _, err := item.Update(ctx, core.AccountPatch{Name: core.Ptr("Y")}); !errors.Is(err, ErrNoKey) {
			t.Errorf("Update() error = %v, want ErrNoKey", err)
		}
		if f.gets.Load() != before {
			t.Error("empty id issued a request")
		}
	})

	t.Run("update rolls back on failure", func(t *testing.T) {
		rec := &notify.Recorder{}
		item := NewItem[core.Account](client, "/accounts", "a", WithLogger(applog.Discard()), WithNotifier(rec))
		if v, err := item.Load(ctx); err != nil || v.Name != "X" {
			t.Fatalf("Load() = %+v, %v", v, err)
		}

		f.failPatch = true
		defer func() { f.failPatch = false }()
		var optimistic string
		f.during = func() { optimistic = item.State().Data.Name }
		defer func() { f.during = nil }()

		if _, err := item.Update(ctx, core.AccountPatch{Name: core.Ptr("Y")}); err == nil {
			t.Fatal("Update() should fail")
		}
		if optimistic != "Y" {
			t.Errorf("state during request = %q", optimistic)
		}
		if got := item.State().Data.Name; got != "X" {
			t.Errorf("state after revalidation = %q", got)
		}
		if len(rec.Shown()) != 1 {
			t.Errorf("notifications = %+v", rec.Shown())
		}
	})
}
