package account

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	r, err := New(path, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return r, path
}

func TestPickForOAuth_FewestSessionsWins(t *testing.T) {
	r, _ := newTestRegistry(t)
	must(t, r.Add(Account{ID: "a1", CanOAuth: true, Status: StatusValid, SessionCount: 2}))
	must(t, r.Add(Account{ID: "a2", CanOAuth: true, Status: StatusValid, SessionCount: 1}))

	picked, err := r.PickForOAuth()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if picked.ID != "a2" {
		t.Fatalf("expected a2 (fewer sessions), got %s", picked.ID)
	}
}

func TestPickForOAuth_NoneAvailable(t *testing.T) {
	r, _ := newTestRegistry(t)
	must(t, r.Add(Account{ID: "a1", CanOAuth: false, Status: StatusValid}))

	_, err := r.PickForOAuth()
	if err == nil {
		t.Fatal("expected NoAccountsAvailable error")
	}
}

func TestPickForSession_Sticky(t *testing.T) {
	r, _ := newTestRegistry(t)
	must(t, r.Add(Account{ID: "a1", CanWeb: true, Status: StatusValid}))
	must(t, r.Add(Account{ID: "a2", CanWeb: true, Status: StatusValid}))

	first, err := r.PickForSession("client-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := r.PickForSession("client-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again.ID != first.ID {
			t.Fatalf("sticky binding broke: got %s then %s", first.ID, again.ID)
		}
	}
}

func TestSessionCount_NeverNegative(t *testing.T) {
	r, _ := newTestRegistry(t)
	must(t, r.Add(Account{ID: "a1", CanWeb: true, Status: StatusValid}))

	r.ReleaseSession("a1", "nonexistent-client")
	a, _ := r.Get("a1")
	if a.SessionCount < 0 {
		t.Fatalf("session count went negative: %d", a.SessionCount)
	}
}

func TestMarkRateLimited_PersistsAndBlocksOAuthPick(t *testing.T) {
	r, _ := newTestRegistry(t)
	must(t, r.Add(Account{ID: "a1", CanOAuth: true, Status: StatusValid}))

	r.MarkRateLimited("a1", time.Now().Add(time.Hour))
	_, err := r.PickForOAuth()
	if err == nil {
		t.Fatal("expected rate-limited account to be excluded from selection")
	}
}

func TestAtomicWrite_CrashLeavesPreviousContentReadable(t *testing.T) {
	r, path := newTestRegistry(t)
	must(t, r.Add(Account{ID: "a1", CanOAuth: true, Status: StatusValid}))

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Simulate a crash mid-write: write only the temp file, without the
	// rename that would make it visible. accounts.json must still parse
	// with its pre-write content (the scenario 6).
	store := newFileStore(path)
	tmp, err := os.CreateTemp(filepath.Dir(path), ".accounts-*.tmp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tmp.WriteString("{not valid json")
	tmp.Close()
	defer os.Remove(tmp.Name())

	loaded, err := store.load()
	if err != nil {
		t.Fatalf("accounts.json should still parse after a crashed temp write: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "a1" {
		t.Fatalf("expected pre-crash content preserved, got %+v", loaded)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(before) != string(after) {
		t.Fatal("accounts.json content changed despite the rename never happening")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
