package account

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"claude-relay/internal/relayerr"
)

// Prober runs the two-phase refresh/health probe. Implemented
// by internal/health; injected here to avoid a health->account->health
// import cycle.
type Prober interface {
	Probe(ctx context.Context, account Account) (Status, *time.Time, error)
}

// Registry is the Account Registry. A single mutex protects both the
// in-memory map and the persistence call; every read, pick and mutation
// takes it, so binding a session re-checks status atomically.
type Registry struct {
	mu       sync.Mutex
	accounts map[string]*Account
	sticky   map[string]string // clientKey -> accountID

	store  *fileStore
	prober Prober

	perAccountSessionCap int
}

// New constructs a Registry, loading existing state from path if present.
func New(path string, perAccountSessionCap int) (*Registry, error) {
	store := newFileStore(path)
	loaded, err := store.load()
	if err != nil {
		return nil, err
	}
	r := &Registry{
		accounts:             make(map[string]*Account, len(loaded)),
		sticky:               make(map[string]string),
		store:                store,
		perAccountSessionCap: perAccountSessionCap,
	}
	for i := range loaded {
		a := loaded[i]
		r.accounts[a.ID] = &a
	}
	return r, nil
}

// SetProber wires the health probe implementation after construction
// (health.Monitor is constructed with a reference to the Registry, so the
// dependency is injected back in to break the cycle).
func (r *Registry) SetProber(p Prober) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prober = p
}

func (r *Registry) persistLocked() {
	snapshot := make([]Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		snapshot = append(snapshot, *a)
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })
	if err := r.store.save(snapshot); err != nil {
		log.Error().Err(err).Msg("failed to persist accounts.json")
	}
}

// PickForOAuth implements pickForOAuth().
func (r *Registry) PickForOAuth() (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var best *Account
	for _, a := range r.accounts {
		r.checkRateLimitExpiryLocked(a, now)
		if !a.CanOAuth || a.Status != StatusValid || a.isOverloaded(now) {
			continue
		}
		if best == nil || a.SessionCount < best.SessionCount ||
			(a.SessionCount == best.SessionCount && a.LastUsed.Before(best.LastUsed)) {
			best = a
		}
	}
	if best == nil {
		return nil, relayerr.New(relayerr.KindNoAccountsAvailable, "no VALID account with canOAuth available")
	}
	best.LastUsed = now
	cp := *best
	return &cp, nil
}

// PickForSession implements pickForSession(clientKey): sticky
// binding, else fewest-bound-sessions among eligible accounts.
func (r *Registry) PickForSession(clientKey string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if boundID, ok := r.sticky[clientKey]; ok {
		if a, ok := r.accounts[boundID]; ok {
			r.checkRateLimitExpiryLocked(a, now)
			if a.Status == StatusValid {
				a.LastUsed = now
				cp := *a
				return &cp, nil
			}
		}
		delete(r.sticky, clientKey)
	}

	cap := r.perAccountSessionCap
	var best *Account
	for _, a := range r.accounts {
		r.checkRateLimitExpiryLocked(a, now)
		if !a.CanWeb || a.Status != StatusValid || a.isOverloaded(now) {
			continue
		}
		if cap > 0 && a.SessionCount >= cap {
			continue
		}
		if best == nil || a.SessionCount < best.SessionCount ||
			(a.SessionCount == best.SessionCount && a.LastUsed.Before(best.LastUsed)) {
			best = a
		}
	}
	if best == nil {
		return nil, relayerr.New(relayerr.KindNoAccountsAvailable, "no VALID account with canWeb available")
	}
	best.SessionCount++
	best.LastUsed = now
	r.sticky[clientKey] = best.ID
	cp := *best
	return &cp, nil
}

// ReleaseSession decrements the bound session count, called by the
// Session Manager on session destroy. SessionCount never goes below 0.
func (r *Registry) ReleaseSession(accountID, clientKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[accountID]; ok && a.SessionCount > 0 {
		a.SessionCount--
	}
	delete(r.sticky, clientKey)
}

// MarkRateLimited implements markRateLimited(account, resetsAt).
func (r *Registry) MarkRateLimited(accountID string, resetsAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return
	}
	a.Status = StatusRateLimited
	a.RateLimitResetsAt = &resetsAt
	r.persistLocked()
}

// MarkInvalid implements markInvalid(account).
func (r *Registry) MarkInvalid(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return
	}
	a.Status = StatusInvalid
	r.persistLocked()
}

// MarkOverloaded implements markOverloaded(account, duration).
func (r *Registry) MarkOverloaded(accountID string, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return
	}
	until := time.Now().Add(duration)
	a.OverloadedUntil = &until
	// overload does not change Status: VALID/INVALID/RATE_LIMITED is
	// orthogonal to the overloadedUntil cooldown window.
	r.persistLocked()
}

// UpdateOAuthToken persists a refreshed access/refresh token pair after the
// OAuthDriver's lazy refresh. Also clears INVALID if the
// refresh itself succeeded, since a successful refresh is proof the
// credential is live again.
func (r *Registry) UpdateOAuthToken(accountID, accessToken, refreshToken string, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return
	}
	a.Credentials.AccessToken = accessToken
	if refreshToken != "" {
		a.Credentials.RefreshToken = refreshToken
	}
	a.Credentials.AccessTokenExpiry = &expiresAt
	if a.Status == StatusInvalid {
		a.Status = StatusValid
	}
	r.persistLocked()
}

// ClearRateLimit implements clearRateLimit(account). Besides this call,
// RATE_LIMITED -> VALID happens only when resetsAt has passed or when
// Refresh applies a probe result (the invariant).
func (r *Registry) ClearRateLimit(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return
	}
	a.Status = StatusValid
	a.RateLimitResetsAt = nil
	r.persistLocked()
}

// checkRateLimitExpiryLocked lazily transitions RATE_LIMITED -> VALID once
// resetsAt has passed (the invariant), without needing a background
// sweeper. Called by selection-adjacent admin listing paths.
func (r *Registry) checkRateLimitExpiryLocked(a *Account, now time.Time) {
	if a.Status == StatusRateLimited && a.RateLimitResetsAt != nil && now.After(*a.RateLimitResetsAt) {
		a.Status = StatusValid
		a.RateLimitResetsAt = nil
	}
}

// Refresh implements refresh(account) -> {status, resetsAt?},
// delegating to the two-phase probe.
func (r *Registry) Refresh(ctx context.Context, accountID string) (Status, *time.Time, error) {
	r.mu.Lock()
	a, ok := r.accounts[accountID]
	prober := r.prober
	if !ok {
		r.mu.Unlock()
		return "", nil, fmt.Errorf("account %s not found", accountID)
	}
	snapshot := *a
	r.mu.Unlock()

	if prober == nil {
		return "", nil, fmt.Errorf("no health prober configured")
	}
	status, resetsAt, err := prober.Probe(ctx, snapshot)
	if err != nil {
		return snapshot.Status, snapshot.RateLimitResetsAt, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[accountID]; ok {
		a.Status = status
		a.RateLimitResetsAt = resetsAt
		r.persistLocked()
	}
	return status, resetsAt, nil
}

// BatchRefresh implements batchRefresh(ids, maxConcurrency).
func (r *Registry) BatchRefresh(ctx context.Context, ids []string, maxConcurrency int) map[string]error {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	results := make(map[string]error, len(ids))
	var mu sync.Mutex
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			_, _, err := r.Refresh(ctx, id)
			mu.Lock()
			results[id] = err
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// Add registers a new account.
func (r *Registry) Add(a Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.accounts[a.ID]; exists {
		return fmt.Errorf("account %s already exists", a.ID)
	}
	if a.Status == "" {
		a.Status = StatusValid
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	cp := a
	r.accounts[a.ID] = &cp
	r.persistLocked()
	return nil
}

// Remove deletes an account by ID.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[id]; !ok {
		return fmt.Errorf("account %s not found", id)
	}
	delete(r.accounts, id)
	for k, v := range r.sticky {
		if v == id {
			delete(r.sticky, k)
		}
	}
	r.persistLocked()
	return nil
}

// BatchRemove applies N mutations then persists once, instead of once
// per removed account.
func (r *Registry) BatchRemove(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.accounts, id)
	}
	for k, v := range r.sticky {
		for _, id := range ids {
			if v == id {
				delete(r.sticky, k)
			}
		}
	}
	r.persistLocked()
}

// List returns redacted copies of every account; credentials never
// appear in admin output unredacted.
func (r *Registry) List() []Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	out := make([]Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		r.checkRateLimitExpiryLocked(a, now)
		out = append(out, a.redacted())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a single account (unredacted) for internal driver/session
// use.
func (r *Registry) Get(id string) (*Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, false
	}
	cp := *a
	return &cp, true
}
