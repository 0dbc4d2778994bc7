package concurrency

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ConcurrencyConfig holds concurrency control configuration. Global caps
// total concurrent upstream requests across the whole fleet; AccountMax
// caps how many of those any single account may hold at once, so one hot
// account can't starve the others out of the shared global budget.
type ConcurrencyConfig struct {
	GlobalMax     int           `mapstructure:"max_concurrent_requests"` // default 100
	AccountMax    int           `mapstructure:"account_max"`             // per-account share of the global cap
	MaxWaitQueue  int           `mapstructure:"max_wait_queue"`          // max waiting requests per slot
	WaitTimeout   time.Duration `mapstructure:"wait_timeout"`            // max time to wait for a slot
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
	BackoffJitter float64       `mapstructure:"backoff_jitter"`
}

// DefaultConcurrencyConfig returns the default concurrency configuration.
func DefaultConcurrencyConfig() ConcurrencyConfig {
	return ConcurrencyConfig{
		GlobalMax:     100,
		AccountMax:    10,
		MaxWaitQueue:  20,
		WaitTimeout:   30 * time.Second,
		BackoffBase:   100 * time.Millisecond,
		BackoffMax:    2 * time.Second,
		BackoffJitter: 0.2,
	}
}

// AcquireResult contains the result of acquiring a slot.
type AcquireResult struct {
	Acquired bool
	WaitTime time.Duration
	QueuePos int
}

// LoadInfo contains load information for an entity.
type LoadInfo struct {
	Current int   `json:"current"`
	Max     int   `json:"max"`
	Waiting int   `json:"waiting"`
	Total   int64 `json:"total"`
}

// Manager manages concurrency limits: one global slot plus one slot per
// account.
type Manager interface {
	AcquireGlobalSlot(ctx context.Context) (*AcquireResult, error)
	ReleaseGlobalSlot()
	AcquireAccountSlot(ctx context.Context, accountID string) (*AcquireResult, error)
	ReleaseAccountSlot(accountID string)
	GetGlobalLoad() *LoadInfo
	GetAccountLoad(accountIDs []string) map[string]*LoadInfo
	GetLowestLoadAccount(accountIDs []string) string
	Stats() ManagerStats
	Close()
}

// ManagerStats contains overall statistics.
type ManagerStats struct {
	TotalAccounts   int   `json:"total_accounts"`
	ActiveGlobal    int   `json:"active_global_slots"`
	ActiveAcctSlots int   `json:"active_account_slots"`
	WaitingGlobal   int   `json:"waiting_global"`
	WaitingAccounts int   `json:"waiting_accounts"`
	TotalAcquires   int64 `json:"total_acquires"`
	TotalTimeouts   int64 `json:"total_timeouts"`
}

// slot tracks concurrency for a single entity (the global pool, or one
// account).
type slot struct {
	current int32
	max     int32
	waiting int32
	total   int64
	mu      sync.Mutex
	cond    *sync.Cond
}

func newSlot(max int) *slot {
	s := &slot{max: int32(max)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// concurrencyManager implements Manager.
type concurrencyManager struct {
	config        ConcurrencyConfig
	global        *slot
	accountSlots  map[string]*slot
	accountMu     sync.RWMutex
	totalAcquires int64
	totalTimeouts int64
	closed        bool
	closeMu       sync.RWMutex
}

// NewManager creates a new concurrency manager.
func NewManager(config ConcurrencyConfig) Manager {
	return &concurrencyManager{
		config:       config,
		global:       newSlot(config.GlobalMax),
		accountSlots: make(map[string]*slot),
	}
}

// AcquireGlobalSlot acquires one of the maxConcurrentRequests slots.
func (m *concurrencyManager) AcquireGlobalSlot(ctx context.Context) (*AcquireResult, error) {
	if m.isClosed() {
		return nil, fmt.Errorf("manager closed")
	}
	return m.acquireSlot(ctx, m.global, "global", "")
}

// ReleaseGlobalSlot releases a global slot.
func (m *concurrencyManager) ReleaseGlobalSlot() {
	m.releaseSlot(m.global)
}

// AcquireAccountSlot acquires a slot for an account.
func (m *concurrencyManager) AcquireAccountSlot(ctx context.Context, accountID string) (*AcquireResult, error) {
	if m.isClosed() {
		return nil, fmt.Errorf("manager closed")
	}
	s := m.getOrCreateAccountSlot(accountID)
	return m.acquireSlot(ctx, s, "account", accountID)
}

// ReleaseAccountSlot releases an account slot.
func (m *concurrencyManager) ReleaseAccountSlot(accountID string) {
	m.accountMu.RLock()
	s, ok := m.accountSlots[accountID]
	m.accountMu.RUnlock()
	if ok {
		m.releaseSlot(s)
	}
}

func (m *concurrencyManager) isClosed() bool {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	return m.closed
}

func (m *concurrencyManager) getOrCreateAccountSlot(accountID string) *slot {
	m.accountMu.RLock()
	s, ok := m.accountSlots[accountID]
	m.accountMu.RUnlock()
	if ok {
		return s
	}

	m.accountMu.Lock()
	defer m.accountMu.Unlock()
	if s, ok := m.accountSlots[accountID]; ok {
		return s
	}
	s = newSlot(m.config.AccountMax)
	m.accountSlots[accountID] = s
	return s
}

// acquireSlot attempts to acquire a slot with backoff.
func (m *concurrencyManager) acquireSlot(ctx context.Context, s *slot, slotType, id string) (*AcquireResult, error) {
	start := time.Now()
	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		deadline = start.Add(m.config.WaitTimeout)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current < s.max {
		s.current++
		atomic.AddInt64(&s.total, 1)
		atomic.AddInt64(&m.totalAcquires, 1)
		return &AcquireResult{Acquired: true}, nil
	}

	if int(s.waiting) >= m.config.MaxWaitQueue {
		log.Warn().Str("type", slotType).Str("id", id).Int32("waiting", s.waiting).Msg("wait queue full")
		return &AcquireResult{Acquired: false, QueuePos: int(s.waiting)}, fmt.Errorf("wait queue full")
	}

	s.waiting++
	queuePos := int(s.waiting)
	backoff := m.config.BackoffBase

	log.Debug().Str("type", slotType).Str("id", id).Int("queue_pos", queuePos).Msg("waiting for slot")

	for {
		// Wake on a release signal, or after backoff to re-check ctx and deadline.
		timer := time.AfterFunc(backoff, func() {
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		})
		s.cond.Wait()
		timer.Stop()

		select {
		default:
			if s.current < s.max {
				s.current++
				s.waiting--
				atomic.AddInt64(&s.total, 1)
				atomic.AddInt64(&m.totalAcquires, 1)
				return &AcquireResult{Acquired: true, WaitTime: time.Since(start)}, nil
			}
			if time.Now().After(deadline) {
				s.waiting--
				atomic.AddInt64(&m.totalTimeouts, 1)
				log.Warn().Str("type", slotType).Str("id", id).Dur("waited", time.Since(start)).Msg("timeout waiting for slot")
				return &AcquireResult{Acquired: false, WaitTime: time.Since(start)}, fmt.Errorf("timeout waiting for %s slot", slotType)
			}
		case <-ctx.Done():
			s.waiting--
			return &AcquireResult{Acquired: false, WaitTime: time.Since(start)}, ctx.Err()
		}

		backoff = m.nextBackoff(backoff)
	}
}

// releaseSlot releases a slot and signals waiters.
func (m *concurrencyManager) releaseSlot(s *slot) {
	s.mu.Lock()
	if s.current > 0 {
		s.current--
	}
	s.mu.Unlock()
	s.cond.Signal()
}

// nextBackoff calculates the next backoff duration with jitter.
func (m *concurrencyManager) nextBackoff(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * 2)
	if next > m.config.BackoffMax {
		next = m.config.BackoffMax
	}
	jitter := time.Duration(float64(next) * m.config.BackoffJitter)
	next = next - jitter + time.Duration(float64(jitter*2)*0.5)
	return next
}

// GetGlobalLoad returns load info for the global slot.
func (m *concurrencyManager) GetGlobalLoad() *LoadInfo {
	return &LoadInfo{
		Current: int(atomic.LoadInt32(&m.global.current)),
		Max:     int(m.global.max),
		Waiting: int(atomic.LoadInt32(&m.global.waiting)),
		Total:   atomic.LoadInt64(&m.global.total),
	}
}

// GetAccountLoad returns load info for accounts.
func (m *concurrencyManager) GetAccountLoad(accountIDs []string) map[string]*LoadInfo {
	result := make(map[string]*LoadInfo, len(accountIDs))
	m.accountMu.RLock()
	defer m.accountMu.RUnlock()
	for _, id := range accountIDs {
		if s, ok := m.accountSlots[id]; ok {
			result[id] = &LoadInfo{
				Current: int(atomic.LoadInt32(&s.current)),
				Max:     int(s.max),
				Waiting: int(atomic.LoadInt32(&s.waiting)),
				Total:   atomic.LoadInt64(&s.total),
			}
		} else {
			result[id] = &LoadInfo{Max: m.config.AccountMax}
		}
	}
	return result
}

// GetLowestLoadAccount returns the account with lowest current+waiting load.
func (m *concurrencyManager) GetLowestLoadAccount(accountIDs []string) string {
	if len(accountIDs) == 0 {
		return ""
	}
	loads := m.GetAccountLoad(accountIDs)
	var lowestID string
	lowestLoad := int(^uint(0) >> 1)
	for id, info := range loads {
		load := info.Current + info.Waiting
		if load < lowestLoad {
			lowestLoad = load
			lowestID = id
		}
	}
	return lowestID
}

// Stats returns overall statistics.
func (m *concurrencyManager) Stats() ManagerStats {
	m.accountMu.RLock()
	accountCount := len(m.accountSlots)
	var activeAcctSlots, waitingAccounts int
	for _, s := range m.accountSlots {
		activeAcctSlots += int(atomic.LoadInt32(&s.current))
		waitingAccounts += int(atomic.LoadInt32(&s.waiting))
	}
	m.accountMu.RUnlock()

	return ManagerStats{
		TotalAccounts:   accountCount,
		ActiveGlobal:    int(atomic.LoadInt32(&m.global.current)),
		ActiveAcctSlots: activeAcctSlots,
		WaitingGlobal:   int(atomic.LoadInt32(&m.global.waiting)),
		WaitingAccounts: waitingAccounts,
		TotalAcquires:   atomic.LoadInt64(&m.totalAcquires),
		TotalTimeouts:   atomic.LoadInt64(&m.totalTimeouts),
	}
}

// Close closes the manager and wakes every waiter.
func (m *concurrencyManager) Close() {
	m.closeMu.Lock()
	m.closed = true
	m.closeMu.Unlock()

	m.global.cond.Broadcast()

	m.accountMu.Lock()
	for _, s := range m.accountSlots {
		s.cond.Broadcast()
	}
	m.accountMu.Unlock()

	log.Info().Msg("concurrency manager closed")
}
