package catalogimportapp

import (
	"sort"
	"sync"
	"time"

	"github.com/erp/catalog-exchange/internal/domain/catalog"
	"github.com/erp/catalog-exchange/internal/domain/shared"
	"github.com/google/uuid"
)

// Session errors
var (
	ErrSessionNotFound = shared.NewDomainError(shared.ErrNotFound.Code, "import session not found or expired")
	ErrSessionInvalid  = shared.NewDomainError("SESSION_INVALID", "staged catalog has errors and cannot be committed")
)

// SessionState is the lifecycle state of a staged import
type SessionState string

const (
	SessionValidated SessionState = "validated"
	SessionInvalid   SessionState = "invalid"
)

// ImportSession is a catalog that was archived and validated but not yet
// written. Committing it runs the import from the archived bytes.
type ImportSession struct {
	ID           uuid.UUID                 `json:"id"`
	TenantID     uuid.UUID                 `json:"tenantId"`
	SupplierID   string                    `json:"supplierId,omitempty"`
	CatalogID    string                    `json:"catalogId,omitempty"`
	Format       string                    `json:"format"`
	FormatName   string                    `json:"formatName"`
	Version      string                    `json:"version,omitempty"`
	FileName     string                    `json:"fileName"`
	FileSize     int64                     `json:"fileSize"`
	ArchiveKey   string                    `json:"-"`
	State        SessionState              `json:"state"`
	TotalItems   int                       `json:"totalItems"`
	ValidItems   int                       `json:"validItems"`
	SkippedItems int                       `json:"skippedItems"`
	Issues       []catalog.ValidationIssue `json:"issues"`
	CreatedAt    time.Time                 `json:"createdAt"`
	ExpiresAt    time.Time                 `json:"expiresAt"`
}

// CanCommit reports whether the staged catalog validated cleanly
func (s *ImportSession) CanCommit() bool {
	return s.State == SessionValidated
}

// SessionStore holds staged import sessions
type SessionStore interface {
	Save(session *ImportSession) error
	Get(id uuid.UUID) (*ImportSession, error)
	// Take removes and returns a session, so it can be committed only once
	Take(id uuid.UUID) (*ImportSession, error)
	GetByTenant(tenantID uuid.UUID, limit int) ([]*ImportSession, error)
	Delete(id uuid.UUID) error
}

// InMemorySessionStore keeps sessions in process memory and drops them once
// their TTL has passed
type InMemorySessionStore struct {
	sessions map[uuid.UUID]*ImportSession
	mu       sync.RWMutex
	ttl      time.Duration
	now      func() time.Time
	onExpire func(*ImportSession)
	stopCh   chan struct{}
	stopOnce sync.Once
}

// SessionStoreOption configures an InMemorySessionStore
type SessionStoreOption func(*InMemorySessionStore)

// WithSessionClock replaces time.Now, for tests
func WithSessionClock(now func() time.Time) SessionStoreOption {
	return func(s *InMemorySessionStore) { s.now = now }
}

// WithExpireHook is called for every session removed by Cleanup
func WithExpireHook(fn func(*ImportSession)) SessionStoreOption {
	return func(s *InMemorySessionStore) { s.onExpire = fn }
}

// NewInMemorySessionStore creates a store and starts its cleanup loop.
// Call Stop to end the loop.
func NewInMemorySessionStore(ttl time.Duration, opts ...SessionStoreOption) *InMemorySessionStore {
	store := &InMemorySessionStore{
		sessions: make(map[uuid.UUID]*ImportSession),
		ttl:      ttl,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(store)
	}
	go store.startCleanupLoop(cleanupInterval(ttl))
	return store
}

func cleanupInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	return interval
}

func (s *InMemorySessionStore) startCleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (s *InMemorySessionStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Save stores a session and stamps its expiry
func (s *InMemorySessionStore) Save(session *ImportSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now()
	}
	session.ExpiresAt = session.CreatedAt.Add(s.ttl)
	s.sessions[session.ID] = session
	return nil
}

// Get returns a live session
func (s *InMemorySessionStore) Get(id uuid.UUID) (*ImportSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok || s.expired(session) {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Take removes and returns a live session
func (s *InMemorySessionStore) Take(id uuid.UUID) (*ImportSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok || s.expired(session) {
		return nil, ErrSessionNotFound
	}
	delete(s.sessions, id)
	return session, nil
}

// GetByTenant returns up to limit live sessions of a tenant, newest first
func (s *InMemorySessionStore) GetByTenant(tenantID uuid.UUID, limit int) ([]*ImportSession, error) {
	s.mu.RLock()
	result := make([]*ImportSession, 0)
	for _, session := range s.sessions {
		if session.TenantID == tenantID && !s.expired(session) {
			result = append(result, session)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Delete removes a session
func (s *InMemorySessionStore) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Cleanup removes expired sessions and reports each to the expire hook
func (s *InMemorySessionStore) Cleanup() {
	var expired []*ImportSession
	s.mu.Lock()
	for id, session := range s.sessions {
		if s.expired(session) {
			delete(s.sessions, id)
			expired = append(expired, session)
		}
	}
	s.mu.Unlock()

	if s.onExpire != nil {
		for _, session := range expired {
			s.onExpire(session)
		}
	}
}

// Len returns the number of stored sessions, expired ones included
func (s *InMemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *InMemorySessionStore) expired(session *ImportSession) bool {
	return s.now().After(session.ExpiresAt)
}
