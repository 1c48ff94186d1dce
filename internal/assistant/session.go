package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sheetquery/sheetquery/internal/dataset"
	"github.com/sheetquery/sheetquery/internal/observability"
	"github.com/sheetquery/sheetquery/internal/relation"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrMappingAlreadySet = errors.New("semantic mapping is already set for this relation")
	ErrNoDataset         = errors.New("no dataset is loaded")
)

// Exchange is one history entry. Results are summarized, never stored whole.
type Exchange struct {
	Question    string    `json:"question"`
	State       State     `json:"state"`
	Class       Class     `json:"class,omitempty"`
	SQL         string    `json:"sql,omitempty"`
	EngineError string    `json:"engine_error,omitempty"`
	RowCount    int       `json:"row_count"`
	Repaired    bool      `json:"repaired,omitempty"`
	AskedAt     time.Time `json:"asked_at"`
}

// Session holds one user's relation, mapping and history. Uploads take the
// write lock and questions the read lock, so a question never sees a relation
// that is being replaced.
type Session struct {
	ID        string
	TenantID  string
	CreatedAt time.Time

	relationName string

	mu         sync.RWMutex
	relation   *dataset.Relation
	sample     [][]any
	mapping    dataset.SemanticMapping
	lastResult *relation.Result

	askMu sync.Mutex

	historyMu    sync.Mutex
	history      []Exchange
	historyLimit int

	touchMu  sync.Mutex
	lastSeen time.Time
}

func newSession(tenantID string, historyLimit int, now time.Time) *Session {
	id := uuid.New()
	return &Session{
		ID:           id.String(),
		TenantID:     tenantID,
		CreatedAt:    now,
		relationName: "sq_" + strings.ReplaceAll(id.String(), "-", ""),
		historyLimit: historyLimit,
		lastSeen:     now,
	}
}

// RelationName is constant for the lifetime of the session.
func (s *Session) RelationName() string {
	return s.relationName
}

func (s *Session) Relation() (dataset.Relation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.relation == nil {
		return dataset.Relation{}, false
	}
	return *s.relation, true
}

func (s *Session) Sample() [][]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([][]any(nil), s.sample...)
}

func (s *Session) Mapping() dataset.SemanticMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMapping(s.mapping)
}

// SetMapping binds logical roles to columns of the loaded relation. It can be
// called once per upload.
func (s *Session) SetMapping(mapping dataset.SemanticMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.relation == nil {
		return ErrNoDataset
	}
	if len(s.mapping) > 0 {
		return ErrMappingAlreadySet
	}
	if len(mapping) == 0 {
		return fmt.Errorf("invalid mapping: no roles given")
	}
	if err := mapping.Validate(s.relation.Columns); err != nil {
		return fmt.Errorf("invalid mapping: %w", err)
	}
	s.mapping = copyMapping(mapping)
	return nil
}

func (s *Session) LastResult() (relation.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastResult == nil {
		return relation.Result{}, false
	}
	return *s.lastResult, true
}

func (s *Session) History() []Exchange {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	return append([]Exchange(nil), s.history...)
}

func (s *Session) ClearHistory() {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	s.history = nil
}

func (s *Session) appendHistory(entry Exchange) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	s.history = append(s.history, entry)
	if s.historyLimit > 0 && len(s.history) > s.historyLimit {
		s.history = append([]Exchange(nil), s.history[len(s.history)-s.historyLimit:]...)
	}
}

// install swaps in a freshly loaded relation. Callers hold the write lock.
func (s *Session) install(rel dataset.Relation, sample [][]any) {
	s.relation = &rel
	s.sample = sample
	s.mapping = nil
	s.lastResult = nil
}

// setLastResultFor keeps result unless the relation it was computed against
// has been replaced in the meantime.
func (s *Session) setLastResultFor(rel *dataset.Relation, result relation.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rel == nil || s.relation != rel {
		return
	}
	s.lastResult = &result
}

func (s *Session) touch(now time.Time) {
	s.touchMu.Lock()
	defer s.touchMu.Unlock()
	s.lastSeen = now
}

func (s *Session) idleSince() time.Time {
	s.touchMu.Lock()
	defer s.touchMu.Unlock()
	return s.lastSeen
}

func copyMapping(mapping dataset.SemanticMapping) dataset.SemanticMapping {
	if len(mapping) == 0 {
		return nil
	}
	out := make(dataset.SemanticMapping, len(mapping))
	for role, column := range mapping {
		out[role] = column
	}
	return out
}

// SessionHook runs after a session is removed, for cleanup outside the
// relation store.
type SessionHook func(ctx context.Context, session *Session)

type ManagerConfig struct {
	TTL          time.Duration
	HistoryLimit int
	OnRemove     SessionHook
}

// Manager owns every live session.
type Manager struct {
	store  relation.Store
	cfg    ManagerConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(store relation.Store, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sessions: map[string]*Session{},
	}
}

func (m *Manager) Create(tenantID string) *Session {
	session := newSession(tenantID, m.cfg.HistoryLimit, m.now().UTC())
	m.mu.Lock()
	m.sessions[session.ID] = session
	count := len(m.sessions)
	m.mu.Unlock()

	observability.SetActiveSessions(count)
	m.logger.Info("session created",
		slog.String("session_id", session.ID),
		slog.String("tenant_id", tenantID),
		slog.String("relation", session.RelationName()),
	)
	return session
}

// Get returns a session owned by tenantID and marks it as used.
func (m *Manager) Get(tenantID, id string) (*Session, error) {
	m.mu.Lock()
	session, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok || session.TenantID != tenantID {
		return nil, ErrSessionNotFound
	}
	session.touch(m.now().UTC())
	return session, nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Delete removes a session and drops its relation.
func (m *Manager) Delete(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if !ok || session.TenantID != tenantID {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	count := len(m.sessions)
	m.mu.Unlock()

	observability.SetActiveSessions(count)
	return m.release(ctx, session)
}

// Evict removes sessions idle for longer than the configured TTL.
func (m *Manager) Evict(ctx context.Context) int {
	if m.cfg.TTL <= 0 {
		return 0
	}
	cutoff := m.now().UTC().Add(-m.cfg.TTL)

	m.mu.Lock()
	expired := make([]*Session, 0)
	for id, session := range m.sessions {
		if session.idleSince().Before(cutoff) {
			expired = append(expired, session)
			delete(m.sessions, id)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	observability.SetActiveSessions(count)
	for _, session := range expired {
		if err := m.release(ctx, session); err != nil {
			m.logger.Warn("evict session failed",
				slog.String("session_id", session.ID),
				slog.Any("error", err),
			)
			continue
		}
		m.logger.Info("session evicted", slog.String("session_id", session.ID))
	}
	return len(expired)
}

// Run evicts idle sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evict(ctx)
		}
	}
}

// Close drops the relations of every remaining session.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, session := range m.sessions {
		sessions = append(sessions, session)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	observability.SetActiveSessions(0)
	var errs []error
	for _, session := range sessions {
		errs = append(errs, m.release(ctx, session))
	}
	return errors.Join(errs...)
}

func (m *Manager) release(ctx context.Context, session *Session) error {
	session.mu.Lock()
	loaded := session.relation != nil
	session.relation = nil
	session.sample = nil
	session.mapping = nil
	session.lastResult = nil
	session.mu.Unlock()

	if m.cfg.OnRemove != nil {
		m.cfg.OnRemove(ctx, session)
	}
	if !loaded || m.store == nil {
		return nil
	}
	if err := m.store.Drop(ctx, session.RelationName()); err != nil {
		return fmt.Errorf("drop relation %s: %w", session.RelationName(), err)
	}
	return nil
}
