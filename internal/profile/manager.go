package profile

import (
	"context"
	"fmt"
	"sync"
)

// Backend defines the storage operations the Manager needs.
// Implemented by storage.Store and storage.JSONFile.
type Backend interface {
	// Load returns the stored profile and true, or false if userID has
	// never been written.
	Load(ctx context.Context, userID string) (UserProfile, bool, error)
	Save(ctx context.Context, userID string, p UserProfile) error
	List(ctx context.Context) (map[string]UserProfile, error)
}

// StorageError wraps a backend failure with the operation and user involved.
type StorageError struct {
	Op     string
	UserID string
	Err    error
}

func (e *StorageError) Error() string {
	if e.UserID == "" {
		return fmt.Sprintf("profile %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("profile %s %s: %v", e.Op, e.UserID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Manager gives read-modify-write access to per-user profiles. It keeps no
// cache: every call goes to the backend. Calls for the same user are
// serialized so concurrent turns cannot drop each other's writes.
type Manager struct {
	backend Backend

	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a Manager over the given backend.
func NewManager(backend Backend) *Manager {
	return &Manager{
		backend: backend,
		locks:   make(map[string]*userLock),
	}
}

// lock acquires the per-user lock and returns its release func. Entries are
// dropped from the map once nobody holds or waits on them.
func (m *Manager) lock(userID string) func() {
	m.mu.Lock()
	l, ok := m.locks[userID]
	if !ok {
		l = &userLock{}
		m.locks[userID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, userID)
		}
		m.mu.Unlock()
	}
}

// Get returns the stored profile for userID, or Default() if there is none.
func (m *Manager) Get(ctx context.Context, userID string) (UserProfile, error) {
	unlock := m.lock(userID)
	defer unlock()
	return m.load(ctx, userID)
}

func (m *Manager) load(ctx context.Context, userID string) (UserProfile, error) {
	p, ok, err := m.backend.Load(ctx, userID)
	if err != nil {
		return UserProfile{}, &StorageError{Op: "load", UserID: userID, Err: err}
	}
	if !ok {
		return Default(), nil
	}
	if p.Notes == nil {
		p.Notes = []string{}
	}
	return p.Clone(), nil
}

// Update merges patch into the current profile, persists it and returns the
// merged record.
func (m *Manager) Update(ctx context.Context, userID string, patch Patch) (UserProfile, error) {
	unlock := m.lock(userID)
	defer unlock()

	current, err := m.load(ctx, userID)
	if err != nil {
		return UserProfile{}, err
	}
	updated := patch.Apply(current)
	if err := m.backend.Save(ctx, userID, updated); err != nil {
		return UserProfile{}, &StorageError{Op: "save", UserID: userID, Err: err}
	}
	return updated.Clone(), nil
}

// AppendNote adds text to the end of the user's notes and persists the
// full record.
func (m *Manager) AppendNote(ctx context.Context, userID, text string) error {
	unlock := m.lock(userID)
	defer unlock()

	current, err := m.load(ctx, userID)
	if err != nil {
		return err
	}
	current.Notes = append(current.Notes, text)
	if err := m.backend.Save(ctx, userID, current); err != nil {
		return &StorageError{Op: "save", UserID: userID, Err: err}
	}
	return nil
}

// All returns every persisted profile keyed by user id.
func (m *Manager) All(ctx context.Context) (map[string]UserProfile, error) {
	all, err := m.backend.List(ctx)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return all, nil
}
