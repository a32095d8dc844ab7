package store

import (
	"context"
	"maps"
	"strings"
	"sync"
	"time"

	"booktrak/pkg/domain"
)

// MemoryStore keeps everything in-process. It backs tests and local runs
// without a database.
type MemoryStore struct {
	// txMu serializes transactions; mu guards the maps.
	txMu sync.Mutex
	mu   sync.RWMutex

	nextUserID    int64
	nextProfileID int64
	nextBookID    int64

	users    map[int64]domain.User
	profiles map[int64]domain.UserProfile // key: user ID
	books    map[int64]domain.Book
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[int64]domain.User),
		profiles: make(map[int64]domain.UserProfile),
		books:    make(map[int64]domain.Book),
	}
}

type memorySnapshot struct {
	nextUserID, nextProfileID, nextBookID int64
	users                                 map[int64]domain.User
	profiles                              map[int64]domain.UserProfile
	books                                 map[int64]domain.Book
}

// Transaction runs fn and restores the pre-transaction state if fn fails.
// Stored profiles are never mutated in place, so a shallow map copy is a
// complete snapshot.
func (m *MemoryStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	snap := memorySnapshot{
		nextUserID:    m.nextUserID,
		nextProfileID: m.nextProfileID,
		nextBookID:    m.nextBookID,
		users:         maps.Clone(m.users),
		profiles:      maps.Clone(m.profiles),
		books:         maps.Clone(m.books),
	}
	m.mu.RUnlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.nextUserID = snap.nextUserID
		m.nextProfileID = snap.nextProfileID
		m.nextBookID = snap.nextBookID
		m.users = snap.users
		m.profiles = snap.profiles
		m.books = snap.books
		m.mu.Unlock()
		return err
	}
	return nil
}

// CreateUser stores a new user, enforcing unique username and email.
func (m *MemoryStore) CreateUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username || strings.EqualFold(existing.Email, u.Email) {
			return ErrDuplicate
		}
	}
	m.nextUserID++
	u.ID = m.nextUserID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.users[u.ID] = *u
	return nil
}

// HasUsername checks if username exists.
func (m *MemoryStore) HasUsername(ctx context.Context, username string) (bool, error) {
	_, ok, err := m.GetUserByUsername(ctx, username)
	return ok, err
}

// HasUserEmail checks if email exists (case-insensitive).
func (m *MemoryStore) HasUserEmail(_ context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

// GetUserByUsername looks up a user by username.
func (m *MemoryStore) GetUserByUsername(_ context.Context, username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(_ context.Context, id int64) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// GetProfile returns a copy of the profile owned by userID.
func (m *MemoryStore) GetProfile(_ context.Context, userID int64) (domain.UserProfile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return domain.UserProfile{}, false, nil
	}
	return p.Clone(), true, nil
}

// GetProfileForUpdate is GetProfile; isolation comes from txMu.
func (m *MemoryStore) GetProfileForUpdate(ctx context.Context, userID int64) (domain.UserProfile, bool, error) {
	return m.GetProfile(ctx, userID)
}

// SaveProfile inserts or replaces the profile for p.UserID.
func (m *MemoryStore) SaveProfile(_ context.Context, p *domain.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.profiles[p.UserID]; ok {
		p.ID = existing.ID
	} else if p.ID == 0 {
		m.nextProfileID++
		p.ID = m.nextProfileID
	}
	p.UpdatedAt = time.Now().UTC()
	m.profiles[p.UserID] = p.Clone()
	return nil
}

// CreateBook stores a new book, enforcing a unique ISBN.
func (m *MemoryStore) CreateBook(_ context.Context, b *domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isbnTakenLocked(b.ISBN, 0) {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	m.nextBookID++
	b.ID = m.nextBookID
	b.TimesIssued = 0
	b.CreatedAt = now
	b.UpdatedAt = now
	m.books[b.ID] = *b
	return nil
}

// UpdateBook overwrites the editable fields and keeps times_issued.
func (m *MemoryStore) UpdateBook(_ context.Context, b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.books[b.ID]
	if !ok {
		return ErrNotFound
	}
	if m.isbnTakenLocked(b.ISBN, b.ID) {
		return ErrDuplicate
	}
	existing.Title = b.Title
	existing.Author = b.Author
	existing.ISBN = b.ISBN
	existing.Price = b.Price
	existing.CoverImageURL = b.CoverImageURL
	existing.UpdatedAt = time.Now().UTC()
	m.books[b.ID] = existing
	return nil
}

// GetBook retrieves a book.
func (m *MemoryStore) GetBook(_ context.Context, id int64) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// ListBooks returns all books ordered by id.
func (m *MemoryStore) ListBooks(_ context.Context) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.books))
	for id := int64(1); id <= m.nextBookID; id++ {
		if b, ok := m.books[id]; ok {
			res = append(res, b)
		}
	}
	return res, nil
}

// DeleteBook removes a book.
func (m *MemoryStore) DeleteBook(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[id]; !ok {
		return ErrNotFound
	}
	delete(m.books, id)
	return nil
}

// HasISBN checks whether another book (id != excludeID) uses isbn.
func (m *MemoryStore) HasISBN(_ context.Context, isbn string, excludeID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isbnTakenLocked(isbn, excludeID), nil
}

func (m *MemoryStore) isbnTakenLocked(isbn string, excludeID int64) bool {
	for id, b := range m.books {
		if id != excludeID && b.ISBN == isbn {
			return true
		}
	}
	return false
}

// IncrementTimesIssued adds one issue to the book.
func (m *MemoryStore) IncrementTimesIssued(_ context.Context, id int64) (domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return domain.Book{}, ErrNotFound
	}
	b.TimesIssued++
	b.UpdatedAt = time.Now().UTC()
	m.books[id] = b
	return b, nil
}
