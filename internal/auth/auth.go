// Package auth implements the in-memory username/password store. The
// hash is an unsalted DJB2-family digest — a known weakness inherited
// from the source (see DESIGN.md) — kept for bug-for-bug fidelity
// rather than replaced with a real KDF.
package auth

import (
	"fmt"
	"sync"
)

// Store owns the username -> hashed-password map. Mutations are
// serialised with respect to concurrent Authenticate calls.
type Store struct {
	mu    sync.Mutex
	users map[string]string
}

// NewStore returns a Store seeded with the source's one bootstrap
// account, admin/admin123, so a freshly started server is usable.
func NewStore() *Store {
	s := &Store{users: make(map[string]string)}
	_ = s.Add("admin", "admin123")
	return s
}

// hash computes the DJB2-family digest: seed 5381, hash = hash*33 + c
// for every byte of password, rendered as 16 lowercase hex digits.
func hash(password string) string {
	var h uint64 = 5381
	for i := 0; i < len(password); i++ {
		h = (h<<5)+h + uint64(password[i])
	}
	return fmt.Sprintf("%016x", h)
}

// Add registers a new user. It fails if the username already exists.
func (s *Store) Add(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return fmt.Errorf("auth: user %q already exists", username)
	}
	s.users[username] = hash(password)
	return nil
}

// Remove deletes username and reports whether it existed.
func (s *Store) Remove(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; !exists {
		return false
	}
	delete(s.users, username)
	return true
}

// Authenticate reports whether password matches the stored hash for
// username. A missing user authenticates as false.
func (s *Store) Authenticate(username, password string) bool {
	s.mu.Lock()
	stored, exists := s.users[username]
	s.mu.Unlock()
	if !exists {
		return false
	}
	return stored == hash(password)
}
