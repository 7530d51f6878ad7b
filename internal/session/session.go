package session

import (
	"strings"
	"sync"
)

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleWorker     Role = "worker"
	RoleClient     Role = "client"
	RoleAccountant Role = "accountant"
)

// Principal is the authenticated actor. A nil *Principal means nobody is signed in.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (p *Principal) Valid() bool {
	return p != nil && strings.TrimSpace(p.ID) != ""
}

func (p *Principal) Equal(other *Principal) bool {
	if p == nil || other == nil {
		return p == nil && other == nil
	}
	return p.ID == other.ID && p.Role == other.Role
}

// Listener receives the new principal after every login, logout or identity change.
type Listener func(p *Principal)

type Store struct {
	mu        sync.Mutex
	current   *Principal
	nextID    int
	listeners map[int]Listener
}

func NewStore() *Store {
	return &Store{listeners: map[int]Listener{}}
}

func (s *Store) Current() *Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	p := *s.current
	return &p
}

func (s *Store) Login(p Principal) {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		s.Logout()
		return
	}
	s.set(&p)
}

func (s *Store) Logout() {
	s.set(nil)
}

// Subscribe registers fn and returns a func that removes it. Listeners are
// called synchronously, in no particular order, outside the store lock.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) set(p *Principal) {
	s.mu.Lock()
	if s.current.Equal(p) {
		s.mu.Unlock()
		return
	}
	s.current = p
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		if p == nil {
			fn(nil)
			continue
		}
		cp := *p
		fn(&cp)
	}
}
