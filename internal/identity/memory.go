package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps credentials in process
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*Credential
	email map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*Credential),
		email: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(cred.Email)
	if _, ok := s.email[key]; ok {
		return ErrDuplicateEmail
	}

	now := time.Now()
	cred.CreatedAt = now
	cred.UpdatedAt = now

	stored := *cred
	s.byID[cred.ID] = &stored
	s.email[key] = cred.ID
	return nil
}

func (s *MemoryStore) GetByEmail(_ context.Context, email string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.email[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *cred
	return &cp, nil
}

func (s *MemoryStore) findByToken(token string, verified bool) *Credential {
	for _, cred := range s.byID {
		if cred.EmailVerificationToken != nil && *cred.EmailVerificationToken == token && cred.EmailVerified == verified {
			return cred
		}
	}
	return nil
}

func (s *MemoryStore) GetByVerificationToken(_ context.Context, token string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred := s.findByToken(token, false)
	if cred == nil {
		return nil, ErrNotFound
	}
	cp := *cred
	return &cp, nil
}

func (s *MemoryStore) CheckIfTokenAlreadyUsed(_ context.Context, token string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findByToken(token, true) != nil, nil
}

func (s *MemoryStore) MarkEmailAsVerified(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	cred.EmailVerified = true
	cred.EmailVerificationSentAt = nil
	cred.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) UpdateVerificationToken(_ context.Context, id, token string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[id]
	if !ok || cred.EmailVerified {
		return ErrNotFound
	}
	cred.EmailVerificationToken = &token
	cred.EmailVerificationSentAt = &sentAt
	cred.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.email, strings.ToLower(cred.Email))
	delete(s.byID, id)
	return nil
}
