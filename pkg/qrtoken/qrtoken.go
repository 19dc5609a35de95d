// Package qrtoken issues the short-lived tokens encoded in the
// projected QR code. A token that left the screen seconds ago is still
// in students' cameras, so validation accepts the previous token too.
package qrtoken

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Service rotates a random token on a fixed interval. Rotation is
// lazy: it happens on access, so an idle service costs nothing.
type Service struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	current   string
	previous  string
	rotatedAt time.Time
}

// NewService creates a token service rotating every ttl.
func NewService(ttl time.Duration) *Service {
	return &Service{
		ttl: ttl,
		now: time.Now,
	}
}

// Current returns the token to encode in the QR code, rotating first
// if the active one has expired.
func (s *Service) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotate()
	return s.current
}

// Validate reports whether a submitted token is acceptable. The
// current token and its immediate predecessor pass; anything older or
// unknown fails.
func (s *Service) Validate(token string) bool {
	if token == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotate()
	return token == s.current || token == s.previous
}

// rotate advances the token if the TTL has elapsed. Callers hold s.mu.
func (s *Service) rotate() {
	now := s.now()
	if s.current != "" && now.Sub(s.rotatedAt) < s.ttl {
		return
	}

	// More than one interval may have passed; an old previous token
	// must not survive a long idle stretch.
	if s.current != "" && now.Sub(s.rotatedAt) < 2*s.ttl {
		s.previous = s.current
	} else {
		s.previous = ""
	}
	s.current = uuid.NewString()
	s.rotatedAt = now
}
