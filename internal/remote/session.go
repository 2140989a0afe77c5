package remote

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Guizzs26/go-inventory-agent/internal/store"
	"github.com/golang-jwt/jwt/v5"
)

// SessionManager owns the bearer credential. Its absence is a flush
// precondition failure, never an error of the queue itself.
type SessionManager struct {
	mu     sync.Mutex
	blobs  store.BlobStore
	logger *slog.Logger
}

func NewSessionManager(blobs store.BlobStore, logger *slog.Logger) *SessionManager {
	return &SessionManager{blobs: blobs, logger: logger}
}

func (s *SessionManager) SaveToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.blobs.Put(store.KeySession, []byte(token)); err != nil {
		return fmt.Errorf("failed to persist session token: %w", err)
	}
	s.logger.Info("Session token saved")
	return nil
}

// Token returns the stored credential. ok is false when none is saved.
func (s *SessionManager) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.blobs.Get(store.KeySession)
	if err != nil {
		s.logger.Error("Failed to read session token", "error", err)
		return "", false
	}
	token := string(raw)
	if token == "" {
		return "", false
	}
	return token, true
}

func (s *SessionManager) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs.Delete(store.KeySession)
}

// IsExpired inspects the token's exp claim without verifying the
// signature; verification is the server's job, this is only a local hint
// for surfacing "re-login needed" before 401s start blocking the queue.
func (s *SessionManager) IsExpired() bool {
	token, ok := s.Token()
	if !ok {
		return true
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return !exp.After(time.Now())
}
