// Package settings exposes the platform's single mutable configuration
// record through a short-lived cache. Components hold one injected Service
// instance instead of reading ambient global state.
package settings

import (
	"context"
	"sync"
	"time"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
	"github.com/starpay-service/starpay_service/pkg/logger"
)

// Repository loads the settings record from storage
type Repository interface {
	Get(ctx context.Context) (*entities.PlatformSettings, error)
}

// Service caches platform settings for a short TTL
type Service struct {
	repo   Repository
	logger *logger.Logger
	ttl    time.Duration

	mu       sync.RWMutex
	cached   *entities.PlatformSettings
	loadedAt time.Time
}

// NewService creates a settings service with the given cache TTL
func NewService(repo Repository, ttl time.Duration, logger *logger.Logger) *Service {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Service{
		repo:   repo,
		logger: logger,
		ttl:    ttl,
	}
}

// Get returns current settings, hitting storage only after the TTL expires.
// A load failure falls back to the last known value, or defaults when the
// record has never loaded.
func (s *Service) Get(ctx context.Context) *entities.PlatformSettings {
	s.mu.RLock()
	if s.cached != nil && time.Since(s.loadedAt) < s.ttl {
		cached := s.cached
		s.mu.RUnlock()
		return cached
	}
	s.mu.RUnlock()

	fresh, err := s.repo.Get(ctx)
	if err != nil {
		s.logger.Warn("Failed to refresh platform settings, using last known", "error", err)
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.cached != nil {
			return s.cached
		}
		return entities.DefaultPlatformSettings()
	}

	s.mu.Lock()
	s.cached = fresh
	s.loadedAt = time.Now()
	s.mu.Unlock()

	return fresh
}

// Invalidate drops the cached record so the next Get reloads
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}
