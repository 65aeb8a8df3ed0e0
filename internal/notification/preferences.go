package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/notifyhub/dispatch/internal/domain"
)

// GetPreferences returns the user's preference record, auto-creating the
// default on first access.
func (s *Service) GetPreferences(ctx context.Context, userID string) (*domain.Preferences, error) {
	return s.prefs.GetOrCreate(ctx, userID)
}

// UpdatePreferences replaces the user's preference record. The timezone is
// validated so quiet-hours evaluation never falls back silently.
func (s *Service) UpdatePreferences(ctx context.Context, p *domain.Preferences) (*domain.Preferences, error) {
	if p.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidPayload)
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return nil, fmt.Errorf("%w: unknown timezone %q", domain.ErrInvalidPayload, p.Timezone)
		}
	}

	current, err := s.prefs.GetOrCreate(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = current.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	if err := s.prefs.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// RegisterDeviceToken adds a push token to the user's record, deduplicating.
func (s *Service) RegisterDeviceToken(ctx context.Context, userID, token string) error {
	if token == "" {
		return fmt.Errorf("%w: device token is required", domain.ErrInvalidPayload)
	}
	p, err := s.prefs.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	p.AddDeviceToken(token)
	p.UpdatedAt = time.Now().UTC()
	return s.prefs.Update(ctx, p)
}

// UnregisterDeviceToken removes a push token from the user's record.
func (s *Service) UnregisterDeviceToken(ctx context.Context, userID, token string) error {
	p, err := s.prefs.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	p.RemoveDeviceToken(token)
	p.UpdatedAt = time.Now().UTC()
	return s.prefs.Update(ctx, p)
}
