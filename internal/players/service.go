package players

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// ErrInvalidODV indicates the profile did not carry a usable identifier.
var ErrInvalidODV = errors.New("players: invalid odv")

// ServiceConfig describes the dependencies required for profile resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages skater profiles used as notification targets.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("players: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:    cfg.Database,
		now:   clock,
		cache: sync.Map{},
	}, nil
}

// Upsert registers or refreshes a profile and primes the read-through cache.
func (s *Service) Upsert(ctx context.Context, odv, displayName, pushToken string) (Profile, error) {
	odv = normalize(odv)
	if odv == "" {
		return Profile{}, ErrInvalidODV
	}

	var profile Profile
	err := s.db.WithContext(ctx).Where("odv = ?", odv).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile = Profile{
			ODV:         odv,
			DisplayName: normalize(displayName),
			PushToken:   normalize(pushToken),
			LastSeenAt:  s.now(),
		}
		if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
			return Profile{}, err
		}
		s.cache.Store(odv, profile)
		return profile, nil
	}
	if err != nil {
		return Profile{}, err
	}

	profile.DisplayName = normalize(displayName)
	if token := normalize(pushToken); token != "" {
		profile.PushToken = token
	}
	profile.LastSeenAt = s.now()
	if err := s.db.WithContext(ctx).Save(&profile).Error; err != nil {
		return Profile{}, err
	}
	s.cache.Store(odv, profile)
	return profile, nil
}

// Resolve returns the profile for the given odv, reading through the cache.
// The second return reports whether the profile exists.
func (s *Service) Resolve(ctx context.Context, odv string) (Profile, bool, error) {
	odv = normalize(odv)
	if odv == "" {
		return Profile{}, false, nil
	}

	if cached, ok := s.cache.Load(odv); ok {
		if profile, ok := cached.(Profile); ok {
			return profile, true, nil
		}
	}

	var profile Profile
	err := s.db.WithContext(ctx).Where("odv = ?", odv).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, err
	}
	s.cache.Store(odv, profile)
	return profile, true, nil
}
