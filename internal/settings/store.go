package settings

import (
	"context"
	"log/slog"
	"strings"
)

// Source loads settings from their system of record.
type Source interface {
	Profile(ctx context.Context, name string) (Profile, error)
	Restaurant(ctx context.Context) (Restaurant, error)
}

// Store is a read-through cache over Source. Cache failures fall back to
// the source.
type Store struct {
	source Source
	cache  *Cache
	logger *slog.Logger
}

// NewStore builds Store.
func NewStore(source Source, cache *Cache, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{source: source, cache: cache, logger: logger}
}

// Profile returns the named POS profile.
func (s *Store) Profile(ctx context.Context, name string) (Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Profile{}, ErrProfileNotFound
	}
	var p Profile
	err := s.fetch(ctx, &p, func(ctx context.Context) (any, error) {
		return s.source.Profile(ctx, name)
	}, "profile", name)
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Restaurant returns the restaurant settings.
func (s *Store) Restaurant(ctx context.Context) (Restaurant, error) {
	var r Restaurant
	err := s.fetch(ctx, &r, func(ctx context.Context) (any, error) {
		return s.source.Restaurant(ctx)
	}, "restaurant")
	return r, err
}

// Context assembles the request configuration of a profile with the
// dependent fields cleared.
func (s *Store) Context(ctx context.Context, profile string) (Context, error) {
	p, err := s.Profile(ctx, profile)
	if err != nil {
		return Context{}, err
	}
	if p.Disabled {
		return Context{}, ErrProfileDisabled
	}
	r, err := s.Restaurant(ctx)
	if err != nil {
		return Context{}, err
	}
	return ClearDependentFields(Context{Profile: p, Restaurant: r}), nil
}

// Invalidate drops the cached profile, or every cached entry when name is
// empty.
func (s *Store) Invalidate(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return s.cache.Bump(ctx)
	}
	key, err := s.cache.BuildKey(ctx, "profile", name)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, key)
}

func (s *Store) fetch(ctx context.Context, dest any, loader func(context.Context) (any, error), parts ...string) error {
	var loadErr error
	load := func(ctx context.Context) (any, error) {
		value, err := loader(ctx)
		loadErr = err
		return value, err
	}
	key, err := s.cache.BuildKey(ctx, parts...)
	if err == nil {
		if err = s.cache.FetchJSON(ctx, key, dest, load); err == nil {
			return nil
		}
		if loadErr != nil {
			return loadErr
		}
	}
	s.logger.Warn("settings cache unavailable, reading source", slog.String("key", strings.Join(parts, ":")), slog.Any("error", err))
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	return roundTrip(value, dest)
}
