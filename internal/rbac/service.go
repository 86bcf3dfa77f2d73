package rbac

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// Store reads role assignments.
type Store interface {
	EffectivePermissions(ctx context.Context, userID string) ([]string, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	EnsurePermission(ctx context.Context, name, description string) (Permission, error)
}

// Service orchestrates RBAC operations.
type Service struct {
	store Store
}

// NewService constructs a Service backed by the provided store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// HasPermission reports whether the user holds the capability, directly or
// through the wildcard.
func (s *Service) HasPermission(ctx context.Context, userID, capability string) (bool, error) {
	granted, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return hasAnyPermission(granted, normalizePermissions([]string{capability})), nil
}

// EffectivePermissions returns deduplicated permission names for a user.
func (s *Service) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil
	}
	rows, err := s.store.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return normalizePermissions(rows), nil
}

// ListPermissions returns all permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// EnsurePermissions upserts every named permission. Used at startup to seed
// the POS capabilities.
func (s *Service) EnsurePermissions(ctx context.Context, names []string) error {
	for _, name := range normalizePermissions(names) {
		if _, err := s.store.EnsurePermission(ctx, name, ""); err != nil {
			return err
		}
	}
	return nil
}
