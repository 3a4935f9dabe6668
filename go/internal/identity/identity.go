// Package identity resolves who the local client is in the room.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fichas-one/fichas/go/internal/models"
)

var ErrInvalidRole = errors.New("invalid role")

// Provider resolves the local client's ID and role. Both are read once at
// startup and stay stable for the session.
type Provider interface {
	LocalID(ctx context.Context) (string, error)
	LocalRole(ctx context.Context) (models.Role, error)
}

// Static is a Provider with fixed values.
type Static struct {
	ID   string
	Role models.Role
}

// NewStatic returns a Provider for id and role. An empty id is replaced by
// a random one and an empty role means participant.
func NewStatic(id string, role models.Role) *Static {
	if id == "" {
		id = uuid.NewString()
	}
	if role == "" {
		role = models.RoleParticipant
	}
	return &Static{ID: id, Role: role}
}

func (s *Static) LocalID(ctx context.Context) (string, error) {
	return s.ID, nil
}

func (s *Static) LocalRole(ctx context.Context) (models.Role, error) {
	return s.Role, nil
}

// ParseRole accepts the wire role names plus "master" and "player".
func ParseRole(s string) (models.Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(models.RoleParticipant), "player":
		return models.RoleParticipant, nil
	case string(models.RoleOwner), "master":
		return models.RoleOwner, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}
