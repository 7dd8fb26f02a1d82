// Package access resolves which factory's data a caller may read.
package access

import (
	"errors"
	"fmt"
	"strings"

	appctx "github.com/welldanyogia/steel-scrap-yard/internal/context"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
)

// Mode selects how caller-supplied factory ids are treated
type Mode string

const (
	// ModeStrict derives the factory from the session; admins may pick any factory
	ModeStrict Mode = "strict"
	// ModeAdvisory trusts the requested factory id and needs no session
	ModeAdvisory Mode = "advisory"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access to factory denied")
)

// ParseMode parses a tenancy mode; anything other than "advisory" is strict
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeAdvisory)) {
		return ModeAdvisory
	}
	return ModeStrict
}

// Scope is the resolved read scope. An empty FactoryID means every factory.
type Scope struct {
	FactoryID string
}

// All reports whether the scope spans every factory
func (s Scope) All() bool {
	return s.FactoryID == ""
}

// Allows reports whether a record stamped with factoryID is visible in the scope
func (s Scope) Allows(factoryID string) bool {
	return s.All() || s.FactoryID == factoryID
}

// Resolve computes the read scope for identity asking for the requested factory
func Resolve(identity *appctx.Identity, requested string, mode Mode) (Scope, error) {
	requested = strings.TrimSpace(requested)

	if mode == ModeAdvisory {
		return Scope{FactoryID: requested}, nil
	}

	if identity == nil {
		return Scope{}, ErrUnauthenticated
	}

	switch repository.Role(identity.Role) {
	case repository.RoleAdmin:
		return Scope{FactoryID: requested}, nil
	case repository.RoleOwner, repository.RoleLabourer:
		if identity.FactoryID == "" {
			return Scope{}, fmt.Errorf("%w: no factory assigned", ErrForbidden)
		}
		if requested != "" && requested != identity.FactoryID {
			return Scope{}, ErrForbidden
		}
		return Scope{FactoryID: identity.FactoryID}, nil
	default:
		return Scope{}, ErrForbidden
	}
}
