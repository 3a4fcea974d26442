package services

import (
	"context"
	"fmt"
	"sync"

	"subyield/internal/models/db_models"
	"subyield/pkg/utils"
)

// Authority decides who may drive privileged ledger transitions. The backend identity is
// a capability held by the scheduler process; it can be rotated or revoked at runtime.
type Authority interface {
	AuthorizeAdmin(ctx context.Context, caller string) error
	AuthorizeBackend(ctx context.Context, caller string) error
	// AuthorizeExpiry admits the backend and the admin.
	AuthorizeExpiry(ctx context.Context, caller string) error
	AuthorizePlanCreate(ctx context.Context, caller string) error
	AuthorizePlanUpdate(ctx context.Context, caller string, plan *db_models.Plan) error

	Backend() string
	RotateBackend(address string) error
	RevokeBackend()
}

type RoleAuthority struct {
	mu        sync.RWMutex
	admin     string
	backend   string
	providers map[string]struct{}
}

// NewRoleAuthority normalizes every configured address. An empty backend leaves the
// capability revoked until it is rotated in.
func NewRoleAuthority(admin, backend string, providers []string) (*RoleAuthority, error) {
	a := &RoleAuthority{providers: make(map[string]struct{}, len(providers))}

	var err error
	if a.admin, err = utils.NormalizeAddress(admin); err != nil {
		return nil, fmt.Errorf("admin address: %w", err)
	}
	if backend != "" {
		if a.backend, err = utils.NormalizeAddress(backend); err != nil {
			return nil, fmt.Errorf("backend address: %w", err)
		}
	}
	for _, p := range providers {
		addr, err := utils.NormalizeAddress(p)
		if err != nil {
			return nil, fmt.Errorf("provider address: %w", err)
		}
		a.providers[addr] = struct{}{}
	}
	return a, nil
}

func (a *RoleAuthority) isAdmin(caller string) bool {
	return utils.SameAddress(caller, a.admin)
}

func (a *RoleAuthority) isBackend(caller string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return utils.SameAddress(caller, a.backend)
}

func (a *RoleAuthority) AuthorizeAdmin(ctx context.Context, caller string) error {
	if !a.isAdmin(caller) {
		return fmt.Errorf("%w: %s is not the admin", utils.ErrUnauthorized, caller)
	}
	return nil
}

func (a *RoleAuthority) AuthorizeBackend(ctx context.Context, caller string) error {
	if !a.isBackend(caller) {
		return fmt.Errorf("%w: %s is not the backend", utils.ErrUnauthorized, caller)
	}
	return nil
}

func (a *RoleAuthority) AuthorizeExpiry(ctx context.Context, caller string) error {
	if a.isBackend(caller) || a.isAdmin(caller) {
		return nil
	}
	return fmt.Errorf("%w: %s may not expire subscriptions", utils.ErrUnauthorized, caller)
}

func (a *RoleAuthority) AuthorizePlanCreate(ctx context.Context, caller string) error {
	if a.isAdmin(caller) {
		return nil
	}
	addr, err := utils.NormalizeAddress(caller)
	if err != nil {
		return fmt.Errorf("%w: %v", utils.ErrUnauthorized, err)
	}
	if _, ok := a.providers[addr]; !ok {
		return fmt.Errorf("%w: %s is not an approved provider", utils.ErrUnauthorized, caller)
	}
	return nil
}

func (a *RoleAuthority) AuthorizePlanUpdate(ctx context.Context, caller string, plan *db_models.Plan) error {
	if a.isAdmin(caller) || utils.SameAddress(caller, plan.Provider) {
		return nil
	}
	return fmt.Errorf("%w: %s does not own plan %d", utils.ErrUnauthorized, caller, plan.ID)
}

func (a *RoleAuthority) Backend() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.backend
}

func (a *RoleAuthority) RotateBackend(address string) error {
	addr, err := utils.NormalizeAddress(address)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.backend = addr
	a.mu.Unlock()
	return nil
}

func (a *RoleAuthority) RevokeBackend() {
	a.mu.Lock()
	a.backend = ""
	a.mu.Unlock()
}

var _ Authority = (*RoleAuthority)(nil)
