package auth

import (
	"context"
	"errors"
)

// Resolver computes authorization for a required capability by walking the
// ownership hierarchy (project -> membership -> item). It deliberately keeps
// no cache: every call re-reads the chain so membership edits take effect
// immediately.
type Resolver struct {
	store Store
}

// NewResolver builds a resolver over the store.
func NewResolver(store Store) *Resolver { return &Resolver{store: store} }

// AuthorizeItem decides whether the principal may perform the required
// capability on an item. An item without a project is unassigned stock and
// is open to any authenticated principal.
func (r *Resolver) AuthorizeItem(ctx context.Context, p Principal, itemID string, required Capability) (bool, error) {
	if p.IsAdmin() {
		return true, nil
	}
	item, err := r.store.Items(ctx).Find(ctx, itemID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, ErrResourceNotFound
		}
		return false, err
	}
	if item.ProjectID == "" {
		// Open stock policy: unassigned items are shared.
		return true, nil
	}
	return r.authorizeProject(ctx, p, item.ProjectID, required)
}

// AuthorizeProject decides whether the principal may perform the required
// capability on a project.
func (r *Resolver) AuthorizeProject(ctx context.Context, p Principal, projectID string, required Capability) (bool, error) {
	if p.IsAdmin() {
		return true, nil
	}
	return r.authorizeProject(ctx, p, projectID, required)
}

func (r *Resolver) authorizeProject(ctx context.Context, p Principal, projectID string, required Capability) (bool, error) {
	project, err := r.store.Projects(ctx).Find(ctx, projectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, ErrResourceNotFound
		}
		return false, err
	}
	if project.OwnerID == p.ID {
		// Owner override is absolute, independent of any membership row.
		return true, nil
	}
	membership, err := r.store.Memberships(ctx).Find(ctx, p.ID, project.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return membership.Permission.Has(required), nil
}

// Require is the fail-closed form: it converts a deny into
// ErrInsufficientCapability.
func (r *Resolver) Require(ctx context.Context, p Principal, itemID string, required Capability) error {
	ok, err := r.AuthorizeItem(ctx, p, itemID, required)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInsufficientCapability
	}
	return nil
}
