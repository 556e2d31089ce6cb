package auth

import "context"

// Store describes persistence operations required by the auth subsystem.
// Implementations must be safe for concurrent use; every compound mutation
// happens inside a single transaction on the implementation side.
type Store interface {
	Principals(ctx context.Context) PrincipalStore
	Credentials(ctx context.Context) CredentialStore
	Projects(ctx context.Context) ProjectStore
	Memberships(ctx context.Context) MembershipStore
	Items(ctx context.Context) ItemStore
}

// PrincipalStore manages identities.
type PrincipalStore interface {
	Create(ctx context.Context, p *Principal) error
	Find(ctx context.Context, id string) (*Principal, error)
	FindByUsername(ctx context.Context, username string) (*Principal, error)
	// UpdateSessionMark replaces the mark, invalidating every token issued
	// before the change.
	UpdateSessionMark(ctx context.Context, id, mark string) error
}

// CredentialStore persists credential lineage trees and performs the atomic
// state transitions of the rotation protocol.
type CredentialStore interface {
	// CreateRoot inserts a new lineage root (no parent, valid).
	CreateRoot(ctx context.Context, node *CredentialNode) error

	// Rotate executes the refresh decision for the node holding the given
	// refresh token, inside one transaction with the node row locked where
	// the store supports it:
	//   - no node            -> ErrRevokedOrUnknown
	//   - node already invalid -> the whole family is deleted and
	//     ErrReplayDetected is returned
	//   - otherwise mint is called with the locked parent; if mint fails
	//     the transaction rolls back and the node is left untouched;
	//     if it succeeds the child is inserted and the parent is marked
	//     invalid atomically, then the child is returned.
	Rotate(ctx context.Context, refreshToken string, mint func(parent *CredentialNode) (*CredentialNode, error)) (*CredentialNode, error)

	FindByRefreshToken(ctx context.Context, token string) (*CredentialNode, error)
	FindByAccessToken(ctx context.Context, token string) (*CredentialNode, error)

	// AncestorsOf walks parent links up to the lineage root (closest first).
	AncestorsOf(ctx context.Context, id string) ([]*CredentialNode, error)
	// DescendantsOf returns the full subtree below the node.
	DescendantsOf(ctx context.Context, id string) ([]*CredentialNode, error)

	// DeleteFamily removes the node, all its ancestors and all descendants
	// of its lineage root in one transaction, returning the number of nodes
	// removed. Deleting an unknown node returns ErrNotFound.
	DeleteFamily(ctx context.Context, id string) (int, error)
}

// ProjectStore manages projects.
type ProjectStore interface {
	Create(ctx context.Context, p *Project) error
	Find(ctx context.Context, id string) (*Project, error)
}

// MembershipStore manages per-project capability grants.
type MembershipStore interface {
	Upsert(ctx context.Context, m *Membership) error
	Find(ctx context.Context, principalID, projectID string) (*Membership, error)
	Remove(ctx context.Context, principalID, projectID string) error
}

// ItemStore manages stock items.
type ItemStore interface {
	Create(ctx context.Context, item *Item) error
	Find(ctx context.Context, id string) (*Item, error)
	Delete(ctx context.Context, id string) error
}
