package auth

import "time"

// Role classifies a principal. Administrators bypass every capability check.
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleTeacher       Role = "teacher"
	RoleStudent       Role = "student"
	RoleUser          Role = "user"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdministrator, RoleTeacher, RoleStudent, RoleUser:
		return true
	}
	return false
}

// Principal is an authenticated identity. SessionMark is an opaque value
// embedded into every issued token; rotating it invalidates all outstanding
// tokens for the principal without touching the credential ledger.
type Principal struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	SessionMark  string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsAdmin reports whether the principal holds the Administrator role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdministrator }

// CredentialNode is one issued access+refresh pair and its position in a
// rotation lineage. Nodes form a forest: every login creates a root
// (ParentID empty), every refresh creates exactly one child and flips the
// parent's Valid to false. A node marked invalid is never mutated again;
// the whole connected family is deleted on logout or replay.
type CredentialNode struct {
	ID           string
	ParentID     string // empty for lineage roots
	PrincipalID  string
	RefreshToken string
	AccessToken  string
	Valid        bool
	ExpireAt     time.Time
	CreatedAt    time.Time
}

// Root reports whether the node starts a lineage.
func (n CredentialNode) Root() bool { return n.ParentID == "" }

// Project owns items and grants capabilities through memberships. The owner
// holds implicit full capability regardless of any membership row.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership grants a principal a capability bitmask on one project.
type Membership struct {
	PrincipalID string     `json:"principal_id"`
	ProjectID   string     `json:"project_id"`
	Permission  Capability `json:"permission"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Item is a stock entry. An item without a project is unassigned stock and
// is accessible to any authenticated principal (open stock policy).
type Item struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ProjectID string    `json:"project_id,omitempty"` // empty means unassigned
	Quantity  int64     `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}
