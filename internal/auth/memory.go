package auth

import (
	"context"
	"sync"
	"time"

	"stockroom.org/internal/ids"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store with in-process concurrency safety. It backs the
// tests and small deployments; since it has no row-level locks, rotMu
// serializes rotations end to end so concurrent replay detection stays
// deterministic. mint callbacks run outside mu and may call back into the
// store.
type InMemory struct {
	rotMu       sync.Mutex
	mu          sync.RWMutex
	principals  map[string]*Principal
	byUsername  map[string]string
	nodes       map[string]*CredentialNode
	byRefresh   map[string]string
	byAccess    map[string]string
	projects    map[string]*Project
	memberships map[string]*Membership // principalID + "/" + projectID
	items       map[string]*Item
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		principals:  make(map[string]*Principal),
		byUsername:  make(map[string]string),
		nodes:       make(map[string]*CredentialNode),
		byRefresh:   make(map[string]string),
		byAccess:    make(map[string]string),
		projects:    make(map[string]*Project),
		memberships: make(map[string]*Membership),
		items:       make(map[string]*Item),
	}
}

func (s *InMemory) Principals(context.Context) PrincipalStore   { return &memPrincipals{s} }
func (s *InMemory) Credentials(context.Context) CredentialStore { return &memCredentials{s} }
func (s *InMemory) Projects(context.Context) ProjectStore       { return &memProjects{s} }
func (s *InMemory) Memberships(context.Context) MembershipStore { return &memMemberships{s} }
func (s *InMemory) Items(context.Context) ItemStore             { return &memItems{s} }

// Principals ----------------------------------------------------------------

type memPrincipals struct{ s *InMemory }

func (m *memPrincipals) Create(ctx context.Context, p *Principal) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if p.ID == "" {
		p.ID = ids.New()
	}
	if _, ok := m.s.byUsername[p.Username]; ok {
		return ErrAlreadyExists
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	m.s.principals[p.ID] = &cp
	m.s.byUsername[p.Username] = p.ID
	return nil
}

func (m *memPrincipals) Find(ctx context.Context, id string) (*Principal, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	p, ok := m.s.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPrincipals) FindByUsername(ctx context.Context, username string) (*Principal, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	id, ok := m.s.byUsername[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.s.principals[id]
	return &cp, nil
}

func (m *memPrincipals) UpdateSessionMark(ctx context.Context, id, mark string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.SessionMark = mark
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Credentials ---------------------------------------------------------------

type memCredentials struct{ s *InMemory }

func (m *memCredentials) CreateRoot(ctx context.Context, node *CredentialNode) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if node.ID == "" {
		node.ID = ids.New()
	}
	node.ParentID = ""
	node.Valid = true
	node.CreatedAt = time.Now().UTC()
	m.s.insertNode(node)
	return nil
}

func (m *memCredentials) Rotate(ctx context.Context, refreshToken string, mint func(parent *CredentialNode) (*CredentialNode, error)) (*CredentialNode, error) {
	m.s.rotMu.Lock()
	defer m.s.rotMu.Unlock()

	m.s.mu.Lock()
	id, ok := m.s.byRefresh[refreshToken]
	if !ok {
		m.s.mu.Unlock()
		return nil, ErrRevokedOrUnknown
	}
	parent := m.s.nodes[id]
	if !parent.Valid {
		m.s.deleteFamilyLocked(parent.ID)
		m.s.mu.Unlock()
		return nil, ErrReplayDetected
	}
	snapshot := *parent
	m.s.mu.Unlock()

	// mint may call back into the store (principal lookups), so it runs
	// outside mu; rotMu keeps the parent's state frozen meanwhile.
	child, err := mint(&snapshot)
	if err != nil {
		return nil, err
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	parent, ok = m.s.nodes[snapshot.ID]
	if !ok {
		// the family was logged out while minting
		return nil, ErrRevokedOrUnknown
	}
	if child.ID == "" {
		child.ID = ids.New()
	}
	child.ParentID = parent.ID
	child.PrincipalID = parent.PrincipalID
	child.Valid = true
	child.CreatedAt = time.Now().UTC()
	parent.Valid = false
	m.s.insertNode(child)
	cp := *child
	return &cp, nil
}

func (m *memCredentials) FindByRefreshToken(ctx context.Context, token string) (*CredentialNode, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	id, ok := m.s.byRefresh[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.s.nodes[id]
	return &cp, nil
}

func (m *memCredentials) FindByAccessToken(ctx context.Context, token string) (*CredentialNode, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	id, ok := m.s.byAccess[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.s.nodes[id]
	return &cp, nil
}

func (m *memCredentials) AncestorsOf(ctx context.Context, id string) ([]*CredentialNode, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	node, ok := m.s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	var out []*CredentialNode
	for node.ParentID != "" {
		parent, ok := m.s.nodes[node.ParentID]
		if !ok {
			break
		}
		cp := *parent
		out = append(out, &cp)
		node = parent
	}
	return out, nil
}

func (m *memCredentials) DescendantsOf(ctx context.Context, id string) ([]*CredentialNode, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	if _, ok := m.s.nodes[id]; !ok {
		return nil, ErrNotFound
	}
	return m.descendantsLocked(id), nil
}

func (m *memCredentials) descendantsLocked(id string) []*CredentialNode {
	var out []*CredentialNode
	for _, cid := range m.s.childrenLocked(id) {
		cp := *m.s.nodes[cid]
		out = append(out, &cp)
		out = append(out, m.descendantsLocked(cid)...)
	}
	return out
}

func (m *memCredentials) DeleteFamily(ctx context.Context, id string) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.nodes[id]; !ok {
		return 0, ErrNotFound
	}
	return m.s.deleteFamilyLocked(id), nil
}

func (s *InMemory) insertNode(node *CredentialNode) {
	cp := *node
	s.nodes[cp.ID] = &cp
	s.byRefresh[cp.RefreshToken] = cp.ID
	s.byAccess[cp.AccessToken] = cp.ID
}

func (s *InMemory) childrenLocked(id string) []string {
	var out []string
	for _, n := range s.nodes {
		if n.ParentID == id {
			out = append(out, n.ID)
		}
	}
	return out
}

// deleteFamilyLocked removes the whole connected component: walk up to the
// lineage root, then drop the root's entire subtree.
func (s *InMemory) deleteFamilyLocked(id string) int {
	root := s.nodes[id]
	for root.ParentID != "" {
		parent, ok := s.nodes[root.ParentID]
		if !ok {
			break
		}
		root = parent
	}
	queue := []string{root.ID}
	deleted := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		queue = append(queue, s.childrenLocked(cur)...)
		node := s.nodes[cur]
		delete(s.byRefresh, node.RefreshToken)
		delete(s.byAccess, node.AccessToken)
		delete(s.nodes, cur)
		deleted++
	}
	return deleted
}

// Projects ------------------------------------------------------------------

type memProjects struct{ s *InMemory }

func (m *memProjects) Create(ctx context.Context, p *Project) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if p.ID == "" {
		p.ID = ids.New()
	}
	p.CreatedAt = time.Now().UTC()
	cp := *p
	m.s.projects[p.ID] = &cp
	return nil
}

func (m *memProjects) Find(ctx context.Context, id string) (*Project, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	p, ok := m.s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// Memberships ---------------------------------------------------------------

type memMemberships struct{ s *InMemory }

func membershipKey(principalID, projectID string) string {
	return principalID + "/" + projectID
}

func (m *memMemberships) Upsert(ctx context.Context, mem *Membership) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now().UTC()
	}
	cp := *mem
	m.s.memberships[membershipKey(mem.PrincipalID, mem.ProjectID)] = &cp
	return nil
}

func (m *memMemberships) Find(ctx context.Context, principalID, projectID string) (*Membership, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	mem, ok := m.s.memberships[membershipKey(principalID, projectID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *mem
	return &cp, nil
}

func (m *memMemberships) Remove(ctx context.Context, principalID, projectID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	key := membershipKey(principalID, projectID)
	if _, ok := m.s.memberships[key]; !ok {
		return ErrNotFound
	}
	delete(m.s.memberships, key)
	return nil
}

// Items ----------------------------------------------------------------------

type memItems struct{ s *InMemory }

func (m *memItems) Create(ctx context.Context, item *Item) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if item.ID == "" {
		item.ID = ids.New()
	}
	item.CreatedAt = time.Now().UTC()
	cp := *item
	m.s.items[item.ID] = &cp
	return nil
}

func (m *memItems) Find(ctx context.Context, id string) (*Item, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	item, ok := m.s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (m *memItems) Delete(ctx context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.s.items, id)
	return nil
}
