package auth

import "strings"

// Capability is a permission bitmask: each bit grants one action on a
// project's items.
type Capability uint8

const (
	CapRead   Capability = 1 << iota // 1
	CapCreate                        // 2
	CapUpdate                        // 4
	CapDelete                        // 8
)

// Composite grants used when creating memberships.
const (
	CapViewer Capability = CapRead
	CapEditor Capability = CapRead | CapCreate | CapUpdate
	CapAdmin  Capability = CapRead | CapCreate | CapUpdate | CapDelete
)

// Has reports whether the grant covers every bit of required.
func (c Capability) Has(required Capability) bool {
	return c&required == required
}

// String renders the bitmask for logs and audit entries.
func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	if c.Has(CapRead) {
		parts = append(parts, "read")
	}
	if c.Has(CapCreate) {
		parts = append(parts, "create")
	}
	if c.Has(CapUpdate) {
		parts = append(parts, "update")
	}
	if c.Has(CapDelete) {
		parts = append(parts, "delete")
	}
	return strings.Join(parts, "|")
}

// ParseCapability maps the composite names accepted by the membership API.
func ParseCapability(name string) (Capability, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "viewer":
		return CapViewer, true
	case "editor":
		return CapEditor, true
	case "admin":
		return CapAdmin, true
	}
	return 0, false
}
