package auth

import "testing"

func TestCapabilityHas(t *testing.T) {
	if !CapEditor.Has(CapRead | CapUpdate) {
		t.Fatalf("editor should cover read|update")
	}
	// EDITOR (7) must be denied DELETE (8): 7&8 == 0.
	if CapEditor.Has(CapDelete) {
		t.Fatalf("editor must not cover delete")
	}
	if !CapAdmin.Has(CapRead | CapCreate | CapUpdate | CapDelete) {
		t.Fatalf("admin must cover everything")
	}
	if CapViewer.Has(CapUpdate) {
		t.Fatalf("viewer must not cover update")
	}
	if !Capability(0).Has(0) {
		t.Fatalf("empty requirement is always covered")
	}
}

func TestCapabilityString(t *testing.T) {
	if got := CapEditor.String(); got != "read|create|update" {
		t.Fatalf("unexpected rendering: %s", got)
	}
	if got := Capability(0).String(); got != "none" {
		t.Fatalf("unexpected rendering: %s", got)
	}
}

func TestParseCapability(t *testing.T) {
	cases := map[string]Capability{
		"viewer": CapViewer,
		"EDITOR": CapEditor,
		" admin": CapAdmin,
	}
	for input, expected := range cases {
		got, ok := ParseCapability(input)
		if !ok || got != expected {
			t.Fatalf("ParseCapability(%q)=(%v,%v), want %v", input, got, ok, expected)
		}
	}
	if _, ok := ParseCapability("owner"); ok {
		t.Fatalf("unexpected composite accepted")
	}
}
