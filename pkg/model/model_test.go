package model

import "testing"

func TestNewEntityIDDeterministic(t *testing.T) {
	a := NewEntityID("Felis catus", "Linnaeus, 1758")
	b := NewEntityID("Felis catus", "Linnaeus, 1758")
	if a != b {
		t.Fatalf("same natural key produced different ids: %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("entity id not fixed-width: %q", a)
	}
}

func TestNewEntityIDDistinguishesParts(t *testing.T) {
	// The separator keeps part boundaries from blurring together.
	a := NewEntityID("Felis", "catus")
	b := NewEntityID("Felis cat", "us")
	if a == b {
		t.Fatalf("different natural keys hashed identically: %s", a)
	}
}

func TestActionValid(t *testing.T) {
	for _, a := range []Action{ActionCreate, ActionUpdate, ActionDelete} {
		if !a.Valid() {
			t.Fatalf("%s should be valid", a)
		}
	}
	if Action("merge").Valid() {
		t.Fatal("unknown action should be invalid")
	}
}

func TestIsRoot(t *testing.T) {
	root := Operation{ID: 100, Action: ActionCreate}
	if !root.IsRoot() {
		t.Fatal("parentless create should be root")
	}
	child := Operation{ID: 101, Parent: 100, Action: ActionUpdate}
	if child.IsRoot() {
		t.Fatal("update should not be root")
	}
}
