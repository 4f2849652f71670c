package model

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestValueKinds(t *testing.T) {
	if !Null().IsNull() {
		t.Fatal("Null() should be null")
	}
	if s, ok := String("Felis catus").AsString(); !ok || s != "Felis catus" {
		t.Fatalf("AsString: got %q, %v", s, ok)
	}
	if n, ok := Number(1758).AsNumber(); !ok || n != 1758 {
		t.Fatalf("AsNumber: got %v, %v", n, ok)
	}
	if b, ok := Bool(true).AsBool(); !ok || !b {
		t.Fatalf("AsBool: got %v, %v", b, ok)
	}
	if _, ok := String("x").AsNumber(); ok {
		t.Fatal("string should not read as number")
	}
}

func TestValueEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b Value
		want bool
	}{
		{"equal strings", String("a"), String("a"), true},
		{"different strings", String("a"), String("b"), false},
		{"string vs number", String("1"), Number(1), false},
		{"nulls", Null(), Null(), true},
		{"equal lists", List(String("a"), Number(2)), List(String("a"), Number(2)), true},
		{"list length", List(String("a")), List(String("a"), String("a")), false},
		{"equal maps", Map(map[string]Value{"k": Number(1)}), Map(map[string]Value{"k": Number(1)}), true},
		{"map value differs", Map(map[string]Value{"k": Number(1)}), Map(map[string]Value{"k": Number(2)}), false},
		{"nested", List(Map(map[string]Value{"k": Null()})), List(Map(map[string]Value{"k": Null()})), true},
	}
	for _, tc := range cases {
		if got := tc.a.Equal(tc.b); got != tc.want {
			t.Errorf("%s: Equal = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestValueJSONRoundTrip(t *testing.T) {
	v := Map(map[string]Value{
		"scientific_name": String("Felis catus"),
		"year":            Number(1758),
		"accepted":        Bool(true),
		"synonyms":        List(String("Felis domesticus")),
		"remarks":         Null(),
	})
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Value
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !v.Equal(back) {
		t.Fatalf("round trip changed value: %s -> %s", v, back)
	}
}

func TestValueMarshalDeterministic(t *testing.T) {
	v := Map(map[string]Value{"b": Number(2), "a": Number(1), "c": Number(3)})
	first, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("marshal not deterministic: %s vs %s", first, again)
		}
	}
	if want := `{"a":1,"b":2,"c":3}`; string(first) != want {
		t.Fatalf("map keys not sorted: got %s, want %s", first, want)
	}
}

func TestAtomPreservesFieldOrder(t *testing.T) {
	a := Atom{
		{Name: "ScientificName", Value: String("Felis catus")},
		{Name: "CanonicalName", Value: String("Felis catus")},
		{Name: "Authorship", Value: String("Linnaeus, 1758")},
	}
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Atom
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back) != len(a) {
		t.Fatalf("got %d fields, want %d", len(back), len(a))
	}
	for i := range a {
		if back[i].Name != a[i].Name {
			t.Fatalf("field %d: got %q, want %q — order not preserved", i, back[i].Name, a[i].Name)
		}
		if !back[i].Value.Equal(a[i].Value) {
			t.Fatalf("field %q: value changed in round trip", a[i].Name)
		}
	}
}

func TestAtomGetLastOccurrenceWins(t *testing.T) {
	a := Atom{
		{Name: "rank", Value: String("genus")},
		{Name: "rank", Value: String("species")},
	}
	v, ok := a.Get("rank")
	if !ok {
		t.Fatal("rank should be present")
	}
	if s, _ := v.AsString(); s != "species" {
		t.Fatalf("Get: got %q, want last write %q", s, "species")
	}
	if _, ok := a.Get("kingdom"); ok {
		t.Fatal("absent field should not be found")
	}
}

func TestAtomUnmarshalRejectsNonObject(t *testing.T) {
	var a Atom
	if err := json.Unmarshal([]byte(`["not","an","object"]`), &a); err == nil {
		t.Fatal("array payload should fail to parse as atom")
	}
}

func TestAtomEmpty(t *testing.T) {
	var a Atom
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{}" {
		t.Fatalf("empty atom: got %s, want {}", data)
	}
	if !a.IsEmpty() {
		t.Fatal("empty atom should report IsEmpty")
	}
}
