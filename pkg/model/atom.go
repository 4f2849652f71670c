package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field is one named write inside an atom.
type Field struct {
	Name  string
	Value Value
}

// Atom is the field-level payload of an operation: an ordered mapping of
// field name to value. Order is the order the importer emitted the writes
// in; it is preserved through serialization because the reducer applies
// fields in atom order.
//
// A Create may carry an empty atom. A Delete carries no fields at all; the
// action itself is the tombstone marker.
type Atom []Field

// Get returns the value for a field name and whether it is present. A name
// written twice resolves to its last occurrence.
func (a Atom) Get(name string) (Value, bool) {
	for i := len(a) - 1; i >= 0; i-- {
		if a[i].Name == name {
			return a[i].Value, true
		}
	}
	return Value{}, false
}

// IsEmpty reports whether the atom carries no writes.
func (a Atom) IsEmpty() bool { return len(a) == 0 }

// MarshalJSON renders the atom as a JSON object with fields in atom order.
func (a Atom) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses a JSON object, preserving field order via the token
// stream (a plain map round-trip would lose it).
func (a *Atom) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return fmt.Errorf("unmarshal atom: expected object, got %v", tok)
	}

	var fields Atom
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unmarshal atom: expected field name, got %v", keyTok)
		}
		var v Value
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("unmarshal atom field %q: %w", name, err)
		}
		fields = append(fields, Field{Name: name, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*a = fields
	return nil
}
