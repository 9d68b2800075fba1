// Copyright 2018 The Ember Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package desc holds the immutable tuple and slot layout metadata for a
// fragment. The coordinator serializes a TableSpec with the execution
// request; the backend materializes it once per instance (or borrows a
// shared one for multi-instance queries) and every plan node references it
// read-only.
package desc

import "github.com/pkg/errors"

// TupleID identifies a tuple layout within a descriptor table.
type TupleID int

// SlotID identifies a slot within a descriptor table.
type SlotID int

// Type is the storage type of a slot.
type Type int8

// Slot types supported by the execution engine.
const (
	TypeBigInt Type = iota
	TypeDouble
	TypeVarchar
	TypeBoolean
)

func (t Type) String() string {
	switch t {
	case TypeBigInt:
		return "BIGINT"
	case TypeDouble:
		return "DOUBLE"
	case TypeVarchar:
		return "VARCHAR"
	case TypeBoolean:
		return "BOOLEAN"
	}
	return "UNKNOWN"
}

// SlotSpec is the serialized form of one slot.
type SlotSpec struct {
	ID       SlotID
	Type     Type
	Nullable bool
	ColName  string
}

// TupleSpec is the serialized form of one tuple layout.
type TupleSpec struct {
	ID    TupleID
	Slots []SlotSpec
}

// TableSpec is the serialized descriptor table carried in an execution
// request.
type TableSpec struct {
	Tuples []TupleSpec
}

// SlotDescriptor describes one materialized column slot.
type SlotDescriptor struct {
	ID       SlotID
	Type     Type
	Nullable bool
	ColName  string
}

// TupleDescriptor describes one tuple layout.
type TupleDescriptor struct {
	ID    TupleID
	Slots []SlotDescriptor
}

// NumSlots returns the slot count of the tuple.
func (td *TupleDescriptor) NumSlots() int { return len(td.Slots) }

// Table is the materialized descriptor table.
type Table struct {
	tuples map[TupleID]*TupleDescriptor
}

// CreateTable materializes a descriptor table from its serialized form.
func CreateTable(spec TableSpec) (*Table, error) {
	t := &Table{tuples: make(map[TupleID]*TupleDescriptor, len(spec.Tuples))}
	for _, ts := range spec.Tuples {
		if _, ok := t.tuples[ts.ID]; ok {
			return nil, errors.Errorf("duplicate tuple descriptor id %d", ts.ID)
		}
		td := &TupleDescriptor{ID: ts.ID, Slots: make([]SlotDescriptor, len(ts.Slots))}
		for i, ss := range ts.Slots {
			td.Slots[i] = SlotDescriptor{ID: ss.ID, Type: ss.Type, Nullable: ss.Nullable, ColName: ss.ColName}
		}
		t.tuples[ts.ID] = td
	}
	return t, nil
}

// Tuple looks up a tuple descriptor by id.
func (t *Table) Tuple(id TupleID) (*TupleDescriptor, error) {
	td, ok := t.tuples[id]
	if !ok {
		return nil, errors.Errorf("unknown tuple descriptor id %d", id)
	}
	return td, nil
}

// RowDescriptor is the ordered tuple list describing an operator's output
// row. Slots of all tuples are laid out contiguously.
type RowDescriptor struct {
	Tuples []*TupleDescriptor
}

// MakeRowDescriptor resolves tuple ids against the table.
func MakeRowDescriptor(t *Table, ids []TupleID) (RowDescriptor, error) {
	rd := RowDescriptor{Tuples: make([]*TupleDescriptor, len(ids))}
	for i, id := range ids {
		td, err := t.Tuple(id)
		if err != nil {
			return RowDescriptor{}, err
		}
		rd.Tuples[i] = td
	}
	return rd, nil
}

// NumSlots returns the total slot count across all tuples.
func (rd RowDescriptor) NumSlots() int {
	n := 0
	for _, td := range rd.Tuples {
		n += td.NumSlots()
	}
	return n
}

// Slots returns the flattened slot list in row order.
func (rd RowDescriptor) Slots() []SlotDescriptor {
	out := make([]SlotDescriptor, 0, rd.NumSlots())
	for _, td := range rd.Tuples {
		out = append(out, td.Slots...)
	}
	return out
}

// Equal reports whether two row descriptors have identical layouts.
func (rd RowDescriptor) Equal(other RowDescriptor) bool {
	a, b := rd.Slots(), other.Slots()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type != b[i].Type {
			return false
		}
	}
	return true
}
