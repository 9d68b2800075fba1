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

package batch

import (
	"bytes"
	"fmt"

	"github.com/emberdb/ember/pkg/exec/desc"
)

// Datum is a single typed scalar value. The zero Datum is a non-NULL BIGINT 0.
type Datum struct {
	Kind  desc.Type
	Null  bool
	Int   int64
	Float float64
	Bytes []byte
	Bool  bool
}

// MakeInt returns a BIGINT datum.
func MakeInt(v int64) Datum { return Datum{Kind: desc.TypeBigInt, Int: v} }

// MakeFloat returns a DOUBLE datum.
func MakeFloat(v float64) Datum { return Datum{Kind: desc.TypeDouble, Float: v} }

// MakeBytes returns a VARCHAR datum. The datum does not copy v.
func MakeBytes(v []byte) Datum { return Datum{Kind: desc.TypeVarchar, Bytes: v} }

// MakeString returns a VARCHAR datum backed by s.
func MakeString(s string) Datum { return Datum{Kind: desc.TypeVarchar, Bytes: []byte(s)} }

// MakeBool returns a BOOLEAN datum.
func MakeBool(v bool) Datum { return Datum{Kind: desc.TypeBoolean, Bool: v} }

// MakeNull returns a NULL datum of the given type.
func MakeNull(t desc.Type) Datum { return Datum{Kind: t, Null: true} }

// Compare orders two datums of the same kind. NULL sorts before everything.
func (d Datum) Compare(other Datum) int {
	if d.Null || other.Null {
		switch {
		case d.Null && other.Null:
			return 0
		case d.Null:
			return -1
		default:
			return 1
		}
	}
	switch d.Kind {
	case desc.TypeBigInt:
		switch {
		case d.Int < other.Int:
			return -1
		case d.Int > other.Int:
			return 1
		}
		return 0
	case desc.TypeDouble:
		switch {
		case d.Float < other.Float:
			return -1
		case d.Float > other.Float:
			return 1
		}
		return 0
	case desc.TypeVarchar:
		return bytes.Compare(d.Bytes, other.Bytes)
	case desc.TypeBoolean:
		switch {
		case !d.Bool && other.Bool:
			return -1
		case d.Bool && !other.Bool:
			return 1
		}
		return 0
	}
	return 0
}

// fnv-1a constants.
const (
	fnvOffset = 14695981039346656037
	fnvPrime  = 1099511628211
)

// Hash folds the datum into an fnv-1a hash seeded with h.
func (d Datum) Hash(h uint64) uint64 {
	if h == 0 {
		h = fnvOffset
	}
	if d.Null {
		return (h ^ 0xff) * fnvPrime
	}
	switch d.Kind {
	case desc.TypeBigInt:
		v := uint64(d.Int)
		for i := 0; i < 8; i++ {
			h = (h ^ (v & 0xff)) * fnvPrime
			v >>= 8
		}
	case desc.TypeDouble:
		// Hash the decimal formatting to keep 1.0 and 1 distinct from
		// integer hashes without reaching for unsafe bit tricks.
		for _, b := range []byte(fmt.Sprintf("%g", d.Float)) {
			h = (h ^ uint64(b)) * fnvPrime
		}
	case desc.TypeVarchar:
		for _, b := range d.Bytes {
			h = (h ^ uint64(b)) * fnvPrime
		}
	case desc.TypeBoolean:
		if d.Bool {
			h = (h ^ 1) * fnvPrime
		} else {
			h = (h ^ 2) * fnvPrime
		}
	}
	return h
}

func (d Datum) String() string {
	if d.Null {
		return "NULL"
	}
	switch d.Kind {
	case desc.TypeBigInt:
		return fmt.Sprintf("%d", d.Int)
	case desc.TypeDouble:
		return fmt.Sprintf("%g", d.Float)
	case desc.TypeVarchar:
		return string(d.Bytes)
	case desc.TypeBoolean:
		return fmt.Sprintf("%t", d.Bool)
	}
	return "?"
}

// Row is one tuple of datums laid out per the operator's row descriptor.
type Row []Datum

// Copy returns a deep copy of the row; varchar payloads are duplicated so the
// copy survives batch reuse.
func (r Row) Copy() Row {
	out := make(Row, len(r))
	copy(out, r)
	for i := range out {
		if out[i].Kind == desc.TypeVarchar && out[i].Bytes != nil {
			b := make([]byte, len(out[i].Bytes))
			copy(b, out[i].Bytes)
			out[i].Bytes = b
		}
	}
	return out
}

// Hash hashes the row's columns at the given indexes.
func (r Row) Hash(cols []int) uint64 {
	var h uint64
	for _, c := range cols {
		h = r[c].Hash(h)
	}
	return h
}

// EqualOn reports whether two rows match on the given column indexes.
func (r Row) EqualOn(cols []int, other Row, otherCols []int) bool {
	for i := range cols {
		if r[cols[i]].Compare(other[otherCols[i]]) != 0 {
			return false
		}
	}
	return true
}

func (r Row) String() string {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, d := range r {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(d.String())
	}
	buf.WriteByte(']')
	return buf.String()
}
