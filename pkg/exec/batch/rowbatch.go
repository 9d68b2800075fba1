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

// Package batch implements the row- and column-oriented carriers moved
// between plan operators, plus the Datum value type they transport.
//
// A single RowBatch (or Block) instance is reused across Next calls: the
// producer resets it, fills up to its capacity and hands it back. Varchar
// payloads appended through the batch are copied into a pooled arena owned by
// the batch, so the payload stays valid until the next Reset.
package batch

import "github.com/emberdb/ember/pkg/exec/desc"

// arenaChunkSize is the allocation granularity of the string arena.
const arenaChunkSize = 16 << 10

// byteArena is a bump allocator for varchar payloads, reset wholesale with
// its batch. The rows referencing the arena keep the chunks alive.
type byteArena struct {
	cur []byte
}

func (a *byteArena) alloc(n int) []byte {
	if n > arenaChunkSize {
		return make([]byte, n)
	}
	if len(a.cur)+n > cap(a.cur) {
		a.cur = make([]byte, 0, arenaChunkSize)
	}
	off := len(a.cur)
	a.cur = a.cur[:off+n]
	return a.cur[off : off+n]
}

func (a *byteArena) reset() {
	a.cur = nil
}

// RowBatch is the row-oriented carrier. It has a fixed row capacity and owns
// a string arena for varchar payloads.
type RowBatch struct {
	rowDesc  desc.RowDescriptor
	capacity int
	rows     []Row
	arena    byteArena
}

// NewRowBatch creates a batch with the given row descriptor and capacity.
func NewRowBatch(rd desc.RowDescriptor, capacity int) *RowBatch {
	if capacity <= 0 {
		capacity = 1
	}
	return &RowBatch{rowDesc: rd, capacity: capacity, rows: make([]Row, 0, capacity)}
}

// RowDesc returns the batch's row descriptor.
func (b *RowBatch) RowDesc() desc.RowDescriptor { return b.rowDesc }

// Capacity returns the maximum row count.
func (b *RowBatch) Capacity() int { return b.capacity }

// NumRows returns the current row count.
func (b *RowBatch) NumRows() int { return len(b.rows) }

// IsFull reports whether the batch reached capacity.
func (b *RowBatch) IsFull() bool { return len(b.rows) >= b.capacity }

// Row returns the i-th row. The row is invalidated by Reset.
func (b *RowBatch) Row(i int) Row { return b.rows[i] }

// Rows returns the underlying row slice, invalidated by Reset.
func (b *RowBatch) Rows() []Row { return b.rows }

// AddRow appends a row, interning varchar payloads into the batch arena.
// Returns false when the batch is full (the row is not added).
func (b *RowBatch) AddRow(r Row) bool {
	if b.IsFull() {
		return false
	}
	row := make(Row, len(r))
	copy(row, r)
	for i := range row {
		if row[i].Kind == desc.TypeVarchar && !row[i].Null && len(row[i].Bytes) > 0 {
			dst := b.arena.alloc(len(row[i].Bytes))
			copy(dst, row[i].Bytes)
			row[i].Bytes = dst
		}
	}
	b.rows = append(b.rows, row)
	return true
}

// Reset clears the batch for reuse. Previously returned rows and varchar
// payloads are invalidated.
func (b *RowBatch) Reset() {
	b.rows = b.rows[:0]
	b.arena.reset()
}

// CopyRows returns deep copies of all rows, surviving Reset.
func (b *RowBatch) CopyRows() []Row {
	out := make([]Row, len(b.rows))
	for i, r := range b.rows {
		out[i] = r.Copy()
	}
	return out
}
