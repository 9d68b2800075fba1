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

import "github.com/emberdb/ember/pkg/exec/desc"

// ColumnVector is one column of a Block: a typed value vector plus a null
// bitmap. Only the vector matching the slot type is populated.
type ColumnVector struct {
	Slot   desc.SlotDescriptor
	Nulls  []bool
	Ints   []int64
	Floats []float64
	Bytes  [][]byte
	Bools  []bool
}

func (c *ColumnVector) clear() {
	c.Nulls = c.Nulls[:0]
	c.Ints = c.Ints[:0]
	c.Floats = c.Floats[:0]
	c.Bytes = c.Bytes[:0]
	c.Bools = c.Bools[:0]
}

func (c *ColumnVector) appendDatum(d Datum) {
	c.Nulls = append(c.Nulls, d.Null)
	switch c.Slot.Type {
	case desc.TypeBigInt:
		c.Ints = append(c.Ints, d.Int)
	case desc.TypeDouble:
		c.Floats = append(c.Floats, d.Float)
	case desc.TypeVarchar:
		c.Bytes = append(c.Bytes, d.Bytes)
	case desc.TypeBoolean:
		c.Bools = append(c.Bools, d.Bool)
	}
}

func (c *ColumnVector) datum(i int) Datum {
	d := Datum{Kind: c.Slot.Type, Null: c.Nulls[i]}
	switch c.Slot.Type {
	case desc.TypeBigInt:
		d.Int = c.Ints[i]
	case desc.TypeDouble:
		d.Float = c.Floats[i]
	case desc.TypeVarchar:
		d.Bytes = c.Bytes[i]
	case desc.TypeBoolean:
		d.Bool = c.Bools[i]
	}
	return d
}

// Block is the column-oriented carrier. Like RowBatch it is reused across
// Next calls; ClearColumnData drops the values but keeps the layout.
type Block struct {
	rowDesc desc.RowDescriptor
	cols    []ColumnVector
	numRows int
}

// NewBlock creates an empty block laid out per the row descriptor.
func NewBlock(rd desc.RowDescriptor) *Block {
	slots := rd.Slots()
	b := &Block{rowDesc: rd, cols: make([]ColumnVector, len(slots))}
	for i, s := range slots {
		b.cols[i].Slot = s
	}
	return b
}

// RowDesc returns the block's row descriptor.
func (b *Block) RowDesc() desc.RowDescriptor { return b.rowDesc }

// NumRows returns the block's row count.
func (b *Block) NumRows() int { return b.numRows }

// NumColumns returns the block's column count.
func (b *Block) NumColumns() int { return len(b.cols) }

// Column returns the i-th column vector.
func (b *Block) Column(i int) *ColumnVector { return &b.cols[i] }

// ClearColumnData resets all vectors for reuse, keeping the layout.
func (b *Block) ClearColumnData() {
	for i := range b.cols {
		b.cols[i].clear()
	}
	b.numRows = 0
}

// AppendRow transposes one row into the column vectors.
func (b *Block) AppendRow(r Row) {
	for i := range b.cols {
		b.cols[i].appendDatum(r[i])
	}
	b.numRows++
}

// AppendBatch transposes every row of rb into the block.
func (b *Block) AppendBatch(rb *RowBatch) {
	for _, r := range rb.Rows() {
		b.AppendRow(r)
	}
}

// Row materializes the i-th row. The returned row shares varchar payloads
// with the block.
func (b *Block) Row(i int) Row {
	r := make(Row, len(b.cols))
	for c := range b.cols {
		r[c] = b.cols[c].datum(i)
	}
	return r
}
