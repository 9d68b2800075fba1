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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberdb/ember/pkg/exec/desc"
)

func testRowDesc(t *testing.T, types ...desc.Type) desc.RowDescriptor {
	t.Helper()
	slots := make([]desc.SlotSpec, len(types))
	for i, typ := range types {
		slots[i] = desc.SlotSpec{ID: desc.SlotID(i), Type: typ}
	}
	tbl, err := desc.CreateTable(desc.TableSpec{
		Tuples: []desc.TupleSpec{{ID: 0, Slots: slots}},
	})
	require.NoError(t, err)
	rd, err := desc.MakeRowDescriptor(tbl, []desc.TupleID{0})
	require.NoError(t, err)
	return rd
}

func TestDatumCompare(t *testing.T) {
	assert.Equal(t, 0, MakeInt(3).Compare(MakeInt(3)))
	assert.Equal(t, -1, MakeInt(2).Compare(MakeInt(3)))
	assert.Equal(t, 1, MakeInt(4).Compare(MakeInt(3)))

	assert.Equal(t, -1, MakeString("a").Compare(MakeString("b")))
	assert.Equal(t, 0, MakeFloat(1.5).Compare(MakeFloat(1.5)))
	assert.Equal(t, -1, MakeBool(false).Compare(MakeBool(true)))

	// NULL sorts first.
	assert.Equal(t, -1, MakeNull(desc.TypeBigInt).Compare(MakeInt(-100)))
	assert.Equal(t, 0, MakeNull(desc.TypeBigInt).Compare(MakeNull(desc.TypeBigInt)))
}

func TestDatumHash(t *testing.T) {
	a := MakeInt(42).Hash(0)
	b := MakeInt(42).Hash(0)
	c := MakeInt(43).Hash(0)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	// The row hash covers every listed column and only those.
	r1 := Row{MakeString("ab"), MakeString("c")}
	r2 := Row{MakeString("ab"), MakeString("d")}
	assert.NotEqual(t, r1.Hash([]int{0, 1}), r2.Hash([]int{0, 1}))
	assert.Equal(t, r1.Hash([]int{0}), r2.Hash([]int{0}))
}

func TestRowCopyDetachesVarchar(t *testing.T) {
	payload := []byte("hello")
	r := Row{MakeBytes(payload)}
	cp := r.Copy()
	payload[0] = 'X'
	assert.Equal(t, "hello", string(cp[0].Bytes))
}

func TestRowBatchReuse(t *testing.T) {
	rd := testRowDesc(t, desc.TypeBigInt, desc.TypeVarchar)
	b := NewRowBatch(rd, 2)
	assert.Equal(t, 2, b.Capacity())

	require.True(t, b.AddRow(Row{MakeInt(1), MakeString("one")}))
	require.True(t, b.AddRow(Row{MakeInt(2), MakeString("two")}))
	assert.True(t, b.IsFull())
	assert.False(t, b.AddRow(Row{MakeInt(3), MakeString("three")}))
	assert.Equal(t, 2, b.NumRows())
	assert.Equal(t, "one", string(b.Row(0)[1].Bytes))

	b.Reset()
	assert.Equal(t, 0, b.NumRows())
	require.True(t, b.AddRow(Row{MakeInt(9), MakeString("nine")}))
	assert.Equal(t, int64(9), b.Row(0)[0].Int)
	assert.Equal(t, "nine", string(b.Row(0)[1].Bytes))
}

func TestRowBatchInternsVarchar(t *testing.T) {
	rd := testRowDesc(t, desc.TypeVarchar)
	b := NewRowBatch(rd, 4)
	src := []byte("mutable")
	require.True(t, b.AddRow(Row{MakeBytes(src)}))
	src[0] = 'X'
	assert.Equal(t, "mutable", string(b.Row(0)[0].Bytes))
}

func TestBlockTranspose(t *testing.T) {
	rd := testRowDesc(t, desc.TypeBigInt, desc.TypeVarchar, desc.TypeBoolean)
	blk := NewBlock(rd)
	assert.Equal(t, 3, blk.NumColumns())

	rows := []Row{
		{MakeInt(1), MakeString("a"), MakeBool(true)},
		{MakeInt(2), MakeNull(desc.TypeVarchar), MakeBool(false)},
	}
	for _, r := range rows {
		blk.AppendRow(r)
	}
	assert.Equal(t, 2, blk.NumRows())
	assert.Equal(t, []int64{1, 2}, blk.Column(0).Ints)
	assert.True(t, blk.Column(1).Nulls[1])

	got := blk.Row(1)
	assert.Equal(t, int64(2), got[0].Int)
	assert.True(t, got[1].Null)
	assert.False(t, got[2].Bool)

	blk.ClearColumnData()
	assert.Equal(t, 0, blk.NumRows())
	assert.Equal(t, 3, blk.NumColumns())
}

func TestBlockAppendBatch(t *testing.T) {
	rd := testRowDesc(t, desc.TypeBigInt)
	rb := NewRowBatch(rd, 8)
	for i := int64(0); i < 5; i++ {
		require.True(t, rb.AddRow(Row{MakeInt(i)}))
	}
	blk := NewBlock(rd)
	blk.AppendBatch(rb)
	assert.Equal(t, 5, blk.NumRows())
	assert.Equal(t, int64(4), blk.Row(4)[0].Int)
}
