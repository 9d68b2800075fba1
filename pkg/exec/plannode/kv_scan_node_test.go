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

package plannode

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberdb/ember/pkg/exec/desc"
	"github.com/emberdb/ember/pkg/exec/execinfra"
	"github.com/emberdb/ember/pkg/exec/execspec"
)

func kvTable(t *testing.T) *desc.Table {
	t.Helper()
	tbl, err := desc.CreateTable(desc.TableSpec{Tuples: []desc.TupleSpec{
		{ID: 0, Slots: []desc.SlotSpec{
			{ID: 0, Type: desc.TypeVarchar, ColName: "key"},
			{ID: 1, Type: desc.TypeVarchar, ColName: "value"},
		}},
	}})
	require.NoError(t, err)
	return tbl
}

func openTestStore(t *testing.T) *pebble.DB {
	t.Helper()
	db, err := pebble.Open(t.TempDir(), &pebble.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("k%02d", i))
		val := []byte(fmt.Sprintf("v%02d", i))
		require.NoError(t, db.Set(key, val, pebble.Sync))
	}
	return db
}

func TestKVScanNode(t *testing.T) {
	db := openTestStore(t)
	state := newTestState(t, &execinfra.ExecEnv{KVStore: db})
	tbl := kvTable(t)

	spec := execspec.PlanNodeSpec{
		ID: 1, Type: execspec.NodeKVScan, RowTuples: []desc.TupleID{0},
		Core: execspec.NodeCoreUnion{KVScan: &execspec.KVScanSpec{TupleID: 0}},
	}
	root := buildPrepared(t, state, tbl, spec)
	root.(ScanNode).SetScanRanges([]execspec.ScanRange{
		{StartKey: []byte("k02"), EndKey: []byte("k05")},
		{StartKey: []byte("k08"), EndKey: []byte("k99")},
	})
	require.True(t, root.Open(state).OK())

	rows := drain(t, state, root)
	require.Len(t, rows, 5)
	assert.Equal(t, "k02", string(rows[0][0].Bytes))
	assert.Equal(t, "v04", string(rows[2][1].Bytes))
	assert.Equal(t, "k08", string(rows[3][0].Bytes))
	assert.Equal(t, "k09", string(rows[4][0].Bytes))

	qs := profileStatsOf(t, root)
	assert.Equal(t, int64(5), qs)
	root.Close(state)
}

func profileStatsOf(t *testing.T, n PlanNode) int64 {
	t.Helper()
	c := n.Profile().Counter("RowsRead")
	require.NotNil(t, c)
	return c.Value()
}

func TestKVScanZeroRanges(t *testing.T) {
	db := openTestStore(t)
	state := newTestState(t, &execinfra.ExecEnv{KVStore: db})
	root := buildPrepared(t, state, kvTable(t), execspec.PlanNodeSpec{
		ID: 1, Type: execspec.NodeKVScan, RowTuples: []desc.TupleID{0},
		Core: execspec.NodeCoreUnion{KVScan: &execspec.KVScanSpec{TupleID: 0}},
	})
	root.(ScanNode).SetScanRanges(nil)
	require.True(t, root.Open(state).OK())
	rows := drain(t, state, root)
	assert.Empty(t, rows)
	root.Close(state)
}

func TestKVScanRequiresStore(t *testing.T) {
	state := newTestState(t, &execinfra.ExecEnv{})
	root, st := NewTree(state, execspec.PlanSpec{Nodes: []execspec.PlanNodeSpec{{
		ID: 1, Type: execspec.NodeKVScan, RowTuples: []desc.TupleID{0},
		Core: execspec.NodeCoreUnion{KVScan: &execspec.KVScanSpec{TupleID: 0}},
	}}}, kvTable(t))
	require.True(t, st.OK())
	assert.False(t, root.Prepare(state).OK())
	root.Close(state)
}
