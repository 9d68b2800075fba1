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

package sink

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberdb/ember/pkg/base"
	"github.com/emberdb/ember/pkg/exec/batch"
	"github.com/emberdb/ember/pkg/exec/desc"
	"github.com/emberdb/ember/pkg/exec/execinfra"
	"github.com/emberdb/ember/pkg/exec/execspec"
	"github.com/emberdb/ember/pkg/exec/execstatus"
)

func testRowDesc(t *testing.T) desc.RowDescriptor {
	t.Helper()
	tbl, err := desc.CreateTable(desc.TableSpec{Tuples: []desc.TupleSpec{
		{ID: 0, Slots: []desc.SlotSpec{
			{ID: 0, Type: desc.TypeBigInt},
			{ID: 1, Type: desc.TypeVarchar},
		}},
	}})
	require.NoError(t, err)
	rd, err := desc.MakeRowDescriptor(tbl, []desc.TupleID{0})
	require.NoError(t, err)
	return rd
}

func newSinkState(t *testing.T, env *execinfra.ExecEnv) *execinfra.RuntimeState {
	t.Helper()
	params := execspec.FragmentExecParams{
		QueryID:            execspec.NewUniqueID(),
		FragmentInstanceID: execspec.NewUniqueID(),
	}
	state := execinfra.NewRuntimeState(
		params, execspec.QueryOptions{}, execspec.QueryGlobals{}, env, base.DefaultConfig())
	require.NoError(t, state.InitMemTrackers(params.QueryID))
	return state
}

func fillBatch(t *testing.T, rd desc.RowDescriptor, n int) *batch.RowBatch {
	t.Helper()
	b := batch.NewRowBatch(rd, n)
	for i := 0; i < n; i++ {
		require.True(t, b.AddRow(batch.Row{
			batch.MakeInt(int64(i)), batch.MakeString(strings.Repeat("x", i+1)),
		}))
	}
	return b
}

func TestMemoryScratchSink(t *testing.T) {
	state := newSinkState(t, &execinfra.ExecEnv{})
	rd := testRowDesc(t)
	ds, st := New(&execspec.SinkSpec{
		Type:          execspec.SinkMemoryScratch,
		MemoryScratch: &execspec.MemoryScratchSinkSpec{},
	}, nil, execspec.FragmentExecParams{}, rd)
	require.True(t, st.OK())
	require.True(t, ds.Prepare(state).OK())
	require.True(t, ds.Open(state).OK())

	require.True(t, ds.Send(state, fillBatch(t, rd, 3)).OK())
	require.True(t, ds.Close(state, execstatus.OK()).OK())

	scratch := ds.(*MemoryScratchSink)
	assert.Len(t, scratch.Rows(), 3)
	assert.Equal(t, 1, scratch.Sends())
	assert.True(t, scratch.ClosedWith().OK())

	// A second close is a no-op but is still counted.
	require.True(t, ds.Close(state, execstatus.InternalError("late")).OK())
	assert.Equal(t, 2, scratch.CloseCalls())
	assert.True(t, scratch.ClosedWith().OK())
}

func TestMemoryScratchSinkEOF(t *testing.T) {
	state := newSinkState(t, &execinfra.ExecEnv{})
	rd := testRowDesc(t)
	ds, st := New(&execspec.SinkSpec{
		Type:          execspec.SinkMemoryScratch,
		MemoryScratch: &execspec.MemoryScratchSinkSpec{EOFAfterSends: 1},
	}, nil, execspec.FragmentExecParams{}, rd)
	require.True(t, st.OK())
	require.True(t, ds.Prepare(state).OK())

	require.True(t, ds.Send(state, fillBatch(t, rd, 2)).OK())
	st = ds.Send(state, fillBatch(t, rd, 2))
	assert.True(t, st.IsEndOfFile())
}

func TestMemoryScratchSinkProjection(t *testing.T) {
	state := newSinkState(t, &execinfra.ExecEnv{})
	rd := testRowDesc(t)
	ds, st := New(&execspec.SinkSpec{
		Type:          execspec.SinkMemoryScratch,
		MemoryScratch: &execspec.MemoryScratchSinkSpec{},
	}, []int{1}, execspec.FragmentExecParams{}, rd)
	require.True(t, st.OK())
	require.True(t, ds.Prepare(state).OK())
	require.True(t, ds.Send(state, fillBatch(t, rd, 2)).OK())

	rows := ds.(*MemoryScratchSink).Rows()
	require.Len(t, rows, 2)
	require.Len(t, rows[0], 1)
	assert.Equal(t, "x", string(rows[0][0].Bytes))
}

func TestExportSinkWritesSnappyFrames(t *testing.T) {
	state := newSinkState(t, &execinfra.ExecEnv{})
	rd := testRowDesc(t)
	dir := t.TempDir()
	fid := execspec.NewUniqueID()
	ds, st := New(&execspec.SinkSpec{
		Type: execspec.SinkExport,
		Export: &execspec.ExportSinkSpec{
			ExportPath: dir, FilePrefix: "out", ColumnSeparator: "|",
		},
	}, nil, execspec.FragmentExecParams{FragmentInstanceID: fid}, rd)
	require.True(t, st.OK())
	require.True(t, ds.Prepare(state).OK())
	require.True(t, ds.Open(state).OK())
	require.True(t, ds.Send(state, fillBatch(t, rd, 2)).OK())
	require.True(t, ds.Close(state, execstatus.OK()).OK())

	files, err := ioutil.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	raw, err := ioutil.ReadFile(filepath.Join(dir, files[0].Name()))
	require.NoError(t, err)
	decoded, err := ioutil.ReadAll(snappy.NewReader(strings.NewReader(string(raw))))
	require.NoError(t, err)
	assert.Equal(t, "0|x\n1|xx\n", string(decoded))
}

func TestExportSinkHeaderFromColumnNames(t *testing.T) {
	state := newSinkState(t, &execinfra.ExecEnv{})
	tbl, err := desc.CreateTable(desc.TableSpec{Tuples: []desc.TupleSpec{
		{ID: 0, Slots: []desc.SlotSpec{
			{ID: 0, Type: desc.TypeBigInt, ColName: "id"},
			{ID: 1, Type: desc.TypeVarchar, ColName: "name"},
		}},
	}})
	require.NoError(t, err)
	rd, err := desc.MakeRowDescriptor(tbl, []desc.TupleID{0})
	require.NoError(t, err)

	dir := t.TempDir()
	ds, st := New(&execspec.SinkSpec{
		Type:   execspec.SinkExport,
		Export: &execspec.ExportSinkSpec{ExportPath: dir},
	}, nil, execspec.FragmentExecParams{FragmentInstanceID: execspec.NewUniqueID()}, rd)
	require.True(t, st.OK())
	require.True(t, ds.Prepare(state).OK())
	require.True(t, ds.Open(state).OK())
	b := batch.NewRowBatch(rd, 2)
	require.True(t, b.AddRow(batch.Row{batch.MakeInt(7), batch.MakeString("seven")}))
	require.True(t, ds.Send(state, b).OK())
	require.True(t, ds.Close(state, execstatus.OK()).OK())

	files, err := ioutil.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	raw, err := ioutil.ReadFile(filepath.Join(dir, files[0].Name()))
	require.NoError(t, err)
	decoded, err := ioutil.ReadAll(snappy.NewReader(strings.NewReader(string(raw))))
	require.NoError(t, err)
	assert.Equal(t, "id,name\n7,seven\n", string(decoded))
}

func TestExportSinkRemovesPartialFileOnFailure(t *testing.T) {
	state := newSinkState(t, &execinfra.ExecEnv{})
	rd := testRowDesc(t)
	dir := t.TempDir()
	ds, st := New(&execspec.SinkSpec{
		Type:   execspec.SinkExport,
		Export: &execspec.ExportSinkSpec{ExportPath: dir},
	}, nil, execspec.FragmentExecParams{FragmentInstanceID: execspec.NewUniqueID()}, rd)
	require.True(t, st.OK())
	require.True(t, ds.Prepare(state).OK())
	require.True(t, ds.Open(state).OK())
	require.True(t, ds.Send(state, fillBatch(t, rd, 1)).OK())
	require.True(t, ds.Close(state, execstatus.InternalError("boom")).OK())

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

type fakeTxnMgr struct {
	committed []int64
	aborted   []int64
}

func (f *fakeTxnMgr) Commit(txnID int64) error { f.committed = append(f.committed, txnID); return nil }
func (f *fakeTxnMgr) Abort(txnID int64, reason string) error {
	f.aborted = append(f.aborted, txnID)
	return nil
}

func TestOlapTableSinkCommitsOnOK(t *testing.T) {
	txn := &fakeTxnMgr{}
	state := newSinkState(t, &execinfra.ExecEnv{TxnMgr: txn})
	rd := testRowDesc(t)
	ds, st := New(&execspec.SinkSpec{
		Type:      execspec.SinkOlapTable,
		OlapTable: &execspec.OlapTableSinkSpec{TableID: 11, TxnID: 42},
	}, nil, execspec.FragmentExecParams{}, rd)
	require.True(t, st.OK())
	require.True(t, ds.Prepare(state).OK())
	require.True(t, ds.Send(state, fillBatch(t, rd, 4)).OK())
	require.True(t, ds.Close(state, execstatus.OK()).OK())

	assert.Equal(t, []int64{42}, txn.committed)
	assert.Empty(t, txn.aborted)

	// Close is exactly-once: a second call does not commit again.
	require.True(t, ds.Close(state, execstatus.OK()).OK())
	assert.Equal(t, []int64{42}, txn.committed)
}

func TestOlapTableSinkAbortsOnFailure(t *testing.T) {
	txn := &fakeTxnMgr{}
	state := newSinkState(t, &execinfra.ExecEnv{TxnMgr: txn})
	rd := testRowDesc(t)
	ds, st := New(&execspec.SinkSpec{
		Type:      execspec.SinkOlapTable,
		OlapTable: &execspec.OlapTableSinkSpec{TableID: 11, TxnID: 43},
	}, nil, execspec.FragmentExecParams{}, rd)
	require.True(t, st.OK())
	require.True(t, ds.Prepare(state).OK())
	require.True(t, ds.Close(state, execstatus.Cancelled("cancelled")).OK())

	assert.Empty(t, txn.committed)
	assert.Equal(t, []int64{43}, txn.aborted)
}

type fakeResultQueue struct {
	rows   []batch.Row
	pushes int
	eof    bool
	final  execstatus.Status
	closed bool
}

func (q *fakeResultQueue) Push(rows []batch.Row) execstatus.Status {
	if q.eof {
		return execstatus.EndOfFile("consumer closed")
	}
	q.pushes++
	q.rows = append(q.rows, rows...)
	return execstatus.OK()
}

func (q *fakeResultQueue) Close(final execstatus.Status) {
	q.closed = true
	q.final = final
}

type fakeResultMgr struct {
	queue *fakeResultQueue
}

func (m *fakeResultMgr) CreateQueue(
	fid execspec.UniqueID, bufferSize int,
) (execinfra.ResultQueue, error) {
	return m.queue, nil
}

func (m *fakeResultMgr) UpdateQueueStatus(fid execspec.UniqueID, st execstatus.Status) {}
func (m *fakeResultMgr) Cancel(fid execspec.UniqueID)                                  {}

func TestResultSink(t *testing.T) {
	q := &fakeResultQueue{}
	state := newSinkState(t, &execinfra.ExecEnv{ResultMgr: &fakeResultMgr{queue: q}})
	rd := testRowDesc(t)
	ds, st := New(&execspec.SinkSpec{
		Type:   execspec.SinkResult,
		Result: &execspec.ResultSinkSpec{},
	}, nil, execspec.FragmentExecParams{FragmentInstanceID: execspec.NewUniqueID()}, rd)
	require.True(t, st.OK())
	require.True(t, ds.Prepare(state).OK())
	require.True(t, ds.Open(state).OK())
	require.True(t, ds.Send(state, fillBatch(t, rd, 3)).OK())
	require.True(t, ds.Close(state, execstatus.OK()).OK())

	assert.Len(t, q.rows, 3)
	assert.True(t, q.closed)
	assert.True(t, q.final.OK())

	// A consumer that went away surfaces as EOF, not as an error.
	q.eof = true
	st = ds.Send(state, fillBatch(t, rd, 1))
	assert.True(t, st.IsEndOfFile())
}

func TestSinkFactoryValidation(t *testing.T) {
	rd := testRowDesc(t)
	_, st := New(&execspec.SinkSpec{Type: execspec.SinkExport}, nil,
		execspec.FragmentExecParams{}, rd)
	assert.Equal(t, execstatus.CodeInvalidArgument, st.Code())
}
