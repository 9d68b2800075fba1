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

package fragexec

import (
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberdb/ember/pkg/base"
	"github.com/emberdb/ember/pkg/exec/batch"
	"github.com/emberdb/ember/pkg/exec/desc"
	"github.com/emberdb/ember/pkg/exec/execinfra"
	"github.com/emberdb/ember/pkg/exec/execspec"
	"github.com/emberdb/ember/pkg/exec/execstatus"
	"github.com/emberdb/ember/pkg/exec/profile"
	"github.com/emberdb/ember/pkg/exec/sink"
	"github.com/emberdb/ember/pkg/exec/streammgr"
)

// reportEntry is one callback invocation.
type reportEntry struct {
	status execstatus.Status
	prof   *profile.Profile
	done   bool
}

// reportRecorder captures reporter callbacks.
type reportRecorder struct {
	mu      sync.Mutex
	entries []reportEntry
}

func (r *reportRecorder) cb(st execstatus.Status, prof *profile.Profile, done bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, reportEntry{status: st, prof: prof, done: done})
}

func (r *reportRecorder) doneCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.done {
			n++
		}
	}
	return n
}

func (r *reportRecorder) lastEntry() (reportEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return reportEntry{}, false
	}
	return r.entries[len(r.entries)-1], true
}

func (r *reportRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func testConfig() base.Config {
	return base.Config{
		StatusReportInterval: 20 * time.Millisecond,
		BatchSize:            1024,
		MemLimit:             1 << 30,
		ExchangeBufSize:      16,
	}
}

func testEnv() *execinfra.ExecEnv {
	return &execinfra.ExecEnv{StreamMgr: streammgr.New(16)}
}

func intDescTable() execspec.TableSpecOpt {
	return execspec.TableSpecOpt{Set: true, Spec: desc.TableSpec{
		Tuples: []desc.TupleSpec{{ID: 0, Slots: []desc.SlotSpec{
			{ID: 0, Type: desc.TypeBigInt},
		}}},
	}}
}

func intRows(n int) []batch.Row {
	rows := make([]batch.Row, n)
	for i := range rows {
		rows[i] = batch.Row{batch.MakeInt(int64(i))}
	}
	return rows
}

func memScanSpec(id execspec.PlanNodeID, rows []batch.Row) execspec.PlanNodeSpec {
	return execspec.PlanNodeSpec{
		ID:        id,
		Type:      execspec.NodeMemoryScan,
		RowTuples: []desc.TupleID{0},
		Core: execspec.NodeCoreUnion{
			MemoryScan: &execspec.MemoryScanSpec{TupleID: 0, Rows: rows},
		},
	}
}

// scanToScratchRequest builds a fragment: memory scan -> scratch sink.
func scanToScratchRequest(nRows int, scratch execspec.MemoryScratchSinkSpec) *execspec.ExecRequest {
	return &execspec.ExecRequest{
		Params: execspec.FragmentExecParams{
			QueryID:            execspec.NewUniqueID(),
			FragmentInstanceID: execspec.NewUniqueID(),
			NumSenders:         1,
		},
		Fragment: execspec.FragmentSpec{
			Plan: execspec.PlanSpec{Nodes: []execspec.PlanNodeSpec{
				memScanSpec(1, intRows(nRows)),
			}},
			OutputSink: &execspec.SinkSpec{
				Type:          execspec.SinkMemoryScratch,
				MemoryScratch: &scratch,
			},
		},
		QueryOptions: execspec.QueryOptions{IsReportSuccess: true},
		DescTbl:      intDescTable(),
		BackendNum:   3,
		BackendID:    5,
	}
}

func TestHappyPathDriven(t *testing.T) {
	defer leaktest.Check(t)()
	rec := &reportRecorder{}
	exec := New(testEnv(), testConfig(), rec.cb)
	defer exec.Close()

	req := scanToScratchRequest(10, execspec.MemoryScratchSinkSpec{})
	st := exec.Prepare(req, nil)
	require.True(t, st.OK(), "prepare: %s", st)

	st = exec.Open()
	require.True(t, st.OK(), "open: %s", st)

	scratch := exec.Sink().(*sink.MemoryScratchSink)
	assert.Len(t, scratch.Rows(), 10)
	assert.Equal(t, 1, scratch.CloseCalls())
	assert.True(t, scratch.ClosedWith().OK())

	assert.Equal(t, int64(10), exec.Profile().Counter("RowsProduced").Value())

	assert.Equal(t, 1, rec.doneCount())
	last, ok := rec.lastEntry()
	require.True(t, ok)
	assert.True(t, last.done)
	assert.True(t, last.status.OK())
	require.NotNil(t, last.prof)

	exec.Close()
	// Exactly one final report even after close.
	assert.Equal(t, 1, rec.doneCount())
}

func TestGracefulSinkEOF(t *testing.T) {
	defer leaktest.Check(t)()
	rec := &reportRecorder{}
	cfg := testConfig()
	cfg.BatchSize = 100 // 1000 rows -> ten batches; the sink accepts only the first
	exec := New(testEnv(), cfg, rec.cb)
	defer exec.Close()

	req := scanToScratchRequest(1000, execspec.MemoryScratchSinkSpec{EOFAfterSends: 1})
	require.True(t, exec.Prepare(req, nil).OK())

	st := exec.Open()
	require.True(t, st.OK(), "open after sink EOF: %s", st)

	scratch := exec.Sink().(*sink.MemoryScratchSink)
	assert.Equal(t, 1, scratch.Sends())
	assert.Equal(t, 1, scratch.CloseCalls())

	assert.Equal(t, 1, rec.doneCount())
	last, _ := rec.lastEntry()
	assert.True(t, last.status.OK())

	exec.Close()
	assert.Equal(t, 1, scratch.CloseCalls())
}

// exchangeRequest builds a fragment whose root is an exchange expecting one
// sender; with no data flowing its Next blocks until cancelled.
func exchangeRequest(senders map[execspec.PlanNodeID]int) *execspec.ExecRequest {
	return &execspec.ExecRequest{
		Params: execspec.FragmentExecParams{
			QueryID:            execspec.NewUniqueID(),
			FragmentInstanceID: execspec.NewUniqueID(),
			NumSenders:         1,
			PerExchNumSenders:  senders,
		},
		Fragment: execspec.FragmentSpec{
			Plan: execspec.PlanSpec{Nodes: []execspec.PlanNodeSpec{{
				ID: 1, Type: execspec.NodeExchange, RowTuples: []desc.TupleID{0},
				Core: execspec.NodeCoreUnion{Exchange: &execspec.ExchangeSpec{}},
			}}},
			OutputSink: &execspec.SinkSpec{
				Type:          execspec.SinkMemoryScratch,
				MemoryScratch: &execspec.MemoryScratchSinkSpec{},
			},
		},
		QueryOptions: execspec.QueryOptions{IsReportSuccess: true},
		DescTbl:      intDescTable(),
	}
}

func TestMidExecutionCancel(t *testing.T) {
	defer leaktest.Check(t)()
	rec := &reportRecorder{}
	exec := New(testEnv(), testConfig(), rec.cb)
	defer exec.Close()

	req := exchangeRequest(map[execspec.PlanNodeID]int{1: 1})
	require.True(t, exec.Prepare(req, nil).OK())

	go func() {
		time.Sleep(30 * time.Millisecond)
		exec.Cancel(execstatus.CancelMemoryLimitExceed, "oom")
	}()

	st := exec.Open()
	require.False(t, st.OK())
	assert.Equal(t, execstatus.CodeMemLimitExceeded, st.Code())
	assert.Equal(t, "oom", st.Message())

	assert.Equal(t, 1, rec.doneCount())
	last, _ := rec.lastEntry()
	assert.Equal(t, execstatus.CodeMemLimitExceeded, last.status.Code())

	exec.Close()
	assert.Equal(t, 1, rec.doneCount())
}

func TestCancelRPCErrorRewrite(t *testing.T) {
	defer leaktest.Check(t)()
	rec := &reportRecorder{}
	exec := New(testEnv(), testConfig(), rec.cb)
	defer exec.Close()

	req := exchangeRequest(map[execspec.PlanNodeID]int{1: 1})
	require.True(t, exec.Prepare(req, nil).OK())

	go func() {
		time.Sleep(30 * time.Millisecond)
		exec.Cancel(execstatus.CancelCallRPCError, "peer went away")
	}()

	st := exec.Open()
	assert.Equal(t, execstatus.CodeRuntimeError, st.Code())
	assert.Equal(t, "peer went away", st.Message())
}

func TestPrepareFailureMissingSenderCount(t *testing.T) {
	defer leaktest.Check(t)()
	rec := &reportRecorder{}
	exec := New(testEnv(), testConfig(), rec.cb)

	// No entry for exchange node 1: defaults to zero senders.
	req := exchangeRequest(nil)
	st := exec.Prepare(req, nil)
	require.False(t, st.OK())
	assert.Equal(t, execstatus.CodeInvalidArgument, st.Code())

	// Open is never called. Close still completes and hands the sink
	// INTERNAL_ERROR("prepare failed").
	exec.Close()
	scratch := exec.Sink().(*sink.MemoryScratchSink)
	assert.Equal(t, 1, scratch.CloseCalls())
	closedWith := scratch.ClosedWith()
	assert.Equal(t, execstatus.CodeInternalError, closedWith.Code())
	assert.Equal(t, "prepare failed", closedWith.Message())

	// Close is idempotent.
	exec.Close()
	assert.Equal(t, 1, scratch.CloseCalls())
}

func TestPullModeEOS(t *testing.T) {
	defer leaktest.Check(t)()
	rec := &reportRecorder{}
	cfg := testConfig()
	cfg.BatchSize = 5
	exec := New(testEnv(), cfg, rec.cb)
	defer exec.Close()

	req := scanToScratchRequest(8, execspec.MemoryScratchSinkSpec{})
	req.Fragment.OutputSink = nil
	require.True(t, exec.Prepare(req, nil).OK())
	require.True(t, exec.Open().OK())

	b, st := exec.GetNext()
	require.True(t, st.OK())
	require.NotNil(t, b)
	assert.Equal(t, 5, b.NumRows())

	b, st = exec.GetNext()
	require.True(t, st.OK())
	require.NotNil(t, b)
	assert.Equal(t, 3, b.NumRows())

	b, st = exec.GetNext()
	require.True(t, st.OK())
	assert.Nil(t, b)

	assert.Equal(t, 1, rec.doneCount())
	assert.Equal(t, int64(8), exec.Profile().Counter("RowsProduced").Value())

	// Further calls keep returning EOS without extra reports.
	b, st = exec.GetNext()
	require.True(t, st.OK())
	assert.Nil(t, b)
	assert.Equal(t, 1, rec.doneCount())
}

func TestDoubleCancelDoubleClose(t *testing.T) {
	defer leaktest.Check(t)()
	rec := &reportRecorder{}
	exec := New(testEnv(), testConfig(), rec.cb)

	req := exchangeRequest(map[execspec.PlanNodeID]int{1: 1})
	require.True(t, exec.Prepare(req, nil).OK())

	go func() {
		time.Sleep(30 * time.Millisecond)
		exec.Cancel(execstatus.CancelMemoryLimitExceed, "first")
		exec.Cancel(execstatus.CancelCallRPCError, "second")
	}()

	st := exec.Open()
	// The first cancel's reason wins.
	assert.Equal(t, execstatus.CodeMemLimitExceeded, st.Code())
	assert.Equal(t, "first", st.Message())

	reports := rec.doneCount()
	assert.Equal(t, 1, reports)

	exec.Close()
	exec.Close()
	assert.Equal(t, reports, rec.doneCount())
}

func TestZeroScanRangesTerminatesCleanly(t *testing.T) {
	defer leaktest.Check(t)()
	rec := &reportRecorder{}
	exec := New(testEnv(), testConfig(), rec.cb)
	defer exec.Close()

	req := scanToScratchRequest(0, execspec.MemoryScratchSinkSpec{})
	require.True(t, exec.Prepare(req, nil).OK())
	require.True(t, exec.Open().OK())

	scratch := exec.Sink().(*sink.MemoryScratchSink)
	assert.Empty(t, scratch.Rows())
	assert.Equal(t, 1, rec.doneCount())
}

func TestPeriodicReportsPrecedeFinal(t *testing.T) {
	defer leaktest.Check(t)()
	rec := &reportRecorder{}
	cfg := testConfig()
	cfg.StatusReportInterval = 5 * time.Millisecond
	env := testEnv()
	exec := New(env, cfg, rec.cb)
	defer exec.Close()

	req := exchangeRequest(map[execspec.PlanNodeID]int{1: 1})
	require.True(t, exec.Prepare(req, nil).OK())

	fid := req.Params.FragmentInstanceID
	go func() {
		// Let a few reporting intervals elapse before feeding EOS.
		time.Sleep(60 * time.Millisecond)
		env.StreamMgr.CloseSender(fid, 1)
	}()

	require.True(t, exec.Open().OK())

	assert.Equal(t, 1, rec.doneCount())
	assert.Greater(t, rec.count(), 1, "expected non-final reports before the final one")
	last, _ := rec.lastEntry()
	assert.True(t, last.done)
}

func TestReporterDisabledStillSendsFinal(t *testing.T) {
	defer leaktest.Check(t)()
	rec := &reportRecorder{}
	cfg := testConfig()
	cfg.StatusReportInterval = 0
	exec := New(testEnv(), cfg, rec.cb)
	defer exec.Close()

	req := scanToScratchRequest(4, execspec.MemoryScratchSinkSpec{})
	require.True(t, exec.Prepare(req, nil).OK())
	require.True(t, exec.Open().OK())

	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 1, rec.doneCount())
}

func TestReportSuccessDisabledSkipsOKFinal(t *testing.T) {
	defer leaktest.Check(t)()
	rec := &reportRecorder{}
	exec := New(testEnv(), testConfig(), rec.cb)
	defer exec.Close()

	req := scanToScratchRequest(4, execspec.MemoryScratchSinkSpec{})
	req.QueryOptions.IsReportSuccess = false
	require.True(t, exec.Prepare(req, nil).OK())
	require.True(t, exec.Open().OK())

	// A successful instance with success-reporting off says nothing.
	assert.Equal(t, 0, rec.count())
}

func TestReportingFullyDisabled(t *testing.T) {
	defer leaktest.Check(t)()
	rec := &reportRecorder{}
	exec := New(testEnv(), testConfig(), rec.cb)
	defer exec.Close()

	req := exchangeRequest(map[execspec.PlanNodeID]int{1: 1})
	req.QueryOptions.IsReportSuccess = false
	require.True(t, exec.Prepare(req, nil).OK())
	exec.SetIsReportOnCancel(false)

	go func() {
		time.Sleep(20 * time.Millisecond)
		exec.Cancel(execstatus.CancelInternalError, "limit reached")
	}()
	st := exec.Open()
	require.False(t, st.OK())

	// Success- and cancel-reporting both off: total silence.
	assert.Equal(t, 0, rec.count())
}

func TestUpdateStatusMonotonic(t *testing.T) {
	defer leaktest.Check(t)()
	rec := &reportRecorder{}
	exec := New(testEnv(), testConfig(), rec.cb)
	defer exec.Close()

	req := scanToScratchRequest(1, execspec.MemoryScratchSinkSpec{})
	require.True(t, exec.Prepare(req, nil).OK())

	first := execstatus.InternalError("first failure")
	exec.updateStatus(first)
	exec.updateStatus(execstatus.OK())
	exec.updateStatus(execstatus.InternalError("second failure"))

	assert.Equal(t, first, exec.currentStatus())
	assert.Equal(t, 1, rec.doneCount())
}

func TestSetAbort(t *testing.T) {
	defer leaktest.Check(t)()
	rec := &reportRecorder{}
	exec := New(testEnv(), testConfig(), rec.cb)
	defer exec.Close()

	req := scanToScratchRequest(1, execspec.MemoryScratchSinkSpec{})
	require.True(t, exec.Prepare(req, nil).OK())
	exec.SetAbort()

	assert.Equal(t, execstatus.CodeAborted, exec.currentStatus().Code())
	assert.Equal(t, 1, rec.doneCount())
}

func TestPrepareTwiceFails(t *testing.T) {
	defer leaktest.Check(t)()
	exec := New(testEnv(), testConfig(), nil)
	defer exec.Close()

	req := scanToScratchRequest(1, execspec.MemoryScratchSinkSpec{})
	require.True(t, exec.Prepare(req, nil).OK())
	st := exec.Prepare(req, nil)
	assert.Equal(t, execstatus.CodeInternalError, st.Code())
}

func TestTwoFragmentExchangePipeline(t *testing.T) {
	defer leaktest.Check(t)()
	env := testEnv()
	cfg := testConfig()

	recvRec := &reportRecorder{}
	recvExec := New(env, cfg, recvRec.cb)
	defer recvExec.Close()

	recvReq := exchangeRequest(map[execspec.PlanNodeID]int{1: 1})
	require.True(t, recvExec.Prepare(recvReq, nil).OK())

	// Producer fragment: memory scan -> data stream sink addressed at the
	// receiver's exchange node.
	sendRec := &reportRecorder{}
	sendExec := New(env, cfg, sendRec.cb)
	defer sendExec.Close()

	sendReq := &execspec.ExecRequest{
		Params: execspec.FragmentExecParams{
			QueryID:            recvReq.Params.QueryID,
			FragmentInstanceID: execspec.NewUniqueID(),
			NumSenders:         1,
		},
		Fragment: execspec.FragmentSpec{
			Plan: execspec.PlanSpec{Nodes: []execspec.PlanNodeSpec{
				memScanSpec(10, intRows(10)),
			}},
			OutputSink: &execspec.SinkSpec{
				Type: execspec.SinkDataStream,
				DataStream: &execspec.DataStreamSinkSpec{
					DestNodeID: 1,
					Destinations: []execspec.StreamDestination{{
						FragmentInstanceID: recvReq.Params.FragmentInstanceID,
						DestNodeID:         1,
					}},
				},
			},
		},
		QueryOptions: execspec.QueryOptions{IsReportSuccess: true},
		DescTbl:      intDescTable(),
	}
	require.True(t, sendExec.Prepare(sendReq, nil).OK())
	require.True(t, sendExec.Open().OK())

	require.True(t, recvExec.Open().OK())

	scratch := recvExec.Sink().(*sink.MemoryScratchSink)
	assert.Len(t, scratch.Rows(), 10)
	assert.Equal(t, int64(10), recvExec.Profile().Counter("RowsProduced").Value())
	assert.Equal(t, 1, recvRec.doneCount())
	assert.Equal(t, 1, sendRec.doneCount())
}

func TestVectorizedDrive(t *testing.T) {
	defer leaktest.Check(t)()
	rec := &reportRecorder{}
	exec := New(testEnv(), testConfig(), rec.cb)
	defer exec.Close()

	req := scanToScratchRequest(7, execspec.MemoryScratchSinkSpec{})
	req.QueryOptions.EnableVectorized = true
	require.True(t, exec.Prepare(req, nil).OK())
	require.True(t, exec.Open().OK())

	scratch := exec.Sink().(*sink.MemoryScratchSink)
	assert.Len(t, scratch.Rows(), 7)
	assert.Equal(t, int64(7), exec.Profile().Counter("RowsProduced").Value())
	assert.Equal(t, 1, rec.doneCount())
}

func TestQueryStatisticsWithEveryBatch(t *testing.T) {
	defer leaktest.Check(t)()
	exec := New(testEnv(), testConfig(), nil)
	defer exec.Close()

	req := scanToScratchRequest(6, execspec.MemoryScratchSinkSpec{})
	req.Params.SendQueryStatisticsWithEveryBatch = true
	require.True(t, exec.Prepare(req, nil).OK())
	require.True(t, exec.Open().OK())

	assert.Equal(t, int64(6), exec.queryStats.ScanRows())
	// BackendID was set on the request, so node statistics exist for it.
	assert.NotNil(t, exec.queryStats.NodeStatistics(5))
}

func TestBorrowedDescriptorTable(t *testing.T) {
	defer leaktest.Check(t)()
	tbl, err := desc.CreateTable(intDescTable().Spec)
	require.NoError(t, err)
	queryCtx := &execinfra.QueryContext{DescTbl: tbl}

	exec := New(testEnv(), testConfig(), nil)
	defer exec.Close()

	req := scanToScratchRequest(3, execspec.MemoryScratchSinkSpec{})
	req.DescTbl = execspec.TableSpecOpt{} // not set; must come from the ctx
	require.True(t, exec.Prepare(req, queryCtx).OK())
	require.True(t, exec.Open().OK())
	assert.Len(t, exec.Sink().(*sink.MemoryScratchSink).Rows(), 3)
}
