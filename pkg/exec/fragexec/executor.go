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

// Package fragexec implements the fragment executor: the runtime machine
// that takes one fragment instance, prepares its operator tree, drives it to
// completion (feeding a sink or yielding batches to an external consumer),
// handles cancellation and failure, and periodically reports progress back
// to the coordinator.
package fragexec

import (
	"bytes"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"

	"github.com/emberdb/ember/pkg/base"
	"github.com/emberdb/ember/pkg/exec/batch"
	"github.com/emberdb/ember/pkg/exec/desc"
	"github.com/emberdb/ember/pkg/exec/execinfra"
	"github.com/emberdb/ember/pkg/exec/execspec"
	"github.com/emberdb/ember/pkg/exec/execstatus"
	"github.com/emberdb/ember/pkg/exec/plannode"
	"github.com/emberdb/ember/pkg/exec/profile"
	"github.com/emberdb/ember/pkg/exec/sink"
)

// ReportStatusCallback receives profile reports. done is true exactly once
// per instance, when the instance terminates or fails; profile is nil when
// success reporting is disabled.
type ReportStatusCallback func(st execstatus.Status, prof *profile.Profile, done bool)

// FragmentExecutor drives one fragment instance through
// prepare -> open -> (drive | get-next...) -> close.
//
// The caller of Open is the driver thread; plan operations run on it. An
// optional reporter goroutine reads the profile concurrently. Cancel may be
// called from any thread at any time after Prepare.
type FragmentExecutor struct {
	env      *execinfra.ExecEnv
	cfg      base.Config
	reportCb ReportStatusCallback

	queryID execspec.UniqueID

	state *execinfra.RuntimeState
	plan  plannode.PlanNode
	// snk is the driving handle, dropped once the sink closes; sinkHandle
	// keeps the object reachable for consumers that read results out of it
	// (memory scratch) after the fragment finishes.
	snk        sink.DataSink
	sinkHandle sink.DataSink

	rowBatch *batch.RowBatch
	block    *batch.Block

	queryStats          *profile.QueryStatistics
	rowsProducedCounter *profile.Counter
	fragmentCPUTimer    *profile.Counter
	nextDurations       *profile.DurationHistogram

	prepared bool
	closed   bool
	done     bool

	isReportSuccess            bool
	isReportOnCancel           bool
	collectStatsWithEveryBatch bool

	// status is the executor's single status slot. Monotonic: once non-OK
	// it is never overwritten.
	statusMu sync.Mutex
	status   execstatus.Status

	cancelMu     sync.Mutex
	cancelReason execstatus.CancelReason
	cancelMsg    string

	rep reporter

	// finalReport guarantees the done=true callback fires exactly once even
	// though several exit paths request it.
	finalReport sync.Once
}

// New creates an executor bound to the process environment and config. The
// callback may be nil when the submitter does not want reports.
func New(env *execinfra.ExecEnv, cfg base.Config, cb ReportStatusCallback) *FragmentExecutor {
	return &FragmentExecutor{
		env:              env,
		cfg:              cfg,
		reportCb:         cb,
		isReportOnCancel: true,
	}
}

// Profile returns the instance's profile root; nil before Prepare.
func (e *FragmentExecutor) Profile() *profile.Profile {
	if e.state == nil {
		return nil
	}
	return e.state.Profile()
}

// RuntimeState exposes the runtime context to embedding servers; nil before
// Prepare.
func (e *FragmentExecutor) RuntimeState() *execinfra.RuntimeState { return e.state }

// Sink returns the fragment's sink object, nil in pull mode. Unlike the
// driving handle it stays valid after the sink closes, so internal consumers
// can read scratch results back out.
func (e *FragmentExecutor) Sink() sink.DataSink { return e.sinkHandle }

func (e *FragmentExecutor) logger() *logrus.Entry {
	fields := logrus.Fields{"query_id": e.queryID}
	if e.state != nil {
		fields["instance_id"] = e.state.FragmentInstanceID()
	}
	return logrus.WithFields(fields)
}

// Prepare materializes the runtime state, the plan tree and the optional
// sink from the request. Must be called exactly once.
func (e *FragmentExecutor) Prepare(
	req *execspec.ExecRequest, queryCtx *execinfra.QueryContext,
) execstatus.Status {
	if e.state != nil {
		return execstatus.InternalError("prepare called twice")
	}
	params := req.Params
	e.queryID = params.QueryID

	globals := req.QueryGlobals
	if queryCtx != nil {
		globals = queryCtx.QueryGlobals
	}
	e.state = execinfra.NewRuntimeState(params, req.QueryOptions, globals, e.env, e.cfg)

	e.logger().WithFields(logrus.Fields{
		"backend_num": req.BackendNum,
	}).Info("fragment executor prepare")

	span := opentracing.GlobalTracer().StartSpan("fragment_instance")
	span.SetTag("query_id", e.queryID.String())
	span.SetTag("instance_id", params.FragmentInstanceID.String())
	e.state.SetSpan(span)

	if err := e.state.InitMemTrackers(e.queryID); err != nil {
		return execinfra.StatusFromError(err)
	}
	e.state.SetBackendNum(req.BackendNum)
	if req.BackendID != 0 {
		e.state.SetBackendID(req.BackendID)
	}
	if req.ImportLabel != "" {
		e.state.SetImportLabel(req.ImportLabel)
	}
	if req.DBName != "" {
		e.state.SetDBName(req.DBName)
	}
	if req.LoadJobID != 0 {
		e.state.SetLoadJobID(req.LoadJobID)
	}
	e.isReportSuccess = req.QueryOptions.IsReportSuccess

	// Descriptor table: borrowed from the shared query context, or
	// materialized from the request.
	var descTbl *desc.Table
	if queryCtx != nil {
		descTbl = queryCtx.DescTbl
	} else {
		if !req.DescTbl.Set {
			return execstatus.InvalidArgument("request carries no descriptor table")
		}
		tbl, err := desc.CreateTable(req.DescTbl.Spec)
		if err != nil {
			return execstatus.InvalidArgument("%s", err.Error())
		}
		descTbl = tbl
	}
	e.state.SetDescTbl(descTbl)

	plan, st := plannode.NewTree(e.state, req.Fragment.Plan, descTbl)
	if !st.OK() {
		return st
	}
	e.plan = plan
	e.state.SetFragmentRootID(plan.ID())

	// The sink object is constructed before the plan prepares so that a
	// prepare failure still closes it (with "prepare failed") from Close.
	if req.Fragment.OutputSink != nil {
		snk, st := sink.New(
			req.Fragment.OutputSink, req.Fragment.OutputExprs, params, e.plan.RowDesc())
		if !st.OK() {
			return st
		}
		e.snk = snk
		e.sinkHandle = snk
	}

	// Exchange sender counts must be installed before Prepare; a missing
	// map entry leaves zero, which the node rejects.
	var exchNodes []plannode.PlanNode
	plannode.CollectNodes(e.plan, execspec.NodeExchange, &exchNodes)
	for _, n := range exchNodes {
		n.(plannode.ExchangeNode).SetNumSenders(params.PerExchNumSenders[n.ID()])
	}

	if st := e.plan.Prepare(e.state); !st.OK() {
		return st
	}

	plannode.TryDoAggregateSerdeImprove(e.plan)

	// Bind scan ranges; nodes without an entry scan nothing.
	var scanNodes []plannode.ScanNode
	plannode.CollectScanNodes(e.plan, &scanNodes)
	for _, sn := range scanNodes {
		sn.SetScanRanges(params.PerNodeScanRanges[sn.ID()])
	}

	e.state.SetPerFragmentInstanceIdx(params.SenderID)
	e.state.SetNumPerFragmentInstances(params.NumSenders)

	// Sink, if the fragment has one.
	if e.snk != nil {
		if st := e.snk.Prepare(e.state); !st.OK() {
			return st
		}
		if sp := e.snk.Profile(); sp != nil {
			e.Profile().AddChild(sp)
		}
		e.collectStatsWithEveryBatch = params.SendQueryStatisticsWithEveryBatch
	}

	e.Profile().AddChild(e.plan.Profile())
	e.rowsProducedCounter = e.Profile().AddCounter("RowsProduced", profile.UnitRows)
	e.fragmentCPUTimer = e.Profile().AddTimer("FragmentCpuTime")
	e.nextDurations = e.Profile().AddDurationHistogram("NextDuration")

	e.rowBatch = batch.NewRowBatch(e.plan.RowDesc(), e.state.BatchSize())
	e.block = batch.NewBlock(e.plan.RowDesc())

	e.queryStats = profile.NewQueryStatistics()
	if e.snk != nil {
		e.snk.SetQueryStatistics(e.queryStats)
	}

	e.prepared = true
	fragmentsPrepared.Inc()
	fragmentsActive.Inc()
	return execstatus.OK()
}

// Open runs the instance. With a sink it drives the plan to completion and
// returns the final status; without one it opens the plan and returns,
// leaving consumption to GetNext.
func (e *FragmentExecutor) Open() execstatus.Status {
	if !e.prepared {
		return execstatus.InternalError("open before prepare")
	}
	memLimit := e.state.InstanceTracker().Limit()
	e.logger().WithFields(logrus.Fields{
		"mem_limit": humanize.IBytes(uint64(memLimit)),
	}).Info("fragment executor open")

	// The reporter must be up before Open since the plan may block; the
	// startup handshake keeps a later stop from racing the spawn.
	if e.isReportSuccess && e.reportCb != nil && e.cfg.StatusReportInterval > 0 {
		e.startReporter()
	}

	var st execstatus.Status
	if e.state.QueryOptions().EnableVectorized {
		st = e.openVectorizedInternal()
	} else {
		st = e.openInternal()
	}

	if !st.OK() && !st.IsCancelled() && e.state.LogHasSpace() {
		// Queries that do not fetch results (e.g. loads) may never see the
		// returned status; keep the message in the instance log too.
		e.state.LogError(st.Message())
	}
	if st.IsCancelled() {
		e.cancelMu.Lock()
		reason, msg := e.cancelReason, e.cancelMsg
		e.cancelMu.Unlock()
		switch reason {
		case execstatus.CancelCallRPCError:
			st = execstatus.RuntimeError("%s", msg)
		case execstatus.CancelMemoryLimitExceed:
			st = execstatus.MemLimitExceeded("%s", msg)
		}
	}

	e.updateStatus(st)
	return st
}

// withTimers runs f, charging its wall time to the fragment cpu timer and
// the profile's total time.
func (e *FragmentExecutor) withTimers(f func() execstatus.Status) execstatus.Status {
	start := time.Now()
	st := f()
	el := int64(time.Since(start))
	e.fragmentCPUTimer.Update(el)
	e.Profile().TotalTimeCounter().Update(el)
	return st
}

func (e *FragmentExecutor) openInternal() execstatus.Status {
	if st := e.withTimers(func() execstatus.Status { return e.plan.Open(e.state) }); !st.OK() {
		return st
	}
	if e.snk == nil {
		return execstatus.OK()
	}
	if st := e.withTimers(func() execstatus.Status { return e.snk.Open(e.state) }); !st.OK() {
		return st
	}

	// Drive the sink here so that when Open returns the query has actually
	// finished.
	for {
		b, st := e.getNextInternal()
		if !st.OK() {
			return st
		}
		if b == nil {
			break
		}
		if e.collectStatsWithEveryBatch {
			e.collectQueryStatistics()
		}
		sendSt := e.withTimers(func() execstatus.Status { return e.snk.Send(e.state, b) })
		if sendSt.IsEndOfFile() {
			break
		}
		if !sendSt.OK() {
			return sendSt
		}
	}
	return e.finishSink()
}

func (e *FragmentExecutor) openVectorizedInternal() execstatus.Status {
	if st := e.withTimers(func() execstatus.Status { return e.plan.Open(e.state) }); !st.OK() {
		return st
	}
	if e.snk == nil {
		return execstatus.OK()
	}
	if st := e.withTimers(func() execstatus.Status { return e.snk.Open(e.state) }); !st.OK() {
		return st
	}

	for {
		blk, st := e.getNextBlockInternal()
		if !st.OK() {
			return st
		}
		if blk == nil {
			break
		}
		if e.collectStatsWithEveryBatch {
			e.collectQueryStatistics()
		}
		sendSt := e.withTimers(func() execstatus.Status { return e.snk.Send(e.state, blk) })
		if sendSt.IsEndOfFile() {
			break
		}
		if !sendSt.OK() {
			return sendSt
		}
	}
	return e.finishSink()
}

// finishSink collects statistics, closes the sink exactly once with the
// accumulated status, and emits the final report.
func (e *FragmentExecutor) finishSink() execstatus.Status {
	e.collectQueryStatistics()
	closeSt := e.snk.Close(e.state, e.currentStatus())
	// Dropping the handle keeps Close from double-closing the sink.
	e.snk = nil
	if !closeSt.OK() {
		return closeSt
	}
	e.done = true

	e.stopReporter()
	e.sendFinalReport()
	return execstatus.OK()
}

// GetNext returns the next non-empty batch in pull mode, or (nil, OK) at
// end of stream. The returned batch is reused by the following call.
func (e *FragmentExecutor) GetNext() (*batch.RowBatch, execstatus.Status) {
	if !e.prepared {
		return nil, execstatus.InternalError("get_next before prepare")
	}
	b, st := e.getNextInternal()
	e.updateStatus(st)

	if e.done && st.OK() {
		e.logger().Info("fragment executor get_next finished")
		e.collectQueryStatistics()
		e.stopReporter()
		e.sendFinalReport()
	}
	return b, st
}

func (e *FragmentExecutor) getNextInternal() (*batch.RowBatch, execstatus.Status) {
	if e.done {
		return nil, execstatus.OK()
	}
	for !e.done {
		e.rowBatch.Reset()
		var eos bool
		st := e.withTimers(func() execstatus.Status {
			start := time.Now()
			var st execstatus.Status
			eos, st = e.plan.Next(e.state, e.rowBatch)
			e.nextDurations.Record(time.Since(start))
			return st
		})
		if !st.OK() {
			return nil, st
		}
		e.done = eos

		if e.rowBatch.NumRows() > 0 {
			e.rowsProducedCounter.Update(int64(e.rowBatch.NumRows()))
			return e.rowBatch, execstatus.OK()
		}
	}
	return nil, execstatus.OK()
}

// getNextBlockInternal is the columnar twin of getNextInternal: rows come
// out of the plan and are transposed into the reusable block.
func (e *FragmentExecutor) getNextBlockInternal() (*batch.Block, execstatus.Status) {
	b, st := e.getNextInternal()
	if !st.OK() || b == nil {
		return nil, st
	}
	e.block.ClearColumnData()
	e.block.AppendBatch(b)
	return e.block, execstatus.OK()
}

func (e *FragmentExecutor) collectQueryStatistics() {
	e.queryStats.Clear()
	plannode.CollectStats(e.plan, e.queryStats)
	e.queryStats.AddReturnedRows(e.rowsProducedCounter.Value())
	e.queryStats.AddCpuMs(e.fragmentCPUTimer.Value() / int64(time.Millisecond))
	if e.state.BackendID() != -1 {
		ns := e.queryStats.AddNodeStatistics(e.state.BackendID())
		ns.AddPeakMemory(e.state.InstanceTracker().PeakConsumption())
	}
}

func (e *FragmentExecutor) currentStatus() execstatus.Status {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status
}

// updateStatus is the single mutation point for the status slot. The first
// non-OK status wins; OK never replaces a recorded failure. Regardless of
// adoption, a non-OK update stops the reporter and requests the final
// report, so the coordinator hears about every failed instance.
func (e *FragmentExecutor) updateStatus(newStatus execstatus.Status) {
	if newStatus.OK() {
		return
	}

	e.statusMu.Lock()
	if e.status.OK() {
		if newStatus.IsMemLimitExceeded() && e.state != nil {
			e.state.SetMemLimitExceeded(newStatus.Message())
		}
		e.status = newStatus
		if e.state != nil && e.state.QueryType() == execspec.QueryTypeExternal &&
			e.env != nil && e.env.ResultMgr != nil {
			e.env.ResultMgr.UpdateQueueStatus(e.state.FragmentInstanceID(), newStatus)
		}
		fragmentsFailed.Inc()
	}
	e.statusMu.Unlock()

	e.stopReporter()
	e.sendFinalReport()
}

// Cancel records the reason and message, flips the cancellation flag and
// unblocks the known blocking points. Safe from any thread after Prepare;
// repeated calls are no-ops.
func (e *FragmentExecutor) Cancel(reason execstatus.CancelReason, msg string) {
	if e.state == nil {
		return
	}
	log := e.logger().WithFields(logrus.Fields{"reason": reason.String(), "msg": msg})
	if !e.state.SetCancelled() {
		log.Info("fragment executor cancel: already cancelled")
		return
	}
	log.Info("fragment executor cancel")
	fragmentsCancelled.Inc()

	e.cancelMu.Lock()
	e.cancelReason = reason
	e.cancelMsg = msg
	e.cancelMu.Unlock()

	// Unblock exchange receives, and in row mode the result-sink path too.
	fid := e.state.FragmentInstanceID()
	if e.env != nil && e.env.StreamMgr != nil {
		e.env.StreamMgr.Cancel(fid)
	}
	if !e.state.QueryOptions().EnableVectorized &&
		e.env != nil && e.env.ResultMgr != nil {
		e.env.ResultMgr.Cancel(fid)
	}
}

// SetIsReportOnCancel controls whether a deliberately-cancelled instance
// still reports. The coordinator clears it for cancellations it initiated
// itself (e.g. a satisfied LIMIT), where no report is wanted.
func (e *FragmentExecutor) SetIsReportOnCancel(v bool) { e.isReportOnCancel = v }

// SetAbort marks an instance that was cancelled before it ever ran.
func (e *FragmentExecutor) SetAbort() {
	e.updateStatus(execstatus.Aborted("Execution aborted before start"))
}

// Close tears the instance down. Idempotent; the reporter is joined before
// Close returns.
func (e *FragmentExecutor) Close() {
	if e.closed {
		return
	}

	// Batch teardown precedes plan close: nodes may still reference batch
	// memory while closing.
	e.rowBatch = nil
	e.block = nil

	if e.state != nil {
		if e.plan != nil {
			e.plan.Close(e.state)
		}
		if e.snk != nil {
			if e.prepared {
				e.snk.Close(e.state, e.currentStatus())
			} else {
				e.snk.Close(e.state, execstatus.InternalError("prepare failed"))
			}
			e.snk = nil
		}
		e.state.ObjPool().Close()

		e.stopReporter()

		if e.isReportSuccess {
			var buf bytes.Buffer
			e.Profile().ComputeTimeInProfile()
			e.Profile().PrettyPrint(&buf)
			e.logger().Info(buf.String())
		}
		if sp := e.state.Span(); sp != nil {
			sp.Finish()
		}
		e.logger().Info("fragment executor close")
	}
	if e.prepared {
		fragmentsActive.Dec()
	}
	e.closed = true
}
