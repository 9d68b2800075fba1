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

package execinfra

import (
	"sync"
	"sync/atomic"

	opentracing "github.com/opentracing/opentracing-go"

	"github.com/emberdb/ember/pkg/base"
	"github.com/emberdb/ember/pkg/exec/desc"
	"github.com/emberdb/ember/pkg/exec/execspec"
	"github.com/emberdb/ember/pkg/exec/execstatus"
	"github.com/emberdb/ember/pkg/exec/mon"
	"github.com/emberdb/ember/pkg/exec/profile"
)

// maxErrorLogEntries bounds the per-instance error log.
const maxErrorLogEntries = 100

// QueryContext is state shared by all fragment instances of one query on
// this backend: the descriptor table and the query globals are materialized
// once and borrowed by each instance.
type QueryContext struct {
	DescTbl      *desc.Table
	QueryGlobals execspec.QueryGlobals
}

// RuntimeState is the per-instance runtime context. The driver owns it
// exclusively; plan nodes, the sink and the reporter borrow it. The memory
// trackers outlive every borrower.
type RuntimeState struct {
	env *ExecEnv
	cfg base.Config

	queryID            execspec.UniqueID
	fragmentInstanceID execspec.UniqueID
	backendNum         int
	backendID          int64

	opts      execspec.QueryOptions
	globals   execspec.QueryGlobals
	queryType execspec.QueryType

	perFragmentInstanceIdx   int
	numPerFragmentInstances  int
	fragmentRootID           execspec.PlanNodeID

	descTbl *desc.Table
	pool    *ObjectPool

	queryTracker    *mon.Tracker
	instanceTracker *mon.Tracker

	prof *profile.Profile

	cancelled int32 // atomic

	span opentracing.Span

	mu struct {
		sync.Mutex
		errLog []string
	}

	// Load-specific request fields.
	importLabel string
	dbName      string
	loadJobID   int64
}

// NewRuntimeState builds the runtime context for one instance.
func NewRuntimeState(
	params execspec.FragmentExecParams,
	opts execspec.QueryOptions,
	globals execspec.QueryGlobals,
	env *ExecEnv,
	cfg base.Config,
) *RuntimeState {
	rs := &RuntimeState{
		env:                env,
		cfg:                cfg,
		queryID:            params.QueryID,
		fragmentInstanceID: params.FragmentInstanceID,
		backendID:          -1,
		opts:               opts,
		globals:            globals,
		queryType:          params.QueryType,
		pool:               NewObjectPool(),
	}
	rs.prof = profile.New("Fragment " + params.FragmentInstanceID.String())
	return rs
}

// InitMemTrackers wires the instance tracker under a query tracker under the
// process tracker.
func (rs *RuntimeState) InitMemTrackers(queryID execspec.UniqueID) error {
	limit := rs.opts.MemLimit
	if limit <= 0 {
		limit = rs.cfg.MemLimit
	}
	var process *mon.Tracker
	if rs.env != nil {
		process = rs.env.ProcessTracker
	}
	rs.queryTracker = mon.NewTracker("query "+queryID.String(), limit, process)
	rs.instanceTracker = mon.NewTracker(
		"instance "+rs.fragmentInstanceID.String(), limit, rs.queryTracker)
	return nil
}

// Env returns the process collaborators.
func (rs *RuntimeState) Env() *ExecEnv { return rs.env }

// Config returns the process config.
func (rs *RuntimeState) Config() base.Config { return rs.cfg }

// QueryID returns the owning query's id.
func (rs *RuntimeState) QueryID() execspec.UniqueID { return rs.queryID }

// FragmentInstanceID returns this instance's id.
func (rs *RuntimeState) FragmentInstanceID() execspec.UniqueID {
	return rs.fragmentInstanceID
}

// QueryType returns the request's query type.
func (rs *RuntimeState) QueryType() execspec.QueryType { return rs.queryType }

// QueryOptions returns the request's options.
func (rs *RuntimeState) QueryOptions() execspec.QueryOptions { return rs.opts }

// QueryGlobals returns the request's globals.
func (rs *RuntimeState) QueryGlobals() execspec.QueryGlobals { return rs.globals }

// BatchSize returns the effective rows-per-batch.
func (rs *RuntimeState) BatchSize() int {
	if rs.opts.BatchSize > 0 {
		return rs.opts.BatchSize
	}
	return rs.cfg.BatchSize
}

// SetBackendNum records the backend ordinal.
func (rs *RuntimeState) SetBackendNum(n int) { rs.backendNum = n }

// BackendNum returns the backend ordinal.
func (rs *RuntimeState) BackendNum() int { return rs.backendNum }

// SetBackendID records the backend id used in node statistics.
func (rs *RuntimeState) SetBackendID(id int64) { rs.backendID = id }

// BackendID returns the backend id, -1 when unset.
func (rs *RuntimeState) BackendID() int64 { return rs.backendID }

// SetPerFragmentInstanceIdx records this instance's sender index.
func (rs *RuntimeState) SetPerFragmentInstanceIdx(i int) { rs.perFragmentInstanceIdx = i }

// PerFragmentInstanceIdx returns the sender index.
func (rs *RuntimeState) PerFragmentInstanceIdx() int { return rs.perFragmentInstanceIdx }

// SetNumPerFragmentInstances records the fragment's instance count.
func (rs *RuntimeState) SetNumPerFragmentInstances(n int) { rs.numPerFragmentInstances = n }

// NumPerFragmentInstances returns the fragment's instance count.
func (rs *RuntimeState) NumPerFragmentInstances() int { return rs.numPerFragmentInstances }

// SetFragmentRootID records the plan root's node id.
func (rs *RuntimeState) SetFragmentRootID(id execspec.PlanNodeID) { rs.fragmentRootID = id }

// FragmentRootID returns the plan root's node id.
func (rs *RuntimeState) FragmentRootID() execspec.PlanNodeID { return rs.fragmentRootID }

// SetDescTbl installs the descriptor table (owned or borrowed).
func (rs *RuntimeState) SetDescTbl(t *desc.Table) { rs.descTbl = t }

// DescTbl returns the descriptor table.
func (rs *RuntimeState) DescTbl() *desc.Table { return rs.descTbl }

// ObjPool returns the plan-scoped object pool.
func (rs *RuntimeState) ObjPool() *ObjectPool { return rs.pool }

// Profile returns the instance's profile root.
func (rs *RuntimeState) Profile() *profile.Profile { return rs.prof }

// QueryTracker returns the query-level memory tracker.
func (rs *RuntimeState) QueryTracker() *mon.Tracker { return rs.queryTracker }

// InstanceTracker returns the instance-level memory tracker.
func (rs *RuntimeState) InstanceTracker() *mon.Tracker { return rs.instanceTracker }

// SetSpan installs the instance's tracing span.
func (rs *RuntimeState) SetSpan(sp opentracing.Span) { rs.span = sp }

// Span returns the instance's tracing span, possibly nil.
func (rs *RuntimeState) Span() opentracing.Span { return rs.span }

// SetCancelled flips the cancellation flag. Returns true on the first call.
func (rs *RuntimeState) SetCancelled() bool {
	return atomic.CompareAndSwapInt32(&rs.cancelled, 0, 1)
}

// IsCancelled reports whether the instance was cancelled.
func (rs *RuntimeState) IsCancelled() bool {
	return atomic.LoadInt32(&rs.cancelled) == 1
}

// CheckQueryState returns CANCELLED once the instance is cancelled, OK
// otherwise. Operators poll it at every Next boundary.
func (rs *RuntimeState) CheckQueryState() execstatus.Status {
	if rs.IsCancelled() {
		return execstatus.Cancelled("instance %s cancelled", rs.fragmentInstanceID)
	}
	return execstatus.OK()
}

// LogHasSpace reports whether the error log is below its bound.
func (rs *RuntimeState) LogHasSpace() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.mu.errLog) < maxErrorLogEntries
}

// LogError appends to the bounded per-instance error log.
func (rs *RuntimeState) LogError(msg string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.mu.errLog) < maxErrorLogEntries {
		rs.mu.errLog = append(rs.mu.errLog, msg)
	}
}

// ErrorLog snapshots the error log.
func (rs *RuntimeState) ErrorLog() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]string, len(rs.mu.errLog))
	copy(out, rs.mu.errLog)
	return out
}

// SetMemLimitExceeded latches the limit-exceeded event on the instance
// tracker and logs it.
func (rs *RuntimeState) SetMemLimitExceeded(msg string) {
	if rs.instanceTracker != nil {
		rs.instanceTracker.SetLimitExceeded(msg)
	}
	rs.LogError(msg)
}

// SetImportLabel records the load label of an ingest fragment.
func (rs *RuntimeState) SetImportLabel(l string) { rs.importLabel = l }

// ImportLabel returns the load label.
func (rs *RuntimeState) ImportLabel() string { return rs.importLabel }

// SetDBName records the target database of an ingest fragment.
func (rs *RuntimeState) SetDBName(n string) { rs.dbName = n }

// DBName returns the target database.
func (rs *RuntimeState) DBName() string { return rs.dbName }

// SetLoadJobID records the load job id.
func (rs *RuntimeState) SetLoadJobID(id int64) { rs.loadJobID = id }

// LoadJobID returns the load job id.
func (rs *RuntimeState) LoadJobID() int64 { return rs.loadJobID }

// StatusFromError maps an operator error to a Status: tracker refusals
// become MEM_LIMIT_EXCEEDED, everything else INTERNAL_ERROR, and Status-born
// errors round-trip.
func StatusFromError(err error) execstatus.Status {
	if err == nil {
		return execstatus.OK()
	}
	if mon.IsMemLimitError(err) {
		return execstatus.MemLimitExceeded("%s", err.Error())
	}
	return execstatus.FromError(err)
}
