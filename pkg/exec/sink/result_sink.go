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
	"github.com/emberdb/ember/pkg/exec/batch"
	"github.com/emberdb/ember/pkg/exec/execinfra"
	"github.com/emberdb/ember/pkg/exec/execspec"
	"github.com/emberdb/ember/pkg/exec/execstatus"
)

// resultSink feeds the external client result queue of the instance. A
// consumer that closes its side surfaces as END_OF_FILE from Push, which the
// driver treats as graceful termination.
type resultSink struct {
	sinkBase
	spec execspec.ResultSinkSpec
	fid  execspec.UniqueID

	queue execinfra.ResultQueue
}

var _ DataSink = (*resultSink)(nil)

func newResultSink(
	base sinkBase, spec execspec.ResultSinkSpec, fid execspec.UniqueID,
) *resultSink {
	return &resultSink{sinkBase: base, spec: spec, fid: fid}
}

func (r *resultSink) Prepare(state *execinfra.RuntimeState) execstatus.Status {
	if state.Env() == nil || state.Env().ResultMgr == nil {
		return execstatus.InternalError("result sink: no result manager in exec env")
	}
	bufSize := r.spec.BufferSize
	if bufSize <= 0 {
		bufSize = state.Config().ExchangeBufSize
	}
	q, err := state.Env().ResultMgr.CreateQueue(r.fid, bufSize)
	if err != nil {
		return execinfra.StatusFromError(err)
	}
	r.queue = q
	r.initProfile("ResultSink")
	return execstatus.OK()
}

func (r *resultSink) Open(state *execinfra.RuntimeState) execstatus.Status {
	return execstatus.OK()
}

func (r *resultSink) Send(
	state *execinfra.RuntimeState, b batch.Carrier,
) execstatus.Status {
	rows := r.projectBatch(b)
	if len(rows) == 0 {
		return execstatus.OK()
	}
	// Copy out of the driver's reusable batch.
	copied := make([]batch.Row, len(rows))
	for i, row := range rows {
		copied[i] = row.Copy()
	}
	st := r.queue.Push(copied)
	if st.OK() {
		r.rowsSent.Update(int64(len(copied)))
	}
	return st
}

func (r *resultSink) Close(
	state *execinfra.RuntimeState, final execstatus.Status,
) execstatus.Status {
	if r.closed {
		return execstatus.OK()
	}
	r.closed = true
	if r.queue != nil {
		r.queue.Close(final)
	}
	return execstatus.OK()
}
