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
	"github.com/sirupsen/logrus"

	"github.com/emberdb/ember/pkg/exec/batch"
	"github.com/emberdb/ember/pkg/exec/execinfra"
	"github.com/emberdb/ember/pkg/exec/execspec"
	"github.com/emberdb/ember/pkg/exec/execstatus"
	"github.com/emberdb/ember/pkg/exec/profile"
)

// olapTableSink ingests the fragment's output into storage under the
// request's transaction. Close observes the instance's final status: OK
// commits the transaction, anything else rolls it back. The actual write
// path belongs to the storage plane; this sink stages rows and drives the
// publish protocol.
type olapTableSink struct {
	sinkBase
	spec execspec.OlapTableSinkSpec

	txnMgr     execinfra.TxnManager
	stagedRows int64

	bytesStaged *profile.Counter
}

var _ DataSink = (*olapTableSink)(nil)

func newOlapTableSink(base sinkBase, spec execspec.OlapTableSinkSpec) *olapTableSink {
	return &olapTableSink{sinkBase: base, spec: spec}
}

func (o *olapTableSink) Prepare(state *execinfra.RuntimeState) execstatus.Status {
	if state.Env() == nil || state.Env().TxnMgr == nil {
		return execstatus.InternalError("olap table sink: no txn manager in exec env")
	}
	o.txnMgr = state.Env().TxnMgr
	o.initProfile("OlapTableSink")
	o.bytesStaged = o.prof.AddCounter("BytesStaged", profile.UnitBytes)
	return execstatus.OK()
}

func (o *olapTableSink) Open(state *execinfra.RuntimeState) execstatus.Status {
	return execstatus.OK()
}

func (o *olapTableSink) Send(
	state *execinfra.RuntimeState, b batch.Carrier,
) execstatus.Status {
	rows := o.projectBatch(b)
	for _, r := range rows {
		var sz int64
		for _, d := range r {
			sz += 16 + int64(len(d.Bytes))
		}
		if err := state.InstanceTracker().Grow(sz); err != nil {
			return execinfra.StatusFromError(err)
		}
		state.InstanceTracker().Release(sz)
		o.bytesStaged.Update(sz)
	}
	o.stagedRows += int64(len(rows))
	o.rowsSent.Update(int64(len(rows)))
	return execstatus.OK()
}

func (o *olapTableSink) Close(
	state *execinfra.RuntimeState, final execstatus.Status,
) execstatus.Status {
	if o.closed {
		return execstatus.OK()
	}
	o.closed = true
	if o.txnMgr == nil {
		return execstatus.OK()
	}
	log := logrus.WithFields(logrus.Fields{
		"table_id": o.spec.TableID,
		"txn_id":   o.spec.TxnID,
		"label":    state.ImportLabel(),
	})
	if final.OK() {
		if err := o.txnMgr.Commit(o.spec.TxnID); err != nil {
			log.WithError(err).Error("olap table sink: commit failed")
			return execinfra.StatusFromError(err)
		}
		log.WithField("rows", o.stagedRows).Info("olap table sink: committed")
		return execstatus.OK()
	}
	if err := o.txnMgr.Abort(o.spec.TxnID, final.Message()); err != nil {
		log.WithError(err).Warn("olap table sink: abort failed")
	}
	return execstatus.OK()
}
