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
	"golang.org/x/sync/errgroup"

	"github.com/emberdb/ember/pkg/exec/batch"
	"github.com/emberdb/ember/pkg/exec/execinfra"
	"github.com/emberdb/ember/pkg/exec/execspec"
	"github.com/emberdb/ember/pkg/exec/execstatus"
	"github.com/emberdb/ember/pkg/exec/profile"
)

// dataStreamSink broadcasts each batch to the exchange receivers of the
// destination fragment instances. Each destination gets its own send; the
// fan-out is concurrent since any destination may block on a full queue.
type dataStreamSink struct {
	sinkBase
	spec execspec.DataStreamSinkSpec

	mgr          execinfra.StreamManager
	batchesSent  *profile.Counter
	sendersClosed bool
}

var _ DataSink = (*dataStreamSink)(nil)

func newDataStreamSink(base sinkBase, spec execspec.DataStreamSinkSpec) *dataStreamSink {
	return &dataStreamSink{sinkBase: base, spec: spec}
}

func (d *dataStreamSink) Prepare(state *execinfra.RuntimeState) execstatus.Status {
	if state.Env() == nil || state.Env().StreamMgr == nil {
		return execstatus.InternalError("data stream sink: no stream manager in exec env")
	}
	if len(d.spec.Destinations) == 0 {
		return execstatus.InvalidArgument("data stream sink: no destinations")
	}
	d.mgr = state.Env().StreamMgr
	d.initProfile("DataStreamSink")
	d.batchesSent = d.prof.AddCounter("BatchesSent", profile.UnitNone)
	return execstatus.OK()
}

func (d *dataStreamSink) Open(state *execinfra.RuntimeState) execstatus.Status {
	return execstatus.OK()
}

func (d *dataStreamSink) Send(
	state *execinfra.RuntimeState, b batch.Carrier,
) execstatus.Status {
	rows := d.projectBatch(b)
	if len(rows) == 0 {
		return execstatus.OK()
	}
	var g errgroup.Group
	for _, dest := range d.spec.Destinations {
		dest := dest
		g.Go(func() error {
			return d.mgr.SendBatch(dest.FragmentInstanceID, dest.DestNodeID, rows).Err()
		})
	}
	if err := g.Wait(); err != nil {
		return execstatus.FromError(err)
	}
	d.rowsSent.Update(int64(len(rows)))
	d.batchesSent.Update(1)
	return execstatus.OK()
}

func (d *dataStreamSink) Close(
	state *execinfra.RuntimeState, final execstatus.Status,
) execstatus.Status {
	if d.closed {
		return execstatus.OK()
	}
	d.closed = true
	if d.mgr != nil && !d.sendersClosed {
		d.sendersClosed = true
		for _, dest := range d.spec.Destinations {
			// Close every destination even if one fails; the receivers must
			// observe their sender counts going to zero.
			_ = d.mgr.CloseSender(dest.FragmentInstanceID, dest.DestNodeID)
		}
	}
	return execstatus.OK()
}
