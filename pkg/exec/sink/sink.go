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

// Package sink implements the terminal consumers of a fragment's output:
// the network fan-out, the client result queue, the ingest writer, the file
// exporter and the in-memory scratch sink used by internal consumers and
// tests.
package sink

import (
	"github.com/emberdb/ember/pkg/exec/batch"
	"github.com/emberdb/ember/pkg/exec/desc"
	"github.com/emberdb/ember/pkg/exec/execinfra"
	"github.com/emberdb/ember/pkg/exec/execspec"
	"github.com/emberdb/ember/pkg/exec/execstatus"
	"github.com/emberdb/ember/pkg/exec/profile"
)

// DataSink is the terminal consumer contract driven by the fragment
// executor.
type DataSink interface {
	// Prepare allocates buffers and wires the sink profile.
	Prepare(state *execinfra.RuntimeState) execstatus.Status
	// Open establishes channels; may block.
	Open(state *execinfra.RuntimeState) execstatus.Status
	// Send consumes one batch; may block. END_OF_FILE asks the driver to
	// stop pulling and is not an error.
	Send(state *execinfra.RuntimeState, b batch.Carrier) execstatus.Status
	// Close finalizes exactly once, observing the instance's final status
	// (ingest sinks commit on OK and roll back otherwise).
	Close(state *execinfra.RuntimeState, final execstatus.Status) execstatus.Status
	// Profile returns the sink's profile subtree, or nil.
	Profile() *profile.Profile
	// SetQueryStatistics installs the shared statistics accumulator so the
	// sink can ship it with outgoing data.
	SetQueryStatistics(qs *profile.QueryStatistics)
}

// sinkBase carries the pieces every sink shares.
type sinkBase struct {
	prof       *profile.Profile
	rowsSent   *profile.Counter
	queryStats *profile.QueryStatistics
	// outputCols selects and orders the columns sent out; nil passes rows
	// through.
	outputCols []int
	closed     bool
}

func (s *sinkBase) initProfile(name string) {
	s.prof = profile.New(name)
	s.rowsSent = s.prof.AddCounter("RowsSent", profile.UnitRows)
}

// Profile is part of the DataSink interface.
func (s *sinkBase) Profile() *profile.Profile { return s.prof }

// SetQueryStatistics is part of the DataSink interface.
func (s *sinkBase) SetQueryStatistics(qs *profile.QueryStatistics) { s.queryStats = qs }

// projectBatch applies the output expression list to the carrier's rows.
func (s *sinkBase) projectBatch(b batch.Carrier) []batch.Row {
	out := make([]batch.Row, b.NumRows())
	for i := range out {
		r := b.Row(i)
		if len(s.outputCols) == 0 {
			out[i] = r
			continue
		}
		pr := make(batch.Row, len(s.outputCols))
		for j, c := range s.outputCols {
			pr[j] = r[c]
		}
		out[i] = pr
	}
	return out
}

// New builds the sink described by spec. rowDesc is the plan root's row
// descriptor; outputExprs selects the columns handed to the sink.
func New(
	spec *execspec.SinkSpec,
	outputExprs []int,
	params execspec.FragmentExecParams,
	rowDesc desc.RowDescriptor,
) (DataSink, execstatus.Status) {
	base := sinkBase{outputCols: outputExprs}
	switch spec.Type {
	case execspec.SinkDataStream:
		if spec.DataStream == nil {
			return nil, missingSinkSpec(spec)
		}
		return newDataStreamSink(base, *spec.DataStream), execstatus.OK()
	case execspec.SinkResult:
		if spec.Result == nil {
			return nil, missingSinkSpec(spec)
		}
		return newResultSink(base, *spec.Result, params.FragmentInstanceID), execstatus.OK()
	case execspec.SinkOlapTable:
		if spec.OlapTable == nil {
			return nil, missingSinkSpec(spec)
		}
		return newOlapTableSink(base, *spec.OlapTable), execstatus.OK()
	case execspec.SinkExport:
		if spec.Export == nil {
			return nil, missingSinkSpec(spec)
		}
		return newExportSink(base, *spec.Export, params.FragmentInstanceID, rowDesc), execstatus.OK()
	case execspec.SinkMemoryScratch:
		if spec.MemoryScratch == nil {
			return nil, missingSinkSpec(spec)
		}
		return newMemoryScratchSink(base, *spec.MemoryScratch), execstatus.OK()
	}
	return nil, execstatus.InvalidArgument("unsupported sink type %s", spec.Type)
}

func missingSinkSpec(spec *execspec.SinkSpec) execstatus.Status {
	return execstatus.InvalidArgument("sink type %s has no matching sink spec", spec.Type)
}
