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
	"github.com/emberdb/ember/pkg/exec/batch"
	"github.com/emberdb/ember/pkg/exec/execinfra"
	"github.com/emberdb/ember/pkg/exec/execspec"
	"github.com/emberdb/ember/pkg/exec/execstatus"
	"github.com/emberdb/ember/pkg/exec/profile"
)

// scanBase carries what all scan subtypes share: the bound ranges and the
// scan counters. An olap or kv scan with zero assigned ranges produces zero
// rows but still walks the full state machine; the memory scan serves its
// literal rows and does not read the ranges.
type scanBase struct {
	baseNode
	ranges []execspec.ScanRange

	scanRows  *profile.Counter
	scanBytes *profile.Counter
}

// SetScanRanges is part of the ScanNode interface.
func (s *scanBase) SetScanRanges(ranges []execspec.ScanRange) {
	s.ranges = ranges
}

func (s *scanBase) prepareScan(state *execinfra.RuntimeState) execstatus.Status {
	if st := s.prepareBase(state); !st.OK() {
		return st
	}
	s.scanRows = s.prof.AddCounter("RowsRead", profile.UnitRows)
	s.scanBytes = s.prof.AddCounter("BytesRead", profile.UnitBytes)
	return execstatus.OK()
}

// CollectStats reports the scan figures.
func (s *scanBase) CollectStats(qs *profile.QueryStatistics) {
	qs.AddScanRows(s.scanRows.Value())
	qs.AddScanBytes(s.scanBytes.Value())
}

// olapScanNode scans assigned tablet ranges through the storage plane's
// TabletManager contract.
type olapScanNode struct {
	scanBase
	spec execspec.OlapScanSpec

	rangeIdx int
	iter     execinfra.TabletIterator
}

var _ ScanNode = (*olapScanNode)(nil)

func newOlapScanNode(base baseNode, spec execspec.OlapScanSpec) *olapScanNode {
	return &olapScanNode{scanBase: scanBase{baseNode: base}, spec: spec}
}

func (s *olapScanNode) Prepare(state *execinfra.RuntimeState) execstatus.Status {
	if state.Env() == nil || state.Env().TabletMgr == nil {
		return execstatus.InternalError("node %d: no tablet manager in exec env", s.id)
	}
	return s.prepareScan(state)
}

func (s *olapScanNode) Open(state *execinfra.RuntimeState) execstatus.Status {
	return s.openBase(state)
}

func (s *olapScanNode) Next(
	state *execinfra.RuntimeState, out *batch.RowBatch,
) (bool, execstatus.Status) {
	if st := s.checkNext(state); !st.OK() {
		return false, st
	}
	defer s.timeNext()()

	for {
		if s.iter == nil {
			if s.rangeIdx >= len(s.ranges) || s.reachedLimit() {
				return true, execstatus.OK()
			}
			iter, err := state.Env().TabletMgr.OpenTablet(s.ranges[s.rangeIdx])
			if err != nil {
				return false, execinfra.StatusFromError(err)
			}
			s.iter = iter
			s.rangeIdx++
		}
		for s.wantMoreRows(out) {
			row, ok, err := s.iter.Next()
			if err != nil {
				return false, execinfra.StatusFromError(err)
			}
			if !ok {
				s.iter.Close()
				s.iter = nil
				break
			}
			s.scanRows.Update(1)
			s.scanBytes.Update(int64(len(row) * 8))
			s.emitRow(row, out)
		}
		if s.reachedLimit() {
			return true, execstatus.OK()
		}
		if out.NumRows() > 0 || s.iter != nil {
			return false, execstatus.OK()
		}
	}
}

func (s *olapScanNode) Close(state *execinfra.RuntimeState) {
	if s.closed() {
		return
	}
	if s.iter != nil {
		s.iter.Close()
		s.iter = nil
	}
	s.closeBase(state)
}

// memoryScanNode serves literal rows embedded in the spec.
type memoryScanNode struct {
	scanBase
	spec execspec.MemoryScanSpec
	idx  int
}

var _ ScanNode = (*memoryScanNode)(nil)

func newMemoryScanNode(base baseNode, spec execspec.MemoryScanSpec) *memoryScanNode {
	return &memoryScanNode{scanBase: scanBase{baseNode: base}, spec: spec}
}

func (s *memoryScanNode) Prepare(state *execinfra.RuntimeState) execstatus.Status {
	return s.prepareScan(state)
}

func (s *memoryScanNode) Open(state *execinfra.RuntimeState) execstatus.Status {
	return s.openBase(state)
}

func (s *memoryScanNode) Next(
	state *execinfra.RuntimeState, out *batch.RowBatch,
) (bool, execstatus.Status) {
	if st := s.checkNext(state); !st.OK() {
		return false, st
	}
	defer s.timeNext()()

	for s.idx < len(s.spec.Rows) && s.wantMoreRows(out) {
		row := s.spec.Rows[s.idx]
		s.idx++
		s.scanRows.Update(1)
		s.emitRow(row, out)
	}
	return s.idx >= len(s.spec.Rows) || s.reachedLimit(), execstatus.OK()
}

func (s *memoryScanNode) Close(state *execinfra.RuntimeState) {
	s.closeBase(state)
}
