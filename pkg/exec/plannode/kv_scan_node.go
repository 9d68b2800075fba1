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
	"github.com/cockroachdb/pebble"

	"github.com/emberdb/ember/pkg/exec/batch"
	"github.com/emberdb/ember/pkg/exec/execinfra"
	"github.com/emberdb/ember/pkg/exec/execspec"
	"github.com/emberdb/ember/pkg/exec/execstatus"
)

// kvScanNode scans key ranges out of the backend's local pebble store,
// emitting (key VARCHAR, value VARCHAR) rows. It is the scan subtype used by
// system tables and metadata queries that live in the kv store rather than
// in tablet storage.
type kvScanNode struct {
	scanBase
	spec execspec.KVScanSpec

	rangeIdx int
	iter     *pebble.Iterator
	iterOK   bool
}

var _ ScanNode = (*kvScanNode)(nil)

func newKVScanNode(base baseNode, spec execspec.KVScanSpec) *kvScanNode {
	return &kvScanNode{scanBase: scanBase{baseNode: base}, spec: spec}
}

func (s *kvScanNode) Prepare(state *execinfra.RuntimeState) execstatus.Status {
	if state.Env() == nil || state.Env().KVStore == nil {
		return execstatus.InternalError("node %d: no kv store in exec env", s.id)
	}
	return s.prepareScan(state)
}

func (s *kvScanNode) Open(state *execinfra.RuntimeState) execstatus.Status {
	return s.openBase(state)
}

func (s *kvScanNode) openRange(state *execinfra.RuntimeState) execstatus.Status {
	r := s.ranges[s.rangeIdx]
	opts := &pebble.IterOptions{LowerBound: r.StartKey, UpperBound: r.EndKey}
	iter, err := state.Env().KVStore.NewIter(opts)
	if err != nil {
		return execinfra.StatusFromError(err)
	}
	s.iter = iter
	s.iterOK = iter.First()
	s.rangeIdx++
	return execstatus.OK()
}

func (s *kvScanNode) closeIter() {
	if s.iter != nil {
		_ = s.iter.Close()
		s.iter = nil
		s.iterOK = false
	}
}

func (s *kvScanNode) Next(
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
			if st := s.openRange(state); !st.OK() {
				return false, st
			}
		}
		for s.iterOK && s.wantMoreRows(out) {
			key := append([]byte(nil), s.iter.Key()...)
			val := append([]byte(nil), s.iter.Value()...)
			s.iterOK = s.iter.Next()
			s.scanRows.Update(1)
			s.scanBytes.Update(int64(len(key) + len(val)))
			s.emitRow(batch.Row{batch.MakeBytes(key), batch.MakeBytes(val)}, out)
		}
		if s.iterOK {
			// Output batch filled mid-range; resume here next call.
			return s.reachedLimit(), execstatus.OK()
		}
		if err := s.iter.Error(); err != nil {
			s.closeIter()
			return false, execinfra.StatusFromError(err)
		}
		s.closeIter()
		if out.NumRows() > 0 {
			return false, execstatus.OK()
		}
	}
}

func (s *kvScanNode) Close(state *execinfra.RuntimeState) {
	if s.closed() {
		return
	}
	s.closeIter()
	s.closeBase(state)
}
