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
	"github.com/emberdb/ember/pkg/exec/execstatus"
)

// selectNode filters its child's rows through the node conjuncts.
type selectNode struct {
	baseNode

	childBatch *batch.RowBatch
	childEOS   bool
}

var _ PlanNode = (*selectNode)(nil)

func newSelectNode(base baseNode) *selectNode {
	return &selectNode{baseNode: base}
}

func (s *selectNode) Prepare(state *execinfra.RuntimeState) execstatus.Status {
	if st := s.prepareBase(state); !st.OK() {
		return st
	}
	s.childBatch = batch.NewRowBatch(s.children[0].RowDesc(), state.BatchSize())
	return execstatus.OK()
}

func (s *selectNode) Open(state *execinfra.RuntimeState) execstatus.Status {
	if st := s.openBase(state); !st.OK() {
		return st
	}
	return s.children[0].Open(state)
}

func (s *selectNode) Next(
	state *execinfra.RuntimeState, out *batch.RowBatch,
) (bool, execstatus.Status) {
	if st := s.checkNext(state); !st.OK() {
		return false, st
	}
	defer s.timeNext()()

	for !s.childEOS && out.NumRows() == 0 && !s.reachedLimit() {
		s.childBatch.Reset()
		eos, st := s.children[0].Next(state, s.childBatch)
		if !st.OK() {
			return false, st
		}
		s.childEOS = eos
		for _, r := range s.childBatch.Rows() {
			if !s.wantMoreRows(out) {
				// The child batch fit in out by construction (same
				// capacity); hitting the limit mid-batch just drops the
				// tail.
				break
			}
			s.emitRow(r, out)
		}
	}
	return s.childEOS || s.reachedLimit(), execstatus.OK()
}

func (s *selectNode) Close(state *execinfra.RuntimeState) {
	s.closeBase(state)
}
