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

// unionNode concatenates its children's outputs (UNION ALL). Children are
// opened lazily, one at a time, in order.
type unionNode struct {
	baseNode

	childIdx    int
	childOpened bool
	childBatch  *batch.RowBatch
	pending     []batch.Row
}

var _ PlanNode = (*unionNode)(nil)

func newUnionNode(base baseNode) *unionNode {
	return &unionNode{baseNode: base}
}

func (u *unionNode) Prepare(state *execinfra.RuntimeState) execstatus.Status {
	if st := u.prepareBase(state); !st.OK() {
		return st
	}
	u.childBatch = batch.NewRowBatch(u.rowDesc, state.BatchSize())
	return execstatus.OK()
}

func (u *unionNode) Open(state *execinfra.RuntimeState) execstatus.Status {
	return u.openBase(state)
}

func (u *unionNode) Next(
	state *execinfra.RuntimeState, out *batch.RowBatch,
) (bool, execstatus.Status) {
	if st := u.checkNext(state); !st.OK() {
		return false, st
	}
	defer u.timeNext()()

	for {
		for len(u.pending) > 0 && u.wantMoreRows(out) {
			u.emitRow(u.pending[0], out)
			u.pending = u.pending[1:]
		}
		if u.reachedLimit() {
			return true, execstatus.OK()
		}
		if out.IsFull() {
			return false, execstatus.OK()
		}
		if u.childIdx >= len(u.children) {
			return true, execstatus.OK()
		}

		child := u.children[u.childIdx]
		if !u.childOpened {
			if st := child.Open(state); !st.OK() {
				return false, st
			}
			u.childOpened = true
		}
		u.childBatch.Reset()
		eos, st := child.Next(state, u.childBatch)
		if !st.OK() {
			return false, st
		}
		if u.childBatch.NumRows() > 0 {
			// Copy out of the child's reusable batch before the next Reset.
			u.pending = u.childBatch.CopyRows()
		}
		if eos {
			child.Close(state)
			u.childIdx++
			u.childOpened = false
		}
		if len(u.pending) == 0 && out.NumRows() > 0 {
			return false, execstatus.OK()
		}
	}
}

func (u *unionNode) Close(state *execinfra.RuntimeState) {
	u.pending = nil
	u.closeBase(state)
}
