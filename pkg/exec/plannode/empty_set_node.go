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

// emptySetNode produces no rows. Planners emit it for provably-empty
// subtrees; it still walks the full node state machine.
type emptySetNode struct {
	baseNode
}

var _ PlanNode = (*emptySetNode)(nil)

func newEmptySetNode(base baseNode) *emptySetNode {
	return &emptySetNode{baseNode: base}
}

func (e *emptySetNode) Prepare(state *execinfra.RuntimeState) execstatus.Status {
	return e.prepareBase(state)
}

func (e *emptySetNode) Open(state *execinfra.RuntimeState) execstatus.Status {
	return e.openBase(state)
}

func (e *emptySetNode) Next(
	state *execinfra.RuntimeState, out *batch.RowBatch,
) (bool, execstatus.Status) {
	if st := e.checkNext(state); !st.OK() {
		return false, st
	}
	return true, execstatus.OK()
}

func (e *emptySetNode) Close(state *execinfra.RuntimeState) {
	e.closeBase(state)
}
