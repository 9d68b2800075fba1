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
	"github.com/emberdb/ember/pkg/exec/profile"
)

// exchangeNode receives batches from peer fragment instances through the
// stream manager. Its sender count must be set from the coordinator's
// per-exchange map before Prepare; a missing entry is a plan defect.
//
// Recv blocks; cancellation reaches it through StreamManager.Cancel, which
// the executor invokes from Cancel exactly so this node cannot deadlock a
// cancelled instance.
type exchangeNode struct {
	baseNode

	numSenders int
	recv       execinfra.StreamReceiver

	// leftover holds rows from the last received transfer that did not fit
	// the output batch.
	leftover []batch.Row

	batchesReceived *profile.Counter
}

var _ ExchangeNode = (*exchangeNode)(nil)

func newExchangeNode(base baseNode) *exchangeNode {
	return &exchangeNode{baseNode: base}
}

// SetNumSenders installs the coordinator-assigned sender count. Must happen
// before Prepare.
func (e *exchangeNode) SetNumSenders(n int) { e.numSenders = n }

// NumSenders returns the configured sender count.
func (e *exchangeNode) NumSenders() int { return e.numSenders }

func (e *exchangeNode) Prepare(state *execinfra.RuntimeState) execstatus.Status {
	if e.numSenders <= 0 {
		return execstatus.InvalidArgument(
			"exchange node %d: sender count %d not set before prepare", e.id, e.numSenders)
	}
	if state.Env() == nil || state.Env().StreamMgr == nil {
		return execstatus.InternalError("node %d: no stream manager in exec env", e.id)
	}
	if st := e.prepareBase(state); !st.OK() {
		return st
	}
	e.batchesReceived = e.prof.AddCounter("BatchesReceived", profile.UnitNone)

	recv, err := state.Env().StreamMgr.CreateReceiver(
		state.FragmentInstanceID(), e.id, e.numSenders)
	if err != nil {
		return execinfra.StatusFromError(err)
	}
	e.recv = recv
	return execstatus.OK()
}

func (e *exchangeNode) Open(state *execinfra.RuntimeState) execstatus.Status {
	return e.openBase(state)
}

func (e *exchangeNode) Next(
	state *execinfra.RuntimeState, out *batch.RowBatch,
) (bool, execstatus.Status) {
	if st := e.checkNext(state); !st.OK() {
		return false, st
	}
	defer e.timeNext()()

	for {
		for len(e.leftover) > 0 && e.wantMoreRows(out) {
			e.emitRow(e.leftover[0], out)
			e.leftover = e.leftover[1:]
		}
		if e.reachedLimit() {
			return true, execstatus.OK()
		}
		if out.IsFull() {
			return false, execstatus.OK()
		}

		rows, eos, st := e.recv.Recv()
		if !st.OK() {
			return false, st
		}
		if eos {
			return true, execstatus.OK()
		}
		e.batchesReceived.Update(1)
		e.leftover = rows
	}
}

func (e *exchangeNode) Close(state *execinfra.RuntimeState) {
	if e.closed() {
		return
	}
	if e.recv != nil {
		e.recv.Close()
		e.recv = nil
	}
	e.leftover = nil
	e.closeBase(state)
}
