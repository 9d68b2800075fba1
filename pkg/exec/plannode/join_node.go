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
	"github.com/emberdb/ember/pkg/exec/desc"
	"github.com/emberdb/ember/pkg/exec/execinfra"
	"github.com/emberdb/ember/pkg/exec/execspec"
	"github.com/emberdb/ember/pkg/exec/execstatus"
	"github.com/emberdb/ember/pkg/exec/profile"
)

// hashJoinNode joins child 0 (probe) against child 1 (build). The build side
// is materialized into a hash table on Open, metered against the node's
// memory tracker; the probe side streams.
type hashJoinNode struct {
	baseNode
	spec execspec.HashJoinSpec

	table      map[uint64][]batch.Row
	buildBytes int64

	probeBatch *batch.RowBatch
	probeEOS   bool
	// pending holds join output overflowing the caller's batch.
	pending []batch.Row

	buildRowsCounter *profile.Counter
	probeRowsCounter *profile.Counter
}

var _ PlanNode = (*hashJoinNode)(nil)

func newHashJoinNode(base baseNode, spec execspec.HashJoinSpec) (PlanNode, execstatus.Status) {
	if len(spec.EqLeft) == 0 || len(spec.EqLeft) != len(spec.EqRight) {
		return nil, execstatus.InvalidArgument(
			"hash join node %d: mismatched equality columns (%d left, %d right)",
			base.id, len(spec.EqLeft), len(spec.EqRight))
	}
	return &hashJoinNode{baseNode: base, spec: spec}, execstatus.OK()
}

func (h *hashJoinNode) Prepare(state *execinfra.RuntimeState) execstatus.Status {
	if st := h.prepareBase(state); !st.OK() {
		return st
	}
	h.buildRowsCounter = h.prof.AddCounter("BuildRows", profile.UnitRows)
	h.probeRowsCounter = h.prof.AddCounter("ProbeRows", profile.UnitRows)
	h.probeBatch = batch.NewRowBatch(h.children[0].RowDesc(), state.BatchSize())
	return execstatus.OK()
}

func (h *hashJoinNode) Open(state *execinfra.RuntimeState) execstatus.Status {
	if st := h.openBase(state); !st.OK() {
		return st
	}
	// Build side first; it is fully consumed before any probe row flows.
	build := h.children[1]
	if st := build.Open(state); !st.OK() {
		return st
	}
	h.table = make(map[uint64][]batch.Row)
	buildBatch := batch.NewRowBatch(build.RowDesc(), state.BatchSize())
	for {
		if st := state.CheckQueryState(); !st.OK() {
			return st
		}
		buildBatch.Reset()
		eos, st := build.Next(state, buildBatch)
		if !st.OK() {
			return st
		}
		for _, r := range buildBatch.Rows() {
			row := r.Copy()
			sz := rowBytes(row)
			if err := h.tracker.Grow(sz); err != nil {
				return execinfra.StatusFromError(err)
			}
			h.buildBytes += sz
			key := row.Hash(h.spec.EqRight)
			h.table[key] = append(h.table[key], row)
			h.buildRowsCounter.Update(1)
		}
		if eos {
			break
		}
	}
	build.Close(state)
	return h.children[0].Open(state)
}

func (h *hashJoinNode) Next(
	state *execinfra.RuntimeState, out *batch.RowBatch,
) (bool, execstatus.Status) {
	if st := h.checkNext(state); !st.OK() {
		return false, st
	}
	defer h.timeNext()()

	probeCols := len(h.children[0].RowDesc().Slots())
	buildCols := len(h.children[1].RowDesc().Slots())

	for {
		for len(h.pending) > 0 && h.wantMoreRows(out) {
			h.emitRow(h.pending[0], out)
			h.pending = h.pending[1:]
		}
		if h.reachedLimit() {
			return true, execstatus.OK()
		}
		if out.IsFull() {
			return false, execstatus.OK()
		}
		if h.probeEOS {
			return true, execstatus.OK()
		}

		h.probeBatch.Reset()
		eos, st := h.children[0].Next(state, h.probeBatch)
		if !st.OK() {
			return false, st
		}
		h.probeEOS = eos
		for _, probe := range h.probeBatch.Rows() {
			h.probeRowsCounter.Update(1)
			matches := h.table[probe.Hash(h.spec.EqLeft)]
			matched := false
			for _, buildRow := range matches {
				if !probe.EqualOn(h.spec.EqLeft, buildRow, h.spec.EqRight) {
					continue
				}
				matched = true
				joined := make(batch.Row, 0, probeCols+buildCols)
				joined = append(joined, probe.Copy()...)
				joined = append(joined, buildRow...)
				h.pending = append(h.pending, joined)
			}
			if !matched && h.spec.Op == execspec.JoinLeftOuter {
				joined := make(batch.Row, 0, probeCols+buildCols)
				joined = append(joined, probe.Copy()...)
				for _, s := range h.children[1].RowDesc().Slots() {
					joined = append(joined, batch.MakeNull(s.Type))
				}
				h.pending = append(h.pending, joined)
			}
		}
		if len(h.pending) == 0 && out.NumRows() > 0 && h.probeEOS {
			return true, execstatus.OK()
		}
	}
}

func (h *hashJoinNode) Close(state *execinfra.RuntimeState) {
	if h.closed() {
		return
	}
	h.table = nil
	h.pending = nil
	if h.tracker != nil && h.buildBytes > 0 {
		h.tracker.Release(h.buildBytes)
		h.buildBytes = 0
	}
	h.closeBase(state)
}

// rowBytes approximates a row's memory footprint for tracker accounting.
func rowBytes(r batch.Row) int64 {
	n := int64(len(r) * 16)
	for _, d := range r {
		if d.Kind == desc.TypeVarchar {
			n += int64(len(d.Bytes))
		}
	}
	return n
}

// crossJoinNode produces the cartesian product of its children. The right
// side is materialized on Open; the left streams.
type crossJoinNode struct {
	baseNode

	rightRows []batch.Row
	leftBatch *batch.RowBatch
	leftEOS   bool
	pending   []batch.Row
}

var _ PlanNode = (*crossJoinNode)(nil)

func newCrossJoinNode(base baseNode) *crossJoinNode {
	return &crossJoinNode{baseNode: base}
}

func (c *crossJoinNode) Prepare(state *execinfra.RuntimeState) execstatus.Status {
	if st := c.prepareBase(state); !st.OK() {
		return st
	}
	c.leftBatch = batch.NewRowBatch(c.children[0].RowDesc(), state.BatchSize())
	return execstatus.OK()
}

func (c *crossJoinNode) Open(state *execinfra.RuntimeState) execstatus.Status {
	if st := c.openBase(state); !st.OK() {
		return st
	}
	right := c.children[1]
	if st := right.Open(state); !st.OK() {
		return st
	}
	rightBatch := batch.NewRowBatch(right.RowDesc(), state.BatchSize())
	for {
		if st := state.CheckQueryState(); !st.OK() {
			return st
		}
		rightBatch.Reset()
		eos, st := right.Next(state, rightBatch)
		if !st.OK() {
			return st
		}
		for _, r := range rightBatch.Rows() {
			row := r.Copy()
			if err := c.tracker.Grow(rowBytes(row)); err != nil {
				return execinfra.StatusFromError(err)
			}
			c.rightRows = append(c.rightRows, row)
		}
		if eos {
			break
		}
	}
	right.Close(state)
	return c.children[0].Open(state)
}

func (c *crossJoinNode) Next(
	state *execinfra.RuntimeState, out *batch.RowBatch,
) (bool, execstatus.Status) {
	if st := c.checkNext(state); !st.OK() {
		return false, st
	}
	defer c.timeNext()()

	for {
		for len(c.pending) > 0 && c.wantMoreRows(out) {
			c.emitRow(c.pending[0], out)
			c.pending = c.pending[1:]
		}
		if c.reachedLimit() {
			return true, execstatus.OK()
		}
		if out.IsFull() {
			return false, execstatus.OK()
		}
		if c.leftEOS {
			return true, execstatus.OK()
		}

		c.leftBatch.Reset()
		eos, st := c.children[0].Next(state, c.leftBatch)
		if !st.OK() {
			return false, st
		}
		c.leftEOS = eos
		for _, left := range c.leftBatch.Rows() {
			l := left.Copy()
			for _, right := range c.rightRows {
				joined := make(batch.Row, 0, len(l)+len(right))
				joined = append(joined, l...)
				joined = append(joined, right...)
				c.pending = append(c.pending, joined)
			}
		}
	}
}

func (c *crossJoinNode) Close(state *execinfra.RuntimeState) {
	if c.closed() {
		return
	}
	var held int64
	for _, r := range c.rightRows {
		held += rowBytes(r)
	}
	if c.tracker != nil && held > 0 {
		c.tracker.Release(held)
	}
	c.rightRows = nil
	c.pending = nil
	c.closeBase(state)
}
