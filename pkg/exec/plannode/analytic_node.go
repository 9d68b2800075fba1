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
	"sort"

	"github.com/emberdb/ember/pkg/exec/batch"
	"github.com/emberdb/ember/pkg/exec/execinfra"
	"github.com/emberdb/ember/pkg/exec/execspec"
	"github.com/emberdb/ember/pkg/exec/execstatus"
)

// analyticNode evaluates a window function over partitions of its input and
// appends the result as a trailing BIGINT column. The input is fully
// materialized, partitioned and ordered before the first row flows out.
type analyticNode struct {
	baseNode
	spec execspec.AnalyticSpec

	rows    []batch.Row
	held    int64
	built   bool
	emitIdx int

	childBatch *batch.RowBatch
}

var _ PlanNode = (*analyticNode)(nil)

func newAnalyticNode(base baseNode, spec execspec.AnalyticSpec) *analyticNode {
	return &analyticNode{baseNode: base, spec: spec}
}

func (a *analyticNode) Prepare(state *execinfra.RuntimeState) execstatus.Status {
	if st := a.prepareBase(state); !st.OK() {
		return st
	}
	a.childBatch = batch.NewRowBatch(a.children[0].RowDesc(), state.BatchSize())
	return execstatus.OK()
}

func (a *analyticNode) Open(state *execinfra.RuntimeState) execstatus.Status {
	if st := a.openBase(state); !st.OK() {
		return st
	}
	return a.children[0].Open(state)
}

func (a *analyticNode) build(state *execinfra.RuntimeState) execstatus.Status {
	child := a.children[0]
	var input []batch.Row
	for {
		if st := state.CheckQueryState(); !st.OK() {
			return st
		}
		a.childBatch.Reset()
		eos, st := child.Next(state, a.childBatch)
		if !st.OK() {
			return st
		}
		for _, r := range a.childBatch.Rows() {
			row := r.Copy()
			if err := a.tracker.Grow(rowBytes(row)); err != nil {
				return execinfra.StatusFromError(err)
			}
			a.held += rowBytes(row)
			input = append(input, row)
		}
		if eos {
			break
		}
	}

	// Order by (partition, order) so partitions are contiguous and ranked.
	sortCols := make([]execspec.OrderingCol, 0, len(a.spec.PartitionCols)+len(a.spec.OrderCols))
	for _, c := range a.spec.PartitionCols {
		sortCols = append(sortCols, execspec.OrderingCol{ColIdx: c})
	}
	sortCols = append(sortCols, a.spec.OrderCols...)
	sort.SliceStable(input, func(i, j int) bool {
		return compareRows(input[i], input[j], sortCols) < 0
	})

	partCols := a.spec.PartitionCols
	orderCols := make([]execspec.OrderingCol, len(a.spec.OrderCols))
	copy(orderCols, a.spec.OrderCols)

	var rowNum, rank int64
	for i, r := range input {
		newPartition := i == 0 ||
			!r.EqualOn(partCols, input[i-1], partCols)
		if newPartition {
			rowNum, rank = 0, 0
		}
		rowNum++
		switch a.spec.Func {
		case execspec.AnalyticRowNumber:
			rank = rowNum
		case execspec.AnalyticRank:
			if newPartition || compareRows(r, input[i-1], orderCols) != 0 {
				rank = rowNum
			}
		}
		out := make(batch.Row, 0, len(r)+1)
		out = append(out, r...)
		out = append(out, batch.MakeInt(rank))
		a.rows = append(a.rows, out)
	}
	a.built = true
	return execstatus.OK()
}

func (a *analyticNode) Next(
	state *execinfra.RuntimeState, out *batch.RowBatch,
) (bool, execstatus.Status) {
	if st := a.checkNext(state); !st.OK() {
		return false, st
	}
	defer a.timeNext()()

	if !a.built {
		if st := a.build(state); !st.OK() {
			return false, st
		}
	}
	for a.emitIdx < len(a.rows) && a.wantMoreRows(out) {
		a.emitRow(a.rows[a.emitIdx], out)
		a.emitIdx++
	}
	return a.emitIdx >= len(a.rows) || a.reachedLimit(), execstatus.OK()
}

func (a *analyticNode) Close(state *execinfra.RuntimeState) {
	if a.closed() {
		return
	}
	if a.tracker != nil && a.held > 0 {
		a.tracker.Release(a.held)
		a.held = 0
	}
	a.rows = nil
	a.closeBase(state)
}
