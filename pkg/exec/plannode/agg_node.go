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

// aggState accumulates one group's aggregates.
type aggState struct {
	groupKey batch.Row
	counts   []int64
	sumsI    []int64
	sumsF    []float64
	minMax   []batch.Datum
	seen     []bool
}

// aggregationNode hash-aggregates its child. Output rows are the group
// columns followed by one column per aggregate expression. The whole input
// is consumed on the first Next; groups then stream out.
type aggregationNode struct {
	baseNode
	spec execspec.AggregationSpec

	// serdeImprove is set by TryDoAggregateSerdeImprove when the input
	// layout matches the output layout, letting a copy of the whole input row
	// serve as the group key instead of a column-by-column projection.
	serdeImprove bool

	groups     map[uint64][]*aggState
	groupOrder []*aggState
	built      bool
	emitIdx    int

	childBatch *batch.RowBatch

	groupsCounter *profile.Counter
	inputCounter  *profile.Counter
}

var _ PlanNode = (*aggregationNode)(nil)

func newAggregationNode(base baseNode, spec execspec.AggregationSpec) *aggregationNode {
	return &aggregationNode{baseNode: base, spec: spec}
}

func (a *aggregationNode) Prepare(state *execinfra.RuntimeState) execstatus.Status {
	if st := a.prepareBase(state); !st.OK() {
		return st
	}
	a.groupsCounter = a.prof.AddCounter("GroupsBuilt", profile.UnitNone)
	a.inputCounter = a.prof.AddCounter("InputRows", profile.UnitRows)
	a.childBatch = batch.NewRowBatch(a.children[0].RowDesc(), state.BatchSize())
	a.groups = make(map[uint64][]*aggState)
	return execstatus.OK()
}

func (a *aggregationNode) Open(state *execinfra.RuntimeState) execstatus.Status {
	if st := a.openBase(state); !st.OK() {
		return st
	}
	return a.children[0].Open(state)
}

func (a *aggregationNode) newState(groupKey batch.Row) *aggState {
	n := len(a.spec.Aggs)
	return &aggState{
		groupKey: groupKey,
		counts:   make([]int64, n),
		sumsI:    make([]int64, n),
		sumsF:    make([]float64, n),
		minMax:   make([]batch.Datum, n),
		seen:     make([]bool, n),
	}
}

func (a *aggregationNode) accumulate(st *aggState, r batch.Row) {
	for i, agg := range a.spec.Aggs {
		d := r[agg.ColIdx]
		if d.Null {
			continue
		}
		switch agg.Op {
		case execspec.AggCount:
			st.counts[i]++
		case execspec.AggSum:
			st.counts[i]++
			if d.Kind == desc.TypeDouble {
				st.sumsF[i] += d.Float
			} else {
				st.sumsI[i] += d.Int
			}
		case execspec.AggMin:
			if !st.seen[i] || d.Compare(st.minMax[i]) < 0 {
				st.minMax[i] = d
				st.seen[i] = true
			}
		case execspec.AggMax:
			if !st.seen[i] || d.Compare(st.minMax[i]) > 0 {
				st.minMax[i] = d
				st.seen[i] = true
			}
		}
	}
}

func (a *aggregationNode) output(st *aggState, aggTypes []desc.Type) batch.Row {
	out := make(batch.Row, 0, len(st.groupKey)+len(a.spec.Aggs))
	out = append(out, st.groupKey...)
	for i, agg := range a.spec.Aggs {
		switch agg.Op {
		case execspec.AggCount:
			out = append(out, batch.MakeInt(st.counts[i]))
		case execspec.AggSum:
			if st.counts[i] == 0 {
				out = append(out, batch.MakeNull(aggTypes[i]))
			} else if aggTypes[i] == desc.TypeDouble {
				out = append(out, batch.MakeFloat(st.sumsF[i]))
			} else {
				out = append(out, batch.MakeInt(st.sumsI[i]))
			}
		case execspec.AggMin, execspec.AggMax:
			if !st.seen[i] {
				out = append(out, batch.MakeNull(aggTypes[i]))
			} else {
				out = append(out, st.minMax[i])
			}
		}
	}
	return out
}

func (a *aggregationNode) buildGroups(state *execinfra.RuntimeState) execstatus.Status {
	child := a.children[0]
	keyCols := identityCols(len(a.spec.GroupCols))
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
			a.inputCounter.Update(1)
			key := r.Hash(a.spec.GroupCols)
			var grp *aggState
			for _, cand := range a.groups[key] {
				if r.EqualOn(a.spec.GroupCols, cand.groupKey, keyCols) {
					grp = cand
					break
				}
			}
			if grp == nil {
				var gk batch.Row
				if a.serdeImprove && len(a.spec.GroupCols) == len(r) {
					// Input layout matches output layout; the whole row is
					// the group key.
					gk = r.Copy()
				} else {
					gk = projectRow(r, a.spec.GroupCols).Copy()
				}
				if err := a.tracker.Grow(rowBytes(gk) + 64); err != nil {
					return execinfra.StatusFromError(err)
				}
				grp = a.newState(gk)
				a.groups[key] = append(a.groups[key], grp)
				a.groupOrder = append(a.groupOrder, grp)
				a.groupsCounter.Update(1)
			}
			a.accumulate(grp, r)
		}
		if eos {
			break
		}
	}
	// A global aggregation (no group columns) yields one row even for empty
	// input.
	if len(a.spec.GroupCols) == 0 && len(a.groupOrder) == 0 {
		grp := a.newState(batch.Row{})
		a.groupOrder = append(a.groupOrder, grp)
		a.groupsCounter.Update(1)
	}
	a.built = true
	return execstatus.OK()
}

func (a *aggregationNode) Next(
	state *execinfra.RuntimeState, out *batch.RowBatch,
) (bool, execstatus.Status) {
	if st := a.checkNext(state); !st.OK() {
		return false, st
	}
	defer a.timeNext()()

	if !a.built {
		if st := a.buildGroups(state); !st.OK() {
			return false, st
		}
	}

	aggTypes := a.aggOutputTypes()
	for a.emitIdx < len(a.groupOrder) && a.wantMoreRows(out) {
		a.emitRow(a.output(a.groupOrder[a.emitIdx], aggTypes), out)
		a.emitIdx++
	}
	return a.emitIdx >= len(a.groupOrder) || a.reachedLimit(), execstatus.OK()
}

// aggOutputTypes resolves the output slot type of each aggregate from the
// node's row descriptor (group columns come first).
func (a *aggregationNode) aggOutputTypes() []desc.Type {
	slots := a.rowDesc.Slots()
	types := make([]desc.Type, len(a.spec.Aggs))
	for i := range a.spec.Aggs {
		idx := len(a.spec.GroupCols) + i
		if idx < len(slots) {
			types[i] = slots[idx].Type
		} else {
			types[i] = desc.TypeBigInt
		}
	}
	return types
}

func (a *aggregationNode) Close(state *execinfra.RuntimeState) {
	a.groups = nil
	a.groupOrder = nil
	a.closeBase(state)
}

func projectRow(r batch.Row, cols []int) batch.Row {
	out := make(batch.Row, len(cols))
	for i, c := range cols {
		out[i] = r[c]
	}
	return out
}

func identityCols(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
