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
	"container/heap"
	"sort"

	"github.com/emberdb/ember/pkg/exec/batch"
	"github.com/emberdb/ember/pkg/exec/execinfra"
	"github.com/emberdb/ember/pkg/exec/execspec"
	"github.com/emberdb/ember/pkg/exec/execstatus"
)

// compareRows orders two rows by the ordering columns.
func compareRows(a, b batch.Row, ordering []execspec.OrderingCol) int {
	for _, o := range ordering {
		c := a[o.ColIdx].Compare(b[o.ColIdx])
		if c == 0 {
			continue
		}
		if o.Desc {
			return -c
		}
		return c
	}
	return 0
}

// sortNode materializes and sorts its child. With topN > 0 it keeps only the
// first topN rows, maintained in a bounded heap while consuming input.
type sortNode struct {
	baseNode
	ordering []execspec.OrderingCol
	topN     int64

	rows    []batch.Row
	held    int64
	built   bool
	emitIdx int

	childBatch *batch.RowBatch
}

var _ PlanNode = (*sortNode)(nil)

func newSortNode(base baseNode, ordering []execspec.OrderingCol, topN int64) *sortNode {
	return &sortNode{baseNode: base, ordering: ordering, topN: topN}
}

func (s *sortNode) Prepare(state *execinfra.RuntimeState) execstatus.Status {
	if st := s.prepareBase(state); !st.OK() {
		return st
	}
	s.childBatch = batch.NewRowBatch(s.children[0].RowDesc(), state.BatchSize())
	return execstatus.OK()
}

func (s *sortNode) Open(state *execinfra.RuntimeState) execstatus.Status {
	if st := s.openBase(state); !st.OK() {
		return st
	}
	return s.children[0].Open(state)
}

// rowHeap is a max-heap on the ordering so the worst retained row sits at
// the top, ready to be displaced.
type rowHeap struct {
	rows     []batch.Row
	ordering []execspec.OrderingCol
}

func (h *rowHeap) Len() int { return len(h.rows) }
func (h *rowHeap) Less(i, j int) bool {
	return compareRows(h.rows[i], h.rows[j], h.ordering) > 0
}
func (h *rowHeap) Swap(i, j int)      { h.rows[i], h.rows[j] = h.rows[j], h.rows[i] }
func (h *rowHeap) Push(x interface{}) { h.rows = append(h.rows, x.(batch.Row)) }
func (h *rowHeap) Pop() interface{} {
	n := len(h.rows)
	r := h.rows[n-1]
	h.rows = h.rows[:n-1]
	return r
}

func (s *sortNode) build(state *execinfra.RuntimeState) execstatus.Status {
	child := s.children[0]
	var h *rowHeap
	if s.topN > 0 {
		h = &rowHeap{ordering: s.ordering}
	}
	for {
		if st := state.CheckQueryState(); !st.OK() {
			return st
		}
		s.childBatch.Reset()
		eos, st := child.Next(state, s.childBatch)
		if !st.OK() {
			return st
		}
		for _, r := range s.childBatch.Rows() {
			row := r.Copy()
			if h != nil {
				if int64(h.Len()) < s.topN {
					if err := s.tracker.Grow(rowBytes(row)); err != nil {
						return execinfra.StatusFromError(err)
					}
					s.held += rowBytes(row)
					heap.Push(h, row)
				} else if compareRows(row, h.rows[0], s.ordering) < 0 {
					h.rows[0] = row
					heap.Fix(h, 0)
				}
				continue
			}
			if err := s.tracker.Grow(rowBytes(row)); err != nil {
				return execinfra.StatusFromError(err)
			}
			s.held += rowBytes(row)
			s.rows = append(s.rows, row)
		}
		if eos {
			break
		}
	}
	if h != nil {
		s.rows = h.rows
	}
	sort.SliceStable(s.rows, func(i, j int) bool {
		return compareRows(s.rows[i], s.rows[j], s.ordering) < 0
	})
	s.built = true
	return execstatus.OK()
}

func (s *sortNode) Next(
	state *execinfra.RuntimeState, out *batch.RowBatch,
) (bool, execstatus.Status) {
	if st := s.checkNext(state); !st.OK() {
		return false, st
	}
	defer s.timeNext()()

	if !s.built {
		if st := s.build(state); !st.OK() {
			return false, st
		}
	}
	for s.emitIdx < len(s.rows) && s.wantMoreRows(out) {
		s.emitRow(s.rows[s.emitIdx], out)
		s.emitIdx++
	}
	return s.emitIdx >= len(s.rows) || s.reachedLimit(), execstatus.OK()
}

func (s *sortNode) Close(state *execinfra.RuntimeState) {
	if s.closed() {
		return
	}
	if s.tracker != nil && s.held > 0 {
		s.tracker.Release(s.held)
		s.held = 0
	}
	s.rows = nil
	s.closeBase(state)
}
