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

// Package plannode implements the operator tree of a fragment instance: the
// node factory, the traversal helpers used by the driver, and the operator
// set (scans, exchange, joins, aggregation, analytic, sorts, select, union,
// empty set).
//
// Every node moves through constructed -> prepared -> opened -> closed.
// Close is safe from any state and idempotent. Next is polled for
// cancellation at every call boundary; operators that block internally
// (exchange) are unblocked through the stream manager's cancel path.
package plannode

import (
	"fmt"
	"time"

	"github.com/emberdb/ember/pkg/exec/batch"
	"github.com/emberdb/ember/pkg/exec/desc"
	"github.com/emberdb/ember/pkg/exec/execinfra"
	"github.com/emberdb/ember/pkg/exec/execspec"
	"github.com/emberdb/ember/pkg/exec/execstatus"
	"github.com/emberdb/ember/pkg/exec/mon"
	"github.com/emberdb/ember/pkg/exec/profile"
)

// PlanNode is the operator contract driven by the fragment executor.
type PlanNode interface {
	// ID returns the node's stable id.
	ID() execspec.PlanNodeID
	// Type returns the node's operator tag.
	Type() execspec.PlanNodeType
	// Children returns the node's inputs.
	Children() []PlanNode
	// RowDesc describes the node's output rows.
	RowDesc() desc.RowDescriptor
	// Profile returns the node's profile subtree.
	Profile() *profile.Profile

	// Prepare readies the node and, first, its children (post-order).
	Prepare(state *execinfra.RuntimeState) execstatus.Status
	// Open transitions the node to emitting; may block.
	Open(state *execinfra.RuntimeState) execstatus.Status
	// Next fills out with the next rows. eos=true means no more rows will
	// ever be produced; an empty batch with eos=false asks the caller to
	// retry.
	Next(state *execinfra.RuntimeState, out *batch.RowBatch) (eos bool, st execstatus.Status)
	// Close releases the node's resources. Safe from any state, idempotent,
	// and never fails.
	Close(state *execinfra.RuntimeState)

	// CollectStats folds this node's figures into the accumulator.
	CollectStats(qs *profile.QueryStatistics)
}

// ScanNode is implemented by all scan subtypes; ranges are bound after
// Prepare.
type ScanNode interface {
	PlanNode
	SetScanRanges(ranges []execspec.ScanRange)
}

// ExchangeNode is implemented by exchange receivers. The driver installs
// the coordinator-assigned sender count before Prepare; a count that was
// never set fails Prepare.
type ExchangeNode interface {
	PlanNode
	SetNumSenders(n int)
	NumSenders() int
}

type nodeState int8

const (
	stateConstructed nodeState = iota
	statePrepared
	stateOpened
	stateClosed
)

// baseNode carries the behavior shared by all operators: identity, profile
// wiring, memory tracker, conjunct filtering and limit enforcement.
type baseNode struct {
	id       execspec.PlanNodeID
	typ      execspec.PlanNodeType
	children []PlanNode
	rowDesc  desc.RowDescriptor

	conjuncts []execspec.Conjunct
	limit     int64

	prof        *profile.Profile
	rowsCounter *profile.Counter
	tracker     *mon.Tracker

	state        nodeState
	rowsReturned int64
}

func (b *baseNode) ID() execspec.PlanNodeID      { return b.id }
func (b *baseNode) Type() execspec.PlanNodeType  { return b.typ }
func (b *baseNode) Children() []PlanNode         { return b.children }
func (b *baseNode) RowDesc() desc.RowDescriptor  { return b.rowDesc }
func (b *baseNode) Profile() *profile.Profile    { return b.prof }

// CollectStats is a no-op for operators without their own figures.
func (b *baseNode) CollectStats(qs *profile.QueryStatistics) {}

// prepareBase prepares the children (post-order), wires the profile subtree
// and the node tracker, and transitions to prepared.
func (b *baseNode) prepareBase(state *execinfra.RuntimeState) execstatus.Status {
	if b.state != stateConstructed {
		return execstatus.InternalError("node %d prepared twice", b.id)
	}
	for _, c := range b.children {
		if st := c.Prepare(state); !st.OK() {
			return st
		}
	}
	b.prof = profile.New(fmt.Sprintf("%s (id=%d)", b.typ, b.id))
	b.rowsCounter = b.prof.AddCounter("RowsReturned", profile.UnitRows)
	for _, c := range b.children {
		b.prof.AddChild(c.Profile())
	}
	b.tracker = mon.NewTracker(fmt.Sprintf("node %d", b.id), 0, state.InstanceTracker())
	b.state = statePrepared
	return execstatus.OK()
}

// openBase validates the state machine and transitions to opened.
func (b *baseNode) openBase(state *execinfra.RuntimeState) execstatus.Status {
	if b.state != statePrepared {
		return execstatus.InternalError("node %d opened in state %d", b.id, b.state)
	}
	if st := state.CheckQueryState(); !st.OK() {
		return st
	}
	b.state = stateOpened
	return execstatus.OK()
}

// checkNext is polled at the top of every Next.
func (b *baseNode) checkNext(state *execinfra.RuntimeState) execstatus.Status {
	if b.state != stateOpened {
		return execstatus.InternalError("node %d Next before Open", b.id)
	}
	return state.CheckQueryState()
}

// closeBase closes the children and releases the tracker. Idempotent, safe
// from any state.
func (b *baseNode) closeBase(state *execinfra.RuntimeState) {
	if b.state == stateClosed {
		return
	}
	b.state = stateClosed
	for _, c := range b.children {
		c.Close(state)
	}
	if b.tracker != nil {
		b.tracker.Close()
	}
}

func (b *baseNode) closed() bool { return b.state == stateClosed }

// evalConjuncts applies the node's column predicates to one row.
func (b *baseNode) evalConjuncts(r batch.Row) bool {
	return evalConjuncts(b.conjuncts, r)
}

func evalConjuncts(conjuncts []execspec.Conjunct, r batch.Row) bool {
	for _, c := range conjuncts {
		cmp := r[c.ColIdx].Compare(c.Val)
		var pass bool
		switch c.Op {
		case execspec.CmpEQ:
			pass = cmp == 0
		case execspec.CmpNE:
			pass = cmp != 0
		case execspec.CmpLT:
			pass = cmp < 0
		case execspec.CmpLE:
			pass = cmp <= 0
		case execspec.CmpGT:
			pass = cmp > 0
		case execspec.CmpGE:
			pass = cmp >= 0
		}
		if !pass {
			return false
		}
	}
	return true
}

// reachedLimit reports whether the node already emitted its limit.
func (b *baseNode) reachedLimit() bool {
	return b.limit > 0 && b.rowsReturned >= b.limit
}

// wantMoreRows reports whether the node can consume another input row into
// out. Producers check it before pulling a row so no pulled row is dropped.
func (b *baseNode) wantMoreRows(out *batch.RowBatch) bool {
	return !out.IsFull() && !b.reachedLimit()
}

// emitRow pushes one row through conjuncts and limit into out. The caller
// must have checked wantMoreRows; a row past the limit is discarded.
func (b *baseNode) emitRow(r batch.Row, out *batch.RowBatch) {
	if b.reachedLimit() || !b.evalConjuncts(r) {
		return
	}
	if out.AddRow(r) {
		b.rowsReturned++
		b.rowsCounter.Update(1)
	}
}

// timeNext wraps a Next body with the node's TotalTime counter.
func (b *baseNode) timeNext() func() {
	start := time.Now()
	return func() {
		b.prof.TotalTimeCounter().Update(int64(time.Since(start)))
	}
}

// CollectNodes appends, pre-order, every node under root matching the tag.
func CollectNodes(root PlanNode, t execspec.PlanNodeType, out *[]PlanNode) {
	if root.Type() == t {
		*out = append(*out, root)
	}
	for _, c := range root.Children() {
		CollectNodes(c, t, out)
	}
}

// CollectScanNodes appends, pre-order, every scan subtype under root.
func CollectScanNodes(root PlanNode, out *[]ScanNode) {
	if sn, ok := root.(ScanNode); ok {
		*out = append(*out, sn)
	}
	for _, c := range root.Children() {
		CollectScanNodes(c, out)
	}
}

// CollectStats folds the whole tree's figures into qs.
func CollectStats(root PlanNode, qs *profile.QueryStatistics) {
	root.CollectStats(qs)
	for _, c := range root.Children() {
		CollectStats(c, qs)
	}
}

// TryDoAggregateSerdeImprove enables the aggregation fast path on every agg
// node whose input layout matches its output layout.
func TryDoAggregateSerdeImprove(root PlanNode) {
	var aggs []PlanNode
	CollectNodes(root, execspec.NodeAggregation, &aggs)
	for _, n := range aggs {
		agg := n.(*aggregationNode)
		if len(agg.children) == 1 && agg.children[0].RowDesc().Equal(agg.rowDesc) {
			agg.serdeImprove = true
		}
	}
}
