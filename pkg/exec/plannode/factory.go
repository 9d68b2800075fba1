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
	"github.com/emberdb/ember/pkg/exec/desc"
	"github.com/emberdb/ember/pkg/exec/execinfra"
	"github.com/emberdb/ember/pkg/exec/execspec"
	"github.com/emberdb/ember/pkg/exec/execstatus"
)

// NewTree materializes the plan tree from its pre-order flattened node list.
// Construction is recursive: each node consumes its spec, then builds
// NumChildren subtrees from the remaining list.
func NewTree(
	state *execinfra.RuntimeState, plan execspec.PlanSpec, descTbl *desc.Table,
) (PlanNode, execstatus.Status) {
	if len(plan.Nodes) == 0 {
		return nil, execstatus.InvalidArgument("plan tree has no nodes")
	}
	root, rest, st := newSubtree(state, plan.Nodes, descTbl)
	if !st.OK() {
		return nil, st
	}
	if len(rest) != 0 {
		return nil, execstatus.InvalidArgument(
			"plan tree has %d trailing node specs", len(rest))
	}
	return root, execstatus.OK()
}

func newSubtree(
	state *execinfra.RuntimeState, specs []execspec.PlanNodeSpec, descTbl *desc.Table,
) (PlanNode, []execspec.PlanNodeSpec, execstatus.Status) {
	if len(specs) == 0 {
		return nil, nil, execstatus.InvalidArgument("plan tree truncated: missing child spec")
	}
	spec := specs[0]
	rest := specs[1:]

	children := make([]PlanNode, spec.NumChildren)
	for i := 0; i < spec.NumChildren; i++ {
		var child PlanNode
		var st execstatus.Status
		child, rest, st = newSubtree(state, rest, descTbl)
		if !st.OK() {
			return nil, nil, st
		}
		children[i] = child
	}

	node, st := newNode(state, spec, children, descTbl)
	if !st.OK() {
		return nil, nil, st
	}
	return node, rest, execstatus.OK()
}

func checkNumChildren(spec execspec.PlanNodeSpec, lo, hi int) execstatus.Status {
	n := spec.NumChildren
	if n < lo || (hi >= 0 && n > hi) {
		return execstatus.InvalidArgument(
			"node %d (%s): unexpected child count %d", spec.ID, spec.Type, n)
	}
	return execstatus.OK()
}

// newNode dispatches on the spec's core union; the core set must match the
// type tag.
func newNode(
	state *execinfra.RuntimeState,
	spec execspec.PlanNodeSpec,
	children []PlanNode,
	descTbl *desc.Table,
) (PlanNode, execstatus.Status) {
	rowDesc, err := desc.MakeRowDescriptor(descTbl, spec.RowTuples)
	if err != nil {
		return nil, execstatus.InvalidArgument("node %d (%s): %s", spec.ID, spec.Type, err)
	}
	base := baseNode{
		id:        spec.ID,
		typ:       spec.Type,
		children:  children,
		rowDesc:   rowDesc,
		conjuncts: spec.Conjuncts,
		limit:     spec.Limit,
	}

	switch spec.Type {
	case execspec.NodeOlapScan:
		if spec.Core.OlapScan == nil {
			return nil, missingCore(spec)
		}
		if st := checkNumChildren(spec, 0, 0); !st.OK() {
			return nil, st
		}
		return newOlapScanNode(base, *spec.Core.OlapScan), execstatus.OK()
	case execspec.NodeKVScan:
		if spec.Core.KVScan == nil {
			return nil, missingCore(spec)
		}
		if st := checkNumChildren(spec, 0, 0); !st.OK() {
			return nil, st
		}
		return newKVScanNode(base, *spec.Core.KVScan), execstatus.OK()
	case execspec.NodeMemoryScan:
		if spec.Core.MemoryScan == nil {
			return nil, missingCore(spec)
		}
		if st := checkNumChildren(spec, 0, 0); !st.OK() {
			return nil, st
		}
		return newMemoryScanNode(base, *spec.Core.MemoryScan), execstatus.OK()
	case execspec.NodeExchange:
		if spec.Core.Exchange == nil {
			return nil, missingCore(spec)
		}
		if st := checkNumChildren(spec, 0, 0); !st.OK() {
			return nil, st
		}
		return newExchangeNode(base), execstatus.OK()
	case execspec.NodeUnion:
		if spec.Core.Union == nil {
			return nil, missingCore(spec)
		}
		if st := checkNumChildren(spec, 1, -1); !st.OK() {
			return nil, st
		}
		return newUnionNode(base), execstatus.OK()
	case execspec.NodeHashJoin:
		if spec.Core.HashJoin == nil {
			return nil, missingCore(spec)
		}
		if st := checkNumChildren(spec, 2, 2); !st.OK() {
			return nil, st
		}
		return newHashJoinNode(base, *spec.Core.HashJoin)
	case execspec.NodeCrossJoin:
		if spec.Core.CrossJoin == nil {
			return nil, missingCore(spec)
		}
		if st := checkNumChildren(spec, 2, 2); !st.OK() {
			return nil, st
		}
		return newCrossJoinNode(base), execstatus.OK()
	case execspec.NodeAggregation:
		if spec.Core.Aggregation == nil {
			return nil, missingCore(spec)
		}
		if st := checkNumChildren(spec, 1, 1); !st.OK() {
			return nil, st
		}
		return newAggregationNode(base, *spec.Core.Aggregation), execstatus.OK()
	case execspec.NodeAnalytic:
		if spec.Core.Analytic == nil {
			return nil, missingCore(spec)
		}
		if st := checkNumChildren(spec, 1, 1); !st.OK() {
			return nil, st
		}
		return newAnalyticNode(base, *spec.Core.Analytic), execstatus.OK()
	case execspec.NodeSort:
		if spec.Core.Sort == nil {
			return nil, missingCore(spec)
		}
		if st := checkNumChildren(spec, 1, 1); !st.OK() {
			return nil, st
		}
		return newSortNode(base, spec.Core.Sort.Ordering, 0), execstatus.OK()
	case execspec.NodeTopN:
		if spec.Core.TopN == nil {
			return nil, missingCore(spec)
		}
		if st := checkNumChildren(spec, 1, 1); !st.OK() {
			return nil, st
		}
		if spec.Core.TopN.Limit <= 0 {
			return nil, execstatus.InvalidArgument(
				"node %d (%s): top-n requires a positive limit", spec.ID, spec.Type)
		}
		return newSortNode(base, spec.Core.TopN.Ordering, spec.Core.TopN.Limit), execstatus.OK()
	case execspec.NodeSelect:
		if spec.Core.Select == nil {
			return nil, missingCore(spec)
		}
		if st := checkNumChildren(spec, 1, 1); !st.OK() {
			return nil, st
		}
		return newSelectNode(base), execstatus.OK()
	case execspec.NodeEmptySet:
		if spec.Core.EmptySet == nil {
			return nil, missingCore(spec)
		}
		if st := checkNumChildren(spec, 0, 0); !st.OK() {
			return nil, st
		}
		return newEmptySetNode(base), execstatus.OK()
	}
	return nil, execstatus.InvalidArgument("node %d: unsupported node type %s", spec.ID, spec.Type)
}

func missingCore(spec execspec.PlanNodeSpec) execstatus.Status {
	return execstatus.InvalidArgument(
		"node %d: type %s has no matching core spec", spec.ID, spec.Type)
}
