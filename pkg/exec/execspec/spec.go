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

// Package execspec defines the fully-deserialized fragment execution request:
// the plan tree, the optional output sink, per-exchange sender counts and
// per-scan-node range assignments. The coordinator produces these; transport
// and wire encoding live outside this repository.
package execspec

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/emberdb/ember/pkg/exec/batch"
	"github.com/emberdb/ember/pkg/exec/desc"
)

// UniqueID is the 128-bit identifier used for queries and fragment
// instances.
type UniqueID struct {
	Hi uint64
	Lo uint64
}

// UniqueIDFromUUID converts a UUID into a UniqueID.
func UniqueIDFromUUID(u uuid.UUID) UniqueID {
	return UniqueID{
		Hi: binary.BigEndian.Uint64(u[:8]),
		Lo: binary.BigEndian.Uint64(u[8:]),
	}
}

// NewUniqueID returns a random UniqueID.
func NewUniqueID() UniqueID {
	return UniqueIDFromUUID(uuid.New())
}

func (id UniqueID) String() string {
	return fmt.Sprintf("%016x-%016x", id.Hi, id.Lo)
}

// IsZero reports whether the id is unset.
func (id UniqueID) IsZero() bool { return id.Hi == 0 && id.Lo == 0 }

// PlanNodeID is the stable integer id of a plan node.
type PlanNodeID int

// PlanNodeType tags the operator kind of a plan node.
type PlanNodeType int8

// The operator kinds understood by the node factory.
const (
	NodeOlapScan PlanNodeType = iota
	NodeKVScan
	NodeMemoryScan
	NodeExchange
	NodeUnion
	NodeHashJoin
	NodeCrossJoin
	NodeAggregation
	NodeAnalytic
	NodeSort
	NodeTopN
	NodeSelect
	NodeEmptySet
)

var planNodeTypeNames = [...]string{
	NodeOlapScan:    "OLAP_SCAN_NODE",
	NodeKVScan:      "KV_SCAN_NODE",
	NodeMemoryScan:  "MEMORY_SCAN_NODE",
	NodeExchange:    "EXCHANGE_NODE",
	NodeUnion:       "UNION_NODE",
	NodeHashJoin:    "HASH_JOIN_NODE",
	NodeCrossJoin:   "CROSS_JOIN_NODE",
	NodeAggregation: "AGGREGATION_NODE",
	NodeAnalytic:    "ANALYTIC_EVAL_NODE",
	NodeSort:        "SORT_NODE",
	NodeTopN:        "TOP_N_NODE",
	NodeSelect:      "SELECT_NODE",
	NodeEmptySet:    "EMPTY_SET_NODE",
}

func (t PlanNodeType) String() string {
	if int(t) < len(planNodeTypeNames) {
		return planNodeTypeNames[t]
	}
	return fmt.Sprintf("PLAN_NODE(%d)", t)
}

// QueryType distinguishes how the instance's results leave the backend.
type QueryType int8

// Query types.
const (
	QueryTypeSelect QueryType = iota
	QueryTypeLoad
	QueryTypeExternal
)

// QueryOptions are the coordinator-chosen execution options.
type QueryOptions struct {
	// MemLimit is the per-instance memory budget in bytes; <= 0 falls back
	// to the configured default.
	MemLimit int64
	// BatchSize is the rows-per-batch override; <= 0 falls back to the
	// configured default.
	BatchSize int
	// IsReportSuccess enables periodic profile reporting.
	IsReportSuccess bool
	// EnableVectorized selects the column-block drive loop.
	EnableVectorized bool
}

// QueryGlobals carry per-query ambient values fixed by the coordinator.
type QueryGlobals struct {
	Timezone          string
	NowString         string
	LoadZeroTolerance bool
}

// ScanRange is an opaque storage range assigned to a scan node.
type ScanRange struct {
	// TabletID addresses a tablet for the olap scan.
	TabletID int64
	// Version is the tablet version to read.
	Version int64
	// StartKey and EndKey bound a kv scan.
	StartKey []byte
	EndKey   []byte
}

// ComparisonOp is the operator of a conjunct.
type ComparisonOp int8

// Conjunct comparison operators.
const (
	CmpEQ ComparisonOp = iota
	CmpNE
	CmpLT
	CmpLE
	CmpGT
	CmpGE
)

// Conjunct is a single column-vs-constant predicate evaluated by a node on
// its output rows.
type Conjunct struct {
	ColIdx int
	Op     ComparisonOp
	Val    batch.Datum
}

// AggOp is an aggregate function tag.
type AggOp int8

// Aggregate functions.
const (
	AggCount AggOp = iota
	AggSum
	AggMin
	AggMax
)

// AggExpr is one aggregate output: an op applied to an input column.
type AggExpr struct {
	Op     AggOp
	ColIdx int
}

// OrderingCol is one sort key.
type OrderingCol struct {
	ColIdx int
	Desc   bool
}

// JoinOp is the join kind of a hash join node.
type JoinOp int8

// Join kinds.
const (
	JoinInner JoinOp = iota
	JoinLeftOuter
)

// AnalyticFunc is the window function of an analytic node.
type AnalyticFunc int8

// Analytic functions.
const (
	AnalyticRowNumber AnalyticFunc = iota
	AnalyticRank
)

// Per-operator core specs. Exactly one of the NodeCoreUnion fields is set,
// matching the node's type tag.

// OlapScanSpec configures a tablet scan.
type OlapScanSpec struct {
	TupleID desc.TupleID
}

// KVScanSpec configures a key-range scan against the local kv store. Rows
// come out as (key VARCHAR, value VARCHAR).
type KVScanSpec struct {
	TupleID desc.TupleID
}

// MemoryScanSpec embeds literal rows; used by internal queries and tests.
type MemoryScanSpec struct {
	TupleID desc.TupleID
	Rows    []batch.Row
}

// ExchangeSpec configures an exchange receiver. The sender count arrives
// separately in FragmentExecParams.PerExchNumSenders.
type ExchangeSpec struct{}

// UnionSpec configures a union-all node.
type UnionSpec struct{}

// HashJoinSpec configures a hash join; EqLeft[i] joins against EqRight[i].
type HashJoinSpec struct {
	Op      JoinOp
	EqLeft  []int
	EqRight []int
}

// CrossJoinSpec configures a nested-loop cross join.
type CrossJoinSpec struct{}

// AggregationSpec configures a hash aggregation.
type AggregationSpec struct {
	GroupCols []int
	Aggs      []AggExpr
}

// AnalyticSpec configures an analytic (window) node; the function value is
// appended as a trailing BIGINT column.
type AnalyticSpec struct {
	PartitionCols []int
	OrderCols     []OrderingCol
	Func          AnalyticFunc
}

// SortSpec configures a full sort.
type SortSpec struct {
	Ordering []OrderingCol
}

// TopNSpec configures a bounded sort.
type TopNSpec struct {
	Ordering []OrderingCol
	Limit    int64
}

// SelectSpec configures a filter-only node.
type SelectSpec struct{}

// EmptySetSpec configures a node that produces no rows.
type EmptySetSpec struct{}

// NodeCoreUnion carries exactly one operator core spec.
type NodeCoreUnion struct {
	OlapScan    *OlapScanSpec
	KVScan      *KVScanSpec
	MemoryScan  *MemoryScanSpec
	Exchange    *ExchangeSpec
	Union       *UnionSpec
	HashJoin    *HashJoinSpec
	CrossJoin   *CrossJoinSpec
	Aggregation *AggregationSpec
	Analytic    *AnalyticSpec
	Sort        *SortSpec
	TopN        *TopNSpec
	Select      *SelectSpec
	EmptySet    *EmptySetSpec
}

// PlanNodeSpec is the serialized form of one plan node. The plan arrives as
// a pre-order flattened list; NumChildren stitches the tree back together.
type PlanNodeSpec struct {
	ID          PlanNodeID
	Type        PlanNodeType
	NumChildren int
	RowTuples   []desc.TupleID
	Conjuncts   []Conjunct
	// Limit caps the node's output; <= 0 means no limit.
	Limit int64
	Core  NodeCoreUnion
}

// PlanSpec is the flattened plan tree.
type PlanSpec struct {
	Nodes []PlanNodeSpec
}
