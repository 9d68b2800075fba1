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

package execspec

import "github.com/emberdb/ember/pkg/exec/desc"

// SinkType tags the sink variant of a fragment's output.
type SinkType int8

// Sink variants.
const (
	SinkDataStream SinkType = iota
	SinkResult
	SinkOlapTable
	SinkExport
	SinkMemoryScratch
)

var sinkTypeNames = [...]string{
	SinkDataStream:    "DATA_STREAM_SINK",
	SinkResult:        "RESULT_SINK",
	SinkOlapTable:     "OLAP_TABLE_SINK",
	SinkExport:        "EXPORT_SINK",
	SinkMemoryScratch: "MEMORY_SCRATCH_SINK",
}

func (t SinkType) String() string {
	if int(t) < len(sinkTypeNames) {
		return sinkTypeNames[t]
	}
	return "SINK(?)"
}

// StreamDestination addresses one receiver of a data-stream sink.
type StreamDestination struct {
	FragmentInstanceID UniqueID
	DestNodeID         PlanNodeID
}

// DataStreamSinkSpec fans batches out to peer fragment instances.
type DataStreamSinkSpec struct {
	DestNodeID   PlanNodeID
	Destinations []StreamDestination
}

// ResultSinkSpec feeds an external client result queue.
type ResultSinkSpec struct {
	BufferSize int
}

// OlapTableSinkSpec ingests rows into storage under a transaction.
type OlapTableSinkSpec struct {
	TableID int64
	TxnID   int64
	TupleID desc.TupleID
}

// ExportSinkSpec writes rows to compressed files.
type ExportSinkSpec struct {
	ExportPath      string
	FilePrefix      string
	ColumnSeparator string
	LineDelimiter   string
}

// MemoryScratchSinkSpec buffers rows in memory; used by internal consumers
// and tests. EOFAfterSends > 0 makes Send return END_OF_FILE after that many
// successful sends, exercising graceful early termination.
type MemoryScratchSinkSpec struct {
	EOFAfterSends int
}

// SinkSpec carries exactly one sink variant.
type SinkSpec struct {
	Type          SinkType
	DataStream    *DataStreamSinkSpec
	Result        *ResultSinkSpec
	OlapTable     *OlapTableSinkSpec
	Export        *ExportSinkSpec
	MemoryScratch *MemoryScratchSinkSpec
}

// FragmentSpec is the plan plus its optional terminal sink.
type FragmentSpec struct {
	Plan PlanSpec
	// OutputSink is nil in pull mode.
	OutputSink *SinkSpec
	// OutputExprs selects and orders the columns handed to the sink; empty
	// passes rows through unchanged.
	OutputExprs []int
}

// FragmentExecParams are the per-instance parameters of the request.
type FragmentExecParams struct {
	QueryID            UniqueID
	FragmentInstanceID UniqueID
	// SenderID is this instance's index among the fragment's instances.
	SenderID int
	// NumSenders is the fragment's instance count.
	NumSenders int
	// PerExchNumSenders maps exchange node id -> expected sender count. A
	// missing entry is a coordinator bug and fails Prepare.
	PerExchNumSenders map[PlanNodeID]int
	// PerNodeScanRanges maps scan node id -> assigned ranges. Missing
	// entries mean zero ranges.
	PerNodeScanRanges map[PlanNodeID][]ScanRange
	// SendQueryStatisticsWithEveryBatch refreshes statistics before every
	// sink send instead of once at termination.
	SendQueryStatisticsWithEveryBatch bool
	QueryType                         QueryType
}

// ExecRequest is the fully-deserialized fragment-execution request.
type ExecRequest struct {
	Params       FragmentExecParams
	Fragment     FragmentSpec
	QueryOptions QueryOptions
	QueryGlobals QueryGlobals
	// DescTbl is ignored when a shared query context provides the table.
	DescTbl TableSpecOpt
	// BackendNum is this backend's ordinal in the query.
	BackendNum int
	// BackendID identifies the backend for node statistics; zero when
	// unset.
	BackendID int64

	// Load-specific fields, set only for ingest fragments.
	ImportLabel string
	DBName      string
	LoadJobID   int64
}

// TableSpecOpt is an optional descriptor-table spec.
type TableSpecOpt struct {
	Set  bool
	Spec desc.TableSpec
}
