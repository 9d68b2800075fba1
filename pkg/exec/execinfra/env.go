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

// Package execinfra holds the shared infrastructure of fragment execution:
// the per-instance runtime state, the plan-scoped object pool and the
// interfaces of the process-level collaborators (stream manager, result
// queues, tablet storage, transactions).
package execinfra

import (
	"github.com/cockroachdb/pebble"

	"github.com/emberdb/ember/pkg/exec/batch"
	"github.com/emberdb/ember/pkg/exec/execspec"
	"github.com/emberdb/ember/pkg/exec/execstatus"
	"github.com/emberdb/ember/pkg/exec/mon"
)

// StreamReceiver is the receive side of one exchange: batches from all
// senders of one (instance, dest node) stream.
type StreamReceiver interface {
	// Recv blocks for the next batch. Returns (nil, true, OK) when all
	// senders closed, and a CANCELLED status promptly after the stream is
	// cancelled.
	Recv() (rows []batch.Row, eos bool, st execstatus.Status)
	// Close tears down the receiver; senders blocked on it are released.
	Close()
}

// StreamManager is the process-wide exchange transport. Cancel must be
// callable concurrently with Recv and must unblock all receives for the
// instance within bounded time.
type StreamManager interface {
	// CreateReceiver registers the receive queue for (fid, destNode) with
	// the expected sender count.
	CreateReceiver(fid execspec.UniqueID, destNode execspec.PlanNodeID, numSenders int) (StreamReceiver, error)
	// SendBatch delivers rows to the receive queue, blocking while it is
	// full. A copy safe to retain is made before SendBatch returns.
	SendBatch(fid execspec.UniqueID, destNode execspec.PlanNodeID, rows []batch.Row) execstatus.Status
	// CloseSender signals that one sender of the stream is done.
	CloseSender(fid execspec.UniqueID, destNode execspec.PlanNodeID) execstatus.Status
	// Cancel unblocks every receive and send for the instance.
	Cancel(fid execspec.UniqueID)
}

// ResultQueue is an external consumer's view of a result sink.
type ResultQueue interface {
	// Push hands rows to the consumer. Returns END_OF_FILE when the
	// consumer has closed its side; the driver treats that as graceful.
	Push(rows []batch.Row) execstatus.Status
	// Close finalizes the queue with the instance's final status.
	Close(final execstatus.Status)
}

// ResultManager tracks result queues of external-interface queries.
type ResultManager interface {
	CreateQueue(fid execspec.UniqueID, bufferSize int) (ResultQueue, error)
	// UpdateQueueStatus propagates a failed executor status to consumers
	// blocked on the queue.
	UpdateQueueStatus(fid execspec.UniqueID, st execstatus.Status)
	// Cancel unblocks producers and consumers of the instance's queue.
	Cancel(fid execspec.UniqueID)
}

// TabletIterator yields the rows of one tablet range.
type TabletIterator interface {
	// Next returns the next row, or ok=false at the end of the range.
	Next() (row batch.Row, ok bool, err error)
	Close()
}

// TabletManager is the storage plane's scan contract.
type TabletManager interface {
	// OpenTablet opens an iterator over the assigned range.
	OpenTablet(r execspec.ScanRange) (TabletIterator, error)
}

// TxnManager is the transaction plane's publish contract for ingest sinks.
type TxnManager interface {
	Commit(txnID int64) error
	Abort(txnID int64, reason string) error
}

// ExecEnv bundles the process-level collaborators handed to every fragment
// instance. Fields used only by specific node or sink kinds may be nil when
// those kinds cannot appear.
type ExecEnv struct {
	StreamMgr StreamManager
	ResultMgr ResultManager
	TabletMgr TabletManager
	TxnMgr    TxnManager
	// KVStore backs kv scan nodes.
	KVStore *pebble.DB
	// ProcessTracker is the root of the memory tracker hierarchy.
	ProcessTracker *mon.Tracker
}
