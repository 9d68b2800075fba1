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

// Package streammgr implements the in-process data-stream manager: the
// registry of exchange receive queues, keyed by (fragment instance, dest
// node). Senders that arrive before their receiver wait on a registration
// channel, up to a timeout; Cancel promptly unblocks every send and receive
// on the instance's registered queues, but does not wake a sender still
// waiting for its receiver to register.
package streammgr

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/emberdb/ember/pkg/exec/batch"
	"github.com/emberdb/ember/pkg/exec/execinfra"
	"github.com/emberdb/ember/pkg/exec/execspec"
	"github.com/emberdb/ember/pkg/exec/execstatus"
)

// registrationTimeout bounds how long a sender waits for its receiver to
// register before giving up with an RPC error.
const registrationTimeout = 30 * time.Second

type streamKey struct {
	fid      execspec.UniqueID
	destNode execspec.PlanNodeID
}

type streamMsg struct {
	rows []batch.Row
}

// recvQueue is one exchange receive queue. Batches flow through dataCh;
// cancelCh is closed exactly once on cancellation.
type recvQueue struct {
	mgr *Manager
	key streamKey

	dataCh   chan streamMsg
	cancelCh chan struct{}

	mu struct {
		sync.Mutex
		sendersLeft int
		dataClosed  bool
		cancelled   bool
	}
}

var _ execinfra.StreamReceiver = (*recvQueue)(nil)

// streamEntry is the registry slot for a (potential) queue. waitCh is set if
// senders are waiting for the receiver to register.
type streamEntry struct {
	waitCh chan struct{}
	queue  *recvQueue
}

// Manager is the process-wide stream registry.
type Manager struct {
	bufSize int
	mu      sync.Mutex
	streams map[streamKey]*streamEntry
}

var _ execinfra.StreamManager = (*Manager)(nil)

// New creates an empty stream manager. bufSize is the receive-queue depth
// in batches; non-positive falls back to the default.
func New(bufSize int) *Manager {
	if bufSize <= 0 {
		bufSize = defaultQueueBufSize
	}
	return &Manager{bufSize: bufSize, streams: make(map[streamKey]*streamEntry)}
}

func (m *Manager) getEntryLocked(key streamKey) *streamEntry {
	e, ok := m.streams[key]
	if !ok {
		e = &streamEntry{}
		m.streams[key] = e
	}
	return e
}

// CreateReceiver is part of the execinfra.StreamManager interface.
func (m *Manager) CreateReceiver(
	fid execspec.UniqueID, destNode execspec.PlanNodeID, numSenders int,
) (execinfra.StreamReceiver, error) {
	if numSenders <= 0 {
		return nil, errors.Errorf("stream (%s, node %d): invalid sender count %d",
			fid, destNode, numSenders)
	}
	key := streamKey{fid: fid, destNode: destNode}
	q := &recvQueue{
		mgr:      m,
		key:      key,
		dataCh:   make(chan streamMsg, m.bufSize),
		cancelCh: make(chan struct{}),
	}
	q.mu.sendersLeft = numSenders

	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.getEntryLocked(key)
	if e.queue != nil {
		return nil, errors.Errorf("stream (%s, node %d) already registered", fid, destNode)
	}
	e.queue = q
	// Wake up senders waiting for this receiver.
	if e.waitCh != nil {
		close(e.waitCh)
		e.waitCh = nil
	}
	return q, nil
}

// defaultQueueBufSize is the receive-queue depth when none is configured.
const defaultQueueBufSize = 16

// lookupQueue returns the queue for key, waiting for registration up to the
// timeout the way a remote sender would wait for its peer fragment.
func (m *Manager) lookupQueue(key streamKey) *recvQueue {
	m.mu.Lock()
	e := m.getEntryLocked(key)
	if e.queue != nil {
		m.mu.Unlock()
		return e.queue
	}
	if e.waitCh == nil {
		e.waitCh = make(chan struct{})
	}
	waitCh := e.waitCh
	m.mu.Unlock()

	select {
	case <-waitCh:
	case <-time.After(registrationTimeout):
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return e.queue
}

// SendBatch is part of the execinfra.StreamManager interface.
func (m *Manager) SendBatch(
	fid execspec.UniqueID, destNode execspec.PlanNodeID, rows []batch.Row,
) execstatus.Status {
	q := m.lookupQueue(streamKey{fid: fid, destNode: destNode})
	if q == nil {
		return execstatus.RPCError("stream (%s, node %d): receiver never registered", fid, destNode)
	}
	// Deep-copy: the sender reuses its batch after we return.
	copied := make([]batch.Row, len(rows))
	for i, r := range rows {
		copied[i] = r.Copy()
	}
	select {
	case q.dataCh <- streamMsg{rows: copied}:
		return execstatus.OK()
	case <-q.cancelCh:
		return execstatus.Cancelled("stream (%s, node %d) cancelled", fid, destNode)
	}
}

// CloseSender is part of the execinfra.StreamManager interface.
func (m *Manager) CloseSender(
	fid execspec.UniqueID, destNode execspec.PlanNodeID,
) execstatus.Status {
	q := m.lookupQueue(streamKey{fid: fid, destNode: destNode})
	if q == nil {
		return execstatus.RPCError("stream (%s, node %d): receiver never registered", fid, destNode)
	}
	q.senderDone()
	return execstatus.OK()
}

// Cancel is part of the execinfra.StreamManager interface. It unblocks all
// sends and receives for the instance.
func (m *Manager) Cancel(fid execspec.UniqueID) {
	m.mu.Lock()
	var queues []*recvQueue
	for key, e := range m.streams {
		if key.fid == fid && e.queue != nil {
			queues = append(queues, e.queue)
		}
	}
	m.mu.Unlock()

	for _, q := range queues {
		q.cancel()
	}
}

func (m *Manager) unregister(key streamKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, key)
}

func (q *recvQueue) senderDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.mu.sendersLeft == 0 {
		return
	}
	q.mu.sendersLeft--
	if q.mu.sendersLeft == 0 && !q.mu.dataClosed {
		q.mu.dataClosed = true
		close(q.dataCh)
	}
}

func (q *recvQueue) cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.mu.cancelled {
		q.mu.cancelled = true
		close(q.cancelCh)
	}
}

// Recv is part of the execinfra.StreamReceiver interface.
func (q *recvQueue) Recv() ([]batch.Row, bool, execstatus.Status) {
	select {
	case msg, ok := <-q.dataCh:
		if !ok {
			return nil, true, execstatus.OK()
		}
		return msg.rows, false, execstatus.OK()
	case <-q.cancelCh:
		return nil, false, execstatus.Cancelled(
			"stream (%s, node %d) cancelled", q.key.fid, q.key.destNode)
	}
}

// Close is part of the execinfra.StreamReceiver interface.
func (q *recvQueue) Close() {
	// Unblock any senders still parked on dataCh, then drop the
	// registration so a later query can reuse the key.
	q.cancel()
	q.mgr.unregister(q.key)
}
