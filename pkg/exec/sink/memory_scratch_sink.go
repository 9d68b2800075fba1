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

package sink

import (
	"sync"

	"github.com/emberdb/ember/pkg/exec/batch"
	"github.com/emberdb/ember/pkg/exec/execinfra"
	"github.com/emberdb/ember/pkg/exec/execspec"
	"github.com/emberdb/ember/pkg/exec/execstatus"
)

// MemoryScratchSink buffers all sent rows in memory. Internal consumers
// read them back after the fragment finishes; tests use it to observe the
// driver's output and, via EOFAfterSends, to exercise graceful early
// termination.
type MemoryScratchSink struct {
	sinkBase
	spec execspec.MemoryScratchSinkSpec

	mu struct {
		sync.Mutex
		rows        []batch.Row
		sends       int
		closedWith  execstatus.Status
		closeCalls  int
	}
}

var _ DataSink = (*MemoryScratchSink)(nil)

func newMemoryScratchSink(base sinkBase, spec execspec.MemoryScratchSinkSpec) *MemoryScratchSink {
	return &MemoryScratchSink{sinkBase: base, spec: spec}
}

// Prepare is part of the DataSink interface.
func (m *MemoryScratchSink) Prepare(state *execinfra.RuntimeState) execstatus.Status {
	m.initProfile("MemoryScratchSink")
	return execstatus.OK()
}

// Open is part of the DataSink interface.
func (m *MemoryScratchSink) Open(state *execinfra.RuntimeState) execstatus.Status {
	return execstatus.OK()
}

// Send is part of the DataSink interface.
func (m *MemoryScratchSink) Send(
	state *execinfra.RuntimeState, b batch.Carrier,
) execstatus.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.spec.EOFAfterSends > 0 && m.mu.sends >= m.spec.EOFAfterSends {
		return execstatus.EndOfFile("scratch sink full")
	}
	for _, r := range m.projectBatch(b) {
		m.mu.rows = append(m.mu.rows, r.Copy())
	}
	m.mu.sends++
	m.rowsSent.Update(int64(b.NumRows()))
	return execstatus.OK()
}

// Close is part of the DataSink interface.
func (m *MemoryScratchSink) Close(
	state *execinfra.RuntimeState, final execstatus.Status,
) execstatus.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mu.closeCalls++
	if m.closed {
		return execstatus.OK()
	}
	m.closed = true
	m.mu.closedWith = final
	return execstatus.OK()
}

// Rows returns the buffered rows.
func (m *MemoryScratchSink) Rows() []batch.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]batch.Row, len(m.mu.rows))
	copy(out, m.mu.rows)
	return out
}

// Sends returns how many batches were accepted.
func (m *MemoryScratchSink) Sends() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mu.sends
}

// CloseCalls returns how many times Close was invoked.
func (m *MemoryScratchSink) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mu.closeCalls
}

// ClosedWith returns the final status observed by the first Close.
func (m *MemoryScratchSink) ClosedWith() execstatus.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mu.closedWith
}
