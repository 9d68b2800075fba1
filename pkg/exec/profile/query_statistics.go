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

package profile

import "sync"

// NodeStatistics holds per-backend figures keyed into QueryStatistics.
type NodeStatistics struct {
	PeakMemory int64
}

// AddPeakMemory keeps the max of the recorded peaks.
func (n *NodeStatistics) AddPeakMemory(v int64) {
	if v > n.PeakMemory {
		n.PeakMemory = v
	}
}

// QueryStatistics is the flat statistics bag shipped with outgoing batches
// and reports. It is refreshed by the driver (cleared, re-aggregated from the
// plan, cpu time added) either before every sink send or once at successful
// termination.
type QueryStatistics struct {
	mu sync.Mutex

	scanRows     int64
	scanBytes    int64
	returnedRows int64
	cpuMs        int64

	nodes map[int64]*NodeStatistics
}

// NewQueryStatistics returns an empty statistics bag.
func NewQueryStatistics() *QueryStatistics {
	return &QueryStatistics{nodes: make(map[int64]*NodeStatistics)}
}

// Clear resets all figures.
func (q *QueryStatistics) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.scanRows, q.scanBytes, q.returnedRows, q.cpuMs = 0, 0, 0, 0
	q.nodes = make(map[int64]*NodeStatistics)
}

// AddScanRows adds to the scanned-row total.
func (q *QueryStatistics) AddScanRows(v int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.scanRows += v
}

// AddScanBytes adds to the scanned-byte total.
func (q *QueryStatistics) AddScanBytes(v int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.scanBytes += v
}

// AddReturnedRows adds to the returned-row total.
func (q *QueryStatistics) AddReturnedRows(v int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.returnedRows += v
}

// AddCpuMs adds to the cpu-milliseconds total.
func (q *QueryStatistics) AddCpuMs(v int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cpuMs += v
}

// ScanRows returns the scanned-row total.
func (q *QueryStatistics) ScanRows() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.scanRows
}

// ScanBytes returns the scanned-byte total.
func (q *QueryStatistics) ScanBytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.scanBytes
}

// ReturnedRows returns the returned-row total.
func (q *QueryStatistics) ReturnedRows() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.returnedRows
}

// CpuMs returns the cpu-milliseconds total.
func (q *QueryStatistics) CpuMs() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cpuMs
}

// AddNodeStatistics returns the per-backend record for backendID, creating
// it on first use.
func (q *QueryStatistics) AddNodeStatistics(backendID int64) *NodeStatistics {
	q.mu.Lock()
	defer q.mu.Unlock()
	ns, ok := q.nodes[backendID]
	if !ok {
		ns = &NodeStatistics{}
		q.nodes[backendID] = ns
	}
	return ns
}

// NodeStatistics returns the record for backendID, or nil.
func (q *QueryStatistics) NodeStatistics(backendID int64) *NodeStatistics {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nodes[backendID]
}

// Merge folds other into q.
func (q *QueryStatistics) Merge(other *QueryStatistics) {
	other.mu.Lock()
	sr, sb, rr, cm := other.scanRows, other.scanBytes, other.returnedRows, other.cpuMs
	nodes := make(map[int64]NodeStatistics, len(other.nodes))
	for id, ns := range other.nodes {
		nodes[id] = *ns
	}
	other.mu.Unlock()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.scanRows += sr
	q.scanBytes += sb
	q.returnedRows += rr
	q.cpuMs += cm
	for id, ns := range nodes {
		cur, ok := q.nodes[id]
		if !ok {
			cur = &NodeStatistics{}
			q.nodes[id] = cur
		}
		cur.AddPeakMemory(ns.PeakMemory)
	}
}
