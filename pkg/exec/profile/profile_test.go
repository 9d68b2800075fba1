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

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	p := New("root")
	c := p.AddCounter("RowsProduced", UnitRows)
	c.Update(10)
	c.Update(5)
	assert.Equal(t, int64(15), c.Value())

	// Same name returns the same counter.
	assert.Same(t, c, p.AddCounter("RowsProduced", UnitRows))
	assert.Same(t, c, p.Counter("RowsProduced"))
	assert.Nil(t, p.Counter("Missing"))
}

func TestChildTree(t *testing.T) {
	root := New("fragment")
	scan := New("SCAN (id=0)")
	exch := New("EXCHANGE (id=1)")
	root.AddChild(exch)
	exch.AddChild(scan)

	children := root.Children()
	require.Len(t, children, 1)
	assert.Equal(t, "EXCHANGE (id=1)", children[0].Name())
}

func TestComputeTimeInProfile(t *testing.T) {
	root := New("root")
	child := New("child")
	root.AddChild(child)

	root.TotalTimeCounter().Set(int64(100 * time.Millisecond))
	child.TotalTimeCounter().Set(int64(80 * time.Millisecond))
	root.ComputeTimeInProfile()

	var buf bytes.Buffer
	root.PrettyPrint(&buf)
	out := buf.String()
	// Root keeps 20% of the time, the child 80%.
	assert.Contains(t, out, "root: (Active: 100ms, non-child: 20.00%)")
	assert.Contains(t, out, "child: (Active: 80ms, non-child: 80.00%)")
}

func TestPrettyPrintConcurrentWithWriters(t *testing.T) {
	p := New("root")
	c := p.AddCounter("Rows", UnitRows)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				c.Update(1)
				p.AddCounter("Rows", UnitRows)
			}
		}
	}()

	for i := 0; i < 100; i++ {
		var buf bytes.Buffer
		p.ComputeTimeInProfile()
		p.PrettyPrint(&buf)
		assert.True(t, strings.Contains(buf.String(), "Rows"))
	}
	close(stop)
	wg.Wait()
}

func TestDurationHistogram(t *testing.T) {
	p := New("root")
	h := p.AddDurationHistogram("NextDuration")
	for i := 0; i < 100; i++ {
		h.Record(time.Millisecond)
	}
	q := h.Quantile(50)
	assert.InDelta(t, float64(time.Millisecond), float64(q), float64(50*time.Microsecond))

	var buf bytes.Buffer
	p.PrettyPrint(&buf)
	assert.Contains(t, buf.String(), "NextDuration")
}

func TestQueryStatistics(t *testing.T) {
	qs := NewQueryStatistics()
	qs.AddScanRows(100)
	qs.AddScanBytes(4096)
	qs.AddCpuMs(25)
	qs.AddNodeStatistics(7).AddPeakMemory(1 << 20)
	qs.AddNodeStatistics(7).AddPeakMemory(1 << 10) // lower peak is ignored

	assert.Equal(t, int64(100), qs.ScanRows())
	assert.Equal(t, int64(4096), qs.ScanBytes())
	assert.Equal(t, int64(25), qs.CpuMs())
	assert.Equal(t, int64(1<<20), qs.NodeStatistics(7).PeakMemory)

	other := NewQueryStatistics()
	other.AddScanRows(50)
	other.AddNodeStatistics(8).AddPeakMemory(2048)
	qs.Merge(other)
	assert.Equal(t, int64(150), qs.ScanRows())
	assert.Equal(t, int64(2048), qs.NodeStatistics(8).PeakMemory)

	qs.Clear()
	assert.Equal(t, int64(0), qs.ScanRows())
	assert.Nil(t, qs.NodeStatistics(7))
}
