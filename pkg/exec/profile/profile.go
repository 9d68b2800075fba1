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

// Package profile implements the runtime profile: a tree of named counters
// mirroring the plan tree, pretty-printable while execution is still
// mutating it. Counter writes are relaxed atomics; a reader sees a monotonic
// approximation, which is all the periodic reporter needs.
package profile

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codahale/hdrhistogram"
	"github.com/dustin/go-humanize"
)

// Unit describes how a counter's value is rendered.
type Unit int8

// Counter units.
const (
	UnitNone Unit = iota
	UnitRows
	UnitBytes
	UnitNanos
)

// Counter is a single named monotonic value.
type Counter struct {
	name string
	unit Unit
	v    int64 // atomic
}

// Name returns the counter's name.
func (c *Counter) Name() string { return c.name }

// Unit returns the counter's unit.
func (c *Counter) Unit() Unit { return c.unit }

// Update adds delta to the counter.
func (c *Counter) Update(delta int64) { atomic.AddInt64(&c.v, delta) }

// Set overwrites the counter.
func (c *Counter) Set(v int64) { atomic.StoreInt64(&c.v, v) }

// Value reads the counter.
func (c *Counter) Value() int64 { return atomic.LoadInt64(&c.v) }

func (c *Counter) render() string {
	v := c.Value()
	switch c.unit {
	case UnitBytes:
		return humanize.IBytes(uint64(v))
	case UnitNanos:
		return time.Duration(v).String()
	default:
		return fmt.Sprintf("%d", v)
	}
}

// DurationHistogram records a latency distribution. Unlike plain counters it
// takes a mutex per record; it is only attached where the extra cost is
// invisible next to the operation being measured.
type DurationHistogram struct {
	name string
	mu   sync.Mutex
	h    *hdrhistogram.Histogram
}

// Record adds one observation.
func (d *DurationHistogram) Record(dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.h.RecordValue(int64(dur))
}

// Quantile returns the value at quantile q in [0, 100].
func (d *DurationHistogram) Quantile(q float64) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Duration(d.h.ValueAtQuantile(q))
}

func (d *DurationHistogram) render() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("p50=%s p99=%s max=%s",
		time.Duration(d.h.ValueAtQuantile(50)),
		time.Duration(d.h.ValueAtQuantile(99)),
		time.Duration(d.h.Max()))
}

// Profile is a node of the profile tree.
type Profile struct {
	name string

	mu struct {
		sync.Mutex
		counters   []*Counter
		byName     map[string]*Counter
		histograms []*DurationHistogram
		children   []*Profile
		info       []string
		// localTimePct is filled by ComputeTimeInProfile.
		localTimePct float64
	}

	totalTime *Counter
}

// New creates a profile node with a TotalTime counter pre-wired.
func New(name string) *Profile {
	p := &Profile{name: name}
	p.mu.byName = make(map[string]*Counter)
	p.totalTime = p.AddCounter("TotalTime", UnitNanos)
	return p
}

// Name returns the profile node's name.
func (p *Profile) Name() string { return p.name }

// TotalTimeCounter returns the node's TotalTime counter.
func (p *Profile) TotalTimeCounter() *Counter { return p.totalTime }

// AddCounter creates (or returns the existing) named counter.
func (p *Profile) AddCounter(name string, unit Unit) *Counter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.mu.byName[name]; ok {
		return c
	}
	c := &Counter{name: name, unit: unit}
	p.mu.counters = append(p.mu.counters, c)
	p.mu.byName[name] = c
	return c
}

// AddTimer creates a nanosecond counter.
func (p *Profile) AddTimer(name string) *Counter {
	return p.AddCounter(name, UnitNanos)
}

// AddDurationHistogram creates a latency histogram with microsecond to
// minute range.
func (p *Profile) AddDurationHistogram(name string) *DurationHistogram {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := &DurationHistogram{
		name: name,
		h:    hdrhistogram.New(int64(time.Microsecond), int64(time.Minute), 3),
	}
	p.mu.histograms = append(p.mu.histograms, h)
	return h
}

// Counter looks up a counter by name, or nil.
func (p *Profile) Counter(name string) *Counter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mu.byName[name]
}

// AddChild appends a child profile.
func (p *Profile) AddChild(child *Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mu.children = append(p.mu.children, child)
}

// Children returns a snapshot of the child list.
func (p *Profile) Children() []*Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Profile, len(p.mu.children))
	copy(out, p.mu.children)
	return out
}

// AddInfoString attaches a static key=value line to the node.
func (p *Profile) AddInfoString(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mu.info = append(p.mu.info, key+"="+value)
}

// ComputeTimeInProfile fills each node's non-child time percentage relative
// to the root's total time. Call before PrettyPrint.
func (p *Profile) ComputeTimeInProfile() {
	p.computeTimeInProfile(p.totalTime.Value())
}

func (p *Profile) computeTimeInProfile(rootTotal int64) {
	var childTotal int64
	for _, c := range p.Children() {
		childTotal += c.totalTime.Value()
	}
	local := p.totalTime.Value() - childTotal
	if local < 0 {
		local = 0
	}
	pct := 0.0
	if rootTotal > 0 {
		pct = float64(local) / float64(rootTotal) * 100
	}
	p.mu.Lock()
	p.mu.localTimePct = pct
	p.mu.Unlock()
	for _, c := range p.Children() {
		c.computeTimeInProfile(rootTotal)
	}
}

// PrettyPrint renders the profile tree. Safe to call while counters are
// still being updated.
func (p *Profile) PrettyPrint(w io.Writer) {
	p.prettyPrint(w, "")
}

func (p *Profile) prettyPrint(w io.Writer, indent string) {
	p.mu.Lock()
	counters := make([]*Counter, len(p.mu.counters))
	copy(counters, p.mu.counters)
	histograms := make([]*DurationHistogram, len(p.mu.histograms))
	copy(histograms, p.mu.histograms)
	info := make([]string, len(p.mu.info))
	copy(info, p.mu.info)
	pct := p.mu.localTimePct
	p.mu.Unlock()

	fmt.Fprintf(w, "%s%s: (Active: %s, non-child: %.2f%%)\n",
		indent, p.name, time.Duration(p.totalTime.Value()), pct)
	for _, line := range info {
		fmt.Fprintf(w, "%s   %s\n", indent, line)
	}
	for _, c := range counters {
		if c == p.totalTime {
			continue
		}
		fmt.Fprintf(w, "%s   - %s: %s\n", indent, c.name, c.render())
	}
	for _, h := range histograms {
		fmt.Fprintf(w, "%s   - %s: %s\n", indent, h.name, h.render())
	}
	for _, c := range p.Children() {
		c.prettyPrint(w, indent+"  ")
	}
}
