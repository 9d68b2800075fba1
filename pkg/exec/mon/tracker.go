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

// Package mon implements hierarchical memory accounting for fragment
// execution. Trackers form a chain (instance -> query -> process); growth is
// charged up the chain and any tracker along the way can refuse it.
package mon

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// Tracker accounts for memory used by one scope of execution. A Tracker with
// a non-positive limit is unlimited. All methods are safe for concurrent use.
type Tracker struct {
	name   string
	limit  int64
	parent *Tracker

	cur  int64 // atomic
	peak int64 // atomic

	mu struct {
		sync.Mutex
		limitExceeded bool
		limitMsg      string
	}
}

// NewTracker creates a tracker charging into parent (which may be nil for the
// root). limit <= 0 means unlimited.
func NewTracker(name string, limit int64, parent *Tracker) *Tracker {
	return &Tracker{name: name, limit: limit, parent: parent}
}

// limitError is returned by Grow when a tracker's budget is exhausted.
type limitError struct {
	tracker string
	asked   int64
	limit   int64
	cur     int64
}

func (e *limitError) Error() string {
	return fmt.Sprintf(
		"memory limit exceeded in %s: cannot grow by %s, limit %s, current %s",
		e.tracker, humanize.IBytes(uint64(e.asked)), humanize.IBytes(uint64(e.limit)),
		humanize.IBytes(uint64(e.cur)))
}

// IsMemLimitError reports whether err came from a tracker refusing growth.
func IsMemLimitError(err error) bool {
	_, ok := errors.Cause(err).(*limitError)
	return ok
}

// Grow charges n bytes to this tracker and its ancestors. On refusal nothing
// is charged anywhere and a mem-limit error is returned.
func (t *Tracker) Grow(n int64) error {
	if n == 0 {
		return nil
	}
	for cur := t; cur != nil; cur = cur.parent {
		newVal := atomic.AddInt64(&cur.cur, n)
		if cur.limit > 0 && newVal > cur.limit {
			// Roll back the charge on this tracker and everything below it.
			for u := t; ; u = u.parent {
				atomic.AddInt64(&u.cur, -n)
				if u == cur {
					break
				}
			}
			return &limitError{tracker: cur.name, asked: n, limit: cur.limit, cur: newVal - n}
		}
		cur.bumpPeak(newVal)
	}
	return nil
}

// Release returns n bytes to this tracker and its ancestors.
func (t *Tracker) Release(n int64) {
	if n == 0 {
		return
	}
	for cur := t; cur != nil; cur = cur.parent {
		atomic.AddInt64(&cur.cur, -n)
	}
}

func (t *Tracker) bumpPeak(v int64) {
	for {
		p := atomic.LoadInt64(&t.peak)
		if v <= p || atomic.CompareAndSwapInt64(&t.peak, p, v) {
			return
		}
	}
}

// Consumption returns the bytes currently charged to this tracker.
func (t *Tracker) Consumption() int64 { return atomic.LoadInt64(&t.cur) }

// PeakConsumption returns the high-water mark of Consumption.
func (t *Tracker) PeakConsumption() int64 { return atomic.LoadInt64(&t.peak) }

// Limit returns the tracker's budget; <= 0 means unlimited.
func (t *Tracker) Limit() int64 { return t.limit }

// Name returns the tracker's name.
func (t *Tracker) Name() string { return t.name }

// Parent returns the tracker charged above this one, or nil.
func (t *Tracker) Parent() *Tracker { return t.parent }

// SetLimitExceeded latches the limit-exceeded flag with a message. The
// executor calls this when a MEM_LIMIT_EXCEEDED status is recorded so the
// event survives in the tracker for later inspection.
func (t *Tracker) SetLimitExceeded(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.mu.limitExceeded {
		t.mu.limitExceeded = true
		t.mu.limitMsg = msg
	}
}

// LimitExceeded returns the latched flag and message.
func (t *Tracker) LimitExceeded() (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mu.limitExceeded, t.mu.limitMsg
}

// Close releases any outstanding consumption into the parent chain. It is
// idempotent in the sense that a second call finds nothing left to release.
func (t *Tracker) Close() {
	if cur := atomic.SwapInt64(&t.cur, 0); cur != 0 {
		for p := t.parent; p != nil; p = p.parent {
			atomic.AddInt64(&p.cur, -cur)
		}
	}
}
