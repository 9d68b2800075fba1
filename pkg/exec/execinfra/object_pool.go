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

package execinfra

import "sync"

// ObjectPool collects teardown work for plan-scoped resources. Anything a
// node or sink opens for the lifetime of the plan registers a closer here;
// the driver closes the pool after the plan itself has closed, in reverse
// registration order.
type ObjectPool struct {
	mu      sync.Mutex
	closers []func()
	closed  bool
}

// NewObjectPool returns an empty pool.
func NewObjectPool() *ObjectPool {
	return &ObjectPool{}
}

// Add registers a teardown function.
func (p *ObjectPool) Add(closer func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		// Late registration after teardown: run it now rather than leak.
		p.mu.Unlock()
		closer()
		p.mu.Lock()
		return
	}
	p.closers = append(p.closers, closer)
}

// Close runs all registered closers in reverse order. Idempotent.
func (p *ObjectPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	closers := p.closers
	p.closers = nil
	p.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
