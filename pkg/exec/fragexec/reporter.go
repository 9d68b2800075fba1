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

package fragexec

import (
	"math/rand"
	"sync"
	"time"
)

// reporter is the cooperative side-task that publishes profile snapshots on
// a timer. The lifecycle is a strict handshake:
//
//  1. the driver spawns the goroutine and blocks until `started` is
//     signalled, so a later stopReporter can never race the spawn;
//  2. the goroutine waits out a random initial jitter in [0, interval) to
//     decorrelate fleet-wide reports, then emits one non-final report per
//     interval;
//  3. stopReporter flips active off, signals `stop` and joins.
//
// The reporter only reads: the profile tree tolerates concurrent counter
// writes, and the status is read under the status lock inside sendReport.
type reporter struct {
	mu sync.Mutex
	// active is the exit flag; waits can wake spuriously relative to it, so
	// it is always rechecked after a wait.
	active bool
	// running tracks whether the goroutine exists (spawned, not joined).
	running bool
	// stopped guards the one-time close of stopCh.
	stopped bool

	startedCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// startReporter spawns the reporter and blocks until it has started.
func (e *FragmentExecutor) startReporter() {
	e.rep.mu.Lock()
	if e.rep.running {
		e.rep.mu.Unlock()
		return
	}
	e.rep.running = true
	e.rep.stopped = false
	e.rep.startedCh = make(chan struct{})
	e.rep.stopCh = make(chan struct{})
	e.rep.doneCh = make(chan struct{})
	e.rep.mu.Unlock()

	go e.reportProfile()

	// Make sure the goroutine started up, otherwise reportProfile could
	// race with stopReporter.
	<-e.rep.startedCh
}

// reportProfile is the reporter goroutine body.
func (e *FragmentExecutor) reportProfile() {
	defer close(e.rep.doneCh)
	log := e.logger()
	log.Debug("reporter started")

	e.rep.mu.Lock()
	e.rep.active = true
	e.rep.mu.Unlock()
	close(e.rep.startedCh)

	interval := e.cfg.StatusReportInterval
	if interval <= 0 {
		log.Warn("status report interval is equal to or less than zero, exiting reporting thread")
		return
	}

	// Jitter the first report by a random amount between 0 and the report
	// interval so the coordinator doesn't get all updates at once.
	jitter := time.Duration(rand.Int63n(int64(interval)))
	select {
	case <-e.rep.stopCh:
	case <-time.After(jitter):
	}

	for {
		e.rep.mu.Lock()
		active := e.rep.active
		e.rep.mu.Unlock()
		if !active {
			break
		}

		select {
		case <-e.rep.stopCh:
		case <-time.After(interval):
		}

		// The wake may be the timeout or the stop signal; only the flag
		// distinguishes them.
		e.rep.mu.Lock()
		active = e.rep.active
		e.rep.mu.Unlock()
		if !active {
			break
		}

		e.sendReport(false)
	}
	log.Debug("exiting reporting thread")
}

// stopReporter asks the reporter to exit and joins it. Idempotent; a no-op
// when the reporter never started.
func (e *FragmentExecutor) stopReporter() {
	e.rep.mu.Lock()
	if !e.rep.running {
		e.rep.mu.Unlock()
		return
	}
	e.rep.active = false
	if !e.rep.stopped {
		e.rep.stopped = true
		close(e.rep.stopCh)
	}
	doneCh := e.rep.doneCh
	e.rep.mu.Unlock()

	<-doneCh

	e.rep.mu.Lock()
	e.rep.running = false
	e.rep.mu.Unlock()
}

// sendFinalReport emits the done=true report exactly once per instance.
func (e *FragmentExecutor) sendFinalReport() {
	e.finalReport.Do(func() {
		e.sendReport(true)
	})
}

// sendReport reads the current status and applies the reporting filters
// before invoking the callback.
func (e *FragmentExecutor) sendReport(done bool) {
	if e.reportCb == nil {
		return
	}

	status := e.currentStatus()

	// A successful instance with success-reporting off has nothing to say.
	if !e.isReportSuccess && done && status.OK() {
		return
	}
	// With both success- and cancel-reporting off no report is wanted at
	// all; this happens when an internal cancellation is being processed
	// after a query limit was reached.
	if !e.isReportSuccess && !e.isReportOnCancel {
		return
	}

	if e.isReportSuccess {
		e.reportCb(status, e.Profile(), done || !status.OK())
	} else {
		e.reportCb(status, nil, done || !status.OK())
	}
}
