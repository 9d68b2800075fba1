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

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberdb/ember/pkg/base"
	"github.com/emberdb/ember/pkg/exec/execspec"
	"github.com/emberdb/ember/pkg/exec/execstatus"
	"github.com/emberdb/ember/pkg/exec/mon"
)

func newState(t *testing.T) *RuntimeState {
	t.Helper()
	params := execspec.FragmentExecParams{
		QueryID:            execspec.NewUniqueID(),
		FragmentInstanceID: execspec.NewUniqueID(),
	}
	rs := NewRuntimeState(
		params, execspec.QueryOptions{MemLimit: 1 << 20}, execspec.QueryGlobals{},
		&ExecEnv{}, base.DefaultConfig())
	require.NoError(t, rs.InitMemTrackers(params.QueryID))
	return rs
}

func TestObjectPoolClosesInReverseOrder(t *testing.T) {
	pool := NewObjectPool()
	var order []int
	pool.Add(func() { order = append(order, 1) })
	pool.Add(func() { order = append(order, 2) })
	pool.Close()
	assert.Equal(t, []int{2, 1}, order)

	// Second close is a no-op.
	pool.Close()
	assert.Equal(t, []int{2, 1}, order)

	// Late registration runs immediately.
	ran := false
	pool.Add(func() { ran = true })
	assert.True(t, ran)
}

func TestRuntimeStateCancellation(t *testing.T) {
	rs := newState(t)
	assert.False(t, rs.IsCancelled())
	assert.True(t, rs.CheckQueryState().OK())

	assert.True(t, rs.SetCancelled())
	assert.False(t, rs.SetCancelled())
	assert.True(t, rs.IsCancelled())
	assert.Equal(t, execstatus.CodeCancelled, rs.CheckQueryState().Code())
}

func TestRuntimeStateTrackerHierarchy(t *testing.T) {
	rs := newState(t)
	require.NotNil(t, rs.InstanceTracker())
	require.NotNil(t, rs.QueryTracker())
	assert.Equal(t, rs.QueryTracker(), rs.InstanceTracker().Parent())

	require.NoError(t, rs.InstanceTracker().Grow(1024))
	assert.Equal(t, int64(1024), rs.QueryTracker().Consumption())
	rs.InstanceTracker().Release(1024)
}

func TestErrorLogIsBounded(t *testing.T) {
	rs := newState(t)
	for i := 0; i < 200; i++ {
		rs.LogError("x")
	}
	assert.Len(t, rs.ErrorLog(), 100)
	assert.False(t, rs.LogHasSpace())
}

func TestSetMemLimitExceededLatches(t *testing.T) {
	rs := newState(t)
	rs.SetMemLimitExceeded("over budget")
	hit, msg := rs.InstanceTracker().LimitExceeded()
	assert.True(t, hit)
	assert.Equal(t, "over budget", msg)
	assert.Contains(t, rs.ErrorLog(), "over budget")
}

func TestStatusFromError(t *testing.T) {
	assert.True(t, StatusFromError(nil).OK())

	tr := mon.NewTracker("t", 10, nil)
	err := tr.Grow(100)
	st := StatusFromError(err)
	assert.Equal(t, execstatus.CodeMemLimitExceeded, st.Code())

	st = StatusFromError(errors.New("plain"))
	assert.Equal(t, execstatus.CodeInternalError, st.Code())

	orig := execstatus.Cancelled("stop")
	assert.Equal(t, orig, StatusFromError(orig.Err()))
}

func TestBatchSizeFallback(t *testing.T) {
	params := execspec.FragmentExecParams{QueryID: execspec.NewUniqueID()}
	cfg := base.DefaultConfig()

	rs := NewRuntimeState(params, execspec.QueryOptions{}, execspec.QueryGlobals{}, nil, cfg)
	assert.Equal(t, cfg.BatchSize, rs.BatchSize())

	rs = NewRuntimeState(
		params, execspec.QueryOptions{BatchSize: 42}, execspec.QueryGlobals{}, nil, cfg)
	assert.Equal(t, 42, rs.BatchSize())
}
