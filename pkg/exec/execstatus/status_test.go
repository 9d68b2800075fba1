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

package execstatus

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroValueIsOK(t *testing.T) {
	var s Status
	assert.True(t, s.OK())
	assert.Equal(t, CodeOK, s.Code())
	assert.Nil(t, s.Err())
	assert.Equal(t, "OK", s.String())
}

func TestConstructors(t *testing.T) {
	testCases := []struct {
		s    Status
		code Code
	}{
		{Cancelled("c"), CodeCancelled},
		{MemLimitExceeded("m"), CodeMemLimitExceeded},
		{RPCError("r"), CodeRPCError},
		{RuntimeError("r"), CodeRuntimeError},
		{InternalError("i"), CodeInternalError},
		{EndOfFile("e"), CodeEndOfFile},
		{InvalidArgument("v"), CodeInvalidArgument},
		{Aborted("a"), CodeAborted},
	}
	for _, tc := range testCases {
		assert.False(t, tc.s.OK())
		assert.Equal(t, tc.code, tc.s.Code())
	}
	assert.True(t, Cancelled("x").IsCancelled())
	assert.True(t, MemLimitExceeded("x").IsMemLimitExceeded())
	assert.True(t, EndOfFile("x").IsEndOfFile())
	assert.True(t, RPCError("x").IsRPCError())
}

func TestMessageFormatting(t *testing.T) {
	s := InvalidArgument("node %d: bad %s", 7, "core")
	assert.Equal(t, "node 7: bad core", s.Message())
	assert.Equal(t, "INVALID_ARGUMENT: node 7: bad core", s.String())
}

func TestErrRoundTrip(t *testing.T) {
	orig := MemLimitExceeded("out of budget")
	err := orig.Err()
	require.Error(t, err)

	back := FromError(err)
	assert.Equal(t, orig, back)

	// A wrapped status error still round-trips through errors.Cause.
	back = FromError(errors.Wrap(err, "while sending"))
	assert.Equal(t, orig, back)
}

func TestFromError(t *testing.T) {
	assert.True(t, FromError(nil).OK())

	s := FromError(errors.New("boom"))
	assert.Equal(t, CodeInternalError, s.Code())
	assert.Equal(t, "boom", s.Message())
}
