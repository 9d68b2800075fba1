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

import "fmt"

// CancelReason records why a fragment instance was cancelled. The reason
// determines how the CANCELLED status is rewritten when Open exits.
type CancelReason int8

const (
	// CancelInternalError is the default reason.
	CancelInternalError CancelReason = iota
	// CancelTimeout indicates the coordinator's query deadline fired.
	CancelTimeout
	// CancelUserCancel indicates an explicit user cancellation.
	CancelUserCancel
	// CancelMemoryLimitExceed indicates a memory-limit cancellation; the
	// cancel message is carried verbatim into a MEM_LIMIT_EXCEEDED status.
	CancelMemoryLimitExceed
	// CancelCallRPCError indicates a peer RPC failure; rewritten to
	// RUNTIME_ERROR with the recorded cancel message.
	CancelCallRPCError
)

var cancelReasonNames = [...]string{
	CancelInternalError:     "INTERNAL_ERROR",
	CancelTimeout:           "TIMEOUT",
	CancelUserCancel:        "USER_CANCEL",
	CancelMemoryLimitExceed: "MEMORY_LIMIT_EXCEED",
	CancelCallRPCError:      "CALL_RPC_ERROR",
}

func (r CancelReason) String() string {
	if int(r) < len(cancelReasonNames) {
		return cancelReasonNames[r]
	}
	return fmt.Sprintf("CANCEL_REASON(%d)", r)
}
