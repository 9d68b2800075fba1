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

// Package execstatus defines the tagged result type used at the boundaries
// between the fragment executor, the plan tree and the sinks.
//
// A Status is a value type; the zero value is OK. Statuses cross component
// boundaries where the exact failure kind matters to the caller (e.g. a sink
// returning EndOfFile asks the driver to stop pulling without reporting an
// error). Inside operators plain errors are used and converted at the edge.
package execstatus

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code identifies the kind of a Status.
type Code int8

// The set of status codes. CodeOK must be the zero value so that the zero
// Status is OK.
const (
	CodeOK Code = iota
	CodeCancelled
	CodeMemLimitExceeded
	CodeRPCError
	CodeRuntimeError
	CodeInternalError
	CodeEndOfFile
	CodeInvalidArgument
	CodeAborted
)

var codeNames = [...]string{
	CodeOK:               "OK",
	CodeCancelled:        "CANCELLED",
	CodeMemLimitExceeded: "MEM_LIMIT_EXCEEDED",
	CodeRPCError:         "RPC_ERROR",
	CodeRuntimeError:     "RUNTIME_ERROR",
	CodeInternalError:    "INTERNAL_ERROR",
	CodeEndOfFile:        "END_OF_FILE",
	CodeInvalidArgument:  "INVALID_ARGUMENT",
	CodeAborted:          "ABORTED",
}

func (c Code) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("CODE(%d)", c)
}

// Status is a tagged result: either OK or a code plus a message.
type Status struct {
	code Code
	msg  string
}

// OK returns the OK status.
func OK() Status { return Status{} }

func newStatus(code Code, format string, args []interface{}) Status {
	return Status{code: code, msg: fmt.Sprintf(format, args...)}
}

// Cancelled constructs a CANCELLED status.
func Cancelled(format string, args ...interface{}) Status {
	return newStatus(CodeCancelled, format, args)
}

// MemLimitExceeded constructs a MEM_LIMIT_EXCEEDED status.
func MemLimitExceeded(format string, args ...interface{}) Status {
	return newStatus(CodeMemLimitExceeded, format, args)
}

// RPCError constructs an RPC_ERROR status.
func RPCError(format string, args ...interface{}) Status {
	return newStatus(CodeRPCError, format, args)
}

// RuntimeError constructs a RUNTIME_ERROR status.
func RuntimeError(format string, args ...interface{}) Status {
	return newStatus(CodeRuntimeError, format, args)
}

// InternalError constructs an INTERNAL_ERROR status.
func InternalError(format string, args ...interface{}) Status {
	return newStatus(CodeInternalError, format, args)
}

// EndOfFile constructs an END_OF_FILE status. On a sink send this is a
// graceful stop request, not an error.
func EndOfFile(format string, args ...interface{}) Status {
	return newStatus(CodeEndOfFile, format, args)
}

// InvalidArgument constructs an INVALID_ARGUMENT status.
func InvalidArgument(format string, args ...interface{}) Status {
	return newStatus(CodeInvalidArgument, format, args)
}

// Aborted constructs an ABORTED status.
func Aborted(format string, args ...interface{}) Status {
	return newStatus(CodeAborted, format, args)
}

// OK reports whether the status carries no error.
func (s Status) OK() bool { return s.code == CodeOK }

// Code returns the status code.
func (s Status) Code() Code { return s.code }

// Message returns the status message; empty for OK.
func (s Status) Message() string { return s.msg }

// IsCancelled reports whether the status is CANCELLED.
func (s Status) IsCancelled() bool { return s.code == CodeCancelled }

// IsMemLimitExceeded reports whether the status is MEM_LIMIT_EXCEEDED.
func (s Status) IsMemLimitExceeded() bool { return s.code == CodeMemLimitExceeded }

// IsEndOfFile reports whether the status is END_OF_FILE.
func (s Status) IsEndOfFile() bool { return s.code == CodeEndOfFile }

// IsRPCError reports whether the status is RPC_ERROR.
func (s Status) IsRPCError() bool { return s.code == CodeRPCError }

func (s Status) String() string {
	if s.OK() {
		return "OK"
	}
	if s.msg == "" {
		return s.code.String()
	}
	return s.code.String() + ": " + s.msg
}

// statusError adapts a non-OK Status to the error interface.
type statusError struct {
	status Status
}

func (e *statusError) Error() string { return e.status.String() }

// Err returns nil for an OK status and an error describing the status
// otherwise. The original Status is recoverable via FromError.
func (s Status) Err() error {
	if s.OK() {
		return nil
	}
	return &statusError{status: s}
}

// FromError converts an error back to a Status. A nil error is OK; an error
// produced by Status.Err round-trips; everything else becomes INTERNAL_ERROR
// with the error's message.
func FromError(err error) Status {
	if err == nil {
		return OK()
	}
	if se, ok := errors.Cause(err).(*statusError); ok {
		return se.status
	}
	return InternalError("%s", err.Error())
}
