// Copyright © 2016 Sidharth Kshatriya
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errmodel holds the small, closed error taxonomy raised by the
// MI parser and GDB backend. Handlers further up the stack use errors.As
// to decide whether a failure is locally recoverable (per spec §7) or
// must propagate as a DAP error response.
package errmodel

import (
	"errors"
	"fmt"
)

// ProtocolParseError reports malformed MI input. The parser recovers
// best-effort (treats the offending line as console output) and this
// error is informational rather than fatal.
type ProtocolParseError struct {
	Line   string
	Reason string
}

func (e *ProtocolParseError) Error() string {
	return fmt.Sprintf("mi: parse error: %s: %q", e.Reason, e.Line)
}

// GdbError wraps a `^error` result record's message.
type GdbError struct {
	Token   int
	Command string
	Message string
}

func (e *GdbError) Error() string {
	return fmt.Sprintf("gdb: %s failed: %s", e.Command, e.Message)
}

// GdbThreadRunning is a GdbError raised specifically because GDB
// refused a command while the target was running. Session code treats
// this as benign in async all-stop mode (spec §7).
type GdbThreadRunning struct {
	*GdbError
}

func (e *GdbThreadRunning) Unwrap() error { return e.GdbError }

// GdbUnknownResponse reports a result class other than
// done/running/connected/exit/error.
type GdbUnknownResponse struct {
	Token   int
	Command string
	Class   string
}

func (e *GdbUnknownResponse) Error() string {
	return fmt.Sprintf("gdb: %s: unknown response class %q", e.Command, e.Class)
}

// GdbPipeError reports that the GDB stdin pipe (or the process itself)
// closed, rejecting in-flight and future commands.
type GdbPipeError struct {
	Cause error
}

func (e *GdbPipeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("gdb: pipe closed: %v", e.Cause)
	}
	return "gdb: pipe closed"
}

func (e *GdbPipeError) Unwrap() error { return e.Cause }

// ValidationError reports a caller-supplied argument that is malformed
// independent of GDB (odd-length hex, non-string address, and so on).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsThreadRunning reports whether err is (or wraps) a GdbThreadRunning,
// the racy-but-benign failure class called out in spec §7.
func IsThreadRunning(err error) bool {
	var tr *GdbThreadRunning
	return errors.As(err, &tr)
}
