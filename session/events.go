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

package session

import (
	"context"
	"strings"

	dap "github.com/google/go-dap"

	"github.com/sidkshatriya/cdt-gdb-adapter/mi"
)

func threadIDsFromData(data map[string]interface{}) (ids []int, all bool) {
	if v, ok := data["stopped-threads"]; ok {
		if sv, ok := v.(string); ok && sv == "all" {
			if tv, ok := data["thread-id"].(string); ok {
				return []int{atoiOr(tv, -1)}, true
			}
			return nil, true
		}
		if list, ok := v.([]interface{}); ok {
			for _, e := range list {
				if sv, ok := e.(string); ok {
					ids = append(ids, atoiOr(sv, -1))
				}
			}
			return ids, false
		}
	}
	if v, ok := data["thread-id"].(string); ok {
		if v == "all" {
			return nil, true
		}
		return []int{atoiOr(v, -1)}, false
	}
	return nil, false
}

// ExecAsync handles `*running`/`*stopped` (spec §4.E).
func (s *Session) ExecAsync(rec mi.Record) {
	switch rec.Class {
	case "running":
		s.handleRunning(rec)
	case "stopped":
		s.handleStopped(rec)
	}
}

func (s *Session) handleRunning(rec mi.Record) {
	ids, all := threadIDsFromData(rec.Data)
	if all {
		for _, t := range s.threads {
			t.Running = true
		}
	} else {
		for _, id := range ids {
			if t, ok := s.threads[id]; ok {
				t.Running = true
			}
		}
	}

	s.handles.reset()
	if s.isRunning() {
		s.send(&dap.ContinuedEvent{
			Event: s.newEvent("continued"),
			Body:  dap.ContinuedEventBody{AllThreadsContinued: true},
		})
		return
	}
	for _, id := range ids {
		s.send(&dap.ContinuedEvent{
			Event: s.newEvent("continued"),
			Body:  dap.ContinuedEventBody{ThreadId: id},
		})
	}
}

func (s *Session) handleStopped(rec mi.Record) {
	ids, all := threadIDsFromData(rec.Data)
	if all {
		for _, t := range s.threads {
			t.Running = false
		}
	} else {
		for _, id := range ids {
			if t, ok := s.threads[id]; ok {
				t.Running = false
			}
		}
	}

	reason := mustString(rec.Data, "reason")
	primaryThread := -1
	if len(ids) > 0 {
		primaryThread = ids[0]
	}

	if s.silentPause && reason == "signal-received" {
		for _, id := range ids {
			s.resolvePauseWaiter(id)
		}
		if all {
			s.resolvePauseWaiter(primaryThread)
		}
		return
	}

	if reason == "exited" || reason == "exited-normally" {
		s.send(&dap.TerminatedEvent{Event: s.newEvent("terminated")})
		return
	}

	if bkptno := mustString(rec.Data, "bkptno"); bkptno != "" {
		if tmpl, ok := s.logpoints[bkptno]; ok {
			s.sendOutput("console", tmpl)
			s.backend.Send(context.Background(), "-exec-continue")
			return
		}
	}

	dapReason := mapStopReason(reason, mustString(rec.Data, "bkptno"), s.functionBreakpoints)

	if all {
		for id := range s.threads {
			s.varobjs.RemoveThread(context.Background(), id)
		}
	} else {
		for _, id := range ids {
			s.varobjs.RemoveThread(context.Background(), id)
		}
	}
	s.handles.reset()
	s.send(&dap.StoppedEvent{
		Event: s.newEvent("stopped"),
		Body: dap.StoppedEventBody{
			Reason:            dapReason,
			ThreadId:          primaryThread,
			AllThreadsStopped: all,
		},
	})
}

func mapStopReason(reason, bkptno string, functionBreakpoints map[string]bool) string {
	switch reason {
	case "breakpoint-hit":
		if functionBreakpoints[bkptno] {
			return "function breakpoint"
		}
		return "breakpoint"
	case "end-stepping-range", "function-finished":
		return "step"
	case "signal-received":
		return "signal"
	default:
		return "generic"
	}
}

// StatusAsync handles `+` status-async records; GDB rarely emits these
// outside of progress notifications, so they are forwarded as console
// output rather than ignored (spec §4.E treats unrecognized async
// classes conservatively).
func (s *Session) StatusAsync(rec mi.Record) {
	s.sendOutput("console", rec.Class)
}

// NotifyAsync handles `=thread-created`/`=thread-exited`/
// `=breakpoint-*` (spec §4.E).
func (s *Session) NotifyAsync(rec mi.Record) {
	switch rec.Class {
	case "thread-created":
		id := atoiOr(mustString(rec.Data, "id"), -1)
		if id >= 0 {
			s.threads[id] = &Thread{ID: id, Running: true, LastRunToken: -1}
			s.missingThreadNames = true
			s.send(&dap.ThreadEvent{
				Event: s.newEvent("thread"),
				Body:  dap.ThreadEventBody{Reason: "started", ThreadId: id},
			})
		}
	case "thread-exited":
		id := atoiOr(mustString(rec.Data, "id"), -1)
		if id >= 0 {
			delete(s.threads, id)
			s.send(&dap.ThreadEvent{
				Event: s.newEvent("thread"),
				Body:  dap.ThreadEventBody{Reason: "exited", ThreadId: id},
			})
		}
	case "breakpoint-created", "breakpoint-modified", "breakpoint-deleted":
		s.handleBreakpointNotify(rec)
	}
}

func (s *Session) handleBreakpointNotify(rec mi.Record) {
	bkpt, _ := rec.Data["bkpt"].(map[string]interface{})
	if bkpt == nil {
		return
	}
	if mustString(bkpt, "disp") == "del" && rec.Class != "breakpoint-deleted" {
		return
	}
	reason := strings.TrimPrefix(rec.Class, "breakpoint-")
	number := mustString(bkpt, "number")
	s.send(&dap.BreakpointEvent{
		Event: s.newEvent("breakpoint"),
		Body: dap.BreakpointEventBody{
			Reason: reason,
			Breakpoint: dap.Breakpoint{
				Id:       atoiOr(number, 0),
				Verified: reason != "deleted",
			},
		},
	})
}

// Stream forwards `~`/`@`/`&` records as DAP output events (spec
// §4.E's egress mapping: console/target/log streams -> stdout/console
// categories).
func (s *Session) Stream(rec mi.Record) {
	category := "console"
	switch rec.Kind {
	case mi.KindTargetStream:
		category = "stdout"
	case mi.KindLogStream:
		category = "console"
	}
	s.sendOutput(category, rec.Text)
}

// OrphanResult handles a `^result` that mi.Parser could not deliver:
// its token was never registered, or its command already received a
// result (spec §4.E's "late-MI-result" rule). It logs it, and if the
// token was recorded against a resume command (recordResumeToken),
// synthesizes a retroactive stopped event on `^error` so the IDE's
// view of running state stays truthful (spec §4.E's "Result-async
// tracking").
func (s *Session) OrphanResult(rec mi.Record) {
	threadIDs, tracked := s.resumeTokenThreads[rec.Token]
	delete(s.resumeTokenThreads, rec.Token)

	if rec.Class == mi.ClassError && tracked {
		for _, id := range threadIDs {
			if t, ok := s.threads[id]; ok {
				t.Running = false
			}
			s.varobjs.RemoveThread(context.Background(), id)
		}
		s.handles.reset()
		s.send(&dap.StoppedEvent{
			Event: s.newEvent("stopped"),
			Body: dap.StoppedEventBody{
				Reason:   "generic",
				ThreadId: firstOr(threadIDs, -1),
			},
		})
		return
	}
	s.Logger.Printf("session: late/unmatched MI result token=%d class=%s", rec.Token, rec.Class)
}

func firstOr(ids []int, fallback int) int {
	if len(ids) == 0 {
		return fallback
	}
	return ids[0]
}
