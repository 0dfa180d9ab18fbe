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

	dap "github.com/google/go-dap"
)

// onThreads returns the cached thread list, refreshing it first via
// -thread-info when the target is stopped (or when a new thread was
// created and the MI channel is known usable while running) — spec
// §4.E's "threads" contract.
func (s *Session) onThreads(ctx context.Context, req *dap.ThreadsRequest) error {
	if !s.isRunning() || s.canQueryWhileRunning() {
		if err := s.refreshThreads(ctx); err != nil {
			return err
		}
	}

	out := make([]dap.Thread, 0, len(s.threads))
	for _, t := range s.threads {
		name := t.Name
		if name == "" {
			name = "Thread " + itoa(t.ID)
		}
		out = append(out, dap.Thread{Id: t.ID, Name: name})
	}
	s.send(&dap.ThreadsResponse{
		Response: s.newResponse(req.Seq, req.Command),
		Body:     dap.ThreadsResponseBody{Threads: out},
	})
	return nil
}

// canQueryWhileRunning reports whether -thread-info is safe to issue
// while the target is running: this requires async dispatch, and
// either non-stop mode or a pending thread-name refresh
// (missingThreadNames). Whether the target is local or remote is not
// checked.
func (s *Session) canQueryWhileRunning() bool {
	if s.backend == nil || !s.backend.AsyncMode {
		return false
	}
	return s.backend.NonStop || s.missingThreadNames
}

func (s *Session) refreshThreads(ctx context.Context) error {
	res, err := s.backend.Send(ctx, "-thread-info")
	if err != nil {
		return err
	}
	threadsData, _ := res.Data["threads"].([]interface{})
	seen := make(map[int]bool, len(threadsData))
	for _, td := range threadsData {
		m, _ := td.(map[string]interface{})
		id := atoiOr(mustString(m, "id"), -1)
		if id < 0 {
			continue
		}
		seen[id] = true
		t, ok := s.threads[id]
		if !ok {
			t = &Thread{ID: id, LastRunToken: -1}
			s.threads[id] = t
		}
		t.Running = mustString(m, "state") == "running"
		if name := mustString(m, "target-id"); name != "" {
			t.Name = name
		}
	}
	for id := range s.threads {
		if !seen[id] {
			delete(s.threads, id)
		}
	}
	s.missingThreadNames = false
	return nil
}

// onStackTrace implements spec §4.E's "stackTrace" contract:
// -stack-info-depth (capped at 100), then -stack-list-frames, with a
// fresh frame handle minted per returned frame.
func (s *Session) onStackTrace(ctx context.Context, req *dap.StackTraceRequest) error {
	threadID := req.Arguments.ThreadId

	depthRes, err := s.backend.Send(ctx, "-stack-info-depth", "--thread", itoa(threadID))
	if err != nil {
		return err
	}
	depth := atoiOr(mustString(depthRes.Data, "depth"), 0)
	if depth > 100 {
		depth = 100
	}

	low := req.Arguments.StartFrame
	levels := req.Arguments.Levels
	high := depth - 1
	if levels > 0 && low+levels-1 < high {
		high = low + levels - 1
	}
	if high < low {
		s.send(&dap.StackTraceResponse{
			Response: s.newResponse(req.Seq, req.Command),
			Body:     dap.StackTraceResponseBody{TotalFrames: depth},
		})
		return nil
	}

	res, err := s.backend.Send(ctx, "-stack-list-frames", "--thread", itoa(threadID), itoa(low), itoa(high))
	if err != nil {
		return err
	}
	frames, _ := res.Data["stack"].([]interface{})

	out := make([]dap.StackFrame, 0, len(frames))
	for _, f := range frames {
		entry, _ := f.(map[string]interface{})
		frame, _ := entry["frame"].(map[string]interface{})
		if frame == nil {
			frame = entry
		}
		level := atoiOr(mustString(frame, "level"), 0)
		handle := s.handles.newFrame(FrameRef{ThreadID: threadID, Level: level})

		sf := dap.StackFrame{
			Id:   handle,
			Name: mustString(frame, "func"),
		}
		if file := mustString(frame, "fullname"); file != "" {
			sf.Source = &dap.Source{Name: mustString(frame, "file"), Path: file}
		}
		sf.Line = atoiOr(mustString(frame, "line"), 0)
		sf.InstructionReference = mustString(frame, "addr")
		out = append(out, sf)
	}

	s.send(&dap.StackTraceResponse{
		Response: s.newResponse(req.Seq, req.Command),
		Body:     dap.StackTraceResponseBody{StackFrames: out, TotalFrames: depth},
	})
	return nil
}

// onScopes mints a Local and a Registers scope per spec §4.E, each
// backed by a fresh variable handle tagged to the requesting frame.
func (s *Session) onScopes(ctx context.Context, req *dap.ScopesRequest) error {
	fr, ok := s.handles.frame(req.Arguments.FrameId)
	if !ok {
		fr = FrameRef{}
	}

	localRef := s.handles.newVar(VarRef{Kind: VarRefFrame, Frame: fr})
	regRef := s.handles.newVar(VarRef{Kind: VarRefRegisters, Frame: fr})

	s.send(&dap.ScopesResponse{
		Response: s.newResponse(req.Seq, req.Command),
		Body: dap.ScopesResponseBody{
			Scopes: []dap.Scope{
				{Name: "Locals", VariablesReference: localRef, Expensive: false},
				{Name: "Registers", VariablesReference: regRef, Expensive: true},
			},
		},
	})
	return nil
}
