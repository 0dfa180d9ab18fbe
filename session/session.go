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

// Package session implements component E: the translation of DAP
// requests into MI command sequences, the pause/resume bracket, the
// thread/frame/variable caches, and the stopped/continued event
// dispatcher (spec §4.E).
package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	dap "github.com/google/go-dap"

	"github.com/sidkshatriya/cdt-gdb-adapter/breakpoint"
	"github.com/sidkshatriya/cdt-gdb-adapter/gdb"
	"github.com/sidkshatriya/cdt-gdb-adapter/varobj"
)

// Session owns one IDE-facing DAP connection together with the single
// GDB backend it drives. Everything here runs on one logical task
// (spec §5): dispatch is never called concurrently with itself,
// so the fields below need no locking except sendMu, which only
// serializes the wire writer against the async event goroutine.
type Session struct {
	r  *bufio.Reader
	w  io.Writer

	launcher gdb.ProcessLauncher
	backend  *gdb.Backend
	aux      *gdb.Backend // optional auxiliary backend (spec §5)
	varobjs  *varobj.Manager

	Verbose bool
	Logger  *log.Logger

	config LaunchConfig
	isLaunch bool

	seq   int
	sendMu sync.Mutex

	threads map[int]*Thread
	missingThreadNames bool

	handles handles

	pause *pauseState

	configState ConfiguringState

	functionBreakpoints map[string]bool   // MI bkpt number -> is a function breakpoint
	logpoints           map[string]string // MI bkpt number -> output template
	firstSetBpRequest   map[breakpoint.Kind]bool

	resumeTokenThreads map[int][]int // MI token -> thread ids it was issued against

	stopWaiter chan struct{} // unused: silent pauses resolve through pause.waiter
	silentPause bool

	done chan struct{}
	err  error
}

var _ gdb.EventSink = (*Session)(nil)

// New constructs a Session that reads DAP requests from r and writes
// DAP responses/events to w. No backend exists yet: the launch/attach
// handler creates and starts it (startGdb) once the gdb path and
// arguments are known.
func New(r io.Reader, w io.Writer, launcher gdb.ProcessLauncher) *Session {
	s := &Session{
		r:        bufio.NewReader(r),
		w:        w,
		launcher: launcher,
		threads:  make(map[int]*Thread),
		pause:    newPauseState(),
		functionBreakpoints: make(map[string]bool),
		logpoints:           make(map[string]string),
		firstSetBpRequest: map[breakpoint.Kind]bool{
			breakpoint.KindSource:      true,
			breakpoint.KindFunction:    true,
			breakpoint.KindInstruction: true,
		},
		resumeTokenThreads: make(map[int][]int),
		done:               make(chan struct{}),
		Logger:             log.Default(),
	}
	s.varobjs = varobj.NewManager(varobjDeleter{s})
	return s
}

// varobjDeleter adapts Session.backend.Send to varobj.Deleter without
// varobj importing gdb (spec §9's cycle-avoidance pattern, carried one
// layer further up).
type varobjDeleter struct{ s *Session }

func (d varobjDeleter) DeleteVarObj(ctx context.Context, varname string) error {
	_, err := d.s.backend.Send(ctx, "-var-delete", varname)
	return err
}

// Run reads DAP requests until the stream closes or a fatal error is
// hit. Each request is dispatched synchronously: spec §5 requires all
// session state to be touched from one logical task, so there is no
// per-request goroutine here (unlike the openllb/hlb dapserver this
// project is otherwise grounded on, which forks one goroutine per
// inbound message — that pattern is safe only because its debugger is
// itself already serialized internally; this one is not).
func (s *Session) Run(ctx context.Context) error {
	for {
		raw, err := dap.ReadBaseMessage(s.r)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		if cr, ok := decodeCustomRequest(raw); ok {
			s.onCustomRequest(ctx, cr)
		} else {
			msg, err := dap.DecodeProtocolMessage(raw)
			if err != nil {
				s.Logger.Printf("session: malformed request: %v", err)
				continue
			}
			req, ok := msg.(dap.RequestMessage)
			if !ok {
				continue
			}
			s.dispatch(ctx, req)
		}

		select {
		case <-s.done:
			return s.err
		default:
		}
	}
}

func (s *Session) dispatch(ctx context.Context, req dap.RequestMessage) {
	var err error
	switch r := req.(type) {
	case *dap.InitializeRequest:
		err = s.onInitialize(ctx, r)
	case *dap.LaunchRequest:
		err = s.onLaunch(ctx, r)
	case *dap.AttachRequest:
		err = s.onAttach(ctx, r)
	case *dap.ConfigurationDoneRequest:
		err = s.onConfigurationDone(ctx, r)
	case *dap.SetBreakpointsRequest:
		err = s.onSetBreakpoints(ctx, r)
	case *dap.SetFunctionBreakpointsRequest:
		err = s.onSetFunctionBreakpoints(ctx, r)
	case *dap.SetInstructionBreakpointsRequest:
		err = s.onSetInstructionBreakpoints(ctx, r)
	case *dap.SetDataBreakpointsRequest:
		err = s.onSetDataBreakpoints(ctx, r)
	case *dap.DataBreakpointInfoRequest:
		err = s.onDataBreakpointInfo(ctx, r)
	case *dap.ThreadsRequest:
		err = s.onThreads(ctx, r)
	case *dap.StackTraceRequest:
		err = s.onStackTrace(ctx, r)
	case *dap.ScopesRequest:
		err = s.onScopes(ctx, r)
	case *dap.VariablesRequest:
		err = s.onVariables(ctx, r)
	case *dap.SetVariableRequest:
		err = s.onSetVariable(ctx, r)
	case *dap.EvaluateRequest:
		err = s.onEvaluate(ctx, r)
	case *dap.ContinueRequest:
		err = s.onContinue(ctx, r)
	case *dap.NextRequest:
		err = s.onNext(ctx, r)
	case *dap.StepInRequest:
		err = s.onStepIn(ctx, r)
	case *dap.StepOutRequest:
		err = s.onStepOut(ctx, r)
	case *dap.PauseRequest:
		err = s.onPause(ctx, r)
	case *dap.ReadMemoryRequest:
		err = s.onReadMemory(ctx, r)
	case *dap.WriteMemoryRequest:
		err = s.onWriteMemory(ctx, r)
	case *dap.DisassembleRequest:
		err = s.onDisassemble(ctx, r)
	case *dap.DisconnectRequest:
		err = s.onDisconnect(ctx, r)
	case *dap.TerminateRequest:
		err = s.onTerminate(ctx, r)
	default:
		err = fmt.Errorf("session: unsupported request %q", req.GetRequest().Command)
	}
	if err != nil {
		s.sendErrorResponse(req.GetRequest(), err)
	}
}

func (s *Session) nextSeq() int {
	s.seq++
	return s.seq
}

func (s *Session) newResponse(requestSeq int, command string) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: s.nextSeq(), Type: "response"},
		RequestSeq:      requestSeq,
		Success:         true,
		Command:         command,
	}
}

func (s *Session) newEvent(event string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: s.nextSeq(), Type: "event"},
		Event:           event,
	}
}

// send serializes and writes a single DAP message. Guarded by sendMu
// because events synthesized off async MI records (spec §4.E) and the
// request/response path both write to s.w.
func (s *Session) send(msg dap.Message) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := dap.WriteProtocolMessage(s.w, msg); err != nil {
		s.Logger.Printf("session: write failed: %v", err)
	}
}

func (s *Session) sendErrorResponse(req *dap.Request, err error) {
	resp := &dap.ErrorResponse{
		Response: s.newResponse(req.Seq, req.Command),
	}
	resp.Success = false
	resp.Message = err.Error()
	resp.Body.Error = &dap.ErrorMessage{Format: err.Error()}
	s.send(resp)
}

func (s *Session) sendOutput(category, text string) {
	s.send(&dap.OutputEvent{
		Event: s.newEvent("output"),
		Body:  dap.OutputEventBody{Category: category, Output: text},
	})
}

// isRunning implements spec §5: non-empty thread set, all running.
func (s *Session) isRunning() bool {
	if len(s.threads) == 0 {
		return false
	}
	for _, t := range s.threads {
		if !t.Running {
			return false
		}
	}
	return true
}
