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
	"fmt"
	"time"

	dap "github.com/google/go-dap"

	"github.com/sidkshatriya/cdt-gdb-adapter/errmodel"
)

func (s *Session) onContinue(ctx context.Context, req *dap.ContinueRequest) error {
	var args []string
	targets := s.allThreadIDs()
	if req.Arguments.ThreadId != 0 {
		args = []string{"--thread", itoa(req.Arguments.ThreadId)}
		targets = []int{req.Arguments.ThreadId}
	}
	res, err := s.backend.Send(ctx, "-exec-continue", args...)
	s.recordResumeToken(res, targets)
	if err != nil && !isBenignRunning(err) {
		return err
	}

	allContinued := true
	if s.backend.NonStop {
		allContinued = req.Arguments.ThreadId == 0
	}
	s.send(&dap.ContinueResponse{
		Response: s.newResponse(req.Seq, req.Command),
		Body:     dap.ContinueResponseBody{AllThreadsContinued: allContinued},
	})
	return nil
}

// steppingTimeout spawns cmd/args and, if no result arrives within the
// configured steppingResponseTimeout, returns immediately so the DAP
// response does not stall the UI. The command is not cancelled: a late
// result (success or failure) is still logged, and a late failure is
// surfaced as an `output` event (spec §4.E's "next/stepIn/stepOut"
// contract).
func (s *Session) steppingTimeout(ctx context.Context, cmd string, args ...string) {
	doneCh := make(chan error, 1)
	go func() {
		_, err := s.backend.Send(ctx, cmd, args...)
		doneCh <- err
	}()

	timeout := time.Duration(s.config.SteppingResponseTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}

	select {
	case <-doneCh:
		return
	case <-time.After(timeout):
		go func() {
			err := <-doneCh
			s.Logger.Printf("session: %s completed after the stepping response timeout: err=%v", cmd, err)
			if err != nil && !isBenignRunning(err) {
				s.sendOutput("stderr", fmt.Sprintf("%s: %v (reported after the stepping response timeout)", cmd, err))
			}
		}()
	}
}

func (s *Session) onNext(ctx context.Context, req *dap.NextRequest) error {
	cmd := "-exec-next"
	if req.Arguments.Granularity == dap.SteppingGranularityInstruction {
		cmd = "-exec-next-instruction"
	}
	args := []string{"--thread", itoa(req.Arguments.ThreadId)}
	s.steppingTimeout(ctx, cmd, args...)
	s.send(&dap.NextResponse{Response: s.newResponse(req.Seq, req.Command)})
	return nil
}

func (s *Session) onStepIn(ctx context.Context, req *dap.StepInRequest) error {
	cmd := "-exec-step"
	if req.Arguments.Granularity == dap.SteppingGranularityInstruction {
		cmd = "-exec-step-instruction"
	}
	args := []string{"--thread", itoa(req.Arguments.ThreadId)}
	s.steppingTimeout(ctx, cmd, args...)
	s.send(&dap.StepInResponse{Response: s.newResponse(req.Seq, req.Command)})
	return nil
}

func (s *Session) onStepOut(ctx context.Context, req *dap.StepOutRequest) error {
	args := []string{"--thread", itoa(req.Arguments.ThreadId)}
	s.steppingTimeout(ctx, "-exec-finish", args...)
	s.send(&dap.StepOutResponse{Response: s.newResponse(req.Seq, req.Command)})
	return nil
}

func (s *Session) onPause(ctx context.Context, req *dap.PauseRequest) error {
	err := s.backend.Pause(ctx, req.Arguments.ThreadId, req.Arguments.ThreadId == 0)
	s.send(&dap.PauseResponse{Response: s.newResponse(req.Seq, req.Command)})
	return err
}

// isBenignRunning matches spec §7's guidance that a GdbThreadRunning
// failure on an execution-control command is a race, not a real error:
// the target may already have resumed by the time the command lands.
func isBenignRunning(err error) bool {
	return errmodel.IsThreadRunning(err)
}
