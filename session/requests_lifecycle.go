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
	"encoding/json"
	"fmt"

	dap "github.com/google/go-dap"

	"github.com/sidkshatriya/cdt-gdb-adapter/gdb"
	"github.com/sidkshatriya/cdt-gdb-adapter/mi"
)

func (s *Session) onInitialize(ctx context.Context, req *dap.InitializeRequest) error {
	s.send(&dap.InitializeResponse{
		Response: s.newResponse(req.Seq, req.Command),
		Body: dap.Capabilities{
			SupportsConfigurationDoneRequest:  true,
			SupportsConditionalBreakpoints:    true,
			SupportsHitConditionalBreakpoints: true,
			SupportsLogPoints:                 true,
			SupportsFunctionBreakpoints:       true,
			SupportsDisassembleRequest:        true,
			SupportsReadMemoryRequest:         true,
			SupportsWriteMemoryRequest:        true,
			SupportsSteppingGranularity:       true,
			SupportsInstructionBreakpoints:    true,
			SupportsDataBreakpoints:           true,
			SupportsTerminateRequest:          true,
			SupportsSetVariable:               true,
			SupportsEvaluateForHovers:         true,
			SupportsValueFormattingOptions:    true,
		},
	})
	return nil
}

func (s *Session) startGdb(ctx context.Context, cfg LaunchConfig) error {
	s.config = cfg
	s.backend = gdb.NewBackend(s.launcherFor(cfg), s)
	s.backend.Verbose = cfg.Verbose || s.Verbose

	argv := []string{cfg.Gdb, "--interpreter=mi2", "-q"}
	argv = append(argv, cfg.GdbArguments...)
	if err := s.backend.Start(argv); err != nil {
		return fmt.Errorf("session: launch gdb: %w", err)
	}

	if v, err := gdb.ProbeVersion(cfg.Gdb); err == nil {
		s.backend.Version = v
	}

	if _, err := s.backend.Send(ctx, "-gdb-set", "pagination", "off"); err != nil {
		return err
	}

	if cfg.GdbNonStop {
		if err := s.backend.SetAsync(ctx, true); err != nil {
			return err
		}
		if err := s.backend.SetNonStop(ctx, true); err != nil {
			return err
		}
	} else if cfg.GdbAsync != nil && *cfg.GdbAsync {
		if err := s.backend.SetAsync(ctx, true); err != nil {
			s.sendOutput("important", fmt.Sprintf("async execution not supported: %v", err))
		}
	}

	if err := s.backend.ProbeCharset(ctx); err != nil {
		s.Logger.Printf("session: charset probe failed: %v", err)
	}

	for _, c := range cfg.InitCommands {
		if _, err := s.backend.Send(ctx, "-interpreter-exec", "console", gdb.NewQuoted(c, true).String()); err != nil {
			return fmt.Errorf("session: initCommands: %w", err)
		}
	}
	return nil
}

// launcherFor switches to a PTY-backed launcher when openGdbConsole is
// requested (spec §4.D), but only when the caller-supplied launcher is
// the plain exec one: a caller that already handed in a custom
// ProcessLauncher (container, remote host) knows better than this
// adapter does how to give the IDE a console.
func (s *Session) launcherFor(cfg LaunchConfig) gdb.ProcessLauncher {
	if !cfg.OpenGdbConsole {
		return s.launcher
	}
	if el, ok := s.launcher.(*gdb.ExecLauncher); ok {
		return &gdb.PtyLauncher{Dir: el.Dir, Env: el.Env}
	}
	return s.launcher
}

func (s *Session) onLaunch(ctx context.Context, req *dap.LaunchRequest) error {
	var cfg LaunchConfig
	if len(req.Arguments) > 0 {
		if err := json.Unmarshal(req.Arguments, &cfg); err != nil {
			return fmt.Errorf("session: malformed launch arguments: %w", err)
		}
	}
	cfg.Defaults()
	s.isLaunch = true

	if err := s.startGdb(ctx, cfg); err != nil {
		return err
	}

	if cfg.Program != "" {
		if _, err := s.backend.Send(ctx, "-file-exec-and-symbols", gdb.NewQuoted(cfg.Program, false).String()); err != nil {
			return err
		}
	}
	if _, err := s.backend.Send(ctx, "-enable-pretty-printing"); err != nil {
		return err
	}
	if len(cfg.Arguments) > 0 {
		args := make([]string, len(cfg.Arguments))
		for i, a := range cfg.Arguments {
			args[i] = gdb.NewQuoted(a, false).String()
		}
		if _, err := s.backend.Send(ctx, "-exec-arguments", args...); err != nil {
			return err
		}
	}
	for _, c := range cfg.PreRunCommands {
		if _, err := s.backend.Send(ctx, "-interpreter-exec", "console", gdb.NewQuoted(c, true).String()); err != nil {
			return err
		}
	}

	s.send(&dap.LaunchResponse{Response: s.newResponse(req.Seq, req.Command)})
	s.enterConfiguring()
	return nil
}

func (s *Session) onAttach(ctx context.Context, req *dap.AttachRequest) error {
	var cfg LaunchConfig
	if len(req.Arguments) > 0 {
		if err := json.Unmarshal(req.Arguments, &cfg); err != nil {
			return fmt.Errorf("session: malformed attach arguments: %w", err)
		}
	}
	cfg.Defaults()
	s.isLaunch = false

	if err := s.startGdb(ctx, cfg); err != nil {
		return err
	}
	if cfg.Program != "" {
		if _, err := s.backend.Send(ctx, "-file-exec-and-symbols", gdb.NewQuoted(cfg.Program, false).String()); err != nil {
			return err
		}
	}
	if _, err := s.backend.Send(ctx, "-enable-pretty-printing"); err != nil {
		return err
	}
	if cfg.AttachPid != 0 {
		if _, err := s.backend.Send(ctx, "-target-attach", itoa(cfg.AttachPid)); err != nil {
			return err
		}
	}
	for _, c := range cfg.PreRunCommands {
		if _, err := s.backend.Send(ctx, "-interpreter-exec", "console", gdb.NewQuoted(c, true).String()); err != nil {
			return err
		}
	}

	s.send(&dap.AttachResponse{Response: s.newResponse(req.Seq, req.Command)})
	s.enterConfiguring()
	return nil
}

func (s *Session) enterConfiguring() {
	s.send(&dap.InitializedEvent{Event: s.newEvent("initialized")})
	if s.isRunning() {
		s.configState = StateConfiguring
	} else {
		s.configState = StateConfiguringPaused
	}
}

func (s *Session) onConfigurationDone(ctx context.Context, req *dap.ConfigurationDoneRequest) error {
	if s.configState != StateConfiguringPaused {
		s.configState = StateDone
		s.send(&dap.ConfigurationDoneResponse{Response: s.newResponse(req.Seq, req.Command)})
		return nil
	}
	s.configState = StateFinishing

	var res mi.Result
	var err error
	if s.isLaunch {
		res, err = s.backend.Send(ctx, "-exec-run")
	} else {
		res, err = s.backend.Send(ctx, "-exec-continue")
	}
	s.recordResumeToken(res, s.allThreadIDs())
	s.configState = StateDone
	if err != nil {
		return err
	}
	s.send(&dap.ConfigurationDoneResponse{Response: s.newResponse(req.Seq, req.Command)})
	return nil
}

func (s *Session) onDisconnect(ctx context.Context, req *dap.DisconnectRequest) error {
	s.send(&dap.DisconnectResponse{Response: s.newResponse(req.Seq, req.Command)})
	if s.backend != nil {
		s.backend.Send(ctx, "-gdb-exit")
		s.backend.Close(nil)
	}
	s.err = nil
	close(s.done)
	return nil
}

func (s *Session) onTerminate(ctx context.Context, req *dap.TerminateRequest) error {
	s.send(&dap.TerminateResponse{Response: s.newResponse(req.Seq, req.Command)})
	if s.backend == nil {
		close(s.done)
		return nil
	}
	if s.isLaunch {
		s.backend.Pause(ctx, 0, true)
	}
	if _, err := s.backend.Send(ctx, "-gdb-exit"); err != nil {
		return err
	}
	return nil
}

// runCustomReset implements the cdt-gdb-adapter/customReset custom
// request (spec.md §9's supplemented restart): pause silently, run the
// configured reset commands, then resume exactly as the pause bracket
// that wrapped them dictates.
func (s *Session) runCustomReset(ctx context.Context) error {
	if err := s.pauseIfNeeded(ctx); err != nil {
		return err
	}
	defer s.continueIfNeeded(ctx)

	for _, c := range s.config.CustomResetCommands {
		if _, err := s.backend.Send(ctx, "-interpreter-exec", "console", gdb.NewQuoted(c, true).String()); err != nil {
			return fmt.Errorf("session: customResetCommands: %w", err)
		}
	}
	return nil
}
