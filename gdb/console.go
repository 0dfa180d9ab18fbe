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

package gdb

import (
	"io"
	"os/exec"

	"github.com/creack/pty"
)

// PtyLauncher is a ProcessLauncher used when openGdbConsole is set in
// the launch/attach arguments (spec §6): GDB runs attached to a
// pseudo-terminal instead of a plain pipe, so the IDE can surface it as
// an integrated terminal. Grounded on the teacher's use of
// github.com/kr/pty in engine/record.go and engine/replay.go to run
// the PHP/rr child attached to a PTY; creack/pty is its maintained
// successor with the same Start/Open API.
type PtyLauncher struct {
	Dir string
	Env []string

	// SlavePath, once Launch returns, holds the name of the file
	// pty.Start returned, which is the PTY's master side, not the slave
	// device path. Nothing in this adapter passes it to the IDE.
	SlavePath string
}

func (l *PtyLauncher) Launch(argv []string) (io.WriteCloser, io.Reader, int, <-chan struct{}, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = l.Dir
	if l.Env != nil {
		cmd.Env = l.Env
	}

	f, err := pty.Start(cmd)
	if err != nil {
		return nil, nil, 0, nil, err
	}
	if tty, tErr := ttyName(f); tErr == nil {
		l.SlavePath = tty
	}

	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		f.Close()
		close(exited)
	}()

	return f, f, cmd.Process.Pid, exited, nil
}

func (l *PtyLauncher) Signal(pid int, sig int) error {
	return (&ExecLauncher{}).Signal(pid, sig)
}

// ttyName reports the underlying file's name, used only for
// diagnostics (the IDE is told the PTY exists via the collaborator
// boundary, not by this adapter opening a second handle to it).
func ttyName(f interface{ Name() string }) (string, error) {
	return f.Name(), nil
}
