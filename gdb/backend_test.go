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
	"bufio"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkshatriya/cdt-gdb-adapter/errmodel"
	"github.com/sidkshatriya/cdt-gdb-adapter/mi"
)

// fakeLauncher lets the test play the role of the GDB process: Launch
// returns one side of two in-memory pipes and the test drives the
// other side directly, mirroring the openllb/hlb dapserver test's
// io.Pipe harness (other_examples).
type fakeLauncher struct {
	stdin     io.WriteCloser
	stdout    io.Reader
	pid       int
	exited    chan struct{}
	signalled []int
}

func (f *fakeLauncher) Launch(argv []string) (io.WriteCloser, io.Reader, int, <-chan struct{}, error) {
	return f.stdin, f.stdout, f.pid, f.exited, nil
}

func (f *fakeLauncher) Signal(pid int, sig int) error {
	f.signalled = append(f.signalled, sig)
	return nil
}

var _ ProcessLauncher = (*fakeLauncher)(nil)

type recordingSink struct {
	execAsync, statusAsync, notifyAsync, stream, orphan []mi.Record
}

func (r *recordingSink) ExecAsync(rec mi.Record)    { r.execAsync = append(r.execAsync, rec) }
func (r *recordingSink) StatusAsync(rec mi.Record)  { r.statusAsync = append(r.statusAsync, rec) }
func (r *recordingSink) NotifyAsync(rec mi.Record)  { r.notifyAsync = append(r.notifyAsync, rec) }
func (r *recordingSink) Stream(rec mi.Record)       { r.stream = append(r.stream, rec) }
func (r *recordingSink) OrphanResult(rec mi.Record) { r.orphan = append(r.orphan, rec) }

func newTestBackend(t *testing.T) (*Backend, *bufio.Reader, *io.PipeWriter, *recordingSink) {
	t.Helper()
	cmdR, cmdW := io.Pipe()   // backend writes commands here; test reads with cmdR
	replyR, replyW := io.Pipe() // test writes "GDB stdout" here; backend reads with replyR

	fl := &fakeLauncher{stdin: cmdW, stdout: replyR, pid: 4242, exited: make(chan struct{})}
	sink := &recordingSink{}
	b := NewBackend(fl, sink)
	require.NoError(t, b.Start([]string{"gdb", "--interpreter=mi2"}))

	t.Cleanup(func() { b.Close(nil) })

	return b, bufio.NewReader(cmdR), replyW, sink
}

func TestBackendSendDone(t *testing.T) {
	b, cmds, replies, _ := newTestBackend(t)

	resultCh := make(chan error, 1)
	go func() {
		_, err := b.Send(context.Background(), "-break-insert", "main.c:10")
		resultCh <- err
	}()

	line, err := cmds.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "1-break-insert main.c:10\n", line)

	_, err = replies.Write([]byte("1^done,bkpt={number=\"1\"}\n"))
	require.NoError(t, err)

	require.NoError(t, <-resultCh)
}

func TestBackendSendErrorBecomesGdbError(t *testing.T) {
	b, cmds, replies, _ := newTestBackend(t)

	resultCh := make(chan error, 1)
	go func() {
		_, err := b.Send(context.Background(), "-exec-continue")
		resultCh <- err
	}()
	cmds.ReadString('\n')
	replies.Write([]byte("1^error,msg=\"The program is not being run.\"\n"))

	err := <-resultCh
	require.Error(t, err)
	var ge *errmodel.GdbError
	assert.ErrorAs(t, err, &ge)
	assert.False(t, errmodel.IsThreadRunning(err))
}

func TestBackendSendAllAbortsOnFirstFailure(t *testing.T) {
	b, cmds, replies, _ := newTestBackend(t)

	done := make(chan error, 1)
	go func() {
		done <- b.SendAll(context.Background(), []Command{
			{Name: "-break-insert", Args: []string{"a.c:1"}},
			{Name: "-break-insert", Args: []string{"a.c:2"}},
		})
	}()

	cmds.ReadString('\n')
	replies.Write([]byte("1^error,msg=\"bad\"\n"))

	err := <-done
	require.Error(t, err)
}

func TestBackendTokensMonotonic(t *testing.T) {
	b, cmds, replies, _ := newTestBackend(t)

	go b.Send(context.Background(), "-thread-info")
	line1, _ := cmds.ReadString('\n')
	replies.Write([]byte("1^done\n"))
	assert.Equal(t, "1-thread-info\n", line1)

	go b.Send(context.Background(), "-thread-info")
	line2, _ := cmds.ReadString('\n')
	replies.Write([]byte("2^done\n"))
	assert.Equal(t, "2-thread-info\n", line2)
}

func TestBackendPauseSendsInterruptWhenAsync(t *testing.T) {
	b, cmds, replies, _ := newTestBackend(t)
	b.AsyncMode = true

	done := make(chan error, 1)
	go func() { done <- b.Pause(context.Background(), 3, false) }()
	line, _ := cmds.ReadString('\n')
	assert.Equal(t, "1-exec-interrupt --thread 3\n", line)
	replies.Write([]byte("1^done\n"))
	require.NoError(t, <-done)
}

func TestBackendPauseSignalsWhenSync(t *testing.T) {
	b, _, _, _ := newTestBackend(t)
	b.AsyncMode = false
	require.NoError(t, b.Pause(context.Background(), 0, false))
}

func TestBackendCloseRejectsPendingAndFutureSends(t *testing.T) {
	b, cmds, _, _ := newTestBackend(t)

	resultCh := make(chan error, 1)
	go func() {
		_, err := b.Send(context.Background(), "-exec-continue")
		resultCh <- err
	}()
	cmds.ReadString('\n')

	b.Close(&errmodel.GdbPipeError{})

	require.Error(t, <-resultCh)

	_, err := b.Send(context.Background(), "-exec-continue")
	require.Error(t, err)
}

func TestBackendStreamForwarded(t *testing.T) {
	b, _, replies, sink := newTestBackend(t)
	_ = b
	replies.Write([]byte("~\"hello\\n\"\n"))
	time.Sleep(20 * time.Millisecond)
	require.Len(t, sink.stream, 1)
	assert.Equal(t, "hello\n", sink.stream[0].Text)
}
