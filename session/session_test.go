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
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	dap "github.com/google/go-dap"
	"github.com/stretchr/testify/require"

	"github.com/sidkshatriya/cdt-gdb-adapter/gdb"
)

// fakeLauncher stands in for the gdb child process, mirroring the
// gdb package's own test harness and the openllb/hlb dapserver test's
// io.Pipe-based fake client (other_examples).
type fakeLauncher struct {
	stdin  io.WriteCloser
	stdout io.Reader
	exited chan struct{}
}

func (f *fakeLauncher) Launch(argv []string) (io.WriteCloser, io.Reader, int, <-chan struct{}, error) {
	return f.stdin, f.stdout, 4242, f.exited, nil
}

func (f *fakeLauncher) Signal(pid int, sig int) error { return nil }

var _ gdb.ProcessLauncher = (*fakeLauncher)(nil)

// testRig wires a Session to two in-memory pipes: one standing in for
// the IDE's DAP byte stream, one standing in for gdb's stdin/stdout.
type testRig struct {
	t *testing.T
	s *Session

	dapOut *bufio.Reader // reads what the session writes to the IDE
	dapIn  io.WriteCloser // writes what the IDE sends to the session

	gdbCmds *bufio.Reader // reads MI commands the session sends to gdb

	gdbReplies io.WriteCloser // writes MI records as if from gdb's stdout
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	ideR, ideW := io.Pipe()
	sessR, sessW := io.Pipe()
	cmdR, cmdW := io.Pipe()
	replyR, replyW := io.Pipe()

	launcher := &fakeLauncher{stdin: cmdW, stdout: replyR, exited: make(chan struct{})}
	s := New(ideR, sessW, launcher)

	rig := &testRig{
		t:          t,
		s:          s,
		dapOut:     bufio.NewReader(sessR),
		dapIn:      ideW,
		gdbCmds:    bufio.NewReader(cmdR),
		gdbReplies: replyW,
	}

	go func() { s.Run(context.Background()) }()
	go rig.autoReplyGdb()

	t.Cleanup(func() {
		ideW.Close()
	})

	return rig
}

// autoReplyGdb answers every MI command with "<token>^done" — enough
// for exercising the lifecycle/lookup handlers, which only care that
// Send() resolves, not about realistic gdb semantics.
func (r *testRig) autoReplyGdb() {
	for {
		line, err := r.gdbCmds.ReadString('\n')
		if err != nil {
			return
		}
		token := leadingDigits(line)
		if token == "" {
			continue
		}
		io.WriteString(r.gdbReplies, token+"^done\n")
	}
}

func leadingDigits(s string) string {
	s = strings.TrimLeft(s, " \t")
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}

func (r *testRig) send(seq int, req dap.RequestMessage) {
	r.t.Helper()
	require.NoError(r.t, dap.WriteProtocolMessage(r.dapIn, req))
}

func (r *testRig) nextMessage() dap.Message {
	r.t.Helper()
	msg, err := dap.ReadProtocolMessage(r.dapOut)
	require.NoError(r.t, err)
	return msg
}

// nextOfType reads messages until one of the wanted Go type arrives,
// skipping interleaved events (InitializedEvent, etc.), bounded so a
// protocol bug fails the test instead of hanging it.
func nextOfType[T dap.Message](r *testRig) T {
	r.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg := r.nextMessage()
		if typed, ok := msg.(T); ok {
			return typed
		}
	}
	r.t.Fatalf("timed out waiting for message of the requested type")
	var zero T
	return zero
}

func TestInitializeLaunchConfigurationDone(t *testing.T) {
	rig := newTestRig(t)

	rig.send(1, &dap.InitializeRequest{
		Request:  dap.Request{ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "request"}, Command: "initialize"},
		Arguments: dap.InitializeRequestArguments{},
	})
	initResp := nextOfType[*dap.InitializeResponse](rig)
	require.True(t, initResp.Success)
	require.True(t, initResp.Body.SupportsConfigurationDoneRequest)
	require.True(t, initResp.Body.SupportsLogPoints)

	launchArgs, err := json.Marshal(map[string]interface{}{
		"program": "/bin/true",
		"gdb":     "gdb",
	})
	require.NoError(t, err)
	rig.send(2, &dap.LaunchRequest{
		Request:   dap.Request{ProtocolMessage: dap.ProtocolMessage{Seq: 2, Type: "request"}, Command: "launch"},
		Arguments: launchArgs,
	})

	launchResp := nextOfType[*dap.LaunchResponse](rig)
	require.True(t, launchResp.Success)

	initEvt := nextOfType[*dap.InitializedEvent](rig)
	require.Equal(t, "initialized", initEvt.Event)

	rig.send(3, &dap.ConfigurationDoneRequest{
		Request: dap.Request{ProtocolMessage: dap.ProtocolMessage{Seq: 3, Type: "request"}, Command: "configurationDone"},
	})
	cfgResp := nextOfType[*dap.ConfigurationDoneResponse](rig)
	require.True(t, cfgResp.Success)

	require.Equal(t, StateDone, rig.s.configState)
}

func TestSetBreakpointsRoundTrip(t *testing.T) {
	rig := newTestRig(t)

	rig.send(1, &dap.InitializeRequest{
		Request: dap.Request{ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "request"}, Command: "initialize"},
	})
	nextOfType[*dap.InitializeResponse](rig)

	launchArgs, _ := json.Marshal(map[string]interface{}{"program": "/bin/true"})
	rig.send(2, &dap.LaunchRequest{
		Request:   dap.Request{ProtocolMessage: dap.ProtocolMessage{Seq: 2, Type: "request"}, Command: "launch"},
		Arguments: launchArgs,
	})
	nextOfType[*dap.LaunchResponse](rig)
	nextOfType[*dap.InitializedEvent](rig)

	rig.send(3, &dap.SetBreakpointsRequest{
		Request: dap.Request{ProtocolMessage: dap.ProtocolMessage{Seq: 3, Type: "request"}, Command: "setBreakpoints"},
		Arguments: dap.SetBreakpointsArguments{
			Source:      dap.Source{Path: "main.c"},
			Breakpoints: []dap.SourceBreakpoint{{Line: 10}},
		},
	})
	resp := nextOfType[*dap.SetBreakpointsResponse](rig)
	require.True(t, resp.Success)
	require.Len(t, resp.Body.Breakpoints, 1)
}

// newBackendRig wires a Session directly to a started *gdb.Backend over
// in-memory pipes, bypassing the DAP wire entirely. It mirrors the
// gdb package's own newTestBackend helper, one level up: here the
// session itself is the gdb.EventSink, so MI async records written to
// replies exercise the real stopped/running handlers.
type backendRig struct {
	s       *Session
	cmds    *bufio.Reader
	replies io.WriteCloser
	dapOut  *bufio.Reader
}

func newBackendRig(t *testing.T) *backendRig {
	t.Helper()
	cmdR, cmdW := io.Pipe()
	replyR, replyW := io.Pipe()
	outR, outW := io.Pipe()

	fl := &fakeLauncher{stdin: cmdW, stdout: replyR, exited: make(chan struct{})}
	s := New(strings.NewReader(""), outW, fl)
	b := gdb.NewBackend(fl, s)
	require.NoError(t, b.Start([]string{"gdb", "--interpreter=mi2"}))
	s.backend = b

	t.Cleanup(func() { b.Close(nil) })

	return &backendRig{s: s, cmds: bufio.NewReader(cmdR), replies: replyW, dapOut: bufio.NewReader(outR)}
}

func (r *backendRig) nextMessage(t *testing.T) dap.Message {
	t.Helper()
	msg, err := dap.ReadProtocolMessage(r.dapOut)
	require.NoError(t, err)
	return msg
}

// TestPauseBracketDaisyChains checks spec §5's pause/resume invariant:
// concurrent pauseIfNeeded callers share a single outstanding pause,
// and continueIfNeeded only resumes once the bracket's count returns
// to zero, and only the threads the bracket itself stopped.
func TestPauseBracketDaisyChains(t *testing.T) {
	rig := newBackendRig(t)
	s := rig.s
	s.threads[1] = &Thread{ID: 1, Running: true, LastRunToken: -1}

	first := make(chan error, 1)
	go func() { first <- s.pauseIfNeeded(context.Background()) }()

	// Give the first caller a chance to register its waiter before the
	// second one daisy-chains onto it.
	time.Sleep(20 * time.Millisecond)

	second := make(chan error, 1)
	go func() { second <- s.pauseIfNeeded(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, 2, s.pause.count)

	io.WriteString(rig.replies, "*stopped,reason=\"signal-received\",thread-id=\"1\"\n")

	require.NoError(t, <-first)
	require.NoError(t, <-second)
	require.False(t, s.silentPause)
	require.True(t, s.pause.pausedByUs[1])

	require.NoError(t, s.continueIfNeeded(context.Background()))
	require.Equal(t, 1, s.pause.count, "first continueIfNeeded must not resume yet")

	go func() { second <- s.continueIfNeeded(context.Background()) }()
	line, err := rig.cmds.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "1-exec-continue --all\n", line, "resumeThreads collapses to --all when every thread is ours")
	io.WriteString(rig.replies, "1^done\n")
	require.NoError(t, <-second)
	require.Equal(t, 0, s.pause.count)
}

// TestSilentPauseSuppressesStoppedEvent confirms that a *stopped record
// recognized as the resolution of our own silent pause never reaches
// the IDE as a StoppedEvent.
func TestSilentPauseSuppressesStoppedEvent(t *testing.T) {
	rig := newBackendRig(t)
	s := rig.s
	s.threads[1] = &Thread{ID: 1, Running: true, LastRunToken: -1}
	s.silentPause = true
	s.pause.count = 1
	s.pause.waiter = &pauseWaiter{done: make(chan struct{})}

	go func() {
		io.WriteString(rig.replies, "*stopped,reason=\"signal-received\",thread-id=\"1\"\n")
	}()

	select {
	case <-s.pause.waiter.done:
	case <-time.After(2 * time.Second):
		t.Fatal("pause waiter never resolved")
	}
	require.True(t, s.pause.pausedByUs[1])
}

// TestReadMemoryDecodesHexToBase64 checks the hex-in/base64-out
// conversion onReadMemory performs against gdb's -data-read-memory-bytes
// reply shape.
func TestReadMemoryDecodesHexToBase64(t *testing.T) {
	rig := newBackendRig(t)
	s := rig.s

	go func() {
		line, err := rig.cmds.ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, "1-data-read-memory-bytes 0x1000+0 4\n", line)
		io.WriteString(rig.replies,
			"1^done,memory=[{begin=\"0x1000\",offset=\"0x0\",end=\"0x1004\",contents=\"deadbeef\"}]\n")
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.onReadMemory(context.Background(), &dap.ReadMemoryRequest{
			Request: dap.Request{ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "request"}, Command: "readMemory"},
			Arguments: dap.ReadMemoryArguments{
				MemoryReference: "0x1000",
				Count:           4,
			},
		})
	}()

	msg := rig.nextMessage(t)
	require.NoError(t, <-errCh)
	resp, ok := msg.(*dap.ReadMemoryResponse)
	require.True(t, ok, "expected a ReadMemoryResponse, got %T", msg)
	require.Equal(t, "0x1000", resp.Body.Address)
	raw, decErr := base64.StdEncoding.DecodeString(resp.Body.Data)
	require.NoError(t, decErr)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, raw)
}
