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

// Package gdb implements component D: ownership of the GDB child
// process, MI command serialization and token allocation, async/
// non-stop mode negotiation, charset detection, and the error taxonomy
// raised when a command fails (spec §4.D).
package gdb

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fatih/color"

	"github.com/sidkshatriya/cdt-gdb-adapter/errmodel"
	"github.com/sidkshatriya/cdt-gdb-adapter/mi"
)

// EventSink receives classified MI records forwarded by the backend.
// The session package implements this; the backend never imports the
// session package, breaking the cycle spec §9 calls out.
type EventSink interface {
	ExecAsync(mi.Record)
	StatusAsync(mi.Record)
	NotifyAsync(mi.Record)
	Stream(mi.Record)
	OrphanResult(mi.Record)
}

// Backend owns one GDB process and the parser reading its stdout.
type Backend struct {
	launcher ProcessLauncher
	sink     EventSink

	Verbose bool // traces MI traffic via fatih/color, like the teacher's sendGdbCommand

	mu      sync.Mutex
	parser  *mi.Parser
	stdin   io.WriteCloser
	pid     int
	exited  <-chan struct{}
	token   int64
	started bool
	closed  bool

	Version   Version
	AsyncMode bool
	NonStop   bool
}

// NewBackend constructs a Backend that will forward async/stream
// records to sink.
func NewBackend(launcher ProcessLauncher, sink EventSink) *Backend {
	b := &Backend{launcher: launcher, sink: sink}
	b.parser = mi.NewParser(b)
	return b
}

// Start launches GDB with argv and begins reading its stdout.
func (b *Backend) Start(argv []string) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return fmt.Errorf("gdb: backend already started")
	}
	b.started = true
	b.mu.Unlock()

	stdin, stdout, pid, exited, err := b.launcher.Launch(argv)
	if err != nil {
		return fmt.Errorf("gdb: launch failed: %w", err)
	}

	b.mu.Lock()
	b.stdin = stdin
	b.pid = pid
	b.exited = exited
	b.mu.Unlock()

	go b.pump(stdout)
	go func() {
		<-exited
		b.Close(fmt.Errorf("gdb process exited"))
	}()

	return nil
}

func (b *Backend) pump(stdout io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			b.parser.Feed(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// Command is one MI command with its class/option arguments, as used by
// SendAll for strictly-sequential batches (spec §4.D).
type Command struct {
	Name string
	Args []string
}

// Send allocates a monotonically increasing token, writes
// "<token><command> args\n" to GDB's stdin, and waits for the matching
// result record. class done/running/connected/exit resolve
// successfully; class error becomes a *errmodel.GdbError (or its
// GdbThreadRunning specialization); any other class becomes
// *errmodel.GdbUnknownResponse.
func (b *Backend) Send(ctx context.Context, command string, args ...string) (mi.Result, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return mi.Result{}, &errmodel.GdbPipeError{}
	}
	stdin := b.stdin
	b.mu.Unlock()

	token := int(atomic.AddInt64(&b.token, 1))
	line := strings.TrimSpace(command + " " + strings.Join(args, " "))

	done, err := b.parser.RegisterPending(token, line)
	if err != nil {
		return mi.Result{}, &errmodel.GdbPipeError{Cause: err}
	}

	if b.Verbose {
		color.Green("adapter -> gdb: %v %v", command, strings.Join(args, " "))
	}

	wireLine := strconv.Itoa(token) + line + "\n"
	if _, err := io.WriteString(stdin, wireLine); err != nil {
		return mi.Result{}, &errmodel.GdbPipeError{Cause: err}
	}

	select {
	case res := <-done:
		if b.Verbose {
			truncated := fmt.Sprintf("%v", res.Data)
			if len(truncated) > 300 {
				truncated = truncated[:300] + "..."
			}
			color.Cyan("gdb -> adapter: %v %v", res.Class, truncated)
		}
		return res, classify(command, res)
	case <-ctx.Done():
		return mi.Result{}, ctx.Err()
	}
}

func classify(command string, res mi.Result) error {
	switch res.Class {
	case mi.ClassDone, mi.ClassRunning, mi.ClassConnected, mi.ClassExit:
		return nil
	case mi.ClassError:
		msg, _ := res.Data["msg"].(string)
		base := &errmodel.GdbError{
			Token:   tokenOf(res),
			Command: command,
			Message: msg,
		}
		if isThreadRunningMessage(msg) {
			return &errmodel.GdbThreadRunning{GdbError: base}
		}
		return base
	default:
		return &errmodel.GdbUnknownResponse{
			Token:   tokenOf(res),
			Command: command,
			Class:   res.Class,
		}
	}
}

func tokenOf(res mi.Result) int {
	if t, ok := res.Data["cdt-token"].(int); ok {
		return t
	}
	return -1
}

func isThreadRunningMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "is running")
}

// SendAll runs each command strictly sequentially, aborting on the
// first failure (spec §4.D's "batched commands" contract).
func (b *Backend) SendAll(ctx context.Context, cmds []Command) error {
	for _, c := range cmds {
		if _, err := b.Send(ctx, c.Name, c.Args...); err != nil {
			return err
		}
	}
	return nil
}

// Pause interrupts the inferior. In async mode this is
// "-exec-interrupt [--thread N | --all]"; otherwise a SIGINT is sent to
// the GDB process itself (spec §4.D).
func (b *Backend) Pause(ctx context.Context, threadID int, all bool) error {
	b.mu.Lock()
	async := b.AsyncMode
	pid := b.pid
	b.mu.Unlock()

	if !async {
		const sigint = 2
		return b.launcher.Signal(pid, sigint)
	}

	var args []string
	switch {
	case all:
		args = []string{"--all"}
	case threadID > 0:
		args = []string{"--thread", strconv.Itoa(threadID)}
	}
	_, err := b.Send(ctx, "-exec-interrupt", args...)
	return err
}

// SetNonStop enables/disables non-stop mode. Non-stop requires
// pagination to be off first (spec §4.D). On failure, non-stop is
// forced off and the error reports it as unsupported.
func (b *Backend) SetNonStop(ctx context.Context, enable bool) error {
	if _, err := b.Send(ctx, "-gdb-set", "pagination", "off"); err != nil {
		return fmt.Errorf("gdb: could not disable pagination: %w", err)
	}
	onOff := "off"
	if enable {
		onOff = "on"
	}
	if _, err := b.Send(ctx, "-gdb-set", "non-stop", onOff); err != nil {
		b.mu.Lock()
		b.NonStop = false
		b.mu.Unlock()
		b.Send(ctx, "-gdb-set", "non-stop", "off")
		return fmt.Errorf("gdb: non-stop mode unsupported: %w", err)
	}
	b.mu.Lock()
	b.NonStop = enable
	b.mu.Unlock()
	return nil
}

// SetAsync enables/disables async command dispatch. Non-stop implies
// async (spec §4.D); the MI spelling depends on the probed GDB version.
func (b *Backend) SetAsync(ctx context.Context, enable bool) error {
	setting := "target-async"
	if b.Version.SupportsMiAsync() {
		setting = "mi-async"
	}
	onOff := "off"
	if enable {
		onOff = "on"
	}
	if _, err := b.Send(ctx, "-gdb-set", setting, onOff); err != nil {
		b.mu.Lock()
		b.AsyncMode = false
		b.mu.Unlock()
		b.Send(ctx, "-gdb-set", setting, "off")
		return fmt.Errorf("gdb: async mode unsupported: %w", err)
	}
	b.mu.Lock()
	b.AsyncMode = enable
	b.mu.Unlock()
	return nil
}

// ConfirmAsync queries -list-target-features after a target is
// selected and reports whether the target truly supports async
// execution, independent of whether the adapter requested it (spec
// §4.D). If the caller requested async but the target doesn't support
// it, warn is true so the session can surface an "important" output
// event.
func (b *Backend) ConfirmAsync(ctx context.Context, requestedAsync bool) (actual bool, warn bool, err error) {
	res, err := b.Send(ctx, "-list-target-features")
	if err != nil {
		return false, false, err
	}
	features, _ := res.Data["features"].([]interface{})
	for _, f := range features {
		if s, ok := f.(string); ok && s == "async" {
			actual = true
			break
		}
	}
	warn = requestedAsync && !actual
	return actual, warn, nil
}

// ProbeCharset provokes a `-gdb-set charset` error to read the
// supported-charsets list GDB includes in its message. If the list is
// exactly {CP1252, auto}, UTF-8 decoding is disabled in the parser
// (spec §4.D).
func (b *Backend) ProbeCharset(ctx context.Context) error {
	_, err := b.Send(ctx, "-gdb-set", "charset")
	var gdbErr *errmodel.GdbError
	if err == nil {
		return nil
	}
	if !asGdbError(err, &gdbErr) {
		return err
	}
	charsets := parseCharsetList(gdbErr.Message)
	if len(charsets) == 2 && containsAll(charsets, "CP1252", "auto") {
		b.parser.DisableUTF8()
	}
	return nil
}

func asGdbError(err error, target **errmodel.GdbError) bool {
	type causer interface{ Unwrap() error }
	for e := err; e != nil; {
		if g, ok := e.(*errmodel.GdbError); ok {
			*target = g
			return true
		}
		c, ok := e.(causer)
		if !ok {
			return false
		}
		e = c.Unwrap()
	}
	return false
}

func parseCharsetList(msg string) []string {
	// GDB's message looks like: 'Requires an argument. Valid arguments
	// are ASCII, ISO-8859-1, ..., CP1252, auto.'
	idx := strings.Index(msg, "are ")
	if idx < 0 {
		return nil
	}
	list := msg[idx+4:]
	list = strings.TrimSuffix(strings.TrimSpace(list), ".")
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func containsAll(haystack []string, needles ...string) bool {
	set := make(map[string]bool, len(haystack))
	for _, h := range haystack {
		set[h] = true
	}
	for _, n := range needles {
		if !set[n] {
			return false
		}
	}
	return true
}

// Close rejects all pending/future commands and tears down the parser.
// Safe to call multiple times.
func (b *Backend) Close(err error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	stdin := b.stdin
	b.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	b.parser.Close(err)
}

// --- mi.Receiver ---

func (b *Backend) HandleExecAsync(rec mi.Record)   { b.sink.ExecAsync(rec) }
func (b *Backend) HandleStatusAsync(rec mi.Record) { b.sink.StatusAsync(rec) }
func (b *Backend) HandleNotifyAsync(rec mi.Record) { b.sink.NotifyAsync(rec) }
func (b *Backend) HandleStream(rec mi.Record)      { b.sink.Stream(rec) }
func (b *Backend) HandlePrompt()                   {}
func (b *Backend) HandleOrphanResult(rec mi.Record) { b.sink.OrphanResult(rec) }
