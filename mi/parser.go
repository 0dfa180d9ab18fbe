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

// Package mi implements component A of the adapter: a streaming
// lexer/parser for GDB's Machine Interface v2 output, and the
// token-indexed command/response correlator described in spec §4.A.
package mi

import (
	"fmt"
	"sync"
)

// Result is the resolved outcome of a command sent through a pending
// slot: a `^done`/`^running`/`^connected`/`^exit` (success, the caller
// decides whether `running` etc is itself an error) or `^error`.
type Result struct {
	Class string
	Data  map[string]interface{}
}

// Receiver is implemented by the GDB backend (which in turn forwards to
// the session) to receive classified MI records as they arrive. Keeping
// the parser's only outward reference be this interface, rather than a
// concrete backend/session type, breaks the session↔backend↔parser
// cycle called out in spec §9.
type Receiver interface {
	HandleExecAsync(Record)
	HandleStatusAsync(Record)
	HandleNotifyAsync(Record)
	HandleStream(Record)
	HandlePrompt()
	// HandleOrphanResult receives a `^...` record whose token either was
	// never registered or whose slot had already been completed (the
	// rare GDB pattern where a `^done` is followed later by a `^error`
	// for the same token, per spec §4.A).
	HandleOrphanResult(Record)
}

type pendingEntry struct {
	commandText string
	done        chan Result
}

// Parser consumes chunks of GDB stdout and dispatches classified
// records to a Receiver, while maintaining the token->pending-command
// correlation map used by the GDB backend's send().
type Parser struct {
	recv Receiver

	mu      sync.Mutex
	pending map[int]*pendingEntry
	closed  bool
	closeErr error

	buf []byte // trailing partial line, not yet terminated by LF

	utf8 bool
}

// NewParser constructs a Parser that dispatches to recv. UTF-8 decoding
// is enabled by default; DisableUTF8 can be called after the backend's
// charset probe (spec §4.D) determines GDB is using CP1252.
func NewParser(recv Receiver) *Parser {
	return &Parser{
		recv:    recv,
		pending: make(map[int]*pendingEntry),
		utf8:    true,
	}
}

// DisableUTF8 switches C-string decoding to treat input bytes as Latin-1
// (CP1252-compatible for the ASCII range), per the charset probe in
// spec §4.D.
func (p *Parser) DisableUTF8() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.utf8 = false
}

// RegisterPending installs a completion slot for token before the
// corresponding command is written to GDB's stdin, per spec §4.A. It
// returns the channel the backend should wait on.
func (p *Parser) RegisterPending(token int, commandText string) (<-chan Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("mi: parser closed: %w", p.closeErr)
	}
	ch := make(chan Result, 1)
	p.pending[token] = &pendingEntry{commandText: commandText, done: ch}
	return ch, nil
}

// Feed parses as many complete lines as chunk (plus any previously
// buffered partial line) contains, dispatching each. Framing splits on
// LF, tolerating a CR immediately before it (spec §4.A). A trailing
// partial line is retained until the next Feed call.
func (p *Parser) Feed(chunk []byte) {
	data := chunk
	if len(p.buf) > 0 {
		data = append(append([]byte{}, p.buf...), chunk...)
		p.buf = nil
	}

	start := 0
	for i := 0; i < len(data); i++ {
		if data[i] != '\n' {
			continue
		}
		end := i
		if end > start && data[end-1] == '\r' {
			end--
		}
		p.dispatchLine(p.decode(data[start:end]))
		start = i + 1
	}
	if start < len(data) {
		p.buf = append([]byte{}, data[start:]...)
	}
}

func (p *Parser) decode(b []byte) string {
	p.mu.Lock()
	utf8 := p.utf8
	p.mu.Unlock()
	if utf8 {
		return string(b)
	}
	// Latin-1/CP1252: every byte maps to the rune of the same value.
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

func (p *Parser) dispatchLine(line string) {
	rec := parseLine(line)
	switch rec.Kind {
	case KindResult:
		p.dispatchResult(rec)
	case KindExecAsync:
		p.recv.HandleExecAsync(rec)
	case KindStatusAsync:
		p.recv.HandleStatusAsync(rec)
	case KindNotifyAsync:
		p.recv.HandleNotifyAsync(rec)
	case KindConsoleStream, KindTargetStream, KindLogStream:
		p.recv.HandleStream(rec)
	case KindPrompt:
		p.recv.HandlePrompt()
	}
}

func (p *Parser) dispatchResult(rec Record) {
	p.mu.Lock()
	entry, ok := p.pending[rec.Token]
	if ok {
		delete(p.pending, rec.Token)
	}
	p.mu.Unlock()

	if !ok {
		p.recv.HandleOrphanResult(rec)
		return
	}

	data := rec.Data
	if data == nil {
		data = make(map[string]interface{})
	}
	data["cdt-token"] = rec.Token
	data["cdt-command"] = entry.commandText

	entry.done <- Result{Class: rec.Class, Data: data}
	close(entry.done)
}

// Close rejects every outstanding completion slot with a pipe-closed
// style error (the parser itself is transport-agnostic; the backend
// supplies the concrete error value) and marks the parser closed so
// subsequent RegisterPending calls fail immediately.
func (p *Parser) Close(err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.closeErr = err
	pending := p.pending
	p.pending = make(map[int]*pendingEntry)
	p.mu.Unlock()

	for _, entry := range pending {
		entry.done <- Result{Class: ClassError, Data: map[string]interface{}{"msg": errString(err)}}
		close(entry.done)
	}
}

func errString(err error) string {
	if err == nil {
		return "pipe closed"
	}
	return err.Error()
}
