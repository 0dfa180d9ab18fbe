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

// Thread mirrors spec §3's Thread record.
type Thread struct {
	ID           int
	Name         string
	Running      bool
	LastRunToken int // always -1: resume tokens are tracked in Session.resumeTokenThreads instead
}

// ConfiguringState is spec §3's five-valued enumeration tracking the
// interval between the DAP `initialized` event and the resume that
// follows `configurationDone`.
type ConfiguringState int

const (
	StateInitial ConfiguringState = iota
	StateConfiguring
	StateConfiguringPaused
	StateFinishing
	StateDone
)

// pauseWaiter is a one-shot completion signal for a pause bracket.
// Multiple concurrent pause_if_needed callers daisy-chain onto the
// first one's waiter; resolving it resolves all of them (spec §5's
// pause/resume invariant).
type pauseWaiter struct {
	done chan struct{}
}

// pauseState holds PauseCount and the bookkeeping needed to know,
// when the count drops back to zero, which threads this session's own
// pause bracket stopped (as opposed to threads some other stop reason
// left paused) — spec §9 Open Question 1, decided in DESIGN.md: only
// threads in pausedByUs are resumed when the bracket closes.
type pauseState struct {
	count      int
	pausedByUs map[int]bool // thread id -> true if we stopped it
	waiter     *pauseWaiter
}

func newPauseState() *pauseState {
	return &pauseState{pausedByUs: make(map[int]bool)}
}

// resumeVerbs is the canonical list of MI command names that move a
// thread from stopped to running. No code consults it: only the
// -exec-continue/-exec-run send sites call recordResumeToken, so tokens
// of step, next, finish, until and jump commands are not tracked, and
// OrphanResult decides from Session.resumeTokenThreads alone.
var resumeVerbs = map[string]bool{
	"-exec-continue":        true,
	"-exec-run":             true,
	"-exec-step":            true,
	"-exec-step-instruction": true,
	"-exec-next":            true,
	"-exec-next-instruction": true,
	"-exec-finish":          true,
	"-exec-until":           true,
	"-exec-jump":            true,
}

func isResumeVerb(command string) bool {
	return resumeVerbs[command]
}
