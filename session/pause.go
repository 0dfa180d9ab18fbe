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

	"github.com/sidkshatriya/cdt-gdb-adapter/mi"
)

// pauseIfNeeded increments PauseCount. If this is the first increment
// and the target is currently running, it issues a silent pause
// (-exec-interrupt/SIGINT) and waits for the *stopped that resolves
// it, exactly once, before returning — later concurrent callers
// daisy-chain onto the same waiter (spec §5's pause/resume invariant).
func (s *Session) pauseIfNeeded(ctx context.Context) error {
	s.pause.count++
	if s.pause.count > 1 {
		// A pause is already in flight or already holding the target;
		// wait on the existing waiter if one is outstanding.
		if s.pause.waiter != nil {
			select {
			case <-s.pause.waiter.done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	if !s.isRunning() {
		return nil
	}

	w := &pauseWaiter{done: make(chan struct{})}
	s.pause.waiter = w
	s.silentPause = true

	if err := s.backend.Pause(ctx, 0, true); err != nil {
		s.silentPause = false
		s.pause.waiter = nil
		s.pause.count--
		return err
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolvePauseWaiter is called from the *stopped handler when a
// silent, session-initiated pause is recognized (reason ==
// "signal-received" while a waiter is outstanding).
func (s *Session) resolvePauseWaiter(threadID int) {
	s.pause.pausedByUs[threadID] = true
	if s.pause.waiter != nil {
		close(s.pause.waiter.done)
		s.pause.waiter = nil
	}
	s.silentPause = false
}

// continueIfNeeded decrements PauseCount. Only the last decrement
// actually resumes, and only the threads this bracket itself stopped
// are resumed (spec §9 Open Question 1): a thread some other pause
// source (an explicit per-thread pause request, a breakpoint hit) left
// stopped is not ours to resolve.
func (s *Session) continueIfNeeded(ctx context.Context) error {
	if s.pause.count == 0 {
		return nil
	}
	s.pause.count--
	if s.pause.count > 0 {
		return nil
	}

	var ourThreads []int
	for tid, ours := range s.pause.pausedByUs {
		if ours {
			ourThreads = append(ourThreads, tid)
		}
	}
	s.pause.pausedByUs = make(map[int]bool)
	if len(ourThreads) == 0 {
		return nil
	}
	return s.resumeThreads(ctx, ourThreads)
}

func (s *Session) resumeThreads(ctx context.Context, threadIDs []int) error {
	if len(threadIDs) == len(s.threads) {
		res, err := s.backend.Send(ctx, "-exec-continue", "--all")
		s.recordResumeToken(res, threadIDs)
		return err
	}
	for _, tid := range threadIDs {
		res, err := s.backend.Send(ctx, "-exec-continue", "--thread", itoa(tid))
		s.recordResumeToken(res, []int{tid})
		if err != nil {
			return err
		}
	}
	return nil
}

// recordResumeToken remembers which threads a resume-verb command
// (spec §4.E's resumeVerbs) targeted, keyed by the MI token GDB echoed
// back in the result. OrphanResult consults this map to decide whether
// a second, undeliverable ^error for the same token (the first result
// having already been delivered to Send's caller) should be surfaced
// as a retroactive stopped event instead of just logged.
func (s *Session) recordResumeToken(res mi.Result, threadIDs []int) {
	token, ok := resumeToken(res)
	if !ok {
		return
	}
	s.resumeTokenThreads[token] = threadIDs
}

// resumeToken extracts the MI token a result was delivered under.
// mi.Parser stamps it on every delivered result as res.Data["cdt-token"];
// gdb.Backend's lookup of it (tokenOf) is unexported, so session keeps
// its own copy.
func resumeToken(res mi.Result) (int, bool) {
	t, ok := res.Data["cdt-token"].(int)
	return t, ok
}

// allThreadIDs returns every thread id currently known. Used when a
// resume command has no --thread qualifier of its own and so targets
// whatever threads the session knows about at send time.
func (s *Session) allThreadIDs() []int {
	ids := make([]int, 0, len(s.threads))
	for id := range s.threads {
		ids = append(ids, id)
	}
	return ids
}
