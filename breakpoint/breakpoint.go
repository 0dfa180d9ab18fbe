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

// Package breakpoint implements component C: the differential
// algorithm that turns a desired set of DAP breakpoints for one
// file/function-set/instruction-set into the minimal sequence of MI
// insert/delete commands (spec §4.C).
package breakpoint

import (
	"fmt"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// Kind is the DAP breakpoint family being reconciled.
type Kind int

const (
	KindSource Kind = iota
	KindFunction
	KindInstruction
)

// Mode is the desired hardware/software breakpoint implementation.
type Mode int

const (
	ModeDefault Mode = iota // use the session default
	ModeSoftware
	ModeHardware
)

// Desired is one DAP-requested breakpoint, in the kind-agnostic shape
// the reconciler needs to diff and (re)insert it.
type Desired struct {
	// Source kind
	File string
	Line int

	// Function kind
	FunctionName string

	// Instruction kind
	InstructionReference string
	Offset               int64

	Condition    string
	HitCondition string
	LogMessage   string
	Mode         Mode
}

// Existing is one breakpoint as reported by `-break-list`, filtered by
// the caller to the same kind and (for source) the same file.
type Existing struct {
	Number           string // MI breakpoint number, e.g. "1" or "1.2"
	OriginalLocation string // "-source <file> -line <n>" or "<file>:<n>", or "*<addr>"
	Condition        string
	Type             string // "breakpoint" or "hw breakpoint"
	Disposition      string // "keep" or "del"
}

func (e Existing) isHardware() bool { return e.Type == "hw breakpoint" }

// Resolved pairs a desired breakpoint (in original desired order) with
// its matching existing MI breakpoint, if any.
type Resolved struct {
	Desired  Desired
	Existing *Existing
}

// InsertOptions is what must be passed to -break-insert/-break-watch
// for a desired breakpoint with no match.
type InsertOptions struct {
	Condition    string
	Temporary    bool
	IgnoreCount  int
	Hardware     bool
	SkipInstall  bool   // hit-condition did not parse; see Diagnostic
	Diagnostic   string // non-empty when SkipInstall is true
}

// Plan is the reconciliation result: deletes must be issued before any
// insert (spec §4.C's "always delete before inserting" rule), and
// Resolved preserves desired order for the DAP response.
type Plan struct {
	Resolved []Resolved
	Deletes  []string // MI breakpoint numbers to -break-delete
}

// Reconcile computes the edit plan for one setBreakpoints-family
// request. defaultHardware is the session-wide default used when a
// desired breakpoint does not specify a mode explicitly.
func Reconcile(kind Kind, desired []Desired, existing []Existing, defaultHardware bool) Plan {
	matched := make(map[string]bool, len(existing)) // existing.Number -> used
	plan := Plan{Resolved: make([]Resolved, len(desired))}

	for i, d := range desired {
		var found *Existing
		for j := range existing {
			e := &existing[j]
			if matched[e.Number] {
				continue
			}
			if matches(kind, d, *e, defaultHardware) {
				found = e
				matched[e.Number] = true
				break
			}
		}
		plan.Resolved[i] = Resolved{Desired: d, Existing: found}
	}

	for _, e := range existing {
		if !matched[e.Number] {
			plan.Deletes = append(plan.Deletes, e.Number)
		}
	}
	return plan
}

// ShouldShortCircuit implements spec §4.C's first-empty short-circuit:
// the very first setBreakpoints-family request of this kind for the
// session, with an empty desired list, should do no work at all (no
// pause, no -break-list query).
func ShouldShortCircuit(firstRequestOfKind bool, desired []Desired) bool {
	return firstRequestOfKind && len(desired) == 0
}

func matches(kind Kind, d Desired, e Existing, defaultHardware bool) bool {
	if d.HitCondition != "" {
		// Hit-count has a one-way mapping onto MI's ignore/temporary:
		// always reinsert rather than try to match stale state.
		return false
	}

	switch kind {
	case KindFunction:
		loc := functionOriginalLocation(d.FunctionName)
		return loc == e.OriginalLocation && normalizeCondition(d.Condition) == normalizeCondition(e.Condition)

	case KindInstruction:
		wantAddr, ok := normalizeInstructionAddr(d.InstructionReference, d.Offset)
		if !ok {
			return false
		}
		existAddr := strings.TrimPrefix(e.OriginalLocation, "*")
		return strings.EqualFold(wantAddr, existAddr)

	default: // KindSource
		file, line, ok := parseOriginalLocation(e.OriginalLocation)
		if !ok {
			return false
		}
		if !samePath(d.File, file) {
			return false
		}
		if d.Line != line {
			return false
		}
		if normalizeCondition(d.Condition) != normalizeCondition(e.Condition) {
			return false
		}
		wantHardware := d.Mode == ModeHardware || (d.Mode == ModeDefault && defaultHardware)
		return wantHardware == e.isHardware()
	}
}

func normalizeCondition(c string) string {
	return strings.TrimSpace(c)
}

// samePath compares two source paths, case-insensitively when either
// is a Windows-style path (drive letter or backslash present) or the
// adapter itself runs on Windows, and case-sensitively otherwise, per
// spec §4.C.
func samePath(a, b string) bool {
	if looksLikeWindowsPath(a) || looksLikeWindowsPath(b) || runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func looksLikeWindowsPath(p string) bool {
	if strings.Contains(p, `\`) {
		return true
	}
	if len(p) >= 2 && p[1] == ':' {
		return true
	}
	return false
}

var (
	sourceFormLocation = regexp.MustCompile(`^-source\s+(.+)\s+-line\s+(\d+)$`)
	plainFormLocation  = regexp.MustCompile(`^(.+):(\d+)$`)
)

// parseOriginalLocation parses the MI original-location string used for
// source breakpoints: either "-source <file> -line <n>" or "<file>:<n>".
func parseOriginalLocation(loc string) (file string, line int, ok bool) {
	if m := sourceFormLocation.FindStringSubmatch(loc); m != nil {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return "", 0, false
		}
		return m[1], n, true
	}
	if m := plainFormLocation.FindStringSubmatch(loc); m != nil {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return "", 0, false
		}
		return m[1], n, true
	}
	return "", 0, false
}

func functionOriginalLocation(name string) string {
	return name
}

// ClassifyExisting guesses which Kind an MI breakpoint reported by
// -break-list belongs to, from its Type and OriginalLocation shape.
// Callers use this to pre-filter the -break-list result to the kind
// (and, for source, the file) being reconciled, per spec §4.C: handing
// Reconcile a mixed-kind existing list would make it delete breakpoints
// of every other kind as "unmatched".
func ClassifyExisting(e Existing) Kind {
	if strings.HasPrefix(e.OriginalLocation, "*") {
		return KindInstruction
	}
	if _, _, ok := parseOriginalLocation(e.OriginalLocation); ok {
		return KindSource
	}
	return KindFunction
}

// ExistingSourceFile extracts the file half of a source breakpoint's
// original-location, for per-file filtering.
func ExistingSourceFile(e Existing) (string, bool) {
	file, _, ok := parseOriginalLocation(e.OriginalLocation)
	return file, ok
}

// normalizeInstructionAddr combines a DAP instructionReference + offset
// into lowercase "0x..."-prefixed hex, per spec §4.C.
func normalizeInstructionAddr(ref string, offset int64) (string, bool) {
	clean := strings.TrimPrefix(strings.TrimPrefix(ref, "0x"), "0X")
	base, err := strconv.ParseUint(clean, 16, 64)
	if err != nil {
		return "", false
	}
	addr := int64(base) + offset
	if addr < 0 {
		return "", false
	}
	return fmt.Sprintf("0x%x", uint64(addr)), true
}

var (
	plainHitCount = regexp.MustCompile(`^\s*(\d+)\s*$`)
	gtHitCount    = regexp.MustCompile(`^\s*>\s*(\d+)\s*$`)
)

// ParseHitCondition maps a DAP hitCondition string to MI's
// ignoreCount/temporary pair, per spec §4.C:
//
//	""    -> no hit condition at all (ok=true, installed unconditionally)
//	"N"   -> ignoreCount = N-1, temporary = true  (fires once after N hits)
//	"> N" -> ignoreCount = N,   temporary = false (fires continuously above N)
//	else  -> ok=false; caller must surface a diagnostic and skip install
func ParseHitCondition(s string) (ignoreCount int, temporary bool, ok bool) {
	if strings.TrimSpace(s) == "" {
		return 0, false, true
	}
	if m := plainHitCount.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false, false
		}
		return n - 1, true, true
	}
	if m := gtHitCount.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false, false
		}
		return n, false, true
	}
	return 0, false, false
}

// BuildInsertOptions computes the -break-insert/-break-watch arguments
// for a desired breakpoint with no existing match.
func BuildInsertOptions(d Desired, defaultHardware bool) InsertOptions {
	ignoreCount, temporary, ok := ParseHitCondition(d.HitCondition)
	if !ok {
		return InsertOptions{SkipInstall: true, Diagnostic: fmt.Sprintf("unsupported hit condition %q", d.HitCondition)}
	}
	hardware := d.Mode == ModeHardware || (d.Mode == ModeDefault && defaultHardware)
	return InsertOptions{
		Condition:   d.Condition,
		Temporary:   temporary,
		IgnoreCount: ignoreCount,
		Hardware:    hardware,
	}
}
