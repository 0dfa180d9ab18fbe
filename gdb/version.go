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
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/Masterminds/semver"
)

// versionPattern extracts the dotted version number from gdb --version
// output, e.g. "GNU gdb (Ubuntu 12.1-0ubuntu1~22.04) 12.1" -> "12.1".
// ProbeVersion applies it to the text after the first ")" (the whole
// line when there is none), so numbers inside the parenthesised
// description are skipped, and parses the first match with semver.
var versionPattern = regexp.MustCompile(`(\d+(?:\.\d+)*)`)

// Version is the result of probing `gdb --version`.
type Version struct {
	Raw string
	Ver *semver.Version
}

// ProbeVersion runs "<gdbPath> --version" and parses the GDB version,
// per spec §4.D. The result feeds the mi-async-vs-target-async and
// $_gthread-vs-$_thread feature gates.
func ProbeVersion(gdbPath string) (Version, error) {
	out, err := exec.Command(gdbPath, "--version").Output()
	if err != nil {
		return Version{}, fmt.Errorf("gdb: version probe failed: %w", err)
	}
	firstLine := strings.SplitN(string(out), "\n", 2)[0]

	search := firstLine
	if idx := strings.Index(firstLine, ")"); idx >= 0 {
		search = firstLine[idx+1:]
	}
	m := versionPattern.FindString(search)
	if m == "" {
		return Version{}, fmt.Errorf("gdb: could not find a version number in %q", firstLine)
	}
	ver, err := semver.NewVersion(m)
	if err != nil {
		return Version{}, fmt.Errorf("gdb: could not parse version %q: %w", m, err)
	}
	return Version{Raw: firstLine, Ver: ver}, nil
}

var (
	constraintMiAsync = mustConstraint(">= 7.8.0")
	constraintGthread = mustConstraint(">= 7.11.0")
)

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// SupportsMiAsync reports whether v is new enough to use "-gdb-set
// mi-async" instead of the older "-gdb-set target-async" spelling.
func (v Version) SupportsMiAsync() bool {
	return v.Ver != nil && constraintMiAsync.Check(v.Ver)
}

// SupportsGThread reports whether v is new enough to use GDB's
// "$_gthread" convenience variable instead of "$_thread".
func (v Version) SupportsGThread() bool {
	return v.Ver != nil && constraintGthread.Check(v.Ver)
}
