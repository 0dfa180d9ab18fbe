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

import "strings"

// Quoted is the single type through which user-supplied paths and
// filenames are allowed to reach MI command construction (spec §9's
// "string interpolation vs escaping" design note). Building a Quoted
// value is the only sanctioned way to embed a path in a command string;
// nothing else accepts a raw, unescaped string.
type Quoted struct {
	raw          string
	forceQuotes  bool
}

// NewQuoted wraps s for escaped embedding in an MI command. forceQuotes
// requests surrounding double quotes even when s contains no space
// (some MI options require it regardless of content).
func NewQuoted(s string, forceQuotes bool) Quoted {
	return Quoted{raw: s, forceQuotes: forceQuotes}
}

// String applies the teacher's standardEscape rule: every `\` or `"` is
// prefixed with `\`, and the result is wrapped in double quotes if the
// original contained a space or the caller requested quoting
// unconditionally (spec §4.D).
func (q Quoted) String() string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(q.raw)
	if q.forceQuotes || strings.ContainsRune(q.raw, ' ') {
		return `"` + escaped + `"`
	}
	return escaped
}
