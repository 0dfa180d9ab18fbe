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

// FrameRef is the opaque handle DAP's stackTrace response hands back
// to scopes/variables/evaluate (spec §3's FrameReference).
type FrameRef struct {
	ThreadID int
	Level    int
}

// VarRefKind tags what a VariableReference handle actually points at
// (spec §3's VariableReference tagged value).
type VarRefKind int

const (
	VarRefFrame VarRefKind = iota
	VarRefRegisters
	VarRefObject
)

// VarRef is the decoded form of a DAP variablesReference integer.
type VarRef struct {
	Kind    VarRefKind
	Frame   FrameRef
	Varname string // only set when Kind == VarRefObject
}

// handles is a generational arena mapping small integers to FrameRef/
// VarRef values. DAP handles are scoped to "the current stop": every
// stopped/continued event invalidates the previous generation instead
// of growing the map forever (spec §4.G: "reset on every stopped
// event").
type handles struct {
	frames []FrameRef
	vars   []VarRef

	frameBase int // ids <= frameBase belong to earlier generations
	varBase   int // ids <= varBase belong to earlier generations
}

// reset discards every previously issued handle. Called immediately
// before a stopped or continued DAP event is sent. Ids keep counting
// up across resets, so an id from an earlier generation never resolves.
func (h *handles) reset() {
	h.frameBase += len(h.frames)
	h.varBase += len(h.vars)
	h.frames = h.frames[:0]
	h.vars = h.vars[:0]
}

// newFrame allocates a handle for fr and returns its DAP-visible id.
// Ids are 1-based; 0 means "no frame" in DAP.
func (h *handles) newFrame(fr FrameRef) int {
	h.frames = append(h.frames, fr)
	return h.frameBase + len(h.frames)
}

func (h *handles) frame(id int) (FrameRef, bool) {
	id -= h.frameBase
	if id <= 0 || id > len(h.frames) {
		return FrameRef{}, false
	}
	return h.frames[id-1], true
}

// newVar allocates a variablesReference for v. A v with no children
// (reported by the caller) should use id 0 instead of calling this.
func (h *handles) newVar(v VarRef) int {
	h.vars = append(h.vars, v)
	return h.varBase + len(h.vars)
}

func (h *handles) variable(id int) (VarRef, bool) {
	id -= h.varBase
	if id <= 0 || id > len(h.vars) {
		return VarRef{}, false
	}
	return h.vars[id-1], true
}
