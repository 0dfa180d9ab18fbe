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

// Package varobj implements component B: the keyed cache of GDB
// variable objects per (thread, frame, depth) scope, with lazy
// creation, child expansion, and out-of-scope reaping (spec §4.B).
package varobj

import (
	"context"
	"fmt"
	"sync"
)

// Scope identifies where a variable object lives. Globals use the
// sentinel (-1, -1, -1) per spec §4.B.
type Scope struct {
	ThreadID   int
	FrameID    int
	StackDepth int
}

// GlobalScope is the sentinel scope for expressions with no frame.
var GlobalScope = Scope{ThreadID: -1, FrameID: -1, StackDepth: -1}

// Kind distinguishes the three VariableReference tags from spec §3.
type Kind int

const (
	KindFrame Kind = iota
	KindRegisters
	KindObject
)

// VarObj mirrors spec §4.B/§3's VarObj record.
type VarObj struct {
	Varname    string // GDB's "var123"
	Expression string // user-facing expression
	Type       string
	NumChild   int
	Value      string
	IsVariable bool
	IsChild    bool
}

// Deleter sends the MI command that deletes a varobj GDB-side. It is
// the only way Manager talks to GDB, keeping this package transport-
// agnostic (the gdb package would otherwise have to import varobj).
type Deleter interface {
	DeleteVarObj(ctx context.Context, varname string) error
}

type key struct {
	scope Scope
	id    string // expression or varname
}

// Manager is the (thread,frame,depth)-keyed store of VarObj entries. A
// single VarObj is reachable under two keys — its expression and its
// GDB varname — per spec §4.B ("store both under expression and under
// varname"). A mutex guards the map even though the session's
// cooperative single-goroutine model (spec §5) makes races unlikely in
// principle; it is a cheap guard against a future goroutine boundary,
// matching the teacher's habit of never assuming a data structure stays
// single-threaded forever.
type Manager struct {
	mu      sync.Mutex
	entries map[key]*VarObj
	deleter Deleter
}

func NewManager(deleter Deleter) *Manager {
	return &Manager{entries: make(map[key]*VarObj), deleter: deleter}
}

// Get looks up a VarObj by expression or varname within scope.
func (m *Manager) Get(scope Scope, exprOrVarname string) (*VarObj, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key{scope, exprOrVarname}]
	return v, ok
}

// Add stores a newly created varobj under both its expression and its
// GDB-assigned varname.
func (m *Manager) Add(scope Scope, expression string, isVariable, isChild bool, varname, typ, value string, numchild int) *VarObj {
	v := &VarObj{
		Varname:    varname,
		Expression: expression,
		Type:       typ,
		NumChild:   numchild,
		Value:      value,
		IsVariable: isVariable,
		IsChild:    isChild,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key{scope, expression}] = v
	m.entries[key{scope, varname}] = v
	return v
}

// Update replaces an entry previously tracked as a bare "expression"
// with one now known to be a stack "variable" (spec §4.B): the same
// VarObj pointer is re-keyed as a variable so later lookups by either
// name return the upgraded record.
func (m *Manager) Update(scope Scope, v *VarObj) *VarObj {
	v.IsVariable = true
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key{scope, v.Expression}] = v
	m.entries[key{scope, v.Varname}] = v
	return v
}

// Remove deletes the map entries for a varobj and asks GDB to delete
// the underlying object. Per spec §4.B: a failure to send -var-delete
// must not leave a stale map entry (the map is always purged first), but
// a stale GDB object is acceptable if the connection is being torn
// down (the caller decides whether to surface the Deleter's error).
func (m *Manager) Remove(ctx context.Context, scope Scope, exprOrVarname string) error {
	m.mu.Lock()
	v, ok := m.entries[key{scope, exprOrVarname}]
	if ok {
		delete(m.entries, key{scope, v.Expression})
		delete(m.entries, key{scope, v.Varname})
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if m.deleter == nil {
		return nil
	}
	if err := m.deleter.DeleteVarObj(ctx, v.Varname); err != nil {
		return fmt.Errorf("varobj: -var-delete %s: %w", v.Varname, err)
	}
	return nil
}

// RemoveScope purges every entry for scope (and issues -var-delete for
// each). Stopped-event handling purges per thread with RemoveThread
// instead.
func (m *Manager) RemoveScope(ctx context.Context, scope Scope) {
	m.mu.Lock()
	var varnames []string
	seen := make(map[string]bool)
	for k, v := range m.entries {
		if k.scope != scope {
			continue
		}
		if !seen[v.Varname] {
			seen[v.Varname] = true
			varnames = append(varnames, v.Varname)
		}
		delete(m.entries, k)
	}
	m.mu.Unlock()

	if m.deleter == nil {
		return
	}
	for _, vn := range varnames {
		m.deleter.DeleteVarObj(ctx, vn)
	}
}

// RemoveThread purges every scope belonging to threadID, regardless of
// frame level or stack depth. Called when a thread stops: its old
// frame numbering is no longer meaningful, so every varobj scoped to
// one of its frames is stale (spec §3's "Handles reset on every
// stopped event" extended to the varobj cache, not just the
// frame/variable reference handles).
func (m *Manager) RemoveThread(ctx context.Context, threadID int) {
	m.mu.Lock()
	var varnames []string
	seen := make(map[string]bool)
	for k, v := range m.entries {
		if k.scope.ThreadID != threadID {
			continue
		}
		if !seen[v.Varname] {
			seen[v.Varname] = true
			varnames = append(varnames, v.Varname)
		}
		delete(m.entries, k)
	}
	m.mu.Unlock()

	if m.deleter == nil {
		return
	}
	for _, vn := range varnames {
		m.deleter.DeleteVarObj(ctx, vn)
	}
}

// VarsFor enumerates every distinct VarObj tracked at scope, in no
// particular order.
func (m *Manager) VarsFor(scope Scope) []*VarObj {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[*VarObj]bool)
	var out []*VarObj
	for k, v := range m.entries {
		if k.scope != scope {
			continue
		}
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
