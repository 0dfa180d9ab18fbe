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

package varobj

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDeleter struct {
	deleted []string
	err     error
}

func (f *fakeDeleter) DeleteVarObj(_ context.Context, varname string) error {
	f.deleted = append(f.deleted, varname)
	return f.err
}

func TestAddThenGetByExpressionAndVarname(t *testing.T) {
	m := NewManager(nil)
	scope := Scope{ThreadID: 1, FrameID: 2, StackDepth: 0}

	m.Add(scope, "x", true, false, "var1", "int", "42", 0)

	byExpr, ok := m.Get(scope, "x")
	require.True(t, ok)
	byVarname, ok := m.Get(scope, "var1")
	require.True(t, ok)
	assert.Same(t, byExpr, byVarname)
}

func TestGlobalScopeSentinel(t *testing.T) {
	assert.Equal(t, Scope{-1, -1, -1}, GlobalScope)
}

func TestUpdateUpgradesExpressionToVariable(t *testing.T) {
	m := NewManager(nil)
	scope := Scope{ThreadID: 1}
	v := m.Add(scope, "count", false, false, "var2", "int", "0", 0)
	assert.False(t, v.IsVariable)

	m.Update(scope, v)

	got, ok := m.Get(scope, "count")
	require.True(t, ok)
	assert.True(t, got.IsVariable)
}

func TestRemovePurgesMapAndSendsVarDelete(t *testing.T) {
	fd := &fakeDeleter{}
	m := NewManager(fd)
	scope := Scope{ThreadID: 1}
	m.Add(scope, "x", true, false, "var1", "int", "1", 0)

	require.NoError(t, m.Remove(context.Background(), scope, "x"))

	_, ok := m.Get(scope, "x")
	assert.False(t, ok)
	_, ok = m.Get(scope, "var1")
	assert.False(t, ok)
	assert.Equal(t, []string{"var1"}, fd.deleted)
}

func TestRemoveMapEntryPurgedEvenIfDeleteFails(t *testing.T) {
	fd := &fakeDeleter{err: assertErr{}}
	m := NewManager(fd)
	scope := Scope{ThreadID: 1}
	m.Add(scope, "x", true, false, "var1", "int", "1", 0)

	err := m.Remove(context.Background(), scope, "x")
	require.Error(t, err)

	_, ok := m.Get(scope, "x")
	assert.False(t, ok, "map entry must not be left stale even when -var-delete fails")
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestVarsForScopedEnumeration(t *testing.T) {
	m := NewManager(nil)
	s1 := Scope{ThreadID: 1, FrameID: 0}
	s2 := Scope{ThreadID: 2, FrameID: 0}
	m.Add(s1, "a", true, false, "var1", "int", "1", 0)
	m.Add(s1, "b", true, false, "var2", "int", "2", 0)
	m.Add(s2, "c", true, false, "var3", "int", "3", 0)

	vars := m.VarsFor(s1)
	assert.Len(t, vars, 2)
}

func TestRemoveScopeDeletesEachVarnameOnce(t *testing.T) {
	fd := &fakeDeleter{}
	m := NewManager(fd)
	s1 := Scope{ThreadID: 1, FrameID: 0}
	m.Add(s1, "a", true, false, "var1", "int", "1", 0)

	m.RemoveScope(context.Background(), s1)

	assert.Empty(t, m.VarsFor(s1))
	assert.Equal(t, []string{"var1"}, fd.deleted)
}

// TestRemoveThreadPurgesEveryFrameAndDepth exercises the staleness fix:
// a thread stopping again at a different stack depth must not resurrect
// a varobj cached under its old (thread, frame, depth) key.
func TestRemoveThreadPurgesEveryFrameAndDepth(t *testing.T) {
	fd := &fakeDeleter{}
	m := NewManager(fd)
	frame0 := Scope{ThreadID: 1, FrameID: 0, StackDepth: 3}
	frame1 := Scope{ThreadID: 1, FrameID: 1, StackDepth: 3}
	other := Scope{ThreadID: 2, FrameID: 0, StackDepth: 1}

	m.Add(frame0, "x", true, false, "var1", "int", "1", 0)
	m.Add(frame1, "y", true, false, "var2", "int", "2", 0)
	m.Add(other, "z", true, false, "var3", "int", "3", 0)

	m.RemoveThread(context.Background(), 1)

	assert.Empty(t, m.VarsFor(frame0))
	assert.Empty(t, m.VarsFor(frame1))
	assert.Len(t, m.VarsFor(other), 1, "a different thread's scope must survive")
	assert.ElementsMatch(t, []string{"var1", "var2"}, fd.deleted)
}

func TestRemoveThreadNoopWithoutDeleter(t *testing.T) {
	m := NewManager(nil)
	scope := Scope{ThreadID: 1}
	m.Add(scope, "x", true, false, "var1", "int", "1", 0)

	require.NotPanics(t, func() { m.RemoveThread(context.Background(), 1) })
	assert.Empty(t, m.VarsFor(scope))
}
