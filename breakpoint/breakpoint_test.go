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

package breakpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHitConditionMapping(t *testing.T) {
	ignore, temp, ok := ParseHitCondition("5")
	require.True(t, ok)
	assert.Equal(t, 4, ignore)
	assert.True(t, temp)

	ignore, temp, ok = ParseHitCondition("> 5")
	require.True(t, ok)
	assert.Equal(t, 5, ignore)
	assert.False(t, temp)

	_, _, ok = ParseHitCondition("abc")
	assert.False(t, ok)

	ignore, temp, ok = ParseHitCondition("")
	require.True(t, ok)
	assert.Equal(t, 0, ignore)
	assert.False(t, temp)
}

func TestBuildInsertOptionsDiagnosticOnBadHitCondition(t *testing.T) {
	opts := BuildInsertOptions(Desired{HitCondition: "abc"}, false)
	assert.True(t, opts.SkipInstall)
	assert.NotEmpty(t, opts.Diagnostic)
}

func TestReconcileIdempotentOnUnchangedSet(t *testing.T) {
	desired := []Desired{
		{File: "a.c", Line: 10},
		{File: "a.c", Line: 20},
	}
	existing := []Existing{
		{Number: "1", OriginalLocation: "a.c:10"},
		{Number: "2", OriginalLocation: "a.c:20"},
	}

	plan := Reconcile(KindSource, desired, existing, false)
	assert.Empty(t, plan.Deletes)
	for _, r := range plan.Resolved {
		assert.NotNil(t, r.Existing, "every desired breakpoint should match an existing one")
	}
}

func TestReconcileHitConditionalAlwaysReinserts(t *testing.T) {
	desired := []Desired{{File: "a.c", Line: 10, HitCondition: "3"}}
	existing := []Existing{{Number: "1", OriginalLocation: "a.c:10"}}

	plan := Reconcile(KindSource, desired, existing, false)
	require.Nil(t, plan.Resolved[0].Existing)
	assert.Equal(t, []string{"1"}, plan.Deletes)
}

// S3: setBreakpoints replaces {10,20,30} with {20,30}; the bp at line
// 10 must be deleted and the survivors must not be reinserted.
func TestReconcileS3ReplaceThreeWithTwoReordered(t *testing.T) {
	existing := []Existing{
		{Number: "1", OriginalLocation: "a.c:10"},
		{Number: "2", OriginalLocation: "a.c:20"},
		{Number: "3", OriginalLocation: "a.c:30"},
	}
	desired := []Desired{
		{File: "a.c", Line: 30},
		{File: "a.c", Line: 20},
	}

	plan := Reconcile(KindSource, desired, existing, false)
	assert.Equal(t, []string{"1"}, plan.Deletes)
	require.NotNil(t, plan.Resolved[0].Existing)
	assert.Equal(t, "3", plan.Resolved[0].Existing.Number)
	require.NotNil(t, plan.Resolved[1].Existing)
	assert.Equal(t, "2", plan.Resolved[1].Existing.Number)
}

func TestReconcileConditionChangeForcesNoMatch(t *testing.T) {
	desired := []Desired{{File: "a.c", Line: 10, Condition: "x > 1"}}
	existing := []Existing{{Number: "1", OriginalLocation: "a.c:10", Condition: ""}}

	plan := Reconcile(KindSource, desired, existing, false)
	assert.Nil(t, plan.Resolved[0].Existing)
	assert.Equal(t, []string{"1"}, plan.Deletes)
}

func TestReconcileHardwareModeMismatchForcesNoMatch(t *testing.T) {
	desired := []Desired{{File: "a.c", Line: 10, Mode: ModeHardware}}
	existing := []Existing{{Number: "1", OriginalLocation: "a.c:10", Type: "breakpoint"}}

	plan := Reconcile(KindSource, desired, existing, false)
	assert.Nil(t, plan.Resolved[0].Existing)
}

func TestReconcileFunctionBreakpointMatchesByLocationAndCondition(t *testing.T) {
	desired := []Desired{{FunctionName: "main", Condition: "argc > 1"}}
	existing := []Existing{{Number: "1", OriginalLocation: "main", Condition: "argc > 1"}}

	plan := Reconcile(KindFunction, desired, existing, false)
	require.NotNil(t, plan.Resolved[0].Existing)
}

func TestReconcileInstructionBreakpointMatchesByAddress(t *testing.T) {
	desired := []Desired{{InstructionReference: "0x1000", Offset: 0x10}}
	existing := []Existing{{Number: "1", OriginalLocation: "*0x1010"}}

	plan := Reconcile(KindInstruction, desired, existing, false)
	require.NotNil(t, plan.Resolved[0].Existing)
	assert.Equal(t, "1", plan.Resolved[0].Existing.Number)
}

func TestShouldShortCircuitOnlyOnFirstEmptyRequest(t *testing.T) {
	assert.True(t, ShouldShortCircuit(true, nil))
	assert.False(t, ShouldShortCircuit(false, nil))
	assert.False(t, ShouldShortCircuit(true, []Desired{{File: "a.c", Line: 1}}))
}

func TestSamePathCaseInsensitiveOnWindowsStylePaths(t *testing.T) {
	assert.True(t, samePath(`C:\src\a.c`, `c:\src\A.c`))
	assert.False(t, samePath(`/src/a.c`, `/src/A.c`))
}
