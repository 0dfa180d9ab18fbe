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
	"fmt"
	"strconv"
	"strings"

	dap "github.com/google/go-dap"

	"github.com/sidkshatriya/cdt-gdb-adapter/breakpoint"
	"github.com/sidkshatriya/cdt-gdb-adapter/gdb"
)

// listExisting queries -break-list and returns every currently
// installed breakpoint as breakpoint.Existing, unfiltered; callers
// narrow to the kind/file they are reconciling (spec §4.C: GDB is the
// source of truth, queried fresh on each reconciliation).
func (s *Session) listExisting(ctx context.Context) ([]breakpoint.Existing, error) {
	res, err := s.backend.Send(ctx, "-break-list")
	if err != nil {
		return nil, err
	}
	table, _ := res.Data["BreakpointTable"].(map[string]interface{})
	if table == nil {
		return nil, nil
	}
	body, _ := table["body"].([]interface{})
	out := make([]breakpoint.Existing, 0, len(body))
	for _, e := range body {
		row, _ := e.(map[string]interface{})
		var bkpt map[string]interface{}
		if b, ok := row["bkpt"].(map[string]interface{}); ok {
			bkpt = b
		} else {
			bkpt = row
		}
		out = append(out, breakpoint.Existing{
			Number:           mustString(bkpt, "number"),
			OriginalLocation: mustString(bkpt, "original-location"),
			Condition:        mustString(bkpt, "cond"),
			Type:             mustString(bkpt, "type"),
			Disposition:      mustString(bkpt, "disp"),
		})
	}
	return out, nil
}

func filterByKind(existing []breakpoint.Existing, kind breakpoint.Kind) []breakpoint.Existing {
	out := existing[:0:0]
	for _, e := range existing {
		if breakpoint.ClassifyExisting(e) == kind {
			out = append(out, e)
		}
	}
	return out
}

func filterByFile(existing []breakpoint.Existing, file string) []breakpoint.Existing {
	out := filterByKind(existing, breakpoint.KindSource)[:0:0]
	for _, e := range filterByKind(existing, breakpoint.KindSource) {
		if f, ok := breakpoint.ExistingSourceFile(e); ok && f == file {
			out = append(out, e)
		}
	}
	return out
}

func (s *Session) applyPlan(ctx context.Context, plan breakpoint.Plan) error {
	for _, num := range plan.Deletes {
		if _, err := s.backend.Send(ctx, "-break-delete", num); err != nil {
			return err
		}
		delete(s.functionBreakpoints, num)
		delete(s.logpoints, num)
	}
	return nil
}

func insertArgsFor(kind breakpoint.Kind, d breakpoint.Desired, opts breakpoint.InsertOptions) (string, []string) {
	var args []string
	if opts.Condition != "" {
		args = append(args, "-c", gdb.NewQuoted(opts.Condition, true).String())
	}
	if opts.Temporary {
		args = append(args, "-t")
	}
	if opts.IgnoreCount > 0 {
		args = append(args, "-i", itoa(opts.IgnoreCount))
	}
	if opts.Hardware {
		args = append(args, "-h")
	}
	switch kind {
	case breakpoint.KindFunction:
		args = append(args, d.FunctionName)
	case breakpoint.KindInstruction:
		loc := fmt.Sprintf("*%s+%d", d.InstructionReference, d.Offset)
		clean := strings.TrimPrefix(strings.TrimPrefix(d.InstructionReference, "0x"), "0X")
		if base, err := strconv.ParseUint(clean, 16, 64); err == nil && int64(base)+d.Offset >= 0 {
			// Same "*0x<hex>" form the reconciler matches original-location against.
			loc = fmt.Sprintf("*0x%x", uint64(int64(base)+d.Offset))
		}
		args = append(args, loc)
	default:
		args = append(args, fmt.Sprintf("%s:%d", gdb.NewQuoted(d.File, false).String(), d.Line))
	}
	return "-break-insert", args
}

func (s *Session) onSetBreakpoints(ctx context.Context, req *dap.SetBreakpointsRequest) error {
	var desired []breakpoint.Desired
	for _, b := range req.Arguments.Breakpoints {
		desired = append(desired, breakpoint.Desired{
			File:         req.Arguments.Source.Path,
			Line:         b.Line,
			Condition:    b.Condition,
			HitCondition: b.HitCondition,
			LogMessage:   b.LogMessage,
			Mode:         s.defaultBpMode(),
		})
	}

	first := s.firstSetBpRequest[breakpoint.KindSource]
	s.firstSetBpRequest[breakpoint.KindSource] = false
	if breakpoint.ShouldShortCircuit(first, desired) {
		s.send(&dap.SetBreakpointsResponse{
			Response: s.newResponse(req.Seq, req.Command),
			Body:     dap.SetBreakpointsResponseBody{},
		})
		return nil
	}

	if err := s.pauseIfNeeded(ctx); err != nil {
		return err
	}
	defer s.continueIfNeeded(ctx)

	existing, err := s.listExisting(ctx)
	if err != nil {
		return err
	}
	existing = filterByFile(existing, req.Arguments.Source.Path)

	plan := breakpoint.Reconcile(breakpoint.KindSource, desired, existing, s.config.HardwareBreakpoint)
	if err := s.applyPlan(ctx, plan); err != nil {
		return err
	}

	result := make([]dap.Breakpoint, len(plan.Resolved))
	for i, r := range plan.Resolved {
		bp, err := s.resolveOrInsert(ctx, breakpoint.KindSource, r, desired[i])
		if err != nil {
			result[i] = dap.Breakpoint{Verified: false, Message: err.Error()}
			continue
		}
		result[i] = bp
		if desired[i].LogMessage != "" {
			s.logpoints[itoa(bp.Id)] = desired[i].LogMessage
		}
	}

	s.send(&dap.SetBreakpointsResponse{
		Response: s.newResponse(req.Seq, req.Command),
		Body:     dap.SetBreakpointsResponseBody{Breakpoints: result},
	})
	return nil
}

func (s *Session) defaultBpMode() breakpoint.Mode {
	if s.config.HardwareBreakpoint {
		return breakpoint.ModeDefault
	}
	return breakpoint.ModeDefault
}

// resolveOrInsert turns one Resolved pairing into a DAP Breakpoint,
// issuing -break-insert when there was no existing match.
func (s *Session) resolveOrInsert(ctx context.Context, kind breakpoint.Kind, r breakpoint.Resolved, d breakpoint.Desired) (dap.Breakpoint, error) {
	if r.Existing != nil {
		return dap.Breakpoint{Id: atoiOr(r.Existing.Number, 0), Verified: true}, nil
	}

	opts := breakpoint.BuildInsertOptions(d, s.config.HardwareBreakpoint)
	if opts.SkipInstall {
		return dap.Breakpoint{Verified: false, Message: opts.Diagnostic}, nil
	}

	cmd, args := insertArgsFor(kind, d, opts)
	res, err := s.backend.Send(ctx, cmd, args...)
	if err != nil {
		return dap.Breakpoint{}, err
	}
	bkpt, _ := res.Data["bkpt"].(map[string]interface{})
	number := atoiOr(mustString(bkpt, "number"), 0)
	if kind == breakpoint.KindFunction {
		s.functionBreakpoints[itoa(number)] = true
	}
	return dap.Breakpoint{Id: number, Verified: true}, nil
}

func (s *Session) onSetFunctionBreakpoints(ctx context.Context, req *dap.SetFunctionBreakpointsRequest) error {
	var desired []breakpoint.Desired
	for _, b := range req.Arguments.Breakpoints {
		desired = append(desired, breakpoint.Desired{
			FunctionName: b.Name,
			Condition:    b.Condition,
			HitCondition: b.HitCondition,
		})
	}
	first := s.firstSetBpRequest[breakpoint.KindFunction]
	s.firstSetBpRequest[breakpoint.KindFunction] = false
	if breakpoint.ShouldShortCircuit(first, desired) {
		s.send(&dap.SetFunctionBreakpointsResponse{Response: s.newResponse(req.Seq, req.Command)})
		return nil
	}

	if err := s.pauseIfNeeded(ctx); err != nil {
		return err
	}
	defer s.continueIfNeeded(ctx)

	existing, err := s.listExisting(ctx)
	if err != nil {
		return err
	}
	existing = filterByKind(existing, breakpoint.KindFunction)
	plan := breakpoint.Reconcile(breakpoint.KindFunction, desired, existing, false)
	if err := s.applyPlan(ctx, plan); err != nil {
		return err
	}

	result := make([]dap.Breakpoint, len(plan.Resolved))
	for i, r := range plan.Resolved {
		bp, err := s.resolveOrInsert(ctx, breakpoint.KindFunction, r, desired[i])
		if err != nil {
			result[i] = dap.Breakpoint{Verified: false, Message: err.Error()}
			continue
		}
		result[i] = bp
	}
	s.send(&dap.SetFunctionBreakpointsResponse{
		Response: s.newResponse(req.Seq, req.Command),
		Body:     dap.SetFunctionBreakpointsResponseBody{Breakpoints: result},
	})
	return nil
}

func (s *Session) onSetInstructionBreakpoints(ctx context.Context, req *dap.SetInstructionBreakpointsRequest) error {
	var desired []breakpoint.Desired
	for _, b := range req.Arguments.Breakpoints {
		desired = append(desired, breakpoint.Desired{
			InstructionReference: b.InstructionReference,
			Offset:               int64(b.Offset),
			Condition:            b.Condition,
			HitCondition:         b.HitCondition,
		})
	}
	first := s.firstSetBpRequest[breakpoint.KindInstruction]
	s.firstSetBpRequest[breakpoint.KindInstruction] = false
	if breakpoint.ShouldShortCircuit(first, desired) {
		s.send(&dap.SetInstructionBreakpointsResponse{Response: s.newResponse(req.Seq, req.Command)})
		return nil
	}

	if err := s.pauseIfNeeded(ctx); err != nil {
		return err
	}
	defer s.continueIfNeeded(ctx)

	existing, err := s.listExisting(ctx)
	if err != nil {
		return err
	}
	existing = filterByKind(existing, breakpoint.KindInstruction)
	plan := breakpoint.Reconcile(breakpoint.KindInstruction, desired, existing, false)
	if err := s.applyPlan(ctx, plan); err != nil {
		return err
	}

	result := make([]dap.Breakpoint, len(plan.Resolved))
	for i, r := range plan.Resolved {
		bp, err := s.resolveOrInsert(ctx, breakpoint.KindInstruction, r, desired[i])
		if err != nil {
			result[i] = dap.Breakpoint{Verified: false, Message: err.Error()}
			continue
		}
		result[i] = bp
	}
	s.send(&dap.SetInstructionBreakpointsResponse{
		Response: s.newResponse(req.Seq, req.Command),
		Body:     dap.SetInstructionBreakpointsResponseBody{Breakpoints: result},
	})
	return nil
}

func (s *Session) onSetDataBreakpoints(ctx context.Context, req *dap.SetDataBreakpointsRequest) error {
	if err := s.pauseIfNeeded(ctx); err != nil {
		return err
	}
	defer s.continueIfNeeded(ctx)

	result := make([]dap.Breakpoint, len(req.Arguments.Breakpoints))
	for i, b := range req.Arguments.Breakpoints {
		args := []string{"-a", b.DataId}
		if b.Condition != "" {
			args = append(args, "-c", gdb.NewQuoted(b.Condition, true).String())
		}
		res, err := s.backend.Send(ctx, "-break-watch", args...)
		if err != nil {
			result[i] = dap.Breakpoint{Verified: false, Message: err.Error()}
			continue
		}
		wpt, _ := res.Data["wpt"].(map[string]interface{})
		result[i] = dap.Breakpoint{Id: atoiOr(mustString(wpt, "number"), 0), Verified: true}
	}
	s.send(&dap.SetDataBreakpointsResponse{
		Response: s.newResponse(req.Seq, req.Command),
		Body:     dap.SetDataBreakpointsResponseBody{Breakpoints: result},
	})
	return nil
}

// onDataBreakpointInfo reports whether an expression can be watched,
// by asking GDB for its address (spec.md §9's supplemented
// dataBreakpointInfo): a DataId is returned only if the address
// resolves.
func (s *Session) onDataBreakpointInfo(ctx context.Context, req *dap.DataBreakpointInfoRequest) error {
	expr := req.Arguments.Name
	if vr, ok := s.variableRefFromId(req.Arguments.VariablesReference); ok && vr.Kind == VarRefObject {
		if v, found := s.varobjs.Get(s.scopeFromFrame(vr.Frame), vr.Varname); found {
			expr = v.Expression
		}
	}

	res, err := s.backend.Send(ctx, "-data-evaluate-expression", gdb.NewQuoted("&("+expr+")", true).String())
	body := dap.DataBreakpointInfoResponseBody{}
	if err != nil {
		msg := err.Error()
		body.Description = msg
	} else {
		addr := mustString(res.Data, "value")
		id := expr
		body.DataId = &id
		body.Description = addr
		body.AccessTypes = []dap.DataBreakpointAccessType{"read", "write", "readWrite"}
		body.CanPersist = false
	}
	s.send(&dap.DataBreakpointInfoResponse{
		Response: s.newResponse(req.Seq, req.Command),
		Body:     body,
	})
	return nil
}
