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
	"strings"

	dap "github.com/google/go-dap"

	"github.com/sidkshatriya/cdt-gdb-adapter/errmodel"
	"github.com/sidkshatriya/cdt-gdb-adapter/gdb"
	"github.com/sidkshatriya/cdt-gdb-adapter/varobj"
)

func (s *Session) variableRefFromId(id int) (VarRef, bool) {
	return s.handles.variable(id)
}

func (s *Session) scopeFromFrame(fr FrameRef) varobj.Scope {
	return varobj.Scope{ThreadID: fr.ThreadID, FrameID: fr.Level, StackDepth: fr.Level}
}

func (s *Session) onVariables(ctx context.Context, req *dap.VariablesRequest) error {
	vr, ok := s.variableRefFromId(req.Arguments.VariablesReference)
	if !ok {
		return &errmodel.ValidationError{Field: "variablesReference", Reason: "unknown or expired handle"}
	}

	var out []dap.Variable
	var err error
	switch vr.Kind {
	case VarRefFrame:
		out, err = s.localVariables(ctx, vr.Frame)
	case VarRefRegisters:
		out, err = s.registerVariables(ctx, vr.Frame)
	case VarRefObject:
		out, err = s.childVariables(ctx, vr.Frame, vr.Varname)
	}
	if err != nil {
		return err
	}

	s.send(&dap.VariablesResponse{
		Response: s.newResponse(req.Seq, req.Command),
		Body:     dap.VariablesResponseBody{Variables: out},
	})
	return nil
}

func (s *Session) localVariables(ctx context.Context, fr FrameRef) ([]dap.Variable, error) {
	res, err := s.backend.Send(ctx, "-stack-list-variables", "--thread", itoa(fr.ThreadID), "--frame", itoa(fr.Level), "--simple-values")
	if err != nil {
		return nil, err
	}
	scope := s.scopeFromFrame(fr)
	list, _ := res.Data["variables"].([]interface{})
	out := make([]dap.Variable, 0, len(list))
	for _, e := range list {
		m, _ := e.(map[string]interface{})
		name := mustString(m, "name")
		existing, ok := s.varobjs.Get(scope, name)
		if !ok {
			existing, err = s.createVarObj(ctx, scope, name, fr, true)
			if err != nil {
				out = append(out, dap.Variable{Name: name, Value: mustString(m, "value")})
				continue
			}
		} else {
			s.refreshVarObj(ctx, scope, existing)
		}
		out = append(out, s.variableFromVarObj(scope, existing))
	}
	return out, nil
}

func (s *Session) registerVariables(ctx context.Context, fr FrameRef) ([]dap.Variable, error) {
	namesRes, err := s.backend.Send(ctx, "-data-list-register-names")
	if err != nil {
		return nil, err
	}
	names, _ := namesRes.Data["register-names"].([]interface{})

	valsRes, err := s.backend.Send(ctx, "-data-list-register-values", "--thread", itoa(fr.ThreadID), "--frame", itoa(fr.Level), "x")
	if err != nil {
		return nil, err
	}
	vals, _ := valsRes.Data["register-values"].([]interface{})

	out := make([]dap.Variable, 0, len(vals))
	for _, v := range vals {
		m, _ := v.(map[string]interface{})
		idx := atoiOr(mustString(m, "number"), -1)
		name := "reg" + itoa(idx)
		if idx >= 0 && idx < len(names) {
			if n, ok := names[idx].(string); ok && n != "" {
				name = n
			}
		}
		out = append(out, dap.Variable{Name: name, Value: mustString(m, "value")})
	}
	return out, nil
}

func (s *Session) childVariables(ctx context.Context, fr FrameRef, varname string) ([]dap.Variable, error) {
	scope := s.scopeFromFrame(fr)
	res, err := s.backend.Send(ctx, "-var-list-children", "--all-values", varname)
	if err != nil {
		return nil, err
	}
	children, _ := res.Data["children"].([]interface{})
	out := make([]dap.Variable, 0, len(children))
	for _, c := range children {
		entry, _ := c.(map[string]interface{})
		child, _ := entry["child"].(map[string]interface{})
		if child == nil {
			child = entry
		}
		expr := mustString(child, "exp")
		typ := mustString(child, "type")
		// C++ access-specifier pseudo-levels transparently descend one
		// more level (spec §4.E's "variables" contract).
		if typ == "" && (expr == "public" || expr == "protected" || expr == "private") {
			nested, err := s.childVariables(ctx, fr, mustString(child, "name"))
			if err == nil {
				out = append(out, nested...)
			}
			continue
		}
		cv := &varobj.VarObj{
			Varname:    mustString(child, "name"),
			Expression: expr,
			Type:       typ,
			NumChild:   atoiOr(mustString(child, "numchild"), 0),
			Value:      mustString(child, "value"),
			IsVariable: false,
			IsChild:    true,
		}
		s.varobjs.Add(scope, cv.Varname, false, true, cv.Varname, cv.Type, cv.Value, cv.NumChild)
		out = append(out, s.variableFromVarObj(scope, cv))
	}
	return out, nil
}

func (s *Session) createVarObj(ctx context.Context, scope varobj.Scope, expression string, fr FrameRef, isVariable bool) (*varobj.VarObj, error) {
	frameSpec := "*"
	if fr.ThreadID != 0 {
		frameSpec = itoa(fr.Level)
	}
	res, err := s.backend.Send(ctx, "-var-create", "--thread", itoa(fr.ThreadID), "--frame", frameSpec, "-", "*", gdb.NewQuoted(expression, true).String())
	if err != nil {
		return nil, err
	}
	v := s.varobjs.Add(scope, expression, isVariable, false,
		mustString(res.Data, "name"),
		mustString(res.Data, "type"),
		mustString(res.Data, "value"),
		atoiOr(mustString(res.Data, "numchild"), 0))
	return v, nil
}

func (s *Session) refreshVarObj(ctx context.Context, scope varobj.Scope, v *varobj.VarObj) {
	res, err := s.backend.Send(ctx, "-var-update", "--all-values", v.Varname)
	if err != nil {
		return
	}
	changes, _ := res.Data["changelist"].([]interface{})
	for _, c := range changes {
		m, _ := c.(map[string]interface{})
		if mustString(m, "name") != v.Varname {
			continue
		}
		if mustString(m, "in_scope") == "invalid" {
			s.varobjs.Remove(ctx, scope, v.Varname)
			s.createVarObj(ctx, scope, v.Expression, FrameRef{ThreadID: scope.ThreadID, Level: scope.FrameID}, v.IsVariable)
			return
		}
		if val := mustString(m, "value"); val != "" {
			v.Value = val
		}
	}
}

func (s *Session) variableFromVarObj(scope varobj.Scope, v *varobj.VarObj) dap.Variable {
	value := v.Value
	varRef := 0
	if v.NumChild > 0 {
		// Arrays display the evaluated address instead of a flattened
		// value list (spec §4.E's "variables" contract).
		if strings.HasSuffix(v.Type, "]") {
			if pres, err := s.backend.Send(context.Background(), "-var-info-path-expression", v.Varname); err == nil {
				if path := mustString(pres.Data, "path_expr"); path != "" {
					if eres, err := s.backend.Send(context.Background(), "-data-evaluate-expression", gdb.NewQuoted("&("+path+")", true).String()); err == nil {
						value = mustString(eres.Data, "value")
					}
				}
			}
		}
		varRef = s.handles.newVar(VarRef{Kind: VarRefObject, Frame: FrameRef{ThreadID: scope.ThreadID, Level: scope.FrameID}, Varname: v.Varname})
	}
	return dap.Variable{
		Name:               v.Expression,
		Value:              value,
		Type:               v.Type,
		VariablesReference: varRef,
		NamedVariables:     v.NumChild,
	}
}

func (s *Session) onSetVariable(ctx context.Context, req *dap.SetVariableRequest) error {
	vr, ok := s.variableRefFromId(req.Arguments.VariablesReference)
	if !ok || vr.Kind != VarRefObject {
		return &errmodel.ValidationError{Field: "variablesReference", Reason: "not an object scope"}
	}
	scope := s.scopeFromFrame(vr.Frame)
	v, ok := s.varobjs.Get(scope, req.Arguments.Name)
	if !ok {
		return &errmodel.ValidationError{Field: "name", Reason: "unknown variable"}
	}
	res, err := s.backend.Send(ctx, "-var-assign", v.Varname, gdb.NewQuoted(req.Arguments.Value, true).String())
	if err != nil {
		return err
	}
	v.Value = mustString(res.Data, "value")
	s.send(&dap.SetVariableResponse{
		Response: s.newResponse(req.Seq, req.Command),
		Body:     dap.SetVariableResponseBody{Value: v.Value, Type: v.Type},
	})
	return nil
}

// onEvaluate implements spec §4.E's three-way evaluate contract: a
// `repl` context expression beginning with `>` is a raw CLI command;
// otherwise an expression is backed by a varobj, attached to a frame
// or floating when none is given.
func (s *Session) onEvaluate(ctx context.Context, req *dap.EvaluateRequest) error {
	expr := req.Arguments.Expression
	if req.Arguments.Context == "repl" && strings.HasPrefix(expr, ">") {
		return s.evaluateReplCommand(ctx, req, strings.TrimSpace(strings.TrimPrefix(expr, ">")))
	}

	fr := FrameRef{}
	if req.Arguments.FrameId != 0 {
		if f, ok := s.handles.frame(req.Arguments.FrameId); ok {
			fr = f
		}
	}
	scope := s.scopeFromFrame(fr)
	if req.Arguments.FrameId == 0 {
		scope = varobj.GlobalScope
	}

	v, ok := s.varobjs.Get(scope, expr)
	var err error
	if ok {
		s.refreshVarObj(ctx, scope, v)
	} else {
		v, err = s.createVarObj(ctx, scope, expr, fr, false)
		if err != nil {
			return err
		}
	}

	varRef := 0
	if v.NumChild > 0 {
		varRef = s.handles.newVar(VarRef{Kind: VarRefObject, Frame: fr, Varname: v.Varname})
	}
	s.send(&dap.EvaluateResponse{
		Response: s.newResponse(req.Seq, req.Command),
		Body: dap.EvaluateResponseBody{
			Result:             v.Value,
			Type:               v.Type,
			VariablesReference: varRef,
		},
	})
	return nil
}

// evaluateReplCommand special-cases delete/enable/disable so the IDE
// is warned that GUI breakpoint state will not reflect the change
// (spec §4.E).
func (s *Session) evaluateReplCommand(ctx context.Context, req *dap.EvaluateRequest, cmd string) error {
	fields := strings.Fields(cmd)
	if len(fields) > 0 {
		switch fields[0] {
		case "delete", "enable", "disable":
			s.sendOutput("important", "breakpoint state changed via the console; the IDE's breakpoint list will not update")
		}
	}

	res, err := s.backend.Send(ctx, "-interpreter-exec", "console", gdb.NewQuoted(cmd, true).String())
	if err != nil {
		return err
	}
	_ = res
	s.send(&dap.EvaluateResponse{
		Response: s.newResponse(req.Seq, req.Command),
		Body:     dap.EvaluateResponseBody{Result: ""},
	})
	return nil
}
