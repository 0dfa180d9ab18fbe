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
	"encoding/base64"
	"encoding/hex"
	"fmt"

	dap "github.com/google/go-dap"

	"github.com/sidkshatriya/cdt-gdb-adapter/errmodel"
)

// onReadMemory implements spec §4.E's readMemory contract: MI returns
// hex via -data-read-memory-bytes; DAP wants base64.
func (s *Session) onReadMemory(ctx context.Context, req *dap.ReadMemoryRequest) error {
	addrExpr := fmt.Sprintf("%s+%d", req.Arguments.MemoryReference, req.Arguments.Offset)
	res, err := s.backend.Send(ctx, "-data-read-memory-bytes", addrExpr, itoa(req.Arguments.Count))
	if err != nil {
		return err
	}
	memory, _ := res.Data["memory"].([]interface{})
	if len(memory) == 0 {
		s.send(&dap.ReadMemoryResponse{
			Response: s.newResponse(req.Seq, req.Command),
			Body:     dap.ReadMemoryResponseBody{Address: req.Arguments.MemoryReference, UnreadableBytes: req.Arguments.Count},
		})
		return nil
	}
	block, _ := memory[0].(map[string]interface{})
	hexData := mustString(block, "contents")
	raw, err := hex.DecodeString(hexData)
	if err != nil {
		return &errmodel.ValidationError{Field: "memory", Reason: "odd-length or non-hex payload from gdb: " + err.Error()}
	}
	s.send(&dap.ReadMemoryResponse{
		Response: s.newResponse(req.Seq, req.Command),
		Body: dap.ReadMemoryResponseBody{
			Address: mustString(block, "begin"),
			Data:    base64.StdEncoding.EncodeToString(raw),
		},
	})
	return nil
}

// onWriteMemory reverses the conversion: base64 from DAP, hex to MI.
// A payload whose decoded bytes do not round-trip through the encoding
// it claims to use is rejected rather than silently truncated, unless
// allowPartial is set, in which case the decoded bytes are written.
func (s *Session) onWriteMemory(ctx context.Context, req *dap.WriteMemoryRequest) error {
	raw, err := base64.StdEncoding.DecodeString(req.Arguments.Data)
	if err != nil {
		return &errmodel.ValidationError{Field: "data", Reason: "not valid base64: " + err.Error()}
	}
	if base64.StdEncoding.EncodeToString(raw) != req.Arguments.Data && !req.Arguments.AllowPartial {
		return &errmodel.ValidationError{Field: "data", Reason: "base64 payload does not round-trip"}
	}

	addrExpr := fmt.Sprintf("%s+%d", req.Arguments.MemoryReference, req.Arguments.Offset)
	hexData := hex.EncodeToString(raw)
	if _, err := s.backend.Send(ctx, "-data-write-memory-bytes", addrExpr, hexData); err != nil {
		return err
	}
	s.send(&dap.WriteMemoryResponse{
		Response: s.newResponse(req.Seq, req.Command),
		Body:     dap.WriteMemoryResponseBody{Offset: 0, BytesWritten: len(raw)},
	})
	return nil
}

// onDisassemble delegates to -data-disassemble, building a positive
// and/or negative range around the reference address plus the
// requested byte offset (spec §4.E). A negative instruction offset
// adds a backward range of 16 bytes per instruction; a positive
// instruction offset is not applied.
func (s *Session) onDisassemble(ctx context.Context, req *dap.DisassembleRequest) error {
	start := req.Arguments.InstructionOffset
	count := req.Arguments.InstructionCount
	addrExpr := fmt.Sprintf("%s+%d", req.Arguments.MemoryReference, req.Arguments.Offset)

	var instructions []dap.DisassembledInstruction
	if start < 0 {
		back, err := s.disassembleRange(ctx, fmt.Sprintf("%s-%d", addrExpr, -start*16), addrExpr, 0)
		if err == nil {
			instructions = append(instructions, back...)
		}
	}
	fwd, err := s.disassembleCount(ctx, addrExpr, count)
	if err != nil {
		return err
	}
	instructions = append(instructions, fwd...)

	s.send(&dap.DisassembleResponse{
		Response: s.newResponse(req.Seq, req.Command),
		Body:     dap.DisassembleResponseBody{Instructions: instructions},
	})
	return nil
}

func (s *Session) disassembleRange(ctx context.Context, start, end string, mode int) ([]dap.DisassembledInstruction, error) {
	res, err := s.backend.Send(ctx, "-data-disassemble", "-s", start, "-e", end, "--", itoa(mode))
	if err != nil {
		return nil, err
	}
	return parseDisassembly(res.Data), nil
}

func (s *Session) disassembleCount(ctx context.Context, start string, count int) ([]dap.DisassembledInstruction, error) {
	res, err := s.backend.Send(ctx, "-data-disassemble", "-s", start, "-e", fmt.Sprintf("%s+%d", start, count*16), "--", "0")
	if err != nil {
		return nil, err
	}
	out := parseDisassembly(res.Data)
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out, nil
}

func parseDisassembly(data map[string]interface{}) []dap.DisassembledInstruction {
	list, _ := data["asm_insns"].([]interface{})
	out := make([]dap.DisassembledInstruction, 0, len(list))
	for _, e := range list {
		m, _ := e.(map[string]interface{})
		out = append(out, dap.DisassembledInstruction{
			Address:     mustString(m, "address"),
			Instruction: mustString(m, "inst"),
			Symbol:      mustString(m, "func-name"),
		})
	}
	return out
}
