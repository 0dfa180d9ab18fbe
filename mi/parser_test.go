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

package mi

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recording struct {
	execAsync    []Record
	statusAsync  []Record
	notifyAsync  []Record
	stream       []Record
	prompts      int
	orphanResult []Record
}

func (r *recording) HandleExecAsync(rec Record)    { r.execAsync = append(r.execAsync, rec) }
func (r *recording) HandleStatusAsync(rec Record)  { r.statusAsync = append(r.statusAsync, rec) }
func (r *recording) HandleNotifyAsync(rec Record)  { r.notifyAsync = append(r.notifyAsync, rec) }
func (r *recording) HandleStream(rec Record)       { r.stream = append(r.stream, rec) }
func (r *recording) HandlePrompt()                 { r.prompts++ }
func (r *recording) HandleOrphanResult(rec Record)  { r.orphanResult = append(r.orphanResult, rec) }

func TestParseValuesStringTupleList(t *testing.T) {
	data, err := parseValues([]byte(`number="1",type="breakpoint",thread-groups=["i1","i2"],frame={addr="0x1",func="main"}`))
	require.NoError(t, err)
	assert.Equal(t, "1", data["number"])
	assert.Equal(t, "breakpoint", data["type"])
	assert.Equal(t, []interface{}{"i1", "i2"}, data["thread-groups"])
	frame := data["frame"].(map[string]interface{})
	assert.Equal(t, "0x1", frame["addr"])
	assert.Equal(t, "main", frame["func"])
}

func TestParseValuesOrdinalBareTupleMembers(t *testing.T) {
	data, err := parseValues([]byte(`reg-values={"0","1","2"}`))
	require.NoError(t, err)
	regs := data["reg-values"].(map[string]interface{})
	assert.Equal(t, "0", regs["0"])
	assert.Equal(t, "1", regs["1"])
	assert.Equal(t, "2", regs["2"])
}

// TestParseValuesKeyedListRepeatsElement guards against folding
// repeated "key=value" list members into a single map: -break-list's
// body=[bkpt={...},bkpt={...}] (and -stack-list-frames's frame=, and
// -var-list-children's child=) must come back as one list element per
// repetition, each wrapped in its own single-key map.
func TestParseValuesKeyedListRepeatsElement(t *testing.T) {
	data, err := parseValues([]byte(`body=[bkpt={number="1"},bkpt={number="2"}]`))
	require.NoError(t, err)
	body, ok := data["body"].([]interface{})
	require.True(t, ok, "body must parse as a list, not a merged map")
	require.Len(t, body, 2)

	first := body[0].(map[string]interface{})["bkpt"].(map[string]interface{})
	assert.Equal(t, "1", first["number"])
	second := body[1].(map[string]interface{})["bkpt"].(map[string]interface{})
	assert.Equal(t, "2", second["number"])
}

func TestParseValuesKeyedListSingleElement(t *testing.T) {
	data, err := parseValues([]byte(`stack=[frame={level="0"}]`))
	require.NoError(t, err)
	stack, ok := data["stack"].([]interface{})
	require.True(t, ok)
	require.Len(t, stack, 1)
	frame := stack[0].(map[string]interface{})["frame"].(map[string]interface{})
	assert.Equal(t, "0", frame["level"])
}

func TestCStringEscapes(t *testing.T) {
	p := &valueParser{s: []byte(`"line1\nline2\ttabbed\rcarriage\\\"quoted\""`)}
	s, err := p.parseCString()
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2\ttabbedcarriage\\\"quoted\"", s)
}

func TestCStringUnterminated(t *testing.T) {
	p := &valueParser{s: []byte(`"no closing quote`)}
	_, err := p.parseCString()
	require.Error(t, err)
}

func TestParseLineIndicators(t *testing.T) {
	cases := []struct {
		line string
		kind Kind
	}{
		{`42^done,bkpt={number="1"}`, KindResult},
		{`*stopped,reason="breakpoint-hit",thread-id="1"`, KindExecAsync},
		{`+download,section="text"`, KindStatusAsync},
		{`=thread-created,id="1"`, KindNotifyAsync},
		{`~"hello\n"`, KindConsoleStream},
		{`@"target out"`, KindTargetStream},
		{`&"log line"`, KindLogStream},
		{`(gdb)`, KindPrompt},
	}
	for _, c := range cases {
		rec := parseLine(c.line)
		assert.Equal(t, c.kind, rec.Kind, c.line)
	}
}

func TestParseLineUnknownIndicatorBecomesStream(t *testing.T) {
	rec := parseLine(`inferior stdout leaked here`)
	assert.Equal(t, KindConsoleStream, rec.Kind)
	assert.Equal(t, `inferior stdout leaked here`, rec.Text)
}

func TestParserTokenCorrelation(t *testing.T) {
	rec := &recording{}
	p := NewParser(rec)
	ch, err := p.RegisterPending(7, "-break-insert main")
	require.NoError(t, err)

	p.Feed([]byte("7^done,bkpt={number=\"1\"}\n"))

	select {
	case res := <-ch:
		assert.Equal(t, ClassDone, res.Class)
		assert.Equal(t, 7, res.Data["cdt-token"])
		assert.Equal(t, "-break-insert main", res.Data["cdt-command"])
	default:
		t.Fatal("expected result to be delivered")
	}
}

func TestParserUnknownTokenGoesToOrphanChannel(t *testing.T) {
	rec := &recording{}
	p := NewParser(rec)
	p.Feed([]byte("99^done\n"))
	require.Len(t, rec.orphanResult, 1)
	assert.Equal(t, 99, rec.orphanResult[0].Token)
}

func TestParserLateResultAfterSlotCompletedGoesToOrphanChannel(t *testing.T) {
	rec := &recording{}
	p := NewParser(rec)
	ch, err := p.RegisterPending(3, "-exec-continue")
	require.NoError(t, err)
	p.Feed([]byte("3^running\n"))
	<-ch // waiter already resolved

	// A later, duplicate result for the same (now-unregistered) token
	// must not be delivered to any new waiter — it has none — it goes
	// to the side channel only.
	p.Feed([]byte("3^error,msg=\"oops\"\n"))
	require.Len(t, rec.orphanResult, 1)
	assert.Equal(t, ClassError, rec.orphanResult[0].Class)
}

func TestParserPartialLineBuffering(t *testing.T) {
	rec := &recording{}
	p := NewParser(rec)
	p.Feed([]byte("~\"partial"))
	assert.Empty(t, rec.stream)
	p.Feed([]byte(" line\"\n"))
	require.Len(t, rec.stream, 1)
	assert.Equal(t, "partial line", rec.stream[0].Text)
}

func TestParserCRLFTolerant(t *testing.T) {
	rec := &recording{}
	p := NewParser(rec)
	p.Feed([]byte("1^done\r\n"))
	// no pending slot registered -> orphan channel, but still parsed with CR stripped
	require.Len(t, rec.orphanResult, 1)
	assert.Equal(t, ClassDone, rec.orphanResult[0].Class)
}

func TestParserCloseRejectsPending(t *testing.T) {
	rec := &recording{}
	p := NewParser(rec)
	ch, err := p.RegisterPending(1, "-exec-continue")
	require.NoError(t, err)

	p.Close(errors.New("stdin closed"))

	res := <-ch
	assert.Equal(t, ClassError, res.Class)

	_, err = p.RegisterPending(2, "-exec-continue")
	require.Error(t, err)
}

func TestParserDisableUTF8DecodesLatin1(t *testing.T) {
	rec := &recording{}
	p := NewParser(rec)
	p.DisableUTF8()
	// 0xE9 is Latin-1 'é'; as raw UTF-8 it would be an invalid sequence.
	p.Feed([]byte{'~', '"', 0xE9, '"', '\n'})
	require.Len(t, rec.stream, 1)
	assert.Equal(t, "é", rec.stream[0].Text)
}
