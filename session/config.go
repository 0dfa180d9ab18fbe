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

// ImageAndSymbols is the remote-target image/symbol loading pair (spec
// §6 launch/attach configuration surface).
type ImageAndSymbols struct {
	ImageFileName  string `json:"imageFileName,omitempty"`
	ImageOffset    string `json:"imageOffset,omitempty"`
	SymbolFileName string `json:"symbolFileName,omitempty"`
	SymbolOffset   string `json:"symbolOffset,omitempty"`
}

// TargetConfig is the remote-target variant's connection parameters.
type TargetConfig struct {
	Type                   string   `json:"type,omitempty"`
	Host                   string   `json:"host,omitempty"`
	Port                   string   `json:"port,omitempty"`
	Parameters             []string `json:"parameters,omitempty"`
	Server                 string   `json:"server,omitempty"`
	ServerParameters       []string `json:"serverParameters,omitempty"`
	ServerPortRegExp       string   `json:"serverPortRegExp,omitempty"`
	ServerStartupDelay     int      `json:"serverStartupDelay,omitempty"`
	AutomaticallyKillServer bool    `json:"automaticallyKillServer,omitempty"`
	Uart                   map[string]interface{} `json:"uart,omitempty"`
}

// LaunchConfig is the full recognized launch/attach argument surface
// (spec §6). Fields absent from the IDE's JSON keep their zero value;
// Defaults fills in the documented defaults after unmarshalling.
type LaunchConfig struct {
	Program   string            `json:"program,omitempty"`
	Arguments []string          `json:"arguments,omitempty"`

	Gdb          string   `json:"gdb,omitempty"`
	GdbArguments []string `json:"gdbArguments,omitempty"`

	Cwd         string            `json:"cwd,omitempty"`
	Environment map[string]*string `json:"environment,omitempty"`

	Verbose bool   `json:"verbose,omitempty"`
	LogFile string `json:"logFile,omitempty"`

	HardwareBreakpoint bool `json:"hardwareBreakpoint,omitempty"`

	GdbAsync   *bool `json:"gdbAsync,omitempty"`
	GdbNonStop bool  `json:"gdbNonStop,omitempty"`

	InitCommands         []string `json:"initCommands,omitempty"`
	PreRunCommands       []string `json:"preRunCommands,omitempty"`
	CustomResetCommands  []string `json:"customResetCommands,omitempty"`

	SteppingResponseTimeout int `json:"steppingResponseTimeout,omitempty"`

	OpenGdbConsole bool `json:"openGdbConsole,omitempty"`

	ImageAndSymbols *ImageAndSymbols `json:"imageAndSymbols,omitempty"`
	Target          *TargetConfig    `json:"target,omitempty"`

	AttachPid int `json:"pid,omitempty"`
}

// Defaults fills in the documented defaults for fields the IDE left
// unset (spec §6).
func (c *LaunchConfig) Defaults() {
	if c.Gdb == "" {
		c.Gdb = "gdb"
	}
	if c.GdbAsync == nil {
		t := true
		c.GdbAsync = &t
	}
	if c.GdbNonStop {
		t := true
		c.GdbAsync = &t
	}
	if c.SteppingResponseTimeout <= 0 {
		c.SteppingResponseTimeout = 500
	}
}

// DeepMerge recursively merges override on top of base and returns the
// result, fixing the shallow "later config silently drops nested keys
// the frozen config didn't repeat" bug spec.md §9 flags for
// --config/--config-frozen layering (Open Question 3, decided in
// DESIGN.md: merge must be deep, not a single-level object spread).
func DeepMerge(base, override map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, ov := range override {
		bv, exists := out[k]
		if !exists {
			out[k] = ov
			continue
		}
		bm, bIsMap := bv.(map[string]interface{})
		om, oIsMap := ov.(map[string]interface{})
		if bIsMap && oIsMap {
			out[k] = DeepMerge(bm, om)
			continue
		}
		out[k] = ov
	}
	return out
}
