// Copyright 2021 PairMesh, Inc.
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

// Package logutil wires the global zap logger the rest of the module logs
// through.
package logutil

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvVerbose enables debug-level logging for one or more subsystems when
// set, e.g. MESHCORE_LOG_VERBOSE=engine,dedup or MESHCORE_LOG_VERBOSE=all.
const EnvVerbose = "MESHCORE_LOG_VERBOSE"

// Subsystem identifies a component whose debug logs can be toggled
// independently, mirroring the chatty-but-optional wire-level logging the
// original firmware did with Serial.printf.
type Subsystem byte

const (
	SubsystemEngine  Subsystem = 0
	SubsystemDedup   Subsystem = 1
	SubsystemLink    Subsystem = 2
	SubsystemDebugAPI Subsystem = 3
)

var bits int

func init() {
	v, ok := os.LookupEnv(EnvVerbose)
	if !ok {
		return
	}
	v = strings.ToLower(v)
	if v == "all" {
		EnableAll()
		return
	}
	for _, p := range strings.Split(v, ",") {
		switch strings.TrimSpace(p) {
		case "engine":
			Enable(SubsystemEngine)
		case "dedup":
			Enable(SubsystemDedup)
		case "link":
			Enable(SubsystemLink)
		case "debugapi":
			Enable(SubsystemDebugAPI)
		}
	}
}

// Enable turns on verbose logging for a subsystem.
func Enable(s Subsystem) { bits |= 1 << s }

// EnableAll turns on verbose logging for every subsystem.
func EnableAll() {
	for _, s := range []Subsystem{SubsystemEngine, SubsystemDedup, SubsystemLink, SubsystemDebugAPI} {
		Enable(s)
	}
}

// IsEnabled reports whether verbose logging is on for the given subsystem.
func IsEnabled(s Subsystem) bool { return bits&(1<<s) > 0 }

// Level returns the configured global log level: Debug if any subsystem has
// verbose logging enabled, Info otherwise.
func Level() zapcore.Level {
	if bits > 0 {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// InitLogger installs the global zap logger used by every package in this
// module.
func InitLogger() {
	config := zap.NewDevelopmentEncoderConfig()
	encoder := zapcore.NewConsoleEncoder(config)
	logger := zap.New(zapcore.NewCore(encoder, os.Stdout, Level()))
	zap.ReplaceGlobals(logger)
}
