// Copyright 2026 The elfexec Authors.
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

// Package util groups helpers shared by elfexec commands.
package util

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"

	"github.com/elfexec/elfexec/pkg/log"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by tooling wrapping elfexec, so they are written as JSON.
var ErrorLogger io.Writer

// Errorf logs error to the error log, to stderr, and debug logs. It returns
// subcommands.ExitFailure for convenience with subcommand.Execute() methods:
//
//	return Errorf("Danger! Danger!")
func Errorf(format string, args ...any) subcommands.ExitStatus {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("FATAL ERROR: %s", msg)
	if ErrorLogger != nil {
		writeError(ErrorLogger, msg)
	}
	fmt.Fprintln(os.Stderr, msg)
	return subcommands.ExitFailure
}

// Fatalf logs the same way as Errorf() does, plus *exits* the process with
// status 128, which is unlikely to collide with the status of a loaded
// image.
func Fatalf(format string, args ...any) {
	Errorf(format, args...)
	os.Exit(128)
}

func writeError(w io.Writer, msg string) {
	data, err := json.Marshal(struct {
		Msg   string    `json:"msg"`
		Level string    `json:"level"`
		Time  time.Time `json:"time"`
	}{
		Msg:   msg,
		Level: "error",
		Time:  time.Now(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error marshalling error message: %v\n", err)
		return
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "error writing error message: %v\n", err)
	}
}
