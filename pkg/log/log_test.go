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

package log

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	want := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if diff := cmp.Diff(want, tw.lines); diff != "" {
		t.Errorf("Writer lines mismatch (-want +got):\n%s", diff)
	}
}

func TestWriterAppendsNewline(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("no newline")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}
	if diff := cmp.Diff([]string{"no newline", "\n"}, tw.lines); diff != "" {
		t.Errorf("Writer lines mismatch (-want +got):\n%s", diff)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := &BasicLogger{Level: Info, Emitter: &Writer{Next: &buf}}
	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.Warningf("shown %d", 3)
	if got, want := buf.String(), "shown 2\nshown 3\n"; got != want {
		t.Errorf("output=%q, want: %q", got, want)
	}

	l.SetLevel(Debug)
	if !l.IsLogging(Debug) {
		t.Errorf("IsLogging(Debug)=false after SetLevel(Debug)")
	}
}

func TestGoogleEmitterFormat(t *testing.T) {
	var buf bytes.Buffer
	l := &BasicLogger{Level: Debug, Emitter: GoogleEmitter{&Writer{Next: &buf}}}
	l.Warningf("hello %s", "world")

	// Wmmdd hh:mm:ss.uuuuuu pid file:line] msg
	re := regexp.MustCompile(`^W\d{4} \d{2}:\d{2}:\d{2}\.\d{6} +\d+ log_test\.go:\d+\] hello world\n$`)
	if !re.MatchString(buf.String()) {
		t.Errorf("output=%q does not match %v", buf.String(), re)
	}
}

func TestMultiEmitter(t *testing.T) {
	var a, b bytes.Buffer
	m := &MultiEmitter{&Writer{Next: &a}, &Writer{Next: &b}}
	m.Emit(0, Info, time.Now(), "both %d", 7)
	for _, buf := range []*bytes.Buffer{&a, &b} {
		if got := buf.String(); got != "both 7\n" {
			t.Errorf("output=%q, want: %q", got, "both 7\n")
		}
	}
}

type countingLogger struct {
	BasicLogger
	calls int
}

func (c *countingLogger) Infof(format string, v ...any) {
	c.calls++
}

func TestRateLimitedLogger(t *testing.T) {
	c := &countingLogger{BasicLogger: BasicLogger{Level: Debug, Emitter: &Writer{Next: &strings.Builder{}}}}
	rl := RateLimitedLogger(c, time.Hour)
	for i := 0; i < 10; i++ {
		rl.Infof("message %d", i)
	}
	if c.calls != 1 {
		t.Errorf("calls=%d, want: 1", c.calls)
	}
	if !rl.IsLogging(Debug) {
		t.Errorf("IsLogging(Debug)=false, want: true")
	}
}
