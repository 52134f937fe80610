// Copyright 2026 Google LLC. All Rights Reserved.
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

package sysexec

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
)

// DryRun reports what would be done instead of doing it. It implements both
// Writer and Trigger.
type DryRun struct {
	// Out receives one "DRYRUN: ..." line per action; os.Stdout if nil.
	Out io.Writer
}

func (d DryRun) say(format string, args ...interface{}) {
	out := d.Out
	if out == nil {
		out = os.Stdout
	}
	msg := fmt.Sprintf(format, args...)
	glog.V(1).Info(msg)
	fmt.Fprintln(out, msg)
}

// WriteFile implements Writer.
func (d DryRun) WriteFile(_ context.Context, path string, data []byte) error {
	d.say("DRYRUN: write %d bytes to %s", len(data), path)
	return nil
}

// Remove implements Writer.
func (d DryRun) Remove(_ context.Context, path string) error {
	d.say("DRYRUN: rm -f %s", path)
	return nil
}

// Run implements Trigger.
func (d DryRun) Run(_ context.Context, argv []string) error {
	d.say("DRYRUN: %s", strings.Join(argv, " "))
	return nil
}

// CommandLog records every action and its outcome to a file.
type CommandLog struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// LogFileName returns the name of the command log started at t.
func LogFileName(t time.Time) string {
	return fmt.Sprintf("bredos-config-%s.txt", t.Format("20060102-150405"))
}

// OpenCommandLog creates (or appends to) the command log for t in dir.
func OpenCommandLog(dir string, t time.Time) (*CommandLog, string, error) {
	p := filepath.Join(dir, LogFileName(t))
	f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open command log: %w", err)
	}
	return &CommandLog{w: f}, p, nil
}

// Write appends raw command output to the log.
func (l *CommandLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// Close closes the underlying file.
func (l *CommandLog) Close() error {
	return l.w.Close()
}

func (l *CommandLog) record(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(l, format+"\n", args...); err != nil {
		glog.Warningf("Failed to write command log: %v", err)
	}
}

func (l *CommandLog) result(err error) {
	if err != nil {
		l.record("FAILED: %v", err)
		return
	}
	l.record("OK")
}

// Writer wraps w so that its actions are recorded.
func (l *CommandLog) Writer(w Writer) Writer {
	return loggedWriter{w: w, l: l}
}

// Trigger wraps t so that its commands are recorded.
func (l *CommandLog) Trigger(t Trigger) Trigger {
	return loggedTrigger{t: t, l: l}
}

type loggedWriter struct {
	w Writer
	l *CommandLog
}

func (lw loggedWriter) WriteFile(ctx context.Context, path string, data []byte) error {
	lw.l.record("$ write %s (%d bytes)", path, len(data))
	err := lw.w.WriteFile(ctx, path, data)
	lw.l.result(err)
	return err
}

func (lw loggedWriter) Remove(ctx context.Context, path string) error {
	lw.l.record("$ rm -f %s", path)
	err := lw.w.Remove(ctx, path)
	lw.l.result(err)
	return err
}

type loggedTrigger struct {
	t Trigger
	l *CommandLog
}

func (lt loggedTrigger) Run(ctx context.Context, argv []string) error {
	lt.l.record("$ %s", strings.Join(argv, " "))
	err := lt.t.Run(ctx, argv)
	lt.l.result(err)
	return err
}
