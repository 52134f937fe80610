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

// Package sysexec performs the privileged side effects of bredos-config:
// replacing files and running regeneration commands.
//
// The tool itself usually runs unprivileged, so the default implementations
// route through an elevation helper such as pkexec unless running as root.
package sysexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/moby/sys/atomicwriter"
)

// DefaultElevate is the helper used to gain privileges when not root.
const DefaultElevate = "pkexec"

// Writer replaces and removes files on behalf of the caller.
//
// WriteFile must be atomic from the caller's point of view: either the old
// content is fully replaced or an error is returned.
type Writer interface {
	WriteFile(ctx context.Context, path string, data []byte) error
	Remove(ctx context.Context, path string) error
}

// Trigger runs a side-effecting command such as grub-mkconfig.
type Trigger interface {
	Run(ctx context.Context, argv []string) error
}

// WriteError reports a failed file mutation.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to update %q: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// TriggerError reports a failed command.
type TriggerError struct {
	Cmd []string
	Err error
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("command %q failed: %v", strings.Join(e.Cmd, " "), e.Err)
}

func (e *TriggerError) Unwrap() error {
	return e.Err
}

// IsRoot reports whether the process runs with root privileges.
func IsRoot() bool {
	return os.Geteuid() == 0
}

// LocalWriter changes files directly. It needs to run with enough privilege
// to write the targets.
type LocalWriter struct{}

// WriteFile atomically replaces path, creating its directory if needed.
func (LocalWriter) WriteFile(_ context.Context, path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err := atomicwriter.WriteFile(path, data, 0o644); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

// Remove deletes path. A missing file is not an error.
func (LocalWriter) Remove(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

// replaceScript writes stdin next to $1 and renames it into place. A failed
// write or rename leaves no $1.new behind.
const replaceScript = `mkdir -p "$(dirname "$1")" || exit 1
if cat > "$1.new" && mv -f "$1.new" "$1"; then exit 0; fi
rm -f "$1.new"
exit 1`

// ElevatedWriter changes files through an elevation helper, one helper
// invocation per change.
type ElevatedWriter struct {
	// Elevate is the helper command, DefaultElevate if empty.
	Elevate string
}

func (w ElevatedWriter) helper() string {
	if w.Elevate == "" {
		return DefaultElevate
	}
	return w.Elevate
}

// WriteFile feeds data to a privileged shell which renames it over path.
func (w ElevatedWriter) WriteFile(ctx context.Context, path string, data []byte) error {
	cmd := exec.CommandContext(ctx, w.helper(), "sh", "-c", replaceScript, "bredos-config", path)
	cmd.Stdin = bytes.NewReader(data)
	if out, err := cmd.CombinedOutput(); err != nil {
		return &WriteError{Path: path, Err: withOutput(err, out)}
	}
	return nil
}

// Remove deletes path through the helper.
func (w ElevatedWriter) Remove(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, w.helper(), "rm", "-f", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return &WriteError{Path: path, Err: withOutput(err, out)}
	}
	return nil
}

// NewWriter returns a LocalWriter when running as root and an ElevatedWriter
// using elevate otherwise.
func NewWriter(elevate string) Writer {
	if IsRoot() {
		return LocalWriter{}
	}
	return ElevatedWriter{Elevate: elevate}
}

// CommandTrigger runs commands as subprocesses, killing them if the context
// is cancelled.
type CommandTrigger struct {
	// Elevate, if set, prefixes every command.
	Elevate string
	// Output receives the command's combined output; os.Stdout if nil.
	Output io.Writer
}

// NewTrigger returns a CommandTrigger which elevates with elevate unless
// running as root.
func NewTrigger(elevate string, out io.Writer) *CommandTrigger {
	t := &CommandTrigger{Output: out}
	if !IsRoot() {
		t.Elevate = elevate
		if t.Elevate == "" {
			t.Elevate = DefaultElevate
		}
	}
	return t
}

// Run runs argv and waits for it to exit.
func (t *CommandTrigger) Run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return &TriggerError{Err: fmt.Errorf("empty command")}
	}
	full := argv
	if t.Elevate != "" {
		full = append([]string{t.Elevate}, argv...)
	}
	out := t.Output
	if out == nil {
		out = os.Stdout
	}
	glog.Infof("Running %q", strings.Join(full, " "))
	cmd := exec.CommandContext(ctx, full[0], full[1:]...)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &TriggerError{Cmd: argv, Err: err}
	}
	return nil
}

func withOutput(err error, out []byte) error {
	if msg := bytes.TrimSpace(out); len(msg) > 0 {
		return fmt.Errorf("%w: %s", err, msg)
	}
	return err
}
