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

// Package dt discovers device tree blobs on disk, decompiles them, and
// identifies which of them matches the tree loaded by the running kernel.
package dt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/sync/singleflight"
)

// DefaultTool is the device tree compiler used when none is configured.
const DefaultTool = "dtc"

// ErrNoLiveTree is returned when the live device tree cannot be read.
var ErrNoLiveTree = errors.New("no live tree")

// DecodeError is returned when the decompiler fails on a single blob.
// Callers scanning many blobs should skip the blob and carry on.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decompile %q: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ExecFunc runs name with args and returns its standard output.
type ExecFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithExec replaces the function used to run the decompiler.
func WithExec(f ExecFunc) CompilerOption {
	return func(c *Compiler) {
		c.exec = f
	}
}

// Compiler turns binary device tree blobs into their textual source form.
//
// Results are memoized per path for the lifetime of the Compiler. Blobs are
// assumed not to change while a Compiler is in use.
type Compiler struct {
	tool string
	exec ExecFunc

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]string
}

// NewCompiler returns a Compiler which runs tool to decompile blobs.
func NewCompiler(tool string, opts ...CompilerOption) *Compiler {
	if tool == "" {
		tool = DefaultTool
	}
	c := &Compiler{
		tool:  tool,
		exec:  execOutput,
		cache: make(map[string]string),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Decompile returns the source text of the blob at path.
//
// A failure of the decompiler is reported as a *DecodeError, unless ctx is
// done, in which case the context error is returned.
func (c *Compiler) Decompile(ctx context.Context, path string) (string, error) {
	for {
		c.mu.RLock()
		text, ok := c.cache[path]
		c.mu.RUnlock()
		if ok {
			return text, nil
		}

		v, err, shared := c.group.Do(path, func() (interface{}, error) {
			out, err := c.run(ctx, path, "-I", "dtb", "-O", "dts", "-q", path)
			if err != nil {
				return "", err
			}
			text := string(out)
			c.mu.Lock()
			c.cache[path] = text
			c.mu.Unlock()
			return text, nil
		})
		if shared {
			glog.V(2).Infof("decompile of %q shared with a concurrent caller", path)
		}
		if err != nil {
			// The call ran under the context of whichever caller started it. Its
			// cancellation is not ours, so run again under our own.
			if shared && isContextErr(err) && ctx.Err() == nil {
				glog.V(1).Infof("Shared decompile of %q was cancelled, retrying", path)
				continue
			}
			return "", err
		}
		return v.(string), nil
	}
}

// isContextErr reports whether err is the bare context error run returns for
// a cancelled caller, as opposed to a failure of the compiler itself.
func isContextErr(err error) bool {
	return err == context.Canceled || err == context.DeadlineExceeded
}

// DecompileFS renders the device tree exposed as a directory hierarchy at dir,
// such as /proc/device-tree, into source text. The result is not cached.
func (c *Compiler) DecompileFS(ctx context.Context, dir string) (string, error) {
	out, err := c.run(ctx, dir, "-I", "fs", "-O", "dts", dir)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Len returns the number of memoized results.
func (c *Compiler) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func (c *Compiler) run(ctx context.Context, path string, args ...string) ([]byte, error) {
	out, err := c.exec(ctx, c.tool, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &DecodeError{Path: path, Err: err}
	}
	return out, nil
}

func execOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}
