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

package dt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// fakeDTC pretends that every blob on disk already contains its decompiled
// text. Blobs whose content starts with "BAD" fail to decompile, as does
// reading a filesystem tree unless live is set.
type fakeDTC struct {
	mu    sync.Mutex
	calls map[string]int
	live  string
}

func newFakeDTC() *fakeDTC {
	return &fakeDTC{calls: make(map[string]int)}
}

func (f *fakeDTC) exec(ctx context.Context, name string, args ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target := args[len(args)-1]
	f.mu.Lock()
	f.calls[target]++
	f.mu.Unlock()
	if len(args) > 1 && args[1] == "fs" {
		if f.live == "" {
			return nil, errors.New("exit status 1")
		}
		return []byte(f.live), nil
	}
	b, err := os.ReadFile(target)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(string(b), "BAD") {
		return nil, errors.New("exit status 1: FATAL ERROR: Blob has incorrect magic number")
	}
	return b, nil
}

func (f *fakeDTC) count(target string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[target]
}

// writeTree creates files below a temporary directory, returning its path.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	return root
}
