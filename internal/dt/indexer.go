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
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/bredos/bredos-config/internal/pool"
	"github.com/golang/glog"
)

// Indexer builds a Cache of all blobs found under a boot root.
type Indexer struct {
	c       *Compiler
	workers int
}

// NewIndexer returns an Indexer decompiling with c on at most workers
// goroutines. A non-positive workers value means one per CPU.
func NewIndexer(c *Compiler, workers int) *Indexer {
	return &Indexer{c: c, workers: workers}
}

// Index walks bootRoot and describes every base and overlay blob below it.
// Blobs which fail to decompile are left out of the result.
func (i *Indexer) Index(ctx context.Context, bootRoot string) (*Cache, error) {
	root, err := filepath.Abs(bootRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve boot root %q: %w", bootRoot, err)
	}
	var bases, overlays []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(p) {
		case BaseExt:
			bases = append(bases, p)
		case OverlayExt:
			overlays = append(overlays, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %q: %w", root, err)
	}
	glog.V(1).Infof("Found %d base and %d overlay blobs under %q", len(bases), len(overlays), root)

	base, err := pool.Run(ctx, i.workers, bases, i.describe)
	if err != nil {
		return nil, err
	}
	ovl, err := pool.Run(ctx, i.workers, overlays, i.describe)
	if err != nil {
		return nil, err
	}
	return &Cache{Base: base, Overlays: ovl}, nil
}

func (i *Indexer) describe(ctx context.Context, path string) (TreeDescriptor, error) {
	text, err := i.c.Decompile(ctx, path)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			glog.V(1).Infof("Skipping %q: %v", path, err)
			return TreeDescriptor{}, pool.ErrSkip
		}
		return TreeDescriptor{}, err
	}
	return describe(path, text), nil
}
