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
	"crypto/sha256"
	"fmt"
	"os"
	"strings"

	"github.com/golang/glog"
	udt "github.com/u-root/u-root/pkg/dt"
)

const (
	// DefaultLiveTree is where the kernel exposes the device tree it is using.
	DefaultLiveTree = "/proc/device-tree"
	// DefaultBootFDT is the flattened tree handed to the kernel by the
	// bootloader.
	DefaultBootFDT = "/sys/firmware/fdt"
)

// LiveSnapshot is the textual form of the running kernel's device tree.
type LiveSnapshot struct {
	Text string
	// Hash is SHA-256 over Text, so trees decompiled by the same tool compare
	// equal regardless of their binary encoding.
	Hash [sha256.Size]byte
}

// NewSnapshot hashes text into a LiveSnapshot.
func NewSnapshot(text string) *LiveSnapshot {
	return &LiveSnapshot{Text: text, Hash: sha256.Sum256([]byte(text))}
}

// BootModel identifies the board from the blob the bootloader handed over.
type BootModel struct {
	Model      string
	Compatible []string
}

// LiveReader reads the device tree in use by the running kernel.
type LiveReader struct {
	c       *Compiler
	dir     string
	bootFDT string
}

// NewLiveReader returns a LiveReader for the tree exposed at dir, with bootFDT
// as the flattened blob used for BootModel.
func NewLiveReader(c *Compiler, dir, bootFDT string) *LiveReader {
	if dir == "" {
		dir = DefaultLiveTree
	}
	if bootFDT == "" {
		bootFDT = DefaultBootFDT
	}
	return &LiveReader{c: c, dir: dir, bootFDT: bootFDT}
}

// ReadLive decompiles the live tree. All failures wrap ErrNoLiveTree.
func (r *LiveReader) ReadLive(ctx context.Context) (*LiveSnapshot, error) {
	fi, err := os.Stat(r.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoLiveTree, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a directory", ErrNoLiveTree, r.dir)
	}
	text, err := r.c.DecompileFS(ctx, r.dir)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrNoLiveTree, err)
	}
	s := NewSnapshot(text)
	glog.V(1).Infof("Live tree %q hashes to %x", r.dir, s.Hash)
	return s, nil
}

// BootModel parses the flattened boot blob and returns the root node's model
// and compatible properties.
func (r *LiveReader) BootModel() (*BootModel, error) {
	f, err := os.Open(r.bootFDT)
	if err != nil {
		return nil, fmt.Errorf("failed to open boot fdt: %w", err)
	}
	defer f.Close()

	fdt, err := udt.ReadFDT(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse boot fdt %q: %w", r.bootFDT, err)
	}
	if fdt.RootNode == nil {
		return nil, fmt.Errorf("boot fdt %q has no root node", r.bootFDT)
	}
	m := &BootModel{}
	for _, p := range fdt.RootNode.Properties {
		switch p.Name {
		case "model":
			if s := stringList(p.Value); len(s) > 0 {
				m.Model = s[0]
			}
		case "compatible":
			m.Compatible = stringList(p.Value)
		}
	}
	return m, nil
}

// stringList decodes a NUL separated property value.
func stringList(v []byte) []string {
	var out []string
	for _, s := range strings.Split(string(v), "\x00") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
