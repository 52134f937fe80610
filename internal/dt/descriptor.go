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
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const (
	// BaseExt is the file extension of base device tree blobs.
	BaseExt = ".dtb"
	// OverlayExt is the file extension of overlay blobs.
	OverlayExt = ".dtbo"
)

// Kind distinguishes base trees from overlays.
type Kind int

const (
	Base Kind = iota
	Overlay
)

func (k Kind) String() string {
	if k == Overlay {
		return "overlay"
	}
	return "base"
}

// Ext returns the file extension used by blobs of this kind.
func (k Kind) Ext() string {
	if k == Overlay {
		return OverlayExt
	}
	return BaseExt
}

// TreeDescriptor describes one blob found on disk.
type TreeDescriptor struct {
	// Name is the blob's filename without extension.
	Name string
	// Description is the first description property, if any.
	Description string
	// Compatible holds the first compatible property's strings in
	// declaration order.
	Compatible []string
	// SourcePath is the absolute path of the blob.
	SourcePath string
}

// FileName returns the blob's base filename, extension included.
func (d TreeDescriptor) FileName() string {
	return filepath.Base(d.SourcePath)
}

var quoted = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)

// describe builds a descriptor from decompiled source text. Only the first
// occurrence of each property is used, which for dtc output is the root
// node's.
func describe(path, text string) TreeDescriptor {
	d := TreeDescriptor{
		Name:       stem(path),
		SourcePath: path,
	}
	var haveDesc, haveCompat bool
	for _, line := range strings.Split(text, "\n") {
		if haveDesc && haveCompat {
			break
		}
		name, value, ok := property(line)
		if !ok {
			continue
		}
		switch {
		case name == "description" && !haveDesc:
			haveDesc = true
			if s := quotedStrings(value); len(s) > 0 {
				d.Description = s[0]
			}
		case name == "compatible" && !haveCompat:
			haveCompat = true
			d.Compatible = quotedStrings(value)
		}
	}
	return d
}

// property splits a dts line of the form `name = value;`.
func property(line string) (string, string, bool) {
	name, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return "", "", false
	}
	return strings.TrimSpace(name), strings.TrimSuffix(strings.TrimSpace(value), ";"), true
}

func quotedStrings(value string) []string {
	var out []string
	for _, m := range quoted.FindAllStringSubmatch(value, -1) {
		out = append(out, m[1])
	}
	return out
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Cache holds the descriptors of every decodable blob under a boot root,
// keyed by absolute path.
type Cache struct {
	Base     map[string]TreeDescriptor
	Overlays map[string]TreeDescriptor
}

// Of returns the descriptor map for kind.
func (c *Cache) Of(kind Kind) map[string]TreeDescriptor {
	if kind == Overlay {
		return c.Overlays
	}
	return c.Base
}

// BasePaths returns the paths of all base blobs in lexical order.
func (c *Cache) BasePaths() []string {
	return sortedKeys(c.Base)
}

// OverlayPaths returns the paths of all overlay blobs in lexical order.
func (c *Cache) OverlayPaths() []string {
	return sortedKeys(c.Overlays)
}

// Lookup returns the descriptors of the given kind whose filename equals
// fileName, in lexical path order.
func (c *Cache) Lookup(kind Kind, fileName string) []TreeDescriptor {
	m := c.Of(kind)
	var out []TreeDescriptor
	for _, p := range sortedKeys(m) {
		if filepath.Base(p) == fileName {
			out = append(out, m[p])
		}
	}
	return out
}

func sortedKeys(m map[string]TreeDescriptor) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
