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

package reconcile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// boardAliases lists boards whose firmware looks for the same tree under
// more than one file name. Both names must be present in the EFI base
// directory.
var boardAliases = map[string][]string{
	"rk3588s-orangepi-5.dtb":      {"rk3588s-orangepi-5b.dtb"},
	"rk3588s-orangepi-5b.dtb":     {"rk3588s-orangepi-5.dtb"},
	"rk3588-rock-5b.dtb":          {"rk3588-rock-5b-plus.dtb"},
	"rk3588-rock-5b-plus.dtb":     {"rk3588-rock-5b.dtb"},
	"rk3588-orangepi-5-plus.dtb":  {"rk3588-orangepi-5-max.dtb"},
	"rk3588-orangepi-5-max.dtb":   {"rk3588-orangepi-5-plus.dtb"},
	"rk3588s-khadas-edge2.dtb":    {"rk3588s-khadas-edge-2.dtb"},
	"rk3588s-khadas-edge-2.dtb":   {"rk3588s-khadas-edge2.dtb"},
	"rk3566-orangepi-3b-v1.1.dtb": {"rk3566-orangepi-3b.dtb"},
}

// efiBaseNames returns every name under which fileName must be installed.
func efiBaseNames(fileName string) []string {
	return append([]string{fileName}, boardAliases[fileName]...)
}

// efiFile is a blob to be placed in an override directory.
type efiFile struct {
	name string
	data []byte
}

// listBlobs returns the names of the files in dir ending in ext. A missing
// directory holds no blobs.
func listBlobs(dir, ext string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var names []string
	for _, e := range ents {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ext) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// efiPlan copies files into dir and then removes every other blob with ext
// found there. The copies come first so a failure leaves the previous tree
// bootable.
func efiPlan(t Target, dir, ext string, files []efiFile) (*plan, error) {
	present, err := listBlobs(dir, ext)
	if err != nil {
		return nil, err
	}
	p := &plan{target: t}
	keep := make(map[string]bool)
	for _, f := range files {
		keep[f.name] = true
		p.actions = append(p.actions, action{path: filepath.Join(dir, f.name), data: f.data})
	}
	for _, n := range present {
		if !keep[n] {
			p.actions = append(p.actions, action{remove: true, path: filepath.Join(dir, n)})
		}
	}
	return p, nil
}
