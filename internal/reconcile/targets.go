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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bredos/bredos-config/internal/dt"
)

// Paths locates the files the Reconciler reads and mutates.
type Paths struct {
	// DTBRoot is the directory holding the shipped blobs, e.g. /boot/dtbs.
	DTBRoot string
	// GrubDefaults is the GRUB variables file, e.g. /etc/default/grub.
	GrubDefaults string
	// GrubConfig is where grub-mkconfig writes, e.g. /boot/grub/grub.cfg.
	GrubConfig string
	// UBootDefaults is the u-boot-update variables file, e.g. /etc/default/u-boot.
	UBootDefaults string
	// Extlinux is the legacy extlinux.conf migrated into UBootDefaults.
	Extlinux string
	// EFIOverride holds the base/ and overlays/ directories read by the
	// firmware in EFI override mode, e.g. /boot/efi/dtb.
	EFIOverride string
}

// EFIBaseDir is where the base tree is placed in EFI override mode.
func (p Paths) EFIBaseDir() string {
	return filepath.Join(p.EFIOverride, "base")
}

// EFIOverlayDir is where overlays are placed in EFI override mode.
func (p Paths) EFIOverlayDir() string {
	return filepath.Join(p.EFIOverride, "overlays")
}

// bootMount is the mount point that extlinux paths are relative to.
func (p Paths) bootMount() string {
	return filepath.Dir(filepath.Clean(p.DTBRoot))
}

// Loader is a supported bootloader.
type Loader int

const (
	Grub Loader = iota
	UBoot
)

func (l Loader) String() string {
	if l == UBoot {
		return "u-boot"
	}
	return "grub"
}

// GrubMode says where GRUB platforms select their device tree.
type GrubMode int

const (
	// ConfigVariable selects the tree with GRUB_DTB in the defaults file.
	ConfigVariable GrubMode = iota
	// EFIOverride selects the tree by the files present in the EFI system
	// partition's override directories.
	EFIOverride
)

func (m GrubMode) String() string {
	if m == EFIOverride {
		return "efi-override"
	}
	return "config-variable"
}

// Target is a bootloader whose configuration selects the device tree.
type Target struct {
	Loader Loader
	// Mode is only meaningful for Grub.
	Mode GrubMode
}

func (t Target) String() string {
	if t.Loader == Grub {
		return fmt.Sprintf("%s(%s)", t.Loader, t.Mode)
	}
	return t.Loader.String()
}

// ResolveBootTargets inspects the filesystem and returns the bootloaders to
// update, GRUB first.
func ResolveBootTargets(p Paths) []Target {
	var ts []Target
	if exists(p.GrubDefaults) || (p.GrubConfig != "" && exists(filepath.Dir(p.GrubConfig))) {
		mode := ConfigVariable
		if p.EFIOverride != "" && (isDir(p.EFIBaseDir()) || isDir(p.EFIOverlayDir())) {
			mode = EFIOverride
		}
		ts = append(ts, Target{Loader: Grub, Mode: mode})
	}
	if exists(p.UBootDefaults) || exists(p.Extlinux) {
		ts = append(ts, Target{Loader: UBoot})
	}
	return ts
}

func exists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

// Normalize turns a user supplied tree name into the canonical filename used
// to look it up: the base name, with any blob extension replaced by kind's.
func Normalize(name string, kind dt.Kind) string {
	base := filepath.Base(strings.TrimSpace(name))
	for _, ext := range []string{dt.OverlayExt, dt.BaseExt} {
		if strings.HasSuffix(base, ext) {
			base = strings.TrimSuffix(base, ext)
			break
		}
	}
	return base + kind.Ext()
}

// NameNotFoundError is returned when a name does not resolve to any blob.
type NameNotFoundError struct {
	Name string
	Kind dt.Kind
}

func (e *NameNotFoundError) Error() string {
	return fmt.Sprintf("no %s device tree named %q was found", e.Kind, e.Name)
}

// relTo returns p relative to dir, or p itself if it is not below dir.
func relTo(dir, p string) string {
	if dir == "" {
		return p
	}
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return p
	}
	return rel
}
