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

package bootcfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/golang/glog"
)

// Well known keys.
const (
	GrubDTB = "GRUB_DTB"

	UBootFDT            = "U_BOOT_FDT"
	UBootFDTDir         = "U_BOOT_FDT_DIR"
	UBootFDTOverlays    = "U_BOOT_FDT_OVERLAYS"
	UBootFDTOverlaysDir = "U_BOOT_FDT_OVERLAYS_DIR"
	UBootParameters     = "U_BOOT_PARAMETERS"
	UBootRoot           = "U_BOOT_ROOT"
	UBootTimeout        = "U_BOOT_TIMEOUT"
	UBootMenuLabel      = "U_BOOT_MENU_LABEL"
	UBootUpdate         = "U_BOOT_UPDATE"
	// UBootMigrated records that a legacy extlinux.conf has been translated.
	UBootMigrated = "U_BOOT_EXTLINUX_MIGRATED"
)

// DefaultGrub returns the configuration assumed when /etc/default/grub does
// not exist:
//
//	GRUB_DEFAULT='0'
//	GRUB_TIMEOUT='5'
//	GRUB_DISTRIBUTOR='BredOS'
//	GRUB_CMDLINE_LINUX_DEFAULT=''
//	GRUB_CMDLINE_LINUX=''
func DefaultGrub() *Config {
	c := New(GRUB)
	c.SetString("GRUB_DEFAULT", "0")
	c.SetString("GRUB_TIMEOUT", "5")
	c.SetString("GRUB_DISTRIBUTOR", "BredOS")
	c.SetString("GRUB_CMDLINE_LINUX_DEFAULT", "")
	c.SetString("GRUB_CMDLINE_LINUX", "")
	return c
}

// DefaultUBoot returns the configuration assumed when /etc/default/u-boot
// does not exist:
//
//	U_BOOT_UPDATE='true'
//	U_BOOT_MENU_LABEL='BredOS'
//	U_BOOT_PARAMETERS='rw'
//	U_BOOT_TIMEOUT='50'
//	U_BOOT_FDT_DIR='<dtbDir>/'
//	U_BOOT_FDT_OVERLAYS_DIR='<dtbDir>/'
func DefaultUBoot(dtbDir string) *Config {
	c := New(UBoot)
	c.SetBool(UBootUpdate, true)
	c.SetString(UBootMenuLabel, "BredOS")
	c.SetString(UBootParameters, "rw")
	c.SetString(UBootTimeout, "50")
	c.SetString(UBootFDTDir, dirValue(dtbDir))
	c.SetString(UBootFDTOverlaysDir, dirValue(dtbDir))
	return c
}

func dirValue(d string) string {
	if d == "" || d[len(d)-1] == '/' {
		return d
	}
	return d + "/"
}

// LoadGrub reads a GRUB defaults file, returning DefaultGrub if it does not
// exist.
func LoadGrub(path string) (*Config, error) {
	return load(path, GRUB, DefaultGrub)
}

// LoadUBoot reads a U-Boot defaults file, returning DefaultUBoot(dtbDir) if
// it does not exist.
func LoadUBoot(path, dtbDir string) (*Config, error) {
	return load(path, UBoot, func() *Config { return DefaultUBoot(dtbDir) })
}

func load(path string, f Flavor, def func() *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		glog.V(1).Infof("%s does not exist, using %s defaults", path, f)
		return def(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s config: %w", f, err)
	}
	c, err := ParseShellVars(f, data)
	if err != nil {
		return nil, withPath(err, path)
	}
	return c, nil
}

// LoadExtlinux reads and parses an extlinux.conf.
func LoadExtlinux(path string) (*Extlinux, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read extlinux config: %w", err)
	}
	e, err := ParseExtlinux(data)
	if err != nil {
		return nil, withPath(err, path)
	}
	return e, nil
}

func withPath(err error, path string) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		pe.Path = path
	}
	return err
}
