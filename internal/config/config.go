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

// Package config describes where bredos-config finds the device trees and
// bootloader files it manages.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"runtime"

	"github.com/bredos/bredos-config/internal/dt"
	"github.com/bredos/bredos-config/internal/reconcile"
	"github.com/bredos/bredos-config/internal/sysexec"
	"github.com/golang/glog"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the optional configuration file lives.
const DefaultPath = "/etc/bredos-config.yaml"

type Config struct {
	// DTBRoot is the directory searched for .dtb and .dtbo files.
	DTBRoot string `yaml:"DTBRoot"`
	// LiveTree is the kernel's view of the running device tree.
	LiveTree string `yaml:"LiveTree"`
	// BootFDT is the flattened tree handed over by the firmware.
	BootFDT string `yaml:"BootFDT"`

	GrubDefaults  string `yaml:"GrubDefaults"`
	GrubConfig    string `yaml:"GrubConfig"`
	UBootDefaults string `yaml:"UBootDefaults"`
	Extlinux      string `yaml:"Extlinux"`
	// EFIOverride holds the base/ and overlays/ directories on the EFI
	// system partition.
	EFIOverride string `yaml:"EFIOverride"`

	// DTC is the device tree compiler used to decompile blobs.
	DTC string `yaml:"DTC"`
	// Elevate is the helper used to gain root for changes.
	Elevate string `yaml:"Elevate"`
	// Workers bounds the number of concurrent decompilations.
	Workers int `yaml:"Workers"`
}

// Defaults returns the configuration of a stock BredOS install.
func Defaults() Config {
	return Config{
		DTBRoot:       "/boot/dtbs",
		LiveTree:      dt.DefaultLiveTree,
		BootFDT:       dt.DefaultBootFDT,
		GrubDefaults:  "/etc/default/grub",
		GrubConfig:    "/boot/grub/grub.cfg",
		UBootDefaults: "/etc/default/u-boot",
		Extlinux:      "/boot/extlinux/extlinux.conf",
		EFIOverride:   "/boot/efi/dtb",
		DTC:           dt.DefaultTool,
		Elevate:       sysexec.DefaultElevate,
		Workers:       runtime.NumCPU(),
	}
}

// Load reads the YAML file at path over the defaults. Fields not present in
// the file keep their default value, and a missing file yields Defaults.
func Load(path string) (Config, error) {
	c := Defaults()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		glog.V(1).Infof("No config at %s, using defaults", path)
		return c, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return c, c.Validate()
}

// Validate checks that every field has a usable value.
func (c Config) Validate() error {
	for _, f := range []struct {
		name, value string
	}{
		{"DTBRoot", c.DTBRoot},
		{"LiveTree", c.LiveTree},
		{"BootFDT", c.BootFDT},
		{"GrubDefaults", c.GrubDefaults},
		{"GrubConfig", c.GrubConfig},
		{"UBootDefaults", c.UBootDefaults},
		{"Extlinux", c.Extlinux},
		{"EFIOverride", c.EFIOverride},
		{"DTC", c.DTC},
		{"Elevate", c.Elevate},
	} {
		if f.value == "" {
			return fmt.Errorf("missing field: %s", f.name)
		}
	}
	if c.Workers <= 0 {
		return fmt.Errorf("invalid field: Workers must be positive, got %d", c.Workers)
	}
	return nil
}

// Paths returns the locations used by the reconciler.
func (c Config) Paths() reconcile.Paths {
	return reconcile.Paths{
		DTBRoot:       c.DTBRoot,
		GrubDefaults:  c.GrubDefaults,
		GrubConfig:    c.GrubConfig,
		UBootDefaults: c.UBootDefaults,
		Extlinux:      c.Extlinux,
		EFIOverride:   c.EFIOverride,
	}
}
