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

// bredos-config identifies the device tree the running kernel booted from and
// selects the base tree and overlays the bootloader loads next.
//
// Usage:
//
//	bredos-config [flags] list
//	bredos-config [flags] base [name]
//	bredos-config [flags] overlay [enable|disable <name>...]
//
// Changes to the boot configuration need root. When not run as root, every
// change is made through pkexec (see --config to use another helper).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bredos/bredos-config/cmd/bredos-config/impl"
	"github.com/bredos/bredos-config/internal/config"
	"github.com/golang/glog"
)

var (
	configPath = flag.String("config", config.DefaultPath, "YAML file overriding the default locations, ignored if missing")
	dtbRoot    = flag.String("dtb_root", "", "Directory searched for .dtb and .dtbo files, overrides the config file")
	dtc        = flag.String("dtc", "", "Device tree compiler binary, overrides the config file")
	workers    = flag.Int("workers", 0, "Maximum number of concurrent decompilations, 0 to use the config file")
	dryRun     = flag.Bool("dryrun", false, "Print the changes which would be made instead of making them")
	logCmds    = flag.Bool("log", false, "Record every change and command to bredos-config-<time>.txt in --log_dir")
	logDir     = flag.String("log_dir", ".", "Directory for the --log file")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] list | base [name] | overlay [enable|disable <name>...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Cancelling kills any running grub-mkconfig or u-boot-update.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := impl.Main(ctx, impl.Opts{
		ConfigPath: *configPath,
		DTBRoot:    *dtbRoot,
		DTC:        *dtc,
		Workers:    *workers,
		DryRun:     *dryRun,
		Log:        *logCmds,
		LogDir:     *logDir,
		Args:       flag.Args(),
	}); err != nil {
		glog.Exit(err.Error())
	}
}
