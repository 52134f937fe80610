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

package impl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bredos/bredos-config/internal/dt"
)

// fakeDTC treats every blob as already holding its decompiled text and
// returns live for the running tree.
func fakeDTC(live string) dt.ExecFunc {
	return func(ctx context.Context, _ string, args ...string) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(args) > 1 && args[1] == "fs" {
			return []byte(live), nil
		}
		return os.ReadFile(args[len(args)-1])
	}
}

type testEnv struct {
	root, dtbs, grub, grubCfg, config string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	root := t.TempDir()
	e := testEnv{
		root:    root,
		dtbs:    filepath.Join(root, "boot", "dtbs"),
		grub:    filepath.Join(root, "etc", "default", "grub"),
		grubCfg: filepath.Join(root, "boot", "grub", "grub.cfg"),
		config:  filepath.Join(root, "bredos-config.yaml"),
	}
	files := map[string]string{
		filepath.Join(e.dtbs, "vendor", "a.dtb"):              "X;\n",
		filepath.Join(e.dtbs, "vendor", "b.dtb"):              "X;\nY;\n",
		filepath.Join(e.dtbs, "vendor", "overlay", "o1.dtbo"): "/plugin/;\n",
		filepath.Join(root, "proc", "device-tree", "model"):   "Board\x00",
		e.grub: "GRUB_TIMEOUT='5'\n",
		e.config: fmt.Sprintf(`DTBRoot: %s
LiveTree: %s
BootFDT: %s
GrubDefaults: %s
GrubConfig: %s
UBootDefaults: %s
Extlinux: %s
EFIOverride: %s
Workers: 2
`, e.dtbs, filepath.Join(root, "proc", "device-tree"), filepath.Join(root, "sys", "fdt"),
			e.grub, e.grubCfg, filepath.Join(root, "etc", "default", "u-boot"),
			filepath.Join(root, "boot", "extlinux", "extlinux.conf"), filepath.Join(root, "boot", "efi", "dtb")),
	}
	for p, content := range files {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return e
}

func (e testEnv) run(t *testing.T, opts Opts) (string, error) {
	t.Helper()
	var out bytes.Buffer
	opts.ConfigPath = e.config
	opts.Out = &out
	opts.exec = fakeDTC("X;\nY;\nZ;\n")
	err := Main(context.Background(), opts)
	return out.String(), err
}

func TestList(t *testing.T) {
	e := newTestEnv(t)
	out, err := e.run(t, Opts{Args: []string{"list"}})
	if err != nil {
		t.Fatalf("Main(list): %v", err)
	}
	for _, want := range []string{
		"vendor/a.dtb",
		"vendor/b.dtb",
		"vendor/overlay/o1.dtbo",
		fmt.Sprintf("Live tree: nearest match: %s (1 lines added by overlays)", filepath.Join(e.dtbs, "vendor", "b.dtb")),
		"Configured for grub(config-variable): base -, overlays -",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("list output does not contain %q:\n%s", want, out)
		}
	}
}

func TestListUnreadableBootloader(t *testing.T) {
	e := newTestEnv(t)
	if err := os.WriteFile(e.grub, []byte("GRUB_DTB='vendor/b.dtb\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := e.run(t, Opts{Args: []string{"list"}})
	if err != nil {
		t.Fatalf("Main(list): %v", err)
	}
	for _, want := range []string{"vendor/a.dtb", "Configured for grub(config-variable): unreadable: "} {
		if !strings.Contains(out, want) {
			t.Errorf("list output does not contain %q:\n%s", want, out)
		}
	}
	if _, err := e.run(t, Opts{Args: []string{"overlay"}}); err == nil {
		t.Error("Main(overlay) succeeded with unreadable GRUB defaults, want error")
	}
}

func TestBaseDryRun(t *testing.T) {
	e := newTestEnv(t)
	logDir := t.TempDir()
	out, err := e.run(t, Opts{Args: []string{"base", "b"}, DryRun: true, Log: true, LogDir: logDir})
	if err != nil {
		t.Fatalf("Main(base b): %v", err)
	}
	want := fmt.Sprintf("DRYRUN: grub-mkconfig -o %s\n", e.grubCfg)
	if !strings.Contains(out, "DRYRUN: write") || !strings.Contains(out, want) {
		t.Errorf("dry run output = %q, want a write and %q", out, want)
	}
	if got, err := os.ReadFile(e.grub); err != nil || string(got) != "GRUB_TIMEOUT='5'\n" {
		t.Errorf("GRUB defaults = %q, %v; want unchanged", got, err)
	}

	logs, err := filepath.Glob(filepath.Join(logDir, "bredos-config-*.txt"))
	if err != nil || len(logs) != 1 {
		t.Fatalf("command logs = %v, %v; want one", logs, err)
	}
	l, err := os.ReadFile(logs[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(l), "$ grub-mkconfig -o "+e.grubCfg) {
		t.Errorf("command log does not record grub-mkconfig:\n%s", l)
	}
}

func TestCurrentBase(t *testing.T) {
	e := newTestEnv(t)
	out, err := e.run(t, Opts{Args: []string{"base"}})
	if err != nil {
		t.Fatalf("Main(base): %v", err)
	}
	if want := "nearest match: " + filepath.Join(e.dtbs, "vendor", "b.dtb"); !strings.Contains(out, want) {
		t.Errorf("base output = %q, want %q", out, want)
	}
}

func TestUsage(t *testing.T) {
	e := newTestEnv(t)
	for _, args := range [][]string{
		nil,
		{"frobnicate"},
		{"list", "extra"},
		{"base", "a", "b"},
		{"overlay", "enable"},
		{"overlay", "toggle", "o1"},
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			if _, err := e.run(t, Opts{Args: args}); !errors.Is(err, errUsage) {
				t.Errorf("Main(%q) err = %v, want %v", args, err, errUsage)
			}
		})
	}
}

func TestUnknownBase(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.run(t, Opts{Args: []string{"base", "c"}, DryRun: true}); err == nil {
		t.Error("Main(base c) succeeded, want error")
	}
}
