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
	"context"
	"path/filepath"
	"strings"

	"github.com/bredos/bredos-config/internal/bootcfg"
	"github.com/golang/glog"
)

// pendingMigration loads the U-Boot defaults and reports whether a legacy
// extlinux.conf still has to be translated into them.
func (r *Reconciler) pendingMigration() (*bootcfg.Config, bool, error) {
	c, err := r.loadUBoot()
	if err != nil {
		return nil, false, err
	}
	if !exists(r.paths.Extlinux) || c.Get(bootcfg.UBootMigrated).Bool() {
		return c, false, nil
	}
	return c, true, nil
}

// Migrate translates a legacy extlinux.conf into the U-Boot defaults file,
// writes it and runs u-boot-update. It reports whether a migration took
// place; once it has, the marker key makes further calls no-ops.
func (r *Reconciler) Migrate(ctx context.Context) (bool, error) {
	c, pending, err := r.pendingMigration()
	if err != nil || !pending {
		return false, err
	}
	e, err := bootcfg.LoadExtlinux(r.paths.Extlinux)
	if err != nil {
		return false, err
	}
	glog.Infof("Migrating %s into %s", r.paths.Extlinux, r.paths.UBootDefaults)
	translateExtlinux(e, c, r.paths)
	c.SetBool(bootcfg.UBootMigrated, true)
	if err := r.w.WriteFile(ctx, r.paths.UBootDefaults, bootcfg.EncodeShellVars(c)); err != nil {
		return false, err
	}
	r.migrated = c.Clone()
	if err := r.t.Run(ctx, []string{"u-boot-update"}); err != nil {
		return true, err
	}
	return true, nil
}

// translateExtlinux copies the settings of e's global section and default
// label into c.
func translateExtlinux(e *bootcfg.Extlinux, c *bootcfg.Config, p Paths) {
	if v := e.Global.Get("timeout"); !v.IsAbsent() {
		c.SetString(bootcfg.UBootTimeout, v.String())
	}
	if title, ok := cutPrefixFold(e.Global.Get("menu").String(), "title "); ok {
		c.SetString(bootcfg.UBootMenuLabel, strings.TrimSpace(title))
	}

	_, s := e.DefaultLabel()
	if s == nil {
		return
	}
	if v := s.Get("append"); !v.IsAbsent() {
		var params []string
		for _, f := range strings.Fields(v.String()) {
			if strings.HasPrefix(f, "root=") {
				c.SetString(bootcfg.UBootRoot, f)
				continue
			}
			params = append(params, f)
		}
		c.SetString(bootcfg.UBootParameters, strings.Join(params, " "))
	}
	if v := first(s, "fdtdir", "devicetreedir"); v != "" {
		c.SetString(bootcfg.UBootFDTDir, strings.TrimSuffix(bootPath(p, v), "/")+"/")
	}
	if v := first(s, "fdt", "devicetree"); v != "" {
		dir := c.Get(bootcfg.UBootFDTDir).String()
		if dir == "" {
			dir = p.DTBRoot
		}
		c.SetString(bootcfg.UBootFDT, relTo(dir, bootPath(p, v)))
	}
	if v := s.Get("fdtoverlays"); !v.IsAbsent() {
		dir := c.Get(bootcfg.UBootFDTOverlaysDir).String()
		if dir == "" {
			dir = p.DTBRoot
		}
		var rels []string
		for _, o := range v.Items() {
			rels = append(rels, relTo(dir, bootPath(p, o)))
		}
		c.SetList(bootcfg.UBootFDTOverlays, rels)
	}
}

// first returns the value of the first keyword present in s.
func first(s *bootcfg.Section, keywords ...string) string {
	for _, k := range keywords {
		if v := s.Get(k); !v.IsAbsent() {
			return v.String()
		}
	}
	return ""
}

// bootPath turns a path as seen by the bootloader, relative to the boot
// partition, into a path on the running system.
func bootPath(p Paths, v string) string {
	mount := p.bootMount()
	if v == mount || strings.HasPrefix(v, mount+"/") {
		return v
	}
	return filepath.Join(mount, v)
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}
