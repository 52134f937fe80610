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

// Package reconcile rewrites bootloader configuration so that the next boot
// loads a chosen base device tree and overlay set.
//
// Every operation first validates its input and builds a plan for each
// bootloader found without touching the system. Only then are files replaced
// and regeneration commands run. Failures after validation are reported but
// not rolled back.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bredos/bredos-config/internal/bootcfg"
	"github.com/bredos/bredos-config/internal/dt"
	"github.com/bredos/bredos-config/internal/sysexec"
	"github.com/golang/glog"
)

// ErrNoBootloader is returned when no supported bootloader configuration
// can be found.
var ErrNoBootloader = errors.New("no supported bootloader found")

type state int

const (
	idle state = iota
	validating
	mutating
	triggering
	done
)

func (s state) String() string {
	switch s {
	case validating:
		return "Validating"
	case mutating:
		return "Mutating"
	case triggering:
		return "Triggering"
	case done:
		return "Done"
	}
	return "Idle"
}

// action replaces or removes a single file.
type action struct {
	remove bool
	path   string
	data   []byte
}

// plan is the complete set of changes for one target.
type plan struct {
	target  Target
	actions []action
	// trigger, if set, is run after all actions succeeded.
	trigger []string
}

// Reconciler applies base and overlay selections to the bootloaders present.
// It is not safe for concurrent use.
type Reconciler struct {
	paths Paths
	cache *dt.Cache
	w     sysexec.Writer
	t     sysexec.Trigger
	state state
	// migrated is the U-Boot configuration written by Migrate. A dry run
	// never lands it on disk, so later plans start from this copy.
	migrated *bootcfg.Config
}

// New returns a Reconciler resolving names against cache and changing the
// system through w and t.
func New(p Paths, cache *dt.Cache, w sysexec.Writer, t sysexec.Trigger) *Reconciler {
	return &Reconciler{paths: p, cache: cache, w: w, t: t}
}

func (r *Reconciler) enter(s state) {
	glog.V(1).Infof("reconcile: %s -> %s", r.state, s)
	r.state = s
}

// resolve finds the blob a user supplied name refers to.
func (r *Reconciler) resolve(kind dt.Kind, name string) (dt.TreeDescriptor, error) {
	fn := Normalize(name, kind)
	ds := r.cache.Lookup(kind, fn)
	if len(ds) == 0 {
		return dt.TreeDescriptor{}, &NameNotFoundError{Name: fn, Kind: kind}
	}
	if len(ds) > 1 {
		glog.Warningf("%d %s trees are named %s, using %s", len(ds), kind, fn, ds[0].SourcePath)
	}
	return ds[0], nil
}

// SetBase selects the base tree called name on every bootloader found.
func (r *Reconciler) SetBase(ctx context.Context, name string) error {
	r.enter(validating)
	defer r.enter(idle)
	d, err := r.resolve(dt.Base, name)
	if err != nil {
		return err
	}
	var blob []byte
	return r.apply(ctx, func(t Target) (*plan, error) {
		switch {
		case t.Loader == UBoot:
			c, err := r.loadUBoot()
			if err != nil {
				return nil, err
			}
			c.SetString(bootcfg.UBootFDT, relTo(r.ubootDir(c, bootcfg.UBootFDTDir), d.SourcePath))
			return r.ubootPlan(t, c), nil
		case t.Mode == EFIOverride:
			if blob == nil {
				if blob, err = os.ReadFile(d.SourcePath); err != nil {
					return nil, fmt.Errorf("failed to read %s: %w", d.SourcePath, err)
				}
			}
			var files []efiFile
			for _, n := range efiBaseNames(d.FileName()) {
				files = append(files, efiFile{name: n, data: blob})
			}
			return efiPlan(t, r.paths.EFIBaseDir(), dt.BaseExt, files)
		default:
			c, err := bootcfg.LoadGrub(r.paths.GrubDefaults)
			if err != nil {
				return nil, err
			}
			// BredOS's grub-mkconfig prefixes GRUB_DTB with the blob root
			// (/boot/dtbs) when emitting the devicetree command, so vendor
			// subdirectories are kept and the basename alone is not enough.
			c.SetString(bootcfg.GrubDTB, relTo(r.paths.DTBRoot, d.SourcePath))
			return &plan{
				target:  t,
				actions: []action{{path: r.paths.GrubDefaults, data: bootcfg.EncodeShellVars(c)}},
				trigger: []string{"grub-mkconfig", "-o", r.paths.GrubConfig},
			}, nil
		}
	})
}

// SetOverlays makes names the complete set of enabled overlays on every
// bootloader found which supports them.
func (r *Reconciler) SetOverlays(ctx context.Context, names []string) error {
	r.enter(validating)
	defer r.enter(idle)
	var ds []dt.TreeDescriptor
	seen := make(map[string]bool)
	for _, n := range names {
		d, err := r.resolve(dt.Overlay, n)
		if err != nil {
			return err
		}
		if seen[d.SourcePath] {
			continue
		}
		seen[d.SourcePath] = true
		ds = append(ds, d)
	}
	return r.apply(ctx, func(t Target) (*plan, error) {
		switch {
		case t.Loader == UBoot:
			c, err := r.loadUBoot()
			if err != nil {
				return nil, err
			}
			dir := r.ubootDir(c, bootcfg.UBootFDTOverlaysDir)
			var rels []string
			for _, d := range ds {
				rels = append(rels, relTo(dir, d.SourcePath))
			}
			if len(rels) == 0 {
				c.Delete(bootcfg.UBootFDTOverlays)
			} else {
				c.SetList(bootcfg.UBootFDTOverlays, rels)
			}
			return r.ubootPlan(t, c), nil
		case t.Mode == EFIOverride:
			var files []efiFile
			for _, d := range ds {
				data, err := os.ReadFile(d.SourcePath)
				if err != nil {
					return nil, fmt.Errorf("failed to read %s: %w", d.SourcePath, err)
				}
				files = append(files, efiFile{name: d.FileName(), data: data})
			}
			return efiPlan(t, r.paths.EFIOverlayDir(), dt.OverlayExt, files)
		default:
			glog.Infof("%s cannot load overlays, skipping it", t)
			return nil, nil
		}
	})
}

// EnableOverlays adds names to the enabled overlays.
func (r *Reconciler) EnableOverlays(ctx context.Context, names []string) error {
	cur := r.enabledResolvable()
	for _, n := range names {
		fn := Normalize(n, dt.Overlay)
		if !contains(cur, fn) {
			cur = append(cur, fn)
		}
	}
	return r.SetOverlays(ctx, cur)
}

// DisableOverlays removes names from the enabled overlays. Naming an overlay
// which is neither enabled nor installed is an error.
func (r *Reconciler) DisableOverlays(ctx context.Context, names []string) error {
	cur := r.enabledResolvable()
	drop := make(map[string]bool)
	for _, n := range names {
		fn := Normalize(n, dt.Overlay)
		if !contains(cur, fn) && len(r.cache.Lookup(dt.Overlay, fn)) == 0 {
			return &NameNotFoundError{Name: fn, Kind: dt.Overlay}
		}
		drop[fn] = true
	}
	var keep []string
	for _, n := range cur {
		if !drop[n] {
			keep = append(keep, n)
		}
	}
	return r.SetOverlays(ctx, keep)
}

// enabledResolvable returns the enabled overlays which are still installed.
// A bootloader whose configuration cannot be read contributes nothing; the
// operation reports that failure for its branch.
func (r *Reconciler) enabledResolvable() []string {
	cur, err := r.EnabledOverlays()
	if err != nil {
		glog.Warningf("Ignoring unreadable overlay selection: %v", err)
	}
	var out []string
	for _, n := range cur {
		if len(r.cache.Lookup(dt.Overlay, n)) == 0 {
			glog.Warningf("Enabled overlay %s is no longer installed, dropping it", n)
			continue
		}
		out = append(out, n)
	}
	return out
}

// Status is the selection currently configured on one target.
type Status struct {
	Target Target
	// Base is the configured base tree, empty if none.
	Base string
	// Overlays are the file names of the configured overlays.
	Overlays []string
	// Err is set if the target's configuration could not be read.
	Err error
}

// Status reports what each bootloader found is configured to load. A U-Boot
// system still using a legacy extlinux.conf is read from that file.
//
// A target whose configuration cannot be read is still listed, with Err set,
// and the returned error joins all such failures.
func (r *Reconciler) Status() ([]Status, error) {
	var out []Status
	var errs []error
	for _, t := range ResolveBootTargets(r.paths) {
		s := r.status(t)
		if s.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t, s.Err))
		}
		out = append(out, s)
	}
	return out, errors.Join(errs...)
}

func (r *Reconciler) status(t Target) Status {
	s := Status{Target: t}
	switch {
	case t.Loader == UBoot:
		s.Base, s.Overlays, s.Err = r.ubootSelection()
	case t.Mode == EFIOverride:
		bases, err := listBlobs(r.paths.EFIBaseDir(), dt.BaseExt)
		if err != nil {
			s.Err = err
			return s
		}
		s.Base = strings.Join(bases, " ")
		s.Overlays, s.Err = listBlobs(r.paths.EFIOverlayDir(), dt.OverlayExt)
	default:
		c, err := bootcfg.LoadGrub(r.paths.GrubDefaults)
		if err != nil {
			s.Err = err
			return s
		}
		s.Base = c.Get(bootcfg.GrubDTB).String()
	}
	return s
}

// EnabledOverlays returns the file names of the overlays enabled on any
// bootloader found, in configuration order. Targets which cannot be read are
// skipped and their failures returned alongside the others' overlays.
func (r *Reconciler) EnabledOverlays() ([]string, error) {
	ss, err := r.Status()
	var out []string
	for _, s := range ss {
		if s.Err != nil {
			continue
		}
		for _, o := range s.Overlays {
			if !contains(out, o) {
				out = append(out, o)
			}
		}
	}
	return out, err
}

func (r *Reconciler) ubootSelection() (string, []string, error) {
	c, pending, err := r.pendingMigration()
	if err != nil {
		return "", nil, err
	}
	if pending {
		e, err := bootcfg.LoadExtlinux(r.paths.Extlinux)
		if err != nil {
			return "", nil, err
		}
		translateExtlinux(e, c, r.paths)
	}
	var overlays []string
	for _, o := range c.Get(bootcfg.UBootFDTOverlays).Items() {
		if o != "" {
			overlays = append(overlays, filepath.Base(o))
		}
	}
	return c.Get(bootcfg.UBootFDT).String(), overlays, nil
}

// loadUBoot returns the U-Boot configuration, preferring the one produced by
// an earlier Migrate call.
func (r *Reconciler) loadUBoot() (*bootcfg.Config, error) {
	if r.migrated != nil {
		return r.migrated.Clone(), nil
	}
	return bootcfg.LoadUBoot(r.paths.UBootDefaults, r.paths.DTBRoot)
}

// ubootDir returns the directory a U-Boot path key is relative to.
func (r *Reconciler) ubootDir(c *bootcfg.Config, key string) string {
	if v := c.Get(key).String(); v != "" {
		return v
	}
	return r.paths.DTBRoot
}

func (r *Reconciler) ubootPlan(t Target, c *bootcfg.Config) *plan {
	return &plan{
		target:  t,
		actions: []action{{path: r.paths.UBootDefaults, data: bootcfg.EncodeShellVars(c)}},
		trigger: []string{"u-boot-update"},
	}
}

// apply resolves the targets, builds a plan for each with build and carries
// the plans out. A target which fails does not stop the others; all
// failures are returned joined.
func (r *Reconciler) apply(ctx context.Context, build func(Target) (*plan, error)) error {
	targets := ResolveBootTargets(r.paths)
	if len(targets) == 0 {
		return ErrNoBootloader
	}
	var errs []error
	var plans []*plan
	for _, t := range targets {
		if t.Loader == UBoot {
			if _, err := r.Migrate(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", t, err))
				continue
			}
		}
		p, err := build(t)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
			continue
		}
		if p != nil {
			plans = append(plans, p)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.enter(mutating)
	var ok []*plan
	for _, p := range plans {
		if err := r.mutate(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.target, err))
			continue
		}
		ok = append(ok, p)
	}

	r.enter(triggering)
	for _, p := range ok {
		if p.trigger == nil {
			continue
		}
		if err := r.t.Run(ctx, p.trigger); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.target, err))
		}
	}
	r.enter(done)
	return errors.Join(errs...)
}

func (r *Reconciler) mutate(ctx context.Context, p *plan) error {
	for _, a := range p.actions {
		if a.remove {
			glog.Infof("Removing %s", a.path)
			if err := r.w.Remove(ctx, a.path); err != nil {
				return err
			}
			continue
		}
		glog.Infof("Writing %s", a.path)
		if err := r.w.WriteFile(ctx, a.path, a.data); err != nil {
			return err
		}
	}
	return nil
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
