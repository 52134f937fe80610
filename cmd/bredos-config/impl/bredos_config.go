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

// Package impl is the implementation of the bredos-config device tree tool.
package impl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bredos/bredos-config/internal/config"
	"github.com/bredos/bredos-config/internal/dt"
	"github.com/bredos/bredos-config/internal/reconcile"
	"github.com/bredos/bredos-config/internal/sysexec"
	"github.com/golang/glog"
)

// Opts encapsulates bredos-config parameters. Zero valued overrides leave the
// config file's setting alone.
type Opts struct {
	ConfigPath string
	DTBRoot    string
	DTC        string
	Workers    int
	DryRun     bool
	Log        bool
	LogDir     string
	// Args is the command and its arguments.
	Args []string
	// Out receives the report; os.Stdout if nil.
	Out io.Writer

	// exec replaces the device tree compiler in tests.
	exec dt.ExecFunc
}

var errUsage = errors.New("usage: list | base [name] | overlay [enable|disable <name>...]")

func Main(ctx context.Context, opts Opts) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.DTBRoot != "" {
		cfg.DTBRoot = opts.DTBRoot
	}
	if opts.DTC != "" {
		cfg.DTC = opts.DTC
	}
	if opts.Workers > 0 {
		cfg.Workers = opts.Workers
	}
	if cfg.DTBRoot, err = filepath.Abs(cfg.DTBRoot); err != nil {
		return fmt.Errorf("dtb_root is invalid: %w", err)
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if len(opts.Args) == 0 {
		return errUsage
	}

	var copts []dt.CompilerOption
	if opts.exec != nil {
		copts = append(copts, dt.WithExec(opts.exec))
	}
	t := &tool{
		opts: opts,
		cfg:  cfg,
		c:    dt.NewCompiler(cfg.DTC, copts...),
	}

	cmd, args := opts.Args[0], opts.Args[1:]
	switch cmd {
	case "list":
		if len(args) != 0 {
			return errUsage
		}
		return t.list(ctx)
	case "base":
		switch len(args) {
		case 0:
			return t.currentBase(ctx)
		case 1:
			return t.change(ctx, func(r *reconcile.Reconciler) error {
				return r.SetBase(ctx, args[0])
			})
		}
		return errUsage
	case "overlay":
		if len(args) == 0 {
			return t.enabledOverlays(ctx)
		}
		if len(args) < 2 {
			return errUsage
		}
		names := args[1:]
		switch args[0] {
		case "enable":
			return t.change(ctx, func(r *reconcile.Reconciler) error {
				return r.EnableOverlays(ctx, names)
			})
		case "disable":
			return t.change(ctx, func(r *reconcile.Reconciler) error {
				return r.DisableOverlays(ctx, names)
			})
		}
	}
	return errUsage
}

type tool struct {
	opts Opts
	cfg  config.Config
	c    *dt.Compiler
}

func (t *tool) index(ctx context.Context) (*dt.Cache, error) {
	start := time.Now()
	cache, err := dt.NewIndexer(t.c, t.cfg.Workers).Index(ctx, t.cfg.DTBRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to index %s: %w", t.cfg.DTBRoot, err)
	}
	glog.V(1).Infof("Indexed %d base and %d overlay trees in %v", len(cache.Base), len(cache.Overlays), time.Since(start))
	return cache, nil
}

// match compares the live tree with cache. A missing live tree is reported
// as a MatchNone result rather than an error.
func (t *tool) match(ctx context.Context, cache *dt.Cache) (dt.MatchResult, error) {
	live, err := dt.NewLiveReader(t.c, t.cfg.LiveTree, t.cfg.BootFDT).ReadLive(ctx)
	if errors.Is(err, dt.ErrNoLiveTree) {
		return dt.MatchResult{Kind: dt.MatchNone, Reason: err.Error()}, nil
	}
	if err != nil {
		return dt.MatchResult{}, err
	}
	return dt.NewMatcher(t.c, t.cfg.Workers).Match(ctx, live, cache)
}

func (t *tool) list(ctx context.Context) error {
	cache, err := t.index(ctx)
	if err != nil {
		return err
	}
	out := t.opts.Out
	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "BASE\tCOMPATIBLE\tDESCRIPTION\tPATH")
	for _, p := range cache.BasePaths() {
		d := cache.Base[p]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, orDash(strings.Join(d.Compatible, ",")), orDash(d.Description), relOrAbs(t.cfg.DTBRoot, p))
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "OVERLAY\tCOMPATIBLE\tDESCRIPTION\tPATH")
	for _, p := range cache.OverlayPaths() {
		d := cache.Overlays[p]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, orDash(strings.Join(d.Compatible, ",")), orDash(d.Description), relOrAbs(t.cfg.DTBRoot, p))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	res, err := t.match(ctx, cache)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nLive tree: %s\n", res)
	if m, err := dt.NewLiveReader(t.c, t.cfg.LiveTree, t.cfg.BootFDT).BootModel(); err != nil {
		glog.V(1).Infof("No boot model: %v", err)
	} else {
		fmt.Fprintf(out, "Boot model: %s (%s)\n", m.Model, strings.Join(m.Compatible, ", "))
	}

	// Status failures are reported per target; listing still succeeds.
	st, _ := reconcile.New(t.cfg.Paths(), cache, nil, nil).Status()
	for _, s := range st {
		if s.Err != nil {
			fmt.Fprintf(out, "Configured for %s: unreadable: %v\n", s.Target, s.Err)
			continue
		}
		fmt.Fprintf(out, "Configured for %s: base %s, overlays %s\n", s.Target, orDash(s.Base), orDash(strings.Join(s.Overlays, " ")))
	}
	return nil
}

func (t *tool) currentBase(ctx context.Context) error {
	cache, err := t.index(ctx)
	if err != nil {
		return err
	}
	res, err := t.match(ctx, cache)
	if err != nil {
		return err
	}
	fmt.Fprintln(t.opts.Out, res)
	for _, l := range res.OverlayDiff {
		glog.V(1).Infof("  + %s", l)
	}
	return nil
}

func (t *tool) enabledOverlays(ctx context.Context) error {
	cache, err := t.index(ctx)
	if err != nil {
		return err
	}
	names, err := reconcile.New(t.cfg.Paths(), cache, nil, nil).EnabledOverlays()
	for _, n := range names {
		fmt.Fprintln(t.opts.Out, n)
	}
	return err
}

// change runs f against a Reconciler wired for real, dry-run or logged
// changes as requested.
func (t *tool) change(ctx context.Context, f func(*reconcile.Reconciler) error) error {
	cache, err := t.index(ctx)
	if err != nil {
		return err
	}
	var (
		w  sysexec.Writer
		tr sysexec.Trigger
	)
	if t.opts.DryRun {
		d := sysexec.DryRun{Out: t.opts.Out}
		w, tr = d, d
	} else {
		w = sysexec.NewWriter(t.cfg.Elevate)
		tr = sysexec.NewTrigger(t.cfg.Elevate, t.opts.Out)
	}
	if t.opts.Log {
		l, p, err := sysexec.OpenCommandLog(t.opts.LogDir, time.Now())
		if err != nil {
			return err
		}
		defer func() {
			if err := l.Close(); err != nil {
				glog.Warningf("Failed to close command log: %v", err)
			}
		}()
		glog.Infof("Logging commands to %s", p)
		if ct, ok := tr.(*sysexec.CommandTrigger); ok {
			ct.Output = io.MultiWriter(t.opts.Out, l)
		}
		w, tr = l.Writer(w), l.Trigger(tr)
	}
	return f(reconcile.New(t.cfg.Paths(), cache, w, tr))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func relOrAbs(root, p string) string {
	if rel, err := filepath.Rel(root, p); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return p
}
