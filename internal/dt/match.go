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
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bredos/bredos-config/internal/pool"
	"github.com/golang/glog"
)

// MatchKind tells how a MatchResult was obtained.
type MatchKind int

const (
	// MatchNone means no candidate could be compared with the live tree.
	MatchNone MatchKind = iota
	// MatchExact means a candidate decompiles to exactly the live tree.
	MatchExact
	// MatchNearest means no exact match was found and Path is the candidate
	// needing the fewest extra lines to explain the live tree.
	MatchNearest
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchNearest:
		return "nearest"
	}
	return "none"
}

// MatchResult is the outcome of comparing the live tree with the base blobs.
type MatchResult struct {
	Kind MatchKind
	Path string
	// OverlayDiff holds, sorted, the lines of the live tree missing from the
	// nearest candidate. It approximates what applied overlays added.
	OverlayDiff []string
	// Reason explains a MatchNone result.
	Reason string
}

func (r MatchResult) String() string {
	switch r.Kind {
	case MatchExact:
		return fmt.Sprintf("exact match: %s", r.Path)
	case MatchNearest:
		return fmt.Sprintf("nearest match: %s (%d lines added by overlays)", r.Path, len(r.OverlayDiff))
	}
	return fmt.Sprintf("no match: %s", r.Reason)
}

// Matcher finds the base blob the running kernel booted from.
type Matcher struct {
	c       *Compiler
	workers int
}

// NewMatcher returns a Matcher using c, which should be the Compiler the
// cache was indexed with so candidates are not decompiled twice.
func NewMatcher(c *Compiler, workers int) *Matcher {
	return &Matcher{c: c, workers: workers}
}

type candidate struct {
	hash  [sha256.Size]byte
	lines map[string]struct{}
}

// Match compares live with every base blob in cache.
//
// An exact content match wins. Otherwise the candidate whose line set leaves
// the fewest live lines unexplained is returned. Ties are broken by choosing
// the lexically smallest path. The only errors returned come from ctx.
func (m *Matcher) Match(ctx context.Context, live *LiveSnapshot, cache *Cache) (MatchResult, error) {
	paths := cache.BasePaths()
	if len(paths) == 0 {
		return MatchResult{Kind: MatchNone, Reason: "no base device trees were found"}, nil
	}

	cands, err := pool.Run(ctx, m.workers, paths, func(ctx context.Context, p string) (candidate, error) {
		text, err := m.c.Decompile(ctx, p)
		if err != nil {
			var de *DecodeError
			if errors.As(err, &de) {
				glog.V(1).Infof("Not matching against %q: %v", p, err)
				return candidate{}, pool.ErrSkip
			}
			return candidate{}, err
		}
		return candidate{hash: sha256.Sum256([]byte(text)), lines: lineSet(text)}, nil
	})
	if err != nil {
		return MatchResult{}, err
	}
	if len(cands) == 0 {
		return MatchResult{Kind: MatchNone, Reason: fmt.Sprintf("none of the %d base device trees could be decompiled", len(paths))}, nil
	}

	for _, p := range paths {
		if c, ok := cands[p]; ok && c.hash == live.Hash {
			return MatchResult{Kind: MatchExact, Path: p}, nil
		}
	}

	liveLines := lineSet(live.Text)
	best := MatchResult{Kind: MatchNone}
	for _, p := range paths {
		c, ok := cands[p]
		if !ok {
			continue
		}
		diff := difference(liveLines, c.lines)
		if best.Kind == MatchNone || len(diff) < len(best.OverlayDiff) {
			best = MatchResult{Kind: MatchNearest, Path: p, OverlayDiff: diff}
		}
	}
	glog.V(1).Infof("Nearest base for live tree: %s", best)
	return best, nil
}

// lineSet returns the distinct non-blank lines of text, trimmed.
func lineSet(text string) map[string]struct{} {
	s := make(map[string]struct{})
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			s[l] = struct{}{}
		}
	}
	return s
}

// difference returns the sorted elements of a missing from b.
func difference(a, b map[string]struct{}) []string {
	out := []string{}
	for l := range a {
		if _, ok := b[l]; !ok {
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}
