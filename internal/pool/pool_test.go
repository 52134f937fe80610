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

package pool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRun(t *testing.T) {
	for _, test := range []struct {
		desc    string
		workers int
		keys    []string
		task    Task[string]
		want    map[string]string
		wantErr bool
	}{
		{
			desc:    "all succeed",
			workers: 2,
			keys:    []string{"a", "b", "c"},
			task: func(_ context.Context, k string) (string, error) {
				return strings.ToUpper(k), nil
			},
			want: map[string]string{"a": "A", "b": "B", "c": "C"},
		}, {
			desc:    "skipped keys are dropped",
			workers: 1,
			keys:    []string{"a", "bad", "c"},
			task: func(_ context.Context, k string) (string, error) {
				if k == "bad" {
					return "", fmt.Errorf("decoding %q: %w", k, ErrSkip)
				}
				return k + k, nil
			},
			want: map[string]string{"a": "aa", "c": "cc"},
		}, {
			desc:    "default worker count",
			workers: 0,
			keys:    []string{"x"},
			task: func(_ context.Context, k string) (string, error) {
				return k, nil
			},
			want: map[string]string{"x": "x"},
		}, {
			desc:    "no keys",
			workers: 4,
			task: func(_ context.Context, k string) (string, error) {
				return k, nil
			},
			want: map[string]string{},
		}, {
			desc:    "hard error fails the batch",
			workers: 3,
			keys:    []string{"a", "b"},
			task: func(_ context.Context, k string) (string, error) {
				if k == "b" {
					return "", errors.New("boom")
				}
				return k, nil
			},
			wantErr: true,
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			got, err := Run(context.Background(), test.workers, test.keys, test.task)
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("Run() err = %v, want err %t", err, test.wantErr)
			}
			if test.wantErr {
				if got != nil {
					t.Errorf("Run() returned %v alongside an error, want nil", got)
				}
				return
			}
			if diff := cmp.Diff(test.want, got); len(diff) != 0 {
				t.Errorf("Run() diff (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	const workers = 2
	var inFlight, peak int32
	keys := make([]string, 20)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%02d", i)
	}
	_, err := Run(context.Background(), workers, keys, func(_ context.Context, k string) (int, error) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		return len(k), nil
	})
	if err != nil {
		t.Fatalf("Run(): %v", err)
	}
	if peak > workers {
		t.Errorf("peak concurrency %d exceeds %d workers", peak, workers)
	}
}

func TestRunCancelledReturnsNoData(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	got, err := Run(ctx, 1, []string{"a", "b", "c"}, func(ctx context.Context, k string) (string, error) {
		if k == "a" {
			cancel()
		}
		return k, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() err = %v, want %v", err, context.Canceled)
	}
	if got != nil {
		t.Errorf("Run() = %v, want nil map after cancellation", got)
	}
}
