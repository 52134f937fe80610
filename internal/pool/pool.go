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

// Package pool runs batches of independent keyed tasks on a bounded number of
// workers and collects their results into a map.
package pool

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"
)

// ErrSkip may be returned by a Task to leave its key out of the result map
// without failing the batch.
var ErrSkip = errors.New("skip")

// Task computes the result for a single key.
type Task[T any] func(ctx context.Context, key string) (T, error)

// Run calls task once for every key, with at most workers calls in flight.
//
// Results are keyed by the key they were computed for, so the order in which
// tasks complete has no effect on the returned map. Tasks returning an error
// wrapping ErrSkip are dropped from the result. Any other error cancels the
// remaining tasks and is returned.
//
// If ctx is done before all tasks have completed, Run returns a nil map and
// the context error: a partially filled map is never returned.
func Run[T any](ctx context.Context, workers int, keys []string, task Task[T]) (map[string]T, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	results := make(map[string]T, len(keys))
	for i, k := range keys {
		if gctx.Err() != nil {
			glog.V(2).Infof("pool: stopping after %d of %d tasks were scheduled", i, len(keys))
			break
		}
		g.Go(func() error {
			r, err := task(gctx, k)
			if errors.Is(err, ErrSkip) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			results[k] = r
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
