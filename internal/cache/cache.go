// Copyright 2025 DevineFS Authors
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

// Package cache provides cache implementations for the devinefs VFS layer.
//
// Design principles:
//  1. Fine-grained invalidation - invalidate only affected paths, not the
//     whole cache
//  2. Single layer ownership - each cache lives in one layer, with no
//     cross-layer signaling
//
// Currently provides:
//   - LookupCache: path to inode-number cache with fine-grained invalidation
//     (used by the billy adapter)
//
// Block-level caching lives in the blockcache package; the two layers never
// share entries.
package cache

import "os"

// Disabled turns every cache in this package into a pass-through.
// Set via the DEVINEFS_CACHE=0 environment variable. When true:
//   - LookupCache.Get() always misses
//   - LookupCache.Set() is a no-op
//
// Useful for isolating cache-related bugs: behavior must be identical with
// caching off, only slower.
var Disabled = os.Getenv("DEVINEFS_CACHE") == "0"
