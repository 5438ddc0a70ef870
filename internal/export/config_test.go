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

package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarkarsachib/devine-kernel/internal/blockcache"
)

func TestDefaultServeConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultServeConfig()
	assert.Equal(t, ":20490", cfg.Addr)
	assert.Equal(t, blockcache.DefaultSlots, cfg.CacheSlots)
	assert.False(t, cfg.ReadOnly)
}

func TestLoadServeConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "serve.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: \"127.0.0.1:31049\"\ncache_slots: 64\nread_only: true\n"), 0644))

	cfg, err := LoadServeConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:31049", cfg.Addr)
	assert.Equal(t, 64, cfg.CacheSlots)
	assert.True(t, cfg.ReadOnly)
}

func TestLoadServeConfigAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "serve.yaml")
	require.NoError(t, os.WriteFile(path, []byte("read_only: true\n"), 0644))

	cfg, err := LoadServeConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":20490", cfg.Addr)
	assert.Equal(t, blockcache.DefaultSlots, cfg.CacheSlots)
	assert.True(t, cfg.ReadOnly)
}

func TestLoadServeConfigEmptyPath(t *testing.T) {
	t.Parallel()

	cfg, err := LoadServeConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultServeConfig(), cfg)
}

func TestLoadServeConfigMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadServeConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadServeConfigBadYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "serve.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: [\n"), 0644))

	_, err := LoadServeConfig(path)
	assert.Error(t, err)
}
