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
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sarkarsachib/devine-kernel/internal/blockcache"
)

// ServeConfig controls how an image is exported.
type ServeConfig struct {
	Addr       string `yaml:"addr"`        // listen address (default ":20490", the unprivileged stand-in for 2049)
	CacheSlots int    `yaml:"cache_slots"` // block cache slots for the served image (default 256)
	ReadOnly   bool   `yaml:"read_only"`   // export without write capabilities
}

// ApplyDefaults fills zero-value fields with their defaults.
func (cfg *ServeConfig) ApplyDefaults() {
	if cfg.Addr == "" {
		cfg.Addr = ":20490"
	}
	if cfg.CacheSlots == 0 {
		cfg.CacheSlots = blockcache.DefaultSlots
	}
}

// DefaultServeConfig returns a config with every default applied.
func DefaultServeConfig() *ServeConfig {
	cfg := &ServeConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// LoadServeConfig reads a YAML config file. An empty path yields the
// defaults; a named file must exist and parse.
func LoadServeConfig(path string) (*ServeConfig, error) {
	if path == "" {
		return DefaultServeConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg ServeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}
