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

package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sarkarsachib/devine-kernel/internal/blockdev"
	"github.com/sarkarsachib/devine-kernel/internal/ext2"
)

var (
	mkfsSize           string
	mkfsBlocks         uint64
	mkfsBlockSize      uint32
	mkfsBlocksPerGroup uint32
	mkfsInodesPerGroup uint32
	mkfsVolume         string
	mkfsProfile        string
	mkfsForce          bool
)

var mkfsCmd = &cobra.Command{
	Use:   "mkfs IMAGE",
	Short: "Create and format a new image file",
	Long: `Create an image file and write a fresh filesystem into it: superblock,
group descriptors, bitmaps, inode tables and the root directory.

Geometry comes from flags or from a YAML profile; flags win over the
profile. The image size is given either as --size with a unit suffix or as
an exact --blocks count.

Examples:
  devinefs mkfs --size 16M scratch.img
  devinefs mkfs --size 64M --block-size 4096 --volume data data.img
  devinefs mkfs --blocks 8192 --inodes-per-group 256 small.img
  devinefs mkfs --profile ci.yaml --force ci.img`,
	Args: cobra.ExactArgs(1),
	RunE: runMkfs,
}

func init() {
	rootCmd.AddCommand(mkfsCmd)
	mkfsCmd.Flags().StringVarP(&mkfsSize, "size", "s", "", "Image size with unit suffix (K, M, G)")
	mkfsCmd.Flags().Uint64Var(&mkfsBlocks, "blocks", 0, "Exact number of blocks (alternative to --size)")
	mkfsCmd.Flags().Uint32Var(&mkfsBlockSize, "block-size", 0, "Block size: 1024, 2048 or 4096 (default 1024)")
	mkfsCmd.Flags().Uint32Var(&mkfsBlocksPerGroup, "blocks-per-group", 0, "Blocks per block group (default 8x block size)")
	mkfsCmd.Flags().Uint32Var(&mkfsInodesPerGroup, "inodes-per-group", 0, "Inodes per block group (default 128)")
	mkfsCmd.Flags().StringVar(&mkfsVolume, "volume", "", "Volume label (up to 16 bytes)")
	mkfsCmd.Flags().StringVar(&mkfsProfile, "profile", "", "YAML file with geometry defaults")
	mkfsCmd.Flags().BoolVarP(&mkfsForce, "force", "f", false, "Overwrite an existing image file")
}

// formatProfile is the YAML shape of a mkfs geometry profile.
type formatProfile struct {
	Size           string `yaml:"size"`
	Blocks         uint64 `yaml:"blocks"`
	BlockSize      uint32 `yaml:"block_size"`
	BlocksPerGroup uint32 `yaml:"blocks_per_group"`
	InodesPerGroup uint32 `yaml:"inodes_per_group"`
	Volume         string `yaml:"volume"`
}

func loadFormatProfile(path string) (*formatProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var p formatProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return &p, nil
}

func runMkfs(cmd *cobra.Command, args []string) error {
	image := args[0]

	// Profile values fill in anything the flags left unset.
	if mkfsProfile != "" {
		p, err := loadFormatProfile(mkfsProfile)
		if err != nil {
			return err
		}
		if mkfsSize == "" {
			mkfsSize = p.Size
		}
		if mkfsBlocks == 0 {
			mkfsBlocks = p.Blocks
		}
		if mkfsBlockSize == 0 {
			mkfsBlockSize = p.BlockSize
		}
		if mkfsBlocksPerGroup == 0 {
			mkfsBlocksPerGroup = p.BlocksPerGroup
		}
		if mkfsInodesPerGroup == 0 {
			mkfsInodesPerGroup = p.InodesPerGroup
		}
		if mkfsVolume == "" {
			mkfsVolume = p.Volume
		}
	}
	if mkfsBlockSize == 0 {
		mkfsBlockSize = 1024
	}

	numBlocks, err := resolveBlockCount(mkfsSize, mkfsBlocks, mkfsBlockSize)
	if err != nil {
		return err
	}

	if _, err := os.Stat(image); err == nil && !mkfsForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", image)
	}

	dev, err := blockdev.CreateFileDisk(image, mkfsBlockSize, numBlocks)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	defer dev.Close()

	opts := ext2.FormatOptions{
		BlocksPerGroup: mkfsBlocksPerGroup,
		InodesPerGroup: mkfsInodesPerGroup,
		VolumeName:     mkfsVolume,
	}
	if err := ext2.Format(dev, opts); err != nil {
		os.Remove(image)
		return fmt.Errorf("format: %w", err)
	}

	fmt.Printf("Formatted %s: %d blocks of %d bytes (%s)\n",
		image, numBlocks, mkfsBlockSize, formatByteSize(numBlocks*uint64(mkfsBlockSize)))
	return nil
}

// resolveBlockCount turns --size or --blocks into a block count. Exactly
// one of the two must be set.
func resolveBlockCount(size string, blocks uint64, blockSize uint32) (uint64, error) {
	switch {
	case size != "" && blocks != 0:
		return 0, fmt.Errorf("--size and --blocks are mutually exclusive")
	case size == "" && blocks == 0:
		return 0, fmt.Errorf("either --size or --blocks is required")
	case blocks != 0:
		return blocks, nil
	}

	bytes, err := parseByteSize(size)
	if err != nil {
		return 0, err
	}
	if bytes%uint64(blockSize) != 0 {
		return 0, fmt.Errorf("size %s is not a multiple of the %d-byte block size", size, blockSize)
	}
	return bytes / uint64(blockSize), nil
}

// parseByteSize parses "16M"-style sizes. A bare number means bytes.
func parseByteSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := uint64(1)
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1 << 30
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}

// formatByteSize renders a byte count with the largest fitting unit.
func formatByteSize(n uint64) string {
	switch {
	case n >= 1<<30 && n%(1<<30) == 0:
		return fmt.Sprintf("%dG", n>>30)
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%dM", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%dK", n>>10)
	default:
		return fmt.Sprintf("%dB", n)
	}
}
