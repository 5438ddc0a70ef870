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

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var infoGroups bool

var infoCmd = &cobra.Command{
	Use:   "info IMAGE",
	Short: "Show filesystem geometry and free space",
	Long: `Mount an image read-only and print its superblock geometry, free counts
and, with --groups, the per-group descriptor table.

Examples:
  devinefs info scratch.img
  devinefs info --groups scratch.img`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolVar(&infoGroups, "groups", false, "Include the block group descriptor table")
}

func runInfo(cmd *cobra.Command, args []string) error {
	return withImage(args[0], true, func(img *mountedImage) error {
		sb := img.fs.Superblock()

		fmt.Printf("Image: %s\n", args[0])
		if label := sb.VolumeLabel(); label != "" {
			fmt.Printf("Volume: %s\n", label)
		}
		fmt.Printf("UUID: %s\n", uuid.UUID(sb.UUID).String())
		fmt.Printf("Block size: %d\n", sb.BlockSize())
		fmt.Printf("Blocks: %d total, %d free\n", sb.BlocksCount, sb.FreeBlocksCount)
		fmt.Printf("Inodes: %d total, %d free\n", sb.InodesCount, sb.FreeInodesCount)
		fmt.Printf("Groups: %d (%d blocks, %d inodes per group)\n",
			len(img.fs.GroupDescs()), sb.BlocksPerGroup, sb.InodesPerGroup)
		fmt.Printf("First data block: %d\n", sb.FirstDataBlock)
		fmt.Printf("First usable inode: %d\n", sb.FirstIno)

		if infoGroups {
			fmt.Printf("\nGroup  BlockBitmap  InodeBitmap  InodeTable  FreeBlocks  FreeInodes  Dirs\n")
			for i, g := range img.fs.GroupDescs() {
				fmt.Printf("%-5d  %-11d  %-11d  %-10d  %-10d  %-10d  %d\n",
					i, g.BlockBitmap, g.InodeBitmap, g.InodeTable,
					g.FreeBlocksCount, g.FreeInodesCount, g.UsedDirsCount)
			}
		}
		return nil
	})
}
