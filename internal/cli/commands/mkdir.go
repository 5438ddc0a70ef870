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

	"github.com/spf13/cobra"
)

var mkdirMode uint32

var mkdirCmd = &cobra.Command{
	Use:   "mkdir IMAGE PATH",
	Short: "Create a directory inside an image",
	Long: `Mount an image and create a directory, including any missing parents.
Existing directories along the path are left alone.

Examples:
  devinefs mkdir scratch.img /var/log
  devinefs mkdir --mode 0700 scratch.img /secrets`,
	Args: cobra.ExactArgs(2),
	RunE: runMkdir,
}

func init() {
	rootCmd.AddCommand(mkdirCmd)
	mkdirCmd.Flags().Uint32Var(&mkdirMode, "mode", 0755, "Permission bits for created directories")
}

func runMkdir(cmd *cobra.Command, args []string) error {
	return withImage(args[0], false, func(img *mountedImage) error {
		if err := img.adapter(false).MkdirAll(args[1], os.FileMode(mkdirMode)); err != nil {
			return fmt.Errorf("mkdir %s: %w", args[1], err)
		}
		return nil
	})
}
