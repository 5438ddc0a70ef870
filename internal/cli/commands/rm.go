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

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm IMAGE PATH",
	Short: "Remove a file or empty directory from an image",
	Long: `Mount an image and remove one file or one empty directory. Non-empty
directories are refused.

Examples:
  devinefs rm scratch.img /notes.txt
  devinefs rm scratch.img /var/log`,
	Args: cobra.ExactArgs(2),
	RunE: runRm,
}

func init() {
	rootCmd.AddCommand(rmCmd)
}

func runRm(cmd *cobra.Command, args []string) error {
	return withImage(args[0], false, func(img *mountedImage) error {
		if err := img.adapter(false).Remove(args[1]); err != nil {
			return fmt.Errorf("remove %s: %w", args[1], err)
		}
		return nil
	})
}
