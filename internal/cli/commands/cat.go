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
	"io"
	"os"

	"github.com/spf13/cobra"
)

var catCmd = &cobra.Command{
	Use:   "cat IMAGE PATH",
	Short: "Print a file from an image to stdout",
	Long: `Mount an image read-only and copy one file to stdout.

Examples:
  devinefs cat scratch.img /etc/motd
  devinefs cat scratch.img /data.bin > data.bin`,
	Args: cobra.ExactArgs(2),
	RunE: runCat,
}

func init() {
	rootCmd.AddCommand(catCmd)
}

func runCat(cmd *cobra.Command, args []string) error {
	return withImage(args[0], true, func(img *mountedImage) error {
		f, err := img.adapter(true).Open(args[1])
		if err != nil {
			return fmt.Errorf("open %s: %w", args[1], err)
		}
		defer f.Close()

		if _, err := io.Copy(os.Stdout, f); err != nil {
			return fmt.Errorf("read %s: %w", args[1], err)
		}
		return nil
	})
}
