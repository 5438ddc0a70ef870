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

var putCmd = &cobra.Command{
	Use:   "put IMAGE LOCAL PATH",
	Short: "Copy a local file into an image",
	Long: `Mount an image, copy one local file to PATH inside it, sync, and
unmount. An existing file at PATH is overwritten.

Examples:
  devinefs put scratch.img ./notes.txt /notes.txt
  devinefs put scratch.img /etc/hosts /etc/hosts`,
	Args: cobra.ExactArgs(3),
	RunE: runPut,
}

func init() {
	rootCmd.AddCommand(putCmd)
}

func runPut(cmd *cobra.Command, args []string) error {
	local, err := os.Open(args[1])
	if err != nil {
		return fmt.Errorf("open %s: %w", args[1], err)
	}
	defer local.Close()

	return withImage(args[0], false, func(img *mountedImage) error {
		f, err := img.adapter(false).Create(args[2])
		if err != nil {
			return fmt.Errorf("create %s: %w", args[2], err)
		}

		n, err := io.Copy(f, local)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("copy to %s: %w", args[2], err)
		}

		fmt.Printf("Wrote %d bytes to %s\n", n, args[2])
		return nil
	})
}
