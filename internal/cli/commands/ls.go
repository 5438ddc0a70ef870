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
	"sort"

	"github.com/spf13/cobra"
)

var lsLong bool

var lsCmd = &cobra.Command{
	Use:   "ls IMAGE [PATH]",
	Short: "List a directory inside an image",
	Long: `Mount an image read-only and list a directory. Without PATH the root
directory is listed.

Examples:
  devinefs ls scratch.img
  devinefs ls -l scratch.img /etc`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runLs,
}

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().BoolVarP(&lsLong, "long", "l", false, "Long format: mode, size, mtime")
}

func runLs(cmd *cobra.Command, args []string) error {
	dir := "/"
	if len(args) > 1 {
		dir = args[1]
	}
	return withImage(args[0], true, func(img *mountedImage) error {
		infos, err := img.adapter(true).ReadDir(dir)
		if err != nil {
			return fmt.Errorf("list %s: %w", dir, err)
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

		for _, fi := range infos {
			if lsLong {
				fmt.Printf("%s  %8d  %s  %s\n",
					fi.Mode(), fi.Size(), fi.ModTime().Format("2006-01-02 15:04"), fi.Name())
			} else {
				fmt.Println(fi.Name())
			}
		}
		return nil
	})
}
