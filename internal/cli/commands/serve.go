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
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sarkarsachib/devine-kernel/internal/export"
)

var (
	serveAddr     string
	serveConfig   string
	serveReadOnly bool
)

var serveCmd = &cobra.Command{
	Use:   "serve IMAGE",
	Short: "Export an image over NFS",
	Long: `Mount an image and export it over NFSv3 until interrupted. The image
stays locked for the lifetime of the server; on SIGINT or SIGTERM the
filesystem is synced, unmounted and unlocked.

The export answers any AUTH_UNIX credential, so bind to localhost unless
the network is trusted.

Examples:
  devinefs serve scratch.img
  devinefs serve --addr 127.0.0.1:31049 scratch.img
  devinefs serve --config serve.yaml --read-only scratch.img`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default :20490)")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "YAML config file")
	serveCmd.Flags().BoolVar(&serveReadOnly, "read-only", false, "Export without write access")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := export.LoadServeConfig(serveConfig)
	if err != nil {
		return err
	}

	// Flags override the config file.
	if cmd.Flags().Changed("addr") {
		cfg.Addr = serveAddr
	}
	if cmd.Flags().Changed("read-only") {
		cfg.ReadOnly = serveReadOnly
	}

	img, err := openImage(args[0], cfg.CacheSlots, cfg.ReadOnly)
	if err != nil {
		return err
	}

	server := export.NewNFSServer(img.adapter(cfg.ReadOnly))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr, err := server.Bind(ctx, cfg.Addr)
	if err != nil {
		img.close()
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve() }()

	fmt.Printf("Serving %s on %s (read-only: %v)\n", args[0], addr, cfg.ReadOnly)
	if tcp, ok := addr.(*net.TCPAddr); ok {
		fmt.Printf("Mount with:\n  mount -t nfs -o port=%d,mountport=%d,tcp,nolock,vers=3 localhost:/ MOUNTPOINT\n",
			tcp.Port, tcp.Port)
	}

	select {
	case <-ctx.Done():
		fmt.Println("\nShutting down")
		server.Shutdown()
		// The accept loop returns once the listener closes; the error it
		// reports for its own closed socket is not worth surfacing.
		<-errCh
	case err := <-errCh:
		// The accept loop died without being asked to stop.
		img.close()
		return fmt.Errorf("serve on %s: %w", addr, err)
	}

	if err := img.close(); err != nil {
		return fmt.Errorf("unmount %s: %w", args[0], err)
	}
	return nil
}
