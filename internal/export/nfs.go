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

// Package export serves a billy filesystem over NFSv3 so a host kernel can
// mount an image through localhost.
package export

import (
	"context"
	"fmt"
	"net"
	"time"

	billy "github.com/go-git/go-billy/v5"
	log "github.com/sirupsen/logrus"
	nfs "github.com/willscott/go-nfs"
	nfshelper "github.com/willscott/go-nfs/helpers"

	"github.com/sarkarsachib/devine-kernel/internal/common"
	"github.com/sarkarsachib/devine-kernel/internal/util"
)

// handleCacheSize bounds the NFS file-handle cache. Handles past the bound
// are evicted and clients holding them get a stale-handle error, so the
// bound stays generous.
const handleCacheSize = 65536

// NFSServer wraps the go-nfs server around a billy filesystem.
type NFSServer struct {
	listener net.Listener
	server   *nfs.Server
	handler  nfs.Handler
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewNFSServer builds an NFS server for the given filesystem. The handler
// chain is null-auth (every AUTH_UNIX identity is accepted) with a caching
// layer that pins file handles across RPCs.
func NewNFSServer(bfs billy.Filesystem) *NFSServer {
	// Propagate the process log level into go-nfs.
	if log.IsLevelEnabled(log.TraceLevel) {
		nfs.Log.SetLevel(nfs.TraceLevel)
	} else if log.IsLevelEnabled(log.DebugLevel) {
		nfs.Log.SetLevel(nfs.DebugLevel)
	}
	handler := nfshelper.NewNullAuthHandler(bfs)
	cacheHelper := nfshelper.NewCachingHandler(handler, handleCacheSize)

	ctx, cancel := context.WithCancel(context.Background())
	server := &nfs.Server{
		Handler: cacheHelper,
		Context: ctx,
	}

	return &NFSServer{
		server:  server,
		handler: cacheHelper,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Bind acquires the listen socket, retrying with backoff while the address
// is in use: a previous server on the same port can hold it for a moment
// after shutdown. The serve loop itself is never retried.
func (s *NFSServer) Bind(ctx context.Context, addr string) (net.Addr, error) {
	listener, err := util.RetryWithResult(ctx, func() (net.Listener, error) {
		return net.Listen("tcp", addr)
	}, util.BindRetryOptions(ctx)...)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = listener
	return listener.Addr(), nil
}

// Serve runs the accept loop on the bound listener until it closes.
func (s *NFSServer) Serve() error {
	if s.listener == nil {
		return fmt.Errorf("serve before bind: %w", common.ErrInvalidArgument)
	}
	log.Infof("[NFS] serving on %s", s.listener.Addr())
	return s.server.Serve(s.listener)
}

// ServeListener serves on an externally bound listener.
func (s *NFSServer) ServeListener(listener net.Listener) error {
	s.listener = listener
	return s.Serve()
}

// Addr returns the bound address, or nil before Bind.
func (s *NFSServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops the server gracefully.
func (s *NFSServer) Shutdown() {
	// Close the listener first to stop accepting new connections.
	if s.listener != nil {
		s.listener.Close()
	}

	// Settle time for RPCs already in flight when the listener closed.
	time.Sleep(100 * time.Millisecond)

	// Cancel context to signal handlers to stop.
	if s.cancel != nil {
		s.cancel()
	}

	close(s.done)
}

// Done is closed once Shutdown completes.
func (s *NFSServer) Done() <-chan struct{} {
	return s.done
}
