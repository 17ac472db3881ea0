/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/carverauto/adapterhub/pkg/logger"
)

var errServerStarted = errors.New("health server already started")

// HealthServer exposes the standard gRPC health service. The empty service
// name reports overall process health; each protocol type reports its own.
type HealthServer struct {
	addr   string
	srv    *grpc.Server
	health *health.Server
	logger logger.Logger

	mu      sync.Mutex
	started bool
}

// NewHealthServer creates a health server bound to addr on Start.
func NewHealthServer(addr string, log logger.Logger) *HealthServer {
	h := &HealthServer{
		addr:   addr,
		srv:    grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler())),
		health: health.NewServer(),
		logger: log,
	}

	healthpb.RegisterHealthServer(h.srv, h.health)
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return h
}

// SetServing marks service as serving or not serving.
func (h *HealthServer) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}

	h.health.SetServingStatus(service, status)
}

// Health returns the underlying health server.
func (h *HealthServer) Health() *health.Server {
	return h.health
}

// Start listens and serves in the background until ctx is done.
func (h *HealthServer) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return errServerStarted
	}

	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}

	h.started = true
	h.addr = lis.Addr().String()

	go func() {
		if serveErr := h.srv.Serve(lis); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			h.logger.Error().Err(serveErr).Str("addr", h.addr).Msg("Health server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		h.Stop()
	}()

	h.logger.Info().Str("addr", h.addr).Msg("Health server listening")

	return nil
}

// Addr reports the listen address; after Start it is the bound address.
func (h *HealthServer) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.addr
}

// Stop marks every service not serving and stops the gRPC server.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.srv.GracefulStop()
}
