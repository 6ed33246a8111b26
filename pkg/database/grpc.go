package database

import (
	"fmt"
	"net"

	"realtime_chat_service/pkg/logger"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer grpc server exposing grpc.health.v1 for probes
type HealthServer struct {
	Server *grpc.Server
	Health *health.Server
	lis    net.Listener
}

// NewHealthServer listen on port and register the health service
func NewHealthServer(port string) (*HealthServer, error) {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", port, err)
	}
	s := grpc.NewServer()
	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)
	return &HealthServer{Server: s, Health: h, lis: lis}, nil
}

// SetServing report service status; "" is the whole server
func (h *HealthServer) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.Health.SetServingStatus(service, status)
}

// Serve block until Stop
func (h *HealthServer) Serve() {
	logger.Log.Info("grpc health listening", zap.String("addr", h.lis.Addr().String()))
	if err := h.Server.Serve(h.lis); err != nil {
		logger.Log.Error("grpc serve", zap.Error(err))
	}
}

// Stop graceful stop
func (h *HealthServer) Stop() {
	h.Health.Shutdown()
	h.Server.GracefulStop()
}
