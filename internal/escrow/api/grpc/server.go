package grpc

import (
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/nemanja-m/escrowd/internal/escrow/service"
	"github.com/nemanja-m/escrowd/internal/shared/config"
	"github.com/nemanja-m/escrowd/internal/shared/logging"
)

// Server is the admin endpoint: grpc.health.v1 plus optional reflection.
type Server struct {
	addr       string
	grpcServer *grpc.Server
	health     *HealthStatus
	logger     logging.Logger
}

func NewServer(cfg config.GRPCConfig, logger logging.Logger) *Server {
	grpcServer := grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             cfg.KeepaliveMinTime,
			PermitWithoutStream: true,
		}),
	)

	status := NewHealthStatus(logger)
	healthpb.RegisterHealthServer(grpcServer, status.server)

	if cfg.EnableReflection {
		reflection.Register(grpcServer)
	}

	return &Server{
		addr:       cfg.Addr,
		grpcServer: grpcServer,
		health:     status,
		logger:     logger,
	}
}

// Health is the sink the health checker publishes to.
func (s *Server) Health() *HealthStatus {
	return s.health
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC admin server listening", "addr", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

func (s *Server) Stop() {
	s.health.server.Shutdown()
	s.grpcServer.GracefulStop()
}

var _ service.HealthSink = (*HealthStatus)(nil)

// HealthStatus maps component health onto grpc.health.v1 serving statuses.
// The overall ("") service serves only while every component does.
type HealthStatus struct {
	server *health.Server
	logger logging.Logger

	mu         sync.Mutex
	components map[string]bool
}

func NewHealthStatus(logger logging.Logger) *HealthStatus {
	h := &HealthStatus{
		server:     health.NewServer(),
		logger:     logger,
		components: make(map[string]bool),
	}
	for _, name := range []string{"", service.ComponentLedger, service.ComponentSequencer} {
		h.server.SetServingStatus(name, healthpb.HealthCheckResponse_UNKNOWN)
	}
	return h
}

func (h *HealthStatus) SetHealth(component string, healthy bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.components[component]; !ok || prev != healthy {
		h.logger.Info("Component health changed", "component", component, "healthy", healthy)
	}
	h.components[component] = healthy
	h.server.SetServingStatus(component, servingStatus(healthy))

	overall := true
	for _, ok := range h.components {
		overall = overall && ok
	}
	h.server.SetServingStatus("", servingStatus(overall))
}

func servingStatus(healthy bool) healthpb.HealthCheckResponse_ServingStatus {
	if healthy {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
