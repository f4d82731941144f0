package daemon

import (
	"context"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/hubescolar/whatsapp/internal/bus"
	"github.com/hubescolar/whatsapp/internal/status"
)

// ServicePrefix prefixes per-session health service names.
const ServicePrefix = "session/"

// HealthServer serves grpc.health.v1 on a unix socket. The overall
// service ("") is SERVING while the daemon runs; "session/<id>" is
// SERVING exactly while that session is ready.
type HealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	bus        *bus.Bus
	logger     *zap.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHealthServer binds the health service to socketPath.
func NewHealthServer(socketPath string, b *bus.Bus, logger *zap.Logger) (*HealthServer, error) {
	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &HealthServer{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		bus:        b,
		logger:     logger.Named("health"),
	}, nil
}

// Start follows session state changes and serves in the background.
func (s *HealthServer) Start() {
	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})
	events, unsub := s.bus.Subscribe("session.", 64)
	go func() {
		defer close(s.done)
		defer unsub()
		for {
			select {
			case evt := <-events:
				s.apply(evt)
			case <-ctx.Done():
				return
			}
		}
	}()

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	go func() {
		s.logger.Info("gRPC health server starting", zap.String("socket", s.socketPath))
		if err := s.grpcServer.Serve(s.listener); err != nil {
			s.logger.Error("gRPC health server error", zap.Error(err))
		}
	}()
}

func (s *HealthServer) apply(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case status.StatusChange:
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if p.To == status.Ready {
			st = healthpb.HealthCheckResponse_SERVING
		}
		s.health.SetServingStatus(ServicePrefix+p.SessionID, st)
	case bus.SessionRemoved:
		s.health.SetServingStatus(ServicePrefix+p.SessionID, healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

// Stop marks everything NOT_SERVING, drains RPCs and removes the socket.
func (s *HealthServer) Stop(_ context.Context) {
	s.logger.Info("gRPC health server stopping")
	s.health.Shutdown()
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}
