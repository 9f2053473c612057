package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService serves the standard gRPC health protocol for operators and
// orchestrators. The overall status ("") starts NOT_SERVING.
type HealthService struct {
	addr   string
	logger *zap.Logger
	grpc   *grpc.Server
	health *health.Server

	mu  sync.Mutex
	lis net.Listener
}

// NewHealthService creates a HealthService that will listen on addr.
//
// Precondition: logger must be non-nil.
// Postcondition: Returns a service with every status NOT_SERVING.
func NewHealthService(addr string, logger *zap.Logger) *HealthService {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthService{addr: addr, logger: logger, grpc: srv, health: hs}
}

// SetServing records the status of a named service; "" is the whole server.
func (h *HealthService) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(service, status)
}

// Start listens on the configured address and serves until Stop.
func (h *HealthService) Start() error {
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}
	h.mu.Lock()
	h.lis = lis
	h.mu.Unlock()

	h.logger.Info("health service listening", zap.String("addr", lis.Addr().String()))
	if err := h.grpc.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (h *HealthService) Stop() {
	h.health.Shutdown()
	h.grpc.GracefulStop()
}

// Addr returns the bound address, or "" before Start has listened.
func (h *HealthService) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lis == nil {
		return ""
	}
	return h.lis.Addr().String()
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// HealthMonitor runs a HealthCheck on an interval and publishes the result
// to a HealthService under a service name.
type HealthMonitor struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	check    HealthCheck
	status   *HealthService
	logger   *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// NewHealthMonitor creates a monitor for the named dependency.
//
// Precondition: interval and timeout must be > 0; check, status and logger must be non-nil.
func NewHealthMonitor(name string, interval, timeout time.Duration, check HealthCheck, status *HealthService, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		name:     name,
		interval: interval,
		timeout:  timeout,
		check:    check,
		status:   status,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start checks immediately and then every interval until Stop.
// Only status transitions are logged.
func (m *HealthMonitor) Start() error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	healthy := m.poll(nil)
	for {
		select {
		case <-m.stop:
			return nil
		case <-ticker.C:
			healthy = m.poll(&healthy)
		}
	}
}

// Stop ends the check loop. It is safe to call more than once.
func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *HealthMonitor) poll(prev *bool) bool {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	err := m.check(ctx)
	healthy := err == nil
	m.status.SetServing(m.name, healthy)

	if prev != nil && *prev == healthy {
		return healthy
	}
	if healthy {
		m.logger.Info("dependency healthy", zap.String("dependency", m.name))
	} else {
		m.logger.Warn("dependency health check failed", zap.String("dependency", m.name), zap.Error(err))
	}
	return healthy
}
