package health

import (
	"context"
	"sort"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"tracelink-lab/pkg/logger"
)

// ServiceName is the health-check name of the search service
const ServiceName = "tracelink.v1.SearchService"

// Probe reports whether one dependency is reachable
type Probe func(ctx context.Context) error

// Checker keeps the gRPC health status in line with dependency probes
type Checker struct {
	server   *health.Server
	probes   map[string]Probe
	interval time.Duration
	logger   *logger.Logger
}

// Register registers the gRPC health check service. Nil probes are skipped.
func Register(grpcServer *grpc.Server, probes map[string]Probe, interval time.Duration, log *logger.Logger) *Checker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	c := &Checker{
		server:   health.NewServer(),
		probes:   make(map[string]Probe, len(probes)),
		interval: interval,
		logger:   log.WithComponent("grpc-health"),
	}
	for name, p := range probes {
		if p != nil {
			c.probes[name] = p
		}
	}

	c.setStatus(grpc_health_v1.HealthCheckResponse_SERVING)
	if grpcServer != nil {
		grpc_health_v1.RegisterHealthServer(grpcServer, c.server)
	}
	return c
}

// Server exposes the underlying health server
func (c *Checker) Server() *health.Server {
	return c.server
}

// Run probes dependencies every interval until ctx is done
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.Check(ctx)
		select {
		case <-ctx.Done():
			c.server.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

// Check runs every probe once and updates the serving status.
// It returns the names of failing dependencies.
func (c *Checker) Check(ctx context.Context) []string {
	var failing []string
	for name, probe := range c.probes {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := probe(pctx)
		cancel()
		if err != nil {
			c.logger.Warn().Err(err).Str("dependency", name).Msg("health probe failed")
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)

	if len(failing) == 0 {
		c.setStatus(grpc_health_v1.HealthCheckResponse_SERVING)
	} else {
		c.setStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	return failing
}

func (c *Checker) setStatus(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	c.server.SetServingStatus("", status)
	c.server.SetServingStatus(ServiceName, status)
}
