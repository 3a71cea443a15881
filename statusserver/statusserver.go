// Package statusserver exposes the progress of a running playback to
// supervisors: a gRPC health service and an HTTP endpoint serving
// Prometheus metrics and a JSON health document.
package statusserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xiaonanln/wpeplayback/playback"
	"github.com/xiaonanln/wpeplayback/util/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported besides the overall "" service.
const ServiceName = "wpeplayback.Playback"

// Config selects the listen addresses. An empty address disables that server.
type Config struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
}

// HealthResponse is the /healthz document.
type HealthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
	Error  string `json:"error,omitempty"`
}

// Server reports the playback state. It implements playback.Observer.
type Server struct {
	cfg    Config
	health *health.Server
	logger *logger.Logger

	grpcServer *grpc.Server
	grpcLis    net.Listener
	httpServer *http.Server
	httpLis    net.Listener
	wg         sync.WaitGroup

	mu    sync.RWMutex
	state playback.State
	err   error
}

var _ playback.Observer = (*Server)(nil)

func New(cfg Config) *Server {
	s := &Server{
		cfg:    cfg,
		health: health.NewServer(),
		logger: logger.NewLogger("StatusServer"),
		state:  playback.NotStarted,
	}
	s.setServing(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Start listens on the configured addresses and serves in the background.
func (s *Server) Start() error {
	if s.cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.GRPCAddr, err)
		}
		s.grpcLis = lis
		s.grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(s.grpcServer, s.health)
		reflection.Register(s.grpcServer)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Infof("gRPC health server listening on %s", lis.Addr())
			if err := s.grpcServer.Serve(lis); err != nil {
				s.logger.Errorf("gRPC server error: %v", err)
			}
		}()
	}

	if s.cfg.HTTPAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			s.Stop()
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.HTTPAddr, err)
		}
		s.httpLis = lis
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", s.handleHealthz)
		s.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Infof("HTTP status server listening on %s", lis.Addr())
			if err := s.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
				s.logger.Errorf("HTTP server error: %v", err)
			}
		}()
	}
	return nil
}

// GRPCAddr returns the bound gRPC address, or "" when disabled.
func (s *Server) GRPCAddr() string {
	if s.grpcLis == nil {
		return ""
	}
	return s.grpcLis.Addr().String()
}

// HTTPAddr returns the bound HTTP address, or "" when disabled.
func (s *Server) HTTPAddr() string {
	if s.httpLis == nil {
		return ""
	}
	return s.httpLis.Addr().String()
}

// Stop shuts both servers down and waits for them.
func (s *Server) Stop() {
	s.health.Shutdown()
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Errorf("HTTP server shutdown error: %v", err)
		}
		cancel()
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	s.wg.Wait()
}

func (s *Server) OnStateChange(_, to playback.State) {
	s.mu.Lock()
	s.state = to
	failed := s.err != nil
	s.mu.Unlock()

	if !failed && to >= playback.Connected {
		s.setServing(healthpb.HealthCheckResponse_SERVING)
	}
}

func (s *Server) OnFailure(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.setServing(healthpb.HealthCheckResponse_NOT_SERVING)
}

// Health returns the current /healthz document and its HTTP status code.
func (s *Server) Health() (HealthResponse, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp := HealthResponse{Status: "ok", State: s.state.String()}
	if s.err != nil {
		resp.Status = "failed"
		resp.Error = s.err.Error()
		return resp, http.StatusServiceUnavailable
	}
	return resp, http.StatusOK
}

func (s *Server) setServing(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp, code := s.Health()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Errorf("Failed to encode JSON response: %v", err)
	}
}
