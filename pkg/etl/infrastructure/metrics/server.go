package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tigerroll/citybike/pkg/etl/support/util/logger"
)

// AdminServer serves /healthz and, with a registry, /metrics.
type AdminServer struct {
	srv *http.Server
}

func NewAdminServer(addr string, registry *prometheus.Registry) *AdminServer {
	return &AdminServer{srv: &http.Server{
		Addr:              addr,
		Handler:           NewAdminRouter(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// NewAdminRouter builds the admin routes.
func NewAdminRouter(registry *prometheus.Registry) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})).Methods(http.MethodGet)
	}
	return r
}

// Start listens and serves in the background.
func (s *AdminServer) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	logger.Infof("Admin server listening on %s.", ln.Addr())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Admin server stopped: %v", err)
		}
	}()
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
