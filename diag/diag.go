// Package diag implements the optional diagnostics HTTP server: JSON
// snapshots of engine/buffer/worker state for host-side tooling to poll
// without reaching into engine internals directly.
package diag

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/reel/certs"
	"github.com/zsiec/reel/config"
	"github.com/zsiec/reel/engine"
	"github.com/zsiec/reel/logger"
)

// Server serves the /debug/engine, /debug/buffers, and /debug/workers JSON
// endpoints described in spec.md, plus the Prometheus /metrics endpoint
// when metrics collection is enabled.
type Server struct {
	cfg config.DiagConfig
	eng *engine.Engine
	log logger.Logger

	httpSrv *http.Server
}

// New constructs a Server for eng. If log is nil, logger.NopLogger is used.
// metricsCfg controls whether and where the Prometheus handler is mounted
// on the same mux; pass a zero config to skip it.
func New(cfg config.DiagConfig, metricsCfg config.MetricsConfig, eng *engine.Engine, log logger.Logger) *Server {
	if log == nil {
		log = logger.NopLogger{}
	}
	mux := http.NewServeMux()
	s := &Server{cfg: cfg, eng: eng, log: log.WithField("component", "diag")}

	mux.HandleFunc("/debug/engine", s.handleEngine)
	mux.HandleFunc("/debug/buffers", s.handleBuffers)
	mux.HandleFunc("/debug/workers", s.handleWorkers)

	if metricsCfg.Enabled {
		path := metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, promhttp.Handler())
	}

	s.httpSrv = &http.Server{Addr: cfg.Addr, Handler: mux}
	return s
}

// Start begins serving until ctx is cancelled. If cfg.Enabled is false,
// Start returns immediately without listening. TLS is served from
// cfg.TLSCert/TLSKey when both are set, else from a generated self-signed
// certificate.
func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}

	go func() {
		<-ctx.Done()
		_ = s.httpSrv.Close()
	}()

	if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
		s.log.WithField("addr", s.cfg.Addr).Info("diagnostics server listening")
		err := s.httpSrv.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}

	cert, err := certs.Generate(0)
	if err != nil {
		return err
	}
	s.httpSrv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert.TLSCert}}

	s.log.WithField("addr", s.cfg.Addr).Info("diagnostics server listening (self-signed)")
	err = s.httpSrv.ListenAndServeTLS("", "")
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the server down immediately.
func (s *Server) Close() error { return s.httpSrv.Close() }

func (s *Server) handleEngine(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.eng.DebugEngine())
}

func (s *Server) handleBuffers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.eng.DebugBuffers())
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.eng.DebugWorkers())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
