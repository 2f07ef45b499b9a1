package monitoring

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/exchangelabs/exchanged/exchcfg"
)

// Exporter serves the metrics on their own listener for Prometheus scrapes.
type Exporter struct {
	cfg     *exchcfg.Prometheus
	metrics *Metrics

	started sync.Once
	server  *http.Server
}

// NewExporter creates an exporter for the metrics.
func NewExporter(cfg *exchcfg.Prometheus, metrics *Metrics) *Exporter {
	return &Exporter{cfg: cfg, metrics: metrics}
}

// Start launches the exporter if it is enabled.
func (e *Exporter) Start() error {
	if !e.cfg.Enabled() {
		return nil
	}

	var startErr error
	e.started.Do(func() {
		listener, err := net.Listen("tcp", e.cfg.Listen)
		if err != nil {
			startErr = err
			return
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", e.metrics.Handler())
		e.server = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		log.Infof("Prometheus exporter started on %v/metrics",
			listener.Addr())

		go func() {
			err := e.server.Serve(listener)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Prometheus exporter stopped: %v", err)
			}
		}()
	})

	return startErr
}

// Stop shuts the exporter down.
func (e *Exporter) Stop() error {
	if e.server == nil {
		return nil
	}

	return e.server.Close()
}
