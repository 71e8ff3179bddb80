// Package telemetry exposes the pprof endpoint and lightweight timing
// helpers used around backup cycles and event dispatch.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/clearchain/policy-engine/common/logger"
)

// Telemetry runs the debug pprof server
type Telemetry struct {
	log *logger.Logger
	srv *http.Server
}

// New creates telemetry bound to localhost on the given port
func New(pprofPort int, log *logger.Logger) *Telemetry {
	return &Telemetry{
		log: log,
		srv: &http.Server{
			Addr:    fmt.Sprintf("localhost:%d", pprofPort),
			Handler: http.DefaultServeMux,
		},
	}
}

// Start serves pprof in the background
func (t *Telemetry) Start(ctx context.Context) error {
	go func() {
		t.log.Info("pprof server starting", "addr", t.srv.Addr)
		if err := t.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.log.Error("pprof server error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the pprof server down
func (t *Telemetry) Stop(ctx context.Context) error {
	return t.srv.Shutdown(ctx)
}

// RecordDuration logs how long an operation took
func (t *Telemetry) RecordDuration(operation string, start time.Time) {
	t.log.Debug("operation completed",
		"operation", operation,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
