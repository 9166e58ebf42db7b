// Package statsserver is the optional live-stats HTTP collaborator
// (C13): a small github.com/gofiber/fiber/v2 app exposing the current
// cross-worker snapshot as JSON, following the route-per-view shape of
// dns-dashboard's handlers/api.go, reduced to the one resource this
// tool actually has — a live Snapshot — instead of a ClickHouse-backed
// dashboard.
package statsserver

import (
	"time"

	"dnsperf-go/internal/engine"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// SnapshotFunc returns the current aggregated stats; the server never
// touches worker internals directly, only this accessor.
type SnapshotFunc func() engine.Snapshot

// Server wraps a fiber app exposing GET /stats and GET /healthz.
type Server struct {
	app     *fiber.App
	snap    SnapshotFunc
	runID   string
	started time.Time
}

func New(runID string, started time.Time, snap SnapshotFunc, log *logrus.Logger) *Server {
	s := &Server{snap: snap, runID: runID, started: started}
	s.app = fiber.New(fiber.Config{DisableStartupMessage: true})
	s.app.Get("/healthz", s.healthz)
	s.app.Get("/stats", s.stats)
	return s
}

// Listen blocks serving on addr. The caller runs it in its own
// goroutine; returning from Listen (on Shutdown) is not an error.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown stops accepting new connections and drains in-flight ones.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) healthz(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "run_id": s.runID})
}

func (s *Server) stats(c *fiber.Ctx) error {
	snap := s.snap()
	elapsed := time.Since(s.started).Seconds()
	qps := 0.0
	if elapsed > 0 {
		qps = float64(snap.NumCompleted) / elapsed
	}
	return c.JSON(fiber.Map{
		"run_id":             s.runID,
		"elapsed_seconds":    elapsed,
		"num_sent":           snap.NumSent,
		"num_completed":      snap.NumCompleted,
		"num_timed_out":      snap.NumTimedOut,
		"num_interrupted":    snap.NumInterrupted,
		"num_unexpected":     snap.NumUnexpected,
		"num_short":          snap.NumShort,
		"queries_per_second": qps,
		"mean_latency_us":    snap.Mean(),
		"stddev_latency_us":  snap.Stddev(),
		"rcode_counts":       snap.RcodeCounts,
	})
}
