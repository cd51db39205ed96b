package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/azmodb/concourse/pkg/metrics"
	"github.com/azmodb/concourse/pkg/obslog"
)

// runTransport is the single background transporter thread (spec
// section 4.5): it wakes every TransportInterval and drains up to
// TransportRate ready writes from the Buffer, handing each one
// individually to Database.Accept (the streaming discipline named by
// the spec's open question, not the batch/segment-merge one — see
// DESIGN.md). The Database's per-family locking keeps reads responsive
// while this runs. Returns nil on cancellation, the shape
// errgroup.Group expects from a supervised goroutine that runs until
// told to stop rather than until it fails.
func (e *Engine) runTransport(ctx context.Context) error {
	dest := databaseDestination{db: e.db}
	log := obslog.WithComponent("transport")
	ticker := time.NewTicker(e.cfg.TransportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			var transported int
			operation := func() error {
				n, err := e.buf.Transport(dest, e.cfg.TransportRate)
				if err != nil {
					log.Warn().Err(err).Msg("transport attempt failed, retrying")
					return err
				}
				transported = n
				return nil
			}

			bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
			err := backoff.Retry(operation, bo)

			atomic.StoreInt64(&e.lastProgressUnixNano, time.Now().UnixNano())
			e.mu.Lock()
			e.lastErr = err
			e.mu.Unlock()

			if err != nil {
				log.Error().Err(err).Msg("transport thread giving up this tick")
				continue
			}
			if transported > 0 {
				metrics.TransportBatchSize.WithLabelValues("buffer").Observe(float64(transported))
				metrics.BufferDepth.WithLabelValues("buffer").Set(float64(e.buf.PageCount()))
				log.Debug().Int("count", transported).Msg("transported writes into database")
			}
		}
	}
}

// runWatchdog inspects the transporter's last-progress timestamp every
// HungDetectionFrequency and flips the Engine's health verdict if it
// has not advanced within HungDetectionThreshold (spec section 4.5's
// HUNG_DETECTION_THRESHOLD_MS). The transporter loop here has no
// unbounded blocking call (backoff.Retry is bounded to 3 retries, 4 attempts in all), so
// recovering from "hung" is a matter of the next tick making progress
// rather than an actual goroutine restart.
func (e *Engine) runWatchdog(ctx context.Context) error {
	log := obslog.WithComponent("watchdog")
	ticker := time.NewTicker(e.cfg.HungDetectionFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			last := atomic.LoadInt64(&e.lastProgressUnixNano)
			idle := time.Since(time.Unix(0, last))

			e.mu.Lock()
			wasHung := e.hung
			e.hung = idle > e.cfg.HungDetectionThreshold
			becameHung := e.hung && !wasHung
			recovered := wasHung && !e.hung
			e.mu.Unlock()

			switch {
			case becameHung:
				metrics.HungDetectionsTotal.Inc()
				log.Warn().Dur("idle", idle).Msg("transporter thread appears hung")
			case recovered:
				log.Info().Msg("transporter thread resumed progress")
			case idle > e.cfg.AllowableInactivityThreshold:
				log.Debug().Dur("idle", idle).Msg("transporter idle past allowable inactivity threshold")
			}
		}
	}
}
