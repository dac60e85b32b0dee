package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atrep123/dmx-core/errors"
)

// Start brings the pipeline up in dependency order and serves HTTP until the
// parent context is cancelled: engine state and the output scheduler are
// already live from New; then the hub, fade ticker, sACN listener, MQTT
// session, serial input, fixture watcher, and finally the HTTP/WS listener.
func (s *Server) Start(parent context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.wg.Add(1)
	go s.runHub()

	if s.fade != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.fade.Run(s.ctx)
		}()
	}

	if s.sacnRecv != nil {
		if err := s.sacnRecv.Listen(); err != nil {
			return errors.Wrap(err, "failed to bind sACN listener")
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.sacnRecv.Run(s.ctx)
		}()
	}

	if s.mqtt != nil {
		if err := s.mqtt.Connect(); err != nil {
			return errors.Wrap(err, "failed to start MQTT client")
		}
	}

	if s.dmxIn != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.dmxIn.Run(s.ctx); err != nil {
				s.log.Errorw("DMX input reader failed", "error", err)
			}
		}()
	}

	var watcherClose func() error
	if s.mapper != nil && s.cfg.Fixtures.WatchFiles {
		closer, err := s.mapper.Watch()
		if err != nil {
			s.log.Warnw("Fixture watcher unavailable", "error", err)
		} else {
			watcherClose = closer
		}
	}

	s.ready = true
	s.log.Infow("Server ready", "addr", addr,
		"output_mode", string(s.cfg.Output.Mode),
		"sacn", s.cfg.SACN.Enabled,
		"fades", s.cfg.Fades.Enabled,
		"mqtt", s.cfg.MQTT.Enabled,
	)

	g, gctx := errgroup.WithContext(parent)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.shutdown(httpServer, watcherClose)
		return nil
	})
	return g.Wait()
}

// shutdown reverses the startup order with a bounded grace period: stop
// accepting HTTP and drain in-flight acks, cancel the loops, flush a final
// output frame per universe, then close transports and persist the dedupe
// cache.
func (s *Server) shutdown(httpServer *http.Server, watcherClose func() error) {
	s.log.Infow("Shutting down")
	s.ready = false

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancelDrain()
	if err := httpServer.Shutdown(drainCtx); err != nil {
		s.log.Warnw("HTTP drain incomplete", "error", err)
	}

	// Stops the hub, fade ticker, sACN receiver and serial input at their
	// next suspension point.
	s.cancel()
	s.wg.Wait()

	if watcherClose != nil {
		_ = watcherClose()
	}

	if s.scheduler != nil {
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), 2*time.Second)
		s.scheduler.FlushAll(flushCtx)
		cancelFlush()
		if err := s.scheduler.Close(); err != nil {
			s.log.Warnw("Output close failed", "error", err)
		}
	}

	if s.mqtt != nil {
		s.mqtt.Close()
	}

	s.deduper.Persist()
	s.log.Infow("Shutdown complete")
}
