// Package lifecycle implements C10: constructing every singleton, starting
// the flush loop and HTTP listener, and draining in-flight work on
// shutdown, per spec.md §4.8.
package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/madkind/pixelboard/internal/apply"
	"github.com/madkind/pixelboard/internal/auth"
	"github.com/madkind/pixelboard/internal/batch"
	"github.com/madkind/pixelboard/internal/broadcast"
	"github.com/madkind/pixelboard/internal/cache"
	"github.com/madkind/pixelboard/internal/canvas"
	"github.com/madkind/pixelboard/internal/config"
	"github.com/madkind/pixelboard/internal/httpapi"
	"github.com/madkind/pixelboard/internal/ingress"
	"github.com/madkind/pixelboard/internal/limits"
	"github.com/madkind/pixelboard/internal/locks"
	"github.com/madkind/pixelboard/internal/metrics"
	"github.com/madkind/pixelboard/internal/monitoring"
	"github.com/madkind/pixelboard/internal/relay"
	"github.com/madkind/pixelboard/internal/storage"
)

// Server wires together every component named in spec.md §2 and runs them
// for the life of the process.
type Server struct {
	log zerolog.Logger
	cfg *config.Config

	store   storage.Store
	cache   cache.Cache
	relay   *relay.ClusterRelay
	httpSrv *http.Server

	broadcaster *broadcast.Broadcaster
	batcher     *batch.Batcher
	applier     *apply.Applier
	bucketLim   *limits.TokenBucketLimiter
	connLim     *limits.ConnectionRateLimiter

	sweepStop chan struct{}
}

// New constructs every singleton per spec.md §4.8's startup step. The
// Cache tier is optional (PX_REDIS_ADDR empty -> NopCache, fail-open);
// Persistence is mandatory, matching §7's "unrecoverable Persistence
// startup failure" being the one fatal error.
func New(cfg *config.Config, log zerolog.Logger) (*Server, error) {
	store, err := storage.OpenBoltStore(cfg.DataPath)
	if err != nil {
		return nil, fmt.Errorf("open persistence: %w", err)
	}

	var c cache.Cache = cache.NopCache{}
	if cfg.RedisAddr != "" {
		rc := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rc.Ping(context.Background()); err != nil {
			log.Warn().Err(err).Msg("redis cache unreachable at startup, continuing with fail-open behavior")
		}
		c = rc
	}

	lockIdx := locks.New(c, store, time.Duration(cfg.LockCacheTTLSec)*time.Second)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	broadcaster := broadcast.New(log, cfg.SubscriberQueueCap, m)

	bucketLim := limits.NewTokenBucketLimiter(cfg.BucketCapacity, cfg.BucketRefillPerSec, time.Duration(cfg.IdleBucketTTLSec)*time.Second)
	windowLim := limits.NewWindowCounterLimiter(c, int64(cfg.MinuteWindowMax), time.Minute)
	composite := limits.NewComposite(bucketLim, windowLim)

	connLim := limits.NewConnectionRateLimiter(cfg.ConnRateLimitIPBurst, cfg.ConnRateLimitIPRate, 10*time.Minute)

	var cr *relay.ClusterRelay
	if cfg.NATSURL != "" {
		cr, err = relay.Connect(log, cfg.NATSURL, cfg.NATSSubject, broadcaster)
		if err != nil {
			log.Warn().Err(err).Msg("cluster relay unavailable, continuing single-process")
			cr = nil
		}
	}

	var emptyFill canvas.EmptyColor
	if cfg.EmptyCanvasColor == "white" {
		emptyFill = canvas.EmptyWhite
	}

	var relayIface apply.Relay
	if cr != nil {
		relayIface = cr
	}

	alerter := monitoring.NewMulti(monitoring.NewConsoleAlerter(), monitoring.NewSlackAlerter(cfg.AlertSlackWebhook, "#pixelboard", "pixelboard"))

	applier := apply.New(log, cfg.CanvasWidth, cfg.CanvasHeight, emptyFill, time.Duration(cfg.CanvasCacheTTLSec)*time.Second, c, store, lockIdx, broadcaster, relayIface, alerter, m)

	verifier := auth.NewVerifier(cfg.JWTSecret)

	var batcher *batch.Batcher
	flush := func(ctx context.Context, edits []canvas.PixelEdit) {
		start := time.Now()
		applier.Apply(ctx, batcher, edits)
		m.BatchesFlushed.Inc()
		m.BatchSize.Observe(float64(len(edits)))
		m.ApplyDuration.Observe(time.Since(start).Seconds())
	}
	batcher = batch.New(log, time.Duration(cfg.FlushIntervalMs)*time.Millisecond, cfg.MaxBatchSize, flush, nil)

	ingressSrv := ingress.NewServer(ingress.Deps{
		Width:       cfg.CanvasWidth,
		Height:      cfg.CanvasHeight,
		Limiter:     composite,
		Locks:       lockIdx,
		Batcher:     batcher,
		Broadcaster: broadcaster,
		Auth:        verifier,
		ConnLimiter: connLim,
		Metrics:     m,
		Log:         log,
	})

	httpHandler := httpapi.New(log, applier, lockIdx, broadcaster, batcher, store)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", ingressSrv.HandleWebSocket)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpHandler.Register(mux)

	return &Server{
		log:         log,
		cfg:         cfg,
		store:       store,
		cache:       c,
		relay:       cr,
		httpSrv:     &http.Server{Addr: cfg.Addr, Handler: mux},
		broadcaster: broadcaster,
		batcher:     batcher,
		applier:     applier,
		bucketLim:   bucketLim,
		connLim:     connLim,
		sweepStop:   make(chan struct{}),
	}, nil
}

// Start launches the flush loop, the idle-state sweepers, and the HTTP
// listener. It blocks until the listener stops (normally via Shutdown).
func (s *Server) Start(ctx context.Context) error {
	s.batcher.Start(ctx)
	go s.runSweepers()

	s.log.Info().Str("addr", s.cfg.Addr).Msg("pixelboard server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) runSweepers() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepStop:
			return
		case <-ticker.C:
			s.bucketLim.SweepIdle()
			s.connLim.Sweep()
		}
	}
}

// Shutdown implements spec.md §4.8's shutdown sequence: stop accepting
// connections, stop the flush ticker (performing one final flush), close
// all subscribers gracefully, and release backing stores.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.sweepStop)

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.log.Error().Err(err).Msg("http server shutdown error")
	}

	s.batcher.Stop()

	s.broadcaster.CloseAll()

	if s.relay != nil {
		s.relay.Close()
	}
	if closer, ok := s.cache.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.log.Error().Err(err).Msg("cache close error")
		}
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close persistence: %w", err)
	}
	return nil
}
