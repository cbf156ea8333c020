// Package httpserver runs the optional debug HTTP server: Prometheus
// metrics, a JSON health report, and net/http/pprof.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	rtsup "x402watch/internal/runtime/supervisor"
	"x402watch/pkg/logx"
)

const DefaultAddr = "127.0.0.1:9402"

// Config controls the debug HTTP server. A non-loopback Addr needs either
// Token or AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool

	Pprof       bool
	PprofPrefix string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MutexProfileFraction int
	BlockProfileRate     int
}

// listenKey is the part of Config that is baked into a running listener.
func (c Config) listenKey() Config {
	c.Enabled = true
	c.Addr = strings.TrimSpace(c.Addr)
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	c.PprofPrefix = normalizePrefix(c.PprofPrefix)
	c.MutexProfileFraction, c.BlockProfileRate = 0, 0
	return c
}

// HealthFunc reports the current status document and whether the process
// is healthy. /healthz answers 503 when it is not.
type HealthFunc func() (status any, healthy bool)

type Service struct {
	log    logx.Logger
	health HealthFunc

	mu  sync.Mutex
	cfg Config
	cur *instance
}

// instance is one bound listener and the goroutines serving it.
type instance struct {
	key Config
	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger, health HealthFunc) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log.With(logx.String("comp", "http")), health: health}
}

// Addr returns the bound listen address, or "" when not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return ""
	}
	return s.cur.ln.Addr().String()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Reconfigure stores cfg and brings the listener in line with it: started,
// stopped, or rebound when anything but the profiling rates changed.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	setProfileRates(cfg)

	s.mu.Lock()
	s.cfg = cfg
	var stale bool
	if s.cur != nil {
		stale = !cfg.Enabled || s.cur.key != cfg.listenKey()
	}
	s.mu.Unlock()

	if stale {
		s.Stop(ctx)
	}
	if cfg.Enabled {
		s.Start(ctx)
	}
}

func setProfileRates(cfg Config) {
	if cfg.MutexProfileFraction >= 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate >= 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
}

// Start binds the listener and serves until Stop or until ctx is done. It
// does nothing when disabled or already serving. Bind failures are logged.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil || !s.cfg.Enabled {
		return
	}

	inst, err := s.listen(ctx, s.cfg)
	if err != nil {
		s.log.Error("debug http not started", logx.String("addr", s.cfg.Addr), logx.Err(err))
		return
	}
	s.cur = inst

	inst.sup.Go0("http.serve", func(context.Context) {
		if err := inst.srv.Serve(inst.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("debug http serve failed", logx.Err(err))
		}
	})
	inst.sup.Go0("http.cancel", func(c context.Context) {
		<-c.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = inst.srv.Shutdown(sctx)
	})

	s.log.Info("debug http started",
		logx.String("addr", inst.ln.Addr().String()),
		logx.Bool("pprof", inst.key.Pprof),
		logx.String("pprof_prefix", inst.key.PprofPrefix),
		logx.Bool("token_set", inst.key.Token != ""),
		logx.String("hint", fmt.Sprintf("http://%s/metrics", inst.ln.Addr())),
	)
}

func (s *Service) listen(ctx context.Context, cfg Config) (*instance, error) {
	key := cfg.listenKey()
	if key.Token == "" && !isLoopbackAddr(key.Addr) {
		if !key.AllowInsecure {
			return nil, fmt.Errorf("refusing non-loopback bind %s without token (set allow_insecure to override)", key.Addr)
		}
		s.log.Warn("debug http running without token on non-loopback addr", logx.String("addr", key.Addr))
	}

	ln, err := net.Listen("tcp", key.Addr)
	if err != nil {
		return nil, err
	}
	return &instance{
		key: key,
		ln:  ln,
		srv: &http.Server{
			Handler:      s.handler(key),
			ReadTimeout:  key.ReadTimeout,
			WriteTimeout: key.WriteTimeout,
			IdleTimeout:  key.IdleTimeout,
		},
		sup: rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
	}, nil
}

// Stop shuts the server down gracefully, forcing it closed once ctx expires.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	inst := s.cur
	s.cur = nil
	s.mu.Unlock()
	if inst == nil {
		return
	}

	if err := inst.srv.Shutdown(ctx); err != nil {
		_ = inst.srv.Close()
	}
	inst.sup.Cancel()
	_ = inst.sup.Wait(ctx)
	s.log.Info("debug http stopped")
}
