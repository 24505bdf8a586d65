package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	stdnet "net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"gridclash/internal/collision"
	"gridclash/internal/config"
	"gridclash/internal/cosmetic"
	"gridclash/internal/grid"
	"gridclash/internal/match"
	servernet "gridclash/internal/net"
	"gridclash/internal/net/proto"
	"gridclash/internal/net/ws"
	"gridclash/internal/outcome"
	"gridclash/internal/replication"
	"gridclash/internal/sim"
	"gridclash/internal/telemetry"
	"gridclash/logging"
	loggingSinks "gridclash/logging/sinks"
)

const (
	shutdownTimeout = 5 * time.Second
	echoBuffer      = 64
)

// Options carries process-level collaborators that tests replace.
type Options struct {
	Logger telemetry.Logger
	// Stdout receives the console and, without a file path, json sinks.
	Stdout io.Writer
	// Extra sinks are attached to the event router alongside the configured ones.
	Extra []logging.NamedSink
}

// App is one authority with its tick loop and network surface.
type App struct {
	cfg      config.Config
	logger   telemetry.Logger
	counters *telemetry.Counters
	events   *logging.Router
	closers  []io.Closer

	grid   *grid.Grid
	echoes *cosmetic.Channel
	engine *match.Engine
	loop   *sim.Loop
	hub    *ws.Hub
	router http.Handler
}

// New wires the authority from cfg without starting anything.
func New(cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	fallbackLogger := log.Default()
	if provider, ok := logger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			fallbackLogger = candidate
		}
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	codec, err := proto.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, logger: logger, counters: telemetry.NewCounters()}

	logConfig := cfg.Logging()
	sinks, err := a.buildSinks(logConfig, stdout)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, opts.Extra...)
	a.events = logging.NewRouter(logging.SystemClock{}, logConfig, fallbackLogger, sinks, logging.WithMetrics(a.counters))

	journal := replication.NewJournal(a.counters)
	reg := replication.NewRegistry(replication.Node{PeerID: "authority", Authority: true}, journal)
	a.grid = grid.New(cfg.Grid(), reg)
	resolver, err := outcome.NewResolver(reg, journal, a.events)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to construct resolver: %w", err)
	}
	a.echoes = cosmetic.NewChannel(a.counters)

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	coord, err := match.NewCoordinator(cfg.Match(), match.Deps{
		Registry:  reg,
		Journal:   journal,
		Terrain:   a.grid,
		Resolver:  resolver,
		Echoes:    a.echoes,
		Publisher: a.events,
		Logger:    logger,
		Metrics:   a.counters,
		RNG:       rand.New(rand.NewSource(seed)),
		OnReject: func(playerID, requestID, reason string) {
			if a.hub != nil {
				a.hub.Reject(playerID, requestID, reason)
			}
		},
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to construct coordinator: %w", err)
	}

	a.engine = match.NewEngine(coord, collision.NewDetector(a.grid), sim.Deps{
		Logger:    logger,
		Metrics:   a.counters,
		Publisher: a.events,
		Clock:     logging.SystemClock{},
	})
	a.loop = sim.NewLoop(a.engine, cfg.Loop(), sim.LoopHooks{
		AfterStep: func(result sim.LoopStepResult) {
			a.hub.BroadcastFrame(result.Frame)
		},
		OnQueueWarning: func(length int) {
			logger.Printf("[sim] command queue at %d", length)
		},
	})
	a.hub = ws.NewHub(a.loop, a.engine, ws.HubConfig{
		Logger:     logger,
		Metrics:    a.counters,
		SendBuffer: cfg.SendBuffer,
	})
	a.router = servernet.NewRouter(servernet.RouterConfig{
		Status:   a.engine,
		Counters: a.counters,
		Hub:      a.hub,
		WS:       ws.NewHandler(a.hub, ws.HandlerConfig{Logger: logger, Codec: codec}),
		TickRate: cfg.TickRate,
		Mode:     cfg.GinMode,
	})
	return a, nil
}

func (a *App) buildSinks(cfg logging.Config, stdout io.Writer) ([]logging.NamedSink, error) {
	var sinks []logging.NamedSink
	if cfg.SinkEnabled("console") {
		sinks = append(sinks, logging.NamedSink{Name: "console", Sink: loggingSinks.NewConsole(stdout)})
	}
	if cfg.SinkEnabled("json") {
		var w io.Writer = stdout
		if cfg.JSON.FilePath != "" {
			file, err := os.OpenFile(cfg.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("failed to open json log %s: %w", cfg.JSON.FilePath, err)
			}
			a.closers = append(a.closers, file)
			w = file
		}
		sinks = append(sinks, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSON(w, cfg.JSON.FlushInterval)})
	}
	return sinks, nil
}

// Handler is the HTTP surface.
func (a *App) Handler() http.Handler { return a.router }

func (a *App) Engine() *match.Engine { return a.engine }

func (a *App) Loop() *sim.Loop { return a.loop }

func (a *App) Hub() *ws.Hub { return a.hub }

func (a *App) Counters() *telemetry.Counters { return a.counters }

// Serve runs the tick loop, the echo relay and the HTTP server on ln until
// ctx ends or one of them fails. It closes the event router on return.
func (a *App) Serve(ctx context.Context, ln stdnet.Listener) error {
	defer a.close()

	srv := &http.Server{Handler: a.router, ReadHeaderTimeout: 10 * time.Second}
	echoes, unsubscribe := a.echoes.Subscribe(echoBuffer)
	defer unsubscribe()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.loop.Run(ctx)
	})
	g.Go(func() error {
		a.hub.ForwardEchoes(ctx, echoes)
		return nil
	})
	g.Go(func() error {
		a.logger.Printf("server listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.hub.Close()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *App) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.events.Close(ctx); err != nil {
		a.logger.Printf("failed to close logging router: %v", err)
	}
	a.closeSinks()
}

func (a *App) closeSinks() {
	for _, c := range a.closers {
		_ = c.Close()
	}
	a.closers = nil
}

// Run installs tracing, builds the authority and serves it on the configured
// address until ctx ends.
func Run(ctx context.Context, cfg config.Config, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
		opts.Logger = logger
	}

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing())
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Printf("failed to flush traces: %v", err)
		}
	}()

	a, err := New(cfg, opts)
	if err != nil {
		return err
	}
	ln, err := stdnet.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		a.close()
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}
