package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/liqi-mitm/core/internal/addon"
	"github.com/liqi-mitm/core/internal/autorun"
	"github.com/liqi-mitm/core/internal/codec"
	"github.com/liqi-mitm/core/internal/config"
	"github.com/liqi-mitm/core/internal/control"
	"github.com/liqi-mitm/core/internal/gamestate"
	"github.com/liqi-mitm/core/internal/hook"
	"github.com/liqi-mitm/core/internal/packetbot"
	"github.com/liqi-mitm/core/internal/tracing"
	"github.com/liqi-mitm/core/internal/waiter"
	"github.com/liqi-mitm/core/internal/wsproxy"
)

// preferredFlowMethods mark a flow as "the" game session the moment any of
// these are seen on it, per the addon's preferred-flow bookkeeping rule.
var preferredFlowMethods = []string{
	".lq.Lobby.fetchAmuletActivityData",
	".lq.Lobby.amuletActivityStartGame",
}

// logNotifier is the EmailNotifier used when no SMTP collaborator is
// configured: the control channel's notify_test_email command still runs
// end to end, it just logs instead of sending.
type logNotifier struct{ logger *slog.Logger }

func (n logNotifier) SendTestEmail(ctx context.Context) error {
	n.logger.Info("email.notify_test_email")
	return nil
}

func runProxy() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if upstreamURL == "" {
		slog.Error("--upstream is required")
		os.Exit(1)
	}

	cfgPath := resolveConfigPath()
	automationCfg, err := config.Load(cfgPath, logger)
	if err != nil {
		slog.Error("failed to load automation config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	descriptor := codec.NewDescriptor()
	a := addon.New(preferredFlowMethods, logger)

	// ctrl is constructed after runner and projector, but both need to
	// broadcast through it — the two closures below forward to whatever
	// ctrl ends up being, since all three are built on this same goroutine
	// before anything can race the assignment.
	var ctrl *control.Server

	projector := gamestate.NewProjector(func(s gamestate.Snapshot) {
		if ctrl != nil {
			ctrl.BroadcastGameState(s)
		}
	})
	stateFn := projector.State().Snapshot

	bot := packetbot.New(a, stateFn, logger)

	tracer, shutdownTracing := tracing.New("liqi-mitm")

	runner := autorun.New(bot, stateFn, func(st autorun.Status) {
		if ctrl != nil {
			ctrl.BroadcastStatus(st)
		}
	}, nil, logger)
	runner.Tracer = tracer
	runner.UpdateConfig(autorunConfigFrom(automationCfg.Snapshot()))

	ctrl = control.New(runner, bot, stateFn, logNotifier{logger: logger}, logger)

	stop := make(chan struct{})
	if err := automationCfg.Watch(stop, func(rt config.Runtime) {
		runner.UpdateConfig(autorunConfigFrom(rt))
	}); err != nil {
		slog.Warn("config watch unavailable", "error", err)
	}
	defer close(stop)

	build := func(peerKey string, injector hook.Injector) *addon.Flow {
		c := codec.New(descriptor)
		w := waiter.New()
		engine := hook.New(c, w)
		engine.Logger = logger
		engine.Tracer = tracer
		engine.Subscribe(gamestate.Subscribe(projector))
		return &addon.Flow{PeerKey: peerKey, Codec: c, Waiters: w, Engine: engine, Injector: injector}
	}

	host := wsproxy.New(a, build, wsproxy.DefaultDial(upstreamURL), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if err := host.HandleClient(w, r); err != nil {
			logger.Warn("proxy.flow.error", "error", err)
		}
	})

	controlMux := http.NewServeMux()
	controlMux.HandleFunc("/control/ws", ctrl.ServeHTTP)
	ctrl.RegisterHTTP(controlMux)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	proxySrv := &http.Server{Addr: listenAddr, Handler: mux}
	controlSrv := &http.Server{Addr: controlAddr, Handler: controlMux}

	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		runner.Stop()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		proxySrv.Shutdown(shutdownCtx)
		controlSrv.Shutdown(shutdownCtx)
		if shutdownTracing != nil {
			shutdownTracing(shutdownCtx)
		}
		cancel()
	}()

	go func() {
		slog.Info("control channel listening", "addr", controlAddr)
		if err := controlSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("control server error", "error", err)
		}
	}()

	slog.Info("liqi-mitm proxy listening", "addr", listenAddr, "upstream", upstreamURL)
	if err := proxySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("proxy server error", "error", err)
		os.Exit(1)
	}
}

func autorunConfigFrom(rt config.Runtime) autorun.Config {
	return autorun.Config{
		EndCount:    rt.EndCount,
		CutoffLevel: rt.CutoffLevel,
		Targets:     rt.Targets,
	}
}
