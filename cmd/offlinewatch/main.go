package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"offlinewatch/internal/browser"
	"offlinewatch/internal/config"
	"offlinewatch/internal/indicator"
	"offlinewatch/internal/logging"
	"offlinewatch/internal/loop"
	"offlinewatch/internal/metrics"
	"offlinewatch/internal/models"
	"offlinewatch/internal/monitor"
	"offlinewatch/internal/probe"
	"offlinewatch/internal/server"
	"offlinewatch/internal/storage"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to configuration file (YAML)")
		addr       = flag.String("addr", "", "address for the web server (overrides listen_address)")
		startURL   = flag.String("url", "https://example.com/", "URL of the initial tab")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.ListenAddress = *addr
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Development = cfg.Logging.Development
	logger, err := logging.New(logCfg)
	if err != nil {
		log.Fatalf("initialise logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	transitions, err := storage.NewTransitionStorage(cfg.DataFile("transitions.json"), cfg.HistoryLimit)
	if err != nil {
		logger.Fatal("initialise transition storage", zap.Error(err))
	}
	networkStore, err := storage.NewNetworkStorage(cfg.DataFile("network.json"))
	if err != nil {
		logger.Fatal("initialise network storage", zap.Error(err))
	}
	indicatorStore, err := storage.NewIndicatorStateStorage(cfg.DataFile("indicator.json"))
	if err != nil {
		logger.Fatal("initialise indicator storage", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(registry)

	l := loop.New(logger.Logger)
	l.Start()
	defer l.Stop()

	prober := probe.NewHTTPProber(probe.Options{
		Method:        cfg.Probe.Method,
		Timeout:       cfg.ProbeTimeout(),
		UserAgent:     cfg.Probe.UserAgent,
		RatePerSecond: cfg.Probe.RatePerSecond,
		Burst:         cfg.Probe.Burst,
	}, logger.Logger)

	network := monitor.NewNetworkNotifier(monitor.NetworkOptions{
		Enabled:      cfg.Network.Enabled,
		Target:       cfg.Network.Target,
		Interval:     cfg.NetworkInterval(),
		Timeout:      cfg.NetworkTimeout(),
		HistoryLimit: cfg.HistoryLimit,
	}, l, logger.Logger)
	network.Restore(networkStore.History())

	detector := monitor.NewConnectivityDetector(l, prober, network, recorder, monitor.DetectorOptions{
		DefaultURL:        cfg.Probe.DefaultURL,
		FallbackURL:       cfg.Probe.FallbackURL,
		ProbeTimeout:      cfg.ProbeTimeout(),
		InitialRetryDelay: cfg.InitialRetryDelay(),
		MaxRetryDelay:     cfg.MaxRetryDelay(),
		FallbackDelay:     cfg.FallbackDelay(),
		MaxRetries:        cfg.Retry.MaxRetries,
		HistoryLimit:      cfg.HistoryLimit,
	}, logger.Logger)

	app := browser.NewApplication(browser.ApplicationStateHasRunningActivities)
	activity := browser.NewActivity()
	tab := browser.NewTab(*startURL)
	activity.SetActiveTab(tab)
	app.SetFocusedActivity(activity)

	var srv *server.Server
	hub := server.NewHub(logger.Logger, func() []server.Message { return srv.Welcome() })

	var controller *indicator.Controller
	if cfg.Features.OfflineIndicator {
		controller = indicator.New(l, detector, app, hub, recorder, indicator.Options{
			BottomIndicator:   cfg.Features.BottomOfflineIndicator,
			StableOfflineWait: cfg.StableOfflineWait(),
			OpenOfflineContent: func() {
				logger.Info("opening offline content")
			},
			Events: hub.PublishIndicatorEvent,
			Store:  indicatorStore,
		}, logger.Logger)
	}

	err = l.Call(func() {
		network.Subscribe(detector.OnNetworkChanged)
		detector.SubscribeTransitions(func(t models.StateTransition) {
			if err := transitions.Append(t); err != nil {
				logger.Warn("persist transition", zap.Error(err))
			}
			hub.PublishTransition(t)
		})
		if controller != nil {
			controller.Attach()
		}
		detector.Detect()
	})
	if err != nil {
		logger.Fatal("wire components", zap.Error(err))
	}

	network.Start()
	defer func() {
		network.Stop()
		if err := networkStore.Replace(network.History()); err != nil {
			logger.Warn("persist network samples", zap.Error(err))
		}
	}()
	defer func() { _ = l.Call(detector.Close) }()

	srv = server.New(cfg.ListenAddress, server.Deps{
		Loop:        l,
		Detector:    detector,
		Network:     network,
		Transitions: transitions,
		Controller:  controller,
		Application: app,
		Activity:    activity,
		Tab:         tab,
		Hub:         hub,
		Metrics:     recorder,
		Gatherer:    registry,
	}, logger.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("offlinewatch listening",
		zap.String("addr", cfg.ListenAddress),
		zap.Bool("offline_indicator", controller != nil),
		zap.String("default_probe", cfg.Probe.DefaultURL),
	)
	if err := srv.Run(); err != nil {
		logger.Error("server error", zap.Error(err))
	}
}
