package main

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"slowhand/internal/config"
	"slowhand/internal/exits"
	"slowhand/internal/gateway/exchange"
	"slowhand/internal/gateway/notifier"
	"slowhand/internal/logger"
	"slowhand/internal/orchestrator"
	"slowhand/internal/pacing"
	"slowhand/internal/pipeline"
	"slowhand/internal/position"
	"slowhand/internal/risk"
	"slowhand/internal/store/gormstore"
	"slowhand/internal/strategy"

	marketpkg "slowhand/internal/market"
)

const futuresTestnetURL = "https://testnet.binancefuture.com"

func main() {
	cfgPath := os.Getenv("SLOWHAND_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.toml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config failed: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("initializing log file failed: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("config loaded (env=%s, pairs=%d)", cfg.App.Env, len(cfg.Trading.EnabledSymbols()))

	st, err := gormstore.New(cfg.Store.Path)
	if err != nil {
		log.Fatalf("opening store failed: %v", err)
	}
	defer st.Close()

	gateway := buildGateway(cfg)
	sink := buildSink(cfg)
	policy := buildPacing(cfg)

	analyzer := marketpkg.NewAnalyzer(gateway, marketpkg.DefaultAnalyzerConfig())

	registry := strategy.NewRegistry()
	registry.Register(strategy.DefaultID, strategy.NewMomentum(strategy.DefaultID, strategy.DefaultMomentumConfig()))
	registry.Register("momentum", strategy.NewMomentum("momentum", strategy.DefaultMomentumConfig()))

	budget := risk.NewBudget()
	gate := risk.NewGate(risk.Config{
		MinFraction:          cfg.Risk.MinFraction,
		MaxFraction:          cfg.Risk.MaxFraction,
		Conservatism:         cfg.Risk.Conservatism,
		MaxPositionPct:       cfg.Risk.MaxPositionPct,
		MaxOpenPositions:     cfg.Risk.MaxOpenPositions,
		MaxDailyLossPct:      cfg.Risk.MaxDailyLossPct,
		MaxDrawdownPct:       cfg.Risk.MaxDrawdownPct,
		MinConfidence:        cfg.Risk.MinConfidence,
		CorrelationThreshold: cfg.Risk.CorrelationThreshold,
		VolatilityCeiling:    cfg.Risk.VolatilityCeiling,
	}, st)

	predictor := exits.NewEnsemble().
		Add(exits.ATRPredictor{FavorableMult: cfg.Exits.FavorableMult, AdverseMult: cfg.Exits.AdverseMult}, 1)
	calc := exits.NewCalculator(exits.Config{
		MinRewardRisk: cfg.Exits.MinRewardRisk,
		VolWidening:   cfg.Exits.VolWidening,
		TrendWidening: cfg.Exits.TrendWidening,
		SnapMarginPct: cfg.Exits.SnapMarginPct,
	})

	manager := position.NewManager(gateway, st, sink, policy, budget, position.Config{
		OrderRetries: cfg.Trading.OrderRetries,
		CloseTimeout: cfg.Trading.CloseTimeout,
		MaxOpen:      cfg.Risk.MaxOpenPositions,
	})

	pipe := pipeline.New(gateway, analyzer, registry, gate, budget, predictor, calc, manager, sink,
		pipeline.Config{
			Pairs:       cfg.Trading.EnabledSymbols(),
			StrategyID:  cfg.Trading.StrategyID,
			Concurrency: cfg.Trading.Concurrency,
		})

	orch := orchestrator.New(orchestrator.Config{
		CycleInterval:          cfg.Trading.CycleInterval,
		GraceTimeout:           cfg.Trading.GraceTimeout,
		ConnectAttempts:        cfg.Trading.ConnectAttempts,
		ConnectBackoff:         2 * time.Second,
		MaxConsecutiveFailures: cfg.Trading.MaxConsecutiveFailures,
	}, gateway, pipe, manager, st, sink, policy)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher := config.NewWatcher(cfgPath, func(next *config.Config) {
		pipe.SetPairs(next.Trading.EnabledSymbols())
	})
	go func() {
		if err := watcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warnf("config watcher stopped: %v", err)
		}
	}()

	if err := orch.Start(ctx); err != nil {
		log.Fatalf("start failed: %v", err)
	}

	<-ctx.Done()
	logger.Infof("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Trading.GraceTimeout+10*time.Second)
	defer cancel()
	if err := orch.Stop(shutdownCtx); err != nil && !errors.Is(err, orchestrator.ErrNotRunning) {
		logger.Errorf("stop failed: %v", err)
	}
}

func buildGateway(cfg *config.Config) exchange.Gateway {
	bcfg := exchange.BinanceConfig{
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
	}
	if cfg.Exchange.Testnet {
		bcfg.BaseURL = futuresTestnetURL
	}
	return exchange.NewBinance(bcfg)
}

func buildSink(cfg *config.Config) notifier.Sink {
	if cfg.Notify.Telegram.Enabled {
		return notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}
	return notifier.Null{}
}

func buildPacing(cfg *config.Config) pacing.Policy {
	if !cfg.Pacing.Enabled {
		return pacing.Noop{}
	}
	pcfg := pacing.DefaultConfig()
	pcfg.MinDelay = cfg.Pacing.MinDelay
	pcfg.MaxDelay = cfg.Pacing.MaxDelay
	pcfg.NightStartHour = cfg.Pacing.NightStartHour
	pcfg.NightEndHour = cfg.Pacing.NightEndHour
	pcfg.NightMult = cfg.Pacing.NightMult
	pcfg.MicroBreakProb = cfg.Pacing.MicroBreakProb
	pcfg.SessionBreakProb = cfg.Pacing.SessionBreakProb
	pcfg.HesitationProb = cfg.Pacing.HesitationProb

	seed := cfg.Pacing.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return pacing.NewHuman(pcfg, seed)
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
